package visitors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/store"
)

var validate = validator.New()

// Identity carries the external identity fields attached to a visitor.
type Identity struct {
	UserID   string            `validate:"required,max=128"`
	Name     string            `validate:"omitempty,max=256"`
	Email    string            `validate:"omitempty,email"`
	Phone    string            `validate:"omitempty,max=32"`
	Metadata map[string]string `validate:"omitempty,max=64,dive,keys,max=128,endkeys,max=1024"`
}

// Identify validates and persists identity fields onto the visitor for the
// fingerprint, creating the visitor first when it does not exist yet.
func (r *Resolver) Identify(ctx context.Context, fingerprint string, identity Identity) (*Visitor, error) {
	if err := validate.Struct(identity); err != nil {
		return nil, fmt.Errorf("invalid identity: %w", err)
	}

	visitor, _, err := r.Resolve(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve visitor for identify: %w", err)
	}

	fields := store.Record{
		"user_id":    identity.UserID,
		"updated_at": time.Now().UTC(),
	}
	if identity.Name != "" {
		fields["name"] = identity.Name
	}
	if identity.Email != "" {
		fields["email"] = identity.Email
	}
	if identity.Phone != "" {
		fields["phone"] = identity.Phone
	}
	if len(identity.Metadata) > 0 {
		encoded, err := json.Marshal(identity.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode identity metadata: %w", err)
		}
		fields["metadata"] = string(encoded)
	}

	record, err := r.store.Update(ctx, store.CollectionVisitors, visitor.ID, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to persist identity: %w", err)
	}

	updated := visitorFromRecord(record)
	r.cache.Set(fingerprint, updated)
	r.logger.Debug("Identified visitor",
		slog.String("visitor_id", updated.ID),
		slog.String("user_id", identity.UserID))
	return updated, nil
}
