package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/config"
)

// tokenSlack is how close to expiry a token is still considered valid.
const tokenSlack = 30 * time.Second

// Remote is the HTTP record-store client. Authentication tokens are shared
// process-wide; refreshes are single-flight so only one re-auth is in flight
// at a time.
type Remote struct {
	baseURL  string
	identity string
	password string
	client   *http.Client
	logger   *slog.Logger

	tokenMu sync.RWMutex
	token   string

	authGroup singleflight.Group

	pollInterval time.Duration
	closeOnce    sync.Once
	closed       chan struct{}
}

var _ Store = (*Remote)(nil)

// NewRemote creates a remote store client. Authentication happens lazily on
// first use and proactively via Authenticate at startup.
func NewRemote(cfg *config.Config, logger *slog.Logger) *Remote {
	return &Remote{
		baseURL:      cfg.StoreURL,
		identity:     cfg.StoreIdentity,
		password:     cfg.StorePassword,
		client:       &http.Client{Timeout: 15 * time.Second},
		logger:       logger,
		pollInterval: time.Duration(cfg.ConfigPollSeconds) * time.Second,
		closed:       make(chan struct{}),
	}
}

// Authenticate obtains a fresh token when the current one is missing or about
// to expire. Concurrent callers share a single refresh.
func (r *Remote) Authenticate(ctx context.Context) error {
	if r.tokenValid() {
		return nil
	}

	_, err, _ := r.authGroup.Do("auth", func() (any, error) {
		// Re-check inside the flight: a concurrent caller may have refreshed
		// the token while this one was queued.
		if r.tokenValid() {
			return nil, nil
		}

		body, err := json.Marshal(map[string]string{
			"identity": r.identity,
			"password": r.password,
		})
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/auth", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("authentication request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("authentication rejected with status %d", resp.StatusCode)
		}

		var payload struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("failed to decode auth response: %w", err)
		}
		if payload.Token == "" {
			return nil, fmt.Errorf("auth response carried no token")
		}

		r.tokenMu.Lock()
		r.token = payload.Token
		r.tokenMu.Unlock()

		r.logger.Debug("Authenticated against record store")
		return nil, nil
	})
	return err
}

// tokenValid is the cheap is-token-still-valid check: the JWT exp claim must
// be comfortably in the future. Signature verification is the server's job.
func (r *Remote) tokenValid() bool {
	r.tokenMu.RLock()
	token := r.token
	r.tokenMu.RUnlock()
	if token == "" {
		return false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) > tokenSlack
}

// FindOne queries the collection for the first record matching the filter.
func (r *Remote) FindOne(ctx context.Context, collection string, filter Filter) (Record, error) {
	var record Record
	err := r.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/collections/%s/find-one", url.PathEscape(collection)),
		filter, &record)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Create inserts a record.
func (r *Remote) Create(ctx context.Context, collection string, fields Record) (Record, error) {
	var record Record
	err := r.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/collections/%s/records", url.PathEscape(collection)),
		fields, &record)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Update applies fields to an existing record.
func (r *Remote) Update(ctx context.Context, collection string, id string, fields Record) (Record, error) {
	var record Record
	err := r.do(ctx, http.MethodPatch,
		fmt.Sprintf("/api/collections/%s/records/%s", url.PathEscape(collection), url.PathEscape(id)),
		fields, &record)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Subscribe polls the record at the configured interval and invokes onChange
// whenever its fields differ from the previously observed state.
func (r *Remote) Subscribe(collection string, id string, onChange func(Record)) (func(), error) {
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(r.pollInterval)
		defer ticker.Stop()

		var last Record
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				record, err := r.FindOne(ctx, collection, Filter{"id": id})
				cancel()
				if err != nil {
					if !errors.Is(err, ErrNotFound) {
						r.logger.Warn("Failed to poll subscribed record",
							slog.String("collection", collection),
							slog.String("id", id),
							slog.Any("error", err))
					}
					continue
				}
				if !reflect.DeepEqual(record, last) {
					last = record
					onChange(record)
				}
			case <-done:
				return
			case <-r.closed:
				return
			}
		}
	}()

	cancel := func() {
		select {
		case <-done:
		default:
			close(done)
		}
	}
	return cancel, nil
}

// Close stops all subscription polling.
func (r *Remote) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

// do performs an authenticated JSON request, retrying once after a forced
// re-authentication when the store rejects the token.
func (r *Remote) do(ctx context.Context, method, path string, body any, out any) error {
	if err := r.Authenticate(ctx); err != nil {
		return err
	}

	status, err := r.send(ctx, method, path, body, out)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		// Token was revoked server-side; drop it and retry once.
		r.tokenMu.Lock()
		r.token = ""
		r.tokenMu.Unlock()
		if err := r.Authenticate(ctx); err != nil {
			return err
		}
		status, err = r.send(ctx, method, path, body, out)
		if err != nil {
			return err
		}
	}

	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict:
		return ErrConflict
	default:
		return fmt.Errorf("record store returned status %d for %s %s", status, method, path)
	}
}

func (r *Remote) send(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	r.tokenMu.RLock()
	req.Header.Set("Authorization", "Bearer "+r.token)
	r.tokenMu.RUnlock()

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("record store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
