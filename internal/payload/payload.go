// Package payload normalizes raw client event payloads at the ingestion
// boundary. Anything that fails validation is rejected, and callers drop
// rejected payloads silently.
package payload

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Event types accepted from clients.
const (
	TypePageView = "pageView"
	TypeCustom   = "custom"
	TypeError    = "jsError"
)

// Bounds on the custom-data tree.
const (
	maxCustomDepth = 8
	maxCustomNodes = 256
)

// Field length caps applied during normalization.
const (
	maxURLLength      = 2048
	maxNameLength     = 128
	maxReferrerLength = 2048
	maxLanguageLength = 32
	maxMessageLength  = 1024
	maxStackLength    = 8192
	maxScreenPixels   = 16384
)

// ErrRejected marks a payload that failed validation.
var ErrRejected = errors.New("payload rejected")

var validate = validator.New()

// dangerousKeys are object keys rejected anywhere in the custom-data tree.
var dangerousKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

type wirePayload struct {
	Type         string         `json:"type" validate:"required,oneof=pageView custom jsError"`
	URL          string         `json:"url" validate:"max=2048"`
	Name         string         `json:"name" validate:"max=256"`
	Referrer     string         `json:"referrer" validate:"max=2048"`
	ScreenWidth  int            `json:"screenWidth" validate:"min=0"`
	ScreenHeight int            `json:"screenHeight" validate:"min=0"`
	Language     string         `json:"language" validate:"max=64"`
	Duration     int            `json:"duration" validate:"min=0"`
	CustomData   map[string]any `json:"customData"`
	ErrorMessage string         `json:"errorMessage" validate:"max=4096"`
	StackTrace   string         `json:"stackTrace" validate:"max=16384"`
}

// Payload is a normalized client event.
type Payload struct {
	Type         string
	URL          string
	Name         string
	Referrer     string
	ScreenWidth  int
	ScreenHeight int
	Language     string
	Duration     int
	CustomData   map[string]any
	ErrorMessage string
	StackTrace   string
}

// Parse decodes and normalizes a raw client payload. It returns ErrRejected
// (wrapped with the reason) when the payload cannot be accepted.
func Parse(raw []byte) (*Payload, error) {
	var wire wirePayload
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON: %v", ErrRejected, err)
	}
	return normalize(wire)
}

// normalize validates a decoded payload and applies the sanitization caps.
func normalize(wire wirePayload) (*Payload, error) {
	if err := validate.Struct(wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	switch wire.Type {
	case TypePageView:
		if wire.URL == "" {
			return nil, fmt.Errorf("%w: page view without url", ErrRejected)
		}
	case TypeCustom:
		if wire.Name == "" {
			return nil, fmt.Errorf("%w: custom event without name", ErrRejected)
		}
	case TypeError:
		if wire.ErrorMessage == "" {
			return nil, fmt.Errorf("%w: error event without message", ErrRejected)
		}
	}

	custom, err := sanitizeTree(wire.CustomData)
	if err != nil {
		return nil, err
	}

	p := &Payload{
		Type:         wire.Type,
		URL:          clean(wire.URL, maxURLLength),
		Name:         clean(wire.Name, maxNameLength),
		Referrer:     clean(wire.Referrer, maxReferrerLength),
		ScreenWidth:  clampPixels(wire.ScreenWidth),
		ScreenHeight: clampPixels(wire.ScreenHeight),
		Language:     clean(wire.Language, maxLanguageLength),
		Duration:     wire.Duration,
		CustomData:   custom,
		ErrorMessage: clean(wire.ErrorMessage, maxMessageLength),
		StackTrace:   clean(wire.StackTrace, maxStackLength),
	}
	return p, nil
}

// sanitizeTree walks the custom-data tree rejecting dangerous keys and
// enforcing the depth and node bounds.
func sanitizeTree(data map[string]any) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	nodes := 0
	value, err := sanitizeValue(data, 0, &nodes)
	if err != nil {
		return nil, err
	}
	out, _ := value.(map[string]any)
	return out, nil
}

func sanitizeValue(value any, depth int, nodes *int) (any, error) {
	if depth > maxCustomDepth {
		return nil, fmt.Errorf("%w: custom data exceeds max depth", ErrRejected)
	}
	*nodes++
	if *nodes > maxCustomNodes {
		return nil, fmt.Errorf("%w: custom data exceeds max size", ErrRejected)
	}

	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, child := range v {
			if dangerousKeys[key] || strings.HasPrefix(key, "$") || strings.Contains(key, ".") {
				return nil, fmt.Errorf("%w: dangerous key %q in custom data", ErrRejected, key)
			}
			cleaned, err := sanitizeValue(child, depth+1, nodes)
			if err != nil {
				return nil, err
			}
			out[clean(key, maxNameLength)] = cleaned
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(v))
		for _, child := range v {
			cleaned, err := sanitizeValue(child, depth+1, nodes)
			if err != nil {
				return nil, err
			}
			out = append(out, cleaned)
		}
		return out, nil
	case string:
		return clean(v, maxMessageLength), nil
	default:
		return v, nil
	}
}

// clean strips control characters and truncates to max runes.
func clean(s string, max int) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if runes := []rune(s); len(runes) > max {
		s = string(runes[:max])
	}
	return s
}

func clampPixels(v int) int {
	if v < 0 {
		return 0
	}
	if v > maxScreenPixels {
		return maxScreenPixels
	}
	return v
}
