package payload_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/payload"
)

func TestParseAcceptsPageView(t *testing.T) {
	p, err := payload.Parse([]byte(`{
		"type": "pageView",
		"url": "https://example.com/home?utm=x",
		"referrer": "https://google.com/",
		"screenWidth": 1920,
		"screenHeight": 1080,
		"language": "en-US",
		"duration": 12
	}`))
	require.NoError(t, err)
	assert.Equal(t, payload.TypePageView, p.Type)
	assert.Equal(t, "https://example.com/home?utm=x", p.URL)
	assert.Equal(t, 1920, p.ScreenWidth)
	assert.Equal(t, 12, p.Duration)
}

func TestParseAcceptsCustomEventWithData(t *testing.T) {
	p, err := payload.Parse([]byte(`{
		"type": "custom",
		"name": "signup",
		"customData": {"plan": "pro", "seats": 3, "tags": ["a", "b"]}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "signup", p.Name)
	assert.Equal(t, "pro", p.CustomData["plan"])
}

func TestParseRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"type": `},
		{"unknown type", `{"type": "heartbeat"}`},
		{"missing type", `{"url": "https://example.com"}`},
		{"page view without url", `{"type": "pageView"}`},
		{"custom without name", `{"type": "custom"}`},
		{"error without message", `{"type": "jsError"}`},
		{"negative screen size", `{"type": "pageView", "url": "/", "screenWidth": -1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := payload.Parse([]byte(tt.raw))
			assert.ErrorIs(t, err, payload.ErrRejected)
		})
	}
}

func TestParseRejectsDangerousCustomDataKeys(t *testing.T) {
	tests := []string{
		`{"type": "custom", "name": "e", "customData": {"__proto__": {"x": 1}}}`,
		`{"type": "custom", "name": "e", "customData": {"constructor": 1}}`,
		`{"type": "custom", "name": "e", "customData": {"nested": {"prototype": 1}}}`,
		`{"type": "custom", "name": "e", "customData": {"$where": "1==1"}}`,
		`{"type": "custom", "name": "e", "customData": {"a.b": 1}}`,
	}

	for _, raw := range tests {
		_, err := payload.Parse([]byte(raw))
		assert.ErrorIs(t, err, payload.ErrRejected, raw)
	}
}

func TestParseBoundsCustomDataDepth(t *testing.T) {
	deep := `{"type": "custom", "name": "e", "customData": ` +
		strings.Repeat(`{"a": `, 12) + `1` + strings.Repeat(`}`, 12) + `}`

	_, err := payload.Parse([]byte(deep))
	assert.ErrorIs(t, err, payload.ErrRejected)
}

func TestParseStripsControlCharacters(t *testing.T) {
	p, err := payload.Parse([]byte(`{
		"type": "jsError",
		"errorMessage": "boom\u0000\u0007 happened",
		"stackTrace": "line one\nline two"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "boom happened", p.ErrorMessage)
	assert.Equal(t, "line one\nline two", p.StackTrace, "newlines survive sanitization")
}

func TestParseClampsScreenPixels(t *testing.T) {
	p, err := payload.Parse([]byte(`{"type": "pageView", "url": "/", "screenWidth": 999999}`))
	require.NoError(t, err)
	assert.Equal(t, 16384, p.ScreenWidth)
}
