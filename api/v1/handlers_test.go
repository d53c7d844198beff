package v1_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	skopos "github.com/devAlphaSystem/Alpha-System-Skopos-SDK"
	v1 "github.com/devAlphaSystem/Alpha-System-Skopos-SDK/api/v1"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/store"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/testsupport"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func setupTestApp(t *testing.T) (*fiber.App, *skopos.SDK, *store.Embedded) {
	t.Helper()

	cfg := testsupport.TestConfig(t)
	st := testsupport.SetupTestStore(t)

	sdk, err := skopos.NewWithStore(context.Background(), cfg, testsupport.Logger(), st)
	require.NoError(t, err)
	t.Cleanup(func() { sdk.Shutdown(context.Background()) })

	app := fiber.New()
	v1.NewHandler(sdk, testsupport.Logger()).Register(app)
	return app, sdk, st
}

func browserize(req *http.Request) *http.Request {
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", "text/html")
	req.Header.Set("Accept-Language", "en-US")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	return req
}

func TestCollectEventAlwaysAccepts(t *testing.T) {
	app, sdk, st := setupTestApp(t)

	body, err := json.Marshal(map[string]any{
		"type": "pageView",
		"url":  "https://example.com/pricing",
	})
	require.NoError(t, err)

	req := browserize(httptest.NewRequest(http.MethodPost, "/api/v1/collect", bytes.NewReader(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Host = "example.com"

	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	sdk.Shutdown(context.Background())

	var n int64
	require.NoError(t, st.DB().Table(store.CollectionEvents).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestCollectEventMalformedBodyStillAccepted(t *testing.T) {
	app, sdk, st := setupTestApp(t)

	req := browserize(httptest.NewRequest(http.MethodPost, "/api/v1/collect", bytes.NewReader([]byte("not json"))))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode, "invalid payloads drop without leaking a status")

	sdk.Shutdown(context.Background())

	var n int64
	require.NoError(t, st.DB().Table(store.CollectionEvents).Count(&n).Error)
	assert.EqualValues(t, 0, n)
}

func TestIdentifyReturnsVisitor(t *testing.T) {
	app, _, st := setupTestApp(t)

	body, err := json.Marshal(map[string]any{
		"userId": "user-42",
		"email":  "user42@example.com",
	})
	require.NoError(t, err)

	req := browserize(httptest.NewRequest(http.MethodPost, "/api/v1/identify", bytes.NewReader(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Host = "example.com"

	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "user-42", out["userId"])
	assert.NotEmpty(t, out["visitorId"])

	record, err := st.FindOne(context.Background(), store.CollectionVisitors, store.Filter{"user_id": "user-42"})
	require.NoError(t, err)
	assert.Equal(t, "user42@example.com", record.String("email"))
}

func TestIdentifyRejectsMissingUserID(t *testing.T) {
	app, _, _ := setupTestApp(t)

	body := []byte(`{"name": "No User ID"}`)
	req := browserize(httptest.NewRequest(http.MethodPost, "/api/v1/identify", bytes.NewReader(body)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestIdentifyForbiddenWhenSiteArchived(t *testing.T) {
	cfg := testsupport.TestConfig(t)
	st := testsupport.SetupTestStore(t)

	_, err := st.Create(context.Background(), store.CollectionSites, store.Record{
		"site_id":  cfg.SiteID,
		"domain":   "example.com",
		"archived": true,
	})
	require.NoError(t, err)

	sdk, err := skopos.NewWithStore(context.Background(), cfg, testsupport.Logger(), st)
	require.NoError(t, err)
	t.Cleanup(func() { sdk.Shutdown(context.Background()) })

	app := fiber.New()
	v1.NewHandler(sdk, testsupport.Logger()).Register(app)

	body := []byte(`{"userId": "user-1"}`)
	req := browserize(httptest.NewRequest(http.MethodPost, "/api/v1/identify", bytes.NewReader(body)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	app, _, _ := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil), 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
