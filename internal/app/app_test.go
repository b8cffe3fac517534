package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/marketplace-extractor/internal/config"
	"github.com/maltedev/marketplace-extractor/internal/logging"
	"github.com/maltedev/marketplace-extractor/internal/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Browser.Enabled = false
	cfg.Database.Enabled = false
	cfg.Events.Enabled = false
	cfg.Sessions.Dir = t.TempDir()
	return cfg
}

func TestNew_WithoutOptionalServices(t *testing.T) {
	ctx := context.Background()

	application, err := New(ctx, testConfig(t), logging.Discard())
	require.NoError(t, err)
	defer application.Close()

	assert.NotNil(t, application.Service())
	assert.Nil(t, application.relay)
	assert.NoError(t, application.RunRelay(ctx))
}

func TestHandler_Routes(t *testing.T) {
	application, err := New(context.Background(), testConfig(t), logging.Discard())
	require.NoError(t, err)
	defer application.Close()

	handler := application.Handler()

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "extractor_proxy_cache_hits_total")
	})

	t.Run("attempts without database", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/attempts", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("invalid url never reaches the network", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/extract", strings.NewReader(`{"url":"not a url"}`))
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"success":false`)
	})
}

func TestService_InvalidURL(t *testing.T) {
	application, err := New(context.Background(), testConfig(t), logging.Discard())
	require.NoError(t, err)
	defer application.Close()

	result := application.Service().Extract(context.Background(), "ftp://example.com/file", models.Options{})

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}
