package cli

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gigkeys/pkg/billingapi"
	"github.com/dmitrymomot/gigkeys/pkg/httpserver"
	"github.com/dmitrymomot/gigkeys/pkg/logger"
	"github.com/dmitrymomot/gigkeys/pkg/ratelimiter"
	"github.com/dmitrymomot/gigkeys/pkg/subscription"
)

func TestRoutes(t *testing.T) {
	t.Parallel()

	o := &options{
		demo:     true,
		demoPlan: string(subscription.PlanBasic),
		cfg:      appConfig{UserID: "user_1"},
		log:      logger.Nop(),
		catalog:  subscription.DefaultCatalog(),
	}
	b, err := o.backend(context.Background())
	require.NoError(t, err)
	defer b.close()

	limiter, err := ratelimiter.New(b.limits, ratelimiter.Config{Capacity: 1, RefillRate: 1, RefillInterval: time.Hour})
	require.NoError(t, err)

	failing := httpserver.Check{Name: "redis", Fn: func(context.Context) error { return errors.New("down") }}
	h := o.routes(b.billing, limiter, failing)

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(billingapi.UserHeader, "user_1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set(billingapi.UserHeader, "user_1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/health/live").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/health/ready").Code)

	rec := get("/api/check-subscription-status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"basic_plan"`)

	assert.Equal(t, http.StatusOK, post("/api/cancel-subscription", `{"status":true}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, post("/api/cancel-subscription", `{"status":false}`).Code)
}
