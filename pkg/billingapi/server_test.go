package billingapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gigkeys/pkg/billingapi"
	"github.com/dmitrymomot/gigkeys/pkg/logger"
	"github.com/dmitrymomot/gigkeys/pkg/ratelimiter"
	"github.com/dmitrymomot/gigkeys/pkg/requestid"
	"github.com/dmitrymomot/gigkeys/pkg/subscription"
)

const testUser = "user_1"

var fixedNow = time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC)

func newMemory() *subscription.MemoryBilling {
	b := subscription.NewMemoryBilling(subscription.WithMemoryClock(func() time.Time { return fixedNow }))
	b.AddPaymentMethod(testUser, subscription.PaymentMethod{ID: "pm_default", Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030}, true)
	return b
}

func activeSub(plan subscription.PlanID) *subscription.Subscription {
	return &subscription.Subscription{
		Status:             subscription.StatusActive,
		PlanType:           plan,
		CurrentPeriodStart: fixedNow,
		CurrentPeriodEnd:   fixedNow.AddDate(0, 1, 0),
	}
}

func serve(t *testing.T, b subscription.BillingCollaborator, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	h := billingapi.NewServer(b, billingapi.WithServerLogger(logger.Nop())).Routes()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set(billingapi.UserHeader, testUser)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestServer_RequiresUser(t *testing.T) {
	t.Parallel()

	h := billingapi.NewServer(newMemory(), billingapi.WithServerLogger(logger.Nop())).Routes()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/check-subscription-status", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"missing user identity"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestid.Header))
}

func TestServer_CustomUserResolver(t *testing.T) {
	t.Parallel()

	b := newMemory()
	b.Put("user_9", activeSub(subscription.PlanPro))
	resolver := func(r *http.Request) (string, error) {
		if r.Header.Get("Authorization") != "Bearer token-9" {
			return "", errors.New("bad token")
		}
		return "user_9", nil
	}
	h := billingapi.NewServer(b,
		billingapi.WithUserResolver(resolver),
		billingapi.WithServerLogger(logger.Nop()),
	).Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/check-subscription-status", nil)
	req.Header.Set("Authorization", "Bearer token-9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"planType":"pro_plan"`)
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	t.Run("no subscription", func(t *testing.T) {
		t.Parallel()
		rec, out := serve(t, newMemory(), http.MethodGet, "/api/check-subscription-status", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, out, "subscription")
		assert.Nil(t, out["subscription"])
	})

	t.Run("active subscription", func(t *testing.T) {
		t.Parallel()
		b := newMemory()
		b.Put(testUser, activeSub(subscription.PlanPremium))
		rec, out := serve(t, b, http.MethodGet, "/api/check-subscription-status", "")
		require.Equal(t, http.StatusOK, rec.Code)
		sub := out["subscription"].(map[string]any)
		assert.Equal(t, "active", sub["status"])
		assert.Equal(t, "premium_tier", sub["planType"])
		assert.Equal(t, false, sub["cancelAtPeriodEnd"])
	})

	t.Run("provider failure", func(t *testing.T) {
		t.Parallel()
		b := newMemory()
		b.StatusErr = errors.New("connection reset")
		rec, out := serve(t, b, http.MethodGet, "/api/check-subscription-status", "")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "billing provider unavailable", out["error"])
	})
}

func TestServer_CreateSubscription(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		prepare    func(b *subscription.MemoryBilling)
		body       string
		wantCode   int
		wantFields map[string]any
	}{
		{
			name:       "active",
			body:       `{"priceId":"price_basic","paymentMethodId":"pm_1"}`,
			wantCode:   http.StatusOK,
			wantFields: map[string]any{"status": "active"},
		},
		{
			name:       "needs confirmation",
			prepare:    func(b *subscription.MemoryBilling) { b.RequireConfirmation("pm_1") },
			body:       `{"priceId":"price_basic","paymentMethodId":"pm_1"}`,
			wantCode:   http.StatusOK,
			wantFields: map[string]any{"clientSecret": "pi_1_secret"},
		},
		{
			name:       "declined",
			prepare:    func(b *subscription.MemoryBilling) { b.Decline("pm_1") },
			body:       `{"priceId":"price_basic","paymentMethodId":"pm_1"}`,
			wantCode:   http.StatusBadRequest,
			wantFields: map[string]any{"error": "card declined"},
		},
		{
			name:       "missing payment method",
			body:       `{"priceId":"price_basic"}`,
			wantCode:   http.StatusBadRequest,
			wantFields: map[string]any{"error": "priceId and paymentMethodId are required"},
		},
		{
			name:       "unknown field",
			body:       `{"priceId":"price_basic","paymentMethodId":"pm_1","coupon":"x"}`,
			wantCode:   http.StatusBadRequest,
			wantFields: map[string]any{"error": "invalid request body"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := newMemory()
			if tt.prepare != nil {
				tt.prepare(b)
			}
			rec, out := serve(t, b, http.MethodPost, "/api/create-subscription", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			for k, v := range tt.wantFields {
				assert.Equal(t, v, out[k], k)
			}
		})
	}
}

// emptyResults answers mutations with neither a result nor an error.
type emptyResults struct {
	subscription.BillingCollaborator
}

func (emptyResults) CreateSetupIntent(context.Context, string) (*subscription.SetupIntent, error) {
	return nil, nil
}

func (emptyResults) CreateSubscription(context.Context, string, string, string) (subscription.Result, error) {
	return nil, nil
}

func (emptyResults) UpdateSubscription(context.Context, string, string, string) (subscription.Result, error) {
	return nil, nil
}

func TestServer_EmptyResults(t *testing.T) {
	t.Parallel()

	b := emptyResults{newMemory()}
	tests := []struct {
		path string
		body string
	}{
		{"/api/create-setup-intent", ""},
		{"/api/create-subscription", `{"priceId":"price_basic","paymentMethodId":"pm_default"}`},
		{"/api/update-subscription-with-payment-method-id", `{"priceId":"price_pro","paymentMethodId":"pm_default"}`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			rec, out := serve(t, b, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadGateway, rec.Code)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestServer_UpdateSubscription(t *testing.T) {
	t.Parallel()

	t.Run("upgrade", func(t *testing.T) {
		t.Parallel()
		b := newMemory()
		b.Put(testUser, activeSub(subscription.PlanBasic))
		rec, out := serve(t, b, http.MethodPost, "/api/update-subscription-with-payment-method-id",
			`{"priceId":"price_premium","paymentMethodId":"pm_default"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Subscription updated successfully", out["message"])
	})

	t.Run("same plan rejected", func(t *testing.T) {
		t.Parallel()
		b := newMemory()
		b.Put(testUser, activeSub(subscription.PlanBasic))
		rec, out := serve(t, b, http.MethodPost, "/api/update-subscription-with-payment-method-id",
			`{"priceId":"price_basic","paymentMethodId":"pm_default"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NotEmpty(t, out["error"])
	})
}

func TestServer_CancelSubscription(t *testing.T) {
	t.Parallel()

	t.Run("cancel and reactivate", func(t *testing.T) {
		t.Parallel()
		b := newMemory()
		b.Put(testUser, activeSub(subscription.PlanBasic))

		rec, out := serve(t, b, http.MethodPost, "/api/cancel-subscription", `{"status":true}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Subscription cancelled successfully", out["message"])
		assert.Equal(t, true, out["success"])

		rec, out = serve(t, b, http.MethodPost, "/api/cancel-subscription", `{"status":false}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Subscription reactivated successfully", out["message"])
		assert.Equal(t, []bool{true, false}, b.CancellationCalls())
	})

	t.Run("status is required", func(t *testing.T) {
		t.Parallel()
		rec, _ := serve(t, newMemory(), http.MethodPost, "/api/cancel-subscription", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no subscription", func(t *testing.T) {
		t.Parallel()
		rec, out := serve(t, newMemory(), http.MethodPost, "/api/cancel-subscription", `{"status":true}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "no active subscription", out["error"])
	})
}

func TestServer_PaymentMethods(t *testing.T) {
	t.Parallel()

	rec, out := serve(t, newMemory(), http.MethodGet, "/api/get-payment-methods", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pm_default", out["defaultPaymentMethodId"])
	methods := out["paymentMethods"].([]any)
	require.Len(t, methods, 1)
	assert.Equal(t, "4242", methods[0].(map[string]any)["last4"])

	rec, out = serve(t, subscription.NewMemoryBilling(), http.MethodGet, "/api/get-payment-methods", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, out["paymentMethods"])
}

func TestServer_SetupIntent(t *testing.T) {
	t.Parallel()

	rec, out := serve(t, newMemory(), http.MethodPost, "/api/create-setup-intent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "seti_1_secret", out["clientSecret"])
}

func TestServer_View(t *testing.T) {
	t.Parallel()

	b := newMemory()
	sub := activeSub(subscription.PlanPro)
	sub.ScheduleForDowngrade = true
	sub.SubscriptionScheduledForDowngrade = subscription.PlanPremium
	b.Put(testUser, sub)

	rec, out := serve(t, b, http.MethodGet, "/api/subscription-view", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ACTIVE_DOWNGRADE_SCHEDULED", out["state"])
	assert.Equal(t, "You're subscribed to Pro Plan", out["copy"].(map[string]any)["headline"])
	assert.Len(t, out["options"], 3)
}

func TestServer_ThrottlesMutations(t *testing.T) {
	t.Parallel()

	limiter, err := ratelimiter.New(ratelimiter.NewMemoryStore(),
		ratelimiter.Config{Capacity: 1, RefillRate: 1, RefillInterval: time.Hour})
	require.NoError(t, err)

	b := newMemory()
	b.Put(testUser, activeSub(subscription.PlanBasic))
	srv := httptest.NewServer(billingapi.NewServer(b,
		billingapi.WithServerLogger(logger.Nop()),
		billingapi.WithMutationLimiter(limiter),
	).Routes())
	t.Cleanup(srv.Close)

	client := billingapi.NewClient(srv.URL)
	ctx := t.Context()

	res, err := client.SetCancellation(ctx, testUser, true)
	require.NoError(t, err)
	assert.Equal(t, subscription.Success{Acknowledged: true}, res)

	res, err = client.SetCancellation(ctx, testUser, false)
	require.NoError(t, err)
	assert.Equal(t, subscription.Failure{Reason: "too many billing requests, retry later"}, res)
	assert.Equal(t, []bool{true}, b.CancellationCalls())

	_, err = client.GetSubscriptionStatus(ctx, testUser)
	require.NoError(t, err, "reads are not throttled")

	res, err = client.SetCancellation(ctx, "user_2", true)
	require.NoError(t, err)
	assert.Equal(t, subscription.Failure{Reason: "no active subscription"}, res, "buckets are per user")
}
