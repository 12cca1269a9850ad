package billingapi

import "github.com/dmitrymomot/gigkeys/pkg/subscription"

const (
	pathStatus        = "/api/check-subscription-status"
	pathSetupIntent   = "/api/create-setup-intent"
	pathCreate        = "/api/create-subscription"
	pathUpdate        = "/api/update-subscription-with-payment-method-id"
	pathCancel        = "/api/cancel-subscription"
	pathMethods       = "/api/get-payment-methods"
	pathView          = "/api/subscription-view"
	msgUpdated        = "Subscription updated successfully"
	msgCancelled      = "Subscription cancelled successfully"
	msgReactivated    = "Subscription reactivated successfully"
	msgProviderFailed = "billing provider unavailable"
	msgThrottled      = "too many billing requests, retry later"
)

type statusResponse struct {
	Subscription *subscription.Subscription `json:"subscription"`
}

type setupIntentResponse struct {
	ClientSecret string `json:"clientSecret"`
}

type changeRequest struct {
	PriceID         string `json:"priceId"`
	PaymentMethodID string `json:"paymentMethodId"`
}

// changeResponse answers create and update calls. ClientSecret is set when
// the payment needs confirmation.
type changeResponse struct {
	Status       subscription.Status `json:"status,omitempty"`
	Message      string              `json:"message,omitempty"`
	ClientSecret string              `json:"clientSecret,omitempty"`
}

// cancelRequest.Status true means cancel at period end, false means reactivate.
type cancelRequest struct {
	Status *bool `json:"status"`
}

type cancelResponse struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

type errorResponse struct {
	Error string `json:"error"`
}
