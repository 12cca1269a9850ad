// Package billingapi carries the subscription billing REST contract.
//
// Server exposes any subscription.BillingCollaborator over HTTP on a chi
// router. Client speaks the same contract and is itself a
// subscription.BillingCollaborator, so a subscription.Manager can drive a
// remote billing service:
//
//	client := billingapi.NewClient("https://billing.example.com")
//	m := subscription.NewManager(userID, client, collector)
//
// Endpoints (JSON bodies, user identified by the X-User-ID header):
//
//	GET  /api/check-subscription-status
//	POST /api/create-setup-intent
//	POST /api/create-subscription                        {priceId, paymentMethodId}
//	POST /api/update-subscription-with-payment-method-id {priceId, paymentMethodId}
//	POST /api/cancel-subscription                        {status}
//	GET  /api/get-payment-methods
//	GET  /api/subscription-view
//
// Rejections are answered with 4xx and {"error": reason}; the client turns
// them into subscription.Failure. Provider outages are answered with 502.
package billingapi
