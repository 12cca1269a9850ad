package subscription

import "errors"

var (
	ErrSetup              = errors.New("failed to obtain setup intent")
	ErrSubscriptionCreate = errors.New("subscription creation rejected")
	ErrSubscriptionUpdate = errors.New("subscription update rejected")
	ErrCancellation       = errors.New("subscription cancellation rejected")
	ErrNetwork            = errors.New("billing service unreachable")

	ErrBusy                  = errors.New("another subscription request is in progress")
	ErrInvalidState          = errors.New("operation not allowed in current subscription state")
	ErrPlanChangeDisabled    = errors.New("plan change not available")
	ErrPlanNotFound          = errors.New("subscription plan not found")
	ErrNoPendingSelection    = errors.New("no plan selection pending")
	ErrPaymentMethodRequired = errors.New("payment method required")
	ErrPaymentCollection     = errors.New("payment collection failed")

	ErrInconsistentSubscription = errors.New("inconsistent subscription")
	ErrInvalidCatalog           = errors.New("invalid plan catalog")
)
