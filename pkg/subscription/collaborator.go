package subscription

import (
	"context"
	"sync"
)

// BillingCollaborator is the service owning subscriptions and payment methods.
type BillingCollaborator interface {
	// GetSubscriptionStatus returns nil, nil when the user has no subscription.
	GetSubscriptionStatus(ctx context.Context, userID string) (*Subscription, error)
	CreateSetupIntent(ctx context.Context, userID string) (*SetupIntent, error)
	CreateSubscription(ctx context.Context, userID, priceID, paymentMethodID string) (Result, error)
	UpdateSubscription(ctx context.Context, userID, priceID, paymentMethodID string) (Result, error)
	SetCancellation(ctx context.Context, userID string, cancel bool) (Result, error)
	ListPaymentMethods(ctx context.Context, userID string) (*PaymentMethods, error)
}

// PaymentCollector collects card details and confirms payments.
type PaymentCollector interface {
	// CollectAndConfirmSetup completes a setup intent and returns the new payment method id.
	CollectAndConfirmSetup(ctx context.Context, clientSecret string) (string, error)
	// ConfirmPayment completes an extra authentication step.
	ConfirmPayment(ctx context.Context, clientSecret string) error
}

// PaymentConfirmer completes a payment that needed an extra step.
// MemoryBilling implements it.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, clientSecret string) error
}

// StaticCollector is a PaymentCollector that always yields the same
// payment method. It records the secrets it was given and, when Confirmer
// is set, forwards payment confirmations to it.
type StaticCollector struct {
	PaymentMethodID string
	SetupErr        error
	ConfirmErr      error
	Confirmer       PaymentConfirmer

	mu            sync.Mutex
	setups        []string
	confirmations []string
}

// NewStaticCollector returns a collector yielding paymentMethodID.
func NewStaticCollector(paymentMethodID string) *StaticCollector {
	return &StaticCollector{PaymentMethodID: paymentMethodID}
}

func (c *StaticCollector) CollectAndConfirmSetup(ctx context.Context, clientSecret string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setups = append(c.setups, clientSecret)
	if c.SetupErr != nil {
		return "", c.SetupErr
	}
	return c.PaymentMethodID, nil
}

func (c *StaticCollector) ConfirmPayment(ctx context.Context, clientSecret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.confirmations = append(c.confirmations, clientSecret)
	confirmErr, confirmer := c.ConfirmErr, c.Confirmer
	c.mu.Unlock()

	if confirmErr != nil {
		return confirmErr
	}
	if confirmer != nil {
		return confirmer.ConfirmPayment(ctx, clientSecret)
	}
	return nil
}

// Setups returns the setup secrets seen so far.
func (c *StaticCollector) Setups() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.setups...)
}

// Confirmations returns the payment secrets seen so far.
func (c *StaticCollector) Confirmations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.confirmations...)
}
