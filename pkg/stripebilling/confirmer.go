package stripebilling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dmitrymomot/gigkeys/pkg/subscription"
)

// SetupConfirmer is a subscription.PaymentCollector that confirms intents
// server-side with a fixed payment method token. It stands in for the
// browser card form in the CLI and in test mode.
type SetupConfirmer struct {
	api           API
	paymentMethod string
}

var _ subscription.PaymentCollector = (*SetupConfirmer)(nil)

// NewSetupConfirmer panics when api is nil or paymentMethod is empty.
func NewSetupConfirmer(api API, paymentMethod string) *SetupConfirmer {
	if api == nil || paymentMethod == "" {
		panic("stripebilling: setup confirmer needs an api and a payment method")
	}
	return &SetupConfirmer{api: api, paymentMethod: paymentMethod}
}

func (s *SetupConfirmer) CollectAndConfirmSetup(ctx context.Context, clientSecret string) (string, error) {
	id, err := intentID(clientSecret)
	if err != nil {
		return "", err
	}
	si, err := s.api.ConfirmSetupIntent(ctx, id, &stripe.SetupIntentConfirmParams{PaymentMethod: stripe.String(s.paymentMethod)})
	if err != nil {
		return "", fmt.Errorf("confirm setup intent: %w", err)
	}

	switch si.Status {
	case stripe.SetupIntentStatusSucceeded:
		if si.PaymentMethod == nil || si.PaymentMethod.ID == "" {
			return "", errors.Join(ErrIntentNotSucceeded, errors.New("no payment method on setup intent"))
		}
		return si.PaymentMethod.ID, nil
	case stripe.SetupIntentStatusRequiresAction:
		return "", ErrAuthenticationRequired
	default:
		return "", errors.Join(ErrIntentNotSucceeded, fmt.Errorf("setup intent %s", si.Status))
	}
}

func (s *SetupConfirmer) ConfirmPayment(ctx context.Context, clientSecret string) error {
	id, err := intentID(clientSecret)
	if err != nil {
		return err
	}
	pi, err := s.api.ConfirmPaymentIntent(ctx, id, &stripe.PaymentIntentConfirmParams{PaymentMethod: stripe.String(s.paymentMethod)})
	if err != nil {
		return fmt.Errorf("confirm payment intent: %w", err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusProcessing:
		return nil
	case stripe.PaymentIntentStatusRequiresAction:
		return ErrAuthenticationRequired
	default:
		return errors.Join(ErrIntentNotSucceeded, fmt.Errorf("payment intent %s", pi.Status))
	}
}

// intentID extracts "seti_123" from "seti_123_secret_abc".
func intentID(clientSecret string) (string, error) {
	i := strings.Index(clientSecret, "_secret_")
	if i <= 0 {
		return "", ErrInvalidClientSecret
	}
	return clientSecret[:i], nil
}
