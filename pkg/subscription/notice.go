package subscription

import (
	"context"
	"errors"
)

// NoticeLevel classifies a transient notification.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a transient, user-visible notification (a toast).
type Notice struct {
	Level   NoticeLevel
	Message string
	Err     error
}

// Notifier receives notices emitted at the end of each command.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notice)

func (f NotifierFunc) Notify(ctx context.Context, n Notice) { f(ctx, n) }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notice) {}

const (
	msgSubscribed   = "Subscription successful!"
	msgUpdated      = "Subscription updated successfully!"
	msgCancelled    = "Subscription cancelled successfully!"
	msgReactivated  = "Subscription reactivated successfully!"
	msgSubscribeErr = "Failed to create subscription"
	msgUpdateErr    = "Failed to update subscription"
	msgCancelErr    = "Failed to cancel subscription"
	msgSetupErr     = "Failed to prepare payment method"
	msgNetworkErr   = "Billing service is unreachable, please try again"
	msgGenericErr   = "Something went wrong, please try again"
)

// errorMessage picks the toast copy for a command error.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, ErrSubscriptionCreate):
		return msgSubscribeErr
	case errors.Is(err, ErrSubscriptionUpdate):
		return msgUpdateErr
	case errors.Is(err, ErrCancellation):
		return msgCancelErr
	case errors.Is(err, ErrSetup), errors.Is(err, ErrPaymentCollection):
		return msgSetupErr
	case errors.Is(err, ErrNetwork):
		return msgNetworkErr
	default:
		return msgGenericErr
	}
}
