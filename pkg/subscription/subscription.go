package subscription

import (
	"errors"
	"fmt"
	"time"
)

// Subscription is the billing collaborator's view of a user's subscription.
// It is read-only for the manager: every change goes through the collaborator
// and is observed by refetching.
type Subscription struct {
	Status             Status    `json:"status"`
	PlanType           PlanID    `json:"planType"`
	CancelAtPeriodEnd  bool      `json:"cancelAtPeriodEnd"`
	CurrentPeriodStart time.Time `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time `json:"currentPeriodEnd"`

	ScheduleForDowngrade              bool   `json:"scheduleForDowngrade"`
	SubscriptionScheduledForDowngrade PlanID `json:"subscriptionScheduledForDowngrade,omitempty"`
}

// IsActive reports whether the subscription is live.
func (s *Subscription) IsActive() bool {
	return s != nil && s.Status == StatusActive
}

// Clone returns a copy safe to hand out to callers.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Validate checks the cross-field invariants of an active subscription.
// A subscription is either ending or being replaced at period end, never both.
func (s *Subscription) Validate() error {
	if !s.IsActive() {
		return nil
	}

	var errs []error
	if s.PlanType == "" {
		errs = append(errs, errors.New("plan type is empty"))
	}
	if s.ScheduleForDowngrade {
		switch s.SubscriptionScheduledForDowngrade {
		case "":
			errs = append(errs, errors.New("downgrade scheduled without a target plan"))
		case s.PlanType:
			errs = append(errs, fmt.Errorf("downgrade scheduled to the current plan %q", s.PlanType))
		}
		if s.CancelAtPeriodEnd {
			errs = append(errs, errors.New("cancel at period end and scheduled downgrade are both set"))
		}
	}
	if !s.CurrentPeriodEnd.IsZero() && s.CurrentPeriodEnd.Before(s.CurrentPeriodStart) {
		errs = append(errs, errors.New("current period ends before it starts"))
	}

	if len(errs) > 0 {
		return errors.Join(ErrInconsistentSubscription, errors.Join(errs...))
	}
	return nil
}

// PendingSelection is the plan a user picked and is about to pay for.
// It lives only between ChangePlan (or StartSubscription) and the outcome.
type PendingSelection struct {
	TargetPlanID          PlanID `json:"targetPlanId"`
	TargetPriceID         string `json:"targetPriceId"`
	ChosenPaymentMethodID string `json:"chosenPaymentMethodId,omitempty"`
}
