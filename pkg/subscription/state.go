package subscription

// State is the display/action state of the billing screen.
type State string

const (
	StateNoSubscription           State = "NO_SUBSCRIPTION"
	StateActiveCanceling          State = "ACTIVE_CANCELING"
	StateActiveDowngradeScheduled State = "ACTIVE_DOWNGRADE_SCHEDULED"
	StateActiveSteady             State = "ACTIVE_STEADY"
	StateSelectingPlan            State = "SELECTING_PLAN"
	StateAwaitingPayment          State = "AWAITING_PAYMENT"
)

func (s State) String() string { return string(s) }

// IsActive reports whether s is one of the live subscription states.
func (s State) IsActive() bool {
	switch s {
	case StateActiveCanceling, StateActiveDowngradeScheduled, StateActiveSteady:
		return true
	}
	return false
}

// Classify derives the state from subscription fields, in priority order.
// It never returns one of the session-mode states.
func Classify(sub *Subscription) State {
	switch {
	case !sub.IsActive():
		return StateNoSubscription
	case sub.CancelAtPeriodEnd:
		return StateActiveCanceling
	case sub.ScheduleForDowngrade:
		return StateActiveDowngradeScheduled
	default:
		return StateActiveSteady
	}
}

// scheduledTarget returns the plan a downgrade is scheduled to, if any.
func scheduledTarget(sub *Subscription) PlanID {
	if sub == nil || !sub.ScheduleForDowngrade {
		return ""
	}
	return sub.SubscriptionScheduledForDowngrade
}

// changeRule evaluates a plan change against an active subscription.
// A canceling subscription can only be reactivated on its own plan; a plan
// already in effect or already scheduled cannot be picked again.
func changeRule(sub *Subscription, target PlanID) (blocked, reactivate bool) {
	same := sub.PlanType == target
	if sub.CancelAtPeriodEnd && same {
		return false, true
	}
	blocked = (same && !sub.CancelAtPeriodEnd) ||
		(sub.CancelAtPeriodEnd && !same) ||
		scheduledTarget(sub) == target
	return blocked, false
}
