// Package subscription manages the lifecycle of a user's key subscription:
// it classifies the subscription reported by a billing collaborator into a
// display/action state and mediates starting a subscription, changing plans
// and cancelling or reactivating against that collaborator.
//
// # States
//
// Classify derives one of four states from subscription fields, in priority
// order: NO_SUBSCRIPTION, ACTIVE_CANCELING, ACTIVE_DOWNGRADE_SCHEDULED and
// ACTIVE_STEADY. A Manager layers two session states on top: SELECTING_PLAN
// while the plan comparison view is open and AWAITING_PAYMENT while a plan
// has been picked but not yet paid for.
//
// # Billing policy
//
// Upgrades replace the plan immediately. Downgrades are scheduled and take
// effect at the end of the current billing period. Cancellation stops renewal
// at period end. The collaborator enforces the policy; the manager never
// mutates subscription fields locally and refetches after every mutation.
//
// # Usage
//
//	billing := subscription.NewMemoryBilling()
//	m := subscription.NewManager(userID, billing, subscription.NewStaticCollector("pm_card_visa"),
//		subscription.WithLogger(log),
//		subscription.WithTimeout(10*time.Second),
//	)
//	if err := m.Refresh(ctx); err != nil {
//		return err
//	}
//	if err := m.StartSubscription(ctx, "price_basic"); err != nil {
//		return err
//	}
//
//	outcome, err := m.ChangePlan(ctx, subscription.PlanPremium)
//	if err != nil {
//		return err
//	}
//	if outcome == subscription.ChangeAwaitingPayment {
//		err = m.ConfirmPlanChange(ctx, subscription.UseDefaultMethod())
//	}
//
// # Errors
//
// Commands return sentinel errors joined with their cause. Check them with
// errors.Is:
//
//	switch {
//	case errors.Is(err, subscription.ErrBusy):
//		// another command is in flight
//	case errors.Is(err, subscription.ErrPlanChangeDisabled):
//		// the plan card is disabled
//	case errors.Is(err, subscription.ErrNetwork):
//		// transport failure, safe to retry
//	}
//
// Every failed command also emits an error Notice through the configured
// Notifier, and successful mutations emit a success Notice.
package subscription
