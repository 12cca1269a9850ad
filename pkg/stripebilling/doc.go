// Package stripebilling implements subscription.BillingCollaborator on top of
// Stripe.
//
// Users are mapped to Stripe customers through a CustomerStore (Redis or in
// memory), falling back to a customer search on metadata['user_id'] and
// creating the customer on first payment setup.
//
// Billing policy:
//
//   - new subscriptions are created with payment_behavior=allow_incomplete; an
//     invoice needing authentication yields subscription.NeedsConfirmation;
//   - upgrades swap the subscription item price immediately with proration;
//   - downgrades attach a subscription schedule whose second phase starts at
//     the end of the current period, and record the target plan in the
//     subscription metadata under "scheduled_downgrade_plan";
//   - cancellation sets cancel_at_period_end, releasing a pending downgrade.
//
// Every mutating call carries an idempotency key.
//
//	api := stripebilling.NewAPI(cfg.SecretKey)
//	billing := stripebilling.New(api,
//		stripebilling.WithCustomerStore(stripebilling.NewRedisCustomerStore(rdb, redisCfg, cfg.CustomerCacheTTL)),
//		stripebilling.WithLogger(log),
//	)
package stripebilling
