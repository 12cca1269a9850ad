package stripebilling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dmitrymomot/gigkeys/pkg/logger"
	"github.com/dmitrymomot/gigkeys/pkg/subscription"
)

const (
	metaUserID        = "user_id"
	metaScheduledPlan = "scheduled_downgrade_plan"

	expandConfirmationSecret = "latest_invoice.confirmation_secret"
)

// customerNamespace derives stable idempotency keys for customer creation.
var customerNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("gigkeys:stripe:customer"))

// Option configures a Collaborator.
type Option func(*Collaborator)

// WithCustomerStore sets the user to customer cache. Defaults to memory.
func WithCustomerStore(s CustomerStore) Option {
	return func(c *Collaborator) {
		if s != nil {
			c.customers = s
		}
	}
}

// WithCatalog sets the catalog mapping Stripe prices to plans.
func WithCatalog(cat *subscription.Catalog) Option {
	return func(c *Collaborator) {
		if cat != nil {
			c.catalog = cat
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Collaborator) {
		if l != nil {
			c.log = l
		}
	}
}

// Collaborator is a subscription.BillingCollaborator backed by Stripe.
type Collaborator struct {
	api       API
	customers CustomerStore
	catalog   *subscription.Catalog
	log       *slog.Logger
}

var _ subscription.BillingCollaborator = (*Collaborator)(nil)

// New panics when api is nil.
func New(api API, opts ...Option) *Collaborator {
	if api == nil {
		panic("stripebilling: nil api")
	}
	c := &Collaborator{
		api:       api,
		customers: NewMemoryCustomerStore(),
		catalog:   subscription.DefaultCatalog(),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.Component("stripebilling"))
	return c
}

func (c *Collaborator) GetSubscriptionStatus(ctx context.Context, userID string) (*subscription.Subscription, error) {
	customerID, err := c.customer(ctx, userID, false)
	if err != nil || customerID == "" {
		return nil, err
	}
	sub, err := c.current(ctx, customerID)
	if err != nil || sub == nil {
		return nil, err
	}
	out := c.toSubscription(sub)
	if target := sub.Metadata[metaScheduledPlan]; target != "" && subscription.PlanID(target) == out.PlanType {
		c.clearScheduledPlan(ctx, sub)
	}
	return out, nil
}

func (c *Collaborator) CreateSetupIntent(ctx context.Context, userID string) (*subscription.SetupIntent, error) {
	customerID, err := c.customer(ctx, userID, true)
	if err != nil {
		return nil, err
	}

	params := &stripe.SetupIntentParams{
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Usage:              stripe.String(string(stripe.SetupIntentUsageOffSession)),
	}
	params.SetIdempotencyKey(uuid.NewString())

	si, err := c.api.CreateSetupIntent(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create setup intent: %w", err)
	}
	return &subscription.SetupIntent{ClientSecret: si.ClientSecret}, nil
}

func (c *Collaborator) CreateSubscription(ctx context.Context, userID, priceID, paymentMethodID string) (subscription.Result, error) {
	log := c.log.With(logger.UserID(userID), logger.PriceID(priceID))

	plan, ok := c.catalog.ByPrice(priceID)
	if !ok {
		return subscription.Failure{Reason: "unknown price " + priceID}, nil
	}
	if paymentMethodID == "" {
		return subscription.Failure{Reason: "payment method required"}, nil
	}
	customerID, err := c.customer(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	existing, err := c.current(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if existing != nil && isLive(existing.Status) {
		return subscription.Failure{Reason: "subscription already exists"}, nil
	}

	if res, err := c.setDefaultMethod(ctx, customerID, paymentMethodID); res != nil || err != nil {
		return res, err
	}

	params := &stripe.SubscriptionParams{
		Customer:             stripe.String(customerID),
		Items:                []*stripe.SubscriptionItemsParams{{Price: stripe.String(plan.PriceID), Quantity: stripe.Int64(1)}},
		DefaultPaymentMethod: stripe.String(paymentMethodID),
		PaymentBehavior:      stripe.String("allow_incomplete"),
		Metadata:             map[string]string{metaUserID: userID},
	}
	params.AddExpand(expandConfirmationSecret)
	params.SetIdempotencyKey(uuid.NewString())

	sub, err := c.api.CreateSubscription(ctx, params)
	if err != nil {
		return rejection(fmt.Errorf("create subscription: %w", err))
	}
	log.InfoContext(ctx, "stripe subscription created",
		logger.CustomerID(customerID),
		slog.String("subscription_id", sub.ID),
		slog.String("stripe_status", string(sub.Status)),
	)

	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return subscription.Success{Status: subscription.StatusActive}, nil
	case stripe.SubscriptionStatusIncomplete:
		if secret := confirmationSecret(sub); secret != "" {
			return subscription.NeedsConfirmation{ClientSecret: secret}, nil
		}
	}
	return subscription.Failure{Reason: "subscription " + string(sub.Status)}, nil
}

func (c *Collaborator) UpdateSubscription(ctx context.Context, userID, priceID, paymentMethodID string) (subscription.Result, error) {
	log := c.log.With(logger.UserID(userID), logger.PriceID(priceID))

	target, ok := c.catalog.ByPrice(priceID)
	if !ok {
		return subscription.Failure{Reason: "unknown price " + priceID}, nil
	}
	if paymentMethodID == "" {
		return subscription.Failure{Reason: "payment method required"}, nil
	}
	sub, item, err := c.activeSubscription(ctx, userID)
	if err != nil || sub == nil {
		return noSubscription(err)
	}
	currentPlan, ok := c.catalog.ByPrice(item.Price.ID)
	if !ok {
		return subscription.Failure{Reason: "current price is not in the catalog"}, nil
	}

	switch c.catalog.Direction(currentPlan.ID, target.ID) {
	case subscription.DirectionUpgrade:
		if err := c.releaseSchedule(ctx, sub); err != nil {
			return rejection(err)
		}
		params := &stripe.SubscriptionParams{
			Items:                []*stripe.SubscriptionItemsParams{{ID: stripe.String(item.ID), Price: stripe.String(target.PriceID)}},
			ProrationBehavior:    stripe.String("always_invoice"),
			PaymentBehavior:      stripe.String("allow_incomplete"),
			DefaultPaymentMethod: stripe.String(paymentMethodID),
			CancelAtPeriodEnd:    stripe.Bool(false),
			Metadata:             map[string]string{metaScheduledPlan: ""},
		}
		params.AddExpand(expandConfirmationSecret)
		params.SetIdempotencyKey(uuid.NewString())

		updated, err := c.api.UpdateSubscription(ctx, sub.ID, params)
		if err != nil {
			return rejection(fmt.Errorf("upgrade subscription: %w", err))
		}
		log.InfoContext(ctx, "stripe subscription upgraded", logger.PlanID(string(target.ID)))
		if inv := updated.LatestInvoice; inv != nil && inv.Status == stripe.InvoiceStatusOpen {
			if secret := confirmationSecret(updated); secret != "" {
				return subscription.NeedsConfirmation{ClientSecret: secret}, nil
			}
		}
		return subscription.Success{Acknowledged: true}, nil

	case subscription.DirectionDowngrade:
		if err := c.scheduleDowngrade(ctx, sub, item, currentPlan, target, paymentMethodID); err != nil {
			return rejection(err)
		}
		log.InfoContext(ctx, "stripe downgrade scheduled",
			logger.PlanID(string(target.ID)),
			slog.Time("starts_at", time.Unix(item.CurrentPeriodEnd, 0).UTC()),
		)
		return subscription.Success{Acknowledged: true}, nil

	default:
		return subscription.Failure{Reason: "already subscribed to " + currentPlan.Name}, nil
	}
}

func (c *Collaborator) SetCancellation(ctx context.Context, userID string, cancel bool) (subscription.Result, error) {
	sub, _, err := c.activeSubscription(ctx, userID)
	if err != nil || sub == nil {
		return noSubscription(err)
	}
	if err := c.releaseSchedule(ctx, sub); err != nil {
		return rejection(err)
	}

	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
		Metadata:          map[string]string{metaScheduledPlan: ""},
	}
	params.SetIdempotencyKey(uuid.NewString())
	if _, err := c.api.UpdateSubscription(ctx, sub.ID, params); err != nil {
		return rejection(fmt.Errorf("set cancel at period end: %w", err))
	}

	c.log.InfoContext(ctx, "stripe cancellation updated", logger.UserID(userID), slog.Bool("cancel_at_period_end", cancel))
	return subscription.Success{Acknowledged: true}, nil
}

func (c *Collaborator) ListPaymentMethods(ctx context.Context, userID string) (*subscription.PaymentMethods, error) {
	customerID, err := c.customer(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	out := &subscription.PaymentMethods{Methods: []subscription.PaymentMethod{}}
	if customerID == "" {
		return out, nil
	}

	methods, err := c.api.ListPaymentMethods(ctx, &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	})
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	for _, pm := range methods {
		out.Methods = append(out.Methods, toPaymentMethod(pm))
	}

	cust, err := c.api.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	if cust.InvoiceSettings != nil && cust.InvoiceSettings.DefaultPaymentMethod != nil {
		out.DefaultID = cust.InvoiceSettings.DefaultPaymentMethod.ID
	}
	return out, nil
}

// customer resolves the Stripe customer of userID through the cache, then a
// metadata search, creating it when create is set. It returns "" when the
// user has no customer and create is false.
func (c *Collaborator) customer(ctx context.Context, userID string, create bool) (string, error) {
	log := c.log.With(logger.UserID(userID))

	id, err := c.customers.CustomerID(ctx, userID)
	if err != nil {
		log.WarnContext(ctx, "customer cache lookup failed", logger.Error(err))
	}
	if id != "" {
		return id, nil
	}

	cust, err := c.api.FindCustomer(ctx, fmt.Sprintf("metadata['%s']:'%s'", metaUserID, escapeQuery(userID)))
	if err != nil {
		return "", fmt.Errorf("search customer: %w", err)
	}
	if cust == nil {
		if !create {
			return "", nil
		}
		params := &stripe.CustomerParams{Metadata: map[string]string{metaUserID: userID}}
		params.SetIdempotencyKey(uuid.NewSHA1(customerNamespace, []byte(userID)).String())
		if cust, err = c.api.CreateCustomer(ctx, params); err != nil {
			return "", fmt.Errorf("create customer: %w", err)
		}
		log.InfoContext(ctx, "stripe customer created", logger.CustomerID(cust.ID))
	}

	if err := c.customers.SaveCustomerID(ctx, userID, cust.ID); err != nil {
		log.WarnContext(ctx, "customer cache write failed", logger.Error(err))
	}
	return cust.ID, nil
}

// current returns the customer's live subscription, or nil.
func (c *Collaborator) current(ctx context.Context, customerID string) (*stripe.Subscription, error) {
	subs, err := c.api.ListSubscriptions(ctx, &stripe.SubscriptionListParams{Customer: stripe.String(customerID)})
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	var fallback *stripe.Subscription
	for _, s := range subs {
		switch {
		case isLive(s.Status):
			return s, nil
		case s.Status != stripe.SubscriptionStatusCanceled && s.Status != stripe.SubscriptionStatusIncompleteExpired && fallback == nil:
			fallback = s
		}
	}
	return fallback, nil
}

// activeSubscription returns the user's live subscription and its item, or nil.
func (c *Collaborator) activeSubscription(ctx context.Context, userID string) (*stripe.Subscription, *stripe.SubscriptionItem, error) {
	customerID, err := c.customer(ctx, userID, false)
	if err != nil || customerID == "" {
		return nil, nil, err
	}
	sub, err := c.current(ctx, customerID)
	if err != nil || sub == nil || !isLive(sub.Status) {
		return nil, nil, err
	}
	item := firstItem(sub)
	if item == nil || item.Price == nil {
		return nil, nil, errors.New("subscription has no priced item")
	}
	return sub, item, nil
}

func (c *Collaborator) setDefaultMethod(ctx context.Context, customerID, paymentMethodID string) (subscription.Result, error) {
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{DefaultPaymentMethod: stripe.String(paymentMethodID)},
	}
	params.SetIdempotencyKey(uuid.NewString())
	if _, err := c.api.UpdateCustomer(ctx, customerID, params); err != nil {
		return rejection(fmt.Errorf("set default payment method: %w", err))
	}
	return nil, nil
}

// scheduleDowngrade keeps the current price until the period ends, then
// switches to target for one of its periods and releases the schedule.
// An existing schedule is rewritten, replacing an earlier downgrade.
func (c *Collaborator) scheduleDowngrade(ctx context.Context, sub *stripe.Subscription, item *stripe.SubscriptionItem, current, target subscription.Plan, paymentMethodID string) error {
	scheduleID := ""
	if sub.Schedule != nil {
		scheduleID = sub.Schedule.ID
	} else {
		params := &stripe.SubscriptionScheduleParams{FromSubscription: stripe.String(sub.ID)}
		params.SetIdempotencyKey(uuid.NewString())
		sched, err := c.api.CreateSchedule(ctx, params)
		if err != nil {
			return fmt.Errorf("create subscription schedule: %w", err)
		}
		scheduleID = sched.ID
	}

	periodEnd := time.Unix(item.CurrentPeriodEnd, 0).UTC()
	params := &stripe.SubscriptionScheduleParams{
		EndBehavior: stripe.String(string(stripe.SubscriptionScheduleEndBehaviorRelease)),
		Phases: []*stripe.SubscriptionSchedulePhaseParams{
			{
				Items:     []*stripe.SubscriptionSchedulePhaseItemParams{{Price: stripe.String(current.PriceID), Quantity: stripe.Int64(1)}},
				StartDate: stripe.Int64(item.CurrentPeriodStart),
				EndDate:   stripe.Int64(item.CurrentPeriodEnd),
			},
			{
				Items:                []*stripe.SubscriptionSchedulePhaseItemParams{{Price: stripe.String(target.PriceID), Quantity: stripe.Int64(1)}},
				DefaultPaymentMethod: stripe.String(paymentMethodID),
				EndDate:              stripe.Int64(target.Interval.Next(periodEnd).Unix()),
			},
		},
	}
	params.SetIdempotencyKey(uuid.NewString())
	if _, err := c.api.UpdateSchedule(ctx, scheduleID, params); err != nil {
		return fmt.Errorf("update subscription schedule: %w", err)
	}

	meta := &stripe.SubscriptionParams{Metadata: map[string]string{metaScheduledPlan: string(target.ID)}}
	meta.SetIdempotencyKey(uuid.NewString())
	if _, err := c.api.UpdateSubscription(ctx, sub.ID, meta); err != nil {
		return fmt.Errorf("record scheduled downgrade: %w", err)
	}
	return nil
}

// clearScheduledPlan drops the downgrade marker once the schedule has moved
// the item onto the target price. Failures are only logged: toSubscription
// already ignores a marker naming the current plan.
func (c *Collaborator) clearScheduledPlan(ctx context.Context, sub *stripe.Subscription) {
	params := &stripe.SubscriptionParams{Metadata: map[string]string{metaScheduledPlan: ""}}
	params.SetIdempotencyKey(uuid.NewString())
	if _, err := c.api.UpdateSubscription(ctx, sub.ID, params); err != nil {
		c.log.WarnContext(ctx, "stale downgrade marker not cleared",
			slog.String("subscription_id", sub.ID),
			logger.Error(err),
		)
		return
	}
	c.log.InfoContext(ctx, "scheduled downgrade took effect", slog.String("subscription_id", sub.ID))
}

func (c *Collaborator) releaseSchedule(ctx context.Context, sub *stripe.Subscription) error {
	if sub.Schedule == nil || sub.Schedule.ID == "" {
		return nil
	}
	params := &stripe.SubscriptionScheduleReleaseParams{}
	params.SetIdempotencyKey(uuid.NewString())
	if _, err := c.api.ReleaseSchedule(ctx, sub.Schedule.ID, params); err != nil {
		return fmt.Errorf("release subscription schedule: %w", err)
	}
	return nil
}

func (c *Collaborator) toSubscription(s *stripe.Subscription) *subscription.Subscription {
	out := &subscription.Subscription{
		Status:            toStatus(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
	if item := firstItem(s); item != nil {
		if item.Price != nil {
			if plan, ok := c.catalog.ByPrice(item.Price.ID); ok {
				out.PlanType = plan.ID
			} else {
				out.PlanType = subscription.PlanID(item.Price.ID)
			}
		}
		out.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
	}
	if target := subscription.PlanID(s.Metadata[metaScheduledPlan]); target != "" && target != out.PlanType && !s.CancelAtPeriodEnd {
		out.ScheduleForDowngrade = true
		out.SubscriptionScheduledForDowngrade = target
	}
	return out
}

func toStatus(s stripe.SubscriptionStatus) subscription.Status {
	switch s {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return subscription.StatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncomplete, stripe.SubscriptionStatusPaused:
		return subscription.StatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return subscription.StatusCanceled
	default:
		return subscription.StatusNone
	}
}

func toPaymentMethod(pm *stripe.PaymentMethod) subscription.PaymentMethod {
	out := subscription.PaymentMethod{ID: pm.ID}
	if pm.Card != nil {
		out.Brand = string(pm.Card.Brand)
		out.Last4 = pm.Card.Last4
		out.ExpMonth = int(pm.Card.ExpMonth)
		out.ExpYear = int(pm.Card.ExpYear)
	}
	return out
}

func isLive(s stripe.SubscriptionStatus) bool {
	return s == stripe.SubscriptionStatusActive || s == stripe.SubscriptionStatusTrialing
}

func firstItem(s *stripe.Subscription) *stripe.SubscriptionItem {
	if s.Items == nil || len(s.Items.Data) == 0 {
		return nil
	}
	return s.Items.Data[0]
}

func confirmationSecret(s *stripe.Subscription) string {
	if s.LatestInvoice == nil || s.LatestInvoice.ConfirmationSecret == nil {
		return ""
	}
	return s.LatestInvoice.ConfirmationSecret.ClientSecret
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}

// rejection turns Stripe client errors (declined cards, invalid requests)
// into a Failure and passes everything else through as an error.
func rejection(err error) (subscription.Result, error) {
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 && se.HTTPStatusCode != http.StatusTooManyRequests {
		reason := se.Msg
		if reason == "" {
			reason = string(se.Code)
		}
		return subscription.Failure{Reason: reason}, nil
	}
	return nil, err
}

func noSubscription(err error) (subscription.Result, error) {
	if err != nil {
		return nil, err
	}
	return subscription.Failure{Reason: "no active subscription"}, nil
}
