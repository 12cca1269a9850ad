package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// MemoryBilling is an in-process BillingCollaborator that applies the
// billing policy itself: upgrades replace the plan immediately, downgrades
// are scheduled for period end, cancellation takes effect at period end.
// AdvancePeriod performs the period-end rollover.
//
// A payment that needs confirmation is held until ConfirmPayment receives
// its client secret: a new subscription stays past_due and a plan change is
// not applied until then.
//
// The exported *Err fields inject transport failures for the next calls.
type MemoryBilling struct {
	StatusErr  error
	SetupErr   error
	CreateErr  error
	UpdateErr  error
	CancelErr  error
	MethodsErr error
	ConfirmErr error

	mu        sync.Mutex
	catalog   *Catalog
	now       func() time.Time
	subs      map[string]*Subscription
	methods   map[string]*PaymentMethods
	declined  map[string]bool
	confirm   map[string]bool
	charges   map[string]func()
	calls     map[string]int
	cancelLog []bool
	seq       int
}

// MemoryOption configures a MemoryBilling.
type MemoryOption func(*MemoryBilling)

// WithMemoryClock sets the clock used for billing periods.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(b *MemoryBilling) {
		if now != nil {
			b.now = now
		}
	}
}

// WithMemoryCatalog sets the catalog used to resolve price ids.
func WithMemoryCatalog(c *Catalog) MemoryOption {
	return func(b *MemoryBilling) {
		if c != nil {
			b.catalog = c
		}
	}
}

// NewMemoryBilling returns an empty in-memory collaborator.
func NewMemoryBilling(opts ...MemoryOption) *MemoryBilling {
	b := &MemoryBilling{
		catalog:  DefaultCatalog(),
		now:      func() time.Time { return time.Now().UTC() },
		subs:     make(map[string]*Subscription),
		methods:  make(map[string]*PaymentMethods),
		declined: make(map[string]bool),
		confirm:  make(map[string]bool),
		charges:  make(map[string]func()),
		calls:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Put stores sub for userID as is.
func (b *MemoryBilling) Put(userID string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub == nil {
		delete(b.subs, userID)
		return
	}
	b.subs[userID] = sub.Clone()
}

// AddPaymentMethod stores pm for userID; the first method becomes the default.
func (b *MemoryBilling) AddPaymentMethod(userID string, pm PaymentMethod, makeDefault bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addMethodLocked(userID, pm, makeDefault)
}

// Decline makes subscription calls paying with paymentMethodID fail.
func (b *MemoryBilling) Decline(paymentMethodID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declined[paymentMethodID] = true
}

// RequireConfirmation makes payments with paymentMethodID need an extra
// authentication step.
func (b *MemoryBilling) RequireConfirmation(paymentMethodID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirm[paymentMethodID] = true
}

// Calls returns how many times method was invoked, e.g. "UpdateSubscription".
func (b *MemoryBilling) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// CancellationCalls returns the cancel flags SetCancellation received, in order.
func (b *MemoryBilling) CancellationCalls() []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bool(nil), b.cancelLog...)
}

func (b *MemoryBilling) GetSubscriptionStatus(ctx context.Context, userID string) (*Subscription, error) {
	if err := b.begin(ctx, "GetSubscriptionStatus", &b.StatusErr); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs[userID].Clone(), nil
}

func (b *MemoryBilling) CreateSetupIntent(ctx context.Context, userID string) (*SetupIntent, error) {
	if err := b.begin(ctx, "CreateSetupIntent", &b.SetupErr); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	return &SetupIntent{ClientSecret: fmt.Sprintf("seti_%d_secret", b.seq)}, nil
}

func (b *MemoryBilling) CreateSubscription(ctx context.Context, userID, priceID, paymentMethodID string) (Result, error) {
	if err := b.begin(ctx, "CreateSubscription", &b.CreateErr); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	plan, ok := b.catalog.ByPrice(priceID)
	if !ok {
		return Failure{Reason: "unknown price " + priceID}, nil
	}
	if b.subs[userID].IsActive() {
		return Failure{Reason: "subscription already exists"}, nil
	}
	if paymentMethodID == "" {
		return Failure{Reason: "payment method required"}, nil
	}
	if b.declined[paymentMethodID] {
		return Failure{Reason: "card declined"}, nil
	}

	now := b.now()
	sub := &Subscription{
		Status:             StatusActive,
		PlanType:           plan.ID,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   plan.Interval.Next(now),
	}
	b.subs[userID] = sub
	b.addMethodLocked(userID, PaymentMethod{ID: paymentMethodID, Brand: "visa", Last4: "4242"}, false)

	if b.confirm[paymentMethodID] {
		sub.Status = StatusPastDue
		return b.holdLocked(func() { sub.Status = StatusActive }), nil
	}
	return Success{Status: StatusActive}, nil
}

func (b *MemoryBilling) UpdateSubscription(ctx context.Context, userID, priceID, paymentMethodID string) (Result, error) {
	if err := b.begin(ctx, "UpdateSubscription", &b.UpdateErr); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.subs[userID]
	if !sub.IsActive() {
		return Failure{Reason: "no active subscription"}, nil
	}
	target, ok := b.catalog.ByPrice(priceID)
	if !ok {
		return Failure{Reason: "unknown price " + priceID}, nil
	}
	if paymentMethodID == "" {
		return Failure{Reason: "payment method required"}, nil
	}
	if b.declined[paymentMethodID] {
		return Failure{Reason: "card declined"}, nil
	}

	var apply func()
	switch b.catalog.Direction(sub.PlanType, target.ID) {
	case DirectionUpgrade:
		current, _ := b.catalog.Plan(sub.PlanType)
		apply = func() {
			sub.PlanType = target.ID
			sub.ScheduleForDowngrade = false
			sub.SubscriptionScheduledForDowngrade = ""
			sub.CancelAtPeriodEnd = false
			if current.Interval != target.Interval {
				now := b.now()
				sub.CurrentPeriodStart = now
				sub.CurrentPeriodEnd = target.Interval.Next(now)
			}
		}
	case DirectionDowngrade:
		// A later downgrade replaces the earlier schedule.
		apply = func() {
			sub.ScheduleForDowngrade = true
			sub.SubscriptionScheduledForDowngrade = target.ID
			sub.CancelAtPeriodEnd = false
		}
	default:
		return Failure{Reason: "already on plan " + string(target.ID)}, nil
	}

	if b.confirm[paymentMethodID] {
		return b.holdLocked(apply), nil
	}
	apply()
	return Success{Acknowledged: true}, nil
}

// ConfirmPayment completes a payment held by CreateSubscription or
// UpdateSubscription. Each client secret confirms once.
func (b *MemoryBilling) ConfirmPayment(ctx context.Context, clientSecret string) error {
	if err := b.begin(ctx, "ConfirmPayment", &b.ConfirmErr); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	apply, ok := b.charges[clientSecret]
	if !ok {
		return fmt.Errorf("no payment awaiting confirmation for %q", clientSecret)
	}
	delete(b.charges, clientSecret)
	apply()
	return nil
}

func (b *MemoryBilling) SetCancellation(ctx context.Context, userID string, cancel bool) (Result, error) {
	if err := b.begin(ctx, "SetCancellation", &b.CancelErr); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelLog = append(b.cancelLog, cancel)

	sub := b.subs[userID]
	if !sub.IsActive() {
		return Failure{Reason: "no active subscription"}, nil
	}
	sub.CancelAtPeriodEnd = cancel
	if cancel {
		sub.ScheduleForDowngrade = false
		sub.SubscriptionScheduledForDowngrade = ""
	}
	return Success{Acknowledged: true}, nil
}

func (b *MemoryBilling) ListPaymentMethods(ctx context.Context, userID string) (*PaymentMethods, error) {
	if err := b.begin(ctx, "ListPaymentMethods", &b.MethodsErr); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if pm := b.methods[userID]; pm != nil {
		return pm.Clone(), nil
	}
	return &PaymentMethods{}, nil
}

// AdvancePeriod rolls the user's subscription over its period end: a
// canceling subscription ends, a scheduled downgrade takes over, anything
// else renews on the same plan.
func (b *MemoryBilling) AdvancePeriod(userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.subs[userID]
	if !sub.IsActive() {
		return errors.Join(ErrInvalidState, errors.New("no active subscription"))
	}

	start := sub.CurrentPeriodEnd
	if start.IsZero() {
		start = b.now()
	}

	switch {
	case sub.CancelAtPeriodEnd:
		sub.Status = StatusCanceled
		sub.CancelAtPeriodEnd = false
		return nil
	case sub.ScheduleForDowngrade:
		sub.PlanType = sub.SubscriptionScheduledForDowngrade
		sub.ScheduleForDowngrade = false
		sub.SubscriptionScheduledForDowngrade = ""
	}

	plan, ok := b.catalog.Plan(sub.PlanType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, sub.PlanType)
	}
	sub.CurrentPeriodStart = start
	sub.CurrentPeriodEnd = plan.Interval.Next(start)
	return nil
}

func (b *MemoryBilling) begin(ctx context.Context, method string, injected *error) error {
	b.mu.Lock()
	b.calls[method]++
	err := *injected
	b.mu.Unlock()

	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}

func (b *MemoryBilling) holdLocked(apply func()) NeedsConfirmation {
	b.seq++
	secret := fmt.Sprintf("pi_%d_secret", b.seq)
	b.charges[secret] = apply
	return NeedsConfirmation{ClientSecret: secret}
}

func (b *MemoryBilling) addMethodLocked(userID string, pm PaymentMethod, makeDefault bool) {
	set := b.methods[userID]
	if set == nil {
		set = &PaymentMethods{}
		b.methods[userID] = set
	}
	if _, ok := set.Find(pm.ID); !ok {
		if pm.ExpMonth == 0 {
			now := b.now()
			pm.ExpMonth, pm.ExpYear = int(now.Month()), now.Year()+3
		}
		set.Methods = append(set.Methods, pm)
	}
	if makeDefault || set.DefaultID == "" {
		set.DefaultID = pm.ID
	}
}
