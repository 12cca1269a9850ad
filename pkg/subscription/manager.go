package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/gigkeys/pkg/logger"
	"github.com/dmitrymomot/gigkeys/pkg/statemachine"
)

// ChangeOutcome tells the caller what ChangePlan did.
type ChangeOutcome int

const (
	ChangeNone ChangeOutcome = iota
	// ChangeAwaitingPayment means a pending selection was recorded and
	// ConfirmPlanChange must follow.
	ChangeAwaitingPayment
	// ChangeReactivated means the change degraded to a reactivation.
	ChangeReactivated
)

func (o ChangeOutcome) String() string {
	switch o {
	case ChangeAwaitingPayment:
		return "awaiting_payment"
	case ChangeReactivated:
		return "reactivated"
	default:
		return "none"
	}
}

// mode is the session layer on top of the classified subscription state.
type mode string

const (
	modeIdle            mode = "idle"
	modeSelecting       mode = "selecting_plan"
	modeAwaitingPayment mode = "awaiting_payment"
)

type modeEvent string

const (
	eventBeginSelection modeEvent = "begin_selection"
	eventEndSelection   modeEvent = "end_selection"
	eventSelect         modeEvent = "select_plan"
	eventAbandon        modeEvent = "abandon_selection"
	eventComplete       modeEvent = "complete"
)

func newModeMachine(log *slog.Logger) *statemachine.Machine[mode, modeEvent] {
	var hasActive statemachine.Guard[mode, modeEvent] = func(_ context.Context, _ mode, _ modeEvent, data any) bool {
		sub, _ := data.(*Subscription)
		return Classify(sub).IsActive()
	}
	var hasSelection statemachine.Guard[mode, modeEvent] = func(_ context.Context, _ mode, _ modeEvent, data any) bool {
		p, _ := data.(*PendingSelection)
		return p != nil && p.TargetPriceID != ""
	}
	var logTransition statemachine.Hook[mode, modeEvent] = func(ctx context.Context, from, to mode, event modeEvent) {
		log.DebugContext(ctx, "session mode changed",
			slog.String("from", string(from)),
			slog.String("to", string(to)),
			slog.String("event", string(event)),
		)
	}

	return statemachine.MustNew(modeIdle,
		statemachine.WithTransition(modeIdle, modeSelecting, eventBeginSelection, statemachine.WithGuard(hasActive)),
		statemachine.WithTransition(modeSelecting, modeIdle, eventEndSelection),
		statemachine.WithTransition(modeIdle, modeAwaitingPayment, eventSelect, statemachine.WithGuard(hasSelection)),
		statemachine.WithTransition(modeSelecting, modeAwaitingPayment, eventSelect, statemachine.WithGuard(hasSelection)),
		statemachine.WithTransition[mode, modeEvent](modeAwaitingPayment, modeIdle, eventAbandon),
		statemachine.WithTransition[mode, modeEvent](modeAwaitingPayment, modeIdle, eventComplete),
		statemachine.WithTransition[mode, modeEvent](modeSelecting, modeIdle, eventComplete),
		statemachine.WithTransition[mode, modeEvent](modeIdle, modeIdle, eventComplete),
		statemachine.WithHook(logTransition),
	)
}

// Manager owns one user's subscription session: the last fetched
// subscription, the session mode and any pending plan selection.
// It is safe for concurrent use; mutating commands are serialized by a busy
// flag and fail fast with ErrBusy instead of queueing.
type Manager struct {
	userID   string
	billing  BillingCollaborator
	payments PaymentCollector
	catalog  *Catalog
	logger   *slog.Logger
	notifier Notifier
	timeout  time.Duration

	mode *statemachine.Machine[mode, modeEvent]

	mu      sync.Mutex // never held across collaborator calls
	busy    bool
	loaded  bool
	sub     *Subscription
	methods *PaymentMethods
	pending *PendingSelection
}

// NewManager creates a manager for userID.
// Panics if userID is empty or a collaborator is nil.
func NewManager(userID string, billing BillingCollaborator, payments PaymentCollector, opts ...ManagerOption) *Manager {
	if userID == "" {
		panic("subscription: user ID is required")
	}
	if billing == nil {
		panic("subscription: BillingCollaborator is required")
	}
	if payments == nil {
		panic("subscription: PaymentCollector is required")
	}

	m := &Manager{
		userID:   userID,
		billing:  billing,
		payments: payments,
		catalog:  DefaultCatalog(),
		logger:   slog.Default(),
		notifier: nopNotifier{},
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(logger.Component("subscription"), logger.UserID(userID))
	m.mode = newModeMachine(m.logger)

	return m
}

func (m *Manager) UserID() string     { return m.userID }
func (m *Manager) Catalog() *Catalog { return m.catalog }

// State returns the current display/action state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	switch m.mode.Current() {
	case modeAwaitingPayment:
		return StateAwaitingPayment
	case modeSelecting:
		return StateSelectingPlan
	}
	return Classify(m.sub)
}

// Subscription returns a copy of the last fetched subscription.
func (m *Manager) Subscription() *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sub.Clone()
}

// Pending returns a copy of the pending selection, or nil.
func (m *Manager) Pending() *PendingSelection {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return nil
	}
	p := *m.pending
	return &p
}

// Busy reports whether a mutating command is in flight.
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy
}

// View returns a render-ready snapshot.
func (m *Manager) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := NewView(m.stateLocked(), m.sub, m.pending, m.catalog)
	v.Busy = m.busy
	return v
}

// Refresh fetches the subscription and applies it.
func (m *Manager) Refresh(ctx context.Context) error {
	log := m.logger.With(logger.Command("refresh"))

	release, err := m.acquire()
	if err != nil {
		return m.reject(ctx, log, err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.refetch(ctx); err != nil {
		return m.fail(ctx, log, err)
	}
	log.DebugContext(ctx, "subscription refreshed", logger.State(m.State().String()))
	return nil
}

// PaymentMethods loads the user's stored payment methods.
func (m *Manager) PaymentMethods(ctx context.Context) (*PaymentMethods, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	methods, err := m.loadMethods(ctx)
	if err != nil {
		return nil, m.fail(ctx, m.logger.With(logger.Command("payment_methods")), err)
	}
	return methods.Clone(), nil
}

// BeginPlanSelection enters the plan comparison view.
func (m *Manager) BeginPlanSelection(ctx context.Context) error {
	log := m.logger.With(logger.Command("begin_plan_selection"))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return m.reject(ctx, log, ErrBusy)
	}
	if err := m.mode.Fire(ctx, eventBeginSelection, m.sub); err != nil {
		return m.reject(ctx, log, errors.Join(ErrInvalidState, err))
	}
	return nil
}

// EndPlanSelection leaves the plan comparison view.
func (m *Manager) EndPlanSelection(ctx context.Context) error {
	log := m.logger.With(logger.Command("end_plan_selection"))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return m.reject(ctx, log, ErrBusy)
	}
	if err := m.mode.Fire(ctx, eventEndSelection, nil); err != nil {
		return m.reject(ctx, log, errors.Join(ErrInvalidState, err))
	}
	return nil
}

// StartSubscription subscribes a user without an active subscription to the
// plan with priceID: setup intent, card collection, then creation.
func (m *Manager) StartSubscription(ctx context.Context, priceID string) error {
	log := m.logger.With(logger.Command("start_subscription"), logger.PriceID(priceID))

	plan, ok := m.catalog.ByPrice(priceID)
	if !ok {
		return m.reject(ctx, log, ErrPlanNotFound)
	}
	log = log.With(logger.PlanID(string(plan.ID)))

	release, err := m.acquire()
	if err != nil {
		return m.reject(ctx, log, err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if !m.isLoaded() {
		if err := m.refetch(ctx); err != nil {
			return m.fail(ctx, log, err)
		}
	}
	if st := m.State(); st != StateNoSubscription {
		return m.reject(ctx, log, fmt.Errorf("%w: %s", ErrInvalidState, st))
	}

	intent, err := m.billing.CreateSetupIntent(ctx, m.userID)
	if err != nil {
		return m.fail(ctx, log, transport(ErrSetup, err))
	}
	if intent == nil || intent.ClientSecret == "" {
		return m.fail(ctx, log, errors.Join(ErrSetup, errors.New("empty setup intent")))
	}

	pending := &PendingSelection{TargetPlanID: plan.ID, TargetPriceID: plan.PriceID}
	if err := m.enterAwaiting(ctx, pending); err != nil {
		return m.fail(ctx, log, err)
	}

	pmID, err := m.payments.CollectAndConfirmSetup(ctx, intent.ClientSecret)
	if err == nil && pmID == "" {
		err = ErrPaymentMethodRequired
	}
	if err != nil {
		m.leaveAwaiting(ctx, eventAbandon)
		return m.fail(ctx, log, errors.Join(ErrSubscriptionCreate, ErrPaymentCollection, err))
	}
	m.choosePaymentMethod(pmID)

	res, err := m.billing.CreateSubscription(ctx, m.userID, plan.PriceID, pmID)
	if err != nil {
		m.leaveAwaiting(ctx, eventAbandon)
		return m.fail(ctx, log, transport(ErrSubscriptionCreate, err))
	}
	if err := m.settle(ctx, res, func(s Success) bool { return s.Status == StatusActive }); err != nil {
		m.leaveAwaiting(ctx, eventAbandon)
		return m.fail(ctx, log, errors.Join(ErrSubscriptionCreate, err))
	}

	m.leaveAwaiting(ctx, eventComplete)
	if err := m.refetchAfter(ctx); err != nil {
		return m.fail(ctx, log, err)
	}

	log.InfoContext(ctx, "subscription started")
	m.notifier.Notify(ctx, Notice{Level: NoticeSuccess, Message: msgSubscribed})
	return nil
}

// ChangePlan starts a plan change to target. A change that the plan cards
// would show disabled is rejected with ErrPlanChangeDisabled before any
// billing call. Choosing the current plan of a canceling subscription
// reactivates it instead.
func (m *Manager) ChangePlan(ctx context.Context, target PlanID) (ChangeOutcome, error) {
	log := m.logger.With(logger.Command("change_plan"), logger.PlanID(string(target)))

	plan, ok := m.catalog.Plan(target)
	if !ok {
		return ChangeNone, m.reject(ctx, log, ErrPlanNotFound)
	}

	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return ChangeNone, m.reject(ctx, log, ErrBusy)
	}
	if m.pending != nil || !Classify(m.sub).IsActive() {
		m.mu.Unlock()
		return ChangeNone, m.reject(ctx, log, ErrInvalidState)
	}

	blocked, reactivate := changeRule(m.sub, target)
	if blocked {
		m.mu.Unlock()
		return ChangeNone, m.reject(ctx, log, ErrPlanChangeDisabled)
	}

	if !reactivate {
		pending := &PendingSelection{TargetPlanID: plan.ID, TargetPriceID: plan.PriceID}
		if err := m.mode.Fire(ctx, eventSelect, pending); err != nil {
			m.mu.Unlock()
			return ChangeNone, m.reject(ctx, log, errors.Join(ErrInvalidState, err))
		}
		m.pending = pending
		direction := m.catalog.Direction(m.sub.PlanType, target)
		m.mu.Unlock()

		log.InfoContext(ctx, "plan selected, awaiting payment method", slog.String("direction", direction.String()))
		return ChangeAwaitingPayment, nil
	}
	m.mu.Unlock()

	log.InfoContext(ctx, "plan change on canceling subscription, reactivating")
	if err := m.SetCancellation(ctx, false); err != nil {
		return ChangeNone, err
	}
	return ChangeReactivated, nil
}

// ConfirmPlanChange commits the pending selection with the chosen payment
// method. The selection is consumed and the subscription refetched whatever
// the outcome.
func (m *Manager) ConfirmPlanChange(ctx context.Context, choice PaymentChoice) error {
	log := m.logger.With(logger.Command("confirm_plan_change"), slog.String("payment", choice.String()))

	release, err := m.acquire()
	if err != nil {
		return m.reject(ctx, log, err)
	}
	defer release()

	pending := m.Pending()
	if pending == nil {
		return m.reject(ctx, log, ErrNoPendingSelection)
	}
	log = log.With(logger.PlanID(string(pending.TargetPlanID)), logger.PriceID(pending.TargetPriceID))

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	pmID, err := m.resolvePaymentMethod(ctx, choice)
	if err != nil {
		m.leaveAwaiting(ctx, eventAbandon)
		return m.fail(ctx, log, err)
	}
	m.choosePaymentMethod(pmID)

	var cmdErr error
	res, err := m.billing.UpdateSubscription(ctx, m.userID, pending.TargetPriceID, pmID)
	switch {
	case err != nil:
		cmdErr = transport(ErrSubscriptionUpdate, err)
	default:
		if err := m.settle(ctx, res, func(s Success) bool { return s.Acknowledged }); err != nil {
			cmdErr = errors.Join(ErrSubscriptionUpdate, err)
		}
	}

	if cmdErr != nil {
		m.leaveAwaiting(ctx, eventAbandon)
	} else {
		m.leaveAwaiting(ctx, eventComplete)
	}
	if err := m.refetchAfter(ctx); err != nil {
		cmdErr = errors.Join(cmdErr, err)
	}
	if cmdErr != nil {
		return m.fail(ctx, log, cmdErr)
	}

	log.InfoContext(ctx, "plan change committed", logger.State(m.State().String()))
	m.notifier.Notify(ctx, Notice{Level: NoticeSuccess, Message: msgUpdated})
	return nil
}

// CancelPendingSelection drops the pending selection and returns to the
// classified state.
func (m *Manager) CancelPendingSelection(ctx context.Context) error {
	log := m.logger.With(logger.Command("cancel_pending_selection"))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return m.reject(ctx, log, ErrBusy)
	}
	if m.pending == nil {
		return m.reject(ctx, log, ErrNoPendingSelection)
	}
	m.pending = nil
	if err := m.mode.Fire(ctx, eventAbandon, nil); err != nil {
		m.mode.Reset()
	}
	return nil
}

// SetCancellation cancels (true) or reactivates (false) the subscription at
// period end. A value already in effect is accepted without a billing call.
// On rejection the local state is left as it was.
func (m *Manager) SetCancellation(ctx context.Context, cancel bool) error {
	log := m.logger.With(logger.Command("set_cancellation"), slog.Bool("cancel", cancel))

	release, err := m.acquire()
	if err != nil {
		return m.reject(ctx, log, err)
	}
	defer release()

	m.mu.Lock()
	sub, pending := m.sub, m.pending
	m.mu.Unlock()
	if pending != nil || !sub.IsActive() {
		return m.reject(ctx, log, ErrInvalidState)
	}
	if sub.CancelAtPeriodEnd == cancel {
		log.DebugContext(ctx, "cancellation flag already in effect")
		return nil
	}

	ctx, stop := context.WithTimeout(ctx, m.timeout)
	defer stop()

	res, err := m.billing.SetCancellation(ctx, m.userID, cancel)
	if err != nil {
		return m.fail(ctx, log, transport(ErrCancellation, err))
	}
	if err := m.settle(ctx, res, func(s Success) bool { return s.Acknowledged }); err != nil {
		return m.fail(ctx, log, errors.Join(ErrCancellation, err))
	}

	m.mu.Lock()
	if err := m.mode.Fire(ctx, eventComplete, nil); err != nil {
		m.mode.Reset()
	}
	m.mu.Unlock()

	if err := m.refetchAfter(ctx); err != nil {
		return m.fail(ctx, log, err)
	}

	msg := msgReactivated
	if cancel {
		msg = msgCancelled
	}
	log.InfoContext(ctx, "cancellation flag updated")
	m.notifier.Notify(ctx, Notice{Level: NoticeSuccess, Message: msg})
	return nil
}

func (m *Manager) acquire() (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return nil, ErrBusy
	}
	m.busy = true
	return func() {
		m.mu.Lock()
		m.busy = false
		m.mu.Unlock()
	}, nil
}

func (m *Manager) isLoaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

// refetch reads the subscription from the collaborator and applies it.
func (m *Manager) refetch(ctx context.Context) error {
	sub, err := m.billing.GetSubscriptionStatus(ctx, m.userID)
	if err != nil {
		return transport(nil, err)
	}
	if verr := sub.Validate(); verr != nil {
		m.logger.WarnContext(ctx, "billing reported an inconsistent subscription", logger.Error(verr))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sub = sub.Clone()
	m.loaded = true
	m.methods = nil
	if !Classify(m.sub).IsActive() && m.mode.Current() == modeSelecting {
		m.mode.Reset()
	}
	return nil
}

// refetchAfter refetches once a mutation has been sent. It runs on its own
// deadline so a command that timed out still picks up what the
// collaborator committed.
func (m *Manager) refetchAfter(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()
	return m.refetch(ctx)
}

func (m *Manager) loadMethods(ctx context.Context) (*PaymentMethods, error) {
	m.mu.Lock()
	cached := m.methods
	m.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	methods, err := m.billing.ListPaymentMethods(ctx, m.userID)
	if err != nil {
		return nil, transport(nil, err)
	}
	if methods == nil {
		methods = &PaymentMethods{}
	}

	m.mu.Lock()
	m.methods = methods.Clone()
	m.mu.Unlock()
	return methods, nil
}

func (m *Manager) resolvePaymentMethod(ctx context.Context, choice PaymentChoice) (string, error) {
	switch choice.source {
	case sourceStored:
		if choice.id == "" {
			return "", ErrPaymentMethodRequired
		}
		return choice.id, nil

	case sourceNew:
		intent, err := m.billing.CreateSetupIntent(ctx, m.userID)
		if err != nil {
			return "", transport(ErrSetup, err)
		}
		if intent == nil || intent.ClientSecret == "" {
			return "", errors.Join(ErrSetup, errors.New("empty setup intent"))
		}
		pmID, err := m.payments.CollectAndConfirmSetup(ctx, intent.ClientSecret)
		if err != nil {
			return "", errors.Join(ErrPaymentCollection, err)
		}
		if pmID == "" {
			return "", ErrPaymentMethodRequired
		}
		return pmID, nil

	default:
		methods, err := m.loadMethods(ctx)
		if err != nil {
			return "", err
		}
		if methods.DefaultID == "" {
			return "", fmt.Errorf("%w: no default payment method on file", ErrPaymentMethodRequired)
		}
		return methods.DefaultID, nil
	}
}

// settle turns a mutating call's result into an error. accept decides which
// Success values count as done; an extra confirmation step is completed
// through the payment collector.
func (m *Manager) settle(ctx context.Context, res Result, accept func(Success) bool) error {
	switch r := res.(type) {
	case Success:
		if accept(r) {
			return nil
		}
		return fmt.Errorf("unexpected billing response: status=%q acknowledged=%t", r.Status, r.Acknowledged)
	case NeedsConfirmation:
		if r.ClientSecret == "" {
			return errors.New("confirmation requested without a client secret")
		}
		if err := m.payments.ConfirmPayment(ctx, r.ClientSecret); err != nil {
			return errors.Join(ErrPaymentCollection, err)
		}
		return nil
	case Failure:
		return r
	default:
		return errors.New("empty billing response")
	}
}

func (m *Manager) enterAwaiting(ctx context.Context, p *PendingSelection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mode.Fire(ctx, eventSelect, p); err != nil {
		return errors.Join(ErrInvalidState, err)
	}
	m.pending = p
	return nil
}

func (m *Manager) leaveAwaiting(ctx context.Context, event modeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
	if err := m.mode.Fire(ctx, event, nil); err != nil {
		m.mode.Reset()
	}
}

func (m *Manager) choosePaymentMethod(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil {
		m.pending.ChosenPaymentMethodID = id
	}
}

// reject reports a command refused by a precondition. No notice is sent.
func (m *Manager) reject(ctx context.Context, log *slog.Logger, err error) error {
	log.DebugContext(ctx, "subscription command rejected", logger.Error(err))
	return err
}

// fail reports a command that failed after being accepted.
func (m *Manager) fail(ctx context.Context, log *slog.Logger, err error) error {
	log.ErrorContext(ctx, "subscription command failed", logger.Error(err))
	m.notifier.Notify(ctx, Notice{Level: NoticeError, Message: errorMessage(err), Err: err})
	return err
}

// transport classifies a collaborator error as a network failure of kind.
func transport(kind, err error) error {
	if errors.Is(err, ErrNetwork) {
		return errors.Join(kind, err)
	}
	return errors.Join(kind, ErrNetwork, err)
}
