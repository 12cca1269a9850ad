package stripebilling

import (
	"context"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// API is the subset of Stripe used by the collaborator.
type API interface {
	// FindCustomer runs a customer search and returns the first hit, or nil.
	FindCustomer(ctx context.Context, query string) (*stripe.Customer, error)
	GetCustomer(ctx context.Context, id string) (*stripe.Customer, error)
	CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error)
	UpdateCustomer(ctx context.Context, id string, params *stripe.CustomerParams) (*stripe.Customer, error)

	CreateSetupIntent(ctx context.Context, params *stripe.SetupIntentParams) (*stripe.SetupIntent, error)
	ConfirmSetupIntent(ctx context.Context, id string, params *stripe.SetupIntentConfirmParams) (*stripe.SetupIntent, error)
	ConfirmPaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)

	ListSubscriptions(ctx context.Context, params *stripe.SubscriptionListParams) ([]*stripe.Subscription, error)
	CreateSubscription(ctx context.Context, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)

	CreateSchedule(ctx context.Context, params *stripe.SubscriptionScheduleParams) (*stripe.SubscriptionSchedule, error)
	UpdateSchedule(ctx context.Context, id string, params *stripe.SubscriptionScheduleParams) (*stripe.SubscriptionSchedule, error)
	ReleaseSchedule(ctx context.Context, id string, params *stripe.SubscriptionScheduleReleaseParams) (*stripe.SubscriptionSchedule, error)

	ListPaymentMethods(ctx context.Context, params *stripe.PaymentMethodListParams) ([]*stripe.PaymentMethod, error)
}

// NewAPI returns an API backed by the Stripe client for secretKey.
func NewAPI(secretKey string) API {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &clientAPI{sc: sc}
}

type clientAPI struct {
	sc *client.API
}

func (a *clientAPI) FindCustomer(ctx context.Context, query string) (*stripe.Customer, error) {
	params := &stripe.CustomerSearchParams{SearchParams: stripe.SearchParams{Query: query}}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	it := a.sc.Customers.Search(params)
	if it.Next() {
		return it.Customer(), nil
	}
	return nil, it.Err()
}

func (a *clientAPI) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	return a.sc.Customers.Get(id, params)
}

func (a *clientAPI) CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	params.Context = ctx
	return a.sc.Customers.New(params)
}

func (a *clientAPI) UpdateCustomer(ctx context.Context, id string, params *stripe.CustomerParams) (*stripe.Customer, error) {
	params.Context = ctx
	return a.sc.Customers.Update(id, params)
}

func (a *clientAPI) CreateSetupIntent(ctx context.Context, params *stripe.SetupIntentParams) (*stripe.SetupIntent, error) {
	params.Context = ctx
	return a.sc.SetupIntents.New(params)
}

func (a *clientAPI) ConfirmSetupIntent(ctx context.Context, id string, params *stripe.SetupIntentConfirmParams) (*stripe.SetupIntent, error) {
	params.Context = ctx
	return a.sc.SetupIntents.Confirm(id, params)
}

func (a *clientAPI) ConfirmPaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error) {
	params.Context = ctx
	return a.sc.PaymentIntents.Confirm(id, params)
}

func (a *clientAPI) ListSubscriptions(ctx context.Context, params *stripe.SubscriptionListParams) ([]*stripe.Subscription, error) {
	params.Context = ctx
	it := a.sc.Subscriptions.List(params)
	var out []*stripe.Subscription
	for it.Next() {
		out = append(out, it.Subscription())
	}
	return out, it.Err()
}

func (a *clientAPI) CreateSubscription(ctx context.Context, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	params.Context = ctx
	return a.sc.Subscriptions.New(params)
}

func (a *clientAPI) UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	params.Context = ctx
	return a.sc.Subscriptions.Update(id, params)
}

func (a *clientAPI) CreateSchedule(ctx context.Context, params *stripe.SubscriptionScheduleParams) (*stripe.SubscriptionSchedule, error) {
	params.Context = ctx
	return a.sc.SubscriptionSchedules.New(params)
}

func (a *clientAPI) UpdateSchedule(ctx context.Context, id string, params *stripe.SubscriptionScheduleParams) (*stripe.SubscriptionSchedule, error) {
	params.Context = ctx
	return a.sc.SubscriptionSchedules.Update(id, params)
}

func (a *clientAPI) ReleaseSchedule(ctx context.Context, id string, params *stripe.SubscriptionScheduleReleaseParams) (*stripe.SubscriptionSchedule, error) {
	params.Context = ctx
	return a.sc.SubscriptionSchedules.Release(id, params)
}

func (a *clientAPI) ListPaymentMethods(ctx context.Context, params *stripe.PaymentMethodListParams) ([]*stripe.PaymentMethod, error) {
	params.Context = ctx
	it := a.sc.PaymentMethods.List(params)
	var out []*stripe.PaymentMethod
	for it.Next() {
		out = append(out, it.PaymentMethod())
	}
	return out, it.Err()
}
