package stripebilling_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
)

var fixedNow = time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC)

// fakeAPI is an in-memory Stripe keeping just enough state for the collaborator.
type fakeAPI struct {
	mu sync.Mutex

	seq       int
	customers map[string]*stripe.Customer
	subs      []*stripe.Subscription
	methods   map[string][]*stripe.PaymentMethod
	schedules map[string]*stripe.SubscriptionScheduleParams
	released  []string
	keys      []string
	calls     map[string]int

	createStatus stripe.SubscriptionStatus
	createErr    error
	setupStatus  stripe.SetupIntentStatus
	paymentState stripe.PaymentIntentStatus

	lastCreate *stripe.SubscriptionParams
	lastUpdate *stripe.SubscriptionParams
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		customers:    make(map[string]*stripe.Customer),
		methods:      make(map[string][]*stripe.PaymentMethod),
		schedules:    make(map[string]*stripe.SubscriptionScheduleParams),
		calls:        make(map[string]int),
		createStatus: stripe.SubscriptionStatusActive,
		setupStatus:  stripe.SetupIntentStatusSucceeded,
		paymentState: stripe.PaymentIntentStatusSucceeded,
	}
}

func (f *fakeAPI) next(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *fakeAPI) record(method string, key *string) {
	f.calls[method]++
	if key != nil {
		f.keys = append(f.keys, *key)
	}
}

func (f *fakeAPI) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeAPI) addCustomer(userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next("cus")
	f.customers[id] = &stripe.Customer{ID: id, Metadata: map[string]string{"user_id": userID}}
	return id
}

func (f *fakeAPI) addCard(customerID, id, brand, last4 string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.methods[customerID] = append(f.methods[customerID], &stripe.PaymentMethod{
		ID:   id,
		Card: &stripe.PaymentMethodCard{Brand: stripe.PaymentMethodCardBrand(brand), Last4: last4, ExpMonth: 4, ExpYear: 2030},
	})
}

func (f *fakeAPI) addSubscription(customerID, priceID string) *stripe.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := f.newSubscription(customerID, priceID, stripe.SubscriptionStatusActive)
	return sub
}

func (f *fakeAPI) newSubscription(customerID, priceID string, status stripe.SubscriptionStatus) *stripe.Subscription {
	sub := &stripe.Subscription{
		ID:       f.next("sub"),
		Status:   status,
		Customer: &stripe.Customer{ID: customerID},
		Metadata: map[string]string{},
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
			ID:                 f.next("si"),
			Price:              &stripe.Price{ID: priceID},
			CurrentPeriodStart: fixedNow.Unix(),
			CurrentPeriodEnd:   fixedNow.AddDate(0, 1, 0).Unix(),
		}}},
	}
	f.subs = append(f.subs, sub)
	return sub
}

func (f *fakeAPI) subscription(id string) *stripe.Subscription {
	for _, s := range f.subs {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (f *fakeAPI) FindCustomer(_ context.Context, query string) (*stripe.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["FindCustomer"]++
	for _, c := range f.customers {
		if strings.Contains(query, "'"+c.Metadata["user_id"]+"'") {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeAPI) GetCustomer(_ context.Context, id string) (*stripe.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetCustomer"]++
	c, ok := f.customers[id]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: 404, Msg: "No such customer"}
	}
	return c, nil
}

func (f *fakeAPI) CreateCustomer(_ context.Context, p *stripe.CustomerParams) (*stripe.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateCustomer", p.IdempotencyKey)
	id := f.next("cus")
	f.customers[id] = &stripe.Customer{ID: id, Metadata: p.Metadata}
	return f.customers[id], nil
}

func (f *fakeAPI) UpdateCustomer(_ context.Context, id string, p *stripe.CustomerParams) (*stripe.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateCustomer", p.IdempotencyKey)
	c := f.customers[id]
	if p.InvoiceSettings != nil && p.InvoiceSettings.DefaultPaymentMethod != nil {
		c.InvoiceSettings = &stripe.CustomerInvoiceSettings{
			DefaultPaymentMethod: &stripe.PaymentMethod{ID: *p.InvoiceSettings.DefaultPaymentMethod},
		}
	}
	return c, nil
}

func (f *fakeAPI) CreateSetupIntent(_ context.Context, p *stripe.SetupIntentParams) (*stripe.SetupIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateSetupIntent", p.IdempotencyKey)
	id := f.next("seti")
	return &stripe.SetupIntent{ID: id, ClientSecret: id + "_secret_abc", Customer: &stripe.Customer{ID: *p.Customer}}, nil
}

func (f *fakeAPI) ConfirmSetupIntent(_ context.Context, id string, p *stripe.SetupIntentConfirmParams) (*stripe.SetupIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ConfirmSetupIntent"]++
	return &stripe.SetupIntent{
		ID:            id,
		Status:        f.setupStatus,
		PaymentMethod: &stripe.PaymentMethod{ID: "pm_from_" + *p.PaymentMethod},
	}, nil
}

func (f *fakeAPI) ConfirmPaymentIntent(_ context.Context, id string, _ *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ConfirmPaymentIntent"]++
	for _, s := range f.subs {
		if s.Status == stripe.SubscriptionStatusIncomplete && f.paymentState == stripe.PaymentIntentStatusSucceeded {
			s.Status = stripe.SubscriptionStatusActive
		}
	}
	return &stripe.PaymentIntent{ID: id, Status: f.paymentState}, nil
}

func (f *fakeAPI) ListSubscriptions(_ context.Context, p *stripe.SubscriptionListParams) ([]*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListSubscriptions"]++
	var out []*stripe.Subscription
	for _, s := range f.subs {
		if s.Customer.ID == *p.Customer {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeAPI) CreateSubscription(_ context.Context, p *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateSubscription", p.IdempotencyKey)
	f.lastCreate = p
	if f.createErr != nil {
		return nil, f.createErr
	}
	sub := f.newSubscription(*p.Customer, *p.Items[0].Price, f.createStatus)
	for k, v := range p.Metadata {
		sub.Metadata[k] = v
	}
	if f.createStatus == stripe.SubscriptionStatusIncomplete {
		sub.LatestInvoice = &stripe.Invoice{
			Status:             stripe.InvoiceStatusOpen,
			ConfirmationSecret: &stripe.InvoiceConfirmationSecret{ClientSecret: "pi_9_secret_xyz"},
		}
	}
	return sub, nil
}

func (f *fakeAPI) UpdateSubscription(_ context.Context, id string, p *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateSubscription", p.IdempotencyKey)
	f.lastUpdate = p
	sub := f.subscription(id)
	if sub == nil {
		return nil, &stripe.Error{HTTPStatusCode: 404, Msg: "No such subscription"}
	}
	for _, it := range p.Items {
		if it.ID != nil && it.Price != nil && *it.ID == sub.Items.Data[0].ID {
			sub.Items.Data[0].Price = &stripe.Price{ID: *it.Price}
		}
	}
	if p.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *p.CancelAtPeriodEnd
	}
	for k, v := range p.Metadata {
		if v == "" {
			delete(sub.Metadata, k)
			continue
		}
		sub.Metadata[k] = v
	}
	return sub, nil
}

func (f *fakeAPI) CreateSchedule(_ context.Context, p *stripe.SubscriptionScheduleParams) (*stripe.SubscriptionSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateSchedule", p.IdempotencyKey)
	sched := &stripe.SubscriptionSchedule{ID: f.next("sub_sched")}
	f.subscription(*p.FromSubscription).Schedule = sched
	return sched, nil
}

func (f *fakeAPI) UpdateSchedule(_ context.Context, id string, p *stripe.SubscriptionScheduleParams) (*stripe.SubscriptionSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateSchedule", p.IdempotencyKey)
	f.schedules[id] = p
	return &stripe.SubscriptionSchedule{ID: id}, nil
}

func (f *fakeAPI) ReleaseSchedule(_ context.Context, id string, p *stripe.SubscriptionScheduleReleaseParams) (*stripe.SubscriptionSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ReleaseSchedule", p.IdempotencyKey)
	f.released = append(f.released, id)
	for _, s := range f.subs {
		if s.Schedule != nil && s.Schedule.ID == id {
			s.Schedule = nil
		}
	}
	return &stripe.SubscriptionSchedule{ID: id}, nil
}

func (f *fakeAPI) ListPaymentMethods(_ context.Context, p *stripe.PaymentMethodListParams) ([]*stripe.PaymentMethod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListPaymentMethods"]++
	return f.methods[*p.Customer], nil
}
