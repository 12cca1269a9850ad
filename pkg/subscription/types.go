package subscription

import "time"

// PlanID identifies a plan tier in the catalog.
type PlanID string

const (
	PlanBasic   PlanID = "basic_plan"
	PlanPremium PlanID = "premium_tier"
	PlanPro     PlanID = "pro_plan"
)

// Status is the billing status reported by the collaborator.
// Only active versus not active changes behavior.
type Status string

const (
	StatusNone     Status = "none"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// Money represents a monetary amount in the smallest currency unit.
// For example, $10.99 USD would be Amount: 1099, Currency: "USD".
type Money struct {
	Amount   int64  `yaml:"amount" json:"amount"`     // cents for USD
	Currency string `yaml:"currency" json:"currency"` // ISO 4217 currency code
}

// BillingInterval is the renewal period of a plan.
type BillingInterval string

const (
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// Next returns the end of a period of this interval starting at t.
func (i BillingInterval) Next(t time.Time) time.Time {
	if i == IntervalYear {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

// Direction describes how a target plan relates to the current one.
type Direction int

const (
	DirectionSame Direction = iota
	DirectionUpgrade
	DirectionDowngrade
)

func (d Direction) String() string {
	switch d {
	case DirectionUpgrade:
		return "upgrade"
	case DirectionDowngrade:
		return "downgrade"
	default:
		return "same"
	}
}
