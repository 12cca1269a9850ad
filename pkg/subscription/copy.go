package subscription

import (
	"strings"
	"time"
)

// DateLayout is how period dates appear in display copy.
const DateLayout = "January 2, 2006"

// DisplayCopy is the user-facing text for a state. Status may contain the
// placeholders {plan}, {date} and {scheduled}.
type DisplayCopy struct {
	Badge    string `json:"badge,omitempty"`
	Headline string `json:"headline"`
	Status   string `json:"status,omitempty"`
	Notice   string `json:"notice,omitempty"`
}

const downgradeNotice = "If you downgrade your plan, your current subscription will be cancelled after the current billing cycle and a new downgraded subscription will be created after current billing cycle ends. Upgrades will be immediate."

var copyTable = map[State]DisplayCopy{
	StateNoSubscription: {
		Headline: "Choose Your Plan",
	},
	StateActiveCanceling: {
		Badge:    "Active Subscription",
		Headline: "You're subscribed to {plan}",
		Status:   "Your subscription will be cancelled on {date}.",
	},
	StateActiveDowngradeScheduled: {
		Badge:    "Active Subscription",
		Headline: "You're subscribed to {plan}",
		Status:   "Your current subscription is still active and your new {scheduled} starts on {date}.",
	},
	StateActiveSteady: {
		Badge:    "Active Subscription",
		Headline: "You're subscribed to {plan}",
		Status:   "Your subscription is active and will renew automatically on {date}.",
		Notice:   downgradeNotice,
	},
	StateSelectingPlan: {
		Headline: "Choose Your Plan",
		Notice:   downgradeNotice,
	},
	StateAwaitingPayment: {
		Headline: "Please select your payment method",
		Status:   "{plan}",
	},
}

// CopyFor returns the unrendered copy for a state.
func CopyFor(s State) DisplayCopy {
	return copyTable[s]
}

// Render fills the placeholders of c.
func (c DisplayCopy) Render(plan, scheduled string, date time.Time) DisplayCopy {
	var formatted string
	if !date.IsZero() {
		formatted = date.Format(DateLayout)
	}
	r := strings.NewReplacer("{plan}", plan, "{scheduled}", scheduled, "{date}", formatted)
	return DisplayCopy{
		Badge:    r.Replace(c.Badge),
		Headline: r.Replace(c.Headline),
		Status:   r.Replace(c.Status),
		Notice:   r.Replace(c.Notice),
	}
}

// Action is what pressing a plan card's button does.
type Action string

const (
	ActionNone       Action = "none"
	ActionSubscribe  Action = "subscribe"
	ActionSelect     Action = "select"
	ActionReactivate Action = "reactivate"
)

// PlanOption is one plan card on the billing screen.
type PlanOption struct {
	Plan       Plan   `json:"plan"`
	PriceLabel string `json:"priceLabel"`
	Label      string `json:"label"`
	Action     Action `json:"action"`
	Disabled   bool   `json:"disabled"`
}

// PlanOptions builds the plan cards for sub. Without an active subscription
// every plan can be subscribed to; otherwise the cards follow the same rules
// ChangePlan enforces.
func PlanOptions(sub *Subscription, catalog *Catalog) []PlanOption {
	plans := catalog.Plans()
	opts := make([]PlanOption, 0, len(plans))

	for _, p := range plans {
		opt := PlanOption{Plan: p, PriceLabel: p.PriceLabel()}

		if !sub.IsActive() {
			opt.Label = "Get " + p.ShortName() + " Plan"
			opt.Action = ActionSubscribe
			opts = append(opts, opt)
			continue
		}

		blocked, reactivate := changeRule(sub, p.ID)
		opt.Disabled = blocked
		switch {
		case reactivate:
			opt.Label = "Reactivate Plan"
			opt.Action = ActionReactivate
		case sub.PlanType == p.ID:
			opt.Label = "current plan"
			opt.Action = ActionNone
		case scheduledTarget(sub) == p.ID:
			opt.Label = "scheduled"
			opt.Action = ActionNone
		default:
			opt.Label = "Get " + strings.ToLower(p.ShortName()) + " plan"
			opt.Action = ActionSelect
		}
		opts = append(opts, opt)
	}

	return opts
}

// View is a snapshot of everything the billing screen renders.
type View struct {
	State        State             `json:"state"`
	Subscription *Subscription     `json:"subscription"`
	Plan         *Plan             `json:"plan,omitempty"`
	Copy         DisplayCopy       `json:"copy"`
	Options      []PlanOption      `json:"options"`
	Pending      *PendingSelection `json:"pending,omitempty"`
	Busy         bool              `json:"busy"`
}

// NewView renders the screen for a state and subscription.
func NewView(state State, sub *Subscription, pending *PendingSelection, catalog *Catalog) View {
	v := View{
		State:        state,
		Subscription: sub.Clone(),
		Options:      PlanOptions(sub, catalog),
	}

	var planName, scheduled string
	var date time.Time
	if sub.IsActive() {
		if p, ok := catalog.Plan(sub.PlanType); ok {
			v.Plan = &p
		}
		planName = catalog.Name(sub.PlanType)
		if t := scheduledTarget(sub); t != "" {
			scheduled = catalog.Name(t)
		}
		date = sub.CurrentPeriodEnd
	}
	if pending != nil {
		pc := *pending
		v.Pending = &pc
		planName = catalog.Name(pending.TargetPlanID)
	}

	v.Copy = CopyFor(state).Render(planName, scheduled, date)
	return v
}
