package subscription

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Plan is one tier of the key subscription catalog.
// PriceID must match the billing provider's price identifier.
type Plan struct {
	ID           PlanID          `yaml:"id" json:"id"`
	PriceID      string          `yaml:"price_id" json:"priceId"`
	Name         string          `yaml:"name" json:"name"`
	Label        string          `yaml:"label" json:"label"` // short tier word, e.g. "Basic"
	Price        Money           `yaml:"price" json:"price"`
	KeyAllowance int             `yaml:"keys" json:"keyAllowance"`
	Interval     BillingInterval `yaml:"interval" json:"interval"`
	Rank         int             `yaml:"rank" json:"rank"`
}

// ShortName returns the tier word used on buttons.
func (p Plan) ShortName() string {
	if p.Label != "" {
		return p.Label
	}
	name, _, _ := strings.Cut(p.Name, " ")
	return name
}

// PriceLabel renders the price as shown on plan cards, e.g. "$150/year".
func (p Plan) PriceLabel() string {
	symbol := p.Price.Currency + " "
	if p.Price.Currency == "" || strings.EqualFold(p.Price.Currency, "USD") {
		symbol = "$"
	}

	pr := message.NewPrinter(language.English)
	var amount string
	if p.Price.Amount%100 == 0 {
		amount = pr.Sprintf("%v", number.Decimal(p.Price.Amount / 100))
	} else {
		amount = pr.Sprintf("%v", number.Decimal(float64(p.Price.Amount)/100, number.MinFractionDigits(2), number.MaxFractionDigits(2)))
	}

	return fmt.Sprintf("%s%s/%s", symbol, amount, p.Interval)
}

func (p Plan) validate() error {
	var errs []error
	if p.ID == "" {
		errs = append(errs, errors.New("plan id is empty"))
	}
	if p.PriceID == "" {
		errs = append(errs, fmt.Errorf("plan %q: price id is empty", p.ID))
	}
	if p.Rank <= 0 {
		errs = append(errs, fmt.Errorf("plan %q: rank must be positive", p.ID))
	}
	if p.Interval != IntervalMonth && p.Interval != IntervalYear {
		errs = append(errs, fmt.Errorf("plan %q: unsupported interval %q", p.ID, p.Interval))
	}
	return errors.Join(errs...)
}

// Catalog is the fixed, ordered set of plans offered to users.
type Catalog struct {
	plans   []Plan
	byID    map[PlanID]int
	byPrice map[string]int
}

// NewCatalog validates plans and returns them ordered by rank.
func NewCatalog(plans ...Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, errors.Join(ErrInvalidCatalog, errors.New("no plans"))
	}

	sorted := slices.Clone(plans)
	slices.SortStableFunc(sorted, func(a, b Plan) int { return a.Rank - b.Rank })

	c := &Catalog{
		plans:   sorted,
		byID:    make(map[PlanID]int, len(sorted)),
		byPrice: make(map[string]int, len(sorted)),
	}

	var errs []error
	ranks := make(map[int]PlanID, len(sorted))
	for i, p := range sorted {
		if err := p.validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, ok := c.byID[p.ID]; ok {
			errs = append(errs, fmt.Errorf("duplicate plan id %q", p.ID))
		}
		if _, ok := c.byPrice[p.PriceID]; ok {
			errs = append(errs, fmt.Errorf("duplicate price id %q", p.PriceID))
		}
		if other, ok := ranks[p.Rank]; ok {
			errs = append(errs, fmt.Errorf("plans %q and %q share rank %d", other, p.ID, p.Rank))
		}
		c.byID[p.ID] = i
		c.byPrice[p.PriceID] = i
		ranks[p.Rank] = p.ID
	}
	if len(errs) > 0 {
		return nil, errors.Join(ErrInvalidCatalog, errors.Join(errs...))
	}

	return c, nil
}

// MustCatalog is like NewCatalog but panics on invalid input.
func MustCatalog(plans ...Plan) *Catalog {
	c, err := NewCatalog(plans...)
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultPlans returns the built-in tiers. Price IDs are placeholders
// meant to be replaced from a catalog file per deployment.
func DefaultPlans() []Plan {
	return []Plan{
		{
			ID:           PlanBasic,
			PriceID:      "price_basic",
			Name:         "Basic Plan",
			Label:        "Basic",
			Price:        Money{Amount: 1000, Currency: "USD"},
			KeyAllowance: 100,
			Interval:     IntervalMonth,
			Rank:         1,
		},
		{
			ID:           PlanPremium,
			PriceID:      "price_premium",
			Name:         "Premium Tier",
			Label:        "Premium",
			Price:        Money{Amount: 1500, Currency: "USD"},
			KeyAllowance: 200,
			Interval:     IntervalMonth,
			Rank:         2,
		},
		{
			ID:           PlanPro,
			PriceID:      "price_pro",
			Name:         "Pro Plan",
			Label:        "Pro",
			Price:        Money{Amount: 15000, Currency: "USD"},
			KeyAllowance: 200,
			Interval:     IntervalYear,
			Rank:         3,
		},
	}
}

// DefaultCatalog returns a catalog of DefaultPlans.
func DefaultCatalog() *Catalog {
	return MustCatalog(DefaultPlans()...)
}

// Plans returns the plans ordered by rank.
func (c *Catalog) Plans() []Plan {
	return slices.Clone(c.plans)
}

// Plan looks a plan up by id.
func (c *Catalog) Plan(id PlanID) (Plan, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Plan{}, false
	}
	return c.plans[i], true
}

// ByPrice looks a plan up by the provider's price id.
func (c *Catalog) ByPrice(priceID string) (Plan, bool) {
	i, ok := c.byPrice[priceID]
	if !ok {
		return Plan{}, false
	}
	return c.plans[i], true
}

// Direction compares target against current by rank.
// Unknown plans compare as DirectionSame.
func (c *Catalog) Direction(current, target PlanID) Direction {
	from, ok1 := c.Plan(current)
	to, ok2 := c.Plan(target)
	if !ok1 || !ok2 {
		return DirectionSame
	}
	switch {
	case to.Rank > from.Rank:
		return DirectionUpgrade
	case to.Rank < from.Rank:
		return DirectionDowngrade
	default:
		return DirectionSame
	}
}

// Name returns the display name for id, falling back to the raw id.
func (c *Catalog) Name(id PlanID) string {
	if p, ok := c.Plan(id); ok {
		return p.Name
	}
	return string(id)
}
