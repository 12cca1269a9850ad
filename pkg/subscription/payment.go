package subscription

import (
	"fmt"
	"slices"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// maxOtherMethods caps the stored non-default methods offered for a plan change.
const maxOtherMethods = 2

// PaymentMethod is a stored card. The manager references it, never mutates it.
type PaymentMethod struct {
	ID       string `json:"id"`
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"expMonth"`
	ExpYear  int    `json:"expYear"`
}

// Label renders the method the way payment pickers show it, e.g. "VISA ending in 4242".
func (m PaymentMethod) Label() string {
	return fmt.Sprintf("%s ending in %s", cases.Upper(language.English).String(m.Brand), m.Last4)
}

// Expiry renders "MM/YYYY".
func (m PaymentMethod) Expiry() string {
	return fmt.Sprintf("%02d/%d", m.ExpMonth, m.ExpYear)
}

// PaymentMethods is the caller's set of stored methods.
type PaymentMethods struct {
	Methods   []PaymentMethod `json:"paymentMethods"`
	DefaultID string          `json:"defaultPaymentMethodId,omitempty"`
}

// Default returns the default method, if one is set and present.
func (p *PaymentMethods) Default() (PaymentMethod, bool) {
	if p == nil || p.DefaultID == "" {
		return PaymentMethod{}, false
	}
	return p.Find(p.DefaultID)
}

// Find looks a method up by id.
func (p *PaymentMethods) Find(id string) (PaymentMethod, bool) {
	if p == nil {
		return PaymentMethod{}, false
	}
	i := slices.IndexFunc(p.Methods, func(m PaymentMethod) bool { return m.ID == id })
	if i < 0 {
		return PaymentMethod{}, false
	}
	return p.Methods[i], true
}

// Others returns up to two stored methods other than the default.
func (p *PaymentMethods) Others() []PaymentMethod {
	if p == nil {
		return nil
	}
	others := make([]PaymentMethod, 0, maxOtherMethods)
	for _, m := range p.Methods {
		if m.ID == p.DefaultID {
			continue
		}
		others = append(others, m)
		if len(others) == maxOtherMethods {
			break
		}
	}
	return others
}

// Clone returns a deep copy.
func (p *PaymentMethods) Clone() *PaymentMethods {
	if p == nil {
		return nil
	}
	return &PaymentMethods{Methods: slices.Clone(p.Methods), DefaultID: p.DefaultID}
}

// SetupIntent is a scoped token for collecting a new payment method
// without charging it.
type SetupIntent struct {
	ClientSecret string `json:"clientSecret"`
}
