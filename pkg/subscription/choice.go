package subscription

import "strings"

type paymentSource int

const (
	sourceDefault paymentSource = iota
	sourceStored
	sourceNew
)

// PaymentChoice says which payment method confirms a plan change.
type PaymentChoice struct {
	source paymentSource
	id     string
}

// UseDefaultMethod pays with the default method on file.
func UseDefaultMethod() PaymentChoice { return PaymentChoice{source: sourceDefault} }

// UseStoredMethod pays with a specific stored method.
func UseStoredMethod(id string) PaymentChoice { return PaymentChoice{source: sourceStored, id: id} }

// UseNewMethod collects a new card through a setup intent.
func UseNewMethod() PaymentChoice { return PaymentChoice{source: sourceNew} }

// ParsePaymentChoice maps "default", "new" or a payment method id to a choice.
// An empty string means the default method.
func ParsePaymentChoice(s string) PaymentChoice {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return UseDefaultMethod()
	case "new":
		return UseNewMethod()
	default:
		return UseStoredMethod(strings.TrimSpace(s))
	}
}

func (c PaymentChoice) String() string {
	switch c.source {
	case sourceStored:
		return "stored:" + c.id
	case sourceNew:
		return "new"
	default:
		return "default"
	}
}
