package subscription

// Result is the outcome of a mutating billing call.
// It is one of Success, NeedsConfirmation or Failure.
type Result interface {
	isResult()
}

// Success means the collaborator accepted the request.
// Status is set by subscription creation, Acknowledged by updates and cancellation.
type Success struct {
	Status       Status
	Acknowledged bool
}

// NeedsConfirmation means the payment requires an extra authentication step
// (for example 3-D Secure) before the change counts as done.
type NeedsConfirmation struct {
	ClientSecret string
}

// Failure means the collaborator rejected the request.
type Failure struct {
	Reason string
}

func (Success) isResult()           {}
func (NeedsConfirmation) isResult() {}
func (Failure) isResult()           {}

// Error lets a Failure travel as an error.
func (f Failure) Error() string {
	if f.Reason == "" {
		return "billing request rejected"
	}
	return "billing request rejected: " + f.Reason
}
