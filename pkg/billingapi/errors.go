package billingapi

import "errors"

var (
	ErrMissingUser      = errors.New("missing user identity")
	ErrInvalidRequest   = errors.New("invalid request body")
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrInvalidResponse  = errors.New("invalid response body")
)
