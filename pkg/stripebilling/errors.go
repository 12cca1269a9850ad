package stripebilling

import "errors"

var (
	ErrInvalidClientSecret    = errors.New("invalid client secret")
	ErrAuthenticationRequired = errors.New("payment requires customer authentication")
	ErrIntentNotSucceeded     = errors.New("intent confirmation did not succeed")
	ErrCustomerStore          = errors.New("customer store failure")
)
