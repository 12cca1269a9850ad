package billingapi

import (
	"net/http"
	"strings"
)

// UserHeader carries the caller's user id.
const UserHeader = "X-User-ID"

// UserResolver extracts the authenticated user id from a request.
type UserResolver func(r *http.Request) (string, error)

// HeaderUserResolver trusts the given request header, UserHeader when empty.
// Put it behind an authenticating proxy.
func HeaderUserResolver(header string) UserResolver {
	if header == "" {
		header = UserHeader
	}
	return func(r *http.Request) (string, error) {
		id := strings.TrimSpace(r.Header.Get(header))
		if id == "" {
			return "", ErrMissingUser
		}
		return id, nil
	}
}
