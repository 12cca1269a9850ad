package requestid

import "net/http"

// Transport forwards the context's request id on outgoing requests.
// Requests without one get a fresh id so server logs can still be matched.
type Transport struct {
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if r.Header.Get(Header) != "" {
		return base.RoundTrip(r)
	}

	id := FromContext(r.Context())
	if !Valid(id) {
		id = New()
	}
	r = r.Clone(r.Context())
	r.Header.Set(Header, id)
	return base.RoundTrip(r)
}
