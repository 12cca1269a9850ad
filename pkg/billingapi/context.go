package billingapi

import (
	"context"
	"net/http"
)

type userKey struct{}

func contextWithUser(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userKey{}, id)
}

// UserFromContext returns the user id resolved for the current request.
func UserFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey{}).(string)
	return id, ok && id != ""
}

func userFrom(r *http.Request) string {
	id, _ := UserFromContext(r.Context())
	return id
}
