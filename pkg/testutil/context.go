package testutil

import (
	"net/http"
	"testing"

	authmw "accessgate/pkg/platform/middleware/auth"
	"accessgate/pkg/requestcontext"
)

// HeaderAdminToken is the shared-secret header checked on /admin routes.
const HeaderAdminToken = "X-Admin-Token"

// WithActor puts a caller identity on the request context.
// This simulates what the actor middleware would do.
func WithActor(req *http.Request, actorID string, superAdmin bool) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actorID, superAdmin))
}

// NewAdminRequest builds a JSON request carrying the admin token and actor
// headers the /admin middleware chain expects. An empty actorID omits the
// actor header.
func NewAdminRequest(t *testing.T, method, path, token, actorID string, body any) *http.Request {
	t.Helper()
	req := NewJSONRequest(t, method, path, body)
	req.Header.Set(HeaderAdminToken, token)
	if actorID != "" {
		req.Header.Set(authmw.HeaderActorID, actorID)
	}
	return req
}
