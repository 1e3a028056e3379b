// Package auth establishes the calling actor. Authentication happens at the
// upstream gateway; this middleware only trusts the identity headers it
// forwards, so it must sit behind the admin token check.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	request "accessgate/pkg/platform/middleware/request"
	"accessgate/pkg/requestcontext"
)

const (
	HeaderActorID    = "X-Actor-ID"
	HeaderSuperAdmin = "X-Super-Admin"
)

const maxActorIDLen = 256

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireActor reads X-Actor-ID and X-Super-Admin into the request context.
// Requests without an actor are rejected.
func RequireActor(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actorID := strings.TrimSpace(r.Header.Get(HeaderActorID))
			if actorID == "" || len(actorID) > maxActorIDLen {
				logger.WarnContext(ctx, "unauthorized access - missing actor",
					"request_id", request.GetRequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid X-Actor-ID header")
				return
			}

			superAdmin := false
			if raw := r.Header.Get(HeaderSuperAdmin); raw != "" {
				parsed, err := strconv.ParseBool(raw)
				if err != nil {
					writeJSONError(w, http.StatusBadRequest, "bad_request", "X-Super-Admin must be a boolean")
					return
				}
				superAdmin = parsed
			}

			ctx = requestcontext.WithActor(ctx, actorID, superAdmin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
