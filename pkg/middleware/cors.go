// Package middleware holds reactor.Handler wrappers, mirroring the
// teacher's net/http middleware of the same shape adapted to this
// module's handler signature.
package middleware

import (
	"net/http"

	"github.com/kestrel-run/kestrel/pkg/httpwire"
	"github.com/kestrel-run/kestrel/pkg/reactor"
)

// CORS wraps next with CORS response headers and OPTIONS preflight
// handling, allowing the origins in allowedOrigins. A nil or empty
// slice disables CORS entirely, passing every request straight to
// next. The single entry "*" allows every origin.
//
// Unlike the teacher's CorsMiddleware, origins come from the caller
// (kestrel's config.Config, populated from KESTREL_ALLOWED_ORIGINS)
// rather than being read from the environment inside the middleware.
func CORS(allowedOrigins []string, next reactor.Handler) reactor.Handler {
	if len(allowedOrigins) == 0 {
		return next
	}

	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"
	allowedSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowedSet[o] = struct{}{}
	}

	return func(req *httpwire.Request) *httpwire.ResponseBuilder {
		origin := req.Header.Get("Origin")
		allowed := origin != "" && (allowAll || originAllowed(origin, allowedSet))

		if req.Method == http.MethodOptions {
			if !allowed {
				// No origin, or an origin we don't allow: pass through
				// so the router still produces its normal 404/405.
				return next(req)
			}
			return httpwire.NewResponseBuilder().
				Status(http.StatusNoContent).
				Header("Access-Control-Allow-Origin", origin).
				Header("Access-Control-Allow-Credentials", "true").
				Header("Access-Control-Allow-Methods", "GET, POST, DELETE").
				Header("Access-Control-Allow-Headers", "*")
		}

		resp := next(req)
		if allowed {
			resp.Header("Access-Control-Allow-Origin", origin)
		}
		return resp
	}
}

func originAllowed(origin string, allowedSet map[string]struct{}) bool {
	_, ok := allowedSet[origin]
	return ok
}
