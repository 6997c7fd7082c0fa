package dynauth

import (
	"context"
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/oarkflow/dynauth/logger"
)

type contextKey int

const userContextKey contextKey = iota

// ContextWithUser attaches the authenticated user the identity collaborator
// resolved. The engine only ever reads it.
func ContextWithUser(ctx context.Context, user *AuthenticatedUser) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the authenticated user, or nil when none is set.
func UserFromContext(ctx context.Context) *AuthenticatedUser {
	user, _ := ctx.Value(userContextKey).(*AuthenticatedUser)
	return user
}

// MiddlewareOptions configures the net/http authorization middleware.
// Extractor functions are supplied by the application; every field except
// Service has a usable default.
type MiddlewareOptions struct {
	Service *Service
	// Limiter admits or rejects per source before anything else runs.
	Limiter RateLimiter
	// Source yields the rate-limiting key; defaults to the client IP.
	Source func(r *http.Request) string
	// User pulls the authenticated user; defaults to UserFromContext.
	User func(r *http.Request) *AuthenticatedUser
	// Params yields the path-parameter values for route normalization; nil
	// means the route is already a pattern.
	Params func(r *http.Request) map[string]string
	// Logger receives the denial detail that is withheld from callers.
	Logger logger.Logger
	// TraceID correlates log lines per request; defaults to uuid.
	TraceID logger.TraceIDFunc
}

func (o *MiddlewareOptions) defaults() {
	if o.Limiter == nil {
		o.Limiter = NewTokenBucketLimiter(DefaultRateCapacity, DefaultRateWindow)
	}
	if o.Source == nil {
		o.Source = clientIP
	}
	if o.User == nil {
		o.User = func(r *http.Request) *AuthenticatedUser {
			return UserFromContext(r.Context())
		}
	}
	if o.Logger == nil {
		o.Logger = logger.NewNullLogger()
	}
	if o.TraceID == nil {
		o.TraceID = uuid.NewString
	}
}

// Middleware wraps a handler with the full authorization path: rate limit,
// ignored-route check, user resolution, and the authorization decision.
// Exactly three outcomes are externally observable: pass-through, a generic
// forbidden rejection, and a distinct too-many-requests rejection. Internal
// reasons go to the logger only. The supplied options are copied; the
// caller's value is never modified.
func Middleware(opts *MiddlewareOptions) func(next http.Handler) http.Handler {
	var o MiddlewareOptions
	if opts != nil {
		o = *opts
	}
	o.defaults()
	opts = &o
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			trace := opts.TraceID()
			source := opts.Source(r)
			if !opts.Limiter.Allow(source) {
				opts.Logger.Info("rate limit exhausted",
					"trace_id", trace, "source", source, "method", r.Method, "path", r.URL.Path)
				http.Error(w, ErrTooManyRequests.Error(), http.StatusTooManyRequests)
				return
			}
			if opts.Service == nil {
				opts.Logger.Error("middleware misconfigured: no service attached", "trace_id", trace)
				rejectForbidden(w)
				return
			}
			var params map[string]string
			if opts.Params != nil {
				params = opts.Params(r)
			}
			if opts.Service.IsIgnoredRoute(r.URL.Path, r.Method, params) {
				next.ServeHTTP(w, r)
				return
			}
			user := opts.User(r)
			if !user.Valid() {
				// Fail closed, indistinguishable from a denial.
				opts.Logger.Info("authenticated user missing or malformed",
					"trace_id", trace, "source", source, "method", r.Method, "path", r.URL.Path)
				rejectForbidden(w)
				return
			}
			if err := opts.Service.IsAuthorizedOnRoute(r.Context(), user, r.URL.Path, r.Method, params); err != nil {
				opts.Logger.Info("request rejected",
					"trace_id", trace, "user", user.ID, "method", r.Method,
					"path", r.URL.Path, "reason", err.Error())
				rejectForbidden(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// rejectForbidden writes the one generic denial every authorization-path
// failure maps to. The body must not vary with the internal reason.
func rejectForbidden(w http.ResponseWriter) {
	http.Error(w, DeniedMessage, http.StatusForbidden)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
