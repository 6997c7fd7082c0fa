package dynauth

import (
	"strings"
	"sync"

	"github.com/oarkflow/dynauth/utils"
)

// RouteKey identifies one route mapping: a normalized path pattern plus the
// HTTP method.
type RouteKey struct {
	Pattern string
	Method  string
}

// RouteRegistry holds the configuration mapping (pattern, method) to the
// dynamic operations a caller must satisfy, plus the set of ignored
// route/method pairs that bypass authorization entirely. The registry is
// configuration data; the engine never computes mappings. An exact pattern
// hit wins; otherwise patterns are scanned in registration order, so when
// two registered patterns overlap the one registered first wins.
type RouteRegistry struct {
	mu           sync.RWMutex
	secured      map[RouteKey][]DynamicOperation
	securedOrder []RouteKey
	ignored      map[RouteKey]struct{}
	ignoredOrder []RouteKey
}

func NewRouteRegistry() *RouteRegistry {
	return &RouteRegistry{
		secured: make(map[RouteKey][]DynamicOperation),
		ignored: make(map[RouteKey]struct{}),
	}
}

// Secure registers the operations required on pattern+method. Patterns use
// the wildcard token for parameter segments, e.g. "/user/*/role/*".
func (r *RouteRegistry) Secure(pattern, method string, ops ...DynamicOperation) *RouteRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := RouteKey{Pattern: pattern, Method: strings.ToUpper(method)}
	if _, ok := r.secured[key]; !ok {
		r.securedOrder = append(r.securedOrder, key)
	}
	r.secured[key] = append(r.secured[key], ops...)
	return r
}

// Ignore exempts pattern+method from authorization, e.g. a login endpoint.
func (r *RouteRegistry) Ignore(pattern, method string) *RouteRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := RouteKey{Pattern: pattern, Method: strings.ToUpper(method)}
	if _, ok := r.ignored[key]; !ok {
		r.ignoredOrder = append(r.ignoredOrder, key)
	}
	r.ignored[key] = struct{}{}
	return r
}

// IsIgnored reports whether the normalized pattern+method bypasses checks.
func (r *RouteRegistry) IsIgnored(pattern, method string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.ignored[RouteKey{Pattern: pattern, Method: strings.ToUpper(method)}]; ok {
		return true
	}
	for _, key := range r.ignoredOrder {
		if key.Method == strings.ToUpper(method) && utils.MatchRoute(pattern, key.Pattern) {
			return true
		}
	}
	return false
}

// Operations resolves the required operations for the normalized
// pattern+method. The second result is false when the route is unmapped;
// callers must fail closed on that.
func (r *RouteRegistry) Operations(pattern, method string) ([]DynamicOperation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	method = strings.ToUpper(method)
	if ops, ok := r.secured[RouteKey{Pattern: pattern, Method: method}]; ok {
		return ops, true
	}
	for _, key := range r.securedOrder {
		if key.Method == method && utils.MatchRoute(pattern, key.Pattern) {
			return r.secured[key], true
		}
	}
	return nil, false
}

// NormalizeRoute replaces every path segment holding a parameter value with
// the wildcard token, so "/user/42/role/7" with params {userId:42, roleId:7}
// becomes "/user/*/role/*" and matches the same pattern as any other instance.
func NormalizeRoute(route string, params map[string]string) string {
	if len(params) == 0 {
		return route
	}
	values := make(map[string]struct{}, len(params))
	for _, v := range params {
		if v != "" {
			values[v] = struct{}{}
		}
	}
	segments := strings.Split(route, "/")
	for i, seg := range segments {
		if _, ok := values[seg]; ok {
			segments[i] = Wildcard
		}
	}
	return strings.Join(segments, "/")
}
