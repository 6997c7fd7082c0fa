package dynauth

import "errors"

// Error taxonomy for the engine's public surface. Store client errors are
// wrapped into one of these, never surfaced raw, so callers can rely on
// errors.Is across every backend.
var (
	// ErrBadConfiguration covers an uninitialized or misprovisioned store
	// (missing secondary index, init against a non-empty store). Fatal,
	// operator-visible, never retried automatically.
	ErrBadConfiguration = errors.New("bad configuration")

	// ErrThroughputExceeded is returned when a batch exceeds 100 logical
	// items or an identity filter exceeds 100 entries. Callers must re-batch.
	ErrThroughputExceeded = errors.New("throughput exceeded")

	// ErrGroupAlreadyExists signals a conditioned group insert conflict.
	ErrGroupAlreadyExists = errors.New("group already exists")

	// ErrIdentityPermissionAlreadyExists signals a conditioned permission
	// insert conflict on (identity, effect, action, subject).
	ErrIdentityPermissionAlreadyExists = errors.New("identity permission already exists")

	// ErrGroupNotFound is returned when assigning a user to a missing group.
	ErrGroupNotFound = errors.New("group not found")

	// ErrAuthenticatedUserMissing means the request context carried no usable
	// authenticated user. Externally indistinguishable from a denial.
	ErrAuthenticatedUserMissing = errors.New("authenticated user missing")

	// ErrPermissionNotGranted is the generic denial. The DENY reason, when
	// one exists, is attached for server-side logs only.
	ErrPermissionNotGranted = errors.New("permission not granted")

	// ErrRouteNotSecured means the route/method pair is neither mapped nor
	// ignored. Fail closed: treated as a denial at the transport boundary.
	ErrRouteNotSecured = errors.New("route not secured")

	// ErrTooManyRequests signals rate limit exhaustion, the only
	// authorization-path outcome with a distinct external response.
	ErrTooManyRequests = errors.New("too many requests")
)

// DeniedMessage is the single caller-visible body for every authorization
// failure. It must not vary with the internal reason.
const DeniedMessage = "not authorized"
