package dynauth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/oarkflow/dynauth/logger"
)

// ============================================================================
// PERMISSION RESOLUTION
// ============================================================================

// PermissionResolver supplies the caller's effective permissions for a set of
// subjects. The store-backed resolver expands group memberships and queries
// the permission store; the static resolver maps roles to a fixed in-memory
// permission table. Both feed the same rule engine.
type PermissionResolver interface {
	ResolvePermissions(ctx context.Context, user *AuthenticatedUser, subjects []Subject) ([]IdentityPermission, error)
}

// StoreResolver resolves permissions from the permission store: the caller's
// own identity plus every group it belongs to, concatenated. For each subject
// both the exact partition and the wildcard partition are fetched, since a
// grant on all instances lives under the wildcard subject id.
type StoreResolver struct {
	perms    PermissionStore
	groups   GroupDirectory
	log      logger.Logger
	cache    *ristretto.Cache
	cacheTTL time.Duration
}

func NewStoreResolver(perms PermissionStore, groups GroupDirectory) *StoreResolver {
	return &StoreResolver{perms: perms, groups: groups, log: logger.NewNullLogger()}
}

// ConfigurePermissionCache installs a ristretto cache in front of permission
// resolution. Invalidation is TTL-only: a permission or membership change
// becomes visible once the entry expires.
func (r *StoreResolver) ConfigurePermissionCache(numCounters, maxCost, bufferItems int64, ttl time.Duration) error {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return fmt.Errorf("configure permission cache: %w", err)
	}
	r.cache = cache
	r.cacheTTL = ttl
	return nil
}

func (r *StoreResolver) SetLogger(l logger.Logger) {
	if l != nil {
		r.log = l
	}
}

func (r *StoreResolver) ResolvePermissions(ctx context.Context, user *AuthenticatedUser, subjects []Subject) ([]IdentityPermission, error) {
	cacheKey := resolutionKey(user.ID, subjects)
	if r.cache != nil {
		if v, ok := r.cache.Get(cacheKey); ok {
			if perms, ok := v.([]IdentityPermission); ok {
				return perms, nil
			}
		}
	}
	groupIDs, err := r.groups.GetUserGroups(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve groups for %s: %w", user.ID, err)
	}
	identities := make([]Identity, 0, len(groupIDs)+1)
	identities = append(identities, Identity{Type: IdentityUser, ID: user.ID})
	for _, g := range groupIDs {
		identities = append(identities, Identity{Type: IdentityGroup, ID: g})
	}
	perms := make([]IdentityPermission, 0)
	for _, sub := range dedupeSubjects(subjects) {
		got, err := r.perms.GetIdentityPermissionsBySubject(ctx, sub.Type, sub.ID, "", identities)
		if err != nil {
			return nil, err
		}
		perms = append(perms, got...)
		if sub.ID != Wildcard {
			wild, err := r.perms.GetIdentityPermissionsBySubject(ctx, sub.Type, Wildcard, "", identities)
			if err != nil {
				return nil, err
			}
			perms = append(perms, wild...)
		}
	}
	if r.cache != nil {
		r.cache.SetWithTTL(cacheKey, perms, int64(len(perms)+1), r.cacheTTL)
	}
	r.log.Debug("permissions resolved",
		"user", user.ID, "groups", len(groupIDs), "permissions", len(perms))
	return perms, nil
}

func dedupeSubjects(subjects []Subject) []Subject {
	seen := make(map[Subject]struct{}, len(subjects))
	out := make([]Subject, 0, len(subjects))
	for _, s := range subjects {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func resolutionKey(userID string, subjects []Subject) string {
	var b strings.Builder
	b.WriteString(userID)
	for _, s := range dedupeSubjects(subjects) {
		b.WriteString("|")
		b.WriteString(s.String())
	}
	return b.String()
}

// StaticResolver maps roles straight to fixed permission lists with no store
// round-trips. Same evaluation semantics as the store-backed variant; only
// the resolution step differs.
type StaticResolver struct {
	roles map[string][]IdentityPermission
}

func NewStaticResolver(roles map[string][]IdentityPermission) *StaticResolver {
	if roles == nil {
		roles = make(map[string][]IdentityPermission)
	}
	return &StaticResolver{roles: roles}
}

func (r *StaticResolver) ResolvePermissions(_ context.Context, user *AuthenticatedUser, _ []Subject) ([]IdentityPermission, error) {
	perms := make([]IdentityPermission, 0)
	for _, role := range user.Roles {
		perms = append(perms, r.roles[role]...)
	}
	return perms, nil
}

// ============================================================================
// AUTHORIZATION SERVICE
// ============================================================================

// Service is the single authorization entry point: it normalizes the route,
// consults the registry, resolves the caller's permissions, and invokes the
// rule engine. Any ambiguity fails closed.
type Service struct {
	registry *RouteRegistry
	resolver PermissionResolver
	perms    PermissionStore
	groups   GroupDirectory
	log      logger.Logger
}

type ServiceOption func(*Service)

// WithStores attaches the administrative store surface to the service; see
// admin.go. A static-configuration service can omit it.
func WithStores(perms PermissionStore, groups GroupDirectory) ServiceOption {
	return func(s *Service) {
		s.perms = perms
		s.groups = groups
	}
}

func NewService(registry *RouteRegistry, resolver PermissionResolver, opts ...ServiceOption) *Service {
	s := &Service{registry: registry, resolver: resolver, log: logger.NewNullLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the route registry for configuration loading.
func (s *Service) Registry() *RouteRegistry {
	return s.registry
}

// IsIgnoredRoute reports whether the concrete route+method bypasses
// authorization entirely, so the middleware can skip user resolution.
func (s *Service) IsIgnoredRoute(route, method string, params map[string]string) bool {
	return s.registry.IsIgnored(NormalizeRoute(route, params), method)
}

// IsAuthorizedOnRoute decides whether user may perform method on route.
// params maps path-parameter names to their concrete values, used only for
// normalization. A nil return means authorized (or ignored route); every
// failure unwraps to one of the sentinel errors in errors.go.
func (s *Service) IsAuthorizedOnRoute(ctx context.Context, user *AuthenticatedUser, route, method string, params map[string]string) error {
	pattern := NormalizeRoute(route, params)
	if s.registry.IsIgnored(pattern, method) {
		return nil
	}
	ops, mapped := s.registry.Operations(pattern, method)
	if !mapped {
		// Fail closed: an unmapped protected route is never implicitly allowed.
		return fmt.Errorf("%w: %s %s", ErrRouteNotSecured, method, pattern)
	}
	if !user.Valid() {
		return fmt.Errorf("%w: route %s %s", ErrAuthenticatedUserMissing, method, pattern)
	}
	subjects := make([]Subject, 0, len(ops))
	for _, op := range ops {
		subjects = append(subjects, op.Subject)
	}
	perms, err := s.resolver.ResolvePermissions(ctx, user, subjects)
	if err != nil {
		return err
	}
	if err := Evaluate(perms, ops); err != nil {
		s.log.Info("authorization denied",
			"user", user.ID, "method", method, "route", pattern, "reason", err.Error())
		return err
	}
	return nil
}
