package dynauth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func staticSampleService() *Service {
	registry := NewRouteRegistry()
	registry.Secure("/sample", "GET", DynamicOperation{Action: ActionRead, Subject: Subject{Type: "Sample", ID: Wildcard}})
	registry.Secure("/sample", "PUT", DynamicOperation{Action: ActionUpdate, Subject: Subject{Type: "Sample", ID: Wildcard}})
	registry.Ignore("/login", "GET")

	resolver := NewStaticResolver(map[string][]IdentityPermission{
		"editor": {
			{
				Identity: Identity{Type: IdentityUser, ID: Wildcard},
				Effect:   EffectAllow,
				Action:   ActionRead,
				Subject:  Subject{Type: "Sample", ID: Wildcard},
			},
			{
				Identity: Identity{Type: IdentityUser, ID: Wildcard},
				Effect:   EffectAllow,
				Action:   ActionUpdate,
				Subject:  Subject{Type: "Sample", ID: Wildcard},
			},
		},
		"guest": {
			{
				Identity: Identity{Type: IdentityUser, ID: Wildcard},
				Effect:   EffectAllow,
				Action:   ActionRead,
				Subject:  Subject{Type: "Sample", ID: Wildcard},
			},
		},
	})
	return NewService(registry, resolver)
}

func wrapped(opts *MiddlewareOptions) http.Handler {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return Middleware(opts)(next)
}

func doRequest(t *testing.T, handler http.Handler, method, path string, user *AuthenticatedUser) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if user != nil {
		req = req.WithContext(ContextWithUser(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewarePassThrough(t *testing.T) {
	handler := wrapped(&MiddlewareOptions{Service: staticSampleService()})
	editor := &AuthenticatedUser{ID: "e1", Roles: []string{"editor"}}
	rec := doRequest(t, handler, http.MethodGet, "/sample", editor)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for editor GET /sample, got %d", rec.Code)
	}
}

func TestMiddlewareGenericForbidden(t *testing.T) {
	handler := wrapped(&MiddlewareOptions{Service: staticSampleService()})
	guest := &AuthenticatedUser{ID: "g1", Roles: []string{"guest"}}

	denied := doRequest(t, handler, http.MethodPut, "/sample", guest)
	if denied.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for guest PUT /sample, got %d", denied.Code)
	}
	body := strings.TrimSpace(denied.Body.String())
	if body != DeniedMessage {
		t.Fatalf("expected generic body %q, got %q", DeniedMessage, body)
	}

	// An unmapped route and a missing user must be indistinguishable from
	// the denial above.
	unmapped := doRequest(t, handler, http.MethodDelete, "/unmapped", guest)
	noUser := doRequest(t, handler, http.MethodGet, "/sample", nil)
	for _, rec := range []*httptest.ResponseRecorder{unmapped, noUser} {
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
		if strings.TrimSpace(rec.Body.String()) != body {
			t.Fatalf("expected identical body across failure modes, got %q", rec.Body.String())
		}
	}
}

func TestMiddlewareRateLimitExhaustion(t *testing.T) {
	handler := wrapped(&MiddlewareOptions{
		Service: staticSampleService(),
		Limiter: NewTokenBucketLimiter(0, time.Second),
	})
	editor := &AuthenticatedUser{ID: "e1", Roles: []string{"editor"}}
	rec := doRequest(t, handler, http.MethodGet, "/sample", editor)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 with zero capacity regardless of authorization, got %d", rec.Code)
	}
}

func TestMiddlewareRateLimitPerSource(t *testing.T) {
	handler := wrapped(&MiddlewareOptions{
		Service: staticSampleService(),
		Limiter: NewTokenBucketLimiter(2, time.Hour),
	})
	editor := &AuthenticatedUser{ID: "e1", Roles: []string{"editor"}}
	for i := 0; i < 2; i++ {
		if rec := doRequest(t, handler, http.MethodGet, "/sample", editor); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	if rec := doRequest(t, handler, http.MethodGet, "/sample", editor); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected third request rejected, got %d", rec.Code)
	}

	// A different source still has tokens.
	req := httptest.NewRequest(http.MethodGet, "/sample", nil)
	req.RemoteAddr = "198.51.100.9:4321"
	req = req.WithContext(ContextWithUser(req.Context(), editor))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected fresh source to pass, got %d", rec.Code)
	}
}

func TestMiddlewareLeavesCallerOptionsUntouched(t *testing.T) {
	opts := &MiddlewareOptions{Service: staticSampleService()}
	Middleware(opts)
	if opts.Limiter != nil || opts.Source != nil || opts.User != nil || opts.Logger != nil || opts.TraceID != nil {
		t.Fatalf("expected defaults applied to a copy, caller options were modified: %+v", opts)
	}
}

func TestMiddlewareIgnoredRouteNeedsNoUser(t *testing.T) {
	handler := wrapped(&MiddlewareOptions{Service: staticSampleService()})
	rec := doRequest(t, handler, http.MethodGet, "/login", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected ignored /login to pass without a user, got %d", rec.Code)
	}
}
