package dynauth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration: rate limiting, route
// mappings, the ignored set, the static role table, engine tuning, and the
// optional bootstrap seed written by Init.
type Config struct {
	RateLimit   RateLimitConfig                 `json:"rate_limit" yaml:"rate_limit"`
	Engine      EngineConfig                    `json:"engine" yaml:"engine"`
	Routes      []RouteConfig                   `json:"routes" yaml:"routes"`
	Ignored     []IgnoredRoute                  `json:"ignored" yaml:"ignored"`
	StaticRoles map[string][]IdentityPermission `json:"static_roles,omitempty" yaml:"static_roles,omitempty"`
	Bootstrap   *Seed                           `json:"bootstrap,omitempty" yaml:"bootstrap,omitempty"`
}

type RateLimitConfig struct {
	Capacity *int  `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	WindowMS int64 `json:"window_ms,omitempty" yaml:"window_ms,omitempty"`
}

type EngineConfig struct {
	PermissionCacheTTL  int64 `json:"permission_cache_ttl_ms" yaml:"permission_cache_ttl_ms"`
	RistrettoNumCounter int64 `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	RistrettoMaxCost    int64 `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBuffer     int64 `json:"ristretto_buffer" yaml:"ristretto_buffer"`
}

type RouteConfig struct {
	Path       string             `json:"path" yaml:"path"`
	Method     string             `json:"method" yaml:"method"`
	Operations []DynamicOperation `json:"operations" yaml:"operations"`
}

type IgnoredRoute struct {
	Path   string `json:"path" yaml:"path"`
	Method string `json:"method" yaml:"method"`
}

// Seed is the optional bootstrap content a store Init writes, typically a
// first administrative group and its permissions.
type Seed struct {
	Groups      []Group              `json:"groups,omitempty" yaml:"groups,omitempty"`
	Memberships []SeedMembership     `json:"memberships,omitempty" yaml:"memberships,omitempty"`
	Permissions []IdentityPermission `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

type SeedMembership struct {
	UserID  string `json:"user_id" yaml:"user_id"`
	GroupID string `json:"group_id" yaml:"group_id"`
}

// ConfigLoader loads configuration from the supported formats
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile picks the format from the file extension.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.LoadYAML(data)
	case ".json":
		return l.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", path)
	}
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate rejects configurations the engine would fail closed on at request
// time anyway, so misconfiguration surfaces at load instead.
func (c *Config) Validate() error {
	for _, r := range c.Routes {
		if r.Path == "" || r.Method == "" {
			return fmt.Errorf("route mapping needs path and method, got %q %q", r.Method, r.Path)
		}
		if len(r.Operations) == 0 {
			return fmt.Errorf("route %s %s maps to no operations", r.Method, r.Path)
		}
		for _, op := range r.Operations {
			if op.Action == "" || op.Subject.Type == "" {
				return fmt.Errorf("route %s %s has an operation missing action or subject type", r.Method, r.Path)
			}
		}
	}
	for _, ig := range c.Ignored {
		if ig.Path == "" || ig.Method == "" {
			return fmt.Errorf("ignored route needs path and method, got %q %q", ig.Method, ig.Path)
		}
	}
	return nil
}

// BuildRegistry materializes the route mappings and the ignored set.
func (c *Config) BuildRegistry() *RouteRegistry {
	registry := NewRouteRegistry()
	for _, r := range c.Routes {
		registry.Secure(r.Path, r.Method, r.Operations...)
	}
	for _, ig := range c.Ignored {
		registry.Ignore(ig.Path, ig.Method)
	}
	return registry
}

// BuildLimiter materializes the configured token bucket. Absent settings use
// the defaults; an explicit capacity of 0 rejects every request.
func (c *Config) BuildLimiter() RateLimiter {
	capacity := DefaultRateCapacity
	if c.RateLimit.Capacity != nil {
		capacity = *c.RateLimit.Capacity
	}
	window := DefaultRateWindow
	if c.RateLimit.WindowMS > 0 {
		window = time.Duration(c.RateLimit.WindowMS) * time.Millisecond
	}
	return NewTokenBucketLimiter(capacity, window)
}

// BuildStaticResolver materializes the static role table variant.
func (c *Config) BuildStaticResolver() *StaticResolver {
	return NewStaticResolver(c.StaticRoles)
}

// ConfigureResolver applies the engine tuning to a store-backed resolver.
func (c *Config) ConfigureResolver(r *StoreResolver) error {
	if c.Engine.RistrettoNumCounter <= 0 {
		return nil
	}
	ttl := time.Duration(c.Engine.PermissionCacheTTL) * time.Millisecond
	return r.ConfigurePermissionCache(
		c.Engine.RistrettoNumCounter,
		c.Engine.RistrettoMaxCost,
		c.Engine.RistrettoBuffer,
		ttl,
	)
}
