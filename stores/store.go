package stores

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/oarkflow/dynauth"
	"github.com/oarkflow/dynauth/logger"
)

// Store implements dynauth.PermissionStore and dynauth.GroupDirectory over
// one KV backend. Both record families share the client and the
// initialization guard: until Init (or AssumeProvisioned) succeeds, every
// operation fails with dynauth.ErrBadConfiguration.
type Store struct {
	kv          KV
	log         logger.Logger
	initialized atomic.Bool
}

type Option func(*Store)

func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

func New(kv KV, opts ...Option) *Store {
	s := &Store{kv: kv, log: logger.NewNullLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init provisions the store: it verifies the secondary index is reachable,
// refuses to run against a non-empty store, and writes the optional seed.
// seed may be nil. A failed seed is rolled back and the store left
// uninitialized, so a corrected Init can run against the same backend.
func (s *Store) Init(ctx context.Context, seed *dynauth.Seed) error {
	if err := s.kv.IndexReady(ctx); err != nil {
		return fmt.Errorf("%w: secondary index not reachable: %v", dynauth.ErrBadConfiguration, err)
	}
	nonEmpty, err := s.kv.Any(ctx)
	if err != nil {
		return fmt.Errorf("%w: probe store: %v", dynauth.ErrBadConfiguration, err)
	}
	if nonEmpty {
		return fmt.Errorf("%w: init refused, store is not empty", dynauth.ErrBadConfiguration)
	}
	s.initialized.Store(true)
	if seed == nil {
		return nil
	}
	if err := s.applySeed(ctx, seed); err != nil {
		s.rollbackSeed(ctx, seed)
		s.initialized.Store(false)
		return err
	}
	s.log.Info("store initialized",
		"groups", len(seed.Groups),
		"memberships", len(seed.Memberships),
		"permissions", len(seed.Permissions))
	return nil
}

func (s *Store) applySeed(ctx context.Context, seed *dynauth.Seed) error {
	for _, g := range seed.Groups {
		if err := s.CreateGroup(ctx, g); err != nil {
			return fmt.Errorf("seed group %s: %w", g.ID, err)
		}
	}
	for _, m := range seed.Memberships {
		if err := s.AssignUserToGroup(ctx, m.UserID, m.GroupID); err != nil {
			return fmt.Errorf("seed membership %s->%s: %w", m.UserID, m.GroupID, err)
		}
	}
	if len(seed.Permissions) > 0 {
		res, err := s.CreateIdentityPermissions(ctx, seed.Permissions)
		if err != nil {
			return fmt.Errorf("seed permissions: %w", err)
		}
		if len(res.Unprocessed) > 0 {
			return fmt.Errorf("seed permissions: %w", dynauth.ErrIdentityPermissionAlreadyExists)
		}
	}
	return nil
}

// rollbackSeed deletes every record the seed could have written. Deletes are
// unconditioned, so keys the failed seed never reached are a no-op.
func (s *Store) rollbackSeed(ctx context.Context, seed *dynauth.Seed) {
	keys := make([]Key, 0, len(seed.Groups)+len(seed.Memberships)+len(seed.Permissions))
	for _, g := range seed.Groups {
		keys = append(keys, groupKey(g.ID))
	}
	for _, m := range seed.Memberships {
		keys = append(keys, Key{Partition: membershipUserPartition(m.UserID), Sort: membershipGroupSort(m.GroupID)})
	}
	for _, p := range seed.Permissions {
		keys = append(keys, permKey(p))
	}
	for _, chunk := range chunkKeys(keys) {
		if err := s.kv.BatchDelete(ctx, chunk); err != nil {
			s.log.Error("seed rollback incomplete, store needs manual cleanup before retrying init",
				"error", err.Error())
			return
		}
	}
}

// AssumeProvisioned marks an already-provisioned store usable without
// seeding. Long-running services that did not run Init themselves call this
// after deployment tooling has done so. The index check still applies.
func (s *Store) AssumeProvisioned(ctx context.Context) error {
	if err := s.kv.IndexReady(ctx); err != nil {
		return fmt.Errorf("%w: secondary index not reachable: %v", dynauth.ErrBadConfiguration, err)
	}
	s.initialized.Store(true)
	return nil
}

func (s *Store) guard() error {
	if !s.initialized.Load() {
		return fmt.Errorf("%w: not initialized", dynauth.ErrBadConfiguration)
	}
	return nil
}

// chunkKeys splits keys into batches the backends accept natively.
func chunkKeys(keys []Key) [][]Key {
	if len(keys) == 0 {
		return nil
	}
	chunks := make([][]Key, 0, (len(keys)+batchDeleteLimit-1)/batchDeleteLimit)
	for len(keys) > batchDeleteLimit {
		chunks = append(chunks, keys[:batchDeleteLimit])
		keys = keys[batchDeleteLimit:]
	}
	return append(chunks, keys)
}
