package stores

import (
	"context"
	"fmt"

	"github.com/oarkflow/dynauth"
)

// maxBatch bounds bulk creation and the identity filter so a single call's
// latency and blast radius stay small. Callers needing more must paginate.
const maxBatch = 100

// CreateIdentityPermissions writes up to maxBatch permissions with one
// conditioned insert each (best-effort strategy). Entries whose not-exists
// condition fails are reported in the result's Unprocessed slice; every other
// entry commits. An oversized batch fails before any write.
func (s *Store) CreateIdentityPermissions(ctx context.Context, perms []dynauth.IdentityPermission) (*dynauth.CreateResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if len(perms) > maxBatch {
		return nil, fmt.Errorf("%w: %d permissions exceed the batch limit of %d", dynauth.ErrThroughputExceeded, len(perms), maxBatch)
	}
	result := &dynauth.CreateResult{}
	for _, p := range perms {
		rec, err := permRecord(p)
		if err != nil {
			return nil, err
		}
		inserted, err := s.kv.PutIfAbsent(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("create identity permission %s/%s: %w", rec.Partition, rec.Sort, err)
		}
		if !inserted {
			result.Unprocessed = append(result.Unprocessed, p)
		}
	}
	if len(result.Unprocessed) > 0 {
		s.log.Info("identity permission create reported conflicts",
			"requested", len(perms), "unprocessed", len(result.Unprocessed))
	}
	return result, nil
}

// DeleteIdentityPermissions removes the given permissions, chunked to the
// backend's native batch-write limit. Absent keys are a no-op, so the call
// is idempotent.
func (s *Store) DeleteIdentityPermissions(ctx context.Context, perms []dynauth.IdentityPermission) error {
	if err := s.guard(); err != nil {
		return err
	}
	if len(perms) > maxBatch {
		return fmt.Errorf("%w: %d permissions exceed the batch limit of %d", dynauth.ErrThroughputExceeded, len(perms), maxBatch)
	}
	keys := make([]Key, 0, len(perms))
	for _, p := range perms {
		keys = append(keys, permKey(p))
	}
	for _, chunk := range chunkKeys(keys) {
		if err := s.kv.BatchDelete(ctx, chunk); err != nil {
			return fmt.Errorf("delete identity permissions: %w", err)
		}
	}
	return nil
}

// DeleteSubjectPermissions removes every permission stored for the subject.
// Read-then-delete, not atomic: a permission created concurrently after the
// read survives. A retried call converges.
func (s *Store) DeleteSubjectPermissions(ctx context.Context, subjectType, subjectID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	recs, err := s.kv.QueryPartition(ctx, Query{
		Partition:  permPartition(subjectType, subjectID),
		SortPrefix: permPrefix + sep,
	})
	if err != nil {
		return fmt.Errorf("query subject permissions %s#%s: %w", subjectType, subjectID, err)
	}
	keys := make([]Key, 0, len(recs))
	for _, rec := range recs {
		keys = append(keys, Key{Partition: rec.Partition, Sort: rec.Sort})
	}
	for _, chunk := range chunkKeys(keys) {
		if err := s.kv.BatchDelete(ctx, chunk); err != nil {
			return fmt.Errorf("delete subject permissions %s#%s: %w", subjectType, subjectID, err)
		}
	}
	return nil
}

// GetIdentityPermissionsBySubject returns every permission for the subject,
// optionally filtered by action and by a bounded identity set. Both filters
// combine with AND.
func (s *Store) GetIdentityPermissionsBySubject(ctx context.Context, subjectType, subjectID string, action dynauth.Action, identities []dynauth.Identity) ([]dynauth.IdentityPermission, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if len(identities) > maxBatch {
		return nil, fmt.Errorf("%w: %d identities exceed the filter limit of %d", dynauth.ErrThroughputExceeded, len(identities), maxBatch)
	}
	q := Query{
		Partition:  permPartition(subjectType, subjectID),
		SortPrefix: permPrefix + sep,
		Action:     string(action),
	}
	for _, id := range identities {
		q.IndexIn = append(q.IndexIn, permIdentity(id.Type, id.ID))
	}
	recs, err := s.kv.QueryPartition(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query permissions by subject %s#%s: %w", subjectType, subjectID, err)
	}
	perms := make([]dynauth.IdentityPermission, 0, len(recs))
	for _, rec := range recs {
		p, err := decodePermission(rec)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, nil
}

// GetIdentityPermissionsByIdentity answers "what can this actor do" with one
// inverted-index query; the group-deletion cascade uses it too.
func (s *Store) GetIdentityPermissionsByIdentity(ctx context.Context, identityType dynauth.IdentityType, identityID string) ([]dynauth.IdentityPermission, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	recs, err := s.kv.QueryIndex(ctx, permIdentity(identityType, identityID))
	if err != nil {
		return nil, fmt.Errorf("query permissions by identity %s#%s: %w", identityType, identityID, err)
	}
	perms := make([]dynauth.IdentityPermission, 0, len(recs))
	for _, rec := range recs {
		p, err := decodePermission(rec)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, nil
}
