package stores

import (
	"context"
	"fmt"

	"github.com/oarkflow/dynauth"
)

// CreateGroup writes the group record with a not-exists condition.
func (s *Store) CreateGroup(ctx context.Context, group dynauth.Group) error {
	if err := s.guard(); err != nil {
		return err
	}
	rec, err := groupRecord(group)
	if err != nil {
		return err
	}
	inserted, err := s.kv.PutIfAbsent(ctx, rec)
	if err != nil {
		return fmt.Errorf("create group %s: %w", group.ID, err)
	}
	if !inserted {
		return fmt.Errorf("%w: %s", dynauth.ErrGroupAlreadyExists, group.ID)
	}
	return nil
}

// DeleteGroup removes the group in three idempotent phases: memberships,
// then the group's identity permissions, then the group record itself. The
// phases are sequential store calls, not one transaction; a crash mid-cascade
// leaves a partial state that a retried call completes.
func (s *Store) DeleteGroup(ctx context.Context, groupID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	// Phase 1: memberships referencing the group.
	members, err := s.kv.QueryIndex(ctx, membershipGroupSort(groupID))
	if err != nil {
		return fmt.Errorf("delete group %s: list memberships: %w", groupID, err)
	}
	keys := make([]Key, 0, len(members))
	for _, rec := range members {
		keys = append(keys, Key{Partition: rec.Partition, Sort: rec.Sort})
	}
	for _, chunk := range chunkKeys(keys) {
		if err := s.kv.BatchDelete(ctx, chunk); err != nil {
			return fmt.Errorf("delete group %s: remove memberships: %w", groupID, err)
		}
	}
	// Phase 2: permissions whose identity is the group.
	perms, err := s.GetIdentityPermissionsByIdentity(ctx, dynauth.IdentityGroup, groupID)
	if err != nil {
		return fmt.Errorf("delete group %s: %w", groupID, err)
	}
	permKeys := make([]Key, 0, len(perms))
	for _, p := range perms {
		permKeys = append(permKeys, permKey(p))
	}
	for _, chunk := range chunkKeys(permKeys) {
		if err := s.kv.BatchDelete(ctx, chunk); err != nil {
			return fmt.Errorf("delete group %s: remove permissions: %w", groupID, err)
		}
	}
	// Phase 3: the group record.
	if err := s.kv.BatchDelete(ctx, []Key{groupKey(groupID)}); err != nil {
		return fmt.Errorf("delete group %s: remove record: %w", groupID, err)
	}
	s.log.Info("group deleted", "group", groupID,
		"memberships", len(members), "permissions", len(perms))
	return nil
}

// GetUserGroups lists the ids of every group the user belongs to. An empty
// result is a valid response, not an error.
func (s *Store) GetUserGroups(ctx context.Context, userID string) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	recs, err := s.kv.QueryPartition(ctx, Query{
		Partition:  membershipUserPartition(userID),
		SortPrefix: membershipPrefix + sep,
	})
	if err != nil {
		return nil, fmt.Errorf("get groups for user %s: %w", userID, err)
	}
	groupIDs := make([]string, 0, len(recs))
	for _, rec := range recs {
		if id, ok := groupIDFromSort(rec.Sort); ok {
			groupIDs = append(groupIDs, id)
		}
	}
	return groupIDs, nil
}

// GetUsersFromGroup lists the ids of every user in the group via the
// inverted membership index. An empty result is a valid response.
func (s *Store) GetUsersFromGroup(ctx context.Context, groupID string) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	recs, err := s.kv.QueryIndex(ctx, membershipGroupSort(groupID))
	if err != nil {
		return nil, fmt.Errorf("get users for group %s: %w", groupID, err)
	}
	userIDs := make([]string, 0, len(recs))
	for _, rec := range recs {
		if id, ok := userIDFromPartition(rec.Partition); ok {
			userIDs = append(userIDs, id)
		}
	}
	return userIDs, nil
}

// AssignUserToGroup writes the membership record after verifying the group
// exists. Re-assigning an existing membership is an upsert, not an error.
func (s *Store) AssignUserToGroup(ctx context.Context, userID, groupID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	rec, err := s.kv.Get(ctx, groupKey(groupID))
	if err != nil {
		return fmt.Errorf("assign user %s to group %s: %w", userID, groupID, err)
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", dynauth.ErrGroupNotFound, groupID)
	}
	if err := s.kv.Put(ctx, membershipRecord(userID, groupID)); err != nil {
		return fmt.Errorf("assign user %s to group %s: %w", userID, groupID, err)
	}
	return nil
}

// RemoveUserFromGroup deletes the membership record unconditionally.
func (s *Store) RemoveUserFromGroup(ctx context.Context, userID, groupID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	key := Key{Partition: membershipUserPartition(userID), Sort: membershipGroupSort(groupID)}
	if err := s.kv.BatchDelete(ctx, []Key{key}); err != nil {
		return fmt.Errorf("remove user %s from group %s: %w", userID, groupID, err)
	}
	return nil
}
