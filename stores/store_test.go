package stores

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/oarkflow/dynauth"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(NewMemoryKV())
	if err := s.Init(context.Background(), nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

func perm(identityType dynauth.IdentityType, identityID string, effect dynauth.Effect, action dynauth.Action, subjectType, subjectID string) dynauth.IdentityPermission {
	return dynauth.IdentityPermission{
		Identity: dynauth.Identity{Type: identityType, ID: identityID},
		Effect:   effect,
		Action:   action,
		Subject:  dynauth.Subject{Type: subjectType, ID: subjectID},
	}
}

func TestUninitializedStoreRefusesOperations(t *testing.T) {
	s := New(NewMemoryKV())
	_, err := s.GetUserGroups(context.Background(), "u1")
	if !errors.Is(err, dynauth.ErrBadConfiguration) {
		t.Fatalf("expected ErrBadConfiguration before init, got %v", err)
	}
	err = s.CreateGroup(context.Background(), dynauth.Group{ID: "g"})
	if !errors.Is(err, dynauth.ErrBadConfiguration) {
		t.Fatalf("expected ErrBadConfiguration before init, got %v", err)
	}
}

func TestInitRefusesNonEmptyStore(t *testing.T) {
	kv := NewMemoryKV()
	s := New(kv)
	if err := s.Init(context.Background(), nil); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if err := s.CreateGroup(context.Background(), dynauth.Group{ID: "g"}); err != nil {
		t.Fatalf("create group: %v", err)
	}
	again := New(kv)
	if err := again.Init(context.Background(), nil); !errors.Is(err, dynauth.ErrBadConfiguration) {
		t.Fatalf("expected ErrBadConfiguration on non-empty store, got %v", err)
	}
}

func TestInitSeedsBootstrapContent(t *testing.T) {
	s := New(NewMemoryKV())
	seed := &dynauth.Seed{
		Groups:      []dynauth.Group{{ID: "admins", Description: "bootstrap"}},
		Memberships: []dynauth.SeedMembership{{UserID: "root", GroupID: "admins"}},
		Permissions: []dynauth.IdentityPermission{
			perm(dynauth.IdentityGroup, "admins", dynauth.EffectAllow, dynauth.ActionUpdate, "Sample", "*"),
		},
	}
	if err := s.Init(context.Background(), seed); err != nil {
		t.Fatalf("init with seed: %v", err)
	}
	groups, err := s.GetUserGroups(context.Background(), "root")
	if err != nil || len(groups) != 1 || groups[0] != "admins" {
		t.Fatalf("expected root in admins, got %v %v", groups, err)
	}
	perms, err := s.GetIdentityPermissionsByIdentity(context.Background(), dynauth.IdentityGroup, "admins")
	if err != nil || len(perms) != 1 {
		t.Fatalf("expected one seeded permission, got %v %v", perms, err)
	}
}

func TestInitSeedFailureRollsBack(t *testing.T) {
	kv := NewMemoryKV()
	s := New(kv)
	seed := &dynauth.Seed{
		Groups: []dynauth.Group{{ID: "admins"}},
		// References a group the seed never creates, so seeding fails after
		// the group record is already written.
		Memberships: []dynauth.SeedMembership{{UserID: "root", GroupID: "ghosts"}},
	}
	err := s.Init(context.Background(), seed)
	if !errors.Is(err, dynauth.ErrGroupNotFound) {
		t.Fatalf("expected seed failure, got %v", err)
	}
	if _, err := s.GetUserGroups(context.Background(), "root"); !errors.Is(err, dynauth.ErrBadConfiguration) {
		t.Fatalf("expected store back to uninitialized, got %v", err)
	}

	// The partial seed was rolled back, so a corrected Init succeeds.
	seed.Memberships[0].GroupID = "admins"
	if err := s.Init(context.Background(), seed); err != nil {
		t.Fatalf("retried init after rollback: %v", err)
	}
	groups, err := s.GetUserGroups(context.Background(), "root")
	if err != nil || len(groups) != 1 || groups[0] != "admins" {
		t.Fatalf("expected corrected seed applied, got %v %v", groups, err)
	}
}

func TestCreateAndReadBackPermissions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	want := []dynauth.IdentityPermission{
		perm(dynauth.IdentityUser, "u1", dynauth.EffectAllow, dynauth.ActionRead, "Sample", "1"),
		perm(dynauth.IdentityUser, "u1", dynauth.EffectAllow, dynauth.ActionUpdate, "Sample", "1"),
		perm(dynauth.IdentityGroup, "g1", dynauth.EffectDeny, dynauth.ActionRead, "Sample", "1"),
	}
	res, err := s.CreateIdentityPermissions(ctx, want)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(res.Unprocessed) != 0 {
		t.Fatalf("expected no unprocessed entries, got %d", len(res.Unprocessed))
	}
	got, err := s.GetIdentityPermissionsBySubject(ctx, "Sample", "1", "", nil)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d permissions, got %d", len(want), len(got))
	}
	found := make(map[string]bool)
	for _, p := range got {
		found[p.Identity.String()+string(p.Effect)+string(p.Action)] = true
	}
	for _, p := range want {
		if !found[p.Identity.String()+string(p.Effect)+string(p.Action)] {
			t.Fatalf("missing permission %+v in read back", p)
		}
	}
}

func TestCreateRejectsOversizedBatchWithoutEffect(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batch := make([]dynauth.IdentityPermission, 0, 101)
	for i := 0; i < 101; i++ {
		batch = append(batch, perm(dynauth.IdentityUser, fmt.Sprintf("u%d", i), dynauth.EffectAllow, dynauth.ActionRead, "Sample", "1"))
	}
	_, err := s.CreateIdentityPermissions(ctx, batch)
	if !errors.Is(err, dynauth.ErrThroughputExceeded) {
		t.Fatalf("expected ErrThroughputExceeded, got %v", err)
	}
	got, err := s.GetIdentityPermissionsBySubject(ctx, "Sample", "1", "", nil)
	if err != nil {
		t.Fatalf("follow-up read: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected store unchanged after rejected batch, found %d records", len(got))
	}
}

func TestCreateReportsConflictsAsUnprocessed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := perm(dynauth.IdentityUser, "u1", dynauth.EffectAllow, dynauth.ActionRead, "Sample", "1")
	if _, err := s.CreateIdentityPermissions(ctx, []dynauth.IdentityPermission{p}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	fresh := perm(dynauth.IdentityUser, "u2", dynauth.EffectAllow, dynauth.ActionRead, "Sample", "1")
	res, err := s.CreateIdentityPermissions(ctx, []dynauth.IdentityPermission{p, fresh})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if len(res.Unprocessed) != 1 {
		t.Fatalf("expected exactly the duplicate unprocessed, got %d", len(res.Unprocessed))
	}
	got, err := s.GetIdentityPermissionsBySubject(ctx, "Sample", "1", "", nil)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected the fresh entry committed alongside the original, got %d", len(got))
	}
}

func TestGetBySubjectFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.CreateIdentityPermissions(ctx, []dynauth.IdentityPermission{
		perm(dynauth.IdentityUser, "u1", dynauth.EffectAllow, dynauth.ActionRead, "Sample", "1"),
		perm(dynauth.IdentityUser, "u2", dynauth.EffectAllow, dynauth.ActionRead, "Sample", "1"),
		perm(dynauth.IdentityUser, "u1", dynauth.EffectAllow, dynauth.ActionUpdate, "Sample", "1"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	byAction, err := s.GetIdentityPermissionsBySubject(ctx, "Sample", "1", dynauth.ActionRead, nil)
	if err != nil || len(byAction) != 2 {
		t.Fatalf("expected 2 READ permissions, got %v %v", byAction, err)
	}

	byIdentity, err := s.GetIdentityPermissionsBySubject(ctx, "Sample", "1", "",
		[]dynauth.Identity{{Type: dynauth.IdentityUser, ID: "u1"}})
	if err != nil || len(byIdentity) != 2 {
		t.Fatalf("expected 2 permissions for u1, got %v %v", byIdentity, err)
	}

	both, err := s.GetIdentityPermissionsBySubject(ctx, "Sample", "1", dynauth.ActionRead,
		[]dynauth.Identity{{Type: dynauth.IdentityUser, ID: "u1"}})
	if err != nil || len(both) != 1 {
		t.Fatalf("expected filters to AND down to 1, got %v %v", both, err)
	}

	oversized := make([]dynauth.Identity, 101)
	for i := range oversized {
		oversized[i] = dynauth.Identity{Type: dynauth.IdentityUser, ID: fmt.Sprintf("u%d", i)}
	}
	if _, err := s.GetIdentityPermissionsBySubject(ctx, "Sample", "1", "", oversized); !errors.Is(err, dynauth.ErrThroughputExceeded) {
		t.Fatalf("expected ErrThroughputExceeded on oversized identity filter, got %v", err)
	}
}

func TestDeleteSubjectPermissions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.CreateIdentityPermissions(ctx, []dynauth.IdentityPermission{
		perm(dynauth.IdentityUser, "u1", dynauth.EffectAllow, dynauth.ActionRead, "Sample", "1"),
		perm(dynauth.IdentityUser, "u2", dynauth.EffectAllow, dynauth.ActionRead, "Sample", "1"),
		perm(dynauth.IdentityUser, "u1", dynauth.EffectAllow, dynauth.ActionRead, "Role", "1"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.DeleteSubjectPermissions(ctx, "Sample", "1"); err != nil {
		t.Fatalf("delete subject: %v", err)
	}
	gone, _ := s.GetIdentityPermissionsBySubject(ctx, "Sample", "1", "", nil)
	if len(gone) != 0 {
		t.Fatalf("expected Sample#1 permissions gone, got %d", len(gone))
	}
	kept, _ := s.GetIdentityPermissionsBySubject(ctx, "Role", "1", "", nil)
	if len(kept) != 1 {
		t.Fatalf("expected Role#1 permission untouched, got %d", len(kept))
	}
}

func TestDeleteIdentityPermissionsIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := perm(dynauth.IdentityUser, "u1", dynauth.EffectAllow, dynauth.ActionRead, "Sample", "1")
	if _, err := s.CreateIdentityPermissions(ctx, []dynauth.IdentityPermission{p}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.DeleteIdentityPermissions(ctx, []dynauth.IdentityPermission{p}); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := s.DeleteIdentityPermissions(ctx, []dynauth.IdentityPermission{p}); err != nil {
		t.Fatalf("repeated delete must be a no-op: %v", err)
	}
}

func TestMembershipRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateGroup(ctx, dynauth.Group{ID: "editors"}); err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := s.AssignUserToGroup(ctx, "alice", "editors"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	groups, err := s.GetUserGroups(ctx, "alice")
	if err != nil || len(groups) != 1 || groups[0] != "editors" {
		t.Fatalf("expected alice in editors, got %v %v", groups, err)
	}
	users, err := s.GetUsersFromGroup(ctx, "editors")
	if err != nil || len(users) != 1 || users[0] != "alice" {
		t.Fatalf("expected editors to contain alice, got %v %v", users, err)
	}

	// Re-assigning is an upsert, not an error.
	if err := s.AssignUserToGroup(ctx, "alice", "editors"); err != nil {
		t.Fatalf("re-assign: %v", err)
	}

	if err := s.RemoveUserFromGroup(ctx, "alice", "editors"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	groups, _ = s.GetUserGroups(ctx, "alice")
	if len(groups) != 0 {
		t.Fatalf("expected alice out of all groups, got %v", groups)
	}
	users, _ = s.GetUsersFromGroup(ctx, "editors")
	if len(users) != 0 {
		t.Fatalf("expected editors empty, got %v", users)
	}
}

func TestAssignToMissingGroupFails(t *testing.T) {
	s := newTestStore(t)
	err := s.AssignUserToGroup(context.Background(), "alice", "nope")
	if !errors.Is(err, dynauth.ErrGroupNotFound) {
		t.Fatalf("expected ErrGroupNotFound, got %v", err)
	}
}

func TestCreateGroupConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateGroup(ctx, dynauth.Group{ID: "editors"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.CreateGroup(ctx, dynauth.Group{ID: "editors"})
	if !errors.Is(err, dynauth.ErrGroupAlreadyExists) {
		t.Fatalf("expected ErrGroupAlreadyExists, got %v", err)
	}
}

func TestDeleteGroupCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateGroup(ctx, dynauth.Group{ID: "editors"}); err != nil {
		t.Fatalf("create group: %v", err)
	}
	for _, user := range []string{"u1", "u2"} {
		if err := s.AssignUserToGroup(ctx, user, "editors"); err != nil {
			t.Fatalf("assign %s: %v", user, err)
		}
	}
	_, err := s.CreateIdentityPermissions(ctx, []dynauth.IdentityPermission{
		perm(dynauth.IdentityGroup, "editors", dynauth.EffectAllow, dynauth.ActionRead, "Sample", "*"),
		perm(dynauth.IdentityGroup, "editors", dynauth.EffectAllow, dynauth.ActionUpdate, "Sample", "*"),
		perm(dynauth.IdentityUser, "u1", dynauth.EffectAllow, dynauth.ActionRead, "Sample", "*"),
	})
	if err != nil {
		t.Fatalf("create permissions: %v", err)
	}

	if err := s.DeleteGroup(ctx, "editors"); err != nil {
		t.Fatalf("delete group: %v", err)
	}

	users, _ := s.GetUsersFromGroup(ctx, "editors")
	if len(users) != 0 {
		t.Fatalf("expected no members left, got %v", users)
	}
	perms, _ := s.GetIdentityPermissionsByIdentity(ctx, dynauth.IdentityGroup, "editors")
	if len(perms) != 0 {
		t.Fatalf("expected no group permissions left, got %v", perms)
	}
	userPerms, _ := s.GetIdentityPermissionsByIdentity(ctx, dynauth.IdentityUser, "u1")
	if len(userPerms) != 1 {
		t.Fatalf("expected unrelated user permission kept, got %v", userPerms)
	}

	// Deleting again converges without error.
	if err := s.DeleteGroup(ctx, "editors"); err != nil {
		t.Fatalf("repeated delete: %v", err)
	}

	// The group is gone, so assignment fails.
	if err := s.AssignUserToGroup(ctx, "u1", "editors"); !errors.Is(err, dynauth.ErrGroupNotFound) {
		t.Fatalf("expected ErrGroupNotFound after cascade, got %v", err)
	}
}

func TestGetIdentityPermissionsByIdentityAcrossSubjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.CreateIdentityPermissions(ctx, []dynauth.IdentityPermission{
		perm(dynauth.IdentityUser, "u1", dynauth.EffectAllow, dynauth.ActionRead, "Sample", "1"),
		perm(dynauth.IdentityUser, "u1", dynauth.EffectAllow, dynauth.ActionRead, "Role", "2"),
		perm(dynauth.IdentityUser, "u2", dynauth.EffectAllow, dynauth.ActionRead, "Sample", "1"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	perms, err := s.GetIdentityPermissionsByIdentity(ctx, dynauth.IdentityUser, "u1")
	if err != nil {
		t.Fatalf("query by identity: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("expected 2 permissions for u1 across subjects, got %d", len(perms))
	}
}

func TestChunkedBulkDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batch := make([]dynauth.IdentityPermission, 0, 60)
	for i := 0; i < 60; i++ {
		batch = append(batch, perm(dynauth.IdentityUser, fmt.Sprintf("u%d", i), dynauth.EffectAllow, dynauth.ActionRead, "Sample", "1"))
	}
	if _, err := s.CreateIdentityPermissions(ctx, batch); err != nil {
		t.Fatalf("create: %v", err)
	}
	// 60 keys span three 25-key chunks.
	if err := s.DeleteIdentityPermissions(ctx, batch); err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	left, _ := s.GetIdentityPermissionsBySubject(ctx, "Sample", "1", "", nil)
	if len(left) != 0 {
		t.Fatalf("expected all 60 deleted, got %d left", len(left))
	}
}
