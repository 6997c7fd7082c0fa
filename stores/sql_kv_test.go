package stores

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/dynauth"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	// setup in-memory sqlite
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	db := squealx.NewDb(sqlDB, "sqlite", "testdb")

	// run migrations
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	s := New(NewSQLKV(db))
	if err := s.Init(context.Background(), nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

func TestSQLStorePermissionRoundtrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	res, err := s.CreateIdentityPermissions(ctx, []dynauth.IdentityPermission{
		perm(dynauth.IdentityUser, "u1", dynauth.EffectAllow, dynauth.ActionRead, "Sample", "1"),
		perm(dynauth.IdentityGroup, "editors", dynauth.EffectDeny, dynauth.ActionUpdate, "Sample", "1"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(res.Unprocessed) != 0 {
		t.Fatalf("unexpected unprocessed entries: %d", len(res.Unprocessed))
	}

	got, err := s.GetIdentityPermissionsBySubject(ctx, "Sample", "1", "", nil)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 permissions, got %d", len(got))
	}

	byIdentity, err := s.GetIdentityPermissionsByIdentity(ctx, dynauth.IdentityGroup, "editors")
	if err != nil || len(byIdentity) != 1 {
		t.Fatalf("expected inverted lookup to return the group grant, got %v %v", byIdentity, err)
	}
	if byIdentity[0].Effect != dynauth.EffectDeny {
		t.Fatalf("expected DENY effect to survive the roundtrip, got %s", byIdentity[0].Effect)
	}
}

func TestSQLStoreConflictAndCascade(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	if err := s.CreateGroup(ctx, dynauth.Group{ID: "editors", Description: "write access"}); err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := s.CreateGroup(ctx, dynauth.Group{ID: "editors"}); !errors.Is(err, dynauth.ErrGroupAlreadyExists) {
		t.Fatalf("expected ErrGroupAlreadyExists, got %v", err)
	}
	if err := s.AssignUserToGroup(ctx, "alice", "editors"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := s.CreateIdentityPermissions(ctx, []dynauth.IdentityPermission{
		perm(dynauth.IdentityGroup, "editors", dynauth.EffectAllow, dynauth.ActionRead, "Sample", "*"),
	}); err != nil {
		t.Fatalf("create permission: %v", err)
	}

	if err := s.DeleteGroup(ctx, "editors"); err != nil {
		t.Fatalf("delete group: %v", err)
	}
	groups, err := s.GetUserGroups(ctx, "alice")
	if err != nil || len(groups) != 0 {
		t.Fatalf("expected membership cascaded away, got %v %v", groups, err)
	}
	perms, err := s.GetIdentityPermissionsByIdentity(ctx, dynauth.IdentityGroup, "editors")
	if err != nil || len(perms) != 0 {
		t.Fatalf("expected group permissions cascaded away, got %v %v", perms, err)
	}
}

func TestSQLStoreSpecialCharacterIdentifiers(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	// Identifiers with SQL wildcard characters stay scoped to their own subject.
	if _, err := s.CreateIdentityPermissions(ctx, []dynauth.IdentityPermission{
		perm(dynauth.IdentityUser, "u1", dynauth.EffectAllow, dynauth.ActionRead, "Doc", "a_b"),
		perm(dynauth.IdentityUser, "u1", dynauth.EffectAllow, dynauth.ActionRead, "Doc", "axb"),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.GetIdentityPermissionsBySubject(ctx, "Doc", "a_b", "", nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || got[0].Subject.ID != "a_b" {
		t.Fatalf("expected only the a_b subject, got %v", got)
	}
}
