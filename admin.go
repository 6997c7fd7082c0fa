package dynauth

import (
	"context"
	"fmt"
)

// Administrative surface used by provisioning tooling. These are thin
// passthroughs to the attached stores so one Service handle covers both the
// request path and management. They fail with ErrBadConfiguration on a
// static-configuration service that has no stores attached.

func (s *Service) storesAttached() error {
	if s.perms == nil || s.groups == nil {
		return fmt.Errorf("%w: service has no stores attached", ErrBadConfiguration)
	}
	return nil
}

// CreateIdentityPermission creates a single permission and reports a conflict
// as ErrIdentityPermissionAlreadyExists instead of an unprocessed entry.
func (s *Service) CreateIdentityPermission(ctx context.Context, perm IdentityPermission) error {
	if err := s.storesAttached(); err != nil {
		return err
	}
	res, err := s.perms.CreateIdentityPermissions(ctx, []IdentityPermission{perm})
	if err != nil {
		return err
	}
	if len(res.Unprocessed) > 0 {
		return fmt.Errorf("%w: %s %s %s on %s", ErrIdentityPermissionAlreadyExists,
			perm.Identity.String(), perm.Effect, perm.Action, perm.Subject.String())
	}
	return nil
}

func (s *Service) CreateIdentityPermissions(ctx context.Context, perms []IdentityPermission) (*CreateResult, error) {
	if err := s.storesAttached(); err != nil {
		return nil, err
	}
	return s.perms.CreateIdentityPermissions(ctx, perms)
}

func (s *Service) DeleteIdentityPermissions(ctx context.Context, perms []IdentityPermission) error {
	if err := s.storesAttached(); err != nil {
		return err
	}
	return s.perms.DeleteIdentityPermissions(ctx, perms)
}

func (s *Service) DeleteSubjectPermissions(ctx context.Context, subjectType, subjectID string) error {
	if err := s.storesAttached(); err != nil {
		return err
	}
	return s.perms.DeleteSubjectPermissions(ctx, subjectType, subjectID)
}

func (s *Service) GetIdentityPermissionsBySubject(ctx context.Context, subjectType, subjectID string, action Action, identities []Identity) ([]IdentityPermission, error) {
	if err := s.storesAttached(); err != nil {
		return nil, err
	}
	return s.perms.GetIdentityPermissionsBySubject(ctx, subjectType, subjectID, action, identities)
}

func (s *Service) GetIdentityPermissionsByIdentity(ctx context.Context, identityType IdentityType, identityID string) ([]IdentityPermission, error) {
	if err := s.storesAttached(); err != nil {
		return nil, err
	}
	return s.perms.GetIdentityPermissionsByIdentity(ctx, identityType, identityID)
}

func (s *Service) CreateGroup(ctx context.Context, group Group) error {
	if err := s.storesAttached(); err != nil {
		return err
	}
	return s.groups.CreateGroup(ctx, group)
}

func (s *Service) DeleteGroup(ctx context.Context, groupID string) error {
	if err := s.storesAttached(); err != nil {
		return err
	}
	return s.groups.DeleteGroup(ctx, groupID)
}

func (s *Service) GetUserGroups(ctx context.Context, userID string) ([]string, error) {
	if err := s.storesAttached(); err != nil {
		return nil, err
	}
	return s.groups.GetUserGroups(ctx, userID)
}

func (s *Service) GetUsersFromGroup(ctx context.Context, groupID string) ([]string, error) {
	if err := s.storesAttached(); err != nil {
		return nil, err
	}
	return s.groups.GetUsersFromGroup(ctx, groupID)
}

func (s *Service) AssignUserToGroup(ctx context.Context, userID, groupID string) error {
	if err := s.storesAttached(); err != nil {
		return err
	}
	return s.groups.AssignUserToGroup(ctx, userID, groupID)
}

func (s *Service) RemoveUserFromGroup(ctx context.Context, userID, groupID string) error {
	if err := s.storesAttached(); err != nil {
		return err
	}
	return s.groups.RemoveUserFromGroup(ctx, userID, groupID)
}
