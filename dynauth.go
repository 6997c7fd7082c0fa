package dynauth

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/date"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// IdentityType discriminates the actor side of a permission
type IdentityType string

const (
	IdentityUser  IdentityType = "USER"
	IdentityGroup IdentityType = "GROUP"
)

// Identity is the actor a permission applies to: a user or a group
type Identity struct {
	Type IdentityType `json:"identity_type" yaml:"identity_type"`
	ID   string       `json:"identity_id" yaml:"identity_id"`
}

func (i Identity) String() string {
	return string(i.Type) + "#" + i.ID
}

// Wildcard is the subject id token meaning "all instances of the subject type".
// The same token replaces concrete path parameters during route normalization.
const Wildcard = "*"

// Subject is the resource side of a permission: a type and an id, where the
// id may be Wildcard
type Subject struct {
	Type string `json:"subject_type" yaml:"subject_type"`
	ID   string `json:"subject_id" yaml:"subject_id"`
}

func (s Subject) String() string {
	return s.Type + "#" + s.ID
}

// Effect is the outcome a permission rule attaches: allow or deny
type Effect string

const (
	EffectAllow Effect = "ALLOW"
	EffectDeny  Effect = "DENY"
)

// Action is the operation class a permission covers
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionRead   Action = "READ"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// IdentityPermission grants or revokes an action on a subject for an identity.
// The tuple (identity, effect, action, subject) is unique in the store;
// permissions are never updated in place, only deleted and recreated.
// Conditions are opaque key/value predicates persisted untouched by the store;
// the rule engine evaluates the keys it recognizes and ignores the rest.
type IdentityPermission struct {
	Identity    Identity       `json:"identity" yaml:"identity"`
	Effect      Effect         `json:"effect" yaml:"effect"`
	Action      Action         `json:"action" yaml:"action"`
	Subject     Subject        `json:"subject" yaml:"subject"`
	Fields      []string       `json:"fields,omitempty" yaml:"fields,omitempty"`
	Conditions  map[string]any `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
}

// Group is a named collection of users that permissions can target
type Group struct {
	ID          string `json:"group_id" yaml:"group_id"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// AuthenticatedUser is supplied by the external identity collaborator on the
// request context. The engine never persists it.
type AuthenticatedUser struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// Valid reports whether the user carries the fields authorization needs.
func (u *AuthenticatedUser) Valid() bool {
	return u != nil && u.ID != ""
}

// DynamicOperation is one concrete check a request must satisfy: an action on
// a subject, optionally narrowed to a single field
type DynamicOperation struct {
	Action  Action  `json:"action" yaml:"action"`
	Subject Subject `json:"subject" yaml:"subject"`
	Field   string  `json:"field,omitempty" yaml:"field,omitempty"`
}

func (op DynamicOperation) String() string {
	if op.Field != "" {
		return string(op.Action) + " " + op.Subject.String() + "." + op.Field
	}
	return string(op.Action) + " " + op.Subject.String()
}

// ============================================================================
// STORE CAPABILITY INTERFACES
// ============================================================================

// CreateResult reports the outcome of a best-effort bulk permission insert.
// Unprocessed holds the entries whose not-exists condition failed; everything
// else committed.
type CreateResult struct {
	Unprocessed []IdentityPermission
}

// PermissionStore is the durable persistence capability for identity
// permissions. Implementations own the key schema; see stores.
type PermissionStore interface {
	CreateIdentityPermissions(ctx context.Context, perms []IdentityPermission) (*CreateResult, error)
	DeleteIdentityPermissions(ctx context.Context, perms []IdentityPermission) error
	DeleteSubjectPermissions(ctx context.Context, subjectType, subjectID string) error
	GetIdentityPermissionsBySubject(ctx context.Context, subjectType, subjectID string, action Action, identities []Identity) ([]IdentityPermission, error)
	GetIdentityPermissionsByIdentity(ctx context.Context, identityType IdentityType, identityID string) ([]IdentityPermission, error)
}

// GroupDirectory is the group and membership capability, layered on the same
// store as PermissionStore. Group deletion cascades through memberships and
// the group's identity permissions.
type GroupDirectory interface {
	CreateGroup(ctx context.Context, group Group) error
	DeleteGroup(ctx context.Context, groupID string) error
	GetUserGroups(ctx context.Context, userID string) ([]string, error)
	GetUsersFromGroup(ctx context.Context, groupID string) ([]string, error)
	AssignUserToGroup(ctx context.Context, userID, groupID string) error
	RemoveUserFromGroup(ctx context.Context, userID, groupID string) error
}

// ============================================================================
// RULE ENGINE
// ============================================================================

// abilityKey addresses one grant tuple. Field is empty for an unrestricted
// grant covering every field of the subject.
type abilityKey struct {
	action      Action
	subjectType string
	subjectID   string
	field       string
}

type grant struct {
	allowed    bool
	reason     string
	conditions map[string]any
}

// Ability is the in-memory model built by folding a permission list in order:
// ALLOW entries grant tuples, DENY entries revoke them and attach a reason.
type Ability struct {
	grants map[abilityKey]*grant
	now    func() time.Time
}

// NewAbility folds perms in list order into an ability model.
func NewAbility(perms []IdentityPermission) *Ability {
	a := &Ability{grants: make(map[abilityKey]*grant, len(perms)), now: time.Now}
	for _, p := range perms {
		a.fold(p)
	}
	return a
}

func (a *Ability) fold(p IdentityPermission) {
	fields := p.Fields
	if len(fields) == 0 {
		fields = []string{""}
	}
	for _, f := range fields {
		key := abilityKey{action: p.Action, subjectType: p.Subject.Type, subjectID: p.Subject.ID, field: f}
		switch p.Effect {
		case EffectAllow:
			a.grants[key] = &grant{allowed: true, conditions: p.Conditions}
		case EffectDeny:
			a.grants[key] = &grant{allowed: false, reason: p.Description}
		}
	}
}

// lookup resolves one exact tuple, falling back from the field-level grant to
// the unrestricted one.
func (a *Ability) lookup(action Action, subjectType, subjectID, field string) *grant {
	if field != "" {
		if g, ok := a.grants[abilityKey{action, subjectType, subjectID, field}]; ok {
			return g
		}
	}
	if g, ok := a.grants[abilityKey{action, subjectType, subjectID, ""}]; ok {
		return g
	}
	return nil
}

// Can reports whether op is granted. Exact subject id wins over the wildcard.
// A DENY match or an expired time window yields the attached reason for
// server-side logs; callers must not forward it.
func (a *Ability) Can(op DynamicOperation) (bool, string) {
	g := a.lookup(op.Action, op.Subject.Type, op.Subject.ID, op.Field)
	if g == nil && op.Subject.ID != Wildcard {
		g = a.lookup(op.Action, op.Subject.Type, Wildcard, op.Field)
	}
	if g == nil {
		return false, ""
	}
	if !g.allowed {
		return false, g.reason
	}
	if ok, reason := a.conditionsHold(g.conditions); !ok {
		return false, reason
	}
	return true, ""
}

// conditionsHold evaluates the condition keys the engine recognizes:
// valid_from and valid_until, flexible date strings. Unknown keys are ignored.
func (a *Ability) conditionsHold(conds map[string]any) (bool, string) {
	if len(conds) == 0 {
		return true, ""
	}
	now := a.now()
	if raw, ok := conds["valid_from"]; ok {
		t, err := parseConditionTime(raw)
		if err != nil {
			return false, fmt.Sprintf("unparseable valid_from: %v", err)
		}
		if now.Before(t) {
			return false, "permission not yet valid"
		}
	}
	if raw, ok := conds["valid_until"]; ok {
		t, err := parseConditionTime(raw)
		if err != nil {
			return false, fmt.Sprintf("unparseable valid_until: %v", err)
		}
		if now.After(t) {
			return false, "permission expired"
		}
	}
	return true, ""
}

func parseConditionTime(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		return date.Parse(v)
	default:
		return time.Time{}, fmt.Errorf("unsupported condition value %T", raw)
	}
}

// Evaluate checks every required operation against the permission list and
// short-circuits on the first failure. The returned error always unwraps to
// ErrPermissionNotGranted; the richer reason travels only in the wrapped text
// and is intended for logging, never for the caller-visible response.
func Evaluate(perms []IdentityPermission, ops []DynamicOperation) error {
	ability := NewAbility(perms)
	for _, op := range ops {
		ok, reason := ability.Can(op)
		if ok {
			continue
		}
		if reason != "" {
			return fmt.Errorf("%w: %s: %s", ErrPermissionNotGranted, op.String(), reason)
		}
		return fmt.Errorf("%w: %s", ErrPermissionNotGranted, op.String())
	}
	return nil
}
