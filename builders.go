package dynauth

// Builders provide a fluent API for creating IdentityPermissions and route mappings

// PermissionBuilder builds an IdentityPermission
type PermissionBuilder struct {
	p IdentityPermission
}

func NewPermissionBuilder() *PermissionBuilder {
	return &PermissionBuilder{p: IdentityPermission{Effect: EffectAllow}}
}

func (b *PermissionBuilder) User(id string) *PermissionBuilder {
	b.p.Identity = Identity{Type: IdentityUser, ID: id}
	return b
}
func (b *PermissionBuilder) Group(id string) *PermissionBuilder {
	b.p.Identity = Identity{Type: IdentityGroup, ID: id}
	return b
}
func (b *PermissionBuilder) Allow() *PermissionBuilder { b.p.Effect = EffectAllow; return b }
func (b *PermissionBuilder) Deny() *PermissionBuilder  { b.p.Effect = EffectDeny; return b }
func (b *PermissionBuilder) Action(a Action) *PermissionBuilder {
	b.p.Action = a
	return b
}
func (b *PermissionBuilder) Subject(subjectType, subjectID string) *PermissionBuilder {
	b.p.Subject = Subject{Type: subjectType, ID: subjectID}
	return b
}
func (b *PermissionBuilder) AllSubjects(subjectType string) *PermissionBuilder {
	b.p.Subject = Subject{Type: subjectType, ID: Wildcard}
	return b
}
func (b *PermissionBuilder) Fields(fields ...string) *PermissionBuilder {
	b.p.Fields = append(b.p.Fields, fields...)
	return b
}
func (b *PermissionBuilder) Condition(key string, value any) *PermissionBuilder {
	if b.p.Conditions == nil {
		b.p.Conditions = make(map[string]any)
	}
	b.p.Conditions[key] = value
	return b
}
func (b *PermissionBuilder) Description(d string) *PermissionBuilder {
	b.p.Description = d
	return b
}
func (b *PermissionBuilder) Build() IdentityPermission { return b.p }

// OperationBuilder builds a DynamicOperation
type OperationBuilder struct {
	op DynamicOperation
}

func NewOperationBuilder() *OperationBuilder {
	return &OperationBuilder{}
}

func (b *OperationBuilder) Action(a Action) *OperationBuilder { b.op.Action = a; return b }
func (b *OperationBuilder) Subject(subjectType, subjectID string) *OperationBuilder {
	b.op.Subject = Subject{Type: subjectType, ID: subjectID}
	return b
}
func (b *OperationBuilder) AllSubjects(subjectType string) *OperationBuilder {
	b.op.Subject = Subject{Type: subjectType, ID: Wildcard}
	return b
}
func (b *OperationBuilder) Field(f string) *OperationBuilder { b.op.Field = f; return b }
func (b *OperationBuilder) Build() DynamicOperation         { return b.op }
