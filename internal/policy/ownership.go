package policy

import (
	"context"

	"github.com/diewo77/go-assistance/gate"
	"github.com/diewo77/go-assistance/internal/models"
	"gorm.io/gorm"
)

// Ownable is an interface for resources that have an owner.
type Ownable interface {
	GetUserID() uint
}

// OwnershipPolicy allows a user to act on the resources they own.
type OwnershipPolicy struct{}

// NewOwnershipPolicy creates a new ownership policy.
func NewOwnershipPolicy() *OwnershipPolicy {
	return &OwnershipPolicy{}
}

// Can checks if the user owns the resource.
// For list/create actions (resource is nil), it always returns true
// since profile permissions already control access.
func (p *OwnershipPolicy) Can(_ context.Context, userID uint, _ gate.Action, resource any) bool {
	if resource == nil {
		return true
	}
	// Resources without an owner are denied.
	ownable, ok := resource.(Ownable)
	if !ok {
		return false
	}
	return ownable.GetUserID() == userID
}

// Departmental is implemented by resources scoped to a department.
type Departmental interface {
	GetDepartment() string
}

// DepartmentPolicy restricts mutating actions to resources of the actor's
// department. Reads are left to profile permissions.
type DepartmentPolicy struct {
	db *gorm.DB
}

// NewDepartmentPolicy creates a department policy reading users from db.
func NewDepartmentPolicy(db *gorm.DB) *DepartmentPolicy {
	return &DepartmentPolicy{db: db}
}

func (p *DepartmentPolicy) Can(ctx context.Context, userID uint, action gate.Action, resource any) bool {
	switch action {
	case gate.ActionView, gate.ActionList, gate.ActionAnalytics:
		return true
	}
	if resource == nil {
		return true
	}
	d, ok := resource.(Departmental)
	if !ok {
		return false
	}
	var user models.User
	if err := p.db.WithContext(ctx).Select("id", "department").First(&user, userID).Error; err != nil {
		return false
	}
	return user.Department != "" && user.Department == d.GetDepartment()
}

// BypassPolicy wraps another policy and allows access whenever bypass
// returns true for the user and action.
type BypassPolicy struct {
	inner  gate.Policy[uint]
	bypass func(ctx context.Context, userID uint, action gate.Action) bool
}

// NewBypassPolicy creates a policy that skips inner when bypass holds.
func NewBypassPolicy(inner gate.Policy[uint], bypass func(ctx context.Context, userID uint, action gate.Action) bool) *BypassPolicy {
	return &BypassPolicy{inner: inner, bypass: bypass}
}

// Can checks the bypass first, then falls back to the inner policy.
func (p *BypassPolicy) Can(ctx context.Context, userID uint, action gate.Action, resource any) bool {
	if p.bypass(ctx, userID, action) {
		return true
	}
	return p.inner.Can(ctx, userID, action, resource)
}
