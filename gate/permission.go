package gate

import (
	"fmt"
	"strings"
)

// Permission is a granted "resource:action" pair, e.g. "budget_pool:allocate"
// or "transfer:approve". The resource or the action may be the wildcard "*".
type Permission string

// Wildcards
const (
	WildcardAll          = "*"
	PermissionSuperAdmin Permission = "*:*"
)

// NewPermission creates a permission from resource type and action.
func NewPermission(resourceType string, action Action) Permission {
	return Permission(resourceType + ":" + string(action))
}

// ParsePermission validates s and returns it as a Permission.
func ParsePermission(s string) (Permission, error) {
	res, act, ok := strings.Cut(s, ":")
	if !ok || res == "" || act == "" || strings.Contains(act, ":") {
		return "", fmt.Errorf("gate: malformed permission %q", s)
	}
	return Permission(s), nil
}

// Parse splits a permission into resource type and action.
func (p Permission) Parse() (resourceType string, action Action) {
	res, act, ok := strings.Cut(string(p), ":")
	if !ok {
		return "", ""
	}
	return res, Action(act)
}

// Matches reports whether the granted permission p covers requested.
// "*:*" covers everything, "budget_pool:*" covers every budget_pool action.
func (p Permission) Matches(requested Permission) bool {
	if p == PermissionSuperAdmin || p == requested {
		return true
	}
	res, act := p.Parse()
	if string(act) != WildcardAll {
		return false
	}
	reqRes, _ := requested.Parse()
	return res == reqRes
}
