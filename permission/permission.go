// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package permission evaluates ACL grants against role membership, the way
// the teacher's core/access package evaluates Authorization roles against a
// resource's permission map, generalized from a single Qualifier/Identifier
// check into a full ACL + RBAC engine with explicit conflict/default
// policies (spec section 10).
package permission

import "github.com/HYChou0515/autocrud-sub001/resource"

// Action is one of the operations an ACLPermission can grant or deny.
type Action string

// the action vocabulary a permission entry can name.
const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionAdmin  Action = "admin"
)

// Effect is whether a permission entry grants or denies its action.
type Effect string

// the two effects.
const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// ACLPermission grants or denies one Action on one subject (a user id or a
// role name). Object names what the grant applies to: an exact resource id,
// a resource-type name (e.g. "item"), the wildcard "*", or "" (null, matches
// any object) -- the four candidate tiers spec section 4.7 evaluates in that
// priority order.
type ACLPermission struct {
	ResourceID string // kept as the historical field name; holds the object
	Subject    string
	Action     Action
	Effect     Effect
}

// RoleMembership states that Member (a user id or another role name) is a
// member of Role. Cycles are tolerated; evaluation guards against them with
// a visited set rather than assuming the graph is acyclic.
type RoleMembership struct {
	Role   string
	Member string
}

// ConflictPolicy decides the outcome when both an allow and a deny entry
// apply to the same (resource, subject-in-scope, action).
type ConflictPolicy string

// the two conflict policies.
const (
	DenyOverrides  ConflictPolicy = "deny_overrides"
	AllowOverrides ConflictPolicy = "allow_overrides"
)

// DefaultPolicy decides the outcome when no entry applies at all.
type DefaultPolicy string

// the two default policies.
const (
	DefaultAllow DefaultPolicy = "default_allow"
	DefaultDeny  DefaultPolicy = "default_deny"
)

// ACLProvider is the read-side the engine needs; kept as a narrow interface
// (rather than importing the manager package) so manager can depend on
// permission without a cycle.
type ACLProvider interface {
	// PermissionsForResource returns every ACLPermission whose object matches
	// one of the candidate tiers: exact resourceID, typeName, "*", or "".
	PermissionsForResource(resourceID, typeName string) ([]ACLPermission, error)
	RoleMemberships() ([]RoleMembership, error)
}

// Engine evaluates whether an actor may perform an action on a resource.
type Engine struct {
	provider  ACLProvider
	conflict  ConflictPolicy
	byDefault DefaultPolicy
	rootUsers map[string]bool
}

// New builds an Engine. rootUsers bypass all checks, matching the teacher's
// backdoor-admin shortcut but scoped to an explicit allowlist instead of a
// signed token.
func New(provider ACLProvider, conflict ConflictPolicy, byDefault DefaultPolicy, rootUsers ...string) *Engine {
	roots := make(map[string]bool, len(rootUsers))
	for _, u := range rootUsers {
		roots[u] = true
	}
	return &Engine{provider: provider, conflict: conflict, byDefault: byDefault, rootUsers: roots}
}

// IsAuthorized reports whether actor may perform action on resourceID, a
// resource of type typeName. Both are passed to the provider so grants can
// target either the exact resource or its whole type (spec section 4.7's
// candidate-object priority list).
func (e *Engine) IsAuthorized(actor, resourceID, typeName string, action Action) (bool, error) {
	if e.rootUsers[actor] {
		return true, nil
	}
	perms, err := e.provider.PermissionsForResource(resourceID, typeName)
	if err != nil {
		return false, err
	}
	if len(perms) == 0 {
		return e.byDefault == DefaultAllow, nil
	}
	memberships, err := e.provider.RoleMemberships()
	if err != nil {
		return false, err
	}
	scope := subjectsInScope(actor, memberships)

	var allow, deny bool
	for _, p := range perms {
		if p.Action != action || !scope[p.Subject] {
			continue
		}
		switch p.Effect {
		case EffectAllow:
			allow = true
		case EffectDeny:
			deny = true
		}
	}

	switch {
	case allow && deny:
		return e.conflict == AllowOverrides, nil
	case allow:
		return true, nil
	case deny:
		return false, nil
	default:
		return e.byDefault == DefaultAllow, nil
	}
}

// subjectsInScope returns the set of subjects (actor plus every role actor
// transitively belongs to) a permission entry's Subject may match. Walked
// breadth-first with a visited set rather than recursively, so a cyclic
// role graph (A member-of B, B member-of A) terminates instead of
// overflowing the stack.
func subjectsInScope(actor string, memberships []RoleMembership) map[string]bool {
	rolesOf := make(map[string][]string) // member -> roles it belongs to
	for _, m := range memberships {
		rolesOf[m.Member] = append(rolesOf[m.Member], m.Role)
	}

	scope := map[string]bool{actor: true}
	queue := []string{actor}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, role := range rolesOf[cur] {
			if !scope[role] {
				scope[role] = true
				queue = append(queue, role)
			}
		}
	}
	return scope
}

// RequireAuthorized returns a PermissionDenied *resource.Error when actor
// may not perform action on resourceID, nil otherwise.
func (e *Engine) RequireAuthorized(actor, resourceID, typeName string, action Action) error {
	ok, err := e.IsAuthorized(actor, resourceID, typeName, action)
	if err != nil {
		return err
	}
	if !ok {
		return resource.NewError(resource.KindPermissionDenied, "%s is not authorized to %s %s", actor, action, resourceID)
	}
	return nil
}
