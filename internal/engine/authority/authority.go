// Package authority decides whether a principal may act in a capability,
// combining base roles with time-bounded delegations. Windows are evaluated
// against the resolver clock on every call; an expired delegation is denied
// on the very next check.
package authority

import (
	"context"
	"fmt"
	"time"

	"phaseline/internal/domain"
	"phaseline/internal/repo"
)

// Capabilities.
const (
	CapValidateIT    = "validate_it"
	CapManageProject = "manage_project"
)

// ForbiddenError indicates the principal lacks a capability.
type ForbiddenError struct {
	Capability string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("capability %s required", e.Capability)
}

// Principal is the trusted identity context: an actor id, base roles and
// the business direction the actor belongs to (empty when unknown).
type Principal struct {
	ActorID     string
	Roles       []string
	DirectionID string
}

func (p Principal) HasRole(roles ...string) bool {
	for _, have := range p.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// IsITRole reports whether the principal holds an IT base role, without the
// delegation overlay. Forced terminations require this.
func (p Principal) IsITRole() bool {
	return p.HasRole(domain.RoleITDirector, domain.RoleITAdmin, domain.RoleSolutionsManager)
}

// capabilityRoles is the single table mapping capabilities to base roles;
// everything else goes through the delegation overlay.
var capabilityRoles = map[string][]string{
	CapValidateIT:    {domain.RoleITDirector, domain.RoleITAdmin, domain.RoleSolutionsManager},
	CapManageProject: {domain.RoleITDirector, domain.RoleITAdmin, domain.RoleSolutionsManager},
}

// Resolver answers capability checks against the delegation store.
type Resolver struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (r Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// CanValidateIT reports whether the principal may act as IT validator,
// either by base role or through an active ValidationDelegation whose
// window contains now (inclusive bounds).
func (r Resolver) CanValidateIT(ctx context.Context, p Principal) (bool, error) {
	if p.HasRole(capabilityRoles[CapValidateIT]...) {
		return true, nil
	}
	grants, err := r.Repo.ActiveValidationDelegations(ctx, p.ActorID)
	if err != nil {
		return false, err
	}
	now := r.now()
	for _, g := range grants {
		if windowContains(g.StartsAt, &g.EndsAt, now) {
			return true, nil
		}
	}
	return false, nil
}

// CanManageProject reports whether the principal may act as project manager
// for the given project: privileged base role (solutions managers hold
// manager authority on every project), assigned manager, or an active
// ManagerDelegation (nil end = until closure).
func (r Resolver) CanManageProject(ctx context.Context, p Principal, project domain.Project) (bool, error) {
	if p.HasRole(capabilityRoles[CapManageProject]...) {
		return true, nil
	}
	if project.ManagerID != nil && *project.ManagerID == p.ActorID {
		return true, nil
	}
	grants, err := r.Repo.ActiveManagerDelegations(ctx, project.ID, p.ActorID)
	if err != nil {
		return false, err
	}
	now := r.now()
	for _, g := range grants {
		if windowContains(g.StartsAt, g.EndsAt, now) {
			return true, nil
		}
	}
	return false, nil
}

func windowContains(startsAt string, endsAt *string, now time.Time) bool {
	start, err := time.Parse(time.RFC3339, startsAt)
	if err != nil || now.Before(start) {
		return false
	}
	if endsAt == nil || *endsAt == "" {
		return true
	}
	end, err := time.Parse(time.RFC3339, *endsAt)
	if err != nil {
		return false
	}
	return !now.After(end)
}
