package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"phaseline/internal/domain"
	"phaseline/internal/engine/authority"
	"phaseline/internal/events"
)

// GrantValidationDelegation lets an IT authority hand its request-validation
// capability to a delegate for a bounded window.
func (e Engine) GrantValidationDelegation(ctx context.Context, p authority.Principal, delegateID, startsAt, endsAt string) (domain.ValidationDelegation, error) {
	if !p.IsITRole() {
		return domain.ValidationDelegation{}, authority.ForbiddenError{Capability: authority.CapValidateIT}
	}
	start, err := time.Parse(time.RFC3339, startsAt)
	if err != nil {
		return domain.ValidationDelegation{}, err
	}
	end, err := time.Parse(time.RFC3339, endsAt)
	if err != nil {
		return domain.ValidationDelegation{}, err
	}
	if !end.After(start) {
		return domain.ValidationDelegation{}, TransitionError{Entity: "delegation", Action: "grant", Reason: "window end must follow start"}
	}
	if delegateID == "" || delegateID == p.ActorID {
		return domain.ValidationDelegation{}, TransitionError{Entity: "delegation", Action: "grant", Reason: "delegate must be another actor"}
	}
	d := domain.ValidationDelegation{
		ID:         uuid.New().String(),
		HolderID:   p.ActorID,
		DelegateID: delegateID,
		StartsAt:   startsAt,
		EndsAt:     endsAt,
		Active:     true,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, delegateID, e.nowStr()); err != nil {
		return d, err
	}
	if err := e.Repo.InsertValidationDelegation(ctx, tx, d); err != nil {
		return d, err
	}
	if err := e.events().Append(ctx, tx, "delegation.validation_granted", "delegation", d.ID, p.ActorID, events.EventPayload{
		"delegate_id": delegateID, "starts_at": startsAt, "ends_at": endsAt,
	}); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

// GrantManagerDelegation hands project-management authority for one project
// to a delegate. A missing end date means the grant lasts until the project
// closes.
func (e Engine) GrantManagerDelegation(ctx context.Context, projectID string, p authority.Principal, delegateID, startsAt string, endsAt *string) (domain.ManagerDelegation, error) {
	project, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.ManagerDelegation{}, err
	}
	allowed, err := e.Authority().CanManageProject(ctx, p, project)
	if err != nil {
		return domain.ManagerDelegation{}, err
	}
	if !allowed {
		return domain.ManagerDelegation{}, authority.ForbiddenError{Capability: authority.CapManageProject}
	}
	start, err := time.Parse(time.RFC3339, startsAt)
	if err != nil {
		return domain.ManagerDelegation{}, err
	}
	if endsAt != nil {
		end, err := time.Parse(time.RFC3339, *endsAt)
		if err != nil {
			return domain.ManagerDelegation{}, err
		}
		if !end.After(start) {
			return domain.ManagerDelegation{}, TransitionError{Entity: "delegation", Action: "grant", Reason: "window end must follow start"}
		}
	}
	if delegateID == "" || delegateID == p.ActorID {
		return domain.ManagerDelegation{}, TransitionError{Entity: "delegation", Action: "grant", Reason: "delegate must be another actor"}
	}
	switch project.Status {
	case domain.ProjectClosed, domain.ProjectCancelled:
		return domain.ManagerDelegation{}, TransitionError{Entity: "project", From: project.Status, Action: "delegate_manager"}
	}
	d := domain.ManagerDelegation{
		ID:          uuid.New().String(),
		ProjectID:   project.ID,
		DelegatorID: p.ActorID,
		DelegateID:  delegateID,
		StartsAt:    startsAt,
		EndsAt:      endsAt,
		Active:      true,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, delegateID, e.nowStr()); err != nil {
		return d, err
	}
	if err := e.Repo.InsertManagerDelegation(ctx, tx, d); err != nil {
		return d, err
	}
	payload := events.EventPayload{"project_id": project.ID, "delegate_id": delegateID, "starts_at": startsAt}
	if endsAt != nil {
		payload["ends_at"] = *endsAt
	}
	if err := e.events().Append(ctx, tx, "delegation.manager_granted", "delegation", d.ID, p.ActorID, payload); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

// RevokeValidationDelegation ends a grant early. Only the holder or another
// IT authority may revoke.
func (e Engine) RevokeValidationDelegation(ctx context.Context, id string, p authority.Principal) error {
	d, err := e.Repo.GetValidationDelegation(ctx, id)
	if err != nil {
		return err
	}
	if d.HolderID != p.ActorID && !p.IsITRole() {
		return authority.ForbiddenError{Capability: authority.CapValidateIT}
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeactivateValidationDelegation(ctx, tx, id, now); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, "delegation.validation_revoked", "delegation", id, p.ActorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RevokeManagerDelegation(ctx context.Context, id string, p authority.Principal) error {
	d, err := e.Repo.GetManagerDelegation(ctx, id)
	if err != nil {
		return err
	}
	project, err := e.Repo.GetProject(ctx, d.ProjectID)
	if err != nil {
		return err
	}
	allowed := d.DelegatorID == p.ActorID
	if !allowed {
		allowed, err = e.Authority().CanManageProject(ctx, p, project)
		if err != nil {
			return err
		}
	}
	if !allowed {
		return authority.ForbiddenError{Capability: authority.CapManageProject}
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeactivateManagerDelegation(ctx, tx, id, now); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, "delegation.manager_revoked", "delegation", id, p.ActorID, events.EventPayload{"project_id": d.ProjectID}); err != nil {
		return err
	}
	return tx.Commit()
}
