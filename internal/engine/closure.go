package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"phaseline/internal/domain"
	"phaseline/internal/engine/authority"
	"phaseline/internal/events"
	"phaseline/internal/repo"
)

// Closure slot names.
const (
	SlotRequester = "requester"
	SlotBusiness  = "business"
	SlotIT        = "it"
)

// RequestClosure runs the Acceptance→Closure gate and opens the tri-party
// closure workflow.
func (e Engine) RequestClosure(ctx context.Context, projectID string, p authority.Principal, desiredDate string) (domain.ClosureRequest, error) {
	project, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.ClosureRequest{}, err
	}
	allowed, err := e.Authority().CanManageProject(ctx, p, project)
	if err != nil {
		return domain.ClosureRequest{}, err
	}
	if !allowed {
		return domain.ClosureRequest{}, authority.ForbiddenError{Capability: authority.CapManageProject}
	}
	if project.Phase != domain.PhaseAcceptance {
		return domain.ClosureRequest{}, TransitionError{Entity: "project", From: project.Phase, Action: "request_closure"}
	}
	if !project.AcceptanceOK {
		return domain.ClosureRequest{}, TransitionError{Entity: "project", From: project.Phase, Action: "request_closure", Reason: "acceptance approval required"}
	}
	if project.ClosureSummary == "" || project.LessonsLearned == "" {
		return domain.ClosureRequest{}, TransitionError{Entity: "project", From: project.Phase, Action: "request_closure", Reason: "closure summary and lessons learned required"}
	}
	if err := e.checkGate(ctx, project, domain.PhaseClosure); err != nil {
		return domain.ClosureRequest{}, err
	}
	if _, err := e.Repo.OpenClosureRequest(ctx, projectID); err == nil {
		return domain.ClosureRequest{}, TransitionError{Entity: "project", From: project.Phase, Action: "request_closure", Reason: "closure already in progress"}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.ClosureRequest{}, err
	}

	now := e.nowStr()
	c := domain.ClosureRequest{
		ID:            uuid.New().String(),
		ProjectID:     project.ID,
		RequestedBy:   p.ActorID,
		RequestedAt:   now,
		DesiredDate:   optionalString(desiredDate),
		RequesterSlot: domain.SlotPending,
		BusinessSlot:  domain.SlotPending,
		ITSlot:        domain.SlotPending,
	}
	project.Phase = domain.PhaseClosure
	project.Status = domain.ProjectClosureInProgress
	project.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertClosureRequest(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Repo.UpdateProject(ctx, tx, project); err != nil {
		return c, err
	}
	if err := e.Repo.AppendPhaseHistory(ctx, tx, domain.PhaseHistory{
		ProjectID: project.ID,
		Phase:     project.Phase,
		Status:    project.Status,
		ActorID:   p.ActorID,
		TS:        now,
	}); err != nil {
		return c, err
	}
	if err := e.events().Append(ctx, tx, "closure.requested", "closure", c.ID, p.ActorID, events.EventPayload{"project_id": project.ID}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// ApproveClosureSlot records one party's verdict. Each slot is settable
// once per attempt; completion is re-evaluated after every write as
// (requester approved OR business approved) AND IT approved. An IT
// rejection reopens the attempt: all three slots reset and the project
// rolls back to acceptance for rework.
func (e Engine) ApproveClosureSlot(ctx context.Context, projectID string, p authority.Principal, slot string, approve bool, comment string) (domain.ClosureRequest, error) {
	project, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.ClosureRequest{}, err
	}
	c, err := e.Repo.OpenClosureRequest(ctx, projectID)
	if err != nil {
		return domain.ClosureRequest{}, err
	}
	if err := e.authorizeSlot(ctx, project, p, slot); err != nil {
		return c, err
	}
	current := ""
	switch slot {
	case SlotRequester:
		current = c.RequesterSlot
	case SlotBusiness:
		current = c.BusinessSlot
	case SlotIT:
		current = c.ITSlot
	default:
		return c, errors.New("slot must be requester, business or it")
	}
	if current != domain.SlotPending {
		return c, TransitionError{Entity: "closure", From: current, Action: "approve_slot", Reason: "slot already decided"}
	}
	if !approve && comment == "" {
		return c, CommentRequiredError{Action: "closure rejection"}
	}

	now := e.nowStr()
	verdict := domain.SlotApproved
	if !approve {
		verdict = domain.SlotRejected
	}
	phaseRolledBack := false
	switch slot {
	case SlotRequester:
		c.RequesterSlot = verdict
	case SlotBusiness:
		c.BusinessSlot = verdict
	case SlotIT:
		c.ITSlot = verdict
		if !approve {
			// full rework: every party validates again on the reopened attempt
			c.RequesterSlot = domain.SlotPending
			c.BusinessSlot = domain.SlotPending
			c.ITSlot = domain.SlotPending
			if project.Phase == domain.PhaseClosure {
				project.Phase = domain.PhaseAcceptance
				project.Status = domain.ProjectInProgress
				project.UpdatedAt = now
				phaseRolledBack = true
			}
		}
	}

	completedNow := false
	if !c.Completed {
		if (c.RequesterSlot == domain.SlotApproved || c.BusinessSlot == domain.SlotApproved) && c.ITSlot == domain.SlotApproved {
			c.Completed = true
			c.FinalClosureAt = &now
			completedNow = true
			project.Status = domain.ProjectClosed
			project.Phase = domain.PhaseClosure
			project.ActualEndDate = &now
			project.UpdatedAt = now
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateClosureRequest(ctx, tx, c); err != nil {
		return c, err
	}
	if phaseRolledBack || completedNow {
		if err := e.Repo.UpdateProject(ctx, tx, project); err != nil {
			return c, err
		}
		if err := e.Repo.AppendPhaseHistory(ctx, tx, domain.PhaseHistory{
			ProjectID: project.ID,
			Phase:     project.Phase,
			Status:    project.Status,
			ActorID:   p.ActorID,
			Comment:   comment,
			TS:        now,
		}); err != nil {
			return c, err
		}
	}
	if completedNow {
		if err := e.Repo.DeactivateProjectManagerDelegations(ctx, tx, project.ID, now); err != nil {
			return c, err
		}
	}
	payload := events.EventPayload{"slot": slot, "verdict": verdict, "completed": c.Completed}
	if comment != "" {
		payload["comment"] = comment
	}
	if err := e.events().Append(ctx, tx, "closure.slot_decided", "closure", c.ID, p.ActorID, payload); err != nil {
		return c, err
	}
	if completedNow {
		if err := e.events().Append(ctx, tx, "project.closed", "project", project.ID, p.ActorID, events.EventPayload{"final_closure_at": now}); err != nil {
			return c, err
		}
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

func (e Engine) authorizeSlot(ctx context.Context, project domain.Project, p authority.Principal, slot string) error {
	switch slot {
	case SlotRequester:
		q, err := e.Repo.GetRequest(ctx, project.RequestID)
		if err != nil {
			return err
		}
		if q.RequesterID != p.ActorID {
			return authority.ForbiddenError{Capability: "original requester"}
		}
	case SlotBusiness:
		if project.SponsorID == p.ActorID {
			return nil
		}
		if !p.HasRole(domain.RoleBusinessValidator) {
			return authority.ForbiddenError{Capability: "business sponsor or validator"}
		}
		// A validator signs off only for its own direction.
		if project.DirectionID != nil && *project.DirectionID != p.DirectionID {
			return authority.ForbiddenError{Capability: "business validator of the project direction"}
		}
	case SlotIT:
		if !p.IsITRole() {
			return authority.ForbiddenError{Capability: "it role"}
		}
	}
	return nil
}
