package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"phaseline/internal/domain"
	"phaseline/internal/engine/authority"
	"phaseline/internal/events"
)

// recomputeCharter keeps the combined flag derived, never set directly.
func recomputeCharter(p *domain.Project) {
	p.CharterApproved = p.CharterBusiness && p.CharterIT
}

// ValidateCharterBusiness records the sponsor's charter decision. A
// rejection requires a comment and clears the combined flag.
func (e Engine) ValidateCharterBusiness(ctx context.Context, id string, p authority.Principal, approve bool, comment string) (domain.Project, error) {
	project, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return project, err
	}
	if project.SponsorID != p.ActorID {
		return project, authority.ForbiddenError{Capability: "business sponsor"}
	}
	return e.applyCharterDecision(ctx, project, p, approve, comment, true)
}

// ValidateCharterIT records the IT-side charter decision; delegated
// validators count.
func (e Engine) ValidateCharterIT(ctx context.Context, id string, p authority.Principal, approve bool, comment string) (domain.Project, error) {
	project, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return project, err
	}
	allowed, err := e.Authority().CanValidateIT(ctx, p)
	if err != nil {
		return project, err
	}
	if !allowed {
		return project, authority.ForbiddenError{Capability: authority.CapValidateIT}
	}
	return e.applyCharterDecision(ctx, project, p, approve, comment, false)
}

func (e Engine) applyCharterDecision(ctx context.Context, project domain.Project, p authority.Principal, approve bool, comment string, business bool) (domain.Project, error) {
	if project.Phase != domain.PhaseAnalysis {
		return project, TransitionError{Entity: "project", From: project.Phase, Action: "validate_charter"}
	}
	side := "it"
	if business {
		side = "business"
	}
	if !approve && comment == "" {
		return project, CommentRequiredError{Action: "charter rejection"}
	}
	if business {
		project.CharterBusiness = approve
	} else {
		project.CharterIT = approve
	}
	if !approve {
		project.CharterComment = comment
	}
	recomputeCharter(&project)
	project.UpdatedAt = e.nowStr()
	return e.saveProject(ctx, project, p, "project.charter_validated", events.EventPayload{
		"side":     side,
		"approved": approve,
		"combined": project.CharterApproved,
	})
}

// ApprovePlanBusiness records the sponsor's sign-off on the project plan.
func (e Engine) ApprovePlanBusiness(ctx context.Context, id string, p authority.Principal) (domain.Project, error) {
	project, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return project, err
	}
	if project.SponsorID != p.ActorID {
		return project, authority.ForbiddenError{Capability: "business sponsor"}
	}
	if project.Phase != domain.PhasePlanning {
		return project, TransitionError{Entity: "project", From: project.Phase, Action: "approve_plan"}
	}
	project.PlanBusiness = true
	project.UpdatedAt = e.nowStr()
	return e.saveProject(ctx, project, p, "project.plan_approved", events.EventPayload{"side": "business"})
}

// ApprovePlanIT records the IT sign-off; business approval must come first.
func (e Engine) ApprovePlanIT(ctx context.Context, id string, p authority.Principal) (domain.Project, error) {
	project, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return project, err
	}
	allowed, err := e.Authority().CanValidateIT(ctx, p)
	if err != nil {
		return project, err
	}
	if !allowed {
		return project, authority.ForbiddenError{Capability: authority.CapValidateIT}
	}
	if project.Phase != domain.PhasePlanning {
		return project, TransitionError{Entity: "project", From: project.Phase, Action: "approve_plan"}
	}
	if !project.PlanBusiness {
		return project, TransitionError{Entity: "project", From: project.Phase, Action: "approve_plan", Reason: "business approval must precede IT"}
	}
	project.PlanIT = true
	project.UpdatedAt = e.nowStr()
	return e.saveProject(ctx, project, p, "project.plan_approved", events.EventPayload{"side": "it"})
}

// ApproveAcceptance lets the sponsor sign off the acceptance phase.
func (e Engine) ApproveAcceptance(ctx context.Context, id string, p authority.Principal) (domain.Project, error) {
	project, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return project, err
	}
	if project.SponsorID != p.ActorID {
		return project, authority.ForbiddenError{Capability: "business sponsor"}
	}
	if project.Phase != domain.PhaseAcceptance {
		return project, TransitionError{Entity: "project", From: project.Phase, Action: "approve_acceptance"}
	}
	project.AcceptanceOK = true
	project.UpdatedAt = e.nowStr()
	return e.saveProject(ctx, project, p, "project.acceptance_approved", nil)
}

// AdvancePhase runs the gate for the project's current phase. The
// acceptance exit goes through RequestClosure instead.
func (e Engine) AdvancePhase(ctx context.Context, id string, p authority.Principal, comment string) (domain.Project, error) {
	project, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return project, err
	}
	allowed, err := e.Authority().CanManageProject(ctx, p, project)
	if err != nil {
		return project, err
	}
	if !allowed {
		return project, authority.ForbiddenError{Capability: authority.CapManageProject}
	}
	if project.Status == domain.ProjectClosed || project.Status == domain.ProjectCancelled {
		return project, TransitionError{Entity: "project", From: project.Status, Action: "advance_phase"}
	}
	now := e.nowStr()
	var target string
	switch project.Phase {
	case domain.PhaseAnalysis:
		if !project.CharterApproved {
			return project, TransitionError{Entity: "project", From: project.Phase, Action: "advance_phase", Reason: "charter requires business and IT approval"}
		}
		if err := e.checkGate(ctx, project, domain.PhasePlanning); err != nil {
			return project, err
		}
		if project.CharterApprovedAt == nil {
			project.CharterApprovedAt = &now
		}
		target = domain.PhasePlanning
	case domain.PhasePlanning:
		if !project.PlanBusiness || !project.PlanIT {
			return project, TransitionError{Entity: "project", From: project.Phase, Action: "advance_phase", Reason: "plan requires business and IT approval"}
		}
		if err := e.checkGate(ctx, project, domain.PhaseExecution); err != nil {
			return project, err
		}
		if project.StartDate == nil {
			project.StartDate = &now
		}
		target = domain.PhaseExecution
	case domain.PhaseExecution:
		target = domain.PhaseAcceptance
	case domain.PhaseAcceptance:
		return project, TransitionError{Entity: "project", From: project.Phase, Action: "advance_phase", Reason: "closure goes through a closure request"}
	default:
		return project, TransitionError{Entity: "project", From: project.Phase, Action: "advance_phase"}
	}
	project.Phase = target
	if project.Status == domain.ProjectNotStarted {
		project.Status = domain.ProjectInProgress
	}
	project.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return project, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProject(ctx, tx, project); err != nil {
		return project, err
	}
	if err := e.Repo.AppendPhaseHistory(ctx, tx, domain.PhaseHistory{
		ProjectID: project.ID,
		Phase:     project.Phase,
		Status:    project.Status,
		ActorID:   p.ActorID,
		Comment:   comment,
		TS:        now,
	}); err != nil {
		return project, err
	}
	if err := e.events().Append(ctx, tx, "project.phase_advanced", "project", project.ID, p.ActorID, events.EventPayload{"phase": project.Phase}); err != nil {
		return project, err
	}
	if err := tx.Commit(); err != nil {
		return project, err
	}
	project.Version++
	return project, nil
}

func (e Engine) checkGate(ctx context.Context, project domain.Project, targetPhase string) error {
	ok, message, err := e.Gate.ValidateMandatory(ctx, project, targetPhase)
	if err != nil {
		return err
	}
	if !ok {
		return DeliverableError{Message: message}
	}
	return nil
}

// AddProjectDocuments attaches deliverables to a project. Gate checks at
// phase advancement look at the categories recorded here.
func (e Engine) AddProjectDocuments(ctx context.Context, id string, p authority.Principal, docs []DocumentInput) ([]domain.Document, error) {
	project, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed, err := e.Authority().CanManageProject(ctx, p, project)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, authority.ForbiddenError{Capability: authority.CapManageProject}
	}
	if len(docs) == 0 {
		return nil, errors.New("at least one document is required")
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	out := make([]domain.Document, 0, len(docs))
	for _, in := range docs {
		if in.Name == "" {
			return nil, errors.New("document name is required")
		}
		doc := domain.Document{
			ID:         uuid.New().String(),
			ProjectID:  &project.ID,
			Name:       in.Name,
			Category:   in.Category,
			URI:        in.URI,
			UploadedBy: p.ActorID,
			UploadedAt: now,
		}
		if err := e.Repo.InsertDocument(ctx, tx, doc); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := e.events().Append(ctx, tx, "project.documents_added", "project", project.ID, p.ActorID, events.EventPayload{"count": len(docs)}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// AssignManager sets or replaces the project manager.
func (e Engine) AssignManager(ctx context.Context, id string, p authority.Principal, managerID string) (domain.Project, error) {
	project, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return project, err
	}
	if !p.IsITRole() {
		return project, authority.ForbiddenError{Capability: authority.CapManageProject}
	}
	if managerID == "" {
		return project, errors.New("manager id is required")
	}
	project.ManagerID = &managerID
	project.UpdatedAt = e.nowStr()
	return e.saveProject(ctx, project, p, "project.manager_assigned", events.EventPayload{"manager_id": managerID})
}

// SetSchedule records the planned end date and refreshes the RAG indicator.
func (e Engine) SetSchedule(ctx context.Context, id string, p authority.Principal, plannedEnd string) (domain.Project, error) {
	project, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return project, err
	}
	allowed, err := e.Authority().CanManageProject(ctx, p, project)
	if err != nil {
		return project, err
	}
	if !allowed {
		return project, authority.ForbiddenError{Capability: authority.CapManageProject}
	}
	if _, err := time.Parse(time.RFC3339, plannedEnd); err != nil {
		return project, errors.New("planned end must be RFC3339")
	}
	project.PlannedEndDate = &plannedEnd
	project.RAG = ragFor(project, e.now())
	project.UpdatedAt = e.nowStr()
	return e.saveProject(ctx, project, p, "project.schedule_set", events.EventPayload{"planned_end": plannedEnd})
}

// SetProgress updates completion percent and recomputes RAG.
func (e Engine) SetProgress(ctx context.Context, id string, p authority.Principal, percent int) (domain.Project, error) {
	project, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return project, err
	}
	allowed, err := e.Authority().CanManageProject(ctx, p, project)
	if err != nil {
		return project, err
	}
	if !allowed {
		return project, authority.ForbiddenError{Capability: authority.CapManageProject}
	}
	if percent < 0 || percent > 100 {
		return project, errors.New("progress must be between 0 and 100")
	}
	project.ProgressPercent = percent
	project.RAG = ragFor(project, e.now())
	project.UpdatedAt = e.nowStr()
	return e.saveProject(ctx, project, p, "project.progress_set", events.EventPayload{"percent": percent, "rag": project.RAG})
}

// ragFor is the single schedule-health policy: progress against the
// elapsed share of the start..planned-end window. Without dates the
// project reads green.
func ragFor(p domain.Project, now time.Time) string {
	if p.StartDate == nil || p.PlannedEndDate == nil {
		return domain.RAGGreen
	}
	start, err1 := time.Parse(time.RFC3339, *p.StartDate)
	end, err2 := time.Parse(time.RFC3339, *p.PlannedEndDate)
	if err1 != nil || err2 != nil || !end.After(start) {
		return domain.RAGGreen
	}
	elapsed := float64(now.Sub(start)) / float64(end.Sub(start))
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > 1 {
		elapsed = 1
	}
	delta := float64(p.ProgressPercent) - elapsed*100
	switch {
	case delta >= -10:
		return domain.RAGGreen
	case delta >= -25:
		return domain.RAGAmber
	default:
		return domain.RAGRed
	}
}

// SetClosureNotes records the closure summary and lessons learned that the
// closure gate requires.
func (e Engine) SetClosureNotes(ctx context.Context, id string, p authority.Principal, summary, lessons string) (domain.Project, error) {
	project, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return project, err
	}
	allowed, err := e.Authority().CanManageProject(ctx, p, project)
	if err != nil {
		return project, err
	}
	if !allowed {
		return project, authority.ForbiddenError{Capability: authority.CapManageProject}
	}
	if summary == "" || lessons == "" {
		return project, errors.New("closure summary and lessons learned are required")
	}
	project.ClosureSummary = summary
	project.LessonsLearned = lessons
	project.UpdatedAt = e.nowStr()
	return e.saveProject(ctx, project, p, "project.closure_notes_set", nil)
}

// ForceStatus terminates a project administratively. Only IT base roles
// qualify, delegates do not; gates are bypassed but the comment is not.
func (e Engine) ForceStatus(ctx context.Context, id string, p authority.Principal, status, comment string) (domain.Project, error) {
	project, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return project, err
	}
	if !p.IsITRole() {
		return project, authority.ForbiddenError{Capability: "it role"}
	}
	if status != domain.ProjectClosed && status != domain.ProjectCancelled {
		return project, errors.New("forced status must be closed or cancelled")
	}
	if comment == "" {
		return project, CommentRequiredError{Action: "force_status"}
	}
	if project.Status == domain.ProjectClosed || project.Status == domain.ProjectCancelled {
		return project, TransitionError{Entity: "project", From: project.Status, Action: "force_status"}
	}
	now := e.nowStr()
	project.Status = status
	project.ActualEndDate = &now
	project.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return project, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProject(ctx, tx, project); err != nil {
		return project, err
	}
	if err := e.Repo.DeactivateProjectManagerDelegations(ctx, tx, project.ID, now); err != nil {
		return project, err
	}
	if err := e.Repo.AppendPhaseHistory(ctx, tx, domain.PhaseHistory{
		ProjectID: project.ID,
		Phase:     project.Phase,
		Status:    project.Status,
		ActorID:   p.ActorID,
		Comment:   comment,
		TS:        now,
	}); err != nil {
		return project, err
	}
	if err := e.events().Append(ctx, tx, "project.status_forced", "project", project.ID, p.ActorID, events.EventPayload{"status": status, "comment": comment}); err != nil {
		return project, err
	}
	if err := tx.Commit(); err != nil {
		return project, err
	}
	project.Version++
	return project, nil
}

func (e Engine) saveProject(ctx context.Context, project domain.Project, p authority.Principal, eventType string, payload events.EventPayload) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return project, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProject(ctx, tx, project); err != nil {
		return project, err
	}
	if payload == nil {
		payload = events.EventPayload{}
	}
	if err := e.events().Append(ctx, tx, eventType, "project", project.ID, p.ActorID, payload); err != nil {
		return project, err
	}
	if err := tx.Commit(); err != nil {
		return project, err
	}
	project.Version++
	return project, nil
}
