package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"phaseline/internal/domain"
	"phaseline/internal/engine/authority"
	"phaseline/internal/engine/similarity"
	"phaseline/internal/events"
)

// RequestCreateOptions are parameters for a new draft request.
type RequestCreateOptions struct {
	ID          string
	Title       string
	Description string
	Context     string
	Objectives  string
	Benefits    string
	Scope       string
	Urgency     string
	Criticality string
	DesiredDate string
	DirectionID string
	SponsorID   string
}

func (e Engine) CreateRequest(ctx context.Context, opts RequestCreateOptions, p authority.Principal) (domain.Request, error) {
	if opts.Title == "" {
		return domain.Request{}, errors.New("title is required")
	}
	if opts.SponsorID == "" {
		return domain.Request{}, errors.New("sponsor is required")
	}
	if opts.Urgency == "" {
		opts.Urgency = "medium"
	}
	if opts.Criticality == "" {
		opts.Criticality = "medium"
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.nowStr()
	q := domain.Request{
		ID:          id,
		Title:       opts.Title,
		Description: opts.Description,
		Context:     opts.Context,
		Objectives:  opts.Objectives,
		Benefits:    opts.Benefits,
		Scope:       opts.Scope,
		Urgency:     opts.Urgency,
		Criticality: opts.Criticality,
		DesiredDate: optionalString(opts.DesiredDate),
		RequesterID: p.ActorID,
		DirectionID: optionalString(opts.DirectionID),
		SponsorID:   opts.SponsorID,
		Status:      domain.RequestDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, p.ActorID, now); err != nil {
		return domain.Request{}, err
	}
	if err := e.Repo.InsertRequest(ctx, tx, q); err != nil {
		return domain.Request{}, err
	}
	if err := e.events().Append(ctx, tx, "request.created", "request", q.ID, p.ActorID, events.EventPayload{"title": q.Title}); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	return q, nil
}

func ensureRequestTransition(from, action string) error {
	ok := false
	switch action {
	case "submit":
		ok = from == domain.RequestDraft
	case "business_approve", "business_reject", "business_request_correction":
		ok = from == domain.RequestPendingBusiness || from == domain.RequestReturnedToBusiness
	case "add_documents":
		ok = from == domain.RequestCorrectionRequested || from == domain.RequestReturnedToRequester
	case "it_approve", "it_reject", "it_return_to_requester", "it_return_to_business":
		ok = from == domain.RequestPendingIT
	case "clone":
		ok = from == domain.RequestRejectedByBusiness || from == domain.RequestRejectedByIT
	}
	if !ok {
		return TransitionError{Entity: "request", From: from, Action: action}
	}
	return nil
}

// SubmitRequest moves a draft to business validation. The duplicate check
// is advisory: candidates at or above the threshold block only until the
// requester confirms the override.
func (e Engine) SubmitRequest(ctx context.Context, id string, p authority.Principal, overrideDuplicate bool) (domain.Request, error) {
	q, err := e.Repo.GetRequest(ctx, id)
	if err != nil {
		return q, err
	}
	if q.RequesterID != p.ActorID {
		return q, authority.ForbiddenError{Capability: "submit own request"}
	}
	if err := ensureRequestTransition(q.Status, "submit"); err != nil {
		return q, err
	}
	if !overrideDuplicate {
		titles, err := e.Repo.ListActiveTitles(ctx, q.ID)
		if err != nil {
			return q, err
		}
		if candidates := similarity.Rank(q.Title, titles, e.Config.Similarity.Threshold); len(candidates) > 0 {
			return q, DuplicateError{Candidates: candidates}
		}
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return q, err
	}
	defer tx.Rollback()
	if _, err := e.ensureDefaultPortfolio(ctx, tx, now); err != nil {
		return q, err
	}
	q.Status = domain.RequestPendingBusiness
	q.SubmittedAt = &now
	q.UpdatedAt = now
	if err := e.Repo.UpdateRequest(ctx, tx, q); err != nil {
		return q, err
	}
	if err := e.events().Append(ctx, tx, "request.submitted", "request", q.ID, p.ActorID, events.EventPayload{"title": q.Title}); err != nil {
		return q, err
	}
	if err := tx.Commit(); err != nil {
		return q, err
	}
	q.Version++
	return q, nil
}

func (e Engine) ensureDefaultPortfolio(ctx context.Context, tx *sql.Tx, now string) (string, error) {
	return e.Repo.EnsurePortfolio(ctx, tx, uuid.New().String(), e.Config.Portfolio.DefaultName, now)
}

// RequestAmendments are the sponsor-editable content fields.
type RequestAmendments struct {
	Title       *string
	Description *string
	Objectives  *string
	Benefits    *string
}

// BusinessApprove passes the request to IT validation. Only the business
// sponsor may act, amending content fields along the way.
func (e Engine) BusinessApprove(ctx context.Context, id string, p authority.Principal, amend RequestAmendments) (domain.Request, error) {
	q, err := e.Repo.GetRequest(ctx, id)
	if err != nil {
		return q, err
	}
	if q.SponsorID != p.ActorID {
		return q, authority.ForbiddenError{Capability: "business sponsor"}
	}
	if err := ensureRequestTransition(q.Status, "business_approve"); err != nil {
		return q, err
	}
	if amend.Title != nil && *amend.Title != "" {
		q.Title = *amend.Title
	}
	if amend.Description != nil {
		q.Description = *amend.Description
	}
	if amend.Objectives != nil {
		q.Objectives = *amend.Objectives
	}
	if amend.Benefits != nil {
		q.Benefits = *amend.Benefits
	}
	now := e.nowStr()
	q.Status = domain.RequestPendingIT
	q.BusinessValidatedAt = &now
	q.UpdatedAt = now
	return e.saveRequestTransition(ctx, q, p, "request.business_approved", nil)
}

func (e Engine) BusinessReject(ctx context.Context, id string, p authority.Principal, comment string) (domain.Request, error) {
	return e.businessDecision(ctx, id, p, "business_reject", domain.RequestRejectedByBusiness, comment, "request.business_rejected")
}

func (e Engine) BusinessRequestCorrection(ctx context.Context, id string, p authority.Principal, comment string) (domain.Request, error) {
	return e.businessDecision(ctx, id, p, "business_request_correction", domain.RequestCorrectionRequested, comment, "request.correction_requested")
}

func (e Engine) businessDecision(ctx context.Context, id string, p authority.Principal, action, target, comment, eventType string) (domain.Request, error) {
	q, err := e.Repo.GetRequest(ctx, id)
	if err != nil {
		return q, err
	}
	if q.SponsorID != p.ActorID {
		return q, authority.ForbiddenError{Capability: "business sponsor"}
	}
	if err := ensureRequestTransition(q.Status, action); err != nil {
		return q, err
	}
	if comment == "" {
		return q, CommentRequiredError{Action: action}
	}
	q.Status = target
	q.BusinessComment = comment
	q.UpdatedAt = e.nowStr()
	return e.saveRequestTransition(ctx, q, p, eventType, events.EventPayload{"comment": comment})
}

// DocumentInput is one attachment reference supplied with AddDocuments.
type DocumentInput struct {
	Name     string
	Category string
	URI      string
}

// AddDocuments attaches at least one document and resumes the flow:
// a correction returns to business review, an IT return goes straight
// back to IT validation.
func (e Engine) AddDocuments(ctx context.Context, id string, p authority.Principal, docs []DocumentInput) (domain.Request, error) {
	q, err := e.Repo.GetRequest(ctx, id)
	if err != nil {
		return q, err
	}
	if q.RequesterID != p.ActorID {
		return q, authority.ForbiddenError{Capability: "request owner"}
	}
	if err := ensureRequestTransition(q.Status, "add_documents"); err != nil {
		return q, err
	}
	if len(docs) == 0 {
		return q, errors.New("at least one document is required")
	}
	target := domain.RequestPendingBusiness
	if q.Status == domain.RequestReturnedToRequester {
		target = domain.RequestPendingIT
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return q, err
	}
	defer tx.Rollback()
	for _, in := range docs {
		if in.Name == "" {
			return q, errors.New("document name is required")
		}
		doc := domain.Document{
			ID:         uuid.New().String(),
			RequestID:  &q.ID,
			Name:       in.Name,
			Category:   in.Category,
			URI:        in.URI,
			UploadedBy: p.ActorID,
			UploadedAt: now,
		}
		if err := e.Repo.InsertDocument(ctx, tx, doc); err != nil {
			return q, err
		}
	}
	q.Status = target
	q.UpdatedAt = now
	if err := e.Repo.UpdateRequest(ctx, tx, q); err != nil {
		return q, err
	}
	if err := e.events().Append(ctx, tx, "request.documents_added", "request", q.ID, p.ActorID, events.EventPayload{"count": len(docs), "status": target}); err != nil {
		return q, err
	}
	if err := tx.Commit(); err != nil {
		return q, err
	}
	q.Version++
	return q, nil
}

// ITApprove validates the request and creates its project, exactly once,
// in the same transaction.
func (e Engine) ITApprove(ctx context.Context, id string, p authority.Principal) (domain.Request, domain.Project, error) {
	q, err := e.Repo.GetRequest(ctx, id)
	if err != nil {
		return q, domain.Project{}, err
	}
	allowed, err := e.Authority().CanValidateIT(ctx, p)
	if err != nil {
		return q, domain.Project{}, err
	}
	if !allowed {
		return q, domain.Project{}, authority.ForbiddenError{Capability: authority.CapValidateIT}
	}
	if err := ensureRequestTransition(q.Status, "it_approve"); err != nil {
		return q, domain.Project{}, err
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return q, domain.Project{}, err
	}
	defer tx.Rollback()

	portfolioID, err := e.ensureDefaultPortfolio(ctx, tx, now)
	if err != nil {
		return q, domain.Project{}, err
	}
	seq, err := e.Repo.CountProjectsInPortfolio(ctx, tx, portfolioID)
	if err != nil {
		return q, domain.Project{}, err
	}
	project := domain.Project{
		ID:          uuid.New().String(),
		Code:        fmt.Sprintf("%s-%03d", e.Config.Projects.CodePrefix, seq+1),
		Title:       q.Title,
		Objective:   q.Objectives,
		PortfolioID: portfolioID,
		RequestID:   q.ID,
		DirectionID: q.DirectionID,
		SponsorID:   q.SponsorID,
		Status:      domain.ProjectNotStarted,
		Phase:       domain.PhaseAnalysis,
		RAG:         domain.RAGGreen,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	if err := e.Repo.InsertProject(ctx, tx, project); err != nil {
		return q, domain.Project{}, err
	}
	if err := e.Repo.AppendPhaseHistory(ctx, tx, domain.PhaseHistory{
		ProjectID: project.ID,
		Phase:     project.Phase,
		Status:    project.Status,
		ActorID:   p.ActorID,
		TS:        now,
	}); err != nil {
		return q, domain.Project{}, err
	}
	q.Status = domain.RequestValidatedByIT
	q.ITValidatedAt = &now
	q.ProjectID = &project.ID
	q.UpdatedAt = now
	if err := e.Repo.UpdateRequest(ctx, tx, q); err != nil {
		return q, domain.Project{}, err
	}
	w := e.events()
	if err := w.Append(ctx, tx, "request.it_approved", "request", q.ID, p.ActorID, events.EventPayload{"project_id": project.ID}); err != nil {
		return q, domain.Project{}, err
	}
	if err := w.Append(ctx, tx, "project.created", "project", project.ID, p.ActorID, events.EventPayload{"code": project.Code, "request_id": q.ID}); err != nil {
		return q, domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return q, domain.Project{}, err
	}
	q.Version++
	return q, project, nil
}

func (e Engine) ITReject(ctx context.Context, id string, p authority.Principal, comment string) (domain.Request, error) {
	return e.itDecision(ctx, id, p, "it_reject", domain.RequestRejectedByIT, comment, "request.it_rejected")
}

func (e Engine) ITReturnToRequester(ctx context.Context, id string, p authority.Principal, comment string) (domain.Request, error) {
	return e.itDecision(ctx, id, p, "it_return_to_requester", domain.RequestReturnedToRequester, comment, "request.returned_to_requester")
}

func (e Engine) ITReturnToBusiness(ctx context.Context, id string, p authority.Principal, comment string) (domain.Request, error) {
	return e.itDecision(ctx, id, p, "it_return_to_business", domain.RequestReturnedToBusiness, comment, "request.returned_to_business")
}

func (e Engine) itDecision(ctx context.Context, id string, p authority.Principal, action, target, comment, eventType string) (domain.Request, error) {
	q, err := e.Repo.GetRequest(ctx, id)
	if err != nil {
		return q, err
	}
	allowed, err := e.Authority().CanValidateIT(ctx, p)
	if err != nil {
		return q, err
	}
	if !allowed {
		return q, authority.ForbiddenError{Capability: authority.CapValidateIT}
	}
	if err := ensureRequestTransition(q.Status, action); err != nil {
		return q, err
	}
	if comment == "" {
		return q, CommentRequiredError{Action: action}
	}
	q.Status = target
	q.ITComment = comment
	q.UpdatedAt = e.nowStr()
	return e.saveRequestTransition(ctx, q, p, eventType, events.EventPayload{"comment": comment})
}

// CloneRequest copies a rejected request, documents included, into a fresh
// draft. The original row is left untouched.
func (e Engine) CloneRequest(ctx context.Context, id string, p authority.Principal) (domain.Request, error) {
	orig, err := e.Repo.GetRequest(ctx, id)
	if err != nil {
		return domain.Request{}, err
	}
	if orig.RequesterID != p.ActorID {
		return domain.Request{}, authority.ForbiddenError{Capability: "request owner"}
	}
	if err := ensureRequestTransition(orig.Status, "clone"); err != nil {
		return domain.Request{}, err
	}
	now := e.nowStr()
	clone := domain.Request{
		ID:          uuid.New().String(),
		Title:       orig.Title,
		Description: orig.Description,
		Context:     orig.Context,
		Objectives:  orig.Objectives,
		Benefits:    orig.Benefits,
		Scope:       orig.Scope,
		Urgency:     orig.Urgency,
		Criticality: orig.Criticality,
		DesiredDate: orig.DesiredDate,
		RequesterID: orig.RequesterID,
		DirectionID: orig.DirectionID,
		SponsorID:   orig.SponsorID,
		Status:      domain.RequestDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	docs, err := e.Repo.ListRequestDocuments(ctx, orig.ID)
	if err != nil {
		return domain.Request{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRequest(ctx, tx, clone); err != nil {
		return domain.Request{}, err
	}
	for _, d := range docs {
		copyDoc := domain.Document{
			ID:         uuid.New().String(),
			RequestID:  &clone.ID,
			Name:       d.Name,
			Category:   d.Category,
			URI:        d.URI,
			UploadedBy: d.UploadedBy,
			UploadedAt: now,
		}
		if err := e.Repo.InsertDocument(ctx, tx, copyDoc); err != nil {
			return domain.Request{}, err
		}
	}
	if err := e.events().Append(ctx, tx, "request.cloned", "request", clone.ID, p.ActorID, events.EventPayload{"source_id": orig.ID}); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	return clone, nil
}

func (e Engine) saveRequestTransition(ctx context.Context, q domain.Request, p authority.Principal, eventType string, payload events.EventPayload) (domain.Request, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return q, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateRequest(ctx, tx, q); err != nil {
		return q, err
	}
	if payload == nil {
		payload = events.EventPayload{}
	}
	payload["status"] = q.Status
	if err := e.events().Append(ctx, tx, eventType, "request", q.ID, p.ActorID, payload); err != nil {
		return q, err
	}
	if err := tx.Commit(); err != nil {
		return q, err
	}
	q.Version++
	return q, nil
}
