package server

import "phaseline/internal/domain"

// Request payloads

type CreateRequestBody struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Context     *string `json:"context,omitempty"`
	Objectives  *string `json:"objectives,omitempty"`
	Benefits    *string `json:"benefits,omitempty"`
	Scope       *string `json:"scope,omitempty"`
	Urgency     *string `json:"urgency,omitempty" enum:"low,medium,high"`
	Criticality *string `json:"criticality,omitempty" enum:"low,medium,high"`
	DesiredDate *string `json:"desired_date,omitempty" format:"date-time"`
	DirectionID *string `json:"direction_id,omitempty"`
	SponsorID   string  `json:"sponsor_id"`
}

type SubmitRequestBody struct {
	OverrideDuplicate bool `json:"override_duplicate,omitempty"`
}

type BusinessApproveBody struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Objectives  *string `json:"objectives,omitempty"`
	Benefits    *string `json:"benefits,omitempty"`
}

type DecisionBody struct {
	Comment string `json:"comment,omitempty"`
}

type DocumentBody struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	URI      string `json:"uri,omitempty"`
}

type AddDocumentsBody struct {
	Documents []DocumentBody `json:"documents"`
}

type CharterDecisionBody struct {
	Approve bool   `json:"approve"`
	Comment string `json:"comment,omitempty"`
}

type AdvancePhaseBody struct {
	Comment string `json:"comment,omitempty"`
}

type AssignManagerBody struct {
	ManagerID string `json:"manager_id"`
}

type SetScheduleBody struct {
	PlannedEndDate string `json:"planned_end_date" format:"date-time"`
}

type SetProgressBody struct {
	Percent int `json:"percent" minimum:"0" maximum:"100"`
}

type ClosureNotesBody struct {
	Summary        string `json:"summary"`
	LessonsLearned string `json:"lessons_learned"`
}

type ForceStatusBody struct {
	Status  string `json:"status" enum:"closed,cancelled"`
	Comment string `json:"comment"`
}

type RequestClosureBody struct {
	DesiredDate string `json:"desired_date,omitempty" format:"date-time"`
}

type ClosureSlotBody struct {
	Approve bool   `json:"approve"`
	Comment string `json:"comment,omitempty"`
}

type GrantValidationDelegationBody struct {
	DelegateID string `json:"delegate_id"`
	StartsAt   string `json:"starts_at" format:"date-time"`
	EndsAt     string `json:"ends_at" format:"date-time"`
}

type GrantManagerDelegationBody struct {
	DelegateID string  `json:"delegate_id"`
	StartsAt   string  `json:"starts_at" format:"date-time"`
	EndsAt     *string `json:"ends_at,omitempty" format:"date-time"`
}

// Composite responses

type ITApproveResponse struct {
	Request domain.Request `json:"request"`
	Project domain.Project `json:"project"`
}

type DocumentsResponse struct {
	Documents []domain.Document `json:"documents"`
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
