package domain

// Request statuses.
const (
	RequestDraft               = "draft"
	RequestPendingBusiness     = "pending_business"
	RequestCorrectionRequested = "business_correction_requested"
	RequestRejectedByBusiness  = "rejected_by_business"
	RequestPendingIT           = "pending_it"
	RequestReturnedToRequester = "returned_to_requester_by_it"
	RequestReturnedToBusiness  = "returned_to_business_by_it"
	RequestRejectedByIT        = "rejected_by_it"
	RequestValidatedByIT       = "validated_by_it"
)

// Project statuses.
const (
	ProjectNotStarted        = "not_started"
	ProjectInProgress        = "in_progress"
	ProjectSuspended         = "suspended"
	ProjectClosureInProgress = "closure_in_progress"
	ProjectClosed            = "closed"
	ProjectCancelled         = "cancelled"
)

// Project phases, in gate order.
const (
	PhaseRequest    = "request"
	PhaseAnalysis   = "analysis"
	PhasePlanning   = "planning"
	PhaseExecution  = "execution"
	PhaseAcceptance = "acceptance"
	PhaseClosure    = "closure"
)

// PhaseOrder maps each phase to its position in the gate sequence.
var PhaseOrder = map[string]int{
	PhaseRequest:    0,
	PhaseAnalysis:   1,
	PhasePlanning:   2,
	PhaseExecution:  3,
	PhaseAcceptance: 4,
	PhaseClosure:    5,
}

// Base roles carried by the identity context.
const (
	RoleRequester         = "requester"
	RoleBusinessSponsor   = "business_sponsor"
	RoleBusinessValidator = "business_validator"
	RoleITDirector        = "it_director"
	RoleITAdmin           = "it_admin"
	RoleSolutionsManager  = "solutions_manager"
	RoleProjectManager    = "project_manager"
)

// Closure slot states.
const (
	SlotPending  = "pending"
	SlotApproved = "approved"
	SlotRejected = "rejected"
)

// RAG indicator values.
const (
	RAGGreen = "green"
	RAGAmber = "amber"
	RAGRed   = "red"
)

type Request struct {
	ID                  string  `json:"id"`
	Title               string  `json:"title"`
	Description         string  `json:"description,omitempty"`
	Context             string  `json:"context,omitempty"`
	Objectives          string  `json:"objectives,omitempty"`
	Benefits            string  `json:"benefits,omitempty"`
	Scope               string  `json:"scope,omitempty"`
	Urgency             string  `json:"urgency" enum:"low,medium,high"`
	Criticality         string  `json:"criticality" enum:"low,medium,high"`
	DesiredDate         *string `json:"desired_date,omitempty" format:"date-time"`
	RequesterID         string  `json:"requester_id"`
	DirectionID         *string `json:"direction_id,omitempty"`
	SponsorID           string  `json:"sponsor_id"`
	Status              string  `json:"status" enum:"draft,pending_business,business_correction_requested,rejected_by_business,pending_it,returned_to_requester_by_it,returned_to_business_by_it,rejected_by_it,validated_by_it"`
	SubmittedAt         *string `json:"submitted_at,omitempty" format:"date-time"`
	BusinessValidatedAt *string `json:"business_validated_at,omitempty" format:"date-time"`
	ITValidatedAt       *string `json:"it_validated_at,omitempty" format:"date-time"`
	BusinessComment     string  `json:"business_comment,omitempty"`
	ITComment           string  `json:"it_comment,omitempty"`
	ProjectID           *string `json:"project_id,omitempty"`
	CreatedAt           string  `json:"created_at" format:"date-time"`
	UpdatedAt           string  `json:"updated_at" format:"date-time"`
	Version             int     `json:"version"`
}

type Project struct {
	ID                string  `json:"id"`
	Code              string  `json:"code"`
	Title             string  `json:"title"`
	Objective         string  `json:"objective,omitempty"`
	PortfolioID       string  `json:"portfolio_id"`
	RequestID         string  `json:"request_id"`
	DirectionID       *string `json:"direction_id,omitempty"`
	SponsorID         string  `json:"sponsor_id"`
	ManagerID         *string `json:"manager_id,omitempty"`
	Status            string  `json:"status" enum:"not_started,in_progress,suspended,closure_in_progress,closed,cancelled"`
	Phase             string  `json:"phase" enum:"request,analysis,planning,execution,acceptance,closure"`
	ProgressPercent   int     `json:"progress_percent"`
	RAG               string  `json:"rag" enum:"green,amber,red"`
	CharterBusiness   bool    `json:"charter_business"`
	CharterIT         bool    `json:"charter_it"`
	CharterApproved   bool    `json:"charter_approved"`
	CharterComment    string  `json:"charter_comment,omitempty"`
	CharterApprovedAt *string `json:"charter_approved_at,omitempty" format:"date-time"`
	PlanBusiness      bool    `json:"plan_business"`
	PlanIT            bool    `json:"plan_it"`
	PlanComment       string  `json:"plan_comment,omitempty"`
	AcceptanceOK      bool    `json:"acceptance_approved"`
	StartDate         *string `json:"start_date,omitempty" format:"date-time"`
	PlannedEndDate    *string `json:"planned_end_date,omitempty" format:"date-time"`
	ActualEndDate     *string `json:"actual_end_date,omitempty" format:"date-time"`
	ClosureSummary    string  `json:"closure_summary,omitempty"`
	LessonsLearned    string  `json:"lessons_learned,omitempty"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
	Version           int     `json:"version"`
}

// ValidationDelegation grants IT-validation authority for a time window.
type ValidationDelegation struct {
	ID         string `json:"id"`
	HolderID   string `json:"holder_id"`
	DelegateID string `json:"delegate_id"`
	StartsAt   string `json:"starts_at" format:"date-time"`
	EndsAt     string `json:"ends_at" format:"date-time"`
	Active     bool   `json:"active"`
}

// ManagerDelegation grants project-manager authority for one project.
// A nil EndsAt means the grant runs until project closure.
type ManagerDelegation struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	DelegatorID string  `json:"delegator_id"`
	DelegateID  string  `json:"delegate_id"`
	StartsAt    string  `json:"starts_at" format:"date-time"`
	EndsAt      *string `json:"ends_at,omitempty" format:"date-time"`
	Active      bool    `json:"active"`
}

type ClosureRequest struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"project_id"`
	RequestedBy    string  `json:"requested_by"`
	RequestedAt    string  `json:"requested_at" format:"date-time"`
	DesiredDate    *string `json:"desired_date,omitempty" format:"date-time"`
	RequesterSlot  string  `json:"requester_slot" enum:"pending,approved,rejected"`
	BusinessSlot   string  `json:"business_slot" enum:"pending,approved,rejected"`
	ITSlot         string  `json:"it_slot" enum:"pending,approved,rejected"`
	Completed      bool    `json:"completed"`
	FinalClosureAt *string `json:"final_closure_at,omitempty" format:"date-time"`
}

type Portfolio struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Document is an attachment reference; file storage itself lives elsewhere.
type Document struct {
	ID         string  `json:"id"`
	RequestID  *string `json:"request_id,omitempty"`
	ProjectID  *string `json:"project_id,omitempty"`
	Name       string  `json:"name"`
	Category   string  `json:"category,omitempty"`
	URI        string  `json:"uri,omitempty"`
	UploadedBy string  `json:"uploaded_by"`
	UploadedAt string  `json:"uploaded_at" format:"date-time"`
}

type PhaseHistory struct {
	ID        int64  `json:"id"`
	ProjectID string `json:"project_id"`
	Phase     string `json:"phase"`
	Status    string `json:"status"`
	ActorID   string `json:"actor_id"`
	Comment   string `json:"comment,omitempty"`
	TS        string `json:"ts" format:"date-time"`
}

// Event is one audit-log row, appended in the same transaction as the
// mutation it records.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
