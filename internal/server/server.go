package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"phaseline/internal/domain"
	"phaseline/internal/engine"
	"phaseline/internal/engine/authority"
	"phaseline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid request transition: submit not allowed from pending_it"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Phaseline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Phaseline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerRequests(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerClosures(group, cfg.Engine)
	registerDelegations(group, cfg.Engine)
	registerPortfolios(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe authority.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"capability": fe.Capability})
	}
	var te engine.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"entity": te.Entity, "from": te.From, "action": te.Action,
		})
	}
	var ce engine.CommentRequiredError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusUnprocessableEntity, "comment_required", err.Error(), map[string]any{"action": ce.Action})
	}
	var de engine.DeliverableError
	if errors.As(err, &de) {
		return newAPIError(http.StatusUnprocessableEntity, "deliverable_missing", err.Error(), nil)
	}
	var due engine.DuplicateError
	if errors.As(err, &due) {
		return newAPIError(http.StatusConflict, "duplicate_candidate", err.Error(), map[string]any{"candidates": due.Candidates})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Phaseline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type requestBody struct {
	Body domain.Request `json:"body"`
}

type projectBody struct {
	Body domain.Project `json:"body"`
}

type closureBody struct {
	Body domain.ClosureRequest `json:"body"`
}

func registerRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-request",
		Method:        http.MethodPost,
		Path:          "/requests",
		Summary:       "Create draft request",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateRequestBody `json:"body"`
	}) (*requestBody, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.RequestCreateOptions{
			ID:          stringOrEmpty(input.Body.ID),
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			Context:     stringOrEmpty(input.Body.Context),
			Objectives:  stringOrEmpty(input.Body.Objectives),
			Benefits:    stringOrEmpty(input.Body.Benefits),
			Scope:       stringOrEmpty(input.Body.Scope),
			Urgency:     stringOrEmpty(input.Body.Urgency),
			Criticality: stringOrEmpty(input.Body.Criticality),
			DesiredDate: stringOrEmpty(input.Body.DesiredDate),
			DirectionID: stringOrEmpty(input.Body.DirectionID),
			SponsorID:   input.Body.SponsorID,
		}
		q, err := e.CreateRequest(ctx, opts, p)
		if err != nil {
			return nil, handleError(err)
		}
		return &requestBody{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List requests",
	}, func(ctx context.Context, input *struct {
		Status      string `query:"status"`
		RequesterID string `query:"requester_id"`
		SponsorID   string `query:"sponsor_id"`
		Limit       int    `query:"limit"`
	}) (*struct {
		Body []domain.Request `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListRequests(ctx, repo.RequestFilters{
			Status:      input.Status,
			RequesterID: input.RequesterID,
			SponsorID:   input.SponsorID,
			Limit:       input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Request `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{request_id}",
		Summary:     "Get request",
	}, func(ctx context.Context, input *struct {
		RequestID string `path:"request_id"`
	}) (*requestBody, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		q, err := e.Repo.GetRequest(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		return &requestBody{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-request",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/submit",
		Summary:     "Submit request for business review",
	}, func(ctx context.Context, input *struct {
		RequestID string            `path:"request_id"`
		Body      SubmitRequestBody `json:"body"`
	}) (*requestBody, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := e.SubmitRequest(ctx, input.RequestID, p, input.Body.OverrideDuplicate)
		if err != nil {
			return nil, handleError(err)
		}
		return &requestBody{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "business-approve-request",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/business-approve",
		Summary:     "Business sponsor approval",
	}, func(ctx context.Context, input *struct {
		RequestID string              `path:"request_id"`
		Body      BusinessApproveBody `json:"body"`
	}) (*requestBody, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := e.BusinessApprove(ctx, input.RequestID, p, engine.RequestAmendments{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Objectives:  input.Body.Objectives,
			Benefits:    input.Body.Benefits,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &requestBody{Body: q}, nil
	})

	type decisionInput struct {
		RequestID string       `path:"request_id"`
		Body      DecisionBody `json:"body"`
	}
	decisionOps := []struct {
		id, pathSuffix, summary string
		fn                      func(context.Context, string, authority.Principal, string) (domain.Request, error)
	}{
		{"business-reject-request", "business-reject", "Business sponsor rejection", e.BusinessReject},
		{"request-correction", "request-correction", "Business sponsor correction request", e.BusinessRequestCorrection},
		{"it-reject-request", "it-reject", "IT rejection", e.ITReject},
		{"it-return-to-requester", "return-to-requester", "IT return to requester", e.ITReturnToRequester},
		{"it-return-to-business", "return-to-business", "IT return to business", e.ITReturnToBusiness},
	}
	for _, op := range decisionOps {
		fn := op.fn
		huma.Register(api, huma.Operation{
			OperationID: op.id,
			Method:      http.MethodPost,
			Path:        "/requests/{request_id}/" + op.pathSuffix,
			Summary:     op.summary,
		}, func(ctx context.Context, input *decisionInput) (*requestBody, error) {
			p, authErr := requirePrincipal(ctx)
			if authErr != nil {
				return nil, authErr
			}
			q, err := fn(ctx, input.RequestID, p, input.Body.Comment)
			if err != nil {
				return nil, handleError(err)
			}
			return &requestBody{Body: q}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "it-approve-request",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/it-approve",
		Summary:     "IT validation; creates the project",
	}, func(ctx context.Context, input *struct {
		RequestID string `path:"request_id"`
	}) (*struct {
		Body ITApproveResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, project, err := e.ITApprove(ctx, input.RequestID, p)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ITApproveResponse `json:"body"`
		}{Body: ITApproveResponse{Request: q, Project: project}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-request-documents",
		Method:        http.MethodPost,
		Path:          "/requests/{request_id}/documents",
		Summary:       "Attach documents and resume the flow",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		RequestID string           `path:"request_id"`
		Body      AddDocumentsBody `json:"body"`
	}) (*requestBody, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := e.AddDocuments(ctx, input.RequestID, p, documentInputs(input.Body.Documents))
		if err != nil {
			return nil, handleError(err)
		}
		return &requestBody{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-request-documents",
		Method:      http.MethodGet,
		Path:        "/requests/{request_id}/documents",
		Summary:     "List request documents",
	}, func(ctx context.Context, input *struct {
		RequestID string `path:"request_id"`
	}) (*struct {
		Body DocumentsResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		docs, err := e.Repo.ListRequestDocuments(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentsResponse `json:"body"`
		}{Body: DocumentsResponse{Documents: docs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "clone-request",
		Method:        http.MethodPost,
		Path:          "/requests/{request_id}/clone",
		Summary:       "Clone a rejected request into a new draft",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		RequestID string `path:"request_id"`
	}) (*requestBody, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := e.CloneRequest(ctx, input.RequestID, p)
		if err != nil {
			return nil, handleError(err)
		}
		return &requestBody{Body: q}, nil
	})
}

func documentInputs(docs []DocumentBody) []engine.DocumentInput {
	out := make([]engine.DocumentInput, 0, len(docs))
	for _, d := range docs {
		out = append(out, engine.DocumentInput{Name: d.Name, Category: d.Category, URI: d.URI})
	}
	return out
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, input *struct {
		PortfolioID string `query:"portfolio_id"`
		Status      string `query:"status"`
		Phase       string `query:"phase"`
		Limit       int    `query:"limit"`
	}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListProjects(ctx, repo.ProjectFilters{
			PortfolioID: input.PortfolioID,
			Status:      input.Status,
			Phase:       input.Phase,
			Limit:       input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*projectBody, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	type charterInput struct {
		ProjectID string              `path:"project_id"`
		Body      CharterDecisionBody `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "validate-charter-business",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/charter/business",
		Summary:     "Business charter decision",
	}, func(ctx context.Context, input *charterInput) (*projectBody, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		project, err := e.ValidateCharterBusiness(ctx, input.ProjectID, p, input.Body.Approve, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: project}, nil
	})
	huma.Register(api, huma.Operation{
		OperationID: "validate-charter-it",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/charter/it",
		Summary:     "IT charter decision",
	}, func(ctx context.Context, input *charterInput) (*projectBody, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		project, err := e.ValidateCharterIT(ctx, input.ProjectID, p, input.Body.Approve, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: project}, nil
	})

	type projectPath struct {
		ProjectID string `path:"project_id"`
	}
	approvalOps := []struct {
		id, pathSuffix, summary string
		fn                      func(context.Context, string, authority.Principal) (domain.Project, error)
	}{
		{"approve-plan-business", "plan/business", "Business plan approval", e.ApprovePlanBusiness},
		{"approve-plan-it", "plan/it", "IT plan approval", e.ApprovePlanIT},
		{"approve-acceptance", "acceptance/approve", "Sponsor acceptance approval", e.ApproveAcceptance},
	}
	for _, op := range approvalOps {
		fn := op.fn
		huma.Register(api, huma.Operation{
			OperationID: op.id,
			Method:      http.MethodPost,
			Path:        "/projects/{project_id}/" + op.pathSuffix,
			Summary:     op.summary,
		}, func(ctx context.Context, input *projectPath) (*projectBody, error) {
			p, authErr := requirePrincipal(ctx)
			if authErr != nil {
				return nil, authErr
			}
			project, err := fn(ctx, input.ProjectID, p)
			if err != nil {
				return nil, handleError(err)
			}
			return &projectBody{Body: project}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "advance-phase",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/advance",
		Summary:     "Advance to the next phase",
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      AdvancePhaseBody `json:"body"`
	}) (*projectBody, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		project, err := e.AdvancePhase(ctx, input.ProjectID, p, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: project}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-manager",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/manager",
		Summary:     "Assign project manager",
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      AssignManagerBody `json:"body"`
	}) (*projectBody, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		project, err := e.AssignManager(ctx, input.ProjectID, p, input.Body.ManagerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: project}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-schedule",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/schedule",
		Summary:     "Set planned end date",
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		Body      SetScheduleBody `json:"body"`
	}) (*projectBody, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		project, err := e.SetSchedule(ctx, input.ProjectID, p, input.Body.PlannedEndDate)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: project}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-progress",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/progress",
		Summary:     "Update progress percent",
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		Body      SetProgressBody `json:"body"`
	}) (*projectBody, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		project, err := e.SetProgress(ctx, input.ProjectID, p, input.Body.Percent)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: project}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-closure-notes",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/closure-notes",
		Summary:     "Record closure summary and lessons learned",
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      ClosureNotesBody `json:"body"`
	}) (*projectBody, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		project, err := e.SetClosureNotes(ctx, input.ProjectID, p, input.Body.Summary, input.Body.LessonsLearned)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: project}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "force-status",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/force-status",
		Summary:     "Administrative close or cancel",
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		Body      ForceStatusBody `json:"body"`
	}) (*projectBody, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		project, err := e.ForceStatus(ctx, input.ProjectID, p, input.Body.Status, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: project}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-project-documents",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/documents",
		Summary:       "Attach project deliverables",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      AddDocumentsBody `json:"body"`
	}) (*struct {
		Body DocumentsResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		docs, err := e.AddProjectDocuments(ctx, input.ProjectID, p, documentInputs(input.Body.Documents))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentsResponse `json:"body"`
		}{Body: DocumentsResponse{Documents: docs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-documents",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/documents",
		Summary:     "List project documents",
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body DocumentsResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		docs, err := e.Repo.ListProjectDocuments(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentsResponse `json:"body"`
		}{Body: DocumentsResponse{Documents: docs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-history",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/history",
		Summary:     "Phase history",
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []domain.PhaseHistory `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListPhaseHistory(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.PhaseHistory `json:"body"`
		}{Body: items}, nil
	})
}

func registerClosures(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-closure",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/closure",
		Summary:       "Open the closure workflow",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      RequestClosureBody `json:"body"`
	}) (*closureBody, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.RequestClosure(ctx, input.ProjectID, p, input.Body.DesiredDate)
		if err != nil {
			return nil, handleError(err)
		}
		return &closureBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-closure",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/closure",
		Summary:     "Closure request history",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []domain.ClosureRequest `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListClosureRequests(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ClosureRequest `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-closure-slot",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/closure/slots/{slot}",
		Summary:     "Record one party's closure verdict",
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		Slot      string          `path:"slot" enum:"requester,business,it"`
		Body      ClosureSlotBody `json:"body"`
	}) (*closureBody, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ApproveClosureSlot(ctx, input.ProjectID, p, input.Slot, input.Body.Approve, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &closureBody{Body: c}, nil
	})
}

func registerDelegations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "grant-validation-delegation",
		Method:        http.MethodPost,
		Path:          "/delegations/validation",
		Summary:       "Delegate IT validation authority",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body GrantValidationDelegationBody `json:"body"`
	}) (*struct {
		Body domain.ValidationDelegation `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.GrantValidationDelegation(ctx, p, input.Body.DelegateID, input.Body.StartsAt, input.Body.EndsAt)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ValidationDelegation `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-validation-delegation",
		Method:      http.MethodDelete,
		Path:        "/delegations/validation/{delegation_id}",
		Summary:     "Revoke a validation delegation",
	}, func(ctx context.Context, input *struct {
		DelegationID string `path:"delegation_id"`
	}) (*struct{}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeValidationDelegation(ctx, input.DelegationID, p); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "grant-manager-delegation",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/delegations/manager",
		Summary:       "Delegate project management authority",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProjectID string                     `path:"project_id"`
		Body      GrantManagerDelegationBody `json:"body"`
	}) (*struct {
		Body domain.ManagerDelegation `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.GrantManagerDelegation(ctx, input.ProjectID, p, input.Body.DelegateID, input.Body.StartsAt, input.Body.EndsAt)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ManagerDelegation `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-manager-delegation",
		Method:      http.MethodDelete,
		Path:        "/delegations/manager/{delegation_id}",
		Summary:     "Revoke a manager delegation",
	}, func(ctx context.Context, input *struct {
		DelegationID string `path:"delegation_id"`
	}) (*struct{}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeManagerDelegation(ctx, input.DelegationID, p); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerPortfolios(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-portfolios",
		Method:      http.MethodGet,
		Path:        "/portfolios",
		Summary:     "List portfolios",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Portfolio `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListPortfolios(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Portfolio `json:"body"`
		}{Body: items}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log, newest first",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		Cursor     int64  `query:"cursor"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit, input.Cursor, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
