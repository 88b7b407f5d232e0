package engine

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"phaseline/internal/config"
	"phaseline/internal/deliverables"
	"phaseline/internal/engine/authority"
	"phaseline/internal/engine/similarity"
	"phaseline/internal/events"
	"phaseline/internal/repo"
)

// Engine drives the request approval and project phase state machines.
// Every operation is one transaction: validate, mutate, append history and
// audit rows, commit. A failed precondition leaves state untouched.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config
	Gate   deliverables.Gate
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Config: cfg,
		Gate:   deliverables.Checker{Repo: r, Required: cfg.Deliverables.Required},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) events() events.Writer {
	return events.Writer{DB: e.DB, Now: e.Now}
}

// Authority returns a resolver sharing the engine clock, so delegation
// windows and entity timestamps agree in tests.
func (e Engine) Authority() authority.Resolver {
	return authority.Resolver{Repo: e.Repo, Now: e.Now}
}

// TransitionError reports an action attempted outside its declared source
// states, or with an unsatisfied gate precondition.
type TransitionError struct {
	Entity string
	From   string
	Action string
	Reason string
}

func (e TransitionError) Error() string {
	msg := fmt.Sprintf("invalid %s transition: %s not allowed from %s", e.Entity, e.Action, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// CommentRequiredError reports a rejection or return attempted without the
// mandatory comment.
type CommentRequiredError struct {
	Action string
}

func (e CommentRequiredError) Error() string {
	return fmt.Sprintf("%s requires a comment", e.Action)
}

// DeliverableError carries the gate message verbatim.
type DeliverableError struct {
	Message string
}

func (e DeliverableError) Error() string { return e.Message }

// DuplicateError is advisory: the submission is blocked only until the
// caller confirms the override.
type DuplicateError struct {
	Candidates []similarity.Candidate
}

func (e DuplicateError) Error() string {
	titles := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		titles = append(titles, c.Title)
	}
	return fmt.Sprintf("similar requests exist (%s); resubmit with override to proceed", strings.Join(titles, ", "))
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
