package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"phaseline/internal/config"
	"phaseline/internal/db"
	"phaseline/internal/domain"
	"phaseline/internal/engine"
	"phaseline/internal/engine/authority"
	"phaseline/internal/migrate"
	"phaseline/internal/repo"
)

var (
	alice = authority.Principal{ActorID: "alice"}
	bob   = authority.Principal{ActorID: "bob", Roles: []string{domain.RoleBusinessSponsor}}
	carol = authority.Principal{ActorID: "carol", Roles: []string{domain.RoleITDirector}}
	dave  = authority.Principal{ActorID: "dave"}
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	env := &testEnv{Ctx: context.Background(), clock: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return env.clock }
	env.Engine = eng
	return env
}

// newRequest creates and submits a draft for alice with bob as sponsor.
func newRequest(t *testing.T, env *testEnv, title string) domain.Request {
	t.Helper()
	q, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{
		Title:       title,
		Description: "replace the aging tool",
		Objectives:  "one system of record",
		SponsorID:   "bob",
	}, alice)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	q, err = env.Engine.SubmitRequest(env.Ctx, q.ID, alice, false)
	if err != nil {
		t.Fatalf("submit request: %v", err)
	}
	return q
}

// newProject walks a request through both approval levels and returns the
// project created by IT validation.
func newProject(t *testing.T, env *testEnv, title string) domain.Project {
	t.Helper()
	q := newRequest(t, env, title)
	if _, err := env.Engine.BusinessApprove(env.Ctx, q.ID, bob, engine.RequestAmendments{}); err != nil {
		t.Fatalf("business approve: %v", err)
	}
	_, project, err := env.Engine.ITApprove(env.Ctx, q.ID, carol)
	if err != nil {
		t.Fatalf("it approve: %v", err)
	}
	return project
}

// toAcceptance drives a fresh project through charter and plan approvals
// into the acceptance phase.
func toAcceptance(t *testing.T, env *testEnv, id string) domain.Project {
	t.Helper()
	if _, err := env.Engine.ValidateCharterBusiness(env.Ctx, id, bob, true, ""); err != nil {
		t.Fatalf("charter business: %v", err)
	}
	if _, err := env.Engine.ValidateCharterIT(env.Ctx, id, carol, true, ""); err != nil {
		t.Fatalf("charter it: %v", err)
	}
	addProjectDoc(t, env, id, "charter")
	if _, err := env.Engine.AdvancePhase(env.Ctx, id, carol, ""); err != nil {
		t.Fatalf("advance to planning: %v", err)
	}
	if _, err := env.Engine.ApprovePlanBusiness(env.Ctx, id, bob); err != nil {
		t.Fatalf("plan business: %v", err)
	}
	if _, err := env.Engine.ApprovePlanIT(env.Ctx, id, carol); err != nil {
		t.Fatalf("plan it: %v", err)
	}
	addProjectDoc(t, env, id, "plan")
	if _, err := env.Engine.AdvancePhase(env.Ctx, id, carol, ""); err != nil {
		t.Fatalf("advance to execution: %v", err)
	}
	project, err := env.Engine.AdvancePhase(env.Ctx, id, carol, "")
	if err != nil {
		t.Fatalf("advance to acceptance: %v", err)
	}
	return project
}

func addProjectDoc(t *testing.T, env *testEnv, id, category string) {
	t.Helper()
	_, err := env.Engine.AddProjectDocuments(env.Ctx, id, carol, []engine.DocumentInput{
		{Name: category + ".pdf", Category: category, URI: "file:///" + category + ".pdf"},
	})
	if err != nil {
		t.Fatalf("add %s document: %v", category, err)
	}
}

// openClosure prepares acceptance sign-off, closure notes and the mandatory
// closure report, then opens the tri-party closure workflow.
func openClosure(t *testing.T, env *testEnv, id string) domain.ClosureRequest {
	t.Helper()
	if _, err := env.Engine.ApproveAcceptance(env.Ctx, id, bob); err != nil {
		t.Fatalf("approve acceptance: %v", err)
	}
	if _, err := env.Engine.SetClosureNotes(env.Ctx, id, carol, "delivered", "start gates earlier"); err != nil {
		t.Fatalf("closure notes: %v", err)
	}
	addProjectDoc(t, env, id, "closure_report")
	c, err := env.Engine.RequestClosure(env.Ctx, id, carol, "")
	if err != nil {
		t.Fatalf("request closure: %v", err)
	}
	return c
}

func TestRequestLifecycleCreatesProject(t *testing.T) {
	env := newTestEnv(t)
	q := newRequest(t, env, "Migration CRM")
	if q.Status != domain.RequestPendingBusiness {
		t.Fatalf("status after submit = %s", q.Status)
	}
	if q.SubmittedAt == nil {
		t.Fatalf("submitted_at not recorded")
	}

	q, err := env.Engine.BusinessApprove(env.Ctx, q.ID, bob, engine.RequestAmendments{})
	if err != nil {
		t.Fatalf("business approve: %v", err)
	}
	if q.Status != domain.RequestPendingIT || q.BusinessValidatedAt == nil {
		t.Fatalf("business approval not recorded: %+v", q)
	}

	q, project, err := env.Engine.ITApprove(env.Ctx, q.ID, carol)
	if err != nil {
		t.Fatalf("it approve: %v", err)
	}
	if q.Status != domain.RequestValidatedByIT {
		t.Fatalf("request status = %s", q.Status)
	}
	if q.ProjectID == nil || *q.ProjectID != project.ID {
		t.Fatalf("request not linked to project")
	}
	if project.Code != "P-001" {
		t.Fatalf("project code = %s, want P-001", project.Code)
	}
	if project.Phase != domain.PhaseAnalysis || project.Status != domain.ProjectNotStarted {
		t.Fatalf("new project phase/status = %s/%s", project.Phase, project.Status)
	}
	if project.SponsorID != "bob" || project.RequestID != q.ID {
		t.Fatalf("project provenance wrong: %+v", project)
	}

	// already validated, a second IT approval must not create another project
	var te engine.TransitionError
	if _, _, err := env.Engine.ITApprove(env.Ctx, q.ID, carol); !errors.As(err, &te) {
		t.Fatalf("second it approve: want transition error, got %v", err)
	}
}

func TestSubmitAuthorizationAndOrdering(t *testing.T) {
	env := newTestEnv(t)
	q, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{Title: "Portail RH", SponsorID: "bob"}, alice)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// only the requester submits
	var fe authority.ForbiddenError
	if _, err := env.Engine.SubmitRequest(env.Ctx, q.ID, bob, false); !errors.As(err, &fe) {
		t.Fatalf("foreign submit: want forbidden, got %v", err)
	}

	// IT cannot act before business approval
	var te engine.TransitionError
	if _, _, err := env.Engine.ITApprove(env.Ctx, q.ID, carol); !errors.As(err, &te) {
		t.Fatalf("it approve on draft: want transition error, got %v", err)
	}
	if got, _ := env.Engine.Repo.GetRequest(env.Ctx, q.ID); got.Status != domain.RequestDraft {
		t.Fatalf("failed actions must not change status, got %s", got.Status)
	}
}

func TestSubmitDuplicateDetection(t *testing.T) {
	env := newTestEnv(t)
	newRequest(t, env, "Migration CRM")

	q, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{Title: "MIGRATION-CRM", SponsorID: "bob"}, alice)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = env.Engine.SubmitRequest(env.Ctx, q.ID, alice, false)
	var de engine.DuplicateError
	if !errors.As(err, &de) {
		t.Fatalf("want duplicate error, got %v", err)
	}
	if len(de.Candidates) == 0 || de.Candidates[0].Score < 0.7 {
		t.Fatalf("unexpected candidates: %+v", de.Candidates)
	}
	if got, _ := env.Engine.Repo.GetRequest(env.Ctx, q.ID); got.Status != domain.RequestDraft {
		t.Fatalf("blocked submit must leave the draft, got %s", got.Status)
	}

	// explicit override goes through
	q, err = env.Engine.SubmitRequest(env.Ctx, q.ID, alice, true)
	if err != nil {
		t.Fatalf("override submit: %v", err)
	}
	if q.Status != domain.RequestPendingBusiness {
		t.Fatalf("status after override = %s", q.Status)
	}
}

func TestBusinessDecisionsAndClone(t *testing.T) {
	env := newTestEnv(t)
	q := newRequest(t, env, "Refonte intranet")

	var ce engine.CommentRequiredError
	if _, err := env.Engine.BusinessReject(env.Ctx, q.ID, bob, ""); !errors.As(err, &ce) {
		t.Fatalf("reject without comment: want comment error, got %v", err)
	}
	q, err := env.Engine.BusinessReject(env.Ctx, q.ID, bob, "no budget this year")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if q.Status != domain.RequestRejectedByBusiness || q.BusinessComment != "no budget this year" {
		t.Fatalf("rejection not recorded: %+v", q)
	}

	// rejection is terminal; the path forward is a fresh clone
	clone, err := env.Engine.CloneRequest(env.Ctx, q.ID, alice)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if clone.ID == q.ID || clone.Status != domain.RequestDraft || clone.Title != q.Title {
		t.Fatalf("bad clone: %+v", clone)
	}
	orig, _ := env.Engine.Repo.GetRequest(env.Ctx, q.ID)
	if orig.Status != domain.RequestRejectedByBusiness {
		t.Fatalf("clone must not touch the original, got %s", orig.Status)
	}
}

func TestCorrectionAndReturnLoops(t *testing.T) {
	env := newTestEnv(t)
	q := newRequest(t, env, "Archivage legal")

	q, err := env.Engine.BusinessRequestCorrection(env.Ctx, q.ID, bob, "attach the cost estimate")
	if err != nil {
		t.Fatalf("request correction: %v", err)
	}
	if q.Status != domain.RequestCorrectionRequested {
		t.Fatalf("status = %s", q.Status)
	}
	// documents resume toward business review
	q, err = env.Engine.AddDocuments(env.Ctx, q.ID, alice, []engine.DocumentInput{{Name: "estimate.xlsx", Category: "finance"}})
	if err != nil {
		t.Fatalf("add documents: %v", err)
	}
	if q.Status != domain.RequestPendingBusiness {
		t.Fatalf("after correction docs, status = %s", q.Status)
	}

	if _, err := env.Engine.BusinessApprove(env.Ctx, q.ID, bob, engine.RequestAmendments{}); err != nil {
		t.Fatalf("business approve: %v", err)
	}
	q, err = env.Engine.ITReturnToRequester(env.Ctx, q.ID, carol, "needs an architecture note")
	if err != nil {
		t.Fatalf("return to requester: %v", err)
	}
	if q.Status != domain.RequestReturnedToRequester {
		t.Fatalf("status = %s", q.Status)
	}
	// an IT return skips business and goes straight back to IT
	q, err = env.Engine.AddDocuments(env.Ctx, q.ID, alice, []engine.DocumentInput{{Name: "archi.md", Category: "architecture"}})
	if err != nil {
		t.Fatalf("add documents: %v", err)
	}
	if q.Status != domain.RequestPendingIT {
		t.Fatalf("after returned docs, status = %s", q.Status)
	}
}

func TestSponsorAmendmentsOnApproval(t *testing.T) {
	env := newTestEnv(t)
	q := newRequest(t, env, "Outil de ticketing")
	title := "Outil de ticketing groupe"
	benefits := "shared support backlog"
	q, err := env.Engine.BusinessApprove(env.Ctx, q.ID, bob, engine.RequestAmendments{Title: &title, Benefits: &benefits})
	if err != nil {
		t.Fatalf("business approve: %v", err)
	}
	if q.Title != title || q.Benefits != benefits {
		t.Fatalf("amendments not applied: %+v", q)
	}
}

func TestCharterGateAndPhaseAdvance(t *testing.T) {
	env := newTestEnv(t)
	project := newProject(t, env, "Migration CRM")

	// half a charter is not enough
	if _, err := env.Engine.ValidateCharterBusiness(env.Ctx, project.ID, bob, true, ""); err != nil {
		t.Fatalf("charter business: %v", err)
	}
	var te engine.TransitionError
	if _, err := env.Engine.AdvancePhase(env.Ctx, project.ID, carol, ""); !errors.As(err, &te) {
		t.Fatalf("advance without full charter: want transition error, got %v", err)
	}

	project, err := env.Engine.ValidateCharterIT(env.Ctx, project.ID, carol, true, "")
	if err != nil {
		t.Fatalf("charter it: %v", err)
	}
	if !project.CharterApproved {
		t.Fatalf("combined charter flag not derived")
	}

	// deliverable gate: planning needs a charter document
	var dle engine.DeliverableError
	if _, err := env.Engine.AdvancePhase(env.Ctx, project.ID, carol, ""); !errors.As(err, &dle) {
		t.Fatalf("advance without charter doc: want deliverable error, got %v", err)
	}
	if !strings.Contains(dle.Message, "charter") {
		t.Fatalf("gate message should name the category: %s", dle.Message)
	}
	addProjectDoc(t, env, project.ID, "charter")
	project, err = env.Engine.AdvancePhase(env.Ctx, project.ID, carol, "analysis complete")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if project.Phase != domain.PhasePlanning || project.Status != domain.ProjectInProgress {
		t.Fatalf("after advance, phase/status = %s/%s", project.Phase, project.Status)
	}
	if project.CharterApprovedAt == nil {
		t.Fatalf("charter approval date not stamped")
	}
}

func TestCharterRejectionNeedsComment(t *testing.T) {
	env := newTestEnv(t)
	project := newProject(t, env, "Migration CRM")

	var ce engine.CommentRequiredError
	if _, err := env.Engine.ValidateCharterIT(env.Ctx, project.ID, carol, false, ""); !errors.As(err, &ce) {
		t.Fatalf("want comment error, got %v", err)
	}
	project, err := env.Engine.ValidateCharterIT(env.Ctx, project.ID, carol, false, "scope too broad")
	if err != nil {
		t.Fatalf("charter reject: %v", err)
	}
	if project.CharterIT || project.CharterApproved || project.CharterComment != "scope too broad" {
		t.Fatalf("rejection not recorded: %+v", project)
	}
}

func TestPlanApprovalOrdering(t *testing.T) {
	env := newTestEnv(t)
	project := newProject(t, env, "Migration CRM")
	if _, err := env.Engine.ValidateCharterBusiness(env.Ctx, project.ID, bob, true, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ValidateCharterIT(env.Ctx, project.ID, carol, true, ""); err != nil {
		t.Fatal(err)
	}
	addProjectDoc(t, env, project.ID, "charter")
	if _, err := env.Engine.AdvancePhase(env.Ctx, project.ID, carol, ""); err != nil {
		t.Fatal(err)
	}

	// IT cannot sign the plan before business
	var te engine.TransitionError
	_, err := env.Engine.ApprovePlanIT(env.Ctx, project.ID, carol)
	if !errors.As(err, &te) || te.Reason == "" {
		t.Fatalf("want ordering error, got %v", err)
	}
	if _, err := env.Engine.ApprovePlanBusiness(env.Ctx, project.ID, bob); err != nil {
		t.Fatalf("plan business: %v", err)
	}
	if _, err := env.Engine.ApprovePlanIT(env.Ctx, project.ID, carol); err != nil {
		t.Fatalf("plan it: %v", err)
	}

	addProjectDoc(t, env, project.ID, "plan")
	project, err = env.Engine.AdvancePhase(env.Ctx, project.ID, carol, "")
	if err != nil {
		t.Fatalf("advance to execution: %v", err)
	}
	if project.Phase != domain.PhaseExecution || project.StartDate == nil {
		t.Fatalf("execution entry: %+v", project)
	}
}

func TestAcceptanceExitGoesThroughClosure(t *testing.T) {
	env := newTestEnv(t)
	project := newProject(t, env, "Migration CRM")
	project = toAcceptance(t, env, project.ID)
	if project.Phase != domain.PhaseAcceptance {
		t.Fatalf("phase = %s", project.Phase)
	}
	var te engine.TransitionError
	if _, err := env.Engine.AdvancePhase(env.Ctx, project.ID, carol, ""); !errors.As(err, &te) {
		t.Fatalf("advance at acceptance: want transition error, got %v", err)
	}
}

func TestProgressAndRAG(t *testing.T) {
	env := newTestEnv(t)
	project := newProject(t, env, "Migration CRM")
	toAcceptance(t, env, project.ID)

	// start 2025-01-01 (phase advance stamp), planned end 100 days later
	if _, err := env.Engine.SetSchedule(env.Ctx, project.ID, carol, "2025-04-11T00:00:00Z"); err != nil {
		t.Fatalf("set schedule: %v", err)
	}
	// halfway through the window with only 10% done: far behind
	env.clock = time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC)
	p, err := env.Engine.SetProgress(env.Ctx, project.ID, carol, 10)
	if err != nil {
		t.Fatalf("set progress: %v", err)
	}
	if p.RAG != domain.RAGRed {
		t.Fatalf("rag = %s, want red", p.RAG)
	}
	// catch up to slightly behind
	if p, err = env.Engine.SetProgress(env.Ctx, project.ID, carol, 30); err != nil || p.RAG != domain.RAGAmber {
		t.Fatalf("rag = %s (%v), want amber", p.RAG, err)
	}
	if p, err = env.Engine.SetProgress(env.Ctx, project.ID, carol, 45); err != nil || p.RAG != domain.RAGGreen {
		t.Fatalf("rag = %s (%v), want green", p.RAG, err)
	}

	if _, err := env.Engine.SetProgress(env.Ctx, project.ID, carol, 101); err == nil {
		t.Fatalf("out-of-range progress accepted")
	}
}

func TestClosureCompletesWithRequesterAndIT(t *testing.T) {
	env := newTestEnv(t)
	project := newProject(t, env, "Migration CRM")
	toAcceptance(t, env, project.ID)
	c := openClosure(t, env, project.ID)

	p, _ := env.Engine.Repo.GetProject(env.Ctx, project.ID)
	if p.Phase != domain.PhaseClosure || p.Status != domain.ProjectClosureInProgress {
		t.Fatalf("closure entry: %s/%s", p.Phase, p.Status)
	}

	c, err := env.Engine.ApproveClosureSlot(env.Ctx, project.ID, alice, engine.SlotRequester, true, "")
	if err != nil {
		t.Fatalf("requester slot: %v", err)
	}
	if c.Completed {
		t.Fatalf("closure completed without IT")
	}
	// a slot is settable once per attempt
	var te engine.TransitionError
	if _, err := env.Engine.ApproveClosureSlot(env.Ctx, project.ID, alice, engine.SlotRequester, true, ""); !errors.As(err, &te) {
		t.Fatalf("double slot write: want transition error, got %v", err)
	}

	c, err = env.Engine.ApproveClosureSlot(env.Ctx, project.ID, carol, engine.SlotIT, true, "")
	if err != nil {
		t.Fatalf("it slot: %v", err)
	}
	if !c.Completed || c.FinalClosureAt == nil {
		t.Fatalf("closure not completed: %+v", c)
	}
	p, _ = env.Engine.Repo.GetProject(env.Ctx, project.ID)
	if p.Status != domain.ProjectClosed || p.ActualEndDate == nil {
		t.Fatalf("project not closed: %+v", p)
	}
}

func TestClosureCompletesWithBusinessAndIT(t *testing.T) {
	env := newTestEnv(t)
	project := newProject(t, env, "Migration CRM")
	toAcceptance(t, env, project.ID)
	openClosure(t, env, project.ID)

	if _, err := env.Engine.ApproveClosureSlot(env.Ctx, project.ID, bob, engine.SlotBusiness, true, ""); err != nil {
		t.Fatalf("business slot: %v", err)
	}
	c, err := env.Engine.ApproveClosureSlot(env.Ctx, project.ID, carol, engine.SlotIT, true, "")
	if err != nil {
		t.Fatalf("it slot: %v", err)
	}
	if !c.Completed {
		t.Fatalf("requester OR business plus IT should complete, got %+v", c)
	}
}

func TestClosureITVetoReopensAttempt(t *testing.T) {
	env := newTestEnv(t)
	project := newProject(t, env, "Migration CRM")
	toAcceptance(t, env, project.ID)
	openClosure(t, env, project.ID)

	if _, err := env.Engine.ApproveClosureSlot(env.Ctx, project.ID, alice, engine.SlotRequester, true, ""); err != nil {
		t.Fatalf("requester slot: %v", err)
	}
	var ce engine.CommentRequiredError
	if _, err := env.Engine.ApproveClosureSlot(env.Ctx, project.ID, carol, engine.SlotIT, false, ""); !errors.As(err, &ce) {
		t.Fatalf("veto without comment: want comment error, got %v", err)
	}
	c, err := env.Engine.ApproveClosureSlot(env.Ctx, project.ID, carol, engine.SlotIT, false, "open defects remain")
	if err != nil {
		t.Fatalf("it veto: %v", err)
	}
	if c.Completed || c.RequesterSlot != domain.SlotPending || c.BusinessSlot != domain.SlotPending || c.ITSlot != domain.SlotPending {
		t.Fatalf("veto must reset the attempt: %+v", c)
	}
	p, _ := env.Engine.Repo.GetProject(env.Ctx, project.ID)
	if p.Phase != domain.PhaseAcceptance || p.Status != domain.ProjectInProgress {
		t.Fatalf("veto must roll back to acceptance: %s/%s", p.Phase, p.Status)
	}

	// rework done, every party signs again on the same attempt
	if _, err := env.Engine.ApproveClosureSlot(env.Ctx, project.ID, alice, engine.SlotRequester, true, ""); err != nil {
		t.Fatalf("requester slot again: %v", err)
	}
	c, err = env.Engine.ApproveClosureSlot(env.Ctx, project.ID, carol, engine.SlotIT, true, "")
	if err != nil {
		t.Fatalf("it slot again: %v", err)
	}
	if !c.Completed {
		t.Fatalf("reopened attempt should complete: %+v", c)
	}
}

func TestClosureBusinessRejectionLeavesAttemptOpen(t *testing.T) {
	env := newTestEnv(t)
	project := newProject(t, env, "Migration CRM")
	toAcceptance(t, env, project.ID)
	openClosure(t, env, project.ID)

	c, err := env.Engine.ApproveClosureSlot(env.Ctx, project.ID, bob, engine.SlotBusiness, false, "budget report incomplete")
	if err != nil {
		t.Fatalf("business rejection: %v", err)
	}
	// only the IT slot vetoes the attempt; a business no stands alone
	if c.BusinessSlot != domain.SlotRejected || c.RequesterSlot != domain.SlotPending || c.ITSlot != domain.SlotPending {
		t.Fatalf("business rejection must touch only its own slot: %+v", c)
	}
	if c.Completed {
		t.Fatalf("closure completed after business rejection")
	}
	p, _ := env.Engine.Repo.GetProject(env.Ctx, project.ID)
	if p.Phase != domain.PhaseClosure || p.Status != domain.ProjectClosureInProgress {
		t.Fatalf("business rejection must not roll the phase back: %s/%s", p.Phase, p.Status)
	}

	// requester plus IT still close out the attempt
	if _, err := env.Engine.ApproveClosureSlot(env.Ctx, project.ID, alice, engine.SlotRequester, true, ""); err != nil {
		t.Fatalf("requester slot: %v", err)
	}
	c, err = env.Engine.ApproveClosureSlot(env.Ctx, project.ID, carol, engine.SlotIT, true, "")
	if err != nil {
		t.Fatalf("it slot: %v", err)
	}
	if !c.Completed {
		t.Fatalf("requester and IT approvals should complete despite the business no: %+v", c)
	}
}

func TestClosureBusinessValidatorDirection(t *testing.T) {
	env := newTestEnv(t)
	q, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{
		Title:       "Migration CRM",
		Description: "replace the aging tool",
		SponsorID:   "bob",
		DirectionID: "finance",
	}, alice)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, err := env.Engine.SubmitRequest(env.Ctx, q.ID, alice, false); err != nil {
		t.Fatalf("submit request: %v", err)
	}
	if _, err := env.Engine.BusinessApprove(env.Ctx, q.ID, bob, engine.RequestAmendments{}); err != nil {
		t.Fatalf("business approve: %v", err)
	}
	_, project, err := env.Engine.ITApprove(env.Ctx, q.ID, carol)
	if err != nil {
		t.Fatalf("it approve: %v", err)
	}
	toAcceptance(t, env, project.ID)
	openClosure(t, env, project.ID)

	outsider := authority.Principal{ActorID: "erin", Roles: []string{domain.RoleBusinessValidator}, DirectionID: "marketing"}
	var fe authority.ForbiddenError
	if _, err := env.Engine.ApproveClosureSlot(env.Ctx, project.ID, outsider, engine.SlotBusiness, true, ""); !errors.As(err, &fe) {
		t.Fatalf("validator of another direction: want forbidden, got %v", err)
	}

	insider := authority.Principal{ActorID: "fay", Roles: []string{domain.RoleBusinessValidator}, DirectionID: "finance"}
	c, err := env.Engine.ApproveClosureSlot(env.Ctx, project.ID, insider, engine.SlotBusiness, true, "")
	if err != nil {
		t.Fatalf("validator of the project direction: %v", err)
	}
	if c.BusinessSlot != domain.SlotApproved {
		t.Fatalf("business slot not approved: %+v", c)
	}
}

func TestClosureSlotAuthorization(t *testing.T) {
	env := newTestEnv(t)
	project := newProject(t, env, "Migration CRM")
	toAcceptance(t, env, project.ID)
	openClosure(t, env, project.ID)

	var fe authority.ForbiddenError
	if _, err := env.Engine.ApproveClosureSlot(env.Ctx, project.ID, bob, engine.SlotRequester, true, ""); !errors.As(err, &fe) {
		t.Fatalf("sponsor in requester slot: want forbidden, got %v", err)
	}
	if _, err := env.Engine.ApproveClosureSlot(env.Ctx, project.ID, alice, engine.SlotIT, true, ""); !errors.As(err, &fe) {
		t.Fatalf("requester in it slot: want forbidden, got %v", err)
	}
}

func TestRequestClosurePreconditions(t *testing.T) {
	env := newTestEnv(t)
	project := newProject(t, env, "Migration CRM")
	toAcceptance(t, env, project.ID)

	// acceptance sign-off, notes and the closure report are all mandatory
	var te engine.TransitionError
	if _, err := env.Engine.RequestClosure(env.Ctx, project.ID, carol, ""); !errors.As(err, &te) {
		t.Fatalf("closure without acceptance: want transition error, got %v", err)
	}
	if _, err := env.Engine.ApproveAcceptance(env.Ctx, project.ID, bob); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RequestClosure(env.Ctx, project.ID, carol, ""); !errors.As(err, &te) {
		t.Fatalf("closure without notes: want transition error, got %v", err)
	}
	if _, err := env.Engine.SetClosureNotes(env.Ctx, project.ID, carol, "delivered", "plan gates earlier"); err != nil {
		t.Fatal(err)
	}
	var dle engine.DeliverableError
	if _, err := env.Engine.RequestClosure(env.Ctx, project.ID, carol, ""); !errors.As(err, &dle) {
		t.Fatalf("closure without report: want deliverable error, got %v", err)
	}
	addProjectDoc(t, env, project.ID, "closure_report")
	if _, err := env.Engine.RequestClosure(env.Ctx, project.ID, carol, "2025-06-30T00:00:00Z"); err != nil {
		t.Fatalf("request closure: %v", err)
	}
	// one open attempt at a time
	if _, err := env.Engine.RequestClosure(env.Ctx, project.ID, carol, ""); !errors.As(err, &te) {
		t.Fatalf("second closure: want transition error, got %v", err)
	}
}

func TestValidationDelegationWindow(t *testing.T) {
	env := newTestEnv(t)
	q := newRequest(t, env, "Migration CRM")
	if _, err := env.Engine.BusinessApprove(env.Ctx, q.ID, bob, engine.RequestAmendments{}); err != nil {
		t.Fatal(err)
	}

	var fe authority.ForbiddenError
	if _, _, err := env.Engine.ITApprove(env.Ctx, q.ID, dave); !errors.As(err, &fe) {
		t.Fatalf("undelegated it approve: want forbidden, got %v", err)
	}

	if _, err := env.Engine.GrantValidationDelegation(env.Ctx, carol, "dave",
		"2025-01-01T00:00:00Z", "2025-01-10T00:00:00Z"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	// outside the window the grant is inert
	env.clock = time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	if _, _, err := env.Engine.ITApprove(env.Ctx, q.ID, dave); !errors.As(err, &fe) {
		t.Fatalf("expired delegation: want forbidden, got %v", err)
	}
	// inside it, the delegate validates like any IT authority
	env.clock = time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	_, project, err := env.Engine.ITApprove(env.Ctx, q.ID, dave)
	if err != nil {
		t.Fatalf("delegated it approve: %v", err)
	}
	if project.Code != "P-001" {
		t.Fatalf("project code = %s", project.Code)
	}
}

func TestDelegationGrantValidation(t *testing.T) {
	env := newTestEnv(t)

	var fe authority.ForbiddenError
	if _, err := env.Engine.GrantValidationDelegation(env.Ctx, alice, "dave",
		"2025-01-01T00:00:00Z", "2025-01-10T00:00:00Z"); !errors.As(err, &fe) {
		t.Fatalf("non-IT grant: want forbidden, got %v", err)
	}
	var te engine.TransitionError
	if _, err := env.Engine.GrantValidationDelegation(env.Ctx, carol, "dave",
		"2025-01-10T00:00:00Z", "2025-01-01T00:00:00Z"); !errors.As(err, &te) {
		t.Fatalf("inverted window: want transition error, got %v", err)
	}
	if _, err := env.Engine.GrantValidationDelegation(env.Ctx, carol, "carol",
		"2025-01-01T00:00:00Z", "2025-01-10T00:00:00Z"); !errors.As(err, &te) {
		t.Fatalf("self delegation: want transition error, got %v", err)
	}
}

func TestManagerDelegationAndForcedCancel(t *testing.T) {
	env := newTestEnv(t)
	project := newProject(t, env, "Migration CRM")

	// open-ended grant: dave manages until the project ends
	d, err := env.Engine.GrantManagerDelegation(env.Ctx, project.ID, carol, "dave", "2025-01-01T00:00:00Z", nil)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := env.Engine.SetProgress(env.Ctx, project.ID, dave, 5); err != nil {
		t.Fatalf("delegate progress update: %v", err)
	}

	// forced termination needs an IT base role and a comment
	var fe authority.ForbiddenError
	if _, err := env.Engine.ForceStatus(env.Ctx, project.ID, dave, domain.ProjectCancelled, "x"); !errors.As(err, &fe) {
		t.Fatalf("delegate force: want forbidden, got %v", err)
	}
	var ce engine.CommentRequiredError
	if _, err := env.Engine.ForceStatus(env.Ctx, project.ID, carol, domain.ProjectCancelled, ""); !errors.As(err, &ce) {
		t.Fatalf("force without comment: want comment error, got %v", err)
	}
	p, err := env.Engine.ForceStatus(env.Ctx, project.ID, carol, domain.ProjectCancelled, "sponsor withdrew funding")
	if err != nil {
		t.Fatalf("force cancel: %v", err)
	}
	if p.Status != domain.ProjectCancelled || p.ActualEndDate == nil {
		t.Fatalf("cancel not recorded: %+v", p)
	}

	// cancellation ends the delegation with it
	got, err := env.Engine.Repo.GetManagerDelegation(env.Ctx, d.ID)
	if err != nil {
		t.Fatalf("get delegation: %v", err)
	}
	if got.Active || got.EndsAt == nil {
		t.Fatalf("delegation should be deactivated with an end date on cancel: %+v", got)
	}
	if _, err := env.Engine.SetProgress(env.Ctx, project.ID, dave, 10); !errors.As(err, &fe) {
		t.Fatalf("post-cancel delegate action: want forbidden, got %v", err)
	}
}

func TestOptimisticConcurrency(t *testing.T) {
	env := newTestEnv(t)
	q := newRequest(t, env, "Migration CRM")

	stale, err := env.Engine.Repo.GetRequest(env.Ctx, q.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.BusinessApprove(env.Ctx, q.ID, bob, engine.RequestAmendments{}); err != nil {
		t.Fatal(err)
	}

	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := env.Engine.Repo.UpdateRequest(env.Ctx, tx, stale); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("stale update: want conflict, got %v", err)
	}
}

func TestPhaseHistoryTrail(t *testing.T) {
	env := newTestEnv(t)
	project := newProject(t, env, "Migration CRM")
	toAcceptance(t, env, project.ID)

	history, err := env.Engine.Repo.ListPhaseHistory(env.Ctx, project.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	// creation plus three advances
	if len(history) != 4 {
		t.Fatalf("history entries = %d, want 4", len(history))
	}
	phases := make([]string, 0, len(history))
	for _, h := range history {
		phases = append(phases, h.Phase)
	}
	want := []string{domain.PhaseAnalysis, domain.PhasePlanning, domain.PhaseExecution, domain.PhaseAcceptance}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("history phases = %v, want %v", phases, want)
		}
	}
}
