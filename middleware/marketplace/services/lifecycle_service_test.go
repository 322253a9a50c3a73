package services

import (
	"context"
	"errors"
	"testing"

	"taskhive-backend/core/marketplace"
	hivestore "taskhive-backend/storage/marketplace"
)

type fixture struct {
	store    *hivestore.MemoryStore
	engine   *LifecycleService
	webhooks *WebhookService

	poster marketplace.Operator
	worker marketplace.Operator
	agent  marketplace.Agent
}

// newFixture wires a memory-backed engine with one poster operator and one
// worker agent. The poster starts with 500 credits.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := hivestore.NewMemoryStore()

	poster, err := store.CreateOperator(ctx, "poster@example.com", "Poster")
	if err != nil {
		t.Fatalf("CreateOperator: %v", err)
	}
	worker, err := store.CreateOperator(ctx, "worker@example.com", "Worker")
	if err != nil {
		t.Fatalf("CreateOperator: %v", err)
	}
	agent, err := store.CreateAgent(ctx, marketplace.Agent{
		OperatorID: worker.ID,
		Name:       "worker-bot",
		Status:     marketplace.AgentActive,
	})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if _, err := store.AddCredits(ctx, poster.ID, 500, marketplace.TxDeposit, "seed", nil); err != nil {
		t.Fatalf("AddCredits: %v", err)
	}

	credits := NewCreditService(store, 10, DefaultWelcomeBonus, DefaultAgentBonus)
	webhooks := NewWebhookService(store, 0, 0)
	return &fixture{
		store:    store,
		engine:   NewLifecycleService(store, credits, webhooks),
		webhooks: webhooks,
		poster:   poster,
		worker:   worker,
		agent:    agent,
	}
}

func (f *fixture) postTask(t *testing.T, budget int64, maxRevisions int, autoReview bool) marketplace.Task {
	t.Helper()
	task, err := f.engine.CreateTask(context.Background(), f.poster.ID, marketplace.Task{
		Title:             "build the thing",
		BudgetCredits:     budget,
		MaxRevisions:      maxRevisions,
		AutoReviewEnabled: autoReview,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func (f *fixture) claimAndStart(t *testing.T, taskID int64, proposed int64) marketplace.TaskClaim {
	t.Helper()
	ctx := context.Background()
	claim, err := f.engine.Claim(ctx, f.agent.ID, taskID, proposed, "on it")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := f.engine.AcceptClaim(ctx, f.poster.ID, taskID, claim.ID); err != nil {
		t.Fatalf("AcceptClaim: %v", err)
	}
	if _, err := f.engine.StartTask(ctx, f.agent.ID, taskID); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	return claim
}

func TestCreateTaskValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []marketplace.Task{
		{Title: "", BudgetCredits: 100},
		{Title: "   ", BudgetCredits: 100},
		{Title: "ok", BudgetCredits: 0},
		{Title: "ok", BudgetCredits: -5},
		{Title: "ok", BudgetCredits: 100, MaxRevisions: marketplace.MaxRevisionsCap + 1},
	}
	for i, in := range cases {
		if _, err := f.engine.CreateTask(ctx, f.poster.ID, in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestFullLifecycleWithRevisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.postTask(t, 150, 1, false)
	f.claimAndStart(t, task.ID, 150)

	d1, err := f.engine.SubmitDeliverable(ctx, f.agent.ID, task.ID, "first draft")
	if err != nil {
		t.Fatalf("SubmitDeliverable: %v", err)
	}
	if d1.RevisionNumber != 1 {
		t.Fatalf("expected revision 1, got %d", d1.RevisionNumber)
	}

	if err := f.engine.RequestRevision(ctx, f.poster.ID, task.ID, d1.ID, "needs polish"); err != nil {
		t.Fatalf("RequestRevision: %v", err)
	}

	d2, err := f.engine.SubmitDeliverable(ctx, f.agent.ID, task.ID, "second draft")
	if err != nil {
		t.Fatalf("SubmitDeliverable rev 2: %v", err)
	}
	if d2.RevisionNumber != 2 {
		t.Fatalf("expected revision 2, got %d", d2.RevisionNumber)
	}

	// max_revisions=1 is exhausted: no further revision requests.
	if err := f.engine.RequestRevision(ctx, f.poster.ID, task.ID, d2.ID, "again"); err != hivestore.ErrMaxRevisionsExceeded {
		t.Fatalf("expected ErrMaxRevisionsExceeded, got %v", err)
	}

	if err := f.engine.AcceptDeliverable(ctx, f.poster.ID, task.ID, d2.ID); err != nil {
		t.Fatalf("AcceptDeliverable: %v", err)
	}
	f.webhooks.Wait()

	got, _ := f.store.GetTask(ctx, task.ID)
	if got.Status != marketplace.TaskCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}

	// 150 budget at 10% fee pays 135 to the worker's operator.
	workerOp, _ := f.store.GetOperator(ctx, f.worker.ID)
	if workerOp.CreditBalance != 135 {
		t.Fatalf("worker balance %d, want 135", workerOp.CreditBalance)
	}

	txs, _, _ := f.store.ListCreditTransactions(ctx, f.worker.ID, 100, nil)
	if len(txs) != 2 {
		t.Fatalf("expected payment + fee audit rows, got %d", len(txs))
	}
	// Newest first: fee audit row then payment.
	if txs[0].Type != marketplace.TxPlatformFee || txs[0].Amount != 0 {
		t.Fatalf("unexpected fee row %+v", txs[0])
	}
	if txs[1].Type != marketplace.TxPayment || txs[1].Amount != 135 {
		t.Fatalf("unexpected payment row %+v", txs[1])
	}

	agent, _ := f.store.GetAgent(ctx, f.agent.ID)
	if agent.TasksCompleted != 1 {
		t.Fatalf("tasks_completed %d, want 1", agent.TasksCompleted)
	}
}

func TestClaimValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.postTask(t, 100, 0, false)

	if _, err := f.engine.Claim(ctx, f.agent.ID, task.ID, 0, ""); err != hivestore.ErrInvalidCredits {
		t.Fatalf("expected ErrInvalidCredits for zero, got %v", err)
	}
	if _, err := f.engine.Claim(ctx, f.agent.ID, task.ID, 101, ""); err != hivestore.ErrInvalidCredits {
		t.Fatalf("expected ErrInvalidCredits above budget, got %v", err)
	}

	if _, err := f.engine.CancelTask(ctx, f.poster.ID, task.ID); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if _, err := f.engine.Claim(ctx, f.agent.ID, task.ID, 50, ""); err != hivestore.ErrTaskNotOpen {
		t.Fatalf("expected ErrTaskNotOpen, got %v", err)
	}
}

func TestAcceptClaimRejectsLosers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rival, err := f.store.CreateAgent(ctx, marketplace.Agent{
		OperatorID: f.worker.ID,
		Name:       "rival-bot",
		Status:     marketplace.AgentActive,
	})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	task := f.postTask(t, 100, 0, false)
	claimA, _ := f.engine.Claim(ctx, f.agent.ID, task.ID, 90, "")
	claimB, _ := f.engine.Claim(ctx, rival.ID, task.ID, 80, "")

	if _, err := f.engine.AcceptClaim(ctx, f.worker.ID, task.ID, claimA.ID); err != ErrNotPoster {
		t.Fatalf("expected ErrNotPoster, got %v", err)
	}

	got, err := f.engine.AcceptClaim(ctx, f.poster.ID, task.ID, claimA.ID)
	if err != nil {
		t.Fatalf("AcceptClaim: %v", err)
	}
	if got.Status != marketplace.TaskClaimed {
		t.Fatalf("expected claimed, got %s", got.Status)
	}

	b, _ := f.store.GetClaim(ctx, claimB.ID)
	if b.Status != marketplace.ClaimRejected {
		t.Fatalf("expected rival claim rejected, got %s", b.Status)
	}

	// A rejected claim cannot be accepted later.
	if _, err := f.engine.AcceptClaim(ctx, f.poster.ID, task.ID, claimB.ID); err != hivestore.ErrClaimNotFound {
		t.Fatalf("expected ErrClaimNotFound, got %v", err)
	}
	f.webhooks.Wait()
}

func TestAcceptDeliverableWrongStateLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.postTask(t, 100, 0, false)
	f.claimAndStart(t, task.ID, 100)
	d, err := f.engine.SubmitDeliverable(ctx, f.agent.ID, task.ID, "work")
	if err != nil {
		t.Fatalf("SubmitDeliverable: %v", err)
	}

	if err := f.engine.AcceptDeliverable(ctx, f.poster.ID, task.ID, d.ID); err != nil {
		t.Fatalf("AcceptDeliverable: %v", err)
	}
	// Accepting again must conflict and pay nothing twice.
	if err := f.engine.AcceptDeliverable(ctx, f.poster.ID, task.ID, d.ID); err != hivestore.ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	f.webhooks.Wait()

	txs, _, _ := f.store.ListCreditTransactions(ctx, f.worker.ID, 100, nil)
	if len(txs) != 2 {
		t.Fatalf("expected exactly one payment + fee pair, got %d rows", len(txs))
	}
}

func TestSubmitDeliverableAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.postTask(t, 100, 0, false)
	if _, err := f.engine.SubmitDeliverable(ctx, f.agent.ID, task.ID, "early"); err != ErrNotClaimant {
		t.Fatalf("expected ErrNotClaimant before claim, got %v", err)
	}

	f.claimAndStart(t, task.ID, 100)
	if _, err := f.engine.SubmitDeliverable(ctx, f.agent.ID+99, task.ID, "imposter"); err != ErrNotClaimant {
		t.Fatalf("expected ErrNotClaimant for other agent, got %v", err)
	}
}

func TestAutomatedReviewPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.postTask(t, 200, 1, true)
	f.claimAndStart(t, task.ID, 200)
	d, _ := f.engine.SubmitDeliverable(ctx, f.agent.ID, task.ID, "work")

	err := f.engine.AutomatedReview(ctx, ReviewRequest{
		TaskID:           task.ID,
		DeliverableID:    d.ID,
		Verdict:          "pass",
		Feedback:         "looks good",
		Scores:           map[string]float64{"quality": 0.93},
		KeySource:        "poster",
		CallerOperatorID: f.poster.ID,
	})
	if err != nil {
		t.Fatalf("AutomatedReview: %v", err)
	}
	f.webhooks.Wait()

	got, _ := f.store.GetTask(ctx, task.ID)
	if got.Status != marketplace.TaskCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.PosterReviewsUsed != 1 {
		t.Fatalf("poster_reviews_used %d, want 1", got.PosterReviewsUsed)
	}

	// 200 at 10% fee pays 180.
	workerOp, _ := f.store.GetOperator(ctx, f.worker.ID)
	if workerOp.CreditBalance != 180 {
		t.Fatalf("worker balance %d, want 180", workerOp.CreditBalance)
	}
}

func TestAutomatedReviewFail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.postTask(t, 200, 1, true)
	f.claimAndStart(t, task.ID, 200)
	d, _ := f.engine.SubmitDeliverable(ctx, f.agent.ID, task.ID, "work")

	err := f.engine.AutomatedReview(ctx, ReviewRequest{
		TaskID:        task.ID,
		DeliverableID: d.ID,
		Verdict:       "fail",
		Feedback:      "missing tests",
		KeySource:     "agent",
		CallerAgentID: f.agent.ID,
	})
	if err != nil {
		t.Fatalf("AutomatedReview: %v", err)
	}
	f.webhooks.Wait()

	got, _ := f.store.GetTask(ctx, task.ID)
	if got.Status != marketplace.TaskInProgress {
		t.Fatalf("expected in_progress after failed review, got %s", got.Status)
	}
	if got.PosterReviewsUsed != 0 {
		t.Fatalf("agent-keyed review consumed poster quota")
	}
	dGot, _ := f.store.GetDeliverable(ctx, d.ID)
	if dGot.Status != marketplace.DeliverableRevisionRequested || dGot.RevisionNotes != "missing tests" {
		t.Fatalf("unexpected deliverable after failed review: %+v", dGot)
	}

	// No payment on fail.
	workerOp, _ := f.store.GetOperator(ctx, f.worker.ID)
	if workerOp.CreditBalance != 0 {
		t.Fatalf("worker balance %d, want 0", workerOp.CreditBalance)
	}
}

func TestAutomatedReviewGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plain := f.postTask(t, 100, 0, false)
	f.claimAndStart(t, plain.ID, 100)
	d, _ := f.engine.SubmitDeliverable(ctx, f.agent.ID, plain.ID, "work")

	if err := f.engine.AutomatedReview(ctx, ReviewRequest{
		TaskID: plain.ID, DeliverableID: d.ID, Verdict: "maybe",
		KeySource: "agent", CallerAgentID: f.agent.ID,
	}); err != ErrInvalidVerdict {
		t.Fatalf("expected ErrInvalidVerdict, got %v", err)
	}
	if err := f.engine.AutomatedReview(ctx, ReviewRequest{
		TaskID: plain.ID, DeliverableID: d.ID, Verdict: "pass",
		KeySource: "agent", CallerAgentID: f.agent.ID,
	}); err != ErrAutoReviewDisabled {
		t.Fatalf("expected ErrAutoReviewDisabled, got %v", err)
	}

	auto := f.postTask(t, 100, 0, true)
	f.claimAndStart(t, auto.ID, 100)
	d2, _ := f.engine.SubmitDeliverable(ctx, f.agent.ID, auto.ID, "work")
	if err := f.engine.AcceptDeliverable(ctx, f.poster.ID, auto.ID, d2.ID); err != nil {
		t.Fatalf("AcceptDeliverable: %v", err)
	}
	f.webhooks.Wait()

	// Reviewing an already completed task conflicts.
	if err := f.engine.AutomatedReview(ctx, ReviewRequest{
		TaskID: auto.ID, DeliverableID: d2.ID, Verdict: "pass",
		KeySource: "agent", CallerAgentID: f.agent.ID,
	}); err != hivestore.ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAutomatedReviewCallerGating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.postTask(t, 100, 0, true)
	f.claimAndStart(t, task.ID, 100)
	d, _ := f.engine.SubmitDeliverable(ctx, f.agent.ID, task.ID, "work")

	// An agent that is neither the poster nor the claimant may not review.
	if err := f.engine.AutomatedReview(ctx, ReviewRequest{
		TaskID: task.ID, DeliverableID: d.ID, Verdict: "pass",
		KeySource: "agent", CallerAgentID: f.agent.ID + 99, CallerOperatorID: f.worker.ID + 99,
	}); err != ErrNotReviewer {
		t.Fatalf("expected ErrNotReviewer, got %v", err)
	}

	got, _ := f.store.GetTask(ctx, task.ID)
	if got.Status != marketplace.TaskDelivered {
		t.Fatalf("rejected review moved the task to %s", got.Status)
	}

	// The claiming agent may.
	if err := f.engine.AutomatedReview(ctx, ReviewRequest{
		TaskID: task.ID, DeliverableID: d.ID, Verdict: "pass",
		KeySource: "agent", CallerAgentID: f.agent.ID,
	}); err != nil {
		t.Fatalf("claimant review: %v", err)
	}
	f.webhooks.Wait()
}

func TestAcceptAcceptedClaimConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.postTask(t, 100, 0, false)
	c, err := f.engine.Claim(ctx, f.agent.ID, task.ID, 100, "on it")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := f.engine.AcceptClaim(ctx, f.poster.ID, task.ID, c.ID); err != nil {
		t.Fatalf("AcceptClaim: %v", err)
	}
	f.webhooks.Wait()

	// Accepting the winning claim a second time is a state conflict, not
	// a missing claim.
	if _, err := f.engine.AcceptClaim(ctx, f.poster.ID, task.ID, c.ID); err != hivestore.ErrConflict {
		t.Fatalf("expected ErrConflict on re-accept, got %v", err)
	}
}
