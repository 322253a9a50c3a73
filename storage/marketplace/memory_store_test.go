package marketplace

import (
	"context"
	"sync"
	"testing"

	marketplace "taskhive-backend/core/marketplace"
)

func seedTask(t *testing.T, s *MemoryStore, posterID, budget int64, maxRevisions int) marketplace.Task {
	t.Helper()
	task, err := s.CreateTask(context.Background(), marketplace.Task{
		PosterID:      posterID,
		Title:         "test task",
		BudgetCredits: budget,
		MaxRevisions:  maxRevisions,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func TestClaimLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	task := seedTask(t, s, 1, 100, 1)

	claimA, err := s.InsertClaim(ctx, marketplace.TaskClaim{TaskID: task.ID, AgentID: 10, ProposedCredits: 80})
	if err != nil {
		t.Fatalf("InsertClaim A: %v", err)
	}
	claimB, err := s.InsertClaim(ctx, marketplace.TaskClaim{TaskID: task.ID, AgentID: 11, ProposedCredits: 90})
	if err != nil {
		t.Fatalf("InsertClaim B: %v", err)
	}

	// Second pending claim by the same agent is rejected.
	if _, err := s.InsertClaim(ctx, marketplace.TaskClaim{TaskID: task.ID, AgentID: 10}); err != ErrDuplicateClaim {
		t.Fatalf("expected ErrDuplicateClaim, got %v", err)
	}

	rejected, err := s.AcceptClaim(ctx, task.ID, claimA.ID, claimA.AgentID)
	if err != nil {
		t.Fatalf("AcceptClaim: %v", err)
	}
	if len(rejected) != 1 || rejected[0].ID != claimB.ID {
		t.Fatalf("expected claim B rejected, got %+v", rejected)
	}

	got, _ := s.GetTask(ctx, task.ID)
	if got.Status != marketplace.TaskClaimed || got.ClaimedByAgentID == nil || *got.ClaimedByAgentID != 10 {
		t.Fatalf("unexpected task after accept: %+v", got)
	}

	// Accepting again conflicts: the task already left open.
	if _, err := s.AcceptClaim(ctx, task.ID, claimB.ID, claimB.AgentID); err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// Cancel only works from open.
	if err := s.CancelTask(ctx, task.ID); err != ErrConflict {
		t.Fatalf("expected ErrConflict on cancel of claimed task, got %v", err)
	}

	// Only the claimant can start.
	if err := s.StartTask(ctx, task.ID, 11); err != ErrConflict {
		t.Fatalf("expected ErrConflict for wrong agent, got %v", err)
	}
	if err := s.StartTask(ctx, task.ID, 10); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	got, _ = s.GetTask(ctx, task.ID)
	if got.Status != marketplace.TaskInProgress {
		t.Fatalf("expected in_progress, got %s", got.Status)
	}
}

func TestRollbackReopensTask(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	task := seedTask(t, s, 1, 100, 0)

	claim, _ := s.InsertClaim(ctx, marketplace.TaskClaim{TaskID: task.ID, AgentID: 10})
	if _, err := s.AcceptClaim(ctx, task.ID, claim.ID, claim.AgentID); err != nil {
		t.Fatalf("AcceptClaim: %v", err)
	}
	if err := s.RollbackClaim(ctx, task.ID); err != nil {
		t.Fatalf("RollbackClaim: %v", err)
	}

	got, _ := s.GetTask(ctx, task.ID)
	if got.Status != marketplace.TaskOpen || got.ClaimedByAgentID != nil {
		t.Fatalf("expected reopened task, got %+v", got)
	}
	c, _ := s.GetClaim(ctx, claim.ID)
	if c.Status != marketplace.ClaimWithdrawn {
		t.Fatalf("expected withdrawn claim, got %s", c.Status)
	}

	// The agent may claim again after rollback.
	if _, err := s.InsertClaim(ctx, marketplace.TaskClaim{TaskID: task.ID, AgentID: 10}); err != nil {
		t.Fatalf("re-claim after rollback: %v", err)
	}

	if err := s.RollbackClaim(ctx, task.ID); err != ErrConflict {
		t.Fatalf("expected ErrConflict rolling back open task, got %v", err)
	}
}

func TestAcceptClaimOneWinnerUnderContention(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	task := seedTask(t, s, 1, 100, 0)

	const n = 16
	claims := make([]marketplace.TaskClaim, n)
	for i := range claims {
		c, err := s.InsertClaim(ctx, marketplace.TaskClaim{TaskID: task.ID, AgentID: int64(100 + i)})
		if err != nil {
			t.Fatalf("InsertClaim %d: %v", i, err)
		}
		claims[i] = c
	}

	var wg sync.WaitGroup
	wins := make(chan int64, n)
	for _, c := range claims {
		wg.Add(1)
		go func(c marketplace.TaskClaim) {
			defer wg.Done()
			if _, err := s.AcceptClaim(ctx, task.ID, c.ID, c.AgentID); err == nil {
				wins <- c.AgentID
			}
		}(c)
	}
	wg.Wait()
	close(wins)

	var winners []int64
	for id := range wins {
		winners = append(winners, id)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(winners))
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.ClaimedByAgentID == nil || *got.ClaimedByAgentID != winners[0] {
		t.Fatalf("task claimant %v does not match winner %d", got.ClaimedByAgentID, winners[0])
	}
}

func TestDeliverableRevisionNumbering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	task := seedTask(t, s, 1, 100, 1)

	claim, _ := s.InsertClaim(ctx, marketplace.TaskClaim{TaskID: task.ID, AgentID: 10})
	if _, err := s.AcceptClaim(ctx, task.ID, claim.ID, claim.AgentID); err != nil {
		t.Fatalf("AcceptClaim: %v", err)
	}
	if err := s.StartTask(ctx, task.ID, 10); err != nil {
		t.Fatalf("StartTask: %v", err)
	}

	d1, err := s.InsertDeliverable(ctx, marketplace.Deliverable{TaskID: task.ID, AgentID: 10, Content: "v1"})
	if err != nil {
		t.Fatalf("InsertDeliverable: %v", err)
	}
	if d1.RevisionNumber != 1 {
		t.Fatalf("expected revision 1, got %d", d1.RevisionNumber)
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.Status != marketplace.TaskDelivered {
		t.Fatalf("expected delivered, got %s", got.Status)
	}

	// Submitting while delivered conflicts.
	if _, err := s.InsertDeliverable(ctx, marketplace.Deliverable{TaskID: task.ID, AgentID: 10, Content: "v2"}); err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if err := s.RequestRevision(ctx, task.ID, d1.ID, "tighten the intro"); err != nil {
		t.Fatalf("RequestRevision: %v", err)
	}
	d1Got, _ := s.GetDeliverable(ctx, d1.ID)
	if d1Got.Status != marketplace.DeliverableRevisionRequested || d1Got.RevisionNotes != "tighten the intro" {
		t.Fatalf("unexpected deliverable after revision request: %+v", d1Got)
	}

	d2, err := s.InsertDeliverable(ctx, marketplace.Deliverable{TaskID: task.ID, AgentID: 10, Content: "v2"})
	if err != nil {
		t.Fatalf("InsertDeliverable v2: %v", err)
	}
	if d2.RevisionNumber != 2 {
		t.Fatalf("expected revision 2, got %d", d2.RevisionNumber)
	}

	// max_revisions=1 allows the original plus one revision; a third
	// submission exceeds the cap.
	if err := s.RequestRevision(ctx, task.ID, d2.ID, "again"); err != nil {
		t.Fatalf("RequestRevision v2: %v", err)
	}
	if _, err := s.InsertDeliverable(ctx, marketplace.Deliverable{TaskID: task.ID, AgentID: 10, Content: "v3"}); err != ErrMaxRevisionsExceeded {
		t.Fatalf("expected ErrMaxRevisionsExceeded, got %v", err)
	}

	latest, _ := s.LatestRevision(ctx, task.ID, 10)
	if latest != 2 {
		t.Fatalf("expected latest revision 2, got %d", latest)
	}
}

func TestCompleteTaskRequiresDelivered(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	task := seedTask(t, s, 1, 100, 0)

	claim, _ := s.InsertClaim(ctx, marketplace.TaskClaim{TaskID: task.ID, AgentID: 10})
	s.AcceptClaim(ctx, task.ID, claim.ID, claim.AgentID)

	if err := s.CompleteTask(ctx, task.ID, 999); err != ErrDeliverableNotFound {
		t.Fatalf("expected ErrDeliverableNotFound, got %v", err)
	}

	s.StartTask(ctx, task.ID, 10)
	d, _ := s.InsertDeliverable(ctx, marketplace.Deliverable{TaskID: task.ID, AgentID: 10, Content: "done"})
	if err := s.CompleteTask(ctx, task.ID, d.ID); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if err := s.CompleteTask(ctx, task.ID, d.ID); err != ErrConflict {
		t.Fatalf("expected ErrConflict on double complete, got %v", err)
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.Status != marketplace.TaskCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestApplyReviewVerdictAtomicUnit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	task := seedTask(t, s, 1, 100, 1)

	claim, _ := s.InsertClaim(ctx, marketplace.TaskClaim{TaskID: task.ID, AgentID: 10})
	s.AcceptClaim(ctx, task.ID, claim.ID, claim.AgentID)
	s.StartTask(ctx, task.ID, 10)
	d, _ := s.InsertDeliverable(ctx, marketplace.Deliverable{TaskID: task.ID, AgentID: 10, Content: "v1"})

	attempt := marketplace.SubmissionAttempt{
		TaskID: task.ID, AgentID: 10, DeliverableID: d.ID,
		Verdict: "fail", Feedback: "needs tests", KeySource: "poster",
	}
	a, err := s.ApplyReviewVerdict(ctx, task.ID, d.ID, false, "needs tests", attempt, true)
	if err != nil {
		t.Fatalf("ApplyReviewVerdict: %v", err)
	}
	if a.AttemptNumber != 1 {
		t.Fatalf("attempt number %d, want 1", a.AttemptNumber)
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.Status != marketplace.TaskInProgress || got.PosterReviewsUsed != 1 {
		t.Fatalf("fail verdict not applied as one unit: %+v", got)
	}
	dGot, _ := s.GetDeliverable(ctx, d.ID)
	if dGot.Status != marketplace.DeliverableRevisionRequested || dGot.RevisionNotes != "needs tests" {
		t.Fatalf("unexpected deliverable: %+v", dGot)
	}

	// A verdict on a task that is not delivered writes nothing.
	if _, err := s.ApplyReviewVerdict(ctx, task.ID, d.ID, true, "", attempt, true); err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, _ = s.GetTask(ctx, task.ID)
	if got.PosterReviewsUsed != 1 {
		t.Fatalf("rejected verdict consumed quota: %d", got.PosterReviewsUsed)
	}
	if n := len(s.attempts); n != 1 {
		t.Fatalf("rejected verdict appended an attempt row: %d", n)
	}

	d2, _ := s.InsertDeliverable(ctx, marketplace.Deliverable{TaskID: task.ID, AgentID: 10, Content: "v2"})
	attempt.DeliverableID = d2.ID
	attempt.Verdict = "pass"
	a, err = s.ApplyReviewVerdict(ctx, task.ID, d2.ID, true, "", attempt, false)
	if err != nil {
		t.Fatalf("ApplyReviewVerdict pass: %v", err)
	}
	if a.AttemptNumber != 2 {
		t.Fatalf("attempt number %d, want 2", a.AttemptNumber)
	}
	got, _ = s.GetTask(ctx, task.ID)
	if got.Status != marketplace.TaskCompleted || got.PosterReviewsUsed != 1 {
		t.Fatalf("pass verdict not applied as one unit: %+v", got)
	}
}

func TestLedgerBalanceAndReplay(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	op, err := s.CreateOperator(ctx, "a@example.com", "A")
	if err != nil {
		t.Fatalf("CreateOperator: %v", err)
	}

	amounts := []int64{100, 25, -15, 135}
	types := []marketplace.TransactionType{marketplace.TxDeposit, marketplace.TxBonus, marketplace.TxPayment, marketplace.TxPayment}
	var want int64
	for i, amt := range amounts {
		tx, err := s.AddCredits(ctx, op.ID, amt, types[i], "test", nil)
		if err != nil {
			t.Fatalf("AddCredits %d: %v", i, err)
		}
		want += amt
		if tx.BalanceAfter != want {
			t.Fatalf("tx %d: balance_after %d, want %d", i, tx.BalanceAfter, want)
		}
	}

	got, _ := s.GetOperator(ctx, op.ID)
	if got.CreditBalance != want {
		t.Fatalf("balance %d, want %d", got.CreditBalance, want)
	}

	// Replaying the ledger reproduces the balance.
	txs, _, err := s.ListCreditTransactions(ctx, op.ID, 100, nil)
	if err != nil {
		t.Fatalf("ListCreditTransactions: %v", err)
	}
	if len(txs) != len(amounts) {
		t.Fatalf("expected %d transactions, got %d", len(amounts), len(txs))
	}
	var replay int64
	for _, tx := range txs {
		replay += tx.Amount
	}
	if replay != want {
		t.Fatalf("ledger replay %d, want %d", replay, want)
	}

	// Newest first.
	for i := 1; i < len(txs); i++ {
		if txs[i-1].ID < txs[i].ID {
			t.Fatalf("transactions out of order: %d before %d", txs[i-1].ID, txs[i].ID)
		}
	}

	if _, err := s.AddCredits(ctx, 999, 10, marketplace.TxDeposit, "", nil); err != ErrOperatorNotFound {
		t.Fatalf("expected ErrOperatorNotFound, got %v", err)
	}
}

func TestLedgerPagination(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	op, _ := s.CreateOperator(ctx, "a@example.com", "A")
	for i := 0; i < 7; i++ {
		if _, err := s.AddCredits(ctx, op.ID, 10, marketplace.TxDeposit, "seed", nil); err != nil {
			t.Fatalf("AddCredits: %v", err)
		}
	}

	seen := map[int64]bool{}
	var cursor *marketplace.Cursor
	pages := 0
	for {
		txs, info, err := s.ListCreditTransactions(ctx, op.ID, 3, cursor)
		if err != nil {
			t.Fatalf("ListCreditTransactions: %v", err)
		}
		for _, tx := range txs {
			if seen[tx.ID] {
				t.Fatalf("transaction %d returned twice", tx.ID)
			}
			seen[tx.ID] = true
		}
		pages++
		if !info.HasMore {
			break
		}
		cursor = marketplace.DecodeCursor(info.NextCursor)
		if cursor == nil {
			t.Fatalf("next cursor failed to decode: %q", info.NextCursor)
		}
	}
	if len(seen) != 7 {
		t.Fatalf("paging lost rows: saw %d of 7", len(seen))
	}
	if pages != 3 {
		t.Fatalf("expected 3 pages, got %d", pages)
	}
}

func TestListTasksPaginationAllSorts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	// Deliberate budget ties to exercise the id tie-break.
	budgets := []int64{50, 200, 50, 120, 200, 75, 50}
	for _, b := range budgets {
		seedTask(t, s, 1, b, 0)
	}

	for _, sortKind := range []marketplace.TaskSort{
		marketplace.SortNewest, marketplace.SortOldest,
		marketplace.SortBudgetHigh, marketplace.SortBudgetLow,
	} {
		var collected []marketplace.Task
		var cursor *marketplace.Cursor
		for {
			page, info, err := s.ListTasks(ctx, marketplace.TaskFilter{
				Sort:   sortKind,
				Limit:  2,
				Cursor: cursor,
			})
			if err != nil {
				t.Fatalf("%s: ListTasks: %v", sortKind, err)
			}
			collected = append(collected, page...)
			if !info.HasMore {
				break
			}
			cursor = marketplace.DecodeCursor(info.NextCursor)
		}

		if len(collected) != len(budgets) {
			t.Fatalf("%s: collected %d tasks, want %d", sortKind, len(collected), len(budgets))
		}
		seen := map[int64]bool{}
		for _, task := range collected {
			if seen[task.ID] {
				t.Fatalf("%s: task %d returned twice", sortKind, task.ID)
			}
			seen[task.ID] = true
		}
		for i := 1; i < len(collected); i++ {
			if taskLess(sortKind, collected[i], collected[i-1]) {
				t.Fatalf("%s: page boundary broke ordering at index %d", sortKind, i)
			}
		}
	}
}

func TestListTasksFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	low := seedTask(t, s, 1, 40, 0)
	mid, _ := s.CreateTask(ctx, marketplace.Task{PosterID: 1, Title: "docs", Category: "Writing", BudgetCredits: 100})
	high := seedTask(t, s, 1, 400, 0)

	tasks, _, err := s.ListTasks(ctx, marketplace.TaskFilter{MinBudget: 50, MaxBudget: 200})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != mid.ID {
		t.Fatalf("budget filter returned %+v", tasks)
	}

	// Category match is case-insensitive.
	tasks, _, _ = s.ListTasks(ctx, marketplace.TaskFilter{Category: "writing"})
	if len(tasks) != 1 || tasks[0].ID != mid.ID {
		t.Fatalf("category filter returned %+v", tasks)
	}

	claim, _ := s.InsertClaim(ctx, marketplace.TaskClaim{TaskID: low.ID, AgentID: 10})
	s.AcceptClaim(ctx, low.ID, claim.ID, claim.AgentID)

	tasks, _, _ = s.ListTasks(ctx, marketplace.TaskFilter{Status: marketplace.TaskOpen})
	if len(tasks) != 2 {
		t.Fatalf("status filter returned %d tasks, want 2", len(tasks))
	}
	_ = high
}

func TestWebhookStorage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	op, _ := s.CreateOperator(ctx, "a@example.com", "A")
	agent, err := s.CreateAgent(ctx, marketplace.Agent{OperatorID: op.ID, Name: "bot", Status: marketplace.AgentActive})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	hook, err := s.InsertWebhook(ctx, marketplace.Webhook{
		AgentID: agent.ID,
		URL:     "https://example.com/hooks",
		Secret:  "whsec_x",
		Events:  []string{"claim.accepted", "deliverable.accepted"},
	})
	if err != nil {
		t.Fatalf("InsertWebhook: %v", err)
	}
	if !hook.Active {
		t.Fatalf("expected webhook active on insert")
	}

	hooks, _ := s.ActiveWebhooksForEvent(ctx, agent.ID, "claim.accepted")
	if len(hooks) != 1 || hooks[0].ID != hook.ID {
		t.Fatalf("ActiveWebhooksForEvent returned %+v", hooks)
	}
	hooks, _ = s.ActiveWebhooksForEvent(ctx, agent.ID, "task.created")
	if len(hooks) != 0 {
		t.Fatalf("expected no hooks for unsubscribed event, got %+v", hooks)
	}

	n, _ := s.CountWebhooks(ctx, agent.ID)
	if n != 1 {
		t.Fatalf("CountWebhooks = %d, want 1", n)
	}

	// Agents cannot delete each other's hooks.
	if err := s.DeleteWebhook(ctx, agent.ID+1, hook.ID); err != ErrWebhookNotFound {
		t.Fatalf("expected ErrWebhookNotFound, got %v", err)
	}
	if err := s.DeleteWebhook(ctx, agent.ID, hook.ID); err != nil {
		t.Fatalf("DeleteWebhook: %v", err)
	}
	if n, _ := s.CountWebhooks(ctx, agent.ID); n != 0 {
		t.Fatalf("CountWebhooks after delete = %d, want 0", n)
	}
}
