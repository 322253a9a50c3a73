package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"taskhive-backend/core/marketplace"
	hive "taskhive-backend/middleware/marketplace"
	"taskhive-backend/metrics"
	hivestore "taskhive-backend/storage/marketplace"
)

var (
	ErrNotPoster          = hivestore.Err("only the task poster may perform this action")
	ErrNotClaimant        = hivestore.Err("task is claimed by a different agent")
	ErrAutoReviewDisabled = hivestore.Err("automated review is not enabled for this task")
	ErrNotReviewer        = hivestore.Err("only the task poster or claiming agent may submit a review")
	ErrInvalidVerdict     = hivestore.Err("verdict must be pass or fail")
)

// ErrInvalidInput wraps request-field validation failures so handlers can
// map them to a 422 without matching message text.
var ErrInvalidInput = hivestore.Err("invalid input")

// LifecycleService is the task state machine. Every operation validates
// against current store state before mutating, executes multi-row changes
// as one store transaction, and only after the transition commits runs its
// credit flow and schedules webhook notifications.
type LifecycleService struct {
	store    hive.Store
	credits  *CreditService
	webhooks *WebhookService
}

// NewLifecycleService wires the engine to its store, ledger, and
// dispatcher.
func NewLifecycleService(store hive.Store, credits *CreditService, webhooks *WebhookService) *LifecycleService {
	return &LifecycleService{store: store, credits: credits, webhooks: webhooks}
}

// CreateTask posts a new open task and fans out new-task notifications to
// agents interested in its category.
func (s *LifecycleService) CreateTask(ctx context.Context, posterID int64, t marketplace.Task) (marketplace.Task, error) {
	if strings.TrimSpace(t.Title) == "" {
		return marketplace.Task{}, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	if t.BudgetCredits <= 0 {
		return marketplace.Task{}, fmt.Errorf("%w: budget_credits must be positive", ErrInvalidInput)
	}
	if t.MaxRevisions < 0 || t.MaxRevisions > marketplace.MaxRevisionsCap {
		return marketplace.Task{}, fmt.Errorf("%w: max_revisions must be between 0 and %d", ErrInvalidInput, marketplace.MaxRevisionsCap)
	}
	t.PosterID = posterID
	created, err := s.store.CreateTask(ctx, t)
	if err != nil {
		return marketplace.Task{}, err
	}
	metrics.TaskTransitions.WithLabelValues("created").Inc()

	if created.Category != "" {
		s.webhooks.DispatchNewTaskMatch(created, map[string]interface{}{
			"task_id":        created.ID,
			"title":          created.Title,
			"category":       created.Category,
			"budget_credits": created.BudgetCredits,
		})
	}
	return created, nil
}

// Claim records a pending claim by an agent on an open task.
func (s *LifecycleService) Claim(ctx context.Context, agentID, taskID, proposedCredits int64, message string) (marketplace.TaskClaim, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return marketplace.TaskClaim{}, err
	}
	if t.Status != marketplace.TaskOpen {
		return marketplace.TaskClaim{}, hivestore.ErrTaskNotOpen
	}
	if proposedCredits <= 0 || proposedCredits > t.BudgetCredits {
		return marketplace.TaskClaim{}, hivestore.ErrInvalidCredits
	}
	return s.store.InsertClaim(ctx, marketplace.TaskClaim{
		TaskID:          taskID,
		AgentID:         agentID,
		ProposedCredits: proposedCredits,
		Message:         message,
	})
}

// AcceptClaim moves the task open→claimed for the winning claim, rejecting
// every other pending claim, then notifies winner and losers best-effort.
func (s *LifecycleService) AcceptClaim(ctx context.Context, posterID, taskID, claimID int64) (marketplace.Task, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return marketplace.Task{}, err
	}
	if t.PosterID != posterID {
		return marketplace.Task{}, ErrNotPoster
	}
	c, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return marketplace.Task{}, err
	}
	if c.TaskID != taskID {
		return marketplace.Task{}, hivestore.ErrClaimNotFound
	}
	if c.Status != marketplace.ClaimPending {
		// Re-accepting the winning claim is a state conflict; claims that
		// were rejected or withdrawn stay not-found.
		if c.Status == marketplace.ClaimAccepted {
			metrics.TransitionConflicts.WithLabelValues("claim_accepted").Inc()
			return marketplace.Task{}, hivestore.ErrConflict
		}
		return marketplace.Task{}, hivestore.ErrClaimNotFound
	}

	rejected, err := s.store.AcceptClaim(ctx, taskID, claimID, c.AgentID)
	if err != nil {
		if err == hivestore.ErrConflict {
			metrics.TransitionConflicts.WithLabelValues("claim_accepted").Inc()
		}
		return marketplace.Task{}, err
	}
	metrics.TaskTransitions.WithLabelValues("claim_accepted").Inc()

	s.webhooks.Dispatch(c.AgentID, marketplace.EventClaimAccepted, map[string]interface{}{
		"task_id":          taskID,
		"claim_id":         claimID,
		"proposed_credits": c.ProposedCredits,
	})
	for _, r := range rejected {
		s.webhooks.Dispatch(r.AgentID, marketplace.EventClaimRejected, map[string]interface{}{
			"task_id":  taskID,
			"claim_id": r.ID,
		})
	}
	return s.store.GetTask(ctx, taskID)
}

// RollbackClaim returns a claimed task to open; the accepted claim is
// withdrawn.
func (s *LifecycleService) RollbackClaim(ctx context.Context, posterID, taskID int64) (marketplace.Task, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return marketplace.Task{}, err
	}
	if t.PosterID != posterID {
		return marketplace.Task{}, ErrNotPoster
	}
	if err := s.store.RollbackClaim(ctx, taskID); err != nil {
		if err == hivestore.ErrConflict {
			metrics.TransitionConflicts.WithLabelValues("rollback").Inc()
		}
		return marketplace.Task{}, err
	}
	metrics.TaskTransitions.WithLabelValues("rollback").Inc()
	return s.store.GetTask(ctx, taskID)
}

// StartTask moves claimed→in_progress for the claiming agent.
func (s *LifecycleService) StartTask(ctx context.Context, agentID, taskID int64) (marketplace.Task, error) {
	if err := s.store.StartTask(ctx, taskID, agentID); err != nil {
		if err == hivestore.ErrConflict {
			metrics.TransitionConflicts.WithLabelValues("started").Inc()
		}
		return marketplace.Task{}, err
	}
	metrics.TaskTransitions.WithLabelValues("started").Inc()
	return s.store.GetTask(ctx, taskID)
}

// CancelTask moves open→cancelled.
func (s *LifecycleService) CancelTask(ctx context.Context, posterID, taskID int64) (marketplace.Task, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return marketplace.Task{}, err
	}
	if t.PosterID != posterID {
		return marketplace.Task{}, ErrNotPoster
	}
	if err := s.store.CancelTask(ctx, taskID); err != nil {
		if err == hivestore.ErrConflict {
			metrics.TransitionConflicts.WithLabelValues("cancelled").Inc()
		}
		return marketplace.Task{}, err
	}
	metrics.TaskTransitions.WithLabelValues("cancelled").Inc()
	return s.store.GetTask(ctx, taskID)
}

// SubmitDeliverable records the agent's next revision and moves the task
// to delivered. The revision cap is validated before any mutation and
// enforced again inside the store transaction.
func (s *LifecycleService) SubmitDeliverable(ctx context.Context, agentID, taskID int64, content string) (marketplace.Deliverable, error) {
	if strings.TrimSpace(content) == "" {
		return marketplace.Deliverable{}, fmt.Errorf("%w: content required", ErrInvalidInput)
	}
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return marketplace.Deliverable{}, err
	}
	if t.ClaimedByAgentID == nil || *t.ClaimedByAgentID != agentID {
		return marketplace.Deliverable{}, ErrNotClaimant
	}
	if t.Status != marketplace.TaskClaimed && t.Status != marketplace.TaskInProgress {
		return marketplace.Deliverable{}, hivestore.ErrConflict
	}
	prior, err := s.store.LatestRevision(ctx, taskID, agentID)
	if err != nil {
		return marketplace.Deliverable{}, err
	}
	if prior+1 > t.MaxRevisions+1 {
		return marketplace.Deliverable{}, hivestore.ErrMaxRevisionsExceeded
	}

	d, err := s.store.InsertDeliverable(ctx, marketplace.Deliverable{
		TaskID:  taskID,
		AgentID: agentID,
		Content: content,
	})
	if err != nil {
		if err == hivestore.ErrConflict {
			metrics.TransitionConflicts.WithLabelValues("delivered").Inc()
		}
		return marketplace.Deliverable{}, err
	}
	metrics.TaskTransitions.WithLabelValues("delivered").Inc()
	return d, nil
}

// AcceptDeliverable completes the task. After the transition commits, the
// credit flow, the agent's completion counter, and the notification run
// sequentially before the response; none of them can undo the transition.
func (s *LifecycleService) AcceptDeliverable(ctx context.Context, posterID, taskID, deliverableID int64) error {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.PosterID != posterID {
		return ErrNotPoster
	}
	d, err := s.store.GetDeliverable(ctx, deliverableID)
	if err != nil {
		return err
	}
	if d.TaskID != taskID {
		return hivestore.ErrDeliverableNotFound
	}

	if err := s.store.CompleteTask(ctx, taskID, deliverableID); err != nil {
		if err == hivestore.ErrConflict {
			metrics.TransitionConflicts.WithLabelValues("completed").Inc()
		}
		return err
	}
	metrics.TaskTransitions.WithLabelValues("completed").Inc()

	s.settleCompletion(ctx, t, d)
	return nil
}

// settleCompletion runs the post-commit effects of a completed task.
func (s *LifecycleService) settleCompletion(ctx context.Context, t marketplace.Task, d marketplace.Deliverable) {
	agent, err := s.store.GetAgent(ctx, d.AgentID)
	if err != nil {
		log.Printf("completion settlement: agent %d lookup failed: %v", d.AgentID, err)
		return
	}
	if err := s.credits.ProcessTaskCompletion(ctx, agent.OperatorID, t.BudgetCredits, t.ID); err != nil {
		log.Printf("completion settlement: credit flow for task %d failed: %v", t.ID, err)
	}
	if err := s.store.IncrementTasksCompleted(ctx, agent.ID); err != nil {
		log.Printf("completion settlement: counter for agent %d failed: %v", agent.ID, err)
	}
	s.webhooks.Dispatch(agent.ID, marketplace.EventDeliverableAccepted, map[string]interface{}{
		"task_id":        t.ID,
		"deliverable_id": d.ID,
		"budget_credits": t.BudgetCredits,
	})
}

// RequestRevision sends a delivered task back to in_progress with the
// poster's notes on the deliverable.
func (s *LifecycleService) RequestRevision(ctx context.Context, posterID, taskID, deliverableID int64, notes string) error {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.PosterID != posterID {
		return ErrNotPoster
	}
	return s.requestRevision(ctx, t, deliverableID, notes)
}

func (s *LifecycleService) requestRevision(ctx context.Context, t marketplace.Task, deliverableID int64, notes string) error {
	d, err := s.store.GetDeliverable(ctx, deliverableID)
	if err != nil {
		return err
	}
	if d.TaskID != t.ID {
		return hivestore.ErrDeliverableNotFound
	}
	if d.RevisionNumber >= t.MaxRevisions+1 {
		return hivestore.ErrMaxRevisionsExceeded
	}

	if err := s.store.RequestRevision(ctx, t.ID, deliverableID, notes); err != nil {
		if err == hivestore.ErrConflict {
			metrics.TransitionConflicts.WithLabelValues("revision_requested").Inc()
		}
		return err
	}
	metrics.TaskTransitions.WithLabelValues("revision_requested").Inc()

	s.webhooks.Dispatch(d.AgentID, marketplace.EventRevisionRequested, map[string]interface{}{
		"task_id":        t.ID,
		"deliverable_id": d.ID,
		"notes":          notes,
	})
	return nil
}

// ReviewRequest is a reviewer verdict together with the caller submitting
// it. Only the task poster or the claiming agent may review.
type ReviewRequest struct {
	TaskID        int64
	DeliverableID int64
	Verdict       string
	Feedback      string
	Scores        map[string]float64
	KeySource     string

	CallerAgentID    int64
	CallerOperatorID int64
}

// AutomatedReview applies a reviewer verdict. Pass completes the task like
// acceptDeliverable; fail requests a revision with the feedback as notes.
// The status transition, the append-only SubmissionAttempt row and the
// poster review quota commit as one store transaction.
func (s *LifecycleService) AutomatedReview(ctx context.Context, req ReviewRequest) error {
	if req.Verdict != "pass" && req.Verdict != "fail" {
		return ErrInvalidVerdict
	}
	t, err := s.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return err
	}
	if !t.AutoReviewEnabled {
		return ErrAutoReviewDisabled
	}
	if t.PosterID != req.CallerOperatorID &&
		(t.ClaimedByAgentID == nil || *t.ClaimedByAgentID != req.CallerAgentID) {
		return ErrNotReviewer
	}
	d, err := s.store.GetDeliverable(ctx, req.DeliverableID)
	if err != nil {
		return err
	}
	if d.TaskID != req.TaskID {
		return hivestore.ErrDeliverableNotFound
	}
	if t.Status != marketplace.TaskDelivered || d.Status != marketplace.DeliverableSubmitted {
		return hivestore.ErrConflict
	}

	pass := req.Verdict == "pass"
	attempt := marketplace.SubmissionAttempt{
		TaskID:        req.TaskID,
		AgentID:       d.AgentID,
		DeliverableID: req.DeliverableID,
		Verdict:       req.Verdict,
		Feedback:      req.Feedback,
		Scores:        req.Scores,
		KeySource:     req.KeySource,
	}
	if _, err := s.store.ApplyReviewVerdict(ctx, req.TaskID, req.DeliverableID, pass, req.Feedback, attempt, req.KeySource == "poster"); err != nil {
		if err == hivestore.ErrConflict {
			metrics.TransitionConflicts.WithLabelValues("review_verdict").Inc()
		}
		return err
	}

	if pass {
		metrics.TaskTransitions.WithLabelValues("completed").Inc()
		s.settleCompletion(ctx, t, d)
	} else {
		metrics.TaskTransitions.WithLabelValues("revision_requested").Inc()
		s.webhooks.Dispatch(d.AgentID, marketplace.EventRevisionRequested, map[string]interface{}{
			"task_id":        t.ID,
			"deliverable_id": d.ID,
			"notes":          req.Feedback,
		})
	}
	return nil
}
