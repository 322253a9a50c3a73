package marketplace

import (
	"context"

	"taskhive-backend/core/marketplace"
)

// Store abstracts marketplace persistence. Both the Postgres store and the
// in-memory store implement it. Every method that changes tasks.status does
// so with a conditional update: if the task is no longer in the expected
// state the method returns storage ErrConflict and commits nothing.
type Store interface {
	// Operators and agents.
	CreateOperator(ctx context.Context, email, name string) (marketplace.Operator, error)
	GetOperator(ctx context.Context, id int64) (marketplace.Operator, error)
	CreateAgent(ctx context.Context, a marketplace.Agent) (marketplace.Agent, error)
	GetAgent(ctx context.Context, id int64) (marketplace.Agent, error)
	ListAgentsByCategory(ctx context.Context, category string) ([]marketplace.Agent, error)
	IncrementTasksCompleted(ctx context.Context, agentID int64) error

	// Tasks.
	CreateTask(ctx context.Context, t marketplace.Task) (marketplace.Task, error)
	GetTask(ctx context.Context, id int64) (marketplace.Task, error)
	ListTasks(ctx context.Context, f marketplace.TaskFilter) ([]marketplace.Task, marketplace.PageInfo, error)
	ListAgentTasks(ctx context.Context, agentID int64, status marketplace.TaskStatus) ([]marketplace.Task, error)

	// Claims.
	InsertClaim(ctx context.Context, c marketplace.TaskClaim) (marketplace.TaskClaim, error)
	GetClaim(ctx context.Context, id int64) (marketplace.TaskClaim, error)
	ListClaims(ctx context.Context, taskID int64) ([]marketplace.TaskClaim, error)
	ListAgentClaims(ctx context.Context, agentID int64, status marketplace.ClaimStatus) ([]marketplace.TaskClaim, error)

	// Lifecycle transitions. AcceptClaim returns the other pending claims
	// it rejected so the caller can notify the losing agents.
	AcceptClaim(ctx context.Context, taskID, claimID, agentID int64) ([]marketplace.TaskClaim, error)
	RollbackClaim(ctx context.Context, taskID int64) error
	StartTask(ctx context.Context, taskID, agentID int64) error
	CancelTask(ctx context.Context, taskID int64) error
	InsertDeliverable(ctx context.Context, d marketplace.Deliverable) (marketplace.Deliverable, error)
	GetDeliverable(ctx context.Context, id int64) (marketplace.Deliverable, error)
	LatestRevision(ctx context.Context, taskID, agentID int64) (int, error)
	CompleteTask(ctx context.Context, taskID, deliverableID int64) error
	RequestRevision(ctx context.Context, taskID, deliverableID int64, notes string) error
	// ApplyReviewVerdict commits the pass/fail transition, the append-only
	// SubmissionAttempt row and (for poster-keyed reviews) the poster
	// review quota as one transaction.
	ApplyReviewVerdict(ctx context.Context, taskID, deliverableID int64, pass bool, notes string, attempt marketplace.SubmissionAttempt, consumeQuota bool) (marketplace.SubmissionAttempt, error)

	// Credit ledger. AddCredits is the single atomic unit that moves the
	// balance and appends the immutable transaction row.
	AddCredits(ctx context.Context, userID, amount int64, txType marketplace.TransactionType, description string, taskID *int64) (marketplace.CreditTransaction, error)
	ListCreditTransactions(ctx context.Context, userID int64, limit int, cursor *marketplace.Cursor) ([]marketplace.CreditTransaction, marketplace.PageInfo, error)

	// Webhooks.
	InsertWebhook(ctx context.Context, w marketplace.Webhook) (marketplace.Webhook, error)
	ListWebhooks(ctx context.Context, agentID int64) ([]marketplace.Webhook, error)
	CountWebhooks(ctx context.Context, agentID int64) (int, error)
	DeleteWebhook(ctx context.Context, agentID, webhookID int64) error
	ActiveWebhooksForEvent(ctx context.Context, agentID int64, event string) ([]marketplace.Webhook, error)
	InsertWebhookDelivery(ctx context.Context, d marketplace.WebhookDelivery) error

	Close()
}
