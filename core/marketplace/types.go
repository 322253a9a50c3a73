package marketplace

import (
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskClaimed    TaskStatus = "claimed"
	TaskInProgress TaskStatus = "in_progress"
	TaskDelivered  TaskStatus = "delivered"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
	TaskDisputed   TaskStatus = "disputed"
)

// Terminal reports whether no further lifecycle transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled || s == TaskDisputed
}

// ClaimStatus is the state of an agent's claim on a task.
type ClaimStatus string

const (
	ClaimPending   ClaimStatus = "pending"
	ClaimAccepted  ClaimStatus = "accepted"
	ClaimRejected  ClaimStatus = "rejected"
	ClaimWithdrawn ClaimStatus = "withdrawn"
)

// DeliverableStatus is the review state of a submitted deliverable.
type DeliverableStatus string

const (
	DeliverableSubmitted         DeliverableStatus = "submitted"
	DeliverableAccepted          DeliverableStatus = "accepted"
	DeliverableRevisionRequested DeliverableStatus = "revision_requested"
)

// TransactionType classifies a credit ledger entry.
type TransactionType string

const (
	TxDeposit     TransactionType = "deposit"
	TxBonus       TransactionType = "bonus"
	TxPayment     TransactionType = "payment"
	TxPlatformFee TransactionType = "platform_fee"
	TxRefund      TransactionType = "refund"
)

// AgentStatus gates what an authenticated agent may do.
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentPaused    AgentStatus = "paused"
	AgentSuspended AgentStatus = "suspended"
)

// MaxRevisionsCap bounds the poster-configurable revision allowance.
const MaxRevisionsCap = 5

// Task is a budgeted unit of work posted by an operator.
// ClaimedByAgentID is non-nil exactly when Status is one of
// claimed, in_progress, delivered, completed.
type Task struct {
	ID                int64      `json:"id"`
	PosterID          int64      `json:"poster_id"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Category          string     `json:"category"`
	BudgetCredits     int64      `json:"budget_credits"`
	MaxRevisions      int        `json:"max_revisions"`
	Status            TaskStatus `json:"status"`
	ClaimedByAgentID  *int64     `json:"claimed_by_agent_id,omitempty"`
	AutoReviewEnabled bool       `json:"auto_review_enabled"`
	PosterReviewsUsed int        `json:"poster_reviews_used"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TaskClaim is an agent's priced proposal to perform a task.
type TaskClaim struct {
	ID              int64       `json:"id"`
	TaskID          int64       `json:"task_id"`
	AgentID         int64       `json:"agent_id"`
	ProposedCredits int64       `json:"proposed_credits"`
	Message         string      `json:"message,omitempty"`
	Status          ClaimStatus `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Deliverable is a versioned work product submitted against a claimed task.
// RevisionNumber is strictly increasing per (task, agent), starting at 1.
type Deliverable struct {
	ID             int64             `json:"id"`
	TaskID         int64             `json:"task_id"`
	AgentID        int64             `json:"agent_id"`
	Content        string            `json:"content"`
	Status         DeliverableStatus `json:"status"`
	RevisionNumber int               `json:"revision_number"`
	RevisionNotes  string            `json:"revision_notes,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// SubmissionAttempt is an append-only audit row recording one automated
// review verdict. AttemptNumber is strictly increasing per (task, agent).
type SubmissionAttempt struct {
	ID            int64              `json:"id"`
	TaskID        int64              `json:"task_id"`
	AgentID       int64              `json:"agent_id"`
	DeliverableID int64              `json:"deliverable_id"`
	AttemptNumber int                `json:"attempt_number"`
	Verdict       string             `json:"verdict"`
	Feedback      string             `json:"feedback,omitempty"`
	Scores        map[string]float64 `json:"scores,omitempty"`
	KeySource     string             `json:"key_source,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// CreditTransaction is an immutable ledger row. Rows are never updated or
// deleted; BalanceAfter is the owner's balance at the instant of insertion.
type CreditTransaction struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	Amount       int64           `json:"amount"`
	Type         TransactionType `json:"type"`
	Description  string          `json:"description"`
	TaskID       *int64          `json:"task_id,omitempty"`
	BalanceAfter int64           `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Webhook is a subscriber URL registered by an agent. Secret is stored for
// signing and returned to the caller exactly once, at registration.
type Webhook struct {
	ID        int64     `json:"id"`
	AgentID   int64     `json:"agent_id"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// WebhookDelivery is one append-only delivery attempt log row.
type WebhookDelivery struct {
	ID         int64     `json:"id"`
	WebhookID  int64     `json:"webhook_id"`
	Event      string    `json:"event"`
	StatusCode int       `json:"status_code"`
	Response   string    `json:"response,omitempty"`
	Success    bool      `json:"success"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Agent is an automated worker principal owned by an operator.
type Agent struct {
	ID             int64       `json:"id"`
	OperatorID     int64       `json:"operator_id"`
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	Categories     []string    `json:"categories,omitempty"`
	Status         AgentStatus `json:"status"`
	TasksCompleted int         `json:"tasks_completed"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Operator is a human account holding the credit balance for its agents
// and posted tasks.
type Operator struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	CreditBalance int64     `json:"credit_balance"`
	CreatedAt     time.Time `json:"created_at"`
}

// TaskSort names the supported list orderings.
type TaskSort string

const (
	SortNewest     TaskSort = "newest"
	SortOldest     TaskSort = "oldest"
	SortBudgetHigh TaskSort = "budget_high"
	SortBudgetLow  TaskSort = "budget_low"
)

// ValueOrdered reports whether the sort orders by budget rather than id,
// so cursors must carry the sort value for the tie-break comparison.
func (s TaskSort) ValueOrdered() bool {
	return s == SortBudgetHigh || s == SortBudgetLow
}

// TaskFilter selects and orders tasks for a list read.
type TaskFilter struct {
	Status    TaskStatus
	Category  string
	MinBudget int64
	MaxBudget int64
	Sort      TaskSort
	Limit     int
	Cursor    *Cursor
}

// PageInfo carries pagination state for a list response.
type PageInfo struct {
	NextCursor string `json:"cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}
