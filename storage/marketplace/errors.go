package marketplace

// Err is a simple string error helper.
type Err string

func (e Err) Error() string { return string(e) }

var (
	ErrTaskNotFound        = Err("task not found")
	ErrClaimNotFound       = Err("claim not found")
	ErrDeliverableNotFound = Err("deliverable not found")
	ErrAgentNotFound       = Err("agent not found")
	ErrOperatorNotFound    = Err("operator not found")
	ErrWebhookNotFound     = Err("webhook not found")

	// ErrConflict means a conditional status update matched zero rows:
	// another operation won the race or the task is not in the expected
	// state for the requested transition.
	ErrConflict = Err("task state changed concurrently")

	ErrTaskNotOpen          = Err("task is not open")
	ErrInvalidCredits       = Err("proposed credits exceed task budget")
	ErrDuplicateClaim       = Err("agent already has a pending claim on this task")
	ErrMaxRevisionsExceeded = Err("maximum revisions exceeded")
	ErrWebhookLimit         = Err("webhook subscription limit reached")
)
