package marketplace

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"taskhive-backend/core/marketplace"
)

// MemoryStore holds marketplace data in process memory with a single
// RWMutex across all maps, so multi-row transitions stay atomic. It backs
// tests and the dev driver; production uses PGStore.
type MemoryStore struct {
	mu           sync.RWMutex
	operators    map[int64]marketplace.Operator
	agents       map[int64]marketplace.Agent
	tasks        map[int64]marketplace.Task
	claims       map[int64]marketplace.TaskClaim
	deliverables map[int64]marketplace.Deliverable
	attempts     []marketplace.SubmissionAttempt
	transactions []marketplace.CreditTransaction
	webhooks     map[int64]marketplace.Webhook
	deliveries   []marketplace.WebhookDelivery
	nextID       map[string]int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		operators:    make(map[int64]marketplace.Operator),
		agents:       make(map[int64]marketplace.Agent),
		tasks:        make(map[int64]marketplace.Task),
		claims:       make(map[int64]marketplace.TaskClaim),
		deliverables: make(map[int64]marketplace.Deliverable),
		webhooks:     make(map[int64]marketplace.Webhook),
		nextID:       make(map[string]int64),
	}
}

func (s *MemoryStore) id(kind string) int64 {
	s.nextID[kind]++
	return s.nextID[kind]
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() {}

// CreateOperator registers an operator account with a zero balance.
func (s *MemoryStore) CreateOperator(ctx context.Context, email, name string) (marketplace.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := marketplace.Operator{
		ID:        s.id("operator"),
		Email:     email,
		Name:      name,
		CreatedAt: time.Now(),
	}
	s.operators[op.ID] = op
	return op, nil
}

func (s *MemoryStore) GetOperator(ctx context.Context, id int64) (marketplace.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operators[id]
	if !ok {
		return marketplace.Operator{}, ErrOperatorNotFound
	}
	return op, nil
}

func (s *MemoryStore) CreateAgent(ctx context.Context, a marketplace.Agent) (marketplace.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.operators[a.OperatorID]; !ok {
		return marketplace.Agent{}, ErrOperatorNotFound
	}
	a.ID = s.id("agent")
	if a.Status == "" {
		a.Status = marketplace.AgentActive
	}
	a.CreatedAt = time.Now()
	s.agents[a.ID] = a
	return a, nil
}

func (s *MemoryStore) GetAgent(ctx context.Context, id int64) (marketplace.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return marketplace.Agent{}, ErrAgentNotFound
	}
	return a, nil
}

// ListAgentsByCategory returns active agents whose declared categories
// include the given category.
func (s *MemoryStore) ListAgentsByCategory(ctx context.Context, category string) ([]marketplace.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []marketplace.Agent
	for _, a := range s.agents {
		if a.Status != marketplace.AgentActive {
			continue
		}
		for _, c := range a.Categories {
			if strings.EqualFold(c, category) {
				out = append(out, a)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) IncrementTasksCompleted(ctx context.Context, agentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return ErrAgentNotFound
	}
	a.TasksCompleted++
	s.agents[agentID] = a
	return nil
}

func (s *MemoryStore) CreateTask(ctx context.Context, t marketplace.Task) (marketplace.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id("task")
	t.Status = marketplace.TaskOpen
	t.ClaimedByAgentID = nil
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.tasks[t.ID] = t
	return t, nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id int64) (marketplace.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return marketplace.Task{}, ErrTaskNotFound
	}
	return t, nil
}

// ListTasks applies the filter, orders per the sort, and pages with keyset
// comparisons so rows are never skipped or repeated across pages.
func (s *MemoryStore) ListTasks(ctx context.Context, f marketplace.TaskFilter) ([]marketplace.Task, marketplace.PageInfo, error) {
	s.mu.RLock()
	var all []marketplace.Task
	for _, t := range s.tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Category != "" && !strings.EqualFold(t.Category, f.Category) {
			continue
		}
		if f.MinBudget > 0 && t.BudgetCredits < f.MinBudget {
			continue
		}
		if f.MaxBudget > 0 && t.BudgetCredits > f.MaxBudget {
			continue
		}
		all = append(all, t)
	}
	s.mu.RUnlock()

	sortKind := f.Sort
	if sortKind == "" {
		sortKind = marketplace.SortNewest
	}
	sort.Slice(all, func(i, j int) bool { return taskLess(sortKind, all[i], all[j]) })

	if c := f.Cursor; c != nil {
		filtered := all[:0]
		for _, t := range all {
			if taskAfterCursor(sortKind, t, c) {
				filtered = append(filtered, t)
			}
		}
		all = filtered
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	page := all
	info := marketplace.PageInfo{}
	if len(page) > limit {
		page = page[:limit]
		info.HasMore = true
	}
	if len(page) > 0 && info.HasMore {
		last := page[len(page)-1]
		info.NextCursor = encodeTaskCursor(sortKind, last)
	}
	return page, info, nil
}

func taskLess(sortKind marketplace.TaskSort, a, b marketplace.Task) bool {
	switch sortKind {
	case marketplace.SortOldest:
		return a.ID < b.ID
	case marketplace.SortBudgetHigh:
		if a.BudgetCredits != b.BudgetCredits {
			return a.BudgetCredits > b.BudgetCredits
		}
		return a.ID > b.ID
	case marketplace.SortBudgetLow:
		if a.BudgetCredits != b.BudgetCredits {
			return a.BudgetCredits < b.BudgetCredits
		}
		return a.ID < b.ID
	default: // newest
		return a.ID > b.ID
	}
}

// taskAfterCursor reports whether the task sorts strictly after the cursor
// position for the given sort, with id as the deterministic tie-break.
func taskAfterCursor(sortKind marketplace.TaskSort, t marketplace.Task, c *marketplace.Cursor) bool {
	switch sortKind {
	case marketplace.SortOldest:
		return t.ID > c.LastID
	case marketplace.SortBudgetHigh:
		if c.SortValue == nil {
			return t.ID < c.LastID
		}
		return t.BudgetCredits < *c.SortValue ||
			(t.BudgetCredits == *c.SortValue && t.ID < c.LastID)
	case marketplace.SortBudgetLow:
		if c.SortValue == nil {
			return t.ID > c.LastID
		}
		return t.BudgetCredits > *c.SortValue ||
			(t.BudgetCredits == *c.SortValue && t.ID > c.LastID)
	default: // newest
		return t.ID < c.LastID
	}
}

func encodeTaskCursor(sortKind marketplace.TaskSort, last marketplace.Task) string {
	if sortKind.ValueOrdered() {
		v := last.BudgetCredits
		return marketplace.EncodeCursor(last.ID, &v)
	}
	return marketplace.EncodeCursor(last.ID, nil)
}

func (s *MemoryStore) ListAgentTasks(ctx context.Context, agentID int64, status marketplace.TaskStatus) ([]marketplace.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []marketplace.Task
	for _, t := range s.tasks {
		if t.ClaimedByAgentID == nil || *t.ClaimedByAgentID != agentID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// InsertClaim records a pending claim, enforcing at most one pending claim
// per (task, agent).
func (s *MemoryStore) InsertClaim(ctx context.Context, c marketplace.TaskClaim) (marketplace.TaskClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[c.TaskID]; !ok {
		return marketplace.TaskClaim{}, ErrTaskNotFound
	}
	for _, existing := range s.claims {
		if existing.TaskID == c.TaskID && existing.AgentID == c.AgentID && existing.Status == marketplace.ClaimPending {
			return marketplace.TaskClaim{}, ErrDuplicateClaim
		}
	}
	c.ID = s.id("claim")
	c.Status = marketplace.ClaimPending
	c.CreatedAt = time.Now()
	s.claims[c.ID] = c
	return c, nil
}

func (s *MemoryStore) GetClaim(ctx context.Context, id int64) (marketplace.TaskClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.claims[id]
	if !ok {
		return marketplace.TaskClaim{}, ErrClaimNotFound
	}
	return c, nil
}

func (s *MemoryStore) ListClaims(ctx context.Context, taskID int64) ([]marketplace.TaskClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []marketplace.TaskClaim
	for _, c := range s.claims {
		if c.TaskID == taskID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListAgentClaims(ctx context.Context, agentID int64, status marketplace.ClaimStatus) ([]marketplace.TaskClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []marketplace.TaskClaim
	for _, c := range s.claims {
		if c.AgentID != agentID {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// AcceptClaim moves the task open→claimed, accepts the winning claim, and
// rejects every other pending claim, all in one atomic unit. A task no
// longer open returns ErrConflict.
func (s *MemoryStore) AcceptClaim(ctx context.Context, taskID, claimID, agentID int64) ([]marketplace.TaskClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if t.Status != marketplace.TaskOpen {
		return nil, ErrConflict
	}
	c, ok := s.claims[claimID]
	if !ok || c.TaskID != taskID || c.Status != marketplace.ClaimPending {
		return nil, ErrClaimNotFound
	}

	t.Status = marketplace.TaskClaimed
	t.ClaimedByAgentID = &agentID
	t.UpdatedAt = time.Now()
	s.tasks[taskID] = t

	c.Status = marketplace.ClaimAccepted
	s.claims[claimID] = c

	var rejected []marketplace.TaskClaim
	for id, other := range s.claims {
		if other.TaskID == taskID && other.ID != claimID && other.Status == marketplace.ClaimPending {
			other.Status = marketplace.ClaimRejected
			s.claims[id] = other
			rejected = append(rejected, other)
		}
	}
	sort.Slice(rejected, func(i, j int) bool { return rejected[i].ID < rejected[j].ID })
	return rejected, nil
}

// RollbackClaim returns a claimed task to open and withdraws the accepted
// claim.
func (s *MemoryStore) RollbackClaim(ctx context.Context, taskID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status != marketplace.TaskClaimed {
		return ErrConflict
	}
	for id, c := range s.claims {
		if c.TaskID == taskID && c.Status == marketplace.ClaimAccepted {
			c.Status = marketplace.ClaimWithdrawn
			s.claims[id] = c
		}
	}
	t.Status = marketplace.TaskOpen
	t.ClaimedByAgentID = nil
	t.UpdatedAt = time.Now()
	s.tasks[taskID] = t
	return nil
}

func (s *MemoryStore) StartTask(ctx context.Context, taskID, agentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status != marketplace.TaskClaimed || t.ClaimedByAgentID == nil || *t.ClaimedByAgentID != agentID {
		return ErrConflict
	}
	t.Status = marketplace.TaskInProgress
	t.UpdatedAt = time.Now()
	s.tasks[taskID] = t
	return nil
}

func (s *MemoryStore) CancelTask(ctx context.Context, taskID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status != marketplace.TaskOpen {
		return ErrConflict
	}
	t.Status = marketplace.TaskCancelled
	t.UpdatedAt = time.Now()
	s.tasks[taskID] = t
	return nil
}

// InsertDeliverable assigns the next revision number for (task, agent),
// rejects submissions past max_revisions+1, and moves the task to
// delivered, all atomically.
func (s *MemoryStore) InsertDeliverable(ctx context.Context, d marketplace.Deliverable) (marketplace.Deliverable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[d.TaskID]
	if !ok {
		return marketplace.Deliverable{}, ErrTaskNotFound
	}
	if (t.Status != marketplace.TaskClaimed && t.Status != marketplace.TaskInProgress) ||
		t.ClaimedByAgentID == nil || *t.ClaimedByAgentID != d.AgentID {
		return marketplace.Deliverable{}, ErrConflict
	}

	maxRev := 0
	for _, existing := range s.deliverables {
		if existing.TaskID == d.TaskID && existing.AgentID == d.AgentID && existing.RevisionNumber > maxRev {
			maxRev = existing.RevisionNumber
		}
	}
	next := maxRev + 1
	if next > t.MaxRevisions+1 {
		return marketplace.Deliverable{}, ErrMaxRevisionsExceeded
	}

	d.ID = s.id("deliverable")
	d.RevisionNumber = next
	d.Status = marketplace.DeliverableSubmitted
	d.CreatedAt = time.Now()
	s.deliverables[d.ID] = d

	t.Status = marketplace.TaskDelivered
	t.UpdatedAt = time.Now()
	s.tasks[t.ID] = t
	return d, nil
}

func (s *MemoryStore) GetDeliverable(ctx context.Context, id int64) (marketplace.Deliverable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliverables[id]
	if !ok {
		return marketplace.Deliverable{}, ErrDeliverableNotFound
	}
	return d, nil
}

func (s *MemoryStore) LatestRevision(ctx context.Context, taskID, agentID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	maxRev := 0
	for _, d := range s.deliverables {
		if d.TaskID == taskID && d.AgentID == agentID && d.RevisionNumber > maxRev {
			maxRev = d.RevisionNumber
		}
	}
	return maxRev, nil
}

// CompleteTask moves the task delivered→completed and accepts the
// deliverable.
func (s *MemoryStore) CompleteTask(ctx context.Context, taskID, deliverableID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	d, ok := s.deliverables[deliverableID]
	if !ok || d.TaskID != taskID {
		return ErrDeliverableNotFound
	}
	if t.Status != marketplace.TaskDelivered {
		return ErrConflict
	}
	t.Status = marketplace.TaskCompleted
	t.UpdatedAt = time.Now()
	s.tasks[taskID] = t
	d.Status = marketplace.DeliverableAccepted
	s.deliverables[deliverableID] = d
	return nil
}

// RequestRevision moves the task delivered→in_progress and marks the
// deliverable revision_requested with the poster's notes.
func (s *MemoryStore) RequestRevision(ctx context.Context, taskID, deliverableID int64, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	d, ok := s.deliverables[deliverableID]
	if !ok || d.TaskID != taskID {
		return ErrDeliverableNotFound
	}
	if t.Status != marketplace.TaskDelivered {
		return ErrConflict
	}
	t.Status = marketplace.TaskInProgress
	t.UpdatedAt = time.Now()
	s.tasks[taskID] = t
	d.Status = marketplace.DeliverableRevisionRequested
	d.RevisionNotes = notes
	s.deliverables[deliverableID] = d
	return nil
}

// ApplyReviewVerdict commits the verdict transition, the attempt audit row
// with the next attempt number for (task, agent), and the optional poster
// quota increment under one hold of the store lock.
func (s *MemoryStore) ApplyReviewVerdict(ctx context.Context, taskID, deliverableID int64, pass bool, notes string, a marketplace.SubmissionAttempt, consumeQuota bool) (marketplace.SubmissionAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return marketplace.SubmissionAttempt{}, ErrTaskNotFound
	}
	d, ok := s.deliverables[deliverableID]
	if !ok || d.TaskID != taskID {
		return marketplace.SubmissionAttempt{}, ErrDeliverableNotFound
	}
	if t.Status != marketplace.TaskDelivered {
		return marketplace.SubmissionAttempt{}, ErrConflict
	}
	if pass {
		t.Status = marketplace.TaskCompleted
		d.Status = marketplace.DeliverableAccepted
	} else {
		t.Status = marketplace.TaskInProgress
		d.Status = marketplace.DeliverableRevisionRequested
		d.RevisionNotes = notes
	}
	if consumeQuota {
		t.PosterReviewsUsed++
	}
	t.UpdatedAt = time.Now()
	s.tasks[taskID] = t
	s.deliverables[deliverableID] = d

	n := 0
	for _, existing := range s.attempts {
		if existing.TaskID == a.TaskID && existing.AgentID == a.AgentID {
			n++
		}
	}
	a.ID = s.id("attempt")
	a.AttemptNumber = n + 1
	a.CreatedAt = time.Now()
	s.attempts = append(s.attempts, a)
	return a, nil
}

// AddCredits moves the balance and appends the transaction row as one
// atomic unit under the store lock.
func (s *MemoryStore) AddCredits(ctx context.Context, userID, amount int64, txType marketplace.TransactionType, description string, taskID *int64) (marketplace.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operators[userID]
	if !ok {
		return marketplace.CreditTransaction{}, ErrOperatorNotFound
	}
	op.CreditBalance += amount
	s.operators[userID] = op

	tx := marketplace.CreditTransaction{
		ID:           s.id("transaction"),
		UserID:       userID,
		Amount:       amount,
		Type:         txType,
		Description:  description,
		TaskID:       taskID,
		BalanceAfter: op.CreditBalance,
		CreatedAt:    time.Now(),
	}
	s.transactions = append(s.transactions, tx)
	return tx, nil
}

// ListCreditTransactions pages a user's ledger newest-first by id.
func (s *MemoryStore) ListCreditTransactions(ctx context.Context, userID int64, limit int, cursor *marketplace.Cursor) ([]marketplace.CreditTransaction, marketplace.PageInfo, error) {
	s.mu.RLock()
	var all []marketplace.CreditTransaction
	for _, tx := range s.transactions {
		if tx.UserID != userID {
			continue
		}
		if cursor != nil && tx.ID >= cursor.LastID {
			continue
		}
		all = append(all, tx)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	info := marketplace.PageInfo{}
	if len(all) > limit {
		all = all[:limit]
		info.HasMore = true
		info.NextCursor = marketplace.EncodeCursor(all[len(all)-1].ID, nil)
	}
	return all, info, nil
}

func (s *MemoryStore) InsertWebhook(ctx context.Context, w marketplace.Webhook) (marketplace.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[w.AgentID]; !ok {
		return marketplace.Webhook{}, ErrAgentNotFound
	}
	w.ID = s.id("webhook")
	w.Active = true
	w.CreatedAt = time.Now()
	s.webhooks[w.ID] = w
	return w, nil
}

func (s *MemoryStore) ListWebhooks(ctx context.Context, agentID int64) ([]marketplace.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []marketplace.Webhook
	for _, w := range s.webhooks {
		if w.AgentID == agentID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CountWebhooks(ctx context.Context, agentID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, w := range s.webhooks {
		if w.AgentID == agentID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteWebhook(ctx context.Context, agentID, webhookID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[webhookID]
	if !ok || w.AgentID != agentID {
		return ErrWebhookNotFound
	}
	delete(s.webhooks, webhookID)
	return nil
}

func (s *MemoryStore) ActiveWebhooksForEvent(ctx context.Context, agentID int64, event string) ([]marketplace.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []marketplace.Webhook
	for _, w := range s.webhooks {
		if w.AgentID != agentID || !w.Active {
			continue
		}
		for _, e := range w.Events {
			if e == event {
				out = append(out, w)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) InsertWebhookDelivery(ctx context.Context, d marketplace.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = s.id("delivery")
	d.CreatedAt = time.Now()
	s.deliveries = append(s.deliveries, d)
	return nil
}

// Deliveries returns a copy of the delivery log, oldest first. Used by
// tests and the dev driver; the PG store exposes the log through SQL only.
func (s *MemoryStore) Deliveries() []marketplace.WebhookDelivery {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]marketplace.WebhookDelivery, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}
