package marketplace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskhive-backend/core/marketplace"
)

// PGStore persists marketplace state in Postgres. Concurrency correctness
// relies on conditional status updates checked via RowsAffected, never on
// in-process locks, because multiple service instances run at once.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects and initializes the schema.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PGStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Pool exposes the underlying pool for the auth key store.
func (s *PGStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PGStore) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS operators (
  id BIGSERIAL PRIMARY KEY,
  email TEXT UNIQUE NOT NULL,
  name TEXT NOT NULL,
  credit_balance BIGINT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS agents (
  id BIGSERIAL PRIMARY KEY,
  operator_id BIGINT NOT NULL REFERENCES operators(id),
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  categories TEXT[] NOT NULL DEFAULT '{}',
  status TEXT NOT NULL DEFAULT 'active',
  tasks_completed INT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS api_keys (
  key_hash TEXT PRIMARY KEY,
  agent_id BIGINT NOT NULL REFERENCES agents(id),
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS tasks (
  id BIGSERIAL PRIMARY KEY,
  poster_id BIGINT NOT NULL REFERENCES operators(id),
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  category TEXT NOT NULL DEFAULT '',
  budget_credits BIGINT NOT NULL,
  max_revisions INT NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'open',
  claimed_by_agent_id BIGINT REFERENCES agents(id),
  auto_review_enabled BOOLEAN NOT NULL DEFAULT false,
  poster_reviews_used INT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS task_claims (
  id BIGSERIAL PRIMARY KEY,
  task_id BIGINT NOT NULL REFERENCES tasks(id),
  agent_id BIGINT NOT NULL REFERENCES agents(id),
  proposed_credits BIGINT NOT NULL,
  message TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'pending',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS deliverables (
  id BIGSERIAL PRIMARY KEY,
  task_id BIGINT NOT NULL REFERENCES tasks(id),
  agent_id BIGINT NOT NULL REFERENCES agents(id),
  content TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'submitted',
  revision_number INT NOT NULL,
  revision_notes TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS submission_attempts (
  id BIGSERIAL PRIMARY KEY,
  task_id BIGINT NOT NULL REFERENCES tasks(id),
  agent_id BIGINT NOT NULL REFERENCES agents(id),
  deliverable_id BIGINT NOT NULL REFERENCES deliverables(id),
  attempt_number INT NOT NULL,
  verdict TEXT NOT NULL,
  feedback TEXT NOT NULL DEFAULT '',
  scores JSONB,
  key_source TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS credit_transactions (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES operators(id),
  amount BIGINT NOT NULL,
  type TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  task_id BIGINT REFERENCES tasks(id),
  balance_after BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS webhooks (
  id BIGSERIAL PRIMARY KEY,
  agent_id BIGINT NOT NULL REFERENCES agents(id),
  url TEXT NOT NULL,
  secret TEXT NOT NULL,
  events TEXT[] NOT NULL DEFAULT '{}',
  active BOOLEAN NOT NULL DEFAULT true,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS webhook_deliveries (
  id BIGSERIAL PRIMARY KEY,
  webhook_id BIGINT NOT NULL REFERENCES webhooks(id),
  event TEXT NOT NULL,
  status_code INT NOT NULL DEFAULT 0,
  response TEXT NOT NULL DEFAULT '',
  success BOOLEAN NOT NULL DEFAULT false,
  duration_ms BIGINT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_claims_one_pending
  ON task_claims(task_id, agent_id) WHERE status = 'pending';
CREATE UNIQUE INDEX IF NOT EXISTS idx_claims_one_accepted
  ON task_claims(task_id) WHERE status = 'accepted';
CREATE INDEX IF NOT EXISTS idx_tasks_status_category ON tasks(status, category);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON credit_transactions(user_id, id);
CREATE INDEX IF NOT EXISTS idx_deliverables_task_agent ON deliverables(task_id, agent_id);
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close shuts down the pool.
func (s *PGStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PGStore) CreateOperator(ctx context.Context, email, name string) (marketplace.Operator, error) {
	var op marketplace.Operator
	err := s.pool.QueryRow(ctx, `
INSERT INTO operators (email, name) VALUES ($1, $2)
RETURNING id, email, name, credit_balance, created_at
`, email, name).Scan(&op.ID, &op.Email, &op.Name, &op.CreditBalance, &op.CreatedAt)
	if err != nil {
		return marketplace.Operator{}, fmt.Errorf("create operator: %w", err)
	}
	return op, nil
}

func (s *PGStore) GetOperator(ctx context.Context, id int64) (marketplace.Operator, error) {
	var op marketplace.Operator
	err := s.pool.QueryRow(ctx, `
SELECT id, email, name, credit_balance, created_at FROM operators WHERE id=$1
`, id).Scan(&op.ID, &op.Email, &op.Name, &op.CreditBalance, &op.CreatedAt)
	if isNoRows(err) {
		return marketplace.Operator{}, ErrOperatorNotFound
	}
	return op, err
}

func (s *PGStore) CreateAgent(ctx context.Context, a marketplace.Agent) (marketplace.Agent, error) {
	if a.Status == "" {
		a.Status = marketplace.AgentActive
	}
	err := s.pool.QueryRow(ctx, `
INSERT INTO agents (operator_id, name, description, categories, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at
`, a.OperatorID, a.Name, a.Description, a.Categories, a.Status).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return marketplace.Agent{}, fmt.Errorf("create agent: %w", err)
	}
	return a, nil
}

func (s *PGStore) GetAgent(ctx context.Context, id int64) (marketplace.Agent, error) {
	var a marketplace.Agent
	err := s.pool.QueryRow(ctx, `
SELECT id, operator_id, name, description, categories, status, tasks_completed, created_at
FROM agents WHERE id=$1
`, id).Scan(&a.ID, &a.OperatorID, &a.Name, &a.Description, &a.Categories, &a.Status, &a.TasksCompleted, &a.CreatedAt)
	if isNoRows(err) {
		return marketplace.Agent{}, ErrAgentNotFound
	}
	return a, err
}

func (s *PGStore) ListAgentsByCategory(ctx context.Context, category string) ([]marketplace.Agent, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, operator_id, name, description, categories, status, tasks_completed, created_at
FROM agents
WHERE status = 'active' AND $1 ILIKE ANY(categories)
ORDER BY id
`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []marketplace.Agent
	for rows.Next() {
		var a marketplace.Agent
		if err := rows.Scan(&a.ID, &a.OperatorID, &a.Name, &a.Description, &a.Categories, &a.Status, &a.TasksCompleted, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PGStore) IncrementTasksCompleted(ctx context.Context, agentID int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE agents SET tasks_completed = tasks_completed + 1 WHERE id=$1`, agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAgentNotFound
	}
	return nil
}

func (s *PGStore) CreateTask(ctx context.Context, t marketplace.Task) (marketplace.Task, error) {
	err := s.pool.QueryRow(ctx, `
INSERT INTO tasks (poster_id, title, description, category, budget_credits, max_revisions, auto_review_enabled)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, status, created_at, updated_at
`, t.PosterID, t.Title, t.Description, t.Category, t.BudgetCredits, t.MaxRevisions, t.AutoReviewEnabled).
		Scan(&t.ID, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return marketplace.Task{}, fmt.Errorf("create task: %w", err)
	}
	t.ClaimedByAgentID = nil
	return t, nil
}

const taskColumns = `id, poster_id, title, description, category, budget_credits, max_revisions, status, claimed_by_agent_id, auto_review_enabled, poster_reviews_used, created_at, updated_at`

func scanTask(scanner interface{ Scan(dest ...any) error }) (marketplace.Task, error) {
	var t marketplace.Task
	err := scanner.Scan(&t.ID, &t.PosterID, &t.Title, &t.Description, &t.Category,
		&t.BudgetCredits, &t.MaxRevisions, &t.Status, &t.ClaimedByAgentID,
		&t.AutoReviewEnabled, &t.PosterReviewsUsed, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *PGStore) GetTask(ctx context.Context, id int64) (marketplace.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id))
	if isNoRows(err) {
		return marketplace.Task{}, ErrTaskNotFound
	}
	return t, err
}

// ListTasks pages with keyset comparisons: id alone for id-ordered sorts,
// (budget, id) for value-ordered sorts, so pages never skip or repeat rows
// even when budgets tie.
func (s *PGStore) ListTasks(ctx context.Context, f marketplace.TaskFilter) ([]marketplace.Task, marketplace.PageInfo, error) {
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	sortKind := f.Sort
	if sortKind == "" {
		sortKind = marketplace.SortNewest
	}

	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.Category != "" {
		where = append(where, "LOWER(category) = LOWER("+arg(f.Category)+")")
	}
	if f.MinBudget > 0 {
		where = append(where, "budget_credits >= "+arg(f.MinBudget))
	}
	if f.MaxBudget > 0 {
		where = append(where, "budget_credits <= "+arg(f.MaxBudget))
	}

	var order string
	switch sortKind {
	case marketplace.SortOldest:
		order = "id ASC"
		if f.Cursor != nil {
			where = append(where, "id > "+arg(f.Cursor.LastID))
		}
	case marketplace.SortBudgetHigh:
		order = "budget_credits DESC, id DESC"
		if c := f.Cursor; c != nil && c.SortValue != nil {
			sv, id := arg(*c.SortValue), arg(c.LastID)
			where = append(where, fmt.Sprintf("(budget_credits < %s OR (budget_credits = %s AND id < %s))", sv, sv, id))
		}
	case marketplace.SortBudgetLow:
		order = "budget_credits ASC, id ASC"
		if c := f.Cursor; c != nil && c.SortValue != nil {
			sv, id := arg(*c.SortValue), arg(c.LastID)
			where = append(where, fmt.Sprintf("(budget_credits > %s OR (budget_credits = %s AND id > %s))", sv, sv, id))
		}
	default:
		order = "id DESC"
		if f.Cursor != nil {
			where = append(where, "id < "+arg(f.Cursor.LastID))
		}
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + order + " LIMIT " + arg(limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, marketplace.PageInfo{}, err
	}
	defer rows.Close()

	var out []marketplace.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, marketplace.PageInfo{}, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, marketplace.PageInfo{}, err
	}

	info := marketplace.PageInfo{}
	if len(out) > limit {
		out = out[:limit]
		info.HasMore = true
		last := out[len(out)-1]
		if sortKind.ValueOrdered() {
			v := last.BudgetCredits
			info.NextCursor = marketplace.EncodeCursor(last.ID, &v)
		} else {
			info.NextCursor = marketplace.EncodeCursor(last.ID, nil)
		}
	}
	return out, info, nil
}

func (s *PGStore) ListAgentTasks(ctx context.Context, agentID int64, status marketplace.TaskStatus) ([]marketplace.Task, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+taskColumns+` FROM tasks
WHERE claimed_by_agent_id = $1 AND ($2 = '' OR status = $2)
ORDER BY id DESC
`, agentID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []marketplace.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const claimColumns = `id, task_id, agent_id, proposed_credits, message, status, created_at`

func scanClaim(scanner interface{ Scan(dest ...any) error }) (marketplace.TaskClaim, error) {
	var c marketplace.TaskClaim
	err := scanner.Scan(&c.ID, &c.TaskID, &c.AgentID, &c.ProposedCredits, &c.Message, &c.Status, &c.CreatedAt)
	return c, err
}

// InsertClaim relies on the partial unique index for the one-pending-claim
// invariant so concurrent duplicate claims cannot both land.
func (s *PGStore) InsertClaim(ctx context.Context, c marketplace.TaskClaim) (marketplace.TaskClaim, error) {
	err := s.pool.QueryRow(ctx, `
INSERT INTO task_claims (task_id, agent_id, proposed_credits, message)
VALUES ($1, $2, $3, $4)
RETURNING id, status, created_at
`, c.TaskID, c.AgentID, c.ProposedCredits, c.Message).Scan(&c.ID, &c.Status, &c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return marketplace.TaskClaim{}, ErrDuplicateClaim
		}
		return marketplace.TaskClaim{}, fmt.Errorf("insert claim: %w", err)
	}
	return c, nil
}

func (s *PGStore) GetClaim(ctx context.Context, id int64) (marketplace.TaskClaim, error) {
	c, err := scanClaim(s.pool.QueryRow(ctx, `SELECT `+claimColumns+` FROM task_claims WHERE id=$1`, id))
	if isNoRows(err) {
		return marketplace.TaskClaim{}, ErrClaimNotFound
	}
	return c, err
}

func (s *PGStore) ListClaims(ctx context.Context, taskID int64) ([]marketplace.TaskClaim, error) {
	return s.queryClaims(ctx, `SELECT `+claimColumns+` FROM task_claims WHERE task_id=$1 ORDER BY id`, taskID)
}

func (s *PGStore) ListAgentClaims(ctx context.Context, agentID int64, status marketplace.ClaimStatus) ([]marketplace.TaskClaim, error) {
	return s.queryClaims(ctx, `
SELECT `+claimColumns+` FROM task_claims
WHERE agent_id=$1 AND ($2 = '' OR status = $2)
ORDER BY id DESC
`, agentID, string(status))
}

func (s *PGStore) queryClaims(ctx context.Context, query string, args ...any) ([]marketplace.TaskClaim, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []marketplace.TaskClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AcceptClaim performs the open→claimed transition, accepts the winning
// claim, and rejects the rest in one transaction. The conditional task
// update decides the race: zero affected rows means another operation won
// and the whole unit aborts with ErrConflict.
func (s *PGStore) AcceptClaim(ctx context.Context, taskID, claimID, agentID int64) ([]marketplace.TaskClaim, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
UPDATE tasks SET status='claimed', claimed_by_agent_id=$2, updated_at=now()
WHERE id=$1 AND status='open'
`, taskID, agentID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrConflict
	}

	tag, err = tx.Exec(ctx, `
UPDATE task_claims SET status='accepted'
WHERE id=$1 AND task_id=$2 AND status='pending'
`, claimID, taskID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrClaimNotFound
	}

	rows, err := tx.Query(ctx, `
UPDATE task_claims SET status='rejected'
WHERE task_id=$1 AND id<>$2 AND status='pending'
RETURNING `+claimColumns, taskID, claimID)
	if err != nil {
		return nil, err
	}
	var rejected []marketplace.TaskClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		rejected = append(rejected, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return rejected, nil
}

func (s *PGStore) RollbackClaim(ctx context.Context, taskID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
UPDATE tasks SET status='open', claimed_by_agent_id=NULL, updated_at=now()
WHERE id=$1 AND status='claimed'
`, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	if _, err := tx.Exec(ctx, `
UPDATE task_claims SET status='withdrawn' WHERE task_id=$1 AND status='accepted'
`, taskID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) StartTask(ctx context.Context, taskID, agentID int64) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE tasks SET status='in_progress', updated_at=now()
WHERE id=$1 AND status='claimed' AND claimed_by_agent_id=$2
`, taskID, agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PGStore) CancelTask(ctx context.Context, taskID int64) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE tasks SET status='cancelled', updated_at=now() WHERE id=$1 AND status='open'
`, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// InsertDeliverable moves the task to delivered and writes the deliverable
// with the next revision number in one transaction. The conditional task
// update runs first, so a task in the wrong state writes nothing.
func (s *PGStore) InsertDeliverable(ctx context.Context, d marketplace.Deliverable) (marketplace.Deliverable, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return marketplace.Deliverable{}, err
	}
	defer tx.Rollback(ctx)

	var maxRevisions int
	err = tx.QueryRow(ctx, `
UPDATE tasks SET status='delivered', updated_at=now()
WHERE id=$1 AND status IN ('claimed','in_progress') AND claimed_by_agent_id=$2
RETURNING max_revisions
`, d.TaskID, d.AgentID).Scan(&maxRevisions)
	if isNoRows(err) {
		return marketplace.Deliverable{}, ErrConflict
	}
	if err != nil {
		return marketplace.Deliverable{}, err
	}

	var prior int
	if err := tx.QueryRow(ctx, `
SELECT COALESCE(MAX(revision_number), 0) FROM deliverables WHERE task_id=$1 AND agent_id=$2
`, d.TaskID, d.AgentID).Scan(&prior); err != nil {
		return marketplace.Deliverable{}, err
	}
	next := prior + 1
	if next > maxRevisions+1 {
		return marketplace.Deliverable{}, ErrMaxRevisionsExceeded
	}

	d.RevisionNumber = next
	d.Status = marketplace.DeliverableSubmitted
	err = tx.QueryRow(ctx, `
INSERT INTO deliverables (task_id, agent_id, content, revision_number)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at
`, d.TaskID, d.AgentID, d.Content, d.RevisionNumber).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return marketplace.Deliverable{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return marketplace.Deliverable{}, err
	}
	return d, nil
}

const deliverableColumns = `id, task_id, agent_id, content, status, revision_number, revision_notes, created_at`

func (s *PGStore) GetDeliverable(ctx context.Context, id int64) (marketplace.Deliverable, error) {
	var d marketplace.Deliverable
	err := s.pool.QueryRow(ctx, `SELECT `+deliverableColumns+` FROM deliverables WHERE id=$1`, id).
		Scan(&d.ID, &d.TaskID, &d.AgentID, &d.Content, &d.Status, &d.RevisionNumber, &d.RevisionNotes, &d.CreatedAt)
	if isNoRows(err) {
		return marketplace.Deliverable{}, ErrDeliverableNotFound
	}
	return d, err
}

func (s *PGStore) LatestRevision(ctx context.Context, taskID, agentID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
SELECT COALESCE(MAX(revision_number), 0) FROM deliverables WHERE task_id=$1 AND agent_id=$2
`, taskID, agentID).Scan(&n)
	return n, err
}

func (s *PGStore) CompleteTask(ctx context.Context, taskID, deliverableID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
UPDATE tasks SET status='completed', updated_at=now() WHERE id=$1 AND status='delivered'
`, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	tag, err = tx.Exec(ctx, `
UPDATE deliverables SET status='accepted' WHERE id=$1 AND task_id=$2
`, deliverableID, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDeliverableNotFound
	}
	return tx.Commit(ctx)
}

func (s *PGStore) RequestRevision(ctx context.Context, taskID, deliverableID int64, notes string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
UPDATE tasks SET status='in_progress', updated_at=now() WHERE id=$1 AND status='delivered'
`, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	tag, err = tx.Exec(ctx, `
UPDATE deliverables SET status='revision_requested', revision_notes=$3 WHERE id=$1 AND task_id=$2
`, deliverableID, taskID, notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDeliverableNotFound
	}
	return tx.Commit(ctx)
}

// ApplyReviewVerdict commits the verdict transition, the attempt audit row
// and the optional poster quota increment in one transaction. The attempt
// number is computed inside the transaction so the per-(task, agent)
// sequence has no gaps.
func (s *PGStore) ApplyReviewVerdict(ctx context.Context, taskID, deliverableID int64, pass bool, notes string, a marketplace.SubmissionAttempt, consumeQuota bool) (marketplace.SubmissionAttempt, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return marketplace.SubmissionAttempt{}, err
	}
	defer tx.Rollback(ctx)

	taskStatus := "completed"
	if !pass {
		taskStatus = "in_progress"
	}
	quota := 0
	if consumeQuota {
		quota = 1
	}
	tag, err := tx.Exec(ctx, `
UPDATE tasks SET status=$2, poster_reviews_used = poster_reviews_used + $3, updated_at=now()
WHERE id=$1 AND status='delivered'
`, taskID, taskStatus, quota)
	if err != nil {
		return marketplace.SubmissionAttempt{}, err
	}
	if tag.RowsAffected() == 0 {
		return marketplace.SubmissionAttempt{}, ErrConflict
	}

	if pass {
		tag, err = tx.Exec(ctx, `
UPDATE deliverables SET status='accepted' WHERE id=$1 AND task_id=$2
`, deliverableID, taskID)
	} else {
		tag, err = tx.Exec(ctx, `
UPDATE deliverables SET status='revision_requested', revision_notes=$3 WHERE id=$1 AND task_id=$2
`, deliverableID, taskID, notes)
	}
	if err != nil {
		return marketplace.SubmissionAttempt{}, err
	}
	if tag.RowsAffected() == 0 {
		return marketplace.SubmissionAttempt{}, ErrDeliverableNotFound
	}

	err = tx.QueryRow(ctx, `
SELECT COALESCE(MAX(attempt_number), 0) + 1 FROM submission_attempts WHERE task_id=$1 AND agent_id=$2
`, a.TaskID, a.AgentID).Scan(&a.AttemptNumber)
	if err != nil {
		return marketplace.SubmissionAttempt{}, err
	}

	err = tx.QueryRow(ctx, `
INSERT INTO submission_attempts (task_id, agent_id, deliverable_id, attempt_number, verdict, feedback, scores, key_source)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at
`, a.TaskID, a.AgentID, a.DeliverableID, a.AttemptNumber, a.Verdict, a.Feedback, a.Scores, a.KeySource).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return marketplace.SubmissionAttempt{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return marketplace.SubmissionAttempt{}, err
	}
	return a, nil
}
