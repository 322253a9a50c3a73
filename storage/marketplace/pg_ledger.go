package marketplace

import (
	"context"
	"fmt"

	"taskhive-backend/core/marketplace"
)

// AddCredits is the ledger's single atomic unit: one numeric increment on
// the stored balance plus one immutable transaction row carrying the
// resulting balance. The balance is never read-then-written in application
// code, so racing credit events cannot lose updates.
func (s *PGStore) AddCredits(ctx context.Context, userID, amount int64, txType marketplace.TransactionType, description string, taskID *int64) (marketplace.CreditTransaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return marketplace.CreditTransaction{}, err
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `
UPDATE operators SET credit_balance = credit_balance + $2 WHERE id=$1
RETURNING credit_balance
`, userID, amount).Scan(&balance)
	if isNoRows(err) {
		return marketplace.CreditTransaction{}, ErrOperatorNotFound
	}
	if err != nil {
		return marketplace.CreditTransaction{}, fmt.Errorf("increment balance: %w", err)
	}

	row := marketplace.CreditTransaction{
		UserID:       userID,
		Amount:       amount,
		Type:         txType,
		Description:  description,
		TaskID:       taskID,
		BalanceAfter: balance,
	}
	err = tx.QueryRow(ctx, `
INSERT INTO credit_transactions (user_id, amount, type, description, task_id, balance_after)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at
`, row.UserID, row.Amount, row.Type, row.Description, row.TaskID, row.BalanceAfter).
		Scan(&row.ID, &row.CreatedAt)
	if err != nil {
		return marketplace.CreditTransaction{}, fmt.Errorf("append transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return marketplace.CreditTransaction{}, err
	}
	return row, nil
}

// ListCreditTransactions pages a user's ledger newest-first by id.
func (s *PGStore) ListCreditTransactions(ctx context.Context, userID int64, limit int, cursor *marketplace.Cursor) ([]marketplace.CreditTransaction, marketplace.PageInfo, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `
SELECT id, user_id, amount, type, description, task_id, balance_after, created_at
FROM credit_transactions
WHERE user_id=$1`
	args := []any{userID}
	if cursor != nil {
		args = append(args, cursor.LastID)
		query += fmt.Sprintf(" AND id < $%d", len(args))
	}
	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, marketplace.PageInfo{}, err
	}
	defer rows.Close()

	var out []marketplace.CreditTransaction
	for rows.Next() {
		var t marketplace.CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Type, &t.Description, &t.TaskID, &t.BalanceAfter, &t.CreatedAt); err != nil {
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
		info.NextCursor = marketplace.EncodeCursor(out[len(out)-1].ID, nil)
	}
	return out, info, nil
}
