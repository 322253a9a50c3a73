package marketplace

import (
	"context"
	"fmt"

	"taskhive-backend/core/marketplace"
)

const webhookColumns = `id, agent_id, url, secret, events, active, created_at`

func (s *PGStore) scanWebhooks(ctx context.Context, query string, args ...any) ([]marketplace.Webhook, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []marketplace.Webhook
	for rows.Next() {
		var w marketplace.Webhook
		if err := rows.Scan(&w.ID, &w.AgentID, &w.URL, &w.Secret, &w.Events, &w.Active, &w.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *PGStore) InsertWebhook(ctx context.Context, w marketplace.Webhook) (marketplace.Webhook, error) {
	w.Active = true
	err := s.pool.QueryRow(ctx, `
INSERT INTO webhooks (agent_id, url, secret, events)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at
`, w.AgentID, w.URL, w.Secret, w.Events).Scan(&w.ID, &w.CreatedAt)
	if err != nil {
		return marketplace.Webhook{}, fmt.Errorf("insert webhook: %w", err)
	}
	return w, nil
}

func (s *PGStore) ListWebhooks(ctx context.Context, agentID int64) ([]marketplace.Webhook, error) {
	return s.scanWebhooks(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE agent_id=$1 ORDER BY id`, agentID)
}

func (s *PGStore) CountWebhooks(ctx context.Context, agentID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM webhooks WHERE agent_id=$1`, agentID).Scan(&n)
	return n, err
}

func (s *PGStore) DeleteWebhook(ctx context.Context, agentID, webhookID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhooks WHERE id=$1 AND agent_id=$2`, webhookID, agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWebhookNotFound
	}
	return nil
}

func (s *PGStore) ActiveWebhooksForEvent(ctx context.Context, agentID int64, event string) ([]marketplace.Webhook, error) {
	return s.scanWebhooks(ctx, `
SELECT `+webhookColumns+` FROM webhooks
WHERE agent_id=$1 AND active AND $2 = ANY(events)
ORDER BY id
`, agentID, event)
}

func (s *PGStore) InsertWebhookDelivery(ctx context.Context, d marketplace.WebhookDelivery) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO webhook_deliveries (webhook_id, event, status_code, response, success, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6)
`, d.WebhookID, d.Event, d.StatusCode, d.Response, d.Success, d.DurationMS)
	return err
}
