package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGKeyStore resolves key hashes against the api_keys table, joining the
// agents table so principal status is always current.
type PGKeyStore struct {
	pool *pgxpool.Pool
}

// NewPGKeyStore wraps an existing pool; the schema is owned by the
// marketplace store.
func NewPGKeyStore(pool *pgxpool.Pool) *PGKeyStore {
	return &PGKeyStore{pool: pool}
}

func (s *PGKeyStore) Issue(ctx context.Context, agentID int64) (string, error) {
	token, err := generateKey()
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO api_keys (key_hash, agent_id) VALUES ($1, $2)
`, HashKey(token), agentID)
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *PGKeyStore) Resolve(ctx context.Context, token string) (Principal, bool, error) {
	var p Principal
	err := s.pool.QueryRow(ctx, `
SELECT a.id, a.operator_id, a.status
FROM api_keys k
JOIN agents a ON a.id = k.agent_id
WHERE k.key_hash = $1
`, HashKey(token)).Scan(&p.AgentID, &p.OperatorID, &p.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return Principal{}, false, nil
	}
	if err != nil {
		return Principal{}, false, err
	}
	return p, true, nil
}
