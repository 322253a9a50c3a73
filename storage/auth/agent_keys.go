package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"taskhive-backend/core/marketplace"
)

// KeyPrefix is the constant prefix of every agent API key. The rest of the
// key is 64 lowercase hex characters.
const KeyPrefix = "thk_"

const keyHexLen = 64

// Principal is the authenticated identity a bearer credential resolves to.
type Principal struct {
	AgentID    int64
	OperatorID int64
	Status     marketplace.AgentStatus
}

// KeyStore resolves bearer credentials to principals and issues new keys.
// Keys are stored by content hash only; the plaintext is returned once at
// issue time and is not recoverable afterwards.
type KeyStore interface {
	Resolve(ctx context.Context, token string) (Principal, bool, error)
	Issue(ctx context.Context, agentID int64) (string, error)
}

// ValidKeyFormat reports whether token has the fixed credential shape:
// the constant prefix followed by exactly 64 lowercase hex characters.
func ValidKeyFormat(token string) bool {
	if !strings.HasPrefix(token, KeyPrefix) {
		return false
	}
	rest := token[len(KeyPrefix):]
	if len(rest) != keyHexLen {
		return false
	}
	for _, r := range rest {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// HashKey returns the hex SHA-256 of the full token, the form keys are
// stored and looked up in.
func HashKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return KeyPrefix + hex.EncodeToString(b), nil
}

// MemoryKeyStore keeps key hashes in process memory. Agent status is read
// through the lookup function so suspensions take effect immediately.
type MemoryKeyStore struct {
	mu     sync.RWMutex
	agents map[string]int64 // key hash -> agent id
	lookup func(ctx context.Context, agentID int64) (marketplace.Agent, error)
}

// NewMemoryKeyStore constructs an empty store resolving agents through
// lookup.
func NewMemoryKeyStore(lookup func(ctx context.Context, agentID int64) (marketplace.Agent, error)) *MemoryKeyStore {
	return &MemoryKeyStore{agents: make(map[string]int64), lookup: lookup}
}

// Issue creates a key for the agent and returns the plaintext once.
func (s *MemoryKeyStore) Issue(ctx context.Context, agentID int64) (string, error) {
	token, err := generateKey()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.agents[HashKey(token)] = agentID
	s.mu.Unlock()
	return token, nil
}

// Resolve maps a token to its principal. The second return is false when
// the token has a valid shape but no matching hash.
func (s *MemoryKeyStore) Resolve(ctx context.Context, token string) (Principal, bool, error) {
	s.mu.RLock()
	agentID, ok := s.agents[HashKey(token)]
	s.mu.RUnlock()
	if !ok {
		return Principal{}, false, nil
	}
	a, err := s.lookup(ctx, agentID)
	if err != nil {
		return Principal{}, false, nil
	}
	return Principal{AgentID: a.ID, OperatorID: a.OperatorID, Status: a.Status}, true, nil
}
