// Package auth issues and validates the opaque tokens that bind protocol
// traffic to registered agents. Tokens defend against ID spoofing between
// cooperating localhost processes, not against a hostile host.
package auth

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/openleague/league-manager/internal/protocol"
)

// AgentType distinguishes the two registerable roles.
type AgentType string

const (
	AgentReferee AgentType = "referee"
	AgentPlayer  AgentType = "player"
)

// Identity is the decoded owner of a token.
type Identity struct {
	AgentID   string
	AgentType AgentType
}

// Sender returns the envelope sender string this identity is allowed to use.
func (id Identity) Sender() string {
	return fmt.Sprintf("%s:%s", id.AgentType, id.AgentID)
}

// Manager owns the token table. All methods are safe for concurrent callers;
// a single mutex serializes mutations.
type Manager struct {
	mu      sync.RWMutex
	byToken map[string]Identity
	byAgent map[string]string // agent_id -> token
}

func NewManager() *Manager {
	return &Manager{
		byToken: make(map[string]Identity),
		byAgent: make(map[string]string),
	}
}

// Issue returns the agent's token, minting a fresh v4 UUID on first call.
// Idempotent: a second Issue for the same agent returns the same token unless
// it was revoked in between.
func (m *Manager) Issue(agentID string, agentType AgentType) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token, ok := m.byAgent[agentID]; ok {
		return token
	}
	token := uuid.NewString()
	m.byToken[token] = Identity{AgentID: agentID, AgentType: agentType}
	m.byAgent[agentID] = token
	return token
}

// Restore re-seeds a token mapping from persisted registration state. Used on
// LM restart so previously issued tokens stay valid.
func (m *Manager) Restore(agentID string, agentType AgentType, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byToken[token] = Identity{AgentID: agentID, AgentType: agentType}
	m.byAgent[agentID] = token
}

// Validate resolves a token to its identity.
func (m *Manager) Validate(token string) (Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byToken[token]
	if !ok {
		return Identity{}, protocol.NewError(protocol.CodeInvalidToken, "invalid token")
	}
	return id, nil
}

// VerifySender checks that the token's identity matches the envelope sender
// string. On mismatch no state has been touched; callers reject the message.
func (m *Manager) VerifySender(token, sender string) (Identity, error) {
	id, err := m.Validate(token)
	if err != nil {
		return Identity{}, err
	}
	if id.Sender() != sender {
		return Identity{}, protocol.Errorf(protocol.CodeAuthSenderMismatch,
			"token identity %s does not match sender %s", id.Sender(), sender)
	}
	return id, nil
}

// Revoke removes a token mapping.
func (m *Manager) Revoke(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byToken[token]; ok {
		delete(m.byToken, token)
		delete(m.byAgent, id.AgentID)
	}
}

// RevokeAgent removes the agent's token mapping by agent id.
func (m *Manager) RevokeAgent(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token, ok := m.byAgent[agentID]; ok {
		delete(m.byToken, token)
		delete(m.byAgent, agentID)
	}
}
