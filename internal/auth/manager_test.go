package auth

import (
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/openleague/league-manager/internal/protocol"
)

func TestIssue_Idempotent(t *testing.T) {
	m := NewManager()

	t1 := m.Issue("alice", AgentPlayer)
	t2 := m.Issue("alice", AgentPlayer)
	if t1 != t2 {
		t.Errorf("second Issue returned new token: %q vs %q", t1, t2)
	}
	if _, err := uuid.Parse(t1); err != nil {
		t.Errorf("token is not a UUID: %v", err)
	}

	m.Revoke(t1)
	t3 := m.Issue("alice", AgentPlayer)
	if t3 == t1 {
		t.Error("Issue after Revoke returned the revoked token")
	}
}

func TestValidate(t *testing.T) {
	m := NewManager()
	token := m.Issue("r1", AgentReferee)

	id, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if id.AgentID != "r1" || id.AgentType != AgentReferee {
		t.Errorf("identity = %+v", id)
	}

	_, err = m.Validate(uuid.NewString())
	if err == nil {
		t.Fatal("Validate(unknown) = nil, want error")
	}
	if protocol.AsError(err).Code != protocol.CodeInvalidToken {
		t.Errorf("code = %d, want INVALID_TOKEN", protocol.AsError(err).Code)
	}
}

func TestVerifySender(t *testing.T) {
	m := NewManager()
	token := m.Issue("alice", AgentPlayer)

	if _, err := m.VerifySender(token, "player:alice"); err != nil {
		t.Errorf("VerifySender(matching) = %v", err)
	}

	tests := []struct {
		name   string
		sender string
	}{
		{"other player", "player:bob"},
		{"wrong role", "referee:alice"},
		{"league manager", "league_manager"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.VerifySender(token, tt.sender)
			if err == nil {
				t.Fatal("VerifySender = nil, want mismatch")
			}
			if protocol.AsError(err).Code != protocol.CodeAuthSenderMismatch {
				t.Errorf("code = %d, want AUTH_SENDER_MISMATCH", protocol.AsError(err).Code)
			}
		})
	}
}

func TestRevokeAgent(t *testing.T) {
	m := NewManager()
	token := m.Issue("r1", AgentReferee)
	m.RevokeAgent("r1")
	if _, err := m.Validate(token); err == nil {
		t.Error("token still valid after RevokeAgent")
	}
}

func TestRestore(t *testing.T) {
	m := NewManager()
	token := uuid.NewString()
	m.Restore("bob", AgentPlayer, token)

	id, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate after Restore: %v", err)
	}
	if id.Sender() != "player:bob" {
		t.Errorf("Sender() = %q", id.Sender())
	}
	if got := m.Issue("bob", AgentPlayer); got != token {
		t.Errorf("Issue after Restore = %q, want restored token", got)
	}
}

func TestConcurrentIssue(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	tokens := make([]string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i] = m.Issue("shared", AgentPlayer)
		}(i)
	}
	wg.Wait()
	for _, tok := range tokens[1:] {
		if tok != tokens[0] {
			t.Fatal("concurrent Issue produced divergent tokens")
		}
	}
}
