package player

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openleague/league-manager/internal/protocol"
)

func newTestPlayer(t *testing.T) *Player {
	t.Helper()
	return New(Options{
		ID:       "alice",
		Strategy: NewRandomNumberStrategy(1, 100),
		Logger:   zap.NewNop(),
	})
}

func matchEnv(msgType protocol.MessageType) *protocol.Envelope {
	env := protocol.NewEnvelope(msgType, "referee:r1")
	env.MatchID = uuid.NewString()
	env.GameType = "even_odd"
	return env
}

func TestPlayer_JoinsOwnMatch(t *testing.T) {
	p := newTestPlayer(t)
	raw, _ := json.Marshal(&protocol.GameInvitation{Players: []string{"alice", "bob"}})

	reply, _, err := p.Dispatch(context.Background(), matchEnv(protocol.MsgGameInvitation), raw)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if reply.MessageType != protocol.MsgGameJoinAck {
		t.Errorf("reply type = %s, want GAME_JOIN_ACK", reply.MessageType)
	}
	if p.invitations.Load() != 1 {
		t.Errorf("invitations = %d", p.invitations.Load())
	}
}

func TestPlayer_RejectsForeignInvitation(t *testing.T) {
	p := newTestPlayer(t)
	raw, _ := json.Marshal(&protocol.GameInvitation{Players: []string{"bob", "carol"}})

	_, _, err := p.Dispatch(context.Background(), matchEnv(protocol.MsgGameInvitation), raw)
	if err == nil {
		t.Fatal("joined a match it is not part of")
	}
	if code := protocol.AsError(err).Code; code != protocol.CodeValidationError {
		t.Errorf("code = %d, want VALIDATION_ERROR", code)
	}
}

func TestPlayer_AnswersMoveRequests(t *testing.T) {
	p := newTestPlayer(t)
	raw, _ := json.Marshal(&protocol.RequestMove{StepNumber: 1, StepContext: json.RawMessage(`{"role":"even"}`)})

	reply, payload, err := p.Dispatch(context.Background(), matchEnv(protocol.MsgRequestMove), raw)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if reply.MessageType != protocol.MsgMoveResponse {
		t.Errorf("reply type = %s", reply.MessageType)
	}
	move := payload.(*protocol.MoveResponse)
	var decoded map[string]int
	if err := json.Unmarshal(move.MovePayload, &decoded); err != nil {
		t.Fatalf("move payload: %v", err)
	}
	if _, ok := decoded["number"]; !ok {
		t.Errorf("move payload missing number: %s", move.MovePayload)
	}
}

func TestPlayer_AcknowledgesGameOver(t *testing.T) {
	p := newTestPlayer(t)
	raw, _ := json.Marshal(&protocol.GameOver{Outcome: map[string]string{"alice": "win", "bob": "loss"}})

	if _, _, err := p.Dispatch(context.Background(), matchEnv(protocol.MsgGameOver), raw); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if p.gamesOver.Load() != 1 {
		t.Errorf("gamesOver = %d", p.gamesOver.Load())
	}
}

func TestPlayer_UnknownMessageType(t *testing.T) {
	p := newTestPlayer(t)
	env := protocol.NewEnvelope(protocol.MsgMatchAssignment, protocol.SenderLeagueManager)
	_, _, err := p.Dispatch(context.Background(), env, nil)
	if code := protocol.AsError(err).Code; code != protocol.CodeUnknownMessageType {
		t.Errorf("code = %d, want UNKNOWN_MESSAGE_TYPE", code)
	}
}

func TestRandomNumberStrategy_Deterministic(t *testing.T) {
	a := NewRandomNumberStrategy(42, 10)
	b := NewRandomNumberStrategy(42, 10)
	for i := 0; i < 5; i++ {
		ma, _ := a.ComputeMove("even_odd", protocol.RequestMove{StepNumber: i})
		mb, _ := b.ComputeMove("even_odd", protocol.RequestMove{StepNumber: i})
		if string(ma) != string(mb) {
			t.Fatalf("same seed diverged at step %d: %s vs %s", i, ma, mb)
		}
	}
}
