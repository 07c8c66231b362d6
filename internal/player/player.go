// Package player is the player-side agent: it enrolls with the League
// Manager, answers referee traffic (invitations, move requests, game over
// notices) and can query standings. Game intelligence lives behind Strategy.
package player

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/openleague/league-manager/internal/auth"
	"github.com/openleague/league-manager/internal/enroll"
	"github.com/openleague/league-manager/internal/protocol"
	"github.com/openleague/league-manager/internal/transport"
)

// Strategy computes moves. Implementations never see the protocol; they map
// an opaque step context to an opaque move payload.
type Strategy interface {
	ComputeMove(gameType string, step protocol.RequestMove) (json.RawMessage, error)
}

// Options wires a Player.
type Options struct {
	ID       string
	Endpoint string // our own callback URL, sent at registration
	LMURL    string
	Client   *transport.Client
	Strategy Strategy
	Logger   *zap.Logger
}

// Player is the player-side dispatcher.
type Player struct {
	id       string
	endpoint string
	lmURL    string
	client   *transport.Client
	strategy Strategy
	logger   *zap.SugaredLogger

	creds enroll.Credentials

	invitations atomic.Int64
	moves       atomic.Int64
	gamesOver   atomic.Int64
}

func New(opts Options) *Player {
	return &Player{
		id:       opts.ID,
		endpoint: opts.Endpoint,
		lmURL:    opts.LMURL,
		client:   opts.Client,
		strategy: opts.Strategy,
		logger:   opts.Logger.Sugar(),
	}
}

// Sender returns this player's envelope sender string.
func (p *Player) Sender() string {
	return auth.Identity{AgentID: p.id, AgentType: auth.AgentPlayer}.Sender()
}

// Enroll registers with the LM and announces readiness.
func (p *Player) Enroll(ctx context.Context) error {
	creds, err := enroll.Register(ctx, p.client, p.lmURL, auth.AgentPlayer, p.id, p.endpoint)
	if err != nil {
		return err
	}
	p.creds = creds
	if err := enroll.Ready(ctx, p.client, p.lmURL, auth.AgentPlayer, p.id, creds); err != nil {
		return err
	}
	p.logger.Infow("Player enrolled", "player_id", p.id, "league_id", creds.LeagueID)
	return nil
}

// Role implements transport.Dispatcher.
func (p *Player) Role() string { return "player" }

// StatusCounters implements transport.Dispatcher.
func (p *Player) StatusCounters(context.Context) map[string]interface{} {
	return map[string]interface{}{
		"player_id":   p.id,
		"league_id":   p.creds.LeagueID,
		"invitations": p.invitations.Load(),
		"moves":       p.moves.Load(),
		"games_over":  p.gamesOver.Load(),
	}
}

// Dispatch implements transport.Dispatcher for referee-originated traffic.
func (p *Player) Dispatch(_ context.Context, env *protocol.Envelope, payload json.RawMessage) (*protocol.Envelope, interface{}, error) {
	switch env.MessageType {
	case protocol.MsgGameInvitation:
		return p.handleInvitation(env, payload)
	case protocol.MsgRequestMove:
		return p.handleRequestMove(env, payload)
	case protocol.MsgGameOver:
		return p.handleGameOver(env, payload)
	default:
		return nil, nil, protocol.Errorf(protocol.CodeUnknownMessageType,
			"player does not handle %s", env.MessageType).WithEnvelope(env)
	}
}

func (p *Player) handleInvitation(env *protocol.Envelope, payload json.RawMessage) (*protocol.Envelope, interface{}, error) {
	var invitation protocol.GameInvitation
	if err := json.Unmarshal(payload, &invitation); err != nil {
		return nil, nil, protocol.Errorf(protocol.CodeValidationError,
			"malformed invitation: %v", err).WithEnvelope(env)
	}
	joined := false
	for _, id := range invitation.Players {
		if id == p.id {
			joined = true
		}
	}
	if !joined {
		return nil, nil, protocol.Errorf(protocol.CodeValidationError,
			"invitation for %v does not include %s", invitation.Players, p.id).WithEnvelope(env)
	}

	p.invitations.Add(1)
	p.logger.Infow("Joining match", "match_id", env.MatchID, "game_type", env.GameType)
	return env.Reply(protocol.MsgGameJoinAck, p.Sender()), &protocol.GameJoinAck{}, nil
}

func (p *Player) handleRequestMove(env *protocol.Envelope, payload json.RawMessage) (*protocol.Envelope, interface{}, error) {
	var req protocol.RequestMove
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, nil, protocol.Errorf(protocol.CodeValidationError,
			"malformed move request: %v", err).WithEnvelope(env)
	}

	move, err := p.strategy.ComputeMove(env.GameType, req)
	if err != nil {
		p.logger.Errorw("Strategy failed", "match_id", env.MatchID, "step", req.StepNumber, "error", err)
		return nil, nil, protocol.Errorf(protocol.CodeMatchExecutionFailed,
			"no move for step %d", req.StepNumber).WithEnvelope(env)
	}

	p.moves.Add(1)
	return env.Reply(protocol.MsgMoveResponse, p.Sender()), &protocol.MoveResponse{MovePayload: move}, nil
}

// handleGameOver acknowledges the notification; the catalog has no dedicated
// ack type for fire-and-forget notices, so the reply mirrors the message type
// and the referee ignores it.
func (p *Player) handleGameOver(env *protocol.Envelope, payload json.RawMessage) (*protocol.Envelope, interface{}, error) {
	var over protocol.GameOver
	if err := json.Unmarshal(payload, &over); err != nil {
		return nil, nil, protocol.Errorf(protocol.CodeValidationError,
			"malformed game over: %v", err).WithEnvelope(env)
	}
	p.gamesOver.Add(1)
	p.logger.Infow("Game over", "match_id", env.MatchID, "outcome", over.Outcome[p.id])
	return env.Reply(protocol.MsgGameOver, p.Sender()), nil, nil
}

// QueryStandings fetches the latest standings snapshot from the LM; roundID
// may be empty for the overall table.
func (p *Player) QueryStandings(ctx context.Context, roundID string) (*protocol.StandingsResponse, error) {
	env := protocol.NewEnvelope(protocol.MsgQueryStandings, p.Sender())
	env.AuthToken = p.creds.AuthToken
	env.LeagueID = p.creds.LeagueID
	env.RoundID = roundID

	res, err := p.client.Call(ctx, p.lmURL, env, nil)
	if err != nil {
		return nil, err
	}
	var standings protocol.StandingsResponse
	if err := json.Unmarshal(res.Payload, &standings); err != nil {
		return nil, err
	}
	return &standings, nil
}
