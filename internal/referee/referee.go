// Package referee runs matches on behalf of the League Manager: it accepts
// one assignment at a time, conducts the game loop against both players and
// reports the outcome exactly once.
package referee

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/openleague/league-manager/internal/auth"
	"github.com/openleague/league-manager/internal/config"
	"github.com/openleague/league-manager/internal/enroll"
	"github.com/openleague/league-manager/internal/game"
	"github.com/openleague/league-manager/internal/protocol"
	"github.com/openleague/league-manager/internal/transport"
)

// Options wires a Referee.
type Options struct {
	ID       string
	Endpoint string // our own callback URL, sent at registration
	LMURL    string
	Client   *transport.Client
	Engines  *game.Registry
	Config   *config.Config
	Logger   *zap.Logger
}

// Referee is the referee-side dispatcher. The busy flag enforces one match
// at a time; the LM treats a busy rejection as "try another referee", not as
// a failure.
type Referee struct {
	id       string
	endpoint string
	lmURL    string
	client   *transport.Client
	engines  *game.Registry
	cfg      *config.Config
	logger   *zap.SugaredLogger

	creds enroll.Credentials

	busy             atomic.Bool
	matchesRun       atomic.Int64
	matchesForfeited atomic.Int64
	matchesFailed    atomic.Int64
}

func New(opts Options) *Referee {
	return &Referee{
		id:       opts.ID,
		endpoint: opts.Endpoint,
		lmURL:    opts.LMURL,
		client:   opts.Client,
		engines:  opts.Engines,
		cfg:      opts.Config,
		logger:   opts.Logger.Sugar(),
	}
}

// Sender returns this referee's envelope sender string.
func (r *Referee) Sender() string {
	return auth.Identity{AgentID: r.id, AgentType: auth.AgentReferee}.Sender()
}

// Enroll registers with the LM and announces readiness. Must complete before
// the HTTP server starts taking assignments.
func (r *Referee) Enroll(ctx context.Context) error {
	creds, err := enroll.Register(ctx, r.client, r.lmURL, auth.AgentReferee, r.id, r.endpoint)
	if err != nil {
		return err
	}
	r.creds = creds
	if err := enroll.Ready(ctx, r.client, r.lmURL, auth.AgentReferee, r.id, creds); err != nil {
		return err
	}
	r.logger.Infow("Referee enrolled", "referee_id", r.id, "league_id", creds.LeagueID)
	return nil
}

// Role implements transport.Dispatcher.
func (r *Referee) Role() string { return "referee" }

// StatusCounters implements transport.Dispatcher.
func (r *Referee) StatusCounters(context.Context) map[string]interface{} {
	return map[string]interface{}{
		"referee_id":        r.id,
		"league_id":         r.creds.LeagueID,
		"busy":              r.busy.Load(),
		"matches_run":       r.matchesRun.Load(),
		"matches_forfeited": r.matchesForfeited.Load(),
		"matches_failed":    r.matchesFailed.Load(),
		"game_types":        r.engines.Types(),
	}
}

// Dispatch implements transport.Dispatcher. The only inbound message a
// referee accepts is MATCH_ASSIGNMENT.
func (r *Referee) Dispatch(ctx context.Context, env *protocol.Envelope, payload json.RawMessage) (*protocol.Envelope, interface{}, error) {
	if env.MessageType != protocol.MsgMatchAssignment {
		return nil, nil, protocol.Errorf(protocol.CodeUnknownMessageType,
			"referee does not handle %s", env.MessageType).WithEnvelope(env)
	}
	if env.AuthToken != r.creds.AuthToken {
		return nil, nil, protocol.NewError(protocol.CodeInvalidToken, "invalid token").WithEnvelope(env)
	}
	if env.LeagueID != r.creds.LeagueID {
		return nil, nil, protocol.Errorf(protocol.CodeValidationError,
			"unknown league %s", env.LeagueID).WithEnvelope(env)
	}

	var assign protocol.MatchAssignment
	if err := json.Unmarshal(payload, &assign); err != nil {
		return nil, nil, protocol.Errorf(protocol.CodeValidationError,
			"malformed assignment payload: %v", err).WithEnvelope(env)
	}
	if len(assign.Players) != 2 || assign.Players[0] == assign.Players[1] {
		return nil, nil, protocol.Errorf(protocol.CodeValidationError,
			"assignment needs two distinct players, got %v", assign.Players).WithEnvelope(env)
	}
	for _, p := range assign.Players {
		if assign.Endpoints[p] == "" {
			return nil, nil, protocol.Errorf(protocol.CodeValidationError,
				"no endpoint for player %s", p).WithEnvelope(env)
		}
	}

	if !r.engines.Supports(env.GameType) {
		return nil, nil, protocol.Errorf(protocol.CodeUnsupportedGameType,
			"no engine for game type %q", env.GameType).WithEnvelope(env)
	}

	reply := env.Reply(protocol.MsgMatchAssignmentAck, r.Sender())
	reply.AuthToken = r.creds.AuthToken

	if !r.busy.CompareAndSwap(false, true) {
		return reply, &protocol.MatchAssignmentAck{Accepted: false, Reason: "busy"}, nil
	}

	engine, err := r.engines.New(env.GameType, r.cfg.ScoringFor(env.GameType))
	if err != nil {
		r.busy.Store(false)
		return nil, nil, protocol.Errorf(protocol.CodeUnsupportedGameType,
			"no engine for game type %q", env.GameType).WithEnvelope(env)
	}

	run := matchRun{
		matchID:   env.MatchID,
		roundID:   env.RoundID,
		gameType:  env.GameType,
		players:   [2]string{assign.Players[0], assign.Players[1]},
		endpoints: assign.Endpoints,
		engine:    engine,
	}
	go r.runMatch(run)

	r.logger.Infow("Assignment accepted", "match_id", env.MatchID, "players", assign.Players)
	return reply, &protocol.MatchAssignmentAck{Accepted: true}, nil
}
