// Package league implements the League Manager: the coordinator that owns
// registration, scheduling, match assignment, result ingestion and standings
// for a single closed round-robin tournament.
package league

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openleague/league-manager/internal/auth"
	"github.com/openleague/league-manager/internal/config"
	"github.com/openleague/league-manager/internal/models"
	"github.com/openleague/league-manager/internal/protocol"
	"github.com/openleague/league-manager/internal/store"
	"github.com/openleague/league-manager/internal/transport"
)

// Options wires a Manager.
type Options struct {
	Store  store.Store
	Auth   *auth.Manager
	Client *transport.Client
	Config *config.Config
	Mirror *Mirror
	Logger *zap.Logger
}

// Manager is the LM dispatcher. One mutex serializes every state-changing
// handler; the store's own transactions guard durability, the mutex guards
// the read-decide-write sequences above them. Network calls to referees
// happen outside the lock.
type Manager struct {
	store    store.Store
	auth     *auth.Manager
	client   *transport.Client
	cfg      *config.Config
	mirror   *Mirror
	logger   *zap.SugaredLogger
	validate *validator.Validate

	leagueID string

	mu   sync.Mutex
	busy map[string]bool // referee_id -> assignment in flight
	kick chan struct{}
}

func NewManager(opts Options) *Manager {
	return &Manager{
		store:    opts.Store,
		auth:     opts.Auth,
		client:   opts.Client,
		cfg:      opts.Config,
		mirror:   opts.Mirror,
		logger:   opts.Logger.Sugar(),
		validate: validator.New(),
		busy:     make(map[string]bool),
		kick:     make(chan struct{}, 1),
	}
}

// Role implements transport.Dispatcher.
func (m *Manager) Role() string { return protocol.SenderLeagueManager }

// Bootstrap creates the singleton league on first start, or restores state
// after a restart: previously issued tokens become valid again and matches
// stranded mid-assignment return to PENDING for reassignment.
func (m *Manager) Bootstrap(ctx context.Context) error {
	league, err := m.store.GetLeague(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		cfgBlob, _ := json.Marshal(map[string]interface{}{
			"game_type":    m.cfg.GameType,
			"min_players":  m.cfg.MinPlayers,
			"min_referees": m.cfg.MinReferees,
		})
		league = &models.League{
			LeagueID:  uuid.NewString(),
			Status:    models.LeagueRegistration,
			CreatedAt: time.Now().UTC(),
			Config:    cfgBlob,
		}
		if err := m.store.CreateLeague(ctx, league); err != nil {
			return err
		}
		m.leagueID = league.LeagueID
		m.logger.Infow("League created", "league_id", league.LeagueID, "game_type", m.cfg.GameType)
		m.publishLive(ctx)
		return nil
	case err != nil:
		return err
	}

	m.leagueID = league.LeagueID
	if err := m.restore(ctx); err != nil {
		return err
	}
	m.logger.Infow("League restored", "league_id", league.LeagueID, "status", league.Status)
	m.publishLive(ctx)
	return nil
}

// restore re-seeds the token table and clears stranded assignments. The
// in-memory referee state died with the previous process, so any ASSIGNED or
// IN_PROGRESS match goes back to PENDING; the assigned-referee check rejects
// a late report from the old assignment once the match is handed out again.
func (m *Manager) restore(ctx context.Context) error {
	referees, err := m.store.ListReferees(ctx)
	if err != nil {
		return err
	}
	for _, r := range referees {
		m.auth.Restore(r.RefereeID, auth.AgentReferee, r.AuthToken)
	}
	players, err := m.store.ListPlayers(ctx)
	if err != nil {
		return err
	}
	for _, p := range players {
		m.auth.Restore(p.PlayerID, auth.AgentPlayer, p.AuthToken)
	}

	matches, err := m.store.ListMatches(ctx)
	if err != nil {
		return err
	}
	for _, match := range matches {
		if match.Status == models.MatchAssigned || match.Status == models.MatchInProgress {
			if err := m.store.SetMatchStatus(ctx, match.MatchID, models.MatchPending); err != nil {
				return err
			}
			m.logger.Warnw("Reset stranded match", "match_id", match.MatchID, "was", match.Status)
		}
	}
	return nil
}

// Run drives the assigner loop until ctx is cancelled. Periodic sweeps cover
// missed kicks and reap matches stuck past the deadline.
func (m *Manager) Run(ctx context.Context) error {
	m.kickAssigner()
	ticker := time.NewTicker(m.cfg.AssignSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.kick:
			m.assignPending(ctx)
		case <-ticker.C:
			m.reapStuck(ctx)
			m.assignPending(ctx)
		}
	}
}

// Dispatch implements transport.Dispatcher: routes one validated envelope to
// its handler by message type.
func (m *Manager) Dispatch(ctx context.Context, env *protocol.Envelope, payload json.RawMessage) (*protocol.Envelope, interface{}, error) {
	switch env.MessageType {
	case protocol.MsgRegisterRefereeRequest:
		return m.registerReferee(ctx, env, payload)
	case protocol.MsgRegisterPlayerRequest:
		return m.registerPlayer(ctx, env, payload)
	case protocol.MsgAgentReadyRequest:
		return m.agentReady(ctx, env)
	case protocol.MsgAdminStartLeagueRequest:
		return m.startLeague(ctx, env)
	case protocol.MsgAdminGetStatusRequest:
		return m.adminStatus(ctx, env)
	case protocol.MsgMatchResultReport:
		return m.handleResult(ctx, env, payload)
	case protocol.MsgQueryStandings:
		return m.queryStandings(ctx, env)
	default:
		return nil, nil, protocol.Errorf(protocol.CodeUnknownMessageType,
			"league manager does not handle %s", env.MessageType).WithEnvelope(env)
	}
}

// StatusCounters implements transport.Dispatcher.
func (m *Manager) StatusCounters(ctx context.Context) map[string]interface{} {
	counters := map[string]interface{}{"league_id": m.leagueID}

	if league, err := m.store.GetLeague(ctx); err == nil {
		counters["league_status"] = league.Status
	}
	if referees, err := m.store.ListReferees(ctx); err == nil {
		counters["referees"] = len(referees)
	}
	if players, err := m.store.ListPlayers(ctx); err == nil {
		counters["players"] = len(players)
	}
	if matches, err := m.store.ListMatches(ctx); err == nil {
		byStatus := make(map[string]int)
		for _, match := range matches {
			byStatus[string(match.Status)]++
		}
		counters["matches_total"] = len(matches)
		counters["matches_by_status"] = byStatus
	}
	if results, err := m.store.ListResults(ctx); err == nil {
		counters["results"] = len(results)
	}
	return counters
}

// decodePayload unmarshals and struct-validates a message payload.
func (m *Manager) decodePayload(raw json.RawMessage, dst interface{}) *protocol.Error {
	if len(raw) == 0 {
		return protocol.NewError(protocol.CodeMissingRequiredField, "payload is required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return protocol.Errorf(protocol.CodeValidationError, "malformed payload: %v", err)
	}
	if err := m.validate.Struct(dst); err != nil {
		return protocol.Errorf(protocol.CodeValidationError, "invalid payload: %v", err)
	}
	return nil
}

// checkLeague rejects envelopes addressed to a league this process does not
// own. An empty league_id is allowed only where the catalog allows it.
func (m *Manager) checkLeague(env *protocol.Envelope) *protocol.Error {
	if env.LeagueID != "" && env.LeagueID != m.leagueID {
		return protocol.Errorf(protocol.CodeValidationError,
			"unknown league %s", env.LeagueID).WithEnvelope(env)
	}
	return nil
}

// publishLive refreshes the Redis mirror. Failures are logged inside the
// mirror and never affect dispatch.
func (m *Manager) publishLive(ctx context.Context) {
	if m.mirror == nil {
		return
	}
	league, err := m.store.GetLeague(ctx)
	if err != nil {
		return
	}
	referees, _ := m.store.ListReferees(ctx)
	players, _ := m.store.ListPlayers(ctx)
	active := 0
	if matches, err := m.store.ListMatches(ctx); err == nil {
		for _, match := range matches {
			if match.Status == models.MatchAssigned || match.Status == models.MatchInProgress {
				active++
			}
		}
	}
	m.mirror.PublishLeague(models.LiveLeague{
		LeagueID:      league.LeagueID,
		Status:        league.Status,
		Referees:      len(referees),
		Players:       len(players),
		ActiveMatches: active,
		UpdatedAt:     time.Now().UTC(),
	})
}
