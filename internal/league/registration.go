package league

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/openleague/league-manager/internal/auth"
	"github.com/openleague/league-manager/internal/models"
	"github.com/openleague/league-manager/internal/protocol"
	"github.com/openleague/league-manager/internal/store"
)

// registerReferee handles REGISTER_REFEREE_REQUEST. Registration is
// idempotent: the same referee_id with the same endpoint gets its original
// token back and no second row is written.
func (m *Manager) registerReferee(ctx context.Context, env *protocol.Envelope, payload json.RawMessage) (*protocol.Envelope, interface{}, error) {
	var req protocol.RegisterRefereeRequest
	if perr := m.decodePayload(payload, &req); perr != nil {
		return nil, nil, perr.WithEnvelope(env)
	}
	if env.Sender != "referee:"+req.RefereeID {
		return nil, nil, protocol.Errorf(protocol.CodeInvalidSender,
			"sender %s does not match referee_id %s", env.Sender, req.RefereeID).WithEnvelope(env)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if perr := m.requireRegistrationOpen(ctx, env); perr != nil {
		return nil, nil, perr
	}

	existing, err := m.store.GetReferee(ctx, req.RefereeID)
	switch {
	case err == nil:
		if existing.Endpoint != req.Endpoint {
			return nil, nil, protocol.Errorf(protocol.CodeDuplicateRegistration,
				"referee %s already registered with a different endpoint", req.RefereeID).WithEnvelope(env)
		}
		return m.registrationReply(env, protocol.MsgRegisterRefereeResponse, existing.Status, existing.AuthToken)
	case !errors.Is(err, store.ErrNotFound):
		return nil, nil, m.storeError(err)
	}

	token := m.auth.Issue(req.RefereeID, auth.AgentReferee)
	ref := &models.Referee{
		RefereeID:    req.RefereeID,
		LeagueID:     m.leagueID,
		AuthToken:    token,
		Endpoint:     req.Endpoint,
		Status:       models.AgentRegistered,
		RegisteredAt: time.Now().UTC(),
	}
	if err := m.store.InsertReferee(ctx, ref); err != nil {
		m.auth.RevokeAgent(req.RefereeID)
		return nil, nil, m.storeError(err)
	}

	m.logger.Infow("Referee registered", "referee_id", req.RefereeID, "endpoint", req.Endpoint)
	m.publishLive(ctx)
	return m.registrationReply(env, protocol.MsgRegisterRefereeResponse, models.AgentRegistered, token)
}

// registerPlayer handles REGISTER_PLAYER_REQUEST. At least one referee must
// already exist; a league with players but nobody to run their matches is
// never allowed to form.
func (m *Manager) registerPlayer(ctx context.Context, env *protocol.Envelope, payload json.RawMessage) (*protocol.Envelope, interface{}, error) {
	var req protocol.RegisterPlayerRequest
	if perr := m.decodePayload(payload, &req); perr != nil {
		return nil, nil, perr.WithEnvelope(env)
	}
	if env.Sender != "player:"+req.PlayerID {
		return nil, nil, protocol.Errorf(protocol.CodeInvalidSender,
			"sender %s does not match player_id %s", env.Sender, req.PlayerID).WithEnvelope(env)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if perr := m.requireRegistrationOpen(ctx, env); perr != nil {
		return nil, nil, perr
	}

	referees, err := m.store.ListReferees(ctx)
	if err != nil {
		return nil, nil, m.storeError(err)
	}
	if len(referees) == 0 {
		return nil, nil, protocol.NewError(protocol.CodePreconditionFailed,
			"no referee registered yet").WithEnvelope(env)
	}

	existing, err := m.store.GetPlayer(ctx, req.PlayerID)
	switch {
	case err == nil:
		if existing.Endpoint != req.Endpoint {
			return nil, nil, protocol.Errorf(protocol.CodeDuplicateRegistration,
				"player %s already registered with a different endpoint", req.PlayerID).WithEnvelope(env)
		}
		return m.registrationReply(env, protocol.MsgRegisterPlayerResponse, existing.Status, existing.AuthToken)
	case !errors.Is(err, store.ErrNotFound):
		return nil, nil, m.storeError(err)
	}

	token := m.auth.Issue(req.PlayerID, auth.AgentPlayer)
	player := &models.Player{
		PlayerID:     req.PlayerID,
		LeagueID:     m.leagueID,
		AuthToken:    token,
		Endpoint:     req.Endpoint,
		Status:       models.AgentRegistered,
		RegisteredAt: time.Now().UTC(),
	}
	if err := m.store.InsertPlayer(ctx, player); err != nil {
		m.auth.RevokeAgent(req.PlayerID)
		return nil, nil, m.storeError(err)
	}

	m.logger.Infow("Player registered", "player_id", req.PlayerID, "endpoint", req.Endpoint)
	m.publishLive(ctx)
	return m.registrationReply(env, protocol.MsgRegisterPlayerResponse, models.AgentRegistered, token)
}

// agentReady handles AGENT_READY_REQUEST: the explicit promotion from
// REGISTERED to ACTIVE. Only ACTIVE agents count toward start preconditions.
func (m *Manager) agentReady(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, interface{}, error) {
	identity, err := m.auth.VerifySender(env.AuthToken, env.Sender)
	if err != nil {
		return nil, nil, protocol.AsError(err).WithEnvelope(env)
	}
	if perr := m.checkLeague(env); perr != nil {
		return nil, nil, perr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if perr := m.requireRegistrationOpen(ctx, env); perr != nil {
		return nil, nil, perr
	}

	switch identity.AgentType {
	case auth.AgentReferee:
		err = m.store.SetRefereeStatus(ctx, identity.AgentID, models.AgentActive)
	case auth.AgentPlayer:
		err = m.store.SetPlayerStatus(ctx, identity.AgentID, models.AgentActive)
	}
	if err != nil {
		return nil, nil, m.storeError(err)
	}

	m.logger.Infow("Agent ready", "agent", identity.Sender())
	reply := env.Reply(protocol.MsgAgentReadyResponse, protocol.SenderLeagueManager)
	reply.LeagueID = m.leagueID
	return reply, &protocol.AgentReadyResponse{Status: string(models.AgentActive)}, nil
}

// requireRegistrationOpen rejects registration-phase messages once the league
// has moved on. Callers hold m.mu.
func (m *Manager) requireRegistrationOpen(ctx context.Context, env *protocol.Envelope) *protocol.Error {
	league, err := m.store.GetLeague(ctx)
	if err != nil {
		return m.storeError(err)
	}
	if league.Status != models.LeagueRegistration {
		return protocol.Errorf(protocol.CodeRegistrationClosed,
			"registration is closed, league is %s", league.Status).
			WithData("league_status", string(league.Status)).WithEnvelope(env)
	}
	return nil
}

func (m *Manager) registrationReply(env *protocol.Envelope, msgType protocol.MessageType, status models.AgentStatus, token string) (*protocol.Envelope, interface{}, error) {
	reply := env.Reply(msgType, protocol.SenderLeagueManager)
	reply.AuthToken = token
	reply.LeagueID = m.leagueID
	return reply, &protocol.RegisterResponse{
		Status:    string(status),
		AuthToken: token,
		LeagueID:  m.leagueID,
	}, nil
}

// storeError maps storage failures onto the 5xxx band. The underlying error
// stays in the logs; only the generic message crosses the wire.
func (m *Manager) storeError(err error) *protocol.Error {
	m.logger.Errorw("Storage failure", "error", err)
	return protocol.NewError(protocol.CodeDatabaseError, "storage failure")
}
