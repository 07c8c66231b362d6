package league

import (
	"context"

	"github.com/openleague/league-manager/internal/models"
	"github.com/openleague/league-manager/internal/protocol"
	"github.com/openleague/league-manager/internal/schedule"
)

// startLeague handles ADMIN_START_LEAGUE_REQUEST: checks the start
// preconditions, generates and commits the full round-robin schedule, and
// moves the league to ACTIVE. Accepting the request from SCHEDULING as well
// makes the operation retryable if the previous attempt died between the
// status flip and the schedule commit.
func (m *Manager) startLeague(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, interface{}, error) {
	if perr := requireAdmin(env); perr != nil {
		return nil, nil, perr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	league, err := m.store.GetLeague(ctx)
	if err != nil {
		return nil, nil, m.storeError(err)
	}
	if league.Status != models.LeagueRegistration && league.Status != models.LeagueScheduling {
		return nil, nil, protocol.Errorf(protocol.CodePreconditionFailed,
			"league cannot start from %s", league.Status).
			WithData("league_status", string(league.Status)).WithEnvelope(env)
	}

	referees, err := m.store.ListReferees(ctx)
	if err != nil {
		return nil, nil, m.storeError(err)
	}
	players, err := m.store.ListPlayers(ctx)
	if err != nil {
		return nil, nil, m.storeError(err)
	}
	if len(referees) < m.cfg.MinReferees {
		return nil, nil, protocol.Errorf(protocol.CodePreconditionFailed,
			"%d referees registered, need %d", len(referees), m.cfg.MinReferees).WithEnvelope(env)
	}
	if len(players) < m.cfg.MinPlayers {
		return nil, nil, protocol.Errorf(protocol.CodePreconditionFailed,
			"%d players registered, need %d", len(players), m.cfg.MinPlayers).WithEnvelope(env)
	}
	var notReady []string
	for _, r := range referees {
		if r.Status != models.AgentActive {
			notReady = append(notReady, "referee:"+r.RefereeID)
		}
	}
	playerIDs := make([]string, 0, len(players))
	for _, p := range players {
		if p.Status != models.AgentActive {
			notReady = append(notReady, "player:"+p.PlayerID)
		}
		playerIDs = append(playerIDs, p.PlayerID)
	}
	if len(notReady) > 0 {
		return nil, nil, protocol.NewError(protocol.CodePreconditionFailed,
			"not all agents are ready").WithData("not_ready", notReady).WithEnvelope(env)
	}

	if existing, err := m.store.ListRounds(ctx); err != nil {
		return nil, nil, m.storeError(err)
	} else if len(existing) > 0 {
		// A previous attempt already committed the schedule; finish the flip.
		if err := m.store.UpdateLeagueStatus(ctx, m.leagueID, models.LeagueActive); err != nil {
			return nil, nil, m.storeError(err)
		}
		m.kickAssigner()
		reply := env.Reply(protocol.MsgAdminStartLeagueResponse, protocol.SenderLeagueManager)
		return reply, &protocol.AdminStartLeagueResponse{LeagueStatus: string(models.LeagueActive)}, nil
	}

	if err := m.store.UpdateLeagueStatus(ctx, m.leagueID, models.LeagueScheduling); err != nil {
		return nil, nil, m.storeError(err)
	}

	rounds, matches, err := schedule.Build(m.leagueID, m.cfg.GameType, playerIDs)
	if err != nil {
		m.logger.Errorw("Schedule generation failed", "error", err)
		return nil, nil, protocol.AsError(err).WithEnvelope(env)
	}

	finalStatus := models.LeagueActive
	if len(matches) == 0 {
		// Degenerate league with fewer than two players: nothing to play.
		finalStatus = models.LeagueCompleted
	} else {
		if err := m.store.CreateSchedule(ctx, rounds, matches); err != nil {
			return nil, nil, m.storeError(err)
		}
		if err := m.store.SetRoundStatus(ctx, rounds[0].RoundID, models.RoundActive); err != nil {
			return nil, nil, m.storeError(err)
		}
	}
	if err := m.store.UpdateLeagueStatus(ctx, m.leagueID, finalStatus); err != nil {
		return nil, nil, m.storeError(err)
	}

	m.logger.Infow("League started",
		"league_id", m.leagueID,
		"status", finalStatus,
		"players", len(players),
		"rounds", len(rounds),
		"matches", len(matches),
	)
	m.publishLive(ctx)
	m.kickAssigner()

	reply := env.Reply(protocol.MsgAdminStartLeagueResponse, protocol.SenderLeagueManager)
	return reply, &protocol.AdminStartLeagueResponse{LeagueStatus: string(finalStatus)}, nil
}

// adminStatus handles ADMIN_GET_STATUS_REQUEST with the same counters served
// on /status.
func (m *Manager) adminStatus(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, interface{}, error) {
	if perr := requireAdmin(env); perr != nil {
		return nil, nil, perr
	}
	reply := env.Reply(protocol.MsgAdminGetStatusResponse, protocol.SenderLeagueManager)
	return reply, m.StatusCounters(ctx), nil
}

func requireAdmin(env *protocol.Envelope) *protocol.Error {
	if env.Sender != "admin" {
		return protocol.Errorf(protocol.CodeInvalidSender,
			"%s requires the admin sender", env.MessageType).WithEnvelope(env)
	}
	return nil
}
