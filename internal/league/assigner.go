package league

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/openleague/league-manager/internal/models"
	"github.com/openleague/league-manager/internal/protocol"
	"github.com/openleague/league-manager/internal/store"
)

// assignment is one decided pairing on its way to a referee. Decisions are
// made under m.mu; delivery happens without it.
type assignment struct {
	match   models.Match
	round   models.Round
	referee models.Referee
}

// kickAssigner schedules an assignment pass. The channel holds one pending
// kick; coalescing extra kicks is fine because every pass re-reads the store.
func (m *Manager) kickAssigner() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// assignPending walks the current round and hands out PENDING matches to idle
// ACTIVE referees. Rounds run strictly in order: round N+1 opens only after
// every match of round N is terminal. Within the active round either one
// match runs at a time or, with concurrent assignment enabled, as many as
// there are idle referees.
func (m *Manager) assignPending(ctx context.Context) {
	m.mu.Lock()
	decided := m.decideAssignments(ctx)
	m.mu.Unlock()

	for _, a := range decided {
		go m.deliverAssignment(ctx, a)
	}
}

// decideAssignments picks matches and referees and commits the ASSIGNED flips.
// Caller holds m.mu.
func (m *Manager) decideAssignments(ctx context.Context) []assignment {
	league, err := m.store.GetLeague(ctx)
	if err != nil || league.Status != models.LeagueActive {
		return nil
	}

	round, done, err := m.currentRound(ctx)
	if err != nil {
		m.logger.Errorw("Assigner round scan failed", "error", err)
		return nil
	}
	if done {
		m.completeLeague(ctx)
		return nil
	}

	matches, err := m.store.ListMatchesByRound(ctx, round.RoundID)
	if err != nil {
		m.logger.Errorw("Assigner match scan failed", "error", err)
		return nil
	}

	var pending []models.Match
	inFlight := 0
	for _, match := range matches {
		switch match.Status {
		case models.MatchPending:
			pending = append(pending, match)
		case models.MatchAssigned, models.MatchInProgress:
			inFlight++
		}
	}
	if len(pending) == 0 {
		return nil
	}
	// Deterministic order: matches by id, referees by id.
	sort.Slice(pending, func(i, j int) bool { return pending[i].MatchID < pending[j].MatchID })

	slots := 1 - inFlight
	if m.cfg.ConcurrentMatchesPerRound {
		slots = len(pending)
	}
	if slots <= 0 {
		return nil
	}

	idle := m.idleReferees(ctx)
	var decided []assignment
	for _, match := range pending {
		if len(idle) == 0 || len(decided) >= slots {
			break
		}
		ref := idle[0]
		idle = idle[1:]

		if err := m.store.AssignMatch(ctx, match.MatchID, ref.RefereeID, time.Now().UTC()); err != nil {
			if !errors.Is(err, store.ErrConflict) {
				m.logger.Errorw("Assign failed", "match_id", match.MatchID, "error", err)
			}
			idle = append([]models.Referee{ref}, idle...)
			continue
		}
		m.busy[ref.RefereeID] = true
		matchesAssigned.Inc()
		m.logger.Infow("Match assigned",
			"match_id", match.MatchID,
			"round", round.RoundNumber,
			"referee_id", ref.RefereeID,
			"players", match.Players,
		)
		match.RefereeID = ref.RefereeID
		decided = append(decided, assignment{match: match, round: round, referee: ref})
	}
	return decided
}

// currentRound returns the lowest-numbered round with non-terminal matches,
// marking overtaken rounds COMPLETED along the way. done is true when every
// match in the league is terminal.
func (m *Manager) currentRound(ctx context.Context) (models.Round, bool, error) {
	rounds, err := m.store.ListRounds(ctx)
	if err != nil {
		return models.Round{}, false, err
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].RoundNumber < rounds[j].RoundNumber })

	for _, round := range rounds {
		matches, err := m.store.ListMatchesByRound(ctx, round.RoundID)
		if err != nil {
			return models.Round{}, false, err
		}
		open := false
		for _, match := range matches {
			if !models.MatchFinal(match.Status) {
				open = true
				break
			}
		}
		if !open {
			if round.Status != models.RoundCompleted {
				if err := m.store.SetRoundStatus(ctx, round.RoundID, models.RoundCompleted); err != nil {
					return models.Round{}, false, err
				}
			}
			continue
		}
		if round.Status == models.RoundPending {
			if err := m.store.SetRoundStatus(ctx, round.RoundID, models.RoundActive); err != nil {
				return models.Round{}, false, err
			}
			round.Status = models.RoundActive
		}
		return round, false, nil
	}
	return models.Round{}, true, nil
}

// idleReferees lists ACTIVE referees without an assignment in flight, sorted
// by id. Caller holds m.mu.
func (m *Manager) idleReferees(ctx context.Context) []models.Referee {
	referees, err := m.store.ListReferees(ctx)
	if err != nil {
		m.logger.Errorw("Assigner referee scan failed", "error", err)
		return nil
	}
	var idle []models.Referee
	for _, r := range referees {
		if r.Status == models.AgentActive && !m.busy[r.RefereeID] {
			idle = append(idle, r)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].RefereeID < idle[j].RefereeID })
	return idle
}

// deliverAssignment dials the referee with MATCH_ASSIGNMENT. On acceptance
// the match moves to IN_PROGRESS; on rejection or transport failure it
// returns to PENDING and, when the referee is unreachable or cannot run the
// game type, the referee is suspended so the assigner stops picking it.
func (m *Manager) deliverAssignment(ctx context.Context, a assignment) {
	players, err := m.store.ListPlayers(ctx)
	if err != nil {
		m.failDelivery(ctx, a, false, "player lookup failed")
		return
	}
	endpoints := make(map[string]string, 2)
	for _, p := range players {
		if a.match.HasPlayer(p.PlayerID) {
			endpoints[p.PlayerID] = p.Endpoint
		}
	}

	env := protocol.NewEnvelope(protocol.MsgMatchAssignment, protocol.SenderLeagueManager)
	env.AuthToken = a.referee.AuthToken
	env.LeagueID = m.leagueID
	env.RoundID = a.round.RoundID
	env.MatchID = a.match.MatchID
	env.GameType = a.match.GameType

	res, err := m.client.Call(ctx, a.referee.Endpoint, env, &protocol.MatchAssignment{
		Players:   a.match.Players[:],
		Endpoints: endpoints,
	})
	if err != nil {
		perr := protocol.AsError(err)
		suspend := perr.Code == protocol.CodeTransportTimeout || perr.Code == protocol.CodeUnsupportedGameType
		m.failDelivery(ctx, a, suspend, perr.Message)
		return
	}

	var ack protocol.MatchAssignmentAck
	if len(res.Payload) > 0 {
		if err := json.Unmarshal(res.Payload, &ack); err != nil {
			m.failDelivery(ctx, a, false, "malformed assignment ack")
			return
		}
	}
	if !ack.Accepted {
		m.failDelivery(ctx, a, false, ack.Reason)
		return
	}

	// The referee may have run the whole match and reported before this ack
	// path resumes; only an ASSIGNED match moves to IN_PROGRESS.
	m.mu.Lock()
	current, err := m.store.GetMatch(ctx, a.match.MatchID)
	if err == nil && current.Status == models.MatchAssigned {
		if err := m.store.SetMatchStatus(ctx, a.match.MatchID, models.MatchInProgress); err != nil {
			m.logger.Errorw("Failed to mark match in progress", "match_id", a.match.MatchID, "error", err)
		}
	}
	m.mu.Unlock()
	m.mirror.MatchStarted(a.match.MatchID)
	m.publishLive(ctx)
	m.logger.Infow("Match accepted", "match_id", a.match.MatchID, "referee_id", a.referee.RefereeID)
}

// failDelivery rolls an undeliverable assignment back to PENDING, frees the
// referee slot and optionally suspends the referee.
func (m *Manager) failDelivery(ctx context.Context, a assignment, suspend bool, reason string) {
	m.logger.Warnw("Assignment not delivered",
		"match_id", a.match.MatchID,
		"referee_id", a.referee.RefereeID,
		"suspend", suspend,
		"reason", reason,
	)
	m.mu.Lock()
	if current, err := m.store.GetMatch(ctx, a.match.MatchID); err == nil && !models.MatchFinal(current.Status) {
		if err := m.store.SetMatchStatus(ctx, a.match.MatchID, models.MatchPending); err != nil {
			m.logger.Errorw("Failed to reset match", "match_id", a.match.MatchID, "error", err)
		}
	}
	m.mu.Unlock()
	if suspend {
		if err := m.store.SetRefereeStatus(ctx, a.referee.RefereeID, models.AgentSuspended); err != nil {
			m.logger.Errorw("Failed to suspend referee", "referee_id", a.referee.RefereeID, "error", err)
		}
		refereesSuspended.Inc()
	}
	m.mu.Lock()
	delete(m.busy, a.referee.RefereeID)
	m.mu.Unlock()
	m.kickAssigner()
}

// reapStuck finalizes matches whose referee went silent after accepting. A
// match older than the stuck deadline becomes FAILED; its referee slot is
// freed so the rest of the schedule keeps moving.
func (m *Manager) reapStuck(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matches, err := m.store.ListMatches(ctx)
	if err != nil {
		return
	}
	cutoff := time.Now().UTC().Add(-m.cfg.MatchStuckAfter)
	for _, match := range matches {
		if match.Status != models.MatchAssigned && match.Status != models.MatchInProgress {
			continue
		}
		if match.AssignedAt == nil || match.AssignedAt.After(cutoff) {
			continue
		}
		m.logger.Warnw("Reaping stuck match",
			"match_id", match.MatchID,
			"referee_id", match.RefereeID,
			"assigned_at", match.AssignedAt,
		)
		if err := m.store.SetMatchStatus(ctx, match.MatchID, models.MatchFailed); err != nil {
			m.logger.Errorw("Failed to fail stuck match", "match_id", match.MatchID, "error", err)
			continue
		}
		matchesFailed.Inc()
		delete(m.busy, match.RefereeID)
		m.mirror.MatchFinished(match.MatchID)
	}
}

// completeLeague flips the league to COMPLETED once every match is terminal
// and writes the final overall snapshot.
func (m *Manager) completeLeague(ctx context.Context) {
	league, err := m.store.GetLeague(ctx)
	if err != nil || league.Status != models.LeagueActive {
		return
	}
	if err := m.store.UpdateLeagueStatus(ctx, m.leagueID, models.LeagueCompleted); err != nil {
		m.logger.Errorw("Failed to complete league", "error", err)
		return
	}
	if err := m.snapshotStandings(ctx, 0, ""); err != nil {
		m.logger.Errorw("Failed to snapshot final standings", "error", err)
	}
	m.logger.Infow("League completed", "league_id", m.leagueID)
	m.publishLive(ctx)
}
