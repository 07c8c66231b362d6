package league

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/openleague/league-manager/internal/auth"
	"github.com/openleague/league-manager/internal/models"
	"github.com/openleague/league-manager/internal/protocol"
	"github.com/openleague/league-manager/internal/store"
)

// handleResult processes MATCH_RESULT_REPORT. The commit path is exactly-once:
// the first report for a match inserts the immutable result row and flips the
// match to COMPLETED in one transaction; every retry gets an ACK carrying the
// original result_id with duplicate set.
func (m *Manager) handleResult(ctx context.Context, env *protocol.Envelope, payload json.RawMessage) (*protocol.Envelope, interface{}, error) {
	identity, err := m.auth.VerifySender(env.AuthToken, env.Sender)
	if err != nil {
		return nil, nil, protocol.AsError(err).WithEnvelope(env)
	}
	if identity.AgentType != auth.AgentReferee {
		return nil, nil, protocol.Errorf(protocol.CodeAuthSenderMismatch,
			"only referees report results, got %s", identity.Sender()).WithEnvelope(env)
	}
	if perr := m.checkLeague(env); perr != nil {
		return nil, nil, perr
	}

	var report protocol.MatchResultReport
	if perr := m.decodePayload(payload, &report); perr != nil {
		return nil, nil, perr.WithEnvelope(env)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	match, err := m.store.GetMatch(ctx, env.MatchID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, protocol.Errorf(protocol.CodeValidationError,
			"unknown match %s", env.MatchID).WithEnvelope(env)
	} else if err != nil {
		return nil, nil, m.storeError(err)
	}

	if match.RefereeID != identity.AgentID {
		return nil, nil, protocol.Errorf(protocol.CodeAuthSenderMismatch,
			"match %s is not assigned to %s", match.MatchID, identity.Sender()).WithEnvelope(env)
	}

	// Retried reports for an already committed result are acknowledged, not
	// rejected; the referee cannot tell a lost ACK from a lost report.
	if existing, err := m.store.GetResultByMatch(ctx, match.MatchID); err == nil {
		resultsDuplicate.Inc()
		return m.resultAck(env, existing.ResultID, true)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, m.storeError(err)
	}

	switch match.Status {
	case models.MatchAssigned, models.MatchInProgress:
	case models.MatchFailed:
		return nil, nil, protocol.Errorf(protocol.CodeDuplicateResult,
			"match %s was already finalized as FAILED", match.MatchID).WithEnvelope(env)
	default:
		return nil, nil, protocol.Errorf(protocol.CodePreconditionFailed,
			"match %s is %s, not awaiting a result", match.MatchID, match.Status).WithEnvelope(env)
	}

	if perr := m.validateReport(match, &report); perr != nil {
		return nil, nil, perr.WithEnvelope(env)
	}

	result := &models.MatchResult{
		ResultID:     uuid.NewString(),
		MatchID:      match.MatchID,
		Outcome:      report.Outcome,
		Points:       report.Points,
		GameMetadata: report.GameMetadata,
		ReportedAt:   time.Now().UTC(),
	}
	if err := m.store.CompleteMatch(ctx, result); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			if existing, gerr := m.store.GetResultByMatch(ctx, match.MatchID); gerr == nil {
				resultsDuplicate.Inc()
				return m.resultAck(env, existing.ResultID, true)
			}
		}
		return nil, nil, m.storeError(err)
	}

	resultsAccepted.Inc()
	delete(m.busy, match.RefereeID)
	m.mirror.MatchFinished(match.MatchID)
	m.logger.Infow("Result committed",
		"match_id", match.MatchID,
		"result_id", result.ResultID,
		"outcome", report.Outcome,
	)

	m.afterResult(ctx, match)
	return m.resultAck(env, result.ResultID, false)
}

// validateReport checks the report's structure against the match and the
// scoring table: both scheduled players covered exactly, a legal outcome
// shape, and points matching the configured table for each outcome.
func (m *Manager) validateReport(match *models.Match, report *protocol.MatchResultReport) *protocol.Error {
	reported := map[string]bool{}
	for _, p := range report.Players {
		reported[p] = true
	}
	if len(reported) != 2 || !reported[match.Players[0]] || !reported[match.Players[1]] {
		return protocol.Errorf(protocol.CodeValidationError,
			"report players %v do not match scheduled players %v", report.Players, match.Players)
	}

	wins, draws := 0, 0
	for _, p := range match.Players {
		switch report.Outcome[p] {
		case protocol.OutcomeWin:
			wins++
		case protocol.OutcomeDraw:
			draws++
		case protocol.OutcomeLoss:
		default:
			return protocol.Errorf(protocol.CodeValidationError,
				"missing or invalid outcome for player %s", p)
		}
	}
	if len(report.Outcome) != 2 || !(wins == 1 && draws == 0 || wins == 0 && draws == 2) {
		return protocol.Errorf(protocol.CodeValidationError,
			"outcome must be one win and one loss, or two draws: %v", report.Outcome)
	}

	scoring := m.cfg.ScoringFor(match.GameType)
	table := map[string]int{
		protocol.OutcomeWin:  scoring.Win,
		protocol.OutcomeDraw: scoring.Draw,
		protocol.OutcomeLoss: scoring.Loss,
	}
	if len(report.Points) != 2 {
		return protocol.Errorf(protocol.CodeValidationError,
			"points must cover exactly the two players: %v", report.Points)
	}
	for _, p := range match.Players {
		want := table[report.Outcome[p]]
		if got, ok := report.Points[p]; !ok || got != want {
			return protocol.Errorf(protocol.CodeValidationError,
				"points for %s are %d, scoring table says %d", p, report.Points[p], want)
		}
	}
	return nil
}

// afterResult recomputes standings, closes the round if it just finished and
// nudges the assigner. Caller holds m.mu.
func (m *Manager) afterResult(ctx context.Context, match *models.Match) {
	rounds, err := m.store.ListRounds(ctx)
	if err != nil {
		m.logger.Errorw("Round lookup failed after result", "error", err)
		return
	}
	roundNumber := 0
	for _, r := range rounds {
		if r.RoundID == match.RoundID {
			roundNumber = r.RoundNumber
			break
		}
	}

	if err := m.snapshotStandings(ctx, roundNumber, match.RoundID); err != nil {
		m.logger.Errorw("Per-round standings snapshot failed", "error", err)
	}
	if err := m.snapshotStandings(ctx, 0, ""); err != nil {
		m.logger.Errorw("Overall standings snapshot failed", "error", err)
	}

	m.publishLive(ctx)
	m.kickAssigner()
}

func (m *Manager) resultAck(env *protocol.Envelope, resultID string, duplicate bool) (*protocol.Envelope, interface{}, error) {
	reply := env.Reply(protocol.MsgMatchResultReportAck, protocol.SenderLeagueManager)
	return reply, &protocol.MatchResultReportAck{ResultID: resultID, Duplicate: duplicate}, nil
}
