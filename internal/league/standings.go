package league

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/openleague/league-manager/internal/models"
	"github.com/openleague/league-manager/internal/protocol"
	"github.com/openleague/league-manager/internal/store"
)

// computeStandings aggregates committed results into ranked rows. A zero
// throughRound means the overall table; otherwise only results from rounds
// numbered at or below throughRound count. Sort order is points, wins and
// draws descending with player_id ascending as the deterministic tie-break;
// ranks are the positions 1..K of that total order, so players tied on the
// scoring key still get distinct ranks.
func (m *Manager) computeStandings(ctx context.Context, throughRound int) ([]models.PlayerRanking, error) {
	players, err := m.store.ListPlayers(ctx)
	if err != nil {
		return nil, err
	}
	rounds, err := m.store.ListRounds(ctx)
	if err != nil {
		return nil, err
	}
	matches, err := m.store.ListMatches(ctx)
	if err != nil {
		return nil, err
	}
	results, err := m.store.ListResults(ctx)
	if err != nil {
		return nil, err
	}

	roundNumber := make(map[string]int, len(rounds))
	for _, r := range rounds {
		roundNumber[r.RoundID] = r.RoundNumber
	}
	matchRound := make(map[string]int, len(matches))
	for _, match := range matches {
		matchRound[match.MatchID] = roundNumber[match.RoundID]
	}

	rows := make(map[string]*models.PlayerRanking, len(players))
	for _, p := range players {
		rows[p.PlayerID] = &models.PlayerRanking{PlayerID: p.PlayerID}
	}

	for _, res := range results {
		if throughRound > 0 && matchRound[res.MatchID] > throughRound {
			continue
		}
		for playerID, outcome := range res.Outcome {
			row, ok := rows[playerID]
			if !ok {
				continue
			}
			row.MatchesPlayed++
			row.Points += res.Points[playerID]
			switch outcome {
			case protocol.OutcomeWin:
				row.Wins++
			case protocol.OutcomeDraw:
				row.Draws++
			case protocol.OutcomeLoss:
				row.Losses++
			}
		}
	}

	ranked := make([]models.PlayerRanking, 0, len(rows))
	for _, row := range rows {
		ranked = append(ranked, *row)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		if a.Draws != b.Draws {
			return a.Draws > b.Draws
		}
		return a.PlayerID < b.PlayerID
	})

	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked, nil
}

// snapshotStandings computes and persists an immutable snapshot. roundID is
// empty for the overall table. Caller holds m.mu.
func (m *Manager) snapshotStandings(ctx context.Context, throughRound int, roundID string) error {
	ranked, err := m.computeStandings(ctx, throughRound)
	if err != nil {
		return err
	}
	snap := &models.StandingsSnapshot{
		SnapshotID: uuid.NewString(),
		LeagueID:   m.leagueID,
		RoundID:    roundID,
		ComputedAt: time.Now().UTC(),
	}
	for i := range ranked {
		ranked[i].SnapshotID = snap.SnapshotID
	}
	if err := m.store.InsertSnapshot(ctx, snap, ranked); err != nil {
		return err
	}
	if roundID == "" {
		m.mirror.PublishStandings("", ranked)
	}
	return nil
}

// queryStandings handles QUERY_STANDINGS from any authenticated agent. With
// round_id set it serves that round's latest snapshot; otherwise the latest
// overall snapshot. Before any result has been committed there is no snapshot
// yet, so an all-zero table is computed on the fly and not persisted.
func (m *Manager) queryStandings(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, interface{}, error) {
	if _, err := m.auth.VerifySender(env.AuthToken, env.Sender); err != nil {
		return nil, nil, protocol.AsError(err).WithEnvelope(env)
	}
	if perr := m.checkLeague(env); perr != nil {
		return nil, nil, perr
	}

	throughRound := 0
	if env.RoundID != "" {
		rounds, err := m.store.ListRounds(ctx)
		if err != nil {
			return nil, nil, m.storeError(err)
		}
		found := false
		for _, r := range rounds {
			if r.RoundID == env.RoundID {
				throughRound = r.RoundNumber
				found = true
				break
			}
		}
		if !found {
			return nil, nil, protocol.Errorf(protocol.CodeValidationError,
				"unknown round %s", env.RoundID).WithEnvelope(env)
		}
	}

	var (
		rankings   []models.PlayerRanking
		computedAt time.Time
	)
	snap, rows, err := m.store.LatestSnapshot(ctx, env.RoundID)
	switch {
	case err == nil:
		rankings, computedAt = rows, snap.ComputedAt
	case errors.Is(err, store.ErrNotFound):
		m.mu.Lock()
		rankings, err = m.computeStandings(ctx, throughRound)
		m.mu.Unlock()
		if err != nil {
			return nil, nil, m.storeError(err)
		}
		computedAt = time.Now().UTC()
	default:
		return nil, nil, m.storeError(err)
	}

	entries := make([]protocol.StandingsEntry, 0, len(rankings))
	for _, row := range rankings {
		entries = append(entries, protocol.StandingsEntry{
			Rank:          row.Rank,
			PlayerID:      row.PlayerID,
			Points:        row.Points,
			Wins:          row.Wins,
			Draws:         row.Draws,
			Losses:        row.Losses,
			MatchesPlayed: row.MatchesPlayed,
		})
	}

	reply := env.Reply(protocol.MsgStandingsResponse, protocol.SenderLeagueManager)
	reply.LeagueID = m.leagueID
	return reply, &protocol.StandingsResponse{
		RoundID:   env.RoundID,
		UpdatedAt: computedAt.Format(time.RFC3339Nano),
		Standings: entries,
	}, nil
}
