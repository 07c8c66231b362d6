package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openleague/league-manager/internal/models"
)

func seedLeague(t *testing.T, m *Memory) *models.League {
	t.Helper()
	league := &models.League{
		LeagueID:  uuid.NewString(),
		Status:    models.LeagueRegistration,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.CreateLeague(context.Background(), league); err != nil {
		t.Fatalf("CreateLeague: %v", err)
	}
	return league
}

func seedSchedule(t *testing.T, m *Memory, leagueID string) (models.Round, models.Match) {
	t.Helper()
	round := models.Round{
		RoundID:     uuid.NewString(),
		LeagueID:    leagueID,
		RoundNumber: 1,
		Status:      models.RoundPending,
	}
	match := models.Match{
		MatchID:  uuid.NewString(),
		RoundID:  round.RoundID,
		GameType: "even_odd",
		Players:  [2]string{"alice", "bob"},
		Status:   models.MatchPending,
	}
	if err := m.CreateSchedule(context.Background(), []models.Round{round}, []models.Match{match}); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	return round, match
}

func TestMemory_LeagueSingleton(t *testing.T) {
	m := NewMemory()
	league := seedLeague(t, m)

	if err := m.CreateLeague(context.Background(), league); !errors.Is(err, ErrDuplicate) {
		t.Errorf("second CreateLeague = %v, want ErrDuplicate", err)
	}
	got, err := m.GetLeague(context.Background())
	if err != nil {
		t.Fatalf("GetLeague: %v", err)
	}
	if got.LeagueID != league.LeagueID {
		t.Errorf("LeagueID = %q, want %q", got.LeagueID, league.LeagueID)
	}
}

func TestMemory_RegistrationUniques(t *testing.T) {
	m := NewMemory()
	league := seedLeague(t, m)
	ctx := context.Background()

	ref := &models.Referee{
		RefereeID: "r1", LeagueID: league.LeagueID,
		AuthToken: uuid.NewString(), Endpoint: "http://localhost:9001",
		Status: models.AgentRegistered, RegisteredAt: time.Now(),
	}
	if err := m.InsertReferee(ctx, ref); err != nil {
		t.Fatalf("InsertReferee: %v", err)
	}
	if err := m.InsertReferee(ctx, ref); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate referee id = %v, want ErrDuplicate", err)
	}

	// Token uniqueness holds across agent kinds.
	p := &models.Player{
		PlayerID: "alice", LeagueID: league.LeagueID,
		AuthToken: ref.AuthToken, Endpoint: "http://localhost:9002",
		Status: models.AgentRegistered, RegisteredAt: time.Now(),
	}
	if err := m.InsertPlayer(ctx, p); !errors.Is(err, ErrDuplicate) {
		t.Errorf("reused token = %v, want ErrDuplicate", err)
	}
	p.AuthToken = uuid.NewString()
	if err := m.InsertPlayer(ctx, p); err != nil {
		t.Errorf("InsertPlayer with fresh token = %v", err)
	}
}

func TestMemory_AssignMatch(t *testing.T) {
	m := NewMemory()
	league := seedLeague(t, m)
	_, match := seedSchedule(t, m, league.LeagueID)
	ctx := context.Background()

	if err := m.AssignMatch(ctx, match.MatchID, "r1", time.Now()); err != nil {
		t.Fatalf("AssignMatch: %v", err)
	}
	got, _ := m.GetMatch(ctx, match.MatchID)
	if got.Status != models.MatchAssigned || got.RefereeID != "r1" || got.AssignedAt == nil {
		t.Errorf("after assign: %+v", got)
	}
	if err := m.AssignMatch(ctx, match.MatchID, "r2", time.Now()); !errors.Is(err, ErrConflict) {
		t.Errorf("double assign = %v, want ErrConflict", err)
	}
	if err := m.AssignMatch(ctx, uuid.NewString(), "r1", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("assign unknown match = %v, want ErrNotFound", err)
	}
}

func TestMemory_CompleteMatch_ExactlyOnce(t *testing.T) {
	m := NewMemory()
	league := seedLeague(t, m)
	_, match := seedSchedule(t, m, league.LeagueID)
	ctx := context.Background()

	result := &models.MatchResult{
		ResultID:   uuid.NewString(),
		MatchID:    match.MatchID,
		Outcome:    map[string]string{"alice": "win", "bob": "loss"},
		Points:     map[string]int{"alice": 3, "bob": 0},
		ReportedAt: time.Now(),
	}
	if err := m.CompleteMatch(ctx, result); err != nil {
		t.Fatalf("CompleteMatch: %v", err)
	}

	retry := &models.MatchResult{
		ResultID:   uuid.NewString(),
		MatchID:    match.MatchID,
		Outcome:    result.Outcome,
		Points:     result.Points,
		ReportedAt: time.Now(),
	}
	if err := m.CompleteMatch(ctx, retry); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("retry CompleteMatch = %v, want ErrDuplicate", err)
	}

	// Storage unchanged: original result_id survives.
	stored, err := m.GetResultByMatch(ctx, match.MatchID)
	if err != nil {
		t.Fatalf("GetResultByMatch: %v", err)
	}
	if stored.ResultID != result.ResultID {
		t.Errorf("stored ResultID = %q, want original %q", stored.ResultID, result.ResultID)
	}
	got, _ := m.GetMatch(ctx, match.MatchID)
	if got.Status != models.MatchCompleted {
		t.Errorf("match status = %s, want COMPLETED", got.Status)
	}
}

func TestMemory_ResultImmutable(t *testing.T) {
	m := NewMemory()
	league := seedLeague(t, m)
	_, match := seedSchedule(t, m, league.LeagueID)
	ctx := context.Background()

	result := &models.MatchResult{
		ResultID:   uuid.NewString(),
		MatchID:    match.MatchID,
		Outcome:    map[string]string{"alice": "draw", "bob": "draw"},
		Points:     map[string]int{"alice": 1, "bob": 1},
		ReportedAt: time.Now(),
	}
	if err := m.CompleteMatch(ctx, result); err != nil {
		t.Fatalf("CompleteMatch: %v", err)
	}

	// Mutating the caller's maps must not leak into storage.
	result.Points["alice"] = 99
	stored, _ := m.GetResultByMatch(ctx, match.MatchID)
	if stored.Points["alice"] != 1 {
		t.Errorf("stored points mutated: %d", stored.Points["alice"])
	}
}

func TestMemory_LatestSnapshot(t *testing.T) {
	m := NewMemory()
	league := seedLeague(t, m)
	round, _ := seedSchedule(t, m, league.LeagueID)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		snap := &models.StandingsSnapshot{
			SnapshotID: uuid.NewString(),
			LeagueID:   league.LeagueID,
			RoundID:    round.RoundID,
			ComputedAt: time.Now(),
		}
		rankings := []models.PlayerRanking{
			{SnapshotID: snap.SnapshotID, PlayerID: "alice", Rank: 1, Points: i},
		}
		if err := m.InsertSnapshot(ctx, snap, rankings); err != nil {
			t.Fatalf("InsertSnapshot: %v", err)
		}
	}

	snap, rankings, err := m.LatestSnapshot(ctx, round.RoundID)
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if rankings[0].Points != 2 {
		t.Errorf("latest snapshot points = %d, want 2", rankings[0].Points)
	}
	if snap.RoundID != round.RoundID {
		t.Errorf("RoundID = %q", snap.RoundID)
	}

	if n, _ := m.CountSnapshots(ctx, round.RoundID); n != 3 {
		t.Errorf("CountSnapshots = %d, want 3", n)
	}
	if _, _, err := m.LatestSnapshot(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("overall snapshot = %v, want ErrNotFound", err)
	}
}
