package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openleague/league-manager/internal/models"
)

// Memory is an in-process Store with the same constraint semantics as the
// Postgres implementation. It backs tests and STORE_DRIVER=memory runs.
type Memory struct {
	mu sync.RWMutex

	league   *models.League
	referees map[string]*models.Referee
	players  map[string]*models.Player
	tokens   map[string]struct{}

	rounds  []models.Round
	matches map[string]*models.Match

	results map[string]*models.MatchResult // keyed by match_id

	snapshots []snapshotRow
}

type snapshotRow struct {
	snap     models.StandingsSnapshot
	rankings []models.PlayerRanking
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		referees: make(map[string]*models.Referee),
		players:  make(map[string]*models.Player),
		tokens:   make(map[string]struct{}),
		matches:  make(map[string]*models.Match),
		results:  make(map[string]*models.MatchResult),
	}
}

func (m *Memory) CreateLeague(_ context.Context, league *models.League) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.league != nil {
		return ErrDuplicate
	}
	cp := *league
	m.league = &cp
	return nil
}

func (m *Memory) GetLeague(_ context.Context) (*models.League, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.league == nil {
		return nil, ErrNotFound
	}
	cp := *m.league
	return &cp, nil
}

func (m *Memory) UpdateLeagueStatus(_ context.Context, leagueID string, status models.LeagueStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.league == nil || m.league.LeagueID != leagueID {
		return ErrNotFound
	}
	m.league.Status = status
	return nil
}

func (m *Memory) InsertReferee(_ context.Context, ref *models.Referee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.referees[ref.RefereeID]; ok {
		return ErrDuplicate
	}
	if _, ok := m.tokens[ref.AuthToken]; ok {
		return ErrDuplicate
	}
	cp := *ref
	m.referees[ref.RefereeID] = &cp
	m.tokens[ref.AuthToken] = struct{}{}
	return nil
}

func (m *Memory) InsertPlayer(_ context.Context, p *models.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.players[p.PlayerID]; ok {
		return ErrDuplicate
	}
	if _, ok := m.tokens[p.AuthToken]; ok {
		return ErrDuplicate
	}
	cp := *p
	m.players[p.PlayerID] = &cp
	m.tokens[p.AuthToken] = struct{}{}
	return nil
}

func (m *Memory) GetReferee(_ context.Context, refereeID string) (*models.Referee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ref, ok := m.referees[refereeID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ref
	return &cp, nil
}

func (m *Memory) GetPlayer(_ context.Context, playerID string) (*models.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[playerID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ListReferees(_ context.Context) ([]models.Referee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Referee, 0, len(m.referees))
	for _, ref := range m.referees {
		out = append(out, *ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RefereeID < out[j].RefereeID })
	return out, nil
}

func (m *Memory) ListPlayers(_ context.Context) ([]models.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Player, 0, len(m.players))
	for _, p := range m.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

func (m *Memory) SetRefereeStatus(_ context.Context, refereeID string, status models.AgentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.referees[refereeID]
	if !ok {
		return ErrNotFound
	}
	ref.Status = status
	return nil
}

func (m *Memory) SetPlayerStatus(_ context.Context, playerID string, status models.AgentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[playerID]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	return nil
}

func (m *Memory) CreateSchedule(_ context.Context, rounds []models.Round, matches []models.Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rounds) > 0 {
		return ErrDuplicate
	}
	for _, mt := range matches {
		if _, ok := m.matches[mt.MatchID]; ok {
			return ErrDuplicate
		}
	}
	m.rounds = append(m.rounds, rounds...)
	for i := range matches {
		cp := matches[i]
		m.matches[cp.MatchID] = &cp
	}
	return nil
}

func (m *Memory) ListRounds(_ context.Context) ([]models.Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Round, len(m.rounds))
	copy(out, m.rounds)
	sort.Slice(out, func(i, j int) bool { return out[i].RoundNumber < out[j].RoundNumber })
	return out, nil
}

func (m *Memory) ListMatches(_ context.Context) ([]models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Match, 0, len(m.matches))
	for _, mt := range m.matches {
		out = append(out, *mt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out, nil
}

func (m *Memory) ListMatchesByRound(_ context.Context, roundID string) ([]models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Match
	for _, mt := range m.matches {
		if mt.RoundID == roundID {
			out = append(out, *mt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out, nil
}

func (m *Memory) GetMatch(_ context.Context, matchID string) (*models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.matches[matchID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *mt
	return &cp, nil
}

func (m *Memory) AssignMatch(_ context.Context, matchID, refereeID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	if mt.Status != models.MatchPending {
		return ErrConflict
	}
	mt.Status = models.MatchAssigned
	mt.RefereeID = refereeID
	mt.AssignedAt = &at
	return nil
}

func (m *Memory) SetMatchStatus(_ context.Context, matchID string, status models.MatchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	mt.Status = status
	return nil
}

func (m *Memory) SetRoundStatus(_ context.Context, roundID string, status models.RoundStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rounds {
		if m.rounds[i].RoundID == roundID {
			m.rounds[i].Status = status
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) CompleteMatch(_ context.Context, result *models.MatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[result.MatchID]; ok {
		return ErrDuplicate
	}
	mt, ok := m.matches[result.MatchID]
	if !ok {
		return ErrNotFound
	}
	cp := cloneResult(result)
	m.results[result.MatchID] = cp
	mt.Status = models.MatchCompleted
	return nil
}

func (m *Memory) GetResultByMatch(_ context.Context, matchID string) (*models.MatchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[matchID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneResult(r), nil
}

func (m *Memory) ListResults(_ context.Context) ([]models.MatchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.MatchResult, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, *cloneResult(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResultID < out[j].ResultID })
	return out, nil
}

func (m *Memory) InsertSnapshot(_ context.Context, snap *models.StandingsSnapshot, rankings []models.PlayerRanking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := snapshotRow{snap: *snap, rankings: make([]models.PlayerRanking, len(rankings))}
	copy(row.rankings, rankings)
	m.snapshots = append(m.snapshots, row)
	return nil
}

func (m *Memory) LatestSnapshot(_ context.Context, roundID string) (*models.StandingsSnapshot, []models.PlayerRanking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.snapshots) - 1; i >= 0; i-- {
		if m.snapshots[i].snap.RoundID == roundID {
			snap := m.snapshots[i].snap
			rankings := make([]models.PlayerRanking, len(m.snapshots[i].rankings))
			copy(rankings, m.snapshots[i].rankings)
			return &snap, rankings, nil
		}
	}
	return nil, nil, ErrNotFound
}

func (m *Memory) CountSnapshots(_ context.Context, roundID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.snapshots {
		if s.snap.RoundID == roundID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() {}

func cloneResult(r *models.MatchResult) *models.MatchResult {
	cp := *r
	cp.Outcome = make(map[string]string, len(r.Outcome))
	for k, v := range r.Outcome {
		cp.Outcome[k] = v
	}
	cp.Points = make(map[string]int, len(r.Points))
	for k, v := range r.Points {
		cp.Points[k] = v
	}
	return &cp
}
