package models

import (
	"encoding/json"
	"time"
)

// LeagueStatus is the league lifecycle state. Transitions are forward-only:
// INIT → REGISTRATION → SCHEDULING → ACTIVE → COMPLETED.
type LeagueStatus string

const (
	LeagueInit         LeagueStatus = "INIT"
	LeagueRegistration LeagueStatus = "REGISTRATION"
	LeagueScheduling   LeagueStatus = "SCHEDULING"
	LeagueActive       LeagueStatus = "ACTIVE"
	LeagueCompleted    LeagueStatus = "COMPLETED"
)

// AgentStatus is the registration sub-state for referees and players. An
// agent is promoted to ACTIVE only by an explicit AGENT_READY_REQUEST.
type AgentStatus string

const (
	AgentRegistered AgentStatus = "REGISTERED"
	AgentActive     AgentStatus = "ACTIVE"
	AgentSuspended  AgentStatus = "SUSPENDED"
	AgentShutdown   AgentStatus = "SHUTDOWN"
)

// RoundStatus tracks a schedule round.
type RoundStatus string

const (
	RoundPending   RoundStatus = "PENDING"
	RoundActive    RoundStatus = "ACTIVE"
	RoundCompleted RoundStatus = "COMPLETED"
)

// MatchStatus tracks one scheduled match.
type MatchStatus string

const (
	MatchPending    MatchStatus = "PENDING"
	MatchAssigned   MatchStatus = "ASSIGNED"
	MatchInProgress MatchStatus = "IN_PROGRESS"
	MatchCompleted  MatchStatus = "COMPLETED"
	MatchFailed     MatchStatus = "FAILED"
)

// MatchFinal reports whether s is a terminal match status.
func MatchFinal(s MatchStatus) bool {
	return s == MatchCompleted || s == MatchFailed
}

// League is the singleton tournament instance owned by one LM process.
type League struct {
	LeagueID  string          `json:"league_id"`
	Status    LeagueStatus    `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// Referee is one referee registration row.
type Referee struct {
	RefereeID    string      `json:"referee_id"`
	LeagueID     string      `json:"league_id"`
	AuthToken    string      `json:"-"`
	Endpoint     string      `json:"endpoint"`
	Status       AgentStatus `json:"status"`
	RegisteredAt time.Time   `json:"registered_at"`
}

// Player is one player registration row.
type Player struct {
	PlayerID     string      `json:"player_id"`
	LeagueID     string      `json:"league_id"`
	AuthToken    string      `json:"-"`
	Endpoint     string      `json:"endpoint"`
	Status       AgentStatus `json:"status"`
	RegisteredAt time.Time   `json:"registered_at"`
}

// Round groups the matches that may run concurrently; player sets within a
// round are disjoint.
type Round struct {
	RoundID     string      `json:"round_id"`
	LeagueID    string      `json:"league_id"`
	RoundNumber int         `json:"round_number"`
	Status      RoundStatus `json:"status"`
}

// Match is one scheduled game between two players.
type Match struct {
	MatchID    string      `json:"match_id"`
	RoundID    string      `json:"round_id"`
	RefereeID  string      `json:"referee_id,omitempty"`
	GameType   string      `json:"game_type"`
	Players    [2]string   `json:"players"`
	Status     MatchStatus `json:"status"`
	AssignedAt *time.Time  `json:"assigned_at,omitempty"`
}

// HasPlayer reports whether id is one of the match's two players.
func (m *Match) HasPlayer(id string) bool {
	return m.Players[0] == id || m.Players[1] == id
}

// Opponent returns the other player of the match.
func (m *Match) Opponent(id string) string {
	if m.Players[0] == id {
		return m.Players[1]
	}
	return m.Players[0]
}

// MatchResult is the immutable, exactly-once outcome row for a match.
type MatchResult struct {
	ResultID     string            `json:"result_id"`
	MatchID      string            `json:"match_id"`
	Outcome      map[string]string `json:"outcome"`
	Points       map[string]int    `json:"points"`
	GameMetadata json.RawMessage   `json:"game_metadata,omitempty"`
	ReportedAt   time.Time         `json:"reported_at"`
}

// StandingsSnapshot is an immutable standings record. RoundID is empty for
// the overall snapshot.
type StandingsSnapshot struct {
	SnapshotID string    `json:"snapshot_id"`
	LeagueID   string    `json:"league_id"`
	RoundID    string    `json:"round_id,omitempty"`
	ComputedAt time.Time `json:"computed_at"`
}

// PlayerRanking is one row of a snapshot. Ranks are dense from 1; the
// trailing tie-break is player_id ascending.
type PlayerRanking struct {
	SnapshotID    string `json:"snapshot_id"`
	PlayerID      string `json:"player_id"`
	Rank          int    `json:"rank"`
	Points        int    `json:"points"`
	Wins          int    `json:"wins"`
	Draws         int    `json:"draws"`
	Losses        int    `json:"losses"`
	MatchesPlayed int    `json:"matches_played"`
}

// LiveLeague is the operational mirror written to Redis; never authoritative.
type LiveLeague struct {
	LeagueID      string       `json:"league_id"`
	Status        LeagueStatus `json:"status"`
	Referees      int          `json:"referees"`
	Players       int          `json:"players"`
	ActiveMatches int          `json:"active_matches"`
	UpdatedAt     time.Time    `json:"updated_at"`
}
