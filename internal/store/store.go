// Package store is the durable, transactional home of all league state.
// Upper layers see only the Store interface; the Postgres implementation is
// the production path and Memory mirrors its semantics for tests and
// single-box runs. The audit log owns message history; this store owns
// current state.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/openleague/league-manager/internal/models"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique constraint is violated
	// (registration ids, tokens, result match_id).
	ErrDuplicate = errors.New("store: duplicate")
	// ErrConflict is returned when a write presupposes a state the row is no
	// longer in (e.g. assigning a non-PENDING match).
	ErrConflict = errors.New("store: state conflict")
)

// Store is the repository contract for league state. Writes are serialized
// per league by the implementation; readers see committed snapshots.
type Store interface {
	// League lifecycle.
	CreateLeague(ctx context.Context, league *models.League) error
	GetLeague(ctx context.Context) (*models.League, error)
	UpdateLeagueStatus(ctx context.Context, leagueID string, status models.LeagueStatus) error

	// Registrations. Inserts fail with ErrDuplicate on reused ids or tokens.
	InsertReferee(ctx context.Context, ref *models.Referee) error
	InsertPlayer(ctx context.Context, p *models.Player) error
	GetReferee(ctx context.Context, refereeID string) (*models.Referee, error)
	GetPlayer(ctx context.Context, playerID string) (*models.Player, error)
	ListReferees(ctx context.Context) ([]models.Referee, error)
	ListPlayers(ctx context.Context) ([]models.Player, error)
	SetRefereeStatus(ctx context.Context, refereeID string, status models.AgentStatus) error
	SetPlayerStatus(ctx context.Context, playerID string, status models.AgentStatus) error

	// Schedule. CreateSchedule inserts all rounds and matches in one
	// transaction; a partially committed schedule never becomes visible.
	CreateSchedule(ctx context.Context, rounds []models.Round, matches []models.Match) error
	ListRounds(ctx context.Context) ([]models.Round, error)
	ListMatches(ctx context.Context) ([]models.Match, error)
	ListMatchesByRound(ctx context.Context, roundID string) ([]models.Match, error)
	GetMatch(ctx context.Context, matchID string) (*models.Match, error)
	AssignMatch(ctx context.Context, matchID, refereeID string, at time.Time) error
	SetMatchStatus(ctx context.Context, matchID string, status models.MatchStatus) error
	SetRoundStatus(ctx context.Context, roundID string, status models.RoundStatus) error

	// Results. CompleteMatch inserts the result and flips the match to
	// COMPLETED in one transaction; a second insert for the same match_id
	// returns ErrDuplicate and leaves storage unchanged.
	CompleteMatch(ctx context.Context, result *models.MatchResult) error
	GetResultByMatch(ctx context.Context, matchID string) (*models.MatchResult, error)
	ListResults(ctx context.Context) ([]models.MatchResult, error)

	// Standings snapshots are immutable; each recomputation inserts a new one.
	InsertSnapshot(ctx context.Context, snap *models.StandingsSnapshot, rankings []models.PlayerRanking) error
	LatestSnapshot(ctx context.Context, roundID string) (*models.StandingsSnapshot, []models.PlayerRanking, error)
	CountSnapshots(ctx context.Context, roundID string) (int, error)

	Ping(ctx context.Context) error
	Close()
}
