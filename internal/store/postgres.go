package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openleague/league-manager/internal/models"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, applies the schema, and returns the store.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Postgres{pool: pool}, nil
}

// mapErr translates driver errors into the store's sentinel errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (s *Postgres) CreateLeague(ctx context.Context, league *models.League) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leagues (league_id, status, created_at, config)
		VALUES ($1, $2, $3, $4)
	`, league.LeagueID, league.Status, league.CreatedAt, league.Config)
	return mapErr(err)
}

func (s *Postgres) GetLeague(ctx context.Context) (*models.League, error) {
	var l models.League
	err := s.pool.QueryRow(ctx, `
		SELECT league_id, status, created_at, COALESCE(config, 'null'::jsonb)
		FROM leagues ORDER BY created_at DESC LIMIT 1
	`).Scan(&l.LeagueID, &l.Status, &l.CreatedAt, &l.Config)
	if err != nil {
		return nil, mapErr(err)
	}
	return &l, nil
}

func (s *Postgres) UpdateLeagueStatus(ctx context.Context, leagueID string, status models.LeagueStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leagues SET status = $2 WHERE league_id = $1`, leagueID, status)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) InsertReferee(ctx context.Context, ref *models.Referee) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO referees (referee_id, league_id, auth_token, endpoint, status, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ref.RefereeID, ref.LeagueID, ref.AuthToken, ref.Endpoint, ref.Status, ref.RegisteredAt)
	return mapErr(err)
}

func (s *Postgres) InsertPlayer(ctx context.Context, p *models.Player) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO players (player_id, league_id, auth_token, endpoint, status, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.PlayerID, p.LeagueID, p.AuthToken, p.Endpoint, p.Status, p.RegisteredAt)
	return mapErr(err)
}

func (s *Postgres) GetReferee(ctx context.Context, refereeID string) (*models.Referee, error) {
	var ref models.Referee
	err := s.pool.QueryRow(ctx, `
		SELECT referee_id, league_id, auth_token, endpoint, status, registered_at
		FROM referees WHERE referee_id = $1
	`, refereeID).Scan(&ref.RefereeID, &ref.LeagueID, &ref.AuthToken, &ref.Endpoint, &ref.Status, &ref.RegisteredAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &ref, nil
}

func (s *Postgres) GetPlayer(ctx context.Context, playerID string) (*models.Player, error) {
	var p models.Player
	err := s.pool.QueryRow(ctx, `
		SELECT player_id, league_id, auth_token, endpoint, status, registered_at
		FROM players WHERE player_id = $1
	`, playerID).Scan(&p.PlayerID, &p.LeagueID, &p.AuthToken, &p.Endpoint, &p.Status, &p.RegisteredAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (s *Postgres) ListReferees(ctx context.Context) ([]models.Referee, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT referee_id, league_id, auth_token, endpoint, status, registered_at
		FROM referees ORDER BY referee_id
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []models.Referee
	for rows.Next() {
		var ref models.Referee
		if err := rows.Scan(&ref.RefereeID, &ref.LeagueID, &ref.AuthToken, &ref.Endpoint, &ref.Status, &ref.RegisteredAt); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (s *Postgres) ListPlayers(ctx context.Context) ([]models.Player, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT player_id, league_id, auth_token, endpoint, status, registered_at
		FROM players ORDER BY player_id
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []models.Player
	for rows.Next() {
		var p models.Player
		if err := rows.Scan(&p.PlayerID, &p.LeagueID, &p.AuthToken, &p.Endpoint, &p.Status, &p.RegisteredAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) SetRefereeStatus(ctx context.Context, refereeID string, status models.AgentStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE referees SET status = $2 WHERE referee_id = $1`, refereeID, status)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) SetPlayerStatus(ctx context.Context, playerID string, status models.AgentStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE players SET status = $2 WHERE player_id = $1`, playerID, status)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) CreateSchedule(ctx context.Context, rounds []models.Round, matches []models.Match) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	for _, r := range rounds {
		if _, err := tx.Exec(ctx, `
			INSERT INTO rounds (round_id, league_id, round_number, status)
			VALUES ($1, $2, $3, $4)
		`, r.RoundID, r.LeagueID, r.RoundNumber, r.Status); err != nil {
			return mapErr(err)
		}
	}
	for _, m := range matches {
		if _, err := tx.Exec(ctx, `
			INSERT INTO matches (match_id, round_id, game_type, player_a, player_b, status)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, m.MatchID, m.RoundID, m.GameType, m.Players[0], m.Players[1], m.Status); err != nil {
			return mapErr(err)
		}
	}
	return mapErr(tx.Commit(ctx))
}

const matchColumns = `match_id, round_id, COALESCE(referee_id, ''), game_type, player_a, player_b, status, assigned_at`

func scanMatch(row pgx.Row) (*models.Match, error) {
	var m models.Match
	if err := row.Scan(&m.MatchID, &m.RoundID, &m.RefereeID, &m.GameType,
		&m.Players[0], &m.Players[1], &m.Status, &m.AssignedAt); err != nil {
		return nil, mapErr(err)
	}
	return &m, nil
}

func (s *Postgres) ListRounds(ctx context.Context) ([]models.Round, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT round_id, league_id, round_number, status FROM rounds ORDER BY round_number
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []models.Round
	for rows.Next() {
		var r models.Round
		if err := rows.Scan(&r.RoundID, &r.LeagueID, &r.RoundNumber, &r.Status); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) ListMatches(ctx context.Context) ([]models.Match, error) {
	return s.queryMatches(ctx, `SELECT `+matchColumns+` FROM matches ORDER BY match_id`)
}

func (s *Postgres) ListMatchesByRound(ctx context.Context, roundID string) ([]models.Match, error) {
	return s.queryMatches(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE round_id = $1 ORDER BY match_id`, roundID)
}

func (s *Postgres) queryMatches(ctx context.Context, sql string, args ...any) ([]models.Match, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *Postgres) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	return scanMatch(s.pool.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE match_id = $1`, matchID))
}

func (s *Postgres) AssignMatch(ctx context.Context, matchID, refereeID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE matches SET status = 'ASSIGNED', referee_id = $2, assigned_at = $3
		WHERE match_id = $1 AND status = 'PENDING'
	`, matchID, refereeID, at)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already past PENDING.
		if _, gerr := s.GetMatch(ctx, matchID); gerr != nil {
			return gerr
		}
		return ErrConflict
	}
	return nil
}

func (s *Postgres) SetMatchStatus(ctx context.Context, matchID string, status models.MatchStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE matches SET status = $2 WHERE match_id = $1`, matchID, status)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) SetRoundStatus(ctx context.Context, roundID string, status models.RoundStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rounds SET status = $2 WHERE round_id = $1`, roundID, status)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) CompleteMatch(ctx context.Context, result *models.MatchResult) error {
	outcome, err := json.Marshal(result.Outcome)
	if err != nil {
		return err
	}
	points, err := json.Marshal(result.Points)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO match_results (result_id, match_id, outcome, points, game_metadata, reported_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, result.ResultID, result.MatchID, outcome, points, result.GameMetadata, result.ReportedAt); err != nil {
		return mapErr(err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE matches SET status = 'COMPLETED' WHERE match_id = $1`, result.MatchID); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit(ctx))
}

func (s *Postgres) GetResultByMatch(ctx context.Context, matchID string) (*models.MatchResult, error) {
	var r models.MatchResult
	var outcome, points []byte
	err := s.pool.QueryRow(ctx, `
		SELECT result_id, match_id, outcome, points, COALESCE(game_metadata, 'null'::jsonb), reported_at
		FROM match_results WHERE match_id = $1
	`, matchID).Scan(&r.ResultID, &r.MatchID, &outcome, &points, &r.GameMetadata, &r.ReportedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(outcome, &r.Outcome); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(points, &r.Points); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Postgres) ListResults(ctx context.Context) ([]models.MatchResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT result_id, match_id, outcome, points, COALESCE(game_metadata, 'null'::jsonb), reported_at
		FROM match_results ORDER BY reported_at
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []models.MatchResult
	for rows.Next() {
		var r models.MatchResult
		var outcome, points []byte
		if err := rows.Scan(&r.ResultID, &r.MatchID, &outcome, &points, &r.GameMetadata, &r.ReportedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(outcome, &r.Outcome); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(points, &r.Points); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) InsertSnapshot(ctx context.Context, snap *models.StandingsSnapshot, rankings []models.PlayerRanking) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	var roundID any
	if snap.RoundID != "" {
		roundID = snap.RoundID
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO standings_snapshots (snapshot_id, league_id, round_id, computed_at)
		VALUES ($1, $2, $3, $4)
	`, snap.SnapshotID, snap.LeagueID, roundID, snap.ComputedAt); err != nil {
		return mapErr(err)
	}
	for _, r := range rankings {
		if _, err := tx.Exec(ctx, `
			INSERT INTO player_rankings (snapshot_id, player_id, rank, points, wins, draws, losses, matches_played)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, snap.SnapshotID, r.PlayerID, r.Rank, r.Points, r.Wins, r.Draws, r.Losses, r.MatchesPlayed); err != nil {
			return mapErr(err)
		}
	}
	return mapErr(tx.Commit(ctx))
}

func (s *Postgres) LatestSnapshot(ctx context.Context, roundID string) (*models.StandingsSnapshot, []models.PlayerRanking, error) {
	var snap models.StandingsSnapshot
	var cond string
	args := []any{}
	if roundID == "" {
		cond = "round_id IS NULL"
	} else {
		cond = "round_id = $1"
		args = append(args, roundID)
	}
	var round *string
	err := s.pool.QueryRow(ctx, `
		SELECT snapshot_id, league_id, round_id, computed_at
		FROM standings_snapshots WHERE `+cond+`
		ORDER BY computed_at DESC LIMIT 1
	`, args...).Scan(&snap.SnapshotID, &snap.LeagueID, &round, &snap.ComputedAt)
	if err != nil {
		return nil, nil, mapErr(err)
	}
	if round != nil {
		snap.RoundID = *round
	}

	rows, err := s.pool.Query(ctx, `
		SELECT snapshot_id, player_id, rank, points, wins, draws, losses, matches_played
		FROM player_rankings WHERE snapshot_id = $1 ORDER BY rank, player_id
	`, snap.SnapshotID)
	if err != nil {
		return nil, nil, mapErr(err)
	}
	defer rows.Close()

	var rankings []models.PlayerRanking
	for rows.Next() {
		var r models.PlayerRanking
		if err := rows.Scan(&r.SnapshotID, &r.PlayerID, &r.Rank, &r.Points, &r.Wins, &r.Draws, &r.Losses, &r.MatchesPlayed); err != nil {
			return nil, nil, err
		}
		rankings = append(rankings, r)
	}
	return &snap, rankings, rows.Err()
}

func (s *Postgres) CountSnapshots(ctx context.Context, roundID string) (int, error) {
	var cond string
	args := []any{}
	if roundID == "" {
		cond = "round_id IS NULL"
	} else {
		cond = "round_id = $1"
		args = append(args, roundID)
	}
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM standings_snapshots WHERE `+cond, args...).Scan(&n)
	return n, mapErr(err)
}

func (s *Postgres) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Postgres) Close() { s.pool.Close() }
