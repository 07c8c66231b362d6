package store

// schema is applied at startup; statements are idempotent so restarts are
// safe. Status enums are enforced with CHECK constraints, exactly-once
// result semantics with UNIQUE(match_id).
var schema = []string{
	`CREATE TABLE IF NOT EXISTS leagues (
		league_id  UUID PRIMARY KEY,
		status     TEXT NOT NULL CHECK (status IN ('INIT','REGISTRATION','SCHEDULING','ACTIVE','COMPLETED')),
		created_at TIMESTAMPTZ NOT NULL,
		config     JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS referees (
		referee_id    TEXT PRIMARY KEY,
		league_id     UUID NOT NULL REFERENCES leagues(league_id),
		auth_token    UUID NOT NULL UNIQUE,
		endpoint      TEXT NOT NULL,
		status        TEXT NOT NULL CHECK (status IN ('REGISTERED','ACTIVE','SUSPENDED','SHUTDOWN')),
		registered_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS players (
		player_id     TEXT PRIMARY KEY,
		league_id     UUID NOT NULL REFERENCES leagues(league_id),
		auth_token    UUID NOT NULL UNIQUE,
		endpoint      TEXT NOT NULL,
		status        TEXT NOT NULL CHECK (status IN ('REGISTERED','ACTIVE','SUSPENDED','SHUTDOWN')),
		registered_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rounds (
		round_id     UUID PRIMARY KEY,
		league_id    UUID NOT NULL REFERENCES leagues(league_id),
		round_number INT NOT NULL CHECK (round_number >= 1),
		status       TEXT NOT NULL CHECK (status IN ('PENDING','ACTIVE','COMPLETED')),
		UNIQUE (league_id, round_number)
	)`,
	`CREATE TABLE IF NOT EXISTS matches (
		match_id    UUID PRIMARY KEY,
		round_id    UUID NOT NULL REFERENCES rounds(round_id),
		referee_id  TEXT REFERENCES referees(referee_id),
		game_type   TEXT NOT NULL,
		player_a    TEXT NOT NULL,
		player_b    TEXT NOT NULL CHECK (player_b <> player_a),
		status      TEXT NOT NULL CHECK (status IN ('PENDING','ASSIGNED','IN_PROGRESS','COMPLETED','FAILED')),
		assigned_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS match_results (
		result_id     UUID PRIMARY KEY,
		match_id      UUID NOT NULL UNIQUE REFERENCES matches(match_id),
		outcome       JSONB NOT NULL,
		points        JSONB NOT NULL,
		game_metadata JSONB,
		reported_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS standings_snapshots (
		snapshot_id UUID PRIMARY KEY,
		league_id   UUID NOT NULL REFERENCES leagues(league_id),
		round_id    UUID REFERENCES rounds(round_id),
		computed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS player_rankings (
		snapshot_id    UUID NOT NULL REFERENCES standings_snapshots(snapshot_id),
		player_id      TEXT NOT NULL,
		rank           INT NOT NULL CHECK (rank >= 1),
		points         INT NOT NULL CHECK (points >= 0),
		wins           INT NOT NULL,
		draws          INT NOT NULL,
		losses         INT NOT NULL,
		matches_played INT NOT NULL,
		PRIMARY KEY (snapshot_id, player_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_round ON matches(round_id)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_round ON standings_snapshots(league_id, round_id, computed_at DESC)`,
}
