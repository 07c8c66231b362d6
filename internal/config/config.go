package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Scoring is the per-game-type points table. All entries must be non-negative;
// invalid tables are rejected at load, not at result time.
type Scoring struct {
	Win  int
	Draw int
	Loss int
}

// DefaultScoring is the table used when no per-game override is configured.
var DefaultScoring = Scoring{Win: 3, Draw: 1, Loss: 0}

type Config struct {
	// Server
	Port int
	Env  string

	// CORS (ops endpoints only; /mcp traffic is server-to-server)
	AllowedOrigins []string

	// Storage
	StoreDriver   string // "postgres" or "memory"
	PostgresURL   string
	RedisURL      string // empty disables the live mirror
	ClickHouseURL string // empty disables the ClickHouse audit sink
	AuditPath     string

	// Agent processes (referee, player)
	AgentID      string
	SelfEndpoint string
	LMURL        string

	// Registration
	RegistrationWindow time.Duration
	MinPlayers         int
	MinReferees        int

	// Scheduling
	GameType                  string
	ConcurrentMatchesPerRound bool
	AssignSweepInterval       time.Duration
	MatchStuckAfter           time.Duration

	// Timeouts
	RegistrationResponse time.Duration
	MatchJoinAck         time.Duration
	MoveResponse         time.Duration
	ResultReport         time.Duration

	// Retries
	RetryMaxAttempts int
	RetryBackoff     time.Duration

	// Scoring overrides keyed by game type; DefaultScoring applies otherwise.
	Scoring map[string]Scoring
}

// Load loads configuration from environment variables.
// It returns an error if critical configuration is missing or malformed.
func Load() (*Config, error) {
	cfg := &Config{
		Port: getEnvInt("PORT", 8080),
		Env:  getEnv("ENV", "development"),

		StoreDriver:   getEnv("STORE_DRIVER", "postgres"),
		RedisURL:      getEnv("REDIS_URL", ""),
		ClickHouseURL: getEnv("CLICKHOUSE_URL", ""),
		AuditPath:     getEnv("AUDIT_PATH", "audit.jsonl"),

		AgentID:      getEnv("AGENT_ID", ""),
		SelfEndpoint: getEnv("SELF_ENDPOINT", ""),
		LMURL:        getEnv("LM_URL", "http://localhost:8080"),

		RegistrationWindow: getEnvDuration("REGISTRATION_WINDOW", 5*time.Minute),
		MinPlayers:         getEnvInt("MIN_PLAYERS", 2),
		MinReferees:        getEnvInt("MIN_REFEREES", 1),

		GameType:                  getEnv("GAME_TYPE", "even_odd"),
		ConcurrentMatchesPerRound: getEnvBool("CONCURRENT_MATCHES_PER_ROUND", false),
		AssignSweepInterval:       getEnvDuration("ASSIGN_SWEEP_INTERVAL", 5*time.Second),
		MatchStuckAfter:           getEnvDuration("MATCH_STUCK_AFTER", 10*time.Minute),

		RegistrationResponse: getEnvDuration("REGISTRATION_RESPONSE_TIMEOUT", 5*time.Second),
		MatchJoinAck:         getEnvDuration("MATCH_JOIN_ACK_TIMEOUT", 10*time.Second),
		MoveResponse:         getEnvDuration("MOVE_RESPONSE_TIMEOUT", 30*time.Second),
		ResultReport:         getEnvDuration("RESULT_REPORT_TIMEOUT", 10*time.Second),

		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBackoff:     getEnvDuration("RETRY_BACKOFF", 500*time.Millisecond),
	}

	// CORS
	origins := getEnv("ALLOWED_ORIGINS", "http://localhost:3000")
	for _, o := range strings.Split(origins, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
		}
	}

	switch cfg.StoreDriver {
	case "memory":
	case "postgres":
		var err error
		if cfg.PostgresURL, err = getEnvRequired("POSTGRES_URL"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	scoring, err := loadScoring()
	if err != nil {
		return nil, err
	}
	cfg.Scoring = scoring

	return cfg, nil
}

// ScoringFor returns the points table for a game type, falling back to the
// default table.
func (c *Config) ScoringFor(gameType string) Scoring {
	if s, ok := c.Scoring[gameType]; ok {
		return s
	}
	return DefaultScoring
}

// loadScoring parses SCORING_<GAMETYPE>="win,draw,loss" overrides. Any
// negative or non-integer entry rejects the whole table.
func loadScoring() (map[string]Scoring, error) {
	tables := make(map[string]Scoring)
	for _, kv := range os.Environ() {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key, value := kv[:eq], kv[eq+1:]
		if !strings.HasPrefix(key, "SCORING_") {
			continue
		}
		gameType := strings.ToLower(strings.TrimPrefix(key, "SCORING_"))
		s, err := ParseScoring(value)
		if err != nil {
			return nil, fmt.Errorf("invalid scoring table %s: %w", key, err)
		}
		tables[gameType] = s
	}
	return tables, nil
}

// ParseScoring parses a "win,draw,loss" triple of non-negative integers.
func ParseScoring(value string) (Scoring, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 3 {
		return Scoring{}, fmt.Errorf("want 3 comma-separated values, got %d", len(parts))
	}
	vals := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Scoring{}, fmt.Errorf("entry %q is not an integer", p)
		}
		if n < 0 {
			return Scoring{}, fmt.Errorf("entry %d is negative", n)
		}
		vals[i] = n
	}
	return Scoring{Win: vals[0], Draw: vals[1], Loss: vals[2]}, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvRequired(key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("missing required environment variable: %s", key)
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
