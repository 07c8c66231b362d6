package league

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openleague/league-manager/internal/models"
)

// Mirror publishes live league state to Redis for dashboards and debugging.
// It is never authoritative: every write is fire-and-forget with a short
// deadline, and a nil Mirror disables the whole thing.
type Mirror struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

func NewMirror(client *redis.Client, logger *zap.Logger) *Mirror {
	return &Mirror{client: client, logger: logger.Sugar()}
}

func (m *Mirror) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}

// PublishLeague mirrors the league summary into the live_league hash.
func (m *Mirror) PublishLeague(live models.LiveLeague) {
	if m == nil || m.client == nil {
		return
	}
	ctx, cancel := m.ctx()
	defer cancel()
	data, _ := json.Marshal(live)
	if err := m.client.HSet(ctx, "live_league", live.LeagueID, data).Err(); err != nil {
		m.logger.Warnw("Failed to mirror league state", "error", err)
	}
}

// MatchStarted adds a match to the active set.
func (m *Mirror) MatchStarted(matchID string) {
	if m == nil || m.client == nil {
		return
	}
	ctx, cancel := m.ctx()
	defer cancel()
	if err := m.client.SAdd(ctx, "active_matches", matchID).Err(); err != nil {
		m.logger.Warnw("Failed to mirror match start", "match_id", matchID, "error", err)
	}
}

// MatchFinished removes a match from the active set.
func (m *Mirror) MatchFinished(matchID string) {
	if m == nil || m.client == nil {
		return
	}
	ctx, cancel := m.ctx()
	defer cancel()
	if err := m.client.SRem(ctx, "active_matches", matchID).Err(); err != nil {
		m.logger.Warnw("Failed to mirror match finish", "match_id", matchID, "error", err)
	}
}

// PublishStandings mirrors the latest snapshot rankings.
func (m *Mirror) PublishStandings(roundID string, rankings []models.PlayerRanking) {
	if m == nil || m.client == nil {
		return
	}
	ctx, cancel := m.ctx()
	defer cancel()
	key := "standings:latest"
	if roundID != "" {
		key = "standings:round:" + roundID
	}
	data, _ := json.Marshal(rankings)
	if err := m.client.Set(ctx, key, data, 0).Err(); err != nil {
		m.logger.Warnw("Failed to mirror standings", "error", err)
	}
}
