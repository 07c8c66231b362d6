package protocol

import "encoding/json"

// Payload structs for the message catalog. Opaque fields (step_context,
// move_payload, game_metadata, final_state) stay json.RawMessage end to end;
// the coordination layer never inspects them.

type RegisterRefereeRequest struct {
	RefereeID string `json:"referee_id" validate:"required,max=128"`
	Endpoint  string `json:"endpoint" validate:"required,url"`
}

type RegisterPlayerRequest struct {
	PlayerID string `json:"player_id" validate:"required,max=128"`
	Endpoint string `json:"endpoint" validate:"required,url"`
}

type RegisterResponse struct {
	Status    string `json:"status"`
	AuthToken string `json:"auth_token"`
	LeagueID  string `json:"league_id"`
}

type AgentReadyResponse struct {
	Status string `json:"status"`
}

type AdminStartLeagueResponse struct {
	LeagueStatus string `json:"league_status"`
}

// MatchAssignment carries the pairing plus the callback endpoints the referee
// needs to dial both players.
type MatchAssignment struct {
	Players   []string          `json:"players" validate:"required,len=2"`
	Endpoints map[string]string `json:"endpoints" validate:"required"`
}

type MatchAssignmentAck struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type GameInvitation struct {
	Players []string `json:"players" validate:"required,len=2"`
}

type GameJoinAck struct{}

type RequestMove struct {
	StepNumber  int             `json:"step_number"`
	StepContext json.RawMessage `json:"step_context"`
}

type MoveResponse struct {
	MovePayload json.RawMessage `json:"move_payload" validate:"required"`
}

type GameOver struct {
	Outcome    map[string]string `json:"outcome"`
	FinalState json.RawMessage   `json:"final_state,omitempty"`
}

type MatchResultReport struct {
	Players      []string          `json:"players" validate:"required,len=2"`
	Outcome      map[string]string `json:"outcome" validate:"required"`
	Points       map[string]int    `json:"points" validate:"required"`
	GameMetadata json.RawMessage   `json:"game_metadata,omitempty"`
}

type MatchResultReportAck struct {
	ResultID  string `json:"result_id"`
	Duplicate bool   `json:"duplicate"`
}

type QueryStandings struct{}

type StandingsEntry struct {
	Rank          int    `json:"rank"`
	PlayerID      string `json:"player_id"`
	Points        int    `json:"points"`
	Wins          int    `json:"wins"`
	Draws         int    `json:"draws"`
	Losses        int    `json:"losses"`
	MatchesPlayed int    `json:"matches_played"`
}

type StandingsResponse struct {
	RoundID   string           `json:"round_id,omitempty"`
	UpdatedAt string           `json:"updated_at"`
	Standings []StandingsEntry `json:"standings"`
}

// Outcome values used in result reports and GAME_OVER payloads.
const (
	OutcomeWin  = "win"
	OutcomeLoss = "loss"
	OutcomeDraw = "draw"
)
