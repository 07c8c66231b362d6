package protocol

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Version is the only protocol revision this process speaks.
const Version = "league.v2"

// Method is the single JSON-RPC method all league traffic multiplexes on.
// Routing is by envelope message_type, never by method.
const Method = "league.handle"

// SenderLeagueManager is the fixed sender string used by the LM.
const SenderLeagueManager = "league_manager"

// MessageType identifies one entry of the message catalog.
type MessageType string

const (
	MsgRegisterRefereeRequest  MessageType = "REGISTER_REFEREE_REQUEST"
	MsgRegisterRefereeResponse MessageType = "REGISTER_REFEREE_RESPONSE"
	MsgRegisterPlayerRequest   MessageType = "REGISTER_PLAYER_REQUEST"
	MsgRegisterPlayerResponse  MessageType = "REGISTER_PLAYER_RESPONSE"
	MsgAgentReadyRequest       MessageType = "AGENT_READY_REQUEST"
	MsgAgentReadyResponse      MessageType = "AGENT_READY_RESPONSE"
	MsgAdminStartLeagueRequest  MessageType = "ADMIN_START_LEAGUE_REQUEST"
	MsgAdminStartLeagueResponse MessageType = "ADMIN_START_LEAGUE_RESPONSE"
	MsgAdminGetStatusRequest    MessageType = "ADMIN_GET_STATUS_REQUEST"
	MsgAdminGetStatusResponse   MessageType = "ADMIN_GET_STATUS_RESPONSE"
	MsgMatchAssignment    MessageType = "MATCH_ASSIGNMENT"
	MsgMatchAssignmentAck MessageType = "MATCH_ASSIGNMENT_ACK"
	MsgGameInvitation     MessageType = "GAME_INVITATION"
	MsgGameJoinAck        MessageType = "GAME_JOIN_ACK"
	MsgRequestMove        MessageType = "REQUEST_MOVE"
	MsgMoveResponse       MessageType = "MOVE_RESPONSE"
	MsgGameOver           MessageType = "GAME_OVER"
	MsgMatchResultReport    MessageType = "MATCH_RESULT_REPORT"
	MsgMatchResultReportAck MessageType = "MATCH_RESULT_REPORT_ACK"
	MsgQueryStandings     MessageType = "QUERY_STANDINGS"
	MsgStandingsResponse  MessageType = "STANDINGS_RESPONSE"
)

// Envelope is the protocol header carried inside JSON-RPC params. The base
// five fields are required on every message; the remainder are contextual and
// required per message type (see requiredContext).
type Envelope struct {
	Protocol       string      `json:"protocol"`
	MessageType    MessageType `json:"message_type"`
	Sender         string      `json:"sender"`
	Timestamp      string      `json:"timestamp"`
	ConversationID string      `json:"conversation_id"`

	AuthToken string `json:"auth_token,omitempty"`
	LeagueID  string `json:"league_id,omitempty"`
	RoundID   string `json:"round_id,omitempty"`
	MatchID   string `json:"match_id,omitempty"`
	GameType  string `json:"game_type,omitempty"`
}

// ctxFields names the contextual envelope fields a message type requires
// beyond the base five.
type ctxFields struct {
	AuthToken bool
	LeagueID  bool
	RoundID   bool
	MatchID   bool
	GameType  bool
}

var requiredContext = map[MessageType]ctxFields{
	MsgRegisterRefereeRequest:  {},
	MsgRegisterRefereeResponse: {AuthToken: true, LeagueID: true},
	MsgRegisterPlayerRequest:   {},
	MsgRegisterPlayerResponse:  {AuthToken: true, LeagueID: true},
	MsgAgentReadyRequest:       {AuthToken: true, LeagueID: true},
	MsgAgentReadyResponse:      {LeagueID: true},
	MsgAdminStartLeagueRequest:  {},
	MsgAdminStartLeagueResponse: {},
	MsgAdminGetStatusRequest:    {},
	MsgAdminGetStatusResponse:   {},
	MsgMatchAssignment:    {AuthToken: true, LeagueID: true, RoundID: true, MatchID: true, GameType: true},
	MsgMatchAssignmentAck: {AuthToken: true, LeagueID: true, RoundID: true, MatchID: true, GameType: true},
	MsgGameInvitation:     {MatchID: true, GameType: true},
	MsgGameJoinAck:        {MatchID: true},
	MsgRequestMove:        {MatchID: true, GameType: true},
	MsgMoveResponse:       {MatchID: true},
	MsgGameOver:           {MatchID: true, GameType: true},
	MsgMatchResultReport:    {AuthToken: true, LeagueID: true, RoundID: true, MatchID: true, GameType: true},
	MsgMatchResultReportAck: {LeagueID: true, MatchID: true},
	MsgQueryStandings:     {AuthToken: true, LeagueID: true},
	MsgStandingsResponse:  {LeagueID: true},
}

// KnownMessageType reports whether t is in the catalog.
func KnownMessageType(t MessageType) bool {
	_, ok := requiredContext[t]
	return ok
}

var senderRe = regexp.MustCompile(`^(league_manager|admin|(referee|player):[A-Za-z0-9_-]+)$`)

// ValidSender reports whether s is a well-formed sender string.
func ValidSender(s string) bool {
	return senderRe.MatchString(s)
}

// NewEnvelope builds an envelope with the base fields populated: current UTC
// timestamp and a fresh v4 conversation id.
func NewEnvelope(msgType MessageType, sender string) *Envelope {
	return &Envelope{
		Protocol:       Version,
		MessageType:    msgType,
		Sender:         sender,
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		ConversationID: uuid.NewString(),
	}
}

// Reply builds a response envelope that preserves the request's conversation
// id and carries over contextual IDs the response type requires.
func (e *Envelope) Reply(msgType MessageType, sender string) *Envelope {
	r := &Envelope{
		Protocol:       Version,
		MessageType:    msgType,
		Sender:         sender,
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		ConversationID: e.ConversationID,
		LeagueID:       e.LeagueID,
		RoundID:        e.RoundID,
		MatchID:        e.MatchID,
		GameType:       e.GameType,
	}
	return r
}

// Validate checks the envelope in the order the protocol mandates and returns
// the first violation as a typed error.
func (e *Envelope) Validate() *Error {
	if e.Protocol != Version {
		return Errorf(CodeProtocolVersionMismatch, "unsupported protocol %q, want %q", e.Protocol, Version).WithEnvelope(e)
	}
	for _, f := range []struct {
		name  string
		value string
	}{
		{"message_type", string(e.MessageType)},
		{"sender", e.Sender},
		{"timestamp", e.Timestamp},
		{"conversation_id", e.ConversationID},
	} {
		if f.value == "" {
			return Errorf(CodeMissingRequiredField, "missing required envelope field %s", f.name).
				WithData("field", f.name).WithEnvelope(e)
		}
	}
	if !ValidSender(e.Sender) {
		return Errorf(CodeInvalidSender, "malformed sender %q", e.Sender).WithEnvelope(e)
	}
	if err := validateUTCTimestamp(e.Timestamp); err != nil {
		return Errorf(CodeInvalidTimestamp, "bad timestamp %q: %v", e.Timestamp, err).WithEnvelope(e)
	}
	if !isUUIDv4(e.ConversationID) {
		return Errorf(CodeInvalidUUID, "conversation_id is not a v4 UUID").WithEnvelope(e)
	}
	if !KnownMessageType(e.MessageType) {
		return Errorf(CodeUnknownMessageType, "unknown message type %q", e.MessageType).WithEnvelope(e)
	}
	req := requiredContext[e.MessageType]
	for _, f := range []struct {
		name     string
		required bool
		value    string
	}{
		{"auth_token", req.AuthToken, e.AuthToken},
		{"league_id", req.LeagueID, e.LeagueID},
		{"round_id", req.RoundID, e.RoundID},
		{"match_id", req.MatchID, e.MatchID},
		{"game_type", req.GameType, e.GameType},
	} {
		if f.required && f.value == "" {
			return Errorf(CodeMissingRequiredField, "message %s requires envelope field %s", e.MessageType, f.name).
				WithData("field", f.name).WithEnvelope(e)
		}
	}
	return nil
}

// validateUTCTimestamp accepts ISO-8601 with an explicit zero offset only
// ("Z" or "+00:00"); any non-zero zone is rejected.
func validateUTCTimestamp(s string) error {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	if _, offset := t.Zone(); offset != 0 {
		return errNonZeroOffset
	}
	return nil
}

var errNonZeroOffset = timestampOffsetError{}

type timestampOffsetError struct{}

func (timestampOffsetError) Error() string { return "timestamp offset must be zero (UTC)" }

func isUUIDv4(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 4
}
