// Package enroll is the client side of the registration handshake shared by
// referee and player processes: register with the LM, then announce
// readiness. Registration is idempotent on the LM side, so a crashed agent
// can re-enroll on restart and get its original token back.
package enroll

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openleague/league-manager/internal/auth"
	"github.com/openleague/league-manager/internal/protocol"
	"github.com/openleague/league-manager/internal/transport"
)

// Credentials is what a successful enrollment yields.
type Credentials struct {
	AuthToken string
	LeagueID  string
}

// Register performs REGISTER_REFEREE_REQUEST or REGISTER_PLAYER_REQUEST for
// the agent and returns the issued credentials.
func Register(ctx context.Context, client *transport.Client, lmURL string, agentType auth.AgentType, agentID, endpoint string) (Credentials, error) {
	identity := auth.Identity{AgentID: agentID, AgentType: agentType}

	var msgType protocol.MessageType
	var payload interface{}
	switch agentType {
	case auth.AgentReferee:
		msgType = protocol.MsgRegisterRefereeRequest
		payload = &protocol.RegisterRefereeRequest{RefereeID: agentID, Endpoint: endpoint}
	case auth.AgentPlayer:
		msgType = protocol.MsgRegisterPlayerRequest
		payload = &protocol.RegisterPlayerRequest{PlayerID: agentID, Endpoint: endpoint}
	default:
		return Credentials{}, fmt.Errorf("unknown agent type %q", agentType)
	}

	env := protocol.NewEnvelope(msgType, identity.Sender())
	res, err := client.Call(ctx, lmURL, env, payload)
	if err != nil {
		return Credentials{}, fmt.Errorf("register %s: %w", identity.Sender(), err)
	}

	var resp protocol.RegisterResponse
	if err := json.Unmarshal(res.Payload, &resp); err != nil {
		return Credentials{}, fmt.Errorf("decode register response: %w", err)
	}
	if resp.AuthToken == "" || resp.LeagueID == "" {
		return Credentials{}, fmt.Errorf("register response missing credentials")
	}
	return Credentials{AuthToken: resp.AuthToken, LeagueID: resp.LeagueID}, nil
}

// Ready performs AGENT_READY_REQUEST, promoting the agent to ACTIVE.
func Ready(ctx context.Context, client *transport.Client, lmURL string, agentType auth.AgentType, agentID string, creds Credentials) error {
	identity := auth.Identity{AgentID: agentID, AgentType: agentType}
	env := protocol.NewEnvelope(protocol.MsgAgentReadyRequest, identity.Sender())
	env.AuthToken = creds.AuthToken
	env.LeagueID = creds.LeagueID
	if _, err := client.Call(ctx, lmURL, env, nil); err != nil {
		return fmt.Errorf("ready %s: %w", identity.Sender(), err)
	}
	return nil
}
