package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/openleague/league-manager/internal/audit"
	"github.com/openleague/league-manager/internal/protocol"
)

// echoDispatcher acks every message with its own envelope.
type echoDispatcher struct {
	fail     error
	handled  atomic.Int64
	lastType protocol.MessageType
}

func (d *echoDispatcher) Role() string { return "league_manager" }

func (d *echoDispatcher) Dispatch(_ context.Context, env *protocol.Envelope, _ json.RawMessage) (*protocol.Envelope, interface{}, error) {
	d.handled.Add(1)
	d.lastType = env.MessageType
	if d.fail != nil {
		return nil, nil, d.fail
	}
	return env.Reply(protocol.MsgAdminGetStatusResponse, protocol.SenderLeagueManager),
		map[string]string{"ok": "true"}, nil
}

func (d *echoDispatcher) StatusCounters(context.Context) map[string]interface{} {
	return map[string]interface{}{"handled": d.handled.Load()}
}

func newTestServer(t *testing.T, d Dispatcher, sink audit.Sink) *httptest.Server {
	t.Helper()
	srv := NewServer(ServerConfig{Dispatcher: d, Audit: sink, Logger: zap.NewNop()})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func adminEnvelope(msgType protocol.MessageType) *protocol.Envelope {
	return protocol.NewEnvelope(msgType, "admin")
}

func TestServer_MalformedBody400(t *testing.T) {
	ts := newTestServer(t, &echoDispatcher{}, nil)

	resp, err := http.Post(ts.URL+"/mcp", "application/json", strings.NewReader("{nope"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestServer_InvalidEnvelopeIsJSONRPCError(t *testing.T) {
	ts := newTestServer(t, &echoDispatcher{}, nil)

	env := adminEnvelope(protocol.MsgAdminGetStatusRequest)
	env.Protocol = "league.v1"
	req, _ := protocol.NewRequest("id-1", env, nil)
	body, _ := json.Marshal(req)

	resp, err := http.Post(ts.URL+"/mcp", "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 for valid JSON-RPC", resp.StatusCode)
	}

	var rpcResp protocol.Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rpcResp.Error == nil || rpcResp.Error.Code != protocol.CodeProtocolVersionMismatch {
		t.Errorf("error = %+v, want PROTOCOL_VERSION_MISMATCH", rpcResp.Error)
	}
	if rpcResp.ID != "id-1" {
		t.Errorf("ID = %q, want mirrored id-1", rpcResp.ID)
	}
	if rpcResp.Error.Data["conversation_id"] != env.ConversationID {
		t.Errorf("error data missing conversation_id: %+v", rpcResp.Error.Data)
	}
}

func TestServer_DispatchErrorSanitized(t *testing.T) {
	// A non-protocol panic-grade error degrades to INTERNAL_ERROR with a
	// generic message.
	d := &echoDispatcher{fail: context.DeadlineExceeded}
	ts := newTestServer(t, d, nil)
	c := NewClient(ClientConfig{Logger: zap.NewNop(), MaxAttempts: 1})

	_, err := c.Call(context.Background(), ts.URL, adminEnvelope(protocol.MsgAdminGetStatusRequest), nil)
	if err == nil {
		t.Fatal("Call = nil error")
	}
	pe := protocol.AsError(err)
	if pe.Code != protocol.CodeInternalError {
		t.Errorf("code = %d, want 5000", pe.Code)
	}
	if strings.Contains(pe.Message, "deadline") {
		t.Errorf("internal detail leaked: %q", pe.Message)
	}
}

func TestClient_RoundTrip(t *testing.T) {
	d := &echoDispatcher{}
	ts := newTestServer(t, d, nil)
	c := NewClient(ClientConfig{Logger: zap.NewNop()})

	res, err := c.Call(context.Background(), ts.URL, adminEnvelope(protocol.MsgAdminGetStatusRequest), nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Envelope.MessageType != protocol.MsgAdminGetStatusResponse {
		t.Errorf("response type = %s", res.Envelope.MessageType)
	}
	if d.handled.Load() != 1 {
		t.Errorf("handled = %d, want 1", d.handled.Load())
	}
}

func TestClient_RetriesThenTimeout(t *testing.T) {
	// Nothing listens on this port.
	c := NewClient(ClientConfig{
		Logger:      zap.NewNop(),
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		Timeout:     100 * time.Millisecond,
	})

	_, err := c.Call(context.Background(), "http://127.0.0.1:1",
		adminEnvelope(protocol.MsgAdminGetStatusRequest), nil)
	if err == nil {
		t.Fatal("Call = nil error, want TRANSPORT_TIMEOUT")
	}
	if protocol.AsError(err).Code != protocol.CodeTransportTimeout {
		t.Errorf("code = %d, want %d", protocol.AsError(err).Code, protocol.CodeTransportTimeout)
	}
}

func TestServer_AuditCoversRequestAndResponse(t *testing.T) {
	var recs []audit.Record
	sink := &captureSink{records: &recs}
	ts := newTestServer(t, &echoDispatcher{}, sink)
	c := NewClient(ClientConfig{Logger: zap.NewNop()})

	env := adminEnvelope(protocol.MsgAdminGetStatusRequest)
	if _, err := c.Call(context.Background(), ts.URL, env, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}

	if len(recs) != 2 {
		t.Fatalf("audit records = %d, want request+response", len(recs))
	}
	if recs[0].Direction != audit.DirRequest || recs[1].Direction != audit.DirResponse {
		t.Errorf("directions = %s,%s", recs[0].Direction, recs[1].Direction)
	}
	for _, r := range recs {
		if r.ConversationID != env.ConversationID {
			t.Errorf("conversation id = %q, want %q", r.ConversationID, env.ConversationID)
		}
	}
}

func TestServer_HealthAndStatus(t *testing.T) {
	d := &echoDispatcher{}
	ts := newTestServer(t, d, nil)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	var health map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&health)
	if health["role"] != "league_manager" {
		t.Errorf("role = %v", health["role"])
	}

	resp2, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp2.Body.Close()
	var status map[string]interface{}
	json.NewDecoder(resp2.Body).Decode(&status)
	if _, ok := status["handled"]; !ok {
		t.Errorf("status counters = %v", status)
	}
}

type captureSink struct {
	records *[]audit.Record
}

func (s *captureSink) Append(rec audit.Record) { *s.records = append(*s.records, rec) }
func (s *captureSink) Close() error            { return nil }
