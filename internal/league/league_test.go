package league

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/openleague/league-manager/internal/auth"
	"github.com/openleague/league-manager/internal/config"
	"github.com/openleague/league-manager/internal/models"
	"github.com/openleague/league-manager/internal/protocol"
	"github.com/openleague/league-manager/internal/store"
	"github.com/openleague/league-manager/internal/transport"
)

type fixture struct {
	t       *testing.T
	manager *Manager
	store   *store.Memory
	cfg     *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		GameType:            "even_odd",
		MinPlayers:          2,
		MinReferees:         1,
		AssignSweepInterval: time.Second,
		MatchStuckAfter:     time.Minute,
	}
	st := store.NewMemory()
	m := NewManager(Options{
		Store: st,
		Auth:  auth.NewManager(),
		Client: transport.NewClient(transport.ClientConfig{
			Logger:      zap.NewNop(),
			MaxAttempts: 1,
			Timeout:     2 * time.Second,
		}),
		Config: cfg,
		Logger: zap.NewNop(),
	})
	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return &fixture{t: t, manager: m, store: st, cfg: cfg}
}

func (f *fixture) dispatch(env *protocol.Envelope, payload interface{}) (*protocol.Envelope, interface{}, error) {
	f.t.Helper()
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			f.t.Fatalf("marshal payload: %v", err)
		}
		raw = b
	}
	return f.manager.Dispatch(context.Background(), env, raw)
}

func (f *fixture) registerReferee(id, endpoint string) string {
	f.t.Helper()
	env := protocol.NewEnvelope(protocol.MsgRegisterRefereeRequest, "referee:"+id)
	_, payload, err := f.dispatch(env, &protocol.RegisterRefereeRequest{RefereeID: id, Endpoint: endpoint})
	if err != nil {
		f.t.Fatalf("register referee %s: %v", id, err)
	}
	return payload.(*protocol.RegisterResponse).AuthToken
}

func (f *fixture) registerPlayer(id string) string {
	f.t.Helper()
	env := protocol.NewEnvelope(protocol.MsgRegisterPlayerRequest, "player:"+id)
	_, payload, err := f.dispatch(env, &protocol.RegisterPlayerRequest{PlayerID: id, Endpoint: "http://127.0.0.1:9/" + id})
	if err != nil {
		f.t.Fatalf("register player %s: %v", id, err)
	}
	return payload.(*protocol.RegisterResponse).AuthToken
}

func (f *fixture) ready(sender, token string) {
	f.t.Helper()
	env := protocol.NewEnvelope(protocol.MsgAgentReadyRequest, sender)
	env.AuthToken = token
	env.LeagueID = f.manager.leagueID
	if _, _, err := f.dispatch(env, nil); err != nil {
		f.t.Fatalf("ready %s: %v", sender, err)
	}
}

func (f *fixture) startLeague() *protocol.AdminStartLeagueResponse {
	f.t.Helper()
	env := protocol.NewEnvelope(protocol.MsgAdminStartLeagueRequest, "admin")
	_, payload, err := f.dispatch(env, nil)
	if err != nil {
		f.t.Fatalf("start league: %v", err)
	}
	return payload.(*protocol.AdminStartLeagueResponse)
}

func (f *fixture) leagueStatus() models.LeagueStatus {
	f.t.Helper()
	league, err := f.store.GetLeague(context.Background())
	if err != nil {
		f.t.Fatalf("get league: %v", err)
	}
	return league.Status
}

func errCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	return protocol.AsError(err).Code
}

// refereeStub is an in-process referee endpoint that accepts every
// assignment and queues it for the test to act on.
type refereeStub struct {
	id          string
	mu          sync.Mutex
	assignments []*protocol.Envelope
}

func (r *refereeStub) Role() string { return "referee" }

func (r *refereeStub) Dispatch(_ context.Context, env *protocol.Envelope, _ json.RawMessage) (*protocol.Envelope, interface{}, error) {
	if env.MessageType != protocol.MsgMatchAssignment {
		return nil, nil, protocol.Errorf(protocol.CodeUnknownMessageType, "unexpected %s", env.MessageType)
	}
	r.mu.Lock()
	r.assignments = append(r.assignments, env)
	r.mu.Unlock()
	reply := env.Reply(protocol.MsgMatchAssignmentAck, "referee:"+r.id)
	reply.AuthToken = env.AuthToken
	return reply, &protocol.MatchAssignmentAck{Accepted: true}, nil
}

func (r *refereeStub) StatusCounters(context.Context) map[string]interface{} { return nil }

func (r *refereeStub) next(t *testing.T) *protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.assignments) > 0 {
			env := r.assignments[0]
			r.assignments = r.assignments[1:]
			r.mu.Unlock()
			return env
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no assignment arrived")
	return nil
}

func startRefereeStub(t *testing.T, id string) (*refereeStub, string) {
	t.Helper()
	stub := &refereeStub{id: id}
	srv := transport.NewServer(transport.ServerConfig{Dispatcher: stub, Logger: zap.NewNop()})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return stub, ts.URL
}

func TestRegistration_PlayerNeedsReferee(t *testing.T) {
	f := newFixture(t)

	env := protocol.NewEnvelope(protocol.MsgRegisterPlayerRequest, "player:alice")
	_, _, err := f.dispatch(env, &protocol.RegisterPlayerRequest{PlayerID: "alice", Endpoint: "http://127.0.0.1:9/a"})
	if code := errCode(t, err); code != protocol.CodePreconditionFailed {
		t.Errorf("code = %d, want PRECONDITION_FAILED", code)
	}

	f.registerReferee("r1", "http://127.0.0.1:9/r1")
	f.registerPlayer("alice")
}

func TestRegistration_Idempotent(t *testing.T) {
	f := newFixture(t)
	token := f.registerReferee("r1", "http://127.0.0.1:9/r1")

	again := f.registerReferee("r1", "http://127.0.0.1:9/r1")
	if again != token {
		t.Errorf("re-registration minted a new token")
	}
	referees, _ := f.store.ListReferees(context.Background())
	if len(referees) != 1 {
		t.Errorf("referees = %d, want 1", len(referees))
	}

	// Same id with a different endpoint is a conflict, not idempotent.
	env := protocol.NewEnvelope(protocol.MsgRegisterRefereeRequest, "referee:r1")
	_, _, err := f.dispatch(env, &protocol.RegisterRefereeRequest{RefereeID: "r1", Endpoint: "http://127.0.0.1:9/other"})
	if code := errCode(t, err); code != protocol.CodeDuplicateRegistration {
		t.Errorf("code = %d, want DUPLICATE_REGISTRATION", code)
	}
}

func TestRegistration_SenderMustMatchPayload(t *testing.T) {
	f := newFixture(t)
	env := protocol.NewEnvelope(protocol.MsgRegisterRefereeRequest, "referee:impostor")
	_, _, err := f.dispatch(env, &protocol.RegisterRefereeRequest{RefereeID: "r1", Endpoint: "http://127.0.0.1:9/r1"})
	if code := errCode(t, err); code != protocol.CodeInvalidSender {
		t.Errorf("code = %d, want INVALID_SENDER", code)
	}
}

func TestRegistration_ClosedAfterStart(t *testing.T) {
	f := newFixture(t)
	_, url := startRefereeStub(t, "r1")
	rt := f.registerReferee("r1", url)
	at := f.registerPlayer("alice")
	bt := f.registerPlayer("bob")
	f.ready("referee:r1", rt)
	f.ready("player:alice", at)
	f.ready("player:bob", bt)
	f.startLeague()

	env := protocol.NewEnvelope(protocol.MsgRegisterPlayerRequest, "player:carol")
	_, _, err := f.dispatch(env, &protocol.RegisterPlayerRequest{PlayerID: "carol", Endpoint: "http://127.0.0.1:9/c"})
	if code := errCode(t, err); code != protocol.CodeRegistrationClosed {
		t.Errorf("code = %d, want REGISTRATION_CLOSED", code)
	}
}

func TestStartLeague_RequiresReadyAgents(t *testing.T) {
	f := newFixture(t)
	rt := f.registerReferee("r1", "http://127.0.0.1:9/r1")
	f.registerPlayer("alice")
	f.registerPlayer("bob")
	f.ready("referee:r1", rt)

	env := protocol.NewEnvelope(protocol.MsgAdminStartLeagueRequest, "admin")
	_, _, err := f.dispatch(env, nil)
	perr := protocol.AsError(err)
	if perr.Code != protocol.CodePreconditionFailed {
		t.Fatalf("code = %d, want PRECONDITION_FAILED", perr.Code)
	}
	if perr.Data["not_ready"] == nil {
		t.Errorf("error data does not name the agents still REGISTERED: %+v", perr.Data)
	}
	if f.leagueStatus() != models.LeagueRegistration {
		t.Errorf("league moved to %s on failed start", f.leagueStatus())
	}
}

func TestStartLeague_AdminOnly(t *testing.T) {
	f := newFixture(t)
	env := protocol.NewEnvelope(protocol.MsgAdminStartLeagueRequest, "player:alice")
	_, _, err := f.dispatch(env, nil)
	if code := errCode(t, err); code != protocol.CodeInvalidSender {
		t.Errorf("code = %d, want INVALID_SENDER", code)
	}
}

// reportResult builds and dispatches a MATCH_RESULT_REPORT for the given
// assignment envelope, with outcomes decided by the winner argument ("" for
// a draw).
func (f *fixture) reportResult(assignEnv *protocol.Envelope, refID, refToken, winner string) (*protocol.MatchResultReportAck, error) {
	f.t.Helper()
	match, err := f.store.GetMatch(context.Background(), assignEnv.MatchID)
	if err != nil {
		f.t.Fatalf("get match: %v", err)
	}
	outcome := map[string]string{}
	points := map[string]int{}
	for _, p := range match.Players {
		switch {
		case winner == "":
			outcome[p] = protocol.OutcomeDraw
			points[p] = 1
		case p == winner:
			outcome[p] = protocol.OutcomeWin
			points[p] = 3
		default:
			outcome[p] = protocol.OutcomeLoss
			points[p] = 0
		}
	}

	env := protocol.NewEnvelope(protocol.MsgMatchResultReport, "referee:"+refID)
	env.AuthToken = refToken
	env.LeagueID = assignEnv.LeagueID
	env.RoundID = assignEnv.RoundID
	env.MatchID = assignEnv.MatchID
	env.GameType = assignEnv.GameType

	_, payload, err := f.dispatch(env, &protocol.MatchResultReport{
		Players: match.Players[:],
		Outcome: outcome,
		Points:  points,
	})
	if err != nil {
		return nil, err
	}
	return payload.(*protocol.MatchResultReportAck), nil
}

func TestLeague_ThreePlayersRunToCompletion(t *testing.T) {
	f := newFixture(t)
	stub, url := startRefereeStub(t, "r1")
	rt := f.registerReferee("r1", url)
	tokens := map[string]string{}
	for _, p := range []string{"alice", "bob", "carol"} {
		tokens[p] = f.registerPlayer(p)
	}
	f.ready("referee:r1", rt)
	for p, tok := range tokens {
		f.ready("player:"+p, tok)
	}

	resp := f.startLeague()
	if resp.LeagueStatus != string(models.LeagueActive) {
		t.Fatalf("league status = %s, want ACTIVE", resp.LeagueStatus)
	}
	matches, _ := f.store.ListMatches(context.Background())
	if len(matches) != 3 {
		t.Fatalf("matches = %d, want 3 for 3 players", len(matches))
	}
	rounds, _ := f.store.ListRounds(context.Background())
	if len(rounds) != 3 {
		t.Fatalf("rounds = %d, want 3 for odd player count", len(rounds))
	}

	// alice beats everyone; bob and carol draw their game.
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.manager.assignPending(ctx)
		assignEnv := stub.next(t)

		match, _ := f.store.GetMatch(ctx, assignEnv.MatchID)
		winner := ""
		if match.HasPlayer("alice") {
			winner = "alice"
		}
		ack, err := f.reportResult(assignEnv, "r1", rt, winner)
		if err != nil {
			t.Fatalf("report %d: %v", i, err)
		}
		if ack.Duplicate {
			t.Errorf("fresh result acked as duplicate")
		}
	}
	f.manager.assignPending(ctx)

	if f.leagueStatus() != models.LeagueCompleted {
		t.Fatalf("league status = %s, want COMPLETED", f.leagueStatus())
	}

	env := protocol.NewEnvelope(protocol.MsgQueryStandings, "player:alice")
	env.AuthToken = tokens["alice"]
	env.LeagueID = f.manager.leagueID
	_, payload, err := f.dispatch(env, nil)
	if err != nil {
		t.Fatalf("query standings: %v", err)
	}
	standings := payload.(*protocol.StandingsResponse).Standings
	if len(standings) != 3 {
		t.Fatalf("standings rows = %d, want 3", len(standings))
	}

	want := []struct {
		player string
		points int
		rank   int
	}{
		{"alice", 6, 1},
		{"bob", 1, 2},
		{"carol", 1, 3}, // tied on (points, wins, draws), player_id breaks the tie
	}
	for i, w := range want {
		got := standings[i]
		if got.PlayerID != w.player || got.Points != w.points || got.Rank != w.rank {
			t.Errorf("standings[%d] = %s/%dpts/rank%d, want %s/%dpts/rank%d",
				i, got.PlayerID, got.Points, got.Rank, w.player, w.points, w.rank)
		}
	}
}

func TestLeague_DuplicateResultIdempotent(t *testing.T) {
	f := newFixture(t)
	stub, url := startRefereeStub(t, "r1")
	rt := f.registerReferee("r1", url)
	at := f.registerPlayer("alice")
	bt := f.registerPlayer("bob")
	f.ready("referee:r1", rt)
	f.ready("player:alice", at)
	f.ready("player:bob", bt)
	f.startLeague()

	ctx := context.Background()
	f.manager.assignPending(ctx)
	assignEnv := stub.next(t)

	first, err := f.reportResult(assignEnv, "r1", rt, "alice")
	if err != nil {
		t.Fatalf("first report: %v", err)
	}
	snapsBefore, _ := f.store.CountSnapshots(ctx, "")

	second, err := f.reportResult(assignEnv, "r1", rt, "alice")
	if err != nil {
		t.Fatalf("retried report: %v", err)
	}
	if !second.Duplicate {
		t.Error("retried report not flagged as duplicate")
	}
	if second.ResultID != first.ResultID {
		t.Errorf("duplicate ack result_id = %s, want original %s", second.ResultID, first.ResultID)
	}

	snapsAfter, _ := f.store.CountSnapshots(ctx, "")
	if snapsAfter != snapsBefore {
		t.Errorf("duplicate report grew snapshots from %d to %d", snapsBefore, snapsAfter)
	}
	results, _ := f.store.ListResults(ctx)
	if len(results) != 1 {
		t.Errorf("results = %d, want exactly 1", len(results))
	}
}

func TestLeague_ResultValidation(t *testing.T) {
	f := newFixture(t)
	stub, url := startRefereeStub(t, "r1")
	rt := f.registerReferee("r1", url)
	at := f.registerPlayer("alice")
	bt := f.registerPlayer("bob")
	f.ready("referee:r1", rt)
	f.ready("player:alice", at)
	f.ready("player:bob", bt)
	f.startLeague()

	ctx := context.Background()
	f.manager.assignPending(ctx)
	assignEnv := stub.next(t)

	build := func(mutate func(r *protocol.MatchResultReport)) error {
		report := &protocol.MatchResultReport{
			Players: []string{"alice", "bob"},
			Outcome: map[string]string{"alice": "win", "bob": "loss"},
			Points:  map[string]int{"alice": 3, "bob": 0},
		}
		mutate(report)
		env := protocol.NewEnvelope(protocol.MsgMatchResultReport, "referee:r1")
		env.AuthToken = rt
		env.LeagueID = assignEnv.LeagueID
		env.RoundID = assignEnv.RoundID
		env.MatchID = assignEnv.MatchID
		env.GameType = assignEnv.GameType
		_, _, err := f.dispatch(env, report)
		return err
	}

	cases := []struct {
		name   string
		mutate func(r *protocol.MatchResultReport)
		want   int
	}{
		{"two winners", func(r *protocol.MatchResultReport) {
			r.Outcome["bob"] = "win"
			r.Points["bob"] = 3
		}, protocol.CodeValidationError},
		{"points off table", func(r *protocol.MatchResultReport) {
			r.Points["alice"] = 5
		}, protocol.CodeValidationError},
		{"wrong players", func(r *protocol.MatchResultReport) {
			r.Players = []string{"alice", "mallory"}
			delete(r.Outcome, "bob")
			r.Outcome["mallory"] = "loss"
		}, protocol.CodeValidationError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if code := errCode(t, build(tc.mutate)); code != tc.want {
				t.Errorf("code = %d, want %d", code, tc.want)
			}
		})
	}

	// The match is still open after every rejected report.
	match, _ := f.store.GetMatch(ctx, assignEnv.MatchID)
	if models.MatchFinal(match.Status) {
		t.Errorf("rejected reports finalized the match as %s", match.Status)
	}
}

func TestLeague_ResultFromWrongReferee(t *testing.T) {
	f := newFixture(t)
	stub, url := startRefereeStub(t, "r1")
	rt := f.registerReferee("r1", url)
	r2t := f.registerReferee("r2", "http://127.0.0.1:9/r2")
	at := f.registerPlayer("alice")
	bt := f.registerPlayer("bob")
	f.ready("referee:r1", rt)
	f.ready("referee:r2", r2t)
	f.ready("player:alice", at)
	f.ready("player:bob", bt)
	f.startLeague()

	f.manager.assignPending(context.Background())
	assignEnv := stub.next(t)
	if assignEnv == nil {
		t.Fatal("no assignment")
	}

	// r2 holds a valid token but was not assigned this match.
	_, err := f.reportResult(assignEnv, "r2", r2t, "alice")
	if code := errCode(t, err); code != protocol.CodeAuthSenderMismatch {
		t.Errorf("code = %d, want AUTH_SENDER_MISMATCH", code)
	}
}

func TestLeague_ReapStuckMatch(t *testing.T) {
	f := newFixture(t)
	f.cfg.MatchStuckAfter = 10 * time.Millisecond
	stub, url := startRefereeStub(t, "r1")
	rt := f.registerReferee("r1", url)
	at := f.registerPlayer("alice")
	bt := f.registerPlayer("bob")
	f.ready("referee:r1", rt)
	f.ready("player:alice", at)
	f.ready("player:bob", bt)
	f.startLeague()

	ctx := context.Background()
	f.manager.assignPending(ctx)
	assignEnv := stub.next(t)

	time.Sleep(20 * time.Millisecond)
	f.manager.reapStuck(ctx)

	match, _ := f.store.GetMatch(ctx, assignEnv.MatchID)
	if match.Status != models.MatchFailed {
		t.Fatalf("match status = %s, want FAILED", match.Status)
	}

	// A report arriving after the reap is rejected as a duplicate terminal.
	_, err := f.reportResult(assignEnv, "r1", rt, "alice")
	if code := errCode(t, err); code != protocol.CodeDuplicateResult {
		t.Errorf("code = %d, want DUPLICATE_RESULT", code)
	}
}

func TestLeague_StandingsBeforeAnyResult(t *testing.T) {
	f := newFixture(t)
	_, url := startRefereeStub(t, "r1")
	rt := f.registerReferee("r1", url)
	at := f.registerPlayer("alice")
	bt := f.registerPlayer("bob")
	f.ready("referee:r1", rt)
	f.ready("player:alice", at)
	f.ready("player:bob", bt)
	f.startLeague()

	env := protocol.NewEnvelope(protocol.MsgQueryStandings, "player:alice")
	env.AuthToken = at
	env.LeagueID = f.manager.leagueID
	_, payload, err := f.dispatch(env, nil)
	if err != nil {
		t.Fatalf("query standings: %v", err)
	}
	standings := payload.(*protocol.StandingsResponse).Standings
	if len(standings) != 2 {
		t.Fatalf("rows = %d, want 2", len(standings))
	}
	// All-zero keys still rank 1..K by player_id.
	for i, row := range standings {
		if row.Points != 0 || row.MatchesPlayed != 0 || row.Rank != i+1 {
			t.Errorf("zero table row %d wrong: %+v", i, row)
		}
	}
	if standings[0].PlayerID != "alice" || standings[1].PlayerID != "bob" {
		t.Errorf("zero table ordered %s,%s, want alice,bob",
			standings[0].PlayerID, standings[1].PlayerID)
	}
}

func TestLeague_RestartRestoresTokensAndResetsAssignments(t *testing.T) {
	f := newFixture(t)
	stub, url := startRefereeStub(t, "r1")
	rt := f.registerReferee("r1", url)
	at := f.registerPlayer("alice")
	bt := f.registerPlayer("bob")
	f.ready("referee:r1", rt)
	f.ready("player:alice", at)
	f.ready("player:bob", bt)
	f.startLeague()

	ctx := context.Background()
	f.manager.assignPending(ctx)
	stub.next(t)

	// New manager over the same store simulates a process restart.
	restarted := NewManager(Options{
		Store:  f.store,
		Auth:   auth.NewManager(),
		Client: transport.NewClient(transport.ClientConfig{Logger: zap.NewNop(), MaxAttempts: 1}),
		Config: f.cfg,
		Logger: zap.NewNop(),
	})
	if err := restarted.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap after restart: %v", err)
	}

	if _, err := restarted.auth.Validate(rt); err != nil {
		t.Errorf("referee token lost across restart: %v", err)
	}
	if _, err := restarted.auth.Validate(at); err != nil {
		t.Errorf("player token lost across restart: %v", err)
	}

	matches, _ := f.store.ListMatches(ctx)
	for _, match := range matches {
		if match.Status == models.MatchAssigned || match.Status == models.MatchInProgress {
			t.Errorf("match %s still %s after restart", match.MatchID, match.Status)
		}
	}
}

func TestLeague_UnknownMessageType(t *testing.T) {
	f := newFixture(t)
	env := protocol.NewEnvelope(protocol.MsgGameInvitation, protocol.SenderLeagueManager)
	env.MatchID = "0c8e37b1-58cb-4f0a-a9da-7ba04c9a5a19"
	env.GameType = "even_odd"
	_, _, err := f.dispatch(env, nil)
	if code := errCode(t, err); code != protocol.CodeUnknownMessageType {
		t.Errorf("code = %d, want UNKNOWN_MESSAGE_TYPE", code)
	}
}

func TestComputeStandings_DrawRanksByPlayerID(t *testing.T) {
	f := newFixture(t)
	_, url := startRefereeStub(t, "r1")
	rt := f.registerReferee("r1", url)
	at := f.registerPlayer("alice")
	bt := f.registerPlayer("bob")
	f.ready("referee:r1", rt)
	f.ready("player:alice", at)
	f.ready("player:bob", bt)
	f.startLeague()

	ctx := context.Background()
	matches, _ := f.store.ListMatches(ctx)
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	err := f.store.CompleteMatch(ctx, &models.MatchResult{
		ResultID:   "res-draw",
		MatchID:    matches[0].MatchID,
		Outcome:    map[string]string{"alice": "draw", "bob": "draw"},
		Points:     map[string]int{"alice": 1, "bob": 1},
		ReportedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("complete match: %v", err)
	}

	ranked, err := f.manager.computeStandings(ctx, 0)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("rows = %d, want 2", len(ranked))
	}
	if ranked[0].PlayerID != "alice" || ranked[0].Rank != 1 {
		t.Errorf("ranked[0] = %s/rank%d, want alice/rank1", ranked[0].PlayerID, ranked[0].Rank)
	}
	if ranked[1].PlayerID != "bob" || ranked[1].Rank != 2 {
		t.Errorf("ranked[1] = %s/rank%d, want bob/rank2", ranked[1].PlayerID, ranked[1].Rank)
	}
}

func TestComputeStandings_TieBreakRanks(t *testing.T) {
	f := newFixture(t)
	_, url := startRefereeStub(t, "r1")
	rt := f.registerReferee("r1", url)
	tokens := map[string]string{}
	for i := 1; i <= 4; i++ {
		id := fmt.Sprintf("p%d", i)
		tokens[id] = f.registerPlayer(id)
	}
	f.ready("referee:r1", rt)
	for p, tok := range tokens {
		f.ready("player:"+p, tok)
	}
	f.startLeague()

	// Complete two matches directly through the store: p1 beats p2 and
	// p3 beats p4, leaving two pairs tied on identical keys.
	ctx := context.Background()
	matches, _ := f.store.ListMatches(ctx)
	completed := 0
	for _, match := range matches {
		a, b := match.Players[0], match.Players[1]
		var winner, loser string
		switch {
		case a == "p1" && b == "p2":
			winner, loser = "p1", "p2"
		case a == "p3" && b == "p4":
			winner, loser = "p3", "p4"
		default:
			continue
		}
		err := f.store.CompleteMatch(ctx, &models.MatchResult{
			ResultID:   fmt.Sprintf("res-%d", completed),
			MatchID:    match.MatchID,
			Outcome:    map[string]string{winner: "win", loser: "loss"},
			Points:     map[string]int{winner: 3, loser: 0},
			ReportedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("complete match: %v", err)
		}
		completed++
	}
	if completed != 2 {
		t.Fatalf("completed = %d, want 2", completed)
	}

	ranked, err := f.manager.computeStandings(ctx, 0)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	// Ranks are the positions of the total order; players tied on the
	// scoring key are separated by player_id ascending.
	wantOrder := []string{"p1", "p3", "p2", "p4"}
	for i, row := range ranked {
		if row.PlayerID != wantOrder[i] || row.Rank != i+1 {
			t.Errorf("ranked[%d] = %s/rank%d, want %s/rank%d",
				i, row.PlayerID, row.Rank, wantOrder[i], i+1)
		}
	}
}
