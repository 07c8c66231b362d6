package referee

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openleague/league-manager/internal/game"
	"github.com/openleague/league-manager/internal/protocol"
)

// maxSteps caps the move loop against engines that never terminate.
const maxSteps = 10000

// matchRun is everything one match execution needs.
type matchRun struct {
	matchID   string
	roundID   string
	gameType  string
	players   [2]string
	endpoints map[string]string
	engine    game.Engine
}

func (m *matchRun) opponent(playerID string) string {
	if m.players[0] == playerID {
		return m.players[1]
	}
	return m.players[0]
}

// runMatch drives one match from invitation to result report and then frees
// the busy slot. Player misbehavior (no join, late or illegal moves) forfeits
// the match in the opponent's favor; only a defect on our side or both
// players vanishing leaves the match unreported for the LM to reap.
func (r *Referee) runMatch(run matchRun) {
	defer r.busy.Store(false)
	ctx := context.Background()

	report := r.conduct(ctx, run)
	if report == nil {
		r.matchesFailed.Add(1)
		r.logger.Errorw("Match execution failed", "match_id", run.matchID)
		return
	}

	if err := r.report(ctx, run, report); err != nil {
		r.logger.Errorw("Result report not delivered", "match_id", run.matchID, "error", err)
		return
	}
	r.matchesRun.Add(1)
	r.logger.Infow("Match finished", "match_id", run.matchID, "outcome", report.Outcome)
}

// conduct runs the state machine and returns the result report, or nil when
// no meaningful result exists.
func (r *Referee) conduct(ctx context.Context, run matchRun) *protocol.MatchResultReport {
	// Invitations go out in parallel; each player gets the join-ack deadline.
	var joinErr [2]error
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range run.players {
		i, p := i, p
		g.Go(func() error {
			joinErr[i] = r.invite(gctx, run, p)
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case joinErr[0] != nil && joinErr[1] != nil:
		r.logger.Errorw("Both players failed to join", "match_id", run.matchID,
			"errors", []error{joinErr[0], joinErr[1]})
		return nil
	case joinErr[0] != nil:
		return r.forfeit(ctx, run, run.players[1], run.players[0], "did not join")
	case joinErr[1] != nil:
		return r.forfeit(ctx, run, run.players[0], run.players[1], "did not join")
	}

	state, err := run.engine.Initialize(run.matchID, run.players)
	if err != nil {
		r.logger.Errorw("Engine initialization failed", "match_id", run.matchID, "error", err)
		return nil
	}

	step := 0
	for !run.engine.IsTerminal(state) {
		step++
		if step > maxSteps {
			r.logger.Errorw("Move loop exceeded step cap", "match_id", run.matchID)
			return nil
		}

		mover, err := run.engine.CurrentMover(state)
		if err != nil {
			r.logger.Errorw("Engine mover failed", "match_id", run.matchID, "error", err)
			return nil
		}
		stepCtx, err := run.engine.StepContext(state, mover)
		if err != nil {
			r.logger.Errorw("Engine step context failed", "match_id", run.matchID, "error", err)
			return nil
		}

		move, err := r.requestMove(ctx, run, mover, step, stepCtx)
		if err != nil {
			return r.forfeit(ctx, run, run.opponent(mover), mover, "no move before deadline")
		}
		if !run.engine.ValidateMove(state, mover, move) {
			return r.forfeit(ctx, run, run.opponent(mover), mover, "illegal move")
		}
		state, err = run.engine.ApplyMove(state, mover, move)
		if err != nil {
			return r.forfeit(ctx, run, run.opponent(mover), mover, "illegal move")
		}
	}

	outcome, err := run.engine.Outcome(state)
	if err != nil {
		r.logger.Errorw("Engine outcome failed", "match_id", run.matchID, "error", err)
		return nil
	}

	metadata, _ := json.Marshal(map[string]interface{}{"steps": step})
	r.gameOver(ctx, run, outcome.Results, nil)
	return &protocol.MatchResultReport{
		Players:      run.players[:],
		Outcome:      outcome.Results,
		Points:       outcome.Points,
		GameMetadata: metadata,
	}
}

// forfeit awards the match to winner and notifies both players before
// building the report. Points follow the scoring table so the LM accepts
// the report under loss-point overrides too.
func (r *Referee) forfeit(ctx context.Context, run matchRun, winner, loser, reason string) *protocol.MatchResultReport {
	r.matchesForfeited.Add(1)
	r.logger.Warnw("Match forfeited",
		"match_id", run.matchID,
		"winner", winner,
		"forfeited_by", loser,
		"reason", reason,
	)
	scoring := r.cfg.ScoringFor(run.gameType)
	outcome := map[string]string{winner: protocol.OutcomeWin, loser: protocol.OutcomeLoss}
	metadata, _ := json.Marshal(map[string]interface{}{
		"forfeit":      true,
		"forfeited_by": loser,
		"reason":       reason,
	})
	r.gameOver(ctx, run, outcome, nil)
	return &protocol.MatchResultReport{
		Players:      run.players[:],
		Outcome:      outcome,
		Points:       map[string]int{winner: scoring.Win, loser: scoring.Loss},
		GameMetadata: metadata,
	}
}

// invite sends GAME_INVITATION and waits for the join ack.
func (r *Referee) invite(ctx context.Context, run matchRun, playerID string) error {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.MatchJoinAck)
	defer cancel()

	env := protocol.NewEnvelope(protocol.MsgGameInvitation, r.Sender())
	env.MatchID = run.matchID
	env.GameType = run.gameType
	_, err := r.client.Call(callCtx, run.endpoints[playerID], env, &protocol.GameInvitation{
		Players: run.players[:],
	})
	return err
}

// requestMove asks the current mover for its move under the per-move deadline.
func (r *Referee) requestMove(ctx context.Context, run matchRun, playerID string, step int, stepCtx json.RawMessage) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.MoveResponse)
	defer cancel()

	env := protocol.NewEnvelope(protocol.MsgRequestMove, r.Sender())
	env.MatchID = run.matchID
	env.GameType = run.gameType
	res, err := r.client.Call(callCtx, run.endpoints[playerID], env, &protocol.RequestMove{
		StepNumber:  step,
		StepContext: stepCtx,
	})
	if err != nil {
		return nil, err
	}
	var move protocol.MoveResponse
	if err := json.Unmarshal(res.Payload, &move); err != nil {
		return nil, err
	}
	return move.MovePayload, nil
}

// gameOver notifies both players of the final outcome. Best effort: a player
// that is gone already lost or won regardless.
func (r *Referee) gameOver(ctx context.Context, run matchRun, outcome map[string]string, finalState json.RawMessage) {
	for _, p := range run.players {
		p := p
		go func() {
			callCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ResultReport)
			defer cancel()
			env := protocol.NewEnvelope(protocol.MsgGameOver, r.Sender())
			env.MatchID = run.matchID
			env.GameType = run.gameType
			if _, err := r.client.Call(callCtx, run.endpoints[p], env, &protocol.GameOver{
				Outcome:    outcome,
				FinalState: finalState,
			}); err != nil {
				r.logger.Debugw("Game over notification lost", "match_id", run.matchID, "player", p)
			}
		}()
	}
}

// report delivers MATCH_RESULT_REPORT to the LM. The transport retries
// transient failures; a duplicate ack from the LM means an earlier attempt
// landed and is success, not an error.
func (r *Referee) report(ctx context.Context, run matchRun, report *protocol.MatchResultReport) error {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.ResultReport)
	defer cancel()

	env := protocol.NewEnvelope(protocol.MsgMatchResultReport, r.Sender())
	env.AuthToken = r.creds.AuthToken
	env.LeagueID = r.creds.LeagueID
	env.RoundID = run.roundID
	env.MatchID = run.matchID
	env.GameType = run.gameType

	res, err := r.client.Call(callCtx, r.lmURL, env, report)
	if err != nil {
		return err
	}
	var ack protocol.MatchResultReportAck
	if err := json.Unmarshal(res.Payload, &ack); err != nil {
		return err
	}
	if ack.Duplicate {
		r.logger.Infow("Result already committed", "match_id", run.matchID, "result_id", ack.ResultID)
	}
	return nil
}

// WaitIdle blocks until the current match, if any, has finished or the
// timeout elapses. Used by shutdown paths so an accepted match is not
// abandoned mid-run.
func (r *Referee) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !r.busy.Load() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return !r.busy.Load()
}
