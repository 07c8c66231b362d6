package game

import (
	"encoding/json"
	"fmt"

	"github.com/openleague/league-manager/internal/config"
)

// EvenOddType is the game type string of the built-in reference game.
const EvenOddType = "even_odd"

// evenOdd is a two-step number duel. Each player submits one integer; the
// first scheduled player holds the "even" role and wins when the sum of both
// numbers is even, the second wins when it is odd. There are no draws.
type evenOdd struct {
	scoring config.Scoring
}

// NewEvenOdd builds the even_odd engine factory.
func NewEvenOdd(scoring config.Scoring) Engine {
	return &evenOdd{scoring: scoring}
}

type evenOddState struct {
	players [2]string
	numbers map[string]int
	step    int
}

type evenOddStep struct {
	Role       string `json:"role"`
	StepNumber int    `json:"step_number"`
}

type evenOddMove struct {
	Number *int `json:"number"`
}

func (e *evenOdd) Initialize(_ string, players [2]string) (State, error) {
	if players[0] == players[1] {
		return nil, fmt.Errorf("even_odd needs two distinct players")
	}
	return &evenOddState{players: players, numbers: make(map[string]int, 2)}, nil
}

func (e *evenOdd) CurrentMover(state State) (string, error) {
	s, err := evenOddStateOf(state)
	if err != nil {
		return "", err
	}
	if s.step >= 2 {
		return "", fmt.Errorf("game is over")
	}
	return s.players[s.step], nil
}

func (e *evenOdd) StepContext(state State, playerID string) (json.RawMessage, error) {
	s, err := evenOddStateOf(state)
	if err != nil {
		return nil, err
	}
	role := "even"
	if playerID == s.players[1] {
		role = "odd"
	}
	return json.Marshal(evenOddStep{Role: role, StepNumber: s.step + 1})
}

func (e *evenOdd) ValidateMove(state State, playerID string, movePayload json.RawMessage) bool {
	s, err := evenOddStateOf(state)
	if err != nil {
		return false
	}
	if s.step >= 2 || s.players[s.step] != playerID {
		return false
	}
	var move evenOddMove
	if err := json.Unmarshal(movePayload, &move); err != nil {
		return false
	}
	return move.Number != nil
}

func (e *evenOdd) ApplyMove(state State, playerID string, movePayload json.RawMessage) (State, error) {
	s, err := evenOddStateOf(state)
	if err != nil {
		return nil, err
	}
	if !e.ValidateMove(state, playerID, movePayload) {
		return nil, fmt.Errorf("illegal move for %s", playerID)
	}
	var move evenOddMove
	if err := json.Unmarshal(movePayload, &move); err != nil {
		return nil, err
	}
	next := &evenOddState{players: s.players, numbers: make(map[string]int, 2), step: s.step + 1}
	for k, v := range s.numbers {
		next.numbers[k] = v
	}
	next.numbers[playerID] = *move.Number
	return next, nil
}

func (e *evenOdd) IsTerminal(state State) bool {
	s, err := evenOddStateOf(state)
	return err == nil && s.step >= 2
}

func (e *evenOdd) Outcome(state State) (Outcome, error) {
	s, err := evenOddStateOf(state)
	if err != nil {
		return Outcome{}, err
	}
	if s.step < 2 {
		return Outcome{}, fmt.Errorf("game is not over")
	}
	sum := s.numbers[s.players[0]] + s.numbers[s.players[1]]
	winner, loser := s.players[0], s.players[1]
	// Go's % keeps the sign for negative sums; any non-zero remainder is odd.
	if sum%2 != 0 {
		winner, loser = s.players[1], s.players[0]
	}
	return Outcome{
		Results: map[string]string{winner: "win", loser: "loss"},
		Points:  map[string]int{winner: e.scoring.Win, loser: e.scoring.Loss},
	}, nil
}

func evenOddStateOf(state State) (*evenOddState, error) {
	s, ok := state.(*evenOddState)
	if !ok {
		return nil, fmt.Errorf("state is not an even_odd state")
	}
	return s, nil
}
