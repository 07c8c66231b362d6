// Package game defines the contract between the referee's match executor and
// pluggable game rule engines. The executor conducts the protocol and
// enforces deadlines; everything game-specific lives behind Engine, and the
// step/move blobs cross it uninspected.
package game

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/openleague/league-manager/internal/config"
)

// State is an opaque game position owned by the engine. The executor only
// threads it between calls.
type State interface{}

// Outcome is the engine's final verdict: per-player result strings
// ("win"/"loss"/"draw") and the points they earn.
type Outcome struct {
	Results map[string]string
	Points  map[string]int
}

// Engine is one game type's rule implementation.
type Engine interface {
	// Initialize builds the opening state for a match between exactly two
	// players. Player order carries any first-mover convention the game
	// defines.
	Initialize(matchID string, players [2]string) (State, error)

	// CurrentMover names the player who must act on the given state.
	CurrentMover(state State) (string, error)

	// StepContext produces the opaque context sent with REQUEST_MOVE.
	StepContext(state State, playerID string) (json.RawMessage, error)

	// ValidateMove checks a move without applying it.
	ValidateMove(state State, playerID string, movePayload json.RawMessage) bool

	// ApplyMove returns the successor state.
	ApplyMove(state State, playerID string, movePayload json.RawMessage) (State, error)

	// IsTerminal reports whether the game has ended.
	IsTerminal(state State) bool

	// Outcome computes the final verdict for a terminal state.
	Outcome(state State) (Outcome, error)
}

// Factory builds an engine instance for one match, parameterized by the
// effective scoring table.
type Factory func(scoring config.Scoring) Engine

// Registry maps game types to engine factories. Safe for concurrent use;
// registration normally happens at process start.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a factory to a game type, replacing any previous binding.
func (r *Registry) Register(gameType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[gameType] = f
}

// New instantiates an engine for the game type, or fails for unknown types.
func (r *Registry) New(gameType string, scoring config.Scoring) (Engine, error) {
	r.mu.RLock()
	f, ok := r.factories[gameType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported game type %q", gameType)
	}
	return f(scoring), nil
}

// Supports reports whether the game type has a registered engine.
func (r *Registry) Supports(gameType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[gameType]
	return ok
}

// Types lists the registered game types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
