package player

import (
	"encoding/json"
	"math/rand"
	"sync"

	"github.com/openleague/league-manager/internal/protocol"
)

// RandomNumberStrategy plays number-submission games by picking a random
// integer in [0, max). It fits even_odd and any game whose move payload is
// {"number": n}.
type RandomNumberStrategy struct {
	mu  sync.Mutex
	rng *rand.Rand
	max int
}

func NewRandomNumberStrategy(seed int64, max int) *RandomNumberStrategy {
	if max <= 0 {
		max = 100
	}
	return &RandomNumberStrategy{rng: rand.New(rand.NewSource(seed)), max: max}
}

func (s *RandomNumberStrategy) ComputeMove(_ string, _ protocol.RequestMove) (json.RawMessage, error) {
	s.mu.Lock()
	n := s.rng.Intn(s.max)
	s.mu.Unlock()
	return json.Marshal(map[string]int{"number": n})
}
