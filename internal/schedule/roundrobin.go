// Package schedule generates single round-robin schedules with the circle
// method. Generation is deterministic: player ids are sorted before pairing,
// so the same input always yields the same (round, pair) sequence.
package schedule

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/openleague/league-manager/internal/models"
)

// Pairing is one scheduled match before persistence.
type Pairing struct {
	RoundNumber int
	Players     [2]string
}

// Generate returns the full round-robin pairing list for the given players.
// For odd N a sentinel bye is introduced and its matches discarded, so one
// player idles per round. N < 2 yields an empty schedule.
func Generate(playerIDs []string) ([]Pairing, error) {
	ids := make([]string, len(playerIDs))
	copy(ids, playerIDs)
	sort.Strings(ids)
	for i := 1; i < len(ids); i++ {
		if ids[i] == ids[i-1] {
			return nil, fmt.Errorf("duplicate player id %q", ids[i])
		}
	}

	n := len(ids)
	if n < 2 {
		return nil, nil
	}

	// Circle method: fix slot 0, rotate the rest. The empty string is the
	// bye sentinel for odd N; ids never contain it because real ids are
	// non-empty by registration validation.
	ring := ids
	if n%2 == 1 {
		ring = append([]string{""}, ids...)
	}
	size := len(ring)
	rounds := size - 1

	var out []Pairing
	for r := 0; r < rounds; r++ {
		for i := 0; i < size/2; i++ {
			a, b := ring[i], ring[size-1-i]
			if a == "" || b == "" {
				continue
			}
			if a > b {
				a, b = b, a
			}
			out = append(out, Pairing{RoundNumber: r + 1, Players: [2]string{a, b}})
		}
		// Rotate all but the fixed first slot.
		last := ring[size-1]
		copy(ring[2:], ring[1:size-1])
		ring[1] = last
	}

	if err := verify(ids, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Build materializes a generated schedule into persistable rounds and
// matches. Match ids are freshly generated v4 UUIDs; once the schedule is
// committed they are stable for the life of the league.
func Build(leagueID, gameType string, playerIDs []string) ([]models.Round, []models.Match, error) {
	pairings, err := Generate(playerIDs)
	if err != nil {
		return nil, nil, err
	}
	if len(pairings) == 0 {
		return nil, nil, nil
	}

	roundCount := pairings[len(pairings)-1].RoundNumber
	rounds := make([]models.Round, 0, roundCount)
	roundIDs := make(map[int]string, roundCount)
	for num := 1; num <= roundCount; num++ {
		id := uuid.NewString()
		roundIDs[num] = id
		rounds = append(rounds, models.Round{
			RoundID:     id,
			LeagueID:    leagueID,
			RoundNumber: num,
			Status:      models.RoundPending,
		})
	}

	matches := make([]models.Match, 0, len(pairings))
	for _, p := range pairings {
		matches = append(matches, models.Match{
			MatchID:  uuid.NewString(),
			RoundID:  roundIDs[p.RoundNumber],
			GameType: gameType,
			Players:  p.Players,
			Status:   models.MatchPending,
		})
	}
	return rounds, matches, nil
}

// verify asserts the schedule postconditions before anything is committed:
// exact match count, per-player appearance count, intra-round disjointness,
// and complete pairwise coverage.
func verify(ids []string, pairings []Pairing) error {
	n := len(ids)
	want := n * (n - 1) / 2
	if len(pairings) != want {
		return fmt.Errorf("schedule has %d matches, want %d", len(pairings), want)
	}

	perPlayer := make(map[string]int, n)
	perRound := make(map[int]map[string]bool)
	pairs := make(map[[2]string]bool, want)

	for _, p := range pairings {
		a, b := p.Players[0], p.Players[1]
		if a == b {
			return fmt.Errorf("round %d pairs %q against itself", p.RoundNumber, a)
		}
		perPlayer[a]++
		perPlayer[b]++

		seen := perRound[p.RoundNumber]
		if seen == nil {
			seen = make(map[string]bool)
			perRound[p.RoundNumber] = seen
		}
		if seen[a] || seen[b] {
			return fmt.Errorf("round %d schedules a player twice", p.RoundNumber)
		}
		seen[a], seen[b] = true, true

		key := [2]string{a, b}
		if pairs[key] {
			return fmt.Errorf("pair %v scheduled twice", key)
		}
		pairs[key] = true
	}

	for _, id := range ids {
		if perPlayer[id] != n-1 {
			return fmt.Errorf("player %q has %d matches, want %d", id, perPlayer[id], n-1)
		}
	}
	return nil
}
