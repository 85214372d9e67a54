package brackets

import "fmt"

// Pair is one unordered round-robin pairing. Lower seed is always first so
// the pair set is canonical regardless of input order quirks.
type Pair struct {
	Player1ID int
	Player2ID int
}

// RoundRobinPairs generates matches for a single round-robin: each player
// plays every other player exactly once, C(n,2) pairs, no self-pairs.
// Pair order is deterministic in the seeding order of ids.
func RoundRobinPairs(ids []int) ([]Pair, error) {
	if len(ids) < 2 {
		return nil, fmt.Errorf("round robin: not enough participants (found %d, min 2 required)", len(ids))
	}
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("round robin: duplicate participant id %d", id)
		}
		seen[id] = struct{}{}
	}

	pairs := make([]Pair, 0, len(ids)*(len(ids)-1)/2)
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			pairs = append(pairs, Pair{Player1ID: ids[i], Player2ID: ids[j]})
		}
	}
	return pairs, nil
}
