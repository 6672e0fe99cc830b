package byte_bpe

import (
	"github.com/wbrown/byte_bpe/types"
)

// pairStats accumulates occurrence counts of adjacent token pairs.
// Alongside the counts it records the order in which distinct pairs
// were first encountered; map iteration order is randomized in Go,
// and the trainer's tie-break has to be stable across runs.
type pairStats struct {
	counts map[types.TokenPair]int
	order  []types.TokenPair
}

func newPairStats() *pairStats {
	return &pairStats{
		counts: make(map[types.TokenPair]int),
		order:  make([]types.TokenPair, 0, 256),
	}
}

// countInto adds the adjacent pair counts of ids to the accumulated
// stats. Sequences shorter than two ids contribute nothing.
func (stats *pairStats) countInto(ids types.Tokens) {
	for idx := 0; idx+1 < len(ids); idx++ {
		pair := types.TokenPair{Left: ids[idx], Right: ids[idx+1]}
		if _, seen := stats.counts[pair]; !seen {
			stats.order = append(stats.order, pair)
		}
		stats.counts[pair]++
	}
}

// maxPair returns the pair with the highest count. Ties go to the
// pair encountered first in the counting pass. ok is false when
// nothing has been counted.
func (stats *pairStats) maxPair() (best types.TokenPair, ok bool) {
	bestCount := 0
	for _, pair := range stats.order {
		if count := stats.counts[pair]; count > bestCount {
			best = pair
			bestCount = count
			ok = true
		}
	}
	return best, ok
}

// reset clears the stats while keeping the allocations for reuse
// across training iterations.
func (stats *pairStats) reset() {
	for pair := range stats.counts {
		delete(stats.counts, pair)
	}
	stats.order = stats.order[:0]
}

// mergePair rewrites ids, replacing every non-overlapping
// left-to-right occurrence of pair with newId. Overlapping
// candidates consume left to right: [A, A, A] merging (A, A)
// becomes [R, A]. If the pair does not occur, the input slice is
// returned unchanged.
func mergePair(ids types.Tokens, pair types.TokenPair,
	newId types.Token) types.Tokens {
	found := false
	for idx := 0; idx+1 < len(ids); idx++ {
		if ids[idx] == pair.Left && ids[idx+1] == pair.Right {
			found = true
			break
		}
	}
	if !found {
		return ids
	}

	merged := make(types.Tokens, 0, len(ids))
	for idx := 0; idx < len(ids); {
		if idx+1 < len(ids) && ids[idx] == pair.Left &&
			ids[idx+1] == pair.Right {
			merged = append(merged, newId)
			idx += 2
		} else {
			merged = append(merged, ids[idx])
			idx += 1
		}
	}
	return merged
}

// byteTokens expands text into its raw byte values, the initial id
// sequence every train or encode pass starts from.
func byteTokens(text string) types.Tokens {
	ids := make(types.Tokens, len(text))
	for idx := 0; idx < len(text); idx++ {
		ids[idx] = types.Token(text[idx])
	}
	return ids
}
