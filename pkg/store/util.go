package store

import (
	"math"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
)

func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// SortScored orders hits by score desc, then id asc, in place.
func SortScored(hits []common.ScoredNode) {
	slices.SortStableFunc(hits, func(a, b common.ScoredNode) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Node.ID, b.Node.ID)
	})
}

// LexicalConfidence maps an unbounded relevance score onto [0, 1) as s/(s+1).
// Postgres ts_rank_cd applies the same mapping with normalization flag 32.
func LexicalConfidence(score float64) float64 {
	if score <= 0 {
		return 0
	}
	return score / (score + 1)
}

// CosineSimilarity of two vectors. Mismatched or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SortNodes orders nodes by timestamp, then id.
func SortNodes(nodes []common.Node) {
	slices.SortStableFunc(nodes, func(a, b common.Node) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
