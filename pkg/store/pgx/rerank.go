package pgx

import (
	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/store"
)

// applySimilarities rescores candidates with their cosine similarity.
// Candidates without a stored embedding score 0 and sink to the bottom.
func applySimilarities(candidates []common.ScoredNode, similarities map[string]float64) []common.ScoredNode {
	out := make([]common.ScoredNode, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.Node.ID]; dup {
			continue
		}
		seen[c.Node.ID] = struct{}{}
		score := similarities[c.Node.ID]
		if score < 0 {
			score = 0
		}
		out = append(out, common.ScoredNode{Node: c.Node, Score: score})
	}
	store.SortScored(out)
	return out
}
