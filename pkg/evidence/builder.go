package evidence

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
)

type Config struct {
	MaxBytes int
	// Truncate disables the selector when false. Oversized bundles are then kept whole.
	Truncate bool
}

func DefaultConfig() Config {
	return Config{MaxBytes: MaxPromptBytes, Truncate: true}
}

// Result carries the bundle before and after selection.
type Result struct {
	Candidate *Bundle `json:"candidate"`
	Bundle    *Bundle `json:"bundle"`
	Metrics   Metrics `json:"metrics"`
}

type Builder struct {
	config Config
	scorer Scorer
}

func NewBuilder(config Config, scorer Scorer) *Builder {
	if config.MaxBytes <= 0 {
		config.MaxBytes = MaxPromptBytes
	}
	if scorer == nil {
		scorer = NewFormulaScorer(DefaultWeights())
	}
	return &Builder{config: config, scorer: scorer}
}

func (b *Builder) Config() Config { return b.config }

// Build assembles the candidate bundle for intent and truncates it to the byte budget.
func (b *Builder) Build(anchor common.Node, intent common.Intent, candidates common.Candidates) (*Result, error) {
	scope := intent.Scope()

	var events, preceding, succeeding []common.Node
	seen := map[string]struct{}{anchor.ID: {}}
	take := func(dst *[]common.Node, nodes []common.Node) {
		for _, n := range nodes {
			if _, dup := seen[n.ID]; dup {
				continue
			}
			seen[n.ID] = struct{}{}
			*dst = append(*dst, n)
		}
	}
	if scope.Events {
		take(&events, candidates.Events)
	}
	if scope.Preceding {
		take(&preceding, candidates.TransitionsIn)
	}
	if scope.Succeeding {
		take(&succeeding, candidates.TransitionsOut)
	}

	candidate := newBundle(anchor, events, preceding, succeeding)
	size, err := candidate.Size()
	if err != nil {
		return nil, fmt.Errorf("failed to size candidate bundle: %w", err)
	}

	metrics := Metrics{
		TotalNeighborsFound: candidate.ItemCount() - 1,
		FinalEvidenceCount:  candidate.ItemCount() - 1,
		DroppedEvidenceIDs:  []string{},
		BundleSizeBytes:     size,
		CandidateSizeBytes:  size,
		Scorer:              b.scorer.Name(),
	}
	if size <= b.config.MaxBytes || !b.config.Truncate {
		metrics.OverBudget = size > b.config.MaxBytes
		return &Result{Candidate: candidate, Bundle: candidate, Metrics: metrics}, nil
	}

	current := candidate
	for _, id := range b.dropOrder(candidate) {
		if current.ItemCount() <= MinEvidenceItems {
			break
		}
		current = current.without(id)
		metrics.DroppedEvidenceIDs = append(metrics.DroppedEvidenceIDs, id)
		if size, err = current.Size(); err != nil {
			return nil, fmt.Errorf("failed to size bundle: %w", err)
		}
		if size <= b.config.MaxBytes {
			break
		}
	}

	metrics.SelectorTruncation = len(metrics.DroppedEvidenceIDs) > 0
	metrics.FinalEvidenceCount = current.ItemCount() - 1
	metrics.BundleSizeBytes = size
	metrics.OverBudget = size > b.config.MaxBytes
	return &Result{Candidate: candidate, Bundle: current, Metrics: metrics}, nil
}

// dropOrder lists non-anchor ids from least to most valuable. Among equal scores
// the older item goes first, then the larger id.
func (b *Builder) dropOrder(bundle *Bundle) []string {
	type scored struct {
		node  common.Node
		score float64
	}
	items := bundle.items()
	ranked := make([]scored, 0, len(items))
	for _, n := range items {
		ranked = append(ranked, scored{node: n, score: b.scorer.Score(n, bundle.Anchor)})
	}
	slices.SortFunc(ranked, func(x, y scored) int {
		if c := cmp.Compare(x.score, y.score); c != 0 {
			return c
		}
		if c := x.node.Timestamp.Compare(y.node.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(y.node.ID, x.node.ID)
	})

	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.node.ID
	}
	return ids
}
