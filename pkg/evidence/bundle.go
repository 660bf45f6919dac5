// Package evidence assembles the evidence bundle handed to the answer stage and
// keeps it inside the prompt byte budget.
package evidence

import (
	"slices"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/fingerprint"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/store"
)

const (
	// MaxPromptBytes is the default byte budget of a serialized bundle.
	MaxPromptBytes = 8192
	// MinEvidenceItems is the floor truncation never goes below. It is the anchor.
	MinEvidenceItems = 1
)

type Transitions struct {
	Preceding  []common.Node `json:"preceding"`
	Succeeding []common.Node `json:"succeeding"`
}

// Bundle is the anchor plus the events and transitions that support it.
type Bundle struct {
	Anchor      common.Node   `json:"anchor"`
	Events      []common.Node `json:"events"`
	Transitions Transitions   `json:"transitions"`
	AllowedIDs  []string      `json:"allowed_ids"`
}

func newBundle(anchor common.Node, events, preceding, succeeding []common.Node) *Bundle {
	b := &Bundle{
		Anchor: anchor,
		Events: append([]common.Node{}, events...),
		Transitions: Transitions{
			Preceding:  append([]common.Node{}, preceding...),
			Succeeding: append([]common.Node{}, succeeding...),
		},
	}
	store.SortNodes(b.Events)
	store.SortNodes(b.Transitions.Preceding)
	store.SortNodes(b.Transitions.Succeeding)
	b.AllowedIDs = b.computeAllowedIDs()
	return b
}

func (b *Bundle) computeAllowedIDs() []string {
	ids := []string{b.Anchor.ID}
	for _, n := range b.Events {
		ids = append(ids, n.ID)
	}
	ids = append(ids, b.TransitionIDs()...)
	slices.Sort(ids)
	return slices.Compact(ids)
}

// TransitionIDs lists the ids of every transition present in the bundle.
func (b *Bundle) TransitionIDs() []string {
	ids := make([]string, 0, len(b.Transitions.Preceding)+len(b.Transitions.Succeeding))
	for _, n := range b.Transitions.Preceding {
		ids = append(ids, n.ID)
	}
	for _, n := range b.Transitions.Succeeding {
		ids = append(ids, n.ID)
	}
	return ids
}

// MandatoryIDs are the ids every answer has to cite: the anchor and each present transition.
func (b *Bundle) MandatoryIDs() []string {
	return append([]string{b.Anchor.ID}, b.TransitionIDs()...)
}

// Allows reports whether id may be cited.
func (b *Bundle) Allows(id string) bool {
	_, ok := slices.BinarySearch(b.AllowedIDs, id)
	return ok
}

// ItemCount counts every node in the bundle including the anchor.
func (b *Bundle) ItemCount() int {
	return 1 + len(b.Events) + len(b.Transitions.Preceding) + len(b.Transitions.Succeeding)
}

func (b *Bundle) HasPreceding() bool  { return len(b.Transitions.Preceding) > 0 }
func (b *Bundle) HasSucceeding() bool { return len(b.Transitions.Succeeding) > 0 }

// Size is the byte length of the bundle's canonical JSON.
func (b *Bundle) Size() (int, error) {
	data, err := fingerprint.Canonicalize(b)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// Fingerprint identifies the bundle's content.
func (b *Bundle) Fingerprint() (string, error) {
	return fingerprint.Fingerprint(b)
}

// without returns a copy of the bundle lacking the node with the given id.
func (b *Bundle) without(id string) *Bundle {
	keep := func(nodes []common.Node) []common.Node {
		out := make([]common.Node, 0, len(nodes))
		for _, n := range nodes {
			if n.ID != id {
				out = append(out, n)
			}
		}
		return out
	}
	next := &Bundle{
		Anchor: b.Anchor,
		Events: keep(b.Events),
		Transitions: Transitions{
			Preceding:  keep(b.Transitions.Preceding),
			Succeeding: keep(b.Transitions.Succeeding),
		},
	}
	next.AllowedIDs = next.computeAllowedIDs()
	return next
}

// items lists every non-anchor node in the bundle.
func (b *Bundle) items() []common.Node {
	out := make([]common.Node, 0, b.ItemCount()-1)
	out = append(out, b.Events...)
	out = append(out, b.Transitions.Preceding...)
	out = append(out, b.Transitions.Succeeding...)
	return out
}

// Metrics describes how the bundle was assembled.
type Metrics struct {
	TotalNeighborsFound int      `json:"total_neighbors_found"`
	SelectorTruncation  bool     `json:"selector_truncation"`
	FinalEvidenceCount  int      `json:"final_evidence_count"`
	DroppedEvidenceIDs  []string `json:"dropped_evidence_ids"`
	BundleSizeBytes     int      `json:"bundle_size_bytes"`
	CandidateSizeBytes  int      `json:"candidate_size_bytes"`
	OverBudget          bool     `json:"over_budget,omitempty"`
	Scorer              string   `json:"scorer"`
}
