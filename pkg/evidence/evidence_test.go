package evidence

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/whygraph/backend/internal/testutil"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/store/memory"
)

func expand(t *testing.T, anchorID string) (common.Node, common.Candidates) {
	t.Helper()
	s, err := memory.New(testutil.AcmeGraph())
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	anchor, _, err := s.ResolveBySlug(t.Context(), anchorID)
	if err != nil || anchor == nil {
		t.Fatalf("failed to resolve %s: %v", anchorID, err)
	}
	var c common.Candidates
	_, err = s.ExpandOneHop(t.Context(), anchorID, func(n common.Neighbor) error {
		switch n.Direction {
		case common.Connected:
			c.Events = append(c.Events, n.Node)
		case common.Incoming:
			c.TransitionsIn = append(c.TransitionsIn, n.Node)
		case common.Outgoing:
			c.TransitionsOut = append(c.TransitionsOut, n.Node)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to expand: %v", err)
	}
	return *anchor, c
}

func unionIDs(b *Bundle) []string {
	ids := []string{b.Anchor.ID}
	for _, n := range b.Events {
		ids = append(ids, n.ID)
	}
	ids = append(ids, b.TransitionIDs()...)
	slices.Sort(ids)
	return ids
}

func TestBuildAcmeExit(t *testing.T) {
	anchor, c := expand(t, testutil.AnchorExit)
	res, err := NewBuilder(DefaultConfig(), nil).Build(anchor, common.IntentWhyDecision, c)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}

	b := res.Bundle
	if len(b.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(b.Events))
	}
	if b.HasPreceding() || b.HasSucceeding() {
		t.Fatal("expected no transitions")
	}
	want := []string{testutil.AnchorExit, testutil.EventCompetitor, testutil.EventMarginDrop}
	slices.Sort(want)
	if !slices.Equal(b.AllowedIDs, want) {
		t.Fatalf("allowed ids = %v, want %v", b.AllowedIDs, want)
	}
	if res.Metrics.SelectorTruncation {
		t.Fatal("small bundle must not be truncated")
	}
	if res.Metrics.TotalNeighborsFound != 2 || res.Metrics.FinalEvidenceCount != 2 {
		t.Fatalf("unexpected metrics: %+v", res.Metrics)
	}
	if b.Events[0].ID != testutil.EventMarginDrop {
		t.Fatalf("expected events ordered by timestamp, got %s first", b.Events[0].ID)
	}
}

func TestBuildIntentScope(t *testing.T) {
	anchor, c := expand(t, testutil.AnchorGadgets)

	tests := []struct {
		intent      common.Intent
		transitions int
	}{
		{common.IntentWhyDecision, 2},
		{common.IntentWhenDecided, 2},
		{common.IntentWhoDecided, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.intent), func(t *testing.T) {
			res, err := NewBuilder(DefaultConfig(), nil).Build(anchor, tt.intent, c)
			if err != nil {
				t.Fatalf("Build returned error: %v", err)
			}
			if got := len(res.Bundle.TransitionIDs()); got != tt.transitions {
				t.Fatalf("expected %d transitions, got %d", tt.transitions, got)
			}
			if !slices.Equal(res.Bundle.AllowedIDs, unionIDs(res.Bundle)) {
				t.Fatalf("allowed ids %v do not match bundle contents", res.Bundle.AllowedIDs)
			}
		})
	}
}

func TestBuildOrphanDecision(t *testing.T) {
	anchor, c := expand(t, testutil.OrphanDecision)
	res, err := NewBuilder(DefaultConfig(), nil).Build(anchor, common.IntentWhyDecision, c)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if !slices.Equal(res.Bundle.AllowedIDs, []string{testutil.OrphanDecision}) {
		t.Fatalf("expected only the anchor, got %v", res.Bundle.AllowedIDs)
	}
}

// oversized builds an anchor with n events carrying a pad-byte snippet each.
func oversized(n, pad int) (common.Node, common.Candidates) {
	base := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	anchor := common.NewDecision(common.Base{
		ID:        "big-anchor",
		Timestamp: base,
		Rationale: "expand the fill line",
		Tags:      []string{"fill"},
	}, common.DecisionFields{DecisionMaker: "board"})

	var c common.Candidates
	for i := range n {
		c.Events = append(c.Events, common.NewEvent(common.Base{
			ID:        fmt.Sprintf("evt-fill-%02d", i),
			Timestamp: base.AddDate(0, 0, -i),
			Snippet:   strings.Repeat("x", pad),
		}, common.EventFields{LedTo: []string{"big-anchor"}}))
	}
	return anchor, c
}

func TestBuildTruncatesOversizedBundle(t *testing.T) {
	anchor, c := oversized(20, 400)
	res, err := NewBuilder(DefaultConfig(), nil).Build(anchor, common.IntentWhyDecision, c)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}

	m := res.Metrics
	if m.CandidateSizeBytes <= MaxPromptBytes || m.CandidateSizeBytes > 12000 {
		t.Fatalf("fixture should serialize to roughly 10000 bytes, got %d", m.CandidateSizeBytes)
	}
	if !m.SelectorTruncation {
		t.Fatal("expected selector_truncation")
	}
	if m.FinalEvidenceCount >= m.TotalNeighborsFound {
		t.Fatalf("expected final count below total, got %d >= %d", m.FinalEvidenceCount, m.TotalNeighborsFound)
	}
	size, err := res.Bundle.Size()
	if err != nil {
		t.Fatalf("Size returned error: %v", err)
	}
	if size > MaxPromptBytes || size != m.BundleSizeBytes {
		t.Fatalf("bundle size %d (metric %d) exceeds budget", size, m.BundleSizeBytes)
	}
	if !res.Bundle.Allows(anchor.ID) {
		t.Fatal("anchor must survive truncation")
	}
	if !slices.Equal(res.Bundle.AllowedIDs, unionIDs(res.Bundle)) {
		t.Fatalf("allowed ids %v do not match bundle contents", res.Bundle.AllowedIDs)
	}
	for _, id := range m.DroppedEvidenceIDs {
		if res.Bundle.Allows(id) {
			t.Fatalf("dropped id %s still allowed", id)
		}
	}
	if len(res.Candidate.Events) != 20 {
		t.Fatal("candidate bundle must keep every event")
	}

	// One drop fewer must still be over budget.
	undo := res.Candidate
	for _, id := range m.DroppedEvidenceIDs[:len(m.DroppedEvidenceIDs)-1] {
		undo = undo.without(id)
	}
	if s, _ := undo.Size(); s <= MaxPromptBytes {
		t.Fatalf("truncation removed more items than needed: %d bytes fits", s)
	}
}

func TestBuildNeverDropsAnchor(t *testing.T) {
	anchor, c := oversized(5, 400)
	cfg := Config{MaxBytes: 10, Truncate: true}
	res, err := NewBuilder(cfg, nil).Build(anchor, common.IntentWhyDecision, c)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if !slices.Equal(res.Bundle.AllowedIDs, []string{anchor.ID}) {
		t.Fatalf("expected only the anchor to remain, got %v", res.Bundle.AllowedIDs)
	}
	if res.Metrics.FinalEvidenceCount != 0 || len(res.Metrics.DroppedEvidenceIDs) != 5 {
		t.Fatalf("unexpected metrics: %+v", res.Metrics)
	}
	if !res.Metrics.OverBudget {
		t.Fatal("expected over_budget when the anchor alone exceeds the budget")
	}
}

func TestBuildTruncationDisabled(t *testing.T) {
	anchor, c := oversized(20, 400)
	res, err := NewBuilder(Config{MaxBytes: MaxPromptBytes, Truncate: false}, nil).Build(anchor, common.IntentWhyDecision, c)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if res.Metrics.SelectorTruncation || len(res.Bundle.Events) != 20 {
		t.Fatal("expected bundle to stay whole")
	}
	if !res.Metrics.OverBudget {
		t.Fatal("expected over_budget flag")
	}
}

type constScorer struct{}

func (constScorer) Name() string                          { return "const" }
func (constScorer) Score(common.Node, common.Node) float64 { return 1 }

func TestDropOrderTieBreak(t *testing.T) {
	ts := time.Date(2021, time.May, 1, 0, 0, 0, 0, time.UTC)
	anchor := common.NewDecision(common.Base{ID: "a", Timestamp: ts}, common.DecisionFields{})
	events := []common.Node{
		common.NewEvent(common.Base{ID: "e-old", Timestamp: ts.AddDate(0, 0, -10)}, common.EventFields{}),
		common.NewEvent(common.Base{ID: "e-b", Timestamp: ts}, common.EventFields{}),
		common.NewEvent(common.Base{ID: "e-a", Timestamp: ts}, common.EventFields{}),
	}
	b := NewBuilder(DefaultConfig(), constScorer{})
	got := b.dropOrder(newBundle(anchor, events, nil, nil))
	want := []string{"e-old", "e-b", "e-a"}
	if !slices.Equal(got, want) {
		t.Fatalf("drop order = %v, want %v", got, want)
	}
}

func TestFormulaScorer(t *testing.T) {
	anchor, _ := expand(t, testutil.AnchorExit)
	relevant := common.NewEvent(common.Base{
		ID:        "r",
		Timestamp: anchor.Timestamp,
		Summary:   "widget margins collapsed",
		Tags:      []string{"widgets"},
	}, common.EventFields{LedTo: []string{anchor.ID}})
	unrelated := common.NewEvent(common.Base{
		ID:        "u",
		Timestamp: anchor.Timestamp.AddDate(-3, 0, 0),
		Summary:   "cafeteria menu changed",
	}, common.EventFields{})

	s := NewFormulaScorer(DefaultWeights())
	if s.Score(relevant, anchor) <= s.Score(unrelated, anchor) {
		t.Fatal("expected relevant item to outscore unrelated item")
	}
}

func TestScoreComponents(t *testing.T) {
	if got := Similarity("a b c", "b c d"); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("Similarity = %v, want 0.5", got)
	}
	if got := Similarity("", "b"); got != 0 {
		t.Fatalf("Similarity of empty text = %v", got)
	}
	if got := TagOverlap([]string{"Widgets", "x", "widgets"}, []string{"widgets", "y"}); got != 1 {
		t.Fatalf("TagOverlap = %d, want 1", got)
	}
	a := time.Date(2020, time.June, 1, 0, 0, 0, 0, time.UTC)
	if got := RecencyDays(a.AddDate(0, 0, -3), a); got != -3 {
		t.Fatalf("RecencyDays = %v, want -3", got)
	}
}
