package envelope

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/evidence"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/fingerprint"
)

func bundle(t *testing.T) *evidence.Bundle {
	t.Helper()
	ts := time.Date(2021, time.March, 1, 0, 0, 0, 0, time.UTC)
	anchor := common.NewDecision(common.Base{ID: "d1", Timestamp: ts, Summary: "enter gadgets"}, common.DecisionFields{
		Transitions: []string{"t-in"},
	})
	c := common.Candidates{
		Events: []common.Node{
			common.NewEvent(common.Base{ID: "e1", Timestamp: ts.AddDate(0, -1, 0)}, common.EventFields{LedTo: []string{"d1"}}),
		},
		TransitionsIn: []common.Node{
			common.NewTransition(common.Base{ID: "t-in", Timestamp: ts.AddDate(0, -2, 0)}, common.TransitionFields{From: "d0", To: "d1", Relation: common.RelationCausal}),
		},
	}
	res, err := evidence.NewBuilder(evidence.DefaultConfig(), nil).Build(anchor, common.IntentWhyDecision, c)
	if err != nil {
		t.Fatalf("failed to build bundle: %v", err)
	}
	return res.Bundle
}

func TestBuildEnvelope(t *testing.T) {
	b := bundle(t)
	built, err := NewBuilder().Build(common.IntentWhyDecision, "  Why   did we\n enter gadgets? ", b)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	env := built.Envelope
	if env.Question != "Why did we enter gadgets?" {
		t.Fatalf("question not normalized: %q", env.Question)
	}
	if env.PromptID() != "why_decision.v1" {
		t.Fatalf("unexpected prompt id %s", env.PromptID())
	}
	if !slices.Equal(env.Constraints.MustCite, []string{"d1", "t-in"}) {
		t.Fatalf("unexpected must_cite %v", env.Constraints.MustCite)
	}
	if !slices.Equal(env.AllowedIDs, b.AllowedIDs) {
		t.Fatalf("allowed ids %v differ from bundle %v", env.AllowedIDs, b.AllowedIDs)
	}
	if !strings.HasPrefix(built.Fingerprint, fingerprint.Prefix) {
		t.Fatalf("unexpected fingerprint %s", built.Fingerprint)
	}
	want, err := fingerprint.Fingerprint(env)
	if err != nil {
		t.Fatalf("Fingerprint returned error: %v", err)
	}
	if want != built.Fingerprint {
		t.Fatalf("fingerprint mismatch: %s != %s", want, built.Fingerprint)
	}
	if !strings.Contains(built.Render(), built.Canonical) {
		t.Fatal("rendered prompt must embed the canonical envelope")
	}
	if built.PromptTokens != 0 {
		t.Fatal("expected no token estimate without a counter")
	}
}

func TestBuildEnvelopeDeterministic(t *testing.T) {
	b := bundle(t)
	first, err := NewBuilder().Build(common.IntentWhyDecision, "Why?", b)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	second, err := NewBuilder().Build(common.IntentWhyDecision, " Why? ", bundle(t))
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if first.Fingerprint != second.Fingerprint {
		t.Fatal("equal envelopes must share a fingerprint")
	}

	other, err := NewBuilder(WithMaxTokens(512)).Build(common.IntentWhyDecision, "Why?", b)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if other.Fingerprint == first.Fingerprint {
		t.Fatal("different constraints must change the fingerprint")
	}
}

func TestBuildEnvelopeDefaultsQuestionAndCountsTokens(t *testing.T) {
	counter := func(s string) int { return len(s) }
	built, err := NewBuilder(WithTokenCounter(counter)).Build(common.IntentWhoDecided, "", bundle(t))
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if built.Envelope.Question != common.IntentWhoDecided.DefaultQuestion("d1") {
		t.Fatalf("unexpected default question %q", built.Envelope.Question)
	}
	if built.PromptTokens <= len(built.Canonical) {
		t.Fatalf("expected token estimate to include the system prompt, got %d", built.PromptTokens)
	}
}

func TestBuildEnvelopeRequiresBundle(t *testing.T) {
	if _, err := NewBuilder().Build(common.IntentWhyDecision, "q", nil); err == nil {
		t.Fatal("expected error for nil bundle")
	}
}
