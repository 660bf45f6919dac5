package evidence

import (
	"math"
	"strings"
	"time"

	"github.com/OFFIS-RIT/whygraph/backend/internal/util"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
)

// Scorer rates how valuable a non-anchor item is as evidence for the anchor.
// Higher is better. Implementations must be deterministic.
type Scorer interface {
	Name() string
	Score(item common.Node, anchor common.Node) float64
}

// Weights of the formula scorer.
type Weights struct {
	Similarity float64
	Degree     float64
	RecencyDay float64
	TagOverlap float64
}

func DefaultWeights() Weights {
	return Weights{Similarity: 1.0, Degree: 0.1, RecencyDay: 0.01, TagOverlap: 0.25}
}

// FormulaScorer computes
// similarity*W1 + degree*W2 - |recency days|*W3 + tag_overlap*W4.
type FormulaScorer struct {
	Weights Weights
}

func NewFormulaScorer(w Weights) *FormulaScorer {
	return &FormulaScorer{Weights: w}
}

func (s *FormulaScorer) Name() string { return "formula" }

func (s *FormulaScorer) Score(item common.Node, anchor common.Node) float64 {
	sim := Similarity(item.Content(), anchor.Content())
	degree := float64(item.Degree())
	days := math.Abs(RecencyDays(item.Timestamp, anchor.Timestamp))
	tags := float64(TagOverlap(item.Tags, anchor.Tags))

	w := s.Weights
	return sim*w.Similarity + degree*w.Degree - days*w.RecencyDay + tags*w.TagOverlap
}

// Similarity is the Jaccard index of the token sets of a and b.
func Similarity(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

// RecencyDays is the signed distance from anchor to item in days. Older items are negative.
func RecencyDays(item, anchor time.Time) float64 {
	if item.IsZero() || anchor.IsZero() {
		return 0
	}
	return item.Sub(anchor).Hours() / 24
}

// TagOverlap counts the case-insensitive tags both nodes carry.
func TagOverlap(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(b))
	for _, t := range b {
		set[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	n := 0
	seen := make(map[string]struct{}, len(a))
	for _, t := range a {
		t = strings.ToLower(strings.TrimSpace(t))
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			n++
		}
	}
	return n
}

func tokenSet(s string) map[string]struct{} {
	tokens := util.Tokenize(s)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
