package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/whygraph/backend/internal/util"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/envelope"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/evidence"
)

const dateLayout = "2006-01-02"

// Templater composes answers from fixed per-intent templates. It always succeeds
// and cites every id in the bundle, anchor first.
type Templater struct{}

func NewTemplater() *Templater { return &Templater{} }

func (t *Templater) Name() string { return "templater" }

func (t *Templater) Produce(ctx context.Context, built *envelope.Built) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	env := built.Envelope
	return Output{Answer: Compose(env.Intent, env.Evidence)}, nil
}

// Compose is the deterministic answer for intent over bundle.
func Compose(intent common.Intent, bundle *evidence.Bundle) common.Answer {
	var text string
	switch intent {
	case common.IntentWhoDecided:
		text = composeWho(bundle)
	case common.IntentWhenDecided:
		text = composeWhen(bundle)
	default:
		text = composeWhy(bundle)
	}
	return common.Answer{
		ShortAnswer:   util.TruncateRunes(util.NormalizeWhitespace(text), envelope.MaxShortAnswerChars),
		SupportingIDs: citations(bundle),
	}
}

func citations(b *evidence.Bundle) []string {
	ids := []string{b.Anchor.ID}
	for _, n := range b.Events {
		ids = append(ids, n.ID)
	}
	return append(ids, b.TransitionIDs()...)
}

func subject(anchor common.Node) string {
	switch {
	case anchor.DecisionFields != nil && anchor.Option != "":
		return fmt.Sprintf("the decision to %s (%s)", anchor.Option, anchor.ID)
	case anchor.Kind == common.KindDecision:
		return fmt.Sprintf("decision %s", anchor.ID)
	default:
		return fmt.Sprintf("%s %s", anchor.Kind, anchor.ID)
	}
}

func sentence(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), ".")
	if s == "" {
		return ""
	}
	return s + "."
}

func composeWhy(b *evidence.Bundle) string {
	a := b.Anchor
	parts := []string{}
	if reason := firstNonEmpty(a.Rationale, a.Summary, a.Reason); reason != "" {
		parts = append(parts, sentence(fmt.Sprintf("The rationale for %s: %s", subject(a), reason)))
	} else {
		parts = append(parts, sentence(fmt.Sprintf("No rationale is recorded for %s", subject(a))))
	}
	if len(b.Events) > 0 {
		heads := make([]string, 0, len(b.Events))
		for _, e := range b.Events {
			heads = append(heads, strings.TrimRight(e.Headline(), "."))
		}
		parts = append(parts, sentence("Supporting evidence: "+strings.Join(heads, "; ")))
	}
	for _, tr := range b.Transitions.Preceding {
		parts = append(parts, sentence(fmt.Sprintf("It followed %s (%s)", tr.From, firstNonEmpty(tr.Reason, string(tr.Relation)))))
	}
	for _, tr := range b.Transitions.Succeeding {
		parts = append(parts, sentence(fmt.Sprintf("It led to %s (%s)", tr.To, firstNonEmpty(tr.Reason, string(tr.Relation)))))
	}
	return strings.Join(parts, " ")
}

func composeWho(b *evidence.Bundle) string {
	a := b.Anchor
	if a.DecisionFields != nil && a.DecisionMaker != "" {
		return sentence(fmt.Sprintf("%s made %s", a.DecisionMaker, subject(a)))
	}
	return sentence(fmt.Sprintf("The decision maker for %s is not recorded", subject(a)))
}

func composeWhen(b *evidence.Bundle) string {
	a := b.Anchor
	text := "The date of " + subject(a) + " is not recorded."
	if !a.Timestamp.IsZero() {
		text = sentence(fmt.Sprintf("%s was made on %s", upperFirst(subject(a)), a.Timestamp.UTC().Format(dateLayout)))
	}
	if len(b.Transitions.Preceding) > 0 {
		tr := b.Transitions.Preceding[len(b.Transitions.Preceding)-1]
		text += " " + sentence(fmt.Sprintf("It followed %s", tr.From))
	}
	return text
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
