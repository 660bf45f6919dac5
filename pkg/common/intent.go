package common

import (
	"fmt"
	"strings"
	"unicode"
)

// Intent is the kind of question asked about a decision.
type Intent string

const (
	IntentWhyDecision Intent = "why_decision"
	IntentWhoDecided  Intent = "who_decided"
	IntentWhenDecided Intent = "when_decided"
)

// Intents lists every supported intent.
var Intents = []Intent{IntentWhyDecision, IntentWhoDecided, IntentWhenDecided}

// Scope lists which expansion candidates an intent may put into its evidence.
type Scope struct {
	Events     bool
	Preceding  bool
	Succeeding bool
}

// Scope returns the evidence scope of the intent. who_decided never carries transitions.
func (i Intent) Scope() Scope {
	switch i {
	case IntentWhoDecided:
		return Scope{Events: true}
	default:
		return Scope{Events: true, Preceding: true, Succeeding: true}
	}
}

// ParseIntent validates s as an intent name.
func ParseIntent(s string) (Intent, error) {
	intent := Intent(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Intents {
		if intent == known {
			return intent, nil
		}
	}
	return "", fmt.Errorf("unknown intent %q", s)
}

// ClassifyIntent routes a free-text question to an intent by its question words.
// Only whole words count, so "whose" and "whole" do not read as "who".
func ClassifyIntent(text string) Intent {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	when := false
	for i, w := range words {
		switch w {
		case "who", "whom":
			return IntentWhoDecided
		case "when":
			when = true
		case "what":
			if i+1 < len(words) && (words[i+1] == "date" || words[i+1] == "year") {
				when = true
			}
		}
	}
	if when {
		return IntentWhenDecided
	}
	return IntentWhyDecision
}

// DefaultQuestion is used when a structured request carries no question text.
func (i Intent) DefaultQuestion(anchorID string) string {
	switch i {
	case IntentWhoDecided:
		return fmt.Sprintf("Who made the decision %s?", anchorID)
	case IntentWhenDecided:
		return fmt.Sprintf("When was the decision %s made?", anchorID)
	default:
		return fmt.Sprintf("Why was the decision %s made?", anchorID)
	}
}
