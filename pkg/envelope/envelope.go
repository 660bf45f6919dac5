// Package envelope builds the canonical, fingerprinted prompt envelope sent to the answer stage.
package envelope

import (
	"fmt"

	"github.com/OFFIS-RIT/whygraph/backend/internal/util"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/ai"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/evidence"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/fingerprint"
)

const (
	PromptVersion       = "v1"
	OutputSchema        = "answer.v1"
	DefaultMaxTokens    = 256
	MaxShortAnswerChars = 320
)

type Constraints struct {
	OutputSchema        string   `json:"output_schema"`
	MaxTokens           int      `json:"max_tokens"`
	MaxShortAnswerChars int      `json:"max_short_answer_chars"`
	MustCite            []string `json:"must_cite"`
}

// Envelope is immutable once built. Its identity is Fingerprint.
type Envelope struct {
	PromptVersion string           `json:"prompt_version"`
	Intent        common.Intent    `json:"intent"`
	Question      string           `json:"question"`
	Evidence      *evidence.Bundle `json:"evidence"`
	AllowedIDs    []string         `json:"allowed_ids"`
	Constraints   Constraints      `json:"constraints"`
}

// PromptID names the prompt template, e.g. "why_decision.v1".
func (e *Envelope) PromptID() string {
	return fmt.Sprintf("%s.%s", e.Intent, e.PromptVersion)
}

// Built is an envelope together with its canonical form.
type Built struct {
	Envelope    *Envelope `json:"envelope"`
	Canonical   string    `json:"-"`
	Fingerprint string    `json:"prompt_fingerprint"`
	// PromptTokens estimates the size of the rendered prompt, 0 when no counter is set.
	PromptTokens int `json:"prompt_tokens"`
}

// TokenCounter estimates the token count of a prompt.
type TokenCounter func(string) int

type Builder struct {
	maxTokens int
	counter   TokenCounter
}

type Option func(*Builder)

func WithMaxTokens(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxTokens = n
		}
	}
}

// WithTokenCounter enables prompt token estimates, e.g. with ai.CountTokens.
func WithTokenCounter(c TokenCounter) Option {
	return func(b *Builder) { b.counter = c }
}

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{maxTokens: DefaultMaxTokens}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Builder) MaxTokens() int { return b.maxTokens }

// Build constructs, canonicalizes and fingerprints the envelope for bundle.
func (b *Builder) Build(intent common.Intent, question string, bundle *evidence.Bundle) (*Built, error) {
	if bundle == nil {
		return nil, fmt.Errorf("envelope requires an evidence bundle")
	}
	question = util.NormalizeWhitespace(question)
	if question == "" {
		question = intent.DefaultQuestion(bundle.Anchor.ID)
	}

	env := &Envelope{
		PromptVersion: PromptVersion,
		Intent:        intent,
		Question:      question,
		Evidence:      bundle,
		AllowedIDs:    append([]string{}, bundle.AllowedIDs...),
		Constraints: Constraints{
			OutputSchema:        OutputSchema,
			MaxTokens:           b.maxTokens,
			MaxShortAnswerChars: MaxShortAnswerChars,
			MustCite:            bundle.MandatoryIDs(),
		},
	}

	canonical, err := fingerprint.Canonicalize(env)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize envelope: %w", err)
	}

	built := &Built{
		Envelope:    env,
		Canonical:   string(canonical),
		Fingerprint: fingerprint.Sum(canonical),
	}
	if b.counter != nil {
		built.PromptTokens = b.counter(ai.AnswerSystemPrompt) + b.counter(built.Canonical)
	}
	return built, nil
}

// Render returns the user prompt for the model. The system prompt is ai.AnswerSystemPrompt.
func (b *Built) Render() string {
	return "Prompt envelope:\n" + b.Canonical
}
