package pipeline

import (
	"github.com/OFFIS-RIT/whygraph/backend/pkg/ai"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/answer"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/evidence"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/resolver"
)

// Request is a single query. Either AnchorID (structured) or Text (free text) is required.
type Request struct {
	Intent   string  `json:"intent,omitempty"`
	AnchorID string  `json:"anchor_id,omitempty"`
	Text     string  `json:"text,omitempty"`
	Question string  `json:"question,omitempty"`
	Options  Options `json:"options"`
}

type Options struct {
	Policy           answer.Policy `json:"policy,omitempty"`
	EnableEmbeddings *bool         `json:"enable_embeddings,omitempty"`
	BypassCache      bool          `json:"bypass_cache,omitempty"`
}

// Mode tells structured queries with a known anchor from free-text ones.
type Mode string

const (
	ModeStructured Mode = "structured"
	ModeFreeText   Mode = "free_text"
)

func (r Request) Mode() Mode {
	if r.AnchorID != "" {
		return ModeStructured
	}
	return ModeFreeText
}

type CompletenessFlags struct {
	HasPreceding  bool `json:"has_preceding"`
	HasSucceeding bool `json:"has_succeeding"`
	EventCount    int  `json:"event_count"`
	// Partial is set when the expansion timed out and evidence may be incomplete.
	Partial   bool `json:"partial"`
	Truncated bool `json:"truncated"`
}

type AnchorMeta struct {
	ID         string          `json:"id"`
	Confidence float64         `json:"confidence"`
	Method     resolver.Method `json:"method"`
}

type CacheMeta struct {
	Resolver bool `json:"resolver"`
	Evidence bool `json:"evidence"`
	Answer   bool `json:"answer"`
}

type ModelMetrics struct {
	ai.ModelMetrics
	PromptTokensEstimate int `json:"prompt_tokens_estimate"`
}

type Meta struct {
	PolicyID          string           `json:"policy_id"`
	PromptID          string           `json:"prompt_id"`
	PromptFingerprint string           `json:"prompt_fingerprint"`
	SnapshotEtag      string           `json:"snapshot_etag"`
	FallbackUsed      bool             `json:"fallback_used"`
	FallbackCause     string           `json:"fallback_cause,omitempty"`
	AnswerProducer    string           `json:"answer_producer"`
	Retries           int              `json:"retries"`
	LatencyMs         int64            `json:"latency_ms"`
	EvidenceMetrics   evidence.Metrics `json:"evidence_metrics"`
	ModelMetrics      ModelMetrics     `json:"model_metrics"`
	ResolvedAnchor    AnchorMeta       `json:"resolved_anchor"`
	Cache             CacheMeta        `json:"cache"`
	StageLatencyMs    map[string]int64 `json:"stage_latency_ms"`
}

// Response is the authoritative result of a query.
type Response struct {
	RequestID         string            `json:"request_id"`
	Intent            common.Intent     `json:"intent"`
	Question          string            `json:"question"`
	Evidence          *evidence.Bundle  `json:"evidence"`
	Answer            common.Answer     `json:"answer"`
	CompletenessFlags CompletenessFlags `json:"completeness_flags"`
	Meta              Meta              `json:"meta"`
}
