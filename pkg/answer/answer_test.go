package answer

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/whygraph/backend/internal/testutil"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/ai"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/envelope"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/evidence"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/expand"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/store/memory"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/validate"
)

// fakeClient replays scripted completions. After the script runs out it repeats the last entry.
type fakeClient struct {
	mu     sync.Mutex
	script []reply
	calls  int
	opts   []ai.GenerateOptions
}

type reply struct {
	text  string
	err   error
	block bool
}

func (c *fakeClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (ai.Completion, error) {
	c.mu.Lock()
	r := c.script[min(c.calls, len(c.script)-1)]
	c.calls++
	c.opts = append(c.opts, ai.ApplyOptions(ai.GenerateOptions{}, opts...))
	c.mu.Unlock()

	if r.block {
		<-ctx.Done()
		return ai.Completion{}, ctx.Err()
	}
	if r.err != nil {
		return ai.Completion{}, r.err
	}
	return ai.Completion{Text: r.text, Model: "fake", Metrics: ai.ModelMetrics{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}, nil
}

func (c *fakeClient) GenerateEmbedding(context.Context, []byte) ([]float32, error) {
	return nil, errors.New("not supported")
}

func (c *fakeClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func (c *fakeClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func built(t *testing.T, anchorID string, intent common.Intent) *envelope.Built {
	t.Helper()
	s, err := memory.New(testutil.AcmeGraph())
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	anchor, _, err := s.ResolveBySlug(t.Context(), anchorID)
	if err != nil || anchor == nil {
		t.Fatalf("failed to resolve anchor: %v", err)
	}
	exp, err := expand.New(s, time.Second).Expand(t.Context(), anchorID)
	if err != nil {
		t.Fatalf("failed to expand: %v", err)
	}
	res, err := evidence.NewBuilder(evidence.DefaultConfig(), nil).Build(*anchor, intent, exp.Candidates)
	if err != nil {
		t.Fatalf("failed to build bundle: %v", err)
	}
	b, err := envelope.NewBuilder().Build(intent, "", res.Bundle)
	if err != nil {
		t.Fatalf("failed to build envelope: %v", err)
	}
	return b
}

func testConfig(policy Policy) Config {
	cfg := DefaultConfig()
	cfg.Policy = policy
	cfg.Backoff.Base = time.Millisecond
	cfg.Backoff.Jitter = 0
	return cfg
}

const validExit = `{"short_answer":"Margins collapsed under competitor pressure.","supporting_ids":["acme-exit-widgets-2020","evt-margin-drop-2019"]}`

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"auto", PolicyAuto, false},
		{" OFF ", PolicyOff, false},
		{"force", PolicyForce, false},
		{"", PolicyAuto, false},
		{"sometimes", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestComposePassesValidation(t *testing.T) {
	for _, anchorID := range []string{testutil.AnchorExit, testutil.AnchorGadgets, testutil.OrphanDecision} {
		for _, intent := range common.Intents {
			t.Run(anchorID+"/"+string(intent), func(t *testing.T) {
				b := built(t, anchorID, intent)
				a := Compose(intent, b.Envelope.Evidence)
				if a.SupportingIDs[0] != anchorID {
					t.Fatalf("expected anchor first, got %v", a.SupportingIDs)
				}
				if r := validate.Validate(a, b.Envelope.Evidence); !r.Passed() {
					t.Fatalf("templated answer failed validation: %v", r.Reasons)
				}
			})
		}
	}
}

func TestComposeTexts(t *testing.T) {
	tests := []struct {
		intent common.Intent
		want   string
	}{
		{common.IntentWhoDecided, "ACME board made the decision to exit the widgets market"},
		{common.IntentWhenDecided, "2020-06-01"},
		{common.IntentWhyDecision, "Widget margins collapsed"},
	}
	for _, tt := range tests {
		b := built(t, testutil.AnchorExit, tt.intent)
		a := Compose(tt.intent, b.Envelope.Evidence)
		if !strings.Contains(a.ShortAnswer, tt.want) {
			t.Errorf("%s answer %q does not contain %q", tt.intent, a.ShortAnswer, tt.want)
		}
	}
}

func TestEngineModelSuccess(t *testing.T) {
	client := &fakeClient{script: []reply{{text: validExit}}}
	e := NewEngine(testConfig(PolicyAuto), NewModelProducer(client, "m1"), nil)

	out, err := e.Run(t.Context(), built(t, testutil.AnchorExit, common.IntentWhyDecision), "")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if out.FallbackUsed || out.Retries != 0 || out.Producer != "model" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.RawModelOutput == nil || *out.RawModelOutput != validExit {
		t.Fatal("expected raw model output to be kept verbatim")
	}
	if out.ModelMetrics.TotalTokens != 15 {
		t.Fatalf("expected model metrics to be tracked, got %+v", out.ModelMetrics)
	}

	opts := client.opts[0]
	if opts.Temperature != 0 || opts.Schema == nil || opts.MaxTokens != envelope.DefaultMaxTokens || opts.Model != "m1" {
		t.Fatalf("unexpected generate options %+v", opts)
	}
}

func TestModelProducerRepairsCompleteJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "fenced", raw: "```json\n" + validExit + "\n```"},
		{name: "trailing comma", raw: strings.TrimSuffix(validExit, "}") + ",}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{script: []reply{{text: tt.raw}}}
			out, err := NewModelProducer(client, "").Produce(t.Context(), built(t, testutil.AnchorExit, common.IntentWhyDecision))
			if err != nil {
				t.Fatalf("Produce returned error: %v", err)
			}
			if len(out.Answer.SupportingIDs) != 2 || out.Answer.ShortAnswer == "" {
				t.Fatalf("unexpected answer %+v", out.Answer)
			}
		})
	}
}

func TestEngineFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		script  []reply
		calls   int
		retries int
		cause   string
	}{
		{
			name:    "unrelated id",
			script:  []reply{{text: `{"short_answer":"x","supporting_ids":["unrelated-id-not-in-bundle"]}`}},
			calls:   2,
			retries: 1,
			cause:   "validation_failed",
		},
		{
			name:    "malformed json",
			script:  []reply{{text: "I am sorry, I cannot answer that."}},
			calls:   3,
			retries: 2,
			cause:   "malformed_output",
		},
		{
			name:    "truncated json",
			script:  []reply{{text: `{"short_answer": "Because`}},
			calls:   3,
			retries: 2,
			cause:   "malformed_output",
		},
		{
			name:    "missing supporting ids",
			script:  []reply{{text: `{"short_answer":"Margins collapsed."}`}},
			calls:   3,
			retries: 2,
			cause:   "malformed_output",
		},
		{
			name:    "transport error",
			script:  []reply{{err: errors.New("connection refused")}},
			calls:   3,
			retries: 2,
			cause:   "model_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{script: tt.script}
			e := NewEngine(testConfig(PolicyAuto), NewModelProducer(client, ""), nil)
			b := built(t, testutil.AnchorExit, common.IntentWhyDecision)

			out, err := e.Run(t.Context(), b, "")
			if err != nil {
				t.Fatalf("Run returned error: %v", err)
			}
			if client.Calls() != tt.calls {
				t.Fatalf("expected %d model calls, got %d", tt.calls, client.Calls())
			}
			if !out.FallbackUsed || out.Producer != "templater" {
				t.Fatalf("expected templater fallback, got %+v", out)
			}
			if out.Retries != tt.retries || out.FallbackCause != tt.cause {
				t.Fatalf("retries=%d cause=%s, want %d %s", out.Retries, out.FallbackCause, tt.retries, tt.cause)
			}
			if !out.Validation.Passed() {
				t.Fatalf("fallback answer must validate: %v", out.Validation.Reasons)
			}
			if !slices.Contains(out.Answer.SupportingIDs, testutil.AnchorExit) {
				t.Fatal("fallback answer must cite the anchor")
			}
			if tt.cause != "model_error" && len(out.RawOutputs()) != tt.calls {
				t.Fatalf("expected every raw output to be kept, got %d", len(out.RawOutputs()))
			}
		})
	}
}

func TestEngineRetryThenSuccess(t *testing.T) {
	client := &fakeClient{script: []reply{{text: "{broken"}, {text: validExit}}}
	e := NewEngine(testConfig(PolicyAuto), NewModelProducer(client, ""), nil)

	out, err := e.Run(t.Context(), built(t, testutil.AnchorExit, common.IntentWhyDecision), "")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if out.FallbackUsed || out.Retries != 1 || len(out.Attempts) != 2 {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestEngineTimeoutFallsBack(t *testing.T) {
	client := &fakeClient{script: []reply{{block: true}}}
	cfg := testConfig(PolicyAuto)
	cfg.Timeout = 30 * time.Millisecond
	e := NewEngine(cfg, NewModelProducer(client, ""), nil)

	out, err := e.Run(t.Context(), built(t, testutil.AnchorExit, common.IntentWhyDecision), "")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !out.FallbackUsed || out.FallbackCause != "timeout" {
		t.Fatalf("expected timeout fallback, got %+v", out)
	}
	if out.RawModelOutput != nil {
		t.Fatal("no raw output expected from a timed out call")
	}
}

func TestEngineForceSurfacesFailure(t *testing.T) {
	client := &fakeClient{script: []reply{{text: "nope"}}}
	e := NewEngine(testConfig(PolicyForce), NewModelProducer(client, ""), nil)

	_, err := e.Run(t.Context(), built(t, testutil.AnchorExit, common.IntentWhyDecision), "")
	if !errors.Is(err, ErrAnswerProductionFailed) {
		t.Fatalf("expected ErrAnswerProductionFailed, got %v", err)
	}
}

func TestEnginePolicyOff(t *testing.T) {
	client := &fakeClient{script: []reply{{text: validExit}}}
	e := NewEngine(testConfig(PolicyOff), NewModelProducer(client, ""), nil)

	out, err := e.Run(t.Context(), built(t, testutil.AnchorGadgets, common.IntentWhyDecision), "")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if client.Calls() != 0 {
		t.Fatal("policy off must not call the model")
	}
	if out.FallbackUsed || out.Policy != PolicyOff || out.RawModelOutput != nil {
		t.Fatalf("unexpected outcome %+v", out)
	}
	for _, id := range []string{testutil.TransitionIn, testutil.TransitionOut} {
		if !slices.Contains(out.Answer.SupportingIDs, id) {
			t.Fatalf("templated answer must cite transition %s", id)
		}
	}
}

func TestEnginePolicyOverrideAndDegrade(t *testing.T) {
	e := NewEngine(testConfig(PolicyAuto), nil, nil)
	if e.EffectivePolicy() != PolicyOff {
		t.Fatalf("auto without a model must degrade to off, got %s", e.EffectivePolicy())
	}
	if _, err := e.Run(t.Context(), built(t, testutil.AnchorExit, common.IntentWhyDecision), PolicyForce); !errors.Is(err, ErrAnswerProductionFailed) {
		t.Fatalf("force without a model must fail, got %v", err)
	}

	client := &fakeClient{script: []reply{{text: validExit}}}
	e = NewEngine(testConfig(PolicyAuto), NewModelProducer(client, ""), nil)
	out, err := e.Run(t.Context(), built(t, testutil.AnchorExit, common.IntentWhyDecision), PolicyOff)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if out.Policy != PolicyOff || client.Calls() != 0 {
		t.Fatalf("override was ignored: %+v", out)
	}
}

func TestEngineParentCancellation(t *testing.T) {
	client := &fakeClient{script: []reply{{block: true}}}
	e := NewEngine(testConfig(PolicyAuto), NewModelProducer(client, ""), nil)

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := e.Run(ctx, built(t, testutil.AnchorExit, common.IntentWhyDecision), ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
