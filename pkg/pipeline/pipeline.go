// Package pipeline runs a query through resolve, expand, bundle, envelope,
// answer, validate and record, and builds the response envelope.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/OFFIS-RIT/whygraph/backend/internal/util"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/answer"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/audit"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/envelope"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/evidence"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/expand"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/metrics"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/resolver"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/snapshot"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/store"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/validate"
)

var errBudgetExceeded = errors.New("request budget exceeded")

type Config struct {
	ResolveTimeout   time.Duration
	ExpandTimeout    time.Duration
	ValidateTimeout  time.Duration
	StructuredBudget time.Duration
	FreeTextBudget   time.Duration
	// EnableEmbeddings is the default for requests that do not set it. It needs a store with an embedder.
	EnableEmbeddings bool
	Resolver         resolver.Config
	Evidence         evidence.Config
}

func DefaultConfig() Config {
	return Config{
		ResolveTimeout:   800 * time.Millisecond,
		ExpandTimeout:    expand.DefaultTimeout,
		ValidateTimeout:  validate.DefaultTimeout,
		StructuredBudget: 3 * time.Second,
		FreeTextBudget:   4500 * time.Millisecond,
		EnableEmbeddings: false,
		Resolver:         resolver.DefaultConfig(),
		Evidence:         evidence.DefaultConfig(),
	}
}

// Orchestrator is safe for concurrent use. Every Answer call is an independent pipeline run.
type Orchestrator struct {
	config    Config
	store     store.GraphStore
	resolver  *resolver.Resolver
	expander  *expand.Expander
	evidence  *evidence.Builder
	envelopes *envelope.Builder
	engine    *answer.Engine
	caches    Caches
	artifacts audit.ArtifactStore
	tracker   *snapshot.Tracker
	metrics   *metrics.Metrics
	tracer    Tracer
	scorer    evidence.Scorer
	recorder  []audit.RecorderOption

	pending sync.WaitGroup
}

type Option func(*Orchestrator)

func WithEngine(e *answer.Engine) Option {
	return func(o *Orchestrator) { o.engine = e }
}

func WithEnvelopeBuilder(b *envelope.Builder) Option {
	return func(o *Orchestrator) { o.envelopes = b }
}

func WithScorer(s evidence.Scorer) Option {
	return func(o *Orchestrator) { o.scorer = s }
}

func WithCaches(c Caches) Option {
	return func(o *Orchestrator) { o.caches = c }
}

func WithArtifactStore(s audit.ArtifactStore) Option {
	return func(o *Orchestrator) { o.artifacts = s }
}

// WithRecorderOptions tunes the audit recorder of every request.
func WithRecorderOptions(opts ...audit.RecorderOption) Option {
	return func(o *Orchestrator) { o.recorder = append(o.recorder, opts...) }
}

func WithTracker(t *snapshot.Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer adds a stage event sink next to logging and metrics.
func WithTracer(t Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

func New(s store.GraphStore, config Config, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if config.ResolveTimeout <= 0 {
		config.ResolveTimeout = def.ResolveTimeout
	}
	if config.ValidateTimeout <= 0 {
		config.ValidateTimeout = def.ValidateTimeout
	}
	if config.StructuredBudget <= 0 {
		config.StructuredBudget = def.StructuredBudget
	}
	if config.FreeTextBudget <= 0 {
		config.FreeTextBudget = def.FreeTextBudget
	}

	o := &Orchestrator{config: config, store: s}
	for _, opt := range opts {
		opt(o)
	}
	if o.engine == nil {
		o.engine = answer.NewEngine(answer.DefaultConfig(), nil, nil)
	}
	if o.envelopes == nil {
		o.envelopes = envelope.NewBuilder()
	}
	if o.tracker == nil {
		o.tracker = snapshot.NewTracker("")
	}
	o.resolver = resolver.New(s, config.Resolver)
	o.expander = expand.New(s, config.ExpandTimeout)
	o.evidence = evidence.NewBuilder(config.Evidence, o.scorer)
	o.tracer = MultiTracer{logTracer{}, metricsTracer{m: o.metrics}, o.tracer}
	return o
}

// Drain waits until the audit writes of every finished request are flushed.
func (o *Orchestrator) Drain() {
	o.pending.Wait()
}

// run is the per-request state shared by the stages.
type run struct {
	id       string
	req      Request
	intent   common.Intent
	etag     string
	start    time.Time
	trace    *StageTrace
	tracer   Tracer
	recorder *audit.Recorder
	caches   Caches
	// parent is the caller's context, budget the one bounded by the total budget.
	parent context.Context
	budget context.Context
}

func (r *run) stage(s Stage) *stageTimer {
	return startStage(r.tracer, r.id, s)
}

// Answer runs req through the pipeline. Failures are returned as *Error.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (*Response, error) {
	r := &run{
		id:     util.NewRequestID(),
		req:    req,
		start:  time.Now(),
		trace:  &StageTrace{},
		caches: o.caches,
		parent: ctx,
	}
	r.tracer = MultiTracer{r.trace, o.tracer}
	recOpts := append([]audit.RecorderOption{audit.WithFailureObserver(o.metrics)}, o.recorder...)
	r.recorder = audit.NewRecorder(ctx, o.artifacts, r.id, recOpts...)
	if req.Options.BypassCache {
		r.caches = Caches{}
	}

	budget := o.config.StructuredBudget
	if req.Mode() == ModeFreeText {
		budget = o.config.FreeTextBudget
	}
	bctx, cancel := context.WithTimeoutCause(ctx, budget, errBudgetExceeded)
	defer cancel()
	r.budget = bctx

	resp, stage, err := o.run(r)
	if err != nil {
		perr := o.classify(r, stage, err)
		r.recorder.Record(audit.ArtifactError, perr.Envelope())
		o.finish(r, string(perr.Code))
		if perr.Code == CodeInternal {
			logger.Error("Query failed", "request_id", r.id, "stage", stage, "err", err)
		} else {
			logger.Warn("Query failed", "request_id", r.id, "stage", stage, "code", perr.Code, "err", err)
		}
		return nil, perr
	}

	r.recorder.Record(audit.ArtifactResponse, resp)
	o.finish(r, "ok")
	logger.Info("Answered query",
		"request_id", r.id,
		"intent", resp.Intent,
		"anchor_id", resp.Meta.ResolvedAnchor.ID,
		"producer", resp.Meta.AnswerProducer,
		"fallback_used", resp.Meta.FallbackUsed,
		"latency_ms", resp.Meta.LatencyMs,
	)
	return resp, nil
}

// finish records request metrics and flushes the audit trail in the background.
func (o *Orchestrator) finish(r *run, code string) {
	o.metrics.ObserveRequest(string(r.intent), code, string(r.req.Mode()), time.Since(r.start))

	rec := r.recorder
	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		if err := rec.Flush(); err != nil {
			logger.Error("Failed to persist audit artifacts", "request_id", rec.RequestID(), "err", err)
		}
	}()
}

func (o *Orchestrator) run(r *run) (*Response, Stage, error) {
	if err := o.prepare(r); err != nil {
		return nil, StageResolve, err
	}

	if r.etag = o.tracker.Current(); r.etag == "" {
		if err := o.tracker.Refresh(r.budget, o.store); err != nil {
			return nil, StageResolve, err
		}
		r.etag = o.tracker.Current()
	}

	resolved, resolverHit, err := o.resolve(r)
	if err != nil {
		return nil, StageResolve, err
	}
	r.recorder.Record(audit.ArtifactResolution, resolved)

	entry, evidenceHit, err := o.gather(r, resolved.Anchor.Node)
	if err != nil {
		return nil, StageExpand, err
	}
	r.recorder.Record(audit.ArtifactExpansion, entry.Expansion)
	r.recorder.Record(audit.ArtifactBundlePre, entry.Evidence.Candidate)
	r.recorder.Record(audit.ArtifactBundlePost, entry.Evidence.Bundle)
	bundle := entry.Evidence.Bundle

	question := r.req.Question
	if question == "" && r.req.Mode() == ModeFreeText {
		question = r.req.Text
	}
	t := r.stage(StageEnvelope)
	built, err := o.envelopes.Build(r.intent, question, bundle)
	t.done(StatusOK, err)
	if err != nil {
		return nil, StageEnvelope, err
	}
	r.recorder.Record(audit.ArtifactEnvelope, built.Envelope)

	outcome, answerHit, err := o.produce(r, built)
	if err != nil {
		return nil, StageAnswer, err
	}
	r.recorder.Record(audit.ArtifactRawAnswer, rawAnswer{
		RawModelOutput: outcome.RawModelOutput,
		RawOutputs:     outcome.RawOutputs(),
		Attempts:       outcome.Attempts,
	})

	if err := o.check(r, outcome, bundle); err != nil {
		return nil, StageValidate, err
	}
	r.recorder.Record(audit.ArtifactValidation, outcome.Validation)
	o.metrics.ObserveAnswer(outcome.Retries, outcome.FallbackCause)

	etag := entry.Expansion.Etag
	if etag == "" {
		etag = r.etag
	}
	resp := &Response{
		RequestID: r.id,
		Intent:    r.intent,
		Question:  built.Envelope.Question,
		Evidence:  bundle,
		Answer:    outcome.Answer,
		CompletenessFlags: CompletenessFlags{
			HasPreceding:  bundle.HasPreceding(),
			HasSucceeding: bundle.HasSucceeding(),
			EventCount:    len(bundle.Events),
			Partial:       entry.Expansion.Candidates.Partial,
			Truncated:     entry.Evidence.Metrics.SelectorTruncation,
		},
		Meta: Meta{
			PolicyID:          string(outcome.Policy),
			PromptID:          built.Envelope.PromptID(),
			PromptFingerprint: built.Fingerprint,
			SnapshotEtag:      etag,
			FallbackUsed:      outcome.FallbackUsed,
			FallbackCause:     outcome.FallbackCause,
			AnswerProducer:    outcome.Producer,
			Retries:           outcome.Retries,
			EvidenceMetrics:   entry.Evidence.Metrics,
			ModelMetrics: ModelMetrics{
				ModelMetrics:         outcome.ModelMetrics,
				PromptTokensEstimate: built.PromptTokens,
			},
			ResolvedAnchor: AnchorMeta{
				ID:         resolved.Anchor.ID,
				Confidence: resolved.Anchor.Confidence,
				Method:     resolved.Anchor.Method,
			},
			Cache: CacheMeta{Resolver: resolverHit, Evidence: evidenceHit, Answer: answerHit},
		},
	}
	resp.Meta.StageLatencyMs = r.trace.LatencyMs()
	resp.Meta.LatencyMs = time.Since(r.start).Milliseconds()
	return resp, "", nil
}

// prepare validates the request and settles its intent.
func (o *Orchestrator) prepare(r *run) error {
	req := r.req
	if req.AnchorID == "" && util.NormalizeWhitespace(req.Text) == "" {
		return fmt.Errorf("%w: anchor_id or text is required", ErrInvalidRequest)
	}
	if req.Options.Policy != "" {
		if _, err := answer.ParsePolicy(string(req.Options.Policy)); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}
	switch {
	case req.Intent != "":
		intent, err := common.ParseIntent(req.Intent)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		r.intent = intent
	case req.Mode() == ModeFreeText:
		r.intent = common.ClassifyIntent(req.Text)
	case req.Question != "":
		r.intent = common.ClassifyIntent(req.Question)
	default:
		r.intent = common.IntentWhyDecision
	}
	return nil
}

func (o *Orchestrator) embeddings(req Request) bool {
	if req.Options.EnableEmbeddings != nil {
		return *req.Options.EnableEmbeddings
	}
	return o.config.EnableEmbeddings
}

func (o *Orchestrator) resolve(r *run) (*resolver.Result, bool, error) {
	ref := resolver.AnchorRef{Raw: r.req.Text}
	if r.req.Mode() == ModeStructured {
		ref = resolver.AnchorRef{Raw: r.req.AnchorID, SlugHint: r.req.AnchorID}
	}
	embeddings := o.embeddings(r.req)
	parts := []string{util.NormalizeKey(ref.Raw), ref.SlugHint, strconv.FormatBool(embeddings)}

	t := r.stage(StageResolve)
	res, hit, err := r.caches.Resolver.GetOrCompute(r.budget, r.etag, parts,
		func(ctx context.Context) (resolver.Result, string, error) {
			sctx, cancel := context.WithTimeout(ctx, o.config.ResolveTimeout)
			defer cancel()
			res, err := o.resolver.Resolve(sctx, ref, embeddings)
			if err != nil {
				if sctx.Err() != nil && ctx.Err() == nil {
					return resolver.Result{}, "", fmt.Errorf("%w: resolve: %w", ErrUpstreamTimeout, err)
				}
				return resolver.Result{}, "", err
			}
			o.tracker.Observe(res.Etag)
			return *res, res.Etag, nil
		})
	t.done(cachedStatus(hit), err)
	if err != nil {
		return nil, false, err
	}
	return &res, hit, nil
}

// gather expands the anchor and builds its evidence bundle. Partial expansions are not cached.
func (o *Orchestrator) gather(r *run, anchor common.Node) (evidenceEntry, bool, error) {
	parts := []string{anchor.ID, string(r.intent), graphScope, strconv.FormatBool(o.evidence.Config().Truncate)}

	var computed bool
	entry, hit, err := r.caches.Evidence.GetOrCompute(r.budget, r.etag, parts,
		func(ctx context.Context) (evidenceEntry, string, error) {
			computed = true
			t := r.stage(StageExpand)
			exp, err := o.expander.Expand(ctx, anchor.ID)
			status := StatusOK
			if err == nil && exp.Candidates.Partial {
				status = StatusPartial
			}
			t.done(status, err)
			if err != nil {
				return evidenceEntry{}, "", err
			}
			o.tracker.Observe(exp.Etag)

			t = r.stage(StageBundle)
			res, err := o.evidence.Build(anchor, r.intent, exp.Candidates)
			t.done(StatusOK, err)
			if err != nil {
				return evidenceEntry{}, "", err
			}

			observed := exp.Etag
			if exp.Candidates.Partial {
				observed = ""
			}
			return evidenceEntry{Expansion: exp, Evidence: res}, observed, nil
		})
	if err != nil {
		return evidenceEntry{}, false, err
	}
	if !computed {
		r.tracer.Record(StageEvent{RequestID: r.id, Stage: StageExpand, Status: StatusCached})
		r.tracer.Record(StageEvent{RequestID: r.id, Stage: StageBundle, Status: StatusCached})
	}
	o.metrics.ObserveEvidence(entry.Evidence.Metrics.SelectorTruncation, entry.Evidence.Metrics.FinalEvidenceCount)
	return entry, hit, nil
}

// rawAnswer is the raw_answer artifact.
type rawAnswer struct {
	RawModelOutput *string          `json:"raw_model_output"`
	RawOutputs     []string         `json:"raw_outputs"`
	Attempts       []answer.Attempt `json:"attempts"`
}

// produce runs the answer engine. Outcomes that needed the fallback are not cached.
func (o *Orchestrator) produce(r *run, built *envelope.Built) (*answer.Outcome, bool, error) {
	policy := o.engine.PolicyFor(r.req.Options.Policy)
	parts := []string{built.Fingerprint, string(policy)}

	t := r.stage(StageAnswer)
	outcome, hit, err := r.caches.Answer.GetOrCompute(r.budget, r.etag, parts,
		func(ctx context.Context) (answer.Outcome, string, error) {
			out, err := o.engine.Run(ctx, built, policy)
			if err != nil {
				return answer.Outcome{}, "", err
			}
			observed := r.etag
			if out.FallbackUsed {
				observed = ""
			}
			return *out, observed, nil
		})
	t.done(cachedStatus(hit), err)
	if err != nil {
		return nil, false, err
	}
	if outcome.FallbackUsed {
		logger.Warn("Answer fell back to templater",
			"request_id", r.id, "cause", outcome.FallbackCause, "attempts", len(outcome.Attempts))
	}
	return &outcome, hit, nil
}

// check re-validates the final answer. A failing answer is replaced by the templated one.
func (o *Orchestrator) check(r *run, outcome *answer.Outcome, bundle *evidence.Bundle) error {
	t := r.stage(StageValidate)
	report, err := validate.ValidateWithin(r.budget, o.config.ValidateTimeout, outcome.Answer, bundle)
	if err != nil {
		t.done(StatusOK, err)
		return err
	}
	if !report.Passed() {
		logger.Warn("Final answer failed validation, using templater",
			"request_id", r.id, "producer", outcome.Producer, "reasons", report.Reasons)
		outcome.Answer = answer.Compose(r.intent, bundle)
		outcome.Producer = answer.NewTemplater().Name()
		outcome.FallbackUsed = true
		outcome.FallbackCause = "validation_failed"
		report = validate.Validate(outcome.Answer, bundle)
		if !report.Passed() {
			err = fmt.Errorf("templated answer rejected: %w", report.Err())
			t.done(StatusOK, err)
			return err
		}
	}
	outcome.Validation = report
	t.done(StatusOK, nil)
	return nil
}

func cachedStatus(hit bool) string {
	if hit {
		return StatusCached
	}
	return StatusOK
}

func (o *Orchestrator) classify(r *run, stage Stage, err error) *Error {
	e := &Error{RequestID: r.id, Stage: stage, Err: err}
	switch {
	case r.parent.Err() != nil:
		e.Code, e.Message = CodeCanceled, "request canceled"
	case errors.Is(context.Cause(r.budget), errBudgetExceeded):
		e.Code, e.Message = CodeTimeout, "request exceeded its time budget"
	case errors.Is(err, resolver.ErrAnchorNotFound):
		e.Code, e.Message = CodeAnchorNotFound, "no decision matches the reference"
	case errors.Is(err, answer.ErrAnswerProductionFailed):
		e.Code, e.Message = CodeAnswerProductionFailed, "answer production failed"
	case errors.Is(err, ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		e.Code, e.Message = CodeUpstreamTimeout, fmt.Sprintf("%s stage timed out", stage)
	case errors.Is(err, ErrInvalidRequest):
		e.Code, e.Message = CodeInvalidRequest, err.Error()
	default:
		e.Code, e.Message = CodeInternal, "internal error"
	}
	return e
}
