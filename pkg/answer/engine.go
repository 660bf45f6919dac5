package answer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/whygraph/backend/internal/util"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/ai"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/envelope"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/validate"
)

type Config struct {
	Policy Policy
	// MaxRetries caps model retries after the first attempt.
	MaxRetries int
	// ValidationRetries caps how many of those retries may follow a validation failure.
	ValidationRetries int
	Backoff           util.Backoff
	Timeout           time.Duration
	ValidateTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Policy:            PolicyAuto,
		MaxRetries:        2,
		ValidationRetries: 1,
		Backoff:           util.Backoff{Base: 50 * time.Millisecond, Jitter: 25 * time.Millisecond, Max: 400 * time.Millisecond},
		Timeout:           1500 * time.Millisecond,
		ValidateTimeout:   validate.DefaultTimeout,
	}
}

// Attempt records one producer call.
type Attempt struct {
	N          int              `json:"n"`
	Producer   string           `json:"producer"`
	Raw        *string          `json:"raw"`
	Error      string           `json:"error,omitempty"`
	Validation *validate.Report `json:"validation,omitempty"`
	DurationMs int64            `json:"duration_ms"`
}

// Outcome is the final answer with everything needed to audit how it came about.
type Outcome struct {
	Answer        common.Answer `json:"answer"`
	Policy        Policy        `json:"policy"`
	Producer      string        `json:"producer"`
	Retries       int           `json:"retries"`
	FallbackUsed  bool          `json:"fallback_used"`
	FallbackCause string        `json:"fallback_cause,omitempty"`

	// RawModelOutput is the text of the last model attempt, nil when the model was not called.
	RawModelOutput *string         `json:"raw_model_output"`
	Attempts       []Attempt       `json:"attempts"`
	Validation     validate.Report `json:"validation"`
	ModelMetrics   ai.ModelMetrics `json:"model_metrics"`
}

// RawOutputs lists the raw model text of every attempt in order.
func (o *Outcome) RawOutputs() []string {
	out := []string{}
	for _, a := range o.Attempts {
		if a.Raw != nil {
			out = append(out, *a.Raw)
		}
	}
	return out
}

type state int

const (
	stateAttempting state = iota
	stateFallback
	stateDone
)

// Engine drives the retry and fallback state machine
// Attempting(n) -> Attempting(n+1) | Fallback | Done.
type Engine struct {
	config    Config
	model     Producer
	templater Producer
}

// NewEngine builds an engine. A nil model degrades PolicyAuto to PolicyOff.
func NewEngine(config Config, model Producer, templater Producer) *Engine {
	if templater == nil {
		templater = NewTemplater()
	}
	if config.Policy == "" {
		config.Policy = PolicyAuto
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.ValidationRetries < 0 {
		config.ValidationRetries = 0
	}
	return &Engine{config: config, model: model, templater: templater}
}

// EffectivePolicy is the policy a request without an override runs under.
func (e *Engine) EffectivePolicy() Policy {
	return e.PolicyFor("")
}

// PolicyFor is the policy a request with override runs under.
func (e *Engine) PolicyFor(override Policy) Policy {
	p := e.config.Policy
	if override != "" {
		p = override
	}
	if p == PolicyAuto && e.model == nil {
		return PolicyOff
	}
	return p
}

// Run produces a validated answer for built. Under PolicyForce a model failure is
// returned wrapped in ErrAnswerProductionFailed. Cancellation of ctx is always returned.
func (e *Engine) Run(ctx context.Context, built *envelope.Built, override Policy) (*Outcome, error) {
	policy := e.PolicyFor(override)
	if policy == PolicyForce && e.model == nil {
		return nil, fmt.Errorf("%w: no model configured", ErrAnswerProductionFailed)
	}

	actx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	out := &Outcome{Policy: policy, Attempts: []Attempt{}}
	metrics := ai.MetricsTracker{}
	bundle := built.Envelope.Evidence

	st := stateAttempting
	if policy == PolicyOff {
		st = stateFallback
	}

	n := 0
	validationFailures := 0
	var lastErr error

	for st != stateDone {
		switch st {
		case stateAttempting:
			start := time.Now()
			res, err := e.model.Produce(actx, built)
			attempt := Attempt{N: n, Producer: e.model.Name(), Raw: res.Raw}
			if res.Raw != nil {
				out.RawModelOutput = res.Raw
			}
			metrics.Add(res.Metrics)

			validationFailed := false
			if err == nil {
				report, verr := validate.ValidateWithin(actx, e.config.ValidateTimeout, res.Answer, bundle)
				if verr != nil {
					err = verr
				} else {
					attempt.Validation = &report
					if report.Passed() {
						attempt.DurationMs = time.Since(start).Milliseconds()
						out.Attempts = append(out.Attempts, attempt)
						out.Answer = res.Answer
						out.Producer = e.model.Name()
						out.Validation = report
						st = stateDone
						continue
					}
					err = report.Err()
					validationFailed = true
				}
			}
			attempt.Error = err.Error()
			attempt.DurationMs = time.Since(start).Milliseconds()
			out.Attempts = append(out.Attempts, attempt)
			lastErr = err

			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if validationFailed {
				validationFailures++
			}

			retry := n < e.config.MaxRetries && actx.Err() == nil
			if validationFailed && validationFailures > e.config.ValidationRetries {
				retry = false
			}
			if retry {
				if serr := util.Sleep(actx, e.config.Backoff.Delay(n+1)); serr == nil {
					n++
					continue
				}
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				lastErr = context.DeadlineExceeded
			}

			if policy == PolicyForce {
				return nil, fmt.Errorf("%w after %d attempts: %w", ErrAnswerProductionFailed, len(out.Attempts), lastErr)
			}
			out.FallbackUsed = true
			out.FallbackCause = failureCause(lastErr)
			st = stateFallback

		case stateFallback:
			// The templater runs on the caller's context so a spent answer budget does not block it.
			res, err := e.templater.Produce(ctx, built)
			if err != nil {
				return nil, err
			}
			report, err := validate.ValidateWithin(ctx, e.config.ValidateTimeout, res.Answer, bundle)
			if err != nil {
				return nil, err
			}
			out.Attempts = append(out.Attempts, Attempt{N: len(out.Attempts), Producer: e.templater.Name(), Validation: &report})
			if !report.Passed() {
				return nil, fmt.Errorf("templated answer rejected: %w", report.Err())
			}
			out.Answer = res.Answer
			out.Producer = e.templater.Name()
			out.Validation = report
			st = stateDone
		}
	}

	out.Retries = n
	out.ModelMetrics = metrics.Snapshot()
	return out, nil
}

func failureCause(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrMalformedOutput):
		return "malformed_output"
	case errors.Is(err, validate.ErrValidationFailed):
		return "validation_failed"
	default:
		return "model_error"
	}
}
