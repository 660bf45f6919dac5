package pipeline

import (
	"sync"
	"time"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/metrics"
)

type Stage string

const (
	StageResolve  Stage = "resolve"
	StageExpand   Stage = "expand"
	StageBundle   Stage = "bundle"
	StageEnvelope Stage = "envelope"
	StageAnswer   Stage = "answer"
	StageValidate Stage = "validate"
	StageRecord   Stage = "record"
)

const (
	StatusOK      = "ok"
	StatusCached  = "cached"
	StatusPartial = "partial"
	StatusError   = "error"
)

// StageEvent describes one finished stage.
type StageEvent struct {
	RequestID string
	Stage     Stage
	Status    string
	Duration  time.Duration
	Error     string
}

// Tracer is a sink for stage events.
type Tracer interface {
	Record(event StageEvent)
}

// MultiTracer fan-outs stage events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event StageEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

// StageTrace collects the stage events of one request. It is safe for concurrent use.
type StageTrace struct {
	mu     sync.Mutex
	events []StageEvent
}

func (s *StageTrace) Record(event StageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *StageTrace) Events() []StageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StageEvent(nil), s.events...)
}

// LatencyMs sums the duration of every stage in milliseconds.
func (s *StageTrace) LatencyMs() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.events))
	for _, e := range s.events {
		out[string(e.Stage)] += e.Duration.Milliseconds()
	}
	return out
}

type logTracer struct{}

func (logTracer) Record(e StageEvent) {
	if e.Status == StatusError {
		logger.Warn("Stage failed", "request_id", e.RequestID, "stage", e.Stage, "duration", e.Duration, "err", e.Error)
		return
	}
	logger.Debug("Stage finished", "request_id", e.RequestID, "stage", e.Stage, "status", e.Status, "duration", e.Duration)
}

type metricsTracer struct {
	m *metrics.Metrics
}

func (t metricsTracer) Record(e StageEvent) {
	t.m.ObserveStage(string(e.Stage), e.Status, e.Duration)
}

// stageTimer emits a StageEvent when done is called.
type stageTimer struct {
	tracer    Tracer
	requestID string
	stage     Stage
	start     time.Time
}

func startStage(t Tracer, requestID string, stage Stage) *stageTimer {
	return &stageTimer{tracer: t, requestID: requestID, stage: stage, start: time.Now()}
}

func (s *stageTimer) done(status string, err error) {
	e := StageEvent{RequestID: s.requestID, Stage: s.stage, Status: status, Duration: time.Since(s.start)}
	if err != nil {
		e.Status = StatusError
		e.Error = err.Error()
	}
	s.tracer.Record(e)
}
