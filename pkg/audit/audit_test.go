package audit

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/whygraph/backend/internal/testutil"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/answer"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/envelope"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/evidence"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/expand"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/store/memory"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type failingStore struct {
	fail map[string]bool
	*MemoryStore
}

func (f *failingStore) Put(ctx context.Context, key string, data []byte) error {
	if f.fail[key] {
		return errors.New("disk full")
	}
	return f.MemoryStore.Put(ctx, key, data)
}

type slowStore struct {
	delay time.Duration
	*MemoryStore
}

func (s *slowStore) Put(ctx context.Context, key string, data []byte) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.MemoryStore.Put(ctx, key, data)
}

type countingObserver struct {
	mu    sync.Mutex
	names []string
}

func (o *countingObserver) ArtifactFailed(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.names = append(o.names, name)
}

func TestKeyRoundTrip(t *testing.T) {
	key := Key("req_abc", ArtifactBundlePost)
	if key != "req_abc/bundle_post.json" {
		t.Fatalf("unexpected key %s", key)
	}
	id, a, err := SplitKey(key)
	if err != nil || id != "req_abc" || a != ArtifactBundlePost {
		t.Fatalf("SplitKey(%s) = %s, %s, %v", key, id, a, err)
	}
	for _, bad := range []string{"noslash", "/response.json", "req/unknown.json"} {
		if _, _, err := SplitKey(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestMemoryStoreWriteOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := t.Context()
	data := []byte(`{"a":1}`)
	if err := s.Put(ctx, "r/response.json", data); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	data[0] = 'X'
	if err := s.Put(ctx, "r/response.json", []byte("{}")); !errors.Is(err, ErrArtifactExists) {
		t.Fatalf("expected ErrArtifactExists, got %v", err)
	}
	got, err := s.Get(ctx, "r/response.json")
	if err != nil || string(got) != `{"a":1}` {
		t.Fatalf("stored artifact changed: %s %v", got, err)
	}
	if _, err := s.Get(ctx, "r/missing.json"); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}

func TestRecorderWritesAllArtifacts(t *testing.T) {
	s := NewMemoryStore()
	r := NewRecorder(t.Context(), s, "req_1", WithWriteLimit(2))
	for _, a := range Artifacts {
		r.Record(a, map[string]string{"artifact": string(a)})
	}
	if err := r.Flush(); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if got := len(s.Keys("req_1/")); got != len(Artifacts) {
		t.Fatalf("expected %d artifacts, got %d", len(Artifacts), got)
	}
	if len(r.Written()) != len(Artifacts) {
		t.Fatalf("expected %d written artifacts, got %d", len(Artifacts), len(r.Written()))
	}
}

func TestRecordDoesNotWaitForSlowStore(t *testing.T) {
	s := &slowStore{delay: 200 * time.Millisecond, MemoryStore: NewMemoryStore()}
	r := NewRecorder(t.Context(), s, "req_slow", WithWriteLimit(1))

	start := time.Now()
	for _, a := range Artifacts {
		r.Record(a, map[string]string{"artifact": string(a)})
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("recording %d artifacts took %s, expected it not to wait for the store", len(Artifacts), elapsed)
	}

	if err := r.Flush(); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if got := len(s.Keys("req_slow/")); got != len(Artifacts) {
		t.Fatalf("expected %d artifacts after flush, got %d", len(Artifacts), got)
	}
}

func TestRecorderCollectsEveryFailure(t *testing.T) {
	s := &failingStore{
		fail: map[string]bool{
			Key("req_2", ArtifactEnvelope): true,
			Key("req_2", ArtifactResponse): true,
		},
		MemoryStore: NewMemoryStore(),
	}
	obs := &countingObserver{}
	r := NewRecorder(t.Context(), s, "req_2", WithFailureObserver(obs))
	r.Record(ArtifactEnvelope, "e")
	r.Record(ArtifactResponse, "r")
	r.Record(ArtifactValidation, "v")
	r.Record(ArtifactRawAnswer, func() {})

	err := r.Flush()
	if !errors.Is(err, ErrArtifactPersistFailed) {
		t.Fatalf("expected ErrArtifactPersistFailed, got %v", err)
	}
	if n := len(err.(interface{ Unwrap() []error }).Unwrap()); n != 3 {
		t.Fatalf("expected 3 joined failures, got %d", n)
	}
	slices.Sort(obs.names)
	if !slices.Equal(obs.names, []string{"envelope", "raw_answer", "response"}) {
		t.Fatalf("observer saw %v", obs.names)
	}
	if _, err := s.Get(t.Context(), Key("req_2", ArtifactValidation)); err != nil {
		t.Fatal("successful writes must still be persisted")
	}
}

func TestRecorderSurvivesCancellation(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(t.Context())
	r := NewRecorder(ctx, s, "req_3", WithWriteTimeout(time.Second))
	cancel()
	r.Record(ArtifactError, map[string]string{"code": "canceled"})
	if err := r.Flush(); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if _, err := s.Get(t.Context(), Key("req_3", ArtifactError)); err != nil {
		t.Fatalf("artifact written after cancellation is missing: %v", err)
	}
}

type fakeRow struct {
	body []byte
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*[]byte) = r.body
	return nil
}

type fakeConn struct {
	rows map[string][]byte
}

func (c *fakeConn) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	key := args[0].(string)
	if _, ok := c.rows[key]; ok {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	c.rows[key] = args[3].([]byte)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (c *fakeConn) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	body, ok := c.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{body: body}
}

func TestPostgresStore(t *testing.T) {
	s := NewPostgresStore(&fakeConn{rows: map[string][]byte{}})
	ctx := t.Context()
	key := Key("req_pg", ArtifactResponse)

	if err := s.Put(ctx, key, []byte("{}")); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if err := s.Put(ctx, key, []byte("{}")); !errors.Is(err, ErrArtifactExists) {
		t.Fatalf("expected ErrArtifactExists, got %v", err)
	}
	if err := s.Put(ctx, "bad-key", nil); err == nil {
		t.Fatal("expected error for malformed key")
	}
	if got, err := s.Get(ctx, key); err != nil || string(got) != "{}" {
		t.Fatalf("Get = %s, %v", got, err)
	}
	if _, err := s.Get(ctx, Key("req_pg", ArtifactError)); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}

// recordRequest writes the artifacts Verify reads for a templated acme answer.
func recordRequest(t *testing.T, s ArtifactStore, requestID string, mutate func(*common.Answer)) {
	t.Helper()
	g, err := memory.New(testutil.AcmeGraph())
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	anchor, etag, err := g.ResolveBySlug(t.Context(), testutil.AnchorGadgets)
	if err != nil {
		t.Fatalf("failed to resolve: %v", err)
	}
	exp, err := expand.New(g, time.Second).Expand(t.Context(), anchor.ID)
	if err != nil {
		t.Fatalf("failed to expand: %v", err)
	}
	res, err := evidence.NewBuilder(evidence.DefaultConfig(), nil).Build(*anchor, common.IntentWhyDecision, exp.Candidates)
	if err != nil {
		t.Fatalf("failed to build bundle: %v", err)
	}
	built, err := envelope.NewBuilder().Build(common.IntentWhyDecision, "why?", res.Bundle)
	if err != nil {
		t.Fatalf("failed to build envelope: %v", err)
	}

	a := answer.Compose(common.IntentWhyDecision, res.Bundle)
	if mutate != nil {
		mutate(&a)
	}
	response := map[string]any{
		"intent": common.IntentWhyDecision,
		"answer": a,
		"meta": map[string]any{
			"prompt_fingerprint": built.Fingerprint,
			"snapshot_etag":      etag,
			"fallback_used":      false,
			"answer_producer":    "templater",
		},
	}

	r := NewRecorder(t.Context(), s, requestID)
	r.Record(ArtifactEnvelope, built.Envelope)
	r.Record(ArtifactBundlePost, res.Bundle)
	r.Record(ArtifactResponse, response)
	if err := r.Flush(); err != nil {
		t.Fatalf("failed to record: %v", err)
	}
}

func TestVerify(t *testing.T) {
	s := NewMemoryStore()
	recordRequest(t, s, "req_ok", nil)

	report, err := Verify(t.Context(), s, "req_ok")
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !report.OK() {
		t.Fatalf("expected replay to verify, got %+v", report.Checks)
	}
	if len(report.Checks) != 4 {
		t.Fatalf("expected 4 checks, got %d", len(report.Checks))
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	s := NewMemoryStore()
	recordRequest(t, s, "req_bad", func(a *common.Answer) {
		a.SupportingIDs = append(a.SupportingIDs, "unrelated-id-not-in-bundle")
	})

	report, err := Verify(t.Context(), s, "req_bad")
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if report.OK() {
		t.Fatal("expected tampered answer to fail verification")
	}
	failed := []string{}
	for _, c := range report.Checks {
		if !c.OK {
			failed = append(failed, c.Name)
		}
	}
	if !slices.Equal(failed, []string{"citations", "templated_answer"}) {
		t.Fatalf("unexpected failing checks %v", failed)
	}
}

func TestVerifyMissingArtifact(t *testing.T) {
	if _, err := Verify(t.Context(), NewMemoryStore(), "req_none"); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}
