package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/answer"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/evidence"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/fingerprint"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/validate"
)

// recordedResponse is the part of a response artifact replay needs.
type recordedResponse struct {
	Intent common.Intent `json:"intent"`
	Answer common.Answer `json:"answer"`
	Meta   struct {
		PromptFingerprint string `json:"prompt_fingerprint"`
		SnapshotEtag      string `json:"snapshot_etag"`
		FallbackUsed      bool   `json:"fallback_used"`
		AnswerProducer    string `json:"answer_producer"`
	} `json:"meta"`
}

type recordedEnvelope struct {
	Intent     common.Intent    `json:"intent"`
	Evidence   *evidence.Bundle `json:"evidence"`
	AllowedIDs []string         `json:"allowed_ids"`
}

// Check is one replay assertion.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// VerifyReport is the outcome of replaying a request's audit trail.
type VerifyReport struct {
	RequestID         string  `json:"request_id"`
	PromptFingerprint string  `json:"prompt_fingerprint"`
	SnapshotEtag      string  `json:"snapshot_etag"`
	Checks            []Check `json:"checks"`
}

func (r *VerifyReport) OK() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return len(r.Checks) > 0
}

func (r *VerifyReport) check(name string, ok bool, format string, args ...any) {
	c := Check{Name: name, OK: ok}
	if !ok {
		c.Detail = fmt.Sprintf(format, args...)
	}
	r.Checks = append(r.Checks, c)
}

func load(ctx context.Context, store ArtifactStore, requestID string, a Artifact) ([]byte, error) {
	data, err := store.Get(ctx, Key(requestID, a))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", a, err)
	}
	return data, nil
}

// Verify reloads the envelope, final bundle and response of requestID and checks
// that the fingerprint, citations and templated answer reproduce.
func Verify(ctx context.Context, store ArtifactStore, requestID string) (*VerifyReport, error) {
	envData, err := load(ctx, store, requestID, ArtifactEnvelope)
	if err != nil {
		return nil, err
	}
	bundleData, err := load(ctx, store, requestID, ArtifactBundlePost)
	if err != nil {
		return nil, err
	}
	respData, err := load(ctx, store, requestID, ArtifactResponse)
	if err != nil {
		return nil, err
	}

	var env recordedEnvelope
	if err := json.Unmarshal(envData, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	var bundle evidence.Bundle
	if err := json.Unmarshal(bundleData, &bundle); err != nil {
		return nil, fmt.Errorf("failed to decode bundle: %w", err)
	}
	var resp recordedResponse
	if err := json.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	report := &VerifyReport{
		RequestID:         requestID,
		PromptFingerprint: resp.Meta.PromptFingerprint,
		SnapshotEtag:      resp.Meta.SnapshotEtag,
		Checks:            []Check{},
	}

	fp, err := fingerprint.Fingerprint(json.RawMessage(envData))
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint envelope: %w", err)
	}
	report.check("prompt_fingerprint", fp == resp.Meta.PromptFingerprint,
		"recomputed %s, recorded %s", fp, resp.Meta.PromptFingerprint)

	report.check("allowed_ids", slices.Equal(env.AllowedIDs, bundle.AllowedIDs),
		"envelope %v, bundle %v", env.AllowedIDs, bundle.AllowedIDs)

	v := validate.Validate(resp.Answer, &bundle)
	report.check("citations", v.Passed(), "%v", v.Reasons)

	if resp.Meta.AnswerProducer == answer.NewTemplater().Name() {
		want := answer.Compose(resp.Intent, &bundle)
		wantData, _ := json.Marshal(want)
		gotData, _ := json.Marshal(resp.Answer)
		report.check("templated_answer", string(wantData) == string(gotData),
			"recomposed %s, recorded %s", wantData, gotData)
	}
	return report, nil
}
