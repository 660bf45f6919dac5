// Package validate runs the blocking checks every answer has to pass before it is returned.
package validate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/evidence"
)

const (
	MaxShortAnswerChars = 320
	DefaultTimeout      = 300 * time.Millisecond
)

var ErrValidationFailed = errors.New("answer validation failed")

// Report lists the outcome of each check and every failing reason.
type Report struct {
	SchemaOK       bool     `json:"schema_ok"`
	IDScopeOK      bool     `json:"id_scope_ok"`
	MandatoryIDsOK bool     `json:"mandatory_ids_ok"`
	Reasons        []string `json:"reasons"`
}

func (r Report) Passed() bool {
	return r.SchemaOK && r.IDScopeOK && r.MandatoryIDsOK
}

// Err is nil for a passing report and wraps ErrValidationFailed otherwise.
func (r Report) Err() error {
	if r.Passed() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(r.Reasons, "; "))
}

// Validate checks schema, id scope and mandatory citations. All three checks
// always run so the report carries every failing reason.
func Validate(answer common.Answer, bundle *evidence.Bundle) Report {
	r := Report{SchemaOK: true, IDScopeOK: true, MandatoryIDsOK: true, Reasons: []string{}}
	fail := func(check *bool, format string, args ...any) {
		*check = false
		r.Reasons = append(r.Reasons, fmt.Sprintf(format, args...))
	}

	// schema
	short := strings.TrimSpace(answer.ShortAnswer)
	switch {
	case short == "":
		fail(&r.SchemaOK, "short_answer is empty")
	case utf8.RuneCountInString(answer.ShortAnswer) > MaxShortAnswerChars:
		fail(&r.SchemaOK, "short_answer has %d characters, limit is %d",
			utf8.RuneCountInString(answer.ShortAnswer), MaxShortAnswerChars)
	}
	if len(answer.SupportingIDs) == 0 {
		fail(&r.SchemaOK, "supporting_ids is empty")
	}
	for i, id := range answer.SupportingIDs {
		if strings.TrimSpace(id) == "" {
			fail(&r.SchemaOK, "supporting_ids[%d] is blank", i)
		}
	}

	if bundle == nil {
		fail(&r.IDScopeOK, "no evidence bundle to check against")
		r.MandatoryIDsOK = false
		return r
	}

	// id scope
	cited := make(map[string]struct{}, len(answer.SupportingIDs))
	for _, id := range answer.SupportingIDs {
		cited[id] = struct{}{}
		if id != "" && !bundle.Allows(id) {
			fail(&r.IDScopeOK, "supporting id %q is not in allowed_ids", id)
		}
	}

	// mandatory citations
	if _, ok := cited[bundle.Anchor.ID]; !ok {
		fail(&r.MandatoryIDsOK, "anchor %q is not cited", bundle.Anchor.ID)
	}
	for _, id := range bundle.TransitionIDs() {
		if _, ok := cited[id]; !ok {
			fail(&r.MandatoryIDsOK, "transition %q is not cited", id)
		}
	}
	return r
}

// ValidateWithin runs Validate under a time budget. Running out of budget is a failure.
func ValidateWithin(ctx context.Context, timeout time.Duration, answer common.Answer, bundle *evidence.Bundle) (Report, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Report, 1)
	go func() {
		done <- Validate(answer, bundle)
	}()

	select {
	case r := <-done:
		return r, nil
	case <-vctx.Done():
		if ctx.Err() != nil {
			return Report{}, ctx.Err()
		}
		return Report{
			Reasons: []string{fmt.Sprintf("validation exceeded its %s budget", timeout)},
		}, nil
	}
}
