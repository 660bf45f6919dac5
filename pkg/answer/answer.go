// Package answer produces the short answer for a prompt envelope, either from a
// language model or from deterministic templates.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/ai"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/envelope"
)

var (
	// ErrAnswerProductionFailed is returned under PolicyForce when every model attempt failed.
	ErrAnswerProductionFailed = errors.New("answer production failed")
	// ErrMalformedOutput marks model output that could not be parsed as an answer.
	ErrMalformedOutput = errors.New("malformed model output")
)

// Policy selects between the model-backed producer and the templater.
type Policy string

const (
	// PolicyAuto tries the model first and falls back to the templater.
	PolicyAuto Policy = "auto"
	// PolicyOff always uses the templater.
	PolicyOff Policy = "off"
	// PolicyForce always uses the model and surfaces its failures. Testing only.
	PolicyForce Policy = "force"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyAuto, PolicyOff, PolicyForce:
		return p, nil
	case "":
		return PolicyAuto, nil
	default:
		return "", fmt.Errorf("unknown answer policy %q", s)
	}
}

// Output is what a single producer call yields.
type Output struct {
	Answer common.Answer `json:"answer"`
	// Raw is the verbatim model text. Nil for the templater.
	Raw     *string         `json:"raw,omitempty"`
	Model   string          `json:"model,omitempty"`
	Metrics ai.ModelMetrics `json:"metrics"`
}

// Producer turns a prompt envelope into an answer.
type Producer interface {
	Name() string
	Produce(ctx context.Context, built *envelope.Built) (Output, error)
}
