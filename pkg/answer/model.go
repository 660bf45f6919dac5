package answer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/ai"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/envelope"
)

const answerSchemaDescription = "Short answer with the ids of the evidence it relies on"

// ModelProducer asks a language model for a JSON answer at temperature 0.
type ModelProducer struct {
	client ai.GraphAIClient
	model  string
}

func NewModelProducer(client ai.GraphAIClient, model string) *ModelProducer {
	return &ModelProducer{client: client, model: model}
}

func (p *ModelProducer) Name() string { return "model" }

// Produce returns the raw model text in Output.Raw even when it fails to parse.
func (p *ModelProducer) Produce(ctx context.Context, built *envelope.Built) (Output, error) {
	opts := []ai.GenerateOption{
		ai.WithSystemPrompts(ai.AnswerSystemPrompt),
		ai.WithTemperature(0),
		ai.WithMaxTokens(built.Envelope.Constraints.MaxTokens),
		ai.WithJSONSchema(envelope.OutputSchema, answerSchemaDescription, common.Answer{}),
	}
	if p.model != "" {
		opts = append(opts, ai.WithModel(p.model))
	}

	completion, err := p.client.GenerateCompletion(ctx, built.Render(), opts...)
	if err != nil {
		return Output{}, err
	}

	raw := completion.Text
	out := Output{Raw: &raw, Model: completion.Model, Metrics: completion.Metrics}
	answer, err := decodeAnswer(raw)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	out.Answer = answer
	return out, nil
}

// decodeAnswer accepts repaired JSON only when it still carries both answer
// fields, so truncated output counts as malformed rather than as a bad answer.
func decodeAnswer(raw string) (common.Answer, error) {
	var fields map[string]json.RawMessage
	if err := ai.UnmarshalFlexible(raw, &fields); err != nil {
		return common.Answer{}, err
	}
	var answer common.Answer
	if err := decodeField(fields, "short_answer", &answer.ShortAnswer); err != nil {
		return common.Answer{}, err
	}
	if err := decodeField(fields, "supporting_ids", &answer.SupportingIDs); err != nil {
		return common.Answer{}, err
	}
	if answer.SupportingIDs == nil {
		return common.Answer{}, fmt.Errorf("supporting_ids is null")
	}
	return answer, nil
}

func decodeField(fields map[string]json.RawMessage, name string, out any) error {
	data, ok := fields[name]
	if !ok {
		return fmt.Errorf("missing %s", name)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	return nil
}
