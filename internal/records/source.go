package records

import (
	"context"
	"fmt"

	"github.com/rahul/intake/internal/workflow"
)

// SchemaSource builds the question list from the field-group catalogue:
// one question per group, in catalogue order.
type SchemaSource struct{}

func NewSchemaSource() *SchemaSource {
	return &SchemaSource{}
}

func (SchemaSource) Questions(ctx context.Context, clientID, reference string) ([]workflow.Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ref, err := NormalizeReference(reference)
	if err != nil {
		return nil, fmt.Errorf("schema source: %w", err)
	}
	groups, err := Groups(ref)
	if err != nil {
		return nil, fmt.Errorf("schema source: %w", err)
	}
	return QuestionsFromGroups(groups, ref), nil
}

// QuestionsFromGroups numbers groups from 1 and attaches their fields as metadata.
func QuestionsFromGroups(groups []FieldGroup, reference string) []workflow.Question {
	out := make([]workflow.Question, 0, len(groups))
	for i, g := range groups {
		out = append(out, workflow.Question{
			Index:     i + 1,
			PromptKey: g.Key,
			Text:      g.Question,
			Metadata: map[string]any{
				"fields":    g.Fields,
				"reference": reference,
			},
		})
	}
	return out
}
