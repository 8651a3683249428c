package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/intake/internal/observability"
	"github.com/rahul/intake/internal/records"
	"github.com/rahul/intake/internal/workflow"
)

const defaultGeneratorTimeout = 25 * time.Second

// Generator asks the model to phrase one question per catalogue field group.
// When the call times out and Fallback is set, the fallback source answers instead.
type Generator struct {
	*Caller
	Prompts  *PromptManager
	Timeout  time.Duration
	Fallback workflow.QuestionSource
}

var _ workflow.QuestionSource = (*Generator)(nil)

func NewGenerator(caller *Caller, prompts *PromptManager, timeout time.Duration, fallback workflow.QuestionSource) *Generator {
	if timeout <= 0 {
		timeout = defaultGeneratorTimeout
	}
	return &Generator{Caller: caller, Prompts: prompts, Timeout: timeout, Fallback: fallback}
}

type generatedQuestion struct {
	Group    string `json:"group"`
	Question string `json:"question"`
}

func submitQuestionsTool(groupKeys []string) llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        "submit_questions",
			Description: "Submit the ordered list of intake questions, one per field group.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"questions": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"group": map[string]any{
									"type": "string",
									"enum": groupKeys,
								},
								"question": map[string]any{
									"type": "string",
								},
							},
							"required": []string{"group", "question"},
						},
					},
				},
				"required": []string{"questions"},
			},
		},
	}
}

func (g *Generator) Questions(ctx context.Context, clientID, reference string) ([]workflow.Question, error) {
	ref, err := records.NormalizeReference(reference)
	if err != nil {
		return nil, err
	}
	groups, err := records.Groups(ref)
	if err != nil {
		return nil, err
	}

	qs, err := g.generateQuestions(ctx, ref, groups)
	if err == nil {
		return qs, nil
	}
	if g.Fallback != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		g.logger().Warn("question generation timed out, using fallback source",
			"client_id", clientID, "reference", ref, "timeout", g.Timeout)
		return g.Fallback.Questions(ctx, clientID, ref)
	}
	return nil, err
}

func (g *Generator) generateQuestions(ctx context.Context, ref string, groups []records.FieldGroup) ([]workflow.Question, error) {
	observability.SetStatus(observability.PhaseGenerating, "")
	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	keys := make([]string, 0, len(groups))
	var lines []string
	for _, grp := range groups {
		keys = append(keys, grp.Key)
		lines = append(lines, fmt.Sprintf("- %s (%s): %s", grp.Key, grp.Title, strings.Join(grp.Fields, ", ")))
	}
	systemPrompt, err := g.Prompts.GetGeneratorPrompt(ref, strings.Join(lines, "\n"))
	if err != nil {
		return nil, fmt.Errorf("load generator prompt: %w", err)
	}

	messages := []llms.MessageContent{
		systemMessage(systemPrompt),
		humanMessage(fmt.Sprintf("Generate the %d intake questions for a %s client.", len(groups), ref)),
	}
	choice, err := g.generate(ctx, RoleGenerator, "", messages, llms.WithTools([]llms.Tool{submitQuestionsTool(keys)}))
	if err != nil {
		return nil, err
	}
	return parseQuestions(choice, ref, groups)
}

func parseQuestions(choice *llms.ContentChoice, ref string, groups []records.FieldGroup) ([]workflow.Question, error) {
	tc, ok := findToolCall(choice, "submit_questions")
	if !ok {
		return nil, errors.New("generator did not call submit_questions")
	}
	var args struct {
		Questions []generatedQuestion `json:"questions"`
	}
	if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &args); err != nil {
		return nil, fmt.Errorf("failed to parse submit_questions arguments: %w", err)
	}
	if len(args.Questions) == 0 {
		return nil, errors.New("generator returned no questions")
	}

	byKey := make(map[string]records.FieldGroup, len(groups))
	for _, grp := range groups {
		byKey[grp.Key] = grp
	}

	out := make([]workflow.Question, 0, len(args.Questions))
	for i, q := range args.Questions {
		text := strings.TrimSpace(q.Question)
		if text == "" {
			return nil, fmt.Errorf("generated question %d is blank", i+1)
		}
		key := q.Group
		meta := map[string]any{"reference": ref}
		if grp, ok := byKey[key]; ok {
			meta["fields"] = grp.Fields
		} else {
			key = fmt.Sprintf("question_%d", i+1)
		}
		out = append(out, workflow.Question{
			Index:     i + 1,
			PromptKey: key,
			Text:      text,
			Metadata:  meta,
		})
	}
	return out, nil
}
