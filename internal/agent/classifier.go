package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/intake/internal/observability"
	"github.com/rahul/intake/internal/workflow"
)

var errNoIntent = errors.New("classifier did not call record_intent")

var recordIntentTool = llms.Tool{
	Type: "function",
	Function: &llms.FunctionDefinition{
		Name:        "record_intent",
		Description: "Record whether the client wants to change the recorded information.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"wants_update": map[string]any{
					"type":        "boolean",
					"description": "True if the client wants to change or correct the value, false if they confirm it.",
				},
			},
			"required": []string{"wants_update"},
		},
	},
}

// Classifier asks the model for a structured update-or-confirm decision.
type Classifier struct {
	*Caller
	Prompts *PromptManager
}

var _ workflow.Classifier = (*Classifier)(nil)

func NewClassifier(caller *Caller, prompts *PromptManager) *Classifier {
	return &Classifier{Caller: caller, Prompts: prompts}
}

func (c *Classifier) WantsUpdate(ctx context.Context, question, aiUtterance, humanReply string) (bool, error) {
	observability.SetStatus(observability.PhaseClassify, "")
	systemPrompt, err := c.Prompts.GetClassifierPrompt()
	if err != nil {
		return false, fmt.Errorf("load classifier prompt: %w", err)
	}

	input := fmt.Sprintf("Question: %s\nAI_agent_response: %s\nHuman_response: %s", question, aiUtterance, humanReply)
	messages := []llms.MessageContent{systemMessage(systemPrompt), humanMessage(input)}

	choice, err := c.generate(ctx, RoleClassifier, "", messages, llms.WithTools([]llms.Tool{recordIntentTool}))
	if err != nil {
		return false, err
	}
	return parseIntent(choice)
}

func parseIntent(choice *llms.ContentChoice) (bool, error) {
	tc, ok := findToolCall(choice, "record_intent")
	if !ok {
		return false, errNoIntent
	}
	var args struct {
		WantsUpdate *bool `json:"wants_update"`
	}
	if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &args); err != nil {
		return false, fmt.Errorf("failed to parse record_intent arguments: %w", err)
	}
	if args.WantsUpdate == nil {
		return false, errors.New("record_intent is missing wants_update")
	}
	return *args.WantsUpdate, nil
}
