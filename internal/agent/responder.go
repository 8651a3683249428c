package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/intake/internal/governance"
	"github.com/rahul/intake/internal/observability"
	"github.com/rahul/intake/internal/store"
	"github.com/rahul/intake/internal/tools"
	"github.com/rahul/intake/internal/workflow"
)

// HistoryStore is the conversation memory the responder reads and extends.
type HistoryStore interface {
	AddMessage(ctx context.Context, userID, role, content string) error
	GetHistory(ctx context.Context, userID string, limit int) ([]llms.MessageContent, error)
}

// Responder is a ReAct loop over the client-record tools. Every tool call
// passes the policy engine before it runs.
type Responder struct {
	*Caller
	Registry      *tools.Registry
	Policy        governance.PolicyEngine
	History       HistoryStore
	Prompts       *PromptManager
	MaxSteps      int
	HistoryWindow int
}

var (
	_ workflow.Responder    = (*Responder)(nil)
	_ workflow.TurnRecorder = (*Responder)(nil)
)

func NewResponder(caller *Caller, registry *tools.Registry, policy governance.PolicyEngine, history HistoryStore, prompts *PromptManager) *Responder {
	return &Responder{
		Caller:        caller,
		Registry:      registry,
		Policy:        policy,
		History:       history,
		Prompts:       prompts,
		MaxSteps:      10,
		HistoryWindow: 6,
	}
}

func (r *Responder) Respond(ctx context.Context, turn workflow.Turn) (string, error) {
	observability.SetStatus(observability.PhaseResponding, turn.UserID)
	ctx = tools.WithSession(ctx, tools.Session{
		UserID:    turn.UserID,
		ClientID:  turn.ClientID,
		Reference: turn.Reference,
	})

	systemPrompt, err := r.Prompts.GetResponderPrompt()
	if err != nil {
		return "", fmt.Errorf("load responder prompt: %w", err)
	}

	messages := []llms.MessageContent{systemMessage(systemPrompt)}
	if r.History != nil && r.HistoryWindow > 0 {
		history, err := r.History.GetHistory(ctx, turn.UserID, r.HistoryWindow)
		if err != nil {
			r.logger().Warn("failed to load conversation memory", "user_id", turn.UserID, "error", err)
		}
		messages = append(messages, history...)
	}
	input := turnInput(turn)
	messages = append(messages, humanMessage(input))

	llmTools := r.Registry.Definitions()
	maxSteps := r.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 10
	}

	var finalResponse string
	for i := 0; i < maxSteps; i++ {
		choice, err := r.generate(ctx, RoleResponder, turn.UserID, messages, llms.WithTools(llmTools))
		if err != nil {
			return "", err
		}

		var assistantParts []llms.ContentPart
		if choice.Content != "" {
			assistantParts = append(assistantParts, llms.TextContent{Text: choice.Content})
		}
		for _, tc := range choice.ToolCalls {
			assistantParts = append(assistantParts, tc)
		}
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeAI,
			Parts: assistantParts,
		})

		if len(choice.ToolCalls) == 0 {
			finalResponse = strings.TrimSpace(choice.Content)
			break
		}

		for _, tc := range choice.ToolCalls {
			result := r.runTool(ctx, turn.UserID, i+1, tc)
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: tc.ID,
						Name:       tc.FunctionCall.Name,
						Content:    result,
					},
				},
			})
		}
	}

	if finalResponse == "" {
		return "", fmt.Errorf("responder produced no reply within %d steps", maxSteps)
	}

	return finalResponse, nil
}

// RecordTurn appends a persisted turn to the conversation memory. Respond
// never writes memory itself, so a turn whose progress save failed leaves no
// trace for the next call to read.
func (r *Responder) RecordTurn(ctx context.Context, turn workflow.Turn, reply string) error {
	if r.History == nil {
		return nil
	}
	if err := r.History.AddMessage(ctx, turn.UserID, store.RoleHuman, turnInput(turn)); err != nil {
		return fmt.Errorf("store human turn: %w", err)
	}
	if err := r.History.AddMessage(ctx, turn.UserID, store.RoleAI, reply); err != nil {
		return fmt.Errorf("store ai turn: %w", err)
	}
	return nil
}

func (r *Responder) runTool(ctx context.Context, userID string, step int, tc llms.ToolCall) string {
	if tc.FunctionCall == nil {
		return "Error: malformed tool call"
	}
	name, args := tc.FunctionCall.Name, tc.FunctionCall.Arguments

	tool := r.Registry.Get(name)
	if tool == nil {
		observability.ToolCallsTotal.WithLabelValues("unknown", "missing").Inc()
		return fmt.Sprintf("Error: Tool %s not found", name)
	}

	if r.Policy != nil {
		decision, err := r.Policy.Evaluate(ctx, governance.Request{Tool: name, Arguments: args, UserID: userID})
		if err != nil {
			decision = governance.Result{Effect: governance.EffectDeny, Reason: err.Error()}
		}
		r.Transcript.LogPolicy(userID, name, string(decision.Effect), decision.Reason)
		if decision.Effect == governance.EffectDeny {
			observability.ToolCallsTotal.WithLabelValues(name, string(governance.EffectDeny)).Inc()
			r.logger().Warn("tool call denied", "event", "tool_call", "user_id", userID, "tool", name, "reason", decision.Reason)
			return "Denied by policy: " + decision.Reason
		}
	}

	observability.ToolCallsTotal.WithLabelValues(name, string(governance.EffectAllow)).Inc()
	r.logger().Debug("executing tool", "event", "tool_call", "user_id", userID, "step", step, "tool", name, "args", args)
	result, err := tool.Execute(ctx, args)
	if err != nil {
		result = fmt.Sprintf("Error: %v", err)
	}
	r.Transcript.LogToolCall(userID, name, args, result)
	return result
}

func turnInput(turn workflow.Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Client: %s (%s)\n", turn.ClientID, turn.Reference)
	fmt.Fprintf(&b, "Question %d of %d [group: %s]: %s\n", turn.Step, turn.Total, turn.Question.PromptKey, turn.Question.Text)
	if turn.Prompt != "" && turn.Prompt != turn.Question.Text {
		fmt.Fprintf(&b, "The client asked to change this answer. Their message: %s", turn.Prompt)
	} else {
		b.WriteString("Ask or confirm this question with the client.")
	}
	return b.String()
}
