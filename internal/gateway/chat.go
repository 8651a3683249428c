package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/rahul/intake/internal/records"
	"github.com/rahul/intake/internal/workflow"
)

const chatUsage = "Send /start <client_id> [individual|company] to begin or resume your intake.\n" +
	"/status shows your progress, /reset starts over."

// ChatHandler turns chat messages into driver calls. Chat users are bound to
// a client by /start; the binding is recovered from the stored run after a
// restart.
type ChatHandler struct {
	workflow   Workflow
	defaultRef string
	log        *slog.Logger

	mu       sync.Mutex
	bindings map[string]binding
}

type binding struct {
	clientID  string
	reference string
}

func NewChatHandler(wf Workflow, defaultReference string, log *slog.Logger) *ChatHandler {
	if defaultReference == "" {
		defaultReference = records.ReferenceIndividual
	}
	return &ChatHandler{
		workflow:   wf,
		defaultRef: defaultReference,
		log:        log,
		bindings:   make(map[string]binding),
	}
}

// HandleText processes one inbound message for userID and returns the reply.
// An empty reply means nothing should be sent.
func (h *ChatHandler) HandleText(ctx context.Context, userID, text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "/") {
		fields := strings.Fields(text)
		cmd := strings.ToLower(strings.SplitN(fields[0], "@", 2)[0])
		return h.command(ctx, userID, cmd, fields[1:])
	}

	reply := sanitize(text)
	if reply == "" {
		return ""
	}
	b, ok := h.lookup(ctx, userID)
	if !ok {
		return chatUsage
	}
	res, err := h.workflow.Handle(ctx, workflow.Request{
		UserID:        userID,
		ClientID:      b.clientID,
		Reference:     b.reference,
		HumanResponse: reply,
	})
	if err != nil {
		return h.errorText(userID, err)
	}
	return renderText(res)
}

func (h *ChatHandler) command(ctx context.Context, userID, cmd string, args []string) string {
	switch cmd {
	case "/start":
		var b binding
		if len(args) == 0 {
			var ok bool
			if b, ok = h.lookup(ctx, userID); !ok {
				return chatUsage
			}
		} else {
			b.clientID = sanitize(args[0])
			b.reference = h.defaultRef
			if len(args) > 1 {
				b.reference = args[1]
			}
			ref, err := records.NormalizeReference(b.reference)
			if err != nil || b.clientID == "" {
				return chatUsage
			}
			b.reference = ref
		}
		res, err := h.workflow.Handle(ctx, workflow.Request{
			UserID:    userID,
			ClientID:  b.clientID,
			Reference: b.reference,
		})
		if err != nil {
			return h.errorText(userID, err)
		}
		h.bind(userID, b)
		return renderText(res)

	case "/status":
		s, err := h.workflow.Progress(ctx, userID)
		if err != nil {
			return h.errorText(userID, err)
		}
		return renderSummaryText(s)

	case "/reset":
		if err := h.workflow.Reset(ctx, userID); err != nil {
			return h.errorText(userID, err)
		}
		h.unbind(userID)
		return "Your intake has been reset. " + chatUsage

	default:
		return chatUsage
	}
}

func (h *ChatHandler) lookup(ctx context.Context, userID string) (binding, bool) {
	h.mu.Lock()
	b, ok := h.bindings[userID]
	h.mu.Unlock()
	if ok {
		return b, true
	}

	s, err := h.workflow.Progress(ctx, userID)
	if err != nil || s.ClientID == "" {
		return binding{}, false
	}
	b = binding{clientID: s.ClientID, reference: s.Reference}
	h.bind(userID, b)
	return b, true
}

func (h *ChatHandler) bind(userID string, b binding) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bindings[userID] = b
}

func (h *ChatHandler) unbind(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.bindings, userID)
}

func (h *ChatHandler) errorText(userID string, err error) string {
	if errors.Is(err, workflow.ErrNoRun) {
		return "You have no intake in progress. " + chatUsage
	}
	switch workflow.KindOf(err) {
	case workflow.KindInvalidRequest:
		h.log.Info("chat request rejected", "user_id", userID, "error", err)
		return "That request can't be handled right now: your intake may already be complete. Send /status to check."
	case workflow.KindSchemaGeneration, workflow.KindResponder, workflow.KindClassification:
		h.log.Warn("chat request failed upstream", "user_id", userID, "error", err)
		return "I'm having trouble reaching the assistant. Please send your reply again in a moment."
	default:
		h.log.Error("chat request failed", "user_id", userID, "error", err)
		return "Something went wrong saving your progress. Please try again."
	}
}
