// Package store persists workflow progress, question sets and the
// per-user conversation memory the responder reads back.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/intake/internal/workflow"
)

var ErrNotFound = errors.New("not found")

const (
	RoleHuman  = "human"
	RoleAI     = "ai"
	RoleSystem = "system"
)

// Message is one stored conversation turn.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Memory is the rolling conversation history per user.
type Memory interface {
	AddMessage(ctx context.Context, userID, role, content string) error
	GetHistory(ctx context.Context, userID string, limit int) ([]llms.MessageContent, error)
	ClearMemory(ctx context.Context, userID string) error
}

// Backend is a complete persistence layer: progress, question sets and memory.
type Backend interface {
	workflow.Store
	Memory
	Close() error
}

// IsNotFound reports whether err means the user has no stored run.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func toMessageContent(role, content string) llms.MessageContent {
	var msgRole llms.ChatMessageType
	switch role {
	case RoleHuman:
		msgRole = llms.ChatMessageTypeHuman
	case RoleAI:
		msgRole = llms.ChatMessageTypeAI
	case RoleSystem:
		msgRole = llms.ChatMessageTypeSystem
	default:
		msgRole = llms.ChatMessageTypeHuman
	}
	return llms.MessageContent{
		Role:  msgRole,
		Parts: []llms.ContentPart{llms.TextPart(content)},
	}
}
