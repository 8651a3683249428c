package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// NewLogger returns the process logger: tint-formatted, UTC millisecond
// timestamps, empty string attributes dropped.
func NewLogger(verbose bool) *slog.Logger {
	noColor := !term.IsTerminal(int(os.Stderr.Fd()))
	return newLogger(NewTermWriter(), verbose, noColor)
}

func newLogger(w io.Writer, verbose, noColor bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:   logLevel,
		NoColor: noColor,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				t := a.Value.Time().UTC()
				a.Value = slog.StringValue(formatRFC3339Millis(t))
			}
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}

// EventType defines the category of a transcript entry.
type EventType string

const (
	EventTypeLLM      EventType = "llm"
	EventTypeToolCall EventType = "tool_call"
	EventTypePolicy   EventType = "policy_check"
	EventTypeCost     EventType = "cost"
)

// Event is one JSON line in the transcript file.
type Event struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript appends model interactions to a JSONL file, keeping one
// rotated ".old" copy once the file passes maxSize.
type Transcript struct {
	mu      sync.Mutex
	path    string
	maxSize int64
	log     *slog.Logger
}

func NewTranscript(path string, log *slog.Logger) *Transcript {
	if path == "" {
		path = filepath.Join("logs", "llm.jsonl")
	}
	return &Transcript{
		path:    path,
		maxSize: 10 * 1024 * 1024,
		log:     log,
	}
}

// Log writes evt. A nil Transcript discards everything.
func (t *Transcript) Log(evt Event) {
	if t == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		t.log.Warn("failed to marshal transcript event", "type", evt.Type, "error", err)
		return
	}
	t.write(data)
}

func (t *Transcript) LogLLM(userID, phase string, prompt any, response string, toolCalls any) {
	t.Log(Event{
		Type:   EventTypeLLM,
		UserID: userID,
		Phase:  phase,
		Data: map[string]any{
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
	})
}

func (t *Transcript) LogToolCall(userID, tool, args, result string) {
	t.Log(Event{
		Type:   EventTypeToolCall,
		UserID: userID,
		Data: map[string]string{
			"tool":   tool,
			"args":   args,
			"result": result,
		},
	})
}

func (t *Transcript) LogPolicy(userID, tool, effect, reason string) {
	t.Log(Event{
		Type:   EventTypePolicy,
		UserID: userID,
		Data: map[string]string{
			"tool":   tool,
			"effect": effect,
			"reason": reason,
		},
	})
}

func (t *Transcript) write(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		t.log.Warn("failed to create transcript directory", "error", err)
		return
	}

	if info, err := os.Stat(t.path); err == nil && info.Size() > t.maxSize {
		t.rotate()
	}

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.log.Warn("failed to open transcript", "path", t.path, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		t.log.Warn("failed to write transcript", "path", t.path, "error", err)
	}
}

func (t *Transcript) rotate() {
	oldPath := t.path + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(t.path, oldPath)
}
