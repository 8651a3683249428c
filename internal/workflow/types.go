package workflow

import (
	"context"
	"time"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Validation is the last classifier outcome recorded for a run.
type Validation string

const (
	ValidationUnknown         Validation = ""
	ValidationUpdateRequested Validation = "update_requested"
	ValidationConfirmed       Validation = "confirmed"
)

// Bool maps the validation onto the wire form: nil, true (update) or false (confirm).
func (v Validation) Bool() *bool {
	switch v {
	case ValidationUpdateRequested:
		b := true
		return &b
	case ValidationConfirmed:
		b := false
		return &b
	default:
		return nil
	}
}

// Question is one step of a run. Index is 1-based and defines the step order.
type Question struct {
	Index     int            `json:"index"`
	PromptKey string         `json:"prompt_key"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// QuestionSet is the ordered question sequence materialized at start.
// It is never regenerated or reordered while the run is live.
type QuestionSet struct {
	UserID      string     `json:"user_id"`
	RunID       string     `json:"run_id"`
	ClientID    string     `json:"client_id"`
	Reference   string     `json:"reference"`
	Questions   []Question `json:"questions"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// At returns the question for a 1-based step.
func (qs *QuestionSet) At(step int) (Question, bool) {
	if qs == nil || step < 1 || step > len(qs.Questions) {
		return Question{}, false
	}
	return qs.Questions[step-1], true
}

// Answer records one advance call against a step.
type Answer struct {
	Step          int       `json:"step"`
	Question      string    `json:"question"`
	AIResponse    string    `json:"ai_response"`
	HumanResponse string    `json:"human_response"`
	WantsUpdate   bool      `json:"wants_update"`
	At            time.Time `json:"at"`
}

// Progress is the durable per-user workflow record.
type Progress struct {
	UserID         string     `json:"user_id"`
	RunID          string     `json:"run_id"`
	ClientID       string     `json:"client_id"`
	Reference      string     `json:"reference"`
	CurrentStep    int        `json:"current_step"`
	CompletedCount int        `json:"completed_count"`
	TotalSteps     int        `json:"total_steps"`
	LastValidation Validation `json:"last_validation_result"`
	Status         Status     `json:"status"`
	CurrentPrompt  string     `json:"current_prompt"`
	LastAIResponse string     `json:"last_ai_response"`
	Answers        []Answer   `json:"answers"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate a working copy safely.
func (p *Progress) Clone() *Progress {
	if p == nil {
		return nil
	}
	c := *p
	if p.Answers != nil {
		c.Answers = make([]Answer, len(p.Answers))
		copy(c.Answers, p.Answers)
	}
	return &c
}

// Request is the single exposed operation of the driver.
// An empty HumanResponse or the start token selects Start, anything else Advance.
type Request struct {
	UserID        string
	ClientID      string
	Reference     string
	HumanResponse string
}

// Result is returned by Start and Advance.
type Result struct {
	Status             string
	QuestionNumber     int
	TotalQuestions     int
	Question           string
	AIResponse         string
	Completed          int
	ValidationResult   *bool
	CompletedQuestions int
	Message            string
}

const (
	ResultStarted    = "started"
	ResultInProgress = "in_progress"
	ResultCompleted  = "completed"
)

// Summary is a read-only view of a user's run.
type Summary struct {
	UserID         string
	RunID          string
	ClientID       string
	Reference      string
	Status         Status
	CurrentStep    int
	Completed      int
	TotalQuestions int
	Answers        int
	LastUpdated    time.Time
}

// Turn is what the responder sees for one step.
type Turn struct {
	UserID    string
	ClientID  string
	Reference string
	Step      int
	Total     int
	Question  Question
	// Prompt is the text actually posed: the question text, or the human's
	// own correction when re-posing a step after an update request.
	Prompt string
}

// QuestionSource materializes the ordered question sequence for a client.
type QuestionSource interface {
	Questions(ctx context.Context, clientID, reference string) ([]Question, error)
}

// Responder phrases a step for the human and may read or write client data.
type Responder interface {
	Respond(ctx context.Context, turn Turn) (string, error)
}

// Classifier reports whether the human wants to change the recorded value.
type Classifier interface {
	WantsUpdate(ctx context.Context, question, aiUtterance, humanReply string) (bool, error)
}

// Store persists progress records and question sets, keyed by user identity.
// Lookups of unknown users must return an error matching store.ErrNotFound,
// which the driver receives through IsNotFound.
type Store interface {
	LoadProgress(ctx context.Context, userID string) (*Progress, error)
	LoadQuestions(ctx context.Context, userID string) (*QuestionSet, error)
	// CreateRun writes the question set and the initial record together. It
	// must not replace an existing run and fails with ErrRunExists instead.
	CreateRun(ctx context.Context, set *QuestionSet, p *Progress) error
	SaveProgress(ctx context.Context, p *Progress) error
	DeleteRun(ctx context.Context, userID string) error
	IsNotFound(err error) bool
}

// TurnRecorder is implemented by responders that keep conversation memory.
// The driver calls RecordTurn only after the turn's progress is persisted.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, turn Turn, reply string) error
}

// MemoryResetter is implemented by responders that keep per-user conversation memory.
type MemoryResetter interface {
	ClearMemory(ctx context.Context, userID string) error
}
