// Package workflow drives a user through an ordered list of intake questions,
// one step per call, persisting progress between calls.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const DefaultStartToken = "start"

const completedMessage = "All questions have been completed!"

// Recorder receives operation outcomes, typically for metrics.
type Recorder interface {
	ObserveOperation(op string, kind Kind, d time.Duration)
	ObserveIntent(wantsUpdate bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, Kind, time.Duration) {}
func (nopRecorder) ObserveIntent(bool)                           {}

// Driver is the workflow state machine. It holds no run state itself: every
// call loads the record, mutates a working copy and writes it back. Calls for
// the same user identity are serialized.
type Driver struct {
	source     QuestionSource
	responder  Responder
	classifier Classifier
	store      Store

	memory     MemoryResetter
	clock      clockwork.Clock
	log        *slog.Logger
	recorder   Recorder
	startToken string
	locks      *keyedMutex
}

// Option configures a Driver.
type Option func(*Driver)

func WithClock(c clockwork.Clock) Option {
	return func(d *Driver) { d.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.log = l }
}

func WithRecorder(r Recorder) Option {
	return func(d *Driver) { d.recorder = r }
}

// WithStartToken sets the reply that (case-insensitively) starts a run.
func WithStartToken(token string) Option {
	return func(d *Driver) {
		if token != "" {
			d.startToken = token
		}
	}
}

// WithMemory makes Reset also clear the responder's conversation memory.
func WithMemory(m MemoryResetter) Option {
	return func(d *Driver) { d.memory = m }
}

func NewDriver(source QuestionSource, responder Responder, classifier Classifier, store Store, opts ...Option) *Driver {
	d := &Driver{
		source:     source,
		responder:  responder,
		classifier: classifier,
		store:      store,
		clock:      clockwork.NewRealClock(),
		log:        slog.Default(),
		recorder:   nopRecorder{},
		startToken: DefaultStartToken,
		locks:      newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle dispatches a request: an absent reply or the start token starts the
// run, any other reply advances it.
func (d *Driver) Handle(ctx context.Context, req Request) (*Result, error) {
	reply := strings.TrimSpace(req.HumanResponse)
	if reply == "" || strings.EqualFold(reply, d.startToken) {
		return d.Start(ctx, req.UserID, req.ClientID, req.Reference)
	}
	return d.Advance(ctx, req)
}

// Start materializes the question sequence and poses step 1. If a record
// already exists the run is resumed as-is: no collaborator is called and
// nothing is written. Use Reset for a fresh run.
func (d *Driver) Start(ctx context.Context, userID, clientID, reference string) (res *Result, err error) {
	const op = "start"
	begin := d.clock.Now()
	defer func() { d.recorder.ObserveOperation(op, KindOf(err), d.clock.Since(begin)) }()

	if err := validateIdentity(op, userID, clientID, reference); err != nil {
		return nil, err
	}

	unlock := d.locks.Lock(userID)
	defer unlock()

	existing, err := d.store.LoadProgress(ctx, userID)
	switch {
	case err == nil:
		if existing.ClientID != clientID || existing.Reference != reference {
			d.log.Warn("resuming run for a different client identity",
				"user_id", userID, "run_client_id", existing.ClientID, "client_id", clientID)
		}
		d.log.Info("workflow resumed", "event", "workflow_resumed", "user_id", userID, "run_id", existing.RunID, "step", existing.CurrentStep)
		return resumeResult(existing), nil
	case !d.store.IsNotFound(err):
		return nil, newError(KindPersistence, op, userID, "load progress", err)
	}

	questions, err := d.source.Questions(ctx, clientID, reference)
	if err != nil {
		return nil, newError(KindSchemaGeneration, op, userID, "question source failed", err)
	}
	if err := validateQuestions(questions); err != nil {
		return nil, newError(KindSchemaGeneration, op, userID, err.Error(), nil)
	}

	first := questions[0]
	turn := Turn{
		UserID:    userID,
		ClientID:  clientID,
		Reference: reference,
		Step:      1,
		Total:     len(questions),
		Question:  first,
		Prompt:    first.Text,
	}
	utterance, err := d.responder.Respond(ctx, turn)
	if err != nil {
		return nil, newError(KindResponder, op, userID, "respond to step 1", err)
	}

	now := d.clock.Now().UTC()
	runID := uuid.NewString()
	set := &QuestionSet{
		UserID:      userID,
		RunID:       runID,
		ClientID:    clientID,
		Reference:   reference,
		Questions:   questions,
		GeneratedAt: now,
	}
	p := &Progress{
		UserID:         userID,
		RunID:          runID,
		ClientID:       clientID,
		Reference:      reference,
		CurrentStep:    1,
		CompletedCount: 0,
		TotalSteps:     len(questions),
		LastValidation: ValidationUnknown,
		Status:         StatusInProgress,
		CurrentPrompt:  first.Text,
		LastAIResponse: utterance,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := d.store.CreateRun(ctx, set, p); err != nil {
		if !errors.Is(err, ErrRunExists) {
			return nil, newError(KindPersistence, op, userID, "create run", err)
		}
		// Another process created the run after our load; resume theirs.
		existing, err := d.store.LoadProgress(ctx, userID)
		if err != nil {
			return nil, newError(KindPersistence, op, userID, "load progress", err)
		}
		d.log.Warn("run created concurrently, resuming", "event", "workflow_resumed", "user_id", userID, "run_id", existing.RunID)
		return resumeResult(existing), nil
	}

	d.recordTurn(ctx, turn, utterance)
	d.log.Info("workflow started", "event", "workflow_started", "user_id", userID, "run_id", runID, "client_id", clientID, "reference", reference, "total_questions", len(questions))

	return &Result{
		Status:         ResultStarted,
		QuestionNumber: 1,
		TotalQuestions: len(questions),
		Question:       first.Text,
		AIResponse:     utterance,
		Completed:      0,
	}, nil
}

// Advance classifies the human reply against the current step and either
// repeats the step (update requested) or moves past it (confirmed).
func (d *Driver) Advance(ctx context.Context, req Request) (res *Result, err error) {
	const op = "advance"
	begin := d.clock.Now()
	defer func() { d.recorder.ObserveOperation(op, KindOf(err), d.clock.Since(begin)) }()

	userID := req.UserID
	if err := validateIdentity(op, userID, req.ClientID, req.Reference); err != nil {
		return nil, err
	}
	reply := strings.TrimSpace(req.HumanResponse)
	if reply == "" {
		return nil, newError(KindInvalidRequest, op, userID, "human_response is required", nil)
	}

	unlock := d.locks.Lock(userID)
	defer unlock()

	current, err := d.store.LoadProgress(ctx, userID)
	if err != nil {
		if d.store.IsNotFound(err) {
			return nil, newError(KindInvalidRequest, op, userID, "", ErrNoRun)
		}
		return nil, newError(KindPersistence, op, userID, "load progress", err)
	}
	if current.ClientID != req.ClientID || current.Reference != req.Reference {
		d.log.Warn("advancing run for a different client identity",
			"user_id", userID, "run_client_id", current.ClientID, "client_id", req.ClientID,
			"run_reference", current.Reference, "reference", req.Reference)
	}
	if current.Status != StatusInProgress {
		return nil, newError(KindInvalidRequest, op, userID, "workflow is "+string(current.Status)+", no current step", nil)
	}

	set, err := d.store.LoadQuestions(ctx, userID)
	if err != nil {
		return nil, newError(KindPersistence, op, userID, "load questions", err)
	}
	question, ok := set.At(current.CurrentStep)
	if !ok || len(set.Questions) != current.TotalSteps {
		return nil, newError(KindPersistence, op, userID, "progress record does not match question set", nil)
	}

	wantsUpdate, err := d.classifier.WantsUpdate(ctx, question.Text, current.LastAIResponse, reply)
	if err != nil {
		return nil, newError(KindClassification, op, userID, "classify reply", err)
	}
	d.recorder.ObserveIntent(wantsUpdate)
	d.log.Debug("intent classified", "event", "intent_classified", "user_id", userID, "step", current.CurrentStep, "wants_update", wantsUpdate)

	now := d.clock.Now().UTC()
	next := current.Clone()
	next.UpdatedAt = now
	next.Answers = append(next.Answers, Answer{
		Step:          current.CurrentStep,
		Question:      current.CurrentPrompt,
		AIResponse:    current.LastAIResponse,
		HumanResponse: reply,
		WantsUpdate:   wantsUpdate,
		At:            now,
	})

	if wantsUpdate {
		// The correction itself becomes the prompt for the repeated step.
		turn := Turn{
			UserID:    userID,
			ClientID:  current.ClientID,
			Reference: current.Reference,
			Step:      current.CurrentStep,
			Total:     current.TotalSteps,
			Question:  question,
			Prompt:    reply,
		}
		utterance, err := d.responder.Respond(ctx, turn)
		if err != nil {
			return nil, newError(KindResponder, op, userID, "respond to update", err)
		}
		next.LastValidation = ValidationUpdateRequested
		next.CurrentPrompt = reply
		next.LastAIResponse = utterance
		if err := d.store.SaveProgress(ctx, next); err != nil {
			return nil, newError(KindPersistence, op, userID, "save progress", err)
		}
		d.recordTurn(ctx, turn, utterance)
		d.log.Info("step repeated", "event", "step_repeated", "user_id", userID, "run_id", next.RunID, "step", next.CurrentStep)
		return inProgressResult(next), nil
	}

	next.LastValidation = ValidationConfirmed
	next.CompletedCount++
	if next.CompletedCount == next.TotalSteps {
		next.Status = StatusCompleted
		if err := d.store.SaveProgress(ctx, next); err != nil {
			return nil, newError(KindPersistence, op, userID, "save progress", err)
		}
		d.log.Info("workflow completed", "event", "workflow_completed", "user_id", userID, "run_id", next.RunID, "total_questions", next.TotalSteps)
		return completedResult(next), nil
	}

	upcoming, ok := set.At(current.CurrentStep + 1)
	if !ok {
		return nil, newError(KindPersistence, op, userID, "next step missing from question set", nil)
	}
	turn := Turn{
		UserID:    userID,
		ClientID:  current.ClientID,
		Reference: current.Reference,
		Step:      upcoming.Index,
		Total:     current.TotalSteps,
		Question:  upcoming,
		Prompt:    upcoming.Text,
	}
	utterance, err := d.responder.Respond(ctx, turn)
	if err != nil {
		return nil, newError(KindResponder, op, userID, "respond to next step", err)
	}
	next.CurrentStep++
	next.CurrentPrompt = upcoming.Text
	next.LastAIResponse = utterance
	if err := d.store.SaveProgress(ctx, next); err != nil {
		return nil, newError(KindPersistence, op, userID, "save progress", err)
	}
	d.recordTurn(ctx, turn, utterance)
	d.log.Info("step advanced", "event", "step_advanced", "user_id", userID, "run_id", next.RunID, "step", next.CurrentStep, "completed", next.CompletedCount)
	return inProgressResult(next), nil
}

// Progress returns a summary of the user's run.
func (d *Driver) Progress(ctx context.Context, userID string) (*Summary, error) {
	const op = "progress"
	if strings.TrimSpace(userID) == "" {
		return nil, newError(KindInvalidRequest, op, userID, "user_id is required", nil)
	}
	p, err := d.store.LoadProgress(ctx, userID)
	if err != nil {
		if d.store.IsNotFound(err) {
			return nil, newError(KindInvalidRequest, op, userID, "", ErrNoRun)
		}
		return nil, newError(KindPersistence, op, userID, "load progress", err)
	}
	return &Summary{
		UserID:         p.UserID,
		RunID:          p.RunID,
		ClientID:       p.ClientID,
		Reference:      p.Reference,
		Status:         p.Status,
		CurrentStep:    p.CurrentStep,
		Completed:      p.CompletedCount,
		TotalQuestions: p.TotalSteps,
		Answers:        len(p.Answers),
		LastUpdated:    p.UpdatedAt,
	}, nil
}

// Reset deletes the user's run so the next start begins afresh.
func (d *Driver) Reset(ctx context.Context, userID string) (err error) {
	const op = "reset"
	begin := d.clock.Now()
	defer func() { d.recorder.ObserveOperation(op, KindOf(err), d.clock.Since(begin)) }()

	if strings.TrimSpace(userID) == "" {
		return newError(KindInvalidRequest, op, userID, "user_id is required", nil)
	}

	unlock := d.locks.Lock(userID)
	defer unlock()

	if err := d.store.DeleteRun(ctx, userID); err != nil {
		if d.store.IsNotFound(err) {
			return newError(KindInvalidRequest, op, userID, "", ErrNoRun)
		}
		return newError(KindPersistence, op, userID, "delete run", err)
	}
	if d.memory != nil {
		if err := d.memory.ClearMemory(ctx, userID); err != nil {
			return newError(KindPersistence, op, userID, "clear conversation memory", err)
		}
	}
	d.log.Info("workflow reset", "event", "workflow_reset", "user_id", userID)
	return nil
}

// recordTurn hands a persisted turn to the responder's memory. A memory
// failure does not undo the step.
func (d *Driver) recordTurn(ctx context.Context, turn Turn, reply string) {
	rec, ok := d.responder.(TurnRecorder)
	if !ok {
		return
	}
	if err := rec.RecordTurn(ctx, turn, reply); err != nil {
		d.log.Warn("failed to store conversation memory", "user_id", turn.UserID, "step", turn.Step, "error", err)
	}
}

func validateIdentity(op, userID, clientID, reference string) error {
	switch {
	case strings.TrimSpace(userID) == "":
		return newError(KindInvalidRequest, op, userID, "user_id is required", nil)
	case strings.TrimSpace(clientID) == "":
		return newError(KindInvalidRequest, op, userID, "client_id is required", nil)
	case strings.TrimSpace(reference) == "":
		return newError(KindInvalidRequest, op, userID, "reference is required", nil)
	}
	return nil
}

type malformedError string

func (m malformedError) Error() string { return string(m) }

func validateQuestions(qs []Question) error {
	if len(qs) == 0 {
		return malformedError("question source returned no questions")
	}
	for i, q := range qs {
		if q.Index != i+1 {
			return malformedError("question indexes are not a 1-based sequence")
		}
		if strings.TrimSpace(q.Text) == "" {
			return malformedError("question has empty text")
		}
	}
	return nil
}

func resumeResult(p *Progress) *Result {
	if p.Status == StatusCompleted {
		return completedResult(p)
	}
	return inProgressResult(p)
}

func inProgressResult(p *Progress) *Result {
	return &Result{
		Status:           ResultInProgress,
		QuestionNumber:   p.CurrentStep,
		TotalQuestions:   p.TotalSteps,
		Question:         p.CurrentPrompt,
		AIResponse:       p.LastAIResponse,
		Completed:        p.CompletedCount,
		ValidationResult: p.LastValidation.Bool(),
	}
}

func completedResult(p *Progress) *Result {
	return &Result{
		Status:             ResultCompleted,
		TotalQuestions:     p.TotalSteps,
		CompletedQuestions: p.CompletedCount,
		Message:            completedMessage,
	}
}
