package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/rahul/intake/internal/workflow"
)

// ResultBody is the JSON shape of a driver result.
type ResultBody struct {
	Status           string  `json:"status"`
	QuestionNumber   int     `json:"question_number,omitempty"`
	TotalQuestions   int     `json:"total_questions"`
	Question         string  `json:"question,omitempty"`
	AIResponse       string  `json:"ai_response,omitempty"`
	Completed        *int    `json:"completed,omitempty"`
	ValidationResult *bool   `json:"validation_result"`
	Timestamp        float64 `json:"timestamp"`
}

// completedBody omits validation_result entirely.
type completedBody struct {
	Status             string  `json:"status"`
	TotalQuestions     int     `json:"total_questions"`
	CompletedQuestions int     `json:"completed_questions"`
	Message            string  `json:"message,omitempty"`
	Timestamp          float64 `json:"timestamp"`
}

type SummaryBody struct {
	UserID         string  `json:"user_id"`
	RunID          string  `json:"run_id"`
	ClientID       string  `json:"client_id"`
	Reference      string  `json:"reference"`
	Status         string  `json:"status"`
	CurrentStep    int     `json:"current_step"`
	Completed      int     `json:"completed"`
	TotalQuestions int     `json:"total_questions"`
	Answers        int     `json:"answers"`
	LastUpdated    string  `json:"last_updated"`
	Timestamp      float64 `json:"timestamp"`
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func resultBody(res *workflow.Result, now time.Time) any {
	if res.Status == workflow.ResultCompleted {
		return completedBody{
			Status:             res.Status,
			TotalQuestions:     res.TotalQuestions,
			CompletedQuestions: res.CompletedQuestions,
			Message:            res.Message,
			Timestamp:          unixSeconds(now),
		}
	}
	completed := res.Completed
	return ResultBody{
		Status:           res.Status,
		QuestionNumber:   res.QuestionNumber,
		TotalQuestions:   res.TotalQuestions,
		Question:         res.Question,
		AIResponse:       res.AIResponse,
		Completed:        &completed,
		ValidationResult: res.ValidationResult,
		Timestamp:        unixSeconds(now),
	}
}

func summaryBody(s *workflow.Summary, now time.Time) SummaryBody {
	return SummaryBody{
		UserID:         s.UserID,
		RunID:          s.RunID,
		ClientID:       s.ClientID,
		Reference:      s.Reference,
		Status:         string(s.Status),
		CurrentStep:    s.CurrentStep,
		Completed:      s.Completed,
		TotalQuestions: s.TotalQuestions,
		Answers:        s.Answers,
		LastUpdated:    s.LastUpdated.UTC().Format(time.RFC3339),
		Timestamp:      unixSeconds(now),
	}
}

// renderText formats a result for chat.
func renderText(res *workflow.Result) string {
	if res.Status == workflow.ResultCompleted {
		msg := res.Message
		if msg == "" {
			msg = "All questions have been completed!"
		}
		return fmt.Sprintf("%s (%d/%d)", msg, res.CompletedQuestions, res.TotalQuestions)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Question %d of %d\n\n", res.QuestionNumber, res.TotalQuestions)
	if res.AIResponse != "" {
		b.WriteString(res.AIResponse)
	} else {
		b.WriteString(res.Question)
	}
	return b.String()
}

func renderSummaryText(s *workflow.Summary) string {
	return fmt.Sprintf("Client %s (%s): %s, step %d of %d, %d confirmed.",
		s.ClientID, s.Reference, s.Status, s.CurrentStep, s.TotalQuestions, s.Completed)
}

// truncate cuts s to at most n runes, marking the cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
