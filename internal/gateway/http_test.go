package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/intake/internal/records"
	"github.com/rahul/intake/internal/workflow"
	"github.com/rahul/intake/pkg/config"
)

type fakeWorkflow struct {
	mu       sync.Mutex
	requests []workflow.Request
	result   *workflow.Result
	summary  *workflow.Summary
	err      error
	resets   []string
}

func (f *fakeWorkflow) Handle(_ context.Context, req workflow.Request) (*workflow.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeWorkflow) Progress(_ context.Context, userID string) (*workflow.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.summary == nil {
		return nil, &workflow.Error{Kind: workflow.KindInvalidRequest, Op: "progress", UserID: userID, Err: workflow.ErrNoRun}
	}
	return f.summary, nil
}

func (f *fakeWorkflow) Reset(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.resets = append(f.resets, userID)
	return nil
}

func (f *fakeWorkflow) lastRequest() workflow.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

var testNow = time.Date(2026, 4, 15, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(wf Workflow, perMinute int, opts ...HTTPOption) *HTTPGateway {
	cfg := config.GatewayConfig{
		Enabled:            true,
		Addr:               "127.0.0.1:0",
		CORSOrigins:        []string{"*"},
		RateLimitPerMinute: perMinute,
	}
	opts = append([]HTTPOption{
		WithHTTPClock(clockwork.NewFakeClockAt(testNow)),
		WithVersion("test"),
	}, opts...)
	return NewHTTPGateway(wf, cfg, quietLogger(), opts...)
}

func post(t *testing.T, h http.Handler, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, decode(t, rec)
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec, decode(t, rec)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestWorkflow_StartedShape(t *testing.T) {
	wf := &fakeWorkflow{result: &workflow.Result{
		Status:         workflow.ResultStarted,
		QuestionNumber: 1,
		TotalQuestions: 18,
		Question:       "What is your full legal name?",
		AIResponse:     "Hello! Could you confirm your full legal name?",
	}}
	g := newTestGateway(wf, 0)

	rec, body := post(t, g.Handler(), "/tax/workflow", `{"user_id":"user123","client_id":"TESTDEM1","reference":"individual","human_response":"start"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	assert.Equal(t, "started", body["status"])
	assert.EqualValues(t, 1, body["question_number"])
	assert.EqualValues(t, 18, body["total_questions"])
	assert.EqualValues(t, 0, body["completed"])
	assert.Contains(t, body, "validation_result")
	assert.Nil(t, body["validation_result"])
	assert.InDelta(t, float64(testNow.Unix()), body["timestamp"], 0.001)

	req := wf.lastRequest()
	assert.Equal(t, "user123", req.UserID)
	assert.Equal(t, "TESTDEM1", req.ClientID)
	assert.Equal(t, "individual", req.Reference)
	assert.Equal(t, "start", req.HumanResponse)
}

func TestWorkflow_InProgressCarriesValidation(t *testing.T) {
	update := true
	wf := &fakeWorkflow{result: &workflow.Result{
		Status:           workflow.ResultInProgress,
		QuestionNumber:   2,
		TotalQuestions:   18,
		Question:         "my name is Jane Q Doe",
		AIResponse:       "Noted, updating your name to Jane Q Doe.",
		Completed:        1,
		ValidationResult: &update,
	}}
	g := newTestGateway(wf, 0)

	rec, body := post(t, g.Handler(), "/tax/workflow", `{"user_id":"user123","client_id":"TESTDEM1","human_response":"no, my name is Jane Q Doe"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "in_progress", body["status"])
	assert.Equal(t, true, body["validation_result"])
	assert.EqualValues(t, 1, body["completed"])
	assert.Equal(t, "individual", wf.lastRequest().Reference)
}

func TestWorkflow_CompletedShape(t *testing.T) {
	wf := &fakeWorkflow{result: &workflow.Result{
		Status:             workflow.ResultCompleted,
		TotalQuestions:     3,
		CompletedQuestions: 3,
		Message:            "All questions have been completed!",
	}}
	g := newTestGateway(wf, 0)

	rec, body := post(t, g.Handler(), "/tax/workflow", `{"user_id":"u","client_id":"c","reference":"Company","human_response":"yes"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])
	assert.EqualValues(t, 3, body["completed_questions"])
	assert.NotContains(t, body, "validation_result")
	assert.NotContains(t, body, "question_number")
	assert.Equal(t, "company", wf.lastRequest().Reference)
}

func TestWorkflow_RejectsBadRequests(t *testing.T) {
	tests := map[string]string{
		"invalid json":      `{"user_id":`,
		"missing user":      `{"client_id":"c"}`,
		"missing client":    `{"user_id":"u","client_id":"  "}`,
		"unknown reference": `{"user_id":"u","client_id":"c","reference":"trust"}`,
		"markup only reply": `{"user_id":"u","client_id":"c","human_response":"<script>alert(1)</script>"}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			wf := &fakeWorkflow{}
			g := newTestGateway(wf, 0)
			rec, body := post(t, g.Handler(), "/tax/workflow", raw)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid_request", body["kind"])
			assert.Empty(t, wf.requests)
		})
	}
}

func TestWorkflow_SanitizesReply(t *testing.T) {
	wf := &fakeWorkflow{result: &workflow.Result{Status: workflow.ResultInProgress, QuestionNumber: 2, TotalQuestions: 3}}
	g := newTestGateway(wf, 0)

	rec, _ := post(t, g.Handler(), "/tax/workflow", `{"user_id":"u","client_id":"c","human_response":"<b>yes</b> &amp; thanks"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "yes & thanks", wf.lastRequest().HumanResponse)
}

func TestWorkflow_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"no run", &workflow.Error{Kind: workflow.KindInvalidRequest, Err: workflow.ErrNoRun}, http.StatusNotFound, "invalid_request"},
		{"completed run", &workflow.Error{Kind: workflow.KindInvalidRequest, Msg: "workflow already completed"}, http.StatusBadRequest, "invalid_request"},
		{"schema", &workflow.Error{Kind: workflow.KindSchemaGeneration}, http.StatusBadGateway, "schema_generation"},
		{"responder", &workflow.Error{Kind: workflow.KindResponder}, http.StatusBadGateway, "responder"},
		{"classifier", &workflow.Error{Kind: workflow.KindClassification}, http.StatusBadGateway, "classification"},
		{"persistence", &workflow.Error{Kind: workflow.KindPersistence}, http.StatusInternalServerError, "persistence"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(&fakeWorkflow{err: tt.err}, 0)
			rec, body := post(t, g.Handler(), "/tax/workflow", `{"user_id":"u","client_id":"c","human_response":"yes"}`)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.kind, body["kind"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestWorkflow_RateLimitedPerUser(t *testing.T) {
	wf := &fakeWorkflow{result: &workflow.Result{Status: workflow.ResultInProgress, QuestionNumber: 2, TotalQuestions: 3}}
	// 10 per minute gives a burst of one.
	g := newTestGateway(wf, 10)

	rec, _ := post(t, g.Handler(), "/tax/workflow", `{"user_id":"u1","client_id":"c","human_response":"yes"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := post(t, g.Handler(), "/tax/workflow", `{"user_id":"u1","client_id":"c","human_response":"yes"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limit_exceeded", body["error"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.InDelta(t, 6, body["retry_after"], 1)

	rec, _ = post(t, g.Handler(), "/tax/workflow", `{"user_id":"u2","client_id":"c","human_response":"yes"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, wf.requests, 2)
}

func TestProgress(t *testing.T) {
	wf := &fakeWorkflow{}
	g := newTestGateway(wf, 0)

	rec, body := get(t, g.Handler(), "/tax/workflow/user123")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "invalid_request", body["kind"])

	wf.summary = &workflow.Summary{
		UserID:         "user123",
		RunID:          "run-1",
		ClientID:       "TESTDEM1",
		Reference:      "individual",
		Status:         workflow.StatusInProgress,
		CurrentStep:    2,
		Completed:      1,
		TotalQuestions: 18,
		Answers:        1,
		LastUpdated:    testNow,
	}
	rec, body = get(t, g.Handler(), "/tax/workflow/user123")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "in_progress", body["status"])
	assert.EqualValues(t, 2, body["current_step"])
	assert.Equal(t, "2026-04-15T09:00:00Z", body["last_updated"])
}

func TestReset(t *testing.T) {
	wf := &fakeWorkflow{}
	g := newTestGateway(wf, 0)

	rec, body := post(t, g.Handler(), "/tax/workflow/user123/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reset", body["status"])
	assert.Equal(t, []string{"user123"}, wf.resets)

	wf.err = &workflow.Error{Kind: workflow.KindInvalidRequest, Err: workflow.ErrNoRun}
	rec, _ = post(t, g.Handler(), "/tax/workflow/ghost/reset", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRootAndHealth(t *testing.T) {
	g := newTestGateway(&fakeWorkflow{}, 0)

	rec, body := get(t, g.Handler(), "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", body["version"])
	assert.Contains(t, body["endpoints"], "POST /tax/workflow")

	rec, body = get(t, g.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, []any{"healthy", "degraded"}, body["status"])
	assert.Contains(t, body, "active_operations")
}

func TestCORSPreflight(t *testing.T) {
	g := newTestGateway(&fakeWorkflow{}, 0)
	req := httptest.NewRequest(http.MethodOptions, "/tax/workflow", nil)
	req.Header.Set("Origin", "https://portal.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

type fakeDirectory struct {
	byClient map[string][]records.Association
	err      error
	lookups  []string
}

func (d *fakeDirectory) Associated(_ context.Context, mainClientID, reference string) ([]records.Association, error) {
	d.lookups = append(d.lookups, mainClientID+"/"+reference)
	if d.err != nil {
		return nil, d.err
	}
	if reference != records.ReferenceIndividual {
		return nil, records.ErrUnsupportedReference
	}
	list, ok := d.byClient[mainClientID]
	if !ok {
		return nil, records.ErrClientNotFound
	}
	return list, nil
}

func TestAssociated(t *testing.T) {
	dir := &fakeDirectory{byClient: map[string][]records.Association{
		"TESTDEM1": {{MainClientID: "TESTDEM1", ClientID: "KID01", Reference: "individual", Type: records.AssociationSubClient, ClientName: "Sam Doe"}},
		"SOLO01":   {},
	}}
	g := newTestGateway(&fakeWorkflow{}, 0, WithClientDirectory(dir))

	rec, body := get(t, g.Handler(), "/clients/TESTDEM1/associated")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "TESTDEM1", body["client_id"])
	assert.Equal(t, "individual", body["reference"])
	list, ok := body["associations"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	first := list[0].(map[string]any)
	assert.Equal(t, "KID01", first["client_id"])
	assert.Equal(t, "Sub Client", first["association_type"])
	assert.Equal(t, "Sam Doe", first["client_name"])

	rec, body = get(t, g.Handler(), "/clients/SOLO01/associated?reference=Individual")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["associations"])

	rec, body = get(t, g.Handler(), "/clients/ACME01/associated?reference=company")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", body["kind"])

	rec, _ = get(t, g.Handler(), "/clients/TESTDEM1/associated?reference=trust")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = get(t, g.Handler(), "/clients/NOBODY/associated")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["kind"])

	dir.err = errors.New("disk I/O error")
	rec, body = get(t, g.Handler(), "/clients/TESTDEM1/associated")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "persistence", body["kind"])
	assert.NotContains(t, body["error"], "disk")

	assert.Equal(t, []string{"TESTDEM1/individual", "SOLO01/individual", "ACME01/company", "NOBODY/individual", "TESTDEM1/individual"}, dir.lookups)

	_, body = get(t, g.Handler(), "/")
	assert.Contains(t, body["endpoints"], "GET /clients/{client_id}/associated")
}

func TestAssociated_NotServedWithoutDirectory(t *testing.T) {
	g := newTestGateway(&fakeWorkflow{}, 0)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/clients/TESTDEM1/associated", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
