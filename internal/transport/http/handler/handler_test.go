package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ErlanBelekov/brew-scheduler/internal/domain"
	"github.com/ErlanBelekov/brew-scheduler/internal/infrastructure/memory"
	"github.com/ErlanBelekov/brew-scheduler/internal/notify"
	"github.com/ErlanBelekov/brew-scheduler/internal/process"
	"github.com/ErlanBelekov/brew-scheduler/internal/timer"
	"github.com/ErlanBelekov/brew-scheduler/internal/transport/http/handler"
	"github.com/ErlanBelekov/brew-scheduler/internal/usecase"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type inlineCommitter struct{}

func (inlineCommitter) Submit(_ string, fn func(ctx context.Context) error) {
	_ = fn(context.Background())
}

// fakeStarter stubs the batch usecase.
type fakeStarter struct {
	startFn func(ctx context.Context, input usecase.StartBatchInput) (*domain.Batch, error)
}

func (f *fakeStarter) StartBatch(ctx context.Context, input usecase.StartBatchInput) (*domain.Batch, error) {
	return f.startFn(ctx, input)
}

// stack wires the handlers to an in-memory store and a real timer engine.
type stack struct {
	batches *usecase.BatchUsecase
	engine  *timer.Engine
	manager *process.Manager
	feed    *notify.Feed
	router  *gin.Engine
}

// withUser stands in for the auth middleware.
func withUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Set("userID", userID)
		}
		c.Next()
	}
}

func newStack(t *testing.T, userID string) *stack {
	t.Helper()
	logger := discardLogger()
	feed := notify.NewFeed()
	batches := usecase.NewBatchUsecase(memory.NewBatchRepository())
	engine := timer.New(feed, logger)
	manager := process.NewManager(batches, engine, inlineCommitter{}, feed, logger)

	bh := handler.NewBatchHandler(batches, logger)
	ph := handler.NewProcessHandler(manager, logger)
	th := handler.NewTimerHandler(engine, manager, logger)

	r := gin.New()
	r.Use(withUser(userID))
	r.POST("/batches", bh.Start)
	r.POST("/batches/:id/open", ph.Open)
	r.DELETE("/batches/:id/open", ph.Close)
	r.GET("/batches/:id/view", ph.View)
	r.POST("/batches/:id/steps/change", ph.ChangeStep)
	r.POST("/batches/:id/steps/complete", ph.CompleteStep)
	r.POST("/batches/:id/steps/active", ph.GoToActiveStep)
	r.POST("/batches/:id/calendar/start", ph.StartCalendar)
	r.POST("/batches/:id/calendar/change-date", ph.ChangeDate)
	r.GET("/batches/:id/alerts", ph.Alerts)
	r.DELETE("/batches/:id/alerts", ph.ClearAlerts)
	r.GET("/batches/:id/timers", th.List)
	r.POST("/timers/:id/start", th.Start)
	r.POST("/timers/:id/stop", th.Stop)
	r.POST("/timers/:id/reset", th.Reset)
	r.POST("/timers/:id/add-time", th.AddTime)

	return &stack{batches: batches, engine: engine, manager: manager, feed: feed, router: r}
}

func (s *stack) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *stack) startBatch(t *testing.T, userID string, steps ...domain.Step) string {
	t.Helper()
	b, err := s.batches.StartBatch(context.Background(), usecase.StartBatchInput{
		UserID:     userID,
		RecipeName: "Stout",
		Steps:      steps,
	})
	if err != nil {
		t.Fatalf("start batch: %v", err)
	}
	return b.ID
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) process.View {
	t.Helper()
	var v process.View
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode view: %v (body %s)", err, w.Body.String())
	}
	return v
}

func brewDay() []domain.Step {
	return []domain.Step{
		{ID: "mash", Name: "Mash", Type: domain.StepTimer, Duration: 60, Concurrent: true},
		{ID: "sparge", Name: "Sparge", Type: domain.StepManual, Concurrent: true},
		{ID: "boil", Name: "Boil", Type: domain.StepTimer, Duration: 60, SplitInterval: 4},
		{ID: "ferment", Name: "Ferment", Type: domain.StepCalendar, Duration: 14},
	}
}

// ---- batch ----

func TestStartBatch(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		var got usecase.StartBatchInput
		fake := &fakeStarter{startFn: func(_ context.Context, in usecase.StartBatchInput) (*domain.Batch, error) {
			got = in
			return &domain.Batch{ID: "b-1", Process: domain.Process{Schedule: in.Steps}}, nil
		}}
		r := gin.New()
		r.Use(withUser("brewer-1"))
		r.POST("/batches", handler.NewBatchHandler(fake, discardLogger()).Start)

		body := `{"recipe_name":"Stout","steps":[{"id":"a","name":"Mash","type":"manual"}]}`
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/batches", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201 (body %s)", w.Code, w.Body.String())
		}
		if got.UserID != "brewer-1" || got.RecipeName != "Stout" || len(got.Steps) != 1 {
			t.Errorf("input = %+v", got)
		}
	})

	t.Run("no steps", func(t *testing.T) {
		fake := &fakeStarter{startFn: func(context.Context, usecase.StartBatchInput) (*domain.Batch, error) {
			t.Fatal("usecase must not be called")
			return nil, nil
		}}
		r := gin.New()
		r.POST("/batches", handler.NewBatchHandler(fake, discardLogger()).Start)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/batches", strings.NewReader(`{"steps":[]}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("invalid schedule", func(t *testing.T) {
		s := newStack(t, "brewer-1")
		w := s.do(t, http.MethodPost, "/batches", `{"steps":[{"name":"Boil","type":"timer"}]}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
		}
	})

	t.Run("store failure", func(t *testing.T) {
		fake := &fakeStarter{startFn: func(context.Context, usecase.StartBatchInput) (*domain.Batch, error) {
			return nil, errors.New("connection reset")
		}}
		r := gin.New()
		r.POST("/batches", handler.NewBatchHandler(fake, discardLogger()).Start)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/batches",
			strings.NewReader(`{"steps":[{"id":"a","name":"Mash","type":"manual"}]}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", w.Code)
		}
		if strings.Contains(w.Body.String(), "connection reset") {
			t.Error("internal error leaked to client")
		}
	})
}

// ---- process ----

func TestOpenAndNavigate(t *testing.T) {
	s := newStack(t, "brewer-1")
	id := s.startBatch(t, "brewer-1", brewDay()...)

	w := s.do(t, http.MethodPost, "/batches/"+id+"/open", "")
	if w.Code != http.StatusOK {
		t.Fatalf("open status = %d (body %s)", w.Code, w.Body.String())
	}
	v := decodeView(t, w)
	if v.ViewStepIndex != 0 || v.StepType != domain.StepTimer || len(v.Timers) != 1 || !v.AtViewStart {
		t.Errorf("open view = %+v, want the mash timer at the start", v)
	}

	w = s.do(t, http.MethodPost, "/batches/"+id+"/steps/change", `{"direction":"next"}`)
	v = decodeView(t, w)
	if v.ViewStepIndex != 2 || v.IsCurrent {
		t.Errorf("after next: index %d current %v, want 2 false", v.ViewStepIndex, v.IsCurrent)
	}

	w = s.do(t, http.MethodPost, "/batches/"+id+"/steps/active", "")
	v = decodeView(t, w)
	if v.ViewStepIndex != 0 || !v.IsCurrent {
		t.Errorf("after active: index %d current %v, want 0 true", v.ViewStepIndex, v.IsCurrent)
	}

	w = s.do(t, http.MethodPost, "/batches/"+id+"/steps/complete", "")
	v = decodeView(t, w)
	if v.CurrentStep != 2 || v.ViewStepIndex != 2 {
		t.Errorf("after complete: current %d view %d, want 2 2", v.CurrentStep, v.ViewStepIndex)
	}

	stored, err := s.batches.GetBatchByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if stored.Process.CurrentStep != 2 {
		t.Errorf("persisted current step = %d, want 2", stored.Process.CurrentStep)
	}
}

func TestChangeStep_BadDirection(t *testing.T) {
	s := newStack(t, "brewer-1")
	id := s.startBatch(t, "brewer-1", brewDay()...)
	s.do(t, http.MethodPost, "/batches/"+id+"/open", "")

	for _, body := range []string{`{"direction":"sideways"}`, `{}`} {
		w := s.do(t, http.MethodPost, "/batches/"+id+"/steps/change", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, w.Code)
		}
	}
}

func TestProcess_NotFound(t *testing.T) {
	s := newStack(t, "brewer-1")
	foreign := s.startBatch(t, "someone-else", brewDay()...)

	tests := []struct {
		name, method, path string
	}{
		{"open unknown", http.MethodPost, "/batches/nope/open"},
		{"open foreign", http.MethodPost, "/batches/" + foreign + "/open"},
		{"view not open", http.MethodGet, "/batches/" + foreign + "/view"},
		{"close not open", http.MethodDelete, "/batches/" + foreign + "/open"},
		{"alerts not open", http.MethodGet, "/batches/" + foreign + "/alerts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, "")
			if w.Code != http.StatusNotFound {
				t.Fatalf("status = %d, want 404", w.Code)
			}
			var body map[string]string
			_ = json.Unmarshal(w.Body.Bytes(), &body)
			if body["action"] != "root" {
				t.Errorf("action = %q, want root", body["action"])
			}
		})
	}
}

func TestCompleteLastStep_EndsBatch(t *testing.T) {
	s := newStack(t, "brewer-1")
	id := s.startBatch(t, "brewer-1",
		domain.Step{ID: "a", Name: "Mash", Type: domain.StepManual},
	)
	s.do(t, http.MethodPost, "/batches/"+id+"/open", "")

	w := s.do(t, http.MethodPost, "/batches/"+id+"/steps/complete", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", w.Code, w.Body.String())
	}
	if v := decodeView(t, w); !v.Archived {
		t.Error("view not archived")
	}

	w = s.do(t, http.MethodPost, "/batches/"+id+"/steps/complete", "")
	if w.Code != http.StatusConflict {
		t.Errorf("second complete status = %d, want 409", w.Code)
	}
	if s.engine.HasBatchTimer(id) {
		t.Error("timers survived the end of the batch")
	}
}

func TestCalendarLifecycle(t *testing.T) {
	s := newStack(t, "brewer-1")
	id := s.startBatch(t, "brewer-1",
		domain.Step{ID: "a", Name: "Brew", Type: domain.StepManual},
		domain.Step{ID: "b", Name: "Ferment", Type: domain.StepCalendar, Duration: 14},
	)
	s.do(t, http.MethodPost, "/batches/"+id+"/open", "")

	w := s.do(t, http.MethodPost, "/batches/"+id+"/calendar/start", `{}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("calendar on manual step: status = %d, want 409", w.Code)
	}
	s.do(t, http.MethodPost, "/batches/"+id+"/steps/complete", "")

	w = s.do(t, http.MethodPost, "/batches/"+id+"/calendar/change-date", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("change date before start: status = %d, want 409", w.Code)
	}

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	body, _ := json.Marshal(map[string]any{"start": start})
	w = s.do(t, http.MethodPost, "/batches/"+id+"/calendar/start", string(body))
	if w.Code != http.StatusOK {
		t.Fatalf("start calendar: status = %d (body %s)", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodGet, "/batches/"+id+"/alerts", "")
	var alerts struct {
		Alerts []domain.Alert `json:"alerts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &alerts); err != nil {
		t.Fatalf("decode alerts: %v", err)
	}
	if len(alerts.Alerts) != 1 || !alerts.Alerts[0].Datetime.Equal(start.AddDate(0, 0, 14)) {
		t.Fatalf("alerts = %+v, want one at start+14d", alerts.Alerts)
	}

	w = s.do(t, http.MethodPost, "/batches/"+id+"/calendar/change-date", "")
	if w.Code != http.StatusOK {
		t.Fatalf("change date: status = %d", w.Code)
	}
	w = s.do(t, http.MethodDelete, "/batches/"+id+"/alerts", "")
	if !bytes.Contains(w.Body.Bytes(), []byte(`"removed":0`)) {
		t.Errorf("clear after change-date = %s, want removed 0", w.Body.String())
	}
}

func TestClose(t *testing.T) {
	s := newStack(t, "brewer-1")
	id := s.startBatch(t, "brewer-1", brewDay()...)
	s.do(t, http.MethodPost, "/batches/"+id+"/open", "")

	if w := s.do(t, http.MethodDelete, "/batches/"+id+"/open", ""); w.Code != http.StatusNoContent {
		t.Fatalf("close status = %d, want 204", w.Code)
	}
	if s.engine.HasBatchTimer(id) {
		t.Error("timers not removed on close")
	}
	if w := s.do(t, http.MethodGet, "/batches/"+id+"/view", ""); w.Code != http.StatusNotFound {
		t.Errorf("view after close = %d, want 404", w.Code)
	}
}

// ---- timers ----

func TestTimerControls(t *testing.T) {
	s := newStack(t, "brewer-1")
	id := s.startBatch(t, "brewer-1", brewDay()...)
	s.do(t, http.MethodPost, "/batches/"+id+"/open", "")

	w := s.do(t, http.MethodGet, "/batches/"+id+"/timers", "")
	var list struct {
		Timers []domain.Timer `json:"timers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode timers: %v", err)
	}
	if len(list.Timers) != 2 {
		t.Fatalf("timers = %d, want 2", len(list.Timers))
	}
	timerID := list.Timers[0].ID

	decode := func(w *httptest.ResponseRecorder) domain.Timer {
		t.Helper()
		var tm domain.Timer
		if err := json.Unmarshal(w.Body.Bytes(), &tm); err != nil {
			t.Fatalf("decode timer: %v (body %s)", err, w.Body.String())
		}
		return tm
	}

	if tm := decode(s.do(t, http.MethodPost, "/timers/"+timerID+"/start", "")); !tm.IsRunning {
		t.Error("timer not running after start")
	}
	if tm := decode(s.do(t, http.MethodPost, "/timers/"+timerID+"/add-time", "")); tm.Duration != 61 || tm.TimeRemaining != 61*60 {
		t.Errorf("after add-time: duration %d remaining %d", tm.Duration, tm.TimeRemaining)
	}
	if tm := decode(s.do(t, http.MethodPost, "/timers/"+timerID+"/stop", "")); tm.IsRunning {
		t.Error("timer still running after stop")
	}
	if tm := decode(s.do(t, http.MethodPost, "/timers/"+timerID+"/reset", `{"duration":5}`)); tm.TimeRemaining != 300 {
		t.Errorf("after reset: remaining %d, want 300", tm.TimeRemaining)
	}

	if w := s.do(t, http.MethodPost, "/timers/"+timerID+"/reset", `{"duration":0}`); w.Code != http.StatusBadRequest {
		t.Errorf("reset to 0: status = %d, want 400", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/timers/missing/start", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown timer: status = %d, want 404", w.Code)
	}
}

func TestTimerControls_ForeignBatch(t *testing.T) {
	s := newStack(t, "brewer-1")
	foreign := s.startBatch(t, "brewer-2", brewDay()...)
	if _, err := s.manager.Open(context.Background(), foreign, "brewer-2"); err != nil {
		t.Fatalf("open: %v", err)
	}
	timers, _ := s.engine.BatchTimer(foreign)

	w := s.do(t, http.MethodPost, "/timers/"+timers[0].ID+"/start", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if tm, _ := s.engine.Timer(timers[0].ID); tm.IsRunning {
		t.Error("foreign timer was started")
	}
}
