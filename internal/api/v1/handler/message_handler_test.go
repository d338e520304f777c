package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"app/internal/model"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type fakeQueueService struct {
	latest      []model.Message
	next        *model.Message
	stored      *model.Message
	resetCount  int64
	overrideErr error

	submitted      []service.Submission
	overrideCalls  int
	lastOverrideID int64
	lastStatus     model.Status
}

func (f *fakeQueueService) Submit(ctx context.Context, sub service.Submission) (*model.Message, error) {
	f.submitted = append(f.submitted, sub)
	return f.stored, nil
}

func (f *fakeQueueService) GetLatest(ctx context.Context, limit int) ([]model.Message, error) {
	return f.latest, nil
}

func (f *fakeQueueService) DequeueNext(ctx context.Context) (*model.Message, error) {
	return f.next, nil
}

func (f *fakeQueueService) Reset(ctx context.Context) (int64, error) {
	return f.resetCount, nil
}

func (f *fakeQueueService) ListAll(ctx context.Context) ([]model.Message, error) {
	return f.latest, nil
}

func (f *fakeQueueService) OverrideStatus(ctx context.Context, id int64, status model.Status) error {
	f.overrideCalls++
	f.lastOverrideID = id
	f.lastStatus = status
	return f.overrideErr
}

func newTestMux(svc *fakeQueueService) *http.ServeMux {
	h := NewMessageHandler(svc, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())
	mux := http.NewServeMux()
	passthrough := func(next http.Handler) http.Handler { return next }
	h.RegisterRoutes(mux, passthrough)
	return mux
}

func TestCreateMessageReturnsStoredRecord(t *testing.T) {
	svc := &fakeQueueService{
		stored: &model.Message{
			ID:                7,
			Name:              "Mary",
			MessageText:       "Welcome Mary!",
			ModerationPayload: `{"status":"ok","response":"Welcome Mary!"}`,
			Status:            model.StatusOK,
			CreatedAt:         time.Now(),
		},
	}
	mux := newTestMux(svc)

	body := `{"name":"Mary","age":30,"gender":"female","mood":"great"}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages/create", strings.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var got struct {
		ID                int64           `json:"id"`
		Status            string          `json:"status"`
		MessageText       string          `json:"message_text"`
		ModerationPayload json.RawMessage `json:"moderation_payload"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if got.ID != 7 || got.Status != "ok" || got.MessageText != "Welcome Mary!" {
		t.Fatalf("unexpected response: %+v", got)
	}
	if !json.Valid(got.ModerationPayload) || string(got.ModerationPayload) == "null" {
		t.Fatalf("moderation payload not passed through: %s", got.ModerationPayload)
	}
	if len(svc.submitted) != 1 || svc.submitted[0].Name != "Mary" {
		t.Fatalf("submission not forwarded: %+v", svc.submitted)
	}
}

func TestCreateMessageRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed JSON", `{"name":`},
		{"missing name", `{"age":30}`},
		{"negative age", `{"name":"Mary","age":-1}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeQueueService{}
			mux := newTestMux(svc)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages/create", strings.NewReader(tc.body)))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if len(svc.submitted) != 0 {
				t.Fatal("invalid input must not reach the service")
			}
		})
	}
}

func TestDequeueNextEmptyQueue(t *testing.T) {
	mux := newTestMux(&fakeQueueService{next: nil})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages/next", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on empty queue, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", rec.Body.String())
	}
}

func TestDequeueNextRequiresPost(t *testing.T) {
	mux := newTestMux(&fakeQueueService{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/next", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestUpdateStatus(t *testing.T) {
	t.Run("valid override", func(t *testing.T) {
		svc := &fakeQueueService{}
		mux := newTestMux(svc)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/messages/42/status", strings.NewReader(`{"status":"restricted"}`)))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if svc.lastOverrideID != 42 || svc.lastStatus != model.StatusRestricted {
			t.Fatalf("override forwarded wrong args: id=%d status=%s", svc.lastOverrideID, svc.lastStatus)
		}
	})

	t.Run("unknown status value", func(t *testing.T) {
		svc := &fakeQueueService{}
		mux := newTestMux(svc)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/messages/42/status", strings.NewReader(`{"status":"pending"}`)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if svc.overrideCalls != 0 {
			t.Fatal("invalid status must not reach the service")
		}
	})

	t.Run("missing message", func(t *testing.T) {
		svc := &fakeQueueService{overrideErr: service.ErrMessageNotFound}
		mux := newTestMux(svc)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/messages/999/status", strings.NewReader(`{"status":"ok"}`)))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("non-numeric id", func(t *testing.T) {
		mux := newTestMux(&fakeQueueService{})
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/messages/abc/status", strings.NewReader(`{"status":"ok"}`)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestResetQueueResponse(t *testing.T) {
	mux := newTestMux(&fakeQueueService{resetCount: 3})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/queue/reset", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got struct {
		ResetCount int64 `json:"reset_count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if got.ResetCount != 3 {
		t.Fatalf("expected reset_count 3, got %d", got.ResetCount)
	}
}

func TestGetLatestListsApproved(t *testing.T) {
	svc := &fakeQueueService{latest: []model.Message{
		{ID: 2, Name: "b", Status: model.StatusOK, ModerationPayload: `{"status":"ok"}`},
		{ID: 1, Name: "a", Status: model.StatusOK, ModerationPayload: `{"status":"ok"}`},
	}}
	mux := newTestMux(svc)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if len(got) != 2 || got[0].ID != 2 {
		t.Fatalf("unexpected list: %+v", got)
	}
}

func TestHealth(t *testing.T) {
	mux := http.NewServeMux()
	NewHealthHandler().RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}
