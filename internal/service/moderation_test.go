package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"app/internal/config"
	"app/internal/model"

	"github.com/rs/zerolog"
)

func testModerator(t *testing.T, upstream http.HandlerFunc, maxInFlight int) Moderator {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)
	cfg := &config.Config{
		OpenAIBaseURL:         srv.URL,
		OpenAIModel:           "test-model",
		ModerationMaxInFlight: maxInFlight,
		ModerationTimeoutSec:  5,
	}
	return NewOpenAIModerator(cfg, "test-key", zerolog.Nop())
}

func completionWith(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func TestEvaluateApproved(t *testing.T) {
	var gotReq chatRequest
	m := testModerator(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding upstream request: %v", err)
		}
		completionWith(`{"status":"ok","response":"Hello Mary"}`)(w, r)
	}, 10)

	age := 30
	verdict := m.Evaluate(context.Background(), Submission{
		Name:   "Mary",
		Age:    &age,
		Gender: strPtr("woman"),
		Mood:   strPtr("great"),
	}, []string{"Earlier text"})

	if verdict.Status != model.StatusOK {
		t.Fatalf("expected status ok, got %q", verdict.Status)
	}
	if verdict.Response != "Hello Mary" {
		t.Fatalf("expected response 'Hello Mary', got %q", verdict.Response)
	}
	if len(gotReq.Messages) != 2 {
		t.Fatalf("expected 2 upstream messages, got %d", len(gotReq.Messages))
	}
	// Normalized values, never raw user text, reach the prompt
	user := gotReq.Messages[1].Content
	for _, want := range []string{"Name: Mary", "Gender: female", "Age: 30", "Mood: great", "Earlier text"} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q:\n%s", want, user)
		}
	}
}

func TestEvaluateFailsClosed(t *testing.T) {
	cases := []struct {
		name     string
		upstream http.HandlerFunc
	}{
		{
			name: "upstream error status",
			upstream: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":{"message":"overloaded","type":"server_error"}}`, http.StatusServiceUnavailable)
			},
		},
		{
			name: "non-JSON body",
			upstream: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>gateway timeout</html>"))
			},
		},
		{
			name:     "verdict missing fields",
			upstream: completionWith(`{"status":"ok"}`),
		},
		{
			name:     "verdict status outside enum",
			upstream: completionWith(`{"status":"pending","response":"maybe"}`),
		},
		{
			name:     "verdict content not JSON",
			upstream: completionWith(`sure, here is your JSON:`),
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := testModerator(t, c.upstream, 10)
			verdict := m.Evaluate(context.Background(), Submission{Name: "Mary"}, nil)
			if verdict.Status != model.StatusRestricted {
				t.Fatalf("expected restricted verdict, got %q", verdict.Status)
			}
			if verdict.Response == "" {
				t.Fatal("expected non-empty diagnostic text")
			}
		})
	}
}

func TestEvaluateConcurrencyCeiling(t *testing.T) {
	const ceiling = 2
	var inFlight, maxSeen int32
	m := testModerator(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			seen := atomic.LoadInt32(&maxSeen)
			if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		completionWith(`{"status":"ok","response":"hi"}`)(w, r)
	}, ceiling)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Evaluate(context.Background(), Submission{Name: "Mary"}, nil)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxSeen); got > ceiling {
		t.Fatalf("observed %d concurrent upstream calls, ceiling is %d", got, ceiling)
	}
}

func TestEvaluateCancelledWhileWaiting(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	m := testModerator(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		completionWith(`{"status":"ok","response":"hi"}`)(w, r)
	}, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Evaluate(context.Background(), Submission{Name: "first"}, nil)
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	verdict := m.Evaluate(ctx, Submission{Name: "second"}, nil)
	if verdict.Status != model.StatusRestricted {
		t.Fatalf("expected restricted verdict for cancelled wait, got %q", verdict.Status)
	}

	close(release)
	<-done
}
