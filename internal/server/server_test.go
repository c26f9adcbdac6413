package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"csv-rag/internal/config"
	"csv-rag/internal/models"
	"csv-rag/internal/rag"
)

type stubAnswerer struct {
	answer string
	err    error
	got    string
}

func (s *stubAnswerer) Query(_ context.Context, query string) (*models.Answer, error) {
	s.got = query
	if strings.TrimSpace(query) == "" {
		return nil, rag.ErrEmptyQuery
	}
	if s.err != nil {
		return nil, s.err
	}
	return &models.Answer{Query: query, Content: s.answer}, nil
}

func newTestServer(a Answerer) http.Handler {
	cfg := config.Default().Server
	return New(a, &cfg).Handler()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v (%q)", err, rec.Body.String())
	}
	return body
}

func TestHandleChat(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantKey    string
		wantValue  string
	}{
		{
			name:       "success",
			body:       `{"query": "what is a carrot?"}`,
			wantStatus: http.StatusOK,
			wantKey:    "response",
			wantValue:  "A carrot is a vegetable.",
		},
		{
			name:       "pipeline failure",
			body:       `{"query": "what is a carrot?"}`,
			err:        fmt.Errorf("failed to answer query: %w", errors.New("connection refused")),
			wantStatus: http.StatusInternalServerError,
			wantKey:    "error",
			wantValue:  "failed to answer query: connection refused",
		},
		{
			name:       "missing query",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
			wantValue:  rag.ErrEmptyQuery.Error(),
		},
		{
			name:       "null query",
			body:       `{"query": null}`,
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
			wantValue:  rag.ErrEmptyQuery.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &stubAnswerer{answer: "A carrot is a vegetable.", err: tt.err}
			req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			newTestServer(a).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			body := decodeBody(t, rec)
			if len(body) != 1 {
				t.Errorf("body has keys %v, want only %q", body, tt.wantKey)
			}
			if body[tt.wantKey] != tt.wantValue {
				t.Errorf("body[%q] = %v, want %q", tt.wantKey, body[tt.wantKey], tt.wantValue)
			}
		})
	}
}

func TestHandleChatInvalidBody(t *testing.T) {
	for _, body := range []string{
		"",
		"not json",
		`{"query": 42}`,
		`{"query": "x"} junk`,
		`{"query": "x"}{"query": "y"}`,
	} {
		t.Run(body, func(t *testing.T) {
			a := &stubAnswerer{}
			rec := httptest.NewRecorder()
			newTestServer(a).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body)))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if _, ok := decodeBody(t, rec)["error"]; !ok {
				t.Error("body missing error key")
			}
		})
	}
}

func TestHandleChatTrailingWhitespace(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{\"query\": \"x\"}\n \n"))
	newTestServer(&stubAnswerer{answer: "ok"}).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestChatRoutes(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/chat", http.StatusMethodNotAllowed},
		{http.MethodPost, "/other", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newTestServer(&stubAnswerer{}).ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"query":"hi"}`))
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()

	newTestServer(&stubAnswerer{answer: "hello"}).ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestRequestTimeoutReachesPipeline(t *testing.T) {
	var deadline time.Time
	var ok bool
	a := answererFunc(func(ctx context.Context, _ string) (*models.Answer, error) {
		deadline, ok = ctx.Deadline()
		return &models.Answer{Content: "x"}, nil
	})

	cfg := config.ServerConfig{RequestTimeout: time.Minute, CORSOrigins: []string{"*"}}
	rec := httptest.NewRecorder()
	New(a, &cfg).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"query":"hi"}`)))

	if !ok || time.Until(deadline) > time.Minute {
		t.Errorf("pipeline context deadline = %v (set %v), want within 1m", deadline, ok)
	}
}

type answererFunc func(ctx context.Context, query string) (*models.Answer, error)

func (f answererFunc) Query(ctx context.Context, query string) (*models.Answer, error) {
	return f(ctx, query)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	cfg := config.ServerConfig{Addr: "127.0.0.1:0", CORSOrigins: []string{"*"}}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- New(&stubAnswerer{}, &cfg).Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
