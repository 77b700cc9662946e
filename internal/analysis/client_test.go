package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
	"github.com/digitalcoach/coach-orchestrator/internal/resilience"
)

func newTestClient(baseURL string, retries int) *Client {
	return NewClient(ClientConfig{
		BaseURL:    baseURL,
		Timeout:    2 * time.Second,
		MaxRetries: retries,
	})
}

func TestClientCreateSendsVideoURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/create_answer/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["video_url"] != "http://media/a.mp4" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"detail":"bad body"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"job_id":"job-1"}`))
	}))
	defer server.Close()

	jobID, err := newTestClient(server.URL, 0).Create(context.Background(), "http://media/a.mp4")
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if jobID != "job-1" {
		t.Fatalf("expected job-1, got %q", jobID)
	}
}

func TestClientCreateAcceptsNumericJobID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"job_id":42}`))
	}))
	defer server.Close()

	jobID, err := newTestClient(server.URL, 0).Create(context.Background(), "http://media/a.mp4")
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if jobID != "42" {
		t.Fatalf("expected 42, got %q", jobID)
	}
}

func TestClientCreateRetriesOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"job_id":"job-2"}`))
	}))
	defer server.Close()

	jobID, err := newTestClient(server.URL, 2).Create(context.Background(), "http://media/a.mp4")
	if err != nil {
		t.Fatalf("expected success after retry, got err=%v", err)
	}
	if jobID != "job-2" {
		t.Fatalf("expected job-2, got %q", jobID)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestClientCreateDoesNotRetryBadRequest(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"video_url missing"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 3).Create(context.Background(), "http://media/a.mp4")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Transient() {
		t.Fatalf("expected terminal 422, got %+v", apiErr)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 call, got %d", got)
	}
}

func TestClientCreateMissingJobID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 0).Create(context.Background(), "http://media/a.mp4")
	if !errors.Is(err, ErrMissingJobID) {
		t.Fatalf("expected ErrMissingJobID, got %v", err)
	}
}

func TestClientStatusNormalizesVocabulary(t *testing.T) {
	statuses := map[string]domain.RemoteStatus{
		"pending":    domain.RemoteStatusPending,
		"processing": domain.RemoteStatusProcessing,
		"completed":  domain.RemoteStatusCompleted,
		"FAILED":     domain.RemoteStatusFailed,
		"queued":     domain.RemoteStatusPending,
	}
	for raw, want := range statuses {
		raw, want := raw, want
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/create_answer/job-1" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"status": raw, "error": "boom"})
		}))

		report, err := newTestClient(server.URL, 0).Status(context.Background(), "job-1")
		server.Close()
		if err != nil {
			t.Fatalf("status %q: unexpected err=%v", raw, err)
		}
		if report.Status != want {
			t.Fatalf("status %q: expected %q, got %q", raw, want, report.Status)
		}
		if report.Error != "boom" {
			t.Fatalf("status %q: expected error boom, got %q", raw, report.Error)
		}
	}
}

func TestClientStatusClassifiesErrors(t *testing.T) {
	codes := map[int]bool{
		http.StatusRequestTimeout:      true,
		http.StatusTooManyRequests:     true,
		http.StatusServiceUnavailable:  true,
		http.StatusNotFound:            false,
		http.StatusUnauthorized:        false,
		http.StatusInternalServerError: true,
	}
	for code, transient := range codes {
		code := code
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
		}))

		_, err := newTestClient(server.URL, 0).Status(context.Background(), "job-1")
		server.Close()
		if err == nil {
			t.Fatalf("code %d: expected error", code)
		}
		if got := resilience.IsTransient(err); got != transient {
			t.Fatalf("code %d: expected transient=%v, got %v", code, transient, got)
		}
	}
}

func TestClientStatusTransportErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := server.URL
	server.Close()

	_, err := newTestClient(baseURL, 0).Status(context.Background(), "job-1")
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if !resilience.IsTransient(err) {
		t.Fatalf("expected transport error to be transient, got %v", err)
	}
}

func TestClientFetchResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/create_answer/job-1/result" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(` {"evaluation":{"aggregateScore":82}} `))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL, 0).FetchResult(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	evaluation, err := domain.DecodeEvaluation(result)
	if err != nil {
		t.Fatalf("decode evaluation: %v", err)
	}
	if evaluation.AggregateScore != 82 {
		t.Fatalf("expected score 82, got %v", evaluation.AggregateScore)
	}
}

func TestClientFetchResultRejectsEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`null`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 0).FetchResult(context.Background(), "job-1")
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}
}

func TestClientCreateRequiresMediaURL(t *testing.T) {
	_, err := newTestClient("http://127.0.0.1:1", 0).Create(context.Background(), "  ")
	if !errors.Is(err, ErrInvalidMediaURL) {
		t.Fatalf("expected ErrInvalidMediaURL, got %v", err)
	}
}

// cutShortServer answers the first request with a declared length it never
// delivers, then hands every later request to next.
func cutShortServer(t *testing.T, partial string, next http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) > 1 {
			next(w, r)
			return
		}
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			t.Errorf("response writer does not support hijacking")
			return
		}
		conn, buf, err := hijacker.Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 100\r\n\r\n" + partial)
		_ = buf.Flush()
		_ = conn.Close()
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func TestClientStatusTruncatedBodyIsTransient(t *testing.T) {
	server, _ := cutShortServer(t, `{"status":"pen`, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"completed"}`))
	})
	client := newTestClient(server.URL, 0)

	_, err := client.Status(context.Background(), "job-1")
	if err == nil {
		t.Fatalf("expected error for a body cut short")
	}
	if !resilience.IsTransient(err) {
		t.Fatalf("expected truncated body to be transient, got %v", err)
	}

	report, err := client.Status(context.Background(), "job-1")
	if err != nil || report.Status != domain.RemoteStatusCompleted {
		t.Fatalf("expected completed on the next query, got status=%q err=%v", report.Status, err)
	}
}

func TestClientStatusGarbledBodyIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway</html>`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 0).Status(context.Background(), "job-1")
	var transportErr *TransportError
	if !errors.As(err, &transportErr) || !resilience.IsTransient(err) {
		t.Fatalf("expected transient TransportError, got %v", err)
	}
}

func TestClientFetchResultRetriesTruncatedBody(t *testing.T) {
	server, calls := cutShortServer(t, `{"evaluation":{"aggre`, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"evaluation":{"aggregateScore":64}}`))
	})

	result, err := newTestClient(server.URL, 2).FetchResult(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("expected retry to recover, got err=%v", err)
	}
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
	if !json.Valid(result) {
		t.Fatalf("expected valid json result, got %s", result)
	}
}
