package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func newAnalysisServer(t *testing.T, finalStatus string) (*httptest.Server, *int32) {
	t.Helper()
	var statusCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/create_answer/":
			_, _ = w.Write([]byte(`{"job_id":42}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/create_answer/42":
			if atomic.AddInt32(&statusCalls, 1) < 2 {
				_, _ = w.Write([]byte(`{"status":"processing"}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":"` + finalStatus + `","error":"bad audio"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/create_answer/42/result":
			_, _ = w.Write([]byte(`{"evaluation":{"aggregateScore":77.5,"overallSentiment":"positive","competencyFeedback":{"summary":"Clear structure","key_recommendations":["Slow down"]}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server, &statusCalls
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "coachctl dev") {
		t.Fatalf("expected output to contain version, got: %s", out)
	}
}

func TestAnalyzeURLPrintsEvaluation(t *testing.T) {
	server, calls := newAnalysisServer(t, "completed")

	out, err := runCLI(t, "analyze", "--url", "http://media.test/answer.webm",
		"--analysis-url", server.URL, "--poll-interval", "1ms", "--max-attempts", "5")
	if err != nil {
		t.Fatalf("expected analyze success, got err=%v output=%s", err, out)
	}
	for _, want := range []string{"job:      42", "state:    completed", "score:    77.5", "summary:  Clear structure", "- Slow down"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out)
		}
	}
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Fatalf("expected 2 status calls, got %d", got)
	}
}

func TestAnalyzeFileUploadsThenPolls(t *testing.T) {
	server, _ := newAnalysisServer(t, "completed")
	dir := t.TempDir()
	recording := filepath.Join(dir, "answer.webm")
	if err := os.WriteFile(recording, []byte("webm-bytes"), 0o600); err != nil {
		t.Fatalf("write recording: %v", err)
	}
	t.Setenv("MEDIA_DIR", filepath.Join(dir, "media"))

	out, err := runCLI(t, "analyze", "--file", recording,
		"--analysis-url", server.URL, "--poll-interval", "1ms")
	if err != nil {
		t.Fatalf("expected analyze success, got err=%v output=%s", err, out)
	}
	if !strings.Contains(out, "state:    completed") {
		t.Fatalf("expected completed job, got:\n%s", out)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "media"))
	if err != nil || len(entries) == 0 {
		t.Fatalf("expected recording stored under media dir, err=%v entries=%d", err, len(entries))
	}
}

func TestAnalyzeFailedJobReturnsError(t *testing.T) {
	server, _ := newAnalysisServer(t, "failed")

	out, err := runCLI(t, "analyze", "--url", "http://media.test/answer.webm",
		"--analysis-url", server.URL, "--poll-interval", "1ms")
	if err == nil {
		t.Fatalf("expected error for failed job, output=%s", out)
	}
	if !strings.Contains(out, "state:    failed") || !strings.Contains(out, "bad audio") {
		t.Fatalf("expected failure details, got:\n%s", out)
	}
}

func TestAnalyzeRequiresInput(t *testing.T) {
	if _, err := runCLI(t, "analyze"); err == nil {
		t.Fatalf("expected error when neither --file nor --url is set")
	}
}

func TestStatusWithResult(t *testing.T) {
	server, calls := newAnalysisServer(t, "completed")
	atomic.StoreInt32(calls, 5)

	out, err := runCLI(t, "status", "42", "--analysis-url", server.URL, "--result")
	if err != nil {
		t.Fatalf("expected status success, got err=%v", err)
	}
	if !strings.Contains(out, "status: completed") || !strings.Contains(out, "score:    77.5") {
		t.Fatalf("unexpected status output:\n%s", out)
	}
}

func TestBenchInProcess(t *testing.T) {
	output := filepath.Join(t.TempDir(), "bench.json")
	out, err := runCLI(t, "bench", "--total", "12", "--concurrency", "4", "--users", "3", "--output", output)
	if err != nil {
		t.Fatalf("expected bench success, got err=%v output=%s", err, out)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("expected report file, got err=%v", err)
	}
	var report benchReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(report.Results) != 4 {
		t.Fatalf("expected 4 scenarios, got %d", len(report.Results))
	}
	for _, result := range report.Results {
		if result.Total != 12 || result.Success != 12 {
			t.Fatalf("scenario %s: expected 12/12 successes, got %d/%d samples=%v", result.Name, result.Success, result.Total, result.ErrorSamples)
		}
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(values, 0.5); got != 5 {
		t.Fatalf("expected p50 5, got %v", got)
	}
	if got := percentile(values, 0.95); got != 10 {
		t.Fatalf("expected p95 10, got %v", got)
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Fatalf("expected 0 for empty input, got %v", got)
	}
}
