package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/digitalcoach/coach-orchestrator/internal/analysis"
	"github.com/digitalcoach/coach-orchestrator/internal/events"
	httpserver "github.com/digitalcoach/coach-orchestrator/internal/http"
	"github.com/digitalcoach/coach-orchestrator/internal/http/handlers"
	"github.com/digitalcoach/coach-orchestrator/internal/repository"
	"github.com/digitalcoach/coach-orchestrator/internal/service"
	"github.com/digitalcoach/coach-orchestrator/internal/storage"
	"github.com/digitalcoach/coach-orchestrator/internal/worker"
)

const benchToken = "bench-token"

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type benchReport struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type benchOptions struct {
	target      string
	token       string
	total       int
	concurrency int
	users       int
	output      string
}

func newBenchCmd() *cobra.Command {
	opts := benchOptions{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Load the HTTP API and report latency percentiles",
		Long:  "Runs submit, list, dashboard and session scenarios against --target, or against an in-process server backed by a fake analysis API when no target is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.target, "target", "", "base url of a running API (defaults to an in-process server)")
	cmd.Flags().StringVar(&opts.token, "token", "", "bearer token for --target")
	cmd.Flags().IntVar(&opts.total, "total", 200, "requests per scenario")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 16, "concurrent requests per scenario")
	cmd.Flags().IntVar(&opts.users, "users", 32, "distinct user ids for read scenarios")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "optional path to persist the report JSON")
	return cmd
}

func runBench(cmd *cobra.Command, opts benchOptions) error {
	if opts.users <= 0 {
		opts.users = 1
	}
	environment := "remote"
	baseURL := strings.TrimSuffix(opts.target, "/")
	token := opts.token
	if baseURL == "" {
		env, err := startBenchEnvironment()
		if err != nil {
			return fmt.Errorf("start local bench environment: %w", err)
		}
		defer env.close()
		baseURL = env.server.URL
		token = benchToken
		environment = "local-httptest"
	}

	client := &http.Client{Timeout: 10 * time.Second}
	runID := time.Now().UnixNano()
	call := func(method, path, user string, payload any, expected int) error {
		return doRequest(client, method, baseURL+path, token, user, payload, expected)
	}

	// Every submit uses its own user: a user holds at most one active analysis.
	submit := runScenario("analyses_submit", opts.total, opts.concurrency, func(index int) error {
		user := fmt.Sprintf("bench-%d-%d", runID, index)
		payload := map[string]string{"media_url": fmt.Sprintf("https://media.example/answers/%d.webm", index)}
		return call(http.MethodPost, "/v1/analyses", user, payload, http.StatusAccepted)
	})
	list := runScenario("analyses_list", opts.total, opts.concurrency, func(index int) error {
		user := fmt.Sprintf("bench-%d-%d", runID, index%opts.users)
		return call(http.MethodGet, "/v1/analyses?page=1&page_size=20", user, nil, http.StatusOK)
	})
	dashboard := runScenario("dashboard", opts.total, opts.concurrency, func(index int) error {
		user := fmt.Sprintf("bench-%d-%d", runID, index%opts.users)
		return call(http.MethodGet, "/v1/dashboard", user, nil, http.StatusOK)
	})
	session := runScenario("session_status", opts.total, opts.concurrency, func(index int) error {
		user := fmt.Sprintf("bench-%d-%d", runID, index%opts.users)
		return call(http.MethodGet, "/v1/sessions", user, nil, http.StatusOK)
	})

	report := benchReport{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    environment,
		Results:        []scenarioResult{submit, list, dashboard, session},
		SLOEvaluation: map[string]bool{
			"submit_p95_le_2000ms": submit.P95MS <= 2000,
			"reads_p95_le_500ms":   list.P95MS <= 500 && dashboard.P95MS <= 500 && session.P95MS <= 500,
		},
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bench report: %w", err)
	}
	if opts.output != "" {
		if err := os.WriteFile(opts.output, encoded, 0o644); err != nil {
			return fmt.Errorf("write bench report: %w", err)
		}
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return err
}

type benchEnvironment struct {
	server   *httptest.Server
	analysis *httptest.Server
	coach    *service.Coach
	cancel   context.CancelFunc
	stop     chan struct{}
}

func (e *benchEnvironment) close() {
	e.server.Close()
	close(e.stop)
	_ = e.coach.Close(context.Background())
	e.cancel()
	e.analysis.Close()
}

// startBenchEnvironment wires the production stack against an analysis API
// that completes every job on its first status query.
func startBenchEnvironment() (*benchEnvironment, error) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)

	var nextID int64
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost:
			fmt.Fprintf(w, `{"job_id":%d}`, atomic.AddInt64(&nextID, 1))
		case strings.HasSuffix(r.URL.Path, "/result"):
			_, _ = w.Write([]byte(`{"evaluation":{"aggregateScore":75}}`))
		default:
			_, _ = w.Write([]byte(`{"status":"completed"}`))
		}
	}))

	mediaDir, err := os.MkdirTemp("", "coach-bench-*")
	if err != nil {
		cancel()
		remote.Close()
		return nil, err
	}

	repo := repository.NewMemoryJobsRepository()
	bus := events.NewLocalBus(4096, 3, logger)
	coach := service.NewCoach(service.CoachDependencies{
		Analysis:  analysis.NewClient(analysis.ClientConfig{BaseURL: remote.URL, Logger: logger}),
		Storage:   storage.NewLocalStore(mediaDir, "http://bench.local/media", "answers"),
		Publisher: bus,
		Repo:      repo,
		Logger:    logger,
	}, service.CoachConfig{PollInterval: 10 * time.Millisecond, MaxAttempts: 5})

	go worker.NewRecorder(bus, repo, logger).Start(ctx)

	stop := make(chan struct{})
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API: handlers.NewAPI(handlers.APIDependencies{
			Coach:  coach,
			Events: bus,
			Logger: logger,
		}),
		Logger:         logger,
		AuthToken:      benchToken,
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
		Stop:           stop,
	})

	return &benchEnvironment{
		server:   httptest.NewServer(router),
		analysis: remote,
		coach:    coach,
		cancel: func() {
			cancel()
			_ = os.RemoveAll(mediaDir)
		},
		stop: stop,
	}, nil
}

func runScenario(name string, total, concurrency int, requestFn func(index int) error) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	indexes := make(chan int, total)
	samples := make(chan sample, total)
	for i := 0; i < total; i++ {
		indexes <- i
	}
	close(indexes)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range indexes {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0}
				if err != nil {
					s.err = err.Error()
				}
				samples <- s
			}
		}()
	}
	wg.Wait()
	close(samples)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	for item := range samples {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	throughput := 0.0
	if elapsed := time.Since(startedAt).Seconds(); elapsed > 0 {
		throughput = float64(total) / elapsed
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        total - success,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

func doRequest(client *http.Client, method, url, token, user string, payload any, expectedStatus int) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequest(method, url, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	request.Header.Set("X-User-Id", user)

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(snippet))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
