package main

import (
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/digitalcoach/coach-orchestrator/internal/analysis"
	"github.com/digitalcoach/coach-orchestrator/internal/capture"
	"github.com/digitalcoach/coach-orchestrator/internal/config"
	"github.com/digitalcoach/coach-orchestrator/internal/domain"
	"github.com/digitalcoach/coach-orchestrator/internal/orchestrator"
	"github.com/digitalcoach/coach-orchestrator/internal/resilience"
	"github.com/digitalcoach/coach-orchestrator/internal/storage"
)

type analyzeOptions struct {
	file         string
	mediaURL     string
	analysisURL  string
	pollInterval time.Duration
	maxAttempts  int
	verbose      bool
}

func newAnalyzeCmd() *cobra.Command {
	opts := analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Upload a recording and wait for its evaluation",
		Long:  "Uploads --file to the media directory (or reuses --url), submits it for analysis and polls until the job reaches a terminal state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "path to a recorded answer")
	cmd.Flags().StringVar(&opts.mediaURL, "url", "", "media url already reachable by the analysis API")
	cmd.Flags().StringVar(&opts.analysisURL, "analysis-url", "", "analysis API base url (defaults to ANALYSIS_BASE_URL)")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", 0, "delay between status queries (defaults to POLL_INTERVAL)")
	cmd.Flags().IntVar(&opts.maxAttempts, "max-attempts", 0, "status query budget (defaults to POLL_MAX_ATTEMPTS)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline steps to stderr")
	cmd.MarkFlagsMutuallyExclusive("file", "url")
	cmd.MarkFlagsOneRequired("file", "url")
	return cmd
}

func runAnalyze(cmd *cobra.Command, opts analyzeOptions) error {
	cfg := config.Load()
	if opts.analysisURL != "" {
		cfg.AnalysisBaseURL = opts.analysisURL
	}
	if opts.pollInterval > 0 {
		cfg.PollInterval = opts.pollInterval
	}
	if opts.maxAttempts > 0 {
		cfg.PollMaxAttempts = opts.maxAttempts
	}

	var logger *log.Logger
	if opts.verbose {
		logger = log.New(cmd.ErrOrStderr(), "[coachctl] ", log.LstdFlags|log.LUTC)
	}

	uploadRetry := resilience.DefaultRetryConfig()
	uploadRetry.MaxRetries = cfg.UploadRetries
	orch := orchestrator.New(orchestrator.Deps{
		Analysis: analysis.NewClient(analysis.ClientConfig{
			BaseURL:    cfg.AnalysisBaseURL,
			Timeout:    time.Duration(cfg.AnalysisTimeoutMS) * time.Millisecond,
			MaxRetries: cfg.AnalysisMaxRetries,
			Logger:     logger,
		}),
		Storage: storage.NewLocalStore(cfg.MediaDir, cfg.MediaBaseURL, cfg.MediaBucket),
	}, orchestrator.Config{
		UserID:       "cli",
		PollInterval: cfg.PollInterval,
		MaxAttempts:  cfg.PollMaxAttempts,
		UploadRetry:  uploadRetry,
		Logger:       logger,
	})

	ctx := cmd.Context()
	var (
		job domain.Job
		err error
	)
	if opts.file != "" {
		job, err = orch.AnalyzeRecording(ctx, capture.FileCapture{Path: opts.file})
	} else {
		job, err = orch.Submit(ctx, opts.mediaURL)
		if err == nil && !job.State.IsTerminal() {
			job, err = orch.Poll(ctx, job)
		}
	}
	if err != nil {
		return err
	}

	printJob(cmd.OutOrStdout(), job)
	if job.State != domain.JobStateCompleted {
		return fmt.Errorf("analysis ended in state %s", job.State)
	}
	return nil
}

func printJob(out io.Writer, job domain.Job) {
	fmt.Fprintf(out, "job:      %s\n", valueOr(job.ID, "-"))
	fmt.Fprintf(out, "state:    %s\n", job.State)
	fmt.Fprintf(out, "attempts: %d\n", job.Attempts)
	if job.Error != "" {
		fmt.Fprintf(out, "error:    %s\n", job.Error)
	}
	if len(job.Result) == 0 {
		return
	}

	evaluation, err := domain.DecodeEvaluation(job.Result)
	if err != nil {
		fmt.Fprintf(out, "result:   %s\n", string(job.Result))
		return
	}
	fmt.Fprintf(out, "score:    %.1f\n", evaluation.AggregateScore)
	if evaluation.OverallSentiment != "" {
		fmt.Fprintf(out, "tone:     %s\n", evaluation.OverallSentiment)
	}
	if summary := strings.TrimSpace(evaluation.CompetencyFeedback.Summary); summary != "" {
		fmt.Fprintf(out, "summary:  %s\n", summary)
	}
	for _, recommendation := range evaluation.CompetencyFeedback.KeyRecommendations {
		fmt.Fprintf(out, "  - %s\n", recommendation)
	}
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
