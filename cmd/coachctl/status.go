package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/digitalcoach/coach-orchestrator/internal/analysis"
	"github.com/digitalcoach/coach-orchestrator/internal/config"
	"github.com/digitalcoach/coach-orchestrator/internal/domain"
)

var errMissingJobID = errors.New("job id is required")

func newStatusCmd() *cobra.Command {
	var (
		analysisURL string
		withResult  bool
	)

	cmd := &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Query the analysis API for one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := strings.TrimSpace(args[0])
			if jobID == "" {
				return errMissingJobID
			}

			cfg := config.Load()
			if analysisURL != "" {
				cfg.AnalysisBaseURL = analysisURL
			}
			client := analysis.NewClient(analysis.ClientConfig{
				BaseURL:    cfg.AnalysisBaseURL,
				Timeout:    time.Duration(cfg.AnalysisTimeoutMS) * time.Millisecond,
				MaxRetries: cfg.AnalysisMaxRetries,
			})

			report, err := client.Status(cmd.Context(), jobID)
			if err != nil {
				return fmt.Errorf("status %s: %w", jobID, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "job:    %s\n", jobID)
			fmt.Fprintf(out, "status: %s\n", report.Status)
			if report.Error != "" {
				fmt.Fprintf(out, "error:  %s\n", report.Error)
			}
			if !withResult || report.Status != domain.RemoteStatusCompleted {
				return nil
			}

			result, err := client.FetchResult(cmd.Context(), jobID)
			if err != nil {
				return fmt.Errorf("result %s: %w", jobID, err)
			}
			printJob(out, domain.Job{ID: jobID, State: domain.JobStateCompleted, Result: result})
			return nil
		},
	}

	cmd.Flags().StringVar(&analysisURL, "analysis-url", "", "analysis API base url (defaults to ANALYSIS_BASE_URL)")
	cmd.Flags().BoolVar(&withResult, "result", false, "download and summarize the evaluation when the job is completed")
	return cmd
}
