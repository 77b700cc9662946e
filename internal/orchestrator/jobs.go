package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
	"github.com/digitalcoach/coach-orchestrator/internal/resilience"
)

// Submit sends mediaRef to the analysis API. A transport failure yields a job
// in the failed state and a nil error; errors are reserved for violated
// preconditions.
func (o *Orchestrator) Submit(ctx context.Context, mediaRef string) (domain.Job, error) {
	mediaRef = strings.TrimSpace(mediaRef)
	if mediaRef == "" {
		return domain.Job{}, ErrEmptyMediaRef
	}

	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return domain.Job{}, ErrJobInProgress
	}
	now := o.cfg.Now().UTC()
	job := &domain.Job{
		UserID:      o.cfg.UserID,
		MediaURL:    mediaRef,
		State:       domain.JobStateSubmitted,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	o.job = job
	o.active = true
	o.mu.Unlock()

	jobID, err := o.deps.Analysis.Create(ctx, mediaRef)

	o.mu.Lock()
	var emissions []emission
	if err != nil {
		job.State = domain.JobStateFailed
		job.Error = err.Error()
		job.UpdatedAt = o.cfg.Now().UTC()
		o.active = false
		emissions = append(emissions, o.jobEmission(job.Clone()))
		o.logf("job submit failed user_id=%s media=%s err=%v", o.cfg.UserID, mediaRef, err)
	} else {
		job.ID = jobID
		emissions = append(emissions, o.jobEmission(job.Clone()))
		job.State = domain.JobStatePolling
		job.UpdatedAt = o.cfg.Now().UTC()
		emissions = append(emissions, o.jobEmission(job.Clone()))
		o.logf("job submitted job_id=%s user_id=%s", jobID, o.cfg.UserID)
	}
	snapshot := job.Clone()
	o.mu.Unlock()

	o.run(emissions)
	return snapshot, nil
}

// Poll queries the job status until it completes, fails or exhausts the
// attempt budget. The first query is immediate; the next ones are spaced by
// the poll interval and never overlap. Cancelling ctx abandons the job and
// frees the active slot.
func (o *Orchestrator) Poll(ctx context.Context, job domain.Job) (domain.Job, error) {
	if job.State.IsTerminal() {
		return job, nil
	}

	current, err := o.acquirePoll(job)
	if err != nil {
		return job, err
	}
	if current.State.IsTerminal() {
		return current.Clone(), nil
	}
	defer o.releasePoll()

	jobID := current.ID
	for {
		report, statusErr := o.deps.Analysis.Status(ctx, jobID)
		if ctx.Err() != nil {
			return o.abandon(ctx.Err())
		}
		attempts := o.recordAttempt()

		if statusErr != nil {
			if !resilience.IsTransient(statusErr) {
				return o.finish(domain.JobStateFailed, statusErr.Error(), nil), nil
			}
			o.logf("job poll transient error job_id=%s attempt=%d err=%v", jobID, attempts, statusErr)
		} else {
			switch report.Status {
			case domain.RemoteStatusCompleted:
				result, fetchErr := o.deps.Analysis.FetchResult(ctx, jobID)
				if ctx.Err() != nil {
					return o.abandon(ctx.Err())
				}
				if fetchErr == nil {
					return o.finish(domain.JobStateCompleted, "", result), nil
				}
				if !resilience.IsTransient(fetchErr) {
					return o.finish(domain.JobStateFailed, fmt.Sprintf("fetch result: %v", fetchErr), nil), nil
				}
				o.logf("job result fetch transient error job_id=%s attempt=%d err=%v", jobID, attempts, fetchErr)
			case domain.RemoteStatusFailed:
				reason := report.Error
				if reason == "" {
					reason = "analysis failed"
				}
				return o.finish(domain.JobStateFailed, reason, nil), nil
			default:
				o.logf("job polled job_id=%s attempt=%d status=%s", jobID, attempts, report.Status)
			}
		}

		if attempts >= o.cfg.MaxAttempts {
			reason := fmt.Sprintf("no terminal status after %d attempts", attempts)
			return o.finish(domain.JobStateTimedOut, reason, nil), nil
		}

		timer := time.NewTimer(o.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return o.abandon(ctx.Err())
		case <-timer.C:
		}
	}
}

// PollTask is a cancellable background Poll.
type PollTask struct {
	cancel context.CancelFunc
	done   chan struct{}
	job    domain.Job
	err    error
}

func (o *Orchestrator) StartPolling(ctx context.Context, job domain.Job) *PollTask {
	ctx, cancel := context.WithCancel(ctx)
	task := &PollTask{cancel: cancel, done: make(chan struct{}), job: job}
	go func() {
		defer close(task.done)
		defer cancel()
		task.job, task.err = o.Poll(ctx, job)
	}()
	return task
}

func (t *PollTask) Cancel() {
	t.cancel()
}

func (t *PollTask) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the poll loop exits and returns its outcome.
func (t *PollTask) Wait() (domain.Job, error) {
	<-t.done
	return t.job, t.err
}

// SubmitFile uploads a recording, resolves its download URL and submits it.
// Transient upload failures are retried with backoff.
func (o *Orchestrator) SubmitFile(ctx context.Context, file domain.MediaFile) (domain.Job, error) {
	if o.hasActiveJob() {
		return domain.Job{}, ErrJobInProgress
	}
	if o.deps.Storage == nil {
		return domain.Job{}, errors.New("storage is not configured")
	}

	objectID := o.cfg.NewID()
	var handle domain.UploadHandle
	err := resilience.Retry(ctx, o.cfg.UploadRetry, func() error {
		var uploadErr error
		handle, uploadErr = o.deps.Storage.Upload(ctx, file, objectID)
		return uploadErr
	})
	if err != nil {
		return domain.Job{}, fmt.Errorf("upload recording: %w", err)
	}

	mediaURL, err := o.deps.Storage.DownloadURL(ctx, handle)
	if err != nil {
		return domain.Job{}, fmt.Errorf("resolve download url: %w", err)
	}
	o.logf("recording uploaded user_id=%s path=%s size=%d", o.cfg.UserID, handle.Path, handle.Size)
	return o.Submit(ctx, mediaURL)
}

// AnalyzeRecording runs capture, upload, submit and poll in sequence.
func (o *Orchestrator) AnalyzeRecording(ctx context.Context, capture MediaCapture) (domain.Job, error) {
	if capture == nil {
		return domain.Job{}, ErrNoCapture
	}
	file, err := capture.GetFile(ctx)
	if err != nil {
		return domain.Job{}, fmt.Errorf("capture recording: %w", err)
	}
	job, err := o.SubmitFile(ctx, file)
	if err != nil || job.State.IsTerminal() {
		return job, err
	}
	return o.Poll(ctx, job)
}

// CurrentJob returns the active job, or the last one when none is active.
func (o *Orchestrator) CurrentJob() (domain.Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.job == nil {
		return domain.Job{}, false
	}
	return o.job.Clone(), true
}

func (o *Orchestrator) hasActiveJob() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// acquirePoll claims the poll loop for job. An abandoned job may be resumed
// as long as no other job took its slot.
func (o *Orchestrator) acquirePoll(job domain.Job) (domain.Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.job == nil || job.ID == "" || o.job.ID != job.ID {
		return domain.Job{}, ErrUnknownJob
	}
	if o.job.State.IsTerminal() {
		return o.job.Clone(), nil
	}
	if o.polling {
		return domain.Job{}, ErrAlreadyPolling
	}
	o.polling = true
	o.active = true
	return o.job.Clone(), nil
}

func (o *Orchestrator) releasePoll() {
	o.mu.Lock()
	o.polling = false
	o.mu.Unlock()
}

func (o *Orchestrator) recordAttempt() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.job.Attempts++
	o.job.UpdatedAt = o.cfg.Now().UTC()
	return o.job.Attempts
}

func (o *Orchestrator) finish(state domain.JobState, reason string, result json.RawMessage) domain.Job {
	o.mu.Lock()
	job := o.job
	if job.State.CanTransition(state) {
		job.State = state
		job.UpdatedAt = o.cfg.Now().UTC()
		if state == domain.JobStateCompleted {
			job.Result = append(json.RawMessage(nil), result...)
			job.Error = ""
		} else {
			job.Result = nil
			job.Error = reason
		}
	}
	o.active = false
	snapshot := job.Clone()
	o.mu.Unlock()

	o.logf("job finished job_id=%s state=%s attempts=%d", snapshot.ID, snapshot.State, snapshot.Attempts)
	o.run([]emission{o.jobEmission(snapshot.Clone())})
	return snapshot
}

func (o *Orchestrator) abandon(cause error) (domain.Job, error) {
	o.mu.Lock()
	o.active = false
	snapshot := o.job.Clone()
	o.mu.Unlock()

	o.logf("job polling abandoned job_id=%s attempts=%d err=%v", snapshot.ID, snapshot.Attempts, cause)
	return snapshot, cause
}
