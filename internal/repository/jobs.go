package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// JobsRepository persists analysis jobs and answers dashboard queries.
type JobsRepository interface {
	// SaveJob inserts or advances a job. A write that would move the stored
	// job backwards, or out of a terminal state, is ignored.
	SaveJob(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, jobID string) (domain.Job, error)
	ListJobs(ctx context.Context, filter domain.JobListFilter) ([]domain.Job, int, error)
	UserStats(ctx context.Context, userID string) (domain.UserStats, error)
}

// MemoryJobsRepository stores jobs in memory for local development.
type MemoryJobsRepository struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs: make(map[string]domain.Job),
	}
}

func (r *MemoryJobsRepository) SaveJob(_ context.Context, job domain.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.jobs[job.ID]; ok && !supersedes(current, job) {
		return nil
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return domain.Job{}, ErrNotFound
	}
	return job.Clone(), nil
}

func (r *MemoryJobsRepository) ListJobs(_ context.Context, filter domain.JobListFilter) ([]domain.Job, int, error) {
	filter = normalizeFilter(filter)

	r.mu.RLock()
	items := make([]domain.Job, 0)
	for _, job := range r.jobs {
		if filter.UserID != "" && job.UserID != filter.UserID {
			continue
		}
		items = append(items, job.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].SubmittedAt.Equal(items[j].SubmittedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].SubmittedAt.After(items[j].SubmittedAt)
	})

	total := len(items)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []domain.Job{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return items[start:end], total, nil
}

func (r *MemoryJobsRepository) UserStats(_ context.Context, userID string) (domain.UserStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := domain.UserStats{UserID: userID}
	var (
		sum    float64
		scored int
	)
	for _, job := range r.jobs {
		if job.UserID != userID || job.State != domain.JobStateCompleted {
			continue
		}
		stats.CompletedCount++
		if score, ok := scoreOf(job); ok {
			sum += score
			scored++
		}
	}
	if scored > 0 {
		stats.AverageScore = sum / float64(scored)
	}
	return stats, nil
}

// supersedes reports whether next may replace current.
func supersedes(current, next domain.Job) bool {
	if current.State.IsTerminal() {
		return false
	}
	if stateRank(next.State) != stateRank(current.State) {
		return stateRank(next.State) > stateRank(current.State)
	}
	return next.Attempts >= current.Attempts
}

func stateRank(state domain.JobState) int {
	switch {
	case state.IsTerminal():
		return 2
	case state == domain.JobStatePolling:
		return 1
	default:
		return 0
	}
}

func scoreOf(job domain.Job) (float64, bool) {
	if job.State != domain.JobStateCompleted || len(job.Result) == 0 {
		return 0, false
	}
	evaluation, err := domain.DecodeEvaluation(job.Result)
	if err != nil {
		return 0, false
	}
	return evaluation.AggregateScore, true
}

func normalizeFilter(filter domain.JobListFilter) domain.JobListFilter {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}
	return filter
}
