package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
	"github.com/digitalcoach/coach-orchestrator/internal/resilience"
)

type transientErr struct{ msg string }

func (e transientErr) Error() string   { return e.msg }
func (e transientErr) Transient() bool { return true }

type terminalErr struct{ msg string }

func (e terminalErr) Error() string   { return e.msg }
func (e terminalErr) Transient() bool { return false }

type statusStep struct {
	report domain.StatusReport
	err    error
}

func pending() statusStep {
	return statusStep{report: domain.StatusReport{Status: domain.RemoteStatusPending}}
}

func completed() statusStep {
	return statusStep{report: domain.StatusReport{Status: domain.RemoteStatusCompleted}}
}

type fakeAnalysis struct {
	mu          sync.Mutex
	createID    string
	createErr   error
	createdWith []string
	steps       []statusStep
	statusCalls int
	result      json.RawMessage
	fetchErrs   []error
	fetchCalls  int

	inFlight    int32
	maxInFlight int32
	entered     chan struct{}
	release     chan struct{}
}

func (f *fakeAnalysis) Create(_ context.Context, mediaURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdWith = append(f.createdWith, mediaURL)
	if f.createErr != nil {
		return "", f.createErr
	}
	if f.createID == "" {
		return "job-1", nil
	}
	return f.createID, nil
}

func (f *fakeAnalysis) Status(ctx context.Context, _ string) (domain.StatusReport, error) {
	current := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxInFlight)
		if current <= seen || atomic.CompareAndSwapInt32(&f.maxInFlight, seen, current) {
			break
		}
	}

	f.mu.Lock()
	index := f.statusCalls
	f.statusCalls++
	step := pending()
	if len(f.steps) > 0 {
		if index >= len(f.steps) {
			index = len(f.steps) - 1
		}
		step = f.steps[index]
	}
	f.mu.Unlock()

	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return domain.StatusReport{}, ctx.Err()
		}
	}
	return step.report, step.err
}

func (f *fakeAnalysis) FetchResult(_ context.Context, _ string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.result == nil {
		return json.RawMessage(`{"aggregateScore":82}`), nil
	}
	return f.result, nil
}

func (f *fakeAnalysis) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

type fakeStorage struct {
	mu        sync.Mutex
	failures  int
	uploads   int
	lastID    string
	uploadErr error
}

func (s *fakeStorage) Upload(_ context.Context, file domain.MediaFile, id string) (domain.UploadHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	s.lastID = id
	if s.uploadErr != nil {
		return domain.UploadHandle{}, s.uploadErr
	}
	if s.failures > 0 {
		s.failures--
		return domain.UploadHandle{}, transientErr{msg: "storage unavailable"}
	}
	return domain.UploadHandle{Bucket: "answers", Path: id + "-" + file.Name, Size: int64(len(file.Data))}, nil
}

func (s *fakeStorage) DownloadURL(_ context.Context, handle domain.UploadHandle) (string, error) {
	return "http://media/" + handle.Path, nil
}

type fakeCapture struct {
	file domain.MediaFile
	err  error
}

func (c fakeCapture) GetFile(context.Context) (domain.MediaFile, error) {
	return c.file, c.err
}

type fakeTokens struct {
	token string
	err   error
}

func (t fakeTokens) FetchAccessToken(context.Context) (string, error) {
	if t.err != nil {
		return "", t.err
	}
	if t.token == "" {
		return "tok", nil
	}
	return t.token, nil
}

type fakeConn struct {
	mu         sync.Mutex
	stops      int32
	interrupts int
	listening  []bool
	spoken     []string
	stopErr    error
	spokeCh    chan string
}

func (c *fakeConn) Interrupt(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupts++
	return nil
}

func (c *fakeConn) Stop(context.Context) error {
	atomic.AddInt32(&c.stops, 1)
	return c.stopErr
}

func (c *fakeConn) StartListening(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listening = append(c.listening, true)
	return nil
}

func (c *fakeConn) StopListening(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listening = append(c.listening, false)
	return nil
}

func (c *fakeConn) Speak(_ context.Context, text string) error {
	c.mu.Lock()
	c.spoken = append(c.spoken, text)
	c.mu.Unlock()
	if c.spokeCh != nil {
		c.spokeCh <- text
	}
	return nil
}

func (c *fakeConn) stopCount() int {
	return int(atomic.LoadInt32(&c.stops))
}

type fakeLive struct {
	mu       sync.Mutex
	conns    []*fakeConn
	handlers []domain.SessionEventHandler
	startErr error
	stopErr  error
	gate     chan struct{}
	spokeCh  chan string
	// early events reach the handler before Start returns.
	early []domain.SessionEvent
}

func (l *fakeLive) Start(ctx context.Context, _ string, _ domain.SessionConfig, handler domain.SessionEventHandler) (domain.LiveConnection, error) {
	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.startErr != nil {
		return nil, l.startErr
	}
	conn := &fakeConn{stopErr: l.stopErr, spokeCh: l.spokeCh}
	l.mu.Lock()
	l.conns = append(l.conns, conn)
	l.handlers = append(l.handlers, handler)
	l.mu.Unlock()
	for _, event := range l.early {
		handler(event)
	}
	return conn, nil
}

func (l *fakeLive) emit(index int, events ...domain.SessionEvent) {
	l.mu.Lock()
	handler := l.handlers[index]
	l.mu.Unlock()
	for _, event := range events {
		handler(event)
	}
}

func (l *fakeLive) conn(index int) *fakeConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conns[index]
}

type fakeResponder struct {
	mu       sync.Mutex
	received []string
	reply    string
	err      error
	resets   int
}

func (r *fakeResponder) Respond(_ context.Context, utterance string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, utterance)
	return r.reply, r.err
}

func (r *fakeResponder) Reset() {
	r.mu.Lock()
	r.resets++
	r.mu.Unlock()
}

type recorder struct {
	mu          sync.Mutex
	jobs        []domain.Job
	sessions    []domain.SessionSnapshot
	user        []string
	interviewer []string
}

func (r *recorder) config(cfg Config) Config {
	cfg.OnJob = func(job domain.Job) {
		r.mu.Lock()
		r.jobs = append(r.jobs, job)
		r.mu.Unlock()
	}
	cfg.OnSessionState = func(snapshot domain.SessionSnapshot) {
		r.mu.Lock()
		r.sessions = append(r.sessions, snapshot)
		r.mu.Unlock()
	}
	cfg.OnUserTranscript = func(line domain.TranscriptLine) {
		r.mu.Lock()
		r.user = append(r.user, line.Text)
		r.mu.Unlock()
	}
	cfg.OnInterviewerTranscript = func(line domain.TranscriptLine) {
		r.mu.Lock()
		r.interviewer = append(r.interviewer, line.Text)
		r.mu.Unlock()
	}
	return cfg
}

func (r *recorder) jobStates() []domain.JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make([]domain.JobState, 0, len(r.jobs))
	for _, job := range r.jobs {
		states = append(states, job.State)
	}
	return states
}

func (r *recorder) sessionStates() []domain.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make([]domain.SessionState, 0, len(r.sessions))
	for _, snapshot := range r.sessions {
		states = append(states, snapshot.State)
	}
	return states
}

func testConfig() Config {
	return Config{
		UserID:       "user-1",
		PollInterval: time.Millisecond,
		MaxAttempts:  10,
		UploadRetry: resilience.RetryConfig{
			MaxRetries: 3,
			BaseDelay:  time.Millisecond,
			MaxDelay:   2 * time.Millisecond,
		},
		Session: domain.SessionConfig{AvatarName: "default", Quality: "low"},
	}
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errBoom = errors.New("boom")
