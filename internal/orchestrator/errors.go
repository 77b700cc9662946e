package orchestrator

import "errors"

var (
	ErrEmptyMediaRef      = errors.New("media reference is required")
	ErrJobInProgress      = errors.New("an analysis job is already in progress")
	ErrAlreadyPolling     = errors.New("job is already being polled")
	ErrUnknownJob         = errors.New("job is not owned by this orchestrator")
	ErrSessionActive      = errors.New("a live session is already open")
	ErrSessionNotActive   = errors.New("live session is not active")
	ErrSessionEnded       = errors.New("live session ended while starting")
	ErrSessionUnavailable = errors.New("live sessions are not configured")
	ErrNoCapture          = errors.New("media capture is required")
)
