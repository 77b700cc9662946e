package domain

import "time"

type SessionState string

const (
	SessionStateIdle     SessionState = "idle"
	SessionStateStarting SessionState = "starting"
	SessionStateActive   SessionState = "active"
	SessionStateEnding   SessionState = "ending"
	SessionStateEnded    SessionState = "ended"
)

// SessionEventType names the events a streaming avatar connection emits.
type SessionEventType string

const (
	SessionEventStreamReady        SessionEventType = "stream_ready"
	SessionEventUtteranceStart     SessionEventType = "avatar_start_talking"
	SessionEventUtteranceFragment  SessionEventType = "avatar_talking_message"
	SessionEventUtteranceEnd       SessionEventType = "avatar_stop_talking"
	SessionEventUserStart          SessionEventType = "user_start"
	SessionEventUserStop           SessionEventType = "user_stop"
	SessionEventUserTalkingMessage SessionEventType = "user_talking_message"
	SessionEventDisconnected       SessionEventType = "stream_disconnected"
)

type SessionEvent struct {
	Type    SessionEventType
	Message string
}

// SessionConfig is what the avatar vendor needs to open a stream.
type SessionConfig struct {
	AvatarName         string
	Quality            string
	Language           string
	KnowledgeID        string
	DisableIdleTimeout bool
	UseSilencePrompt   bool
}

type SessionSnapshot struct {
	ID          string       `json:"id"`
	State       SessionState `json:"state"`
	UserTalking bool         `json:"user_talking"`
	StartedAt   time.Time    `json:"started_at"`
	EndedAt     time.Time    `json:"ended_at"`
	LastError   string       `json:"last_error,omitempty"`
}

type Speaker string

const (
	SpeakerUser        Speaker = "user"
	SpeakerInterviewer Speaker = "interviewer"
)

type TranscriptLine struct {
	SessionID string    `json:"session_id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}
