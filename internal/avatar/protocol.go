package avatar

import (
	"github.com/digitalcoach/coach-orchestrator/internal/domain"
)

const (
	commandStart          = "start"
	commandInterrupt      = "interrupt"
	commandStop           = "stop"
	commandStartListening = "start_listening"
	commandStopListening  = "stop_listening"
	commandSpeak          = "speak"
)

// Command is one client-to-vendor frame.
type Command struct {
	ID     string        `json:"id"`
	Type   string        `json:"type"`
	Config *StartPayload `json:"config,omitempty"`
	Text   string        `json:"text,omitempty"`
	Task   string        `json:"task_type,omitempty"`
}

type StartPayload struct {
	AvatarName         string `json:"avatar_name"`
	Quality            string `json:"quality"`
	Language           string `json:"language,omitempty"`
	KnowledgeID        string `json:"knowledge_id,omitempty"`
	DisableIdleTimeout bool   `json:"disable_idle_timeout"`
	UseSilencePrompt   bool   `json:"use_silence_prompt"`
}

func startPayload(cfg domain.SessionConfig) *StartPayload {
	return &StartPayload{
		AvatarName:         cfg.AvatarName,
		Quality:            cfg.Quality,
		Language:           cfg.Language,
		KnowledgeID:        cfg.KnowledgeID,
		DisableIdleTimeout: cfg.DisableIdleTimeout,
		UseSilencePrompt:   cfg.UseSilencePrompt,
	}
}

// Frame is one vendor-to-client event frame. Some vendors nest the text
// under detail.message.
type Frame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Detail  *struct {
		Message string `json:"message"`
	} `json:"detail,omitempty"`
}

func (f Frame) event() (domain.SessionEvent, bool) {
	eventType := domain.SessionEventType(f.Type)
	switch eventType {
	case domain.SessionEventStreamReady,
		domain.SessionEventUtteranceStart,
		domain.SessionEventUtteranceFragment,
		domain.SessionEventUtteranceEnd,
		domain.SessionEventUserStart,
		domain.SessionEventUserStop,
		domain.SessionEventUserTalkingMessage,
		domain.SessionEventDisconnected:
	default:
		return domain.SessionEvent{}, false
	}

	message := f.Message
	if message == "" && f.Detail != nil {
		message = f.Detail.Message
	}
	return domain.SessionEvent{Type: eventType, Message: message}, true
}
