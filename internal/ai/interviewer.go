package ai

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
)

var ErrEmptyUtterance = errors.New("utterance is empty")

type InterviewerConfig struct {
	SystemPrompt    string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	HistoryLimit    int
	FallbackReply   string
	Logger          *log.Logger
}

// Interviewer turns candidate answers into follow-up questions while keeping
// a bounded conversation history.
type Interviewer struct {
	client ChatCompleter
	config InterviewerConfig

	mu      sync.Mutex
	history []Message
}

func NewInterviewer(client ChatCompleter, config InterviewerConfig) *Interviewer {
	if strings.TrimSpace(config.Model) == "" {
		config.Model = "gpt-4"
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 20
	}
	return &Interviewer{client: client, config: config}
}

// Respond records the utterance, asks the model for a follow-up and records
// the reply. When the model cannot answer, the fallback reply is returned
// together with the error so the caller can decide whether to speak it.
func (i *Interviewer) Respond(ctx context.Context, utterance string) (string, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return "", ErrEmptyUtterance
	}
	if i.client == nil || !i.client.Available() {
		return i.config.FallbackReply, ErrChatUnavailable
	}

	messages := i.appendTurn(Message{Role: RoleUser, Content: utterance})
	result, err := i.client.Complete(ctx, ChatRequest{
		Model:           i.config.Model,
		Messages:        messages,
		Temperature:     i.config.Temperature,
		MaxOutputTokens: i.config.MaxOutputTokens,
	})
	if err != nil {
		if i.config.Logger != nil {
			i.config.Logger.Printf("interviewer reply failed model=%s err=%v", i.config.Model, err)
		}
		return i.config.FallbackReply, err
	}

	i.appendTurn(Message{Role: RoleAssistant, Content: result.Text})
	return result.Text, nil
}

// Reset forgets the conversation; the next Respond starts a new interview.
func (i *Interviewer) Reset() {
	i.mu.Lock()
	i.history = nil
	i.mu.Unlock()
}

func (i *Interviewer) History() []Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Message(nil), i.history...)
}

// appendTurn stores the turn and returns the prompt to send: the system
// prompt followed by the most recent HistoryLimit turns.
func (i *Interviewer) appendTurn(turn Message) []Message {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.history = append(i.history, turn)
	if overflow := len(i.history) - i.config.HistoryLimit; overflow > 0 {
		i.history = append([]Message(nil), i.history[overflow:]...)
	}

	messages := make([]Message, 0, len(i.history)+1)
	if prompt := strings.TrimSpace(i.config.SystemPrompt); prompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: prompt})
	}
	return append(messages, i.history...)
}
