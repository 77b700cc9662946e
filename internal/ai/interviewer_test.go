package ai

import (
	"context"
	"errors"
	"testing"
)

type fakeCompleter struct {
	available bool
	replies   []string
	err       error
	requests  []ChatRequest
}

func (f *fakeCompleter) Available() bool { return f.available }

func (f *fakeCompleter) Complete(_ context.Context, request ChatRequest) (ChatResult, error) {
	f.requests = append(f.requests, request)
	if f.err != nil {
		return ChatResult{}, f.err
	}
	reply := "next question"
	if len(f.replies) > 0 {
		reply, f.replies = f.replies[0], f.replies[1:]
	}
	return ChatResult{Text: reply}, nil
}

func TestInterviewerSendsSystemPromptAndHistory(t *testing.T) {
	client := &fakeCompleter{available: true, replies: []string{"Why?", "How?"}}
	interviewer := NewInterviewer(client, InterviewerConfig{SystemPrompt: "be an interviewer", HistoryLimit: 10})

	if _, err := interviewer.Respond(context.Background(), "first answer"); err != nil {
		t.Fatalf("unexpected err=%v", err)
	}
	reply, err := interviewer.Respond(context.Background(), " second answer ")
	if err != nil {
		t.Fatalf("unexpected err=%v", err)
	}
	if reply != "How?" {
		t.Fatalf("expected How?, got %q", reply)
	}

	last := client.requests[1].Messages
	if len(last) != 4 {
		t.Fatalf("expected system + 3 turns, got %d", len(last))
	}
	if last[0].Role != RoleSystem || last[1].Content != "first answer" || last[2].Content != "Why?" || last[3].Content != "second answer" {
		t.Fatalf("unexpected prompt %+v", last)
	}
	if got := len(interviewer.History()); got != 4 {
		t.Fatalf("expected 4 history turns, got %d", got)
	}
}

func TestInterviewerTrimsHistory(t *testing.T) {
	client := &fakeCompleter{available: true}
	interviewer := NewInterviewer(client, InterviewerConfig{HistoryLimit: 3})

	for _, answer := range []string{"a", "b", "c"} {
		if _, err := interviewer.Respond(context.Background(), answer); err != nil {
			t.Fatalf("unexpected err=%v", err)
		}
	}
	history := interviewer.History()
	if len(history) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(history))
	}
	if history[2].Role != RoleAssistant {
		t.Fatalf("expected last turn from assistant, got %+v", history[2])
	}
}

func TestInterviewerFallbackOnError(t *testing.T) {
	client := &fakeCompleter{available: true, err: errors.New("boom")}
	interviewer := NewInterviewer(client, InterviewerConfig{FallbackReply: "Tell me more."})

	reply, err := interviewer.Respond(context.Background(), "answer")
	if err == nil {
		t.Fatalf("expected error")
	}
	if reply != "Tell me more." {
		t.Fatalf("expected fallback reply, got %q", reply)
	}
}

func TestInterviewerRejectsEmptyUtterance(t *testing.T) {
	interviewer := NewInterviewer(&fakeCompleter{available: true}, InterviewerConfig{})
	if _, err := interviewer.Respond(context.Background(), "   "); !errors.Is(err, ErrEmptyUtterance) {
		t.Fatalf("expected ErrEmptyUtterance, got %v", err)
	}
}

func TestInterviewerResetClearsHistory(t *testing.T) {
	interviewer := NewInterviewer(&fakeCompleter{available: true}, InterviewerConfig{})
	_, _ = interviewer.Respond(context.Background(), "answer")
	interviewer.Reset()
	if got := len(interviewer.History()); got != 0 {
		t.Fatalf("expected empty history, got %d", got)
	}
}
