package domain

import "context"

// SessionEventHandler receives events in the order the vendor emits them.
type SessionEventHandler func(SessionEvent)

// LiveConnection is an open avatar stream. Commands are best-effort and may
// fail once the remote side has gone away.
type LiveConnection interface {
	Interrupt(ctx context.Context) error
	Stop(ctx context.Context) error
	StartListening(ctx context.Context) error
	StopListening(ctx context.Context) error
	Speak(ctx context.Context, text string) error
}
