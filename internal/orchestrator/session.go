package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
)

const stopTimeout = 5 * time.Second

type liveSession struct {
	id         string
	generation uint64
	state      domain.SessionState
	conn       domain.LiveConnection

	ctx    context.Context
	cancel context.CancelFunc

	// Events that arrive before conn is attached wait in held and are
	// replayed in order once StartSession stores the connection.
	attached bool
	held     []domain.SessionEvent

	pendingUser string
	interviewer utteranceBuffer
	userTalking bool

	startedAt time.Time
	endedAt   time.Time
	lastError string
}

func (s *liveSession) snapshot() domain.SessionSnapshot {
	return domain.SessionSnapshot{
		ID:          s.id,
		State:       s.state,
		UserTalking: s.userTalking,
		StartedAt:   s.startedAt,
		EndedAt:     s.endedAt,
		LastError:   s.lastError,
	}
}

// resettable is implemented by responders that keep per-conversation state.
type resettable interface {
	Reset()
}

// StartSession fetches a stream token and opens the avatar connection. The
// session is starting until the stream reports ready. On setup failure the
// session falls back to idle and the error is returned.
func (o *Orchestrator) StartSession(ctx context.Context) error {
	if o.deps.Tokens == nil || o.deps.Live == nil {
		return ErrSessionUnavailable
	}

	o.mu.Lock()
	if o.session != nil && o.session.state != domain.SessionStateIdle && o.session.state != domain.SessionStateEnded {
		o.mu.Unlock()
		return ErrSessionActive
	}
	o.generation++
	sessionCtx, cancel := context.WithCancel(context.Background())
	session := &liveSession{
		id:         o.cfg.NewID(),
		generation: o.generation,
		state:      domain.SessionStateStarting,
		ctx:        sessionCtx,
		cancel:     cancel,
		startedAt:  o.cfg.Now().UTC(),
	}
	o.session = session
	starting := session.snapshot()
	o.mu.Unlock()

	if reset, ok := o.deps.Responder.(resettable); ok {
		reset.Reset()
	}
	o.run([]emission{o.sessionEmission(starting)})
	o.logf("session starting session_id=%s user_id=%s", session.id, o.cfg.UserID)

	token, err := o.deps.Tokens.FetchAccessToken(ctx)
	if err != nil {
		return o.discardSession(session, fmt.Errorf("fetch access token: %w", err))
	}

	generation := session.generation
	conn, err := o.deps.Live.Start(ctx, token, o.cfg.Session, func(event domain.SessionEvent) {
		o.handleEvent(generation, event)
	})
	if err != nil {
		return o.discardSession(session, fmt.Errorf("start live session: %w", err))
	}

	o.mu.Lock()
	if o.session != session || session.state == domain.SessionStateEnding || session.state == domain.SessionStateEnded {
		o.mu.Unlock()
		o.stopConnection(conn)
		return ErrSessionEnded
	}
	session.conn = conn
	o.mu.Unlock()

	o.attach(session)
	return nil
}

// attach replays the events held during Start and then lets the stream
// deliver directly. Events arriving during the replay join the queue, so
// order is kept.
func (o *Orchestrator) attach(session *liveSession) {
	for {
		o.mu.Lock()
		if len(session.held) == 0 {
			session.attached = true
			o.mu.Unlock()
			return
		}
		event := session.held[0]
		session.held = session.held[1:]
		o.mu.Unlock()

		o.applyEvent(session.generation, event)
	}
}

// Interrupt stops the avatar mid-utterance. The session state is unchanged.
func (o *Orchestrator) Interrupt(ctx context.Context) error {
	conn, err := o.activeConnection()
	if err != nil {
		return err
	}
	if err := conn.Interrupt(ctx); err != nil {
		return fmt.Errorf("interrupt: %w", err)
	}
	return nil
}

func (o *Orchestrator) StartListening(ctx context.Context) error {
	conn, err := o.activeConnection()
	if err != nil {
		return err
	}
	if err := conn.StartListening(ctx); err != nil {
		return fmt.Errorf("start listening: %w", err)
	}
	return nil
}

func (o *Orchestrator) StopListening(ctx context.Context) error {
	conn, err := o.activeConnection()
	if err != nil {
		return err
	}
	if err := conn.StopListening(ctx); err != nil {
		return fmt.Errorf("stop listening: %w", err)
	}
	return nil
}

// EndSession tears the current session down. Redundant calls, and calls that
// race a remote disconnect, return nil without repeating the teardown. With
// no session yet, an ended one is recorded so callers see the request took.
func (o *Orchestrator) EndSession(ctx context.Context) error {
	o.mu.Lock()
	session := o.session
	if session == nil {
		o.generation++
		sessionCtx, cancel := context.WithCancel(context.Background())
		session = &liveSession{
			id:         o.cfg.NewID(),
			generation: o.generation,
			state:      domain.SessionStateIdle,
			ctx:        sessionCtx,
			cancel:     cancel,
			startedAt:  o.cfg.Now().UTC(),
		}
		o.session = session
	}
	o.mu.Unlock()
	o.teardown(ctx, session, "ended by caller")
	return nil
}

// Session returns a snapshot of the current or last session.
func (o *Orchestrator) Session() domain.SessionSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return domain.SessionSnapshot{State: domain.SessionStateIdle}
	}
	return o.session.snapshot()
}

func (o *Orchestrator) activeConnection() (domain.LiveConnection, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil || o.session.state != domain.SessionStateActive || o.session.conn == nil {
		return nil, ErrSessionNotActive
	}
	return o.session.conn, nil
}

func (o *Orchestrator) discardSession(session *liveSession, cause error) error {
	o.mu.Lock()
	if o.session != session || session.state != domain.SessionStateStarting {
		o.mu.Unlock()
		session.cancel()
		return ErrSessionEnded
	}
	session.state = domain.SessionStateIdle
	session.lastError = cause.Error()
	session.cancel()
	snapshot := session.snapshot()
	o.mu.Unlock()

	o.logf("session setup failed session_id=%s err=%v", session.id, cause)
	o.run([]emission{o.sessionEmission(snapshot)})
	return cause
}

// teardown runs the ending -> ended path exactly once per session.
func (o *Orchestrator) teardown(ctx context.Context, session *liveSession, reason string) {
	o.mu.Lock()
	if session.state == domain.SessionStateEnding || session.state == domain.SessionStateEnded {
		o.mu.Unlock()
		return
	}
	session.state = domain.SessionStateEnding
	conn := session.conn
	ending := session.snapshot()
	o.mu.Unlock()

	o.run([]emission{o.sessionEmission(ending)})

	if conn != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		if err := conn.Stop(stopCtx); err != nil {
			o.logf("session stop failed session_id=%s err=%v", session.id, err)
		}
		cancel()
	}
	session.cancel()

	o.mu.Lock()
	session.state = domain.SessionStateEnded
	session.endedAt = o.cfg.Now().UTC()
	session.conn = nil
	session.held = nil
	session.pendingUser = ""
	session.userTalking = false
	session.interviewer.reset()
	ended := session.snapshot()
	o.mu.Unlock()

	o.logf("session ended session_id=%s reason=%s", session.id, reason)
	o.run([]emission{o.sessionEmission(ended)})
}

func (o *Orchestrator) stopConnection(conn domain.LiveConnection) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := conn.Stop(ctx); err != nil {
		o.logf("session stop failed err=%v", err)
	}
}

// handleEvent is the stream's event callback. Until StartSession has stored
// the connection the event is held for replay.
func (o *Orchestrator) handleEvent(generation uint64, event domain.SessionEvent) {
	o.mu.Lock()
	session := o.session
	if session != nil && session.generation == generation && !session.attached &&
		session.state == domain.SessionStateStarting {
		session.held = append(session.held, event)
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	o.applyEvent(generation, event)
}

// applyEvent applies one vendor event to the session it was registered for.
// State is read under the lock when the event runs, never from values
// captured when the handler was registered.
func (o *Orchestrator) applyEvent(generation uint64, event domain.SessionEvent) {
	o.mu.Lock()
	session := o.session
	if session == nil || session.generation != generation ||
		session.state == domain.SessionStateEnding || session.state == domain.SessionStateEnded {
		o.mu.Unlock()
		return
	}

	var emissions []emission
	switch event.Type {
	case domain.SessionEventStreamReady:
		if session.state == domain.SessionStateStarting {
			session.state = domain.SessionStateActive
			emissions = append(emissions, o.sessionEmission(session.snapshot()))
			o.logf("session active session_id=%s", session.id)
		}
	case domain.SessionEventUtteranceStart:
		if leftover := session.interviewer.flush(); leftover != "" {
			emissions = append(emissions, o.transcriptEmission(o.line(session, domain.SpeakerInterviewer, leftover)))
		}
	case domain.SessionEventUtteranceFragment:
		session.interviewer.append(event.Message)
	case domain.SessionEventUtteranceEnd:
		if text := session.interviewer.flush(); text != "" {
			emissions = append(emissions, o.transcriptEmission(o.line(session, domain.SpeakerInterviewer, text)))
		}
	case domain.SessionEventUserStart:
		session.userTalking = true
		emissions = append(emissions, o.sessionEmission(session.snapshot()))
	case domain.SessionEventUserTalkingMessage:
		text := strings.TrimSpace(event.Message)
		session.pendingUser = text
		if text != "" {
			emissions = append(emissions, o.transcriptEmission(o.line(session, domain.SpeakerUser, text)))
		}
	case domain.SessionEventUserStop:
		session.userTalking = false
		emissions = append(emissions, o.sessionEmission(session.snapshot()))
		utterance := session.pendingUser
		session.pendingUser = ""
		if utterance != "" && o.deps.Responder != nil && session.state == domain.SessionStateActive {
			go o.respond(session, utterance)
		}
	case domain.SessionEventDisconnected:
		o.mu.Unlock()
		o.teardown(context.Background(), session, "stream disconnected")
		return
	}
	o.mu.Unlock()

	o.run(emissions)
}

// respond asks the responder for a follow-up and has the avatar speak it if
// the session is still active by then.
func (o *Orchestrator) respond(session *liveSession, utterance string) {
	reply, err := o.deps.Responder.Respond(session.ctx, utterance)
	if session.ctx.Err() != nil {
		return
	}
	if err != nil {
		o.logf("responder failed session_id=%s err=%v", session.id, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return
	}

	o.mu.Lock()
	if o.session != session || session.state != domain.SessionStateActive || session.conn == nil {
		state := session.state
		o.mu.Unlock()
		o.logf("reply dropped session_id=%s state=%s", session.id, state)
		return
	}
	conn := session.conn
	o.mu.Unlock()

	if err := conn.Speak(session.ctx, reply); err != nil {
		o.logf("avatar speak failed session_id=%s err=%v", session.id, err)
	}
}

func (o *Orchestrator) line(session *liveSession, speaker domain.Speaker, text string) domain.TranscriptLine {
	return domain.TranscriptLine{
		SessionID: session.id,
		Speaker:   speaker,
		Text:      text,
		At:        o.cfg.Now().UTC(),
	}
}
