package avatar

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
)

var (
	ErrConnectionClosed = errors.New("avatar: connection closed")
	ErrMissingToken     = errors.New("avatar: stream token is required")
)

type StreamClientConfig struct {
	URL         string
	DialTimeout time.Duration
	HTTPClient  *http.Client
	Logger      *log.Logger
}

// StreamClient opens avatar streams over WebSocket.
type StreamClient struct {
	url         string
	dialTimeout time.Duration
	httpClient  *http.Client
	logger      *log.Logger
}

func NewStreamClient(config StreamClientConfig) *StreamClient {
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}
	return &StreamClient{
		url:         strings.TrimSpace(config.URL),
		dialTimeout: config.DialTimeout,
		httpClient:  config.HTTPClient,
		logger:      config.Logger,
	}
}

// Start dials the stream, sends the start command and begins delivering
// events to handler from a dedicated reader goroutine. The connection
// outlives ctx; it ends on Stop or when the remote side closes.
func (s *StreamClient) Start(
	ctx context.Context,
	token string,
	cfg domain.SessionConfig,
	handler domain.SessionEventHandler,
) (domain.LiveConnection, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{
		HTTPClient: s.httpClient,
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return nil, fmt.Errorf("avatar dial: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	connection := &Connection{
		conn:    conn,
		ctx:     connCtx,
		cancel:  connCancel,
		handler: handler,
		logger:  s.logger,
		done:    make(chan struct{}),
	}

	start := Command{ID: uuid.NewString(), Type: commandStart, Config: startPayload(cfg)}
	if err := wsjson.Write(dialCtx, conn, start); err != nil {
		connCancel()
		_ = conn.CloseNow()
		return nil, fmt.Errorf("avatar start: %w", err)
	}

	go connection.readLoop()
	return connection, nil
}

// Connection is one open avatar stream.
type Connection struct {
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	handler domain.SessionEventHandler
	logger  *log.Logger
	closed  atomic.Bool
	done    chan struct{}
}

func (c *Connection) Interrupt(ctx context.Context) error {
	return c.send(ctx, Command{Type: commandInterrupt})
}

func (c *Connection) StartListening(ctx context.Context) error {
	return c.send(ctx, Command{Type: commandStartListening})
}

func (c *Connection) StopListening(ctx context.Context) error {
	return c.send(ctx, Command{Type: commandStopListening})
}

func (c *Connection) Speak(ctx context.Context, text string) error {
	return c.send(ctx, Command{Type: commandSpeak, Text: text, Task: "repeat"})
}

// Stop asks the vendor to end the stream and closes the socket. Calling it on
// an already closed connection is a no-op.
func (c *Connection) Stop(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer c.cancel()

	writeErr := wsjson.Write(ctx, c.conn, Command{ID: uuid.NewString(), Type: commandStop})
	closeErr := c.conn.Close(websocket.StatusNormalClosure, "session ended")
	if writeErr != nil {
		return fmt.Errorf("avatar stop: %w", writeErr)
	}
	if closeErr != nil && websocket.CloseStatus(closeErr) != websocket.StatusNormalClosure {
		return fmt.Errorf("avatar close: %w", closeErr)
	}
	return nil
}

// Done is closed once the reader goroutine has exited.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) send(ctx context.Context, command Command) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if command.ID == "" {
		command.ID = uuid.NewString()
	}
	if err := wsjson.Write(ctx, c.conn, command); err != nil {
		return fmt.Errorf("avatar %s: %w", command.Type, err)
	}
	return nil
}

func (c *Connection) readLoop() {
	defer close(c.done)

	for {
		var frame Frame
		if err := wsjson.Read(c.ctx, c.conn, &frame); err != nil {
			wasClosed := c.closed.Swap(true)
			c.cancel()
			_ = c.conn.CloseNow()
			if !wasClosed {
				c.logf("avatar stream lost err=%v", err)
				c.emit(domain.SessionEvent{Type: domain.SessionEventDisconnected})
			}
			return
		}

		event, ok := frame.event()
		if !ok {
			c.logf("avatar frame ignored type=%s", frame.Type)
			continue
		}
		c.emit(event)
	}
}

func (c *Connection) emit(event domain.SessionEvent) {
	if c.handler != nil {
		c.handler(event)
	}
}

func (c *Connection) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
