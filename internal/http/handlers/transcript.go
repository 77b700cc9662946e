package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
	"github.com/digitalcoach/coach-orchestrator/internal/http/middleware"
)

const transcriptWriteTimeout = 5 * time.Second

type transcriptMessage struct {
	Type       string                  `json:"type"`
	Session    *domain.SessionSnapshot `json:"session,omitempty"`
	Transcript *domain.TranscriptLine  `json:"transcript,omitempty"`
	Job        *domain.Job             `json:"job,omitempty"`
}

// Transcript upgrades to a WebSocket and streams the caller's transcript
// lines, session state changes and job updates until either side closes.
func (api *API) Transcript(w http.ResponseWriter, r *http.Request) {
	if api.events == nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "live transcripts are not enabled")
		return
	}
	userID := middleware.GetUserID(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: api.originPatterns,
	})
	if err != nil {
		if api.logger != nil {
			api.logger.Printf("transcript websocket accept failed user_id=%s err=%v", userID, err)
		}
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	events, cancel := api.events.Subscribe(128)
	defer cancel()

	// Inbound frames are not expected; CloseRead ends ctx when the client leaves.
	ctx := conn.CloseRead(context.WithoutCancel(r.Context()))

	initial := api.coach.Session(userID)
	if err := writeFrame(ctx, conn, transcriptMessage{Type: "session", Session: &initial}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.UserID != userID {
				continue
			}
			message := transcriptMessage{
				Type:       string(event.Kind),
				Session:    event.Session,
				Transcript: event.Transcript,
				Job:        event.Job,
			}
			if err := writeFrame(ctx, conn, message); err != nil {
				if api.logger != nil {
					api.logger.Printf("transcript websocket write failed user_id=%s err=%v", userID, err)
				}
				return
			}
		}
	}
}

// originHosts turns CORS origins into the host patterns the WebSocket
// handshake matches against. Same-origin requests are always accepted.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if _, host, ok := strings.Cut(origin, "://"); ok {
			origin = host
		}
		hosts = append(hosts, strings.TrimSuffix(origin, "/"))
	}
	return hosts
}

func writeFrame(ctx context.Context, conn *websocket.Conn, message transcriptMessage) error {
	writeCtx, cancel := context.WithTimeout(ctx, transcriptWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, message)
}
