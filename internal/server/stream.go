package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/bamsammich/hlink/internal/event"
)

const (
	streamBuffer = 256
	writeTimeout = 10 * time.Second
)

//nolint:gochecknoglobals // stateless upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Message is one websocket frame of a streamed run.
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Summary   *summary  `json:"summary,omitempty"`
	Type      string    `json:"type"`
	Task      string    `json:"task"`
	Path      string    `json:"path,omitempty"`
	Dest      string    `json:"dest,omitempty"`
	Message   string    `json:"message,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Current   int64     `json:"current,omitempty"`
	Total     int64     `json:"total,omitempty"`
	Percent   int       `json:"percent,omitempty"`
	ETA       float64   `json:"eta_seconds,omitempty"`
	Elapsed   float64   `json:"elapsed_seconds,omitempty"`
	Rate      float64   `json:"rate,omitempty"`
}

func newMessage(ev event.Event) Message {
	m := Message{
		Timestamp: ev.Timestamp,
		Type:      ev.Type.String(),
		Task:      ev.Task,
		Path:      ev.Path,
		Dest:      ev.Dest,
		Message:   ev.Message,
		Reason:    ev.Reason,
		Current:   ev.Current,
		Total:     ev.Total,
		Percent:   ev.Percent,
		ETA:       ev.ETA.Seconds(),
		Elapsed:   ev.Elapsed.Seconds(),
		Rate:      ev.Rate,
	}
	if ev.Summary != nil {
		m.Summary = newSummary(*ev.Summary)
	}
	return m
}

// stream launches name and relays its events to a websocket. Launch errors
// are answered before the upgrade so clients see a plain HTTP status.
func (s *Server) stream(ctx context.Context, c *gin.Context, name string) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "websocket upgrade required, or pass alive=0"})
		return
	}

	events := make(chan event.Event, streamBuffer)
	err := s.rt.Run(ctx, name, func(ev event.Event) {
		events <- ev
		if ev.Type.Terminal() {
			close(events)
		}
	})
	if err != nil {
		abort(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed, run continues unobserved", "task", name, "error", err)
		go drain(events)
		return
	}
	defer conn.Close() //nolint:errcheck // connection teardown

	go discardReads(conn)

	for ev := range events {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck // surfaced by WriteJSON
		if err := conn.WriteJSON(newMessage(ev)); err != nil {
			s.logger.Debug("websocket client gone, run continues unobserved", "task", name, "error", err)
			drain(events)
			return
		}
	}
	conn.WriteControl( //nolint:errcheck // best-effort close handshake
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
		time.Now().Add(writeTimeout),
	)
}

// discardReads services control frames until the client goes away.
func discardReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func drain(events <-chan event.Event) {
	for range events { //nolint:revive // drain
	}
}
