package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"kiln_control/internal/service"
	"kiln_control/internal/supervisor"
	"kiln_control/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12

	defaultInterval = time.Second
	maxInterval     = 10 * time.Second

	wsEventQueue = 32
)

// wsEnvelope frames every message pushed to /ws clients: "state" carries a
// models.KilnState and "event" a models.KilnEvent.
type wsEnvelope struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Dashboards are served from other hosts than the controller.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// kilnStream pushes kiln snapshots and loop events to one client.
type kilnStream struct {
	h    *Handler
	conn *websocket.Conn
}

func (s *kilnStream) write(env wsEnvelope) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(env)
}

func (s *kilnStream) ping() error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

func (s *kilnStream) state(ctx context.Context) error {
	st, err := s.h.services.Monitoring.GetState(ctx)
	if err != nil {
		if s.h.log != nil {
			s.h.log.Errorw("ws_get_state_failed", "err", err)
		}
		return err
	}
	return s.write(wsEnvelope{Type: "state", Data: st})
}

// drain reads until the peer goes away; gorilla only runs the pong handler
// while a read is in progress.
func (s *kilnStream) drain(closed chan<- struct{}) {
	defer close(closed)
	s.conn.SetReadLimit(maxMsgSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if s.h.log != nil {
				s.h.log.Infow("ws_read_closed", "err", err)
			}
			return
		}
	}
}

// eventStream subscribes to loop events unless there is no bus or the client
// passed ?events=0.
func (h *Handler) eventStream(c *gin.Context) (<-chan telemetry.Event, func()) {
	if h.bus == nil || c.Query("events") == "0" {
		return nil, func() {}
	}
	return h.bus.SubscribeQueue(c.Request.Context(), telemetry.TopicEvent, wsEventQueue)
}

// @Summary      Live kiln stream
// @Description  WebSocket. Sends {"type":"state"} every interval and {"type":"event"} as loop events happen.
// @Tags         kiln
// @Param        interval     query  string  false  "state period, e.g. 2s (max 10s)"
// @Param        interval_ms  query  int     false  "state period in milliseconds"
// @Param        events       query  string  false  "0 disables event messages"
// @Router       /ws [get]
func (h *Handler) wsConnect(c *gin.Context) {
	interval := h.parseInterval(c)
	ctx := c.Request.Context()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_upgrade_failed", "err", err)
		}
		return
	}
	defer func() { _ = conn.Close() }()
	s := &kilnStream{h: h, conn: conn}

	closed := make(chan struct{})
	go s.drain(closed)

	// subscribe before the first state so no event falls in between
	events, unsubscribe := h.eventStream(c)
	defer unsubscribe()

	if err := s.state(ctx); err != nil {
		return
	}

	states := time.NewTicker(interval)
	defer states.Stop()
	pings := time.NewTicker(pingPeriod)
	defer pings.Stop()

	for {
		var err error
		select {
		case <-closed:
			return
		case <-ctx.Done():
			return
		case <-pings.C:
			err = s.ping()
		case <-states.C:
			err = s.state(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if e, isEvent := ev.(supervisor.Event); isEvent {
				err = s.write(wsEnvelope{Type: "event", Data: service.EventModel(e)})
			}
		}
		if err != nil {
			if h.log != nil {
				h.log.Infow("ws_write_failed", "err", err)
			}
			return
		}
	}
}

// parseInterval reads ?interval=2s, falling back to ?interval_ms=2000.
// Values outside (0, maxInterval] are ignored.
func (h *Handler) parseInterval(c *gin.Context) time.Duration {
	valid := func(d time.Duration) bool { return d > 0 && d <= maxInterval }

	if d, err := time.ParseDuration(c.Query("interval")); err == nil && valid(d) {
		return d
	}
	if ms, err := strconv.Atoi(c.Query("interval_ms")); err == nil {
		if d := time.Duration(ms) * time.Millisecond; valid(d) {
			return d
		}
	}
	return defaultInterval
}
