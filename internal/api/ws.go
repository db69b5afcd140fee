package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/neosu-project/neosu/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsBacklog    = 256
)

// handleEvents upgrades to a websocket and streams every bus event as
// JSON. ?types=a,b limits the stream to those event types. Events are
// dropped for a client that cannot keep up.
func (s *Server) handleEvents(c *gin.Context) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	var filter map[events.EventType]bool
	if raw := c.Query("types"); raw != "" {
		filter = make(map[events.EventType]bool)
		for _, t := range strings.Split(raw, ",") {
			filter[events.EventType(strings.TrimSpace(t))] = true
		}
	}

	out := make(chan events.Event, wsBacklog)
	name := "ws-" + uuid.NewString()
	s.bus.Subscribe(events.EventAny, name, func(_ context.Context, e events.Event) error {
		if filter != nil && !filter[e.Type] {
			return nil
		}
		select {
		case out <- e:
		default:
		}
		return nil
	})
	defer s.bus.Unsubscribe(events.EventAny, name)

	log.Debug().Str("client", name).Str("remote", c.ClientIP()).Msg("event stream opened")

	// the reader only services control frames and notices the close
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			log.Debug().Str("client", name).Msg("event stream closed")
			return
		case <-s.bus.StopCh():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(wsWriteWait))
			return
		case e := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// checkOrigin accepts same-host requests, tools that send no Origin and the
// configured CORS origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := s.cfg.GetApplicationData().API.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return strings.HasSuffix(origin, "://"+r.Host)
}
