package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"qms/lane-service/internal/hub"
	"qms/lane-service/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/igm/sockjs-go/sockjs"
)

const (
	defaultHeartbeat = 25 * time.Second
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 4096
)

// SnapshotSource provides the lane snapshot sent to a freshly connected
// observer.
type SnapshotSource interface {
	Status(ctx context.Context) ([]models.LaneStatus, error)
}

type RealtimeOptions struct {
	Heartbeat time.Duration
	Buffer    int
	Clock     func() time.Time
}

// Realtime serves observer streams over SSE, WebSocket and SockJS. Every
// transport gets the same sequence: connected, a lanes_update snapshot, then
// whatever the hub broadcasts.
type Realtime struct {
	hub       *hub.Hub
	snapshots SnapshotSource
	heartbeat time.Duration
	buffer    int
	now       func() time.Time
	upgrader  websocket.Upgrader
}

func NewRealtime(h *hub.Hub, snapshots SnapshotSource, options RealtimeOptions) *Realtime {
	if options.Heartbeat <= 0 {
		options.Heartbeat = defaultHeartbeat
	}
	if options.Clock == nil {
		options.Clock = time.Now
	}
	return &Realtime{
		hub:       h,
		snapshots: snapshots,
		heartbeat: options.Heartbeat,
		buffer:    options.Buffer,
		now:       options.Clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (rt *Realtime) connect(client *hub.Client) {
	rt.hub.Register(client, models.ConnectedEvent(rt.now()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	lanes, err := rt.snapshots.Status(ctx)
	if err != nil {
		log.Printf("realtime snapshot client=%s: %v", client.ID, err)
		return
	}
	if !rt.hub.SendSnapshot(client, models.LanesUpdateEvent(lanes, rt.now())) {
		log.Printf("realtime snapshot skipped client=%s", client.ID)
	}
}

func (rt *Realtime) applySubscribe(client *hub.Client, data []byte) {
	msg, ok := hub.ParseSubscribe(data)
	if !ok {
		return
	}
	if msg.Action == "unsubscribe" {
		rt.hub.UpdateSubscription(client, hub.Subscription{})
		return
	}
	rt.hub.UpdateSubscription(client, hub.Subscription{LaneID: strings.TrimSpace(msg.LaneID)})
}

func (rt *Realtime) ServeSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}
	clearWriteDeadline(w, "sse")

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := hub.NewClient(uuid.NewString(), rt.buffer)
	client.Subscription = hub.Subscription{LaneID: strings.TrimSpace(r.URL.Query().Get("lane_id"))}
	rt.connect(client)
	defer rt.hub.Unregister(client)

	ticker := time.NewTicker(rt.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				client.MarkDead()
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				client.MarkDead()
				return
			}
			flusher.Flush()
		}
	}
}

func (rt *Realtime) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}

	client := hub.NewClient(uuid.NewString(), rt.buffer)
	client.Subscription = hub.Subscription{LaneID: strings.TrimSpace(r.URL.Query().Get("lane_id"))}
	rt.connect(client)

	done := make(chan struct{})
	go rt.writeWS(conn, client, done)
	defer func() {
		rt.hub.Unregister(client)
		<-done
	}()

	pongWait := 2 * rt.heartbeat
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		rt.applySubscribe(client, data)
	}
}

func (rt *Realtime) writeWS(conn *websocket.Conn, client *hub.Client, done chan<- struct{}) {
	ticker := time.NewTicker(rt.heartbeat)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		close(done)
	}()
	for {
		select {
		case msg, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				client.MarkDead()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.MarkDead()
				return
			}
		}
	}
}

// SockJSHandler serves the SockJS transport under prefix for browsers that
// cannot hold a raw WebSocket.
// SockJSHandler serves every SockJS transport under prefix. Streaming
// transports hold the response open, so the server write deadline is lifted
// for the whole prefix.
func (rt *Realtime) SockJSHandler(prefix string) http.Handler {
	handler := sockjs.NewHandler(prefix, sockjs.DefaultOptions, func(session sockjs.Session) {
		client := hub.NewClient(uuid.NewString(), rt.buffer)
		rt.connect(client)
		defer rt.hub.Unregister(client)

		go func() {
			for msg := range client.Send {
				if err := session.Send(string(msg)); err != nil {
					client.MarkDead()
					_ = session.Close(3000, "write failed")
					return
				}
			}
			_ = session.Close(3000, "stream closed")
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			rt.applySubscribe(client, []byte(msg))
		}
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clearWriteDeadline(w, "sockjs")
		handler.ServeHTTP(w, r)
	})
}

// clearWriteDeadline lifts the server WriteTimeout for a long-lived response.
func clearWriteDeadline(w http.ResponseWriter, transport string) {
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Printf("%s clear write deadline: %v", transport, err)
	}
}
