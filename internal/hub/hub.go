package hub

import (
	"encoding/json"
	"expvar"
	"log"
	"sync"
	"sync/atomic"

	"qms/lane-service/internal/models"
)

var (
	connectionsGauge = expvar.NewInt("realtime_connections")
	droppedTotal     = expvar.NewInt("realtime_clients_dropped_total")
	broadcastsTotal  = expvar.NewInt("realtime_broadcasts_total")
)

// Subscription narrows which operation events a client receives. Snapshots
// always go to everyone.
type Subscription struct {
	LaneID string
}

// Client is one observer channel. A single writer drains Send in order and
// calls MarkDead when a write to the peer fails.
type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription

	dead      atomic.Bool
	closeOnce sync.Once
	// snapshotQueued is set under Hub.mu once a lanes_update reached Send.
	snapshotQueued bool
}

func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 16
	}
	return &Client{ID: id, Send: make(chan []byte, buffer)}
}

func (c *Client) MarkDead() {
	c.dead.Store(true)
}

func (c *Client) Dead() bool {
	return c.dead.Load()
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

type SubscribeMessage struct {
	Action string `json:"action"`
	LaneID string `json:"lane_id"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// Register adds the client and queues initial events ahead of any broadcast
// that follows. A snapshot fetched after Register must go through
// SendSnapshot so it cannot land behind a newer broadcast one.
func (h *Hub) Register(client *Client, initial ...models.Event) {
	type queued struct {
		payload  []byte
		snapshot bool
	}
	payloads := make([]queued, 0, len(initial))
	for _, event := range initial {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("encode event type=%s: %v", event.Type, err)
			continue
		}
		payloads = append(payloads, queued{payload: payload, snapshot: event.Type == models.EventLanesUpdate})
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		client.close()
		return
	}
	h.clients[client.ID] = client
	connectionsGauge.Add(1)
	for _, q := range payloads {
		select {
		case client.Send <- q.payload:
			if q.snapshot {
				client.snapshotQueued = true
			}
		default:
		}
	}
}

// Unregister removes the client and closes its Send channel. It is safe to
// call after the hub already dropped the client.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
	client.close()
}

func (h *Hub) removeLocked(client *Client) {
	if current, ok := h.clients[client.ID]; ok && current == client {
		delete(h.clients, client.ID)
		connectionsGauge.Add(-1)
	}
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

// SendSnapshot queues a lanes_update for one client unless a snapshot already
// reached it since Register, in which case the queued one is at least as
// fresh and this call reports false.
func (h *Hub) SendSnapshot(client *Client, event models.Event) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("encode event type=%s: %v", event.Type, err)
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok || client.Dead() || client.snapshotQueued {
		return false
	}
	select {
	case client.Send <- payload:
		client.snapshotQueued = true
		return true
	default:
		return false
	}
}

// Broadcast encodes event once and queues it for every matching client. It
// never blocks: clients that are dead or whose queue is full are dropped and
// closed, and their writers finish on their own.
func (h *Hub) Broadcast(event models.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("encode event type=%s: %v", event.Type, err)
		return
	}
	broadcastsTotal.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range h.clients {
		if client.Dead() {
			h.dropLocked(client, "write failed")
			continue
		}
		if !match(client.Subscription, event) {
			continue
		}
		select {
		case client.Send <- payload:
			if event.Type == models.EventLanesUpdate {
				client.snapshotQueued = true
			}
		default:
			h.dropLocked(client, "send queue full")
		}
	}
}

func (h *Hub) dropLocked(client *Client, reason string) {
	h.removeLocked(client)
	client.close()
	droppedTotal.Add(1)
	log.Printf("drop realtime client id=%s reason=%q", client.ID, reason)
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close drops every client. Later registrations are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, client := range h.clients {
		h.removeLocked(client)
		client.close()
	}
}

func match(sub Subscription, event models.Event) bool {
	if event.Type != models.EventOperation || sub.LaneID == "" {
		return true
	}
	return event.LaneID == sub.LaneID
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
