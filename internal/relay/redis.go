// Package relay shares broadcast events between lane-service instances over
// Redis pub/sub, so observers connected to any instance see every change.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"qms/lane-service/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	outboundBuffer = 256
	publishTimeout = 2 * time.Second
)

// Local is the in-process fan-out that receives every event.
type Local interface {
	Broadcast(event models.Event)
}

type envelope struct {
	Origin string       `json:"origin"`
	Event  models.Event `json:"event"`
}

type Relay struct {
	client  *redis.Client
	channel string
	origin  string
	local   Local
	out     chan []byte
}

// Connect parses a redis:// URL and checks the server is reachable.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func New(client *redis.Client, channel string, local Local) *Relay {
	return &Relay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		local:   local,
		out:     make(chan []byte, outboundBuffer),
	}
}

// Broadcast delivers to local observers and queues the event for the other
// instances. It never waits on Redis.
func (r *Relay) Broadcast(event models.Event) {
	r.local.Broadcast(event)

	payload, err := encode(r.origin, event)
	if err != nil {
		log.Printf("relay encode type=%s: %v", event.Type, err)
		return
	}
	select {
	case r.out <- payload:
	default:
		log.Printf("relay outbound queue full, dropping type=%s", event.Type)
	}
}

// Run publishes queued events and fans remote ones into the local hub until
// ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	log.Printf("relay subscribed channel=%s origin=%s", r.channel, r.origin)

	go r.publishLoop(ctx)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return errors.New("redis subscription closed")
			}
			r.handle([]byte(msg.Payload))
		}
	}
}

func (r *Relay) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-r.out:
			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := r.client.Publish(pubCtx, r.channel, payload).Err()
			cancel()
			if err != nil {
				log.Printf("relay publish error: %v", err)
			}
		}
	}
}

func (r *Relay) handle(payload []byte) {
	origin, event, err := decode(payload)
	if err != nil {
		log.Printf("relay decode error: %v", err)
		return
	}
	if origin == r.origin {
		return
	}
	r.local.Broadcast(event)
}

func encode(origin string, event models.Event) ([]byte, error) {
	return json.Marshal(envelope{Origin: origin, Event: event})
}

func decode(payload []byte) (string, models.Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", models.Event{}, err
	}
	if env.Origin == "" || env.Event.Type == "" {
		return "", models.Event{}, errors.New("relay message missing origin or type")
	}
	return env.Origin, env.Event, nil
}
