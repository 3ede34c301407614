// Package queue holds the lane queue core: ticket allocation, staff actions
// and the per-day status snapshot pushed to observers.
package queue

import (
	"context"
	"log"
	"time"

	"qms/lane-service/internal/models"
	"qms/lane-service/internal/store"
	"qms/lane-service/internal/telemetry"

	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMinutesPerPerson = 5
	defaultRecentWindow     = 30 * time.Second
	recentOperationsLimit   = 50
)

// Broadcaster receives every change event. Implementations must not block.
type Broadcaster interface {
	Broadcast(event models.Event)
}

// Resetter is consulted before lane reads so a new service day starts with
// zeroed pointers.
type Resetter interface {
	MaybeReset(ctx context.Context) (bool, error)
}

type Options struct {
	MinutesPerPerson int
	RecentWindow     time.Duration
	Resetter         Resetter
	Clock            func() time.Time
}

type Engine struct {
	store            store.Store
	broadcaster      Broadcaster
	resetter         Resetter
	now              func() time.Time
	minutesPerPerson int
	recentWindow     time.Duration
	tracer           trace.Tracer
}

func NewEngine(st store.Store, broadcaster Broadcaster, options Options) *Engine {
	minutes := options.MinutesPerPerson
	if minutes <= 0 {
		minutes = defaultMinutesPerPerson
	}
	window := options.RecentWindow
	if window <= 0 {
		window = defaultRecentWindow
	}
	clock := options.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		store:            st,
		broadcaster:      broadcaster,
		resetter:         options.Resetter,
		now:              clock,
		minutesPerPerson: minutes,
		recentWindow:     window,
		tracer:           telemetry.Tracer(),
	}
}

func (e *Engine) maybeReset(ctx context.Context) {
	if e.resetter == nil {
		return
	}
	if _, err := e.resetter.MaybeReset(ctx); err != nil {
		log.Printf("daily reset check failed: %v", err)
	}
}

func (e *Engine) publish(event models.Event) {
	if e.broadcaster == nil {
		return
	}
	e.broadcaster.Broadcast(event)
}

// PublishSnapshot pushes a lanes_update built from the current store state.
// Failures are logged; observers simply miss this snapshot.
func (e *Engine) PublishSnapshot(ctx context.Context) {
	if e.broadcaster == nil {
		return
	}
	lanes, err := e.status(ctx)
	if err != nil {
		log.Printf("snapshot broadcast skipped: %v", err)
		return
	}
	e.publish(models.LanesUpdateEvent(lanes, e.now()))
}
