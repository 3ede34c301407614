package queue

import (
	"context"
	"errors"
	"fmt"
	"log"

	"qms/lane-service/internal/models"
	"qms/lane-service/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Allocation struct {
	Number        int    `json:"number"`
	ServiceDay    string `json:"service_day"`
	LaneID        string `json:"lane_id"`
	LaneName      string `json:"lane_name"`
	CurrentNumber int    `json:"current_number"`
	WaitingCount  int    `json:"waiting_count"`
	EstimatedWait int    `json:"estimated_wait"`
}

// Allocate mints the next ticket for laneID on the current service day.
//
// The candidate is the day's highest number plus one, wrapping after 999.
// Losing an insert race to another allocator moves on to the following
// candidate; after every number has been tried the lane is exhausted for the
// day. A failed call never leaves a ticket behind.
func (e *Engine) Allocate(ctx context.Context, laneID string) (allocation Allocation, err error) {
	ctx, span := e.tracer.Start(ctx, "queue.Allocate")
	span.SetAttributes(attribute.String("lane.id", laneID))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	e.maybeReset(ctx)

	lane, err := e.store.GetLane(ctx, laneID)
	if err != nil {
		return Allocation{}, err
	}
	if !lane.IsActive {
		return Allocation{}, store.ErrLaneInactive
	}

	serviceDay := models.ServiceDayFor(e.now())
	highest, err := e.store.MaxTicketNumber(ctx, lane.LaneID, serviceDay)
	if err != nil {
		return Allocation{}, fmt.Errorf("highest ticket: %w", err)
	}

	item, attempts, err := e.insertNext(ctx, lane.LaneID, serviceDay, models.NextTicketNumber(highest))
	if err != nil {
		return Allocation{}, err
	}
	span.SetAttributes(attribute.Int("ticket.number", item.Number), attribute.Int("allocate.attempts", attempts))

	waiting, err := e.store.CountWaitingBefore(ctx, lane.LaneID, serviceDay, item.Number)
	if err != nil {
		return Allocation{}, fmt.Errorf("waiting count: %w", err)
	}

	log.Printf("ticket allocated lane_id=%s number=%d service_day=%s attempts=%d", lane.LaneID, item.Number, serviceDay, attempts)
	e.PublishSnapshot(ctx)

	return Allocation{
		Number:        item.Number,
		ServiceDay:    serviceDay,
		LaneID:        lane.LaneID,
		LaneName:      lane.Name,
		CurrentNumber: lane.CurrentNumber,
		WaitingCount:  waiting,
		EstimatedWait: waiting * e.minutesPerPerson,
	}, nil
}

func (e *Engine) insertNext(ctx context.Context, laneID, serviceDay string, candidate int) (models.QueueItem, int, error) {
	for attempt := 1; attempt <= models.MaxTicketNumber; attempt++ {
		item, err := e.store.InsertQueueItem(ctx, models.QueueItem{
			LaneID:     laneID,
			Number:     candidate,
			ServiceDay: serviceDay,
			Status:     models.StatusWaiting,
			CreatedAt:  e.now().UTC(),
		})
		if err == nil {
			return item, attempt, nil
		}
		if !errors.Is(err, store.ErrDuplicateNumber) {
			return models.QueueItem{}, attempt, fmt.Errorf("insert ticket: %w", err)
		}
		candidate = models.NextTicketNumber(candidate)
	}
	return models.QueueItem{}, models.MaxTicketNumber, store.ErrAllocatorExhausted
}
