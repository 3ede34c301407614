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

// conflictAttempts bounds how often a staff action is re-run after losing an
// optimistic version check.
const conflictAttempts = 2

type OperationInput struct {
	Action  models.Action
	LaneID  string
	ActorID string
}

// Operate applies a staff action to a lane. Authorization is checked before
// anything is written; a rejected actor leaves no operation record.
func (e *Engine) Operate(ctx context.Context, input OperationInput) (result models.OperationResult, err error) {
	ctx, span := e.tracer.Start(ctx, "queue.Operate")
	span.SetAttributes(
		attribute.String("lane.id", input.LaneID),
		attribute.String("actor.id", input.ActorID),
		attribute.String("queue.action", input.Action.String()),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !validAction(input.Action) {
		return models.OperationResult{}, store.ErrInvalidAction
	}

	lane, err := e.store.GetLane(ctx, input.LaneID)
	if err != nil {
		return models.OperationResult{}, err
	}
	if err := e.authorize(ctx, input.ActorID, lane.LaneID); err != nil {
		return models.OperationResult{}, err
	}

	e.maybeReset(ctx)

	for attempt := 1; attempt <= conflictAttempts; attempt++ {
		err = e.store.InTx(ctx, func(tx store.Tx) error {
			var txErr error
			result, txErr = e.apply(ctx, tx, input)
			return txErr
		})
		if !errors.Is(err, store.ErrConflict) {
			break
		}
		log.Printf("queue operation conflict lane_id=%s action=%s attempt=%d", input.LaneID, input.Action, attempt)
	}
	if err != nil {
		return models.OperationResult{}, err
	}

	log.Printf("queue operation lane_id=%s action=%s actor_id=%s", lane.LaneID, input.Action, input.ActorID)
	now := e.now()
	e.publish(models.OperationEvent(result, now))
	e.PublishSnapshot(ctx)
	return result, nil
}

func (e *Engine) authorize(ctx context.Context, actorID, laneID string) error {
	actor, err := e.store.GetActor(ctx, actorID)
	if err != nil {
		return err
	}
	if !actor.IsActive {
		return store.ErrForbidden
	}
	if actor.Role == models.RoleAdmin {
		return nil
	}
	if actor.Role != models.RoleStaff {
		return store.ErrForbidden
	}
	assigned, err := e.store.HasAssignment(ctx, actor.ActorID, laneID)
	if err != nil {
		return fmt.Errorf("assignment lookup: %w", err)
	}
	if !assigned {
		return store.ErrForbidden
	}
	return nil
}

func (e *Engine) apply(ctx context.Context, tx store.Tx, input OperationInput) (models.OperationResult, error) {
	lane, err := tx.GetLane(ctx, input.LaneID)
	if err != nil {
		return models.OperationResult{}, err
	}

	now := e.now().UTC()
	serviceDay := models.ServiceDayFor(now)
	result := models.OperationResult{Action: input.Action, LaneID: lane.LaneID}

	var number int
	switch input.Action {
	case models.ActionAdvance:
		lane.CurrentNumber = models.NextTicketNumber(lane.CurrentNumber)
		number = lane.CurrentNumber
		result.CurrentNumber = &number
	case models.ActionRecall, models.ActionAlert:
		if lane.CurrentNumber <= 0 {
			return models.OperationResult{}, store.ErrInvalidState
		}
		number = lane.CurrentNumber
		result.CurrentNumber = &number
	case models.ActionServe:
		if lane.CurrentNumber <= 0 {
			return models.OperationResult{}, store.ErrInvalidState
		}
		lane.LastServedNumber = lane.CurrentNumber
		number = lane.CurrentNumber
		result.ServedNumber = &number
	default:
		return models.OperationResult{}, store.ErrInvalidAction
	}

	if movesPointers(input.Action) {
		if err := tx.UpdateLanePointers(ctx, lane); err != nil {
			return models.OperationResult{}, err
		}
	}

	if target, ok := store.TargetStatus(input.Action); ok {
		item, found, err := tx.FindQueueItem(ctx, lane.LaneID, serviceDay, number)
		if err != nil {
			return models.OperationResult{}, fmt.Errorf("find ticket: %w", err)
		}
		if found && store.ValidTransition(input.Action, item.Status) {
			if err := tx.MarkQueueItem(ctx, item.ID, target, now); err != nil {
				return models.OperationResult{}, fmt.Errorf("mark ticket: %w", err)
			}
		}
	}

	if _, err := tx.AppendOperation(ctx, models.QueueOperation{
		ActorID:   input.ActorID,
		LaneID:    lane.LaneID,
		Action:    input.Action,
		Number:    number,
		CreatedAt: now,
	}); err != nil {
		return models.OperationResult{}, fmt.Errorf("append operation: %w", err)
	}
	return result, nil
}

func validAction(action models.Action) bool {
	switch action {
	case models.ActionAdvance, models.ActionRecall, models.ActionAlert, models.ActionServe:
		return true
	}
	return false
}

func movesPointers(action models.Action) bool {
	switch action {
	case models.ActionAdvance, models.ActionServe:
		return true
	case models.ActionRecall, models.ActionAlert:
		return false
	}
	return false
}
