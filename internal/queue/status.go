package queue

import (
	"context"
	"fmt"
	"time"

	"qms/lane-service/internal/models"
)

// Status returns every active lane with counts for the current service day.
func (e *Engine) Status(ctx context.Context) ([]models.LaneStatus, error) {
	e.maybeReset(ctx)
	return e.status(ctx)
}

func (e *Engine) status(ctx context.Context) ([]models.LaneStatus, error) {
	lanes, err := e.store.ListLanes(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list lanes: %w", err)
	}
	stats, err := e.store.LaneDayStats(ctx, models.ServiceDayFor(e.now()))
	if err != nil {
		return nil, fmt.Errorf("lane stats: %w", err)
	}

	out := make([]models.LaneStatus, 0, len(lanes))
	for _, lane := range lanes {
		day := stats[lane.LaneID]
		out = append(out, models.LaneStatus{
			LaneID:           lane.LaneID,
			Name:             lane.Name,
			Description:      lane.Description,
			Type:             lane.Type,
			CurrentNumber:    lane.CurrentNumber,
			LastServedNumber: lane.LastServedNumber,
			WaitingCount:     day.WaitingCount,
			CalledCount:      day.CalledCount,
			NextNumber:       models.NextTicketNumber(day.MaxNumber),
		})
	}
	return out, nil
}

// RecentOperations lists log entries newer than since. A zero since means the
// configured recent window.
func (e *Engine) RecentOperations(ctx context.Context, since time.Time) ([]models.RecentOperation, error) {
	if since.IsZero() {
		since = e.now().Add(-e.recentWindow)
	}
	ops, err := e.store.ListOperations(ctx, since.UTC(), recentOperationsLimit)
	if err != nil {
		return nil, err
	}
	if ops == nil {
		ops = []models.RecentOperation{}
	}
	return ops, nil
}
