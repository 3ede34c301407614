package store

import (
	"context"
	"time"

	"qms/lane-service/internal/models"
)

type CreateLaneInput struct {
	Name        string
	Description string
	Type        string
	IsActive    bool
}

// UpdateLaneInput carries optional fields; nil leaves the column untouched.
type UpdateLaneInput struct {
	LaneID      string
	Name        *string
	Description *string
	Type        *string
	IsActive    *bool
}

type CreateActorInput struct {
	Username string
	Name     string
	Role     string
}

type UpdateActorInput struct {
	ActorID  string
	Name     *string
	Role     *string
	IsActive *bool
}

// LaneDayStats summarises one lane's tickets for a service day.
type LaneDayStats struct {
	WaitingCount int
	CalledCount  int
	MaxNumber    int
}

type LaneStore interface {
	GetLane(ctx context.Context, laneID string) (models.Lane, error)
	ListLanes(ctx context.Context, activeOnly bool) ([]models.Lane, error)
	CreateLane(ctx context.Context, input CreateLaneInput) (models.Lane, error)
	UpdateLane(ctx context.Context, input UpdateLaneInput) (models.Lane, error)
	SetActive(ctx context.Context, laneID string, active bool) error
	SetCurrentNumber(ctx context.Context, laneID string, number int) error
	SetLastServed(ctx context.Context, laneID string, number int) error
	ResetCurrentNumbers(ctx context.Context) (int64, error)
}

type TicketStore interface {
	MaxTicketNumber(ctx context.Context, laneID, serviceDay string) (int, error)
	InsertQueueItem(ctx context.Context, item models.QueueItem) (models.QueueItem, error)
	CountWaitingBefore(ctx context.Context, laneID, serviceDay string, number int) (int, error)
	LaneDayStats(ctx context.Context, serviceDay string) (map[string]LaneDayStats, error)
	ListQueueItems(ctx context.Context, laneID, serviceDay string, statuses ...string) ([]models.QueueItem, error)
}

type OperationStore interface {
	ListOperations(ctx context.Context, since time.Time, limit int) ([]models.RecentOperation, error)
}

type SettingStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	UpsertSetting(ctx context.Context, key, value string) error
}

type ActorStore interface {
	GetActor(ctx context.Context, actorID string) (models.Actor, error)
	CreateActor(ctx context.Context, input CreateActorInput) (models.Actor, error)
	UpdateActor(ctx context.Context, input UpdateActorInput) (models.Actor, error)
	HasAssignment(ctx context.Context, actorID, laneID string) (bool, error)
	AssignLane(ctx context.Context, actorID, laneID string) (models.Assignment, error)
	UnassignLane(ctx context.Context, actorID, laneID string) error
	ListAssignedLanes(ctx context.Context, actorID string) ([]models.Lane, error)
}

// Tx is the unit of work used by staff actions. Everything done through a Tx
// commits or rolls back together.
type Tx interface {
	GetLane(ctx context.Context, laneID string) (models.Lane, error)
	// UpdateLanePointers writes CurrentNumber and LastServedNumber when the
	// stored version still equals lane.Version, and returns ErrConflict
	// otherwise.
	UpdateLanePointers(ctx context.Context, lane models.Lane) error
	FindQueueItem(ctx context.Context, laneID, serviceDay string, number int) (models.QueueItem, bool, error)
	MarkQueueItem(ctx context.Context, itemID, status string, at time.Time) error
	AppendOperation(ctx context.Context, op models.QueueOperation) (models.QueueOperation, error)
}

type Store interface {
	LaneStore
	TicketStore
	OperationStore
	SettingStore
	ActorStore
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
