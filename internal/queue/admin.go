package queue

import (
	"context"
	"fmt"
	"log"
	"strings"

	"qms/lane-service/internal/models"
	"qms/lane-service/internal/store"
)

type CreateLaneInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	IsActive    *bool  `json:"is_active"`
}

type UpdateLaneInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Type        *string `json:"type"`
	IsActive    *bool   `json:"is_active"`
}

type UpdateActorInput struct {
	Name     *string `json:"name"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"is_active"`
}

// ValidationError reports unusable administrative input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func (e *Engine) ListLanes(ctx context.Context, activeOnly bool) ([]models.Lane, error) {
	lanes, err := e.store.ListLanes(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	if lanes == nil {
		lanes = []models.Lane{}
	}
	return lanes, nil
}

func (e *Engine) CreateLane(ctx context.Context, input CreateLaneInput) (models.Lane, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return models.Lane{}, &ValidationError{Field: "name", Message: "is required"}
	}
	laneType := strings.ToUpper(strings.TrimSpace(input.Type))
	if laneType == "" {
		laneType = models.LaneTypeRegular
	}
	if !models.ValidLaneType(laneType) {
		return models.Lane{}, &ValidationError{Field: "type", Message: "must be REGULAR or PRIORITY"}
	}
	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}

	lane, err := e.store.CreateLane(ctx, store.CreateLaneInput{
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Type:        laneType,
		IsActive:    active,
	})
	if err != nil {
		return models.Lane{}, err
	}
	log.Printf("lane created lane_id=%s name=%q type=%s", lane.LaneID, lane.Name, lane.Type)
	e.PublishSnapshot(ctx)
	return lane, nil
}

func (e *Engine) UpdateLane(ctx context.Context, laneID string, input UpdateLaneInput) (models.Lane, error) {
	update := store.UpdateLaneInput{LaneID: laneID, Description: input.Description, IsActive: input.IsActive}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return models.Lane{}, &ValidationError{Field: "name", Message: "must not be empty"}
		}
		update.Name = &name
	}
	if input.Type != nil {
		laneType := strings.ToUpper(strings.TrimSpace(*input.Type))
		if !models.ValidLaneType(laneType) {
			return models.Lane{}, &ValidationError{Field: "type", Message: "must be REGULAR or PRIORITY"}
		}
		update.Type = &laneType
	}

	var lane models.Lane
	var err error
	if update.IsActive != nil && update.Name == nil && update.Description == nil && update.Type == nil {
		lane, err = e.setActive(ctx, laneID, *update.IsActive)
	} else {
		lane, err = e.store.UpdateLane(ctx, update)
	}
	if err != nil {
		return models.Lane{}, err
	}
	log.Printf("lane updated lane_id=%s active=%t", lane.LaneID, lane.IsActive)
	e.PublishSnapshot(ctx)
	return lane, nil
}

// setActive opens or closes a lane without touching its other fields.
func (e *Engine) setActive(ctx context.Context, laneID string, active bool) (models.Lane, error) {
	if err := e.store.SetActive(ctx, laneID, active); err != nil {
		return models.Lane{}, err
	}
	return e.store.GetLane(ctx, laneID)
}

func (e *Engine) AssignLane(ctx context.Context, actorID, laneID string) (models.Assignment, error) {
	assignment, err := e.store.AssignLane(ctx, actorID, laneID)
	if err != nil {
		return models.Assignment{}, err
	}
	log.Printf("lane assigned lane_id=%s actor_id=%s", laneID, actorID)
	return assignment, nil
}

func (e *Engine) UnassignLane(ctx context.Context, actorID, laneID string) error {
	if err := e.store.UnassignLane(ctx, actorID, laneID); err != nil {
		return err
	}
	log.Printf("lane unassigned lane_id=%s actor_id=%s", laneID, actorID)
	return nil
}

func (e *Engine) AssignedLanes(ctx context.Context, actorID string) ([]models.Lane, error) {
	lanes, err := e.store.ListAssignedLanes(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if lanes == nil {
		lanes = []models.Lane{}
	}
	return lanes, nil
}

// Actor resolves an authenticated actor id.
func (e *Engine) Actor(ctx context.Context, actorID string) (models.Actor, error) {
	return e.store.GetActor(ctx, actorID)
}

// UpdateActor changes an actor's name, role or active flag. A deactivated
// actor keeps its assignments but is refused by every staff action.
func (e *Engine) UpdateActor(ctx context.Context, actorID string, input UpdateActorInput) (models.Actor, error) {
	update := store.UpdateActorInput{ActorID: actorID, IsActive: input.IsActive}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return models.Actor{}, &ValidationError{Field: "name", Message: "must not be empty"}
		}
		update.Name = &name
	}
	if input.Role != nil {
		role := strings.ToUpper(strings.TrimSpace(*input.Role))
		if !models.ValidRole(role) {
			return models.Actor{}, &ValidationError{Field: "role", Message: "must be ADMIN, STAFF, DISPLAY or RESERVATION"}
		}
		update.Role = &role
	}

	actor, err := e.store.UpdateActor(ctx, update)
	if err != nil {
		return models.Actor{}, err
	}
	log.Printf("actor updated actor_id=%s role=%s active=%t", actor.ActorID, actor.Role, actor.IsActive)
	return actor, nil
}
