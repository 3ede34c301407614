package models

import "time"

type Lane struct {
	LaneID           string    `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Type             string    `json:"type"`
	IsActive         bool      `json:"is_active"`
	CurrentNumber    int       `json:"current_number"`
	LastServedNumber int       `json:"last_served_number"`
	Version          int64     `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

const (
	LaneTypeRegular  = "REGULAR"
	LaneTypePriority = "PRIORITY"
)

func ValidLaneType(value string) bool {
	return value == LaneTypeRegular || value == LaneTypePriority
}

// LaneStatus is the per-lane row served by the status query and pushed to
// display clients. Counts cover the current service day only.
type LaneStatus struct {
	LaneID           string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	Type             string `json:"type"`
	CurrentNumber    int    `json:"current_number"`
	LastServedNumber int    `json:"last_served_number"`
	WaitingCount     int    `json:"waiting_count"`
	CalledCount      int    `json:"called_count"`
	NextNumber       int    `json:"next_number"`
}
