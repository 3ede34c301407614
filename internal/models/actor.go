package models

import "time"

type Actor struct {
	ActorID   string    `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	RoleAdmin       = "ADMIN"
	RoleStaff       = "STAFF"
	RoleDisplay     = "DISPLAY"
	RoleReservation = "RESERVATION"
)

func ValidRole(value string) bool {
	switch value {
	case RoleAdmin, RoleStaff, RoleDisplay, RoleReservation:
		return true
	}
	return false
}

type Assignment struct {
	ActorID   string    `json:"actor_id"`
	LaneID    string    `json:"lane_id"`
	LaneType  string    `json:"lane_type"`
	CreatedAt time.Time `json:"created_at"`
}

const SettingLastLaneReset = "lastLaneReset"
