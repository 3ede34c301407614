package models

import (
	"fmt"
	"strings"
	"time"
)

type QueueOperation struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	LaneID    string    `json:"lane_id"`
	Action    Action    `json:"action"`
	Number    int       `json:"number"`
	CreatedAt time.Time `json:"created_at"`
}

// RecentOperation is a log entry joined with the lane it targeted, as
// consumed by display clients that play recall and alert sounds.
type RecentOperation struct {
	QueueOperation
	LaneName          string `json:"lane_name"`
	LaneCurrentNumber int    `json:"lane_current_number"`
}

type Action int

const (
	ActionAdvance Action = iota + 1
	ActionRecall
	ActionAlert
	ActionServe
)

var Actions = []Action{ActionAdvance, ActionRecall, ActionAlert, ActionServe}

func (a Action) String() string {
	switch a {
	case ActionAdvance:
		return "ADVANCE"
	case ActionRecall:
		return "RECALL"
	case ActionAlert:
		return "ALERT"
	case ActionServe:
		return "SERVE"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// ParseAction accepts the canonical names and the labels used on staff
// consoles (NEXT, CALL, BUZZ).
func ParseAction(value string) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "ADVANCE", "NEXT":
		return ActionAdvance, nil
	case "RECALL", "CALL":
		return ActionRecall, nil
	case "ALERT", "BUZZ":
		return ActionAlert, nil
	case "SERVE":
		return ActionServe, nil
	}
	return 0, fmt.Errorf("unknown action %q", value)
}

func (a Action) MarshalText() ([]byte, error) {
	switch a {
	case ActionAdvance, ActionRecall, ActionAlert, ActionServe:
		return []byte(a.String()), nil
	}
	return nil, fmt.Errorf("invalid action %d", int(a))
}

func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
