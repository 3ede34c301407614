package models

import (
	"encoding/json"
	"time"
)

const (
	EventConnected   = "connected"
	EventLanesUpdate = "lanes_update"
	EventOperation   = "operation"
)

// Event is the envelope pushed to observers. Type selects which of the
// remaining fields are populated.
type Event struct {
	Type      string           `json:"type"`
	Lanes     []LaneStatus     `json:"lanes,omitempty"`
	Action    Action           `json:"action,omitempty"`
	LaneID    string           `json:"lane_id,omitempty"`
	Result    *OperationResult `json:"result,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

type OperationResult struct {
	Action        Action `json:"action"`
	LaneID        string `json:"lane_id"`
	CurrentNumber *int   `json:"current_number,omitempty"`
	ServedNumber  *int   `json:"served_number,omitempty"`
}

func ConnectedEvent(now time.Time) Event {
	return Event{Type: EventConnected, Timestamp: now.UTC()}
}

func LanesUpdateEvent(lanes []LaneStatus, now time.Time) Event {
	if lanes == nil {
		lanes = []LaneStatus{}
	}
	return Event{Type: EventLanesUpdate, Lanes: lanes, Timestamp: now.UTC()}
}

func OperationEvent(result OperationResult, now time.Time) Event {
	return Event{
		Type:      EventOperation,
		Action:    result.Action,
		LaneID:    result.LaneID,
		Result:    &result,
		Timestamp: now.UTC(),
	}
}

// MarshalJSON keeps an empty lanes array on lanes_update envelopes so display
// clients can always index it.
func (e Event) MarshalJSON() ([]byte, error) {
	type envelope Event
	if e.Type != EventLanesUpdate {
		return json.Marshal(envelope(e))
	}
	lanes := e.Lanes
	if lanes == nil {
		lanes = []LaneStatus{}
	}
	return json.Marshal(struct {
		envelope
		Lanes []LaneStatus `json:"lanes"`
	}{envelope: envelope(e), Lanes: lanes})
}
