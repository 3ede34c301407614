package models

import "time"

type QueueItem struct {
	ID         string     `json:"id"`
	LaneID     string     `json:"lane_id"`
	Number     int        `json:"number"`
	ServiceDay string     `json:"service_day"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	CalledAt   *time.Time `json:"called_at,omitempty"`
	ServedAt   *time.Time `json:"served_at,omitempty"`
}

const (
	StatusWaiting = "WAITING"
	StatusCalled  = "CALLED"
	StatusServed  = "SERVED"
)

// MaxTicketNumber is the highest number issued on a lane before numbering
// wraps back to 1.
const MaxTicketNumber = 999

// ServiceDayFor returns the UTC calendar day that partitions ticket numbering.
func ServiceDayFor(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// NextTicketNumber returns the number that follows n, wrapping after
// MaxTicketNumber. Zero means no ticket has been issued yet.
func NextTicketNumber(n int) int {
	if n <= 0 || n >= MaxTicketNumber {
		return 1
	}
	return n + 1
}
