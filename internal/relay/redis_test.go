package relay

import (
	"testing"
	"time"

	"qms/lane-service/internal/models"
)

type captureLocal struct {
	events []models.Event
}

func (c *captureLocal) Broadcast(event models.Event) {
	c.events = append(c.events, event)
}

func TestEnvelopeRoundTripKeepsOperationFields(t *testing.T) {
	served := 12
	event := models.OperationEvent(models.OperationResult{Action: models.ActionServe, LaneID: "lane-1", ServedNumber: &served}, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	payload, err := encode("origin-a", event)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	origin, got, err := decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if origin != "origin-a" || got.Type != models.EventOperation || got.Action != models.ActionServe || got.LaneID != "lane-1" {
		t.Fatalf("unexpected decoded event: %s %+v", origin, got)
	}
	if got.Result == nil || got.Result.ServedNumber == nil || *got.Result.ServedNumber != 12 {
		t.Fatalf("result lost in transit: %+v", got.Result)
	}
}

func TestHandleSkipsOwnOrigin(t *testing.T) {
	local := &captureLocal{}
	r := &Relay{origin: "self", local: local, out: make(chan []byte, 1)}

	own, _ := encode("self", models.ConnectedEvent(time.Now()))
	remote, _ := encode("other", models.LanesUpdateEvent([]models.LaneStatus{{LaneID: "l1", Name: "Billing"}}, time.Now()))

	r.handle(own)
	r.handle(remote)
	r.handle([]byte(`{"origin":"other"}`))
	r.handle([]byte(`garbage`))

	if len(local.events) != 1 {
		t.Fatalf("expected one remote event, got %d", len(local.events))
	}
	if local.events[0].Type != models.EventLanesUpdate || len(local.events[0].Lanes) != 1 {
		t.Fatalf("unexpected event: %+v", local.events[0])
	}
}

func TestBroadcastDeliversLocallyAndQueues(t *testing.T) {
	local := &captureLocal{}
	r := &Relay{origin: "self", local: local, out: make(chan []byte, 1)}

	r.Broadcast(models.ConnectedEvent(time.Now()))
	r.Broadcast(models.ConnectedEvent(time.Now()))

	if len(local.events) != 2 {
		t.Fatalf("local delivery must not depend on redis, got %d", len(local.events))
	}
	if len(r.out) != 1 {
		t.Fatalf("expected one queued payload with the second dropped, got %d", len(r.out))
	}
}
