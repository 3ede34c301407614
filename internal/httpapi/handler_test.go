package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"qms/lane-service/internal/models"
	"qms/lane-service/internal/queue"
	"qms/lane-service/internal/store"
)

const (
	testSecret  = "test-secret"
	testAdminID = "8a0d1c3e-52a4-4bb3-9f1f-7c2d4b0b8a01"
	testStaffID = "8a0d1c3e-52a4-4bb3-9f1f-7c2d4b0b8a02"
	testLaneID  = "1f6b3b5e-0c39-4a7e-a3c1-9a64f1a0c001"
)

type fakeService struct {
	actorFn         func(ctx context.Context, actorID string) (models.Actor, error)
	allocateFn      func(ctx context.Context, laneID string) (queue.Allocation, error)
	operateFn       func(ctx context.Context, input queue.OperationInput) (models.OperationResult, error)
	statusFn        func(ctx context.Context) ([]models.LaneStatus, error)
	recentFn        func(ctx context.Context, since time.Time) ([]models.RecentOperation, error)
	listLanesFn     func(ctx context.Context, activeOnly bool) ([]models.Lane, error)
	createLaneFn    func(ctx context.Context, input queue.CreateLaneInput) (models.Lane, error)
	updateLaneFn    func(ctx context.Context, laneID string, input queue.UpdateLaneInput) (models.Lane, error)
	assignFn        func(ctx context.Context, actorID, laneID string) (models.Assignment, error)
	unassignFn      func(ctx context.Context, actorID, laneID string) error
	assignedLanesFn func(ctx context.Context, actorID string) ([]models.Lane, error)
	updateActorFn   func(ctx context.Context, actorID string, input queue.UpdateActorInput) (models.Actor, error)
}

func (f fakeService) Actor(ctx context.Context, actorID string) (models.Actor, error) {
	if f.actorFn == nil {
		switch actorID {
		case testAdminID:
			return models.Actor{ActorID: actorID, Role: models.RoleAdmin, IsActive: true}, nil
		case testStaffID:
			return models.Actor{ActorID: actorID, Role: models.RoleStaff, IsActive: true}, nil
		}
		return models.Actor{}, store.ErrActorNotFound
	}
	return f.actorFn(ctx, actorID)
}

func (f fakeService) Allocate(ctx context.Context, laneID string) (queue.Allocation, error) {
	if f.allocateFn == nil {
		return queue.Allocation{}, nil
	}
	return f.allocateFn(ctx, laneID)
}

func (f fakeService) Operate(ctx context.Context, input queue.OperationInput) (models.OperationResult, error) {
	if f.operateFn == nil {
		return models.OperationResult{}, nil
	}
	return f.operateFn(ctx, input)
}

func (f fakeService) Status(ctx context.Context) ([]models.LaneStatus, error) {
	if f.statusFn == nil {
		return nil, nil
	}
	return f.statusFn(ctx)
}

func (f fakeService) RecentOperations(ctx context.Context, since time.Time) ([]models.RecentOperation, error) {
	if f.recentFn == nil {
		return []models.RecentOperation{}, nil
	}
	return f.recentFn(ctx, since)
}

func (f fakeService) ListLanes(ctx context.Context, activeOnly bool) ([]models.Lane, error) {
	if f.listLanesFn == nil {
		return []models.Lane{}, nil
	}
	return f.listLanesFn(ctx, activeOnly)
}

func (f fakeService) CreateLane(ctx context.Context, input queue.CreateLaneInput) (models.Lane, error) {
	if f.createLaneFn == nil {
		return models.Lane{}, nil
	}
	return f.createLaneFn(ctx, input)
}

func (f fakeService) UpdateLane(ctx context.Context, laneID string, input queue.UpdateLaneInput) (models.Lane, error) {
	if f.updateLaneFn == nil {
		return models.Lane{}, nil
	}
	return f.updateLaneFn(ctx, laneID, input)
}

func (f fakeService) AssignLane(ctx context.Context, actorID, laneID string) (models.Assignment, error) {
	if f.assignFn == nil {
		return models.Assignment{}, nil
	}
	return f.assignFn(ctx, actorID, laneID)
}

func (f fakeService) UnassignLane(ctx context.Context, actorID, laneID string) error {
	if f.unassignFn == nil {
		return nil
	}
	return f.unassignFn(ctx, actorID, laneID)
}

func (f fakeService) AssignedLanes(ctx context.Context, actorID string) ([]models.Lane, error) {
	if f.assignedLanesFn == nil {
		return []models.Lane{}, nil
	}
	return f.assignedLanesFn(ctx, actorID)
}

func (f fakeService) UpdateActor(ctx context.Context, actorID string, input queue.UpdateActorInput) (models.Actor, error) {
	if f.updateActorFn == nil {
		return models.Actor{}, nil
	}
	return f.updateActorFn(ctx, actorID, input)
}

func newTestServer(t *testing.T, svc fakeService) http.Handler {
	t.Helper()
	return NewHandler(svc, Options{JWTSecret: testSecret}).Routes()
}

func tokenFor(t *testing.T, actorID string) string {
	t.Helper()
	token, err := IssueToken([]byte(testSecret), actorID, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doRequest(t *testing.T, handler http.Handler, method, path, actorID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-1")
	if actorID != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, actorID))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Error.Code
}

func TestReservationIsPublic(t *testing.T) {
	var gotLane string
	svc := fakeService{
		allocateFn: func(ctx context.Context, laneID string) (queue.Allocation, error) {
			gotLane = laneID
			return queue.Allocation{Number: 12, ServiceDay: "2026-03-01", LaneID: laneID, LaneName: "Billing", WaitingCount: 3, EstimatedWait: 15}, nil
		},
	}
	rec := doRequest(t, newTestServer(t, svc), http.MethodPost, "/api/queue/reservation", "", reservationRequest{LaneID: testLaneID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotLane != testLaneID {
		t.Fatalf("expected lane %s, got %s", testLaneID, gotLane)
	}
	var resp map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["number"].(float64) != 12 || resp["estimated_wait"].(float64) != 15 {
		t.Fatalf("unexpected allocation payload: %v", resp)
	}
}

func TestReservationErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"missing lane", store.ErrLaneNotFound, http.StatusNotFound, "lane_not_found"},
		{"inactive lane", store.ErrLaneInactive, http.StatusConflict, "lane_inactive"},
		{"exhausted", store.ErrAllocatorExhausted, http.StatusConflict, "allocator_exhausted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := fakeService{
				allocateFn: func(ctx context.Context, laneID string) (queue.Allocation, error) {
					return queue.Allocation{}, tt.err
				},
			}
			rec := doRequest(t, newTestServer(t, svc), http.MethodPost, "/api/queue/reservation", "", reservationRequest{LaneID: testLaneID})
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			if code := decodeErrorCode(t, rec); code != tt.code {
				t.Fatalf("expected code %s, got %s", tt.code, code)
			}
		})
	}
}

func TestReservationRejectsUnknownFields(t *testing.T) {
	handler := newTestServer(t, fakeService{})
	rec := doRequest(t, handler, http.MethodPost, "/api/queue/reservation", "", map[string]string{"lane_id": testLaneID, "extra": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = doRequest(t, handler, http.MethodPost, "/api/queue/reservation", "", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing lane_id, got %d", rec.Code)
	}
}

func TestOperationRequiresToken(t *testing.T) {
	rec := doRequest(t, newTestServer(t, fakeService{}), http.MethodPost, "/api/queue/operations", "", operationRequest{Action: "ADVANCE", LaneID: testLaneID})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestOperationUsesAuthenticatedActor(t *testing.T) {
	var got queue.OperationInput
	current := 5
	svc := fakeService{
		operateFn: func(ctx context.Context, input queue.OperationInput) (models.OperationResult, error) {
			got = input
			return models.OperationResult{Action: input.Action, LaneID: input.LaneID, CurrentNumber: &current}, nil
		},
	}
	rec := doRequest(t, newTestServer(t, svc), http.MethodPost, "/api/queue/operations", testStaffID, operationRequest{Action: "next", LaneID: testLaneID})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.ActorID != testStaffID || got.Action != models.ActionAdvance || got.LaneID != testLaneID {
		t.Fatalf("unexpected operation input: %+v", got)
	}
	var result models.OperationResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.CurrentNumber == nil || *result.CurrentNumber != 5 || result.Action != models.ActionAdvance {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestOperationErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"forbidden", store.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"conflict", store.ErrConflict, http.StatusConflict, "conflict"},
		{"nothing called", store.ErrInvalidState, http.StatusConflict, "invalid_state"},
		{"missing lane", store.ErrLaneNotFound, http.StatusNotFound, "lane_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := fakeService{
				operateFn: func(ctx context.Context, input queue.OperationInput) (models.OperationResult, error) {
					return models.OperationResult{}, tt.err
				},
			}
			rec := doRequest(t, newTestServer(t, svc), http.MethodPost, "/api/queue/operations", testStaffID, operationRequest{Action: "SERVE", LaneID: testLaneID})
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			if code := decodeErrorCode(t, rec); code != tt.code {
				t.Fatalf("expected code %s, got %s", tt.code, code)
			}
		})
	}
}

func TestOperationRejectsUnknownAction(t *testing.T) {
	rec := doRequest(t, newTestServer(t, fakeService{}), http.MethodPost, "/api/queue/operations", testStaffID, operationRequest{Action: "JUMP", LaneID: testLaneID})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "invalid_action" {
		t.Fatalf("expected invalid_action, got %s", code)
	}
}

func TestStatusReturnsEmptyArray(t *testing.T) {
	rec := doRequest(t, newTestServer(t, fakeService{}), http.MethodGet, "/api/queue/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := bytes.TrimSpace(rec.Body.Bytes()); string(body) != "[]" {
		t.Fatalf("expected empty array, got %s", body)
	}
}

func TestRecentOperationsSince(t *testing.T) {
	var gotSince time.Time
	svc := fakeService{
		recentFn: func(ctx context.Context, since time.Time) ([]models.RecentOperation, error) {
			gotSince = since
			return []models.RecentOperation{}, nil
		},
	}
	handler := newTestServer(t, svc)

	rec := doRequest(t, handler, http.MethodGet, "/api/queue/recent-operations?since=2026-03-01T09:00:00Z", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !gotSince.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected since: %v", gotSince)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/queue/recent-operations?since=yesterday", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestLaneAdminRequiresAdmin(t *testing.T) {
	handler := newTestServer(t, fakeService{})
	rec := doRequest(t, handler, http.MethodPost, "/api/lanes", testStaffID, queue.CreateLaneInput{Name: "Billing"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestCreateLaneValidation(t *testing.T) {
	svc := fakeService{
		createLaneFn: func(ctx context.Context, input queue.CreateLaneInput) (models.Lane, error) {
			return models.Lane{}, &queue.ValidationError{Field: "name", Message: "is required"}
		},
	}
	rec := doRequest(t, newTestServer(t, svc), http.MethodPost, "/api/lanes", testAdminID, queue.CreateLaneInput{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpdateLane(t *testing.T) {
	var gotID string
	var gotInput queue.UpdateLaneInput
	svc := fakeService{
		updateLaneFn: func(ctx context.Context, laneID string, input queue.UpdateLaneInput) (models.Lane, error) {
			gotID = laneID
			gotInput = input
			return models.Lane{LaneID: laneID, IsActive: false}, nil
		},
	}
	handler := newTestServer(t, svc)
	rec := doRequest(t, handler, http.MethodPatch, "/api/lanes/"+testLaneID, testAdminID, map[string]bool{"is_active": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotID != testLaneID || gotInput.IsActive == nil || *gotInput.IsActive {
		t.Fatalf("unexpected update: %s %+v", gotID, gotInput)
	}

	rec = doRequest(t, handler, http.MethodPatch, "/api/lanes/not-a-uuid", testAdminID, map[string]bool{"is_active": false})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
}

func TestAssignAndUnassign(t *testing.T) {
	var assigned, unassigned string
	svc := fakeService{
		assignFn: func(ctx context.Context, actorID, laneID string) (models.Assignment, error) {
			assigned = actorID + "/" + laneID
			return models.Assignment{ActorID: actorID, LaneID: laneID, LaneType: models.LaneTypeRegular}, nil
		},
		unassignFn: func(ctx context.Context, actorID, laneID string) error {
			unassigned = actorID + "/" + laneID
			return store.ErrAssignmentNotFound
		},
	}
	handler := newTestServer(t, svc)

	rec := doRequest(t, handler, http.MethodPost, "/api/lanes/"+testLaneID+"/assign", testAdminID, assignmentRequest{ActorID: testStaffID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if assigned != testStaffID+"/"+testLaneID {
		t.Fatalf("unexpected assignment %s", assigned)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/lanes/"+testLaneID+"/unassign", testAdminID, assignmentRequest{ActorID: testStaffID})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if unassigned == "" {
		t.Fatal("expected unassign to be called")
	}
}

func TestAssignedLanesForStaff(t *testing.T) {
	var gotActor string
	svc := fakeService{
		assignedLanesFn: func(ctx context.Context, actorID string) ([]models.Lane, error) {
			gotActor = actorID
			return []models.Lane{{LaneID: testLaneID, Name: "Billing"}}, nil
		},
	}
	rec := doRequest(t, newTestServer(t, svc), http.MethodGet, "/api/users/assigned-lanes", testStaffID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotActor != testStaffID {
		t.Fatalf("expected actor %s, got %s", testStaffID, gotActor)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rec := doRequest(t, newTestServer(t, fakeService{}), http.MethodGet, "/api/queue/reservation", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non-public method, got %d", rec.Code)
	}
	rec = doRequest(t, newTestServer(t, fakeService{}), http.MethodDelete, "/api/queue/operations", testStaffID, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestUpdateActorDeactivates(t *testing.T) {
	var gotID string
	var gotInput queue.UpdateActorInput
	svc := fakeService{
		updateActorFn: func(ctx context.Context, actorID string, input queue.UpdateActorInput) (models.Actor, error) {
			gotID = actorID
			gotInput = input
			return models.Actor{ActorID: actorID, Role: models.RoleStaff, IsActive: false}, nil
		},
	}
	handler := newTestServer(t, svc)

	rec := doRequest(t, handler, http.MethodPatch, "/api/users/"+testStaffID, testStaffID, map[string]bool{"is_active": false})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff caller, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPatch, "/api/users/"+testStaffID, testAdminID, map[string]bool{"is_active": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotID != testStaffID || gotInput.IsActive == nil || *gotInput.IsActive {
		t.Fatalf("unexpected update: %s %+v", gotID, gotInput)
	}

	rec = doRequest(t, handler, http.MethodPatch, "/api/users/not-a-uuid", testAdminID, map[string]bool{"is_active": false})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
}

func TestUpdateActorNotFound(t *testing.T) {
	svc := fakeService{
		updateActorFn: func(ctx context.Context, actorID string, input queue.UpdateActorInput) (models.Actor, error) {
			return models.Actor{}, store.ErrActorNotFound
		},
	}
	rec := doRequest(t, newTestServer(t, svc), http.MethodPatch, "/api/users/"+testStaffID, testAdminID, map[string]string{"role": "ADMIN"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
