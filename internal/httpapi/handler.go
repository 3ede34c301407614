package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strings"
	"time"

	"qms/lane-service/internal/models"
	"qms/lane-service/internal/queue"
	"qms/lane-service/internal/store"

	"github.com/google/uuid"
)

// Service is the queue core as seen by the HTTP layer.
type Service interface {
	ActorLookup
	Allocate(ctx context.Context, laneID string) (queue.Allocation, error)
	Operate(ctx context.Context, input queue.OperationInput) (models.OperationResult, error)
	Status(ctx context.Context) ([]models.LaneStatus, error)
	RecentOperations(ctx context.Context, since time.Time) ([]models.RecentOperation, error)
	ListLanes(ctx context.Context, activeOnly bool) ([]models.Lane, error)
	CreateLane(ctx context.Context, input queue.CreateLaneInput) (models.Lane, error)
	UpdateLane(ctx context.Context, laneID string, input queue.UpdateLaneInput) (models.Lane, error)
	AssignLane(ctx context.Context, actorID, laneID string) (models.Assignment, error)
	UnassignLane(ctx context.Context, actorID, laneID string) error
	AssignedLanes(ctx context.Context, actorID string) ([]models.Lane, error)
	UpdateActor(ctx context.Context, actorID string, input queue.UpdateActorInput) (models.Actor, error)
}

type Handler struct {
	service   Service
	realtime  *Realtime
	jwtSecret []byte
}

type reservationRequest struct {
	LaneID string `json:"lane_id"`
}

type operationRequest struct {
	Action string `json:"action"`
	LaneID string `json:"lane_id"`
}

type assignmentRequest struct {
	ActorID string `json:"actor_id"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Options struct {
	JWTSecret string
	// Realtime mounts the SSE, WebSocket and SockJS observer endpoints.
	Realtime *Realtime
}

func NewHandler(service Service, options Options) *Handler {
	return &Handler{
		service:   service,
		realtime:  options.Realtime,
		jwtSecret: []byte(options.JWTSecret),
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/api/queue/reservation", h.handleReservation)
	mux.HandleFunc("/api/queue/status", h.handleStatus)
	mux.HandleFunc("/api/queue/operations", h.handleOperation)
	mux.HandleFunc("/api/queue/recent-operations", h.handleRecentOperations)
	mux.HandleFunc("/api/lanes", h.handleLanes)
	mux.HandleFunc("/api/lanes/", h.handleLaneActions)
	mux.HandleFunc("/api/users/assigned-lanes", h.handleAssignedLanes)
	mux.HandleFunc("/api/users/", h.handleUpdateActor)
	if h.realtime != nil {
		mux.HandleFunc("/api/queue/events", h.realtime.ServeSSE)
		mux.HandleFunc("/api/queue/ws", h.realtime.ServeWS)
		mux.Handle("/realtime/", h.realtime.SockJSHandler("/realtime"))
	}
	return AuthMiddleware(h.jwtSecret, h.service, mux)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleReservation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := requestIDFromRequest(r)

	var req reservationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.LaneID = strings.TrimSpace(req.LaneID)
	if req.LaneID == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "lane_id is required")
		return
	}

	allocation, err := h.service.Allocate(r.Context(), req.LaneID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, allocation)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	lanes, err := h.service.Status(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, msg)
		return
	}
	if lanes == nil {
		lanes = []models.LaneStatus{}
	}
	writeJSON(w, http.StatusOK, lanes)
}

func (h *Handler) handleOperation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := requestIDFromRequest(r)
	actor, ok := requireRole(w, r, models.RoleAdmin, models.RoleStaff)
	if !ok {
		return
	}

	var req operationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.LaneID = strings.TrimSpace(req.LaneID)
	if req.LaneID == "" || strings.TrimSpace(req.Action) == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "action and lane_id are required")
		return
	}
	action, err := models.ParseAction(req.Action)
	if err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_action", "action must be ADVANCE, RECALL, ALERT or SERVE")
		return
	}

	result, err := h.service.Operate(r.Context(), queue.OperationInput{
		Action:  action,
		LaneID:  req.LaneID,
		ActorID: actor.ActorID,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRecentOperations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var since time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "since must be RFC3339 timestamp")
			return
		}
		since = parsed
	}

	ops, err := h.service.RecentOperations(r.Context(), since)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

func (h *Handler) handleLanes(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFromRequest(r)
	switch r.Method {
	case http.MethodGet:
		if _, ok := requireRole(w, r, models.RoleAdmin); !ok {
			return
		}
		activeOnly := r.URL.Query().Get("active") == "true"
		lanes, err := h.service.ListLanes(r.Context(), activeOnly)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, requestID, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, lanes)
	case http.MethodPost:
		if _, ok := requireRole(w, r, models.RoleAdmin); !ok {
			return
		}
		var req queue.CreateLaneInput
		if !decodeJSON(w, r, &req) {
			return
		}
		lane, err := h.service.CreateLane(r.Context(), req)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, requestID, status, code, msg)
			return
		}
		writeJSON(w, http.StatusCreated, lane)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleLaneActions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/lanes/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	laneID := parts[0]
	if !isValidUUID(laneID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "lane id must be a UUID")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodPatch {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleUpdateLane(w, r, laneID)
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch parts[1] {
	case "assign":
		h.handleAssignment(w, r, laneID, true)
	case "unassign":
		h.handleAssignment(w, r, laneID, false)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleUpdateLane(w http.ResponseWriter, r *http.Request, laneID string) {
	if _, ok := requireRole(w, r, models.RoleAdmin); !ok {
		return
	}
	var req queue.UpdateLaneInput
	if !decodeJSON(w, r, &req) {
		return
	}
	lane, err := h.service.UpdateLane(r.Context(), laneID, req)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, lane)
}

func (h *Handler) handleAssignment(w http.ResponseWriter, r *http.Request, laneID string, assign bool) {
	requestID := requestIDFromRequest(r)
	if _, ok := requireRole(w, r, models.RoleAdmin); !ok {
		return
	}
	var req assignmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ActorID = strings.TrimSpace(req.ActorID)
	if !isValidUUID(req.ActorID) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "actor_id must be a UUID")
		return
	}

	if !assign {
		if err := h.service.UnassignLane(r.Context(), req.ActorID, laneID); err != nil {
			status, code, msg := mapError(err)
			writeError(w, requestID, status, code, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	assignment, err := h.service.AssignLane(r.Context(), req.ActorID, laneID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, assignment)
}

func (h *Handler) handleAssignedLanes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireRole(w, r, models.RoleStaff, models.RoleAdmin)
	if !ok {
		return
	}
	lanes, err := h.service.AssignedLanes(r.Context(), actor.ActorID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, lanes)
}

func (h *Handler) handleUpdateActor(w http.ResponseWriter, r *http.Request) {
	actorID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/users/"), "/")
	if actorID == "" || strings.Contains(actorID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := requestIDFromRequest(r)
	if _, ok := requireRole(w, r, models.RoleAdmin); !ok {
		return
	}
	if !isValidUUID(actorID) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "user id must be a UUID")
		return
	}
	var req queue.UpdateActorInput
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, err := h.service.UpdateActor(r.Context(), actorID, req)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, actor)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	var verr *queue.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "invalid_request", verr.Error()
	case errors.Is(err, store.ErrLaneNotFound):
		return http.StatusNotFound, "lane_not_found", "lane not found"
	case errors.Is(err, store.ErrActorNotFound):
		return http.StatusNotFound, "actor_not_found", "actor not found"
	case errors.Is(err, store.ErrAssignmentNotFound):
		return http.StatusNotFound, "assignment_not_found", "assignment not found"
	case errors.Is(err, store.ErrLaneInactive):
		return http.StatusConflict, "lane_inactive", "lane is not active"
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden, "forbidden", "actor may not operate this lane"
	case errors.Is(err, store.ErrAllocatorExhausted):
		return http.StatusConflict, "allocator_exhausted", "no ticket numbers left for this lane today"
	case errors.Is(err, store.ErrAssignmentExists):
		return http.StatusConflict, "assignment_exists", "actor already holds an assignment for this lane type"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "concurrent update, try again"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "no number has been called on this lane"
	case errors.Is(err, store.ErrActorInactive):
		return http.StatusConflict, "actor_inactive", "actor must be an active staff member"
	case errors.Is(err, store.ErrInvalidAction):
		return http.StatusBadRequest, "invalid_action", "unknown action"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
