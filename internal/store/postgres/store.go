package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"qms/lane-service/internal/models"
	"qms/lane-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"

	queueItemNumberKey = "queue_items_lane_day_number_key"
	assignmentTypeKey  = "lane_assignments_actor_type_key"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies every .sql file in fsys in lexical order.
func Migrate(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const laneColumns = `lane_id, name, description, lane_type, is_active, current_number, last_served_number, version, created_at, updated_at`

func scanLane(row pgx.Row) (models.Lane, error) {
	var lane models.Lane
	err := row.Scan(&lane.LaneID, &lane.Name, &lane.Description, &lane.Type, &lane.IsActive,
		&lane.CurrentNumber, &lane.LastServedNumber, &lane.Version, &lane.CreatedAt, &lane.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Lane{}, store.ErrLaneNotFound
		}
		return models.Lane{}, err
	}
	return lane, nil
}

func getLane(ctx context.Context, q queryer, laneID string) (models.Lane, error) {
	if _, err := uuid.Parse(laneID); err != nil {
		return models.Lane{}, store.ErrLaneNotFound
	}
	return scanLane(q.QueryRow(ctx, `SELECT `+laneColumns+` FROM lanes WHERE lane_id = $1`, laneID))
}

func (s *Store) GetLane(ctx context.Context, laneID string) (models.Lane, error) {
	return getLane(ctx, s.pool, laneID)
}

func (s *Store) ListLanes(ctx context.Context, activeOnly bool) ([]models.Lane, error) {
	query := `SELECT ` + laneColumns + ` FROM lanes`
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY name ASC"

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lanes []models.Lane
	for rows.Next() {
		lane, err := scanLane(rows)
		if err != nil {
			return nil, err
		}
		lanes = append(lanes, lane)
	}
	return lanes, rows.Err()
}

func (s *Store) CreateLane(ctx context.Context, input store.CreateLaneInput) (models.Lane, error) {
	laneType := input.Type
	if laneType == "" {
		laneType = models.LaneTypeRegular
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO lanes (lane_id, name, description, lane_type, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+laneColumns,
		uuid.NewString(), input.Name, input.Description, laneType, input.IsActive)
	lane, err := scanLane(row)
	if err != nil {
		if isUniqueViolation(err, "") {
			return models.Lane{}, fmt.Errorf("lane name %q: %w", input.Name, store.ErrConflict)
		}
		return models.Lane{}, err
	}
	return lane, nil
}

// UpdateLane applies the non-nil fields. A type change is copied onto the
// lane's assignments in the same transaction, so the actor/type constraint
// rejects it with ErrAssignmentExists.
func (s *Store) UpdateLane(ctx context.Context, input store.UpdateLaneInput) (lane models.Lane, err error) {
	if _, err := uuid.Parse(input.LaneID); err != nil {
		return models.Lane{}, store.ErrLaneNotFound
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Lane{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		UPDATE lanes SET
			name = COALESCE($2, name),
			description = COALESCE($3, description),
			lane_type = COALESCE($4, lane_type),
			is_active = COALESCE($5, is_active),
			version = version + 1,
			updated_at = now()
		WHERE lane_id = $1
		RETURNING `+laneColumns,
		input.LaneID, input.Name, input.Description, input.Type, input.IsActive)
	if lane, err = scanLane(row); err != nil {
		if isUniqueViolation(err, "") {
			err = fmt.Errorf("lane name: %w", store.ErrConflict)
		}
		return models.Lane{}, err
	}

	if input.Type != nil {
		if _, err = tx.Exec(ctx, `UPDATE lane_assignments SET lane_type = $2 WHERE lane_id = $1`, input.LaneID, *input.Type); err != nil {
			if isUniqueViolation(err, assignmentTypeKey) {
				err = store.ErrAssignmentExists
			}
			return models.Lane{}, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Lane{}, err
	}
	return lane, nil
}

func (s *Store) SetActive(ctx context.Context, laneID string, active bool) error {
	return s.execLane(ctx, `UPDATE lanes SET is_active = $2, version = version + 1, updated_at = now() WHERE lane_id = $1`, laneID, active)
}

func (s *Store) SetCurrentNumber(ctx context.Context, laneID string, number int) error {
	return s.execLane(ctx, `UPDATE lanes SET current_number = $2, version = version + 1, updated_at = now() WHERE lane_id = $1`, laneID, number)
}

func (s *Store) SetLastServed(ctx context.Context, laneID string, number int) error {
	return s.execLane(ctx, `UPDATE lanes SET last_served_number = $2, version = version + 1, updated_at = now() WHERE lane_id = $1`, laneID, number)
}

func (s *Store) execLane(ctx context.Context, query, laneID string, arg any) error {
	if _, err := uuid.Parse(laneID); err != nil {
		return store.ErrLaneNotFound
	}
	tag, err := s.pool.Exec(ctx, query, laneID, arg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrLaneNotFound
	}
	return nil
}

func (s *Store) ResetCurrentNumbers(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE lanes SET current_number = 0, version = version + 1, updated_at = now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) MaxTicketNumber(ctx context.Context, laneID, serviceDay string) (int, error) {
	var max int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(number), 0) FROM queue_items WHERE lane_id = $1 AND service_day = $2
	`, laneID, serviceDay).Scan(&max)
	return max, err
}

func (s *Store) InsertQueueItem(ctx context.Context, item models.QueueItem) (models.QueueItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = models.StatusWaiting
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_items (item_id, lane_id, number, service_day, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.LaneID, item.Number, item.ServiceDay, item.Status, item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, queueItemNumberKey) {
			return models.QueueItem{}, store.ErrDuplicateNumber
		}
		return models.QueueItem{}, err
	}
	return item, nil
}

func (s *Store) CountWaitingBefore(ctx context.Context, laneID, serviceDay string, number int) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM queue_items
		WHERE lane_id = $1 AND service_day = $2 AND status = $3 AND number < $4
	`, laneID, serviceDay, models.StatusWaiting, number).Scan(&count)
	return count, err
}

func (s *Store) LaneDayStats(ctx context.Context, serviceDay string) (map[string]store.LaneDayStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT lane_id,
			COUNT(*) FILTER (WHERE status = 'WAITING'),
			COUNT(*) FILTER (WHERE status = 'CALLED'),
			COALESCE(MAX(number), 0)
		FROM queue_items
		WHERE service_day = $1
		GROUP BY lane_id
	`, serviceDay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]store.LaneDayStats)
	for rows.Next() {
		var laneID string
		var entry store.LaneDayStats
		if err := rows.Scan(&laneID, &entry.WaitingCount, &entry.CalledCount, &entry.MaxNumber); err != nil {
			return nil, err
		}
		stats[laneID] = entry
	}
	return stats, rows.Err()
}

func (s *Store) ListQueueItems(ctx context.Context, laneID, serviceDay string, statuses ...string) ([]models.QueueItem, error) {
	query := `
		SELECT item_id, lane_id, number, service_day, status, created_at, called_at, served_at
		FROM queue_items
		WHERE lane_id = $1 AND service_day = $2
	`
	args := []interface{}{laneID, serviceDay}
	if len(statuses) > 0 {
		query += " AND status = ANY($3)"
		args = append(args, statuses)
	}
	query += " ORDER BY created_at ASC, number ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanQueueItem(row pgx.Row) (models.QueueItem, error) {
	var item models.QueueItem
	var calledAtNull sql.NullTime
	var servedAtNull sql.NullTime
	if err := row.Scan(&item.ID, &item.LaneID, &item.Number, &item.ServiceDay, &item.Status, &item.CreatedAt, &calledAtNull, &servedAtNull); err != nil {
		return models.QueueItem{}, err
	}
	item.CalledAt = nullTimePtr(calledAtNull)
	item.ServedAt = nullTimePtr(servedAtNull)
	return item, nil
}

func (s *Store) ListOperations(ctx context.Context, since time.Time, limit int) ([]models.RecentOperation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT o.operation_id, o.actor_id, o.lane_id, o.action, o.number, o.created_at, l.name, l.current_number
		FROM queue_operations o
		JOIN lanes l ON l.lane_id = o.lane_id
		WHERE o.created_at >= $1
		ORDER BY o.created_at DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []models.RecentOperation
	for rows.Next() {
		var op models.RecentOperation
		var action string
		if err := rows.Scan(&op.ID, &op.ActorID, &op.LaneID, &action, &op.Number, &op.CreatedAt, &op.LaneName, &op.LaneCurrentNumber); err != nil {
			return nil, err
		}
		parsed, err := models.ParseAction(action)
		if err != nil {
			return nil, err
		}
		op.Action = parsed
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) UpsertSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value)
	return err
}

func (s *Store) GetActor(ctx context.Context, actorID string) (models.Actor, error) {
	if _, err := uuid.Parse(actorID); err != nil {
		return models.Actor{}, store.ErrActorNotFound
	}
	var actor models.Actor
	err := s.pool.QueryRow(ctx, `
		SELECT actor_id, username, name, role, is_active, created_at FROM actors WHERE actor_id = $1
	`, actorID).Scan(&actor.ActorID, &actor.Username, &actor.Name, &actor.Role, &actor.IsActive, &actor.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Actor{}, store.ErrActorNotFound
		}
		return models.Actor{}, err
	}
	return actor, nil
}

func (s *Store) CreateActor(ctx context.Context, input store.CreateActorInput) (models.Actor, error) {
	actor := models.Actor{
		ActorID:   uuid.NewString(),
		Username:  input.Username,
		Name:      input.Name,
		Role:      input.Role,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO actors (actor_id, username, name, role, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, actor.ActorID, actor.Username, actor.Name, actor.Role, actor.IsActive, actor.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return models.Actor{}, fmt.Errorf("username %q: %w", input.Username, store.ErrConflict)
		}
		return models.Actor{}, err
	}
	return actor, nil
}

func (s *Store) UpdateActor(ctx context.Context, input store.UpdateActorInput) (models.Actor, error) {
	if _, err := uuid.Parse(input.ActorID); err != nil {
		return models.Actor{}, store.ErrActorNotFound
	}
	var actor models.Actor
	err := s.pool.QueryRow(ctx, `
		UPDATE actors SET
			name = COALESCE($2, name),
			role = COALESCE($3, role),
			is_active = COALESCE($4, is_active)
		WHERE actor_id = $1
		RETURNING actor_id, username, name, role, is_active, created_at
	`, input.ActorID, input.Name, input.Role, input.IsActive).Scan(&actor.ActorID, &actor.Username, &actor.Name, &actor.Role, &actor.IsActive, &actor.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Actor{}, store.ErrActorNotFound
		}
		return models.Actor{}, err
	}
	return actor, nil
}

func (s *Store) HasAssignment(ctx context.Context, actorID, laneID string) (bool, error) {
	if !validUUIDs(actorID, laneID) {
		return false, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM lane_assignments WHERE actor_id = $1 AND lane_id = $2)
	`, actorID, laneID).Scan(&exists)
	return exists, err
}

func (s *Store) AssignLane(ctx context.Context, actorID, laneID string) (assignment models.Assignment, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Assignment{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = uuid.Parse(actorID); err != nil {
		return models.Assignment{}, store.ErrActorNotFound
	}
	var role string
	var active bool
	if err = tx.QueryRow(ctx, `SELECT role, is_active FROM actors WHERE actor_id = $1`, actorID).Scan(&role, &active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Assignment{}, store.ErrActorNotFound
		}
		return models.Assignment{}, err
	}
	if role != models.RoleStaff || !active {
		return models.Assignment{}, store.ErrActorInactive
	}

	lane, err := getLane(ctx, tx, laneID)
	if err != nil {
		return models.Assignment{}, err
	}

	assignment = models.Assignment{
		ActorID:   actorID,
		LaneID:    lane.LaneID,
		LaneType:  lane.Type,
		CreatedAt: time.Now().UTC(),
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO lane_assignments (actor_id, lane_id, lane_type, created_at) VALUES ($1, $2, $3, $4)
	`, assignment.ActorID, assignment.LaneID, assignment.LaneType, assignment.CreatedAt); err != nil {
		if isUniqueViolation(err, "") {
			err = store.ErrAssignmentExists
		}
		return models.Assignment{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Assignment{}, err
	}
	return assignment, nil
}

func (s *Store) UnassignLane(ctx context.Context, actorID, laneID string) error {
	if !validUUIDs(actorID, laneID) {
		return store.ErrAssignmentNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM lane_assignments WHERE actor_id = $1 AND lane_id = $2`, actorID, laneID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAssignmentNotFound
	}
	return nil
}

func (s *Store) ListAssignedLanes(ctx context.Context, actorID string) ([]models.Lane, error) {
	if !validUUIDs(actorID) {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT l.lane_id, l.name, l.description, l.lane_type, l.is_active, l.current_number,
			l.last_served_number, l.version, l.created_at, l.updated_at
		FROM lanes l
		JOIN lane_assignments a ON a.lane_id = l.lane_id
		WHERE a.actor_id = $1
		ORDER BY l.name ASC
	`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lanes []models.Lane
	for rows.Next() {
		lane, err := scanLane(rows)
		if err != nil {
			return nil, err
		}
		lanes = append(lanes, lane)
	}
	return lanes, rows.Err()
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			err = classifyTxError(err)
		}
	}()

	if err = fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetLane(ctx context.Context, laneID string) (models.Lane, error) {
	return getLane(ctx, t.tx, laneID)
}

func (t *pgTx) UpdateLanePointers(ctx context.Context, lane models.Lane) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE lanes
		SET current_number = $3, last_served_number = $4, version = version + 1, updated_at = now()
		WHERE lane_id = $1 AND version = $2
	`, lane.LaneID, lane.Version, lane.CurrentNumber, lane.LastServedNumber)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

func (t *pgTx) FindQueueItem(ctx context.Context, laneID, serviceDay string, number int) (models.QueueItem, bool, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT item_id, lane_id, number, service_day, status, created_at, called_at, served_at
		FROM queue_items
		WHERE lane_id = $1 AND service_day = $2 AND number = $3
		FOR UPDATE
	`, laneID, serviceDay, number)
	item, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueItem{}, false, nil
		}
		return models.QueueItem{}, false, err
	}
	return item, true, nil
}

func (t *pgTx) MarkQueueItem(ctx context.Context, itemID, status string, at time.Time) error {
	var query string
	switch status {
	case models.StatusCalled:
		query = `UPDATE queue_items SET status = $2, called_at = $3 WHERE item_id = $1`
	case models.StatusServed:
		query = `UPDATE queue_items SET status = $2, served_at = $3 WHERE item_id = $1`
	default:
		return fmt.Errorf("mark queue item: %w", store.ErrInvalidState)
	}
	_, err := t.tx.Exec(ctx, query, itemID, status, at)
	return err
}

func (t *pgTx) AppendOperation(ctx context.Context, op models.QueueOperation) (models.QueueOperation, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO queue_operations (operation_id, actor_id, lane_id, action, number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, op.ID, op.ActorID, op.LaneID, op.Action.String(), op.Number, op.CreatedAt)
	if err != nil {
		return models.QueueOperation{}, err
	}
	return op, nil
}

// isUniqueViolation reports a 23505 error, optionally restricted to one
// named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func classifyTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case serializationFailure, deadlockDetected:
			return fmt.Errorf("%s: %w", pgErr.Message, store.ErrConflict)
		}
	}
	return err
}

func validUUIDs(values ...string) bool {
	for _, value := range values {
		if _, err := uuid.Parse(value); err != nil {
			return false
		}
	}
	return true
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

var _ store.Store = (*Store)(nil)
