// Package sqlite is the embedded single-process store. The pool is limited to
// one connection so every statement and transaction is serialized by SQLite
// itself, while the unique index on queue numbers still arbitrates allocation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"qms/lane-service/internal/models"
	"qms/lane-service/internal/store"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("lane store: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS lanes (
			lane_id            TEXT PRIMARY KEY,
			name               TEXT NOT NULL UNIQUE,
			description        TEXT NOT NULL DEFAULT '',
			lane_type          TEXT NOT NULL DEFAULT 'REGULAR',
			is_active          INTEGER NOT NULL DEFAULT 1,
			current_number     INTEGER NOT NULL DEFAULT 0,
			last_served_number INTEGER NOT NULL DEFAULT 0,
			version            INTEGER NOT NULL DEFAULT 0,
			created_at         TEXT NOT NULL,
			updated_at         TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS queue_items (
			item_id     TEXT PRIMARY KEY,
			lane_id     TEXT NOT NULL REFERENCES lanes(lane_id),
			number      INTEGER NOT NULL CHECK (number BETWEEN 1 AND 999),
			service_day TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'WAITING',
			created_at  TEXT NOT NULL,
			called_at   TEXT,
			served_at   TEXT,
			UNIQUE (lane_id, service_day, number)
		);

		CREATE INDEX IF NOT EXISTS idx_queue_items_lane_day_status ON queue_items(lane_id, service_day, status);

		CREATE TABLE IF NOT EXISTS actors (
			actor_id   TEXT PRIMARY KEY,
			username   TEXT NOT NULL UNIQUE,
			name       TEXT NOT NULL DEFAULT '',
			role       TEXT NOT NULL,
			is_active  INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS lane_assignments (
			actor_id   TEXT NOT NULL REFERENCES actors(actor_id) ON DELETE CASCADE,
			lane_id    TEXT NOT NULL REFERENCES lanes(lane_id) ON DELETE CASCADE,
			lane_type  TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (actor_id, lane_id),
			UNIQUE (actor_id, lane_type)
		);

		CREATE TABLE IF NOT EXISTS queue_operations (
			operation_id TEXT PRIMARY KEY,
			actor_id     TEXT NOT NULL,
			lane_id      TEXT NOT NULL REFERENCES lanes(lane_id),
			action       TEXT NOT NULL,
			number       INTEGER NOT NULL,
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_queue_operations_created_at ON queue_operations(created_at);

		CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("lane store: migrate: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const laneColumns = `lane_id, name, description, lane_type, is_active, current_number, last_served_number, version, created_at, updated_at`

func scanLane(row scanner) (models.Lane, error) {
	var lane models.Lane
	var createdAt, updatedAt string
	err := row.Scan(&lane.LaneID, &lane.Name, &lane.Description, &lane.Type, &lane.IsActive,
		&lane.CurrentNumber, &lane.LastServedNumber, &lane.Version, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Lane{}, store.ErrLaneNotFound
		}
		return models.Lane{}, err
	}
	lane.CreatedAt = parseTime(createdAt)
	lane.UpdatedAt = parseTime(updatedAt)
	return lane, nil
}

func getLane(ctx context.Context, q queryer, laneID string) (models.Lane, error) {
	return scanLane(q.QueryRowContext(ctx, `SELECT `+laneColumns+` FROM lanes WHERE lane_id = ?`, laneID))
}

func (s *Store) GetLane(ctx context.Context, laneID string) (models.Lane, error) {
	return getLane(ctx, s.db, laneID)
}

func (s *Store) ListLanes(ctx context.Context, activeOnly bool) ([]models.Lane, error) {
	query := `SELECT ` + laneColumns + ` FROM lanes`
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY name ASC"
	return s.queryLanes(ctx, query)
}

func (s *Store) queryLanes(ctx context.Context, query string, args ...any) ([]models.Lane, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
	now := time.Now().UTC()
	lane := models.Lane{
		LaneID:      uuid.NewString(),
		Name:        input.Name,
		Description: input.Description,
		Type:        laneType,
		IsActive:    input.IsActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lanes (lane_id, name, description, lane_type, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, lane.LaneID, lane.Name, lane.Description, lane.Type, lane.IsActive, formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return models.Lane{}, fmt.Errorf("lane name %q: %w", input.Name, store.ErrConflict)
		}
		return models.Lane{}, err
	}
	return lane, nil
}

// UpdateLane applies the non-nil fields. A type change is copied onto the
// lane's assignments in the same transaction, so it fails with
// ErrAssignmentExists when an assigned actor already holds a lane of the new
// type.
func (s *Store) UpdateLane(ctx context.Context, input store.UpdateLaneInput) (lane models.Lane, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Lane{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE lanes SET
			name = COALESCE(?, name),
			description = COALESCE(?, description),
			lane_type = COALESCE(?, lane_type),
			is_active = COALESCE(?, is_active),
			version = version + 1,
			updated_at = ?
		WHERE lane_id = ?
	`, nullable(input.Name), nullable(input.Description), nullable(input.Type), nullable(input.IsActive), formatTime(time.Now().UTC()), input.LaneID)
	if err != nil {
		if isUniqueViolation(err) {
			err = fmt.Errorf("lane name: %w", store.ErrConflict)
		}
		return models.Lane{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = store.ErrLaneNotFound
		return models.Lane{}, err
	}

	if input.Type != nil {
		if _, err = tx.ExecContext(ctx, `UPDATE lane_assignments SET lane_type = ? WHERE lane_id = ?`, *input.Type, input.LaneID); err != nil {
			if isUniqueViolation(err) {
				err = store.ErrAssignmentExists
			}
			return models.Lane{}, err
		}
	}

	if lane, err = getLane(ctx, tx, input.LaneID); err != nil {
		return models.Lane{}, err
	}
	if err = tx.Commit(); err != nil {
		return models.Lane{}, err
	}
	return lane, nil
}

func (s *Store) SetActive(ctx context.Context, laneID string, active bool) error {
	return s.execLane(ctx, `UPDATE lanes SET is_active = ?, version = version + 1, updated_at = ? WHERE lane_id = ?`, active, laneID)
}

func (s *Store) SetCurrentNumber(ctx context.Context, laneID string, number int) error {
	return s.execLane(ctx, `UPDATE lanes SET current_number = ?, version = version + 1, updated_at = ? WHERE lane_id = ?`, number, laneID)
}

func (s *Store) SetLastServed(ctx context.Context, laneID string, number int) error {
	return s.execLane(ctx, `UPDATE lanes SET last_served_number = ?, version = version + 1, updated_at = ? WHERE lane_id = ?`, number, laneID)
}

func (s *Store) execLane(ctx context.Context, query string, value any, laneID string) error {
	res, err := s.db.ExecContext(ctx, query, value, formatTime(time.Now().UTC()), laneID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrLaneNotFound
	}
	return nil
}

func (s *Store) ResetCurrentNumbers(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE lanes SET current_number = 0, version = version + 1, updated_at = ?`, formatTime(time.Now().UTC()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) MaxTicketNumber(ctx context.Context, laneID, serviceDay string) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(number), 0) FROM queue_items WHERE lane_id = ? AND service_day = ?
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_items (item_id, lane_id, number, service_day, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, item.ID, item.LaneID, item.Number, item.ServiceDay, item.Status, formatTime(item.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) && strings.Contains(err.Error(), "queue_items.number") {
			return models.QueueItem{}, store.ErrDuplicateNumber
		}
		return models.QueueItem{}, err
	}
	return item, nil
}

func (s *Store) CountWaitingBefore(ctx context.Context, laneID, serviceDay string, number int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queue_items
		WHERE lane_id = ? AND service_day = ? AND status = ? AND number < ?
	`, laneID, serviceDay, models.StatusWaiting, number).Scan(&count)
	return count, err
}

func (s *Store) LaneDayStats(ctx context.Context, serviceDay string) (map[string]store.LaneDayStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lane_id,
			COALESCE(SUM(CASE WHEN status = 'WAITING' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'CALLED' THEN 1 ELSE 0 END), 0),
			COALESCE(MAX(number), 0)
		FROM queue_items
		WHERE service_day = ?
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

const queueItemColumns = `item_id, lane_id, number, service_day, status, created_at, called_at, served_at`

func (s *Store) ListQueueItems(ctx context.Context, laneID, serviceDay string, statuses ...string) ([]models.QueueItem, error) {
	query := `SELECT ` + queueItemColumns + ` FROM queue_items WHERE lane_id = ? AND service_day = ?`
	args := []any{laneID, serviceDay}
	if len(statuses) > 0 {
		query += " AND status IN (?" + strings.Repeat(", ?", len(statuses)-1) + ")"
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += " ORDER BY created_at ASC, number ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func scanQueueItem(row scanner) (models.QueueItem, error) {
	var item models.QueueItem
	var createdAt string
	var calledAt, servedAt sql.NullString
	if err := row.Scan(&item.ID, &item.LaneID, &item.Number, &item.ServiceDay, &item.Status, &createdAt, &calledAt, &servedAt); err != nil {
		return models.QueueItem{}, err
	}
	item.CreatedAt = parseTime(createdAt)
	item.CalledAt = nullTimePtr(calledAt)
	item.ServedAt = nullTimePtr(servedAt)
	return item, nil
}

func (s *Store) ListOperations(ctx context.Context, since time.Time, limit int) ([]models.RecentOperation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.operation_id, o.actor_id, o.lane_id, o.action, o.number, o.created_at, l.name, l.current_number
		FROM queue_operations o
		JOIN lanes l ON l.lane_id = o.lane_id
		WHERE o.created_at >= ?
		ORDER BY o.created_at DESC
		LIMIT ?
	`, formatTime(since), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []models.RecentOperation
	for rows.Next() {
		var op models.RecentOperation
		var action, createdAt string
		if err := rows.Scan(&op.ID, &op.ActorID, &op.LaneID, &action, &op.Number, &createdAt, &op.LaneName, &op.LaneCurrentNumber); err != nil {
			return nil, err
		}
		parsed, err := models.ParseAction(action)
		if err != nil {
			return nil, err
		}
		op.Action = parsed
		op.CreatedAt = parseTime(createdAt)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) UpsertSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, formatTime(time.Now().UTC()))
	return err
}

func (s *Store) GetActor(ctx context.Context, actorID string) (models.Actor, error) {
	var actor models.Actor
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT actor_id, username, name, role, is_active, created_at FROM actors WHERE actor_id = ?
	`, actorID).Scan(&actor.ActorID, &actor.Username, &actor.Name, &actor.Role, &actor.IsActive, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Actor{}, store.ErrActorNotFound
		}
		return models.Actor{}, err
	}
	actor.CreatedAt = parseTime(createdAt)
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actors (actor_id, username, name, role, is_active, created_at) VALUES (?, ?, ?, ?, ?, ?)
	`, actor.ActorID, actor.Username, actor.Name, actor.Role, actor.IsActive, formatTime(actor.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return models.Actor{}, fmt.Errorf("username %q: %w", input.Username, store.ErrConflict)
		}
		return models.Actor{}, err
	}
	return actor, nil
}

func (s *Store) UpdateActor(ctx context.Context, input store.UpdateActorInput) (models.Actor, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE actors SET
			name = COALESCE(?, name),
			role = COALESCE(?, role),
			is_active = COALESCE(?, is_active)
		WHERE actor_id = ?
	`, nullable(input.Name), nullable(input.Role), nullable(input.IsActive), input.ActorID)
	if err != nil {
		return models.Actor{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Actor{}, store.ErrActorNotFound
	}
	return s.GetActor(ctx, input.ActorID)
}

func (s *Store) HasAssignment(ctx context.Context, actorID, laneID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM lane_assignments WHERE actor_id = ? AND lane_id = ?)
	`, actorID, laneID).Scan(&exists)
	return exists, err
}

func (s *Store) AssignLane(ctx context.Context, actorID, laneID string) (assignment models.Assignment, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Assignment{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var role string
	var active bool
	if err = tx.QueryRowContext(ctx, `SELECT role, is_active FROM actors WHERE actor_id = ?`, actorID).Scan(&role, &active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO lane_assignments (actor_id, lane_id, lane_type, created_at) VALUES (?, ?, ?, ?)
	`, assignment.ActorID, assignment.LaneID, assignment.LaneType, formatTime(assignment.CreatedAt)); err != nil {
		if isUniqueViolation(err) {
			err = store.ErrAssignmentExists
		}
		return models.Assignment{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Assignment{}, err
	}
	return assignment, nil
}

func (s *Store) UnassignLane(ctx context.Context, actorID, laneID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lane_assignments WHERE actor_id = ? AND lane_id = ?`, actorID, laneID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrAssignmentNotFound
	}
	return nil
}

func (s *Store) ListAssignedLanes(ctx context.Context, actorID string) ([]models.Lane, error) {
	return s.queryLanes(ctx, `
		SELECT l.lane_id, l.name, l.description, l.lane_type, l.is_active, l.current_number,
			l.last_served_number, l.version, l.created_at, l.updated_at
		FROM lanes l
		JOIN lane_assignments a ON a.lane_id = l.lane_id
		WHERE a.actor_id = ?
		ORDER BY l.name ASC
	`, actorID)
}

// InTx runs fn on the single pooled connection. fn must only use the Tx it is
// given; touching the Store from inside fn would wait on that same connection.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetLane(ctx context.Context, laneID string) (models.Lane, error) {
	return getLane(ctx, t.tx, laneID)
}

func (t *sqliteTx) UpdateLanePointers(ctx context.Context, lane models.Lane) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE lanes
		SET current_number = ?, last_served_number = ?, version = version + 1, updated_at = ?
		WHERE lane_id = ? AND version = ?
	`, lane.CurrentNumber, lane.LastServedNumber, formatTime(time.Now().UTC()), lane.LaneID, lane.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrConflict
	}
	return nil
}

func (t *sqliteTx) FindQueueItem(ctx context.Context, laneID, serviceDay string, number int) (models.QueueItem, bool, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+queueItemColumns+` FROM queue_items WHERE lane_id = ? AND service_day = ? AND number = ?
	`, laneID, serviceDay, number)
	item, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.QueueItem{}, false, nil
		}
		return models.QueueItem{}, false, err
	}
	return item, true, nil
}

func (t *sqliteTx) MarkQueueItem(ctx context.Context, itemID, status string, at time.Time) error {
	var query string
	switch status {
	case models.StatusCalled:
		query = `UPDATE queue_items SET status = ?, called_at = ? WHERE item_id = ?`
	case models.StatusServed:
		query = `UPDATE queue_items SET status = ?, served_at = ? WHERE item_id = ?`
	default:
		return fmt.Errorf("mark queue item: %w", store.ErrInvalidState)
	}
	_, err := t.tx.ExecContext(ctx, query, status, formatTime(at), itemID)
	return err
}

func (t *sqliteTx) AppendOperation(ctx context.Context, op models.QueueOperation) (models.QueueOperation, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO queue_operations (operation_id, actor_id, lane_id, action, number, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, op.ID, op.ActorID, op.LaneID, op.Action.String(), op.Number, formatTime(op.CreatedAt))
	if err != nil {
		return models.QueueOperation{}, err
	}
	return op, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable[T any](value *T) any {
	if value == nil {
		return nil
	}
	return *value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, value)
	}
	return t
}

func nullTimePtr(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t := parseTime(value.String)
	return &t
}

var _ store.Store = (*Store)(nil)
