package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"followup-engine/internal/common/errors"
	"followup-engine/internal/common/logger"
	"followup-engine/internal/followup"
)

const recordColumns = `id, user_id, subject, contact, priority, due_date, time_zone, status, notes,
	key_points, reminder_settings, completed_at, completion_notes, dispatched_reminders, source,
	created_at, updated_at, version`

// PostgresStore keeps records in the follow_ups table.
type PostgresStore struct {
	db     *sql.DB
	logger logger.Logger
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithLogger sets the logger that reports undecodable rows.
func WithLogger(l logger.Logger) PostgresOption {
	return func(s *PostgresStore) { s.logger = l }
}

// NewPostgresStore creates a record store over db.
func NewPostgresStore(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, logger: logger.NewNoOpLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// decodeError marks a row that was read but whose JSON columns could not be
// decoded.
type decodeError struct {
	id  string
	err error
}

func (e *decodeError) Error() string { return fmt.Sprintf("follow-up %s: %v", e.id, e.err) }

func (e *decodeError) Unwrap() error { return e.err }

type encodedRecord struct {
	contact    []byte
	keyPoints  []byte
	settings   []byte
	dispatched []byte
}

func encode(r *followup.Record) (*encodedRecord, error) {
	var (
		enc encodedRecord
		err error
	)
	if r.Contact != nil {
		if enc.contact, err = json.Marshal(r.Contact); err != nil {
			return nil, err
		}
	}
	keyPoints := r.KeyPoints
	if keyPoints == nil {
		keyPoints = []string{}
	}
	if enc.keyPoints, err = json.Marshal(keyPoints); err != nil {
		return nil, err
	}
	if enc.settings, err = json.Marshal(r.Reminders); err != nil {
		return nil, err
	}
	dispatched := r.DispatchedReminders
	if dispatched == nil {
		dispatched = []followup.DispatchKey{}
	}
	if enc.dispatched, err = json.Marshal(dispatched); err != nil {
		return nil, err
	}
	return &enc, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*followup.Record, error) {
	var (
		r                                      followup.Record
		contact, keyPoints, settings, dispatch []byte
		completedAt                            sql.NullTime
		completionNotes                        sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.UserID, &r.Subject, &contact, &r.Priority, &r.DueDate, &r.TimeZone, &r.Status, &r.Notes,
		&keyPoints, &settings, &completedAt, &completionNotes, &dispatch, &r.Source,
		&r.CreatedAt, &r.UpdatedAt, &r.Version,
	)
	if err != nil {
		return nil, err
	}

	if len(contact) > 0 && string(contact) != "null" {
		r.Contact = &followup.Contact{}
		if err := json.Unmarshal(contact, r.Contact); err != nil {
			return nil, &decodeError{id: r.ID, err: fmt.Errorf("decode contact: %w", err)}
		}
	}
	r.KeyPoints = []string{}
	if len(keyPoints) > 0 {
		if err := json.Unmarshal(keyPoints, &r.KeyPoints); err != nil {
			return nil, &decodeError{id: r.ID, err: fmt.Errorf("decode key points: %w", err)}
		}
	}
	if err := json.Unmarshal(settings, &r.Reminders); err != nil {
		return nil, &decodeError{id: r.ID, err: fmt.Errorf("decode reminder settings: %w", err)}
	}
	r.DispatchedReminders = []followup.DispatchKey{}
	if len(dispatch) > 0 {
		if err := json.Unmarshal(dispatch, &r.DispatchedReminders); err != nil {
			return nil, &decodeError{id: r.ID, err: fmt.Errorf("decode dispatched reminders: %w", err)}
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	if completionNotes.Valid {
		n := completionNotes.String
		r.CompletionNotes = &n
	}
	return &r, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// Create inserts a new record at version 1.
func (s *PostgresStore) Create(ctx context.Context, r *followup.Record) error {
	enc, err := encode(r)
	if err != nil {
		return errors.NewInputParsingFailedError(err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO follow_ups (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, 1)`,
		r.ID, r.UserID, r.Subject, enc.contact, r.Priority, r.DueDate, r.TimeZone, r.Status, r.Notes,
		enc.keyPoints, enc.settings, nullTime(r.CompletedAt), nullString(r.CompletionNotes), enc.dispatched,
		r.Source, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return errors.NewQueryExecutionFailedError("insert follow-up", err)
	}
	r.Version = 1
	return nil
}

// Get loads a record by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*followup.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM follow_ups WHERE id = $1`, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("follow-up", id)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get follow-up", err)
	}
	return r, nil
}

// Update writes r when the stored version still equals r.Version.
func (s *PostgresStore) Update(ctx context.Context, r *followup.Record) error {
	enc, err := encode(r)
	if err != nil {
		return errors.NewInputParsingFailedError(err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE follow_ups SET
			subject = $3, contact = $4, priority = $5, due_date = $6, time_zone = $7, status = $8,
			notes = $9, key_points = $10, reminder_settings = $11, completed_at = $12,
			completion_notes = $13, dispatched_reminders = $14, source = $15, updated_at = $16,
			version = version + 1
		WHERE id = $1 AND version = $2`,
		r.ID, r.Version, r.Subject, enc.contact, r.Priority, r.DueDate, r.TimeZone, r.Status,
		r.Notes, enc.keyPoints, enc.settings, nullTime(r.CompletedAt),
		nullString(r.CompletionNotes), enc.dispatched, r.Source, r.UpdatedAt,
	)
	if err != nil {
		return errors.NewQueryExecutionFailedError("update follow-up", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewQueryExecutionFailedError("update follow-up", err)
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM follow_ups WHERE id = $1)`, r.ID).Scan(&exists); err != nil {
			return errors.NewQueryExecutionFailedError("update follow-up", err)
		}
		if !exists {
			return errors.NewNotFoundError("follow-up", r.ID)
		}
		return errors.NewStaleWriteError(r.ID, r.Version)
	}

	r.Version++
	return nil
}

// Delete removes a record.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM follow_ups WHERE id = $1`, id)
	if err != nil {
		return errors.NewQueryExecutionFailedError("delete follow-up", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFoundError("follow-up", id)
	}
	return nil
}

func buildWhere(f ListFilter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.Priority != nil {
		add("priority = $%d", string(*f.Priority))
	}
	if f.DueBefore != nil {
		add("due_date < $%d", *f.DueBefore)
	}
	if f.DueAfter != nil {
		add("due_date > $%d", *f.DueAfter)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List returns a page of records and the total number of matches.
func (s *PostgresStore) List(ctx context.Context, f ListFilter) ([]*followup.Record, int, error) {
	where, args := buildWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM follow_ups`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewQueryExecutionFailedError("count follow-ups", err)
	}

	query := `SELECT ` + recordColumns + ` FROM follow_ups` + where + ` ORDER BY due_date ASC, id ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	records, err := s.query(ctx, "list follow-ups", query, args...)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ListOpen returns the records the scheduler has to look at.
func (s *PostgresStore) ListOpen(ctx context.Context) ([]*followup.Record, error) {
	return s.query(ctx, "list open follow-ups", `
		SELECT `+recordColumns+` FROM follow_ups
		WHERE status IN ('pending', 'in-progress')
		  AND (reminder_settings->>'enabled')::boolean
		ORDER BY due_date ASC, id ASC`)
}

func (s *PostgresStore) query(ctx context.Context, op, query string, args ...interface{}) ([]*followup.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError(op, err)
	}
	defer rows.Close()

	records := []*followup.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		var de *decodeError
		if stderrors.As(err, &de) {
			// one corrupt row must not hide the others
			s.logger.Error("skipping undecodable follow-up", map[string]interface{}{
				"operation":  op,
				"followUpId": de.id,
				"error":      de.err,
			})
			continue
		}
		if err != nil {
			return nil, errors.NewQueryExecutionFailedError(op, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError(op, err)
	}
	return records, nil
}

// ConfirmDispatch appends key in a single conditional statement, so
// concurrent confirmations of the same key write it once.
func (s *PostgresStore) ConfirmDispatch(ctx context.Context, id string, dueDate time.Time, key followup.DispatchKey) (bool, error) {
	keyJSON, err := json.Marshal([]followup.DispatchKey{key})
	if err != nil {
		return false, errors.NewInputParsingFailedError(err)
	}
	entryJSON, err := json.Marshal([]followup.ReminderEntry{{Offset: key.Offset, Channel: key.Channel}})
	if err != nil {
		return false, errors.NewInputParsingFailedError(err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE follow_ups SET
			dispatched_reminders = dispatched_reminders || $3::jsonb,
			version = version + 1
		WHERE id = $1
		  AND due_date = $2
		  AND reminder_settings->'schedule' @> $4::jsonb
		  AND NOT dispatched_reminders @> $3::jsonb`,
		id, dueDate, string(keyJSON), string(entryJSON),
	)
	if err != nil {
		return false, errors.NewQueryExecutionFailedError("confirm dispatch", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewQueryExecutionFailedError("confirm dispatch", err)
	}
	return n == 1, nil
}
