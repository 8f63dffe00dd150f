package ledger

import (
	"context"
	"database/sql"
	"time"
)

// Repository persists attendance sessions in Postgres. The unique index on
// (teacher_id, day) makes CreateSession a true conditional create: of two
// racing submissions exactly one lands.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

// CreateSession inserts a session and its records in one transaction.
// Returns ErrAlreadySubmitted when a session for (teacher, day) exists.
func (r *Repository) CreateSession(ctx context.Context, s Session) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_sessions (id, teacher_id, day, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (teacher_id, day) DO NOTHING
	`, s.ID, s.TeacherID, s.Date, s.CreatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrAlreadySubmitted
	}

	for i, rec := range s.Records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_records (session_id, position, student_id, student_name, student_email, roll_no, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, s.ID, i, rec.StudentID, rec.StudentName, rec.StudentEmail, rec.RollNo, rec.Status); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SessionExists probes for a session with the given teacher and date.
func (r *Repository) SessionExists(ctx context.Context, teacherID, date string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM attendance_sessions WHERE teacher_id = $1 AND day = $2)
	`, teacherID, date)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ListSessions returns every persisted session with its records, newest first.
func (r *Repository) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, teacher_id, day, created_at
		FROM attendance_sessions
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	index := make(map[string]int)
	for rows.Next() {
		var s Session
		var day time.Time
		if err := rows.Scan(&s.ID, &s.TeacherID, &day, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Date = day.Format(DateLayout)
		index[s.ID] = len(sessions)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}

	recRows, err := r.db.QueryContext(ctx, `
		SELECT session_id, student_id, student_name, student_email, roll_no, status
		FROM attendance_records
		ORDER BY session_id, position
	`)
	if err != nil {
		return nil, err
	}
	defer recRows.Close()

	for recRows.Next() {
		var sessionID string
		var rec Record
		if err := recRows.Scan(&sessionID, &rec.StudentID, &rec.StudentName, &rec.StudentEmail, &rec.RollNo, &rec.Status); err != nil {
			return nil, err
		}
		if i, ok := index[sessionID]; ok {
			sessions[i].Records = append(sessions[i].Records, rec)
		}
	}
	return sessions, recRows.Err()
}
