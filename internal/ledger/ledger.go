package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"schoolportal/internal/roster"
)

// DateLayout is the day-granularity date format used in sessions.
const DateLayout = "2006-01-02"

// Attendance statuses, lowercase on the wire. Reads compare case-insensitively.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
	StatusLate    = "late"
)

var (
	ErrAlreadySubmitted = errors.New("attendance already submitted for this date")
	ErrNotToday         = errors.New("attendance can only be submitted for today")
	ErrInvalidStatus    = errors.New("invalid attendance status")
	ErrRosterMismatch   = errors.New("records do not match the current roster")
)

// Record is one student's status inside a session. Name, email and roll
// number are snapshots taken at submission time and never updated afterwards.
type Record struct {
	StudentID    string `json:"student_id"`
	StudentName  string `json:"student_name"`
	StudentEmail string `json:"student_email"`
	RollNo       string `json:"roll_no"`
	Status       string `json:"status"`
}

// Session is one teacher's complete roll-call for one calendar date.
// Sessions are immutable once created.
type Session struct {
	ID        string    `json:"id"`
	TeacherID string    `json:"teacher_id"`
	Date      string    `json:"date"`
	CreatedAt time.Time `json:"created_at"`
	Records   []Record  `json:"records"`
}

// RecordInput is the caller-supplied status for one student.
type RecordInput struct {
	StudentID string `json:"student_id"`
	Status    string `json:"status"`
}

// Store persists sessions. CreateSession must be atomic per (teacher, date):
// when a session for the pair already exists it returns ErrAlreadySubmitted
// and writes nothing, even under concurrent submissions.
type Store interface {
	CreateSession(ctx context.Context, s Session) error
	SessionExists(ctx context.Context, teacherID, date string) (bool, error)
	ListSessions(ctx context.Context) ([]Session, error)
}

// RosterSource yields the current ordered roster snapshot.
type RosterSource interface {
	Reconcile(ctx context.Context) ([]roster.Entry, error)
}

var (
	submissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_attendance_submissions_total",
		Help: "Attendance sessions accepted.",
	})
	duplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_attendance_duplicates_total",
		Help: "Attendance submissions rejected as duplicates.",
	})
)

// overridable in tests
var nowFunc = time.Now

// Service records immutable attendance sessions, one per teacher per day.
type Service struct {
	store  Store
	roster RosterSource
}

// NewService creates a ledger service over a session store and roster source.
func NewService(store Store, rosterSrc RosterSource) *Service {
	return &Service{store: store, roster: rosterSrc}
}

// Submit records one attendance session for the given teacher and date.
// The date must be today in the caller's zone. Inputs must cover the current
// roster exactly; each record denormalizes the student's name, email and roll
// number as of this instant. A second submission for the same (teacher, date)
// returns ErrAlreadySubmitted and leaves the ledger unchanged.
func (s *Service) Submit(ctx context.Context, teacherID, date string, inputs []RecordInput) (Session, error) {
	if teacherID == "" {
		return Session{}, errors.New("teacher id required")
	}
	today := nowFunc().Format(DateLayout)
	if date == "" {
		date = today
	}
	if date != today {
		return Session{}, ErrNotToday
	}

	// Fast path; the store's conditional create still closes the race when
	// two submissions pass this check together.
	if exists, err := s.store.SessionExists(ctx, teacherID, date); err != nil {
		return Session{}, fmt.Errorf("existence check: %w", err)
	} else if exists {
		duplicatesTotal.Inc()
		return Session{}, ErrAlreadySubmitted
	}

	snapshot, err := s.roster.Reconcile(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("roster snapshot: %w", err)
	}

	byStudent := make(map[string]string, len(inputs))
	for _, in := range inputs {
		switch in.Status {
		case StatusPresent, StatusAbsent, StatusLate:
		default:
			return Session{}, fmt.Errorf("%w: %q", ErrInvalidStatus, in.Status)
		}
		if _, dup := byStudent[in.StudentID]; dup {
			return Session{}, fmt.Errorf("%w: duplicate record for student %s", ErrRosterMismatch, in.StudentID)
		}
		byStudent[in.StudentID] = in.Status
	}
	if len(byStudent) != len(snapshot) {
		return Session{}, fmt.Errorf("%w: got %d records for %d students", ErrRosterMismatch, len(byStudent), len(snapshot))
	}

	records := make([]Record, 0, len(snapshot))
	for _, student := range snapshot {
		status, ok := byStudent[student.ID]
		if !ok {
			return Session{}, fmt.Errorf("%w: no record for student %s", ErrRosterMismatch, student.ID)
		}
		records = append(records, Record{
			StudentID:    student.ID,
			StudentName:  student.Name,
			StudentEmail: student.Email,
			RollNo:       student.RollNo,
			Status:       status,
		})
	}

	session := Session{
		ID:        uuid.NewString(),
		TeacherID: teacherID,
		Date:      date,
		CreatedAt: nowFunc().UTC(),
		Records:   records,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		if errors.Is(err, ErrAlreadySubmitted) {
			duplicatesTotal.Inc()
			return Session{}, ErrAlreadySubmitted
		}
		return Session{}, fmt.Errorf("persist session: %w", err)
	}
	submissionsTotal.Inc()
	return session, nil
}

// CheckSubmitted reports whether a session already exists for (teacher, date).
// Callers use it to disable the submission control for the rest of the day.
func (s *Service) CheckSubmitted(ctx context.Context, teacherID, date string) (bool, error) {
	if date == "" {
		date = nowFunc().Format(DateLayout)
	}
	return s.store.SessionExists(ctx, teacherID, date)
}
