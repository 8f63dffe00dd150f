package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"schoolportal/internal/ledger"
)

// The calendar covers the trailing 30 weeks ending today.
const (
	WindowWeeks = 30
	DaysPerWeek = 7
	WindowDays  = WindowWeeks * DaysPerWeek
)

// StatusNone marks a calendar day with no recorded attendance.
const StatusNone = "none"

// Day is one slot of the attendance calendar.
type Day struct {
	Date   string `json:"date"`
	Status string `json:"status"`
}

// Calendar is the derived per-student attendance view. It is recomputed from
// persisted sessions on every call and never stored.
type Calendar struct {
	Days         []Day `json:"days"`
	PresentCount int   `json:"present_count"`
	AbsentCount  int   `json:"absent_count"`
	MaxStreak    int   `json:"max_streak"`
}

// Summary aggregates a student's records across all sessions, matched by the
// stable student id rather than the roll number.
type Summary struct {
	PresentCount int `json:"present_count"`
	AbsentCount  int `json:"absent_count"`
	LateCount    int `json:"late_count"`
	TotalRecords int `json:"total_records"`
}

// SessionSource reads persisted attendance sessions.
type SessionSource interface {
	ListSessions(ctx context.Context) ([]ledger.Session, error)
}

// overridable in tests
var nowFunc = time.Now

// Engine derives attendance views from the session ledger. All methods are
// read-only and deterministic for a given set of stored sessions.
type Engine struct {
	sessions SessionSource
}

// NewEngine creates an engine over a session source.
func NewEngine(sessions SessionSource) *Engine {
	return &Engine{sessions: sessions}
}

// BuildCalendar returns the trailing 210-day calendar for the student holding
// the given roll number, along with present/absent counters and the longest
// run of consecutive present days in the window.
//
// Records are matched by the student's current roll number, not the stable
// student id. Roll numbers are reconciled from registration order on every
// roster read, so a record written before the roster changed may stop
// matching, or match a different student. Use SummaryByStudent where a
// stable match matters.
func (e *Engine) BuildCalendar(ctx context.Context, rollNo string) (Calendar, error) {
	cal := emptyCalendar(nowFunc())
	if rollNo == "" {
		return cal, nil
	}

	slot := make(map[string]int, len(cal.Days))
	for i, d := range cal.Days {
		slot[d.Date] = i
	}

	sessions, err := e.sessions.ListSessions(ctx)
	if err != nil {
		return Calendar{}, fmt.Errorf("list sessions: %w", err)
	}

	for _, session := range sessions {
		for _, rec := range session.Records {
			if rec.RollNo != rollNo {
				continue
			}
			i, ok := slot[session.Date]
			if !ok {
				continue
			}
			status := strings.ToLower(rec.Status)
			cal.Days[i].Status = status
			switch status {
			case ledger.StatusPresent:
				cal.PresentCount++
			case ledger.StatusAbsent:
				cal.AbsentCount++
			}
		}
	}

	streak := 0
	for _, d := range cal.Days {
		if d.Status == ledger.StatusPresent {
			streak++
			if streak > cal.MaxStreak {
				cal.MaxStreak = streak
			}
		} else {
			streak = 0
		}
	}
	return cal, nil
}

// SummaryByStudent counts a student's records across all sessions, matched by
// stable student id.
func (e *Engine) SummaryByStudent(ctx context.Context, studentID string) (Summary, error) {
	var sum Summary
	if studentID == "" {
		return sum, nil
	}
	sessions, err := e.sessions.ListSessions(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list sessions: %w", err)
	}
	for _, session := range sessions {
		for _, rec := range session.Records {
			if rec.StudentID != studentID {
				continue
			}
			sum.TotalRecords++
			switch strings.ToLower(rec.Status) {
			case ledger.StatusPresent:
				sum.PresentCount++
			case ledger.StatusAbsent:
				sum.AbsentCount++
			case ledger.StatusLate:
				sum.LateCount++
			}
		}
	}
	return sum, nil
}

// emptyCalendar builds the 210-day window ending at (and including) today,
// every slot initialized to "none".
func emptyCalendar(today time.Time) Calendar {
	days := make([]Day, WindowDays)
	for i := range days {
		date := today.AddDate(0, 0, -(WindowDays - i - 1))
		days[i] = Day{Date: date.Format(ledger.DateLayout), Status: StatusNone}
	}
	return Calendar{Days: days}
}
