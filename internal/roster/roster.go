package roster

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

// Role is the effective privilege level of an account.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// DecodeRole maps a stored role attribute to an effective role. An absent,
// empty or unrecognized value always decodes to student, so an account whose
// role write never landed gets the lowest privilege. Every read of the role
// attribute goes through here.
func DecodeRole(raw string) Role {
	if strings.ToLower(strings.TrimSpace(raw)) == string(RoleTeacher) {
		return RoleTeacher
	}
	return RoleStudent
}

// User is one account record in the portal store.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role,omitempty"`
	RollNo    string    `json:"roll_no,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Entry is one row of the ordered roster returned to teacher views.
type Entry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	RollNo string `json:"roll_no"`
	Email  string `json:"email"`
}

// Store persists user records. Merge writes update only the named attribute
// and leave the rest of the record intact.
type Store interface {
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	MergeRole(ctx context.Context, id string, role Role) error
	MergeRollNo(ctx context.Context, id, rollNo string) error
}

// AccountEvent is the identity-provider account-creation event.
type AccountEvent struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email,omitempty"`
}

// FormatRollNo renders a roll number as a 4-digit zero-padded string.
// Values above 9999 spill past the padding unvalidated.
func FormatRollNo(n int) string {
	return fmt.Sprintf("%04d", n)
}

// Assigner computes and persists account roles from account-creation events.
type Assigner struct {
	store         Store
	teacherDomain string
	adminEmail    string
}

// NewAssigner builds an assigner. teacherDomain is the institutional email
// suffix granting the teacher role; adminEmail is the one exact address that
// also gets it.
func NewAssigner(store Store, teacherDomain, adminEmail string) *Assigner {
	return &Assigner{store: store, teacherDomain: teacherDomain, adminEmail: adminEmail}
}

// RoleFor computes the role for a new account's email. A missing email means
// student.
func (a *Assigner) RoleFor(email string) Role {
	if email == "" {
		return RoleStudent
	}
	if strings.HasSuffix(email, a.teacherDomain) || email == a.adminEmail {
		return RoleTeacher
	}
	return RoleStudent
}

// Apply merge-writes the computed role onto the account's user record.
// Re-applying the same event writes the same role, so replays are harmless.
// On failure the account simply keeps decoding to student until a later
// apply succeeds.
func (a *Assigner) Apply(ctx context.Context, evt AccountEvent) error {
	if evt.AccountID == "" {
		return fmt.Errorf("account event missing account id")
	}
	role := a.RoleFor(evt.Email)
	if err := a.store.MergeRole(ctx, evt.AccountID, role); err != nil {
		return fmt.Errorf("persist role %q for account %s: %w", role, evt.AccountID, err)
	}
	return nil
}

// Allocator reconciles roll numbers over the current roster.
type Allocator struct {
	store Store
}

// NewAllocator builds an allocator over the user store.
func NewAllocator(store Store) *Allocator {
	return &Allocator{store: store}
}

// Reconcile lists all students ordered by registration time, assigns dense
// roll numbers 0001..N in that order, and merge-writes each number back onto
// its record. The numbering is recomputed from scratch on every call, so it
// stays dense after deletions and the operation is idempotent on an unchanged
// roster. A failed write for one student is logged and skipped; the returned
// roster still carries the intended numbering for the current view.
func (al *Allocator) Reconcile(ctx context.Context) ([]Entry, error) {
	users, err := al.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	var students []User
	for _, u := range users {
		if DecodeRole(u.Role) == RoleStudent {
			students = append(students, u)
		}
	}

	// Registration order; records with no timestamp sort first. The id
	// tiebreak keeps the ordering stable across calls.
	sort.SliceStable(students, func(i, j int) bool {
		a, b := students[i], students[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	roster := make([]Entry, 0, len(students))
	for i, s := range students {
		rollNo := FormatRollNo(i + 1)
		if err := al.store.MergeRollNo(ctx, s.ID, rollNo); err != nil {
			log.Printf("roster: roll number write for %s failed: %v", s.ID, err)
		}
		roster = append(roster, Entry{ID: s.ID, Name: s.Name, RollNo: rollNo, Email: s.Email})
	}
	return roster, nil
}
