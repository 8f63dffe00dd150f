package roster

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

func TestDecodeRole(t *testing.T) {
	tests := []struct {
		raw  string
		want Role
	}{
		{"teacher", RoleTeacher},
		{"Teacher", RoleTeacher},
		{" teacher ", RoleTeacher},
		{"student", RoleStudent},
		{"", RoleStudent},
		{"admin", RoleStudent},
		{"TEACHERX", RoleStudent},
	}
	for _, tt := range tests {
		if got := DecodeRole(tt.raw); got != tt.want {
			t.Errorf("DecodeRole(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestAssignerRoleFor(t *testing.T) {
	a := NewAssigner(NewMemory(), "@teacher.school.com", "admin@school.com")

	tests := []struct {
		email string
		want  Role
	}{
		{"t1@teacher.school.com", RoleTeacher},
		{"admin@school.com", RoleTeacher},
		{"s1@gmail.com", RoleStudent},
		{"t1@school.com", RoleStudent},
		{"", RoleStudent},
	}
	for _, tt := range tests {
		if got := a.RoleFor(tt.email); got != tt.want {
			t.Errorf("RoleFor(%q) = %q, want %q", tt.email, got, tt.want)
		}
	}
}

func TestAssignerApplyIsIdempotentAndMerges(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	a := NewAssigner(mem, "@teacher.school.com", "admin@school.com")

	if err := mem.CreateUser(ctx, User{ID: "u1", Name: "Tina", Email: "t1@teacher.school.com"}); err != nil {
		t.Fatal(err)
	}

	evt := AccountEvent{AccountID: "u1", Email: "t1@teacher.school.com"}
	for i := 0; i < 3; i++ {
		if err := a.Apply(ctx, evt); err != nil {
			t.Fatalf("apply #%d: %v", i+1, err)
		}
	}

	u, err := mem.GetUser(ctx, "u1")
	if err != nil || u == nil {
		t.Fatalf("GetUser: %v, %v", u, err)
	}
	if u.Role != string(RoleTeacher) {
		t.Errorf("role = %q, want teacher", u.Role)
	}
	if u.Name != "Tina" {
		t.Errorf("merge write lost name: %q", u.Name)
	}
}

func TestAssignerApplyBeforeProfileWrite(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	a := NewAssigner(mem, "@teacher.school.com", "admin@school.com")

	if err := a.Apply(ctx, AccountEvent{AccountID: "u9", Email: "s@gmail.com"}); err != nil {
		t.Fatal(err)
	}
	u, _ := mem.GetUser(ctx, "u9")
	if u == nil || u.Role != string(RoleStudent) {
		t.Fatalf("want student role record, got %+v", u)
	}
}

func TestFormatRollNo(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "0001"},
		{42, "0042"},
		{9999, "9999"},
		{10000, "10000"}, // padding silently overflows
	}
	for _, tt := range tests {
		if got := FormatRollNo(tt.n); got != tt.want {
			t.Errorf("FormatRollNo(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestReconcileOrdersByRegistrationTime(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	base := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)

	// inserted out of registration order on purpose
	seed := []User{
		{ID: "c", Name: "Cara", Email: "c@gmail.com", Role: "student", CreatedAt: base.AddDate(0, 0, 2)},
		{ID: "a", Name: "Abe", Email: "a@gmail.com", Role: "student", CreatedAt: base},
		{ID: "t", Name: "Tess", Email: "t@teacher.school.com", Role: "teacher", CreatedAt: base},
		{ID: "b", Name: "Ben", Email: "b@gmail.com", Role: "student", CreatedAt: base.AddDate(0, 0, 1)},
		{ID: "z", Name: "Zoe", Email: "z@gmail.com"}, // no timestamp: sorts first
	}
	for _, u := range seed {
		mem.mu.Lock()
		mem.users[u.ID] = u
		mem.mu.Unlock()
	}

	al := NewAllocator(mem)
	got, err := al.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}

	want := []Entry{
		{ID: "z", Name: "Zoe", RollNo: "0001", Email: "z@gmail.com"},
		{ID: "a", Name: "Abe", RollNo: "0002", Email: "a@gmail.com"},
		{ID: "b", Name: "Ben", RollNo: "0003", Email: "b@gmail.com"},
		{ID: "c", Name: "Cara", RollNo: "0004", Email: "c@gmail.com"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("roster mismatch\n got: %+v\nwant: %+v", got, want)
	}

	// numbers were persisted back onto the records
	for _, e := range want {
		u, _ := mem.GetUser(ctx, e.ID)
		if u.RollNo != e.RollNo {
			t.Errorf("persisted roll for %s = %q, want %q", e.ID, u.RollNo, e.RollNo)
		}
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	base := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("s%d", i)
		_ = mem.CreateUser(ctx, User{ID: id, Name: id, Email: id + "@gmail.com", Role: "student", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	al := NewAllocator(mem)
	first, err := al.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := al.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("reconcile not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
	for i, e := range first {
		if e.RollNo != FormatRollNo(i+1) {
			t.Errorf("entry %d roll = %q, want %q", i, e.RollNo, FormatRollNo(i+1))
		}
	}
}

func TestReconcileRenumbersAfterRemoval(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	base := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("s%d", i)
		_ = mem.CreateUser(ctx, User{ID: id, Role: "student", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	al := NewAllocator(mem)
	if _, err := al.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}

	mem.mu.Lock()
	delete(mem.users, "s0")
	mem.mu.Unlock()

	got, err := al.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].RollNo != "0001" || got[1].RollNo != "0002" {
		t.Errorf("numbering not dense after removal: %+v", got)
	}
	if got[0].ID != "s1" {
		t.Errorf("s1 should move to 0001, got %s", got[0].ID)
	}
}

// failingRollStore drops roll-number writes for one student.
type failingRollStore struct {
	*Memory
	failID string
}

func (f *failingRollStore) MergeRollNo(ctx context.Context, id, rollNo string) error {
	if id == f.failID {
		return errors.New("write refused")
	}
	return f.Memory.MergeRollNo(ctx, id, rollNo)
}

func TestReconcilePartialWriteFailure(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	base := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("s%d", i)
		_ = mem.CreateUser(ctx, User{ID: id, Role: "student", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	al := NewAllocator(&failingRollStore{Memory: mem, failID: "s1"})
	got, err := al.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// the in-memory view still carries the intended numbering
	if len(got) != 3 || got[1].ID != "s1" || got[1].RollNo != "0002" {
		t.Fatalf("view should keep intended numbering, got %+v", got)
	}
	// and s1's stale stored value heals on the next successful pass
	u, _ := mem.GetUser(ctx, "s1")
	if u.RollNo != "" {
		t.Errorf("failed write should leave stored roll empty, got %q", u.RollNo)
	}
	if _, err := NewAllocator(mem).Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	u, _ = mem.GetUser(ctx, "s1")
	if u.RollNo != "0002" {
		t.Errorf("roll should self-heal to 0002, got %q", u.RollNo)
	}
}
