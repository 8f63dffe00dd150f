package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolportal/internal/analytics"
	"schoolportal/internal/config"
	"schoolportal/internal/ledger"
	"schoolportal/internal/queue"
	"schoolportal/internal/roster"
)

type testEnv struct {
	router   *gin.Engine
	users    *roster.Memory
	assigner *roster.Assigner
	events   *queue.InMemory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.App{
		Env:             "test",
		JWTIssuer:       "school-portal-test",
		JWTSigningKey:   "test-signing-key",
		AccessTTL:       time.Minute,
		RefreshTTL:      time.Hour,
		TeacherDomain:   "@teacher.school.com",
		AdminEmail:      "admin@school.com",
		RateLimitPerMin: 10000,
	}

	users := roster.NewMemory()
	sessions := ledger.NewMemory()
	events := queue.NewInMemory(16)
	assigner := roster.NewAssigner(users, cfg.TeacherDomain, cfg.AdminEmail)
	allocator := roster.NewAllocator(users)

	router := NewRouter(Deps{
		Cfg:       cfg,
		Users:     users,
		Allocator: allocator,
		Assigner:  assigner,
		Ledger:    ledger.NewService(sessions, allocator),
		Analytics: analytics.NewEngine(sessions),
		Events:    events,
		Healthy:   func(context.Context) map[string]bool { return map[string]bool{"store": true} },
	})

	return &testEnv{router: router, users: users, assigner: assigner, events: events}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type authResponse struct {
	AccountID   string `json:"account_id"`
	Role        string `json:"role"`
	AccessToken string `json:"access_token"`
}

func (e *testEnv) register(t *testing.T, name, email string) authResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/v1/auth/register", "", gin.H{"name": name, "email": email})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp authResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	// registrations are ordered by timestamp; keep them distinct
	time.Sleep(2 * time.Millisecond)
	return resp
}

// drainEvents plays the worker: apply queued account events to the store.
func (e *testEnv) drainEvents(t *testing.T, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, err := e.events.Consume(ctx)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		select {
		case msg := <-msgs:
			require.Equal(t, queue.TypeAccountCreated, msg.Type)
			var evt roster.AccountEvent
			require.NoError(t, json.Unmarshal(msg.Body, &evt))
			require.NoError(t, e.assigner.Apply(ctx, evt))
		case <-ctx.Done():
			t.Fatalf("only drained %d of %d events", i, n)
		}
	}
}

func TestRegisterAssignsRoles(t *testing.T) {
	e := newTestEnv(t)

	teacher := e.register(t, "Tess", "t1@teacher.school.com")
	assert.Equal(t, "teacher", teacher.Role)

	student := e.register(t, "Sam", "s1@gmail.com")
	assert.Equal(t, "student", student.Role)

	// role attribute lands via the account event, not the register handler
	u, err := e.users.GetUser(context.Background(), teacher.AccountID)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Empty(t, u.Role)

	e.drainEvents(t, 2)

	u, err = e.users.GetUser(context.Background(), teacher.AccountID)
	require.NoError(t, err)
	assert.Equal(t, "teacher", u.Role)
}

func TestTeacherRoutesAreGated(t *testing.T) {
	e := newTestEnv(t)
	teacher := e.register(t, "Tess", "t1@teacher.school.com")
	student := e.register(t, "Sam", "s1@gmail.com")

	// until the role write lands, even the teacher token decodes to student
	w := e.do(t, http.MethodGet, "/v1/roster", teacher.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	e.drainEvents(t, 2)

	w = e.do(t, http.MethodGet, "/v1/roster", teacher.AccessToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/v1/roster", student.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), `"/dashboard"`)

	w = e.do(t, http.MethodGet, "/v1/roster", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"/"`)
}

func TestAttendanceFlow(t *testing.T) {
	e := newTestEnv(t)
	teacher := e.register(t, "Tess", "t1@teacher.school.com")
	studentA := e.register(t, "Abe", "a@gmail.com")
	studentB := e.register(t, "Ben", "b@gmail.com")
	e.drainEvents(t, 3)

	// roster assigns dense roll numbers in registration order
	w := e.do(t, http.MethodGet, "/v1/roster", teacher.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rosterResp struct {
		Students []roster.Entry `json:"students"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rosterResp))
	require.Len(t, rosterResp.Students, 2)
	assert.Equal(t, studentA.AccountID, rosterResp.Students[0].ID)
	assert.Equal(t, "0001", rosterResp.Students[0].RollNo)
	assert.Equal(t, studentB.AccountID, rosterResp.Students[1].ID)
	assert.Equal(t, "0002", rosterResp.Students[1].RollNo)

	submit := gin.H{"records": []gin.H{
		{"student_id": studentA.AccountID, "status": "present"},
		{"student_id": studentB.AccountID, "status": "absent"},
	}}
	w = e.do(t, http.MethodPost, "/v1/attendance", teacher.AccessToken, submit)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = e.do(t, http.MethodGet, "/v1/attendance/submitted", teacher.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"submitted":true`)

	// one session per teacher per day
	w = e.do(t, http.MethodPost, "/v1/attendance", teacher.AccessToken, submit)
	assert.Equal(t, http.StatusConflict, w.Code)

	// student A sees today as present
	w = e.do(t, http.MethodGet, "/v1/attendance/calendar", studentA.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cal analytics.Calendar
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cal))
	require.Len(t, cal.Days, analytics.WindowDays)
	assert.Equal(t, "present", cal.Days[len(cal.Days)-1].Status)
	assert.GreaterOrEqual(t, cal.PresentCount, 1)

	// student B sees today as absent
	w = e.do(t, http.MethodGet, "/v1/attendance/calendar", studentB.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cal))
	assert.Equal(t, "absent", cal.Days[len(cal.Days)-1].Status)

	// stable-id summary agrees while roll numbers are unchanged
	w = e.do(t, http.MethodGet, "/v1/attendance/summary", studentA.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sum analytics.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, 1, sum.PresentCount)
	assert.Equal(t, 0, sum.AbsentCount)

	// teachers have no calendar view
	w = e.do(t, http.MethodGet, "/v1/attendance/calendar", teacher.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLoginUsesStoredRole(t *testing.T) {
	e := newTestEnv(t)
	teacher := e.register(t, "Tess", "t1@teacher.school.com")

	// before the role write lands, login mints a student token
	w := e.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"email": "t1@teacher.school.com"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp authResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "student", resp.Role)
	assert.Equal(t, teacher.AccountID, resp.AccountID)

	e.drainEvents(t, 1)

	w = e.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"email": "t1@teacher.school.com"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "teacher", resp.Role)

	w = e.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"email": "nobody@gmail.com"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"store":true`)
}
