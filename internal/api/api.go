package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schoolportal/internal/analytics"
	"schoolportal/internal/auth"
	"schoolportal/internal/config"
	"schoolportal/internal/ledger"
	"schoolportal/internal/queue"
	"schoolportal/internal/roster"
)

// Deps carries everything the router needs.
type Deps struct {
	Cfg       config.App
	Users     roster.Store
	Allocator *roster.Allocator
	Assigner  *roster.Assigner
	Ledger    *ledger.Service
	Analytics *analytics.Engine
	Events    queue.Queue
	Healthy   func(ctx context.Context) map[string]bool
}

// NewRouter builds the gin engine with the full middleware chain and routes.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(newRateLimiter(d.Cfg.RateLimitPerMin))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		checks := map[string]bool{}
		if d.Healthy != nil {
			checks = d.Healthy(c.Request.Context())
		}
		status := http.StatusOK
		for _, ok := range checks {
			if !ok {
				status = http.StatusServiceUnavailable
			}
		}
		body := gin.H{"status": "ok"}
		for name, ok := range checks {
			body[name] = ok
		}
		c.JSON(status, body)
	})

	r.POST("/v1/auth/register", d.register)
	r.POST("/v1/auth/login", d.login)

	authed := r.Group("/v1", auth.RequireAuth(d.Cfg.JWTSigningKey, d.Cfg.JWTIssuer))

	teacher := authed.Group("", auth.RequireRole(d.Users, roster.RoleTeacher))
	teacher.GET("/roster", d.getRoster)
	teacher.POST("/students", d.provisionStudent)
	teacher.POST("/attendance", d.submitAttendance)
	teacher.GET("/attendance/submitted", d.checkSubmitted)

	student := authed.Group("", auth.RequireRole(d.Users, roster.RoleStudent))
	student.GET("/attendance/calendar", d.getCalendar)
	student.GET("/attendance/summary", d.getSummary)

	return r
}

// register creates an account, persists its user record, and emits the
// account-created event the role assigner consumes. The issued token already
// carries the computed role so the account is usable before the worker
// catches up; the stored role attribute remains the source of truth.
func (d Deps) register(c *gin.Context) {
	var req struct {
		Name  string `json:"name" binding:"required"`
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if existing, err := d.Users.GetUserByEmail(c.Request.Context(), req.Email); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	} else if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	}

	u := roster.User{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Email:     req.Email,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.Users.CreateUser(c.Request.Context(), u); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	d.publishAccountCreated(c.Request.Context(), u.ID, u.Email)

	role := d.Assigner.RoleFor(req.Email)
	tokens, err := auth.Issue(u.ID, role, d.Cfg.JWTIssuer, d.Cfg.JWTSigningKey, d.Cfg.AccessTTL, d.Cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"account_id":    u.ID,
		"role":          role,
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// login re-issues tokens for an existing account. The role claim comes from
// the stored attribute through the default-deny decoder.
func (d Deps) login(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := d.Users.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	if u == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown account"})
		return
	}

	role := roster.DecodeRole(u.Role)
	tokens, err := auth.Issue(u.ID, role, d.Cfg.JWTIssuer, d.Cfg.JWTSigningKey, d.Cfg.AccessTTL, d.Cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account_id":    u.ID,
		"role":          role,
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// getRoster reconciles roll numbers and returns the ordered roster.
func (d Deps) getRoster(c *gin.Context) {
	entries, err := d.Allocator.Reconcile(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "roster unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": entries})
}

// provisionStudent creates a student record on a teacher's behalf.
func (d Deps) provisionStudent(c *gin.Context) {
	var req struct {
		Name  string `json:"name" binding:"required"`
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u := roster.User{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Email:     req.Email,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.Users.CreateUser(c.Request.Context(), u); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "provisioning failed"})
		return
	}
	d.publishAccountCreated(c.Request.Context(), u.ID, u.Email)

	c.JSON(http.StatusCreated, gin.H{"account_id": u.ID})
}

// submitAttendance records one session for the calling teacher, today only.
func (d Deps) submitAttendance(c *gin.Context) {
	var req struct {
		Date    string               `json:"date"`
		Records []ledger.RecordInput `json:"records" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, _ := auth.ClaimsFrom(c)
	session, err := d.Ledger.Submit(c.Request.Context(), claims.Subject, req.Date, req.Records)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{
			"session_id": session.ID,
			"date":       session.Date,
			"records":    len(session.Records),
		})
	case errors.Is(err, ledger.ErrAlreadySubmitted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrNotToday),
		errors.Is(err, ledger.ErrInvalidStatus),
		errors.Is(err, ledger.ErrRosterMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Printf("api: attendance submit failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submission failed"})
	}
}

// checkSubmitted reports whether the calling teacher already submitted for
// the given date (today when omitted).
func (d Deps) checkSubmitted(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	submitted, err := d.Ledger.CheckSubmitted(c.Request.Context(), claims.Subject, c.Query("date"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "check failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"submitted": submitted})
}

// getCalendar returns the caller's 210-day attendance calendar, matched by
// their current roll number.
func (d Deps) getCalendar(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	u, err := d.Users.GetUser(c.Request.Context(), claims.Subject)
	if err != nil || u == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "calendar unavailable"})
		return
	}

	cal, err := d.Analytics.BuildCalendar(c.Request.Context(), u.RollNo)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "calendar unavailable"})
		return
	}
	c.JSON(http.StatusOK, cal)
}

// getSummary returns the caller's aggregate counts matched by stable id.
func (d Deps) getSummary(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	sum, err := d.Analytics.SummaryByStudent(c.Request.Context(), claims.Subject)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "summary unavailable"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// publishAccountCreated hands the event to the role-assignment worker. A
// publish failure only delays the role write; the account decodes to student
// in the meantime.
func (d Deps) publishAccountCreated(ctx context.Context, accountID, email string) {
	if d.Events == nil {
		return
	}
	body, err := json.Marshal(roster.AccountEvent{AccountID: accountID, Email: email})
	if err != nil {
		return
	}
	if err := d.Events.Publish(ctx, queue.Message{Type: queue.TypeAccountCreated, Body: body}); err != nil {
		log.Printf("api: account event publish failed: %v", err)
	}
}
