// Package api exposes the follow-up service over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"followup-engine/internal/common/logger"
	"followup-engine/internal/common/metrics"
	"followup-engine/internal/dispatch"
	"followup-engine/internal/followup"
	"followup-engine/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// UserHeader carries the caller identity. Authentication happens upstream.
const UserHeader = "X-User-ID"

const userKey = "userID"

// FollowUpService is the part of the service the API calls.
type FollowUpService interface {
	Create(ctx context.Context, userID string, p followup.NewRecordParams) (*followup.Record, error)
	CreateFromEmail(ctx context.Context, userID string, in service.EmailInput) (*followup.Record, *followup.Detection, error)
	Get(ctx context.Context, userID, id string) (*followup.Record, error)
	Update(ctx context.Context, userID, id string, u followup.RecordUpdate) (*followup.Record, error)
	Delete(ctx context.Context, userID, id string) error
	List(ctx context.Context, userID string, q service.ListQuery) (*service.ListResult, error)
	Transition(ctx context.Context, userID, id string, event followup.Event, notes string) (*followup.Record, error)
	Snooze(ctx context.Context, userID, id string, days int) (*followup.Record, error)
	GetReminders(ctx context.Context, userID, id string) (*service.Reminders, error)
	ReplaceReminders(ctx context.Context, userID, id string, settings followup.ReminderSettings) (*service.Reminders, error)
	SendNow(ctx context.Context, userID, id, target string) ([]*dispatch.Notification, error)
	CheckDue(ctx context.Context, userID string) ([]followup.DueReminder, error)
	Analytics(ctx context.Context, userID string) (*service.Analytics, error)
	Notifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*dispatch.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
}

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server is the HTTP API.
type Server struct {
	svc    FollowUpService
	logger logger.Logger
	ready  []ReadinessCheck
	router *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithReadinessChecks adds dependencies probed by /ready.
func WithReadinessChecks(checks ...ReadinessCheck) Option {
	return func(s *Server) { s.ready = append(s.ready, checks...) }
}

func NewServer(svc FollowUpService, l logger.Logger, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		svc:    svc,
		logger: l.WithFields(map[string]interface{}{"component": "http-api"}),
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", s.health)
	router.GET("/ready", s.readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	fu := router.Group("/followups", s.identity())
	{
		fu.GET("", s.listFollowUps)
		fu.POST("", s.createFollowUp)
		fu.POST("/detect", s.detectFollowUp)
		fu.GET("/check-due", s.checkDue)
		fu.GET("/analytics", s.analytics)
		fu.GET("/:id", s.getFollowUp)
		fu.PUT("/:id", s.updateFollowUp)
		fu.DELETE("/:id", s.deleteFollowUp)
		fu.POST("/:id/start", s.transition(followup.EventStart))
		fu.POST("/:id/complete", s.complete)
		fu.POST("/:id/ignore", s.transition(followup.EventIgnore))
		fu.POST("/:id/reopen", s.transition(followup.EventReopen))
		fu.POST("/:id/snooze", s.snooze)
		fu.GET("/:id/reminders", s.getReminders)
		fu.PUT("/:id/reminders", s.replaceReminders)
		fu.POST("/:id/reminders/send", s.sendReminder)
	}

	notifications := router.Group("/notifications", s.identity())
	{
		notifications.GET("", s.listNotifications)
		notifications.POST("/:id/read", s.markNotificationRead)
	}

	s.router = router
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()

		if route == "/health" || route == "/metrics" {
			return
		}
		s.logger.Debug("request handled", map[string]interface{}{
			"method":   c.Request.Method,
			"route":    route,
			"status":   status,
			"duration": time.Since(start).String(),
		})
	}
}

func (s *Server) identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserHeader))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorBody{
				Code:    "UNAUTHENTICATED",
				Message: "missing " + UserHeader + " header",
			}})
			return
		}
		c.Set(userKey, userID)
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetString(userKey)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.ready))
	status := http.StatusOK
	for _, rc := range s.ready {
		if err := rc.Check(ctx); err != nil {
			checks[rc.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[rc.Name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}
