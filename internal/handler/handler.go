package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/Proged2021/Time-card-app-V2/internal/attendance"
	"github.com/Proged2021/Time-card-app-V2/internal/auth"
	"github.com/Proged2021/Time-card-app-V2/internal/httpmiddleware"
	"github.com/Proged2021/Time-card-app-V2/internal/queue"
	"github.com/Proged2021/Time-card-app-V2/internal/schedule"
	"github.com/Proged2021/Time-card-app-V2/internal/tally"
)

// AuthConfig signs and checks access tokens.
type AuthConfig struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
}

// PublishRecorder counts events that could not be queued.
type PublishRecorder interface {
	RecordPublishFailure()
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the collaborators of the HTTP layer. Events, Counter, Metrics
// and Logger may be nil.
type Deps struct {
	Store    attendance.Store
	Service  *attendance.Service
	Reporter *attendance.Reporter
	Eval     schedule.Evaluator
	Clock    schedule.Clock
	Events   queue.Queue
	Counter  tally.Counter
	Metrics  PublishRecorder
	Logger   *zap.Logger
	Auth     AuthConfig
	Health   map[string]HealthCheck

	// ScanRetries is how many times a scan or lookup is retried after a
	// storage failure; RetryBase is the first backoff step. StoreTimeout
	// bounds each lookup attempt made by the handlers themselves.
	ScanRetries  int
	RetryBase    time.Duration
	StoreTimeout time.Duration
}

type Handler struct {
	Deps
}

func New(d Deps) *Handler {
	if d.Clock == nil {
		d.Clock = schedule.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.RetryBase <= 0 {
		d.RetryBase = 50 * time.Millisecond
	}
	if d.ScanRetries < 0 {
		d.ScanRetries = 0
	}
	if d.StoreTimeout <= 0 {
		d.StoreTimeout = attendance.DefaultStoreTimeout
	}
	return &Handler{Deps: d}
}

func (h *Handler) backoff() retry.Backoff {
	return retry.WithMaxRetries(uint64(h.ScanRetries), retry.NewExponential(h.RetryBase))
}

// lookup runs a store read with a bounded timeout per attempt, retrying
// every error with the scan backoff.
func lookup[T any](ctx context.Context, h *Handler, fn func(context.Context) (T, error)) (T, error) {
	return retry.DoValue[T](ctx, h.backoff(), func(ctx context.Context) (T, error) {
		ctx, cancel := context.WithTimeout(ctx, h.StoreTimeout)
		defer cancel()
		v, err := fn(ctx)
		if err != nil {
			return v, retry.RetryableError(err)
		}
		return v, nil
	})
}

// Register mounts every route on r. limiter may be nil.
func (h *Handler) Register(r gin.IRouter, limiter *httpmiddleware.SimpleTokenBucket) {
	limit := func(key httpmiddleware.KeyFunc) gin.HandlerFunc {
		if limiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return limiter.GinMiddleware(key)
	}
	byActor := func(c *gin.Context) string {
		if a, ok := auth.ActorFrom(c); ok {
			return a.String()
		}
		return httpmiddleware.ClientIP(c)
	}

	r.GET("/healthz", h.Healthz)
	r.POST("/v1/auth/login", limit(nil), h.Login)

	v1 := r.Group("/v1", auth.RequireActor(h.Auth.SigningKey, h.Auth.Issuer, h.Clock.Now), limit(byActor))

	me := v1.Group("/me", auth.RequireKind(auth.KindStudent))
	me.GET("/token", h.MyToken)
	me.GET("/token.png", h.MyTokenQR)

	courses := v1.Group("/courses", auth.RequireKind(auth.KindTeacher))
	courses.GET("", h.ListCourses)
	courses.POST("/:id/scans", h.SubmitScan)
	courses.GET("/:id/report", h.Report)
	courses.GET("/:id/live", h.Live)
}

// Healthz pings every configured dependency.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range h.Health {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}
