package health

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"lessoncast/internal/metrics"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
	StatusDisabled = "disabled"
)

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status string           `json:"status"`
	DB     DependencyStatus `json:"db"`
	Redis  DependencyStatus `json:"redis"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Checker probes the application's dependencies
type Checker struct {
	db      *gorm.DB
	redis   redis.UniversalClient
	metrics *metrics.Metrics
	timeout time.Duration

	// Latency above these marks a dependency degraded
	DBDegradedAfter    time.Duration
	RedisDegradedAfter time.Duration
}

// NewChecker creates a checker. A nil redis client reports Redis as disabled.
func NewChecker(db *gorm.DB, rdb redis.UniversalClient, m *metrics.Metrics) *Checker {
	return &Checker{
		db:                 db,
		redis:              rdb,
		metrics:            m,
		timeout:            5 * time.Second,
		DBDegradedAfter:    200 * time.Millisecond,
		RedisDegradedAfter: 100 * time.Millisecond,
	}
}

// Check runs every probe and aggregates the overall status
func (h *Checker) Check(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	dbStatus := h.checkDB(ctx)
	redisStatus := h.checkRedis(ctx)

	h.metrics.SetHealth("db", dbStatus.Status == StatusOK || dbStatus.Status == StatusDegraded)
	if redisStatus.Status != StatusDisabled {
		h.metrics.SetHealth("redis", redisStatus.Status == StatusOK || redisStatus.Status == StatusDegraded)
	}

	status := StatusOK
	if dbStatus.Status == StatusDown || redisStatus.Status == StatusDown {
		status = StatusDown
	} else if dbStatus.Status == StatusDegraded || redisStatus.Status == StatusDegraded {
		status = StatusDegraded
	}

	return HealthResponse{Status: status, DB: dbStatus, Redis: redisStatus}
}

// RegisterHealthRoutes registers the health check routes
func RegisterHealthRoutes(app *fiber.App, checker *Checker) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		resp := checker.Check(c.UserContext())

		if resp.Status == StatusDown {
			c.Status(fiber.StatusServiceUnavailable)
		} else {
			c.Status(fiber.StatusOK)
		}
		c.Set(fiber.HeaderCacheControl, "no-store")
		return c.JSON(resp)
	})
}

func (h *Checker) checkDB(ctx context.Context) DependencyStatus {
	start := time.Now()

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	return classify(err, time.Since(start), h.DBDegradedAfter)
}

func (h *Checker) checkRedis(ctx context.Context) DependencyStatus {
	if h.redis == nil {
		return DependencyStatus{Status: StatusDisabled}
	}
	start := time.Now()
	err := h.redis.Ping(ctx).Err()
	return classify(err, time.Since(start), h.RedisDegradedAfter)
}

func classify(err error, latency, degradedAfter time.Duration) DependencyStatus {
	status := DependencyStatus{LatencyMs: latency.Milliseconds()}
	switch {
	case err != nil:
		status.Status = StatusDown
		status.Error = err.Error()
	case latency > degradedAfter:
		status.Status = StatusDegraded
	default:
		status.Status = StatusOK
	}
	return status
}
