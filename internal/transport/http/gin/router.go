package httpgin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/seatledger/internal/metrics"
	"github.com/kirinyoku/seatledger/internal/service"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const defaultWebhookMaxBytes = 64 << 10

// Idempotency stores hold responses under client supplied keys.
type Idempotency interface {
	Begin(ctx context.Context, key string, lockTTL time.Duration) (payload string, done bool, claimed bool, err error)
	SaveResult(ctx context.Context, key string, jsonPayload string) error
	Release(ctx context.Context, key string) error
}

type Options struct {
	AdminToken      string
	Metrics         *metrics.Metrics
	Idempotency     Idempotency
	WebhookMaxBytes int64
}

func NewRouter(
	svcs *service.Services,
	logger *slog.Logger,
	opts Options,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	if opts.WebhookMaxBytes <= 0 {
		opts.WebhookMaxBytes = defaultWebhookMaxBytes
	}

	useJSONFieldNames()

	r := gin.New()

	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggingMiddleware(logger), CORS())
	if opts.Metrics != nil {
		r.Use(MetricsMiddleware(opts.Metrics))
	}
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	adminAuth := AdminAuth(opts.AdminToken)

	api := r.Group("/api")
	{
		api.POST("/stripe-webhook", handleStripeWebhook(svcs, opts.WebhookMaxBytes))

		api.GET("/events/:id", handleGetEvent(svcs))
		api.GET("/events/:id/availability", handleGetAvailability(svcs))
		api.GET("/events/:id/availability/stream", handleAvailabilityStream(svcs, logger))
		api.GET("/events/:id/occupancy", handleOccupancy(svcs))
		api.POST("/events/:id/holds", handleCreateHold(svcs, opts.Idempotency))
		api.DELETE("/holds/:id", handleReleaseHold(svcs))

		api.POST("/bookings", adminAuth, handleCreateBooking(svcs))
		api.GET("/bookings/:id", handleGetBooking(svcs))
	}

	admin := api.Group("/admin", adminAuth)
	{
		admin.POST("/recover-booking", handleRecoverBooking(svcs))
		admin.POST("/sync-all-availability", handleSyncAllAvailability(svcs))
		admin.POST("/bookings/:id/cancel", handleCancelBooking(svcs))
		admin.POST("/bookings/:id/reassign", handleReassignBooking(svcs))
		admin.POST("/refunds", handleRefund(svcs))
		admin.GET("/log", handleAdminLog(svcs))
	}

	return r
}

// --- Helpers ---

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// parseIntList parses "1,2,3". An empty string yields nil.
func parseIntList(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}

	return out, nil
}
