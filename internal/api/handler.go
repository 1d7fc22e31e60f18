package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tool-rental-service/internal/auth"
	"tool-rental-service/internal/models"
	"tool-rental-service/internal/payment"
	"tool-rental-service/internal/pricing"
	"tool-rental-service/internal/service"
	"tool-rental-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// BookingAPI is the booking surface the handlers call
type BookingAPI interface {
	QuoteBooking(ctx context.Context, toolSlug string, start, end time.Time) (*pricing.Quote, error)
	CreateBookingAndPaymentIntent(ctx context.Context, req *service.CreateBookingRequest) (*service.CreateBookingResponse, error)
	GetBookingStatus(ctx context.Context, bookingID string) (*service.BookingStatusResponse, error)
	ListMyBookings(ctx context.Context) ([]models.Booking, error)
	HandlePaymentWebhook(ctx context.Context, payload []byte, signatureHeader string) error

	CancelBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	CompleteBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	ResendConfirmation(ctx context.Context, bookingID string) error
	RetryAccessCode(ctx context.Context, bookingID string) (*models.Booking, error)
	GetBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	ListBookings(ctx context.Context, status *models.BookingStatus) ([]models.Booking, error)
	Stats(ctx context.Context) (*models.BookingStats, error)
}

// AvailabilityAPI answers calendar queries
type AvailabilityAPI interface {
	CheckAvailability(ctx context.Context, toolID string, start, end time.Time) (bool, error)
	BookedRanges(ctx context.Context, toolID string) ([]models.DateRange, error)
}

// CatalogAPI serves and edits the tool catalog
type CatalogAPI interface {
	ListCategories(ctx context.Context) ([]models.Category, error)
	ListTools(ctx context.Context, categorySlug string) ([]models.Tool, error)
	FeaturedTools(ctx context.Context) ([]models.Tool, error)
	GetTool(ctx context.Context, slug string) (*models.Tool, error)
	GetToolByID(ctx context.Context, id string) (*models.Tool, error)
	CreateTool(ctx context.Context, in *service.ToolInput) (*models.Tool, error)
	UpdateTool(ctx context.Context, id string, in *service.ToolInput) (*models.Tool, error)
	SetFeatured(ctx context.Context, id string, featured bool) error
	DeleteTool(ctx context.Context, id string) error
}

// ReadinessCheck is one dependency probed by /ready
type ReadinessCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	bookings     BookingAPI
	availability AvailabilityAPI
	catalog      CatalogAPI
	verifier     *auth.Verifier
	checks       []ReadinessCheck
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	bookings BookingAPI,
	availability AvailabilityAPI,
	catalog CatalogAPI,
	verifier *auth.Verifier,
	checks ...ReadinessCheck,
) *Handler {
	return &Handler{
		bookings:     bookings,
		availability: availability,
		catalog:      catalog,
		verifier:     verifier,
		checks:       checks,
		logger:       util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/stripe", h.paymentWebhook)

	v1 := router.Group("/api/v1")
	v1.Use(h.authenticate())
	{
		v1.GET("/categories", h.listCategories)
		v1.GET("/tools", h.listTools)
		v1.GET("/tools/featured", h.featuredTools)
		v1.GET("/tools/:slug", h.getTool)
		v1.GET("/tools/:slug/quote", h.quote)

		v1.GET("/availability/:toolId", h.checkAvailability)
		v1.GET("/availability/:toolId/booked", h.bookedDates)

		v1.POST("/bookings", h.createBooking)
		v1.GET("/bookings/:id/status", h.getBookingStatus)
		v1.GET("/me/bookings", h.myBookings)
	}

	admin := v1.Group("/admin")
	{
		admin.GET("/stats", h.stats)
		admin.GET("/bookings", h.listBookings)
		admin.GET("/bookings/:id", h.getBooking)
		admin.POST("/bookings/:id/cancel", h.cancelBooking)
		admin.POST("/bookings/:id/complete", h.completeBooking)
		admin.POST("/bookings/:id/resend", h.resendConfirmation)
		admin.POST("/bookings/:id/retry-code", h.retryAccessCode)

		admin.GET("/tools/:id", h.adminGetTool)
		admin.POST("/tools", h.createTool)
		admin.PUT("/tools/:id", h.updateTool)
		admin.PATCH("/tools/:id/featured", h.setFeatured)
		admin.DELETE("/tools/:id", h.deleteTool)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for _, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			failed[check.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// authenticate attaches the bearer token's user to the request context.
// Requests without a token continue anonymously.
func (h *Handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			h.writeError(c, models.ErrUnauthenticated)
			c.Abort()
			return
		}
		user, err := h.verifier.Verify(raw)
		if err != nil {
			h.writeError(c, err)
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(auth.WithUser(c.Request.Context(), user))
		c.Next()
	}
}

// writeError maps domain errors onto status codes. Unexpected errors are
// logged and reported without details.
func (h *Handler) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"

	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, payment.ErrInvalidSignature):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, models.ErrUnauthenticated):
		status, code = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, models.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, models.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrNotAvailable):
		status, code = http.StatusConflict, "not_available"
	case errors.Is(err, models.ErrIllegalTransition):
		status, code = http.StatusConflict, "illegal_transition"
	case errors.Is(err, models.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, models.ErrGateway):
		status, code = http.StatusBadGateway, "gateway_error"
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "Internal server error", "code": code})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

// parseDateParam accepts RFC 3339 or a bare YYYY-MM-DD (UTC midnight)
func parseDateParam(c *gin.Context, name string) (time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", models.ErrValidation, name)
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be a date", models.ErrValidation, name)
	}
	return t, nil
}

func (h *Handler) dateRange(c *gin.Context) (time.Time, time.Time, bool) {
	start, err := parseDateParam(c, "start")
	if err != nil {
		h.writeError(c, err)
		return time.Time{}, time.Time{}, false
	}
	end, err := parseDateParam(c, "end")
	if err != nil {
		h.writeError(c, err)
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// requestLogger logs one line per request
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
