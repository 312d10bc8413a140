package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/identity"
	"fulfillment-service/internal/money"
	"fulfillment-service/internal/order"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HeaderIdempotencyKey may carry the idempotency key instead of the body.
const HeaderIdempotencyKey = "Idempotency-Key"

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	svc      *service.FulfillmentService
	validate *validatorv10.Validate
	checks   map[string]ReadinessCheck
}

// NewHandler creates a new HTTP handler
func NewHandler(svc *service.FulfillmentService, checks map[string]ReadinessCheck) *Handler {
	return &Handler{
		svc:      svc,
		validate: newValidator(),
		checks:   checks,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", identity.Middleware())
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.PATCH("/orders/:id/status", h.updateOrderStatus)
		v1.POST("/orders/:id/discounts", h.applyDiscount)
		v1.GET("/customers/:id/cashback", h.getCashback)
		v1.POST("/cashback/expire", h.expireCashback)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck runs every dependency check and reports 503 if any fails.
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": results,
		"time":   time.Now().Unix(),
	})
}

func actorOf(c *gin.Context) (identity.Actor, bool) {
	actor, ok := identity.FromContext(c)
	if !ok {
		writeError(c, apperr.Unauthorized("no actor on request"))
	}
	return actor, ok
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, apperr.InvalidField(name, "must be a positive integer"))
		return 0, false
	}
	return id, true
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}

	var req service.CreateOrderRequest
	if err := bindAndValidate(c, &req, h.validate); err != nil {
		writeError(c, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader(HeaderIdempotencyKey)
	}

	summary, err := h.svc.CreateOrder(c.Request.Context(), actor, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if summary.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, summary)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	summary, err := h.svc.GetOrder(c.Request.Context(), actor, orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) cancelOrder(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req cancelOrderRequest
	if c.Request.ContentLength != 0 {
		if err := bindAndValidate(c, &req, h.validate); err != nil {
			writeError(c, err)
			return
		}
	}

	summary, err := h.svc.CancelOrder(c.Request.Context(), actor, orderID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := bindAndValidate(c, &req, h.validate); err != nil {
		writeError(c, err)
		return
	}
	status, err := order.ParseStatus(req.Status)
	if err != nil {
		writeError(c, err)
		return
	}

	summary, err := h.svc.UpdateOrderStatus(c.Request.Context(), actor, orderID, status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) applyDiscount(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req service.ApplyDiscountRequest
	if err := bindAndValidate(c, &req, h.validate); err != nil {
		writeError(c, err)
		return
	}

	summary, err := h.svc.ApplyDiscount(c.Request.Context(), actor, orderID, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, summary)
}

func (h *Handler) getCashback(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	customerID, ok := idParam(c, "id")
	if !ok {
		return
	}

	balance, err := h.svc.GetAvailableCashback(c.Request.Context(), actor, customerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"customer_id": customerID,
		"available":   balance.StringFixed(money.Scale),
	})
}

func (h *Handler) expireCashback(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}

	summary, err := h.svc.ExpireCashback(c.Request.Context(), actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
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
