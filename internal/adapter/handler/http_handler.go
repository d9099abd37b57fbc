package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

const idempotencyHeader = "Idempotency-Key"

var validate = validator.New()

func validSKU(fl validator.FieldLevel) bool {
	_, err := domain.ParseSKU(fl.Field().String())
	return err == nil
}

func init() {
	if err := validate.RegisterValidation("sku", validSKU); err != nil {
		panic(err)
	}
}

type ReceiveRequest struct {
	ProductRef  string `json:"productRef"`
	SKU         string `json:"sku" validate:"required,sku"`
	LocationRef string `json:"locationRef" validate:"required"`
	Quantity    string `json:"quantity" validate:"required,numeric"`
	Unit        string `json:"unitOfMeasure" validate:"required"`
	Reason      string `json:"reason"`
	PerformedBy string `json:"performedBy"`
}

type ReserveRequest struct {
	SKU         string `json:"sku" validate:"required,sku"`
	LocationRef string `json:"locationRef" validate:"required"`
	Quantity    string `json:"quantity" validate:"required,numeric"`
	OrderID     string `json:"orderId" validate:"required"`
}

type ReservationRequest struct {
	StockID  string `json:"stockId" validate:"required"`
	Quantity string `json:"quantity" validate:"required,numeric"`
	OrderID  string `json:"orderId" validate:"required"`
}

type AdjustRequest struct {
	StockID     string `json:"stockId" validate:"required"`
	NewQuantity string `json:"newQuantity" validate:"required,numeric"`
	Reason      string `json:"reason" validate:"required"`
	PerformedBy string `json:"performedBy"`
}

type WithdrawRequest struct {
	StockID     string `json:"stockId" validate:"required"`
	Quantity    string `json:"quantity" validate:"required,numeric"`
	Department  string `json:"department" validate:"required"`
	Reason      string `json:"reason"`
	PerformedBy string `json:"performedBy"`
}

type QuickSaleRequest struct {
	StockID     string `json:"stockId" validate:"required"`
	Quantity    string `json:"quantity" validate:"required,numeric"`
	OrderID     string `json:"orderId" validate:"required"`
	PerformedBy string `json:"performedBy"`
}

type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type HTTPHandler struct {
	commands *service.StockService
	queries  *service.QueryService
	logger   *zap.Logger
}

func NewHTTPHandler(commands *service.StockService, queries *service.QueryService, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{commands: commands, queries: queries, logger: logger}
}

// NewRouter mounts the stock API on a fresh gin engine.
func NewRouter(h *HTTPHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.HealthCheck)

	v1 := router.Group("/api/v1/stocks")
	{
		v1.POST("/receive", h.Receive)
		v1.POST("/reserve", h.Reserve)
		v1.POST("/release", h.Release)
		v1.POST("/confirm", h.Confirm)
		v1.POST("/adjust", h.Adjust)
		v1.POST("/withdraw", h.Withdraw)
		v1.POST("/sale", h.QuickSale)

		v1.GET("", h.Lookup)
		v1.GET("/:id", h.GetStock)
		v1.GET("/:id/movements", h.Movements)
		v1.GET("/:id/availability", h.Availability)
		v1.DELETE("/:id", h.DeleteStock)
	}
	return router
}

func (h *HTTPHandler) Receive(c *gin.Context) {
	var req ReceiveRequest
	if !bindAndValidate(c, &req) {
		return
	}
	stock, err := h.commands.Receive(c.Request.Context(), service.ReceiveCommand{
		RequestID:   c.GetHeader(idempotencyHeader),
		ProductRef:  req.ProductRef,
		SKU:         req.SKU,
		LocationRef: req.LocationRef,
		Quantity:    req.Quantity,
		Unit:        req.Unit,
		Reason:      req.Reason,
		PerformedBy: req.PerformedBy,
	})
	h.respondStock(c, stock, err)
}

func (h *HTTPHandler) Reserve(c *gin.Context) {
	var req ReserveRequest
	if !bindAndValidate(c, &req) {
		return
	}
	stock, err := h.commands.Reserve(c.Request.Context(), service.ReserveCommand{
		RequestID:   c.GetHeader(idempotencyHeader),
		SKU:         req.SKU,
		LocationRef: req.LocationRef,
		Quantity:    req.Quantity,
		OrderID:     req.OrderID,
	})
	h.respondStock(c, stock, err)
}

func (h *HTTPHandler) Release(c *gin.Context) {
	var req ReservationRequest
	if !bindAndValidate(c, &req) {
		return
	}
	stock, err := h.commands.Release(c.Request.Context(), h.reservationCommand(c, req))
	h.respondStock(c, stock, err)
}

func (h *HTTPHandler) Confirm(c *gin.Context) {
	var req ReservationRequest
	if !bindAndValidate(c, &req) {
		return
	}
	stock, err := h.commands.Confirm(c.Request.Context(), h.reservationCommand(c, req))
	h.respondStock(c, stock, err)
}

func (h *HTTPHandler) reservationCommand(c *gin.Context, req ReservationRequest) service.ReservationCommand {
	return service.ReservationCommand{
		RequestID: c.GetHeader(idempotencyHeader),
		StockID:   req.StockID,
		Quantity:  req.Quantity,
		OrderID:   req.OrderID,
	}
}

func (h *HTTPHandler) Adjust(c *gin.Context) {
	var req AdjustRequest
	if !bindAndValidate(c, &req) {
		return
	}
	stock, err := h.commands.Adjust(c.Request.Context(), service.AdjustCommand{
		RequestID:   c.GetHeader(idempotencyHeader),
		StockID:     req.StockID,
		NewQuantity: req.NewQuantity,
		Reason:      req.Reason,
		PerformedBy: req.PerformedBy,
	})
	h.respondStock(c, stock, err)
}

func (h *HTTPHandler) Withdraw(c *gin.Context) {
	var req WithdrawRequest
	if !bindAndValidate(c, &req) {
		return
	}
	stock, err := h.commands.Withdraw(c.Request.Context(), service.WithdrawCommand{
		RequestID:   c.GetHeader(idempotencyHeader),
		StockID:     req.StockID,
		Quantity:    req.Quantity,
		Department:  req.Department,
		Reason:      req.Reason,
		PerformedBy: req.PerformedBy,
	})
	h.respondStock(c, stock, err)
}

func (h *HTTPHandler) QuickSale(c *gin.Context) {
	var req QuickSaleRequest
	if !bindAndValidate(c, &req) {
		return
	}
	stock, err := h.commands.QuickSale(c.Request.Context(), service.QuickSaleCommand{
		RequestID:   c.GetHeader(idempotencyHeader),
		StockID:     req.StockID,
		Quantity:    req.Quantity,
		OrderID:     req.OrderID,
		PerformedBy: req.PerformedBy,
	})
	h.respondStock(c, stock, err)
}

func (h *HTTPHandler) GetStock(c *gin.Context) {
	stock, err := h.queries.GetStock(c.Request.Context(), c.Param("id"))
	h.respondStock(c, stock, err)
}

// Lookup resolves one stock when both sku and location are given and lists
// stocks when only one of them is.
func (h *HTTPHandler) Lookup(c *gin.Context) {
	ctx := c.Request.Context()
	sku, location := c.Query("sku"), c.Query("location")

	switch {
	case sku != "" && location != "":
		stock, err := h.queries.FindBySKUAndLocation(ctx, sku, location)
		h.respondStock(c, stock, err)
		return
	case sku != "":
		stocks, err := h.queries.ListBySKU(ctx, sku)
		h.respondStocks(c, stocks, err)
	case location != "":
		stocks, err := h.queries.ListByLocation(ctx, location)
		h.respondStocks(c, stocks, err)
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "sku or location query parameter is required"})
	}
}

func (h *HTTPHandler) Movements(c *gin.Context) {
	movements, err := h.queries.Movements(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, movements)
}

func (h *HTTPHandler) Availability(c *gin.Context) {
	availability, err := h.queries.Availability(c.Request.Context(), c.Param("id"), c.Query("quantity"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, availability)
}

func (h *HTTPHandler) DeleteStock(c *gin.Context) {
	if err := h.commands.DeleteStock(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HTTPHandler) respondStock(c *gin.Context, stock domain.Stock, err error) {
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stock.Snapshot())
}

func (h *HTTPHandler) respondStocks(c *gin.Context, stocks []domain.Stock, err error) {
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]domain.StockSnapshot, len(stocks))
	for i, s := range stocks {
		out[i] = s.Snapshot()
	}
	c.JSON(http.StatusOK, out)
}

func (h *HTTPHandler) respondError(c *gin.Context, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, ErrorResponse{Error: "internal error"})
		return
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrDuplicateRequest),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrConcurrencyConflict),
		errors.Is(err, domain.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidOperation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func bindAndValidate(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return false
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation failed", Fields: fields})
		return false
	}
	return true
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(idempotencyHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		c.Next()

		logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
