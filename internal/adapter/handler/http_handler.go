package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

type HTTPHandler struct {
	processor *service.TransactionProcessor
	logger    *zap.Logger
}

func NewHTTPHandler(processor *service.TransactionProcessor, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{processor: processor, logger: logger}
}

// Register mounts the health check and the /api/v1 routes on r.
func (h *HTTPHandler) Register(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)

	api := r.Group("/api/v1")
	api.POST("/stock/assignments", h.AssignStock)
	api.GET("/stock", h.ListStock)
	api.GET("/sellers/:seller_id/stock", h.ListSellerStock)
	api.GET("/stock/:seller_id/:product_id", h.GetStock)
	api.PUT("/stock/:seller_id/:product_id", h.SetStock)
	api.GET("/stock/:seller_id/:product_id/verify", h.VerifyStock)

	api.POST("/sales", h.RecordSale)
	api.GET("/sales", h.ListSales)
	api.GET("/sales/:id", h.GetSale)
	api.PATCH("/sales/:id", h.AmendSale)
	api.DELETE("/sales/:id", h.ReverseSale)

	api.POST("/adjustments", h.AdjustStock)
	api.GET("/history", h.QueryHistory)
}

type AssignStockRequest struct {
	SellerID  int64  `json:"seller_id" binding:"required"`
	ProductID int64  `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity"`
	Actor     string `json:"actor"`
	Notes     string `json:"notes"`
}

// SetStockRequest takes the quantity by pointer so an absent field is told
// apart from an explicit zero.
type SetStockRequest struct {
	Quantity *int   `json:"quantity"`
	Reason   string `json:"reason"`
	Actor    string `json:"actor"`
}

type RecordSaleRequest struct {
	SellerID  int64            `json:"seller_id" binding:"required"`
	ProductID int64            `json:"product_id" binding:"required"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	Actor     string           `json:"actor"`
	Notes     string           `json:"notes"`
	RequestID string           `json:"request_id"`
}

type AmendSaleRequest struct {
	Quantity int    `json:"quantity"`
	Actor    string `json:"actor"`
}

type AdjustStockRequest struct {
	SellerID  int64  `json:"seller_id" binding:"required"`
	ProductID int64  `json:"product_id" binding:"required"`
	Direction string `json:"direction"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
	Actor     string `json:"actor"`
}

type listQuery struct {
	SellerID  int64     `form:"seller_id"`
	ProductID int64     `form:"product_id"`
	Kind      string    `form:"kind"`
	SaleID    string    `form:"sale_id"`
	From      time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To        time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Offset    int       `form:"offset"`
	Limit     int       `form:"limit"`
}

func (h *HTTPHandler) AssignStock(c *gin.Context) {
	var req AssignStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	entry, err := h.processor.Assign(c.Request.Context(), service.AssignRequest{
		SellerID:  req.SellerID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Actor:     req.Actor,
		Notes:     req.Notes,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, NewStockView(entry))
}

func (h *HTTPHandler) GetStock(c *gin.Context) {
	key, ok := stockKeyParam(c)
	if !ok {
		return
	}
	entry, err := h.processor.GetStock(c.Request.Context(), key)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewStockView(entry))
}

func (h *HTTPHandler) ListStock(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	h.listStock(c, domain.StockFilter{SellerID: q.SellerID, ProductID: q.ProductID, Offset: q.Offset, Limit: q.Limit})
}

func (h *HTTPHandler) ListSellerStock(c *gin.Context) {
	sellerID, err := strconv.ParseInt(c.Param("seller_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid seller_id", "field": "seller_id"})
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	h.listStock(c, domain.StockFilter{SellerID: sellerID, ProductID: q.ProductID, Offset: q.Offset, Limit: q.Limit})
}

func (h *HTTPHandler) listStock(c *gin.Context, filter domain.StockFilter) {
	entries, err := h.processor.ListStock(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}

	views := make([]StockView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, NewStockView(entry))
	}
	c.JSON(http.StatusOK, gin.H{"stock": views, "offset": filter.Offset, "count": len(views)})
}

func (h *HTTPHandler) SetStock(c *gin.Context) {
	key, ok := stockKeyParam(c)
	if !ok {
		return
	}
	var req SetStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if req.Quantity == nil {
		h.writeError(c, &domain.ValidationError{Field: "quantity", Reason: "is required"})
		return
	}

	record, err := h.processor.SetStock(c.Request.Context(), key, *req.Quantity, req.Reason, req.Actor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewRecordView(record))
}

func (h *HTTPHandler) VerifyStock(c *gin.Context) {
	key, ok := stockKeyParam(c)
	if !ok {
		return
	}

	rec, err := h.processor.Verify(c.Request.Context(), key)
	var drift *domain.DriftError
	if err != nil && !errors.As(err, &drift) {
		h.writeError(c, err)
		return
	}
	body := gin.H{
		"seller_id":  key.SellerID,
		"product_id": key.ProductID,
		"consistent": rec.Consistent(),
		"ledger":     rec.Ledger,
		"replayed":   rec.Replayed,
	}
	if rec.BrokenAt != 0 {
		body["broken_at"] = rec.BrokenAt
	}
	c.JSON(http.StatusOK, body)
}

func (h *HTTPHandler) RecordSale(c *gin.Context) {
	var req RecordSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = c.GetHeader("Idempotency-Key")
	}

	sale, err := h.processor.RecordSale(c.Request.Context(), service.SaleRequest{
		SellerID:  req.SellerID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
		Actor:     req.Actor,
		Notes:     req.Notes,
		RequestID: req.RequestID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, NewSaleView(sale))
}

func (h *HTTPHandler) ListSales(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	sales, err := h.processor.ListSales(c.Request.Context(), domain.SaleFilter{
		SellerID:  q.SellerID,
		ProductID: q.ProductID,
		From:      q.From,
		To:        q.To,
		Offset:    q.Offset,
		Limit:     q.Limit,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	views := make([]SaleView, 0, len(sales))
	for _, sale := range sales {
		views = append(views, NewSaleView(sale))
	}
	c.JSON(http.StatusOK, gin.H{"sales": views, "offset": q.Offset, "count": len(views)})
}

func (h *HTTPHandler) GetSale(c *gin.Context) {
	sale, err := h.processor.GetSale(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSaleView(sale))
}

func (h *HTTPHandler) AmendSale(c *gin.Context) {
	var req AmendSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sale, err := h.processor.AmendSale(c.Request.Context(), c.Param("id"), req.Quantity, req.Actor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSaleView(sale))
}

func (h *HTTPHandler) ReverseSale(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if err := h.processor.ReverseSale(ctx, id, c.Query("actor")); err != nil {
		h.writeError(c, err)
		return
	}
	sale, err := h.processor.GetSale(ctx, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSaleView(sale))
}

func (h *HTTPHandler) AdjustStock(c *gin.Context) {
	var req AdjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	record, err := h.processor.Adjust(c.Request.Context(), service.AdjustRequest{
		SellerID:  req.SellerID,
		ProductID: req.ProductID,
		Direction: domain.Direction(req.Direction),
		Quantity:  req.Quantity,
		Reason:    req.Reason,
		Actor:     req.Actor,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, NewRecordView(record))
}

func (h *HTTPHandler) QueryHistory(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	records, err := h.processor.QueryHistory(c.Request.Context(), domain.HistoryFilter{
		SellerID:  q.SellerID,
		ProductID: q.ProductID,
		Kind:      domain.Kind(q.Kind),
		SaleID:    q.SaleID,
		From:      q.From,
		To:        q.To,
		Offset:    q.Offset,
		Limit:     q.Limit,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	views := make([]RecordView, 0, len(records))
	for _, record := range records {
		views = append(views, NewRecordView(record))
	}
	c.JSON(http.StatusOK, gin.H{"records": views, "offset": q.Offset, "count": len(views)})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func stockKeyParam(c *gin.Context) (domain.StockKey, bool) {
	sellerID, err := strconv.ParseInt(c.Param("seller_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid seller_id", "field": "seller_id"})
		return domain.StockKey{}, false
	}
	productID, err := strconv.ParseInt(c.Param("product_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product_id", "field": "product_id"})
		return domain.StockKey{}, false
	}
	return domain.StockKey{SellerID: sellerID, ProductID: productID}, true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// writeError maps ledger errors onto HTTP statuses.
func (h *HTTPHandler) writeError(c *gin.Context, err error) {
	var validation *domain.ValidationError
	var insufficient *domain.InsufficientStockError

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": validation.Field})
	case errors.As(err, &insufficient):
		c.JSON(http.StatusConflict, gin.H{
			"error":     "insufficient stock",
			"available": insufficient.Available,
			"requested": insufficient.Requested,
		})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrDuplicateRequest),
		errors.Is(err, domain.ErrConcurrencyConflict),
		errors.Is(err, domain.ErrSaleReversed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "timed out waiting for the stock lock"})
	case errors.Is(err, domain.ErrInvariantViolation):
		h.logger.Error("ledger invariant violated", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger invariant violation"})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
