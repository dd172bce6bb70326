package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/adapter/handler"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

func newProcessor(t *testing.T) *service.TransactionProcessor {
	t.Helper()
	catalog := storage.NewMemoryCatalog()
	catalog.PutSeller(domain.Seller{ID: 1, Name: "Ana", Status: domain.StatusActive})
	catalog.PutProduct(domain.Product{ID: 9, Name: "Tea", Code: "TEA-01", UnitPrice: decimal.RequireFromString("12.50"), Status: domain.StatusActive})
	return service.NewTransactionProcessor(
		storage.NewMemoryAdapter(),
		catalog,
		storage.NewLocalLocker(),
		service.WithIdempotency(storage.NewMemoryIdempotency()),
	)
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler.NewHTTPHandler(newProcessor(t), zap.NewNop()).Register(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthCheck(t *testing.T) {
	r := newRouter(t)
	w := do(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestSaleLifecycle(t *testing.T) {
	r := newRouter(t)

	w := do(t, r, http.MethodPost, "/api/v1/stock/assignments", gin.H{"seller_id": 1, "product_id": 9, "quantity": 10, "actor": "ana"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	stock := decode[handler.StockView](t, w)
	assert.Equal(t, 10, stock.CurrentQuantity)
	assert.Equal(t, 10, stock.InitialQuantity)

	w = do(t, r, http.MethodPost, "/api/v1/sales", gin.H{"seller_id": 1, "product_id": 9, "quantity": 3})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sale := decode[handler.SaleView](t, w)
	assert.Equal(t, "active", sale.Status)
	assert.Equal(t, "system", sale.Actor)
	assert.True(t, sale.Total.Equal(decimal.RequireFromString("37.50")), sale.Total.String())

	w = do(t, r, http.MethodPatch, "/api/v1/sales/"+sale.ID, gin.H{"quantity": 5, "actor": "ana"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 5, decode[handler.SaleView](t, w).Quantity)

	w = do(t, r, http.MethodGet, "/api/v1/stock/1/9", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, decode[handler.StockView](t, w).CurrentQuantity)

	w = do(t, r, http.MethodDelete, "/api/v1/sales/"+sale.ID+"?actor=ana", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "reversed", decode[handler.SaleView](t, w).Status)

	w = do(t, r, http.MethodDelete, "/api/v1/sales/"+sale.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/stock/1/9", nil)
	assert.Equal(t, 10, decode[handler.StockView](t, w).CurrentQuantity)

	w = do(t, r, http.MethodGet, "/api/v1/history?seller_id=1&product_id=9&sale_id="+sale.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[struct {
		Records []handler.RecordView `json:"records"`
		Count   int                  `json:"count"`
	}](t, w)
	require.Equal(t, 3, history.Count)
	assert.Equal(t, "adjustment", history.Records[0].Kind)
	assert.Equal(t, "increase", history.Records[0].Direction)
	assert.Equal(t, "sale", history.Records[2].Kind)
	require.NotNil(t, history.Records[2].UnitPrice)

	w = do(t, r, http.MethodGet, "/api/v1/sales?seller_id=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sales := decode[struct {
		Sales []handler.SaleView `json:"sales"`
	}](t, w)
	require.Len(t, sales.Sales, 1)
	assert.Equal(t, sale.ID, sales.Sales[0].ID)

	w = do(t, r, http.MethodGet, "/api/v1/stock/1/9/verify", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"seller_id":1,"product_id":9,"consistent":true,"ledger":10,"replayed":10}`, w.Body.String())
}

func TestAdjustAndSetStock(t *testing.T) {
	r := newRouter(t)
	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/v1/stock/assignments", gin.H{"seller_id": 1, "product_id": 9, "quantity": 4}).Code)

	w := do(t, r, http.MethodPost, "/api/v1/adjustments", gin.H{"seller_id": 1, "product_id": 9, "direction": "decrease", "quantity": 1, "reason": "damaged"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	record := decode[handler.RecordView](t, w)
	assert.Equal(t, 4, record.QuantityBefore)
	assert.Equal(t, 3, record.QuantityAfter)
	assert.Equal(t, "damaged", record.Reason)

	w = do(t, r, http.MethodPut, "/api/v1/stock/1/9", gin.H{"quantity": 8, "reason": "recount"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	record = decode[handler.RecordView](t, w)
	assert.Equal(t, "increase", record.Direction)
	assert.Equal(t, 5, record.Quantity)

	w = do(t, r, http.MethodPost, "/api/v1/adjustments", gin.H{"seller_id": 1, "product_id": 9, "direction": "sideways", "quantity": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetStock_RequiresQuantity(t *testing.T) {
	r := newRouter(t)
	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/v1/stock/assignments", gin.H{"seller_id": 1, "product_id": 9, "quantity": 10}).Code)

	w := do(t, r, http.MethodPut, "/api/v1/stock/1/9", gin.H{"reason": "typo, forgot quantity"})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, "quantity", decode[map[string]any](t, w)["field"])

	w = do(t, r, http.MethodGet, "/api/v1/stock/1/9", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, decode[handler.StockView](t, w).CurrentQuantity)

	// an explicit zero still empties the entry
	w = do(t, r, http.MethodPut, "/api/v1/stock/1/9", gin.H{"quantity": 0, "reason": "shelf cleared"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 0, decode[handler.RecordView](t, w).QuantityAfter)
}

func TestListStock(t *testing.T) {
	r := newRouter(t)
	w := do(t, r, http.MethodGet, "/api/v1/stock", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"stock":[],"offset":0,"count":0}`, w.Body.String())

	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/v1/stock/assignments", gin.H{"seller_id": 1, "product_id": 9, "quantity": 6}).Code)

	type page struct {
		Stock []handler.StockView `json:"stock"`
		Count int                 `json:"count"`
	}
	for _, path := range []string{"/api/v1/stock?seller_id=1", "/api/v1/sellers/1/stock", "/api/v1/stock?product_id=9&limit=10"} {
		w = do(t, r, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code, path)
		got := decode[page](t, w)
		require.Equal(t, 1, got.Count, path)
		assert.Equal(t, int64(9), got.Stock[0].ProductID)
		assert.Equal(t, 6, got.Stock[0].CurrentQuantity)
	}

	w = do(t, r, http.MethodGet, "/api/v1/sellers/2/stock", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decode[page](t, w).Count)

	w = do(t, r, http.MethodGet, "/api/v1/stock?limit=1001", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "limit", decode[map[string]any](t, w)["field"])

	w = do(t, r, http.MethodGet, "/api/v1/sellers/x/stock", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorMapping(t *testing.T) {
	r := newRouter(t)
	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/v1/stock/assignments", gin.H{"seller_id": 1, "product_id": 9, "quantity": 7}).Code)

	t.Run("insufficient stock", func(t *testing.T) {
		w := do(t, r, http.MethodPost, "/api/v1/sales", gin.H{"seller_id": 1, "product_id": 9, "quantity": 20})
		require.Equal(t, http.StatusConflict, w.Code)
		assert.JSONEq(t, `{"error":"insufficient stock","available":7,"requested":20}`, w.Body.String())
	})

	t.Run("validation", func(t *testing.T) {
		w := do(t, r, http.MethodPost, "/api/v1/sales", gin.H{"seller_id": 1, "product_id": 9, "quantity": -1})
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "quantity", decode[map[string]any](t, w)["field"])
	})

	t.Run("malformed path", func(t *testing.T) {
		w := do(t, r, http.MethodGet, "/api/v1/stock/abc/9", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "seller_id", decode[map[string]any](t, w)["field"])
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", bytes.NewBufferString("{"))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown seller", func(t *testing.T) {
		w := do(t, r, http.MethodPost, "/api/v1/sales", gin.H{"seller_id": 5, "product_id": 9, "quantity": 1})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown sale", func(t *testing.T) {
		w := do(t, r, http.MethodGet, "/api/v1/sales/missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("no stock assigned", func(t *testing.T) {
		w := do(t, r, http.MethodGet, "/api/v1/stock/1/10", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("duplicate request", func(t *testing.T) {
		body := gin.H{"seller_id": 1, "product_id": 9, "quantity": 1}
		w := do(t, r, http.MethodPost, "/api/v1/sales", body, "Idempotency-Key", "req-1")
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		w = do(t, r, http.MethodPost, "/api/v1/sales", body, "Idempotency-Key", "req-1")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("bad history kind", func(t *testing.T) {
		w := do(t, r, http.MethodGet, "/api/v1/history?kind=refund", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
