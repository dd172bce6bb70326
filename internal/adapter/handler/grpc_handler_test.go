package handler_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/stock-ledger/internal/adapter/handler"
)

func dialLedger(t *testing.T) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer()
	handler.RegisterStockLedgerServer(srv, handler.NewGRPCHandler(newProcessor(t), zap.NewNop()))
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, healthSrv)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPCHealth(t *testing.T) {
	conn := dialLedger(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: handler.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestGRPCSaleFlow(t *testing.T) {
	conn := dialLedger(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var stock handler.StockView
	require.NoError(t, handler.Invoke(ctx, conn, "AssignStock", &handler.AssignStockRequest{SellerID: 1, ProductID: 9, Quantity: 5}, &stock))
	assert.Equal(t, 5, stock.CurrentQuantity)

	var sale handler.SaleView
	require.NoError(t, handler.Invoke(ctx, conn, "RecordSale", &handler.RecordSaleRequest{SellerID: 1, ProductID: 9, Quantity: 2, Actor: "ana"}, &sale))
	assert.Equal(t, 2, sale.Quantity)
	assert.Equal(t, "ana", sale.Actor)

	var got handler.SaleView
	require.NoError(t, handler.Invoke(ctx, conn, "GetSale", &handler.SaleIDMessage{ID: sale.ID}, &got))
	assert.Equal(t, sale.ID, got.ID)

	var sales handler.SalesMessage
	require.NoError(t, handler.Invoke(ctx, conn, "ListSales", &handler.ListMessage{SellerID: 1}, &sales))
	require.Len(t, sales.Sales, 1)

	var reversed handler.SaleView
	require.NoError(t, handler.Invoke(ctx, conn, "ReverseSale", &handler.SaleIDMessage{ID: sale.ID, Actor: "ana"}, &reversed))
	assert.Equal(t, "reversed", reversed.Status)

	var adjusted handler.RecordView
	require.NoError(t, handler.Invoke(ctx, conn, "AdjustStock", &handler.AdjustStockRequest{SellerID: 1, ProductID: 9, Direction: "decrease", Quantity: 1, Reason: "damaged"}, &adjusted))
	assert.Equal(t, 4, adjusted.QuantityAfter)

	var set handler.RecordView
	six := 6
	require.NoError(t, handler.Invoke(ctx, conn, "SetStock", &handler.SetStockMessage{SellerID: 1, ProductID: 9, Quantity: &six}, &set))
	assert.Equal(t, 6, set.QuantityAfter)

	var history handler.RecordsMessage
	require.NoError(t, handler.Invoke(ctx, conn, "QueryHistory", &handler.ListMessage{SellerID: 1, ProductID: 9}, &history))
	assert.Len(t, history.Records, 5)

	var verify handler.VerifyMessage
	require.NoError(t, handler.Invoke(ctx, conn, "VerifyStock", &handler.StockKeyMessage{SellerID: 1, ProductID: 9}, &verify))
	assert.True(t, verify.Consistent)
	assert.Equal(t, 6, verify.Ledger)
	assert.Equal(t, 6, verify.Replayed)

	var listed handler.StocksMessage
	require.NoError(t, handler.Invoke(ctx, conn, "ListStock", &handler.ListMessage{SellerID: 1}, &listed))
	require.Len(t, listed.Stock, 1)
	assert.Equal(t, 6, listed.Stock[0].CurrentQuantity)

	require.NoError(t, handler.Invoke(ctx, conn, "GetStock", &handler.StockKeyMessage{SellerID: 1, ProductID: 9}, &stock))
	assert.Equal(t, 6, stock.CurrentQuantity)
	assert.Equal(t, 5, stock.InitialQuantity)
}

func TestGRPCStatusCodes(t *testing.T) {
	conn := dialLedger(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var stock handler.StockView
	require.NoError(t, handler.Invoke(ctx, conn, "AssignStock", &handler.AssignStockRequest{SellerID: 1, ProductID: 9, Quantity: 1}, &stock))

	tests := []struct {
		name   string
		method string
		req    any
		code   codes.Code
	}{
		{"validation", "RecordSale", &handler.RecordSaleRequest{SellerID: 1, ProductID: 9}, codes.InvalidArgument},
		{"insufficient", "RecordSale", &handler.RecordSaleRequest{SellerID: 1, ProductID: 9, Quantity: 3}, codes.FailedPrecondition},
		{"unknown sale", "GetSale", &handler.SaleIDMessage{ID: "missing"}, codes.NotFound},
		{"no stock", "GetStock", &handler.StockKeyMessage{SellerID: 1, ProductID: 10}, codes.NotFound},
		{"bad kind", "QueryHistory", &handler.ListMessage{Kind: "refund"}, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out handler.SaleView
			err := handler.Invoke(ctx, conn, tt.method, tt.req, &out)
			assert.Equal(t, tt.code, status.Code(err), err)
		})
	}

	var first, second handler.SaleView
	req := &handler.RecordSaleRequest{SellerID: 1, ProductID: 9, Quantity: 1, RequestID: "grpc-1"}
	require.NoError(t, handler.Invoke(ctx, conn, "RecordSale", req, &first))
	err := handler.Invoke(ctx, conn, "RecordSale", req, &second)
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
}

func TestGRPCStatusDetails(t *testing.T) {
	conn := dialLedger(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var stock handler.StockView
	require.NoError(t, handler.Invoke(ctx, conn, "AssignStock", &handler.AssignStockRequest{SellerID: 1, ProductID: 9, Quantity: 1}, &stock))

	t.Run("insufficient stock carries the figures", func(t *testing.T) {
		var out handler.SaleView
		err := handler.Invoke(ctx, conn, "RecordSale", &handler.RecordSaleRequest{SellerID: 1, ProductID: 9, Quantity: 3}, &out)
		st := status.Convert(err)
		require.Equal(t, codes.FailedPrecondition, st.Code())

		var info *errdetails.ErrorInfo
		for _, d := range st.Details() {
			if v, ok := d.(*errdetails.ErrorInfo); ok {
				info = v
			}
		}
		require.NotNil(t, info, "missing ErrorInfo detail")
		assert.Equal(t, handler.ReasonInsufficientStock, info.GetReason())
		assert.Equal(t, "1", info.GetMetadata()["available"])
		assert.Equal(t, "3", info.GetMetadata()["requested"])
	})

	t.Run("set stock without quantity", func(t *testing.T) {
		var out handler.RecordView
		err := handler.Invoke(ctx, conn, "SetStock", &handler.SetStockMessage{SellerID: 1, ProductID: 9, Reason: "recount"}, &out)
		st := status.Convert(err)
		require.Equal(t, codes.InvalidArgument, st.Code())

		var violations []*errdetails.BadRequest_FieldViolation
		for _, d := range st.Details() {
			if v, ok := d.(*errdetails.BadRequest); ok {
				violations = v.GetFieldViolations()
			}
		}
		require.Len(t, violations, 1)
		assert.Equal(t, "quantity", violations[0].GetField())

		require.NoError(t, handler.Invoke(ctx, conn, "GetStock", &handler.StockKeyMessage{SellerID: 1, ProductID: 9}, &stock))
		assert.Equal(t, 1, stock.CurrentQuantity)
	})

	t.Run("list stock paging", func(t *testing.T) {
		var out handler.StocksMessage
		err := handler.Invoke(ctx, conn, "ListStock", &handler.ListMessage{Limit: -1}, &out)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})
}
