package handler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

const (
	ServiceName = "ledger.v1.StockLedger"

	// ReasonInsufficientStock tags the ErrorInfo detail of a rejected sale or decrease.
	ReasonInsufficientStock = "INSUFFICIENT_STOCK"
)

type StockKeyMessage struct {
	SellerID  int64 `json:"seller_id"`
	ProductID int64 `json:"product_id"`
}

type SetStockMessage struct {
	SellerID  int64  `json:"seller_id"`
	ProductID int64  `json:"product_id"`
	Quantity  *int   `json:"quantity"`
	Reason    string `json:"reason"`
	Actor     string `json:"actor"`
}

type SaleIDMessage struct {
	ID    string `json:"id"`
	Actor string `json:"actor"`
}

type AmendSaleMessage struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
	Actor    string `json:"actor"`
}

type ListMessage struct {
	SellerID  int64     `json:"seller_id"`
	ProductID int64     `json:"product_id"`
	Kind      string    `json:"kind"`
	SaleID    string    `json:"sale_id"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Offset    int       `json:"offset"`
	Limit     int       `json:"limit"`
}

type VerifyMessage struct {
	SellerID   int64 `json:"seller_id"`
	ProductID  int64 `json:"product_id"`
	Consistent bool  `json:"consistent"`
	Ledger     int   `json:"ledger"`
	Replayed   int   `json:"replayed"`
	BrokenAt   int64 `json:"broken_at,omitempty"`
}

type StocksMessage struct {
	Stock []StockView `json:"stock"`
}

type SalesMessage struct {
	Sales []SaleView `json:"sales"`
}

type RecordsMessage struct {
	Records []RecordView `json:"records"`
}

// StockLedgerServer is the gRPC surface of the transaction processor.
type StockLedgerServer interface {
	AssignStock(context.Context, *AssignStockRequest) (*StockView, error)
	GetStock(context.Context, *StockKeyMessage) (*StockView, error)
	ListStock(context.Context, *ListMessage) (*StocksMessage, error)
	SetStock(context.Context, *SetStockMessage) (*RecordView, error)
	VerifyStock(context.Context, *StockKeyMessage) (*VerifyMessage, error)
	RecordSale(context.Context, *RecordSaleRequest) (*SaleView, error)
	GetSale(context.Context, *SaleIDMessage) (*SaleView, error)
	ListSales(context.Context, *ListMessage) (*SalesMessage, error)
	AmendSale(context.Context, *AmendSaleMessage) (*SaleView, error)
	ReverseSale(context.Context, *SaleIDMessage) (*SaleView, error)
	AdjustStock(context.Context, *AdjustStockRequest) (*RecordView, error)
	QueryHistory(context.Context, *ListMessage) (*RecordsMessage, error)
}

// unary builds the method descriptor for one StockLedgerServer method.
func unary[Req, Resp any](name string, call func(StockLedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			server := srv.(StockLedgerServer)
			if interceptor == nil {
				return call(server, ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*Req))
			})
		},
	}
}

var StockLedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StockLedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("AssignStock", StockLedgerServer.AssignStock),
		unary("GetStock", StockLedgerServer.GetStock),
		unary("ListStock", StockLedgerServer.ListStock),
		unary("SetStock", StockLedgerServer.SetStock),
		unary("VerifyStock", StockLedgerServer.VerifyStock),
		unary("RecordSale", StockLedgerServer.RecordSale),
		unary("GetSale", StockLedgerServer.GetSale),
		unary("ListSales", StockLedgerServer.ListSales),
		unary("AmendSale", StockLedgerServer.AmendSale),
		unary("ReverseSale", StockLedgerServer.ReverseSale),
		unary("AdjustStock", StockLedgerServer.AdjustStock),
		unary("QueryHistory", StockLedgerServer.QueryHistory),
	},
	Metadata: "ledger/v1/stock_ledger",
}

func RegisterStockLedgerServer(s grpc.ServiceRegistrar, srv StockLedgerServer) {
	s.RegisterService(&StockLedgerServiceDesc, srv)
}

// Invoke calls method on the ledger service with the JSON codec.
func Invoke(ctx context.Context, cc grpc.ClientConnInterface, method string, req, resp any, opts ...grpc.CallOption) error {
	opts = append(opts, grpc.CallContentSubtype(JSONCodecName))
	return cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp, opts...)
}

type GRPCHandler struct {
	processor *service.TransactionProcessor
	logger    *zap.Logger
}

func NewGRPCHandler(processor *service.TransactionProcessor, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{processor: processor, logger: logger}
}

func (h *GRPCHandler) AssignStock(ctx context.Context, req *AssignStockRequest) (*StockView, error) {
	entry, err := h.processor.Assign(ctx, service.AssignRequest{
		SellerID:  req.SellerID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Actor:     req.Actor,
		Notes:     req.Notes,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	view := NewStockView(entry)
	return &view, nil
}

func (h *GRPCHandler) GetStock(ctx context.Context, req *StockKeyMessage) (*StockView, error) {
	entry, err := h.processor.GetStock(ctx, domain.StockKey{SellerID: req.SellerID, ProductID: req.ProductID})
	if err != nil {
		return nil, h.toStatus(err)
	}
	view := NewStockView(entry)
	return &view, nil
}

func (h *GRPCHandler) SetStock(ctx context.Context, req *SetStockMessage) (*RecordView, error) {
	if req.Quantity == nil {
		return nil, h.toStatus(&domain.ValidationError{Field: "quantity", Reason: "is required"})
	}
	key := domain.StockKey{SellerID: req.SellerID, ProductID: req.ProductID}
	record, err := h.processor.SetStock(ctx, key, *req.Quantity, req.Reason, req.Actor)
	if err != nil {
		return nil, h.toStatus(err)
	}
	view := NewRecordView(record)
	return &view, nil
}

func (h *GRPCHandler) VerifyStock(ctx context.Context, req *StockKeyMessage) (*VerifyMessage, error) {
	key := domain.StockKey{SellerID: req.SellerID, ProductID: req.ProductID}
	rec, err := h.processor.Verify(ctx, key)
	var drift *domain.DriftError
	if err != nil && !errors.As(err, &drift) {
		return nil, h.toStatus(err)
	}
	return &VerifyMessage{
		SellerID:   key.SellerID,
		ProductID:  key.ProductID,
		Consistent: rec.Consistent(),
		Ledger:     rec.Ledger,
		Replayed:   rec.Replayed,
		BrokenAt:   rec.BrokenAt,
	}, nil
}

func (h *GRPCHandler) RecordSale(ctx context.Context, req *RecordSaleRequest) (*SaleView, error) {
	sale, err := h.processor.RecordSale(ctx, service.SaleRequest{
		SellerID:  req.SellerID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
		Actor:     req.Actor,
		Notes:     req.Notes,
		RequestID: req.RequestID,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	view := NewSaleView(sale)
	return &view, nil
}

func (h *GRPCHandler) GetSale(ctx context.Context, req *SaleIDMessage) (*SaleView, error) {
	sale, err := h.processor.GetSale(ctx, req.ID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	view := NewSaleView(sale)
	return &view, nil
}

func (h *GRPCHandler) ListStock(ctx context.Context, req *ListMessage) (*StocksMessage, error) {
	entries, err := h.processor.ListStock(ctx, domain.StockFilter{
		SellerID:  req.SellerID,
		ProductID: req.ProductID,
		Offset:    req.Offset,
		Limit:     req.Limit,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	resp := &StocksMessage{Stock: make([]StockView, 0, len(entries))}
	for _, entry := range entries {
		resp.Stock = append(resp.Stock, NewStockView(entry))
	}
	return resp, nil
}

func (h *GRPCHandler) ListSales(ctx context.Context, req *ListMessage) (*SalesMessage, error) {
	sales, err := h.processor.ListSales(ctx, domain.SaleFilter{
		SellerID:  req.SellerID,
		ProductID: req.ProductID,
		From:      req.From,
		To:        req.To,
		Offset:    req.Offset,
		Limit:     req.Limit,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	resp := &SalesMessage{Sales: make([]SaleView, 0, len(sales))}
	for _, sale := range sales {
		resp.Sales = append(resp.Sales, NewSaleView(sale))
	}
	return resp, nil
}

func (h *GRPCHandler) AmendSale(ctx context.Context, req *AmendSaleMessage) (*SaleView, error) {
	sale, err := h.processor.AmendSale(ctx, req.ID, req.Quantity, req.Actor)
	if err != nil {
		return nil, h.toStatus(err)
	}
	view := NewSaleView(sale)
	return &view, nil
}

func (h *GRPCHandler) ReverseSale(ctx context.Context, req *SaleIDMessage) (*SaleView, error) {
	if err := h.processor.ReverseSale(ctx, req.ID, req.Actor); err != nil {
		return nil, h.toStatus(err)
	}
	return h.GetSale(ctx, req)
}

func (h *GRPCHandler) AdjustStock(ctx context.Context, req *AdjustStockRequest) (*RecordView, error) {
	record, err := h.processor.Adjust(ctx, service.AdjustRequest{
		SellerID:  req.SellerID,
		ProductID: req.ProductID,
		Direction: domain.Direction(req.Direction),
		Quantity:  req.Quantity,
		Reason:    req.Reason,
		Actor:     req.Actor,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	view := NewRecordView(record)
	return &view, nil
}

func (h *GRPCHandler) QueryHistory(ctx context.Context, req *ListMessage) (*RecordsMessage, error) {
	records, err := h.processor.QueryHistory(ctx, domain.HistoryFilter{
		SellerID:  req.SellerID,
		ProductID: req.ProductID,
		Kind:      domain.Kind(req.Kind),
		SaleID:    req.SaleID,
		From:      req.From,
		To:        req.To,
		Offset:    req.Offset,
		Limit:     req.Limit,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	resp := &RecordsMessage{Records: make([]RecordView, 0, len(records))}
	for _, record := range records {
		resp.Records = append(resp.Records, NewRecordView(record))
	}
	return resp, nil
}

func (h *GRPCHandler) toStatus(err error) error {
	var validation *domain.ValidationError
	var insufficient *domain.InsufficientStockError

	switch {
	case errors.As(err, &validation):
		return h.withDetails(codes.InvalidArgument, err.Error(), &errdetails.BadRequest{
			FieldViolations: []*errdetails.BadRequest_FieldViolation{
				{Field: validation.Field, Description: validation.Reason},
			},
		})
	case errors.As(err, &insufficient):
		return h.withDetails(codes.FailedPrecondition, insufficient.Error(), &errdetails.ErrorInfo{
			Reason: ReasonInsufficientStock,
			Domain: ServiceName,
			Metadata: map[string]string{
				"available": strconv.Itoa(insufficient.Available),
				"requested": strconv.Itoa(insufficient.Requested),
			},
		})
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, domain.ErrSaleReversed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, domain.ErrInvariantViolation):
		h.logger.Error("ledger invariant violated", zap.Error(err))
		return status.Error(codes.Internal, "ledger invariant violation")
	}
	h.logger.Error("grpc request failed", zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}

// withDetails attaches detail to the status, falling back to the bare status
// when it cannot be encoded.
func (h *GRPCHandler) withDetails(code codes.Code, msg string, detail protoadapt.MessageV1) error {
	st, err := status.New(code, msg).WithDetails(detail)
	if err != nil {
		h.logger.Warn("failed to attach status details", zap.Error(err))
		return status.Error(code, msg)
	}
	return st.Err()
}
