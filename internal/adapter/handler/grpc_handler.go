package handler

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

const (
	serviceName         = "stockledger.v1.StockService"
	idempotencyMetadata = "idempotency-key"
)

type GetStockRequest struct {
	ID string `json:"id" validate:"required"`
}

// StockServer is the gRPC surface of the stock service.
type StockServer interface {
	Receive(ctx context.Context, req *ReceiveRequest) (*domain.StockSnapshot, error)
	Reserve(ctx context.Context, req *ReserveRequest) (*domain.StockSnapshot, error)
	Release(ctx context.Context, req *ReservationRequest) (*domain.StockSnapshot, error)
	Confirm(ctx context.Context, req *ReservationRequest) (*domain.StockSnapshot, error)
	Adjust(ctx context.Context, req *AdjustRequest) (*domain.StockSnapshot, error)
	Withdraw(ctx context.Context, req *WithdrawRequest) (*domain.StockSnapshot, error)
	QuickSale(ctx context.Context, req *QuickSaleRequest) (*domain.StockSnapshot, error)
	GetStock(ctx context.Context, req *GetStockRequest) (*domain.StockSnapshot, error)
}

var StockServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*StockServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Receive", StockServer.Receive),
		unary("Reserve", StockServer.Reserve),
		unary("Release", StockServer.Release),
		unary("Confirm", StockServer.Confirm),
		unary("Adjust", StockServer.Adjust),
		unary("Withdraw", StockServer.Withdraw),
		unary("QuickSale", StockServer.QuickSale),
		unary("GetStock", StockServer.GetStock),
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterStockServer registers srv on s. The server must be built with
// ServerOptions so requests are decoded with the json codec.
func RegisterStockServer(s grpc.ServiceRegistrar, srv StockServer) {
	s.RegisterService(&StockServiceDesc, srv)
}

// ServerOptions forces the json codec for every incoming call.
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{grpc.ForceServerCodec(jsonCodec{})}
}

func unary[Req any](method string, call func(StockServer, context.Context, *Req) (*domain.StockSnapshot, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(StockServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + serviceName + "/" + method,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(StockServer), ctx, req.(*Req))
			})
		},
	}
}

type GRPCHandler struct {
	commands *service.StockService
	queries  *service.QueryService
	logger   *zap.Logger
}

func NewGRPCHandler(commands *service.StockService, queries *service.QueryService, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{commands: commands, queries: queries, logger: logger}
}

func (h *GRPCHandler) Receive(ctx context.Context, req *ReceiveRequest) (*domain.StockSnapshot, error) {
	if err := validate.Struct(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	stock, err := h.commands.Receive(ctx, service.ReceiveCommand{
		RequestID:   requestID(ctx),
		ProductRef:  req.ProductRef,
		SKU:         req.SKU,
		LocationRef: req.LocationRef,
		Quantity:    req.Quantity,
		Unit:        req.Unit,
		Reason:      req.Reason,
		PerformedBy: req.PerformedBy,
	})
	return h.reply(stock, err)
}

func (h *GRPCHandler) Reserve(ctx context.Context, req *ReserveRequest) (*domain.StockSnapshot, error) {
	if err := validate.Struct(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	stock, err := h.commands.Reserve(ctx, service.ReserveCommand{
		RequestID:   requestID(ctx),
		SKU:         req.SKU,
		LocationRef: req.LocationRef,
		Quantity:    req.Quantity,
		OrderID:     req.OrderID,
	})
	return h.reply(stock, err)
}

func (h *GRPCHandler) Release(ctx context.Context, req *ReservationRequest) (*domain.StockSnapshot, error) {
	if err := validate.Struct(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	stock, err := h.commands.Release(ctx, service.ReservationCommand{
		RequestID: requestID(ctx),
		StockID:   req.StockID,
		Quantity:  req.Quantity,
		OrderID:   req.OrderID,
	})
	return h.reply(stock, err)
}

func (h *GRPCHandler) Confirm(ctx context.Context, req *ReservationRequest) (*domain.StockSnapshot, error) {
	if err := validate.Struct(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	stock, err := h.commands.Confirm(ctx, service.ReservationCommand{
		RequestID: requestID(ctx),
		StockID:   req.StockID,
		Quantity:  req.Quantity,
		OrderID:   req.OrderID,
	})
	return h.reply(stock, err)
}

func (h *GRPCHandler) Adjust(ctx context.Context, req *AdjustRequest) (*domain.StockSnapshot, error) {
	if err := validate.Struct(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	stock, err := h.commands.Adjust(ctx, service.AdjustCommand{
		RequestID:   requestID(ctx),
		StockID:     req.StockID,
		NewQuantity: req.NewQuantity,
		Reason:      req.Reason,
		PerformedBy: req.PerformedBy,
	})
	return h.reply(stock, err)
}

func (h *GRPCHandler) Withdraw(ctx context.Context, req *WithdrawRequest) (*domain.StockSnapshot, error) {
	if err := validate.Struct(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	stock, err := h.commands.Withdraw(ctx, service.WithdrawCommand{
		RequestID:   requestID(ctx),
		StockID:     req.StockID,
		Quantity:    req.Quantity,
		Department:  req.Department,
		Reason:      req.Reason,
		PerformedBy: req.PerformedBy,
	})
	return h.reply(stock, err)
}

func (h *GRPCHandler) QuickSale(ctx context.Context, req *QuickSaleRequest) (*domain.StockSnapshot, error) {
	if err := validate.Struct(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	stock, err := h.commands.QuickSale(ctx, service.QuickSaleCommand{
		RequestID:   requestID(ctx),
		StockID:     req.StockID,
		Quantity:    req.Quantity,
		OrderID:     req.OrderID,
		PerformedBy: req.PerformedBy,
	})
	return h.reply(stock, err)
}

func (h *GRPCHandler) GetStock(ctx context.Context, req *GetStockRequest) (*domain.StockSnapshot, error) {
	if err := validate.Struct(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	stock, err := h.queries.GetStock(ctx, req.ID)
	return h.reply(stock, err)
}

func (h *GRPCHandler) reply(stock domain.Stock, err error) (*domain.StockSnapshot, error) {
	if err != nil {
		code := grpcCode(err)
		if code == codes.Internal {
			h.logger.Error("grpc call failed", zap.Error(err))
			return nil, status.Error(code, "internal error")
		}
		return nil, status.Error(code, err.Error())
	}
	snap := stock.Snapshot()
	return &snap, nil
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, service.ErrDuplicateRequest):
		return codes.AlreadyExists
	case errors.Is(err, domain.ErrInsufficientStock):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrConcurrencyConflict), errors.Is(err, domain.ErrDuplicateKey):
		return codes.Aborted
	case errors.Is(err, domain.ErrInvalidOperation):
		return codes.InvalidArgument
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

func requestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(idempotencyMetadata); len(values) > 0 {
		return values[0]
	}
	return ""
}
