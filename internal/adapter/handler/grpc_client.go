package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// StockClient calls the StockService over a json-coded gRPC connection.
type StockClient struct {
	conn grpc.ClientConnInterface
}

func NewStockClient(conn grpc.ClientConnInterface) *StockClient {
	return &StockClient{conn: conn}
}

// WithRequestID attaches an idempotency key to an outgoing call.
func WithRequestID(ctx context.Context, id string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, idempotencyMetadata, id)
}

func (c *StockClient) invoke(ctx context.Context, method string, req any) (*domain.StockSnapshot, error) {
	out := new(domain.StockSnapshot)
	err := c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, out, grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StockClient) Receive(ctx context.Context, req *ReceiveRequest) (*domain.StockSnapshot, error) {
	return c.invoke(ctx, "Receive", req)
}

func (c *StockClient) Reserve(ctx context.Context, req *ReserveRequest) (*domain.StockSnapshot, error) {
	return c.invoke(ctx, "Reserve", req)
}

func (c *StockClient) Release(ctx context.Context, req *ReservationRequest) (*domain.StockSnapshot, error) {
	return c.invoke(ctx, "Release", req)
}

func (c *StockClient) Confirm(ctx context.Context, req *ReservationRequest) (*domain.StockSnapshot, error) {
	return c.invoke(ctx, "Confirm", req)
}

func (c *StockClient) Adjust(ctx context.Context, req *AdjustRequest) (*domain.StockSnapshot, error) {
	return c.invoke(ctx, "Adjust", req)
}

func (c *StockClient) Withdraw(ctx context.Context, req *WithdrawRequest) (*domain.StockSnapshot, error) {
	return c.invoke(ctx, "Withdraw", req)
}

func (c *StockClient) QuickSale(ctx context.Context, req *QuickSaleRequest) (*domain.StockSnapshot, error) {
	return c.invoke(ctx, "QuickSale", req)
}

func (c *StockClient) GetStock(ctx context.Context, id string) (*domain.StockSnapshot, error) {
	return c.invoke(ctx, "GetStock", &GetStockRequest{ID: id})
}
