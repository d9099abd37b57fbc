package handler

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/stock-ledger/internal/core/service"
)

func newGRPCClient(t *testing.T, opts ...service.Option) *StockClient {
	t.Helper()
	commands, queries := newServices(t, opts...)

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(ServerOptions()...)
	RegisterStockServer(server, NewGRPCHandler(commands, queries, zap.NewNop()))
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewStockClient(conn)
}

func TestGRPC_ReceiveReserveConfirm(t *testing.T) {
	client := newGRPCClient(t)
	ctx := context.Background()

	stock, err := client.Receive(ctx, &ReceiveRequest{SKU: "SKU-500", LocationRef: "WH-2", Quantity: "12", Unit: "box"})
	require.NoError(t, err)
	assert.Equal(t, "12.0000", stock.Available.String())

	stock, err = client.Reserve(ctx, &ReserveRequest{SKU: "SKU-500", LocationRef: "WH-2", Quantity: "4", OrderID: "ORD-9"})
	require.NoError(t, err)
	assert.Equal(t, "4.0000", stock.Reserved.String())

	stock, err = client.Confirm(ctx, &ReservationRequest{StockID: stock.ID, Quantity: "4", OrderID: "ORD-9"})
	require.NoError(t, err)
	assert.True(t, stock.Reserved.IsZero())
	assert.Equal(t, "8.0000", stock.Available.String())

	got, err := client.GetStock(ctx, stock.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
}

func TestGRPC_StatusCodes(t *testing.T) {
	client := newGRPCClient(t, service.WithIdempotency(newMemoryClaims()))
	ctx := context.Background()

	stock, err := client.Receive(ctx, &ReceiveRequest{SKU: "SKU-600", LocationRef: "WH-2", Quantity: "2", Unit: "PIECE"})
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
		code codes.Code
	}{
		{"not found", func() error {
			_, err := client.GetStock(ctx, "missing")
			return err
		}, codes.NotFound},
		{"insufficient stock", func() error {
			_, err := client.QuickSale(ctx, &QuickSaleRequest{StockID: stock.ID, Quantity: "3", OrderID: "POS-1"})
			return err
		}, codes.FailedPrecondition},
		{"invalid request", func() error {
			_, err := client.Withdraw(ctx, &WithdrawRequest{StockID: stock.ID, Quantity: "1"})
			return err
		}, codes.InvalidArgument},
		{"invalid adjust", func() error {
			_, err := client.Adjust(ctx, &AdjustRequest{StockID: stock.ID, NewQuantity: "-1", Reason: "count"})
			return err
		}, codes.InvalidArgument},
		{"release without reservation", func() error {
			_, err := client.Release(ctx, &ReservationRequest{StockID: stock.ID, Quantity: "1", OrderID: "O"})
			return err
		}, codes.FailedPrecondition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}

	t.Run("duplicate request", func(t *testing.T) {
		rctx := WithRequestID(ctx, "grpc-req-1")
		_, err := client.Withdraw(rctx, &WithdrawRequest{StockID: stock.ID, Quantity: "1", Department: "Ops"})
		require.NoError(t, err)

		_, err = client.Withdraw(rctx, &WithdrawRequest{StockID: stock.ID, Quantity: "1", Department: "Ops"})
		assert.Equal(t, codes.AlreadyExists, status.Code(err))
	})
}

func TestGRPC_ConcurrentReserve(t *testing.T) {
	client := newGRPCClient(t)
	ctx := context.Background()

	_, err := client.Receive(ctx, &ReceiveRequest{SKU: "SKU-700", LocationRef: "WH-2", Quantity: "10", Unit: "PIECE"})
	require.NoError(t, err)

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for _, order := range []string{"ORD-A", "ORD-B"} {
		wg.Add(1)
		go func(order string) {
			defer wg.Done()
			_, err := client.Reserve(ctx, &ReserveRequest{SKU: "SKU-700", LocationRef: "WH-2", Quantity: "10", OrderID: order})
			switch status.Code(err) {
			case codes.OK:
				ok.Add(1)
			case codes.FailedPrecondition, codes.Aborted:
				rejected.Add(1)
			}
		}(order)
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(1), rejected.Load())
}
