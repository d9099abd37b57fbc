package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stock-ledger/internal/adapter/handler"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

const location = "STRESS-WH"

// reserver is satisfied by the in-process service and the gRPC client.
type reserver interface {
	seed(ctx context.Context, sku, qty string) error
	reserve(ctx context.Context, sku, orderID string) error
	balance(ctx context.Context, sku string) (available, reserved string, err error)
}

func main() {
	app := &cli.App{
		Name:  "stress_test",
		Usage: "fire concurrent single-unit reservations at one stock",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "stock", Value: 20, Usage: "initial available quantity"},
			&cli.IntFlag{Name: "requests", Value: 50, Usage: "concurrent reservations"},
			&cli.IntFlag{Name: "attempts", Value: 50, Usage: "retry budget for the in-process service"},
			&cli.StringFlag{Name: "grpc", Usage: "target a running server instead of an in-process memory store"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	ctx := c.Context
	initial, total := c.Int("stock"), c.Int("requests")
	sku := fmt.Sprintf("ST-%d", time.Now().Unix()%1_000_000)

	var target reserver
	if addr := c.String("grpc"); addr != "" {
		conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return err
		}
		defer conn.Close()
		target = &grpcTarget{client: handler.NewStockClient(conn)}
	} else {
		store := storage.NewMemoryStore()
		logger := zap.NewNop()
		target = localTarget{svc: service.NewStockService(store, store, logger,
			service.StockServiceConfig{Retry: service.RetryPolicy{MaxAttempts: c.Int("attempts")}},
			service.WithEventHandlers(service.NewMovementRecorder(store, store, logger)),
		), store: store}
	}

	if err := target.seed(ctx, sku, fmt.Sprint(initial)); err != nil {
		return fmt.Errorf("seed stock: %w", err)
	}

	var successCount, soldOutCount, conflictCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			err := target.reserve(ctx, sku, fmt.Sprintf("ORD-%d", n))
			switch {
			case err == nil:
				successCount.Add(1)
			case isInsufficient(err):
				soldOutCount.Add(1)
			default:
				conflictCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success, soldOut, conflicts := successCount.Load(), soldOutCount.Load(), conflictCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("SKU:              %s\n", sku)
	fmt.Printf("Initial Stock:    %d\n", initial)
	fmt.Printf("Total Requests:   %d\n", total)
	fmt.Printf("Reserved:         %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Conflicts:        %d\n", conflicts)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	available, reserved, err := target.balance(ctx, sku)
	if err != nil {
		return err
	}
	fmt.Printf("Final Available:  %s\n", available)
	fmt.Printf("Final Reserved:   %s\n", reserved)

	if int(success) > initial {
		return fmt.Errorf("FAIL: oversold, %d reservations against %d units", success, initial)
	}
	wantReserved := domain.MustQuantity(fmt.Sprint(success)).String()
	if reserved != wantReserved {
		return fmt.Errorf("FAIL: expected reserved %s, got %s", wantReserved, reserved)
	}
	if conflicts > 0 {
		fmt.Printf("NOTE: %d requests exhausted their retry budget\n", conflicts)
	}
	fmt.Println("PASS: no oversell, reserved balance matches successful reservations")
	return nil
}

func isInsufficient(err error) bool {
	return errors.Is(err, domain.ErrInsufficientStock) || status.Code(err) == codes.FailedPrecondition
}

type localTarget struct {
	svc   *service.StockService
	store *storage.MemoryStore
}

func (t localTarget) seed(ctx context.Context, sku, qty string) error {
	_, err := t.svc.Receive(ctx, service.ReceiveCommand{
		SKU: sku, LocationRef: location, Quantity: qty, Unit: "PIECE", Reason: "stress seed", PerformedBy: "stress_test",
	})
	return err
}

func (t localTarget) reserve(ctx context.Context, sku, orderID string) error {
	_, err := t.svc.Reserve(ctx, service.ReserveCommand{
		RequestID: uuid.NewString(), SKU: sku, LocationRef: location, Quantity: "1", OrderID: orderID,
	})
	return err
}

func (t localTarget) balance(ctx context.Context, sku string) (string, string, error) {
	stock, err := t.store.FindBySKUAndLocation(ctx, domain.SKU(sku), location)
	if err != nil {
		return "", "", err
	}
	return stock.Available().String(), stock.Reserved().String(), nil
}

type grpcTarget struct {
	client  *handler.StockClient
	stockID string
}

func (t *grpcTarget) seed(ctx context.Context, sku, qty string) error {
	stock, err := t.client.Receive(ctx, &handler.ReceiveRequest{
		SKU: sku, LocationRef: location, Quantity: qty, Unit: "PIECE", Reason: "stress seed", PerformedBy: "stress_test",
	})
	if err != nil {
		return err
	}
	t.stockID = stock.ID
	return nil
}

func (t *grpcTarget) reserve(ctx context.Context, sku, orderID string) error {
	_, err := t.client.Reserve(handler.WithRequestID(ctx, uuid.NewString()), &handler.ReserveRequest{
		SKU: sku, LocationRef: location, Quantity: "1", OrderID: orderID,
	})
	return err
}

func (t *grpcTarget) balance(ctx context.Context, sku string) (string, string, error) {
	stock, err := t.client.GetStock(ctx, t.stockID)
	if err != nil {
		return "", "", err
	}
	return stock.Available.String(), stock.Reserved.String(), nil
}
