package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// Single table layout, keyed by "pk":
//
//	STOCK#<id>              the stock item
//	SKULOC#<sku>#<location> guard item enforcing one stock per pair
//	MOVEMENT#<id>           ledger rows, found through stock-index
const (
	skuIndex      = "sku-index"
	locationIndex = "location-index"
	stockIndex    = "stock-index"

	conditionalCheckFailed = "ConditionalCheckFailed"
	performedAtLayout      = "2006-01-02T15:04:05.000000000Z07:00"
	batchWriteLimit        = 25
	batchWriteAttempts     = 5
)

var (
	batchWriteBackoff = 50 * time.Millisecond

	errDeleteInTx = errors.New("dynamodb: stock delete cannot join a transaction")
)

type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

func NewDynamoDBClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

type writeKind int

const (
	writeStockInsert writeKind = iota
	writeStockUpdate
	writeKeyGuard
	writeMovement
	writeDelete
)

type dynamoTxKey struct{}

// dynamoTx buffers writes until commit so they land in one
// TransactWriteItems call. Staged stocks stay readable inside the tx.
type dynamoTx struct {
	items  []types.TransactWriteItem
	kinds  []writeKind
	staged map[string]stockItem
}

func (tx *dynamoTx) add(kind writeKind, item types.TransactWriteItem) {
	tx.items = append(tx.items, item)
	tx.kinds = append(tx.kinds, kind)
}

type stockItem struct {
	PK          string    `dynamodbav:"pk"`
	ID          string    `dynamodbav:"id"`
	ProductRef  string    `dynamodbav:"product_ref"`
	SKU         string    `dynamodbav:"sku"`
	LocationRef string    `dynamodbav:"location_ref"`
	Available   string    `dynamodbav:"available_quantity"`
	Reserved    string    `dynamodbav:"reserved_quantity"`
	Unit        string    `dynamodbav:"unit_of_measure"`
	Version     int64     `dynamodbav:"version"`
	CreatedAt   time.Time `dynamodbav:"created_at"`
	UpdatedAt   time.Time `dynamodbav:"updated_at"`
}

type keyGuardItem struct {
	PK      string `dynamodbav:"pk"`
	StockID string `dynamodbav:"stock_id_ref"`
}

type movementItem struct {
	PK          string  `dynamodbav:"pk"`
	ID          string  `dynamodbav:"id"`
	StockID     string  `dynamodbav:"stock_id"`
	Type        string  `dynamodbav:"movement_type"`
	Quantity    string  `dynamodbav:"quantity"`
	Reason      string  `dynamodbav:"reason"`
	ReferenceID *string `dynamodbav:"reference_id,omitempty"`
	PerformedBy string  `dynamodbav:"performed_by"`
	PerformedAt string  `dynamodbav:"performed_at"`
}

func stockPK(id string) string { return "STOCK#" + id }

func keyGuardPK(sku domain.SKU, locationRef string) string {
	return "SKULOC#" + string(sku) + "#" + locationRef
}

func pkKey(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: pk}}
}

func toStockItem(s domain.StockSnapshot) stockItem {
	return stockItem{
		PK:          stockPK(s.ID),
		ID:          s.ID,
		ProductRef:  s.ProductRef,
		SKU:         string(s.SKU),
		LocationRef: s.LocationRef,
		Available:   s.Available.String(),
		Reserved:    s.Reserved.String(),
		Unit:        string(s.Unit),
		Version:     s.Version,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func (it stockItem) toDomain() (domain.Stock, error) {
	available, err := domain.QuantityOf(it.Available)
	if err != nil {
		return domain.Stock{}, errors.Wrapf(err, "stock %s available", it.ID)
	}
	reserved, err := domain.QuantityOf(it.Reserved)
	if err != nil {
		return domain.Stock{}, errors.Wrapf(err, "stock %s reserved", it.ID)
	}

	return domain.ReconstituteStock(domain.StockSnapshot{
		ID:          it.ID,
		ProductRef:  it.ProductRef,
		SKU:         domain.SKU(it.SKU),
		LocationRef: it.LocationRef,
		Available:   available,
		Reserved:    reserved,
		Unit:        domain.UnitOfMeasure(it.Unit),
		Version:     it.Version,
		CreatedAt:   it.CreatedAt,
		UpdatedAt:   it.UpdatedAt,
	}), nil
}

// DynamoDBAdapter is the DynamoDB StockRepository, MovementRepository and
// Transactor.
type DynamoDBAdapter struct {
	client    DynamoDBAPI
	tableName string
}

func NewDynamoDBAdapter(client DynamoDBAPI, tableName string) *DynamoDBAdapter {
	return &DynamoDBAdapter{client: client, tableName: tableName}
}

func (d *DynamoDBAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(dynamoTxKey{}).(*dynamoTx); ok {
		return fn(ctx)
	}

	tx := &dynamoTx{staged: make(map[string]stockItem)}
	if err := fn(context.WithValue(ctx, dynamoTxKey{}, tx)); err != nil {
		return err
	}
	return d.flush(ctx, tx)
}

// write joins the caller's tx, or commits at once when there is none.
func (d *DynamoDBAdapter) write(ctx context.Context, stage func(tx *dynamoTx) error) error {
	if tx, ok := ctx.Value(dynamoTxKey{}).(*dynamoTx); ok {
		return stage(tx)
	}

	tx := &dynamoTx{staged: make(map[string]stockItem)}
	if err := stage(tx); err != nil {
		return err
	}
	return d.flush(ctx, tx)
}

func (d *DynamoDBAdapter) flush(ctx context.Context, tx *dynamoTx) error {
	if len(tx.items) == 0 {
		return nil
	}

	_, err := d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: tx.items,
	})
	return classifyTxError(err, tx.kinds)
}

func classifyTxError(err error, kinds []writeKind) error {
	if err == nil {
		return nil
	}

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for i, reason := range canceled.CancellationReasons {
			if aws.ToString(reason.Code) != conditionalCheckFailed || i >= len(kinds) {
				continue
			}
			switch kinds[i] {
			case writeStockInsert, writeKeyGuard:
				return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, aws.ToString(reason.Message))
			case writeStockUpdate:
				return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, aws.ToString(reason.Message))
			case writeDelete:
				return fmt.Errorf("%w: %s", domain.ErrNotFound, aws.ToString(reason.Message))
			}
		}
	}
	return errors.Wrap(err, "transact write items")
}

func (d *DynamoDBAdapter) conditionalPut(item interface{}, cond expression.ConditionBuilder) (types.TransactWriteItem, error) {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return types.TransactWriteItem{}, errors.Wrap(err, "marshal item")
	}

	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return types.TransactWriteItem{}, errors.Wrap(err, "build condition")
	}

	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:                 aws.String(d.tableName),
			Item:                      av,
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		},
	}, nil
}

func (d *DynamoDBAdapter) Save(ctx context.Context, stock domain.Stock) (domain.Stock, error) {
	item := toStockItem(stock.Snapshot())
	held := item.Version
	item.Version = held + 1

	err := d.write(ctx, func(tx *dynamoTx) error {
		if held == 0 {
			put, err := d.conditionalPut(item, expression.AttributeNotExists(expression.Name("pk")))
			if err != nil {
				return err
			}
			guard, err := d.conditionalPut(keyGuardItem{
				PK:      keyGuardPK(stock.SKU(), stock.LocationRef()),
				StockID: item.ID,
			}, expression.AttributeNotExists(expression.Name("pk")))
			if err != nil {
				return err
			}
			tx.add(writeStockInsert, put)
			tx.add(writeKeyGuard, guard)
		} else {
			put, err := d.conditionalPut(item, expression.Name("version").Equal(expression.Value(held)))
			if err != nil {
				return err
			}
			tx.add(writeStockUpdate, put)
		}
		tx.staged[item.ID] = item
		return nil
	})
	if err != nil {
		return domain.Stock{}, err
	}

	return stock.WithVersion(item.Version), nil
}

func (d *DynamoDBAdapter) getItem(ctx context.Context, pk string, out interface{}) (bool, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            pkKey(pk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, errors.Wrap(err, "get item")
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, errors.Wrap(err, "unmarshal item")
	}
	return true, nil
}

func (d *DynamoDBAdapter) FindByID(ctx context.Context, id string) (domain.Stock, error) {
	if tx, ok := ctx.Value(dynamoTxKey{}).(*dynamoTx); ok {
		if item, staged := tx.staged[id]; staged {
			return item.toDomain()
		}
	}

	var item stockItem
	found, err := d.getItem(ctx, stockPK(id), &item)
	if err != nil {
		return domain.Stock{}, err
	}
	if !found {
		return domain.Stock{}, fmt.Errorf("%w: id %s", domain.ErrNotFound, id)
	}
	return item.toDomain()
}

func (d *DynamoDBAdapter) FindBySKUAndLocation(ctx context.Context, sku domain.SKU, locationRef string) (domain.Stock, error) {
	var guard keyGuardItem
	found, err := d.getItem(ctx, keyGuardPK(sku, locationRef), &guard)
	if err != nil {
		return domain.Stock{}, err
	}
	if !found {
		return domain.Stock{}, fmt.Errorf("%w: sku %s at %s", domain.ErrNotFound, sku, locationRef)
	}
	return d.FindByID(ctx, guard.StockID)
}

func (d *DynamoDBAdapter) queryIndex(ctx context.Context, index string, key expression.KeyConditionBuilder, forward bool, visit func(map[string]types.AttributeValue) error) error {
	expr, err := expression.NewBuilder().WithKeyCondition(key).Build()
	if err != nil {
		return errors.Wrap(err, "build key condition")
	}

	paginator := dynamodb.NewQueryPaginator(d.client, &dynamodb.QueryInput{
		TableName:                 aws.String(d.tableName),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(forward),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return errors.Wrapf(err, "query %s", index)
		}
		for _, raw := range page.Items {
			if err := visit(raw); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *DynamoDBAdapter) listStocks(ctx context.Context, index, attr, value string) ([]domain.Stock, error) {
	var stocks []domain.Stock
	err := d.queryIndex(ctx, index, expression.Key(attr).Equal(expression.Value(value)), true,
		func(raw map[string]types.AttributeValue) error {
			var item stockItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return errors.Wrap(err, "unmarshal stock")
			}
			stock, err := item.toDomain()
			if err != nil {
				return err
			}
			stocks = append(stocks, stock)
			return nil
		})
	return stocks, err
}

func (d *DynamoDBAdapter) FindBySKU(ctx context.Context, sku domain.SKU) ([]domain.Stock, error) {
	return d.listStocks(ctx, skuIndex, "sku", sku.String())
}

func (d *DynamoDBAdapter) FindByLocation(ctx context.Context, locationRef string) ([]domain.Stock, error) {
	return d.listStocks(ctx, locationIndex, "location_ref", locationRef)
}

func (d *DynamoDBAdapter) Exists(ctx context.Context, sku domain.SKU, locationRef string) (bool, error) {
	var guard keyGuardItem
	return d.getItem(ctx, keyGuardPK(sku, locationRef), &guard)
}

// Delete removes the stock and its guard atomically, then sweeps movements.
// The sweep is not transactional, so Delete refuses to run inside WithinTx.
func (d *DynamoDBAdapter) Delete(ctx context.Context, id string) error {
	if _, ok := ctx.Value(dynamoTxKey{}).(*dynamoTx); ok {
		return errDeleteInTx
	}

	stock, err := d.FindByID(ctx, id)
	if err != nil {
		return err
	}

	exists, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name("pk"))).
		Build()
	if err != nil {
		return errors.Wrap(err, "build condition")
	}

	err = d.write(ctx, func(tx *dynamoTx) error {
		tx.add(writeDelete, types.TransactWriteItem{Delete: &types.Delete{
			TableName:                aws.String(d.tableName),
			Key:                      pkKey(stockPK(id)),
			ConditionExpression:      exists.Condition(),
			ExpressionAttributeNames: exists.Names(),
		}})
		tx.add(writeDelete, types.TransactWriteItem{Delete: &types.Delete{
			TableName: aws.String(d.tableName),
			Key:       pkKey(keyGuardPK(stock.SKU(), stock.LocationRef())),
		}})
		delete(tx.staged, id)
		return nil
	})
	if err != nil {
		return err
	}

	return d.deleteMovements(ctx, id)
}

func (d *DynamoDBAdapter) deleteMovements(ctx context.Context, stockID string) error {
	var pending []types.WriteRequest
	sweep := func() error {
		if len(pending) == 0 {
			return nil
		}
		batch := pending
		pending = nil
		return d.batchWrite(ctx, batch)
	}

	err := d.queryIndex(ctx, stockIndex, expression.Key("stock_id").Equal(expression.Value(stockID)), true,
		func(raw map[string]types.AttributeValue) error {
			pending = append(pending, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: map[string]types.AttributeValue{"pk": raw["pk"]}},
			})
			if len(pending) == batchWriteLimit {
				return sweep()
			}
			return nil
		})
	if err != nil {
		return err
	}
	return sweep()
}

// batchWrite resubmits unprocessed requests with a linear backoff and fails
// if any remain after the last attempt.
func (d *DynamoDBAdapter) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	items := map[string][]types.WriteRequest{d.tableName: requests}
	for attempt := 1; ; attempt++ {
		out, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: items})
		if err != nil {
			return errors.Wrap(err, "delete movements")
		}

		items = out.UnprocessedItems
		left := 0
		for _, reqs := range items {
			left += len(reqs)
		}
		if left == 0 {
			return nil
		}
		if attempt == batchWriteAttempts {
			return errors.Errorf("delete movements: %d requests unprocessed after %d attempts", left, attempt)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * batchWriteBackoff):
		}
	}
}

func (d *DynamoDBAdapter) Append(ctx context.Context, mv domain.StockMovement) error {
	av, err := attributevalue.MarshalMap(movementItem{
		PK:          "MOVEMENT#" + mv.ID,
		ID:          mv.ID,
		StockID:     mv.StockID,
		Type:        string(mv.Type),
		Quantity:    mv.Quantity.String(),
		Reason:      mv.Reason,
		ReferenceID: mv.ReferenceID,
		PerformedBy: mv.PerformedBy,
		PerformedAt: mv.PerformedAt.UTC().Format(performedAtLayout),
	})
	if err != nil {
		return errors.Wrap(err, "marshal movement")
	}

	return d.write(ctx, func(tx *dynamoTx) error {
		tx.add(writeMovement, types.TransactWriteItem{Put: &types.Put{
			TableName: aws.String(d.tableName),
			Item:      av,
		}})
		return nil
	})
}

func (d *DynamoDBAdapter) ListByStock(ctx context.Context, stockID string) ([]domain.StockMovement, error) {
	var movements []domain.StockMovement
	err := d.queryIndex(ctx, stockIndex, expression.Key("stock_id").Equal(expression.Value(stockID)), false,
		func(raw map[string]types.AttributeValue) error {
			var item movementItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return errors.Wrap(err, "unmarshal movement")
			}
			qty, err := decimal.NewFromString(item.Quantity)
			if err != nil {
				return errors.Wrapf(err, "movement %s quantity", item.ID)
			}
			at, err := time.Parse(performedAtLayout, item.PerformedAt)
			if err != nil {
				return errors.Wrapf(err, "movement %s performed_at", item.ID)
			}
			movements = append(movements, domain.StockMovement{
				ID:          item.ID,
				StockID:     item.StockID,
				Type:        domain.MovementType(item.Type),
				Quantity:    qty,
				Reason:      item.Reason,
				ReferenceID: item.ReferenceID,
				PerformedBy: item.PerformedBy,
				PerformedAt: at,
			})
			return nil
		})
	return movements, err
}
