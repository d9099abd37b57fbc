package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

const mysqlDuplicateEntry = 1062

type sqlTxKey struct{}

// MySQLAdapter persists stocks and their movements. Optimistic locking is a
// plain `WHERE id = ? AND version = ?` guard on update.
type MySQLAdapter struct {
	db *sqlx.DB
}

func NewMySQLAdapter(db *sqlx.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(sqlTxKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, sqlTxKey{}, tx)); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(), "commit tx")
}

func (m *MySQLAdapter) ext(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(sqlTxKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return m.db
}

type stockRow struct {
	ID          string          `db:"id"`
	ProductRef  string          `db:"product_ref"`
	SKU         string          `db:"sku"`
	LocationRef string          `db:"location_ref"`
	Available   domain.Quantity `db:"available_quantity"`
	Reserved    domain.Quantity `db:"reserved_quantity"`
	Unit        string          `db:"unit_of_measure"`
	Version     int64           `db:"version"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func toStockRow(s domain.StockSnapshot) stockRow {
	return stockRow{
		ID:          s.ID,
		ProductRef:  s.ProductRef,
		SKU:         string(s.SKU),
		LocationRef: s.LocationRef,
		Available:   s.Available,
		Reserved:    s.Reserved,
		Unit:        string(s.Unit),
		Version:     s.Version,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func (r stockRow) toDomain() domain.Stock {
	return domain.ReconstituteStock(domain.StockSnapshot{
		ID:          r.ID,
		ProductRef:  r.ProductRef,
		SKU:         domain.SKU(r.SKU),
		LocationRef: r.LocationRef,
		Available:   r.Available,
		Reserved:    r.Reserved,
		Unit:        domain.UnitOfMeasure(r.Unit),
		Version:     r.Version,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	})
}

const stockColumns = `id, product_ref, sku, location_ref, available_quantity, reserved_quantity,
	unit_of_measure, version, created_at, updated_at`

func (m *MySQLAdapter) Save(ctx context.Context, stock domain.Stock) (domain.Stock, error) {
	row := toStockRow(stock.Snapshot())

	if stock.IsNew() {
		row.Version = 1
		_, err := sqlx.NamedExecContext(ctx, m.ext(ctx), `
			INSERT INTO stocks (`+stockColumns+`)
			VALUES (:id, :product_ref, :sku, :location_ref, :available_quantity, :reserved_quantity,
				:unit_of_measure, :version, :created_at, :updated_at)`, row)
		if isDuplicateEntry(err) {
			return domain.Stock{}, fmt.Errorf("%w: sku %s at %s", domain.ErrDuplicateKey, row.SKU, row.LocationRef)
		}
		if err != nil {
			return domain.Stock{}, errors.Wrap(err, "insert stock")
		}
		return stock.WithVersion(1), nil
	}

	result, err := sqlx.NamedExecContext(ctx, m.ext(ctx), `
		UPDATE stocks
		SET available_quantity = :available_quantity, reserved_quantity = :reserved_quantity,
			unit_of_measure = :unit_of_measure, updated_at = :updated_at, version = version + 1
		WHERE id = :id AND version = :version`, row)
	if err != nil {
		return domain.Stock{}, errors.Wrap(err, "update stock")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return domain.Stock{}, errors.Wrap(err, "update stock rows affected")
	}
	if rows == 0 {
		return domain.Stock{}, fmt.Errorf("%w: stock %s version %d", domain.ErrConcurrencyConflict, row.ID, row.Version)
	}

	return stock.WithVersion(row.Version + 1), nil
}

func (m *MySQLAdapter) getStock(ctx context.Context, notFound string, query string, args ...interface{}) (domain.Stock, error) {
	var row stockRow
	err := sqlx.GetContext(ctx, m.ext(ctx), &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Stock{}, fmt.Errorf("%w: %s", domain.ErrNotFound, notFound)
	}
	if err != nil {
		return domain.Stock{}, errors.Wrap(err, "query stock")
	}
	return row.toDomain(), nil
}

func (m *MySQLAdapter) FindByID(ctx context.Context, id string) (domain.Stock, error) {
	return m.getStock(ctx, "id "+id,
		`SELECT `+stockColumns+` FROM stocks WHERE id = ?`, id)
}

func (m *MySQLAdapter) FindBySKUAndLocation(ctx context.Context, sku domain.SKU, locationRef string) (domain.Stock, error) {
	return m.getStock(ctx, fmt.Sprintf("sku %s at %s", sku, locationRef),
		`SELECT `+stockColumns+` FROM stocks WHERE sku = ? AND location_ref = ?`, sku.String(), locationRef)
}

func (m *MySQLAdapter) listStocks(ctx context.Context, query string, args ...interface{}) ([]domain.Stock, error) {
	var rows []stockRow
	if err := sqlx.SelectContext(ctx, m.ext(ctx), &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "list stocks")
	}

	stocks := make([]domain.Stock, 0, len(rows))
	for _, r := range rows {
		stocks = append(stocks, r.toDomain())
	}
	return stocks, nil
}

func (m *MySQLAdapter) FindBySKU(ctx context.Context, sku domain.SKU) ([]domain.Stock, error) {
	return m.listStocks(ctx,
		`SELECT `+stockColumns+` FROM stocks WHERE sku = ? ORDER BY created_at, id`, sku.String())
}

func (m *MySQLAdapter) FindByLocation(ctx context.Context, locationRef string) ([]domain.Stock, error) {
	return m.listStocks(ctx,
		`SELECT `+stockColumns+` FROM stocks WHERE location_ref = ? ORDER BY created_at, id`, locationRef)
}

func (m *MySQLAdapter) Exists(ctx context.Context, sku domain.SKU, locationRef string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, m.ext(ctx), &exists,
		`SELECT EXISTS(SELECT 1 FROM stocks WHERE sku = ? AND location_ref = ?)`, sku.String(), locationRef)
	if err != nil {
		return false, errors.Wrap(err, "check stock exists")
	}
	return exists, nil
}

// Delete relies on the foreign key cascade to drop the stock's movements.
func (m *MySQLAdapter) Delete(ctx context.Context, id string) error {
	result, err := m.ext(ctx).ExecContext(ctx, `DELETE FROM stocks WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "delete stock")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete stock rows affected")
	}
	if rows == 0 {
		return fmt.Errorf("%w: id %s", domain.ErrNotFound, id)
	}
	return nil
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
