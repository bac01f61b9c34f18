package orders

import (
	"context"
	"errors"

	"github.com/ksred/orderbook-mirror/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when an order id is absent from the mirror.
	ErrNotFound = errors.New("order not found")
	// ErrConflict is returned when an insert hits an order id that is
	// already mirrored. Ingestion treats it as "already present".
	ErrConflict = errors.New("order already exists")
)

// Database is the gorm backed order mirror.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Exists reports whether an order with the given id is mirrored.
func (d *Database) Exists(ctx context.Context, orderID string) (bool, error) {
	var count int64
	if err := d.db.WithContext(ctx).
		Model(&types.Order{}).
		Where("order_id = ?", orderID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Insert persists a new order. The unique index on order_id is the
// arbiter: a row that already exists yields ErrConflict and is left
// untouched, so concurrent inserts of the same id never produce two rows.
func (d *Database) Insert(ctx context.Context, order *types.Order) error {
	result := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoNothing: true,
		}).
		Create(order)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ErrConflict
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (d *Database) GetByOrderID(ctx context.Context, orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

// FindComplementaryPairs returns every unordered pair of live orders whose
// tokens and amounts mirror each other. Each pair appears once, oriented
// so that OrderID sorts before OrderID2, and the result is sorted by
// (OrderID, OrderID2).
func (d *Database) FindComplementaryPairs(ctx context.Context) ([]types.Match, error) {
	var pairs []types.Match
	err := d.db.WithContext(ctx).
		Table("orders AS o1").
		Select("o1.order_id AS order_id, o2.order_id AS order_id2").
		Joins(`INNER JOIN orders AS o2
			ON o1.token_a = o2.token_b AND o1.token_b = o2.token_a
			AND o1.amount_a = o2.amount_b AND o1.amount_b = o2.amount_a`).
		Where("o1.is_cancelled = ? AND o2.is_cancelled = ?", false, false).
		Where("o1.order_id < o2.order_id").
		Order("o1.order_id, o2.order_id").
		Scan(&pairs).Error
	if err != nil {
		return nil, err
	}
	if pairs == nil {
		pairs = []types.Match{}
	}
	return pairs, nil
}

// RefreshState overwrites the ledger-owned mutable fields of a mirrored
// order. It reports whether anything changed.
func (d *Database) RefreshState(ctx context.Context, orderID string, isCancelled bool, amountLeftToFill string) (bool, error) {
	result := d.db.WithContext(ctx).
		Model(&types.Order{}).
		Where("order_id = ?", orderID).
		Where("is_cancelled <> ? OR amount_left_to_fill <> ?", isCancelled, amountLeftToFill).
		Updates(map[string]interface{}{
			"is_cancelled":        isCancelled,
			"amount_left_to_fill": amountLeftToFill,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Count returns the number of mirrored orders.
func (d *Database) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := d.db.WithContext(ctx).Model(&types.Order{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// List returns mirrored orders ordered by insertion, newest last.
func (d *Database) List(ctx context.Context, limit, offset int) ([]types.Order, error) {
	var orders []types.Order
	if err := d.db.WithContext(ctx).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
