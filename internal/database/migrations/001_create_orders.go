package migrations

import (
	"github.com/ksred/orderbook-mirror/internal/types"
	"gorm.io/gorm"
)

// CreateOrders creates the orders table with its unique order_id index.
// The unique index is what keeps concurrent ingestion of the same order
// down to a single row.
func CreateOrders(db *gorm.DB) error {
	return db.AutoMigrate(&types.Order{})
}
