package migrations

import (
	"gorm.io/gorm"
)

// AddMatchIndex creates the indexes used by the complementary pair self join
func AddMatchIndex(db *gorm.DB) error {
	indexes := []string{
		// Outer side of the join scans live orders
		`CREATE INDEX IF NOT EXISTS idx_orders_is_cancelled
		 ON orders(is_cancelled)`,

		// Inner side probes on the mirrored terms
		`CREATE INDEX IF NOT EXISTS idx_orders_terms
		 ON orders(token_b, token_a, amount_b, amount_a)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
