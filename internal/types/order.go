package types

import "time"

// Order is the local mirror of a single ledger order.
// Amounts are kept as base-10 integer strings; they are token units and
// must never pass through floating point.
type Order struct {
	ID               uint      `gorm:"primaryKey" json:"-"`
	OrderID          string    `gorm:"uniqueIndex;not null" json:"order_id"`
	AmountA          string    `gorm:"not null" json:"amount_a"`
	AmountB          string    `gorm:"not null" json:"amount_b"`
	AmountLeftToFill string    `gorm:"not null" json:"amount_left_to_fill"`
	Fees             string    `gorm:"not null" json:"fees"`
	TokenA           string    `gorm:"not null" json:"token_a"`
	TokenB           string    `gorm:"not null" json:"token_b"`
	User             string    `gorm:"not null" json:"user"`
	IsCancelled      bool      `gorm:"not null" json:"is_cancelled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Match is a pair of mirrored orders whose terms are exact complements.
// It is computed on demand and never persisted.
type Match struct {
	OrderID  string `gorm:"column:order_id" json:"order_id" binding:"required"`
	OrderID2 string `gorm:"column:order_id2" json:"order_id2" binding:"required"`
}

// LedgerOrder is an order record as reported by the ledger, before it is
// normalised into an Order.
type LedgerOrder struct {
	OrderID          string `json:"order_id"`
	AmountA          string `json:"amount_a"`
	AmountB          string `json:"amount_b"`
	AmountLeftToFill string `json:"amount_left_to_fill"`
	Fees             string `json:"fees"`
	TokenA           string `json:"token_a"`
	TokenB           string `json:"token_b"`
	User             string `json:"user"`
	IsCancelled      bool   `json:"is_cancelled"`
}
