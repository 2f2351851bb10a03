// Package catalog defines the contract the settlement engine has with the
// bookstore's inventory and order ledger. The core never manages catalog
// entries beyond reserving, selling and decrementing them.
package catalog

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrItemNotFound: the auction references an item the catalog no longer has.
	ErrItemNotFound = errors.New("catalog: item not found")
	// ErrOutOfStock: the item has no sellable units left.
	ErrOutOfStock = errors.New("catalog: item out of stock")
)

// ItemStatus mirrors the catalog's sellability flag.
type ItemStatus string

const (
	ItemAvailable ItemStatus = "available"
	ItemSold      ItemStatus = "sold"
)

// Item is the core-facing view of a catalog entry: an opaque id, a display
// title and a sellable-quantity counter.
type Item struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Quantity int        `json:"quantity"`
	Status   ItemStatus `json:"status"`
}

// OrderStatus of a sale record. Orders are created pending; payment is
// handled entirely outside this core.
type OrderStatus string

const OrderPending OrderStatus = "pending"

// Order is the sale record produced by settlement.
type Order struct {
	ID        string          `json:"id"`
	BuyerID   string          `json:"buyer_id"`
	ItemID    string          `json:"item_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// Gateway is the inventory/order contract settlement drives. Implementations
// must make these calls part of the same atomic unit as the auction state
// change that triggered them; the store's per-auction transaction satisfies
// the interface for exactly that reason.
type Gateway interface {
	// ReserveItem checks that one unit of the item is sellable. Returns
	// ErrOutOfStock when it is not, ErrItemNotFound when the item is gone.
	ReserveItem(itemID string) error

	// CreateOrder records the sale and returns the order id.
	CreateOrder(buyerID, itemID string, amount decimal.Decimal) (string, error)

	// DecrementItem reduces the sellable quantity by n, marking the item
	// unavailable when it reaches zero.
	DecrementItem(itemID string, n int) error
}
