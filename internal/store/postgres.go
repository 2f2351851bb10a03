package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/LC208/rare-book/internal/catalog"
	"github.com/LC208/rare-book/internal/models"
)

// Postgres implements Store on PostgreSQL. The per-auction boundary is a
// transaction holding SELECT ... FOR UPDATE on the auction row, so it also
// serializes replicas of this service against each other.
type Postgres struct {
	db *sql.DB
}

// NewPostgres connects to PostgreSQL and configures the pool.
func NewPostgres(connStr string) (*Postgres, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{db: db}, nil
}

// InitSchema creates the tables the core needs.
func (p *Postgres) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id VARCHAR(64) PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		quantity INT NOT NULL DEFAULT 0,
		status VARCHAR(16) NOT NULL DEFAULT 'available'
	);

	CREATE TABLE IF NOT EXISTS auctions (
		id VARCHAR(64) PRIMARY KEY,
		item_id VARCHAR(64) NOT NULL REFERENCES items(id),
		starting_price NUMERIC(10, 2) NOT NULL,
		bid_increment NUMERIC(10, 2) NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		state VARCHAR(16) NOT NULL DEFAULT 'scheduled',
		current_bid NUMERIC(10, 2) NOT NULL DEFAULT 0,
		highest_bidder_id VARCHAR(64) NOT NULL DEFAULT '',
		settlement VARCHAR(16) NOT NULL DEFAULT 'pending',
		order_id VARCHAR(64) NOT NULL DEFAULT '',
		closed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS bids (
		id VARCHAR(64) PRIMARY KEY,
		auction_id VARCHAR(64) NOT NULL REFERENCES auctions(id) ON DELETE CASCADE,
		bidder_id VARCHAR(64) NOT NULL,
		amount NUMERIC(10, 2) NOT NULL,
		accepted_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(64) PRIMARY KEY,
		buyer_id VARCHAR(64) NOT NULL,
		item_id VARCHAR(64) NOT NULL,
		amount NUMERIC(10, 2) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_auctions_due ON auctions(state, start_time, end_time);
	CREATE INDEX IF NOT EXISTS idx_bids_auction_id ON bids(auction_id);
	`

	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const auctionColumns = `id, item_id, starting_price, bid_increment, start_time, end_time,
	state, current_bid, highest_bidder_id, settlement, order_id, closed_at, created_at, updated_at`

func scanAuction(row interface{ Scan(...any) error }) (*models.Auction, error) {
	var a models.Auction
	var closedAt sql.NullTime
	err := row.Scan(
		&a.ID, &a.ItemID, &a.StartingPrice, &a.BidIncrement, &a.StartTime, &a.EndTime,
		&a.State, &a.CurrentBid, &a.HighestBidderID, &a.Settlement, &a.OrderID,
		&closedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if closedAt.Valid {
		a.ClosedAt = &closedAt.Time
	}
	return &a, nil
}

func (p *Postgres) CreateAuction(ctx context.Context, a *models.Auction) error {
	query := `
		INSERT INTO auctions (id, item_id, starting_price, bid_increment, start_time, end_time,
			state, current_bid, highest_bidder_id, settlement, order_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := p.db.ExecContext(ctx, query,
		a.ID, a.ItemID, a.StartingPrice, a.BidIncrement, a.StartTime, a.EndTime,
		a.State, a.CurrentBid, a.HighestBidderID, a.Settlement, a.OrderID, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert auction: %w", err)
	}
	return nil
}

func (p *Postgres) GetAuction(ctx context.Context, id string) (*models.Auction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if err == sql.ErrNoRows {
		return nil, ErrAuctionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query auction: %w", err)
	}
	return a, nil
}

func (p *Postgres) ListAuctions(ctx context.Context) ([]*models.Auction, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+auctionColumns+` FROM auctions ORDER BY start_time DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query auctions: %w", err)
	}
	defer rows.Close()

	var auctions []*models.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		auctions = append(auctions, a)
	}
	return auctions, rows.Err()
}

func (p *Postgres) Bids(ctx context.Context, auctionID string) ([]*models.Bid, error) {
	query := `
		SELECT id, auction_id, bidder_id, amount, accepted_at
		FROM bids
		WHERE auction_id = $1
		ORDER BY amount DESC, accepted_at ASC
	`
	rows, err := p.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	var bids []*models.Bid
	for rows.Next() {
		b := &models.Bid{}
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.AcceptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func (p *Postgres) DueAuctions(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		SELECT id FROM auctions
		WHERE (state = 'scheduled' AND start_time <= $1)
		   OR (state = 'active' AND end_time <= $1)
		ORDER BY id
	`
	rows, err := p.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due auctions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan auction id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) WithAuction(ctx context.Context, id string, fn func(Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Row lock: this is the per-auction serialization boundary.
	row := tx.QueryRowContext(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1 FOR UPDATE`, id)
	a, err := scanAuction(row)
	if err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return ErrAuctionNotFound
		}
		return fmt.Errorf("failed to lock auction: %w", err)
	}

	ptx := &pgTx{ctx: ctx, tx: tx, auction: a}
	if err := fn(ptx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *Postgres) PutItem(ctx context.Context, item *catalog.Item) error {
	query := `
		INSERT INTO items (id, title, quantity, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET title = $2, quantity = $3, status = $4
	`
	_, err := p.db.ExecContext(ctx, query, item.ID, item.Title, item.Quantity, item.Status)
	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}
	return nil
}

func (p *Postgres) GetItem(ctx context.Context, id string) (*catalog.Item, error) {
	item := &catalog.Item{}
	err := p.db.QueryRowContext(ctx, `SELECT id, title, quantity, status FROM items WHERE id = $1`, id).
		Scan(&item.ID, &item.Title, &item.Quantity, &item.Status)
	if err == sql.ErrNoRows {
		return nil, catalog.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query item: %w", err)
	}
	return item, nil
}

func (p *Postgres) Orders(ctx context.Context) ([]*catalog.Order, error) {
	query := `SELECT id, buyer_id, item_id, amount, status, created_at FROM orders ORDER BY created_at DESC`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*catalog.Order
	for rows.Next() {
		o := &catalog.Order{}
		if err := rows.Scan(&o.ID, &o.BuyerID, &o.ItemID, &o.Amount, &o.Status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (p *Postgres) Close() error { return p.db.Close() }

// pgTx runs every mutation on the open transaction, keeping the working
// snapshot in sync with what it writes.
type pgTx struct {
	ctx     context.Context
	tx      *sql.Tx
	auction *models.Auction
}

func (t *pgTx) Auction() *models.Auction { return t.auction }

func (t *pgTx) AppendBid(bid *models.Bid) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO bids (id, auction_id, bidder_id, amount, accepted_at) VALUES ($1, $2, $3, $4, $5)`,
		bid.ID, bid.AuctionID, bid.BidderID, bid.Amount, bid.AcceptedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	_, err = t.tx.ExecContext(t.ctx,
		`UPDATE auctions SET current_bid = $1, highest_bidder_id = $2, updated_at = $3 WHERE id = $4`,
		bid.Amount, bid.BidderID, bid.AcceptedAt, bid.AuctionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update auction high bid: %w", err)
	}
	t.auction.CurrentBid = bid.Amount
	t.auction.HighestBidderID = bid.BidderID
	t.auction.UpdatedAt = bid.AcceptedAt
	return nil
}

func (t *pgTx) SetState(s models.LifecycleState, at time.Time) error {
	var closedAt sql.NullTime
	if s.Terminal() {
		closedAt = sql.NullTime{Time: at, Valid: true}
	}
	_, err := t.tx.ExecContext(t.ctx,
		`UPDATE auctions SET state = $1, closed_at = COALESCE($2, closed_at), updated_at = $3 WHERE id = $4`,
		s, closedAt, at, t.auction.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update auction state: %w", err)
	}
	t.auction.State = s
	t.auction.UpdatedAt = at
	if s.Terminal() {
		closed := at
		t.auction.ClosedAt = &closed
	}
	return nil
}

func (t *pgTx) SetSettlement(s models.SettlementState, orderID string) error {
	_, err := t.tx.ExecContext(t.ctx,
		`UPDATE auctions SET settlement = $1, order_id = $2 WHERE id = $3`,
		s, orderID, t.auction.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update settlement: %w", err)
	}
	t.auction.Settlement = s
	t.auction.OrderID = orderID
	return nil
}

func (t *pgTx) ReserveItem(itemID string) error {
	var quantity int
	var status catalog.ItemStatus
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT quantity, status FROM items WHERE id = $1 FOR UPDATE`, itemID,
	).Scan(&quantity, &status)
	if err == sql.ErrNoRows {
		return catalog.ErrItemNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock item: %w", err)
	}
	if status != catalog.ItemAvailable || quantity < 1 {
		return catalog.ErrOutOfStock
	}
	return nil
}

func (t *pgTx) CreateOrder(buyerID, itemID string, amount decimal.Decimal) (string, error) {
	orderID := uuid.NewString()
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO orders (id, buyer_id, item_id, amount, status) VALUES ($1, $2, $3, $4, $5)`,
		orderID, buyerID, itemID, amount, catalog.OrderPending,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert order: %w", err)
	}
	return orderID, nil
}

func (t *pgTx) DecrementItem(itemID string, n int) error {
	query := `
		UPDATE items
		SET quantity = GREATEST(quantity - $1, 0),
		    status = CASE WHEN quantity - $1 <= 0 THEN 'sold' ELSE status END
		WHERE id = $2
	`
	_, err := t.tx.ExecContext(t.ctx, query, n, itemID)
	if err != nil {
		return fmt.Errorf("failed to decrement item quantity: %w", err)
	}
	return nil
}
