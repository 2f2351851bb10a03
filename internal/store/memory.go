package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/LC208/rare-book/internal/catalog"
	"github.com/LC208/rare-book/internal/models"
)

// Memory is an in-process Store. The per-auction boundary is a mutex keyed
// by auction id; the transaction stages every mutation and applies it only
// when the callback succeeds, so a failed callback leaves no trace. A
// reserved item stays locked until the transaction ends, so two auctions
// selling the same item cannot both pass the stock check.
//
// Suitable for tests and single-node deployments; for replicated
// deployments use Postgres, whose boundary holds across processes.
type Memory struct {
	mu       sync.RWMutex
	auctions map[string]*models.Auction
	bids     map[string][]*models.Bid
	items    map[string]*catalog.Item
	orders   []*catalog.Order

	lockMu    sync.Mutex
	locks     map[string]*sync.Mutex
	itemLocks map[string]*sync.Mutex
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		auctions:  make(map[string]*models.Auction),
		bids:      make(map[string][]*models.Bid),
		items:     make(map[string]*catalog.Item),
		locks:     make(map[string]*sync.Mutex),
		itemLocks: make(map[string]*sync.Mutex),
	}
}

func (m *Memory) CreateAuction(_ context.Context, a *models.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auctions[a.ID] = a.Clone()
	return nil
}

func (m *Memory) GetAuction(_ context.Context, id string) (*models.Auction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.auctions[id]
	if !ok {
		return nil, ErrAuctionNotFound
	}
	return a.Clone(), nil
}

func (m *Memory) ListAuctions(_ context.Context) ([]*models.Auction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Auction, 0, len(m.auctions))
	for _, a := range m.auctions {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (m *Memory) Bids(_ context.Context, auctionID string) ([]*models.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.bids[auctionID]
	out := make([]*models.Bid, len(stored))
	for i, b := range stored {
		cp := *b
		out[i] = &cp
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Amount.Equal(out[j].Amount) {
			return out[i].Amount.GreaterThan(out[j].Amount)
		}
		return out[i].AcceptedAt.Before(out[j].AcceptedAt)
	})
	return out, nil
}

func (m *Memory) DueAuctions(_ context.Context, now time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var due []string
	for id, a := range m.auctions {
		switch a.State {
		case models.StateScheduled:
			if !now.Before(a.StartTime) {
				due = append(due, id)
			}
		case models.StateActive:
			if !now.Before(a.EndTime) {
				due = append(due, id)
			}
		}
	}
	sort.Strings(due)
	return due, nil
}

// auctionLock returns the mutex serializing mutations for one auction id.
func (m *Memory) auctionLock(id string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// itemLock returns the mutex a reservation holds for one item id. The
// in-memory analogue of the item row lock the postgres path takes.
func (m *Memory) itemLock(id string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.itemLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.itemLocks[id] = l
	}
	return l
}

func (m *Memory) WithAuction(_ context.Context, id string, fn func(Tx) error) error {
	lock := m.auctionLock(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	a, ok := m.auctions[id]
	var snapshot *models.Auction
	if ok {
		snapshot = a.Clone()
	}
	m.mu.RUnlock()
	if !ok {
		return ErrAuctionNotFound
	}

	tx := &memTx{store: m, auction: snapshot}
	defer tx.releaseItems()
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *Memory) PutItem(_ context.Context, item *catalog.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *item
	m.items[item.ID] = &cp
	return nil
}

func (m *Memory) GetItem(_ context.Context, id string) (*catalog.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return nil, catalog.ErrItemNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *Memory) Orders(_ context.Context) ([]*catalog.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*catalog.Order, len(m.orders))
	for i, o := range m.orders {
		cp := *o
		out[len(m.orders)-1-i] = &cp
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

// memTx stages mutations against a working copy of the locked auction.
type memTx struct {
	store   *Memory
	auction *models.Auction

	appended   []*models.Bid
	orders     []*catalog.Order
	decrements map[string]int
	reserved   map[string]*sync.Mutex
}

func (t *memTx) Auction() *models.Auction { return t.auction }

func (t *memTx) AppendBid(bid *models.Bid) error {
	cp := *bid
	t.appended = append(t.appended, &cp)
	t.auction.CurrentBid = bid.Amount
	t.auction.HighestBidderID = bid.BidderID
	t.auction.UpdatedAt = bid.AcceptedAt
	return nil
}

func (t *memTx) SetState(s models.LifecycleState, at time.Time) error {
	t.auction.State = s
	t.auction.UpdatedAt = at
	if s.Terminal() {
		closed := at
		t.auction.ClosedAt = &closed
	}
	return nil
}

func (t *memTx) SetSettlement(s models.SettlementState, orderID string) error {
	t.auction.Settlement = s
	t.auction.OrderID = orderID
	return nil
}

func (t *memTx) ReserveItem(itemID string) error {
	// Hold the item lock until the transaction ends, so a concurrent
	// transaction for another auction selling the same item blocks here and
	// re-reads the quantity only after this one commits or rolls back.
	if _, held := t.reserved[itemID]; !held {
		lock := t.store.itemLock(itemID)
		lock.Lock()
		if t.reserved == nil {
			t.reserved = make(map[string]*sync.Mutex)
		}
		t.reserved[itemID] = lock
	}

	t.store.mu.RLock()
	item, ok := t.store.items[itemID]
	t.store.mu.RUnlock()
	if !ok {
		return catalog.ErrItemNotFound
	}
	if item.Status != catalog.ItemAvailable || item.Quantity < 1 {
		return catalog.ErrOutOfStock
	}
	return nil
}

// releaseItems drops the item locks taken by reservations. Called after the
// transaction committed or rolled back.
func (t *memTx) releaseItems() {
	for _, lock := range t.reserved {
		lock.Unlock()
	}
	t.reserved = nil
}

func (t *memTx) CreateOrder(buyerID, itemID string, amount decimal.Decimal) (string, error) {
	order := &catalog.Order{
		ID:        uuid.NewString(),
		BuyerID:   buyerID,
		ItemID:    itemID,
		Amount:    amount,
		Status:    catalog.OrderPending,
		CreatedAt: time.Now().UTC(),
	}
	t.orders = append(t.orders, order)
	return order.ID, nil
}

func (t *memTx) DecrementItem(itemID string, n int) error {
	if t.decrements == nil {
		t.decrements = make(map[string]int)
	}
	t.decrements[itemID] += n
	return nil
}

// commit applies the staged mutations under the store write lock.
func (t *memTx) commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	t.store.auctions[t.auction.ID] = t.auction
	t.store.bids[t.auction.ID] = append(t.store.bids[t.auction.ID], t.appended...)
	t.store.orders = append(t.store.orders, t.orders...)
	for itemID, n := range t.decrements {
		item, ok := t.store.items[itemID]
		if !ok {
			continue
		}
		item.Quantity -= n
		if item.Quantity <= 0 {
			item.Quantity = 0
			item.Status = catalog.ItemSold
		}
	}
}
