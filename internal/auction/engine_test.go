package auction

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/LC208/rare-book/internal/catalog"
	"github.com/LC208/rare-book/internal/models"
	"github.com/LC208/rare-book/internal/store"
	"github.com/LC208/rare-book/internal/validator"
)

type recordingPublisher struct {
	mu       sync.Mutex
	bids     []*models.BidEvent
	closures []*models.SettlementEvent
}

func (p *recordingPublisher) BidAccepted(_ context.Context, ev *models.BidEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bids = append(p.bids, ev)
}

func (p *recordingPublisher) AuctionClosed(_ context.Context, ev *models.SettlementEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closures = append(p.closures, ev)
}

type fixture struct {
	engine *Engine
	store  *store.Memory
	pub    *recordingPublisher
	start  time.Time
}

// newFixture sets up an engine over a memory store with one active auction
// (starting price 10, increment 2) and its item in stock.
func newFixture(t *testing.T) (*fixture, *models.Auction) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	pub := &recordingPublisher{}
	engine := New(st, pub, zerolog.Nop())

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a, err := engine.CreateAuction(ctx, CreateParams{
		ItemID:        "item-1",
		StartingPrice: decimal.NewFromInt(10),
		BidIncrement:  decimal.NewFromInt(2),
		StartTime:     start,
		EndTime:       start.Add(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, st.PutItem(ctx, &catalog.Item{
		ID: "item-1", Title: "First Folio", Quantity: 1, Status: catalog.ItemAvailable,
	}))

	// Activate via the sweep, as production does.
	_, err = engine.Sweep(ctx, start)
	require.NoError(t, err)

	got, err := engine.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateActive, got.State)

	return &fixture{engine: engine, store: st, pub: pub, start: start}, got
}

func TestEngine_BidProgression(t *testing.T) {
	ctx := context.Background()
	f, a := newFixture(t)
	now := f.start.Add(time.Minute)

	// First bid at the starting price is accepted.
	_, err := f.engine.PlaceBid(ctx, a.ID, "u1", decimal.NewFromInt(10), now)
	require.NoError(t, err)

	// 11 is below the minimum of 12.
	_, err = f.engine.PlaceBid(ctx, a.ID, "u2", decimal.NewFromInt(11), now.Add(time.Second))
	var rej *validator.Rejection
	require.ErrorAs(t, err, &rej)
	require.Equal(t, validator.ReasonTooLow, rej.Reason)
	require.True(t, rej.MinRequired.Equal(decimal.NewFromInt(12)))

	// 15 raises the high bid.
	_, err = f.engine.PlaceBid(ctx, a.ID, "u2", decimal.NewFromInt(15), now.Add(2*time.Second))
	require.NoError(t, err)

	got, err := f.engine.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, got.CurrentBid.Equal(decimal.NewFromInt(15)))
	require.Equal(t, "u2", got.HighestBidderID)
}

func TestEngine_ConcurrentEqualBids(t *testing.T) {
	ctx := context.Background()
	f, a := newFixture(t)
	now := f.start.Add(time.Minute)

	_, err := f.engine.PlaceBid(ctx, a.ID, "u1", decimal.NewFromInt(15), now)
	require.NoError(t, err)

	// Two bidders race with 17 against the high bid of 15. Exactly one is
	// accepted; the other gets a retryable conflict carrying 17.
	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, bidder := range []string{"u2", "u3"} {
		wg.Add(1)
		go func(bidder string) {
			defer wg.Done()
			_, err := f.engine.PlaceBid(ctx, a.ID, bidder, decimal.NewFromInt(17), now.Add(time.Second))
			results <- err
		}(bidder)
	}
	wg.Wait()
	close(results)

	var accepted, conflicted int
	for err := range results {
		if err == nil {
			accepted++
			continue
		}
		var rej *validator.Rejection
		require.ErrorAs(t, err, &rej)
		require.Equal(t, validator.ReasonConflict, rej.Reason)
		require.True(t, rej.CurrentBid.Equal(decimal.NewFromInt(17)))
		conflicted++
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, 1, conflicted)

	got, err := f.engine.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, got.CurrentBid.Equal(decimal.NewFromInt(17)))
}

func TestEngine_LedgerIsMonotonicallyImproving(t *testing.T) {
	ctx := context.Background()
	f, a := newFixture(t)

	// Hammer the auction from many bidders with arbitrary amounts; accepted
	// bids must form a strictly increasing sequence in acceptance order.
	amounts := []int64{10, 9, 12, 12, 30, 25, 31, 50, 40, 55}
	var wg sync.WaitGroup
	for i, amt := range amounts {
		wg.Add(1)
		go func(i int, amt int64) {
			defer wg.Done()
			now := f.start.Add(time.Duration(i+1) * time.Second)
			_, _ = f.engine.PlaceBid(ctx, a.ID, "bidder", decimal.NewFromInt(amt), now)
		}(i, amt)
	}
	wg.Wait()

	ledger, err := f.engine.History(ctx, a.ID)
	require.NoError(t, err)
	require.NotEmpty(t, ledger)

	byAcceptance := append([]*models.Bid(nil), ledger...)
	sort.Slice(byAcceptance, func(i, j int) bool {
		return byAcceptance[i].AcceptedAt.Before(byAcceptance[j].AcceptedAt)
	})
	for i := 1; i < len(byAcceptance); i++ {
		require.True(t, byAcceptance[i].Amount.GreaterThan(byAcceptance[i-1].Amount),
			"later bid %s not above earlier %s", byAcceptance[i].Amount, byAcceptance[i-1].Amount)
	}

	got, err := f.engine.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, got.CurrentBid.Equal(byAcceptance[len(byAcceptance)-1].Amount))
}

func TestEngine_ReplayRederivesHighBid(t *testing.T) {
	ctx := context.Background()
	f, a := newFixture(t)

	for i, amt := range []int64{10, 11, 15, 16, 20, 26} {
		now := f.start.Add(time.Duration(i+1) * time.Second)
		_, _ = f.engine.PlaceBid(ctx, a.ID, "bidder", decimal.NewFromInt(amt), now)
	}

	final, err := f.engine.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	ledger, err := f.engine.History(ctx, a.ID)
	require.NoError(t, err)

	// Replay the stored ledger in acceptance order through the validator:
	// every stored bid must pass the rule in force at its insertion, and the
	// replayed high bid must match the cached one.
	sort.Slice(ledger, func(i, j int) bool { return ledger[i].AcceptedAt.Before(ledger[j].AcceptedAt) })
	replay := final.Clone()
	replay.State = models.StateActive
	replay.CurrentBid = decimal.Zero
	replay.HighestBidderID = ""
	for _, b := range ledger {
		require.Nil(t, validator.Validate(replay, b.Amount, b.AcceptedAt),
			"stored bid %s contradicts the rule on replay", b.Amount)
		replay.CurrentBid = b.Amount
		replay.HighestBidderID = b.BidderID
	}
	require.True(t, replay.CurrentBid.Equal(final.CurrentBid))
}

func TestEngine_CloseSettlesWinner(t *testing.T) {
	ctx := context.Background()
	f, a := newFixture(t)

	_, err := f.engine.PlaceBid(ctx, a.ID, "u1", decimal.NewFromInt(50), f.start.Add(time.Minute))
	require.NoError(t, err)

	closeTime := a.EndTime.Add(time.Second)
	n, err := f.engine.Sweep(ctx, closeTime)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := f.engine.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateClosed, got.State)
	require.Equal(t, models.SettlementSettled, got.Settlement)
	require.NotEmpty(t, got.OrderID)
	require.NotNil(t, got.ClosedAt)

	orders, err := f.store.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, "u1", orders[0].BuyerID)
	require.True(t, orders[0].Amount.Equal(decimal.NewFromInt(50)))

	item, err := f.store.GetItem(ctx, "item-1")
	require.NoError(t, err)
	require.Equal(t, 0, item.Quantity)
	require.Equal(t, catalog.ItemSold, item.Status)

	require.Len(t, f.pub.closures, 1)
	require.Equal(t, models.SettlementSettled, f.pub.closures[0].Outcome)
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f, a := newFixture(t)

	_, err := f.engine.PlaceBid(ctx, a.ID, "u1", decimal.NewFromInt(50), f.start.Add(time.Minute))
	require.NoError(t, err)

	closeTime := a.EndTime.Add(time.Second)
	_, err = f.engine.Sweep(ctx, closeTime)
	require.NoError(t, err)

	// A second sweep (or a second sweeper replica) finds nothing to do.
	n, err := f.engine.Sweep(ctx, closeTime.Add(time.Minute))
	require.NoError(t, err)
	require.Zero(t, n)

	orders, err := f.store.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1, "settlement must run exactly once")

	item, err := f.store.GetItem(ctx, "item-1")
	require.NoError(t, err)
	require.Equal(t, 0, item.Quantity, "inventory must be decremented exactly once")
}

func TestEngine_CloseWithoutBids(t *testing.T) {
	ctx := context.Background()
	f, a := newFixture(t)

	_, err := f.engine.Sweep(ctx, a.EndTime.Add(time.Second))
	require.NoError(t, err)

	got, err := f.engine.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateClosed, got.State)
	require.Equal(t, models.SettlementNoWinner, got.Settlement)
	require.Empty(t, got.OrderID)

	orders, err := f.store.Orders(ctx)
	require.NoError(t, err)
	require.Empty(t, orders)

	item, err := f.store.GetItem(ctx, "item-1")
	require.NoError(t, err)
	require.Equal(t, 1, item.Quantity, "inventory untouched without a winner")
}

func TestEngine_CloseOutOfStock(t *testing.T) {
	ctx := context.Background()
	f, a := newFixture(t)

	_, err := f.engine.PlaceBid(ctx, a.ID, "u1", decimal.NewFromInt(50), f.start.Add(time.Minute))
	require.NoError(t, err)

	// The item sells through another channel before expiry.
	require.NoError(t, f.store.PutItem(ctx, &catalog.Item{
		ID: "item-1", Title: "First Folio", Quantity: 0, Status: catalog.ItemSold,
	}))

	_, err = f.engine.Sweep(ctx, a.EndTime.Add(time.Second))
	require.NoError(t, err)

	got, err := f.engine.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateClosed, got.State, "auction still closes")
	require.Equal(t, models.SettlementFailed, got.Settlement)
	require.Empty(t, got.OrderID)

	orders, err := f.store.Orders(ctx)
	require.NoError(t, err)
	require.Empty(t, orders)

	require.Len(t, f.pub.closures, 1)
	require.Equal(t, models.SettlementFailed, f.pub.closures[0].Outcome)
}

func TestEngine_NoBidAfterClose(t *testing.T) {
	ctx := context.Background()
	f, a := newFixture(t)

	closeTime := a.EndTime.Add(time.Second)
	_, err := f.engine.Sweep(ctx, closeTime)
	require.NoError(t, err)

	_, err = f.engine.PlaceBid(ctx, a.ID, "u1", decimal.NewFromInt(100), closeTime.Add(time.Second))
	var rej *validator.Rejection
	require.ErrorAs(t, err, &rej)
	require.Equal(t, validator.ReasonNotActive, rej.Reason)

	ledger, err := f.engine.History(ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, ledger)
}

func TestEngine_Cancel(t *testing.T) {
	ctx := context.Background()
	f, a := newFixture(t)

	require.NoError(t, f.engine.Cancel(ctx, a.ID, f.start.Add(time.Minute)))

	got, err := f.engine.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateCancelled, got.State)

	// Cancelling again is a no-op; a cancelled auction never settles.
	require.NoError(t, f.engine.Cancel(ctx, a.ID, f.start.Add(2*time.Minute)))
	n, err := f.engine.Sweep(ctx, a.EndTime.Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)

	orders, err := f.store.Orders(ctx)
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestEngine_CancelClosedFails(t *testing.T) {
	ctx := context.Background()
	f, a := newFixture(t)

	_, err := f.engine.Sweep(ctx, a.EndTime.Add(time.Second))
	require.NoError(t, err)

	err = f.engine.Cancel(ctx, a.ID, a.EndTime.Add(time.Minute))
	require.ErrorIs(t, err, ErrTerminal)
}

// flakyStore injects one settlement-time order failure to prove the close
// transition only latches after the whole unit commits.
type flakyStore struct {
	store.Store
	failures int
}

type flakyTx struct {
	store.Tx
	owner *flakyStore
}

func (f *flakyStore) WithAuction(ctx context.Context, id string, fn func(store.Tx) error) error {
	return f.Store.WithAuction(ctx, id, func(tx store.Tx) error {
		return fn(&flakyTx{Tx: tx, owner: f})
	})
}

func (t *flakyTx) CreateOrder(buyerID, itemID string, amount decimal.Decimal) (string, error) {
	if t.owner.failures > 0 {
		t.owner.failures--
		return "", errors.New("storage unavailable")
	}
	return t.Tx.CreateOrder(buyerID, itemID, amount)
}

func TestEngine_FailedSettlementIsReswept(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	flaky := &flakyStore{Store: mem, failures: 1}
	engine := New(flaky, nil, zerolog.Nop())

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a, err := engine.CreateAuction(ctx, CreateParams{
		ItemID:        "item-1",
		StartingPrice: decimal.NewFromInt(10),
		BidIncrement:  decimal.NewFromInt(2),
		StartTime:     start,
		EndTime:       start.Add(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, mem.PutItem(ctx, &catalog.Item{
		ID: "item-1", Quantity: 1, Status: catalog.ItemAvailable,
	}))
	_, err = engine.Sweep(ctx, start)
	require.NoError(t, err)
	_, err = engine.PlaceBid(ctx, a.ID, "u1", decimal.NewFromInt(50), start.Add(time.Minute))
	require.NoError(t, err)

	// First close attempt hits the storage failure: nothing latches.
	closeTime := a.EndTime.Add(time.Second)
	_, err = engine.Sweep(ctx, closeTime)
	require.Error(t, err)

	got, err := engine.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateActive, got.State, "failed transition must not latch")
	require.Equal(t, models.SettlementPending, got.Settlement)

	// The next tick retries and settles exactly once.
	n, err := engine.Sweep(ctx, closeTime.Add(5*time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err = engine.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateClosed, got.State)
	require.Equal(t, models.SettlementSettled, got.Settlement)

	orders, err := mem.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestEngine_CreateAuctionValidation(t *testing.T) {
	ctx := context.Background()
	engine := New(store.NewMemory(), nil, zerolog.Nop())
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		params CreateParams
	}{
		{"missing item", CreateParams{
			StartingPrice: decimal.NewFromInt(10), BidIncrement: decimal.NewFromInt(2),
			StartTime: start, EndTime: start.Add(time.Hour),
		}},
		{"negative starting price", CreateParams{
			ItemID: "i", StartingPrice: decimal.NewFromInt(-1), BidIncrement: decimal.NewFromInt(2),
			StartTime: start, EndTime: start.Add(time.Hour),
		}},
		{"zero increment", CreateParams{
			ItemID: "i", StartingPrice: decimal.NewFromInt(10), BidIncrement: decimal.Zero,
			StartTime: start, EndTime: start.Add(time.Hour),
		}},
		{"window inverted", CreateParams{
			ItemID: "i", StartingPrice: decimal.NewFromInt(10), BidIncrement: decimal.NewFromInt(2),
			StartTime: start, EndTime: start,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.CreateAuction(ctx, tc.params)
			require.Error(t, err)
		})
	}
}

func TestEngine_ScheduledAuctionActivates(t *testing.T) {
	ctx := context.Background()
	engine := New(store.NewMemory(), nil, zerolog.Nop())
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a, err := engine.CreateAuction(ctx, CreateParams{
		ItemID:        "item-1",
		StartingPrice: decimal.NewFromInt(10),
		BidIncrement:  decimal.NewFromInt(2),
		StartTime:     start,
		EndTime:       start.Add(time.Hour),
	})
	require.NoError(t, err)

	// Before the start nothing is due.
	n, err := engine.Sweep(ctx, start.Add(-time.Second))
	require.NoError(t, err)
	require.Zero(t, n)

	got, err := engine.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateScheduled, got.State)

	// Bids against a scheduled auction are rejected.
	_, err = engine.PlaceBid(ctx, a.ID, "u1", decimal.NewFromInt(10), start.Add(-time.Second))
	var rej *validator.Rejection
	require.ErrorAs(t, err, &rej)
	require.Equal(t, validator.ReasonNotActive, rej.Reason)
}
