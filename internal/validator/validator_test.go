package validator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/LC208/rare-book/internal/models"
)

func activeAuction() *models.Auction {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &models.Auction{
		ID:            "a1",
		ItemID:        "item1",
		StartingPrice: decimal.NewFromInt(10),
		BidIncrement:  decimal.NewFromInt(2),
		StartTime:     start,
		EndTime:       start.Add(time.Hour),
		State:         models.StateActive,
		CurrentBid:    decimal.Zero,
	}
}

func TestValidate_FirstBidAtStartingPrice(t *testing.T) {
	a := activeAuction()
	now := a.StartTime.Add(time.Minute)

	require.Nil(t, Validate(a, decimal.NewFromInt(10), now))
}

func TestValidate_FirstBidBelowStartingPrice(t *testing.T) {
	a := activeAuction()
	now := a.StartTime.Add(time.Minute)

	rej := Validate(a, decimal.NewFromInt(9), now)
	require.NotNil(t, rej)
	require.Equal(t, ReasonTooLow, rej.Reason)
	require.True(t, rej.MinRequired.Equal(decimal.NewFromInt(10)))
}

func TestValidate_IncrementRule(t *testing.T) {
	a := activeAuction()
	a.CurrentBid = decimal.NewFromInt(10)
	a.HighestBidderID = "u1"
	now := a.StartTime.Add(time.Minute)

	// 11 fails: minimum is 10 + 2 = 12.
	rej := Validate(a, decimal.NewFromInt(11), now)
	require.NotNil(t, rej)
	require.Equal(t, ReasonTooLow, rej.Reason)
	require.True(t, rej.MinRequired.Equal(decimal.NewFromInt(12)))

	// 12 and anything above passes.
	require.Nil(t, Validate(a, decimal.NewFromInt(12), now))
	require.Nil(t, Validate(a, decimal.NewFromInt(15), now))
}

func TestValidate_ConflictCarriesFreshHighBid(t *testing.T) {
	a := activeAuction()
	a.CurrentBid = decimal.NewFromInt(17)
	a.HighestBidderID = "u1"
	now := a.StartTime.Add(time.Minute)

	// A racing bid of 17 ties the leader but fails the increment: a
	// retryable conflict, not a plain too-low.
	rej := Validate(a, decimal.NewFromInt(17), now)
	require.NotNil(t, rej)
	require.Equal(t, ReasonConflict, rej.Reason)
	require.True(t, rej.CurrentBid.Equal(decimal.NewFromInt(17)))
	require.True(t, rej.MinRequired.Equal(decimal.NewFromInt(19)))
}

func TestValidate_TooLowBelowLeader(t *testing.T) {
	a := activeAuction()
	a.CurrentBid = decimal.NewFromInt(15)
	a.HighestBidderID = "u1"
	now := a.StartTime.Add(time.Minute)

	rej := Validate(a, decimal.NewFromInt(11), now)
	require.NotNil(t, rej)
	require.Equal(t, ReasonTooLow, rej.Reason)
	require.True(t, rej.MinRequired.Equal(decimal.NewFromInt(17)))
}

func TestValidate_StateGuards(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	for _, state := range []models.LifecycleState{
		models.StateScheduled, models.StateClosed, models.StateCancelled,
	} {
		a := activeAuction()
		a.State = state
		rej := Validate(a, decimal.NewFromInt(50), now)
		require.NotNil(t, rej, "state %s must reject", state)
		require.Equal(t, ReasonNotActive, rej.Reason)
	}
}

func TestValidate_OutOfWindow(t *testing.T) {
	a := activeAuction()

	rej := Validate(a, decimal.NewFromInt(50), a.StartTime.Add(-time.Second))
	require.NotNil(t, rej)
	require.Equal(t, ReasonOutOfWindow, rej.Reason)

	rej = Validate(a, decimal.NewFromInt(50), a.EndTime.Add(time.Second))
	require.NotNil(t, rej)
	require.Equal(t, ReasonOutOfWindow, rej.Reason)

	// Window bounds are inclusive.
	require.Nil(t, Validate(a, decimal.NewFromInt(50), a.StartTime))
	require.Nil(t, Validate(a, decimal.NewFromInt(50), a.EndTime))
}
