package policy

import (
	"context"
	"testing"

	"github.com/inviti8/hvym-pinner/internal/types"
	"github.com/stretchr/testify/require"
)

type fakeQueries struct {
	balance   types.Amount
	slot      *types.SlotInfo
	expired   *bool
	slotErr   error
}

func (f *fakeQueries) WalletBalance(ctx context.Context, address types.Address) types.Amount {
	return f.balance
}
func (f *fakeQueries) Slot(ctx context.Context, slot types.SlotId) (*types.SlotInfo, error) {
	return f.slot, f.slotErr
}
func (f *fakeQueries) IsSlotExpired(ctx context.Context, slot types.SlotId) (*bool, error) {
	return f.expired, nil
}
func (f *fakeQueries) Participant(ctx context.Context, address types.Address) (*types.Participant, error) {
	return nil, nil
}
func (f *fakeQueries) JoinFee(ctx context.Context) (*types.Amount, error)     { return nil, nil }
func (f *fakeQueries) StakeAmount(ctx context.Context) (*types.Amount, error) { return nil, nil }
func (f *fakeQueries) PinFee(ctx context.Context) (*types.Amount, error)         { return nil, nil }
func (f *fakeQueries) MinOfferPrice(ctx context.Context) (*types.Amount, error)   { return nil, nil }
func (f *fakeQueries) MinPinQty(ctx context.Context) (*uint32, error)            { return nil, nil }
func (f *fakeQueries) PinnerCount(ctx context.Context) (*uint32, error)          { return nil, nil }

func activeSlot(pinsRemaining uint32) *types.SlotInfo {
	return &types.SlotInfo{PinsRemaining: pinsRemaining}
}

func TestEvaluatePriceTooLow(t *testing.T) {
	f := New(&fakeQueries{}, "GSELF", 100)
	d := f.Evaluate(context.Background(), types.PinEvent{Slot: 1, OfferPrice: 99})
	require.False(t, d.Accepted)
	require.Equal(t, ReasonPriceTooLow, d.ReasonCode)
}

func TestEvaluatePriceEqualToMinimumIsBoundaryAccepted(t *testing.T) {
	q := &fakeQueries{balance: 2 * EstimatedTxFee, slot: activeSlot(1)}
	f := New(q, "GSELF", 100+EstimatedTxFee)
	d := f.Evaluate(context.Background(), types.PinEvent{Slot: 1, OfferPrice: 100 + EstimatedTxFee})
	require.True(t, d.Accepted)
}

func TestEvaluateInsufficientBalance(t *testing.T) {
	q := &fakeQueries{balance: 2*EstimatedTxFee - 1, slot: activeSlot(1)}
	f := New(q, "GSELF", 100)
	d := f.Evaluate(context.Background(), types.PinEvent{Slot: 4, OfferPrice: 1_000_000})
	require.False(t, d.Accepted)
	require.Equal(t, ReasonInsufficientXLM, d.ReasonCode)
}

func TestEvaluateBalanceExactlyTwiceFeeAccepted(t *testing.T) {
	q := &fakeQueries{balance: 2 * EstimatedTxFee, slot: activeSlot(1)}
	f := New(q, "GSELF", 100)
	d := f.Evaluate(context.Background(), types.PinEvent{Slot: 4, OfferPrice: 1_000_000})
	require.True(t, d.Accepted)
}

func TestEvaluateSlotNotActiveWhenPinsRemainingZero(t *testing.T) {
	q := &fakeQueries{balance: 2 * EstimatedTxFee, slot: activeSlot(0)}
	f := New(q, "GSELF", 100)
	d := f.Evaluate(context.Background(), types.PinEvent{Slot: 4, OfferPrice: 1_000_000})
	require.False(t, d.Accepted)
	require.Equal(t, ReasonSlotNotActive, d.ReasonCode)
}

func TestEvaluateSlotNotActiveWhenExpired(t *testing.T) {
	expired := true
	q := &fakeQueries{balance: 2 * EstimatedTxFee, slot: activeSlot(1), expired: &expired}
	f := New(q, "GSELF", 100)
	d := f.Evaluate(context.Background(), types.PinEvent{Slot: 4, OfferPrice: 1_000_000})
	require.False(t, d.Accepted)
	require.Equal(t, ReasonSlotNotActive, d.ReasonCode)
}

func TestEvaluateUnprofitableAtExactFee(t *testing.T) {
	q := &fakeQueries{balance: 2 * EstimatedTxFee, slot: activeSlot(1)}
	f := New(q, "GSELF", 100)
	d := f.Evaluate(context.Background(), types.PinEvent{Slot: 4, OfferPrice: EstimatedTxFee})
	require.False(t, d.Accepted)
	require.Equal(t, ReasonUnprofitable, d.ReasonCode)
}

func TestEvaluateAccepted(t *testing.T) {
	q := &fakeQueries{balance: 10_000_000, slot: activeSlot(3)}
	f := New(q, "GSELF", 100)
	d := f.Evaluate(context.Background(), types.PinEvent{Slot: 1, OfferPrice: 1_000_000})
	require.True(t, d.Accepted)
	require.Equal(t, int64(1_000_000-int64(EstimatedTxFee)), d.NetProfit)
}

func TestSetMinPriceRuntimeUpdate(t *testing.T) {
	f := New(&fakeQueries{}, "GSELF", 100)
	f.SetMinPrice(500)
	require.Equal(t, types.Amount(500), f.MinPrice())
}
