package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/inviti8/hvym-pinner/internal/claim"
	"github.com/inviti8/hvym-pinner/internal/executor"
	"github.com/inviti8/hvym-pinner/internal/ledger"
	"github.com/inviti8/hvym-pinner/internal/mode"
	"github.com/inviti8/hvym-pinner/internal/policy"
	"github.com/inviti8/hvym-pinner/internal/store"
	"github.com/inviti8/hvym-pinner/internal/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := store.Open(path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type fakeIngestor struct {
	events []ledger.Event
	cursor uint32
	err    error
}

func (f *fakeIngestor) Poll(ctx context.Context) ([]ledger.Event, error) {
	return f.events, f.err
}
func (f *fakeIngestor) Cursor() uint32 { return f.cursor }

type fakeQueries struct {
	balance types.Amount
}

func (f *fakeQueries) WalletBalance(ctx context.Context, address types.Address) types.Amount {
	return f.balance
}
func (f *fakeQueries) Slot(ctx context.Context, slot types.SlotId) (*types.SlotInfo, error) {
	return &types.SlotInfo{PinsRemaining: 1}, nil
}
func (f *fakeQueries) IsSlotExpired(ctx context.Context, slot types.SlotId) (*bool, error) {
	return nil, nil
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

type fakeExecutor struct {
	success bool
	errMsg  string
}

func (f *fakeExecutor) Pin(ctx context.Context, cid types.CID, gateway string) executor.PinOutcome {
	if f.success {
		n := uint64(100)
		return executor.PinOutcome{Success: true, CID: cid, BytesPinned: &n}
	}
	return executor.PinOutcome{CID: cid, Error: f.errMsg}
}

type fakeClaimer struct {
	success bool
	errCode string
	txID    string
}

func (f *fakeClaimer) SubmitClaim(ctx context.Context, slot types.SlotId, cid types.CID, bytesPinned uint64) claim.Outcome {
	if f.success {
		return claim.Outcome{Success: true, Slot: slot, TxID: f.txID}
	}
	return claim.Outcome{Slot: slot, Error: f.errCode}
}

func newOrchestrator(t *testing.T, st *store.Store, ing Ingestor, balance types.Amount, exec Executor, claimer Claimer) *Orchestrator {
	t.Helper()
	filter := policy.New(&fakeQueries{balance: balance}, "GSELF", 100)
	modeCtl := mode.New(types.ModeAutonomous, zap.NewNop())
	cfg := Config{PollInterval: time.Millisecond, ErrorBackoff: time.Millisecond}
	return New(st, ing, filter, exec, claimer, modeCtl, nil, cfg, zap.NewNop())
}

func pinOffer(slot types.SlotId, price types.Amount) ledger.Event {
	return ledger.Event{Pin: &types.PinEvent{Slot: slot, CID: "QmABC", OfferPrice: price, GatewayURL: "http://gw"}}
}

func TestDispatchPinEventRejectedByPolicy(t *testing.T) {
	st := openTestStore(t)
	ing := &fakeIngestor{events: []ledger.Event{pinOffer(1, 1)}}
	o := newOrchestrator(t, st, ing, 2*policy.EstimatedTxFee, &fakeExecutor{success: true}, &fakeClaimer{success: true})

	o.dispatchEvent(context.Background(), ing.events[0])

	offer, ok, err := st.GetOffer(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.OfferRejected, offer.Status)
}

func TestDispatchPinEventAcceptedAndClaimed(t *testing.T) {
	st := openTestStore(t)
	ing := &fakeIngestor{events: []ledger.Event{pinOffer(1, 1_000_000)}}
	o := newOrchestrator(t, st, ing, 2*policy.EstimatedTxFee, &fakeExecutor{success: true}, &fakeClaimer{success: true, txID: "hash1"})

	o.dispatchEvent(context.Background(), ing.events[0])

	offer, ok, err := st.GetOffer(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.OfferClaimed, offer.Status)

	earnings, err := st.Earnings()
	require.NoError(t, err)
	require.EqualValues(t, 1_000_000, earnings.Total)
}

func TestDispatchPinEventPinFailure(t *testing.T) {
	st := openTestStore(t)
	ing := &fakeIngestor{events: []ledger.Event{pinOffer(1, 1_000_000)}}
	o := newOrchestrator(t, st, ing, 2*policy.EstimatedTxFee, &fakeExecutor{success: false, errMsg: "gateway_timeout"}, &fakeClaimer{success: true})

	o.dispatchEvent(context.Background(), ing.events[0])

	offer, ok, err := st.GetOffer(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.OfferPinFailed, offer.Status)
}

func TestDispatchPinEventOperatorApprovedAwaits(t *testing.T) {
	st := openTestStore(t)
	ing := &fakeIngestor{events: []ledger.Event{pinOffer(1, 1_000_000)}}
	o := newOrchestrator(t, st, ing, 2*policy.EstimatedTxFee, &fakeExecutor{success: true}, &fakeClaimer{success: true})
	o.mode.Set(types.ModeOperatorApproved)

	o.dispatchEvent(context.Background(), ing.events[0])

	offer, ok, err := st.GetOffer(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.OfferAwaitingApproval, offer.Status)
}

func TestProcessApprovedQueueExecutes(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.SaveOffer(types.PinEvent{Slot: 2, CID: "QmXYZ", OfferPrice: 1_000_000, GatewayURL: "http://gw"}, types.OfferApproved))

	o := newOrchestrator(t, st, &fakeIngestor{}, 2*policy.EstimatedTxFee, &fakeExecutor{success: true}, &fakeClaimer{success: true, txID: "hash2"})
	o.processApprovedQueue(context.Background())

	offer, ok, err := st.GetOffer(2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.OfferClaimed, offer.Status)
}

func TestDispatchFreedEventMarksExpired(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.SaveOffer(types.PinEvent{Slot: 3, CID: "QmFreed"}, types.OfferPinning))
	o := newOrchestrator(t, st, &fakeIngestor{}, 2*policy.EstimatedTxFee, &fakeExecutor{success: true}, &fakeClaimer{success: true})

	o.dispatchEvent(context.Background(), ledger.Event{Freed: &types.FreedEvent{Slot: 3}})

	offer, ok, err := st.GetOffer(3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.OfferExpired, offer.Status)
}
