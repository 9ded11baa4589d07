package facade

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/inviti8/hvym-pinner/internal/executor"
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

type fakeQueries struct {
	balance     types.Amount
	participant *types.Participant
}

func (f *fakeQueries) WalletBalance(ctx context.Context, address types.Address) types.Amount {
	return f.balance
}
func (f *fakeQueries) Slot(ctx context.Context, slot types.SlotId) (*types.SlotInfo, error) {
	return nil, nil
}
func (f *fakeQueries) IsSlotExpired(ctx context.Context, slot types.SlotId) (*bool, error) {
	return nil, nil
}
func (f *fakeQueries) Participant(ctx context.Context, address types.Address) (*types.Participant, error) {
	return f.participant, nil
}
func (f *fakeQueries) JoinFee(ctx context.Context) (*types.Amount, error)     { return nil, nil }
func (f *fakeQueries) StakeAmount(ctx context.Context) (*types.Amount, error) { return nil, nil }
func (f *fakeQueries) PinFee(ctx context.Context) (*types.Amount, error)      { return nil, nil }
func (f *fakeQueries) MinOfferPrice(ctx context.Context) (*types.Amount, error) {
	return nil, nil
}
func (f *fakeQueries) MinPinQty(ctx context.Context) (*uint32, error)   { return nil, nil }
func (f *fakeQueries) PinnerCount(ctx context.Context) (*uint32, error) { return nil, nil }

func newTestFacade(t *testing.T, st *store.Store, balance types.Amount) *Facade {
	queries := &fakeQueries{balance: balance}
	modeCtrl := mode.New(types.ModeAutonomous, zap.NewNop())
	filter := policy.New(queries, "GSELF", 0)
	exec := executor.New("http://storage.invalid", 0, 0, 0, zap.NewNop())
	return New(st, queries, modeCtrl, filter, exec, "GSELF", zap.NewNop())
}

func pinEvent(slot types.SlotId) types.PinEvent {
	return types.PinEvent{
		Slot: slot, CID: "QmA", Filename: "f", GatewayURL: "g://x",
		OfferPrice: 1_000_000, PinQuantity: 3, Publisher: "GPUB",
	}
}

func TestGetOffersFiltersByStatus(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.SaveOffer(pinEvent(1), types.OfferPending))
	require.NoError(t, st.SaveOffer(pinEvent(2), types.OfferRejected))
	f := newTestFacade(t, st, 0)

	rejected, err := f.GetOffers(types.OfferRejected)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	require.Equal(t, types.SlotId(2), rejected[0].Slot)

	all, err := f.GetOffers("")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestApproveOffersRejectsWrongStatus(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.SaveOffer(pinEvent(1), types.OfferPending))
	f := newTestFacade(t, st, 0)

	outcomes := f.ApproveOffers([]types.SlotId{1})
	require.Len(t, outcomes, 1)
	require.False(t, outcomes[0].Success)
}

func TestApproveOffersSucceedsWhenAwaitingApproval(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.SaveOffer(pinEvent(1), types.OfferAwaitingApproval))
	f := newTestFacade(t, st, 0)

	outcomes := f.ApproveOffers([]types.SlotId{1})
	require.True(t, outcomes[0].Success)

	offer, ok, err := st.GetOffer(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.OfferApproved, offer.Status)
}

func TestApproveOffersTwiceSecondFails(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.SaveOffer(pinEvent(1), types.OfferAwaitingApproval))
	f := newTestFacade(t, st, 0)

	first := f.ApproveOffers([]types.SlotId{1})
	require.True(t, first[0].Success)
	second := f.ApproveOffers([]types.SlotId{1})
	require.False(t, second[0].Success)
}

func TestRejectOffersUnknownSlot(t *testing.T) {
	st := openTestStore(t)
	f := newTestFacade(t, st, 0)

	outcomes := f.RejectOffers([]types.SlotId{99})
	require.False(t, outcomes[0].Success)
}

func TestSetModeRejectsInvalidValue(t *testing.T) {
	st := openTestStore(t)
	f := newTestFacade(t, st, 0)

	outcome := f.SetMode("not_a_mode")
	require.False(t, outcome.Success)
}

func TestSetModeTwiceIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	f := newTestFacade(t, st, 0)

	first := f.SetMode(types.ModeOperatorApproved)
	require.True(t, first.Success)
	second := f.SetMode(types.ModeOperatorApproved)
	require.True(t, second.Success)

	cfg, err := st.GetRuntimeConfig(types.RuntimeConfig{Mode: types.ModeAutonomous})
	require.NoError(t, err)
	require.Equal(t, types.ModeOperatorApproved, cfg.Mode)

	activity, err := st.RecentActivity(10)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	require.Equal(t, "mode_changed", activity[0].EventType)
}

func TestGetWalletReportsCanCoverTx(t *testing.T) {
	st := openTestStore(t)
	f := newTestFacade(t, st, 2*200_000)

	w := f.GetWallet(context.Background())
	require.True(t, w.CanCoverTx)
	require.Contains(t, w.BalanceXLM, "XLM")
}

func TestGetDashboardAssemblesCounts(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.SaveOffer(pinEvent(1), types.OfferClaimed))
	require.NoError(t, st.SaveOffer(pinEvent(2), types.OfferAwaitingApproval))
	require.NoError(t, st.SaveClaim(types.Claim{Slot: 1, CID: "QmA", AmountEarned: 1_000_000, TxID: "tx1"}))
	f := newTestFacade(t, st, 10_000_000)

	dash, err := f.GetDashboard(context.Background(), "CCONTRACT")
	require.NoError(t, err)
	require.Equal(t, 2, dash.OffersSeen)
	require.Equal(t, 1, dash.OffersAccepted)
	require.Equal(t, 1, dash.OffersAwaitingApproval)
	require.Equal(t, types.Amount(1_000_000), dash.Earnings.TotalEarnedStroops)
	require.NotNil(t, dash.Contract)
	require.Equal(t, "CCONTRACT", dash.Contract.ContractID)
}

func TestUpdatePolicyPartialUpdate(t *testing.T) {
	st := openTestStore(t)
	f := newTestFacade(t, st, 0)

	minPrice := types.Amount(500)
	outcome := f.UpdatePolicy(&minPrice, nil)
	require.True(t, outcome.Success)

	cfg, err := st.GetRuntimeConfig(types.RuntimeConfig{MaxContentSize: 99})
	require.NoError(t, err)
	require.Equal(t, types.Amount(500), cfg.MinPrice)
	require.Equal(t, uint64(0), cfg.MaxContentSize)
}

func TestUpdatePolicyAppliesLive(t *testing.T) {
	st := openTestStore(t)
	f := newTestFacade(t, st, 0)

	minPrice := types.Amount(750)
	maxSize := uint64(4096)
	outcome := f.UpdatePolicy(&minPrice, &maxSize)
	require.True(t, outcome.Success)

	require.Equal(t, minPrice, f.filter.MinPrice())
	require.Equal(t, maxSize, f.exec.MaxContentSize())
}
