// Package facade implements the Data Facade: the single read/act surface a
// UI or operator tool uses to observe daemon state and issue commands. It
// never talks to the storage node directly. Reads come from the State Store
// and the Mode Controller, plus live ledger queries: the wallet balance and,
// for the contract snapshot, the contract's fee/price/quantity/stake
// parameters, pinner count, and this agent's participant record.
package facade

import (
	"context"
	"fmt"

	"github.com/inviti8/hvym-pinner/internal/executor"
	"github.com/inviti8/hvym-pinner/internal/ledger"
	"github.com/inviti8/hvym-pinner/internal/mode"
	"github.com/inviti8/hvym-pinner/internal/policy"
	"github.com/inviti8/hvym-pinner/internal/store"
	"github.com/inviti8/hvym-pinner/internal/types"
	"go.uber.org/zap"
)

// stroopsPerXLM is the fixed conversion factor between the ledger's minor
// unit and its native asset's display unit.
const stroopsPerXLM = 10_000_000

func xlmString(stroops types.Amount) string {
	xlm := float64(stroops) / float64(stroopsPerXLM)
	return fmt.Sprintf("%.7f XLM", xlm)
}

// Facade assembles DashboardSnapshot and handles the operator-facing write
// operations (approve, reject, mode change, policy update).
type Facade struct {
	store   *store.Store
	queries ledger.Queries
	mode    *mode.Controller
	filter  *policy.Filter
	exec    *executor.Executor
	self    types.Address
	logger  *zap.Logger
}

// New constructs a Facade. filter and exec receive update_policy's live
// threshold changes in addition to the store's persisted copy.
func New(s *store.Store, queries ledger.Queries, modeCtrl *mode.Controller, filter *policy.Filter, exec *executor.Executor, self types.Address, logger *zap.Logger) *Facade {
	return &Facade{store: s, queries: queries, mode: modeCtrl, filter: filter, exec: exec, self: self, logger: logger}
}

func offerToSnapshot(o types.Offer) types.OfferSnapshot {
	netProfit := int64(0)
	if o.NetProfit != nil {
		netProfit = *o.NetProfit
	}
	return types.OfferSnapshot{
		Slot: o.Slot, CID: o.CID, Gateway: o.Gateway,
		OfferPrice: o.OfferPrice, OfferPriceXLM: xlmString(o.OfferPrice),
		PinQuantity: o.PinQuantity, PinsRemaining: o.PinsRemaining,
		Publisher: o.Publisher, Status: o.Status, NetProfit: netProfit,
		CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
	}
}

func activityToSnapshot(a types.Activity) types.ActivitySnapshot {
	return types.ActivitySnapshot{
		Timestamp: a.CreatedAt, EventType: a.EventType, Slot: a.Slot,
		CID: a.CID, Amount: a.Amount, Message: a.Message,
	}
}

// GetOffers returns every offer, or only those matching status when
// non-empty.
func (f *Facade) GetOffers(status types.OfferStatus) ([]types.OfferSnapshot, error) {
	var offers []types.Offer
	var err error
	if status != "" {
		offers, err = f.store.ByStatus(status)
	} else {
		offers, err = f.store.AllOffers()
	}
	if err != nil {
		return nil, err
	}
	snapshots := make([]types.OfferSnapshot, 0, len(offers))
	for _, o := range offers {
		snapshots = append(snapshots, offerToSnapshot(o))
	}
	return snapshots, nil
}

// GetApprovalQueue returns offers awaiting operator approval.
func (f *Facade) GetApprovalQueue() ([]types.OfferSnapshot, error) {
	offers, err := f.store.ApprovalQueue()
	if err != nil {
		return nil, err
	}
	snapshots := make([]types.OfferSnapshot, 0, len(offers))
	for _, o := range offers {
		snapshots = append(snapshots, offerToSnapshot(o))
	}
	return snapshots, nil
}

// GetEarnings returns the formatted earnings summary over all windows.
func (f *Facade) GetEarnings() (types.EarningsSnapshot, error) {
	e, err := f.store.Earnings()
	if err != nil {
		return types.EarningsSnapshot{}, err
	}
	var avg types.Amount
	if e.Count > 0 {
		avg = e.Total / types.Amount(e.Count)
	}
	return types.EarningsSnapshot{
		TotalEarnedStroops: e.Total, TotalEarnedXLM: xlmString(e.Total),
		Earned24hStroops: e.Last24h, Earned24hXLM: xlmString(e.Last24h),
		Earned7dStroops: e.Last7d, Earned7dXLM: xlmString(e.Last7d),
		Earned30dStroops: e.Last30d, Earned30dXLM: xlmString(e.Last30d),
		ClaimsCount: e.Count, AveragePerClaimStroops: avg,
	}, nil
}

// GetPins returns every locally pinned CID.
func (f *Facade) GetPins() ([]types.PinSnapshot, error) {
	pins, err := f.store.AllPins()
	if err != nil {
		return nil, err
	}
	snapshots := make([]types.PinSnapshot, 0, len(pins))
	for _, p := range pins {
		snapshots = append(snapshots, types.PinSnapshot{
			CID: p.CID, Slot: p.Slot, BytesPinned: p.BytesPinned, PinnedAt: p.PinnedAt,
		})
	}
	return snapshots, nil
}

// GetWallet queries the live wallet balance and formats it, including
// whether it can cover at least one more submitted transaction.
func (f *Facade) GetWallet(ctx context.Context) types.WalletSnapshot {
	balance := f.queries.WalletBalance(ctx, f.self)
	return types.WalletSnapshot{
		Address: f.self, BalanceStroops: balance, BalanceXLM: xlmString(balance),
		CanCoverTx: balance >= 2*policy.EstimatedTxFee, EstimatedTxFee: policy.EstimatedTxFee,
	}
}

// GetContract assembles a live ContractSnapshot: fee schedule, our own
// pinner registration (if any), and currently tracked offers as slots.
func (f *Facade) GetContract(ctx context.Context, contractID string) (types.ContractSnapshot, error) {
	snapshot := types.ContractSnapshot{ContractID: contractID}

	if v, err := f.queries.PinFee(ctx); err == nil && v != nil {
		snapshot.PinFee = *v
	}
	if v, err := f.queries.MinOfferPrice(ctx); err == nil && v != nil {
		snapshot.MinOfferPrice = *v
	}
	if v, err := f.queries.MinPinQty(ctx); err == nil && v != nil {
		snapshot.MinPinQty = *v
	}
	if v, err := f.queries.StakeAmount(ctx); err == nil && v != nil {
		snapshot.PinnerStake = *v
	}
	if v, err := f.queries.PinnerCount(ctx); err == nil && v != nil {
		snapshot.PinnerCount = *v
	}

	if participant, err := f.queries.Participant(ctx, f.self); err == nil && participant != nil {
		snapshot.OurPinner = &types.PinnerSnapshot{
			Address: participant.Address, NodeID: participant.NodeID,
			NetworkAddress: participant.NetworkAddress, MinPrice: participant.MinPrice,
			PinsCompleted: participant.PinsCompleted, Flags: participant.Flags,
			Staked: participant.Staked, Active: participant.Active,
		}
	}

	offers, err := f.store.AllOffers()
	if err != nil {
		return types.ContractSnapshot{}, err
	}
	for _, o := range offers {
		active := o.Status != types.OfferExpired && o.Status != types.OfferRejected
		claimedByUs := o.Status == types.OfferClaimed || o.Status == types.OfferFilled
		expired := o.Status == types.OfferExpired
		snapshot.Slots = append(snapshot.Slots, types.SlotSnapshot{
			Slot: o.Slot, Active: active, Publisher: o.Publisher,
			OfferPrice: o.OfferPrice, PinQuantity: o.PinQuantity, PinsRemaining: o.PinsRemaining,
			Expired: expired, ClaimedByUs: claimedByUs,
		})
	}

	return snapshot, nil
}

// GetDashboard assembles the full serialization-ready daemon state.
func (f *Facade) GetDashboard(ctx context.Context, contractID string) (types.DashboardSnapshot, error) {
	wallet := f.GetWallet(ctx)
	earnings, err := f.GetEarnings()
	if err != nil {
		return types.DashboardSnapshot{}, err
	}
	allOffers, err := f.store.AllOffers()
	if err != nil {
		return types.DashboardSnapshot{}, err
	}
	pins, err := f.store.AllPins()
	if err != nil {
		return types.DashboardSnapshot{}, err
	}
	activity, err := f.store.RecentActivity(20)
	if err != nil {
		return types.DashboardSnapshot{}, err
	}
	queue, err := f.store.ApprovalQueue()
	if err != nil {
		return types.DashboardSnapshot{}, err
	}
	contract, err := f.GetContract(ctx, contractID)
	if err != nil {
		f.logger.Warn("get contract snapshot failed", zap.Error(err))
		contract = types.ContractSnapshot{ContractID: contractID}
	}

	var accepted, rejected int
	for _, o := range allOffers {
		switch o.Status {
		case types.OfferClaimed, types.OfferFilled:
			accepted++
		case types.OfferRejected:
			rejected++
		}
	}

	approvalSnapshots := make([]types.OfferSnapshot, 0, len(queue))
	for _, o := range queue {
		approvalSnapshots = append(approvalSnapshots, offerToSnapshot(o))
	}
	activitySnapshots := make([]types.ActivitySnapshot, 0, len(activity))
	for _, a := range activity {
		activitySnapshots = append(activitySnapshots, activityToSnapshot(a))
	}

	return types.DashboardSnapshot{
		Mode: f.mode.Get(), PinnerAddress: f.self,
		Wallet: wallet,
		OffersSeen: len(allOffers), OffersAccepted: accepted, OffersRejected: rejected,
		OffersAwaitingApproval: len(queue), PinsActive: len(pins), ClaimsCompleted: earnings.ClaimsCount,
		Earnings: earnings, ApprovalQueue: approvalSnapshots, RecentActivity: activitySnapshots,
		Contract: &contract,
	}, nil
}

// ApproveOffers approves every slot currently awaiting_approval, recording
// a per-slot outcome for the rest.
func (f *Facade) ApproveOffers(slots []types.SlotId) []types.ActionOutcome {
	outcomes := make([]types.ActionOutcome, 0, len(slots))
	for _, slot := range slots {
		offer, ok, err := f.store.GetOffer(slot)
		if err != nil {
			outcomes = append(outcomes, types.ActionOutcome{Success: false, Message: fmt.Sprintf("slot %d lookup failed: %v", slot, err)})
			continue
		}
		if !ok {
			outcomes = append(outcomes, types.ActionOutcome{Success: false, Message: fmt.Sprintf("slot %d not found", slot)})
			continue
		}
		if offer.Status != types.OfferAwaitingApproval {
			outcomes = append(outcomes, types.ActionOutcome{
				Success: false,
				Message: fmt.Sprintf("slot %d status is %q, not awaiting_approval", slot, offer.Status),
			})
			continue
		}
		if err := f.store.UpdateOfferStatus(slot, types.OfferApproved, ""); err != nil {
			outcomes = append(outcomes, types.ActionOutcome{Success: false, Message: fmt.Sprintf("slot %d approve failed: %v", slot, err)})
			continue
		}
		cid := offer.CID
		if err := f.store.LogActivity("offer_approved", fmt.Sprintf("approved slot %d", slot), &slot, &cid, nil); err != nil {
			f.logger.Warn("log activity failed", zap.Error(err))
		}
		outcomes = append(outcomes, types.ActionOutcome{Success: true, Message: fmt.Sprintf("slot %d approved", slot)})
	}
	return outcomes
}

// RejectOffers rejects a set of slots unconditionally, recording
// operator_rejected as the reason.
func (f *Facade) RejectOffers(slots []types.SlotId) []types.ActionOutcome {
	outcomes := make([]types.ActionOutcome, 0, len(slots))
	for _, slot := range slots {
		offer, ok, err := f.store.GetOffer(slot)
		if err != nil {
			outcomes = append(outcomes, types.ActionOutcome{Success: false, Message: fmt.Sprintf("slot %d lookup failed: %v", slot, err)})
			continue
		}
		if !ok {
			outcomes = append(outcomes, types.ActionOutcome{Success: false, Message: fmt.Sprintf("slot %d not found", slot)})
			continue
		}
		if err := f.store.UpdateOfferStatus(slot, types.OfferRejected, "operator_rejected"); err != nil {
			outcomes = append(outcomes, types.ActionOutcome{Success: false, Message: fmt.Sprintf("slot %d reject failed: %v", slot, err)})
			continue
		}
		cid := offer.CID
		if err := f.store.LogActivity("offer_rejected", fmt.Sprintf("rejected slot %d", slot), &slot, &cid, nil); err != nil {
			f.logger.Warn("log activity failed", zap.Error(err))
		}
		outcomes = append(outcomes, types.ActionOutcome{Success: true, Message: fmt.Sprintf("slot %d rejected", slot)})
	}
	return outcomes
}

// SetMode validates and applies a new runtime mode, persisting it and
// updating the live Mode Controller. A repeated call for the same mode
// still returns success but is a no-op for persistence and logs no second
// activity entry.
func (f *Facade) SetMode(newMode types.RuntimeMode) types.ActionOutcome {
	switch newMode {
	case types.ModeAutonomous, types.ModeOperatorApproved:
	default:
		return types.ActionOutcome{Success: false, Message: fmt.Sprintf("invalid mode: %q", newMode)}
	}

	changed := f.mode.Get() != newMode
	f.mode.Set(newMode)
	if err := f.store.SetRuntimeConfig(&newMode, nil, nil, types.RuntimeConfig{Mode: newMode, MinPrice: f.filter.MinPrice(), MaxContentSize: f.exec.MaxContentSize()}); err != nil {
		return types.ActionOutcome{Success: false, Message: fmt.Sprintf("persist mode failed: %v", err)}
	}
	msg := fmt.Sprintf("mode set to %s", newMode)
	if changed {
		if err := f.store.LogActivity("mode_changed", msg, nil, nil, nil); err != nil {
			f.logger.Warn("log activity failed", zap.Error(err))
		}
	}
	return types.ActionOutcome{Success: true, Message: msg}
}

// UpdatePolicy partially updates the policy filter's adjustable
// thresholds; a nil argument leaves that field unchanged. Persists first,
// then applies live so a failed persist never leaves the running filter
// and the stored config disagreeing.
func (f *Facade) UpdatePolicy(minPrice *types.Amount, maxContentSize *uint64) types.ActionOutcome {
	if err := f.store.SetRuntimeConfig(nil, minPrice, maxContentSize, types.RuntimeConfig{Mode: f.mode.Get(), MinPrice: f.filter.MinPrice(), MaxContentSize: f.exec.MaxContentSize()}); err != nil {
		return types.ActionOutcome{Success: false, Message: fmt.Sprintf("update policy failed: %v", err)}
	}
	if minPrice != nil {
		f.filter.SetMinPrice(*minPrice)
	}
	if maxContentSize != nil {
		f.exec.SetMaxContentSize(*maxContentSize)
	}
	msg := "policy updated"
	if minPrice != nil {
		msg += fmt.Sprintf(": min_price=%d", *minPrice)
	}
	if maxContentSize != nil {
		msg += fmt.Sprintf(" max_content_size=%d", *maxContentSize)
	}
	if err := f.store.LogActivity("policy_updated", msg, nil, nil, nil); err != nil {
		f.logger.Warn("log activity failed", zap.Error(err))
	}
	return types.ActionOutcome{Success: true, Message: msg}
}
