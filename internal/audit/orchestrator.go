// Package audit implements the audit subsystem: tracking content this
// agent published, verifying that claimants continue to serve it, and
// disputing those that stop.
package audit

import (
	"context"
	"time"

	"github.com/inviti8/hvym-pinner/internal/dispute"
	"github.com/inviti8/hvym-pinner/internal/types"
	"go.uber.org/zap"
)

// OrchestratorStore is the persisted surface the Audit Orchestrator reads
// and writes on each event hook.
type OrchestratorStore interface {
	SaveTrackedContent(tc types.TrackedContent) error
	TrackedContentBySlot(slot types.SlotId) (types.TrackedContent, bool, error)
	SaveTrackedPin(tp types.TrackedPin) error
	TrackedPinsBySlot(slot types.SlotId) ([]types.TrackedPin, error)
	UpdateTrackedPin(cid types.CID, claimant types.Address, status *types.TrackedPinStatus,
		consecutiveFailures *int, lastVerifiedAt, lastCheckedAt, flaggedAt *time.Time, flagTxID *string) error
}

// Orchestrator wires ledger event hooks to the tracked content/tracked pin
// state machine, and exposes the manual verify/dispute operations used by
// the facade.
type Orchestrator struct {
	store    OrchestratorStore
	cache    *ParticipantCache
	verifier *Verifier
	disputer *dispute.Submitter
	self     types.Address
	scheduler *Scheduler
	logger   *zap.Logger
	checkTimeout time.Duration
}

// New constructs an Orchestrator.
func New(store OrchestratorStore, cache *ParticipantCache, verifier *Verifier, disputer *dispute.Submitter,
	scheduler *Scheduler, self types.Address, checkTimeout time.Duration, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store: store, cache: cache, verifier: verifier, disputer: disputer,
		scheduler: scheduler, self: self, checkTimeout: checkTimeout, logger: logger,
	}
}

// Start spawns the scheduler's background task.
func (o *Orchestrator) Start(ctx context.Context) {
	o.scheduler.Start(ctx)
}

// Stop cancels the scheduler and awaits it.
func (o *Orchestrator) Stop() {
	o.scheduler.Stop()
}

// Metrics returns a snapshot of the audit subsystem's running counters.
func (o *Orchestrator) Metrics() map[string]float64 {
	return o.scheduler.Metrics()
}

// OnPinEvent persists tracked content only for offers this agent itself
// published — the audit subsystem never tracks content published by
// others, since it can only verify its own pin obligations downstream.
func (o *Orchestrator) OnPinEvent(ctx context.Context, event types.PinEvent) {
	if event.Publisher != o.self {
		return
	}
	tc := types.TrackedContent{
		CID: event.CID, Slot: event.Slot, Publisher: event.Publisher,
		Gateway: event.GatewayURL, PinQuantity: event.PinQuantity,
	}
	if err := o.store.SaveTrackedContent(tc); err != nil {
		o.logger.Warn("save tracked content failed", zap.Error(err))
	}
}

// OnClaimedEvent looks up tracked content by slot and, if this agent
// published it and the claimant's participant record resolves, begins
// tracking the new pin.
func (o *Orchestrator) OnClaimedEvent(ctx context.Context, event types.ClaimedEvent) {
	tc, ok, err := o.store.TrackedContentBySlot(event.Slot)
	if err != nil || !ok {
		return
	}
	participant, err := o.cache.Get(ctx, event.Claimant)
	if err != nil || participant == nil {
		return
	}
	tp := types.TrackedPin{
		CID: tc.CID, Claimant: event.Claimant, ClaimantNodeID: participant.NodeID,
		ClaimantNetworkAddress: participant.NetworkAddress, Slot: event.Slot,
		ClaimedAt: time.Now().UTC(), Status: types.TrackedTracking,
	}
	if err := o.store.SaveTrackedPin(tp); err != nil {
		o.logger.Warn("save tracked pin failed", zap.Error(err))
	}
}

// OnFreedEvent moves every tracked pin in the slot that hasn't already had
// a dispute filed to slot_freed — a freed slot means the obligation no
// longer exists, but a pin already flagged keeps its flagged history.
func (o *Orchestrator) OnFreedEvent(ctx context.Context, event types.FreedEvent) {
	pins, err := o.store.TrackedPinsBySlot(event.Slot)
	if err != nil {
		o.logger.Warn("tracked pins by slot failed", zap.Error(err))
		return
	}
	freed := types.TrackedSlotFreed
	for _, pin := range pins {
		if pin.Status == types.TrackedFlagSubmitted {
			continue
		}
		if err := o.store.UpdateTrackedPin(pin.CID, pin.Claimant, &freed, nil, nil, nil, nil, nil); err != nil {
			o.logger.Warn("update tracked pin failed", zap.Error(err))
		}
	}
}

// VerifyNow runs a one-shot verification of a specific (cid, claimant),
// bypassing the scheduler entirely.
func (o *Orchestrator) VerifyNow(ctx context.Context, cid types.CID, claimant types.Address) (types.VerificationResult, error) {
	participant, err := o.cache.Get(ctx, claimant)
	if err != nil {
		return types.VerificationResult{}, err
	}
	var nodeID, networkAddress string
	if participant != nil {
		nodeID, networkAddress = participant.NodeID, participant.NetworkAddress
	}
	return o.verifier.Verify(ctx, cid, nodeID, networkAddress, o.checkTimeout), nil
}

// DisputeNow manually disputes a claimant, bypassing the failure-count
// threshold the scheduler normally requires.
func (o *Orchestrator) DisputeNow(ctx context.Context, claimant types.Address) dispute.Outcome {
	return o.disputer.SubmitDispute(ctx, claimant)
}
