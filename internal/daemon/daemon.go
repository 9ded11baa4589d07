// Package daemon implements the Daemon Orchestrator: the single
// cooperative loop driving ingestion, policy evaluation, pin execution,
// and claim submission.
package daemon

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/inviti8/hvym-pinner/internal/claim"
	"github.com/inviti8/hvym-pinner/internal/executor"
	"github.com/inviti8/hvym-pinner/internal/ledger"
	"github.com/inviti8/hvym-pinner/internal/mode"
	"github.com/inviti8/hvym-pinner/internal/policy"
	"github.com/inviti8/hvym-pinner/internal/store"
	"github.com/inviti8/hvym-pinner/internal/types"
	"go.uber.org/zap"
)

const (
	activityOfferSeen     = "offer_seen"
	activityOfferRejected = "offer_rejected"
	activityPinStarted    = "pin_started"
	activityPinSuccess    = "pin_success"
	activityPinFailed     = "pin_failed"
	activityClaimSuccess  = "claim_success"
	activityClaimFailed   = "claim_failed"
	activitySlotClaimed   = "slot_claimed"
	activityOfferExpired  = "offer_expired"
)

// Auditor is the slice of the audit subsystem the daemon forwards events
// to. Defined here (rather than imported from internal/audit) so the
// daemon's dependency graph stays one-directional.
type Auditor interface {
	OnPinEvent(ctx context.Context, event types.PinEvent)
	OnClaimedEvent(ctx context.Context, event types.ClaimedEvent)
	OnFreedEvent(ctx context.Context, event types.FreedEvent)
}

// Ingestor is the daemon's view of the Event Ingestor.
type Ingestor interface {
	Poll(ctx context.Context) ([]ledger.Event, error)
	Cursor() uint32
}

// Executor is the daemon's view of the Storage Executor.
type Executor interface {
	Pin(ctx context.Context, cid types.CID, gateway string) executor.PinOutcome
}

// Claimer is the daemon's view of the Claim Submitter.
type Claimer interface {
	SubmitClaim(ctx context.Context, slot types.SlotId, cid types.CID, bytesPinned uint64) claim.Outcome
}

// Orchestrator runs the main event-processing loop: polling the ledger for
// new events, evaluating policy, pinning and claiming accepted offers, and
// recording every transition to the activity log.
type Orchestrator struct {
	store    *store.Store
	ingestor Ingestor
	filter   *policy.Filter
	executor Executor
	claimer  Claimer
	mode     *mode.Controller
	auditor  Auditor
	logger   *zap.Logger

	pollInterval time.Duration
	errorBackoff time.Duration

	running atomic.Bool

	pollCycles      atomic.Uint64
	offersSeen      atomic.Uint64
	offersAccepted  atomic.Uint64
	offersRejected  atomic.Uint64
	pinsSucceeded   atomic.Uint64
	pinsFailed      atomic.Uint64
	claimsSucceeded atomic.Uint64
	claimsFailed    atomic.Uint64
}

// Config bundles the tunables the orchestrator needs at construction time.
type Config struct {
	PollInterval time.Duration
	ErrorBackoff time.Duration
}

// New constructs an Orchestrator wiring every other component together.
func New(
	st *store.Store,
	ingestor Ingestor,
	filter *policy.Filter,
	exec Executor,
	claimer Claimer,
	modeCtl *mode.Controller,
	auditor Auditor,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		store: st, ingestor: ingestor, filter: filter, executor: exec,
		claimer: claimer, mode: modeCtl, auditor: auditor,
		pollInterval: cfg.PollInterval, errorBackoff: cfg.ErrorBackoff,
		logger: logger,
	}
}

// Run drives the main loop until ctx is cancelled. It closes no resources
// itself; the caller owns the store's lifetime.
func (o *Orchestrator) Run(ctx context.Context) {
	o.running.Store(true)
	for o.running.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		events, err := o.ingestor.Poll(ctx)
		if err != nil {
			o.logger.Warn("poll failed, backing off", zap.Error(err))
			sleep(ctx, o.errorBackoff)
			continue
		}

		for _, e := range events {
			o.dispatchEvent(ctx, e)
		}

		o.processApprovedQueue(ctx)
		o.pollCycles.Add(1)

		if seq := o.ingestor.Cursor(); seq > 0 {
			if err := o.store.SetCursor(seq); err != nil {
				o.logger.Warn("persist cursor failed", zap.Error(err))
			}
		}

		sleep(ctx, o.pollInterval)
	}
}

// Stop requests the loop exit at its next iteration boundary.
func (o *Orchestrator) Stop() {
	o.running.Store(false)
}

// Metrics returns a snapshot of the daemon's running counters, suitable for
// reporting to an external control plane.
func (o *Orchestrator) Metrics() map[string]float64 {
	return map[string]float64{
		"poll_cycles":      float64(o.pollCycles.Load()),
		"offers_seen":      float64(o.offersSeen.Load()),
		"offers_accepted":  float64(o.offersAccepted.Load()),
		"offers_rejected":  float64(o.offersRejected.Load()),
		"pins_succeeded":   float64(o.pinsSucceeded.Load()),
		"pins_failed":      float64(o.pinsFailed.Load()),
		"claims_succeeded": float64(o.claimsSucceeded.Load()),
		"claims_failed":    float64(o.claimsFailed.Load()),
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (o *Orchestrator) dispatchEvent(ctx context.Context, e ledger.Event) {
	switch {
	case e.Pin != nil:
		o.dispatchPinEvent(ctx, *e.Pin)
	case e.Claimed != nil:
		o.dispatchClaimedEvent(ctx, *e.Claimed)
	case e.Freed != nil:
		o.dispatchFreedEvent(ctx, *e.Freed)
	}
}

func (o *Orchestrator) dispatchPinEvent(ctx context.Context, event types.PinEvent) {
	if err := o.store.SaveOffer(event, types.OfferPending); err != nil {
		o.logger.Warn("save offer failed", zap.Error(err))
		return
	}
	o.logActivity(activityOfferSeen, &event.Slot, &event.CID, nil)
	o.offersSeen.Add(1)

	decision := o.filter.Evaluate(ctx, event)
	if !decision.Accepted {
		if err := o.store.UpdateOfferStatus(event.Slot, types.OfferRejected, decision.ReasonCode); err != nil {
			o.logger.Warn("update offer status failed", zap.Error(err))
		}
		o.logActivity(activityOfferRejected, &event.Slot, &event.CID, nil)
		o.offersRejected.Add(1)
		return
	}
	o.offersAccepted.Add(1)

	if o.auditor != nil {
		o.auditor.OnPinEvent(ctx, event)
	}

	if o.mode.Get() == types.ModeOperatorApproved {
		if err := o.store.UpdateOfferStatus(event.Slot, types.OfferAwaitingApproval, ""); err != nil {
			o.logger.Warn("update offer status failed", zap.Error(err))
		}
		o.logActivity("offer_awaiting_approval", &event.Slot, &event.CID, nil)
		return
	}

	o.executePinAndClaim(ctx, event)
}

// executePinAndClaim pins the offer's content and, on success, claims
// payment for it, persisting status and activity as each step happens.
func (o *Orchestrator) executePinAndClaim(ctx context.Context, event types.PinEvent) {
	if err := o.store.UpdateOfferStatus(event.Slot, types.OfferPinning, ""); err != nil {
		o.logger.Warn("update offer status failed", zap.Error(err))
	}
	o.logActivity(activityPinStarted, &event.Slot, &event.CID, nil)

	outcome := o.executor.Pin(ctx, event.CID, event.GatewayURL)
	if !outcome.Success {
		if err := o.store.UpdateOfferStatus(event.Slot, types.OfferPinFailed, outcome.Error); err != nil {
			o.logger.Warn("update offer status failed", zap.Error(err))
		}
		o.logActivity(activityPinFailed, &event.Slot, &event.CID, nil)
		o.pinsFailed.Add(1)
		return
	}
	o.pinsSucceeded.Add(1)

	slot := event.Slot
	if err := o.store.SavePin(event.CID, &slot, outcome.BytesPinned); err != nil {
		o.logger.Warn("save pin failed", zap.Error(err))
	}
	o.logActivity(activityPinSuccess, &event.Slot, &event.CID, nil)

	if err := o.store.UpdateOfferStatus(event.Slot, types.OfferClaiming, ""); err != nil {
		o.logger.Warn("update offer status failed", zap.Error(err))
	}

	var bytesPinned uint64
	if outcome.BytesPinned != nil {
		bytesPinned = *outcome.BytesPinned
	}
	claimOutcome := o.claimer.SubmitClaim(ctx, event.Slot, event.CID, bytesPinned)
	if claimOutcome.Success {
		c := types.Claim{Slot: event.Slot, CID: event.CID, AmountEarned: event.OfferPrice, TxID: claimOutcome.TxID, ClaimedAt: time.Now().UTC()}
		if err := o.store.SaveClaim(c); err != nil {
			o.logger.Warn("save claim failed", zap.Error(err))
		}
		if err := o.store.UpdateOfferStatus(event.Slot, types.OfferClaimed, ""); err != nil {
			o.logger.Warn("update offer status failed", zap.Error(err))
		}
		o.logActivity(activityClaimSuccess, &event.Slot, &event.CID, &event.OfferPrice)
		o.claimsSucceeded.Add(1)
		return
	}

	if err := o.store.UpdateOfferStatus(event.Slot, types.OfferClaimFailed, claimOutcome.Error); err != nil {
		o.logger.Warn("update offer status failed", zap.Error(err))
	}
	o.logActivity(activityClaimFailed, &event.Slot, &event.CID, nil)
	o.claimsFailed.Add(1)
}

func (o *Orchestrator) dispatchClaimedEvent(ctx context.Context, event types.ClaimedEvent) {
	if o.auditor != nil {
		o.auditor.OnClaimedEvent(ctx, event)
	}
	offer, ok, err := o.store.GetOffer(event.Slot)
	if err != nil || !ok {
		return
	}
	if event.PinsRemaining == 0 {
		if err := o.store.UpdateOfferStatus(offer.Slot, types.OfferFilled, ""); err != nil {
			o.logger.Warn("update offer status failed", zap.Error(err))
		}
		o.logActivity(activitySlotClaimed, &event.Slot, nil, nil)
	}
}

func (o *Orchestrator) dispatchFreedEvent(ctx context.Context, event types.FreedEvent) {
	if o.auditor != nil {
		o.auditor.OnFreedEvent(ctx, event)
	}
	if err := o.store.UpdateOfferStatus(event.Slot, types.OfferExpired, ""); err != nil {
		o.logger.Warn("update offer status failed", zap.Error(err))
	}
	o.logActivity(activityOfferExpired, &event.Slot, nil, nil)
}

func (o *Orchestrator) processApprovedQueue(ctx context.Context) {
	approved, err := o.store.ByStatus(types.OfferApproved)
	if err != nil {
		o.logger.Warn("read approved offers failed", zap.Error(err))
		return
	}
	for _, offer := range approved {
		event := types.PinEvent{
			Slot: offer.Slot, CID: offer.CID, Filename: offer.Filename,
			GatewayURL: offer.Gateway, OfferPrice: offer.OfferPrice,
			PinQuantity: offer.PinQuantity, Publisher: offer.Publisher,
		}
		o.executePinAndClaim(ctx, event)
	}
}

func (o *Orchestrator) logActivity(eventType string, slot *types.SlotId, cid *types.CID, amount *types.Amount) {
	if err := o.store.LogActivity(eventType, eventType, slot, cid, amount); err != nil {
		o.logger.Warn("log activity failed", zap.Error(err))
	}
}
