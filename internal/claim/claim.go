// Package claim implements the Claim Submitter: submitting a collect_pin
// invocation for a completed pin and classifying the contract's response
// into a stable set of error codes.
package claim

import (
	"context"
	"strings"

	"github.com/inviti8/hvym-pinner/internal/ledger"
	"github.com/inviti8/hvym-pinner/internal/types"
	"go.uber.org/zap"
)

// Error classification codes for a failed claim submission.
const (
	ReasonAlreadyClaimed = "already_claimed"
	ReasonSlotExpired     = "slot_expired"
	ReasonSlotNotActive   = "slot_not_active"
	ReasonNotPinner       = "not_pinner"
	ReasonPinnerInactive  = "pinner_inactive"
	ReasonUnknown         = "unknown"
)

// Outcome is the Claim Submitter's result for one slot.
type Outcome struct {
	Success bool
	Slot    types.SlotId
	TxID    string
	Error   string
}

// Submitter calls through to the ledger's signed collect_pin invocation.
type Submitter struct {
	ledger ledger.Submitter
	logger *zap.Logger
}

// New constructs a Submitter.
func New(l ledger.Submitter, logger *zap.Logger) *Submitter {
	return &Submitter{ledger: l, logger: logger}
}

// SubmitClaim builds, simulates, signs, and submits the collect_pin
// invocation for slot, reporting a classified error on failure. It never
// fills in amount_earned: the orchestrator records the claim with the offer
// price carried by the PIN event, not with anything this call returns.
func (s *Submitter) SubmitClaim(ctx context.Context, slot types.SlotId, cid types.CID, bytesPinned uint64) Outcome {
	txHash, err := s.ledger.CollectPin(ctx, slot, cid, bytesPinned)
	if err != nil {
		reason := classify(err)
		s.logger.Warn("collect_pin failed", zap.Uint64("slot", uint64(slot)), zap.String("reason", reason), zap.Error(err))
		return Outcome{Slot: slot, Error: reason}
	}
	return Outcome{Success: true, Slot: slot, TxID: txHash}
}

// classify maps a submission error to one of the stable classification
// strings. The contract surfaces its error as free text inside the
// simulation/transaction failure message, so classification is substring
// matching against the known contract panic messages rather than a typed
// error code — the same approach the ledger client already uses for
// SimulationError/TransactionError.
func classify(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already_claimed") || strings.Contains(msg, "already claimed"):
		return ReasonAlreadyClaimed
	case strings.Contains(msg, "slot_expired") || strings.Contains(msg, "expired"):
		return ReasonSlotExpired
	case strings.Contains(msg, "slot_not_active") || strings.Contains(msg, "not active"):
		return ReasonSlotNotActive
	case strings.Contains(msg, "not_pinner") || strings.Contains(msg, "not a pinner"):
		return ReasonNotPinner
	case strings.Contains(msg, "pinner_inactive") || strings.Contains(msg, "inactive"):
		return ReasonPinnerInactive
	default:
		return ReasonUnknown
	}
}
