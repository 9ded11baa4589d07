// Package dispute implements the Dispute Submitter: filing an on-chain
// flag against an unresponsive claimant, and tracking whether one has
// already been filed without needing to ask the chain.
package dispute

import (
	"context"
	"strings"

	"github.com/inviti8/hvym-pinner/internal/ledger"
	"github.com/inviti8/hvym-pinner/internal/types"
	"go.uber.org/zap"
)

// ReasonAlreadyDisputed is the distinct, non-retryable outcome recognized
// from the simulation error when a claimant has already been flagged
// on-chain.
const ReasonAlreadyDisputed = "already_disputed"

// Outcome is the Dispute Submitter's result for one claimant.
type Outcome struct {
	Success       bool
	Claimant      types.Address
	FlagCountAfter *uint32
	TxID          string
	BountyEarned  *types.Amount
	Error         string
}

// History is the persisted view the submitter consults instead of the
// chain to decide whether a dispute was already filed.
type History interface {
	HasFlagged(claimant types.Address) (bool, error)
}

// Submitter files flag_pinner calls against claimants who fail enough
// verification cycles.
type Submitter struct {
	ledger  ledger.Disputer
	history History
	logger  *zap.Logger
}

// New constructs a Submitter.
func New(l ledger.Disputer, history History, logger *zap.Logger) *Submitter {
	return &Submitter{ledger: l, history: history, logger: logger}
}

// HasAlreadyDisputed consults the persisted flag history rather than the
// chain, letting the scheduler skip a wasted simulation for a claimant
// already flagged.
func (s *Submitter) HasAlreadyDisputed(claimant types.Address) (bool, error) {
	return s.history.HasFlagged(claimant)
}

// SubmitDispute builds, simulates, signs, and submits the flag_pinner
// invocation for claimant.
func (s *Submitter) SubmitDispute(ctx context.Context, claimant types.Address) Outcome {
	txHash, flagCount, err := s.ledger.FlagPinner(ctx, claimant)
	if err != nil {
		if isAlreadyDisputed(err) {
			return Outcome{Claimant: claimant, Error: ReasonAlreadyDisputed}
		}
		s.logger.Warn("flag_pinner failed", zap.String("claimant", string(claimant)), zap.Error(err))
		return Outcome{Claimant: claimant, Error: "unknown"}
	}
	return Outcome{Success: true, Claimant: claimant, TxID: txHash, FlagCountAfter: &flagCount}
}

func isAlreadyDisputed(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already_disputed") || strings.Contains(msg, "already disputed") || strings.Contains(msg, "already_flagged") || strings.Contains(msg, "already flagged")
}
