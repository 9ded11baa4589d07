package ledger

import (
	"context"

	"github.com/inviti8/hvym-pinner/internal/types"
	"github.com/stellar/go/xdr"
)

// Submitter is the Claim Submitter's view of the ledger: one signed,
// simulated contract call.
type Submitter interface {
	CollectPin(ctx context.Context, slot types.SlotId, cid types.CID, bytesPinned uint64) (txHash string, err error)
}

// Disputer is the Dispute Submitter's view of the ledger: one signed,
// simulated contract call flagging a claimant.
type Disputer interface {
	FlagPinner(ctx context.Context, claimant types.Address) (txHash string, flagCountAfter uint32, err error)
}

var _ Submitter = (*Client)(nil)
var _ Disputer = (*Client)(nil)

// FlagPinner invokes the contract's flag_pinner entry point with this
// agent's own address as the caller. The return value's decoded u32 is the
// claimant's flag count after this submission, when the contract supplies
// one; a decode miss leaves it at zero rather than failing the call.
func (c *Client) FlagPinner(ctx context.Context, claimant types.Address) (string, uint32, error) {
	caller, err := encodeScAddress(c.Address())
	if err != nil {
		return "", 0, err
	}
	claimantVal, err := encodeScAddress(claimant)
	if err != nil {
		return "", 0, err
	}
	args := []xdr.ScVal{caller, claimantVal}
	hash, retVal, err := c.submitWrite(ctx, "flag_pinner", args)
	if err != nil {
		return hash, 0, err
	}
	count, _ := retVal.GetU32()
	return hash, uint32(count), nil
}

// CollectPin invokes the contract's collect_pin entry point with this
// agent's own address as the claimant. The contract itself is the source
// of truth for eligibility; this call's only job is to submit and return
// the raw outcome for the caller to classify.
func (c *Client) CollectPin(ctx context.Context, slot types.SlotId, cid types.CID, bytesPinned uint64) (string, error) {
	claimant, err := encodeScAddress(c.Address())
	if err != nil {
		return "", err
	}
	args := []xdr.ScVal{
		encodeScU64(uint64(slot)),
		encodeScBytes([]byte(cid)),
		claimant,
		encodeScU64(bytesPinned),
	}
	hash, _, err := c.submitWrite(ctx, "collect_pin", args)
	return hash, err
}
