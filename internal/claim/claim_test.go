package claim

import (
	"context"
	"errors"
	"testing"

	"github.com/inviti8/hvym-pinner/internal/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLedger struct {
	txHash string
	err    error
}

func (f *fakeLedger) CollectPin(ctx context.Context, slot types.SlotId, cid types.CID, bytesPinned uint64) (string, error) {
	return f.txHash, f.err
}

func TestSubmitClaimSuccess(t *testing.T) {
	s := New(&fakeLedger{txHash: "deadbeef"}, zap.NewNop())
	out := s.SubmitClaim(context.Background(), 4, "QmABC", 123)
	require.True(t, out.Success)
	require.Equal(t, "deadbeef", out.TxID)
	require.Empty(t, out.Error)
}

func TestSubmitClaimClassifiesAlreadyClaimed(t *testing.T) {
	s := New(&fakeLedger{err: errors.New("simulation failed for collect_pin: Error(Contract, #3) already_claimed")}, zap.NewNop())
	out := s.SubmitClaim(context.Background(), 4, "QmABC", 123)
	require.False(t, out.Success)
	require.Equal(t, ReasonAlreadyClaimed, out.Error)
}

func TestSubmitClaimClassifiesSlotExpired(t *testing.T) {
	s := New(&fakeLedger{err: errors.New("transaction failed for collect_pin (hash=abc): slot expired")}, zap.NewNop())
	out := s.SubmitClaim(context.Background(), 4, "QmABC", 123)
	require.Equal(t, ReasonSlotExpired, out.Error)
}

func TestSubmitClaimUnknownFallback(t *testing.T) {
	s := New(&fakeLedger{err: errors.New("network timeout")}, zap.NewNop())
	out := s.SubmitClaim(context.Background(), 4, "QmABC", 123)
	require.Equal(t, ReasonUnknown, out.Error)
}
