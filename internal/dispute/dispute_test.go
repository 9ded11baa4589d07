package dispute

import (
	"context"
	"errors"
	"testing"

	"github.com/inviti8/hvym-pinner/internal/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLedger struct {
	txHash    string
	flagCount uint32
	err       error
}

func (f *fakeLedger) FlagPinner(ctx context.Context, claimant types.Address) (string, uint32, error) {
	return f.txHash, f.flagCount, f.err
}

type fakeHistory struct {
	flagged map[types.Address]bool
}

func (f *fakeHistory) HasFlagged(claimant types.Address) (bool, error) {
	return f.flagged[claimant], nil
}

func TestSubmitDisputeSuccess(t *testing.T) {
	s := New(&fakeLedger{txHash: "hash1", flagCount: 2}, &fakeHistory{}, zap.NewNop())
	out := s.SubmitDispute(context.Background(), "GBADPINNER")
	require.True(t, out.Success)
	require.Equal(t, "hash1", out.TxID)
	require.NotNil(t, out.FlagCountAfter)
	require.EqualValues(t, 2, *out.FlagCountAfter)
}

func TestSubmitDisputeAlreadyDisputed(t *testing.T) {
	s := New(&fakeLedger{err: errors.New("simulation failed for flag_pinner: Error(Contract, #5) already_disputed")}, &fakeHistory{}, zap.NewNop())
	out := s.SubmitDispute(context.Background(), "GBADPINNER")
	require.False(t, out.Success)
	require.Equal(t, ReasonAlreadyDisputed, out.Error)
}

func TestHasAlreadyDisputedConsultsHistoryNotChain(t *testing.T) {
	history := &fakeHistory{flagged: map[types.Address]bool{"GBADPINNER": true}}
	s := New(&fakeLedger{}, history, zap.NewNop())
	ok, err := s.HasAlreadyDisputed("GBADPINNER")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.HasAlreadyDisputed("GOTHER")
	require.NoError(t, err)
	require.False(t, ok)
}
