package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/inviti8/hvym-pinner/internal/types"
	"github.com/stretchr/testify/require"
)

type fakeProbe struct {
	providers    []string
	providersErr error
	connectErr   error
	block        []byte
	blockErr     error
	cat          []byte
	catErr       error
}

func (f *fakeProbe) FindProviders(ctx context.Context, cid types.CID, limit int) ([]string, error) {
	return f.providers, f.providersErr
}
func (f *fakeProbe) Connect(ctx context.Context, networkAddress string) error { return f.connectErr }
func (f *fakeProbe) GetBlock(ctx context.Context, cid types.CID) ([]byte, error) {
	return f.block, f.blockErr
}
func (f *fakeProbe) Cat(ctx context.Context, cid types.CID, maxBytes int) ([]byte, error) {
	return f.cat, f.catErr
}

var allMethods = []types.VerificationMethod{
	types.MethodProviderAdvertisement, types.MethodBlockExchange, types.MethodPartialRetrieval,
}

func TestVerifyProviderAdvertisementPassesStopsPipeline(t *testing.T) {
	probe := &fakeProbe{providers: []string{"node-123"}}
	v := NewVerifier(probe, allMethods)
	result := v.Verify(context.Background(), "QmABC", "node-123", "addr", time.Second)
	require.True(t, result.Passed)
	require.Equal(t, types.MethodProviderAdvertisement, result.MethodUsed)
	require.Len(t, result.MethodsAttempted, 1)
}

func TestVerifyProviderAdvertisementAbsentIsInconclusiveNotFalse(t *testing.T) {
	probe := &fakeProbe{providers: []string{"someone-else"}, connectErr: errors.New("dial failed")}
	v := NewVerifier(probe, allMethods)
	result := v.Verify(context.Background(), "QmABC", "node-123", "addr", time.Second)
	require.Equal(t, types.PassedInconclusive, result.MethodsAttempted[0].Passed)
	require.False(t, result.Passed)
}

func TestVerifyBlockExchangeFalseTerminatesPipeline(t *testing.T) {
	probe := &fakeProbe{providers: []string{}, connectErr: errors.New("dial failed"), cat: []byte("should not reach here")}
	v := NewVerifier(probe, allMethods)
	result := v.Verify(context.Background(), "QmABC", "node-123", "addr", time.Second)
	require.False(t, result.Passed)
	require.Equal(t, types.MethodBlockExchange, result.MethodUsed)
	require.Len(t, result.MethodsAttempted, 2)
}

func TestVerifyBlockExchangePassesStopsPipeline(t *testing.T) {
	probe := &fakeProbe{providers: []string{}, block: []byte("blockdata")}
	v := NewVerifier(probe, allMethods)
	result := v.Verify(context.Background(), "QmABC", "node-123", "addr", time.Second)
	require.True(t, result.Passed)
	require.Equal(t, types.MethodBlockExchange, result.MethodUsed)
	require.Len(t, result.MethodsAttempted, 2)
}

func TestVerifyBlockExchangeEmptyBlockIsFalseNotInconclusive(t *testing.T) {
	probe := &fakeProbe{providers: []string{}, block: nil, cat: []byte("partial-bytes")}
	v := NewVerifier(probe, allMethods)
	result := v.Verify(context.Background(), "QmABC", "node-123", "addr", time.Second)
	require.False(t, result.Passed)
	require.Equal(t, types.MethodBlockExchange, result.MethodUsed)
	require.Equal(t, types.PassedFalse, result.MethodsAttempted[1].Passed)
}
