package audit

import (
	"context"
	"testing"
	"time"

	"github.com/inviti8/hvym-pinner/internal/types"
	"github.com/stretchr/testify/require"
)

type fakeCacheStore struct {
	cached map[types.Address]types.ParticipantCache
	puts   int
}

func (f *fakeCacheStore) GetCachedParticipant(address types.Address) (types.ParticipantCache, bool, error) {
	pc, ok := f.cached[address]
	return pc, ok, nil
}
func (f *fakeCacheStore) PutCachedParticipant(p types.Participant) error {
	f.puts++
	if f.cached == nil {
		f.cached = map[types.Address]types.ParticipantCache{}
	}
	f.cached[p.Address] = types.ParticipantCache{
		Address: p.Address, NodeID: p.NodeID, NetworkAddress: p.NetworkAddress,
		Active: p.Active, CachedAt: time.Now().UTC(),
	}
	return nil
}

type fakeParticipantQueries struct {
	participant *types.Participant
	calls       int
}

func (f *fakeParticipantQueries) WalletBalance(ctx context.Context, address types.Address) types.Amount {
	return 0
}
func (f *fakeParticipantQueries) Slot(ctx context.Context, slot types.SlotId) (*types.SlotInfo, error) {
	return nil, nil
}
func (f *fakeParticipantQueries) IsSlotExpired(ctx context.Context, slot types.SlotId) (*bool, error) {
	return nil, nil
}
func (f *fakeParticipantQueries) Participant(ctx context.Context, address types.Address) (*types.Participant, error) {
	f.calls++
	return f.participant, nil
}
func (f *fakeParticipantQueries) JoinFee(ctx context.Context) (*types.Amount, error) { return nil, nil }
func (f *fakeParticipantQueries) StakeAmount(ctx context.Context) (*types.Amount, error) {
	return nil, nil
}
func (f *fakeParticipantQueries) PinFee(ctx context.Context) (*types.Amount, error) { return nil, nil }
func (f *fakeParticipantQueries) MinOfferPrice(ctx context.Context) (*types.Amount, error) {
	return nil, nil
}
func (f *fakeParticipantQueries) MinPinQty(ctx context.Context) (*uint32, error)  { return nil, nil }
func (f *fakeParticipantQueries) PinnerCount(ctx context.Context) (*uint32, error) { return nil, nil }

func TestGetRefetchesWhenNotCached(t *testing.T) {
	queries := &fakeParticipantQueries{participant: &types.Participant{Address: "GPIN", Active: true}}
	store := &fakeCacheStore{}
	c := NewParticipantCache(store, queries, time.Minute)

	p, err := c.Get(context.Background(), "GPIN")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, 1, queries.calls)
	require.Equal(t, 1, store.puts)
}

func TestGetReturnsFreshCacheWithoutRefetch(t *testing.T) {
	queries := &fakeParticipantQueries{participant: &types.Participant{Address: "GPIN", Active: true}}
	store := &fakeCacheStore{cached: map[types.Address]types.ParticipantCache{
		"GPIN": {Address: "GPIN", Active: true, CachedAt: time.Now().UTC()},
	}}
	c := NewParticipantCache(store, queries, time.Minute)

	p, err := c.Get(context.Background(), "GPIN")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, 0, queries.calls)
}

func TestGetRefetchesWhenStale(t *testing.T) {
	queries := &fakeParticipantQueries{participant: &types.Participant{Address: "GPIN", Active: true}}
	store := &fakeCacheStore{cached: map[types.Address]types.ParticipantCache{
		"GPIN": {Address: "GPIN", Active: true, CachedAt: time.Now().Add(-time.Hour)},
	}}
	c := NewParticipantCache(store, queries, time.Minute)

	_, err := c.Get(context.Background(), "GPIN")
	require.NoError(t, err)
	require.Equal(t, 1, queries.calls)
}

func TestRefreshAlwaysRefetches(t *testing.T) {
	queries := &fakeParticipantQueries{participant: &types.Participant{Address: "GPIN", Active: true}}
	store := &fakeCacheStore{cached: map[types.Address]types.ParticipantCache{
		"GPIN": {Address: "GPIN", Active: true, CachedAt: time.Now().UTC()},
	}}
	c := NewParticipantCache(store, queries, time.Minute)

	_, err := c.Refresh(context.Background(), "GPIN")
	require.NoError(t, err)
	require.Equal(t, 1, queries.calls)
}
