package audit

import (
	"context"
	"time"

	"github.com/inviti8/hvym-pinner/internal/ledger"
	"github.com/inviti8/hvym-pinner/internal/types"
)

// CacheStore is the persisted backing for the Participant Cache.
type CacheStore interface {
	GetCachedParticipant(address types.Address) (types.ParticipantCache, bool, error)
	PutCachedParticipant(p types.Participant) error
}

// ParticipantCache is a TTL-bounded read-through cache in front of Ledger
// Queries' Participant lookup.
type ParticipantCache struct {
	store   CacheStore
	queries ledger.Queries
	ttl     time.Duration
}

// NewParticipantCache constructs a ParticipantCache with the given TTL.
func NewParticipantCache(store CacheStore, queries ledger.Queries, ttl time.Duration) *ParticipantCache {
	return &ParticipantCache{store: store, queries: queries, ttl: ttl}
}

// Get returns a fresh cached copy if younger than the configured TTL,
// otherwise refetches via Ledger Queries, stores, and returns the result.
// A nil return means the ledger has no record of the address.
func (c *ParticipantCache) Get(ctx context.Context, address types.Address) (*types.Participant, error) {
	cached, ok, err := c.store.GetCachedParticipant(address)
	if err != nil {
		return nil, err
	}
	if ok && time.Since(cached.CachedAt) < c.ttl {
		return &types.Participant{
			Address: cached.Address, NodeID: cached.NodeID,
			NetworkAddress: cached.NetworkAddress, Active: cached.Active,
		}, nil
	}
	return c.Refresh(ctx, address)
}

// Refresh forces a refetch via Ledger Queries regardless of TTL freshness.
func (c *ParticipantCache) Refresh(ctx context.Context, address types.Address) (*types.Participant, error) {
	participant, err := c.queries.Participant(ctx, address)
	if err != nil {
		return nil, err
	}
	if participant == nil {
		return nil, nil
	}
	if err := c.store.PutCachedParticipant(*participant); err != nil {
		return nil, err
	}
	return participant, nil
}
