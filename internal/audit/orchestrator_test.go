package audit

import (
	"context"
	"testing"
	"time"

	"github.com/inviti8/hvym-pinner/internal/dispute"
	"github.com/inviti8/hvym-pinner/internal/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOrchestratorStore struct {
	trackedContent map[types.SlotId]types.TrackedContent
	trackedPins    map[types.SlotId][]types.TrackedPin
	updates        []types.TrackedPinStatus
}

func newFakeOrchestratorStore() *fakeOrchestratorStore {
	return &fakeOrchestratorStore{
		trackedContent: map[types.SlotId]types.TrackedContent{},
		trackedPins:    map[types.SlotId][]types.TrackedPin{},
	}
}

func (f *fakeOrchestratorStore) SaveTrackedContent(tc types.TrackedContent) error {
	f.trackedContent[tc.Slot] = tc
	return nil
}
func (f *fakeOrchestratorStore) TrackedContentBySlot(slot types.SlotId) (types.TrackedContent, bool, error) {
	tc, ok := f.trackedContent[slot]
	return tc, ok, nil
}
func (f *fakeOrchestratorStore) SaveTrackedPin(tp types.TrackedPin) error {
	f.trackedPins[tp.Slot] = append(f.trackedPins[tp.Slot], tp)
	return nil
}
func (f *fakeOrchestratorStore) TrackedPinsBySlot(slot types.SlotId) ([]types.TrackedPin, error) {
	return f.trackedPins[slot], nil
}
func (f *fakeOrchestratorStore) UpdateTrackedPin(cid types.CID, claimant types.Address, status *types.TrackedPinStatus,
	consecutiveFailures *int, lastVerifiedAt, lastCheckedAt, flaggedAt *time.Time, flagTxID *string) error {
	if status != nil {
		f.updates = append(f.updates, *status)
	}
	return nil
}

func newTestOrchestrator(store OrchestratorStore, self types.Address) *Orchestrator {
	cache := NewParticipantCache(&fakeCacheStore{}, &fakeParticipantQueries{participant: &types.Participant{Address: "GCLAIM", Active: true}}, time.Minute)
	verifier := NewVerifier(&fakeProbe{}, allMethods)
	disputer := dispute.New(&fakeDisputeLedger{}, fakeDisputeHistory{}, zap.NewNop())
	sched := NewScheduler(&fakeSchedulerStore{}, cache, verifier, disputer, SchedulerConfig{CheckTimeout: time.Second, MaxConcurrent: 2, FailureThreshold: 3}, zap.NewNop())
	return New(store, cache, verifier, disputer, sched, self, time.Second, zap.NewNop())
}

func TestOnPinEventTracksOwnPublications(t *testing.T) {
	store := newFakeOrchestratorStore()
	o := newTestOrchestrator(store, "GSELF")

	o.OnPinEvent(context.Background(), types.PinEvent{Slot: 1, CID: "QmA", Publisher: "GSELF"})

	tc, ok, err := store.TrackedContentBySlot(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.CID("QmA"), tc.CID)
}

func TestOnPinEventIgnoresOthersPublications(t *testing.T) {
	store := newFakeOrchestratorStore()
	o := newTestOrchestrator(store, "GSELF")

	o.OnPinEvent(context.Background(), types.PinEvent{Slot: 1, CID: "QmA", Publisher: "GOTHER"})

	_, ok, err := store.TrackedContentBySlot(1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOnClaimedEventBeginsTracking(t *testing.T) {
	store := newFakeOrchestratorStore()
	o := newTestOrchestrator(store, "GSELF")
	o.OnPinEvent(context.Background(), types.PinEvent{Slot: 1, CID: "QmA", Publisher: "GSELF"})

	o.OnClaimedEvent(context.Background(), types.ClaimedEvent{Slot: 1, Claimant: "GCLAIM"})

	pins, err := store.TrackedPinsBySlot(1)
	require.NoError(t, err)
	require.Len(t, pins, 1)
	require.Equal(t, types.TrackedTracking, pins[0].Status)
}

func TestOnFreedEventMarksSlotFreedSkippingFlagged(t *testing.T) {
	store := newFakeOrchestratorStore()
	store.trackedPins[1] = []types.TrackedPin{
		{CID: "QmA", Claimant: "GCLAIM", Slot: 1, Status: types.TrackedTracking},
		{CID: "QmB", Claimant: "GCLAIM2", Slot: 1, Status: types.TrackedFlagSubmitted},
	}
	o := newTestOrchestrator(store, "GSELF")

	o.OnFreedEvent(context.Background(), types.FreedEvent{Slot: 1})

	require.Len(t, store.updates, 1)
	require.Equal(t, types.TrackedSlotFreed, store.updates[0])
}

func TestVerifyNowReturnsResult(t *testing.T) {
	store := newFakeOrchestratorStore()
	o := newTestOrchestrator(store, "GSELF")
	result, err := o.VerifyNow(context.Background(), "QmA", "GCLAIM")
	require.NoError(t, err)
	require.NotEmpty(t, result.MethodsAttempted)
}

func TestDisputeNowBypassesThreshold(t *testing.T) {
	store := newFakeOrchestratorStore()
	o := newTestOrchestrator(store, "GSELF")
	outcome := o.DisputeNow(context.Background(), "GCLAIM")
	require.False(t, outcome.Success)
}
