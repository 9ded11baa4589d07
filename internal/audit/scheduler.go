package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inviti8/hvym-pinner/internal/dispute"
	"github.com/inviti8/hvym-pinner/internal/types"
	"go.uber.org/zap"
)

// SchedulerStore is the persisted surface the Verification Scheduler reads
// and writes each cycle.
type SchedulerStore interface {
	TrackedPins(statuses ...types.TrackedPinStatus) ([]types.TrackedPin, error)
	UpdateTrackedPin(cid types.CID, claimant types.Address, status *types.TrackedPinStatus,
		consecutiveFailures *int, lastVerifiedAt, lastCheckedAt, flaggedAt *time.Time, flagTxID *string) error
	RecordVerification(cid types.CID, claimant types.Address, result types.VerificationResult) error
	SaveCycle(report types.CycleReport) error
	SaveFlag(flag types.Flag) error
}

// Scheduler runs periodic verification sweeps over tracked pins.
type Scheduler struct {
	store      SchedulerStore
	cache      *ParticipantCache
	verifier   *Verifier
	disputer   *dispute.Submitter
	logger     *zap.Logger

	cycleInterval      time.Duration
	checkTimeout       time.Duration
	maxConcurrent      int
	failureThreshold   int

	stop chan struct{}
	wg   sync.WaitGroup

	cyclesRun         atomic.Uint64
	verificationsRun  atomic.Uint64
	disputesSubmitted atomic.Uint64
}

// SchedulerConfig bundles the scheduler's tunables.
type SchedulerConfig struct {
	CycleInterval    time.Duration
	CheckTimeout     time.Duration
	MaxConcurrent    int
	FailureThreshold int
}

// NewScheduler constructs a Scheduler.
func NewScheduler(store SchedulerStore, cache *ParticipantCache, verifier *Verifier, disputer *dispute.Submitter, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store: store, cache: cache, verifier: verifier, disputer: disputer,
		cycleInterval: cfg.CycleInterval, checkTimeout: cfg.CheckTimeout,
		maxConcurrent: cfg.MaxConcurrent, failureThreshold: cfg.FailureThreshold,
		logger: logger, stop: make(chan struct{}),
	}
}

// Start spawns the scheduler's background loop. Cycles run strictly
// sequentially; within a cycle, pins are checked concurrently up to
// maxConcurrent.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			if err := s.runCycle(ctx); err != nil {
				s.logger.Warn("verification cycle failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-time.After(s.cycleInterval):
			}
		}
	}()
}

// Stop cancels the scheduler and awaits its current cycle's completion.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

type pinOutcomeKind int

const (
	outcomeSkipped pinOutcomeKind = iota
	outcomePassed
	outcomeFailed
	outcomeFlagged
	outcomeError
)

// Metrics returns a snapshot of the scheduler's running counters, suitable
// for reporting to an external control plane.
func (s *Scheduler) Metrics() map[string]float64 {
	return map[string]float64{
		"cycles_run":         float64(s.cyclesRun.Load()),
		"verifications_run":  float64(s.verificationsRun.Load()),
		"disputes_submitted": float64(s.disputesSubmitted.Load()),
	}
}

// runCycle executes one sweep over tracking/verified/suspect pins.
func (s *Scheduler) runCycle(ctx context.Context) error {
	started := time.Now().UTC()
	s.cyclesRun.Add(1)

	pins, err := s.store.TrackedPins(types.TrackedTracking, types.TrackedVerified, types.TrackedSuspect)
	if err != nil {
		return err
	}

	sem := make(chan struct{}, s.maxConcurrent)
	results := make(chan pinOutcomeKind, len(pins))
	var wg sync.WaitGroup

	for _, pin := range pins {
		pin := pin
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results <- s.checkOne(ctx, pin)
		}()
	}
	wg.Wait()
	close(results)

	report := types.CycleReport{StartedAt: started}
	for kind := range results {
		report.TotalChecked++
		switch kind {
		case outcomePassed:
			report.Passed++
		case outcomeFailed:
			report.Failed++
		case outcomeFlagged:
			report.Flagged++
		case outcomeSkipped:
			report.Skipped++
		case outcomeError:
			report.Errors++
		}
	}
	report.CompletedAt = time.Now().UTC()
	report.DurationMs = report.CompletedAt.Sub(started).Milliseconds()

	return s.store.SaveCycle(report)
}

// checkOne verifies a single tracked pin and persists the result, escalating
// to a dispute once the consecutive-failure count reaches the threshold.
func (s *Scheduler) checkOne(ctx context.Context, pin types.TrackedPin) pinOutcomeKind {
	if pin.Status == types.TrackedFlagSubmitted {
		return outcomeSkipped
	}

	participant, err := s.cache.Get(ctx, pin.Claimant)
	if err != nil || participant == nil || !participant.Active {
		return outcomeSkipped
	}

	result := s.verifier.Verify(ctx, pin.CID, pin.ClaimantNodeID, pin.ClaimantNetworkAddress, s.checkTimeout)
	s.verificationsRun.Add(1)
	if err := s.store.RecordVerification(pin.CID, pin.Claimant, result); err != nil {
		s.logger.Warn("record verification failed", zap.Error(err))
	}

	now := time.Now().UTC()
	if result.Passed {
		status := types.TrackedVerified
		zero := 0
		if err := s.store.UpdateTrackedPin(pin.CID, pin.Claimant, &status, &zero, &now, &now, nil, nil); err != nil {
			s.logger.Warn("update tracked pin failed", zap.Error(err))
		}
		return outcomePassed
	}

	newFailures := pin.ConsecutiveFailures + 1
	newStatus := pin.Status
	if newFailures >= s.failureThreshold {
		newStatus = types.TrackedSuspect
	}
	if err := s.store.UpdateTrackedPin(pin.CID, pin.Claimant, &newStatus, &newFailures, nil, &now, nil, nil); err != nil {
		s.logger.Warn("update tracked pin failed", zap.Error(err))
	}

	if newFailures >= s.failureThreshold && pin.Status != types.TrackedFlagSubmitted {
		alreadyDisputed, err := s.disputer.HasAlreadyDisputed(pin.Claimant)
		if err == nil && !alreadyDisputed {
			outcome := s.disputer.SubmitDispute(ctx, pin.Claimant)
			if outcome.Success {
				s.disputesSubmitted.Add(1)
				flagStatus := types.TrackedFlagSubmitted
				if err := s.store.UpdateTrackedPin(pin.CID, pin.Claimant, &flagStatus, nil, nil, nil, &now, &outcome.TxID); err != nil {
					s.logger.Warn("update tracked pin failed", zap.Error(err))
				}
				flagCount := 0
				if outcome.FlagCountAfter != nil {
					flagCount = int(*outcome.FlagCountAfter)
				}
				flag := types.Flag{Claimant: pin.Claimant, TxID: outcome.TxID, FlagCountAfter: flagCount, BountyEarned: nil, SubmittedAt: now}
				if err := s.store.SaveFlag(flag); err != nil {
					s.logger.Warn("save flag failed", zap.Error(err))
				}
				return outcomeFlagged
			}
		}
	}

	return outcomeFailed
}
