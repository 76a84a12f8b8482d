package game

import (
	"context"
	"errors"
	"log"
	"time"
)

// Sweeper hosts the three reconciliation loops. Each loop is single-instance
// and single-pass: one pass never overlaps itself, and a failed pass is
// logged and followed by the next scheduled one, never fatal.
type Sweeper struct {
	store   Store
	manager *Manager
	dist    *Distributor
	events  Publisher
	cfg     Config
}

func NewSweeper(store Store, manager *Manager, dist *Distributor, events Publisher, cfg Config) *Sweeper {
	return &Sweeper{
		store:   store,
		manager: manager,
		dist:    dist,
		events:  events,
		cfg:     cfg,
	}
}

// Run starts the three loops and blocks until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	go s.runLoop(ctx, "round-creation", s.cfg.CreateSweepInterval, s.sweepRoundCreation)
	go s.runLoop(ctx, "refund", s.cfg.RefundSweepInterval, s.sweepRefunds)
	go s.runLoop(ctx, "reward", s.cfg.RewardSweepInterval, s.sweepRewards)
	<-ctx.Done()
}

func (s *Sweeper) runLoop(ctx context.Context, name string, interval time.Duration, pass func(context.Context) error) {
	log.Printf("[SWEEP] %s loop started (every %s)", name, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[SWEEP] %s loop stopped", name)
			return
		case <-ticker.C:
			s.safePass(ctx, name, pass)
		}
	}
}

func (s *Sweeper) safePass(ctx context.Context, name string, pass func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[SWEEP] %s pass panicked: %v", name, r)
		}
	}()
	if err := pass(ctx); err != nil {
		log.Printf("[SWEEP] %s pass failed: %v", name, err)
	}
}

// sweepRoundCreation ensures every active RoundParameters has a live round,
// expires waiting rounds that overstayed the maximum wait period, and resumes
// Started rounds whose driver died with its process.
func (s *Sweeper) sweepRoundCreation(ctx context.Context) error {
	stale, err := s.store.ListWaitingRoundsOlderThan(ctx, time.Now().UTC().Add(-s.cfg.MaxWait))
	if err != nil {
		return err
	}
	for _, round := range stale {
		s.manager.ExpireWaiting(ctx, round.ID)
	}

	started, err := s.store.ListRoundsByStatus(ctx, RoundStarted, time.Time{})
	if err != nil {
		return err
	}
	// A healthy round finishes within MaxDraws ticks; twice that without
	// ending means the driving goroutine is gone.
	horizon := 2 * time.Duration(s.cfg.MaxDraws) * s.cfg.TickInterval
	for _, round := range started {
		if round.StartedAt == nil || time.Since(*round.StartedAt) < horizon {
			continue
		}
		log.Printf("[SWEEP] Round %s stalled in %s, resuming", round.ID, RoundStarted)
		s.manager.ResumeRound(ctx, round.ID)
	}

	params, err := s.store.ListActiveParameters(ctx)
	if err != nil {
		return err
	}
	for _, p := range params {
		_, err := s.manager.CreateRound(ctx, p.ID)
		if err != nil && !errors.Is(err, ErrOpenRoundExists) {
			log.Printf("[SWEEP] Creating round for %s failed: %v", p.ID, err)
		}
	}
	return nil
}

// sweepRefunds re-drives the refund path for every bet still waiting on its
// money back.
func (s *Sweeper) sweepRefunds(ctx context.Context) error {
	bets, err := s.store.ListRefundableBets(ctx)
	if err != nil {
		return err
	}
	rounds := make(map[string]struct{})
	for _, b := range bets {
		rounds[b.RoundID] = struct{}{}
	}
	for roundID := range rounds {
		if err := s.dist.DistributeRefunds(ctx, roundID); err != nil {
			log.Printf("[SWEEP] Refund re-drive for round %s failed: %v", roundID, err)
		}
	}
	return nil
}

// sweepRewards republishes a reward request for recent rounds stuck in
// ErrorProcessingRewards that still owe winners money. Older rounds fall out
// of the recency window and wait for manual attention.
func (s *Sweeper) sweepRewards(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.cfg.RewardSweepWindow)
	rounds, err := s.store.ListRoundsByStatus(ctx, RoundErrorProcessingRewards, cutoff)
	if err != nil {
		return err
	}
	for _, round := range rounds {
		pending, err := s.store.ListBetsByStatus(ctx, round.ID, BetNeedsRewarding)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			continue
		}
		log.Printf("[SWEEP] Re-requesting rewards for round %s (%d pending)", round.ID, len(pending))
		if err := s.events.Publish(ctx, EventRewardRequested, Event{
			Type:    EventRewardRequested,
			RoundID: round.ID,
			At:      time.Now().UTC(),
		}); err != nil {
			log.Printf("[SWEEP] Reward request publish for %s failed: %v", round.ID, err)
		}
	}
	return nil
}
