package game

import (
	"context"
	"sync"
	"testing"
	"time"
)

func waitingRound(t *testing.T, store *memStore, createdAt time.Time) *Round {
	t.Helper()
	r := &Round{
		ID:           "round-1",
		ParametersID: "params-1",
		Status:       RoundWaitingBets,
		CreatedAt:    createdAt,
	}
	if err := store.CreateRound(context.Background(), r); err != nil {
		t.Fatalf("CreateRound() error: %v", err)
	}
	return r
}

func TestTracker_ParticipantCounting(t *testing.T) {
	createdAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	afterWait := createdAt.Add(time.Hour)

	t.Run("one participant with two choices is one participant", func(t *testing.T) {
		tracker := NewTracker(newMemStore())
		tracker.RecordBet("round-1", "alice", "12", createdAt)
		tracker.RecordBet("round-1", "alice", "34", createdAt)
		if got := tracker.Participants("round-1"); got != 1 {
			t.Errorf("Participants() = %d, want 1", got)
		}
		if tracker.HasReachedThreshold("round-1", 2, 0, afterWait) {
			t.Error("threshold met by a single participant betting twice")
		}
	})

	t.Run("two participants with the same choice both count", func(t *testing.T) {
		tracker := NewTracker(newMemStore())
		tracker.RecordBet("round-1", "alice", "12", createdAt)
		tracker.RecordBet("round-1", "bob", "12", createdAt)
		if got := tracker.Participants("round-1"); got != 2 {
			t.Errorf("Participants() = %d, want 2", got)
		}
		if !tracker.HasReachedThreshold("round-1", 2, 0, afterWait) {
			t.Error("threshold not met by two distinct participants")
		}
	})

	t.Run("duplicate bets from the same pair stay one entry", func(t *testing.T) {
		tracker := NewTracker(newMemStore())
		for i := 0; i < 5; i++ {
			tracker.RecordBet("round-1", "alice", "12", createdAt)
		}
		if got := tracker.Participants("round-1"); got != 1 {
			t.Errorf("Participants() = %d, want 1", got)
		}
	})

	t.Run("unknown round has no participants", func(t *testing.T) {
		tracker := NewTracker(newMemStore())
		if got := tracker.Participants("nope"); got != 0 {
			t.Errorf("Participants() = %d, want 0", got)
		}
	})
}

func TestTracker_HydrateCountsPersistedBets(t *testing.T) {
	createdAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	round := &Round{
		ID:        "round-1",
		Status:    RoundWaitingBets,
		CreatedAt: createdAt,
		Bets: []*Bet{
			{ID: "a", RoundID: "round-1", Participant: "alice", Choice: "12", Status: BetPlaced},
			{ID: "b", RoundID: "round-1", Participant: "bob", Choice: "34", Status: BetPlaced},
			{ID: "c", RoundID: "round-1", Participant: "carol", Choice: "56", Status: BetRefunded},
		},
	}

	// A fresh tracker, as after a restart or on another instance, learns the
	// live participants from the store's view of the round.
	tracker := NewTracker(newMemStore())
	tracker.Hydrate(round)
	if got := tracker.Participants("round-1"); got != 2 {
		t.Errorf("Participants() = %d, want the 2 placed-bet participants", got)
	}
	if !tracker.HasReachedThreshold("round-1", 2, 0, createdAt) {
		t.Error("threshold not met from persisted bets alone")
	}

	t.Run("hydration merges with the local tally", func(t *testing.T) {
		tracker.RecordBet("round-1", "dave", "78", createdAt)
		tracker.Hydrate(round)
		if got := tracker.Participants("round-1"); got != 3 {
			t.Errorf("Participants() = %d, want 3 after a local bet", got)
		}
	})
}

func TestTracker_MinimumWaitGate(t *testing.T) {
	createdAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewTracker(newMemStore())
	tracker.RecordBet("round-1", "alice", "12", createdAt)
	tracker.RecordBet("round-1", "bob", "34", createdAt)

	minWait := 30 * time.Second
	if tracker.HasReachedThreshold("round-1", 2, minWait, createdAt.Add(10*time.Second)) {
		t.Error("threshold met before the minimum wait elapsed")
	}
	if !tracker.HasReachedThreshold("round-1", 2, minWait, createdAt.Add(minWait)) {
		t.Error("threshold not met once the minimum wait elapsed")
	}
}

func TestTracker_Forget(t *testing.T) {
	createdAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewTracker(newMemStore())
	tracker.RecordBet("round-1", "alice", "12", createdAt)
	tracker.Forget("round-1")
	if got := tracker.Participants("round-1"); got != 0 {
		t.Errorf("Participants() after Forget = %d, want 0", got)
	}
}

func TestTracker_TryStartRoundExactlyOnce(t *testing.T) {
	store := newMemStore()
	waitingRound(t, store, time.Now().UTC())
	tracker := NewTracker(store)

	const callers = 32
	var wg sync.WaitGroup
	results := make([]bool, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = tracker.TryStartRound(context.Background(), "round-1")
		}(i)
	}
	wg.Wait()

	started := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] {
			started++
		}
	}
	if started != 1 {
		t.Fatalf("started = %d callers, want exactly 1", started)
	}

	round, err := store.GetRound(context.Background(), "round-1")
	if err != nil {
		t.Fatalf("GetRound() error: %v", err)
	}
	if round.Status != RoundStarted {
		t.Errorf("round status = %s, want %s", round.Status, RoundStarted)
	}
	if len(round.StatusLog) != 2 {
		t.Errorf("status log entries = %d, want 2", len(round.StatusLog))
	}
}
