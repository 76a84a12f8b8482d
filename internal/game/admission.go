package game

import (
	"context"
	"log"
	"sync"
	"time"
)

// Tracker keeps an instance-local tally of distinct (participant, choice)
// pairs per round. The tally is a hint only: the start decision that matters
// is the conditional status update in TryStartRound, which stays correct even
// when several process instances hold diverging tallies.
type Tracker struct {
	store  Store
	mu     sync.Mutex
	rounds map[string]*roundTally
}

type roundTally struct {
	createdAt    time.Time
	participants map[string]map[string]struct{} // participant -> choices
}

func NewTracker(store Store) *Tracker {
	return &Tracker{
		store:  store,
		rounds: make(map[string]*roundTally),
	}
}

// RecordBet adds a bet to the round's tally.
func (t *Tracker) RecordBet(roundID, participant, choice string, roundCreatedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(t.tallyFor(roundID, roundCreatedAt), participant, choice)
}

// Hydrate folds a round's persisted bets into its tally. A tracker that
// missed bets, because they landed on another instance or before a restart,
// still counts every participant the store knows about.
func (t *Tracker) Hydrate(round *Round) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tally := t.tallyFor(round.ID, round.CreatedAt)
	for _, b := range round.Bets {
		if b.Status != BetPlaced {
			continue
		}
		t.record(tally, b.Participant, b.Choice)
	}
}

// tallyFor and record require t.mu held.
func (t *Tracker) tallyFor(roundID string, roundCreatedAt time.Time) *roundTally {
	tally, ok := t.rounds[roundID]
	if !ok {
		tally = &roundTally{
			createdAt:    roundCreatedAt,
			participants: make(map[string]map[string]struct{}),
		}
		t.rounds[roundID] = tally
	}
	return tally
}

func (t *Tracker) record(tally *roundTally, participant, choice string) {
	choices, ok := tally.participants[participant]
	if !ok {
		choices = make(map[string]struct{})
		tally.participants[participant] = choices
	}
	choices[choice] = struct{}{}
}

// Participants returns the count of distinct participants, regardless of how
// many choices each of them made.
func (t *Tracker) Participants(roundID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	tally, ok := t.rounds[roundID]
	if !ok {
		return 0
	}
	return len(tally.participants)
}

// HasReachedThreshold is true when enough distinct participants have bet AND
// the minimum wait since round creation has elapsed. The time gate keeps a
// burst of bot bets from starting a round the instant the count is met.
func (t *Tracker) HasReachedThreshold(roundID string, minParticipants int, minWait time.Duration, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	tally, ok := t.rounds[roundID]
	if !ok {
		return false
	}
	if len(tally.participants) < minParticipants {
		return false
	}
	return now.Sub(tally.createdAt) >= minWait
}

// TryStartRound performs the single conditional WaitingBets -> Started update.
// Exactly one of any number of concurrent callers, across any number of
// process instances, receives true; only that caller may run the round's
// start side effects.
func (t *Tracker) TryStartRound(ctx context.Context, roundID string) (bool, error) {
	applied, err := t.store.UpdateRoundStatus(ctx, roundID, RoundWaitingBets, RoundStarted, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if applied {
		log.Printf("[ADMIT] Round %s started", roundID)
	}
	return applied, nil
}

// Forget drops a round's tally once the round can no longer start.
func (t *Tracker) Forget(roundID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rounds, roundID)
}
