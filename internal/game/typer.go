package game

import (
	"errors"
	"sort"
	"strings"
	"time"
)

var (
	ErrNoEligibleBets = errors.New("round has no eligible bets")
	ErrRoundDecided   = errors.New("round already has a winner")
)

// DrawFunc picks an index in [0, poolSize). Production rounds use FairDraw;
// tests inject scripted sequences.
type DrawFunc func(poolSize int) int

// TyperBet is the engine's live view of one participating bet. The engine
// flips Won in memory only; persisting the outcome is the caller's job.
type TyperBet struct {
	ID          string
	Participant string
	Choice      string
	PlacedAt    time.Time
	Won         bool
}

// Typer generates random characters into a sliding window and detects bets
// whose choice appears as a contiguous substring of the window.
type Typer struct {
	pool     []rune
	window   []rune
	capacity int
	bets     []*TyperBet
	draw     DrawFunc

	draws         int
	winners       []*TyperBet
	winningChoice string
}

// NewTyper builds an engine for one round. The window capacity is the longest
// choice among the bets. Bets are kept in placement order (ties broken by id)
// so the recorded winning choice is deterministic.
func NewTyper(pool []rune, bets []*TyperBet, draw DrawFunc) (*Typer, error) {
	if len(bets) == 0 {
		return nil, ErrNoEligibleBets
	}
	if len(pool) == 0 {
		return nil, ErrEmptyPool
	}

	ordered := make([]*TyperBet, len(bets))
	copy(ordered, bets)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].PlacedAt.Equal(ordered[j].PlacedAt) {
			return ordered[i].PlacedAt.Before(ordered[j].PlacedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	capacity := 0
	for _, b := range ordered {
		if n := len([]rune(b.Choice)); n > capacity {
			capacity = n
		}
	}
	if capacity == 0 {
		return nil, ErrNoEligibleBets
	}

	return &Typer{
		pool:     pool,
		window:   make([]rune, 0, capacity),
		capacity: capacity,
		bets:     ordered,
		draw:     draw,
	}, nil
}

// GenerateNext draws one character, slides the window and scans every bet
// that has not yet won. All bets matching in the same tick are marked winners
// together; the winning choice recorded for the round belongs to the
// earliest-placed bet among that tick's winners. Once the round has winners
// every further call fails with ErrRoundDecided.
func (t *Typer) GenerateNext() (rune, error) {
	if len(t.winners) > 0 {
		return 0, ErrRoundDecided
	}

	r := t.pool[t.draw(len(t.pool))]
	t.window = append(t.window, r)
	if len(t.window) > t.capacity {
		t.window = t.window[1:]
	}
	t.draws++

	window := string(t.window)
	for _, b := range t.bets {
		if b.Won {
			continue
		}
		if strings.Contains(window, b.Choice) {
			b.Won = true
			t.winners = append(t.winners, b)
			if t.winningChoice == "" {
				t.winningChoice = b.Choice
			}
		}
	}
	return r, nil
}

func (t *Typer) HasWinners() bool { return len(t.winners) > 0 }

// Winners returns this round's winning bets in placement order.
func (t *Typer) Winners() []*TyperBet {
	out := make([]*TyperBet, len(t.winners))
	copy(out, t.winners)
	return out
}

func (t *Typer) WinningChoice() string { return t.winningChoice }

func (t *Typer) Window() string { return string(t.window) }

func (t *Typer) Draws() int { return t.draws }
