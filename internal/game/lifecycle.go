package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrOpenRoundExists = errors.New("parameters already have an open round")

// Pusher emits realtime messages on a per-round topic. The server's hub
// implements it; the core only produces messages.
type Pusher interface {
	Push(roundID string, message any)
}

// Manager owns the round state machine: creation, the exactly-once start,
// the typer loop, the terminal transitions and the cooldown re-creation that
// keeps every active RoundParameters looping forever.
type Manager struct {
	store   Store
	tracker *Tracker
	dist    *Distributor
	events  Publisher
	push    Pusher
	cfg     Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(store Store, tracker *Tracker, dist *Distributor, events Publisher, push Pusher, cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:   store,
		tracker: tracker,
		dist:    dist,
		events:  events,
		push:    push,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Shutdown cancels every lifecycle goroutine and waits for them to reach a
// safe checkpoint.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
	log.Println("[ROUND] Lifecycle manager stopped")
}

// CreateRound opens a new waiting round for a configuration. At most one
// non-terminal round may exist per RoundParameters; a second create loses.
func (m *Manager) CreateRound(ctx context.Context, parametersID string) (*Round, error) {
	params, err := m.store.GetParameters(ctx, parametersID)
	if err != nil {
		return nil, err
	}
	if !params.Active {
		return nil, fmt.Errorf("parameters %s are inactive", parametersID)
	}
	open, err := m.store.OpenRoundExists(ctx, parametersID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, ErrOpenRoundExists
	}

	seed := GenerateSeed()
	round := &Round{
		ID:           uuid.NewString(),
		ParametersID: parametersID,
		Status:       RoundWaitingBets,
		ServerSeed:   seed,
		Commitment:   HashCommitment(seed),
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.store.CreateRound(ctx, round); err != nil {
		return nil, err
	}
	log.Printf("[ROUND] Created round %s for %s (commitment %s...)", round.ID, params.Label, round.Commitment[:16])

	m.publish(EventRoundCreated, Event{Type: EventRoundCreated, RoundID: round.ID, At: round.CreatedAt})
	m.afterWait(m.cfg.MaxWait, func() { m.ExpireWaiting(m.ctx, round.ID) })
	return round, nil
}

// PlaceBet validates and records a wager, then re-evaluates the admission
// threshold. Validation failures come back as notifications with no state
// changed; the error return is for internal faults only.
func (m *Manager) PlaceBet(ctx context.Context, roundID, participant, choice string, amount decimal.Decimal, paymentRef string) (*Bet, Notifications, error) {
	var n Notifications

	round, err := m.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, n, err
	}
	if round.Status != RoundWaitingBets {
		n.Add("betting is closed for this round")
		return nil, n, nil
	}
	params, err := m.store.GetParameters(ctx, round.ParametersID)
	if err != nil {
		return nil, n, err
	}

	bet := &Bet{
		ID:          uuid.NewString(),
		RoundID:     roundID,
		Participant: participant,
		Amount:      amount,
		Choice:      choice,
		PaymentRef:  paymentRef,
		Status:      BetPlaced,
		CreatedAt:   time.Now().UTC(),
	}
	if n = ValidateBet(params, bet); !n.OK() {
		return nil, n, nil
	}
	applied, err := m.store.InsertBet(ctx, bet)
	if err != nil {
		return nil, n, err
	}
	if !applied {
		// The round started between the status check above and the insert.
		n.Add("betting is closed for this round")
		return nil, n, nil
	}

	// The loaded round carries every persisted bet, including ones placed
	// through other instances, so the tally is never behind the store.
	m.tracker.Hydrate(round)
	m.tracker.RecordBet(roundID, participant, choice, round.CreatedAt)
	players := m.tracker.Participants(roundID)
	log.Printf("[ROUND] Bet %s on round %s by %s (%d players)", bet.ID, roundID, participant, players)

	m.publish(EventBetPlaced, Event{Type: EventBetPlaced, RoundID: roundID, BetID: bet.ID, At: bet.CreatedAt})
	m.pushRound(roundID, BetPlacedMessage{
		RoundID:     roundID,
		BetID:       bet.ID,
		Participant: participant,
		Amount:      amount,
		Players:     players,
	})

	m.maybeStart(ctx, roundID, params)
	return bet, n, nil
}

// maybeStart starts the round when the threshold is met. The tally check is
// advisory; TryStartRound's conditional update is what makes the start happen
// exactly once, so losing the race here is normal and silent.
func (m *Manager) maybeStart(ctx context.Context, roundID string, params *RoundParameters) {
	if !m.tracker.HasReachedThreshold(roundID, params.MinParticipants, m.cfg.MinWait, time.Now().UTC()) {
		return
	}
	started, err := m.tracker.TryStartRound(ctx, roundID)
	if err != nil {
		log.Printf("[ROUND] Start attempt for %s failed: %v", roundID, err)
		return
	}
	if !started {
		return
	}

	now := time.Now().UTC()
	m.publish(EventRoundStarted, Event{Type: EventRoundStarted, RoundID: roundID, At: now})
	m.pushRound(roundID, RoundStatusMessage{RoundID: roundID, Status: RoundStarted})

	m.wg.Add(1)
	go m.runRound(roundID)
}

// runRound drives the typer until a winner appears or the draw budget is
// exhausted, then hands off to the distributor. Only the goroutine spawned by
// the winning start caller ever runs this for a given round.
func (m *Manager) runRound(roundID string) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ROUND] Round %s loop panicked: %v", roundID, r)
		}
	}()

	ctx := m.ctx
	round, err := m.store.GetRound(ctx, roundID)
	if err != nil {
		log.Printf("[ROUND] Load round %s failed: %v", roundID, err)
		return
	}
	params, err := m.store.GetParameters(ctx, round.ParametersID)
	if err != nil {
		log.Printf("[ROUND] Load parameters for %s failed: %v", roundID, err)
		return
	}

	choices := make([]string, 0, len(round.Bets))
	typerBets := make([]*TyperBet, 0, len(round.Bets))
	for _, b := range round.Bets {
		if b.Status != BetPlaced {
			continue
		}
		choices = append(choices, b.Choice)
		typerBets = append(typerBets, &TyperBet{
			ID:          b.ID,
			Participant: b.Participant,
			Choice:      b.Choice,
			PlacedAt:    b.CreatedAt,
		})
	}

	pool, err := ResolvePool(params.CharacterSet, choices)
	if err != nil {
		log.Printf("[ROUND] Round %s has no usable pool: %v", roundID, err)
		return
	}
	typer, err := NewTyper(pool, typerBets, FairDraw(round.ServerSeed, clientSeedFor(round.Bets)))
	if err != nil {
		log.Printf("[ROUND] Round %s typer construction failed: %v", roundID, err)
		return
	}

	log.Printf("[TYPER] Round %s typing over %d characters, %d bets", roundID, len(pool), len(typerBets))
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Round stays Started; the creation sweeper resumes it once
			// it has been stalled past the run horizon. Nothing is
			// half-transitioned.
			log.Printf("[TYPER] Round %s loop cancelled after %d draws", roundID, typer.Draws())
			return
		case <-ticker.C:
			if _, err := typer.GenerateNext(); err != nil {
				log.Printf("[TYPER] Round %s draw failed: %v", roundID, err)
				return
			}
			m.pushRound(roundID, WindowMessage{RoundID: roundID, Window: typer.Window(), Draws: typer.Draws()})

			if typer.HasWinners() {
				m.endWithWinner(ctx, round, typer)
				return
			}
			if typer.Draws() >= m.cfg.MaxDraws {
				log.Printf("[TYPER] Round %s exhausted %d draws with no winner", roundID, typer.Draws())
				m.endNoWinner(ctx, round)
				return
			}
		}
	}
}

func (m *Manager) endWithWinner(ctx context.Context, round *Round, typer *Typer) {
	winners := typer.Winners()
	ids := make([]string, len(winners))
	for i, w := range winners {
		ids[i] = w.ID
	}
	log.Printf("[TYPER] Round %s decided after %d draws: %q (%d winners)", round.ID, typer.Draws(), typer.WinningChoice(), len(winners))

	if err := m.store.MarkBetsWon(ctx, round.ID, ids); err != nil {
		log.Printf("[ROUND] Marking winners for %s failed: %v", round.ID, err)
		return
	}
	won := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		won[id] = struct{}{}
	}
	m.settleDecided(ctx, round, typer.WinningChoice(), won)
}

// settleDecided finishes a round whose winners are already persisted: record
// the winning choice, close the losers and flip the round to Ended.
func (m *Manager) settleDecided(ctx context.Context, round *Round, winningChoice string, won map[string]struct{}) {
	if err := m.store.SetWinningChoice(ctx, round.ID, winningChoice); err != nil {
		log.Printf("[ROUND] Recording winning choice for %s failed: %v", round.ID, err)
		return
	}
	for _, b := range round.Bets {
		if _, ok := won[b.ID]; ok || b.Status != BetPlaced {
			continue
		}
		if _, err := m.store.UpdateBetStatus(ctx, b.ID, BetPlaced, BetLost); err != nil {
			log.Printf("[ROUND] Closing losing bet %s failed: %v", b.ID, err)
		}
	}

	now := time.Now().UTC()
	if _, err := m.store.UpdateRoundStatus(ctx, round.ID, RoundStarted, RoundEnded, now); err != nil {
		log.Printf("[ROUND] Ending round %s failed: %v", round.ID, err)
		return
	}
	m.tracker.Forget(round.ID)

	m.publish(EventRoundEnded, Event{Type: EventRoundEnded, RoundID: round.ID, At: now})
	m.pushRound(round.ID, RoundStatusMessage{
		RoundID:       round.ID,
		Status:        RoundEnded,
		WinningChoice: winningChoice,
		ServerSeed:    round.ServerSeed, // reveal against the published commitment
	})

	// The reward consumer picks this up; the reward sweeper republishes it
	// if the distribution errors out.
	m.publish(EventRewardRequested, Event{Type: EventRewardRequested, RoundID: round.ID, At: now})
	m.scheduleNext(round.ParametersID)
}

func (m *Manager) endNoWinner(ctx context.Context, round *Round) {
	now := time.Now().UTC()
	if _, err := m.store.UpdateRoundStatus(ctx, round.ID, RoundStarted, RoundEnded, now); err != nil {
		log.Printf("[ROUND] Ending round %s failed: %v", round.ID, err)
		return
	}
	m.tracker.Forget(round.ID)
	for _, b := range round.Bets {
		if b.Status != BetPlaced {
			continue
		}
		if _, err := m.store.UpdateBetStatus(ctx, b.ID, BetPlaced, BetNeedsRefunding); err != nil {
			log.Printf("[ROUND] Marking bet %s for refund failed: %v", b.ID, err)
		}
	}

	m.publish(EventRoundEnded, Event{Type: EventRoundEnded, RoundID: round.ID, At: now})
	m.pushRound(round.ID, RoundStatusMessage{RoundID: round.ID, Status: RoundEnded, ServerSeed: round.ServerSeed})

	if err := m.dist.DistributeRefunds(ctx, round.ID); err != nil {
		log.Printf("[ROUND] Refund pass for %s failed: %v", round.ID, err)
	}
	m.scheduleNext(round.ParametersID)
}

// ResumeRound picks up a Started round whose driving goroutine died with the
// process. The draw chain is deterministic in the two seeds, so re-running
// the typer from draw one reproduces the interrupted sequence exactly. A
// round whose winners were already persisted skips straight to settlement.
func (m *Manager) ResumeRound(ctx context.Context, roundID string) {
	round, err := m.store.GetRound(ctx, roundID)
	if err != nil {
		log.Printf("[ROUND] Resume check for %s failed: %v", roundID, err)
		return
	}
	if round.Status != RoundStarted {
		return
	}

	if winners := round.Winners(); len(winners) > 0 {
		// Died between marking winners and closing the round.
		choice := round.WinningChoice
		if choice == "" {
			choice = winners[0].Choice
		}
		won := make(map[string]struct{}, len(winners))
		for _, w := range winners {
			won[w.ID] = struct{}{}
		}
		log.Printf("[ROUND] Resuming round %s at settlement", roundID)
		m.settleDecided(ctx, round, choice, won)
		return
	}

	log.Printf("[ROUND] Resuming round %s from draw one", roundID)
	m.wg.Add(1)
	go m.runRound(roundID)
}

// ExpireWaiting closes a waiting round whose maximum wait period elapsed
// without meeting the admission threshold. Refunds every bet it collected.
func (m *Manager) ExpireWaiting(ctx context.Context, roundID string) {
	round, err := m.store.GetRound(ctx, roundID)
	if err != nil {
		log.Printf("[ROUND] Expire check for %s failed: %v", roundID, err)
		return
	}
	if round.Status != RoundWaitingBets {
		return
	}
	if time.Since(round.CreatedAt) < m.cfg.MaxWait {
		return
	}

	applied, err := m.store.UpdateRoundStatus(ctx, roundID, RoundWaitingBets, RoundNotEnoughPlayers, time.Now().UTC())
	if err != nil {
		log.Printf("[ROUND] Expiring round %s failed: %v", roundID, err)
		return
	}
	if !applied {
		// Lost the race against a late start; the round is running.
		return
	}
	log.Printf("[ROUND] Round %s expired with too few players", roundID)
	m.tracker.Forget(roundID)

	for _, b := range round.Bets {
		if b.Status != BetPlaced {
			continue
		}
		if _, err := m.store.UpdateBetStatus(ctx, b.ID, BetPlaced, BetNeedsRefunding); err != nil {
			log.Printf("[ROUND] Marking bet %s for refund failed: %v", b.ID, err)
		}
	}
	m.pushRound(roundID, RoundStatusMessage{RoundID: roundID, Status: RoundNotEnoughPlayers})

	if err := m.dist.DistributeRefunds(ctx, roundID); err != nil {
		log.Printf("[ROUND] Refund pass for %s failed: %v", roundID, err)
	}
	m.scheduleNext(round.ParametersID)
}

// scheduleNext re-creates a round for the same parameters after the cooldown.
// The creation sweeper is the backstop if this instance dies first.
func (m *Manager) scheduleNext(parametersID string) {
	m.afterWait(m.cfg.Cooldown, func() {
		if _, err := m.CreateRound(m.ctx, parametersID); err != nil && !errors.Is(err, ErrOpenRoundExists) {
			log.Printf("[ROUND] Scheduled round creation for %s failed: %v", parametersID, err)
		}
	})
}

func (m *Manager) afterWait(d time.Duration, fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-m.ctx.Done():
		case <-time.After(d):
			fn()
		}
	}()
}

func (m *Manager) publish(channel string, ev Event) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(m.ctx, channel, ev); err != nil {
		log.Printf("[EVENTS] Publish %s failed: %v", channel, err)
	}
}

func (m *Manager) pushRound(roundID string, msg any) {
	if m.push != nil {
		m.push.Push(roundID, msg)
	}
}

// clientSeedFor derives the round's client seed from its bets, so the draw
// sequence is pinned by player input rather than chosen by the server alone.
func clientSeedFor(bets []*Bet) string {
	ids := make([]string, 0, len(bets))
	for _, b := range bets {
		ids = append(ids, b.ID)
	}
	sort.Strings(ids)
	return HashCommitment(strings.Join(ids, ":"))
}
