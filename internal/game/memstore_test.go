package game

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memStore is an in-memory Store for tests. Its UpdateRoundStatus is a real
// compare-and-swap under a mutex, so concurrency properties hold the same
// way they do against the database.
type memStore struct {
	mu        sync.Mutex
	params    map[string]*RoundParameters
	rounds    map[string]*Round
	bets      map[string]*Bet
	transfers []*TransferRecord
	nextID    int64
}

func newMemStore() *memStore {
	return &memStore{
		params: make(map[string]*RoundParameters),
		rounds: make(map[string]*Round),
		bets:   make(map[string]*Bet),
	}
}

func (s *memStore) CreateParameters(ctx context.Context, p *RoundParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.params[p.ID] = &cp
	return nil
}

func (s *memStore) GetParameters(ctx context.Context, id string) (*RoundParameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.params[id]
	if !ok {
		return nil, ErrParametersNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ListActiveParameters(ctx context.Context) ([]*RoundParameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*RoundParameters
	for _, p := range s.params {
		if p.Active {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) CreateRound(ctx context.Context, r *Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	cp.StatusLog = []StatusChange{{RoundID: r.ID, From: "", To: r.Status, At: r.CreatedAt}}
	s.rounds[r.ID] = &cp
	return nil
}

func (s *memStore) GetRound(ctx context.Context, id string) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, ErrRoundNotFound
	}
	cp := *r
	cp.Bets = nil
	for _, b := range s.bets {
		if b.RoundID == id {
			bc := *b
			cp.Bets = append(cp.Bets, &bc)
		}
	}
	// placement order
	for i := 1; i < len(cp.Bets); i++ {
		for j := i; j > 0 && cp.Bets[j].CreatedAt.Before(cp.Bets[j-1].CreatedAt); j-- {
			cp.Bets[j], cp.Bets[j-1] = cp.Bets[j-1], cp.Bets[j]
		}
	}
	cp.StatusLog = append([]StatusChange(nil), r.StatusLog...)
	return &cp, nil
}

func (s *memStore) OpenRoundExists(ctx context.Context, parametersID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rounds {
		if r.ParametersID == parametersID && !r.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) UpdateRoundStatus(ctx context.Context, roundID string, from, to RoundStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[roundID]
	if !ok {
		return false, ErrRoundNotFound
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	switch to {
	case RoundStarted:
		r.StartedAt = &at
	case RoundEnded:
		r.EndedAt = &at
	}
	r.StatusLog = append(r.StatusLog, StatusChange{RoundID: roundID, From: from, To: to, At: at})
	return true, nil
}

func (s *memStore) SetWinningChoice(ctx context.Context, roundID, choice string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[roundID]
	if !ok {
		return ErrRoundNotFound
	}
	r.WinningChoice = choice
	return nil
}

func (s *memStore) ListRoundsByStatus(ctx context.Context, status RoundStatus, createdAfter time.Time) ([]*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Round
	for _, r := range s.rounds {
		if r.Status == status && r.CreatedAt.After(createdAfter) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) ListWaitingRoundsOlderThan(ctx context.Context, cutoff time.Time) ([]*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Round
	for _, r := range s.rounds {
		if r.Status == RoundWaitingBets && r.CreatedAt.Before(cutoff) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) InsertBet(ctx context.Context, b *Bet) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[b.RoundID]
	if !ok {
		return false, ErrRoundNotFound
	}
	if r.Status != RoundWaitingBets {
		return false, nil
	}
	cp := *b
	s.bets[b.ID] = &cp
	return true, nil
}

// seedBet bypasses the waiting-round guard for scenario setup.
func (s *memStore) seedBet(b *Bet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.bets[b.ID] = &cp
}

// forceRoundStatus bypasses the conditional update for scenario setup.
func (s *memStore) forceRoundStatus(roundID string, status RoundStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rounds[roundID]; ok {
		r.Status = status
	}
}

func (s *memStore) UpdateBetStatus(ctx context.Context, betID string, from, to BetStatus) (bool, error) {
	if !CanProgress(from, to) {
		return false, fmt.Errorf("bet status cannot move %s -> %s", from, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[betID]
	if !ok {
		return false, ErrBetNotFound
	}
	if b.Status != from {
		return false, nil
	}
	b.Status = to
	return true, nil
}

func (s *memStore) MarkBetsWon(ctx context.Context, roundID string, betIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range betIDs {
		b, ok := s.bets[id]
		if !ok || b.RoundID != roundID {
			return ErrBetNotFound
		}
		if b.Status == BetPlaced {
			b.Won = true
			b.Status = BetNeedsRewarding
		}
	}
	return nil
}

func (s *memStore) ListBetsByStatus(ctx context.Context, roundID string, status BetStatus) ([]*Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Bet
	for _, b := range s.bets {
		if b.RoundID == roundID && b.Status == status {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) ListRefundableBets(ctx context.Context) ([]*Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Bet
	for _, b := range s.bets {
		if b.Status != BetNeedsRefunding {
			continue
		}
		r, ok := s.rounds[b.RoundID]
		if !ok {
			continue
		}
		switch r.Status {
		case RoundNeedsRefund, RoundRefundInProgress, RoundNotEnoughPlayers:
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) LastSuccessfulTransfer(ctx context.Context, betID string, kind TransferKind) (*TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.transfers) - 1; i >= 0; i-- {
		rec := s.transfers[i]
		if rec.BetID == betID && rec.Kind == kind && rec.Success {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) AppendTransfer(ctx context.Context, rec *TransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	cp := *rec
	s.transfers = append(s.transfers, &cp)
	return nil
}

// lastTransfer returns the newest log entry for a bet, successful or not.
func (s *memStore) lastTransfer(betID string, kind TransferKind) *TransferRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.transfers) - 1; i >= 0; i-- {
		if s.transfers[i].BetID == betID && s.transfers[i].Kind == kind {
			cp := *s.transfers[i]
			return &cp
		}
	}
	return nil
}

// transferCount counts log entries for a bet, successful or not.
func (s *memStore) transferCount(betID string, kind TransferKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.transfers {
		if rec.BetID == betID && rec.Kind == kind {
			n++
		}
	}
	return n
}
