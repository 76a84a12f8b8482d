package game

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRoundNotFound      = errors.New("round not found")
	ErrParametersNotFound = errors.New("round parameters not found")
	ErrBetNotFound        = errors.New("bet not found")
)

// Store is the persistence surface the core depends on. The database package
// implements it against Postgres; tests use an in-memory fake.
//
// UpdateRoundStatus is the concurrency primitive for the whole state machine:
// a single conditional update keyed on the expected prior status. It returns
// true only when the update actually applied, so of N concurrent callers
// racing on the same transition exactly one sees true. No other locking is
// used across instances.
type Store interface {
	CreateParameters(ctx context.Context, p *RoundParameters) error
	GetParameters(ctx context.Context, id string) (*RoundParameters, error)
	ListActiveParameters(ctx context.Context) ([]*RoundParameters, error)

	CreateRound(ctx context.Context, r *Round) error
	GetRound(ctx context.Context, id string) (*Round, error)
	OpenRoundExists(ctx context.Context, parametersID string) (bool, error)
	UpdateRoundStatus(ctx context.Context, roundID string, from, to RoundStatus, at time.Time) (bool, error)
	SetWinningChoice(ctx context.Context, roundID, choice string) error
	ListRoundsByStatus(ctx context.Context, status RoundStatus, createdAfter time.Time) ([]*Round, error)
	ListWaitingRoundsOlderThan(ctx context.Context, cutoff time.Time) ([]*Round, error)

	// InsertBet commits the bet only while the round still accepts bets,
	// with the same rows-affected contract as UpdateRoundStatus. A false
	// return means the round left WaitingBets between the caller's status
	// check and the insert.
	InsertBet(ctx context.Context, b *Bet) (bool, error)
	UpdateBetStatus(ctx context.Context, betID string, from, to BetStatus) (bool, error)
	MarkBetsWon(ctx context.Context, roundID string, betIDs []string) error
	ListBetsByStatus(ctx context.Context, roundID string, status BetStatus) ([]*Bet, error)
	ListRefundableBets(ctx context.Context) ([]*Bet, error)

	LastSuccessfulTransfer(ctx context.Context, betID string, kind TransferKind) (*TransferRecord, error)
	AppendTransfer(ctx context.Context, rec *TransferRecord) error
}
