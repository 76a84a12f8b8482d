package game

import (
	"time"

	"github.com/shopspring/decimal"
)

type RoundStatus string

const (
	RoundWaitingBets            RoundStatus = "WAITING_BETS"
	RoundStarted                RoundStatus = "STARTED"
	RoundEnded                  RoundStatus = "ENDED"
	RoundRewardInProgress       RoundStatus = "REWARD_IN_PROGRESS"
	RoundRefundInProgress       RoundStatus = "REFUND_IN_PROGRESS"
	RoundRewardCompleted        RoundStatus = "REWARD_COMPLETED"
	RoundNeedsRefund            RoundStatus = "NEEDS_REFUND"
	RoundErrorProcessingRewards RoundStatus = "ERROR_PROCESSING_REWARDS"
	RoundNotEnoughPlayers       RoundStatus = "NOT_ENOUGH_PLAYERS_TO_START"
)

// Terminal reports whether no further round-level transition is expected.
// NeedsRefund and NotEnoughPlayers may still have bets being refunded by the
// refund sweeper, but the round itself stays put.
func (s RoundStatus) Terminal() bool {
	switch s {
	case RoundRewardCompleted, RoundNeedsRefund, RoundNotEnoughPlayers:
		return true
	}
	return false
}

type BetStatus string

const (
	BetPlaced            BetStatus = "PLACED"
	BetLost              BetStatus = "LOST"
	BetNeedsRewarding    BetStatus = "NEEDS_REWARDING"
	BetRewarded          BetStatus = "REWARDED"
	BetNeedsRefunding    BetStatus = "NEEDS_REFUNDING"
	BetRefunded          BetStatus = "REFUNDED"
	BetNeedsManualReview BetStatus = "NEEDS_MANUAL_REVIEW"
)

// betStatusRank orders bet statuses so progression is strictly forward.
var betStatusRank = map[BetStatus]int{
	BetPlaced:            0,
	BetNeedsRewarding:    1,
	BetNeedsRefunding:    1,
	BetLost:              2,
	BetRewarded:          2,
	BetRefunded:          2,
	BetNeedsManualReview: 3,
}

// CanProgress reports whether a bet may move from one status to another.
// NeedsManualReview is absorbing: nothing moves out of it automatically.
func CanProgress(from, to BetStatus) bool {
	if from == BetNeedsManualReview {
		return false
	}
	return betStatusRank[to] > betStatusRank[from]
}

type CharacterSet string

const (
	CharSetNumeric       CharacterSet = "numeric"
	CharSetLowercase     CharacterSet = "lowercase"
	CharSetUppercase     CharacterSet = "uppercase"
	CharSetPlayerDefined CharacterSet = "player_defined"
)

// RoundParameters is a recurring game configuration. It is created and edited
// by the admin surface and read-only to everything in this package.
type RoundParameters struct {
	ID              string          `json:"id"`
	Label           string          `json:"label"`
	CharacterSet    CharacterSet    `json:"character_set"`
	ChoiceLength    int             `json:"choice_length"`
	AllowRepeats    bool            `json:"allow_repeats"`
	WagerAmount     decimal.Decimal `json:"wager_amount"`
	MinParticipants int             `json:"min_participants"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Round is one play instance of a RoundParameters.
type Round struct {
	ID            string         `json:"id"`
	ParametersID  string         `json:"parameters_id"`
	Status        RoundStatus    `json:"status"`
	WinningChoice string         `json:"winning_choice,omitempty"`
	ServerSeed    string         `json:"-"` // revealed only after the round ends
	Commitment    string         `json:"commitment"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
	Bets          []*Bet         `json:"bets,omitempty"`
	StatusLog     []StatusChange `json:"status_log,omitempty"`
}

// Pot is the sum of all wagers on the round.
func (r *Round) Pot() decimal.Decimal {
	pot := decimal.Zero
	for _, b := range r.Bets {
		pot = pot.Add(b.Amount)
	}
	return pot
}

// Winners returns the round's winning bets in placement order.
func (r *Round) Winners() []*Bet {
	var winners []*Bet
	for _, b := range r.Bets {
		if b.Won {
			winners = append(winners, b)
		}
	}
	return winners
}

// Bet is one wager on one round.
type Bet struct {
	ID          string          `json:"id"`
	RoundID     string          `json:"round_id"`
	Participant string          `json:"participant"`
	Amount      decimal.Decimal `json:"amount"`
	Choice      string          `json:"choice"`
	PaymentRef  string          `json:"payment_ref,omitempty"`
	Status      BetStatus       `json:"status"`
	Won         bool            `json:"won"`
	CreatedAt   time.Time       `json:"created_at"`
}

// StatusChange is one append-only audit entry for a round transition.
type StatusChange struct {
	RoundID string      `json:"round_id"`
	From    RoundStatus `json:"from"`
	To      RoundStatus `json:"to"`
	At      time.Time   `json:"at"`
}

type TransferKind string

const (
	TransferReward TransferKind = "reward"
	TransferRefund TransferKind = "refund"
)

// TransferRecord is one append-only TransactionLog/RefundLog entry. A prior
// successful entry for a bet blocks re-transfer, which is what makes reward
// and refund replays idempotent across process instances.
type TransferRecord struct {
	ID        int64           `json:"id"`
	BetID     string          `json:"bet_id"`
	Kind      TransferKind    `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
	Signature string          `json:"signature,omitempty"`
	Success   bool            `json:"success"`
	Detail    string          `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type BetPlacedMessage struct {
	RoundID     string          `json:"round_id"`
	BetID       string          `json:"bet_id"`
	Participant string          `json:"participant"`
	Amount      decimal.Decimal `json:"amount"`
	Players     int             `json:"players"`
}

type RoundStatusMessage struct {
	RoundID       string      `json:"round_id"`
	Status        RoundStatus `json:"status"`
	WinningChoice string      `json:"winning_choice,omitempty"`
	ServerSeed    string      `json:"server_seed,omitempty"`
}

type WindowMessage struct {
	RoundID string `json:"round_id"`
	Window  string `json:"window"`
	Draws   int    `json:"draws"`
}
