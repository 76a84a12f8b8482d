package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"typerace/internal/transfer"
)

// SplitPolicy divides the post-commission pot across n winners. Whatever the
// policy, the sum of its shares must never exceed the pot it was given.
type SplitPolicy func(pot decimal.Decimal, winners int) []decimal.Decimal

// EqualSplit gives every winner the same share, truncated to 7 decimal
// places. Truncation (never rounding up) keeps the sum within the pot.
func EqualSplit(pot decimal.Decimal, winners int) []decimal.Decimal {
	if winners <= 0 {
		return nil
	}
	share := pot.Div(decimal.NewFromInt(int64(winners))).Truncate(7)
	out := make([]decimal.Decimal, winners)
	for i := range out {
		out[i] = share
	}
	return out
}

// Distributor pays winners and refunds losers through the transfer network,
// classifying each outcome into a bet status. Bets of one round are processed
// strictly sequentially so pot accounting cannot double-spend.
type Distributor struct {
	store   Store
	network transfer.Client
	split   SplitPolicy
	cfg     Config
}

func NewDistributor(store Store, network transfer.Client, cfg Config) *Distributor {
	return &Distributor{
		store:   store,
		network: network,
		split:   EqualSplit,
		cfg:     cfg,
	}
}

// SetSplitPolicy swaps the payout split rule.
func (d *Distributor) SetSplitPolicy(p SplitPolicy) { d.split = p }

// PotAfterCommission is the payable pot: total wagers minus the operator's
// commission percentage.
func (d *Distributor) PotAfterCommission(pot decimal.Decimal) decimal.Decimal {
	keep := decimal.NewFromInt(100).Sub(d.cfg.CommissionPct)
	return pot.Mul(keep).Div(decimal.NewFromInt(100))
}

func rewardRef(betID string) string { return "reward-" + betID }
func refundRef(betID string) string { return "refund-" + betID }

// DistributeRewards drives the reward pipeline for an ended round. Fully
// replayable: already-rewarded bets are skipped via their TransactionLog, and
// a concurrent driver loses the RewardInProgress conditional update and backs
// off.
func (d *Distributor) DistributeRewards(ctx context.Context, roundID string) error {
	round, err := d.store.GetRound(ctx, roundID)
	if err != nil {
		return err
	}

	winners := round.Winners()
	if len(winners) == 0 {
		return fmt.Errorf("round %s has no winning bets", roundID)
	}

	switch round.Status {
	case RoundEnded, RoundErrorProcessingRewards:
		// Probe the network before touching any status or funds. An
		// unreachable network leaves everything retryable.
		if _, err := d.network.Anchor(ctx); err != nil {
			if round.Status == RoundEnded {
				d.mustTransition(ctx, roundID, RoundEnded, RoundErrorProcessingRewards)
			}
			return fmt.Errorf("transfer network unreachable: %w", err)
		}
		applied, err := d.store.UpdateRoundStatus(ctx, roundID, round.Status, RoundRewardInProgress, time.Now().UTC())
		if err != nil {
			return err
		}
		if !applied {
			// Another instance won the transition and is driving.
			return nil
		}
	case RoundRewardInProgress:
		// A previous driver died mid-round; pick up where it left off.
	default:
		return fmt.Errorf("round %s is not payable in status %s", roundID, round.Status)
	}

	pot := d.PotAfterCommission(round.Pot())
	payouts := d.split(pot, len(winners))
	remaining := pot
	allRewarded := true

	for i, bet := range winners {
		if ctx.Err() != nil {
			allRewarded = false
			break
		}
		payout := payouts[i]

		switch bet.Status {
		case BetRewarded:
			remaining = remaining.Sub(payout)
			continue
		case BetNeedsManualReview:
			allRewarded = false
			continue
		}

		settled, amount, err := d.settle(ctx, bet, TransferReward, payout, remaining)
		if err != nil {
			log.Printf("[PAYOUT] Bet %s reward failed: %v", bet.ID, err)
		}
		if settled {
			remaining = remaining.Sub(amount)
		} else {
			allRewarded = false
		}
	}

	final := RoundRewardCompleted
	if !allRewarded {
		final = RoundErrorProcessingRewards
	}
	d.mustTransition(ctx, roundID, RoundRewardInProgress, final)
	log.Printf("[PAYOUT] Round %s finished distribution: %s", roundID, final)
	return nil
}

// DistributeRefunds drives the refund pipeline: the round had no winner, or
// never started. Bets marked NeedsRefunding get their original wager back.
func (d *Distributor) DistributeRefunds(ctx context.Context, roundID string) error {
	round, err := d.store.GetRound(ctx, roundID)
	if err != nil {
		return err
	}

	transitioned := false
	switch round.Status {
	case RoundEnded, RoundNeedsRefund:
		applied, err := d.store.UpdateRoundStatus(ctx, roundID, round.Status, RoundRefundInProgress, time.Now().UTC())
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		transitioned = true
	case RoundRefundInProgress:
		transitioned = true
	case RoundNotEnoughPlayers:
		// Terminal for the round; only the bets move.
	default:
		return fmt.Errorf("round %s is not refundable in status %s", roundID, round.Status)
	}

	for _, bet := range round.Bets {
		if ctx.Err() != nil {
			break
		}
		if bet.Status != BetNeedsRefunding {
			continue
		}
		if _, _, err := d.settle(ctx, bet, TransferRefund, bet.Amount, bet.Amount); err != nil {
			log.Printf("[REFUND] Bet %s refund failed: %v", bet.ID, err)
		}
	}

	if transitioned {
		d.mustTransition(ctx, roundID, RoundRefundInProgress, RoundNeedsRefund)
	}
	return nil
}

// settle executes one transfer for one bet and classifies the outcome.
// Returns whether the bet ended settled (Rewarded/Refunded) and the amount
// actually consumed from the pot.
func (d *Distributor) settle(ctx context.Context, bet *Bet, kind TransferKind, amount, remaining decimal.Decimal) (bool, decimal.Decimal, error) {
	settledStatus := BetRewarded
	reference := rewardRef(bet.ID)
	if kind == TransferRefund {
		settledStatus = BetRefunded
		reference = refundRef(bet.ID)
	}

	// A prior successful log entry means the money already moved; replays
	// must not transfer again.
	if prior, err := d.store.LastSuccessfulTransfer(ctx, bet.ID, kind); err != nil {
		return false, decimal.Zero, err
	} else if prior != nil {
		if _, err := d.store.UpdateBetStatus(ctx, bet.ID, bet.Status, settledStatus); err != nil {
			return false, decimal.Zero, err
		}
		bet.Status = settledStatus
		return true, prior.Amount, nil
	}

	if kind == TransferReward && amount.GreaterThan(remaining) {
		// Pot accounting violation: absorbing state, never retried.
		if _, err := d.store.UpdateBetStatus(ctx, bet.ID, bet.Status, BetNeedsManualReview); err != nil {
			return false, decimal.Zero, err
		}
		bet.Status = BetNeedsManualReview
		log.Printf("[PAYOUT] Bet %s payout %s exceeds remaining pot %s, flagged for review", bet.ID, amount, remaining)
		return false, decimal.Zero, nil
	}

	receipt, err := d.network.Submit(ctx, transfer.Transfer{
		Reference:   reference,
		Destination: bet.Participant,
		Amount:      amount,
		Memo:        fmt.Sprintf("%s round %s", kind, bet.RoundID),
	})
	switch {
	case err == nil:
		// applied below
	case errors.Is(err, transfer.ErrAlreadyApplied):
		receipt, err = d.network.Lookup(ctx, reference)
		if err != nil {
			return false, decimal.Zero, err
		}
	default:
		if logErr := d.store.AppendTransfer(ctx, &TransferRecord{
			BetID:     bet.ID,
			Kind:      kind,
			Amount:    amount,
			Reference: reference,
			Success:   false,
			Detail:    err.Error(),
			CreatedAt: time.Now().UTC(),
		}); logErr != nil {
			log.Printf("[PAYOUT] Recording failed %s attempt for bet %s: %v", kind, bet.ID, logErr)
		}
		return false, decimal.Zero, err
	}

	rec := &TransferRecord{
		BetID:     bet.ID,
		Kind:      kind,
		Amount:    amount,
		Reference: reference,
		Signature: receipt.Signature,
		Success:   true,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.store.AppendTransfer(ctx, rec); err != nil {
		return false, decimal.Zero, err
	}
	if _, err := d.store.UpdateBetStatus(ctx, bet.ID, bet.Status, settledStatus); err != nil {
		return false, decimal.Zero, err
	}
	bet.Status = settledStatus
	log.Printf("[PAYOUT] Bet %s %s %s to %s", bet.ID, kind, amount, bet.Participant)
	return true, amount, nil
}

func (d *Distributor) mustTransition(ctx context.Context, roundID string, from, to RoundStatus) {
	if _, err := d.store.UpdateRoundStatus(ctx, roundID, from, to, time.Now().UTC()); err != nil {
		log.Printf("[PAYOUT] Round %s transition %s -> %s failed: %v", roundID, from, to, err)
	}
}
