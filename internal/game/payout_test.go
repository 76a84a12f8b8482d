package game

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"typerace/internal/transfer"
)

func testPayoutConfig() Config {
	return Config{CommissionPct: decimal.NewFromInt(10)}
}

// endedRound seeds a round that has just ended with the given winner and
// loser counts, each bet wagering 100.
func endedRound(t *testing.T, store *memStore, winners, losers int) *Round {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	r := &Round{
		ID:           "round-1",
		ParametersID: "params-1",
		Status:       RoundEnded,
		CreatedAt:    now,
	}
	if err := store.CreateRound(ctx, r); err != nil {
		t.Fatalf("CreateRound() error: %v", err)
	}
	wager := decimal.NewFromInt(100)
	for i := 0; i < winners+losers; i++ {
		b := &Bet{
			ID:          "bet-" + string(rune('a'+i)),
			RoundID:     r.ID,
			Participant: "player-" + string(rune('a'+i)),
			Amount:      wager,
			Choice:      "12",
			Status:      BetNeedsRewarding,
			Won:         true,
			CreatedAt:   now.Add(time.Duration(i) * time.Second),
		}
		if i >= winners {
			b.Status = BetLost
			b.Won = false
		}
		store.seedBet(b)
	}
	return r
}

func TestDistributeRewards_PayoutBound(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	endedRound(t, store, 3, 1)
	network := transfer.NewMemory()
	dist := NewDistributor(store, network, testPayoutConfig())

	if err := dist.DistributeRewards(ctx, "round-1"); err != nil {
		t.Fatalf("DistributeRewards() error: %v", err)
	}

	round, _ := store.GetRound(ctx, "round-1")
	if round.Status != RoundRewardCompleted {
		t.Fatalf("round status = %s, want %s", round.Status, RoundRewardCompleted)
	}

	// Pot 400, commission 10% leaves 360, split three ways.
	payable := decimal.NewFromInt(360)
	share := payable.Div(decimal.NewFromInt(3)).Truncate(7)
	paid := decimal.Zero
	for _, b := range round.Winners() {
		if b.Status != BetRewarded {
			t.Errorf("bet %s status = %s, want %s", b.ID, b.Status, BetRewarded)
		}
		got := network.Balance(b.Participant)
		if !got.Equal(share) {
			t.Errorf("bet %s received %s, want %s", b.ID, got, share)
		}
		paid = paid.Add(got)
	}
	if paid.GreaterThan(payable) {
		t.Errorf("total paid %s exceeds payable pot %s", paid, payable)
	}
	for _, b := range round.Bets {
		if !b.Won && !network.Balance(b.Participant).IsZero() {
			t.Errorf("losing bet %s received %s", b.ID, network.Balance(b.Participant))
		}
	}
}

func TestDistributeRewards_ReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	endedRound(t, store, 2, 0)
	network := transfer.NewMemory()
	dist := NewDistributor(store, network, testPayoutConfig())

	if err := dist.DistributeRewards(ctx, "round-1"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	balanceBefore := network.Balance("player-a")

	// Force the round back to a retryable status and replay the whole run.
	store.forceRoundStatus("round-1", RoundErrorProcessingRewards)
	if err := dist.DistributeRewards(ctx, "round-1"); err != nil {
		t.Fatalf("replay: %v", err)
	}

	if got := network.Balance("player-a"); !got.Equal(balanceBefore) {
		t.Errorf("balance after replay = %s, want unchanged %s", got, balanceBefore)
	}
	if n := store.transferCount("bet-a", TransferReward); n != 1 {
		t.Errorf("transfer log entries for bet-a = %d, want 1", n)
	}
	round, _ := store.GetRound(ctx, "round-1")
	if round.Status != RoundRewardCompleted {
		t.Errorf("round status = %s, want %s", round.Status, RoundRewardCompleted)
	}
}

func TestDistributeRewards_NetworkDownLeavesRetryable(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	endedRound(t, store, 2, 0)
	network := transfer.NewMemory()
	network.SetDown(true)
	dist := NewDistributor(store, network, testPayoutConfig())

	if err := dist.DistributeRewards(ctx, "round-1"); err == nil {
		t.Fatal("DistributeRewards() succeeded with the network down")
	}

	round, _ := store.GetRound(ctx, "round-1")
	if round.Status != RoundErrorProcessingRewards {
		t.Fatalf("round status = %s, want %s", round.Status, RoundErrorProcessingRewards)
	}
	for _, b := range round.Winners() {
		if b.Status != BetNeedsRewarding {
			t.Errorf("bet %s status = %s, want untouched %s", b.ID, b.Status, BetNeedsRewarding)
		}
	}

	// Recovery: the same round pays out in full once the network is back.
	network.SetDown(false)
	if err := dist.DistributeRewards(ctx, "round-1"); err != nil {
		t.Fatalf("recovery run: %v", err)
	}
	round, _ = store.GetRound(ctx, "round-1")
	if round.Status != RoundRewardCompleted {
		t.Errorf("round status after recovery = %s, want %s", round.Status, RoundRewardCompleted)
	}
}

// submitFailNetwork anchors fine but rejects every submitted transfer.
type submitFailNetwork struct {
	*transfer.Memory
}

func (n *submitFailNetwork) Submit(ctx context.Context, t transfer.Transfer) (*transfer.Receipt, error) {
	return nil, transfer.ErrTemporarilyUnavailable
}

func TestDistributeRewards_RecordsFailedAttempts(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	endedRound(t, store, 1, 0)
	dist := NewDistributor(store, &submitFailNetwork{Memory: transfer.NewMemory()}, testPayoutConfig())

	if err := dist.DistributeRewards(ctx, "round-1"); err != nil {
		t.Fatalf("DistributeRewards() error: %v", err)
	}

	round, _ := store.GetRound(ctx, "round-1")
	if round.Status != RoundErrorProcessingRewards {
		t.Fatalf("round status = %s, want %s", round.Status, RoundErrorProcessingRewards)
	}
	if b := round.Winners()[0]; b.Status != BetNeedsRewarding {
		t.Errorf("bet status = %s, want retryable %s", b.Status, BetNeedsRewarding)
	}

	// The failed attempt must land in the audit log for reconciliation.
	rec := store.lastTransfer("bet-a", TransferReward)
	if rec == nil {
		t.Fatal("no transfer record for the failed attempt")
	}
	if rec.Success {
		t.Error("failed attempt recorded as success")
	}
	if rec.Detail == "" {
		t.Error("failed attempt carries no failure detail")
	}
	if n := store.transferCount("bet-a", TransferReward); n != 1 {
		t.Errorf("transfer log entries = %d, want 1", n)
	}
}

func TestDistributeRewards_OverdrawFlagsManualReview(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	endedRound(t, store, 2, 0)
	network := transfer.NewMemory()
	dist := NewDistributor(store, network, testPayoutConfig())

	// A broken policy that hands the whole pot to every winner.
	dist.SetSplitPolicy(func(pot decimal.Decimal, winners int) []decimal.Decimal {
		out := make([]decimal.Decimal, winners)
		for i := range out {
			out[i] = pot
		}
		return out
	})

	if err := dist.DistributeRewards(ctx, "round-1"); err != nil {
		t.Fatalf("DistributeRewards() error: %v", err)
	}

	round, _ := store.GetRound(ctx, "round-1")
	if round.Status != RoundErrorProcessingRewards {
		t.Fatalf("round status = %s, want %s", round.Status, RoundErrorProcessingRewards)
	}
	winners := round.Winners()
	if winners[0].Status != BetRewarded {
		t.Errorf("first winner status = %s, want %s", winners[0].Status, BetRewarded)
	}
	if winners[1].Status != BetNeedsManualReview {
		t.Errorf("second winner status = %s, want %s", winners[1].Status, BetNeedsManualReview)
	}
	if !network.Balance(winners[1].Participant).IsZero() {
		t.Errorf("flagged bet still received %s", network.Balance(winners[1].Participant))
	}

	// Absorbing: a retry with a sane policy must not pay the flagged bet.
	dist.SetSplitPolicy(EqualSplit)
	if err := dist.DistributeRewards(ctx, "round-1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	round, _ = store.GetRound(ctx, "round-1")
	for _, b := range round.Winners() {
		if b.ID == winners[1].ID && b.Status != BetNeedsManualReview {
			t.Errorf("flagged bet status = %s, want %s", b.Status, BetNeedsManualReview)
		}
	}
}

func TestDistributeRefunds_NoWinnerRound(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	r := &Round{ID: "round-1", ParametersID: "params-1", Status: RoundEnded, CreatedAt: now}
	if err := store.CreateRound(ctx, r); err != nil {
		t.Fatalf("CreateRound() error: %v", err)
	}
	wager := decimal.NewFromInt(25)
	for _, id := range []string{"bet-a", "bet-b"} {
		store.seedBet(&Bet{
			ID: id, RoundID: r.ID, Participant: "owner-" + id,
			Amount: wager, Choice: "12", Status: BetNeedsRefunding, CreatedAt: now,
		})
	}

	network := transfer.NewMemory()
	dist := NewDistributor(store, network, testPayoutConfig())
	if err := dist.DistributeRefunds(ctx, "round-1"); err != nil {
		t.Fatalf("DistributeRefunds() error: %v", err)
	}

	round, _ := store.GetRound(ctx, "round-1")
	if round.Status != RoundNeedsRefund {
		t.Errorf("round status = %s, want %s", round.Status, RoundNeedsRefund)
	}
	for _, b := range round.Bets {
		if b.Status != BetRefunded {
			t.Errorf("bet %s status = %s, want %s", b.ID, b.Status, BetRefunded)
		}
		// Refunds return the exact wager, commission never applies.
		if got := network.Balance(b.Participant); !got.Equal(wager) {
			t.Errorf("bet %s refunded %s, want %s", b.ID, got, wager)
		}
	}

	t.Run("replay refunds nothing twice", func(t *testing.T) {
		if err := dist.DistributeRefunds(ctx, "round-1"); err != nil {
			t.Fatalf("replay: %v", err)
		}
		if got := network.Balance("owner-bet-a"); !got.Equal(wager) {
			t.Errorf("balance after replay = %s, want %s", got, wager)
		}
		if n := store.transferCount("bet-a", TransferRefund); n != 1 {
			t.Errorf("refund log entries = %d, want 1", n)
		}
	})
}
