package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"typerace/internal/game"
)

// Store implements game.Store against Postgres. Round status changes go
// through a single conditional UPDATE keyed on the expected prior status;
// the affected-row count is the compare-and-swap result the whole state
// machine relies on.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func transferTable(kind game.TransferKind) string {
	if kind == game.TransferRefund {
		return "refund_logs"
	}
	return "transaction_logs"
}

func (s *Store) CreateParameters(ctx context.Context, p *game.RoundParameters) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO round_parameters (id, label, character_set, choice_length, allow_repeats, wager_amount, min_participants, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Label, p.CharacterSet, p.ChoiceLength, p.AllowRepeats, p.WagerAmount, p.MinParticipants, p.Active, p.CreatedAt)
	return err
}

func (s *Store) GetParameters(ctx context.Context, id string) (*game.RoundParameters, error) {
	var p game.RoundParameters
	err := s.db.QueryRowContext(ctx, `
		SELECT id, label, character_set, choice_length, allow_repeats, wager_amount, min_participants, active, created_at
		FROM round_parameters WHERE id = $1`, id).
		Scan(&p.ID, &p.Label, &p.CharacterSet, &p.ChoiceLength, &p.AllowRepeats, &p.WagerAmount, &p.MinParticipants, &p.Active, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, game.ErrParametersNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListActiveParameters(ctx context.Context) ([]*game.RoundParameters, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label, character_set, choice_length, allow_repeats, wager_amount, min_participants, active, created_at
		FROM round_parameters WHERE active ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*game.RoundParameters
	for rows.Next() {
		var p game.RoundParameters
		if err := rows.Scan(&p.ID, &p.Label, &p.CharacterSet, &p.ChoiceLength, &p.AllowRepeats, &p.WagerAmount, &p.MinParticipants, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) CreateRound(ctx context.Context, r *game.Round) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rounds (id, parameters_id, status, server_seed, commitment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.ParametersID, r.Status, r.ServerSeed, r.Commitment, r.CreatedAt)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO round_status_log (round_id, from_status, to_status, changed_at)
		VALUES ($1, '', $2, $3)`, r.ID, r.Status, r.CreatedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetRound(ctx context.Context, id string) (*game.Round, error) {
	var r game.Round
	var winning sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, parameters_id, status, winning_choice, server_seed, commitment, created_at, started_at, ended_at
		FROM rounds WHERE id = $1`, id).
		Scan(&r.ID, &r.ParametersID, &r.Status, &winning, &r.ServerSeed, &r.Commitment, &r.CreatedAt, &r.StartedAt, &r.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, game.ErrRoundNotFound
	}
	if err != nil {
		return nil, err
	}
	r.WinningChoice = winning.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, round_id, participant, amount, choice, payment_ref, status, won, created_at
		FROM bets WHERE round_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var b game.Bet
		var ref sql.NullString
		if err := rows.Scan(&b.ID, &b.RoundID, &b.Participant, &b.Amount, &b.Choice, &ref, &b.Status, &b.Won, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.PaymentRef = ref.String
		r.Bets = append(r.Bets, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	logRows, err := s.db.QueryContext(ctx, `
		SELECT round_id, from_status, to_status, changed_at
		FROM round_status_log WHERE round_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer logRows.Close()
	for logRows.Next() {
		var c game.StatusChange
		if err := logRows.Scan(&c.RoundID, &c.From, &c.To, &c.At); err != nil {
			return nil, err
		}
		r.StatusLog = append(r.StatusLog, c)
	}
	return &r, logRows.Err()
}

func (s *Store) OpenRoundExists(ctx context.Context, parametersID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM rounds
			WHERE parameters_id = $1
			AND status NOT IN ($2, $3, $4)
		)`, parametersID, game.RoundRewardCompleted, game.RoundNeedsRefund, game.RoundNotEnoughPlayers).
		Scan(&exists)
	return exists, err
}

func (s *Store) UpdateRoundStatus(ctx context.Context, roundID string, from, to game.RoundStatus, at time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	query := `UPDATE rounds SET status = $1 WHERE id = $2 AND status = $3`
	switch to {
	case game.RoundStarted:
		query = `UPDATE rounds SET status = $1, started_at = $4 WHERE id = $2 AND status = $3`
	case game.RoundEnded:
		query = `UPDATE rounds SET status = $1, ended_at = $4 WHERE id = $2 AND status = $3`
	}
	var res sql.Result
	if to == game.RoundStarted || to == game.RoundEnded {
		res, err = tx.ExecContext(ctx, query, to, roundID, from, at)
	} else {
		res, err = tx.ExecContext(ctx, query, to, roundID, from)
	}
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO round_status_log (round_id, from_status, to_status, changed_at)
		VALUES ($1, $2, $3, $4)`, roundID, from, to, at)
	if err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *Store) SetWinningChoice(ctx context.Context, roundID, choice string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rounds SET winning_choice = $1 WHERE id = $2`, choice, roundID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return game.ErrRoundNotFound
	}
	return nil
}

func (s *Store) ListRoundsByStatus(ctx context.Context, status game.RoundStatus, createdAfter time.Time) ([]*game.Round, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parameters_id, status, winning_choice, server_seed, commitment, created_at, started_at, ended_at
		FROM rounds WHERE status = $1 AND created_at > $2 ORDER BY created_at`, status, createdAfter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRounds(rows)
}

func (s *Store) ListWaitingRoundsOlderThan(ctx context.Context, cutoff time.Time) ([]*game.Round, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parameters_id, status, winning_choice, server_seed, commitment, created_at, started_at, ended_at
		FROM rounds WHERE status = $1 AND created_at < $2 ORDER BY created_at`, game.RoundWaitingBets, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRounds(rows)
}

func scanRounds(rows *sql.Rows) ([]*game.Round, error) {
	var out []*game.Round
	for rows.Next() {
		var r game.Round
		var winning sql.NullString
		if err := rows.Scan(&r.ID, &r.ParametersID, &r.Status, &winning, &r.ServerSeed, &r.Commitment, &r.CreatedAt, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, err
		}
		r.WinningChoice = winning.String
		out = append(out, &r)
	}
	return out, rows.Err()
}

// InsertBet commits the bet only while its round is still in WaitingBets.
// The FOR SHARE lock on the round row serializes the insert against the
// start transition, so a bet can never land unseen between the round's last
// snapshot and its status flip.
func (s *Store) InsertBet(ctx context.Context, b *game.Bet) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO bets (id, round_id, participant, amount, choice, payment_ref, status, won, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
		FROM rounds WHERE id = $2 AND status = $10
		FOR SHARE`,
		b.ID, b.RoundID, b.Participant, b.Amount, b.Choice, b.PaymentRef, b.Status, b.Won, b.CreatedAt,
		game.RoundWaitingBets)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) UpdateBetStatus(ctx context.Context, betID string, from, to game.BetStatus) (bool, error) {
	if !game.CanProgress(from, to) {
		return false, fmt.Errorf("bet status cannot move %s -> %s", from, to)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE bets SET status = $1 WHERE id = $2 AND status = $3`, to, betID, from)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) MarkBetsWon(ctx context.Context, roundID string, betIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range betIDs {
		_, err := tx.ExecContext(ctx, `
			UPDATE bets SET won = TRUE, status = $1
			WHERE id = $2 AND round_id = $3 AND status = $4`,
			game.BetNeedsRewarding, id, roundID, game.BetPlaced)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListBetsByStatus(ctx context.Context, roundID string, status game.BetStatus) ([]*game.Bet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, round_id, participant, amount, choice, payment_ref, status, won, created_at
		FROM bets WHERE round_id = $1 AND status = $2 ORDER BY created_at, id`, roundID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBets(rows)
}

func (s *Store) ListRefundableBets(ctx context.Context) ([]*game.Bet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.round_id, b.participant, b.amount, b.choice, b.payment_ref, b.status, b.won, b.created_at
		FROM bets b
		JOIN rounds r ON r.id = b.round_id
		WHERE b.status = $1 AND r.status IN ($2, $3, $4)
		ORDER BY b.created_at, b.id`,
		game.BetNeedsRefunding, game.RoundNeedsRefund, game.RoundRefundInProgress, game.RoundNotEnoughPlayers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBets(rows)
}

func scanBets(rows *sql.Rows) ([]*game.Bet, error) {
	var out []*game.Bet
	for rows.Next() {
		var b game.Bet
		var ref sql.NullString
		if err := rows.Scan(&b.ID, &b.RoundID, &b.Participant, &b.Amount, &b.Choice, &ref, &b.Status, &b.Won, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.PaymentRef = ref.String
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *Store) LastSuccessfulTransfer(ctx context.Context, betID string, kind game.TransferKind) (*game.TransferRecord, error) {
	var rec game.TransferRecord
	var sig, detail sql.NullString
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, bet_id, amount, reference, signature, success, detail, created_at
		FROM %s WHERE bet_id = $1 AND success ORDER BY id DESC LIMIT 1`, transferTable(kind)), betID).
		Scan(&rec.ID, &rec.BetID, &rec.Amount, &rec.Reference, &sig, &rec.Success, &detail, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Kind = kind
	rec.Signature = sig.String
	rec.Detail = detail.String
	return &rec, nil
}

func (s *Store) AppendTransfer(ctx context.Context, rec *game.TransferRecord) error {
	return s.db.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (bet_id, amount, reference, signature, success, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`, transferTable(rec.Kind)),
		rec.BetID, rec.Amount, rec.Reference, rec.Signature, rec.Success, rec.Detail, rec.CreatedAt).
		Scan(&rec.ID)
}
