package sale

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"launchpad/event"
)

var (
	// ErrDuplicateIdempotencyKey signals a replayed contribution submission.
	ErrDuplicateIdempotencyKey = errors.New("sale: duplicate idempotency key")
	// ErrNotFound is returned when no sale row exists for the identifier.
	ErrNotFound = errors.New("sale: not found")
	// ErrNotAdmin rejects privileged calls from anyone but the founder.
	ErrNotAdmin = errors.New("sale: caller is not the sale admin")
	// ErrInvalidAmount rejects zero or negative contributions.
	ErrInvalidAmount = errors.New("sale: investment must be > 0")
	// ErrNotActive rejects contributions once the sale is terminal.
	ErrNotActive = errors.New("sale: sale is not active")
	// ErrDeadlinePassed rejects contributions at or after the deadline.
	ErrDeadlinePassed = errors.New("sale: sale deadline has passed")
	// ErrHardCapExceeded rejects contributions that would overflow the cap.
	ErrHardCapExceeded = errors.New("sale: would exceed hard cap")
	// ErrAlreadyEnded guards the one-shot finalize.
	ErrAlreadyEnded = errors.New("sale: sale already ended")
	// ErrRefundNotAvailable rejects refunds on non-failed sales.
	ErrRefundNotAvailable = errors.New("sale: refund not available")
	// ErrNoInvestment rejects refunds with nothing recorded to claim.
	ErrNoInvestment = errors.New("sale: no investment to refund")
)

// EscrowDepositor is the single hand-off point into the vault, exercised
// once per successful sale inside the finalize transaction.
type EscrowDepositor interface {
	Deposit(ctx context.Context, tx pgx.Tx, escrowID, saleID string, amount int64) error
}

type PGRepository struct {
	pool    *pgxpool.Pool
	events  *event.Writer
	escrows EscrowDepositor
}

func NewRepository(pool *pgxpool.Pool, events *event.Writer, escrows EscrowDepositor) *PGRepository {
	if events == nil {
		events = event.NewWriter()
	}
	return &PGRepository{pool: pool, events: events, escrows: escrows}
}

// InsertIdempotencyKey reserves the key inside the active transaction.
func (r *PGRepository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("sale: empty idempotency key")
	}

	if _, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("sale: insert idempotency key: %w", err)
	}

	return nil
}

// Invest records one contribution. The sale row lock serialises the cap and
// deadline checks against concurrent contributions; the deadline reads the
// transaction clock exactly once.
func (r *PGRepository) Invest(ctx context.Context, tx pgx.Tx, params InvestRequest) (InvestResult, error) {
	const lockSQL = `
SELECT state::text, hard_cap, total_raised, get_tx_timestamp() >= deadline
FROM sales
WHERE id = $1
FOR UPDATE
`
	var (
		state    State
		hardCap  int64
		raised   int64
		deadline bool
	)
	if err := tx.QueryRow(ctx, lockSQL, params.SaleID).Scan(&state, &hardCap, &raised, &deadline); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InvestResult{}, ErrNotFound
		}
		return InvestResult{}, fmt.Errorf("sale: lock for invest: %w", err)
	}
	if state != StateActive {
		return InvestResult{}, ErrNotActive
	}
	if deadline {
		return InvestResult{}, ErrDeadlinePassed
	}
	if raised+params.Amount > hardCap {
		return InvestResult{}, ErrHardCapExceeded
	}

	const upsertSQL = `
INSERT INTO investments (sale_id, investor_id, amount)
VALUES ($1, $2, $3)
ON CONFLICT (sale_id, investor_id) DO UPDATE
SET amount = investments.amount + EXCLUDED.amount,
    updated_at = get_tx_timestamp()
RETURNING amount
`
	var invested int64
	if err := tx.QueryRow(ctx, upsertSQL, params.SaleID, params.InvestorID, params.Amount).Scan(&invested); err != nil {
		return InvestResult{}, fmt.Errorf("sale: upsert investment: %w", err)
	}

	var newTotal int64
	if err := tx.QueryRow(ctx, `UPDATE sales SET total_raised = total_raised + $2 WHERE id = $1 RETURNING total_raised`,
		params.SaleID, params.Amount).Scan(&newTotal); err != nil {
		return InvestResult{}, fmt.Errorf("sale: bump total raised: %w", err)
	}

	payload := map[string]any{
		"investor":     params.InvestorID,
		"amount":       params.Amount,
		"total_raised": newTotal,
	}
	if err := r.events.Append(ctx, tx, params.SaleID, event.TypeInvested, &params.InvestorID, payload); err != nil {
		return InvestResult{}, err
	}
	if err := r.events.Enqueue(ctx, tx, event.TopicInvested, map[string]any{
		"sale_id":  params.SaleID,
		"investor": params.InvestorID,
		"amount":   params.Amount,
	}); err != nil {
		return InvestResult{}, err
	}

	return InvestResult{
		SaleID:      params.SaleID,
		InvestorID:  params.InvestorID,
		Amount:      params.Amount,
		Invested:    invested,
		TotalRaised: newTotal,
	}, nil
}

// EndSale finalizes the sale exactly once. On success the entire raised
// balance moves into the linked escrow within this same transaction; on
// failure the funds stay with the sale for refunds.
func (r *PGRepository) EndSale(ctx context.Context, tx pgx.Tx, saleID, callerID string) (EndResult, error) {
	const lockSQL = `
SELECT founder_id::text, escrow_id::text, state::text, soft_cap, total_raised
FROM sales
WHERE id = $1
FOR UPDATE
`
	var (
		founderID string
		escrowID  string
		state     State
		softCap   int64
		raised    int64
	)
	if err := tx.QueryRow(ctx, lockSQL, saleID).Scan(&founderID, &escrowID, &state, &softCap, &raised); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EndResult{}, ErrNotFound
		}
		return EndResult{}, fmt.Errorf("sale: lock for end: %w", err)
	}
	if founderID != callerID {
		return EndResult{}, ErrNotAdmin
	}
	if state != StateActive {
		return EndResult{}, ErrAlreadyEnded
	}

	next := StateFailed
	if raised >= softCap {
		next = StateSuccessful
	}

	if _, err := tx.Exec(ctx, `UPDATE sales SET state = $2::sale_state, ended_at = get_tx_timestamp() WHERE id = $1`,
		saleID, string(next)); err != nil {
		return EndResult{}, fmt.Errorf("sale: mark ended: %w", err)
	}

	if next == StateSuccessful && raised > 0 {
		if err := r.escrows.Deposit(ctx, tx, escrowID, saleID, raised); err != nil {
			return EndResult{}, err
		}
	}

	payload := map[string]any{
		"state":        string(next),
		"total_raised": raised,
	}
	if err := r.events.Append(ctx, tx, saleID, event.TypeSaleEnded, &callerID, payload); err != nil {
		return EndResult{}, err
	}
	if err := r.events.Enqueue(ctx, tx, event.TopicSaleEnded, map[string]any{
		"sale_id":      saleID,
		"state":        string(next),
		"total_raised": raised,
	}); err != nil {
		return EndResult{}, err
	}

	return EndResult{SaleID: saleID, State: next, TotalRaised: raised, EscrowID: escrowID}, nil
}

// Refund pays one investor back after a failed sale. The recorded investment
// is zeroed before the transfer row is written, so a replay finds nothing to
// claim. total_raised keeps its historical value.
func (r *PGRepository) Refund(ctx context.Context, tx pgx.Tx, saleID, investorID string) (int64, error) {
	var state State
	if err := tx.QueryRow(ctx, `SELECT state::text FROM sales WHERE id = $1 FOR UPDATE`, saleID).Scan(&state); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("sale: lock for refund: %w", err)
	}
	if state != StateFailed {
		return 0, ErrRefundNotAvailable
	}

	var amount int64
	err := tx.QueryRow(ctx, `SELECT amount FROM investments WHERE sale_id = $1 AND investor_id = $2 FOR UPDATE`,
		saleID, investorID).Scan(&amount)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, ErrNoInvestment
	case err != nil:
		return 0, fmt.Errorf("sale: lock investment: %w", err)
	}
	if amount == 0 {
		return 0, ErrNoInvestment
	}

	const zeroSQL = `
UPDATE investments
SET amount = 0,
    refunded_amount = $3,
    refunded_at = get_tx_timestamp(),
    updated_at = get_tx_timestamp()
WHERE sale_id = $1 AND investor_id = $2
`
	if _, err := tx.Exec(ctx, zeroSQL, saleID, investorID, amount); err != nil {
		return 0, fmt.Errorf("sale: zero investment: %w", err)
	}

	const transferSQL = `
INSERT INTO transfers (sale_id, kind, recipient_id, amount)
VALUES ($1, 'refund', $2, $3)
`
	if _, err := tx.Exec(ctx, transferSQL, saleID, investorID, amount); err != nil {
		return 0, fmt.Errorf("sale: record refund transfer: %w", err)
	}

	payload := map[string]any{
		"investor": investorID,
		"amount":   amount,
	}
	if err := r.events.Append(ctx, tx, saleID, event.TypeRefunded, &investorID, payload); err != nil {
		return 0, err
	}
	if err := r.events.Enqueue(ctx, tx, event.TopicRefunded, map[string]any{
		"sale_id":  saleID,
		"investor": investorID,
		"amount":   amount,
	}); err != nil {
		return 0, err
	}

	return amount, nil
}

// GetInfo returns the public sale read model.
func (r *PGRepository) GetInfo(ctx context.Context, saleID string) (Info, error) {
	const selectSQL = `
SELECT id::text, founder_id::text, escrow_id::text, token_name, token_symbol,
       price, soft_cap, hard_cap, deadline, state::text, total_raised,
       created_at, ended_at
FROM sales
WHERE id = $1
`
	var info Info
	err := r.pool.QueryRow(ctx, selectSQL, saleID).Scan(
		&info.ID,
		&info.FounderID,
		&info.EscrowID,
		&info.TokenName,
		&info.TokenSymbol,
		&info.Price,
		&info.SoftCap,
		&info.HardCap,
		&info.Deadline,
		&info.State,
		&info.TotalRaised,
		&info.CreatedAt,
		&info.EndedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Info{}, ErrNotFound
		}
		return Info{}, fmt.Errorf("sale: get info: %w", err)
	}
	return info, nil
}

// GetInvestment returns one investor's currently recorded contribution.
// A refunded or unknown investor reads as zero.
func (r *PGRepository) GetInvestment(ctx context.Context, saleID, investorID string) (int64, error) {
	var amount int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT amount FROM investments WHERE sale_id = $1 AND investor_id = $2), 0)`,
		saleID, investorID).Scan(&amount)
	if err != nil {
		return 0, fmt.Errorf("sale: get investment: %w", err)
	}
	return amount, nil
}
