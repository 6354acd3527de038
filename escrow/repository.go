package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"launchpad/event"
)

var (
	// ErrNotFound is returned when no escrow row exists for the identifier.
	ErrNotFound = errors.New("escrow: not found")
	// ErrNotAdmin rejects milestone releases from anyone but the founder.
	ErrNotAdmin = errors.New("escrow: caller is not the escrow admin")
	// ErrNotLinkedSale rejects deposits from anything but the linked sale.
	ErrNotLinkedSale = errors.New("escrow: caller is not the linked token sale")
	// ErrNotLinked means the two-phase construction never completed.
	ErrNotLinked = errors.New("escrow: not linked to a sale")
	// ErrNoDeposit rejects milestone releases before any sale proceeds arrive.
	ErrNoDeposit = errors.New("escrow: nothing deposited")
	// ErrMilestone1Released guards against double-release of milestone 1.
	ErrMilestone1Released = errors.New("escrow: milestone 1 already released")
	// ErrMilestone2Released guards against double-release of milestone 2.
	ErrMilestone2Released = errors.New("escrow: milestone 2 already released")
	// ErrMilestoneOrder enforces the 1-before-2 ordering.
	ErrMilestoneOrder = errors.New("escrow: must release milestone 1 first")
)

type PGRepository struct {
	pool   *pgxpool.Pool
	events *event.Writer
}

func NewRepository(pool *pgxpool.Pool, events *event.Writer) *PGRepository {
	if events == nil {
		events = event.NewWriter()
	}
	return &PGRepository{pool: pool, events: events}
}

// Deposit credits the vault inside the caller's transaction. Only the sale
// recorded by the linking step may deposit; an unlinked escrow rejects all
// callers. The deposited amount becomes the milestone-1 basis.
func (r *PGRepository) Deposit(ctx context.Context, tx pgx.Tx, escrowID, saleID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("escrow: deposit must be > 0")
	}

	var linkedSale *string
	if err := tx.QueryRow(ctx, `SELECT sale_id FROM escrows WHERE id = $1 FOR UPDATE`, escrowID).Scan(&linkedSale); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("escrow: lock for deposit: %w", err)
	}
	if linkedSale == nil || *linkedSale != saleID {
		return ErrNotLinkedSale
	}

	const updateSQL = `
UPDATE escrows
SET balance = balance + $2,
    original_deposit = original_deposit + $2
WHERE id = $1
`
	if _, err := tx.Exec(ctx, updateSQL, escrowID, amount); err != nil {
		return fmt.Errorf("escrow: credit deposit: %w", err)
	}

	const transferSQL = `
INSERT INTO transfers (sale_id, kind, recipient_id, amount)
VALUES ($1, 'escrow_deposit', NULL, $2)
`
	if _, err := tx.Exec(ctx, transferSQL, saleID, amount); err != nil {
		return fmt.Errorf("escrow: record deposit transfer: %w", err)
	}

	return nil
}

// ReleaseMilestone pays the founder inside the caller's transaction.
// Milestone 1 pays floor(originalDeposit/2); milestone 2 drains whatever
// balance remains. Flags flip before the transfer row is written so a
// re-entrant release trips the precondition checks.
func (r *PGRepository) ReleaseMilestone(ctx context.Context, tx pgx.Tx, escrowID, callerID string, milestone int) (Release, error) {
	const lockSQL = `
SELECT founder_id::text, sale_id::text, balance, original_deposit, milestone1_released, milestone2_released
FROM escrows
WHERE id = $1
FOR UPDATE
`
	var (
		founderID string
		saleID    *string
		balance   int64
		deposit   int64
		m1, m2    bool
	)
	if err := tx.QueryRow(ctx, lockSQL, escrowID).Scan(&founderID, &saleID, &balance, &deposit, &m1, &m2); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Release{}, ErrNotFound
		}
		return Release{}, fmt.Errorf("escrow: lock for release: %w", err)
	}
	if founderID != callerID {
		return Release{}, ErrNotAdmin
	}
	if saleID == nil {
		return Release{}, ErrNotLinked
	}
	if deposit == 0 {
		return Release{}, ErrNoDeposit
	}

	var payout int64
	switch milestone {
	case 1:
		if m1 {
			return Release{}, ErrMilestone1Released
		}
		payout = deposit / 2
	case 2:
		if !m1 {
			return Release{}, ErrMilestoneOrder
		}
		if m2 {
			return Release{}, ErrMilestone2Released
		}
		payout = balance
	default:
		return Release{}, fmt.Errorf("escrow: milestone number must be 1 or 2")
	}

	const updateSQL = `
UPDATE escrows
SET balance = balance - $2,
    milestone1_released = milestone1_released OR $3,
    milestone2_released = milestone2_released OR $4
WHERE id = $1
RETURNING balance
`
	var remaining int64
	if err := tx.QueryRow(ctx, updateSQL, escrowID, payout, milestone == 1, milestone == 2).Scan(&remaining); err != nil {
		return Release{}, fmt.Errorf("escrow: apply release: %w", err)
	}

	const transferSQL = `
INSERT INTO transfers (sale_id, kind, recipient_id, amount)
VALUES ($1, 'milestone_payout', $2, $3)
`
	if _, err := tx.Exec(ctx, transferSQL, *saleID, founderID, payout); err != nil {
		return Release{}, fmt.Errorf("escrow: record payout transfer: %w", err)
	}

	rel := Release{
		EscrowID:  escrowID,
		SaleID:    *saleID,
		Milestone: milestone,
		Amount:    payout,
		FounderID: founderID,
		Balance:   remaining,
	}

	payload := map[string]any{
		"escrow_id": escrowID,
		"milestone": milestone,
		"amount":    payout,
		"founder":   founderID,
	}
	if err := r.events.Append(ctx, tx, *saleID, event.TypeMilestoneReleased, &callerID, payload); err != nil {
		return Release{}, err
	}
	if err := r.events.Enqueue(ctx, tx, event.TopicMilestoneReleased, payload); err != nil {
		return Release{}, err
	}

	return rel, nil
}

// GetStatus returns the current vault state.
func (r *PGRepository) GetStatus(ctx context.Context, escrowID string) (Status, error) {
	const selectSQL = `
SELECT id::text, founder_id::text, sale_id::text, balance, original_deposit,
       milestone1_released, milestone2_released, created_at
FROM escrows
WHERE id = $1
`
	var st Status
	err := r.pool.QueryRow(ctx, selectSQL, escrowID).Scan(
		&st.ID,
		&st.FounderID,
		&st.SaleID,
		&st.Balance,
		&st.OriginalDeposit,
		&st.Milestone1Released,
		&st.Milestone2Released,
		&st.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Status{}, ErrNotFound
		}
		return Status{}, fmt.Errorf("escrow: get status: %w", err)
	}
	return st, nil
}
