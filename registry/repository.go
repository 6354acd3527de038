package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"launchpad/event"
)

var (
	// ErrSaleNotFound is returned by lookups for unknown sale ids.
	ErrSaleNotFound = errors.New("registry: sale not found")
	// ErrAlreadyLinked means the escrow's depositor was set twice.
	ErrAlreadyLinked = errors.New("registry: escrow already linked")
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

// CreateEscrow inserts the vault half of the pair. The sale link stays NULL
// until LinkEscrow runs, and the vault rejects deposits until then. IDs are
// generated here so the caller can reference them before commit.
func (r *PGRepository) CreateEscrow(ctx context.Context, tx pgx.Tx, founderID string) (string, error) {
	id := uuid.New().String()
	if _, err := tx.Exec(ctx, `INSERT INTO escrows (id, founder_id) VALUES ($1, $2)`, id, founderID); err != nil {
		return "", fmt.Errorf("registry: insert escrow: %w", err)
	}
	return id, nil
}

// CreateSale appends the sale half, referencing its escrow.
func (r *PGRepository) CreateSale(ctx context.Context, tx pgx.Tx, founderID, escrowID string, params CreateParams, deadline time.Time) (string, error) {
	const insertSQL = `
INSERT INTO sales (id, founder_id, escrow_id, token_name, token_symbol, price, soft_cap, hard_cap, deadline)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	id := uuid.New().String()
	_, err := tx.Exec(ctx, insertSQL,
		id,
		founderID,
		escrowID,
		params.TokenName,
		params.TokenSymbol,
		params.Price,
		params.SoftCap,
		params.HardCap,
		deadline,
	)
	if err != nil {
		return "", fmt.Errorf("registry: insert sale: %w", err)
	}
	return id, nil
}

// LinkEscrow records the sale as the escrow's sole authorized depositor.
func (r *PGRepository) LinkEscrow(ctx context.Context, tx pgx.Tx, escrowID, saleID string) error {
	tag, err := tx.Exec(ctx, `UPDATE escrows SET sale_id = $2 WHERE id = $1 AND sale_id IS NULL`, escrowID, saleID)
	if err != nil {
		return fmt.Errorf("registry: link escrow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyLinked
	}
	return nil
}

// RecordLaunch appends the launch notification for dashboards. It is the
// first event on the sale's timeline.
func (r *PGRepository) RecordLaunch(ctx context.Context, tx pgx.Tx, launch Launch, params CreateParams) error {
	payload := map[string]any{
		"founder":      launch.FounderID,
		"sale_id":      launch.SaleID,
		"escrow_id":    launch.EscrowID,
		"token_symbol": params.TokenSymbol,
		"soft_cap":     params.SoftCap,
		"hard_cap":     params.HardCap,
		"deadline":     launch.Deadline.UTC(),
	}
	if err := r.events.Append(ctx, tx, launch.SaleID, event.TypeSaleLaunched, &launch.FounderID, payload); err != nil {
		return err
	}
	return r.events.Enqueue(ctx, tx, event.TopicSaleLaunched, map[string]any{
		"founder":   launch.FounderID,
		"sale_id":   launch.SaleID,
		"escrow_id": launch.EscrowID,
	})
}

// GetAllSales lists every registry entry in creation order.
func (r *PGRepository) GetAllSales(ctx context.Context) ([]Summary, error) {
	return r.list(ctx, `
SELECT id::text, escrow_id::text, founder_id::text, token_name, token_symbol, state::text, total_raised, created_at
FROM sales
ORDER BY created_at ASC, id ASC
`)
}

// GetSalesByFounder lists one founder's entries in creation order.
func (r *PGRepository) GetSalesByFounder(ctx context.Context, founderID string) ([]Summary, error) {
	return r.list(ctx, `
SELECT id::text, escrow_id::text, founder_id::text, token_name, token_symbol, state::text, total_raised, created_at
FROM sales
WHERE founder_id = $1
ORDER BY created_at ASC, id ASC
`, founderID)
}

// SaleToEscrow resolves the escrow linked to a sale.
func (r *PGRepository) SaleToEscrow(ctx context.Context, saleID string) (string, error) {
	var escrowID string
	err := r.pool.QueryRow(ctx, `SELECT escrow_id::text FROM sales WHERE id = $1`, saleID).Scan(&escrowID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrSaleNotFound
		}
		return "", fmt.Errorf("registry: sale to escrow: %w", err)
	}
	return escrowID, nil
}

func (r *PGRepository) list(ctx context.Context, query string, args ...any) ([]Summary, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("registry: list sales: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.SaleID, &s.EscrowID, &s.FounderID, &s.TokenName, &s.TokenSymbol, &s.State, &s.TotalRaised, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("registry: scan sale: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterate sales: %w", err)
	}
	return out, nil
}
