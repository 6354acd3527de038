package escrow

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	ReleaseMilestone(ctx context.Context, tx pgx.Tx, escrowID, callerID string, milestone int) (Release, error)
	GetStatus(ctx context.Context, escrowID string) (Status, error)
}

// Service exposes the founder-facing vault operations.
type Service struct {
	pool TxBeginner
	repo Repository
}

func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{pool: pool, repo: repo}
}

// ReleaseMilestone pays out milestone n to the founder. Milestone 2 requires
// milestone 1; both are one-shot.
func (s *Service) ReleaseMilestone(ctx context.Context, escrowID, callerID string, milestone int) (Release, error) {
	if escrowID == "" {
		return Release{}, fmt.Errorf("escrow: missing escrow id")
	}
	if callerID == "" {
		return Release{}, fmt.Errorf("escrow: missing caller id")
	}
	if milestone != 1 && milestone != 2 {
		return Release{}, fmt.Errorf("escrow: milestone number must be 1 or 2")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Release{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rel, err := s.repo.ReleaseMilestone(ctx, tx, escrowID, callerID, milestone)
	if err != nil {
		return Release{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Release{}, fmt.Errorf("escrow: commit release: %w", err)
	}

	return rel, nil
}

// GetStatus returns balance and milestone flags.
func (s *Service) GetStatus(ctx context.Context, escrowID string) (Status, error) {
	return s.repo.GetStatus(ctx, escrowID)
}
