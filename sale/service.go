package sale

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
	Invest(ctx context.Context, tx pgx.Tx, params InvestRequest) (InvestResult, error)
	EndSale(ctx context.Context, tx pgx.Tx, saleID, callerID string) (EndResult, error)
	Refund(ctx context.Context, tx pgx.Tx, saleID, investorID string) (int64, error)
	GetInfo(ctx context.Context, saleID string) (Info, error)
	GetInvestment(ctx context.Context, saleID, investorID string) (int64, error)
}

// Service drives the sale state machine. Every mutation runs in a single
// transaction so a failed precondition leaves no partial effect.
type Service struct {
	pool TxBeginner
	repo Repository
}

func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{pool: pool, repo: repo}
}

// Invest records a contribution while the sale is active. Repeated calls by
// the same investor accumulate. A duplicate idempotency key is a no-op.
func (s *Service) Invest(ctx context.Context, req InvestRequest) (InvestResult, error) {
	if req.SaleID == "" {
		return InvestResult{}, fmt.Errorf("sale: missing sale id")
	}
	if req.InvestorID == "" {
		return InvestResult{}, fmt.Errorf("sale: missing investor id")
	}
	if req.Amount <= 0 {
		return InvestResult{}, ErrInvalidAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return InvestResult{}, fmt.Errorf("sale: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if req.IdempotencyKey != "" {
		if err := s.repo.InsertIdempotencyKey(ctx, tx, req.IdempotencyKey); err != nil {
			if errors.Is(err, ErrDuplicateIdempotencyKey) {
				return InvestResult{SaleID: req.SaleID, InvestorID: req.InvestorID, Replayed: true}, nil
			}
			return InvestResult{}, err
		}
	}

	res, err := s.repo.Invest(ctx, tx, req)
	if err != nil {
		return InvestResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return InvestResult{}, fmt.Errorf("sale: commit invest: %w", err)
	}

	return res, nil
}

// EndSale finalizes the sale: SUCCESSFUL when the soft cap was met (raised
// funds move to escrow), FAILED otherwise. Founder-only, exactly once.
func (s *Service) EndSale(ctx context.Context, saleID, callerID string) (EndResult, error) {
	if saleID == "" {
		return EndResult{}, fmt.Errorf("sale: missing sale id")
	}
	if callerID == "" {
		return EndResult{}, fmt.Errorf("sale: missing caller id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return EndResult{}, fmt.Errorf("sale: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	res, err := s.repo.EndSale(ctx, tx, saleID, callerID)
	if err != nil {
		return EndResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return EndResult{}, fmt.Errorf("sale: commit end: %w", err)
	}

	return res, nil
}

// Refund returns a failed sale's recorded contribution to the caller.
func (s *Service) Refund(ctx context.Context, saleID, investorID string) (int64, error) {
	if saleID == "" {
		return 0, fmt.Errorf("sale: missing sale id")
	}
	if investorID == "" {
		return 0, fmt.Errorf("sale: missing investor id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("sale: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	amount, err := s.repo.Refund(ctx, tx, saleID, investorID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("sale: commit refund: %w", err)
	}

	return amount, nil
}

// GetSaleInfo returns the public sale parameters and ledger. No auth.
func (s *Service) GetSaleInfo(ctx context.Context, saleID string) (Info, error) {
	return s.repo.GetInfo(ctx, saleID)
}

// GetInvestment returns one investor's recorded contribution.
func (s *Service) GetInvestment(ctx context.Context, saleID, investorID string) (int64, error) {
	return s.repo.GetInvestment(ctx, saleID, investorID)
}
