package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrInvalidPrice rejects non-positive unit prices.
	ErrInvalidPrice = errors.New("registry: price must be > 0")
	// ErrInvalidDuration rejects non-positive sale durations.
	ErrInvalidDuration = errors.New("registry: duration must be > 0")
	// ErrInvalidSoftCap rejects sales that could never succeed.
	ErrInvalidSoftCap = errors.New("registry: soft cap must be > 0")
	// ErrInvalidCaps rejects a hard cap below the soft cap.
	ErrInvalidCaps = errors.New("registry: hard cap must be >= soft cap")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the factory.
type Repository interface {
	CreateEscrow(ctx context.Context, tx pgx.Tx, founderID string) (string, error)
	CreateSale(ctx context.Context, tx pgx.Tx, founderID, escrowID string, params CreateParams, deadline time.Time) (string, error)
	LinkEscrow(ctx context.Context, tx pgx.Tx, escrowID, saleID string) error
	RecordLaunch(ctx context.Context, tx pgx.Tx, launch Launch, params CreateParams) error
	GetAllSales(ctx context.Context) ([]Summary, error)
	GetSalesByFounder(ctx context.Context, founderID string) ([]Summary, error)
	SaleToEscrow(ctx context.Context, saleID string) (string, error)
}

// Service is the factory: it creates linked sale+escrow pairs and keeps the
// queryable index. It performs no fund transfers.
type Service struct {
	pool TxBeginner
	repo Repository
	now  func() time.Time
}

func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{
		pool: pool,
		repo: repo,
		now:  time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateSale instantiates the escrow, then the sale referencing it, then
// links the escrow's authorized depositor — all in one transaction. The
// caller becomes the founder/admin of both instances.
func (s *Service) CreateSale(ctx context.Context, founderID string, params CreateParams) (Launch, error) {
	if founderID == "" {
		return Launch{}, fmt.Errorf("registry: missing founder id")
	}
	if params.TokenName == "" || params.TokenSymbol == "" {
		return Launch{}, fmt.Errorf("registry: token name and symbol required")
	}
	if params.Price <= 0 {
		return Launch{}, ErrInvalidPrice
	}
	if params.Duration <= 0 {
		return Launch{}, ErrInvalidDuration
	}
	if params.SoftCap <= 0 {
		return Launch{}, ErrInvalidSoftCap
	}
	if params.HardCap < params.SoftCap {
		return Launch{}, ErrInvalidCaps
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Launch{}, fmt.Errorf("registry: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	deadline := s.now().Add(params.Duration)

	escrowID, err := s.repo.CreateEscrow(ctx, tx, founderID)
	if err != nil {
		return Launch{}, err
	}

	saleID, err := s.repo.CreateSale(ctx, tx, founderID, escrowID, params, deadline)
	if err != nil {
		return Launch{}, err
	}

	if err := s.repo.LinkEscrow(ctx, tx, escrowID, saleID); err != nil {
		return Launch{}, err
	}

	launch := Launch{
		SaleID:    saleID,
		EscrowID:  escrowID,
		FounderID: founderID,
		Deadline:  deadline,
	}

	if err := s.repo.RecordLaunch(ctx, tx, launch, params); err != nil {
		return Launch{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Launch{}, fmt.Errorf("registry: commit launch: %w", err)
	}

	return launch, nil
}

// GetAllSales returns every launched sale in creation order.
func (s *Service) GetAllSales(ctx context.Context) ([]Summary, error) {
	return s.repo.GetAllSales(ctx)
}

// GetSalesByFounder returns one founder's sales in creation order.
func (s *Service) GetSalesByFounder(ctx context.Context, founderID string) ([]Summary, error) {
	if founderID == "" {
		return nil, fmt.Errorf("registry: missing founder id")
	}
	return s.repo.GetSalesByFounder(ctx, founderID)
}

// SaleToEscrow resolves a sale's linked escrow.
func (s *Service) SaleToEscrow(ctx context.Context, saleID string) (string, error) {
	if saleID == "" {
		return "", fmt.Errorf("registry: missing sale id")
	}
	return s.repo.SaleToEscrow(ctx, saleID)
}
