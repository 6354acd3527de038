package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func validParams() CreateParams {
	return CreateParams{
		TokenName:   "MyToken",
		TokenSymbol: "MTK",
		Price:       100,
		SoftCap:     1_000_000_000,
		HardCap:     10_000_000_000,
		Duration:    time.Hour,
	}
}

func TestCreateSale_Success(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(pool, repo).WithClock(func() time.Time { return base })

	launch, err := svc.CreateSale(context.Background(), "founder-1", validParams())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if launch.SaleID != "sale-1" || launch.EscrowID != "escrow-1" {
		t.Errorf("unexpected launch ids: %+v", launch)
	}

	if !launch.Deadline.Equal(base.Add(time.Hour)) {
		t.Errorf("expected deadline %v, got %v", base.Add(time.Hour), launch.Deadline)
	}

	if repo.linkedEscrow != "escrow-1" || repo.linkedSale != "sale-1" {
		t.Errorf("expected escrow linked to sale, got escrow=%q sale=%q", repo.linkedEscrow, repo.linkedSale)
	}

	if !repo.launchRecorded {
		t.Errorf("expected launch event to be recorded")
	}

	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
}

func TestCreateSale_Validation(t *testing.T) {
	pool := &fakePool{}
	svc := NewService(pool, &fakeRepo{})

	cases := []struct {
		name   string
		mutate func(*CreateParams)
		want   error
	}{
		{"zero price", func(p *CreateParams) { p.Price = 0 }, ErrInvalidPrice},
		{"negative price", func(p *CreateParams) { p.Price = -5 }, ErrInvalidPrice},
		{"zero duration", func(p *CreateParams) { p.Duration = 0 }, ErrInvalidDuration},
		{"zero soft cap", func(p *CreateParams) { p.SoftCap = 0 }, ErrInvalidSoftCap},
		{"hard cap below soft cap", func(p *CreateParams) { p.HardCap = p.SoftCap - 1 }, ErrInvalidCaps},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := validParams()
			tc.mutate(&params)
			if _, err := svc.CreateSale(context.Background(), "founder-1", params); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if pool.tx != nil {
		t.Errorf("expected no transaction for rejected parameters")
	}
}

func TestCreateSale_EqualCapsAllowed(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{}
	svc := NewService(pool, repo)

	params := validParams()
	params.HardCap = params.SoftCap

	if _, err := svc.CreateSale(context.Background(), "founder-1", params); err != nil {
		t.Fatalf("expected equal caps to be accepted, got %v", err)
	}
}

func TestCreateSale_LinkFailureRollsBack(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{linkErr: ErrAlreadyLinked}
	svc := NewService(pool, repo)

	if _, err := svc.CreateSale(context.Background(), "founder-1", validParams()); !errors.Is(err, ErrAlreadyLinked) {
		t.Fatalf("expected ErrAlreadyLinked, got %v", err)
	}

	if pool.tx.committed {
		t.Errorf("expected commit to be skipped on link failure")
	}

	if !pool.tx.rolled {
		t.Errorf("expected rollback to be called")
	}

	if repo.launchRecorded {
		t.Errorf("expected launch event to be skipped on link failure")
	}
}

func TestGetSalesByFounder_RequiresID(t *testing.T) {
	svc := NewService(&fakePool{}, &fakeRepo{})
	if _, err := svc.GetSalesByFounder(context.Background(), ""); err == nil {
		t.Fatalf("expected error for missing founder id")
	}
}

type fakeRepo struct {
	linkErr        error
	linkedEscrow   string
	linkedSale     string
	launchRecorded bool
}

func (f *fakeRepo) CreateEscrow(ctx context.Context, tx pgx.Tx, founderID string) (string, error) {
	return "escrow-1", nil
}

func (f *fakeRepo) CreateSale(ctx context.Context, tx pgx.Tx, founderID, escrowID string, params CreateParams, deadline time.Time) (string, error) {
	return "sale-1", nil
}

func (f *fakeRepo) LinkEscrow(ctx context.Context, tx pgx.Tx, escrowID, saleID string) error {
	if f.linkErr != nil {
		return f.linkErr
	}
	f.linkedEscrow = escrowID
	f.linkedSale = saleID
	return nil
}

func (f *fakeRepo) RecordLaunch(ctx context.Context, tx pgx.Tx, launch Launch, params CreateParams) error {
	f.launchRecorded = true
	return nil
}

func (f *fakeRepo) GetAllSales(ctx context.Context) ([]Summary, error) {
	return nil, nil
}

func (f *fakeRepo) GetSalesByFounder(ctx context.Context, founderID string) ([]Summary, error) {
	return nil, nil
}

func (f *fakeRepo) SaleToEscrow(ctx context.Context, saleID string) (string, error) {
	return "escrow-1", nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
