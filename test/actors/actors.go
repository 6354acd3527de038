package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"launchpad/escrow"
	"launchpad/sale"
)

// Investor hammers Invest with small random amounts. Cap, deadline and
// state rejections are expected under contention; anything else aborts.
func Investor(ctx context.Context, svc *sale.Service, saleID, investorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		amount := int64(1+rand.Intn(50)) * 10_000_000
		_, err := svc.Invest(ctx, sale.InvestRequest{
			SaleID:     saleID,
			InvestorID: investorID,
			Amount:     amount,
		})
		if err != nil && !expectedInvestErr(err) {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("investor: %w", err)
		}
		time.Sleep(time.Duration(5+rand.Intn(20)) * time.Millisecond)
	}
}

func expectedInvestErr(err error) bool {
	return errors.Is(err, sale.ErrHardCapExceeded) ||
		errors.Is(err, sale.ErrDeadlinePassed) ||
		errors.Is(err, sale.ErrNotActive) ||
		isConnectionNoise(err)
}

// Ender repeatedly tries to finalize the sale. Exactly one attempt may ever
// succeed; every later one must see ErrAlreadyEnded.
func Ender(ctx context.Context, svc *sale.Service, saleID, founderID string, started time.Time, notBefore time.Duration, stop <-chan struct{}) error {
	ended := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if time.Since(started) >= notBefore {
			_, err := svc.EndSale(ctx, saleID, founderID)
			switch {
			case err == nil:
				if ended {
					return fmt.Errorf("ender: sale finalized twice")
				}
				ended = true
			case errors.Is(err, sale.ErrAlreadyEnded) || isConnectionNoise(err):
			case errors.Is(err, context.Canceled):
				return nil
			default:
				return fmt.Errorf("ender: %w", err)
			}
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// Refunder races to claim one investor's refund. At most one attempt can
// return a positive amount; replays must find nothing to claim.
func Refunder(ctx context.Context, svc *sale.Service, saleID, investorID string, stop <-chan struct{}) error {
	claimed := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		amount, err := svc.Refund(ctx, saleID, investorID)
		switch {
		case err == nil:
			if claimed && amount > 0 {
				return fmt.Errorf("refunder: double refund of %d", amount)
			}
			claimed = true
		case errors.Is(err, sale.ErrRefundNotAvailable) ||
			errors.Is(err, sale.ErrNoInvestment) ||
			isConnectionNoise(err):
		case errors.Is(err, context.Canceled):
			return nil
		default:
			return fmt.Errorf("refunder: %w", err)
		}
		time.Sleep(time.Duration(40+rand.Intn(80)) * time.Millisecond)
	}
}

// Releaser races milestone releases in random order. Ordering and one-shot
// violations surface as sentinel rejections, never as double payouts.
func Releaser(ctx context.Context, svc *escrow.Service, escrowID, founderID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		milestone := 1 + rand.Intn(2)
		_, err := svc.ReleaseMilestone(ctx, escrowID, founderID, milestone)
		switch {
		case err == nil:
		case errors.Is(err, escrow.ErrMilestone1Released) ||
			errors.Is(err, escrow.ErrMilestone2Released) ||
			errors.Is(err, escrow.ErrMilestoneOrder) ||
			errors.Is(err, escrow.ErrNoDeposit) ||
			errors.Is(err, escrow.ErrNotLinked) ||
			isConnectionNoise(err):
		case errors.Is(err, context.Canceled):
			return nil
		default:
			return fmt.Errorf("releaser: %w", err)
		}
		time.Sleep(time.Duration(60+rand.Intn(120)) * time.Millisecond)
	}
}

// Reader polls the public read models to keep read traffic mixed in with the
// writers.
func Reader(ctx context.Context, saleSvc *sale.Service, escrowSvc *escrow.Service, saleID, escrowID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := saleSvc.GetSaleInfo(ctx, saleID); err != nil && !isConnectionNoise(err) {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("reader sale: %w", err)
		}
		if _, err := escrowSvc.GetStatus(ctx, escrowID); err != nil && !isConnectionNoise(err) {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("reader escrow: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks
// them processed, with a simulated random failure bumping attempts.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1 WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed' WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}

// isConnectionNoise reports errors caused by the chaos backend killer rather
// than by business logic.
func isConnectionNoise(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, frag := range []string{
		"terminating connection",
		"connection reset",
		"unexpected EOF",
		"conn closed",
		"broken pipe",
		"server closed the connection",
	} {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
