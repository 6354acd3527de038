package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the safety invariants checked against a live database. Each
// query selects violating rows; an empty result means the invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_conservation",
			SQL: `SELECT s.id, s.total_raised,
                         COALESCE(SUM(i.amount + i.refunded_amount), 0) AS accounted
                  FROM sales s
                  LEFT JOIN investments i ON i.sale_id = s.id
                  GROUP BY s.id, s.total_raised
                  HAVING s.total_raised <> COALESCE(SUM(i.amount + i.refunded_amount), 0)`,
		},
		{
			Name: "O2_hard_cap",
			SQL:  `SELECT id, total_raised, hard_cap FROM sales WHERE total_raised > hard_cap`,
		},
		{
			Name: "O3_seq_gapless",
			SQL: `WITH seqs AS (
                      SELECT sale_id, seq,
                             LAG(seq) OVER (PARTITION BY sale_id ORDER BY seq) AS prev
                      FROM timeline_events)
                  SELECT * FROM seqs
                  WHERE (prev IS NULL AND seq <> 1) OR (prev IS NOT NULL AND seq <> prev + 1)`,
		},
		{
			Name: "O4_milestone_order",
			SQL:  `SELECT id FROM escrows WHERE milestone2_released AND NOT milestone1_released`,
		},
		{
			Name: "O5_payouts_bounded",
			SQL: `SELECT e.id, e.original_deposit, COALESCE(SUM(t.amount), 0) AS paid
                  FROM escrows e
                  JOIN transfers t ON t.sale_id = e.sale_id AND t.kind = 'milestone_payout'
                  GROUP BY e.id, e.original_deposit
                  HAVING COALESCE(SUM(t.amount), 0) > e.original_deposit`,
		},
		{
			Name: "O6_escrow_balance_ledger",
			SQL: `SELECT e.id, e.balance,
                         e.original_deposit - COALESCE(SUM(t.amount), 0) AS expected
                  FROM escrows e
                  LEFT JOIN transfers t ON t.sale_id = e.sale_id AND t.kind = 'milestone_payout'
                  GROUP BY e.id, e.balance, e.original_deposit
                  HAVING e.balance <> e.original_deposit - COALESCE(SUM(t.amount), 0)`,
		},
		{
			Name: "O7_refund_only_after_failure",
			SQL: `SELECT i.sale_id, i.investor_id, i.refunded_amount
                  FROM investments i
                  JOIN sales s ON s.id = i.sale_id
                  WHERE i.refunded_amount > 0 AND s.state <> 'failed'`,
		},
		{
			Name: "O8_escrow_funded_only_on_success",
			SQL: `SELECT e.id, e.original_deposit, s.state
                  FROM escrows e
                  JOIN sales s ON s.id = e.sale_id
                  WHERE e.original_deposit > 0 AND s.state <> 'successful'`,
		},
		{
			Name: "O9_deposit_matches_raise",
			SQL: `SELECT s.id, s.total_raised, e.original_deposit
                  FROM sales s
                  JOIN escrows e ON e.id = s.escrow_id
                  WHERE s.state = 'successful' AND e.original_deposit <> s.total_raised`,
		},
		{
			Name: "O10_refunds_bounded",
			SQL: `SELECT t.sale_id, t.recipient_id, SUM(t.amount) AS refunded
                  FROM transfers t
                  WHERE t.kind = 'refund'
                  GROUP BY t.sale_id, t.recipient_id
                  HAVING SUM(t.amount) > (
                      SELECT COALESCE(i.amount + i.refunded_amount, 0)
                      FROM investments i
                      WHERE i.sale_id = t.sale_id AND i.investor_id = t.recipient_id)`,
		},
		{
			Name: "O11_sale_delete_guard",
			SQL: `SELECT 'missing_no_delete_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'no_delete_sales')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample
// row text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
