package sale

import "time"

// State is the sale lifecycle. ACTIVE is initial; SUCCESSFUL and FAILED are
// terminal and mutually exclusive.
type State string

const (
	StateActive     State = "active"
	StateSuccessful State = "successful"
	StateFailed     State = "failed"
)

// Info is the public read model of one sale.
type Info struct {
	ID          string
	FounderID   string
	EscrowID    string
	TokenName   string
	TokenSymbol string
	Price       int64
	SoftCap     int64
	HardCap     int64
	Deadline    time.Time
	State       State
	TotalRaised int64
	CreatedAt   time.Time
	EndedAt     *time.Time
}

// InvestRequest carries one contribution attempt. IdempotencyKey is optional;
// when set, a replayed key is a recorded no-op.
type InvestRequest struct {
	SaleID         string
	InvestorID     string
	Amount         int64
	IdempotencyKey string
}

// InvestResult reports the ledger after a successful contribution.
type InvestResult struct {
	SaleID      string
	InvestorID  string
	Amount      int64
	Invested    int64
	TotalRaised int64
	Replayed    bool
}

// EndResult reports the finalize decision.
type EndResult struct {
	SaleID      string
	State       State
	TotalRaised int64
	EscrowID    string
}
