package escrow

import "time"

// Status mirrors the escrows table columns exposed to readers.
type Status struct {
	ID                 string
	FounderID          string
	SaleID             *string
	Balance            int64
	OriginalDeposit    int64
	Milestone1Released bool
	Milestone2Released bool
	CreatedAt          time.Time
}

// Release reports a completed milestone payout.
type Release struct {
	EscrowID  string
	SaleID    string
	Milestone int
	Amount    int64
	FounderID string
	Balance   int64
}
