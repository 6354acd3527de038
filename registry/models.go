package registry

import "time"

// CreateParams are the founder-supplied sale economics.
type CreateParams struct {
	TokenName   string
	TokenSymbol string
	Price       int64
	SoftCap     int64
	HardCap     int64
	Duration    time.Duration
}

// Launch identifies a freshly created sale+escrow pair.
type Launch struct {
	SaleID    string
	EscrowID  string
	FounderID string
	Deadline  time.Time
}

// Summary is one registry entry, immutable once appended.
type Summary struct {
	SaleID      string
	EscrowID    string
	FounderID   string
	TokenName   string
	TokenSymbol string
	State       string
	TotalRaised int64
	CreatedAt   time.Time
}
