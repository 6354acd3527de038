package main

// Wire types for the JSON API. Amounts are int64 base units.

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type createSaleRequest struct {
	TokenName       string `json:"tokenName"`
	TokenSymbol     string `json:"tokenSymbol"`
	Price           int64  `json:"price"`
	SoftCap         int64  `json:"softCap"`
	HardCap         int64  `json:"hardCap"`
	DurationSeconds int64  `json:"durationSeconds"`
}

type launchResponse struct {
	SaleID   string `json:"saleId"`
	EscrowID string `json:"escrowId"`
	Deadline string `json:"deadline"`
}

type saleSummaryResponse struct {
	SaleID      string `json:"saleId"`
	EscrowID    string `json:"escrowId"`
	FounderID   string `json:"founderId"`
	TokenName   string `json:"tokenName"`
	TokenSymbol string `json:"tokenSymbol"`
	State       string `json:"state"`
	TotalRaised int64  `json:"totalRaised"`
	CreatedAt   string `json:"createdAt"`
}

type saleInfoResponse struct {
	SaleID      string  `json:"saleId"`
	FounderID   string  `json:"founderId"`
	EscrowID    string  `json:"escrowId"`
	TokenName   string  `json:"tokenName"`
	TokenSymbol string  `json:"tokenSymbol"`
	Price       int64   `json:"price"`
	SoftCap     int64   `json:"softCap"`
	HardCap     int64   `json:"hardCap"`
	Deadline    string  `json:"deadline"`
	State       string  `json:"state"`
	TotalRaised int64   `json:"totalRaised"`
	CreatedAt   string  `json:"createdAt"`
	EndedAt     *string `json:"endedAt,omitempty"`
}

type investRequest struct {
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type investResponse struct {
	SaleID      string `json:"saleId"`
	Amount      int64  `json:"amount"`
	Invested    int64  `json:"invested"`
	TotalRaised int64  `json:"totalRaised"`
	Replayed    bool   `json:"replayed"`
}

type endResponse struct {
	SaleID      string `json:"saleId"`
	State       string `json:"state"`
	TotalRaised int64  `json:"totalRaised"`
	EscrowID    string `json:"escrowId"`
}

type refundResponse struct {
	SaleID string `json:"saleId"`
	Amount int64  `json:"amount"`
}

type escrowStatusResponse struct {
	EscrowID           string  `json:"escrowId"`
	FounderID          string  `json:"founderId"`
	SaleID             *string `json:"saleId"`
	Balance            int64   `json:"balance"`
	OriginalDeposit    int64   `json:"originalDeposit"`
	Milestone1Released bool    `json:"milestone1Released"`
	Milestone2Released bool    `json:"milestone2Released"`
}

type releaseRequest struct {
	Milestone int `json:"milestone"`
}

type releaseResponse struct {
	EscrowID  string `json:"escrowId"`
	Milestone int    `json:"milestone"`
	Amount    int64  `json:"amount"`
	Balance   int64  `json:"balance"`
}
