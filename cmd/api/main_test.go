package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"launchpad/auth"
	"launchpad/escrow"
	"launchpad/registry"
	"launchpad/sale"
)

type stubRegistryService struct {
	launch    registry.Launch
	launchErr error
	summaries []registry.Summary
	listErr   error
	escrowID  string
	lookupErr error
}

func (s *stubRegistryService) CreateSale(_ context.Context, _ string, _ registry.CreateParams) (registry.Launch, error) {
	return s.launch, s.launchErr
}

func (s *stubRegistryService) GetAllSales(_ context.Context) ([]registry.Summary, error) {
	return s.summaries, s.listErr
}

func (s *stubRegistryService) GetSalesByFounder(_ context.Context, _ string) ([]registry.Summary, error) {
	return s.summaries, s.listErr
}

func (s *stubRegistryService) SaleToEscrow(_ context.Context, _ string) (string, error) {
	return s.escrowID, s.lookupErr
}

type stubSaleService struct {
	investResult sale.InvestResult
	investErr    error
	endResult    sale.EndResult
	endErr       error
	refundAmount int64
	refundErr    error
	info         sale.Info
	infoErr      error
	investment   int64
}

func (s *stubSaleService) Invest(_ context.Context, _ sale.InvestRequest) (sale.InvestResult, error) {
	return s.investResult, s.investErr
}

func (s *stubSaleService) EndSale(_ context.Context, _, _ string) (sale.EndResult, error) {
	return s.endResult, s.endErr
}

func (s *stubSaleService) Refund(_ context.Context, _, _ string) (int64, error) {
	return s.refundAmount, s.refundErr
}

func (s *stubSaleService) GetSaleInfo(_ context.Context, _ string) (sale.Info, error) {
	return s.info, s.infoErr
}

func (s *stubSaleService) GetInvestment(_ context.Context, _, _ string) (int64, error) {
	return s.investment, nil
}

type stubEscrowService struct {
	release    escrow.Release
	releaseErr error
	status     escrow.Status
	statusErr  error
}

func (s *stubEscrowService) ReleaseMilestone(_ context.Context, _, _ string, _ int) (escrow.Release, error) {
	return s.release, s.releaseErr
}

func (s *stubEscrowService) GetStatus(_ context.Context, _ string) (escrow.Status, error) {
	return s.status, s.statusErr
}

func authed(req *http.Request, userID string, role auth.Role) *http.Request {
	ctx := context.WithValue(req.Context(), ctxKeyUserID, userID)
	ctx = context.WithValue(ctx, ctxKeyRole, role)
	return req.WithContext(ctx)
}

func TestHandleCreateSale_Success(t *testing.T) {
	deadline := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	server := &Server{
		registryService: &stubRegistryService{
			launch: registry.Launch{SaleID: "s1", EscrowID: "e1", FounderID: "f1", Deadline: deadline},
		},
	}

	body := strings.NewReader(`{"tokenName":"MyToken","tokenSymbol":"MTK","price":100,"softCap":1000000000,"hardCap":10000000000,"durationSeconds":3600}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/sales", body), "f1", auth.RoleFounder)
	rec := httptest.NewRecorder()

	server.handleSales(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var resp launchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SaleID != "s1" || resp.EscrowID != "e1" {
		t.Fatalf("unexpected response payload: %+v", resp)
	}
	if resp.Deadline != deadline.Format(time.RFC3339) {
		t.Fatalf("expected deadline %s, got %s", deadline.Format(time.RFC3339), resp.Deadline)
	}
}

func TestHandleCreateSale_ForbidInvestorRole(t *testing.T) {
	server := &Server{registryService: &stubRegistryService{}}

	body := strings.NewReader(`{"tokenName":"MyToken","tokenSymbol":"MTK","price":100,"softCap":1,"hardCap":2,"durationSeconds":3600}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/sales", body), "u1", auth.RoleInvestor)
	rec := httptest.NewRecorder()

	server.handleSales(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleCreateSale_ValidationError(t *testing.T) {
	server := &Server{
		registryService: &stubRegistryService{launchErr: registry.ErrInvalidCaps},
	}

	body := strings.NewReader(`{"tokenName":"MyToken","tokenSymbol":"MTK","price":100,"softCap":10,"hardCap":5,"durationSeconds":3600}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/sales", body), "f1", auth.RoleFounder)
	rec := httptest.NewRecorder()

	server.handleSales(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleListSales_Success(t *testing.T) {
	now := time.Now().UTC()
	server := &Server{
		registryService: &stubRegistryService{
			summaries: []registry.Summary{
				{SaleID: "s1", EscrowID: "e1", FounderID: "f1", TokenName: "MyToken", TokenSymbol: "MTK", State: "active", CreatedAt: now},
			},
		},
	}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/sales", nil), "u1", auth.RoleInvestor)
	rec := httptest.NewRecorder()

	server.handleSales(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload struct {
		Items []saleSummaryResponse `json:"items"`
		Total int                   `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Total != 1 || payload.Items[0].SaleID != "s1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHandleInvest_Success(t *testing.T) {
	server := &Server{
		saleService: &stubSaleService{
			investResult: sale.InvestResult{SaleID: "s1", Amount: 500, Invested: 500, TotalRaised: 500},
		},
	}

	body := strings.NewReader(`{"amount":500}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/sales/s1/invest", body), "u1", auth.RoleInvestor)
	rec := httptest.NewRecorder()

	server.handleSaleDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp investResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TotalRaised != 500 || resp.Replayed {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleInvest_HardCapExceeded(t *testing.T) {
	server := &Server{
		saleService: &stubSaleService{investErr: sale.ErrHardCapExceeded},
	}

	body := strings.NewReader(`{"amount":999}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/sales/s1/invest", body), "u1", auth.RoleInvestor)
	rec := httptest.NewRecorder()

	server.handleSaleDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleInvest_SaleEnded(t *testing.T) {
	server := &Server{
		saleService: &stubSaleService{investErr: sale.ErrNotActive},
	}

	body := strings.NewReader(`{"amount":1}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/sales/s1/invest", body), "u1", auth.RoleInvestor)
	rec := httptest.NewRecorder()

	server.handleSaleDetail(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleEndSale_NotAdmin(t *testing.T) {
	server := &Server{
		saleService: &stubSaleService{endErr: sale.ErrNotAdmin},
	}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/sales/s1/end", nil), "stranger", auth.RoleInvestor)
	rec := httptest.NewRecorder()

	server.handleSaleDetail(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleRefund_Success(t *testing.T) {
	server := &Server{
		saleService: &stubSaleService{refundAmount: 2_000_000_000},
	}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/sales/s1/refund", nil), "u1", auth.RoleInvestor)
	rec := httptest.NewRecorder()

	server.handleSaleDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp refundResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Amount != 2_000_000_000 {
		t.Fatalf("unexpected refund amount: %d", resp.Amount)
	}
}

func TestHandleRefund_NotAvailable(t *testing.T) {
	server := &Server{
		saleService: &stubSaleService{refundErr: sale.ErrRefundNotAvailable},
	}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/sales/s1/refund", nil), "u1", auth.RoleInvestor)
	rec := httptest.NewRecorder()

	server.handleSaleDetail(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleSaleInfo_NotFound(t *testing.T) {
	server := &Server{
		saleService: &stubSaleService{infoErr: sale.ErrNotFound},
	}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/sales/missing", nil), "u1", auth.RoleInvestor)
	rec := httptest.NewRecorder()

	server.handleSaleDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleRelease_Success(t *testing.T) {
	server := &Server{
		escrowService: &stubEscrowService{
			release: escrow.Release{EscrowID: "e1", Milestone: 1, Amount: 250, Balance: 250},
		},
	}

	body := strings.NewReader(`{"milestone":1}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/escrows/e1/release", body), "f1", auth.RoleFounder)
	rec := httptest.NewRecorder()

	server.handleEscrowDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp releaseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Milestone != 1 || resp.Amount != 250 {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleRelease_OrderViolation(t *testing.T) {
	server := &Server{
		escrowService: &stubEscrowService{releaseErr: escrow.ErrMilestoneOrder},
	}

	body := strings.NewReader(`{"milestone":2}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/escrows/e1/release", body), "f1", auth.RoleFounder)
	rec := httptest.NewRecorder()

	server.handleEscrowDetail(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleEscrowStatus_NotFound(t *testing.T) {
	server := &Server{
		escrowService: &stubEscrowService{statusErr: escrow.ErrNotFound},
	}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/escrows/missing", nil), "u1", auth.RoleInvestor)
	rec := httptest.NewRecorder()

	server.handleEscrowDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleEscrowStatus_UnexpectedError(t *testing.T) {
	server := &Server{
		escrowService: &stubEscrowService{statusErr: errors.New("boom")},
	}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/escrows/e1", nil), "u1", auth.RoleInvestor)
	rec := httptest.NewRecorder()

	server.handleEscrowDetail(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHandleConfig(t *testing.T) {
	server := &Server{}

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	rec := httptest.NewRecorder()

	server.handleConfig(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload struct {
		BaseUnitsPerCoin int64    `json:"baseUnitsPerCoin"`
		SaleStates       []string `json:"saleStates"`
		Milestones       []int    `json:"milestones"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if payload.BaseUnitsPerCoin != baseUnitsPerCoin {
		t.Fatalf("unexpected unit scale: %d", payload.BaseUnitsPerCoin)
	}
	if len(payload.SaleStates) != 3 || len(payload.Milestones) != 2 {
		t.Fatalf("unexpected descriptor: %+v", payload)
	}
}

func TestRequireAuth_MissingToken(t *testing.T) {
	server := &Server{}
	handler := server.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run without a token")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/sales", nil)
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
