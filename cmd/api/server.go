package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"launchpad/auth"
	"launchpad/escrow"
	"launchpad/registry"
	"launchpad/sale"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "userID"
	ctxKeyRole   ctxKey = "role"
)

// baseUnitsPerCoin is the fixed-point scale for all amounts on the wire.
const baseUnitsPerCoin = 1_000_000_000

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

type registryService interface {
	CreateSale(ctx context.Context, founderID string, params registry.CreateParams) (registry.Launch, error)
	GetAllSales(ctx context.Context) ([]registry.Summary, error)
	GetSalesByFounder(ctx context.Context, founderID string) ([]registry.Summary, error)
	SaleToEscrow(ctx context.Context, saleID string) (string, error)
}

type saleService interface {
	Invest(ctx context.Context, req sale.InvestRequest) (sale.InvestResult, error)
	EndSale(ctx context.Context, saleID, callerID string) (sale.EndResult, error)
	Refund(ctx context.Context, saleID, investorID string) (int64, error)
	GetSaleInfo(ctx context.Context, saleID string) (sale.Info, error)
	GetInvestment(ctx context.Context, saleID, investorID string) (int64, error)
}

type escrowService interface {
	ReleaseMilestone(ctx context.Context, escrowID, callerID string, milestone int) (escrow.Release, error)
	GetStatus(ctx context.Context, escrowID string) (escrow.Status, error)
}

// Server wires the HTTP surface to the domain services.
type Server struct {
	authService     authService
	registryService registryService
	saleService     saleService
	escrowService   escrowService
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/sales", s.requireAuth(s.handleSales))
	mux.HandleFunc("/api/sales/", s.requireAuth(s.handleSaleDetail))
	mux.HandleFunc("/api/escrows/", s.requireAuth(s.handleEscrowDetail))
	return mux
}

// requireAuth validates the bearer token and stashes identity in the context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, role, err := s.authService.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfig publishes the read-only service descriptor clients need to
// interpret amounts, states and events.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"baseUnitsPerCoin": baseUnitsPerCoin,
		"saleStates":       []string{string(sale.StateActive), string(sale.StateSuccessful), string(sale.StateFailed)},
		"milestones":       []int{1, 2},
		"eventTypes": []string{
			"SALE_LAUNCHED", "INVESTED", "SALE_ENDED", "REFUNDED", "MILESTONE_RELEASED",
		},
		"topics": []string{
			"sale.launched", "sale.invested", "sale.ended", "sale.refunded", "escrow.milestone_released",
		},
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, "email already registered")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{
		ID:       user.ID,
		Email:    user.Email,
		FullName: user.FullName,
		Role:     string(user.Role),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token: res.Token,
		User: userResponse{
			ID:       res.User.ID,
			Email:    res.User.Email,
			FullName: res.User.FullName,
			Role:     string(res.User.Role),
		},
	})
}

// handleSales serves POST /api/sales (launch, founder-only) and GET
// /api/sales (all sales, or ?founder=me for the caller's own).
func (s *Server) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateSale(w, r)
	case http.MethodGet:
		s.handleListSales(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(ctxKeyUserID).(string)
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	if role != auth.RoleFounder {
		writeError(w, http.StatusForbidden, "only founders can launch sales")
		return
	}

	var req createSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	launch, err := s.registryService.CreateSale(r.Context(), userID, registry.CreateParams{
		TokenName:   req.TokenName,
		TokenSymbol: req.TokenSymbol,
		Price:       req.Price,
		SoftCap:     req.SoftCap,
		HardCap:     req.HardCap,
		Duration:    time.Duration(req.DurationSeconds) * time.Second,
	})
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrInvalidPrice),
			errors.Is(err, registry.ErrInvalidDuration),
			errors.Is(err, registry.ErrInvalidSoftCap),
			errors.Is(err, registry.ErrInvalidCaps):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("create sale: %v", err)
			writeError(w, http.StatusInternalServerError, "create sale failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, launchResponse{
		SaleID:   launch.SaleID,
		EscrowID: launch.EscrowID,
		Deadline: launch.Deadline.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListSales(w http.ResponseWriter, r *http.Request) {
	var (
		summaries []registry.Summary
		err       error
	)
	if r.URL.Query().Get("founder") == "me" {
		userID, _ := r.Context().Value(ctxKeyUserID).(string)
		summaries, err = s.registryService.GetSalesByFounder(r.Context(), userID)
	} else {
		summaries, err = s.registryService.GetAllSales(r.Context())
	}
	if err != nil {
		log.Printf("list sales: %v", err)
		writeError(w, http.StatusInternalServerError, "list sales failed")
		return
	}

	items := make([]saleSummaryResponse, 0, len(summaries))
	for _, sm := range summaries {
		items = append(items, saleSummaryResponse{
			SaleID:      sm.SaleID,
			EscrowID:    sm.EscrowID,
			FounderID:   sm.FounderID,
			TokenName:   sm.TokenName,
			TokenSymbol: sm.TokenSymbol,
			State:       sm.State,
			TotalRaised: sm.TotalRaised,
			CreatedAt:   sm.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// handleSaleDetail routes /api/sales/{id} and its sub-resources.
func (s *Server) handleSaleDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sales/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "missing sale id")
		return
	}
	saleID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleSaleInfo(w, r, saleID)
		return
	}

	switch parts[1] {
	case "invest":
		s.handleInvest(w, r, saleID)
	case "end":
		s.handleEndSale(w, r, saleID)
	case "refund":
		s.handleRefund(w, r, saleID)
	case "investment":
		s.handleInvestment(w, r, saleID)
	case "escrow":
		s.handleSaleEscrow(w, r, saleID)
	default:
		writeError(w, http.StatusNotFound, "unknown resource")
	}
}

func (s *Server) handleSaleInfo(w http.ResponseWriter, r *http.Request, saleID string) {
	info, err := s.saleService.GetSaleInfo(r.Context(), saleID)
	if err != nil {
		if errors.Is(err, sale.ErrNotFound) {
			writeError(w, http.StatusNotFound, "sale not found")
			return
		}
		log.Printf("sale info: %v", err)
		writeError(w, http.StatusInternalServerError, "sale info failed")
		return
	}

	resp := saleInfoResponse{
		SaleID:      info.ID,
		FounderID:   info.FounderID,
		EscrowID:    info.EscrowID,
		TokenName:   info.TokenName,
		TokenSymbol: info.TokenSymbol,
		Price:       info.Price,
		SoftCap:     info.SoftCap,
		HardCap:     info.HardCap,
		Deadline:    info.Deadline.UTC().Format(time.RFC3339),
		State:       string(info.State),
		TotalRaised: info.TotalRaised,
		CreatedAt:   info.CreatedAt.UTC().Format(time.RFC3339),
	}
	if info.EndedAt != nil {
		ended := info.EndedAt.UTC().Format(time.RFC3339)
		resp.EndedAt = &ended
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInvest(w http.ResponseWriter, r *http.Request, saleID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, _ := r.Context().Value(ctxKeyUserID).(string)

	var req investRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.saleService.Invest(r.Context(), sale.InvestRequest{
		SaleID:         saleID,
		InvestorID:     userID,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, sale.ErrNotFound):
			writeError(w, http.StatusNotFound, "sale not found")
		case errors.Is(err, sale.ErrInvalidAmount),
			errors.Is(err, sale.ErrDeadlinePassed),
			errors.Is(err, sale.ErrHardCapExceeded):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, sale.ErrNotActive):
			writeError(w, http.StatusConflict, err.Error())
		default:
			log.Printf("invest: %v", err)
			writeError(w, http.StatusInternalServerError, "invest failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, investResponse{
		SaleID:      res.SaleID,
		Amount:      res.Amount,
		Invested:    res.Invested,
		TotalRaised: res.TotalRaised,
		Replayed:    res.Replayed,
	})
}

func (s *Server) handleEndSale(w http.ResponseWriter, r *http.Request, saleID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, _ := r.Context().Value(ctxKeyUserID).(string)

	res, err := s.saleService.EndSale(r.Context(), saleID, userID)
	if err != nil {
		switch {
		case errors.Is(err, sale.ErrNotFound):
			writeError(w, http.StatusNotFound, "sale not found")
		case errors.Is(err, sale.ErrNotAdmin):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, sale.ErrAlreadyEnded):
			writeError(w, http.StatusConflict, err.Error())
		default:
			log.Printf("end sale: %v", err)
			writeError(w, http.StatusInternalServerError, "end sale failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, endResponse{
		SaleID:      res.SaleID,
		State:       string(res.State),
		TotalRaised: res.TotalRaised,
		EscrowID:    res.EscrowID,
	})
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request, saleID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, _ := r.Context().Value(ctxKeyUserID).(string)

	amount, err := s.saleService.Refund(r.Context(), saleID, userID)
	if err != nil {
		switch {
		case errors.Is(err, sale.ErrNotFound):
			writeError(w, http.StatusNotFound, "sale not found")
		case errors.Is(err, sale.ErrRefundNotAvailable):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, sale.ErrNoInvestment):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("refund: %v", err)
			writeError(w, http.StatusInternalServerError, "refund failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, refundResponse{SaleID: saleID, Amount: amount})
}

func (s *Server) handleInvestment(w http.ResponseWriter, r *http.Request, saleID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, _ := r.Context().Value(ctxKeyUserID).(string)

	amount, err := s.saleService.GetInvestment(r.Context(), saleID, userID)
	if err != nil {
		log.Printf("get investment: %v", err)
		writeError(w, http.StatusInternalServerError, "get investment failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saleId": saleID, "amount": amount})
}

func (s *Server) handleSaleEscrow(w http.ResponseWriter, r *http.Request, saleID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	escrowID, err := s.registryService.SaleToEscrow(r.Context(), saleID)
	if err != nil {
		if errors.Is(err, registry.ErrSaleNotFound) {
			writeError(w, http.StatusNotFound, "sale not found")
			return
		}
		log.Printf("sale to escrow: %v", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"saleId": saleID, "escrowId": escrowID})
}

// handleEscrowDetail routes /api/escrows/{id} and /api/escrows/{id}/release.
func (s *Server) handleEscrowDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/escrows/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "missing escrow id")
		return
	}
	escrowID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleEscrowStatus(w, r, escrowID)
		return
	}

	if parts[1] == "release" {
		s.handleRelease(w, r, escrowID)
		return
	}
	writeError(w, http.StatusNotFound, "unknown resource")
}

func (s *Server) handleEscrowStatus(w http.ResponseWriter, r *http.Request, escrowID string) {
	st, err := s.escrowService.GetStatus(r.Context(), escrowID)
	if err != nil {
		if errors.Is(err, escrow.ErrNotFound) {
			writeError(w, http.StatusNotFound, "escrow not found")
			return
		}
		log.Printf("escrow status: %v", err)
		writeError(w, http.StatusInternalServerError, "escrow status failed")
		return
	}
	writeJSON(w, http.StatusOK, escrowStatusResponse{
		EscrowID:           st.ID,
		FounderID:          st.FounderID,
		SaleID:             st.SaleID,
		Balance:            st.Balance,
		OriginalDeposit:    st.OriginalDeposit,
		Milestone1Released: st.Milestone1Released,
		Milestone2Released: st.Milestone2Released,
	})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request, escrowID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, _ := r.Context().Value(ctxKeyUserID).(string)

	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rel, err := s.escrowService.ReleaseMilestone(r.Context(), escrowID, userID, req.Milestone)
	if err != nil {
		switch {
		case errors.Is(err, escrow.ErrNotFound):
			writeError(w, http.StatusNotFound, "escrow not found")
		case errors.Is(err, escrow.ErrNotAdmin):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, escrow.ErrMilestone1Released),
			errors.Is(err, escrow.ErrMilestone2Released),
			errors.Is(err, escrow.ErrMilestoneOrder),
			errors.Is(err, escrow.ErrNotLinked),
			errors.Is(err, escrow.ErrNoDeposit):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, releaseResponse{
		EscrowID:  rel.EscrowID,
		Milestone: rel.Milestone,
		Amount:    rel.Amount,
		Balance:   rel.Balance,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
