package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/vip-ledger/internal/finance"
	"github.com/hongminglow/vip-ledger/internal/http/respond"
	"github.com/hongminglow/vip-ledger/internal/middleware"
	"github.com/hongminglow/vip-ledger/internal/models"
	"github.com/hongminglow/vip-ledger/internal/models/dto"
)

const (
	defaultFeedLimit = 10
	maxFeedLimit     = 100
)

// FinanceService is the core surface the finance endpoints call.
type FinanceService interface {
	CallerProfile(ctx context.Context, caller string) (models.UserProfile, error)
	SaveCallerProfile(ctx context.Context, caller string, profile models.UserProfile) error
	UserProfile(ctx context.Context, caller, user string) (models.UserProfile, error)
	CallerRole(ctx context.Context, caller string) (models.Role, error)
	IsCallerAdmin(ctx context.Context, caller string) (bool, error)
	AssignRole(ctx context.Context, caller, target string, role models.Role) error
	Deposit(ctx context.Context, caller string, amount int64, reference string) (models.Transaction, error)
	Withdraw(ctx context.Context, caller string, amount int64, reference string) (models.Transaction, error)
	FinalizeTransaction(ctx context.Context, caller, id string, outcome models.TransactionStatus) (models.Transaction, error)
	Transaction(ctx context.Context, caller, id string) (models.Transaction, error)
	JoinPlan(ctx context.Context, caller string, vipLevel int64) (models.Portfolio, error)
	ListPlans(ctx context.Context) ([]models.InvestmentPlan, error)
	UpsertPlan(ctx context.Context, caller string, plan models.InvestmentPlan) (models.InvestmentPlan, error)
	Portfolio(ctx context.Context, user string) (models.Portfolio, error)
	LiveTransactions(ctx context.Context, limit, offset int) ([]models.Transaction, error)
	RunDailyAccrual(ctx context.Context, caller string) (int, error)
}

// FinanceHandler exposes the ledger, portfolio, plan and role operations.
type FinanceHandler struct {
	svc      FinanceService
	currency string
	logger   *slog.Logger
}

// NewFinanceHandler constructs the handler. currency is the ISO code used to
// format minor-unit amounts for display.
func NewFinanceHandler(svc FinanceService, currency string, logger *slog.Logger) *FinanceHandler {
	if money.GetCurrency(currency) == nil {
		currency = "NPR"
	}
	return &FinanceHandler{svc: svc, currency: currency, logger: logger}
}

// RegisterPublic attaches routes open to anonymous callers.
func (h *FinanceHandler) RegisterPublic(r chi.Router) {
	r.Get("/plans", h.handleListPlans)
	r.Get("/portfolios/{user}", h.handlePortfolio)
	r.Get("/transactions/live", h.handleLiveTransactions)
}

// Register attaches routes that need an authenticated caller.
func (h *FinanceHandler) Register(r chi.Router) {
	r.Get("/me/profile", h.handleCallerProfile)
	r.Put("/me/profile", h.handleSaveCallerProfile)
	r.Get("/me/role", h.handleCallerRole)
	r.Get("/me/admin", h.handleIsCallerAdmin)
	r.Get("/users/{user}/profile", h.handleUserProfile)

	r.Post("/deposits", h.handleDeposit)
	r.Post("/withdrawals", h.handleWithdraw)
	r.Post("/plans/{level}/join", h.handleJoinPlan)

	r.Route("/admin", func(r chi.Router) {
		r.Put("/roles/{user}", h.handleAssignRole)
		r.Get("/transactions/{id}", h.handleTransaction)
		r.Post("/transactions/{id}/finalize", h.handleFinalize)
		r.Put("/plans/{level}", h.handleUpsertPlan)
		r.Post("/accrual", h.handleAccrual)
	})
}

func (h *FinanceHandler) handleCallerProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.svc.CallerProfile(r.Context(), middleware.CallerFrom(r.Context()))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "profile", profile)
}

func (h *FinanceHandler) handleSaveCallerProfile(w http.ResponseWriter, r *http.Request) {
	var profile models.UserProfile
	if err := respond.Decode(w, r, &profile); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if err := h.svc.SaveCallerProfile(r.Context(), middleware.CallerFrom(r.Context()), profile); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FinanceHandler) handleUserProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.svc.UserProfile(r.Context(), middleware.CallerFrom(r.Context()), chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "profile", profile)
}

func (h *FinanceHandler) handleCallerRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.svc.CallerRole(r.Context(), middleware.CallerFrom(r.Context()))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "role", map[string]models.Role{"role": role})
}

func (h *FinanceHandler) handleIsCallerAdmin(w http.ResponseWriter, r *http.Request) {
	isAdmin, err := h.svc.IsCallerAdmin(r.Context(), middleware.CallerFrom(r.Context()))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "admin", map[string]bool{"admin": isAdmin})
}

func (h *FinanceHandler) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req dto.AssignRoleRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	role, ok := models.ParseRole(req.Role)
	if !ok {
		respond.Error(w, http.StatusBadRequest, "role must be one of admin, user, guest")
		return
	}
	if err := h.svc.AssignRole(r.Context(), middleware.CallerFrom(r.Context()), chi.URLParam(r, "user"), role); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FinanceHandler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	h.handleMoney(w, r, h.svc.Deposit)
}

func (h *FinanceHandler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	h.handleMoney(w, r, h.svc.Withdraw)
}

type moneyOp func(ctx context.Context, caller string, amount int64, reference string) (models.Transaction, error)

func (h *FinanceHandler) handleMoney(w http.ResponseWriter, r *http.Request, op moneyOp) {
	var req dto.MoneyRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	txn, err := op(r.Context(), middleware.CallerFrom(r.Context()), req.Amount, req.Reference)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	status := http.StatusCreated
	if txn.Status == models.StatusPending {
		status = http.StatusAccepted
	}
	respond.JSON(w, status, "transaction "+string(txn.Status), h.transactionResponse(txn))
}

func (h *FinanceHandler) handleTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.svc.Transaction(r.Context(), middleware.CallerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "transaction", txn)
}

func (h *FinanceHandler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req dto.FinalizeRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	outcome := models.TransactionStatus(strings.ToLower(strings.TrimSpace(req.Outcome)))
	txn, err := h.svc.FinalizeTransaction(r.Context(), middleware.CallerFrom(r.Context()), chi.URLParam(r, "id"), outcome)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "transaction "+string(txn.Status), h.transactionResponse(txn))
}

func (h *FinanceHandler) handleJoinPlan(w http.ResponseWriter, r *http.Request) {
	level, ok := parseLevel(w, r)
	if !ok {
		return
	}
	portfolio, err := h.svc.JoinPlan(r.Context(), middleware.CallerFrom(r.Context()), level)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "plan joined", dto.JoinPlanResponse{Success: true, Portfolio: portfolio})
}

func (h *FinanceHandler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.svc.ListPlans(r.Context())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "plans", plans)
}

func (h *FinanceHandler) handleUpsertPlan(w http.ResponseWriter, r *http.Request) {
	level, ok := parseLevel(w, r)
	if !ok {
		return
	}
	var req dto.PlanRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	plan, err := h.svc.UpsertPlan(r.Context(), middleware.CallerFrom(r.Context()), models.InvestmentPlan{
		VIPLevel:    level,
		Title:       req.Title,
		Price:       req.Price,
		DailyIncome: req.DailyIncome,
		Features:    req.Features,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "plan saved", plan)
}

func (h *FinanceHandler) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	portfolio, err := h.svc.Portfolio(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "portfolio", dto.PortfolioView{
		Portfolio:      portfolio,
		BalanceDisplay: h.display(portfolio.Balance),
		ProfitsDisplay: h.display(portfolio.Profits),
	})
}

func (h *FinanceHandler) handleLiveTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultFeedLimit)
	if err != nil || limit < 1 {
		respond.Error(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		respond.Error(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	txns, err := h.svc.LiveTransactions(r.Context(), min(limit, maxFeedLimit), offset)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	feed := make([]dto.LiveTransaction, 0, len(txns))
	for _, txn := range txns {
		feed = append(feed, dto.LiveTransaction{
			ID:        txn.ID,
			User:      anonymize(txn.User),
			Type:      txn.Type,
			Amount:    txn.Amount,
			Display:   h.display(txn.Amount),
			Status:    txn.Status,
			Timestamp: txn.Timestamp,
		})
	}
	respond.JSON(w, http.StatusOK, "live transactions", feed)
}

func (h *FinanceHandler) handleAccrual(w http.ResponseWriter, r *http.Request) {
	credited, err := h.svc.RunDailyAccrual(r.Context(), middleware.CallerFrom(r.Context()))
	if errors.Is(err, finance.ErrUnauthenticated) || errors.Is(err, finance.ErrForbidden) {
		writeError(w, h.logger, r, err)
		return
	}
	if err != nil {
		// Portfolios credited before the failure stay credited; a rerun skips them.
		h.logger.Error("accrual sweep incomplete", "credited", credited, "error", err)
		respond.JSON(w, http.StatusInternalServerError, "accrual incomplete", dto.AccrualResponse{Success: false, Credited: credited})
		return
	}
	respond.JSON(w, http.StatusOK, "accrual complete", dto.AccrualResponse{Success: true, Credited: credited})
}

func (h *FinanceHandler) transactionResponse(txn models.Transaction) dto.TransactionResponse {
	return dto.TransactionResponse{
		TransactionID: txn.ID,
		Status:        txn.Status,
		Amount:        txn.Amount,
		Display:       h.display(txn.Amount),
	}
}

func (h *FinanceHandler) display(minor int64) string {
	return money.New(minor, h.currency).Display()
}

// anonymize keeps only the last four characters of an identity.
func anonymize(user string) string {
	runes := []rune(user)
	if len(runes) > 4 {
		runes = runes[len(runes)-4:]
	}
	return "User ****" + string(runes)
}

func parseLevel(w http.ResponseWriter, r *http.Request) (int64, bool) {
	level, err := strconv.ParseInt(chi.URLParam(r, "level"), 10, 64)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "level must be an integer")
		return 0, false
	}
	return level, true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
