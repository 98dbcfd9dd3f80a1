package dto

import "github.com/hongminglow/vip-ledger/internal/models"

// MoneyRequest is the body of deposit and withdrawal calls.
type MoneyRequest struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// TransactionResponse is returned once a transaction has been accepted.
type TransactionResponse struct {
	TransactionID string                   `json:"transaction_id"`
	Status        models.TransactionStatus `json:"status"`
	Amount        int64                    `json:"amount"`
	Display       string                   `json:"display"`
}

// FinalizeRequest carries an admin decision on a pending transaction.
type FinalizeRequest struct {
	Outcome string `json:"outcome"`
}

// AssignRoleRequest is the body of the role assignment call.
type AssignRoleRequest struct {
	Role string `json:"role"`
}

// PlanRequest is the admin payload for creating or replacing a plan.
type PlanRequest struct {
	Title       string   `json:"title"`
	Price       int64    `json:"price"`
	DailyIncome int64    `json:"dailyIncome"`
	Features    []string `json:"features"`
}

// JoinPlanResponse reports the outcome of a plan join.
type JoinPlanResponse struct {
	Success   bool             `json:"success"`
	Portfolio models.Portfolio `json:"portfolio"`
}

// AccrualResponse reports how many portfolios a sweep credited.
type AccrualResponse struct {
	Success  bool `json:"success"`
	Credited int  `json:"credited"`
}

// LiveTransaction is the anonymized projection shown in the public feed.
type LiveTransaction struct {
	ID        string                   `json:"id"`
	User      string                   `json:"user"`
	Type      models.TransactionType   `json:"txnType"`
	Amount    int64                    `json:"amount"`
	Display   string                   `json:"display"`
	Status    models.TransactionStatus `json:"status"`
	Timestamp int64                    `json:"timestamp"`
}

// PortfolioView decorates a portfolio with formatted amounts.
type PortfolioView struct {
	models.Portfolio
	BalanceDisplay string `json:"balanceDisplay"`
	ProfitsDisplay string `json:"profitsDisplay"`
}
