package storage

import (
	"context"
	"errors"

	"github.com/hongminglow/vip-ledger/internal/models"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict.
var ErrAlreadyExists = errors.New("record already exists")

// ErrNotPending indicates a transaction has already left the pending state.
var ErrNotPending = errors.New("transaction is not pending")

// PortfolioMutation edits a working copy of a portfolio. Returning an error
// aborts the enclosing write and nothing is persisted.
type PortfolioMutation func(p *models.Portfolio) error

// SettlementFunc builds the portfolio delta for a transaction being settled.
type SettlementFunc func(txn models.Transaction, p *models.Portfolio) error

// AccountStore captures persistence operations needed by register/login.
type AccountStore interface {
	CreateAccount(ctx context.Context, account models.Account) (models.Account, error)
	FindByUsernameOrEmail(ctx context.Context, identifier string) (models.Account, error)
}

// PortfolioStore persists portfolios with per-user serialization.
type PortfolioStore interface {
	GetPortfolio(ctx context.Context, user string) (models.Portfolio, error)
	// UpdatePortfolio runs fn on a copy of the user's portfolio while holding
	// that user's write lock. When create is true an absent portfolio starts
	// from its zero value; it only comes into existence if fn succeeds.
	UpdatePortfolio(ctx context.Context, user string, create bool, fn PortfolioMutation) (models.Portfolio, error)
	// ListEnrolled returns the users whose portfolio has a VIP level above 0.
	ListEnrolled(ctx context.Context) ([]string, error)
}

// LedgerStore persists transactions. Writes that touch a portfolio commit the
// transaction and the portfolio together.
type LedgerStore interface {
	// AppendTransaction inserts txn. When fn is non-nil it is applied to the
	// owner's portfolio in the same atomic step.
	AppendTransaction(ctx context.Context, txn models.Transaction, fn SettlementFunc) error
	// FinalizeTransaction moves a pending transaction to status. fn, when
	// non-nil, is applied to the owner's portfolio in the same atomic step.
	FinalizeTransaction(ctx context.Context, id string, status models.TransactionStatus, fn SettlementFunc) (models.Transaction, error)
	GetTransaction(ctx context.Context, id string) (models.Transaction, error)
	// ListTransactions returns transactions most recent first.
	ListTransactions(ctx context.Context, limit, offset int) ([]models.Transaction, error)
}

// RoleStore persists explicit role assignments.
type RoleStore interface {
	GetRole(ctx context.Context, user string) (models.Role, error)
	SetRole(ctx context.Context, user string, role models.Role) error
}

// ProfileStore persists caller-owned profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, user string) (models.UserProfile, error)
	SaveProfile(ctx context.Context, user string, profile models.UserProfile) error
}

// PlanStore persists the plan catalog.
type PlanStore interface {
	ListPlans(ctx context.Context) ([]models.InvestmentPlan, error)
	GetPlan(ctx context.Context, vipLevel int64) (models.InvestmentPlan, error)
	UpsertPlan(ctx context.Context, plan models.InvestmentPlan) error
}

// Store is the full persistence surface of the service.
type Store interface {
	AccountStore
	PortfolioStore
	LedgerStore
	RoleStore
	ProfileStore
	PlanStore
	Close()
}
