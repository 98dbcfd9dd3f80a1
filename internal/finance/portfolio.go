package finance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/hongminglow/vip-ledger/internal/models"
	"github.com/hongminglow/vip-ledger/internal/storage"
)

// Portfolios is the per-user balance book. Writes go through
// storage.PortfolioStore.UpdatePortfolio so they serialize per user.
type Portfolios struct {
	store   storage.PortfolioStore
	catalog *Catalog
	clock   Clock
}

// NewPortfolios builds the portfolio book.
func NewPortfolios(store storage.PortfolioStore, catalog *Catalog, clock Clock) *Portfolios {
	return &Portfolios{store: store, catalog: catalog, clock: clock}
}

// Get returns the user's portfolio, or ErrNotFound when the user has no
// activity yet.
func (p *Portfolios) Get(ctx context.Context, user string) (models.Portfolio, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return models.Portfolio{}, fmt.Errorf("%w: portfolio of empty identity", ErrNotFound)
	}
	portfolio, err := p.store.GetPortfolio(ctx, user)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Portfolio{}, fmt.Errorf("%w: portfolio of %s", ErrNotFound, user)
	}
	if err != nil {
		return models.Portfolio{}, fmt.Errorf("load portfolio of %s: %w", user, err)
	}
	return portfolio, nil
}

// JoinPlan enrolls user at vipLevel, paying the plan price from the balance.
// Re-joining the current level is rejected with ErrAlreadyEnrolled.
func (p *Portfolios) JoinPlan(ctx context.Context, user string, vipLevel int64) (models.Portfolio, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return models.Portfolio{}, fmt.Errorf("%w: join by empty identity", ErrNotFound)
	}
	plan, err := p.catalog.Get(ctx, vipLevel)
	if err != nil {
		return models.Portfolio{}, err
	}
	now := p.clock.Now()
	updated, err := p.store.UpdatePortfolio(ctx, user, true, enroll(plan, now))
	if err != nil {
		return models.Portfolio{}, err
	}
	return updated, nil
}

// ApplyDeposit credits amount to user's portfolio outside the ledger. The
// service always goes through the ledger; this exists for reconciliation
// tooling and tests.
func (p *Portfolios) ApplyDeposit(ctx context.Context, user string, amount int64) (models.Portfolio, error) {
	if amount <= 0 {
		return models.Portfolio{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	return p.store.UpdatePortfolio(ctx, user, true, applyDeposit(amount, p.clock.Now()))
}

// ApplyWithdrawal debits amount from user's portfolio outside the ledger.
func (p *Portfolios) ApplyWithdrawal(ctx context.Context, user string, amount int64) (models.Portfolio, error) {
	if amount <= 0 {
		return models.Portfolio{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	updated, err := p.store.UpdatePortfolio(ctx, user, false, applyWithdrawal(amount, p.clock.Now()))
	if errors.Is(err, storage.ErrNotFound) {
		return models.Portfolio{}, fmt.Errorf("%w: no portfolio for %s", ErrInsufficientFunds, user)
	}
	return updated, err
}

func applyDeposit(amount, now int64) storage.PortfolioMutation {
	return func(pf *models.Portfolio) error {
		if amount > math.MaxInt64-pf.Balance || amount > math.MaxInt64-pf.TotalDeposits {
			return fmt.Errorf("%w: deposit of %d overflows portfolio", ErrInvalidAmount, amount)
		}
		touch(pf, now)
		pf.Balance += amount
		pf.TotalDeposits += amount
		return nil
	}
}

func applyWithdrawal(amount, now int64) storage.PortfolioMutation {
	return func(pf *models.Portfolio) error {
		if amount > pf.Balance {
			return fmt.Errorf("%w: requested %d, available %d", ErrInsufficientFunds, amount, pf.Balance)
		}
		if amount > math.MaxInt64-pf.TotalWithdrawals {
			return fmt.Errorf("%w: withdrawal of %d overflows portfolio", ErrInvalidAmount, amount)
		}
		touch(pf, now)
		pf.Balance -= amount
		pf.TotalWithdrawals += amount
		return nil
	}
}

// settle maps a ledger transaction to its portfolio delta.
func settle(now int64) storage.SettlementFunc {
	return func(txn models.Transaction, pf *models.Portfolio) error {
		switch txn.Type {
		case models.Deposit:
			return applyDeposit(txn.Amount, now)(pf)
		case models.Withdrawal:
			return applyWithdrawal(txn.Amount, now)(pf)
		default:
			return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidTransition, txn.Type)
		}
	}
}

func enroll(plan models.InvestmentPlan, now int64) storage.PortfolioMutation {
	return func(pf *models.Portfolio) error {
		if pf.VIPLevel == plan.VIPLevel {
			return fmt.Errorf("%w: level %d", ErrAlreadyEnrolled, plan.VIPLevel)
		}
		if pf.Balance < plan.Price {
			return fmt.Errorf("%w: plan %d costs %d, available %d", ErrInsufficientFunds, plan.VIPLevel, plan.Price, pf.Balance)
		}
		pf.Balance -= plan.Price
		pf.VIPLevel = plan.VIPLevel
		pf.DailyProfit = plan.DailyIncome
		// The accrual clock restarts with the new rate.
		pf.LastUpdated = now
		return nil
	}
}

// touch stamps a freshly created portfolio. Balance-only changes leave an
// existing LastUpdated alone so they never postpone accrual.
func touch(pf *models.Portfolio, now int64) {
	if pf.LastUpdated == 0 {
		pf.LastUpdated = now
	}
}
