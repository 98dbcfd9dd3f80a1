package finance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hongminglow/vip-ledger/internal/models"
	"github.com/hongminglow/vip-ledger/internal/storage"
)

// DefaultAccrualWindow is the nominal length of one profit day.
const DefaultAccrualWindow = 24 * time.Hour

var errNotDue = errors.New("accrual not due")

// AccrualEngine credits daily profit to enrolled portfolios. Eligibility is
// derived only from each portfolio's LastUpdated, so a sweep can be repeated
// or resumed at any point without crediting a window twice.
type AccrualEngine struct {
	store  storage.PortfolioStore
	window int64
	logger *slog.Logger
}

// NewAccrualEngine builds an engine with the given window length.
func NewAccrualEngine(store storage.PortfolioStore, window time.Duration, logger *slog.Logger) *AccrualEngine {
	if window <= 0 {
		window = DefaultAccrualWindow
	}
	return &AccrualEngine{store: store, window: int64(window), logger: logger}
}

// Run sweeps every enrolled portfolio and returns how many were credited.
// Failures are per portfolio; the sweep continues and reports them joined.
func (e *AccrualEngine) Run(ctx context.Context, now int64) (int, error) {
	users, err := e.store.ListEnrolled(ctx)
	if err != nil {
		return 0, fmt.Errorf("list enrolled portfolios: %w", err)
	}

	credited := 0
	var errs []error
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("accrual interrupted after %d credits: %w", credited, err))
			break
		}
		ok, err := e.credit(ctx, user, now)
		if err != nil {
			e.logger.Error("accrual credit failed", "user", user, "error", err)
			errs = append(errs, fmt.Errorf("credit %s: %w", user, err))
			continue
		}
		if ok {
			credited++
		}
	}
	return credited, errors.Join(errs...)
}

func (e *AccrualEngine) credit(ctx context.Context, user string, now int64) (bool, error) {
	updated, err := e.store.UpdatePortfolio(ctx, user, false, accrue(now, e.window))
	switch {
	case errors.Is(err, errNotDue), errors.Is(err, storage.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	e.logger.Debug("accrual credited", "user", user, "vip_level", updated.VIPLevel, "profits", updated.Profits)
	return true, nil
}

// accrue credits every fully elapsed window since LastUpdated and moves
// LastUpdated to the start of the window that is still running.
func accrue(now, window int64) storage.PortfolioMutation {
	return func(pf *models.Portfolio) error {
		if !pf.Enrolled() || pf.DailyProfit <= 0 {
			return errNotDue
		}
		elapsed := now - pf.LastUpdated
		if elapsed < window {
			return errNotDue
		}
		windows := elapsed / window
		if windows > math.MaxInt64/pf.DailyProfit {
			return fmt.Errorf("%w: accrual of %d windows overflows", ErrInvalidAmount, windows)
		}
		credit := windows * pf.DailyProfit
		if credit > math.MaxInt64-pf.Balance || credit > math.MaxInt64-pf.Profits {
			return fmt.Errorf("%w: accrual credit %d overflows portfolio", ErrInvalidAmount, credit)
		}
		pf.Balance += credit
		pf.Profits += credit
		pf.LastUpdated += windows * window
		return nil
	}
}
