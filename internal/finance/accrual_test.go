package finance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hongminglow/vip-ledger/internal/models"
	"github.com/hongminglow/vip-ledger/internal/storage"
	"github.com/hongminglow/vip-ledger/internal/storage/memory"
)

// failingPortfolioStore fails every update for one user.
type failingPortfolioStore struct {
	*memory.Store
	failUser string
}

func (s *failingPortfolioStore) UpdatePortfolio(ctx context.Context, user string, create bool, fn storage.PortfolioMutation) (models.Portfolio, error) {
	if user == s.failUser {
		return models.Portfolio{}, errors.New("disk full")
	}
	return s.Store.UpdatePortfolio(ctx, user, create, fn)
}

func enrolled(t *testing.T, store *memory.Store, user string, daily, lastUpdated int64) {
	t.Helper()
	_, err := store.UpdatePortfolio(context.Background(), user, true, func(p *models.Portfolio) error {
		p.VIPLevel = 1
		p.DailyProfit = daily
		p.LastUpdated = lastUpdated
		return nil
	})
	if err != nil {
		t.Fatalf("seed portfolio %s: %v", user, err)
	}
}

func TestAccrualRun_IsIdempotentWithinWindow(t *testing.T) {
	store := memory.NewStore()
	engine := NewAccrualEngine(store, DefaultAccrualWindow, discardLogger())
	ctx := context.Background()
	enrolled(t, store, "alice", 50, testEpoch)

	now := testEpoch + int64(DefaultAccrualWindow)
	credited, err := engine.Run(ctx, now)
	if err != nil || credited != 1 {
		t.Fatalf("first run = %d, %v", credited, err)
	}
	credited, err = engine.Run(ctx, now+int64(time.Hour))
	if err != nil || credited != 0 {
		t.Fatalf("second run = %d, %v; want 0", credited, err)
	}

	p, _ := store.GetPortfolio(ctx, "alice")
	if p.Balance != 50 || p.Profits != 50 || p.LastUpdated != now {
		t.Fatalf("unexpected portfolio %+v", p)
	}
}

func TestAccrualRun_CatchesUpWholeWindowsOnly(t *testing.T) {
	store := memory.NewStore()
	engine := NewAccrualEngine(store, DefaultAccrualWindow, discardLogger())
	ctx := context.Background()
	enrolled(t, store, "alice", 50, testEpoch)

	now := testEpoch + 3*int64(DefaultAccrualWindow) + int64(5*time.Hour)
	if _, err := engine.Run(ctx, now); err != nil {
		t.Fatalf("run: %v", err)
	}
	p, _ := store.GetPortfolio(ctx, "alice")
	if p.Profits != 150 {
		t.Fatalf("profits = %d, want 150", p.Profits)
	}
	if want := testEpoch + 3*int64(DefaultAccrualWindow); p.LastUpdated != want {
		t.Fatalf("LastUpdated = %d, want %d", p.LastUpdated, want)
	}
}

func TestAccrualRun_SkipsUnenrolled(t *testing.T) {
	store := memory.NewStore()
	engine := NewAccrualEngine(store, DefaultAccrualWindow, discardLogger())
	ctx := context.Background()
	_, _ = store.UpdatePortfolio(ctx, "bob", true, func(p *models.Portfolio) error {
		p.Balance = 100
		p.LastUpdated = testEpoch
		return nil
	})

	credited, err := engine.Run(ctx, testEpoch+10*int64(DefaultAccrualWindow))
	if err != nil || credited != 0 {
		t.Fatalf("run = %d, %v", credited, err)
	}
	p, _ := store.GetPortfolio(ctx, "bob")
	if p.Balance != 100 || p.Profits != 0 {
		t.Fatalf("unenrolled portfolio changed: %+v", p)
	}
}

func TestAccrualRun_ContinuesPastPerPortfolioFailure(t *testing.T) {
	inner := memory.NewStore()
	store := &failingPortfolioStore{Store: inner, failUser: "bob"}
	engine := NewAccrualEngine(store, DefaultAccrualWindow, discardLogger())
	ctx := context.Background()
	for _, user := range []string{"alice", "bob", "carol"} {
		enrolled(t, inner, user, 10, testEpoch)
	}

	credited, err := engine.Run(ctx, testEpoch+int64(DefaultAccrualWindow))
	if credited != 2 {
		t.Fatalf("credited = %d, want 2", credited)
	}
	if err == nil {
		t.Fatal("expected the bob failure to be reported")
	}
	for _, user := range []string{"alice", "carol"} {
		if p, _ := inner.GetPortfolio(ctx, user); p.Profits != 10 {
			t.Fatalf("%s profits = %d, want 10", user, p.Profits)
		}
	}
	if p, _ := inner.GetPortfolio(ctx, "bob"); p.Profits != 0 {
		t.Fatalf("bob profits = %d, want 0", p.Profits)
	}
}

func TestAccrualRun_StopsOnCancelledContext(t *testing.T) {
	store := memory.NewStore()
	engine := NewAccrualEngine(store, DefaultAccrualWindow, discardLogger())
	enrolled(t, store, "alice", 10, testEpoch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	credited, err := engine.Run(ctx, testEpoch+int64(DefaultAccrualWindow))
	if credited != 0 || !errors.Is(err, context.Canceled) {
		t.Fatalf("run = %d, %v; want 0, context.Canceled", credited, err)
	}
}

func TestAccrue_RejectsOverflow(t *testing.T) {
	p := models.Portfolio{VIPLevel: 1, DailyProfit: 1 << 62, Balance: 1 << 62}
	err := accrue(2*int64(DefaultAccrualWindow), int64(DefaultAccrualWindow))(&p)
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("got %v, want ErrInvalidAmount", err)
	}
}
