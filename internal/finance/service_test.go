package finance

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/hongminglow/vip-ledger/internal/models"
)

func TestService_DepositJoinAccrueWithdraw(t *testing.T) {
	f := newServiceFixture(t, true)
	ctx := context.Background()
	const user = "alice"

	f.mustDeposit(t, user, 1000)
	f.addPlan(t, 9, 500, 50)
	if _, err := f.svc.JoinPlan(ctx, user, 9); err != nil {
		t.Fatalf("join: %v", err)
	}

	f.clock.Advance(DefaultAccrualWindow)
	credited, err := f.svc.RunDailyAccrual(ctx, testAdmin)
	if err != nil || credited != 1 {
		t.Fatalf("accrual = %d, %v", credited, err)
	}
	p := f.mustPortfolio(t, user)
	if p.Balance != 550 || p.Profits != 50 {
		t.Fatalf("after accrual: %+v", p)
	}

	if _, err := f.svc.Withdraw(ctx, user, 600, "bank-1"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdraw: got %v, want ErrInsufficientFunds", err)
	}
	if _, err := f.svc.Withdraw(ctx, user, 550, "bank-2"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	p = f.mustPortfolio(t, user)
	if p.Balance != 0 || p.TotalDeposits != 1000 || p.TotalWithdrawals != 550 {
		t.Fatalf("final portfolio: %+v", p)
	}

	txns, _ := f.svc.LiveTransactions(ctx, 10, 0)
	if len(txns) != 2 {
		t.Fatalf("ledger has %d entries, want 2 (rejected withdrawal must not be recorded)", len(txns))
	}
}

func TestService_ConcurrentFullWithdrawalsOnlyOneSucceeds(t *testing.T) {
	f := newServiceFixture(t, true)
	ctx := context.Background()
	f.mustDeposit(t, "alice", 1000)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Withdraw(ctx, "alice", 1000, fmt.Sprintf("bank-%d", i))
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("withdraw %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successes = %d, want 1", successes)
	}
	if p := f.mustPortfolio(t, "alice"); p.Balance != 0 {
		t.Fatalf("balance = %d, want 0", p.Balance)
	}
}

func TestService_PortfolioReconcilesWithLedger(t *testing.T) {
	f := newServiceFixture(t, true)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	users := []string{"alice", "bob", "carol"}

	for i := 0; i < 300; i++ {
		user := users[rng.Intn(len(users))]
		amount := int64(rng.Intn(5000) + 1)
		ref := fmt.Sprintf("ref-%d", i)
		switch rng.Intn(4) {
		case 0, 1:
			_, _ = f.svc.Deposit(ctx, user, amount, ref)
		case 2:
			_, _ = f.svc.Withdraw(ctx, user, amount, ref)
		case 3:
			_, _ = f.svc.JoinPlan(ctx, user, int64(rng.Intn(5)+1))
		}
		if i%50 == 0 {
			f.clock.Advance(DefaultAccrualWindow)
			if _, err := f.svc.RunDailyAccrual(ctx, testAdmin); err != nil {
				t.Fatalf("accrual: %v", err)
			}
		}
	}

	txns, _ := f.svc.LiveTransactions(ctx, 10_000, 0)
	deposits := map[string]int64{}
	withdrawals := map[string]int64{}
	for _, txn := range txns {
		if txn.Status != models.StatusCompleted {
			t.Fatalf("auto-confirmed ledger holds %s entry %s", txn.Status, txn.ID)
		}
		switch txn.Type {
		case models.Deposit:
			deposits[txn.User] += txn.Amount
		case models.Withdrawal:
			withdrawals[txn.User] += txn.Amount
		}
	}

	for _, user := range users {
		p, err := f.svc.Portfolio(ctx, user)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if p.Balance < 0 {
			t.Fatalf("%s balance negative: %d", user, p.Balance)
		}
		if p.TotalDeposits != deposits[user] || p.TotalWithdrawals != withdrawals[user] {
			t.Fatalf("%s totals %d/%d, ledger %d/%d", user, p.TotalDeposits, p.TotalWithdrawals, deposits[user], withdrawals[user])
		}
		if p.Balance > p.TotalDeposits+p.Profits-p.TotalWithdrawals {
			t.Fatalf("%s balance %d exceeds funded amount", user, p.Balance)
		}
	}
}

func TestService_RequiresIdentityAndRoles(t *testing.T) {
	f := newServiceFixture(t, true)
	ctx := context.Background()

	if _, err := f.svc.Deposit(ctx, "", 10, "ref"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("anonymous deposit: got %v", err)
	}
	if _, err := f.svc.JoinPlan(ctx, " ", 1); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("anonymous join: got %v", err)
	}
	if _, err := f.svc.RunDailyAccrual(ctx, "alice"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-admin accrual: got %v", err)
	}
	if _, err := f.svc.UpsertPlan(ctx, "alice", DefaultPlans()[0]); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-admin upsert: got %v", err)
	}

	if err := f.svc.AssignRole(ctx, testAdmin, "ghost", models.RoleGuest); err != nil {
		t.Fatalf("demote to guest: %v", err)
	}
	if _, err := f.svc.Deposit(ctx, "ghost", 10, "ref"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("guest deposit: got %v", err)
	}
	if _, err := f.svc.Portfolio(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("forbidden deposit left a portfolio: %v", err)
	}

	isAdmin, err := f.svc.IsCallerAdmin(ctx, testAdmin)
	if err != nil || !isAdmin {
		t.Fatalf("IsCallerAdmin(admin) = %v, %v", isAdmin, err)
	}
	if role, _ := f.svc.CallerRole(ctx, "alice"); role != models.RoleUser {
		t.Fatalf("default role = %q", role)
	}
}

func TestService_PendingDepositsWaitForAdmin(t *testing.T) {
	f := newServiceFixture(t, false)
	ctx := context.Background()

	txn := f.mustDeposit(t, "alice", 700)
	if txn.Status != models.StatusPending {
		t.Fatalf("status = %s, want pending", txn.Status)
	}
	if _, err := f.svc.Portfolio(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("pending deposit credited early: %v", err)
	}

	if _, err := f.svc.FinalizeTransaction(ctx, "alice", txn.ID, models.StatusCompleted); !errors.Is(err, ErrForbidden) {
		t.Fatalf("self-finalize: got %v, want ErrForbidden", err)
	}
	done, err := f.svc.FinalizeTransaction(ctx, testAdmin, txn.ID, models.StatusCompleted)
	if err != nil || done.Status != models.StatusCompleted {
		t.Fatalf("finalize = %+v, %v", done, err)
	}
	if p := f.mustPortfolio(t, "alice"); p.Balance != 700 {
		t.Fatalf("balance = %d, want 700", p.Balance)
	}
	if _, err := f.svc.FinalizeTransaction(ctx, testAdmin, txn.ID, models.StatusFailed); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("refinalize: got %v, want ErrInvalidTransition", err)
	}

	got, err := f.svc.Transaction(ctx, testAdmin, txn.ID)
	if err != nil || got.Status != models.StatusCompleted {
		t.Fatalf("Transaction = %+v, %v", got, err)
	}
}

func TestService_ProfilesSelfOrAdmin(t *testing.T) {
	f := newServiceFixture(t, true)
	ctx := context.Background()

	if _, err := f.svc.CallerProfile(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing profile: got %v", err)
	}
	if err := f.svc.SaveCallerProfile(ctx, "alice", models.UserProfile{Name: "  "}); !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("blank name: got %v", err)
	}
	if err := f.svc.SaveCallerProfile(ctx, "alice", models.UserProfile{Name: " Alice "}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if p, _ := f.svc.CallerProfile(ctx, "alice"); p.Name != "Alice" {
		t.Fatalf("name = %q", p.Name)
	}
	if _, err := f.svc.UserProfile(ctx, "bob", "alice"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("cross read by user: got %v", err)
	}
	if p, err := f.svc.UserProfile(ctx, testAdmin, "alice"); err != nil || p.Name != "Alice" {
		t.Fatalf("admin read = %+v, %v", p, err)
	}
}

func TestService_PublishesCommittedChanges(t *testing.T) {
	f := newServiceFixture(t, true)
	ctx := context.Background()

	f.mustDeposit(t, "alice", 2_000_00)
	if _, err := f.svc.JoinPlan(ctx, "alice", 1); err != nil {
		t.Fatalf("join: %v", err)
	}
	_, _ = f.svc.Withdraw(ctx, "alice", 1<<40, "too-much")
	_, _ = f.svc.RunScheduledAccrual(ctx)

	want := []string{EventTransactionFinalized, EventPlanJoined, EventAccrualCompleted}
	got := f.events.Keys()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestService_PaddedIdentitiesShareOnePortfolio(t *testing.T) {
	f := newServiceFixture(t, true)
	ctx := context.Background()
	f.addPlan(t, 9, 500, 50)

	if _, err := f.svc.Deposit(ctx, " alice ", 1000, "esewa-1"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.svc.JoinPlan(ctx, "alice\t", 9); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := f.svc.Withdraw(ctx, "\nalice", 100, "bank-1"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	p := f.mustPortfolio(t, "alice")
	if p.Balance != 400 || p.VIPLevel != 9 || p.TotalDeposits != 1000 {
		t.Fatalf("portfolio = %+v", p)
	}
	for _, padded := range []string{" alice ", "alice\t", "\nalice"} {
		if _, err := f.store.GetPortfolio(ctx, padded); err == nil {
			t.Fatalf("store holds a separate portfolio for %q", padded)
		}
	}
	txns, _ := f.svc.LiveTransactions(ctx, 10, 0)
	for _, txn := range txns {
		if txn.User != "alice" {
			t.Fatalf("ledger user = %q", txn.User)
		}
	}

	if err := f.svc.SaveCallerProfile(ctx, " alice", models.UserProfile{Name: "Alice"}); err != nil {
		t.Fatalf("save profile: %v", err)
	}
	if got, err := f.svc.UserProfile(ctx, "alice ", " alice"); err != nil || got.Name != "Alice" {
		t.Fatalf("own profile = %+v, %v", got, err)
	}
	if _, err := f.svc.RunDailyAccrual(ctx, " "+testAdmin+" "); err != nil {
		t.Fatalf("padded admin accrual: %v", err)
	}
}
