package main

import (
	"bytes"
	"context"
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/google/subcommands"

	"github.com/hongminglow/vip-ledger/internal/finance"
	"github.com/hongminglow/vip-ledger/internal/models"
	"github.com/hongminglow/vip-ledger/internal/storage"
	"github.com/hongminglow/vip-ledger/internal/storage/memory"
)

func memoryOpener(store *memory.Store) opener {
	return func(context.Context) (storage.Store, env, error) {
		return store, env{accrualWindow: time.Hour, currency: "NPR"}, nil
	}
}

func run(t *testing.T, store *memory.Store, args ...string) (subcommands.ExitStatus, string) {
	t.Helper()
	var out bytes.Buffer
	fs := flag.NewFlagSet("ledgerctl", flag.ContinueOnError)
	commander := subcommands.NewCommander(fs, "ledgerctl")
	for _, c := range commands(memoryOpener(store), &out) {
		commander.Register(c, "")
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	return commander.Execute(context.Background()), out.String()
}

func TestGrantAdmin(t *testing.T) {
	store := memory.NewStore()

	if status, _ := run(t, store, "grant-admin"); status != subcommands.ExitUsageError {
		t.Fatalf("missing -user status = %v", status)
	}
	status, out := run(t, store, "grant-admin", "-user", "ops")
	if status != subcommands.ExitSuccess || !strings.Contains(out, "ops is now an admin") {
		t.Fatalf("grant-admin = %v %q", status, out)
	}
	if role, _ := store.GetRole(context.Background(), "ops"); role != models.RoleAdmin {
		t.Fatalf("role = %q", role)
	}
}

func TestPlansAndTx(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	svc := finance.NewService(store, nil, nil, finance.Options{AutoConfirmDeposits: true})
	if err := svc.SeedPlans(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.Deposit(ctx, "hari", 150_00, "esewa-9"); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	status, out := run(t, store, "plans")
	if status != subcommands.ExitSuccess || !strings.Contains(out, "VIP 1 Starter") {
		t.Fatalf("plans = %v %q", status, out)
	}
	status, out = run(t, store, "tx", "-n", "5")
	if status != subcommands.ExitSuccess || !strings.Contains(out, "hari") || !strings.Contains(out, "esewa-9") {
		t.Fatalf("tx = %v %q", status, out)
	}
	status, out = run(t, store, "tx", "-status", "pending")
	if status != subcommands.ExitSuccess || strings.Contains(out, "hari") {
		t.Fatalf("tx -status pending = %v %q", status, out)
	}
}

func TestAccrue(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	_, err := store.UpdatePortfolio(ctx, "hari", true, func(p *models.Portfolio) error {
		p.VIPLevel = 1
		p.DailyProfit = 40_00
		p.LastUpdated = time.Now().Add(-2 * time.Hour).UnixNano()
		return nil
	})
	if err != nil {
		t.Fatalf("seed portfolio: %v", err)
	}

	status, out := run(t, store, "accrue")
	if status != subcommands.ExitSuccess || !strings.Contains(out, "credited 1 portfolio") {
		t.Fatalf("accrue = %v %q", status, out)
	}
	if p, _ := store.GetPortfolio(ctx, "hari"); p.Profits != 80_00 {
		t.Fatalf("profits = %d, want two one-hour windows", p.Profits)
	}
}
