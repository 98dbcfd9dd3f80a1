package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/google/subcommands"
	"github.com/spf13/viper"

	"github.com/hongminglow/vip-ledger/internal/finance"
	"github.com/hongminglow/vip-ledger/internal/models"
	"github.com/hongminglow/vip-ledger/internal/storage"
	"github.com/hongminglow/vip-ledger/internal/storage/postgres"
)

// opener returns the store a command works on plus the tuning read from the
// environment.
type opener func(ctx context.Context) (storage.Store, env, error)

type env struct {
	accrualWindow time.Duration
	currency      string
}

func envOpener(ctx context.Context) (storage.Store, env, error) {
	v := viper.New()
	v.SetDefault("ACCRUAL_WINDOW_HOURS", 24)
	v.SetDefault("CURRENCY", "NPR")
	v.AutomaticEnv()

	e := env{
		accrualWindow: time.Duration(v.GetInt("ACCRUAL_WINDOW_HOURS")) * time.Hour,
		currency:      strings.ToUpper(v.GetString("CURRENCY")),
	}
	url := strings.TrimSpace(v.GetString("DATABASE_URL"))
	if url == "" {
		return nil, e, errors.New("DATABASE_URL is required")
	}
	store, err := postgres.NewStore(ctx, url)
	if err != nil {
		return nil, e, err
	}
	return store, e, nil
}

func commands(open opener, out io.Writer) []subcommands.Command {
	return []subcommands.Command{
		&grantAdminCmd{open: open, out: out},
		&accrueCmd{open: open, out: out},
		&plansCmd{open: open, out: out},
		&txCmd{open: open, out: out},
	}
}

func newService(store storage.Store, e env, out io.Writer) *finance.Service {
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return finance.NewService(store, nil, logger, finance.Options{AccrualWindow: e.accrualWindow})
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, "Error:", err)
	return subcommands.ExitFailure
}

// --- grantAdminCmd ---

type grantAdminCmd struct {
	open opener
	out  io.Writer
	user string
}

func (*grantAdminCmd) Name() string     { return "grant-admin" }
func (*grantAdminCmd) Synopsis() string { return "grant the admin role to an identity" }
func (*grantAdminCmd) Usage() string {
	return `ledgerctl grant-admin -user <username>

  Writes the admin role for <username> directly, without an admin caller.
  Use it to provision the first administrator.
`
}

func (c *grantAdminCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "The username to promote.")
}

func (c *grantAdminCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if strings.TrimSpace(c.user) == "" {
		fmt.Fprintln(os.Stderr, "Error: -user is required.")
		return subcommands.ExitUsageError
	}
	store, e, err := c.open(ctx)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	if err := newService(store, e, c.out).BootstrapAdmins(ctx, []string{strings.TrimSpace(c.user)}); err != nil {
		return fail(err)
	}
	fmt.Fprintf(c.out, "%s is now an admin\n", strings.TrimSpace(c.user))
	return subcommands.ExitSuccess
}

// --- accrueCmd ---

type accrueCmd struct {
	open opener
	out  io.Writer
}

func (*accrueCmd) Name() string     { return "accrue" }
func (*accrueCmd) Synopsis() string { return "credit daily profit to every due portfolio" }
func (*accrueCmd) Usage() string {
	return `ledgerctl accrue

  Runs one accrual sweep. Portfolios credited within the current window are
  skipped, so running it twice is harmless.
`
}

func (*accrueCmd) SetFlags(*flag.FlagSet) {}

func (c *accrueCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	store, e, err := c.open(ctx)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	credited, err := newService(store, e, c.out).RunScheduledAccrual(ctx)
	fmt.Fprintf(c.out, "credited %d portfolio(s)\n", credited)
	if err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

// --- plansCmd ---

type plansCmd struct {
	open opener
	out  io.Writer
}

func (*plansCmd) Name() string     { return "plans" }
func (*plansCmd) Synopsis() string { return "list the investment plan catalog" }
func (*plansCmd) Usage() string {
	return `ledgerctl plans

  Prints every plan with its price and daily income.
`
}

func (*plansCmd) SetFlags(*flag.FlagSet) {}

func (c *plansCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	store, e, err := c.open(ctx)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	plans, err := newService(store, e, c.out).ListPlans(ctx)
	if err != nil {
		return fail(err)
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tTITLE\tPRICE\tDAILY")
	for _, p := range plans {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.VIPLevel, p.Title,
			money.New(p.Price, e.currency).Display(), money.New(p.DailyIncome, e.currency).Display())
	}
	if err := w.Flush(); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

// --- txCmd ---

type txCmd struct {
	open   opener
	out    io.Writer
	limit  int
	offset int
	status string
}

func (*txCmd) Name() string     { return "tx" }
func (*txCmd) Synopsis() string { return "list recent ledger transactions" }
func (*txCmd) Usage() string {
	return `ledgerctl tx [-n <count>] [-offset <skip>] [-status pending|completed|failed]

  Prints the most recent transactions first with their real identities.
`
}

func (c *txCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.limit, "n", 20, "Number of transactions to print.")
	f.IntVar(&c.offset, "offset", 0, "Number of most recent transactions to skip.")
	f.StringVar(&c.status, "status", "", "Only print transactions with this status.")
}

func (c *txCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.limit <= 0 || c.offset < 0 {
		fmt.Fprintln(os.Stderr, "Error: -n must be positive and -offset non-negative.")
		return subcommands.ExitUsageError
	}
	store, e, err := c.open(ctx)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	txns, err := newService(store, e, c.out).LiveTransactions(ctx, c.limit, c.offset)
	if err != nil {
		return fail(err)
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tTYPE\tAMOUNT\tSTATUS\tTIME\tREFERENCE")
	for _, t := range txns {
		if c.status != "" && t.Status != models.TransactionStatus(c.status) {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.User, t.Type,
			money.New(t.Amount, e.currency).Display(), t.Status,
			time.Unix(0, t.Timestamp).UTC().Format(time.RFC3339), t.Reference)
	}
	if err := w.Flush(); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}
