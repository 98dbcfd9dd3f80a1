package finance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hongminglow/vip-ledger/internal/models"
	"github.com/hongminglow/vip-ledger/internal/storage"
)

// DefaultPlans is the tier table seeded into an empty catalog. Amounts are
// paisa (1/100 NPR).
func DefaultPlans() []models.InvestmentPlan {
	return []models.InvestmentPlan{
		{VIPLevel: 1, Title: "VIP 1 Starter", Price: 1_000_00, DailyIncome: 40_00,
			Features: []string{"Daily profit credited every 24 hours", "Withdraw any time"}},
		{VIPLevel: 2, Title: "VIP 2 Silver", Price: 5_000_00, DailyIncome: 220_00,
			Features: []string{"Daily profit credited every 24 hours", "Withdraw any time", "Priority support"}},
		{VIPLevel: 3, Title: "VIP 3 Gold", Price: 10_000_00, DailyIncome: 480_00,
			Features: []string{"Daily profit credited every 24 hours", "Withdraw any time", "Priority support"}},
		{VIPLevel: 4, Title: "VIP 4 Platinum", Price: 25_000_00, DailyIncome: 1_250_00,
			Features: []string{"Daily profit credited every 24 hours", "Withdraw any time", "Dedicated manager"}},
		{VIPLevel: 5, Title: "VIP 5 Diamond", Price: 50_000_00, DailyIncome: 2_600_00,
			Features: []string{"Daily profit credited every 24 hours", "Withdraw any time", "Dedicated manager", "Early access to new plans"}},
	}
}

// Catalog is the read-mostly table of investment tiers.
type Catalog struct {
	plans storage.PlanStore
}

// NewCatalog wraps a plan store.
func NewCatalog(plans storage.PlanStore) *Catalog {
	return &Catalog{plans: plans}
}

// List returns every plan ordered by VIP level.
func (c *Catalog) List(ctx context.Context) ([]models.InvestmentPlan, error) {
	plans, err := c.plans.ListPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	if plans == nil {
		plans = []models.InvestmentPlan{}
	}
	return plans, nil
}

// Get returns the plan at vipLevel or ErrUnknownPlan.
func (c *Catalog) Get(ctx context.Context, vipLevel int64) (models.InvestmentPlan, error) {
	if vipLevel <= 0 {
		return models.InvestmentPlan{}, fmt.Errorf("%w: level %d", ErrUnknownPlan, vipLevel)
	}
	plan, err := c.plans.GetPlan(ctx, vipLevel)
	if errors.Is(err, storage.ErrNotFound) {
		return models.InvestmentPlan{}, fmt.Errorf("%w: level %d", ErrUnknownPlan, vipLevel)
	}
	if err != nil {
		return models.InvestmentPlan{}, fmt.Errorf("load plan %d: %w", vipLevel, err)
	}
	return plan, nil
}

// Upsert validates and stores plan.
func (c *Catalog) Upsert(ctx context.Context, plan models.InvestmentPlan) (models.InvestmentPlan, error) {
	plan, err := normalizePlan(plan)
	if err != nil {
		return models.InvestmentPlan{}, err
	}
	if err := c.plans.UpsertPlan(ctx, plan); err != nil {
		return models.InvestmentPlan{}, fmt.Errorf("store plan %d: %w", plan.VIPLevel, err)
	}
	return plan, nil
}

// Seed stores defaults when the catalog is empty and reports whether it did.
func (c *Catalog) Seed(ctx context.Context, defaults []models.InvestmentPlan) (bool, error) {
	existing, err := c.List(ctx)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}
	for _, plan := range defaults {
		if _, err := c.Upsert(ctx, plan); err != nil {
			return false, err
		}
	}
	return true, nil
}

func normalizePlan(plan models.InvestmentPlan) (models.InvestmentPlan, error) {
	plan = plan.Clone()
	plan.Title = strings.TrimSpace(plan.Title)
	switch {
	case plan.VIPLevel <= 0:
		return plan, fmt.Errorf("%w: vip level must be positive", ErrInvalidPlan)
	case plan.Title == "":
		return plan, fmt.Errorf("%w: title is required", ErrInvalidPlan)
	case plan.Price < 0:
		return plan, fmt.Errorf("%w: price must not be negative", ErrInvalidPlan)
	case plan.DailyIncome <= 0:
		return plan, fmt.Errorf("%w: daily income must be positive", ErrInvalidPlan)
	}
	features := make([]string, 0, len(plan.Features))
	for _, f := range plan.Features {
		if f = strings.TrimSpace(f); f != "" {
			features = append(features, f)
		}
	}
	plan.Features = features
	return plan, nil
}
