package service

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"

	"github.com/superparser/gateway-control/internal/model"
	"github.com/superparser/gateway-control/internal/repository"
)

// PlanSpec is one catalog entry as configured, before it is stored.
type PlanSpec struct {
	Name             string  `toml:"name"`
	MonthlyQuota     int     `toml:"monthly_quota"`
	RateLimit        int     `toml:"rate_limit"`
	Price            float64 `toml:"price"`
	OveragePrice     float64 `toml:"overage_price"`
	RejectionMessage string  `toml:"rejection_message"`
}

type catalogFile struct {
	Plans []PlanSpec `toml:"plans"`
}

// DefaultPlans is the built-in tier set.
func DefaultPlans() []PlanSpec {
	return []PlanSpec{
		{
			Name:             model.PlanFree,
			MonthlyQuota:     50,
			RateLimit:        2,
			RejectionMessage: "Free tier limit reached. Please upgrade your subscription.",
		},
		{
			Name:             model.PlanBasic,
			MonthlyQuota:     500,
			RateLimit:        5,
			Price:            50,
			OveragePrice:     0.1,
			RejectionMessage: "Basic tier limit reached. Please upgrade your subscription.",
		},
		{
			Name:             model.PlanAdvance,
			MonthlyQuota:     2000,
			RateLimit:        5,
			Price:            100,
			OveragePrice:     0.05,
			RejectionMessage: "Advanced tier limit reached. Please upgrade your subscription.",
		},
		{
			Name:             model.PlanPremium,
			MonthlyQuota:     5000,
			RateLimit:        5,
			Price:            250,
			OveragePrice:     0.05,
			RejectionMessage: "Premium tier limit reached. Contact support for custom plans.",
		},
	}
}

// LoadCatalogFile reads a TOML catalog made of [[plans]] tables.
func LoadCatalogFile(path string) ([]PlanSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog: %w", err)
	}

	var file catalogFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse plan catalog %s: %w", path, err)
	}

	for i := range file.Plans {
		file.Plans[i].Name = strings.ToLower(strings.TrimSpace(file.Plans[i].Name))
	}
	if err := ValidatePlans(file.Plans); err != nil {
		return nil, fmt.Errorf("plan catalog %s: %w", path, err)
	}
	return file.Plans, nil
}

// ValidatePlans checks a catalog before it is applied. The free plan is
// required because every verified account starts on it.
//
// A zero MonthlyQuota or RateLimit leaves that limit off the consumer, which
// makes the tier unlimited on that axis. Paid tiers may do this; the free
// tier must carry a positive quota.
func ValidatePlans(plans []PlanSpec) error {
	seen := make(map[string]bool, len(plans))
	for _, p := range plans {
		if p.Name == "" {
			return fmt.Errorf("plan without a name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate plan %q", p.Name)
		}
		seen[p.Name] = true
		if p.MonthlyQuota < 0 || p.RateLimit < 0 {
			return fmt.Errorf("plan %q: quota and rate limit must not be negative", p.Name)
		}
		if p.Price < 0 || p.OveragePrice < 0 {
			return fmt.Errorf("plan %q: prices must not be negative", p.Name)
		}
	}
	if !seen[model.PlanFree] {
		return fmt.Errorf("catalog must define the %q plan", model.PlanFree)
	}
	for _, p := range plans {
		if p.Name == model.PlanFree && p.MonthlyQuota == 0 {
			return fmt.Errorf("plan %q must have a positive monthly quota", model.PlanFree)
		}
	}
	return nil
}

type CatalogService struct {
	planRepo repository.PlanRepository
}

func NewCatalogService(planRepo repository.PlanRepository) *CatalogService {
	return &CatalogService{planRepo: planRepo}
}

// Apply upserts every plan by name. Plans missing from the catalog are left
// in place so existing subscriptions keep resolving.
func (s *CatalogService) Apply(ctx context.Context, plans []PlanSpec) ([]model.Plan, error) {
	if err := ValidatePlans(plans); err != nil {
		return nil, err
	}

	applied := make([]model.Plan, 0, len(plans))
	for _, p := range plans {
		plan, err := s.planRepo.Upsert(ctx, model.UpsertPlanParams{
			Name:             p.Name,
			MonthlyQuota:     p.MonthlyQuota,
			RateLimit:        p.RateLimit,
			Price:            p.Price,
			OveragePrice:     p.OveragePrice,
			RejectionMessage: p.RejectionMessage,
		})
		if err != nil {
			return nil, fmt.Errorf("upsert plan %s: %w", p.Name, err)
		}
		applied = append(applied, *plan)
	}

	log.Info().Int("plans", len(applied)).Msg("plan catalog applied")
	return applied, nil
}

func (s *CatalogService) List(ctx context.Context) ([]model.Plan, error) {
	plans, err := s.planRepo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}
