package service

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/superparser/gateway-control/internal/errors"
	"github.com/superparser/gateway-control/internal/model"
	"github.com/superparser/gateway-control/internal/repository"
	"github.com/superparser/gateway-control/internal/util"
)

const (
	ReportWindowDays = 30
	dayLayout        = "2006-01-02"
)

type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// UsageReport covers the trailing reporting window.
type UsageReport struct {
	Total    int            `json:"total"`
	ByPrefix map[string]int `json:"byPrefix"`
	Daily    []DayCount     `json:"daily"`
}

type SubscriptionSummary struct {
	Plan           string          `json:"plan"`
	Active         bool            `json:"active"`
	StartAt        *time.Time      `json:"startAt,omitempty"`
	EndAt          *time.Time      `json:"endAt,omitempty"`
	MonthlyQuota   int             `json:"monthlyQuota"`
	RateLimit      int             `json:"rateLimit"`
	Price          float64         `json:"price"`
	OveragePrice   float64         `json:"overagePrice"`
	UsedThisMonth  int             `json:"usedThisMonth"`
	RemainingQuota int             `json:"remainingQuota"`
	SyncState      model.SyncState `json:"syncState,omitempty"`
	SyncError      string          `json:"syncError,omitempty"`
}

type Dashboard struct {
	APIKey       string               `json:"apiKey"`
	Usage        *UsageReport         `json:"usage"`
	Subscription *SubscriptionSummary `json:"subscription"`
}

// WindowStart is UTC midnight of the first day of a days-long window ending
// today.
func WindowStart(now time.Time, days int) time.Time {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today.AddDate(0, 0, -(days - 1))
}

// BuildDailySeries zero-fills counts into one bucket per day, oldest first.
// The returned total is the sum of the buckets.
func BuildDailySeries(counts []model.DailyCount, now time.Time, days int) ([]DayCount, int) {
	byDay := make(map[string]int, len(counts))
	for _, c := range counts {
		byDay[c.Day.Format(dayLayout)] += c.Count
	}

	start := WindowStart(now, days)
	series := make([]DayCount, days)
	total := 0
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i).Format(dayLayout)
		series[i] = DayCount{Date: date, Count: byDay[date]}
		total += series[i].Count
	}
	return series, total
}

type ReportService struct {
	accountRepo repository.AccountRepository
	planRepo    repository.PlanRepository
	subRepo     repository.SubscriptionRepository
	usageRepo   repository.UsageRepository
	box         *util.SecretBox
	prefixes    []string
	now         func() time.Time
}

func NewReportService(
	accountRepo repository.AccountRepository,
	planRepo repository.PlanRepository,
	subRepo repository.SubscriptionRepository,
	usageRepo repository.UsageRepository,
	box *util.SecretBox,
	prefixes []string,
) *ReportService {
	return &ReportService{
		accountRepo: accountRepo,
		planRepo:    planRepo,
		subRepo:     subRepo,
		usageRepo:   usageRepo,
		box:         box,
		prefixes:    prefixes,
		now:         time.Now,
	}
}

// Usage reports the trailing window for the account. The per-day series is
// the source of the total so the two always agree.
func (s *ReportService) Usage(ctx context.Context, accountID string) (*UsageReport, error) {
	now := s.now()
	since := WindowStart(now, ReportWindowDays)

	counts, err := s.usageRepo.CountByDaySince(ctx, accountID, since)
	if err != nil {
		return nil, fmt.Errorf("count usage by day: %w", err)
	}
	daily, total := BuildDailySeries(counts, now, ReportWindowDays)

	byPrefix := make(map[string]int, len(s.prefixes))
	for _, prefix := range s.prefixes {
		n, err := s.usageRepo.CountSince(ctx, accountID, prefix, since)
		if err != nil {
			return nil, fmt.Errorf("count usage for %s: %w", prefix, err)
		}
		byPrefix[prefix] = n
	}

	return &UsageReport{Total: total, ByPrefix: byPrefix, Daily: daily}, nil
}

// ActiveSummary describes the active subscription, or nil when there is none.
func (s *ReportService) ActiveSummary(ctx context.Context, accountID string) (*SubscriptionSummary, error) {
	sub, err := s.subRepo.FindActiveByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("find active subscription: %w", err)
	}
	if sub == nil {
		return nil, nil
	}

	plan, err := s.planRepo.FindByID(ctx, sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("find plan: %w", err)
	}
	if plan == nil {
		return nil, fmt.Errorf("subscription %s references missing plan %s", sub.ID, sub.PlanID)
	}

	used, err := s.usageRepo.CountSince(ctx, accountID, "", monthStart(s.now()))
	if err != nil {
		return nil, fmt.Errorf("count monthly usage: %w", err)
	}

	summary := summarize(plan, used)
	summary.Active = true
	summary.StartAt = &sub.StartAt
	summary.EndAt = &sub.EndAt
	summary.SyncState = sub.SyncState
	if sub.SyncError != nil {
		summary.SyncError = *sub.SyncError
	}
	return summary, nil
}

// Summary is ActiveSummary with a fallback to the free plan, marked inactive
// and with no usage, for accounts without a subscription.
func (s *ReportService) Summary(ctx context.Context, accountID string) (*SubscriptionSummary, error) {
	summary, err := s.ActiveSummary(ctx, accountID)
	if err != nil || summary != nil {
		return summary, err
	}

	free, err := s.planRepo.FindByName(ctx, model.PlanFree)
	if err != nil {
		return nil, fmt.Errorf("find free plan: %w", err)
	}
	if free == nil {
		return nil, apperrors.NotFound("Plan")
	}
	return summarize(free, 0), nil
}

func (s *ReportService) Dashboard(ctx context.Context, accountID string) (*Dashboard, error) {
	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	if account == nil {
		return nil, apperrors.NotFound("Account")
	}

	key, err := s.box.Open(account.APIKey)
	if err != nil {
		return nil, fmt.Errorf("open api key: %w", err)
	}

	usage, err := s.Usage(ctx, accountID)
	if err != nil {
		return nil, err
	}
	summary, err := s.ActiveSummary(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return &Dashboard{APIKey: key, Usage: usage, Subscription: summary}, nil
}

func summarize(plan *model.Plan, used int) *SubscriptionSummary {
	remaining := plan.MonthlyQuota - used
	if remaining < 0 {
		remaining = 0
	}
	return &SubscriptionSummary{
		Plan:           plan.Name,
		MonthlyQuota:   plan.MonthlyQuota,
		RateLimit:      plan.RateLimit,
		Price:          plan.Price,
		OveragePrice:   plan.OveragePrice,
		UsedThisMonth:  used,
		RemainingQuota: remaining,
	}
}

func monthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
