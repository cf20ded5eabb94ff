package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/superparser/gateway-control/internal/database"
	apperrors "github.com/superparser/gateway-control/internal/errors"
	"github.com/superparser/gateway-control/internal/model"
	"github.com/superparser/gateway-control/internal/repository"
)

// memStore is an in-memory ledger with the same row semantics as the
// Postgres repositories. Transactions are serialized but not isolated,
// which is a harsher schedule than the database gives.
type memStore struct {
	txMu sync.Mutex

	mu       sync.Mutex
	accounts map[string]*model.Account
	plans    map[string]*model.Plan
	subs     map[string]*model.Subscription
	subOrder []string
	jobs     map[string]*model.ReconcileJob
	usage    []model.UsageRecord
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[string]*model.Account),
		plans:    make(map[string]*model.Plan),
		subs:     make(map[string]*model.Subscription),
		jobs:     make(map[string]*model.ReconcileJob),
	}
}

func (s *memStore) WithTx(ctx context.Context, fn database.TxFunc) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(nil)
}

func (s *memStore) accountRepo() *memAccountRepo { return &memAccountRepo{s} }
func (s *memStore) planRepo() *memPlanRepo       { return &memPlanRepo{s} }
func (s *memStore) subRepo() *memSubRepo         { return &memSubRepo{s} }
func (s *memStore) jobRepo() *memJobRepo         { return &memJobRepo{s} }
func (s *memStore) usageRepo() *memUsageRepo     { return &memUsageRepo{s} }

func (s *memStore) job(accountID string) *model.ReconcileJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[accountID]; ok {
		c := *j
		return &c
	}
	return nil
}

func (s *memStore) subscriptionsOf(accountID string) []model.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Subscription
	for _, id := range s.subOrder {
		if sub := s.subs[id]; sub.AccountID == accountID {
			out = append(out, *sub)
		}
	}
	return out
}

type memAccountRepo struct{ s *memStore }

func (r *memAccountRepo) WithTx(*sqlx.Tx) repository.AccountRepository { return r }

func (r *memAccountRepo) FindByID(_ context.Context, id string) (*model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.accounts[id]; ok {
		c := *a
		return &c, nil
	}
	return nil, nil
}

func (r *memAccountRepo) FindByEmail(_ context.Context, email string) (*model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if a.Email == email {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memAccountRepo) FindActiveByAPIKeyHash(_ context.Context, keyHash string) (*model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if a.APIKeyHash == keyHash && a.Active {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memAccountRepo) CreateIfNotExists(ctx context.Context, params model.CreateAccountParams) (*model.Account, bool, error) {
	if existing, _ := r.FindByEmail(ctx, params.Email); existing != nil {
		return existing, false, nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now()
	a := &model.Account{
		ID:         uuid.NewString(),
		Email:      params.Email,
		APIKey:     params.APIKey,
		APIKeyHash: params.APIKeyHash,
		Active:     params.Active,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.s.accounts[a.ID] = a
	c := *a
	return &c, true, nil
}

func (r *memAccountRepo) SetActive(_ context.Context, id string, active bool) (*model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, nil
	}
	a.Active = active
	a.UpdatedAt = time.Now()
	c := *a
	return &c, nil
}

func (r *memAccountRepo) LockForUpdate(ctx context.Context, id string) (*model.Account, error) {
	return r.FindByID(ctx, id)
}

type memPlanRepo struct{ s *memStore }

func (r *memPlanRepo) WithTx(*sqlx.Tx) repository.PlanRepository { return r }

func (r *memPlanRepo) FindByID(_ context.Context, id string) (*model.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.plans {
		if p.ID == id {
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memPlanRepo) FindByName(_ context.Context, name string) (*model.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.plans[name]; ok {
		c := *p
		return &c, nil
	}
	return nil, nil
}

func (r *memPlanRepo) FindAll(_ context.Context) ([]model.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]model.Plan, 0, len(r.s.plans))
	for _, p := range r.s.plans {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out, nil
}

func (r *memPlanRepo) Upsert(_ context.Context, params model.UpsertPlanParams) (*model.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.plans[params.Name]
	if !ok {
		p = &model.Plan{ID: uuid.NewString(), Name: params.Name, CreatedAt: time.Now()}
		r.s.plans[params.Name] = p
	}
	p.MonthlyQuota = params.MonthlyQuota
	p.RateLimit = params.RateLimit
	p.Price = params.Price
	p.OveragePrice = params.OveragePrice
	p.RejectionMessage = params.RejectionMessage
	p.UpdatedAt = time.Now()
	c := *p
	return &c, nil
}

type memSubRepo struct{ s *memStore }

func (r *memSubRepo) WithTx(*sqlx.Tx) repository.SubscriptionRepository { return r }

func (r *memSubRepo) FindByID(_ context.Context, id string) (*model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sub, ok := r.s.subs[id]; ok {
		c := *sub
		return &c, nil
	}
	return nil, nil
}

func (r *memSubRepo) FindActiveByAccountID(_ context.Context, accountID string) (*model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sub := range r.s.subs {
		if sub.AccountID == accountID && sub.Active {
			c := *sub
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memSubRepo) FindActiveBySyncState(_ context.Context, state model.SyncState, limit int) ([]model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Subscription
	for _, id := range r.s.subOrder {
		sub := r.s.subs[id]
		if sub.Active && sub.SyncState == state && len(out) < limit {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *memSubRepo) DeactivateActive(_ context.Context, accountID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, sub := range r.s.subs {
		if sub.AccountID == accountID && sub.Active {
			sub.Active = false
			n++
		}
	}
	return n, nil
}

func (r *memSubRepo) Create(_ context.Context, params model.CreateSubscriptionParams) (*model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sub := range r.s.subs {
		if sub.AccountID == params.AccountID && sub.Active {
			return nil, errDuplicateActive
		}
	}
	now := time.Now()
	sub := &model.Subscription{
		ID:        uuid.NewString(),
		AccountID: params.AccountID,
		PlanID:    params.PlanID,
		StartAt:   params.StartAt,
		EndAt:     params.EndAt,
		Active:    true,
		SyncState: model.SyncStatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.s.subs[sub.ID] = sub
	r.s.subOrder = append(r.s.subOrder, sub.ID)
	c := *sub
	return &c, nil
}

func (r *memSubRepo) update(id string, fn func(*model.Subscription)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sub, ok := r.s.subs[id]; ok {
		fn(sub)
		sub.UpdatedAt = time.Now()
	}
	return nil
}

func (r *memSubRepo) MarkPending(_ context.Context, id string) error {
	return r.update(id, func(s *model.Subscription) { s.SyncState = model.SyncStatePending })
}

func (r *memSubRepo) MarkSynced(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(s *model.Subscription) {
		s.SyncState = model.SyncStateSynced
		s.SyncError = nil
		s.SyncedAt = &at
	})
}

func (r *memSubRepo) MarkFailed(_ context.Context, id string, syncErr string) error {
	return r.update(id, func(s *model.Subscription) {
		s.SyncState = model.SyncStateFailed
		s.SyncError = &syncErr
	})
}

type memJobRepo struct{ s *memStore }

func (r *memJobRepo) WithTx(*sqlx.Tx) repository.ReconcileJobRepository { return r }

func (r *memJobRepo) Enqueue(_ context.Context, params model.EnqueueJobParams) (*model.ReconcileJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now()
	job, ok := r.s.jobs[params.AccountID]
	if !ok {
		job = &model.ReconcileJob{AccountID: params.AccountID, CreatedAt: now}
		r.s.jobs[params.AccountID] = job
	}
	job.SubscriptionID = params.SubscriptionID
	job.Reason = params.Reason
	job.Status = model.JobStatusPending
	job.Generation++
	job.Attempts = 0
	job.NextAttemptAt = now
	job.LastError = nil
	job.UpdatedAt = now
	c := *job
	return &c, nil
}

func (r *memJobRepo) FindByAccountID(_ context.Context, accountID string) (*model.ReconcileJob, error) {
	return r.s.job(accountID), nil
}

func (r *memJobRepo) FindByStatus(_ context.Context, status model.JobStatus, limit, offset int) ([]model.ReconcileJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.ReconcileJob
	for _, j := range r.s.jobs {
		if j.Status == status {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memJobRepo) CountByStatus(_ context.Context) (map[model.JobStatus]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := map[model.JobStatus]int{
		model.JobStatusPending: 0,
		model.JobStatusDone:    0,
		model.JobStatusDead:    0,
	}
	for _, j := range r.s.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (r *memJobRepo) ClaimDue(_ context.Context, limit int, lease time.Duration) ([]model.ReconcileJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now()
	var out []model.ReconcileJob
	for _, j := range r.s.jobs {
		if len(out) >= limit {
			break
		}
		if j.Status == model.JobStatusPending && !j.NextAttemptAt.After(now) {
			j.NextAttemptAt = now.Add(lease)
			out = append(out, *j)
		}
	}
	return out, nil
}

func (r *memJobRepo) finish(accountID string, generation int64, fn func(*model.ReconcileJob)) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[accountID]
	if !ok || j.Generation != generation || j.Status != model.JobStatusPending {
		return false, nil
	}
	fn(j)
	j.UpdatedAt = time.Now()
	return true, nil
}

func (r *memJobRepo) Complete(_ context.Context, accountID string, generation int64) (bool, error) {
	return r.finish(accountID, generation, func(j *model.ReconcileJob) {
		j.Status = model.JobStatusDone
		j.LastError = nil
	})
}

func (r *memJobRepo) Retry(_ context.Context, accountID string, generation int64, attempts int, next time.Time, lastErr string) (bool, error) {
	return r.finish(accountID, generation, func(j *model.ReconcileJob) {
		j.Attempts = attempts
		j.NextAttemptAt = next
		j.LastError = &lastErr
	})
}

func (r *memJobRepo) DeadLetter(_ context.Context, accountID string, generation int64, attempts int, lastErr string) (bool, error) {
	return r.finish(accountID, generation, func(j *model.ReconcileJob) {
		j.Status = model.JobStatusDead
		j.Attempts = attempts
		j.LastError = &lastErr
	})
}

func (r *memJobRepo) DeleteDoneBefore(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, j := range r.s.jobs {
		if j.Status == model.JobStatusDone && j.UpdatedAt.Before(before) {
			delete(r.s.jobs, id)
			n++
		}
	}
	return n, nil
}

type memUsageRepo struct{ s *memStore }

func (r *memUsageRepo) CreateBatch(_ context.Context, records []model.CreateUsageRecordParams) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rec := range records {
		r.s.usage = append(r.s.usage, model.UsageRecord{
			ID:         int64(len(r.s.usage) + 1),
			AccountID:  rec.AccountID,
			Endpoint:   rec.Endpoint,
			StatusCode: rec.StatusCode,
			LatencyMs:  rec.Latency.Milliseconds(),
			CreatedAt:  rec.CreatedAt,
		})
	}
	return nil
}

func (r *memUsageRepo) CountSince(_ context.Context, accountID, prefix string, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, u := range r.s.usage {
		if u.AccountID != accountID || u.CreatedAt.Before(since) {
			continue
		}
		if prefix == "" || u.Endpoint == prefix || strings.HasPrefix(u.Endpoint, prefix+"/") {
			n++
		}
	}
	return n, nil
}

func (r *memUsageRepo) CountByDaySince(_ context.Context, accountID string, since time.Time) ([]model.DailyCount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	byDay := make(map[time.Time]int)
	for _, u := range r.s.usage {
		if u.AccountID != accountID || u.CreatedAt.Before(since) {
			continue
		}
		t := u.CreatedAt.UTC()
		byDay[time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)]++
	}
	out := make([]model.DailyCount, 0, len(byDay))
	for day, n := range byDay {
		out = append(out, model.DailyCount{Day: day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (r *memUsageRepo) HasAny(_ context.Context, accountID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.usage {
		if u.AccountID == accountID {
			return true, nil
		}
	}
	return false, nil
}

var errDuplicateActive = apperrors.Conflict("Account already has an active subscription")
