package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/pbx-autodialer/internal/dialer"
	"github.com/acme/pbx-autodialer/internal/domain"
	"github.com/acme/pbx-autodialer/internal/repository"
	apperrors "github.com/acme/pbx-autodialer/pkg/errors"
	"github.com/acme/pbx-autodialer/pkg/logger"
)

type fakeJobRepo struct {
	jobs map[uuid.UUID]*domain.Job
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[uuid.UUID]*domain.Job)}
}

func (f *fakeJobRepo) Create(_ context.Context, j *domain.Job) error {
	cp := *j
	f.jobs[j.ID] = &cp
	return nil
}

func (f *fakeJobRepo) CreateBatch(ctx context.Context, jobs []*domain.Job) error {
	for _, j := range jobs {
		if err := f.Create(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeJobRepo) Get(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobRepo) Update(_ context.Context, j *domain.Job) error {
	if _, ok := f.jobs[j.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *j
	f.jobs[j.ID] = &cp
	return nil
}

func (f *fakeJobRepo) ClaimDialing(_ context.Context, id uuid.UUID, startedAt time.Time) error {
	j, ok := f.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if j.Status != domain.JobStatusPending && j.Status != domain.JobStatusQueued {
		return repository.ErrNotClaimable
	}
	j.Status = domain.JobStatusDialing
	j.StartedAt = &startedAt
	return nil
}

func (f *fakeJobRepo) SetCallUUID(_ context.Context, id uuid.UUID, callUUID string) error {
	j, ok := f.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if j.Status != domain.JobStatusDialing {
		return nil
	}
	cp := callUUID
	j.CallUUID = &cp
	return nil
}

func (f *fakeJobRepo) FinishFailed(_ context.Context, id uuid.UUID, reason string, finishedAt time.Time) error {
	j, ok := f.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	switch j.Status {
	case domain.JobStatusPending, domain.JobStatusQueued, domain.JobStatusDialing:
	default:
		return repository.ErrNotClaimable
	}
	j.Status = domain.JobStatusFailed
	j.LastError = &reason
	j.FinishedAt = &finishedAt
	return nil
}

func (f *fakeJobRepo) Cancel(_ context.Context, id uuid.UUID) error {
	j, ok := f.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if j.Status != domain.JobStatusPending {
		return repository.ErrNotClaimable
	}
	j.Status = domain.JobStatusCancelled
	return nil
}

func (f *fakeJobRepo) NextEligible(_ context.Context, campaignID uuid.UUID, now time.Time) (*domain.Job, error) {
	var best *domain.Job
	for _, j := range f.jobs {
		if j.CampaignID != campaignID || j.Status != domain.JobStatusPending || j.ScheduledAt.After(now) {
			continue
		}
		if best == nil || j.ScheduledAt.Before(best.ScheduledAt) {
			best = j
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (f *fakeJobRepo) CountByStatus(_ context.Context, campaignID uuid.UUID, status domain.JobStatus) (int, error) {
	n := 0
	for _, j := range f.jobs {
		if j.CampaignID == campaignID && j.Status == status {
			n++
		}
	}
	return n, nil
}

func (f *fakeJobRepo) ListByCampaign(_ context.Context, campaignID uuid.UUID, status domain.JobStatus, _ int) ([]*domain.Job, error) {
	var out []*domain.Job
	for _, j := range f.jobs {
		if j.CampaignID == campaignID && (status == "" || j.Status == status) {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeLeadRepo struct {
	leads map[uuid.UUID]*domain.Lead
}

func newFakeLeadRepo() *fakeLeadRepo {
	return &fakeLeadRepo{leads: make(map[uuid.UUID]*domain.Lead)}
}

func (f *fakeLeadRepo) BulkInsert(_ context.Context, _ uuid.UUID, leads []*domain.Lead) (int, int, error) {
	inserted := 0
	for _, l := range leads {
		cp := *l
		f.leads[l.ID] = &cp
		inserted++
	}
	return inserted, 0, nil
}

func (f *fakeLeadRepo) Get(_ context.Context, id uuid.UUID) (*domain.Lead, error) {
	l, ok := f.leads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (f *fakeLeadRepo) Update(_ context.Context, l *domain.Lead) error {
	if _, ok := f.leads[l.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *l
	f.leads[l.ID] = &cp
	return nil
}

func (f *fakeLeadRepo) NextBatchForScheduling(_ context.Context, campaignID uuid.UUID, limit int) ([]*domain.Lead, error) {
	var out []*domain.Lead
	for _, l := range f.leads {
		if l.CampaignID != campaignID {
			continue
		}
		if l.Status != domain.LeadStatusPending && l.Status != domain.LeadStatusScheduled {
			continue
		}
		cp := *l
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeLeadRepo) ListByCampaign(_ context.Context, campaignID uuid.UUID, status domain.LeadStatus, _ int) ([]*domain.Lead, error) {
	var out []*domain.Lead
	for _, l := range f.leads {
		if l.CampaignID == campaignID && (status == "" || l.Status == status) {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeLeadRepo) CountByStatus(_ context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error) {
	stats := &domain.CampaignStats{}
	for _, l := range f.leads {
		if l.CampaignID != campaignID {
			continue
		}
		stats.TotalLeads++
		switch l.Status {
		case domain.LeadStatusPending:
			stats.PendingLeads++
		case domain.LeadStatusScheduled:
			stats.ScheduledLeads++
		case domain.LeadStatusInProgress:
			stats.InProgress++
		case domain.LeadStatusCompleted:
			stats.CompletedLeads++
		case domain.LeadStatusFailed:
			stats.FailedLeads++
		case domain.LeadStatusDoNotCall:
			stats.DoNotCall++
		}
	}
	return stats, nil
}

type fakeCampaignRepo struct {
	campaigns map[uuid.UUID]*domain.Campaign
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{campaigns: make(map[uuid.UUID]*domain.Campaign)}
}

func (f *fakeCampaignRepo) Create(_ context.Context, c *domain.Campaign) error {
	cp := *c
	f.campaigns[c.ID] = &cp
	return nil
}

func (f *fakeCampaignRepo) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCampaignRepo) Update(_ context.Context, c *domain.Campaign) error {
	cp := *c
	f.campaigns[c.ID] = &cp
	return nil
}

func (f *fakeCampaignRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	c, ok := f.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Status = status
	return nil
}

func (f *fakeCampaignRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.campaigns, id)
	return nil
}

func (f *fakeCampaignRepo) List(_ context.Context, tenantID uuid.UUID, _ *uuid.UUID, _ int) ([]*domain.Campaign, error) {
	var out []*domain.Campaign
	for _, c := range f.campaigns {
		if c.TenantID == tenantID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeCampaignRepo) ListByStatus(_ context.Context, status domain.CampaignStatus, _ int) ([]*domain.Campaign, error) {
	var out []*domain.Campaign
	for _, c := range f.campaigns {
		if c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeAdapter struct {
	callUUID    string
	err         error
	requests    []dialer.OriginationRequest
	onOriginate func()
}

func (f *fakeAdapter) Originate(_ context.Context, req dialer.OriginationRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.onOriginate != nil {
		f.onOriginate()
	}
	if f.err != nil {
		return "", f.err
	}
	return f.callUUID, nil
}

type fixture struct {
	svc       *Service
	jobs      *fakeJobRepo
	leads     *fakeLeadRepo
	campaigns *fakeCampaignRepo
	adapter   *fakeAdapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	f := &fixture{
		jobs:      newFakeJobRepo(),
		leads:     newFakeLeadRepo(),
		campaigns: newFakeCampaignRepo(),
		adapter:   &fakeAdapter{callUUID: "call-uuid-1"},
	}
	f.svc = NewService(f.jobs, f.leads, f.campaigns, f.adapter, Options{
		Gateway:          "gw0",
		OriginateTimeout: time.Second,
	}, log)
	return f
}

func (f *fixture) seed(t *testing.T, maxRetries int) (*domain.Campaign, *domain.Lead, *domain.Job) {
	t.Helper()
	now := time.Now().UTC()
	campaign := &domain.Campaign{
		ID:                 uuid.New(),
		TenantID:           uuid.New(),
		Name:               "test",
		Status:             domain.CampaignStatusRunning,
		DialMode:           domain.DialModePlayback,
		AudioURL:           "https://cdn.example.com/promo.wav",
		MaxConcurrentCalls: 5,
		MaxRetries:         maxRetries,
		RetryDelay:         5 * time.Minute,
	}
	lead := &domain.Lead{
		ID:          uuid.New(),
		CampaignID:  campaign.ID,
		PhoneNumber: "+15551230001",
		Status:      domain.LeadStatusScheduled,
	}
	job := &domain.Job{
		ID:            uuid.New(),
		CampaignID:    campaign.ID,
		LeadID:        lead.ID,
		Status:        domain.JobStatusPending,
		AttemptNumber: 1,
		ScheduledAt:   now,
	}
	f.campaigns.campaigns[campaign.ID] = campaign
	f.leads.leads[lead.ID] = lead
	f.jobs.jobs[job.ID] = job
	return campaign, lead, job
}

func TestStartJobClaimsAndDials(t *testing.T) {
	f := newFixture(t)
	campaign, lead, job := f.seed(t, 0)

	if err := f.svc.StartJob(context.Background(), job.ID); err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	got := f.jobs.jobs[job.ID]
	if got.Status != domain.JobStatusDialing {
		t.Fatalf("job status = %s, want dialing", got.Status)
	}
	if got.CallUUID == nil || *got.CallUUID != "call-uuid-1" {
		t.Fatalf("call uuid = %v, want call-uuid-1", got.CallUUID)
	}
	if f.leads.leads[lead.ID].Status != domain.LeadStatusInProgress {
		t.Fatalf("lead status = %s, want in_progress", f.leads.leads[lead.ID].Status)
	}

	if len(f.adapter.requests) != 1 {
		t.Fatalf("originate called %d times, want 1", len(f.adapter.requests))
	}
	req := f.adapter.requests[0]
	if req.App != "playback(https://cdn.example.com/promo.wav)" {
		t.Fatalf("app = %q", req.App)
	}
	if req.Variables[dialer.VarCampaignID] != campaign.ID.String() {
		t.Fatalf("campaign correlation var = %q", req.Variables[dialer.VarCampaignID])
	}
	if req.Variables[dialer.VarJobID] != job.ID.String() {
		t.Fatalf("job correlation var = %q", req.Variables[dialer.VarJobID])
	}
}

func TestStartJobNotClaimable(t *testing.T) {
	f := newFixture(t)
	_, _, job := f.seed(t, 0)
	f.jobs.jobs[job.ID].Status = domain.JobStatusCompleted

	err := f.svc.StartJob(context.Background(), job.ID)
	if !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if len(f.adapter.requests) != 0 {
		t.Fatalf("originate must not run for an unclaimable job")
	}
}

func TestStartJobAdapterFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	_, lead, job := f.seed(t, 0)
	f.adapter.err = errors.New("gateway down")

	err := f.svc.StartJob(context.Background(), job.ID)
	if !errors.Is(err, apperrors.ErrAdapterFailure) {
		t.Fatalf("err = %v, want ErrAdapterFailure", err)
	}

	got := f.jobs.jobs[job.ID]
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", got.Status)
	}
	if got.LastError == nil {
		t.Fatal("last error not recorded")
	}
	if f.leads.leads[lead.ID].Status != domain.LeadStatusFailed {
		t.Fatalf("lead status = %s, want failed", f.leads.leads[lead.ID].Status)
	}
}

func TestStartJobIVRWithoutMenuIsInvalid(t *testing.T) {
	f := newFixture(t)
	campaign, _, job := f.seed(t, 0)
	campaign.DialMode = domain.DialModeIVR
	campaign.IVRMenuID = nil

	err := f.svc.StartJob(context.Background(), job.ID)
	if !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if len(f.adapter.requests) != 0 {
		t.Fatal("originate must not run without a usable dial mode")
	}
	// The job must be finalized, not left pending, or the scheduler
	// would re-pick it every tick and starve the queue behind it.
	got := f.jobs.jobs[job.ID]
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", got.Status)
	}
	if got.LastError == nil {
		t.Fatal("last error not recorded")
	}
}

func TestStartJobMissingLeadFailsJob(t *testing.T) {
	f := newFixture(t)
	_, lead, job := f.seed(t, 0)
	delete(f.leads.leads, lead.ID)

	err := f.svc.StartJob(context.Background(), job.ID)
	if !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if f.jobs.jobs[job.ID].Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", f.jobs.jobs[job.ID].Status)
	}
}

func TestStartJobKeepsReconcilerFinalState(t *testing.T) {
	f := newFixture(t)
	_, _, job := f.seed(t, 3)

	// An instant hangup can let the reconciler finalize the job while
	// Originate is still in flight. The call uuid write must then be a
	// no-op instead of resurrecting the job to dialing.
	finishedAt := time.Now().UTC()
	f.adapter.onOriginate = func() {
		j := f.jobs.jobs[job.ID]
		j.Status = domain.JobStatusCompleted
		j.FinishedAt = &finishedAt
	}

	if err := f.svc.StartJob(context.Background(), job.ID); err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	got := f.jobs.jobs[job.ID]
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("job status = %s, want completed", got.Status)
	}
	if got.FinishedAt == nil {
		t.Fatal("finished at was wiped")
	}
	if got.CallUUID != nil {
		t.Fatalf("call uuid = %v, want untouched nil", got.CallUUID)
	}
	if len(f.jobs.jobs) != 1 {
		t.Fatalf("job count = %d, want 1 (no stray successor)", len(f.jobs.jobs))
	}
}

func TestMarkFailedSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	campaign, lead, job := f.seed(t, 3)

	if err := f.svc.MarkFailed(context.Background(), job.ID, "NO_ANSWER"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	if f.jobs.jobs[job.ID].Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", f.jobs.jobs[job.ID].Status)
	}

	var successor *domain.Job
	for id, j := range f.jobs.jobs {
		if id != job.ID {
			successor = j
		}
	}
	if successor == nil {
		t.Fatal("no retry job created")
	}
	if successor.AttemptNumber != 2 {
		t.Fatalf("retry attempt = %d, want 2", successor.AttemptNumber)
	}
	wantAt := f.jobs.jobs[job.ID].FinishedAt.Add(campaign.RetryDelay)
	if !successor.ScheduledAt.Equal(wantAt) {
		t.Fatalf("retry scheduled at %v, want %v", successor.ScheduledAt, wantAt)
	}

	gotLead := f.leads.leads[lead.ID]
	if gotLead.Status != domain.LeadStatusPending {
		t.Fatalf("lead status = %s, want pending", gotLead.Status)
	}
	if gotLead.LastJobID == nil || *gotLead.LastJobID != successor.ID {
		t.Fatal("lead must track the newest job")
	}
	if gotLead.AttemptCount != 1 {
		t.Fatalf("lead attempt count = %d, want 1", gotLead.AttemptCount)
	}
}

func TestMarkFailedExhaustedBudget(t *testing.T) {
	f := newFixture(t)
	_, lead, job := f.seed(t, 3)
	f.jobs.jobs[job.ID].AttemptNumber = 3

	if err := f.svc.MarkFailed(context.Background(), job.ID, "NO_ANSWER"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	if len(f.jobs.jobs) != 1 {
		t.Fatalf("job count = %d, want 1 (no successor)", len(f.jobs.jobs))
	}
	if f.leads.leads[lead.ID].Status != domain.LeadStatusFailed {
		t.Fatalf("lead status = %s, want failed", f.leads.leads[lead.ID].Status)
	}
}

func TestMarkFailedOnFinalizedJob(t *testing.T) {
	f := newFixture(t)
	_, lead, job := f.seed(t, 3)
	now := time.Now().UTC()
	f.jobs.jobs[job.ID].Status = domain.JobStatusCompleted
	f.jobs.jobs[job.ID].FinishedAt = &now

	err := f.svc.MarkFailed(context.Background(), job.ID, "stray failure")
	if !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if f.jobs.jobs[job.ID].Status != domain.JobStatusCompleted {
		t.Fatalf("job status = %s, want completed preserved", f.jobs.jobs[job.ID].Status)
	}
	if len(f.jobs.jobs) != 1 {
		t.Fatalf("job count = %d, want 1 (no retry for a finalized job)", len(f.jobs.jobs))
	}
	if f.leads.leads[lead.ID].Status != domain.LeadStatusScheduled {
		t.Fatalf("lead status = %s, want untouched", f.leads.leads[lead.ID].Status)
	}
}

func TestScheduleBatchCreatesJobsBeforeFlippingLeads(t *testing.T) {
	f := newFixture(t)
	campaign, _, _ := f.seed(t, 0)

	for i := 0; i < 3; i++ {
		id := uuid.New()
		f.leads.leads[id] = &domain.Lead{
			ID:          id,
			CampaignID:  campaign.ID,
			PhoneNumber: uuid.New().String(),
			Status:      domain.LeadStatusPending,
		}
	}

	startAt := time.Now().UTC().Add(time.Hour)
	created, err := f.svc.ScheduleBatch(context.Background(), campaign.ID, 10, startAt)
	if err != nil {
		t.Fatalf("ScheduleBatch: %v", err)
	}
	// The seeded lead is scheduled too, so four leads qualify.
	if created != 4 {
		t.Fatalf("created = %d, want 4", created)
	}

	for _, l := range f.leads.leads {
		if l.Status == domain.LeadStatusPending {
			t.Fatalf("lead %s left pending after scheduling", l.ID)
		}
		if l.LastJobID == nil {
			t.Fatalf("lead %s has no job reference", l.ID)
		}
		j, ok := f.jobs.jobs[*l.LastJobID]
		if !ok {
			t.Fatalf("lead %s references a missing job", l.ID)
		}
		if !j.ScheduledAt.Equal(startAt) {
			t.Fatalf("job scheduled at %v, want %v", j.ScheduledAt, startAt)
		}
		if l.AttemptCount != 1 {
			t.Fatalf("lead attempt count = %d, want 1", l.AttemptCount)
		}
		if l.LastAttemptAt == nil {
			t.Fatalf("lead %s missing last attempt time", l.ID)
		}
		if j.AttemptNumber != 1 {
			t.Fatalf("job attempt = %d, want 1", j.AttemptNumber)
		}
	}
}

func TestScheduleBatchAdvancesAttemptNumbers(t *testing.T) {
	f := newFixture(t)
	campaign, _, job := f.seed(t, 0)
	delete(f.jobs.jobs, job.ID)

	if _, err := f.svc.ScheduleBatch(context.Background(), campaign.ID, 10, time.Time{}); err != nil {
		t.Fatalf("first ScheduleBatch: %v", err)
	}
	// Scheduled leads remain eligible, so a second request creates the
	// next attempt rather than another attempt one.
	if _, err := f.svc.ScheduleBatch(context.Background(), campaign.ID, 10, time.Time{}); err != nil {
		t.Fatalf("second ScheduleBatch: %v", err)
	}

	attempts := map[int]int{}
	for _, j := range f.jobs.jobs {
		attempts[j.AttemptNumber]++
	}
	if attempts[1] != 1 || attempts[2] != 1 {
		t.Fatalf("attempt distribution = %v, want one attempt-1 and one attempt-2 job", attempts)
	}

	for _, l := range f.leads.leads {
		if l.AttemptCount != 2 {
			t.Fatalf("lead attempt count = %d, want 2", l.AttemptCount)
		}
	}
}

func TestCancelPendingJob(t *testing.T) {
	f := newFixture(t)
	_, _, job := f.seed(t, 0)

	if err := f.svc.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if f.jobs.jobs[job.ID].Status != domain.JobStatusCancelled {
		t.Fatalf("job status = %s, want cancelled", f.jobs.jobs[job.ID].Status)
	}

	f.jobs.jobs[job.ID].Status = domain.JobStatusDialing
	if err := f.svc.Cancel(context.Background(), job.ID); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("cancelling a dialing job: err = %v, want ErrInvalidState", err)
	}
}
