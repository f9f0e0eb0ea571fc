package scheduler

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/pbx-autodialer/internal/domain"
	"github.com/acme/pbx-autodialer/internal/repository"
	apperrors "github.com/acme/pbx-autodialer/pkg/errors"
	"github.com/acme/pbx-autodialer/pkg/logger"
)

type fakeCampaignSource struct {
	campaigns []*domain.Campaign
}

func (f *fakeCampaignSource) ListByStatus(_ context.Context, status domain.CampaignStatus, _ int) ([]*domain.Campaign, error) {
	var out []*domain.Campaign
	for _, c := range f.campaigns {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeJobSource struct {
	dialing int
	queue   []*domain.Job
}

func (f *fakeJobSource) CountByStatus(_ context.Context, _ uuid.UUID, status domain.JobStatus) (int, error) {
	if status == domain.JobStatusDialing {
		return f.dialing, nil
	}
	return 0, nil
}

func (f *fakeJobSource) NextEligible(_ context.Context, campaignID uuid.UUID, now time.Time) (*domain.Job, error) {
	sort.Slice(f.queue, func(i, j int) bool {
		if f.queue[i].ScheduledAt.Equal(f.queue[j].ScheduledAt) {
			return f.queue[i].CreatedAt.Before(f.queue[j].CreatedAt)
		}
		return f.queue[i].ScheduledAt.Before(f.queue[j].ScheduledAt)
	})
	for _, j := range f.queue {
		if j.CampaignID == campaignID && j.Status == domain.JobStatusPending && !j.ScheduledAt.After(now) {
			return j, nil
		}
	}
	return nil, repository.ErrNotFound
}

type fakeStarter struct {
	jobs    *fakeJobSource
	started []uuid.UUID
	fail    map[uuid.UUID]error
}

func (f *fakeStarter) StartJob(_ context.Context, jobID uuid.UUID) error {
	for _, j := range f.jobs.queue {
		if j.ID != jobID {
			continue
		}
		if err := f.fail[jobID]; err != nil {
			j.Status = domain.JobStatusFailed
			return err
		}
		j.Status = domain.JobStatusDialing
		f.started = append(f.started, jobID)
		return nil
	}
	return repository.ErrNotFound
}

type fakeLock struct {
	held     bool
	acquired int
	released int
}

func (f *fakeLock) TryAcquire(_ context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.acquired++
	return true, nil
}

func (f *fakeLock) Release(_ context.Context) error {
	f.released++
	return nil
}

func strPtr(s string) *string { return &s }

func runningCampaign(slots int) *domain.Campaign {
	return &domain.Campaign{
		ID:                 uuid.New(),
		Status:             domain.CampaignStatusRunning,
		MaxConcurrentCalls: slots,
		AllowWeekends:      true,
	}
}

func pendingJob(campaignID uuid.UUID, scheduledAt, createdAt time.Time) *domain.Job {
	return &domain.Job{
		ID:          uuid.New(),
		CampaignID:  campaignID,
		Status:      domain.JobStatusPending,
		ScheduledAt: scheduledAt,
		CreatedAt:   createdAt,
	}
}

func newScheduler(t *testing.T, campaigns *fakeCampaignSource, jobs *fakeJobSource, starter *fakeStarter, lock TickLock) *Scheduler {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return New(campaigns, jobs, starter, lock, Options{}, log)
}

func TestTickFillsFreeSlotsInOrder(t *testing.T) {
	campaign := runningCampaign(3)
	now := time.Now().UTC()

	jobs := &fakeJobSource{dialing: 1}
	oldest := pendingJob(campaign.ID, now.Add(-3*time.Minute), now.Add(-3*time.Minute))
	middle := pendingJob(campaign.ID, now.Add(-2*time.Minute), now.Add(-2*time.Minute))
	newest := pendingJob(campaign.ID, now.Add(-1*time.Minute), now.Add(-1*time.Minute))
	future := pendingJob(campaign.ID, now.Add(time.Hour), now)
	jobs.queue = []*domain.Job{newest, future, oldest, middle}

	starter := &fakeStarter{jobs: jobs}
	s := newScheduler(t, &fakeCampaignSource{campaigns: []*domain.Campaign{campaign}}, jobs, starter, nil)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	// one slot is occupied by a dialing job, leaving two
	if len(starter.started) != 2 {
		t.Fatalf("started %d jobs, want 2", len(starter.started))
	}
	if starter.started[0] != oldest.ID || starter.started[1] != middle.ID {
		t.Fatal("jobs not dispatched oldest first")
	}
	if future.Status != domain.JobStatusPending {
		t.Fatal("future job must not be dispatched")
	}
}

func TestTickSkipsSaturatedCampaign(t *testing.T) {
	campaign := runningCampaign(2)
	now := time.Now().UTC()

	jobs := &fakeJobSource{dialing: 2}
	jobs.queue = []*domain.Job{pendingJob(campaign.ID, now.Add(-time.Minute), now)}
	starter := &fakeStarter{jobs: jobs}
	s := newScheduler(t, &fakeCampaignSource{campaigns: []*domain.Campaign{campaign}}, jobs, starter, nil)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(starter.started) != 0 {
		t.Fatalf("saturated campaign dispatched %d jobs", len(starter.started))
	}
}

func TestTickSurvivesPerJobFailures(t *testing.T) {
	campaign := runningCampaign(3)
	now := time.Now().UTC()

	jobs := &fakeJobSource{}
	bad := pendingJob(campaign.ID, now.Add(-2*time.Minute), now)
	good := pendingJob(campaign.ID, now.Add(-time.Minute), now)
	jobs.queue = []*domain.Job{bad, good}

	starter := &fakeStarter{
		jobs: jobs,
		fail: map[uuid.UUID]error{bad.ID: apperrors.ErrAdapterFailure},
	}
	s := newScheduler(t, &fakeCampaignSource{campaigns: []*domain.Campaign{campaign}}, jobs, starter, nil)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(starter.started) != 1 || starter.started[0] != good.ID {
		t.Fatalf("started = %v, want only the good job", starter.started)
	}
}

func TestTickRespectsLock(t *testing.T) {
	campaign := runningCampaign(1)
	now := time.Now().UTC()

	jobs := &fakeJobSource{queue: []*domain.Job{pendingJob(campaign.ID, now.Add(-time.Minute), now)}}
	starter := &fakeStarter{jobs: jobs}
	lock := &fakeLock{held: true}
	s := newScheduler(t, &fakeCampaignSource{campaigns: []*domain.Campaign{campaign}}, jobs, starter, lock)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(starter.started) != 0 {
		t.Fatal("tick body ran while the lock was held elsewhere")
	}

	lock.held = false
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(starter.started) != 1 {
		t.Fatalf("started %d jobs after lock freed, want 1", len(starter.started))
	}
	if lock.acquired != 1 || lock.released != 1 {
		t.Fatalf("lock acquired=%d released=%d, want 1/1", lock.acquired, lock.released)
	}
}

func TestCallWindowOpen(t *testing.T) {
	monday10 := time.Date(2025, 3, 3, 10, 30, 0, 0, time.UTC)   // Monday
	saturday10 := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC) // Saturday

	cases := []struct {
		name     string
		now      time.Time
		start    *string
		end      *string
		weekends bool
		want     bool
	}{
		{"no bounds weekday", monday10, nil, nil, false, true},
		{"inside window", monday10, strPtr("09:00"), strPtr("18:00"), false, true},
		{"start boundary inclusive", time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC), strPtr("09:00"), strPtr("18:00"), false, true},
		{"end boundary inclusive", time.Date(2025, 3, 3, 18, 0, 0, 0, time.UTC), strPtr("09:00"), strPtr("18:00"), false, true},
		{"before window", time.Date(2025, 3, 3, 8, 59, 0, 0, time.UTC), strPtr("09:00"), strPtr("18:00"), false, false},
		{"after window", time.Date(2025, 3, 3, 18, 1, 0, 0, time.UTC), strPtr("09:00"), strPtr("18:00"), false, false},
		{"weekend blocked", saturday10, nil, nil, false, false},
		{"weekend allowed", saturday10, nil, nil, true, true},
		{"only start bound", time.Date(2025, 3, 3, 23, 59, 0, 0, time.UTC), strPtr("09:00"), nil, false, true},
		{"only end bound", time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), nil, strPtr("18:00"), false, true},
		{"malformed bound ignored", monday10, strPtr("25:99"), nil, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			campaign := &domain.Campaign{
				CallWindowStart: tc.start,
				CallWindowEnd:   tc.end,
				AllowWeekends:   tc.weekends,
			}
			if got := callWindowOpen(tc.now, campaign); got != tc.want {
				t.Fatalf("callWindowOpen = %v, want %v", got, tc.want)
			}
		})
	}
}
