package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/pbx-autodialer/internal/domain"
	"github.com/acme/pbx-autodialer/internal/repository"
	apperrors "github.com/acme/pbx-autodialer/pkg/errors"
)

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
	if _, ok := f.campaigns[c.ID]; !ok {
		return repository.ErrNotFound
	}
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

// fakeLeadRepo de-dups by (campaign, phone) the way the real table's
// unique constraint does.
type fakeLeadRepo struct {
	leads map[uuid.UUID]*domain.Lead
	seen  map[string]bool
}

func newFakeLeadRepo() *fakeLeadRepo {
	return &fakeLeadRepo{
		leads: make(map[uuid.UUID]*domain.Lead),
		seen:  make(map[string]bool),
	}
}

func (f *fakeLeadRepo) BulkInsert(_ context.Context, campaignID uuid.UUID, leads []*domain.Lead) (int, int, error) {
	inserted, duplicates := 0, 0
	for _, l := range leads {
		key := campaignID.String() + "/" + l.PhoneNumber
		if f.seen[key] {
			duplicates++
			continue
		}
		f.seen[key] = true
		cp := *l
		f.leads[l.ID] = &cp
		inserted++
	}
	return inserted, duplicates, nil
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
	cp := *l
	f.leads[l.ID] = &cp
	return nil
}

func (f *fakeLeadRepo) NextBatchForScheduling(_ context.Context, _ uuid.UUID, _ int) ([]*domain.Lead, error) {
	return nil, nil
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
		if l.Status == domain.LeadStatusPending {
			stats.PendingLeads++
		}
	}
	return stats, nil
}

func newTestService() (*Service, *fakeCampaignRepo, *fakeLeadRepo) {
	repo := newFakeCampaignRepo()
	leads := newFakeLeadRepo()
	return NewService(repo, leads, 10), repo, leads
}

func playbackInput() CreateCampaignInput {
	return CreateCampaignInput{
		TenantID:   uuid.New(),
		Name:       "autumn promo",
		DialMode:   domain.DialModePlayback,
		AudioURL:   "https://cdn.example.com/promo.wav",
		MaxRetries: 2,
		RetryDelay: 10 * time.Minute,
	}
}

func TestCreateCampaignDefaults(t *testing.T) {
	svc, _, _ := newTestService()

	c, err := svc.Create(context.Background(), playbackInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Status != domain.CampaignStatusDraft {
		t.Fatalf("status = %s, want draft", c.Status)
	}
	if c.MaxConcurrentCalls != 10 {
		t.Fatalf("concurrency = %d, want service default 10", c.MaxConcurrentCalls)
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	svc, _, _ := newTestService()

	cases := []struct {
		name string
		mut  func(*CreateCampaignInput)
	}{
		{"missing name", func(in *CreateCampaignInput) { in.Name = "" }},
		{"missing tenant", func(in *CreateCampaignInput) { in.TenantID = uuid.Nil }},
		{"negative retries", func(in *CreateCampaignInput) { in.MaxRetries = -1 }},
		{"playback without audio", func(in *CreateCampaignInput) { in.AudioURL = "" }},
		{"unknown dial mode", func(in *CreateCampaignInput) { in.DialMode = "broadcast" }},
		{"ivr without menu", func(in *CreateCampaignInput) {
			in.DialMode = domain.DialModeIVR
			in.IVRMenuID = nil
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := playbackInput()
			tc.mut(&in)
			if _, err := svc.Create(context.Background(), in); !errors.Is(err, apperrors.ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestStatusTransitions(t *testing.T) {
	svc, repo, _ := newTestService()
	c, err := svc.Create(context.Background(), playbackInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("draft -> running: %v", err)
	}
	if err := svc.Pause(context.Background(), c.ID); err != nil {
		t.Fatalf("running -> paused: %v", err)
	}
	if err := svc.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("paused -> running: %v", err)
	}
	if err := svc.Complete(context.Background(), c.ID); err != nil {
		t.Fatalf("running -> completed: %v", err)
	}

	// completed campaigns cannot resume
	if err := svc.Start(context.Background(), c.ID); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("completed -> running: err = %v, want ErrInvalidState", err)
	}

	if err := svc.Archive(context.Background(), c.ID); err != nil {
		t.Fatalf("completed -> archived: %v", err)
	}
	if repo.campaigns[c.ID].Status != domain.CampaignStatusArchived {
		t.Fatalf("stored status = %s, want archived", repo.campaigns[c.ID].Status)
	}
}

func TestTransitionToSameStatusIsNoop(t *testing.T) {
	svc, _, _ := newTestService()
	c, err := svc.Create(context.Background(), playbackInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("repeated Start must be a no-op, got %v", err)
	}
}

func TestAddLeadsDeduplicates(t *testing.T) {
	svc, _, _ := newTestService()
	c, err := svc.Create(context.Background(), playbackInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := svc.AddLeads(context.Background(), c.ID, []LeadInput{
		{PhoneNumber: "+15551230001", DisplayName: "Ana"},
		{PhoneNumber: "+15551230002", DisplayName: "Bob"},
		{PhoneNumber: "+15551230001", DisplayName: "Ana again"},
	})
	if err != nil {
		t.Fatalf("AddLeads: %v", err)
	}
	if res.Inserted != 2 || res.Duplicates != 1 {
		t.Fatalf("inserted=%d duplicates=%d, want 2/1", res.Inserted, res.Duplicates)
	}

	// re-importing the same numbers only yields duplicates
	res, err = svc.AddLeads(context.Background(), c.ID, []LeadInput{
		{PhoneNumber: "+15551230001"},
		{PhoneNumber: "+15551230003"},
	})
	if err != nil {
		t.Fatalf("AddLeads: %v", err)
	}
	if res.Inserted != 1 || res.Duplicates != 1 {
		t.Fatalf("inserted=%d duplicates=%d, want 1/1", res.Inserted, res.Duplicates)
	}
}

func TestAddLeadsUnknownCampaign(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.AddLeads(context.Background(), uuid.New(), []LeadInput{{PhoneNumber: "+15551230001"}})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
