package leads

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-voice/kestrel/internal/domain"
	"github.com/opensource-voice/kestrel/internal/repository"
	"github.com/opensource-voice/kestrel/internal/rules"
)

func newTestService(t *testing.T, engine *rules.Engine) (*Service, *repository.SQLRepository) {
	t.Helper()

	dir := t.TempDir()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:      "sqlite",
		SQLitePath:  filepath.Join(dir, "kestrel.db"),
		LeadLogPath: filepath.Join(dir, "leads.json"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return NewService(repo, engine, nil), repo
}

func TestRecordLead(t *testing.T) {
	svc, repo := newTestService(t, nil)
	ctx := context.Background()

	capture := &Capture{
		Name:     "  Priya Sharma ",
		Email:    "priya@bigcorp.com",
		Company:  "BigCorp",
		Role:     "VP Engineering",
		UseCase:  "Outbound calling",
		TeamSize: "50-100",
		Timeline: "this quarter",
	}

	ack, err := svc.RecordLead(ctx, "conv-001", capture)
	if err != nil {
		t.Fatalf("RecordLead failed: %v", err)
	}
	if !strings.Contains(ack, "Priya Sharma") {
		t.Errorf("acknowledgment missing name: %q", ack)
	}

	stored, err := repo.ListLeads(ctx)
	if err != nil {
		t.Fatalf("ListLeads failed: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("got %d leads, want 1", len(stored))
	}

	lead := stored[0]
	if lead.Name != "Priya Sharma" {
		t.Errorf("name = %q, want trimmed Priya Sharma", lead.Name)
	}
	if lead.Source != domain.LeadSource {
		t.Errorf("source = %q, want %q", lead.Source, domain.LeadSource)
	}
	if lead.Timestamp == "" || lead.Date == "" || lead.Time == "" {
		t.Error("capture stamp not filled")
	}
	if lead.Qualification != "" {
		t.Errorf("expected unscored lead without engine, got %q", lead.Qualification)
	}
}

func TestRecordLeadValidation(t *testing.T) {
	svc, repo := newTestService(t, nil)
	ctx := context.Background()

	cases := []struct {
		name    string
		capture Capture
	}{
		{"EmptyName", Capture{Name: "  ", Email: "a@b.com"}},
		{"NoAtSign", Capture{Name: "Sam", Email: "sam.example.com"}},
		{"MissingLocal", Capture{Name: "Sam", Email: "@example.com"}},
		{"MissingDomain", Capture{Name: "Sam", Email: "sam@"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.RecordLead(ctx, "conv-001", &tc.capture)
			if !errors.Is(err, ErrMalformedInput) {
				t.Errorf("expected ErrMalformedInput, got %v", err)
			}
		})
	}

	stored, err := repo.ListLeads(ctx)
	if err != nil {
		t.Fatalf("ListLeads failed: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("rejected captures must not reach the store, found %d", len(stored))
	}
}

func TestRepeatedCapturesAppend(t *testing.T) {
	svc, repo := newTestService(t, nil)
	ctx := context.Background()

	capture := &Capture{Name: "Alex Chen", Email: "alex@startup.io"}
	for i := 0; i < 2; i++ {
		if _, err := svc.RecordLead(ctx, "conv-001", capture); err != nil {
			t.Fatalf("RecordLead %d failed: %v", i, err)
		}
	}

	stored, err := repo.ListLeads(ctx)
	if err != nil {
		t.Fatalf("ListLeads failed: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("got %d leads, want 2 independent records", len(stored))
	}
}

func TestRecordLeadQualifies(t *testing.T) {
	engine, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	defer engine.Close()

	one := 1.0
	zero := 0.0
	err = engine.LoadQualifiers([]*domain.QualifierConfig{
		{
			ID:         "corp-email",
			Expression: `!email_domain.endsWith("gmail.com")`,
			Bands: []domain.ScoreBand{
				{LowerLimit: &zero, UpperLimit: &one, Signal: domain.SignalMiss, Reason: "personal email"},
				{LowerLimit: &one, Signal: domain.SignalMatch, Reason: "business email"},
			},
			Weight:  1.0,
			Enabled: true,
		},
	})
	if err != nil {
		t.Fatalf("LoadQualifiers failed: %v", err)
	}

	svc, repo := newTestService(t, engine)
	ctx := context.Background()

	if _, err := svc.RecordLead(ctx, "conv-001", &Capture{Name: "Priya", Email: "priya@bigcorp.com"}); err != nil {
		t.Fatalf("RecordLead failed: %v", err)
	}

	stored, err := repo.ListLeads(ctx)
	if err != nil {
		t.Fatalf("ListLeads failed: %v", err)
	}
	if stored[0].Qualification != domain.TierHot {
		t.Errorf("qualification = %q (score %.2f), want hot", stored[0].Qualification, stored[0].Score)
	}
}
