package rules

import (
	"context"
	"testing"

	"github.com/opensource-voice/kestrel/internal/domain"
)

func fptr(f float64) *float64 { return &f }

func matchBands(reason string) []domain.ScoreBand {
	return []domain.ScoreBand{
		{LowerLimit: fptr(0), UpperLimit: fptr(1), Signal: domain.SignalMiss, Reason: "no signal"},
		{LowerLimit: fptr(1), Signal: domain.SignalMatch, Reason: reason},
	}
}

func sampleLead() *domain.Lead {
	return &domain.Lead{
		Name:     "Priya Sharma",
		Email:    "priya@bigcorp.com",
		Company:  "BigCorp",
		Role:     "VP Engineering",
		UseCase:  "Automating outbound sales calls",
		TeamSize: "50-100",
		Timeline: "this quarter",
	}
}

func TestEngineCompile(t *testing.T) {
	engine, err := NewEngine(4)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	defer engine.Close()

	t.Run("ValidExpression", func(t *testing.T) {
		err := engine.ValidateQualifier(&domain.QualifierConfig{
			ID:         "corp-email",
			Expression: `!email_domain.endsWith("gmail.com") && !email_domain.endsWith("yahoo.com")`,
		})
		if err != nil {
			t.Errorf("ValidateQualifier failed: %v", err)
		}
	})

	t.Run("SyntaxError", func(t *testing.T) {
		err := engine.ValidateQualifier(&domain.QualifierConfig{
			ID:         "broken",
			Expression: `email ==`,
		})
		if err == nil {
			t.Error("expected compile error")
		}
	})

	t.Run("WrongOutputType", func(t *testing.T) {
		err := engine.ValidateQualifier(&domain.QualifierConfig{
			ID:         "stringy",
			Expression: `email_domain`,
		})
		if err == nil {
			t.Error("expected output type error")
		}
	})
}

func TestQualify(t *testing.T) {
	engine, err := NewEngine(4)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	defer engine.Close()
	ctx := context.Background()

	t.Run("NoQualifiersLoaded", func(t *testing.T) {
		q, err := engine.Qualify(ctx, sampleLead())
		if err != nil {
			t.Fatalf("Qualify failed: %v", err)
		}
		if q != nil {
			t.Errorf("expected nil qualification with no rules, got %+v", q)
		}
	})

	configs := []*domain.QualifierConfig{
		{
			ID:         "corp-email",
			Name:       "Corporate Email",
			Expression: `!email_domain.endsWith("gmail.com")`,
			Bands:      matchBands("business email address"),
			Weight:     1.0,
			Enabled:    true,
		},
		{
			ID:         "named-company",
			Name:       "Company Provided",
			Expression: `has_company`,
			Bands:      matchBands("company on record"),
			Weight:     1.0,
			Enabled:    true,
		},
		{
			ID:         "near-term",
			Name:       "Near-Term Timeline",
			Expression: `timeline.contains("quarter") || timeline.contains("month")`,
			Bands:      matchBands("buying window open"),
			Weight:     2.0,
			Enabled:    true,
		},
		{
			ID:         "disabled-rule",
			Expression: `true`,
			Enabled:    false,
		},
	}
	if err := engine.LoadQualifiers(configs); err != nil {
		t.Fatalf("LoadQualifiers failed: %v", err)
	}
	if engine.QualifiersCount() != 3 {
		t.Fatalf("loaded %d qualifiers, want 3 (disabled skipped)", engine.QualifiersCount())
	}

	t.Run("HotLead", func(t *testing.T) {
		q, err := engine.Qualify(ctx, sampleLead())
		if err != nil {
			t.Fatalf("Qualify failed: %v", err)
		}
		if q.Tier != domain.TierHot {
			t.Errorf("tier = %q (score %.2f), want hot", q.Tier, q.Score)
		}
		if len(q.Results) != 3 {
			t.Errorf("got %d results, want 3", len(q.Results))
		}
	})

	t.Run("ColdLead", func(t *testing.T) {
		lead := &domain.Lead{
			Name:  "Sam",
			Email: "sam@gmail.com",
		}
		q, err := engine.Qualify(ctx, lead)
		if err != nil {
			t.Fatalf("Qualify failed: %v", err)
		}
		if q.Tier != domain.TierCold {
			t.Errorf("tier = %q (score %.2f), want cold", q.Tier, q.Score)
		}
	})

	t.Run("WarmLead", func(t *testing.T) {
		lead := &domain.Lead{
			Name:    "Alex",
			Email:   "alex@startup.io",
			Company: "Startup",
		}
		// Matches corp-email and named-company (weight 2 of 4 total).
		q, err := engine.Qualify(ctx, lead)
		if err != nil {
			t.Fatalf("Qualify failed: %v", err)
		}
		if q.Tier != domain.TierWarm {
			t.Errorf("tier = %q (score %.2f), want warm", q.Tier, q.Score)
		}
	})
}

func TestQualifyErroredRuleExcluded(t *testing.T) {
	engine, err := NewEngine(4)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	defer engine.Close()

	configs := []*domain.QualifierConfig{
		{
			ID: "divide-by-zero",
			// Evaluation fails at runtime even though it compiles.
			Expression: `1 / int(team_size.size() - team_size.size()) > 0`,
			Bands:      matchBands("never"),
			Weight:     5.0,
			Enabled:    true,
		},
		{
			ID:         "always-match",
			Expression: `true`,
			Bands:      matchBands("baseline"),
			Weight:     1.0,
			Enabled:    true,
		},
	}
	if err := engine.LoadQualifiers(configs); err != nil {
		t.Fatalf("LoadQualifiers failed: %v", err)
	}

	q, err := engine.Qualify(context.Background(), sampleLead())
	if err != nil {
		t.Fatalf("Qualify failed: %v", err)
	}
	if q.Tier != domain.TierHot {
		t.Errorf("tier = %q (score %.2f), want hot with errored rule excluded", q.Tier, q.Score)
	}

	var sawError bool
	for _, r := range q.Results {
		if r.QualifierID == "divide-by-zero" && r.Signal == domain.SignalError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("expected .err signal for the failing qualifier")
	}
}

func TestReloadQualifiers(t *testing.T) {
	engine, err := NewEngine(4)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	defer engine.Close()

	first := []*domain.QualifierConfig{
		{ID: "a", Expression: `true`, Bands: matchBands("a"), Enabled: true},
		{ID: "b", Expression: `true`, Bands: matchBands("b"), Enabled: true},
	}
	if err := engine.LoadQualifiers(first); err != nil {
		t.Fatalf("LoadQualifiers failed: %v", err)
	}

	second := []*domain.QualifierConfig{
		{ID: "c", Expression: `has_company`, Bands: matchBands("c"), Enabled: true},
	}
	if err := engine.ReloadQualifiers(second); err != nil {
		t.Fatalf("ReloadQualifiers failed: %v", err)
	}
	if engine.QualifiersCount() != 1 {
		t.Errorf("loaded %d qualifiers after reload, want 1", engine.QualifiersCount())
	}

	loaded := engine.GetLoadedQualifiers()
	if len(loaded) != 1 || loaded[0].ID != "c" {
		t.Errorf("loaded = %+v, want only c", loaded)
	}

	// A bad reload must not wipe the working set.
	bad := []*domain.QualifierConfig{
		{ID: "broken", Expression: `nonsense(`, Enabled: true},
	}
	if err := engine.ReloadQualifiers(bad); err == nil {
		t.Fatal("expected reload error")
	}
	if engine.QualifiersCount() != 1 {
		t.Errorf("working set size = %d after failed reload, want 1", engine.QualifiersCount())
	}
}
