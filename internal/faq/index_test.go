package faq

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-voice/kestrel/internal/domain"
)

func testDocument() domain.FAQDocument {
	return domain.FAQDocument{
		CompanyInfo: domain.CompanyInfo{
			Name:        "Acme Voice",
			Description: "Voice automation for sales teams.",
			Services:    []string{"Outbound calling", "Lead qualification", "CRM sync"},
		},
		FAQ: []domain.FAQEntry{
			{Question: "What is your pricing?", Answer: "Plans start at $99 per month."},
			{Question: "Do you offer a free trial?", Answer: "Yes, 14 days."},
			{Question: "What about pricing for enterprises?", Answer: "Contact sales for volume pricing."},
			{Question: "How does onboarding work?", Answer: "A specialist sets you up in a week."},
		},
	}
}

func TestSearch(t *testing.T) {
	idx := NewIndex(testDocument())

	t.Run("MatchesQueryWordInQuestion", func(t *testing.T) {
		got := idx.Search("pricing")
		if !strings.Contains(got, "Plans start at $99 per month.") {
			t.Errorf("expected pricing answer, got:\n%s", got)
		}
	})

	t.Run("ReturnsAtMostTwoInDocumentOrder", func(t *testing.T) {
		got := idx.Search("pricing")
		parts := strings.Split(got, "\n\n")
		if len(parts) != 2 {
			t.Fatalf("got %d answers, want 2:\n%s", len(parts), got)
		}
		if !strings.HasPrefix(parts[0], "Q: What is your pricing?") {
			t.Errorf("first answer out of order:\n%s", parts[0])
		}
		if !strings.HasPrefix(parts[1], "Q: What about pricing for enterprises?") {
			t.Errorf("second answer out of order:\n%s", parts[1])
		}
	})

	t.Run("MatchesQuestionWordInQuery", func(t *testing.T) {
		got := idx.Search("tell me how onboarding goes")
		if !strings.Contains(got, "A specialist sets you up in a week.") {
			t.Errorf("expected onboarding answer, got:\n%s", got)
		}
	})

	t.Run("NoMatchFallsBackToSummary", func(t *testing.T) {
		got := idx.Search("zzzz")
		if !strings.Contains(got, "Company: Acme Voice") {
			t.Errorf("expected company summary, got:\n%s", got)
		}
		if !strings.Contains(got, "Services: Outbound calling, Lead qualification, CRM sync") {
			t.Errorf("expected services list, got:\n%s", got)
		}
	})

	t.Run("NeverEmpty", func(t *testing.T) {
		for _, q := range []string{"", "   ", "unrelated nonsense"} {
			if idx.Search(q) == "" {
				t.Errorf("Search(%q) returned empty reply", q)
			}
		}
	})
}

func TestLoad(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		idx := Load(filepath.Join(t.TempDir(), "absent.json"))
		if idx.Size() != 0 {
			t.Errorf("expected empty index, got %d entries", idx.Size())
		}
		if idx.Search("anything") == "" {
			t.Error("empty index should still answer with a summary")
		}
	})

	t.Run("MalformedFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "faq.json")
		if err := os.WriteFile(path, []byte("{broken"), 0644); err != nil {
			t.Fatalf("write file: %v", err)
		}
		if idx := Load(path); idx.Size() != 0 {
			t.Errorf("expected empty index, got %d entries", idx.Size())
		}
	})

	t.Run("ValidFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "faq.json")
		doc := `{
			"company_info": {"name": "Acme Voice", "description": "Voice automation.", "services": ["Calling"]},
			"faq": [{"question": "What is your pricing?", "answer": "From $99."}]
		}`
		if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
			t.Fatalf("write file: %v", err)
		}
		idx := Load(path)
		if idx.Size() != 1 {
			t.Fatalf("expected 1 entry, got %d", idx.Size())
		}
		if got := idx.Search("pricing"); !strings.Contains(got, "From $99.") {
			t.Errorf("expected pricing answer, got:\n%s", got)
		}
	})
}
