// Package faq provides the in-memory FAQ index used by the SDR tool
// surface. The document is loaded once at startup and never mutated,
// so lookups need no locking.
package faq

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/opensource-voice/kestrel/internal/domain"
)

// maxAnswers caps how many FAQ entries a single search returns. Replies
// are spoken aloud, so long lists are worse than useless.
const maxAnswers = 2

// Index answers free-form product questions from a fixed FAQ document.
type Index struct {
	doc domain.FAQDocument
}

// Load reads the FAQ document at path and builds an index. A missing or
// malformed file degrades to an empty index with a warning rather than
// failing startup.
func Load(path string) *Index {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("faq document unavailable, serving empty index", "path", path, "error", err)
		return &Index{}
	}

	var doc domain.FAQDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("faq document malformed, serving empty index", "path", path, "error", err)
		return &Index{}
	}

	return &Index{doc: doc}
}

// NewIndex builds an index directly from a document.
func NewIndex(doc domain.FAQDocument) *Index {
	return &Index{doc: doc}
}

// Size returns the number of indexed FAQ entries.
func (i *Index) Size() int {
	return len(i.doc.FAQ)
}

// Search returns up to two matching FAQ entries formatted for speech.
// Matching is token based in both directions: a query token appearing
// inside a question matches, and a question token appearing inside the
// query matches. When nothing matches, a company summary is returned so
// the caller always has something to say.
func (i *Index) Search(query string) string {
	queryLower := strings.ToLower(strings.TrimSpace(query))
	queryWords := strings.Fields(queryLower)

	var matches []domain.FAQEntry
	for _, entry := range i.doc.FAQ {
		if len(matches) >= maxAnswers {
			break
		}
		if entryMatches(entry, queryLower, queryWords) {
			matches = append(matches, entry)
		}
	}

	if len(matches) == 0 {
		return i.summary()
	}

	parts := make([]string, len(matches))
	for idx, entry := range matches {
		parts[idx] = fmt.Sprintf("Q: %s\nA: %s", entry.Question, entry.Answer)
	}
	return strings.Join(parts, "\n\n")
}

func entryMatches(entry domain.FAQEntry, queryLower string, queryWords []string) bool {
	questionLower := strings.ToLower(entry.Question)

	for _, w := range queryWords {
		if strings.Contains(questionLower, w) {
			return true
		}
	}
	for _, w := range strings.Fields(questionLower) {
		if strings.Contains(queryLower, w) {
			return true
		}
	}
	return false
}

// summary describes the company when no FAQ entry matches.
func (i *Index) summary() string {
	info := i.doc.CompanyInfo
	return fmt.Sprintf("Company: %s\n%s\n\nServices: %s",
		info.Name, info.Description, strings.Join(info.Services, ", "))
}
