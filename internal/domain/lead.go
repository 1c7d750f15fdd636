package domain

import "time"

// LeadSource is the fixed source tag stamped on every captured lead.
const LeadSource = "Voice SDR Agent"

// Lead is a captured prospective-customer record from a sales conversation.
// Leads are append-only: no identity key is enforced and repeated captures of
// the same person produce independent records.
type Lead struct {
	// System-assigned capture time, split to match the persisted document.
	Timestamp string `json:"timestamp"`
	Date      string `json:"date"`
	Time      string `json:"time"`

	// Required
	Name  string `json:"name"`
	Email string `json:"email"`

	// Optional
	Company  string `json:"company,omitempty"`
	Role     string `json:"role,omitempty"`
	UseCase  string `json:"use_case,omitempty"`
	TeamSize string `json:"team_size,omitempty"`
	Timeline string `json:"timeline,omitempty"`
	Notes    string `json:"notes,omitempty"`

	Source string `json:"source"`

	// Qualification output, present when the qualifier engine has rules
	// loaded at capture time.
	Qualification string  `json:"qualification,omitempty"`
	Score         float64 `json:"score,omitempty"`
}

// StampCapture fills the system-assigned fields from the capture instant.
func (l *Lead) StampCapture(now time.Time) {
	l.Timestamp = now.Format(time.RFC3339)
	l.Date = now.Format("2006-01-02")
	l.Time = now.Format("15:04:05")
	l.Source = LeadSource
}
