package domain

import (
	"fmt"
	"time"
)

// TimeLayout is the fixed format used for persisted case timestamps.
const TimeLayout = "2006-01-02 15:04:05"

// CaseStatus is the closed set of fraud case statuses.
// The store boundary rejects any write outside this set.
type CaseStatus string

const (
	StatusPendingReview      CaseStatus = "pending_review"
	StatusVerificationFailed CaseStatus = "verification_failed"
	StatusConfirmedSafe      CaseStatus = "confirmed_safe"
	StatusConfirmedFraud     CaseStatus = "confirmed_fraud"
)

// Valid reports whether s is a member of the status enumeration.
func (s CaseStatus) Valid() bool {
	switch s {
	case StatusPendingReview, StatusVerificationFailed, StatusConfirmedSafe, StatusConfirmedFraud:
		return true
	}
	return false
}

// Terminal reports whether s ends a case's review lifecycle.
// A case never returns to pending_review once it has left it.
func (s CaseStatus) Terminal() bool {
	return s.Valid() && s != StatusPendingReview
}

// FraudCase is a single fraud-alert record awaiting a
// verification-and-resolution conversation.
type FraudCase struct {
	ID int64 `json:"id"`

	// Subject
	CustomerName       string `json:"customerName"`
	SecurityIdentifier string `json:"securityIdentifier"`

	// Verification material. The answer is compared case-insensitively
	// after trimming whitespace and is never vocalized. It must survive
	// session serialization; the admin API redacts it on the way out.
	SecurityQuestion string `json:"securityQuestion"`
	SecurityAnswer   string `json:"securityAnswer"`

	// Flagged transaction
	CardEnding          string  `json:"cardEnding"`
	TransactionAmount   float64 `json:"transactionAmount"`
	TransactionMerchant string  `json:"transactionMerchant"`
	TransactionTime     string  `json:"transactionTime"`
	TransactionCategory string  `json:"transactionCategory"`
	TransactionSource   string  `json:"transactionSource"`
	TransactionLocation string  `json:"transactionLocation"`

	Status      CaseStatus `json:"status"`
	OutcomeNote string     `json:"outcomeNote,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AmountText renders the transaction amount as spoken in outcome notes
// and tool replies.
func (c *FraudCase) AmountText() string {
	return fmt.Sprintf("₹%.2f", c.TransactionAmount)
}

// ConversationState tracks where a conversation is in the
// load → verify → resolve flow.
type ConversationState string

const (
	StateNoCase       ConversationState = "no_case"
	StateCaseLoaded   ConversationState = "case_loaded"
	StateVerified     ConversationState = "verified"
	StateResolved     ConversationState = "resolved"
	StateVerifyFailed ConversationState = "verification_failed"
)

// CaseContext is the per-conversation fraud flow state. It is created when a
// conversation starts, held in the session store keyed by conversation ID, and
// discarded when the conversation ends. It is never shared across
// conversations; the one-case-per-conversation invariant lives here, not in
// any service instance.
type CaseContext struct {
	ConversationID string            `json:"conversationId"`
	State          ConversationState `json:"state"`

	// Case is the snapshot bound at load time; nil unless a case is loaded.
	Case *FraudCase `json:"case,omitempty"`

	// Verified becomes true only through a successful verification step and
	// is never set true again without a fresh load.
	Verified bool `json:"verified"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// NewCaseContext creates an empty context for a conversation.
func NewCaseContext(conversationID string, now time.Time) *CaseContext {
	return &CaseContext{
		ConversationID: conversationID,
		State:          StateNoCase,
		UpdatedAt:      now.UTC(),
	}
}

// Bind attaches a loaded case to the conversation.
func (c *CaseContext) Bind(fc *FraudCase, now time.Time) {
	c.Case = fc
	c.State = StateCaseLoaded
	c.Verified = false
	c.UpdatedAt = now.UTC()
}

// Detach drops the case reference after a terminal transition so no further
// operation can reference it.
func (c *CaseContext) Detach(state ConversationState, now time.Time) {
	c.Case = nil
	c.State = state
	c.Verified = false
	c.UpdatedAt = now.UTC()
}
