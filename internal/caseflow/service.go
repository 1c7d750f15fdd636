// Package caseflow implements the fraud case state machine. Each
// conversation walks a strict linear order: load a pending case, verify
// the customer against the security answer, then record the disposition.
// The machine operates on an explicit CaseContext fetched from the
// session store per call; nothing is kept in the service itself.
package caseflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/opensource-voice/kestrel/internal/domain"
	"github.com/opensource-voice/kestrel/internal/repository"
)

var (
	// ErrNoCaseLoaded is returned when verify or resolve is called
	// before a case has been loaded.
	ErrNoCaseLoaded = errors.New("no fraud case loaded")
	// ErrCaseAlreadyLoaded is returned when loadCase is called while a
	// case is already bound to the conversation.
	ErrCaseAlreadyLoaded = errors.New("a fraud case is already loaded")
	// ErrAlreadyVerified is returned when verification is repeated
	// after a successful check.
	ErrAlreadyVerified = errors.New("customer already verified")
	// ErrUnverified is returned when resolution is attempted without a
	// successful verification.
	ErrUnverified = errors.New("customer identity not verified")
	// ErrCaseResolved is returned for any operation after the
	// conversation reached a terminal state.
	ErrCaseResolved = errors.New("case already resolved for this conversation")
)

// Conversation outcomes reported alongside each reply.
const (
	OutcomeCaseLoaded         = "case_loaded"
	OutcomeCaseNotFound       = "case_not_found"
	OutcomeVerified           = "verified"
	OutcomeVerificationFailed = "verification_failed"
	OutcomeConfirmedSafe      = "confirmed_safe"
	OutcomeConfirmedFraud     = "confirmed_fraud"
)

// Reply is what a tool call hands back to the dialogue runtime: a
// sentence to speak and a machine-readable outcome.
type Reply struct {
	Speech  string
	Outcome string
}

// Service coordinates the state machine against the record store,
// session store, and event bus.
type Service struct {
	repo     domain.Repository
	sessions domain.SessionStore
	bus      domain.EventBus

	mu    sync.Mutex
	locks map[string]*convLock
}

// convLock serializes tool calls within one conversation. The dialogue
// runtime issues calls one at a time, but a misbehaving runtime can
// double-fire; the lock makes the second call observe the first call's
// state transition instead of racing it.
type convLock struct {
	mu   sync.Mutex
	refs int
}

// NewService creates a case flow service.
func NewService(repo domain.Repository, sessions domain.SessionStore, bus domain.EventBus) *Service {
	return &Service{
		repo:     repo,
		sessions: sessions,
		bus:      bus,
		locks:    make(map[string]*convLock),
	}
}

// lockConversation acquires the per-conversation lock and returns its
// release func. Locks are reference-counted so the map does not grow
// with finished conversations.
func (s *Service) lockConversation(conversationID string) func() {
	s.mu.Lock()
	l, ok := s.locks[conversationID]
	if !ok {
		l = &convLock{}
		s.locks[conversationID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, conversationID)
		}
		s.mu.Unlock()
	}
}

// LoadCase looks up the oldest pending case for the given customer name
// and binds it to the conversation. Valid only before any case is bound.
func (s *Service) LoadCase(ctx context.Context, conversationID, customerName string) (*Reply, error) {
	unlock := s.lockConversation(conversationID)
	defer unlock()

	cc, err := s.contextFor(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	switch cc.State {
	case domain.StateCaseLoaded, domain.StateVerified:
		return nil, ErrCaseAlreadyLoaded
	case domain.StateResolved, domain.StateVerifyFailed:
		return nil, ErrCaseResolved
	}

	fc, err := s.repo.LoadPendingCase(ctx, customerName)
	if errors.Is(err, repository.ErrNotFound) {
		slog.Warn("no pending fraud case", "conversation", conversationID, "customer", customerName)
		// State stays no_case; refresh the session so the TTL keeps pace.
		if err := s.sessions.Put(ctx, cc); err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}
		return &Reply{
			Speech: fmt.Sprintf("No pending fraud case found for username '%s'. This may be a wrong number. Please verify the customer's identity.",
				strings.TrimSpace(customerName)),
			Outcome: OutcomeCaseNotFound,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pending case: %w", err)
	}

	cc.Bind(fc, time.Now().UTC())
	if err := s.sessions.Put(ctx, cc); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	slog.Info("fraud case loaded",
		"conversation", conversationID,
		"case", fc.ID,
		"customer", fc.CustomerName)

	speech := fmt.Sprintf(`Fraud case loaded for %s:
- Security Question: %s
- Card Ending: %s
- Transaction: %s at %s
- Date/Time: %s
- Location: %s
- Category: %s

Now proceed with security verification by asking the customer the security question.`,
		fc.CustomerName, fc.SecurityQuestion, fc.CardEnding,
		fc.AmountText(), fc.TransactionMerchant,
		fc.TransactionTime, fc.TransactionLocation, fc.TransactionCategory)

	return &Reply{Speech: speech, Outcome: OutcomeCaseLoaded}, nil
}

// VerifyCustomer checks the supplied answer against the loaded case's
// security answer. The comparison trims whitespace and ignores letter
// case. A mismatch is terminal: the case is marked verification_failed
// in the store and detached from the conversation. There is no retry.
func (s *Service) VerifyCustomer(ctx context.Context, conversationID, answer string) (*Reply, error) {
	unlock := s.lockConversation(conversationID)
	defer unlock()

	cc, err := s.contextFor(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	switch cc.State {
	case domain.StateNoCase:
		return nil, ErrNoCaseLoaded
	case domain.StateVerified:
		return nil, ErrAlreadyVerified
	case domain.StateResolved, domain.StateVerifyFailed:
		return nil, ErrCaseResolved
	}

	fc := cc.Case
	given := strings.TrimSpace(answer)
	expected := strings.TrimSpace(fc.SecurityAnswer)

	if strings.EqualFold(given, expected) {
		cc.State = domain.StateVerified
		cc.Verified = true
		cc.UpdatedAt = time.Now().UTC()
		if err := s.sessions.Put(ctx, cc); err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}

		slog.Info("customer verified", "conversation", conversationID, "case", fc.ID)
		return &Reply{
			Speech:  "Verification successful! Customer identity confirmed. Now proceed to read out the transaction details and ask if they made this transaction.",
			Outcome: OutcomeVerified,
		}, nil
	}

	slog.Warn("customer verification failed", "conversation", conversationID, "case", fc.ID)

	if err := s.repo.UpdateCaseStatus(ctx, fc.ID, domain.StatusVerificationFailed, "Customer failed security verification"); err != nil {
		// The conversation still ends; the store catches up on review.
		slog.Error("failed to record verification failure", "case", fc.ID, "error", err)
	}

	s.publishDisposition(ctx, domain.TopicVerificationFailed, cc.ConversationID, fc, domain.StatusVerificationFailed)

	cc.Detach(domain.StateVerifyFailed, time.Now().UTC())
	if err := s.sessions.Put(ctx, cc); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	return &Reply{
		Speech:  "Verification failed. The answer provided does not match our records. For security reasons, we cannot proceed with this call. Please contact the bank directly at our official number. Goodbye.",
		Outcome: OutcomeVerificationFailed,
	}, nil
}

// ResolveCase records the customer's disposition of the transaction.
// Valid only after a successful verification. confirmed=true marks the
// case confirmed_safe; confirmed=false marks it confirmed_fraud and
// triggers remediation downstream.
func (s *Service) ResolveCase(ctx context.Context, conversationID string, confirmed bool) (*Reply, error) {
	unlock := s.lockConversation(conversationID)
	defer unlock()

	cc, err := s.contextFor(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	switch cc.State {
	case domain.StateNoCase:
		return nil, ErrNoCaseLoaded
	case domain.StateCaseLoaded:
		return nil, ErrUnverified
	case domain.StateResolved, domain.StateVerifyFailed:
		return nil, ErrCaseResolved
	}
	if !cc.Verified {
		return nil, ErrUnverified
	}

	fc := cc.Case

	var (
		status domain.CaseStatus
		note   string
		speech string
	)
	if confirmed {
		status = domain.StatusConfirmedSafe
		note = fmt.Sprintf("Customer %s confirmed the transaction to %s for %s as legitimate.",
			fc.CustomerName, fc.TransactionMerchant, fc.AmountText())
		speech = `Case marked as SAFE. Transaction confirmed as legitimate.

Next steps to communicate to customer:
- Thank them for confirming the transaction
- Explain this was a routine security check to protect their account
- Remind them to contact us immediately if they notice any unauthorized transactions
- Thank them for their time and cooperation`
	} else {
		status = domain.StatusConfirmedFraud
		note = fmt.Sprintf("Customer %s denied making the transaction to %s for %s. Fraudulent activity confirmed.",
			fc.CustomerName, fc.TransactionMerchant, fc.AmountText())
		speech = fmt.Sprintf(`Case marked as FRAUDULENT. Immediate action required.

Next steps to communicate to customer:
- Acknowledge the fraudulent transaction
- Inform them the card ending in %s will be blocked immediately
- A new card will be issued and sent to their registered address within 5-7 business days
- A dispute has been filed and the amount will be credited back to their account
- They should monitor their account for any other suspicious activity
- Thank them for reporting this and helping us keep their account secure`, fc.CardEnding)
	}

	// The store write happens before the state advances so a storage
	// fault leaves the conversation able to retry.
	if err := s.repo.UpdateCaseStatus(ctx, fc.ID, status, note); err != nil {
		return nil, fmt.Errorf("update case status: %w", err)
	}

	s.publishDisposition(ctx, domain.TopicCaseDisposition, cc.ConversationID, fc, status)

	cc.Detach(domain.StateResolved, time.Now().UTC())
	if err := s.sessions.Put(ctx, cc); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	slog.Info("fraud case resolved",
		"conversation", conversationID,
		"case", fc.ID,
		"status", status)

	outcome := OutcomeConfirmedSafe
	if !confirmed {
		outcome = OutcomeConfirmedFraud
	}
	return &Reply{Speech: speech, Outcome: outcome}, nil
}

// contextFor fetches the conversation context, creating one on first use.
func (s *Service) contextFor(ctx context.Context, conversationID string) (*domain.CaseContext, error) {
	cc, err := s.sessions.Get(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if cc == nil {
		cc = domain.NewCaseContext(conversationID, time.Now().UTC())
	}
	return cc, nil
}

func (s *Service) publishDisposition(ctx context.Context, topic, conversationID string, fc *domain.FraudCase, status domain.CaseStatus) {
	if s.bus == nil {
		return
	}

	event := domain.CaseDispositionEvent{
		CaseID:         fc.ID,
		ConversationID: conversationID,
		CustomerName:   fc.CustomerName,
		CardEnding:     fc.CardEnding,
		Merchant:       fc.TransactionMerchant,
		Amount:         fc.TransactionAmount,
		Status:         status,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to encode disposition event", "case", fc.ID, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("failed to publish disposition event", "topic", topic, "case", fc.ID, "error", err)
	}
}
