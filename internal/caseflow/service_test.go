package caseflow

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/opensource-voice/kestrel/internal/domain"
	"github.com/opensource-voice/kestrel/internal/repository"
)

// mapSessions is a minimal in-memory SessionStore for tests.
type mapSessions struct {
	mu sync.Mutex
	m  map[string]*domain.CaseContext
}

func newMapSessions() *mapSessions {
	return &mapSessions{m: make(map[string]*domain.CaseContext)}
}

func (s *mapSessions) Get(_ context.Context, id string) (*domain.CaseContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[id], nil
}

func (s *mapSessions) Put(_ context.Context, cc *domain.CaseContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[cc.ConversationID] = cc
	return nil
}

func (s *mapSessions) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
	return nil
}

func (s *mapSessions) Ping(context.Context) error { return nil }
func (s *mapSessions) Close() error               { return nil }

// recordingBus captures published topics for assertions.
type recordingBus struct {
	mu     sync.Mutex
	topics []string
}

func (b *recordingBus) Publish(_ context.Context, topic string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string, domain.MessageHandler) (domain.Subscription, error) {
	return nil, nil
}

func (b *recordingBus) Ping(context.Context) error { return nil }
func (b *recordingBus) Close() error               { return nil }

func (b *recordingBus) published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.topics...)
}

func newTestService(t *testing.T) (*Service, *repository.SQLRepository, *recordingBus) {
	t.Helper()

	dir := t.TempDir()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:      "sqlite",
		SQLitePath:  filepath.Join(dir, "cases.db"),
		LeadLogPath: filepath.Join(dir, "leads.json"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	bus := &recordingBus{}
	return NewService(repo, newMapSessions(), bus), repo, bus
}

func seedCase(t *testing.T, repo *repository.SQLRepository, name, answer string) int64 {
	t.Helper()
	id, err := repo.CreateCase(context.Background(), &domain.FraudCase{
		CustomerName:        name,
		SecurityIdentifier:  "favorite color",
		SecurityQuestion:    "What is your favorite color?",
		SecurityAnswer:      answer,
		CardEnding:          "4242",
		TransactionAmount:   2499.99,
		TransactionMerchant: "ABC Electronics Store",
		TransactionTime:     "2025-01-15 03:47:00",
		TransactionCategory: "Electronics",
		TransactionSource:   "Online",
		TransactionLocation: "Shanghai, China",
	})
	if err != nil {
		t.Fatalf("seed case: %v", err)
	}
	return id
}

func TestFullFraudFlow(t *testing.T) {
	svc, repo, bus := newTestService(t)
	ctx := context.Background()
	id := seedCase(t, repo, "John Smith", "blue")
	conv := "conv-001"

	reply, err := svc.LoadCase(ctx, conv, "john smith")
	if err != nil {
		t.Fatalf("LoadCase failed: %v", err)
	}
	if reply.Outcome != OutcomeCaseLoaded {
		t.Fatalf("outcome = %q, want case_loaded", reply.Outcome)
	}
	if !strings.Contains(reply.Speech, "What is your favorite color?") {
		t.Errorf("speech missing security question:\n%s", reply.Speech)
	}
	if !strings.Contains(reply.Speech, "₹2499.99") {
		t.Errorf("speech missing amount:\n%s", reply.Speech)
	}

	reply, err = svc.VerifyCustomer(ctx, conv, "  BLUE ")
	if err != nil {
		t.Fatalf("VerifyCustomer failed: %v", err)
	}
	if reply.Outcome != OutcomeVerified {
		t.Fatalf("outcome = %q, want verified", reply.Outcome)
	}

	reply, err = svc.ResolveCase(ctx, conv, false)
	if err != nil {
		t.Fatalf("ResolveCase failed: %v", err)
	}
	if reply.Outcome != OutcomeConfirmedFraud {
		t.Fatalf("outcome = %q, want confirmed_fraud", reply.Outcome)
	}
	if !strings.Contains(reply.Speech, "4242") {
		t.Errorf("fraud speech missing card ending:\n%s", reply.Speech)
	}

	stored, err := repo.GetCase(ctx, id)
	if err != nil {
		t.Fatalf("GetCase failed: %v", err)
	}
	if stored.Status != domain.StatusConfirmedFraud {
		t.Errorf("stored status = %q, want confirmed_fraud", stored.Status)
	}
	if !strings.Contains(stored.OutcomeNote, "John Smith") ||
		!strings.Contains(stored.OutcomeNote, "ABC Electronics Store") {
		t.Errorf("outcome note missing customer or merchant: %q", stored.OutcomeNote)
	}

	topics := bus.published()
	if len(topics) != 1 || topics[0] != domain.TopicCaseDisposition {
		t.Errorf("published topics = %v, want [%s]", topics, domain.TopicCaseDisposition)
	}

	// Terminal: nothing else is allowed on this conversation.
	if _, err := svc.ResolveCase(ctx, conv, true); !errors.Is(err, ErrCaseResolved) {
		t.Errorf("expected ErrCaseResolved, got %v", err)
	}
	if _, err := svc.LoadCase(ctx, conv, "John Smith"); !errors.Is(err, ErrCaseResolved) {
		t.Errorf("expected ErrCaseResolved, got %v", err)
	}
}

func TestLoadCase(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	seedCase(t, repo, "Sarah Johnson", "delhi")

	t.Run("NotFoundIsSpeakableMiss", func(t *testing.T) {
		reply, err := svc.LoadCase(ctx, "conv-miss", "Nobody Here")
		if err != nil {
			t.Fatalf("LoadCase failed: %v", err)
		}
		if reply.Outcome != OutcomeCaseNotFound {
			t.Errorf("outcome = %q, want case_not_found", reply.Outcome)
		}
		if !strings.Contains(reply.Speech, "No pending fraud case found") {
			t.Errorf("speech missing miss message:\n%s", reply.Speech)
		}
	})

	t.Run("MissKeepsConversationOpen", func(t *testing.T) {
		conv := "conv-retry"
		if _, err := svc.LoadCase(ctx, conv, "Wrong Name"); err != nil {
			t.Fatalf("LoadCase failed: %v", err)
		}
		reply, err := svc.LoadCase(ctx, conv, "Sarah Johnson")
		if err != nil {
			t.Fatalf("retry LoadCase failed: %v", err)
		}
		if reply.Outcome != OutcomeCaseLoaded {
			t.Errorf("outcome = %q, want case_loaded", reply.Outcome)
		}
	})

	t.Run("DoubleLoadRejected", func(t *testing.T) {
		conv := "conv-double"
		seedCase(t, repo, "Michael Brown", "sharma")
		if _, err := svc.LoadCase(ctx, conv, "Michael Brown"); err != nil {
			t.Fatalf("LoadCase failed: %v", err)
		}
		if _, err := svc.LoadCase(ctx, conv, "Michael Brown"); !errors.Is(err, ErrCaseAlreadyLoaded) {
			t.Errorf("expected ErrCaseAlreadyLoaded, got %v", err)
		}
	})
}

func TestVerifyCustomer(t *testing.T) {
	svc, repo, bus := newTestService(t)
	ctx := context.Background()

	t.Run("RequiresLoadedCase", func(t *testing.T) {
		if _, err := svc.VerifyCustomer(ctx, "conv-fresh", "blue"); !errors.Is(err, ErrNoCaseLoaded) {
			t.Errorf("expected ErrNoCaseLoaded, got %v", err)
		}
	})

	t.Run("MismatchIsTerminal", func(t *testing.T) {
		id := seedCase(t, repo, "Emily Davis", "max")
		conv := "conv-fail"
		if _, err := svc.LoadCase(ctx, conv, "Emily Davis"); err != nil {
			t.Fatalf("LoadCase failed: %v", err)
		}

		reply, err := svc.VerifyCustomer(ctx, conv, "rex")
		if err != nil {
			t.Fatalf("VerifyCustomer failed: %v", err)
		}
		if reply.Outcome != OutcomeVerificationFailed {
			t.Errorf("outcome = %q, want verification_failed", reply.Outcome)
		}

		stored, err := repo.GetCase(ctx, id)
		if err != nil {
			t.Fatalf("GetCase failed: %v", err)
		}
		if stored.Status != domain.StatusVerificationFailed {
			t.Errorf("stored status = %q, want verification_failed", stored.Status)
		}
		if stored.OutcomeNote != "Customer failed security verification" {
			t.Errorf("outcome note = %q", stored.OutcomeNote)
		}

		// No retry after failure.
		if _, err := svc.VerifyCustomer(ctx, conv, "max"); !errors.Is(err, ErrCaseResolved) {
			t.Errorf("expected ErrCaseResolved, got %v", err)
		}
		// Resolution is blocked too.
		if _, err := svc.ResolveCase(ctx, conv, true); !errors.Is(err, ErrCaseResolved) {
			t.Errorf("expected ErrCaseResolved, got %v", err)
		}

		topics := bus.published()
		if len(topics) != 1 || topics[0] != domain.TopicVerificationFailed {
			t.Errorf("published topics = %v, want [%s]", topics, domain.TopicVerificationFailed)
		}
	})

	t.Run("RepeatAfterSuccessRejected", func(t *testing.T) {
		seedCase(t, repo, "David Wilson", "pizza")
		conv := "conv-repeat"
		if _, err := svc.LoadCase(ctx, conv, "David Wilson"); err != nil {
			t.Fatalf("LoadCase failed: %v", err)
		}
		if _, err := svc.VerifyCustomer(ctx, conv, "Pizza"); err != nil {
			t.Fatalf("VerifyCustomer failed: %v", err)
		}
		if _, err := svc.VerifyCustomer(ctx, conv, "Pizza"); !errors.Is(err, ErrAlreadyVerified) {
			t.Errorf("expected ErrAlreadyVerified, got %v", err)
		}
	})
}

func TestResolveCaseRequiresVerification(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	id := seedCase(t, repo, "John Smith", "blue")
	conv := "conv-unverified"

	if _, err := svc.ResolveCase(ctx, conv, true); !errors.Is(err, ErrNoCaseLoaded) {
		t.Fatalf("expected ErrNoCaseLoaded, got %v", err)
	}

	if _, err := svc.LoadCase(ctx, conv, "John Smith"); err != nil {
		t.Fatalf("LoadCase failed: %v", err)
	}
	if _, err := svc.ResolveCase(ctx, conv, true); !errors.Is(err, ErrUnverified) {
		t.Fatalf("expected ErrUnverified, got %v", err)
	}

	// The rejected resolution must not touch the store.
	stored, err := repo.GetCase(ctx, id)
	if err != nil {
		t.Fatalf("GetCase failed: %v", err)
	}
	if stored.Status != domain.StatusPendingReview {
		t.Errorf("stored status = %q, want pending_review", stored.Status)
	}
}

func TestConversationsAreIsolated(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	seedCase(t, repo, "John Smith", "blue")
	seedCase(t, repo, "Sarah Johnson", "delhi")

	if _, err := svc.LoadCase(ctx, "conv-a", "John Smith"); err != nil {
		t.Fatalf("LoadCase conv-a failed: %v", err)
	}
	if _, err := svc.LoadCase(ctx, "conv-b", "Sarah Johnson"); err != nil {
		t.Fatalf("LoadCase conv-b failed: %v", err)
	}

	// Verifying conv-a must not advance conv-b.
	if _, err := svc.VerifyCustomer(ctx, "conv-a", "blue"); err != nil {
		t.Fatalf("VerifyCustomer conv-a failed: %v", err)
	}
	if _, err := svc.ResolveCase(ctx, "conv-b", true); !errors.Is(err, ErrUnverified) {
		t.Errorf("expected ErrUnverified for conv-b, got %v", err)
	}
}

// jsonSessions stores contexts as JSON, decoding on every Get. This is
// how the Redis-backed store behaves: nothing survives a round trip
// unless it serializes.
type jsonSessions struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newJSONSessions() *jsonSessions {
	return &jsonSessions{m: make(map[string][]byte)}
}

func (s *jsonSessions) Get(_ context.Context, id string) (*domain.CaseContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.m[id]
	if !ok {
		return nil, nil
	}
	var cc domain.CaseContext
	if err := json.Unmarshal(data, &cc); err != nil {
		return nil, err
	}
	return &cc, nil
}

func (s *jsonSessions) Put(_ context.Context, cc *domain.CaseContext) error {
	data, err := json.Marshal(cc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[cc.ConversationID] = data
	return nil
}

func (s *jsonSessions) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
	return nil
}

func (s *jsonSessions) Ping(context.Context) error { return nil }
func (s *jsonSessions) Close() error               { return nil }

// Verification must behave identically when the session store
// serializes contexts between calls. In particular the security answer
// has to survive the round trip: a correct answer verifies, a blank
// one does not.
func TestVerifyCustomerWithSerializedSessions(t *testing.T) {
	ctx := context.Background()

	newSerializedService := func(t *testing.T) (*Service, *repository.SQLRepository) {
		dir := t.TempDir()
		repo, err := repository.New(domain.RepositoryConfig{
			Driver:      "sqlite",
			SQLitePath:  filepath.Join(dir, "cases.db"),
			LeadLogPath: filepath.Join(dir, "leads.json"),
		})
		if err != nil {
			t.Fatalf("failed to create repository: %v", err)
		}
		t.Cleanup(func() { repo.Close() })
		return NewService(repo, newJSONSessions(), &recordingBus{}), repo
	}

	t.Run("CorrectAnswerVerifies", func(t *testing.T) {
		svc, repo := newSerializedService(t)
		seedCase(t, repo, "John Smith", "blue")
		conv := "conv-json-ok"

		if _, err := svc.LoadCase(ctx, conv, "John Smith"); err != nil {
			t.Fatalf("LoadCase failed: %v", err)
		}
		reply, err := svc.VerifyCustomer(ctx, conv, "blue")
		if err != nil {
			t.Fatalf("VerifyCustomer failed: %v", err)
		}
		if reply.Outcome != OutcomeVerified {
			t.Errorf("outcome = %q, want verified", reply.Outcome)
		}
	})

	t.Run("BlankAnswerFails", func(t *testing.T) {
		svc, repo := newSerializedService(t)
		id := seedCase(t, repo, "Sarah Johnson", "delhi")
		conv := "conv-json-blank"

		if _, err := svc.LoadCase(ctx, conv, "Sarah Johnson"); err != nil {
			t.Fatalf("LoadCase failed: %v", err)
		}
		reply, err := svc.VerifyCustomer(ctx, conv, "   ")
		if err != nil {
			t.Fatalf("VerifyCustomer failed: %v", err)
		}
		if reply.Outcome != OutcomeVerificationFailed {
			t.Errorf("outcome = %q, want verification_failed", reply.Outcome)
		}

		got, err := repo.GetCase(ctx, id)
		if err != nil {
			t.Fatalf("GetCase failed: %v", err)
		}
		if got.Status != domain.StatusVerificationFailed {
			t.Errorf("stored status = %q, want verification_failed", got.Status)
		}
	})
}

// A runtime that double-fires resolveCase must still produce exactly
// one disposition; the loser of the race sees the terminal state.
func TestResolveCaseDoubleFire(t *testing.T) {
	svc, repo, bus := newTestService(t)
	ctx := context.Background()
	id := seedCase(t, repo, "Emily Davis", "max")
	conv := "conv-double"

	if _, err := svc.LoadCase(ctx, conv, "Emily Davis"); err != nil {
		t.Fatalf("LoadCase failed: %v", err)
	}
	if _, err := svc.VerifyCustomer(ctx, conv, "max"); err != nil {
		t.Fatalf("VerifyCustomer failed: %v", err)
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ResolveCase(ctx, conv, false)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, rejected int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrCaseResolved):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("got %d successes / %d rejections, want exactly 1 / 1", succeeded, rejected)
	}

	var dispositions int
	for _, topic := range bus.published() {
		if topic == domain.TopicCaseDisposition {
			dispositions++
		}
	}
	if dispositions != 1 {
		t.Errorf("published %d dispositions, want exactly 1", dispositions)
	}

	got, err := repo.GetCase(ctx, id)
	if err != nil {
		t.Fatalf("GetCase failed: %v", err)
	}
	if got.Status != domain.StatusConfirmedFraud {
		t.Errorf("stored status = %q, want confirmed_fraud", got.Status)
	}
}
