// Package leads implements lead capture for the SDR workflow. Captures
// are a write-mostly sink: validate, stamp, score, append, acknowledge.
package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-voice/kestrel/internal/domain"
	"github.com/opensource-voice/kestrel/internal/rules"
)

// ErrMalformedInput is returned when a capture is rejected before it
// reaches the store.
var ErrMalformedInput = errors.New("malformed lead input")

// Capture holds the fields gathered during a conversation.
type Capture struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Company  string `json:"company"`
	Role     string `json:"role"`
	UseCase  string `json:"useCase"`
	TeamSize string `json:"teamSize"`
	Timeline string `json:"timeline"`
	Notes    string `json:"notes"`
}

// Service validates, qualifies, and persists captured leads.
type Service struct {
	repo   domain.Repository
	engine *rules.Engine
	bus    domain.EventBus
}

// NewService creates a lead capture service. engine may be nil, in
// which case leads are recorded unscored.
func NewService(repo domain.Repository, engine *rules.Engine, bus domain.EventBus) *Service {
	return &Service{
		repo:   repo,
		engine: engine,
		bus:    bus,
	}
}

// RecordLead appends a new lead record and returns an acknowledgment
// sentence. Every call produces an independent record; there is no
// merging or deduplication.
func (s *Service) RecordLead(ctx context.Context, conversationID string, capture *Capture) (string, error) {
	name := strings.TrimSpace(capture.Name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrMalformedInput)
	}
	if err := checkEmail(capture.Email); err != nil {
		return "", err
	}

	lead := &domain.Lead{
		Name:     name,
		Email:    strings.TrimSpace(capture.Email),
		Company:  strings.TrimSpace(capture.Company),
		Role:     strings.TrimSpace(capture.Role),
		UseCase:  strings.TrimSpace(capture.UseCase),
		TeamSize: strings.TrimSpace(capture.TeamSize),
		Timeline: strings.TrimSpace(capture.Timeline),
		Notes:    strings.TrimSpace(capture.Notes),
	}
	lead.StampCapture(time.Now())

	if s.engine != nil {
		q, err := s.engine.Qualify(ctx, lead)
		if err != nil {
			slog.Warn("lead qualification failed", "conversation", conversationID, "error", err)
		} else if q != nil {
			lead.Qualification = q.Tier
			lead.Score = q.Score
		}
	}

	if err := s.repo.AppendLead(ctx, lead); err != nil {
		return "", fmt.Errorf("append lead: %w", err)
	}

	slog.Info("lead captured",
		"conversation", conversationID,
		"name", lead.Name,
		"company", lead.Company,
		"qualification", lead.Qualification)

	s.publishCaptured(ctx, conversationID, lead)

	return fmt.Sprintf("Lead information saved successfully! I've captured %s's details. Thank you for your interest!", lead.Name), nil
}

// checkEmail accepts any address with a non-empty local part and a
// non-empty domain. Stricter validation belongs to the CRM downstream.
func checkEmail(email string) error {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return fmt.Errorf("%w: email %q is not plausible", ErrMalformedInput, email)
	}
	return nil
}

func (s *Service) publishCaptured(ctx context.Context, conversationID string, lead *domain.Lead) {
	if s.bus == nil {
		return
	}

	event := domain.LeadCapturedEvent{
		ConversationID: conversationID,
		Name:           lead.Name,
		Email:          lead.Email,
		Company:        lead.Company,
		Qualification:  lead.Qualification,
		Score:          lead.Score,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to encode lead event", "error", err)
		return
	}
	if err := s.bus.Publish(ctx, domain.TopicLeadCaptured, payload); err != nil {
		slog.Warn("failed to publish lead event", "error", err)
	}
}
