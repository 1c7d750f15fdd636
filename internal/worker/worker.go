// Package worker turns confirmed-fraud dispositions into remediation
// tasks. It subscribes to the disposition topic and fans each fraud
// case out to the downstream card and dispute systems.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-voice/kestrel/internal/domain"
)

// Remediation actions queued for every confirmed-fraud case, in order.
var remediationActions = []string{
	"card_block",
	"card_reissue",
	"dispute_filing",
}

// Worker processes case dispositions asynchronously from the EventBus.
type Worker struct {
	bus  domain.EventBus
	repo domain.Repository

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	mu    sync.Mutex
	stats Stats
}

// Stats counts what the worker has processed since start.
type Stats struct {
	DispositionsSeen int64 `json:"dispositionsSeen"`
	TasksPublished   int64 `json:"tasksPublished"`
	Failures         int64 `json:"failures"`
}

// NewWorker creates a remediation worker.
func NewWorker(bus domain.EventBus, repo domain.Repository) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the disposition topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicCaseDisposition, w.handleDisposition)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("remediation worker started", "topic", domain.TopicCaseDisposition)
	return nil
}

// Stop unsubscribes and halts processing.
func (w *Worker) Stop() {
	w.cancel()
	for _, sub := range w.subscriptions {
		_ = sub.Unsubscribe()
	}
	w.subscriptions = nil
	slog.Info("remediation worker stopped")
}

// GetStats returns a snapshot of worker counters.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Worker) handleDisposition(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var event domain.CaseDispositionEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse disposition event",
			"message_id", msg.ID,
			"error", err,
		)
		w.count(func(s *Stats) { s.Failures++ })
		return err
	}

	w.count(func(s *Stats) { s.DispositionsSeen++ })

	// Only confirmed fraud triggers remediation.
	if event.Status != domain.StatusConfirmedFraud {
		return nil
	}

	// Confirm against the record store before touching the card
	// systems. A replayed or stale event whose case is not actually
	// confirmed_fraud must not block a card.
	fc, err := w.repo.GetCase(ctx, event.CaseID)
	if err != nil {
		slog.Error("failed to confirm case before remediation",
			"case", event.CaseID,
			"error", err,
		)
		w.count(func(s *Stats) { s.Failures++ })
		return err
	}
	if fc.Status != domain.StatusConfirmedFraud {
		slog.Warn("skipping remediation, store disagrees with event",
			"case", event.CaseID,
			"stored_status", fc.Status,
		)
		return nil
	}

	slog.Info("queueing remediation",
		"case", event.CaseID,
		"customer", event.CustomerName,
		"card_ending", event.CardEnding,
	)

	for _, action := range remediationActions {
		task := domain.RemediationTask{
			CaseID:     event.CaseID,
			Action:     action,
			CardEnding: event.CardEnding,
		}
		payload, err := json.Marshal(task)
		if err != nil {
			slog.Error("failed to encode remediation task",
				"case", event.CaseID,
				"action", action,
				"error", err,
			)
			w.count(func(s *Stats) { s.Failures++ })
			continue
		}

		if err := w.bus.Publish(ctx, domain.TopicRemediation, payload); err != nil {
			slog.Error("failed to publish remediation task",
				"case", event.CaseID,
				"action", action,
				"error", err,
			)
			w.count(func(s *Stats) { s.Failures++ })
			continue
		}
		w.count(func(s *Stats) { s.TasksPublished++ })
	}

	slog.Debug("remediation queued",
		"case", event.CaseID,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) count(fn func(*Stats)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.stats)
}
