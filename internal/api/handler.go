package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-voice/kestrel/internal/caseflow"
	"github.com/opensource-voice/kestrel/internal/domain"
	"github.com/opensource-voice/kestrel/internal/faq"
	"github.com/opensource-voice/kestrel/internal/leads"
	"github.com/opensource-voice/kestrel/internal/repository"
	"github.com/opensource-voice/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	sessions domain.SessionStore
	bus      domain.EventBus
	cases    *caseflow.Service
	leads    *leads.Service
	faq      *faq.Index
	engine   *rules.Engine
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, sessions domain.SessionStore, bus domain.EventBus, cases *caseflow.Service, leadSvc *leads.Service, faqIndex *faq.Index, engine *rules.Engine, version string) *Handler {
	return &Handler{
		repo:     repo,
		sessions: sessions,
		bus:      bus,
		cases:    cases,
		leads:    leadSvc,
		faq:      faqIndex,
		engine:   engine,
		version:  version,
	}
}

// ToolResponse is what every tool route returns, regardless of outcome.
// The dialogue runtime relays speech verbatim, so tool routes answer
// 200 with a speakable sentence even when the operation is rejected.
type ToolResponse struct {
	Speech  string `json:"speech"`
	Outcome string `json:"outcome"`
}

const (
	outcomeRejected = "rejected"
	outcomeError    = "error"
	outcomeFAQ      = "faq_answer"
	outcomeLead     = "lead_captured"
)

// LoadCaseRequest is the request body for POST /tools/load_case.
type LoadCaseRequest struct {
	Username string `json:"username"`
}

// LoadCase handles POST /tools/load_case.
func (h *Handler) LoadCase(w http.ResponseWriter, r *http.Request) {
	var req LoadCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON request body")
		return
	}

	conversationID := GetConversationID(r.Context())
	reply, err := h.cases.LoadCase(r.Context(), conversationID, req.Username)
	if err != nil {
		writeToolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToolResponse{Speech: reply.Speech, Outcome: reply.Outcome})
}

// VerifyCustomerRequest is the request body for POST /tools/verify_customer.
type VerifyCustomerRequest struct {
	Answer string `json:"answer"`
}

// VerifyCustomer handles POST /tools/verify_customer.
func (h *Handler) VerifyCustomer(w http.ResponseWriter, r *http.Request) {
	var req VerifyCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON request body")
		return
	}

	conversationID := GetConversationID(r.Context())
	reply, err := h.cases.VerifyCustomer(r.Context(), conversationID, req.Answer)
	if err != nil {
		writeToolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToolResponse{Speech: reply.Speech, Outcome: reply.Outcome})
}

// ResolveCaseRequest is the request body for POST /tools/resolve_case.
type ResolveCaseRequest struct {
	CustomerMadeTransaction bool `json:"customerMadeTransaction"`
}

// ResolveCase handles POST /tools/resolve_case.
func (h *Handler) ResolveCase(w http.ResponseWriter, r *http.Request) {
	var req ResolveCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON request body")
		return
	}

	conversationID := GetConversationID(r.Context())
	reply, err := h.cases.ResolveCase(r.Context(), conversationID, req.CustomerMadeTransaction)
	if err != nil {
		writeToolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToolResponse{Speech: reply.Speech, Outcome: reply.Outcome})
}

// RecordLead handles POST /tools/record_lead.
func (h *Handler) RecordLead(w http.ResponseWriter, r *http.Request) {
	var capture leads.Capture
	if err := json.NewDecoder(r.Body).Decode(&capture); err != nil {
		writeBadRequest(w, "invalid JSON request body")
		return
	}

	conversationID := GetConversationID(r.Context())
	ack, err := h.leads.RecordLead(r.Context(), conversationID, &capture)
	if err != nil {
		writeToolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToolResponse{Speech: ack, Outcome: outcomeLead})
}

// SearchFAQRequest is the request body for POST /tools/search_faq.
type SearchFAQRequest struct {
	Query string `json:"query"`
}

// SearchFAQ handles POST /tools/search_faq.
func (h *Handler) SearchFAQ(w http.ResponseWriter, r *http.Request) {
	var req SearchFAQRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON request body")
		return
	}

	writeJSON(w, http.StatusOK, ToolResponse{
		Speech:  h.faq.Search(req.Query),
		Outcome: outcomeFAQ,
	})
}

// writeToolError maps service errors to speakable tool responses. Flow
// violations and malformed input come back as 200s with an explanation
// the agent can relay; anything else is a storage fault.
func writeToolError(w http.ResponseWriter, err error) {
	var speech string
	switch {
	case errors.Is(err, caseflow.ErrNoCaseLoaded):
		speech = "Error: No fraud case loaded. Please load the case first using the username."
	case errors.Is(err, caseflow.ErrCaseAlreadyLoaded):
		speech = "A fraud case is already loaded for this conversation. Please continue with the verification."
	case errors.Is(err, caseflow.ErrAlreadyVerified):
		speech = "The customer is already verified. Please proceed to confirm the transaction."
	case errors.Is(err, caseflow.ErrUnverified):
		speech = "Error: Customer identity not verified. Cannot update case status."
	case errors.Is(err, caseflow.ErrCaseResolved):
		speech = "This case has already been closed for this conversation. No further actions are possible."
	case errors.Is(err, leads.ErrMalformedInput):
		speech = "I couldn't save that lead. I need at least a name and a valid email address."
	default:
		slog.Error("tool call failed", "error", err)
		writeJSON(w, http.StatusOK, ToolResponse{
			Speech:  "I'm having trouble accessing our records right now. Please try again in a moment.",
			Outcome: outcomeError,
		})
		return
	}

	writeJSON(w, http.StatusOK, ToolResponse{Speech: speech, Outcome: outcomeRejected})
}

// Health returns service health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check session store health
	if h.sessions != nil {
		if err := h.sessions.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// caseView is the admin representation of a fraud case. It carries
// everything the record does except the security answer, which never
// leaves the service.
type caseView struct {
	ID                  int64             `json:"id"`
	CustomerName        string            `json:"customerName"`
	SecurityIdentifier  string            `json:"securityIdentifier"`
	SecurityQuestion    string            `json:"securityQuestion"`
	CardEnding          string            `json:"cardEnding"`
	TransactionAmount   float64           `json:"transactionAmount"`
	TransactionMerchant string            `json:"transactionMerchant"`
	TransactionTime     string            `json:"transactionTime"`
	TransactionCategory string            `json:"transactionCategory"`
	TransactionSource   string            `json:"transactionSource"`
	TransactionLocation string            `json:"transactionLocation"`
	Status              domain.CaseStatus `json:"status"`
	OutcomeNote         string            `json:"outcomeNote,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

func newCaseView(fc *domain.FraudCase) caseView {
	return caseView{
		ID:                  fc.ID,
		CustomerName:        fc.CustomerName,
		SecurityIdentifier:  fc.SecurityIdentifier,
		SecurityQuestion:    fc.SecurityQuestion,
		CardEnding:          fc.CardEnding,
		TransactionAmount:   fc.TransactionAmount,
		TransactionMerchant: fc.TransactionMerchant,
		TransactionTime:     fc.TransactionTime,
		TransactionCategory: fc.TransactionCategory,
		TransactionSource:   fc.TransactionSource,
		TransactionLocation: fc.TransactionLocation,
		Status:              fc.Status,
		OutcomeNote:         fc.OutcomeNote,
		CreatedAt:           fc.CreatedAt,
		UpdatedAt:           fc.UpdatedAt,
	}
}

// GetCase retrieves a fraud case by id.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeBadRequest(w, "case id must be numeric")
		return
	}

	fc, err := h.repo.GetCase(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "case not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get case", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load case",
		})
		return
	}

	writeJSON(w, http.StatusOK, newCaseView(fc))
}

// ListCases returns cases, optionally filtered by ?status=.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	status := domain.CaseStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeBadRequest(w, "unknown status filter")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	cases, err := h.repo.ListCases(r.Context(), status, limit)
	if err != nil {
		slog.Error("failed to list cases", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list cases",
		})
		return
	}

	views := make([]caseView, 0, len(cases))
	for _, fc := range cases {
		views = append(views, newCaseView(fc))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cases": views,
		"count": len(views),
	})
}

// ListLeads returns all captured leads.
func (h *Handler) ListLeads(w http.ResponseWriter, r *http.Request) {
	stored, err := h.repo.ListLeads(r.Context())
	if err != nil {
		slog.Error("failed to list leads", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list leads",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"leads": stored,
		"count": len(stored),
	})
}

// ListQualifiers returns the currently loaded qualifier configurations.
func (h *Handler) ListQualifiers(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.GetLoadedQualifiers()
	writeJSON(w, http.StatusOK, map[string]any{
		"qualifiers": loaded,
		"count":      len(loaded),
	})
}

// CreateQualifier validates, persists, and loads a qualifier.
func (h *Handler) CreateQualifier(w http.ResponseWriter, r *http.Request) {
	var cfg domain.QualifierConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeBadRequest(w, "invalid JSON request body")
		return
	}
	if cfg.ID == "" || cfg.Expression == "" {
		writeBadRequest(w, "id and expression are required")
		return
	}

	if err := h.engine.ValidateQualifier(&cfg); err != nil {
		writeBadRequest(w, "invalid expression: "+err.Error())
		return
	}

	if err := h.repo.SaveQualifier(r.Context(), &cfg); err != nil {
		slog.Error("failed to save qualifier", "id", cfg.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save qualifier",
		})
		return
	}

	if cfg.Enabled {
		if err := h.engine.LoadQualifier(&cfg); err != nil {
			slog.Error("failed to load qualifier", "id", cfg.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "qualifier saved but failed to load",
			})
			return
		}
	}

	slog.Info("qualifier created", "id", cfg.ID, "enabled", cfg.Enabled)
	writeJSON(w, http.StatusCreated, cfg)
}

// ReloadQualifiers reloads qualifier configurations from the database.
func (h *Handler) ReloadQualifiers(w http.ResponseWriter, r *http.Request) {
	configs, err := h.repo.ListQualifiers(r.Context())
	if err != nil {
		slog.Error("failed to list qualifiers from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load qualifiers from database",
		})
		return
	}

	if err := h.engine.ReloadQualifiers(configs); err != nil {
		slog.Error("failed to reload qualifiers into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload qualifiers: " + err.Error(),
		})
		return
	}

	slog.Info("qualifiers reloaded from database", "count", len(configs))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "qualifiers reloaded successfully",
		"count":   len(configs),
	})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
