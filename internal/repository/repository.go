// Package repository implements the Kestrel record store over SQLite
// (community tier) and PostgreSQL (pro tier), plus the append-only
// lead log held as a JSON document on disk.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-voice/kestrel/internal/domain"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidInput is returned when a write is rejected before it
	// reaches the database.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorage wraps faults raised by the underlying store.
	ErrStorage = errors.New("storage failure")
)

// SQLRepository is a Repository backed by database/sql. It speaks both
// SQLite and PostgreSQL dialects, selected by cfg.Driver.
type SQLRepository struct {
	db     *sql.DB
	driver string
	leads  *LeadLog
}

// New creates a repository from config and runs migrations.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Driver {
	case "sqlite", "":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}

	r := &SQLRepository{
		db:     db,
		driver: driver,
		leads:  NewLeadLog(cfg.LeadLogPath),
	}

	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *SQLRepository) migrate() error {
	for _, stmt := range Schemas(r.driver) {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $N for the postgres driver.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// Ping verifies the database connection.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close releases the database handle.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

const caseColumns = `id, customer_name, security_identifier, security_question, security_answer,
	card_ending, tx_amount, tx_merchant, tx_time, tx_category, tx_source, tx_location,
	status, outcome_note, created_at, updated_at`

// CreateCase inserts a new fraud case and returns its assigned id.
func (r *SQLRepository) CreateCase(ctx context.Context, fc *domain.FraudCase) (int64, error) {
	if fc == nil || strings.TrimSpace(fc.CustomerName) == "" {
		return 0, fmt.Errorf("%w: customer name required", ErrInvalidInput)
	}
	if fc.Status == "" {
		fc.Status = domain.StatusPendingReview
	}
	if !fc.Status.Valid() {
		return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, fc.Status)
	}

	now := time.Now().UTC()
	if fc.CreatedAt.IsZero() {
		fc.CreatedAt = now
	}
	fc.UpdatedAt = now

	query := r.rebind(`INSERT INTO fraud_cases
		(customer_name, security_identifier, security_question, security_answer,
		 card_ending, tx_amount, tx_merchant, tx_time, tx_category, tx_source, tx_location,
		 status, outcome_note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	args := []any{
		fc.CustomerName, fc.SecurityIdentifier, fc.SecurityQuestion, fc.SecurityAnswer,
		fc.CardEnding, fc.TransactionAmount, fc.TransactionMerchant, fc.TransactionTime,
		fc.TransactionCategory, fc.TransactionSource, fc.TransactionLocation,
		string(fc.Status), fc.OutcomeNote,
		fc.CreatedAt.Format(domain.TimeLayout), fc.UpdatedAt.Format(domain.TimeLayout),
	}

	if r.driver == "postgres" {
		query += " RETURNING id"
		var id int64
		if err := r.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("%w: insert case: %v", ErrStorage, err)
		}
		fc.ID = id
		return id, nil
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: insert case: %v", ErrStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: insert case: %v", ErrStorage, err)
	}
	fc.ID = id
	return id, nil
}

// GetCase fetches a case by id.
func (r *SQLRepository) GetCase(ctx context.Context, id int64) (*domain.FraudCase, error) {
	query := r.rebind(`SELECT ` + caseColumns + ` FROM fraud_cases WHERE id = ?`)
	row := r.db.QueryRowContext(ctx, query, id)
	return scanCase(row)
}

// LoadPendingCase returns the oldest pending_review case whose customer
// name matches case-insensitively, or ErrNotFound.
func (r *SQLRepository) LoadPendingCase(ctx context.Context, customerName string) (*domain.FraudCase, error) {
	name := strings.TrimSpace(customerName)
	if name == "" {
		return nil, fmt.Errorf("%w: customer name required", ErrInvalidInput)
	}
	query := r.rebind(`SELECT ` + caseColumns + ` FROM fraud_cases
		WHERE LOWER(customer_name) = LOWER(?) AND status = 'pending_review'
		ORDER BY id ASC LIMIT 1`)
	row := r.db.QueryRowContext(ctx, query, name)
	return scanCase(row)
}

// ListCases returns cases filtered by status ("" for all), newest first.
func (r *SQLRepository) ListCases(ctx context.Context, status domain.CaseStatus, limit int) ([]*domain.FraudCase, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var (
		query string
		args  []any
	)
	if status == "" {
		query = `SELECT ` + caseColumns + ` FROM fraud_cases ORDER BY id DESC LIMIT ?`
		args = []any{limit}
	} else {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
		}
		query = `SELECT ` + caseColumns + ` FROM fraud_cases WHERE status = ? ORDER BY id DESC LIMIT ?`
		args = []any{string(status), limit}
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list cases: %v", ErrStorage, err)
	}
	defer rows.Close()

	var out []*domain.FraudCase
	for rows.Next() {
		fc, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}

// UpdateCaseStatus moves a case out of pending_review in a single
// statement. The target status must be a terminal disposition.
func (r *SQLRepository) UpdateCaseStatus(ctx context.Context, id int64, status domain.CaseStatus, outcomeNote string) error {
	if !status.Valid() || status == domain.StatusPendingReview {
		return fmt.Errorf("%w: status %q is not a valid disposition", ErrInvalidInput, status)
	}

	query := r.rebind(`UPDATE fraud_cases SET status = ?, outcome_note = ?, updated_at = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query,
		string(status), outcomeNote, time.Now().UTC().Format(domain.TimeLayout), id)
	if err != nil {
		return fmt.Errorf("%w: update case %d: %v", ErrStorage, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update case %d: %v", ErrStorage, id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendLead appends a captured lead to the lead log.
func (r *SQLRepository) AppendLead(ctx context.Context, lead *domain.Lead) error {
	return r.leads.Append(ctx, lead)
}

// ListLeads returns every captured lead in capture order.
func (r *SQLRepository) ListLeads(ctx context.Context) ([]*domain.Lead, error) {
	return r.leads.List(ctx)
}

// SaveQualifier upserts a lead qualifier configuration.
func (r *SQLRepository) SaveQualifier(ctx context.Context, qc *domain.QualifierConfig) error {
	if qc == nil || qc.ID == "" || qc.Expression == "" {
		return fmt.Errorf("%w: qualifier id and expression required", ErrInvalidInput)
	}

	bands, err := json.Marshal(qc.Bands)
	if err != nil {
		return fmt.Errorf("%w: marshal bands: %v", ErrInvalidInput, err)
	}

	now := time.Now().UTC().Format(domain.TimeLayout)
	enabled := 0
	if qc.Enabled {
		enabled = 1
	}

	var query string
	if r.driver == "postgres" {
		query = `INSERT INTO lead_rules (id, name, description, version, expression, bands, weight, enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name, description = EXCLUDED.description,
				version = EXCLUDED.version, expression = EXCLUDED.expression,
				bands = EXCLUDED.bands, weight = EXCLUDED.weight,
				enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at`
	} else {
		query = `INSERT INTO lead_rules (id, name, description, version, expression, bands, weight, enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name, description = excluded.description,
				version = excluded.version, expression = excluded.expression,
				bands = excluded.bands, weight = excluded.weight,
				enabled = excluded.enabled, updated_at = excluded.updated_at`
	}

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		qc.ID, qc.Name, qc.Description, qc.Version, qc.Expression,
		string(bands), qc.Weight, enabled, now, now)
	if err != nil {
		return fmt.Errorf("%w: save qualifier %s: %v", ErrStorage, qc.ID, err)
	}
	return nil
}

// ListQualifiers returns enabled qualifier configurations.
func (r *SQLRepository) ListQualifiers(ctx context.Context) ([]*domain.QualifierConfig, error) {
	query := `SELECT id, name, description, version, expression, bands, weight, enabled
		FROM lead_rules WHERE enabled = 1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list qualifiers: %v", ErrStorage, err)
	}
	defer rows.Close()

	var out []*domain.QualifierConfig
	for rows.Next() {
		var (
			qc      domain.QualifierConfig
			bands   string
			enabled int
		)
		if err := rows.Scan(&qc.ID, &qc.Name, &qc.Description, &qc.Version,
			&qc.Expression, &bands, &qc.Weight, &enabled); err != nil {
			return nil, fmt.Errorf("%w: scan qualifier: %v", ErrStorage, err)
		}
		if err := json.Unmarshal([]byte(bands), &qc.Bands); err != nil {
			return nil, fmt.Errorf("%w: decode bands for %s: %v", ErrStorage, qc.ID, err)
		}
		qc.Enabled = enabled == 1
		out = append(out, &qc)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*domain.FraudCase, error) {
	var (
		fc          domain.FraudCase
		status      string
		outcomeNote sql.NullString
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(
		&fc.ID, &fc.CustomerName, &fc.SecurityIdentifier, &fc.SecurityQuestion, &fc.SecurityAnswer,
		&fc.CardEnding, &fc.TransactionAmount, &fc.TransactionMerchant, &fc.TransactionTime,
		&fc.TransactionCategory, &fc.TransactionSource, &fc.TransactionLocation,
		&status, &outcomeNote, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan case: %v", ErrStorage, err)
	}

	fc.Status = domain.CaseStatus(status)
	fc.OutcomeNote = outcomeNote.String
	if t, err := time.Parse(domain.TimeLayout, createdAt); err == nil {
		fc.CreatedAt = t
	}
	if t, err := time.Parse(domain.TimeLayout, updatedAt); err == nil {
		fc.UpdatedAt = t
	}
	return &fc, nil
}
