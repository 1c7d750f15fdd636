package repository

// Schema definitions for the Kestrel record store.
// The fraud case id column is the only driver-specific piece.

const schemaFraudCasesSQLite = `
CREATE TABLE IF NOT EXISTS fraud_cases (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    customer_name TEXT NOT NULL,
    security_identifier TEXT NOT NULL,
    security_question TEXT NOT NULL,
    security_answer TEXT NOT NULL,
    card_ending TEXT NOT NULL,
    tx_amount REAL NOT NULL,
    tx_merchant TEXT NOT NULL,
    tx_time TEXT NOT NULL,
    tx_category TEXT NOT NULL,
    tx_source TEXT NOT NULL,
    tx_location TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending_review',
    outcome_note TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_cases_status ON fraud_cases(status);
CREATE INDEX IF NOT EXISTS idx_fraud_cases_name ON fraud_cases(customer_name);
`

const schemaFraudCasesPostgres = `
CREATE TABLE IF NOT EXISTS fraud_cases (
    id BIGSERIAL PRIMARY KEY,
    customer_name TEXT NOT NULL,
    security_identifier TEXT NOT NULL,
    security_question TEXT NOT NULL,
    security_answer TEXT NOT NULL,
    card_ending TEXT NOT NULL,
    tx_amount REAL NOT NULL,
    tx_merchant TEXT NOT NULL,
    tx_time TEXT NOT NULL,
    tx_category TEXT NOT NULL,
    tx_source TEXT NOT NULL,
    tx_location TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending_review',
    outcome_note TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_cases_status ON fraud_cases(status);
CREATE INDEX IF NOT EXISTS idx_fraud_cases_name ON fraud_cases(customer_name);
`

// schemaLeadRules defines the lead qualifier configuration table.
// Compatible with both SQLite and PostgreSQL.
const schemaLeadRules = `
CREATE TABLE IF NOT EXISTS lead_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`

// Schemas returns all schema statements for a driver, in order.
func Schemas(driver string) []string {
	cases := schemaFraudCasesSQLite
	if driver == "postgres" {
		cases = schemaFraudCasesPostgres
	}
	return []string{
		cases,
		schemaLeadRules,
	}
}
