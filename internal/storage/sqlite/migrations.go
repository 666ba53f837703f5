package sqlite

import "database/sql"

// schema contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
// Amounts are stored as integer cents; see money.go.
// IMPORTANT: accounts must be created BEFORE agreements, and agreements
// BEFORE work_units, due to foreign key constraints.
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    first_name TEXT NOT NULL,
    last_name TEXT NOT NULL,
    profession TEXT NOT NULL,
    kind TEXT NOT NULL,
    balance_cents INTEGER NOT NULL DEFAULT 0 CHECK (balance_cents >= 0),
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS agreements (
    id TEXT PRIMARY KEY,
    terms TEXT NOT NULL,
    paying_account_id TEXT NOT NULL,
    earning_account_id TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('active', 'terminated')),
    version INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (paying_account_id) REFERENCES accounts(id) ON DELETE RESTRICT,
    FOREIGN KEY (earning_account_id) REFERENCES accounts(id) ON DELETE RESTRICT
);

CREATE TABLE IF NOT EXISTS work_units (
    id TEXT PRIMARY KEY,
    agreement_id TEXT NOT NULL,
    description TEXT NOT NULL,
    price_cents INTEGER NOT NULL CHECK (price_cents > 0),
    paid INTEGER NOT NULL DEFAULT 0,
    paid_at INTEGER,
    version INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    CHECK ((paid = 0 AND paid_at IS NULL) OR (paid = 1 AND paid_at IS NOT NULL)),
    FOREIGN KEY (agreement_id) REFERENCES agreements(id) ON DELETE RESTRICT
);

CREATE INDEX IF NOT EXISTS idx_agreements_paying_account_id ON agreements(paying_account_id);
CREATE INDEX IF NOT EXISTS idx_agreements_earning_account_id ON agreements(earning_account_id);
CREATE INDEX IF NOT EXISTS idx_work_units_agreement_id ON work_units(agreement_id);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
