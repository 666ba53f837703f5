package postgres

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    first_name TEXT NOT NULL,
    last_name TEXT NOT NULL,
    profession TEXT NOT NULL,
    kind TEXT NOT NULL,
    balance NUMERIC(14, 2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS agreements (
    id TEXT PRIMARY KEY,
    terms TEXT NOT NULL,
    paying_account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE RESTRICT,
    earning_account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE RESTRICT,
    status TEXT NOT NULL CHECK (status IN ('active', 'terminated')),
    version BIGINT NOT NULL DEFAULT 1,
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS work_units (
    id TEXT PRIMARY KEY,
    agreement_id TEXT NOT NULL REFERENCES agreements(id) ON DELETE RESTRICT,
    description TEXT NOT NULL,
    price NUMERIC(14, 2) NOT NULL CHECK (price > 0),
    paid BOOLEAN NOT NULL DEFAULT FALSE,
    paid_at TIMESTAMPTZ,
    version BIGINT NOT NULL DEFAULT 1,
    created_at BIGINT NOT NULL,
    CHECK (paid = (paid_at IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_agreements_paying_account_id ON agreements(paying_account_id);
CREATE INDEX IF NOT EXISTS idx_agreements_earning_account_id ON agreements(earning_account_id);
CREATE INDEX IF NOT EXISTS idx_work_units_agreement_id ON work_units(agreement_id);
`

// RunMigrations creates the schema if it does not exist.
func (s *Store) RunMigrations(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}
