package store

const schemaVersion = 1

// schema creates every table. Applied evidence lives in its own table so the
// (claim_id, source_id, prong) primary key enforces idempotence at rest.
// The convergence score is never stored; it is always derived from the three
// prong columns.
const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS claims (
	id              TEXT PRIMARY KEY,
	seq             INTEGER NOT NULL,
	title           TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	domain_primary  TEXT NOT NULL,
	domain_order    INTEGER NOT NULL,
	domain_tags     TEXT NOT NULL,
	keywords        TEXT NOT NULL,
	expected_effect TEXT NOT NULL,
	observational   INTEGER NOT NULL CHECK (observational BETWEEN 0 AND 5),
	perturbation    INTEGER NOT NULL CHECK (perturbation BETWEEN 0 AND 5),
	clinical        INTEGER NOT NULL CHECK (clinical BETWEEN 0 AND 5),
	tier            TEXT NOT NULL,
	status          TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	last_updated    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_claims_order ON claims(domain_order, id);

CREATE TABLE IF NOT EXISTS evidence (
	claim_id   TEXT NOT NULL REFERENCES claims(id),
	source_id  TEXT NOT NULL,
	prong      TEXT NOT NULL,
	polarity   TEXT NOT NULL,
	weight     REAL NOT NULL,
	applied_at TEXT NOT NULL,
	PRIMARY KEY (claim_id, source_id, prong)
);

CREATE TABLE IF NOT EXISTS audit_log (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	run_id    TEXT NOT NULL DEFAULT '',
	action    TEXT NOT NULL,
	claim_id  TEXT NOT NULL,
	detail    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_claim ON audit_log(claim_id);

CREATE TABLE IF NOT EXISTS counters (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS leases (
	name       TEXT PRIMARY KEY,
	holder     TEXT NOT NULL,
	expires_at TEXT NOT NULL
);
`
