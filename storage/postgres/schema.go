package postgres

// schema is applied by Migrate. The rotated_from foreign key makes the
// rotation chain explicit in the data model; ON DELETE SET NULL lets old
// links be pruned without orphaning successors.
const schema = `
CREATE TABLE IF NOT EXISTS clients (
	client_id          TEXT PRIMARY KEY,
	client_secret_hash TEXT NOT NULL DEFAULT '',
	client_type        TEXT NOT NULL,
	redirect_uris      TEXT[] NOT NULL,
	scopes             TEXT[] NOT NULL,
	client_name        TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS client_registrations_by_ip (
	ip            TEXT PRIMARY KEY,
	registrations INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id            TEXT PRIMARY KEY,
	client_id             TEXT NOT NULL,
	redirect_uri          TEXT NOT NULL,
	scope                 TEXT NOT NULL,
	state                 TEXT NOT NULL,
	code_challenge        TEXT NOT NULL,
	code_challenge_method TEXT NOT NULL,
	created_at            TIMESTAMPTZ NOT NULL,
	expires_at            TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS sessions_expires_at_idx ON sessions (expires_at);

CREATE TABLE IF NOT EXISTS codes (
	code           TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL,
	client_id      TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	redirect_uri   TEXT NOT NULL,
	scope          TEXT NOT NULL,
	code_challenge TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	expires_at     TIMESTAMPTZ NOT NULL,
	used           BOOLEAN NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS codes_expires_at_idx ON codes (expires_at);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	token        TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	client_id    TEXT NOT NULL,
	scope        TEXT NOT NULL,
	family_id    TEXT NOT NULL,
	generation   INT NOT NULL DEFAULT 0,
	rotated_from TEXT REFERENCES refresh_tokens (token) ON DELETE SET NULL,
	issued_at    TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL,
	rotated_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS refresh_tokens_family_idx ON refresh_tokens (family_id);
CREATE INDEX IF NOT EXISTS refresh_tokens_user_client_idx ON refresh_tokens (user_id, client_id);
`
