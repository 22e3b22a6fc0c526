package tenant

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// installLockKey serialises concurrent installs from several instances.
const installLockKey = 7_141_205

// SQLSTATE raised by every guard.
const ViolationCode = "RLS01"

const contextDDL = `
CREATE TABLE IF NOT EXISTS rls_context (
  id SMALLINT PRIMARY KEY CHECK (id = 1),
  current_user_id BIGINT,
  session_tag TEXT,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
INSERT INTO rls_context (id) VALUES (1) ON CONFLICT (id) DO NOTHING;

CREATE TABLE IF NOT EXISTS rls_policies (
  id BIGSERIAL PRIMARY KEY,
  table_name TEXT NOT NULL,
  policy_name TEXT NOT NULL,
  operation TEXT NOT NULL,
  predicate TEXT NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT true,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  UNIQUE (table_name, policy_name, operation)
);
`

const functionsDDL = `
CREATE OR REPLACE FUNCTION rls_current_user_id() RETURNS BIGINT
LANGUAGE sql STABLE AS $$
  SELECT NULLIF(current_setting('app.current_user_id', true), '')::BIGINT
$$;

CREATE OR REPLACE FUNCTION rls_admin_override() RETURNS BOOLEAN
LANGUAGE sql STABLE AS $$
  SELECT COALESCE(current_setting('app.admin_override', true), '') = 'on'
$$;

CREATE OR REPLACE FUNCTION rls_acting_is_admin() RETURNS BOOLEAN
LANGUAGE sql STABLE AS $$
  SELECT COALESCE((SELECT is_admin AND is_active FROM users WHERE id = rls_current_user_id()), false)
$$;

CREATE OR REPLACE FUNCTION rls_deny(tbl TEXT, op TEXT) RETURNS void
LANGUAGE plpgsql AS $$
BEGIN
  RAISE EXCEPTION 'Access denied: Row Level Security violation'
    USING ERRCODE = 'RLS01',
          DETAIL = format('table=%s op=%s session=%s', tbl, lower(op),
                          COALESCE(NULLIF(current_setting('app.session_tag', true), ''), 'none'));
END
$$;

CREATE OR REPLACE FUNCTION rls_guard_activities() RETURNS trigger
LANGUAGE plpgsql AS $$
DECLARE
  acting BIGINT := rls_current_user_id();
BEGIN
  IF TG_OP = 'DELETE' THEN
    IF OLD.user_id IS NOT DISTINCT FROM acting OR (rls_admin_override() AND rls_acting_is_admin()) THEN
      RETURN OLD;
    END IF;
    PERFORM rls_deny(TG_TABLE_NAME, TG_OP);
    RETURN NULL;
  END IF;
  IF TG_OP = 'UPDATE' AND OLD.user_id IS DISTINCT FROM acting THEN
    PERFORM rls_deny(TG_TABLE_NAME, TG_OP);
  END IF;
  IF NEW.user_id IS DISTINCT FROM acting THEN
    PERFORM rls_deny(TG_TABLE_NAME, TG_OP);
  END IF;
  RETURN NEW;
END
$$;

CREATE OR REPLACE FUNCTION rls_guard_users() RETURNS trigger
LANGUAGE plpgsql AS $$
DECLARE
  acting BIGINT := rls_current_user_id();
BEGIN
  IF acting IS NULL OR NEW.id IS DISTINCT FROM OLD.id THEN
    PERFORM rls_deny(TG_TABLE_NAME, TG_OP);
  END IF;
  IF rls_acting_is_admin() THEN
    RETURN NEW;
  END IF;
  IF OLD.id IS DISTINCT FROM acting OR NEW.is_admin IS DISTINCT FROM OLD.is_admin THEN
    PERFORM rls_deny(TG_TABLE_NAME, TG_OP);
  END IF;
  RETURN NEW;
END
$$;
`

const triggersDDL = `
DROP TRIGGER IF EXISTS rls_activities_insert ON activities;
CREATE TRIGGER rls_activities_insert BEFORE INSERT ON activities
  FOR EACH ROW EXECUTE FUNCTION rls_guard_activities();
DROP TRIGGER IF EXISTS rls_activities_update ON activities;
CREATE TRIGGER rls_activities_update BEFORE UPDATE ON activities
  FOR EACH ROW EXECUTE FUNCTION rls_guard_activities();
DROP TRIGGER IF EXISTS rls_activities_delete ON activities;
CREATE TRIGGER rls_activities_delete BEFORE DELETE ON activities
  FOR EACH ROW EXECUTE FUNCTION rls_guard_activities();
DROP TRIGGER IF EXISTS rls_users_update ON users;
CREATE TRIGGER rls_users_update BEFORE UPDATE ON users
  FOR EACH ROW EXECUTE FUNCTION rls_guard_users();

CREATE OR REPLACE VIEW protected_activities AS
  SELECT * FROM activities WHERE user_id = rls_current_user_id();
CREATE OR REPLACE VIEW protected_users AS
  SELECT id, username, email, is_active, is_admin, created_at, updated_at
  FROM users
  WHERE id = rls_current_user_id() OR rls_acting_is_admin();
`

// Install creates the context record, the guard functions, triggers and
// views, and seeds rls_policies. The users and activities tables must exist.
// Safe to run on every start.
func Install(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin install: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, installLockKey); err != nil {
		return fmt.Errorf("install lock: %w", err)
	}
	steps := []struct{ name, ddl string }{
		{"context", contextDDL},
		{"functions", functionsDDL},
		{"triggers", triggersDDL},
	}
	for _, st := range steps {
		if _, err := tx.ExecContext(ctx, st.ddl); err != nil {
			return fmt.Errorf("install %s: %w", st.name, err)
		}
	}
	const seed = `INSERT INTO rls_policies (table_name, policy_name, operation, predicate, is_active)
		VALUES (:table_name, :policy_name, :operation, :predicate, :is_active)
		ON CONFLICT (table_name, policy_name, operation)
		DO UPDATE SET predicate = EXCLUDED.predicate, is_active = EXCLUDED.is_active`
	for _, p := range DefaultPolicies {
		if _, err := tx.NamedExecContext(ctx, seed, p); err != nil {
			return fmt.Errorf("seed policy %s: %w", p.Name, err)
		}
	}
	return tx.Commit()
}
