package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Governor store (SQLite).
var Migrations = migrate.NewGroup("governor")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_governor_plans",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS governor_plans (
    id            TEXT PRIMARY KEY,
    key           TEXT NOT NULL DEFAULT '',
    name          TEXT NOT NULL DEFAULT '',
    category      TEXT NOT NULL DEFAULT '',
    custom        INTEGER NOT NULL DEFAULT 0,
    tenant_id     TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT 'draft',
    limits        TEXT NOT NULL DEFAULT '{}',
    ai_limits     TEXT,
    upload_limits TEXT,
    feature_flags TEXT NOT NULL DEFAULT '{}',
    rate_limits   TEXT,
    metadata      TEXT NOT NULL DEFAULT '{}',
    created_at    TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_governor_plans_key ON governor_plans (key, category) WHERE custom = 0;
CREATE INDEX IF NOT EXISTS idx_governor_plans_tenant ON governor_plans (tenant_id) WHERE custom = 1;
CREATE INDEX IF NOT EXISTS idx_governor_plans_status ON governor_plans (status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS governor_plans`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_governor_overlays",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS governor_overlays (
    id             TEXT PRIMARY KEY,
    tenant_id      TEXT NOT NULL DEFAULT '',
    extra_slots    TEXT NOT NULL DEFAULT '{}',
    custom_plan_id TEXT NOT NULL DEFAULT '',
    category       TEXT NOT NULL DEFAULT '',
    base_plan_key  TEXT NOT NULL DEFAULT '',
    created_at     TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at     TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_governor_overlays_tenant ON governor_overlays (tenant_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS governor_overlays`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_governor_counters",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS governor_counters (
    id               TEXT PRIMARY KEY,
    tenant_id        TEXT NOT NULL DEFAULT '',
    resource         TEXT NOT NULL DEFAULT '',
    period_id        TEXT NOT NULL DEFAULT '',
    consumed         INTEGER NOT NULL DEFAULT 0,
    period_start     TEXT NOT NULL DEFAULT (datetime('now')),
    period_end       TEXT NOT NULL DEFAULT (datetime('now')),
    last_mutation_at TEXT NOT NULL DEFAULT (datetime('now')),
    frozen           INTEGER NOT NULL DEFAULT 0,
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_governor_counters_key ON governor_counters (tenant_id, resource, period_id);
CREATE INDEX IF NOT EXISTS idx_governor_counters_expiry ON governor_counters (period_end) WHERE frozen = 0;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS governor_counters`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_governor_budgets",
			Version: "20250101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS governor_budgets (
    id                     TEXT PRIMARY KEY,
    tenant_id              TEXT NOT NULL DEFAULT '',
    provider               TEXT NOT NULL DEFAULT '',
    period_id              TEXT NOT NULL DEFAULT '',
    consumed_tokens        INTEGER NOT NULL DEFAULT 0,
    reserved_tokens        INTEGER NOT NULL DEFAULT 0,
    cap_tokens             INTEGER NOT NULL DEFAULT 0,
    consumed_cost_amount   INTEGER NOT NULL DEFAULT 0,
    consumed_cost_currency TEXT NOT NULL DEFAULT 'usd',
    cap_cost_amount        INTEGER NOT NULL DEFAULT 0,
    cap_cost_currency      TEXT NOT NULL DEFAULT 'usd',
    period_start           TEXT NOT NULL DEFAULT (datetime('now')),
    period_end             TEXT NOT NULL DEFAULT (datetime('now')),
    frozen                 INTEGER NOT NULL DEFAULT 0,
    created_at             TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at             TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_governor_budgets_key ON governor_budgets (tenant_id, provider, period_id);
CREATE INDEX IF NOT EXISTS idx_governor_budgets_expiry ON governor_budgets (period_end) WHERE frozen = 0;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS governor_budgets`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_governor_reservations",
			Version: "20250101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS governor_reservations (
    id                   TEXT PRIMARY KEY,
    tenant_id            TEXT NOT NULL DEFAULT '',
    provider             TEXT NOT NULL DEFAULT '',
    period_id            TEXT NOT NULL DEFAULT '',
    estimated_tokens     INTEGER NOT NULL DEFAULT 0,
    actual_tokens        INTEGER NOT NULL DEFAULT 0,
    actual_cost_amount   INTEGER NOT NULL DEFAULT 0,
    actual_cost_currency TEXT NOT NULL DEFAULT 'usd',
    status               TEXT NOT NULL DEFAULT 'pending',
    expires_at           TEXT NOT NULL DEFAULT (datetime('now')),
    settled_at           TEXT,
    created_at           TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at           TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_governor_reservations_tenant ON governor_reservations (tenant_id, period_id);
CREATE INDEX IF NOT EXISTS idx_governor_reservations_expiry ON governor_reservations (expires_at) WHERE status = 'pending';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS governor_reservations`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_governor_audit",
			Version: "20250101000006",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS governor_audit (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT NOT NULL DEFAULT '',
    action      TEXT NOT NULL DEFAULT '',
    resource    TEXT NOT NULL DEFAULT '',
    period_id   TEXT NOT NULL DEFAULT '',
    actor       TEXT NOT NULL DEFAULT '',
    detail      TEXT NOT NULL DEFAULT '{}',
    recorded_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_governor_audit_tenant ON governor_audit (tenant_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_governor_audit_action ON governor_audit (action);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS governor_audit`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_governor_ops",
			Version: "20250101000007",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				if _, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS governor_ops (
    op_id      TEXT PRIMARY KEY,
    kind       TEXT NOT NULL DEFAULT '',
    tenant_id  TEXT NOT NULL DEFAULT '',
    resource   TEXT NOT NULL DEFAULT '',
    period_id  TEXT NOT NULL DEFAULT '',
    amount     INTEGER NOT NULL DEFAULT 0,
    consumed   INTEGER NOT NULL DEFAULT 0,
    granted    INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`); err != nil {
					return err
				}
				// SQLite has no data-modifying CTEs, so the counter
				// increment rides an insert trigger: recording the op
				// and applying it is one statement.
				_, err := exec.Exec(ctx, `
CREATE TRIGGER IF NOT EXISTS governor_ops_consume AFTER INSERT ON governor_ops
WHEN NEW.kind = 'consume' AND NEW.granted = 1 AND NEW.amount > 0
BEGIN
    UPDATE governor_counters
    SET consumed = consumed + NEW.amount,
        last_mutation_at = NEW.created_at,
        updated_at = NEW.created_at
    WHERE tenant_id = NEW.tenant_id AND resource = NEW.resource AND period_id = NEW.period_id;
END;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				if _, err := exec.Exec(ctx, `DROP TRIGGER IF EXISTS governor_ops_consume`); err != nil {
					return err
				}
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS governor_ops`)
				return err
			},
		},
	)
}
