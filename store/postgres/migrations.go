package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Governor store.
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
    custom        BOOLEAN NOT NULL DEFAULT FALSE,
    tenant_id     TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT 'draft',
    limits        JSONB NOT NULL DEFAULT '{}',
    ai_limits     JSONB,
    upload_limits JSONB,
    feature_flags JSONB NOT NULL DEFAULT '{}',
    rate_limits   JSONB,
    metadata      JSONB NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_governor_plans_key ON governor_plans (key, category) WHERE NOT custom;
CREATE INDEX IF NOT EXISTS idx_governor_plans_tenant ON governor_plans (tenant_id) WHERE custom;
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
    extra_slots    JSONB NOT NULL DEFAULT '{}',
    custom_plan_id TEXT NOT NULL DEFAULT '',
    category       TEXT NOT NULL DEFAULT '',
    base_plan_key  TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    consumed         BIGINT NOT NULL DEFAULT 0,
    period_start     TIMESTAMPTZ NOT NULL,
    period_end       TIMESTAMPTZ NOT NULL,
    last_mutation_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    frozen           BOOLEAN NOT NULL DEFAULT FALSE,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_governor_counters_key ON governor_counters (tenant_id, resource, period_id);
CREATE INDEX IF NOT EXISTS idx_governor_counters_expiry ON governor_counters (period_end) WHERE NOT frozen;
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
    consumed_tokens        BIGINT NOT NULL DEFAULT 0,
    reserved_tokens        BIGINT NOT NULL DEFAULT 0,
    cap_tokens             BIGINT NOT NULL DEFAULT 0,
    consumed_cost_amount   BIGINT NOT NULL DEFAULT 0,
    consumed_cost_currency TEXT NOT NULL DEFAULT '',
    cap_cost_amount        BIGINT NOT NULL DEFAULT 0,
    cap_cost_currency      TEXT NOT NULL DEFAULT '',
    period_start           TIMESTAMPTZ NOT NULL,
    period_end             TIMESTAMPTZ NOT NULL,
    frozen                 BOOLEAN NOT NULL DEFAULT FALSE,
    created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_governor_budgets_key ON governor_budgets (tenant_id, provider, period_id);
CREATE INDEX IF NOT EXISTS idx_governor_budgets_expiry ON governor_budgets (period_end) WHERE NOT frozen;
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
    estimated_tokens     BIGINT NOT NULL DEFAULT 0,
    actual_tokens        BIGINT NOT NULL DEFAULT 0,
    actual_cost_amount   BIGINT NOT NULL DEFAULT 0,
    actual_cost_currency TEXT NOT NULL DEFAULT '',
    status               TEXT NOT NULL DEFAULT 'pending',
    expires_at           TIMESTAMPTZ NOT NULL,
    settled_at           TIMESTAMPTZ,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    detail      JSONB NOT NULL DEFAULT '{}',
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_governor_audit_tenant ON governor_audit (tenant_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_governor_audit_action ON governor_audit (action, recorded_at);
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
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS governor_ops (
    op_id      TEXT PRIMARY KEY,
    kind       TEXT NOT NULL DEFAULT '',
    consumed   BIGINT NOT NULL DEFAULT 0,
    granted    BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS governor_ops`)
				return err
			},
		},
	)
}
