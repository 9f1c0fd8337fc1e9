package repository

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL,
	platform TEXT NOT NULL,
	handle TEXT NOT NULL,
	access_token TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	token_expires_at TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (platform, handle)
);

CREATE TABLE IF NOT EXISTS api_keys (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL,
	prefix TEXT NOT NULL,
	key_hash TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS campaigns (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL,
	account_id BIGINT NOT NULL REFERENCES accounts(id),
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	keywords TEXT[] NOT NULL DEFAULT '{}',
	hashtags TEXT[] NOT NULL DEFAULT '{}',
	target_audience TEXT NOT NULL DEFAULT '',
	start_date TIMESTAMPTZ NOT NULL,
	end_date TIMESTAMPTZ NOT NULL,
	posts_per_day INT NOT NULL DEFAULT 3,
	status TEXT NOT NULL DEFAULT 'active',
	paused_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS scheduled_posts (
	id BIGSERIAL PRIMARY KEY,
	campaign_id BIGINT NOT NULL REFERENCES campaigns(id),
	content TEXT NOT NULL,
	scheduled_at TIMESTAMPTZ NOT NULL,
	not_before TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	retry_count INT NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	external_id TEXT,
	delivered_at TIMESTAMPTZ,
	idempotency_key TEXT NOT NULL,
	claim_token TEXT NOT NULL DEFAULT '',
	claimed_at TIMESTAMPTZ,
	cancel_reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (campaign_id, scheduled_at),
	CHECK ((status = 'delivered') = (external_id IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS scheduled_posts_status_not_before_idx ON scheduled_posts (status, not_before);
CREATE INDEX IF NOT EXISTS scheduled_posts_campaign_idx ON scheduled_posts (campaign_id);

CREATE TABLE IF NOT EXISTS analytics_snapshots (
	id BIGSERIAL PRIMARY KEY,
	post_id BIGINT NOT NULL REFERENCES scheduled_posts(id),
	campaign_id BIGINT NOT NULL REFERENCES campaigns(id),
	likes BIGINT NOT NULL DEFAULT 0,
	reshares BIGINT NOT NULL DEFAULT 0,
	replies BIGINT NOT NULL DEFAULT 0,
	impressions BIGINT NOT NULL DEFAULT 0,
	captured_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS analytics_snapshots_post_idx ON analytics_snapshots (post_id, captured_at DESC);
`

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
