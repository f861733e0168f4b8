// internal/db/db.go
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Open connects to postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}
	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return conn, nil
}

func EnsureSchema(ctx context.Context, conn *sql.DB) error {
	for _, statement := range schema {
		if _, err := conn.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS email_accounts (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		email TEXT NOT NULL,
		provider TEXT NOT NULL,
		access_token_enc BYTEA,
		refresh_token_enc BYTEA,
		token_expiry TIMESTAMPTZ,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		daily_limit INTEGER NOT NULL DEFAULT 50,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS leads (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		email TEXT NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		industry TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'new',
		last_contacted_at TIMESTAMPTZ,
		last_reply_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (workspace_id, email)
	);`,
	`CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		account_id TEXT NOT NULL REFERENCES email_accounts(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		lead_ids TEXT[] NOT NULL,
		schedule_type TEXT NOT NULL,
		scheduled_at TIMESTAMPTZ,
		drip_interval_days INTEGER NOT NULL DEFAULT 3,
		auto_reply BOOLEAN NOT NULL DEFAULT FALSE,
		auto_followup BOOLEAN NOT NULL DEFAULT FALSE,
		max_followups INTEGER NOT NULL DEFAULT 3,
		status TEXT NOT NULL,
		emails_sent INTEGER NOT NULL DEFAULT 0,
		emails_opened INTEGER NOT NULL DEFAULT 0,
		emails_replied INTEGER NOT NULL DEFAULT 0,
		template JSONB NOT NULL DEFAULT '{}',
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ
	);`,
	`CREATE TABLE IF NOT EXISTS sent_messages (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		campaign_id TEXT REFERENCES campaigns(id) ON DELETE SET NULL,
		lead_id TEXT REFERENCES leads(id) ON DELETE SET NULL,
		to_email TEXT NOT NULL,
		subject TEXT NOT NULL,
		body TEXT NOT NULL,
		html_body TEXT NOT NULL DEFAULT '',
		message_id TEXT NOT NULL,
		provider_message_id TEXT NOT NULL DEFAULT '',
		thread_id TEXT NOT NULL,
		in_reply_to TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		sent_at TIMESTAMPTZ NOT NULL,
		replied_at TIMESTAMPTZ
	);`,
	`CREATE TABLE IF NOT EXISTS inbound_messages (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		from_email TEXT NOT NULL,
		to_email TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		message_id TEXT NOT NULL,
		in_reply_to TEXT NOT NULL DEFAULT '',
		received_at TIMESTAMPTZ NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		sentiment TEXT,
		ai_summary TEXT,
		requires_action BOOLEAN NOT NULL DEFAULT FALSE,
		metadata JSONB NOT NULL DEFAULT '{}',
		UNIQUE (account_id, message_id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sent_account_status_sent ON sent_messages(account_id, status, sent_at);`,
	`CREATE INDEX IF NOT EXISTS idx_sent_campaign_thread ON sent_messages(campaign_id, thread_id, sent_at);`,
	`CREATE INDEX IF NOT EXISTS idx_sent_thread_lead ON sent_messages(thread_id, lead_id);`,
	`CREATE INDEX IF NOT EXISTS idx_sent_lead ON sent_messages(lead_id, sent_at);`,
	`CREATE INDEX IF NOT EXISTS idx_inbound_unprocessed ON inbound_messages(account_id, processed, received_at);`,
	`CREATE INDEX IF NOT EXISTS idx_campaigns_workspace_status ON campaigns(workspace_id, status);`,
}
