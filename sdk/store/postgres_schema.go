package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates every table the bot touches. Idempotent; runs on each
// start-up.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{

		// ── Message log ───────────────────────────────────────────────────────
		// Written by the pipeline for every human message in #general.
		// time_stamp is preformatted text ("1/2/2006, 3:04:05 PM CDT").
		`CREATE TABLE IF NOT EXISTS normal_messages (
			id          BIGSERIAL PRIMARY KEY,
			senderid    TEXT NOT NULL,
			message     TEXT NOT NULL,
			time_stamp  TEXT NOT NULL
		)`,

		// ── Verified accounts ─────────────────────────────────────────────────
		`CREATE TABLE IF NOT EXISTS verified_users (
			discord_id   TEXT PRIMARY KEY,
			username     TEXT NOT NULL,
			uuid         TEXT NOT NULL,
			verified_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS verified_users_uuid_idx ON verified_users (uuid)`,

		// ── Blacklist ─────────────────────────────────────────────────────────
		`CREATE TABLE IF NOT EXISTS blacklist (
			uuid        TEXT PRIMARY KEY,
			username    TEXT NOT NULL,
			reason      TEXT NOT NULL DEFAULT '',
			added_by    TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		// ── Punishments ───────────────────────────────────────────────────────
		// Moderators write these out of band; automod adds 'warn' rows.
		`CREATE TABLE IF NOT EXISTS punishments (
			id          BIGSERIAL PRIMARY KEY,
			discord_id  TEXT NOT NULL,
			kind        TEXT NOT NULL
			            CHECK (kind IN ('warn', 'mute', 'kick', 'ban')),
			reason      TEXT NOT NULL DEFAULT '',
			issued_by   TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS punishments_discord_idx
			ON punishments (discord_id, created_at DESC)`,

		// ── Guild applications ────────────────────────────────────────────────
		`CREATE TABLE IF NOT EXISTS guild_applications (
			id          BIGSERIAL PRIMARY KEY,
			discord_id  TEXT NOT NULL,
			username    TEXT NOT NULL,
			uuid        TEXT NOT NULL,
			reason      TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'pending'
			            CHECK (status IN ('pending', 'accepted', 'rejected')),
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("schema error: %w\nstmt: %.80s", err, s)
		}
	}
	return nil
}
