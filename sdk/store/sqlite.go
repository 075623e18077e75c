package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite implements Store on an embedded database file. Used for local runs
// and tests; production deployments use Postgres.
type SQLite struct {
	db     *sql.DB
	schema *schemaGate
}

var _ Store = (*SQLite)(nil)

// NewSQLite prepares the database at dbPath. The directory and schema are
// created by Init or by the first query, and retried until they succeed.
// ":memory:" is accepted and pinned to a single connection.
func NewSQLite(dbPath string) (*SQLite, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &SQLite{db: db}
	s.schema = newSchemaGate(func(ctx context.Context) error {
		if dbPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
				return fmt.Errorf("create database directory: %w", err)
			}
		}
		return s.initSchema(ctx)
	})
	return s, nil
}

func (s *SQLite) Init(ctx context.Context) error {
	return s.schema.wait(ctx)
}

func (s *SQLite) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS normal_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		senderid TEXT NOT NULL,
		message TEXT NOT NULL,
		time_stamp TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS verified_users (
		discord_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		uuid TEXT NOT NULL,
		verified_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS blacklist (
		uuid TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		added_by TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS punishments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		discord_id TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('warn', 'mute', 'kick', 'ban')),
		reason TEXT NOT NULL DEFAULT '',
		issued_by TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_punishments_discord ON punishments(discord_id, created_at);

	CREATE TABLE IF NOT EXISTS guild_applications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		discord_id TEXT NOT NULL,
		username TEXT NOT NULL,
		uuid TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLite) InsertMessage(ctx context.Context, rec MessageRecord) error {
	if err := s.schema.wait(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO normal_messages (senderid, message, time_stamp) VALUES (?, ?, ?)`,
		rec.SenderID, rec.Message, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLite) UpsertVerification(ctx context.Context, v Verification) error {
	if err := s.schema.wait(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verified_users (discord_id, username, uuid, verified_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(discord_id) DO UPDATE SET
			username = excluded.username,
			uuid = excluded.uuid,
			verified_at = excluded.verified_at`,
		v.DiscordID, v.Username, v.UUID, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert verification: %w", err)
	}
	return nil
}

func (s *SQLite) GetVerification(ctx context.Context, discordID string) (*Verification, error) {
	if err := s.schema.wait(ctx); err != nil {
		return nil, err
	}
	var v Verification
	var verifiedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT discord_id, username, uuid, verified_at FROM verified_users WHERE discord_id = ?`,
		discordID,
	).Scan(&v.DiscordID, &v.Username, &v.UUID, &verifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get verification: %w", err)
	}
	v.VerifiedAt = time.Unix(verifiedAt, 0)
	return &v, nil
}

func (s *SQLite) AddBlacklist(ctx context.Context, e BlacklistEntry) error {
	if err := s.schema.wait(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blacklist (uuid, username, reason, added_by, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(uuid) DO UPDATE SET
			username = excluded.username,
			reason = excluded.reason,
			added_by = excluded.added_by`,
		e.UUID, e.Username, e.Reason, e.AddedBy, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("add blacklist: %w", err)
	}
	return nil
}

func (s *SQLite) RemoveBlacklist(ctx context.Context, uuid string) (bool, error) {
	if err := s.schema.wait(ctx); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM blacklist WHERE uuid = ?`, uuid)
	if err != nil {
		return false, fmt.Errorf("remove blacklist: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLite) GetBlacklist(ctx context.Context, uuid string) (*BlacklistEntry, error) {
	if err := s.schema.wait(ctx); err != nil {
		return nil, err
	}
	var e BlacklistEntry
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT uuid, username, reason, added_by, created_at FROM blacklist WHERE uuid = ?`,
		uuid,
	).Scan(&e.UUID, &e.Username, &e.Reason, &e.AddedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blacklist: %w", err)
	}
	e.CreatedAt = time.Unix(createdAt, 0)
	return &e, nil
}

func (s *SQLite) RecordPunishment(ctx context.Context, p Punishment) (int64, error) {
	if err := s.schema.wait(ctx); err != nil {
		return 0, err
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO punishments (discord_id, kind, reason, issued_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.DiscordID, string(p.Kind), p.Reason, p.IssuedBy, createdAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("record punishment: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLite) ListPunishments(ctx context.Context, discordID string, limit int) ([]Punishment, error) {
	if err := s.schema.wait(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, discord_id, kind, reason, issued_by, created_at
		 FROM punishments WHERE discord_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		discordID, normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list punishments: %w", err)
	}
	defer rows.Close()

	var out []Punishment
	for rows.Next() {
		var p Punishment
		var kind string
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.DiscordID, &kind, &p.Reason, &p.IssuedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scan punishment: %w", err)
		}
		p.Kind = PunishmentKind(kind)
		p.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) InsertApplication(ctx context.Context, a Application) (int64, error) {
	if err := s.schema.wait(ctx); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO guild_applications (discord_id, username, uuid, reason, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.DiscordID, a.Username, a.UUID, a.Reason, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert application: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.schema.wait(ctx); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
