package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig is assembled from DB_HOST, DB_PORT, DB_USER, DB_PASSWORD,
// DB_NAME and DB_SSLMODE.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	// ConnectTimeout bounds each dial (default 5s).
	ConnectTimeout time.Duration
}

// URL renders the config as a pgx connection string.
func (c PostgresConfig) URL() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:   "/" + c.Database,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else if c.User != "" {
		u.User = url.User(c.User)
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	schema *schemaGate
}

var _ Store = (*Postgres)(nil)

// NewPostgres builds the pool without connecting. The schema is applied by
// Init or by the first query, and retried until it succeeds.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pcfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	if pcfg.ConnConfig.ConnectTimeout <= 0 {
		pcfg.ConnConfig.ConnectTimeout = 5 * time.Second
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("db pool: %w", err)
	}
	p := &Postgres{pool: pool}
	p.schema = newSchemaGate(func(ctx context.Context) error {
		return EnsureSchema(ctx, pool)
	})
	return p, nil
}

func (p *Postgres) Init(ctx context.Context) error {
	return p.schema.wait(ctx)
}

func (p *Postgres) InsertMessage(ctx context.Context, rec MessageRecord) error {
	if err := p.schema.wait(ctx); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO normal_messages (senderid, message, time_stamp) VALUES ($1, $2, $3)`,
		rec.SenderID, rec.Message, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (p *Postgres) UpsertVerification(ctx context.Context, v Verification) error {
	if err := p.schema.wait(ctx); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO verified_users (discord_id, username, uuid)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (discord_id) DO UPDATE SET username=$2, uuid=$3, verified_at=now()`,
		v.DiscordID, v.Username, v.UUID,
	)
	if err != nil {
		return fmt.Errorf("upsert verification: %w", err)
	}
	return nil
}

func (p *Postgres) GetVerification(ctx context.Context, discordID string) (*Verification, error) {
	if err := p.schema.wait(ctx); err != nil {
		return nil, err
	}
	var v Verification
	err := p.pool.QueryRow(ctx,
		`SELECT discord_id, username, uuid, verified_at FROM verified_users WHERE discord_id = $1`,
		discordID,
	).Scan(&v.DiscordID, &v.Username, &v.UUID, &v.VerifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get verification: %w", err)
	}
	return &v, nil
}

func (p *Postgres) AddBlacklist(ctx context.Context, e BlacklistEntry) error {
	if err := p.schema.wait(ctx); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO blacklist (uuid, username, reason, added_by)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (uuid) DO UPDATE SET username=$2, reason=$3, added_by=$4`,
		e.UUID, e.Username, e.Reason, e.AddedBy,
	)
	if err != nil {
		return fmt.Errorf("add blacklist: %w", err)
	}
	return nil
}

func (p *Postgres) RemoveBlacklist(ctx context.Context, uuid string) (bool, error) {
	if err := p.schema.wait(ctx); err != nil {
		return false, err
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM blacklist WHERE uuid = $1`, uuid)
	if err != nil {
		return false, fmt.Errorf("remove blacklist: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) GetBlacklist(ctx context.Context, uuid string) (*BlacklistEntry, error) {
	if err := p.schema.wait(ctx); err != nil {
		return nil, err
	}
	var e BlacklistEntry
	err := p.pool.QueryRow(ctx,
		`SELECT uuid, username, reason, added_by, created_at FROM blacklist WHERE uuid = $1`,
		uuid,
	).Scan(&e.UUID, &e.Username, &e.Reason, &e.AddedBy, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blacklist: %w", err)
	}
	return &e, nil
}

func (p *Postgres) RecordPunishment(ctx context.Context, pun Punishment) (int64, error) {
	if err := p.schema.wait(ctx); err != nil {
		return 0, err
	}
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO punishments (discord_id, kind, reason, issued_by)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		pun.DiscordID, string(pun.Kind), pun.Reason, pun.IssuedBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record punishment: %w", err)
	}
	return id, nil
}

func (p *Postgres) ListPunishments(ctx context.Context, discordID string, limit int) ([]Punishment, error) {
	if err := p.schema.wait(ctx); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id, discord_id, kind, reason, issued_by, created_at
		 FROM punishments WHERE discord_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		discordID, normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list punishments: %w", err)
	}
	defer rows.Close()

	var out []Punishment
	for rows.Next() {
		var pun Punishment
		var kind string
		if err := rows.Scan(&pun.ID, &pun.DiscordID, &kind, &pun.Reason, &pun.IssuedBy, &pun.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan punishment: %w", err)
		}
		pun.Kind = PunishmentKind(kind)
		out = append(out, pun)
	}
	return out, rows.Err()
}

func (p *Postgres) InsertApplication(ctx context.Context, a Application) (int64, error) {
	if err := p.schema.wait(ctx); err != nil {
		return 0, err
	}
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO guild_applications (discord_id, username, uuid, reason)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		a.DiscordID, a.Username, a.UUID, a.Reason,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert application: %w", err)
	}
	return id, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.schema.wait(ctx); err != nil {
		return err
	}
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
