// Package store is the bot's datastore: the message log written by the
// pipeline plus the small tables read and written by slash-command handlers.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("store: not found")

// MessageRecord is one row of the general-channel message log.
// Timestamp is already formatted by the caller.
type MessageRecord struct {
	SenderID  string
	Message   string
	Timestamp string
}

type Verification struct {
	DiscordID  string
	Username   string
	UUID       string
	VerifiedAt time.Time
}

type BlacklistEntry struct {
	UUID      string
	Username  string
	Reason    string
	AddedBy   string
	CreatedAt time.Time
}

type PunishmentKind string

const (
	PunishmentWarn PunishmentKind = "warn"
	PunishmentMute PunishmentKind = "mute"
	PunishmentKick PunishmentKind = "kick"
	PunishmentBan  PunishmentKind = "ban"
)

type Punishment struct {
	ID        int64
	DiscordID string
	Kind      PunishmentKind
	Reason    string
	IssuedBy  string
	CreatedAt time.Time
}

type Application struct {
	ID        int64
	DiscordID string
	Username  string
	UUID      string
	Reason    string
	CreatedAt time.Time
}

// MessageLog is the only write the message pipeline performs.
type MessageLog interface {
	InsertMessage(ctx context.Context, rec MessageRecord) error
}

// PunishmentRecorder is used by the moderation classifier to note automatic
// warnings.
type PunishmentRecorder interface {
	RecordPunishment(ctx context.Context, p Punishment) (int64, error)
}

// Store is the shared datastore handle passed to every command handler.
// Implementations are safe for concurrent use.
type Store interface {
	MessageLog
	PunishmentRecorder

	// UpsertVerification links a Discord account to a Minecraft profile.
	UpsertVerification(ctx context.Context, v Verification) error
	// GetVerification returns ErrNotFound if the account was never verified.
	GetVerification(ctx context.Context, discordID string) (*Verification, error)

	AddBlacklist(ctx context.Context, e BlacklistEntry) error
	// RemoveBlacklist reports whether a row was deleted.
	RemoveBlacklist(ctx context.Context, uuid string) (bool, error)
	// GetBlacklist returns ErrNotFound if uuid is not blacklisted.
	GetBlacklist(ctx context.Context, uuid string) (*BlacklistEntry, error)

	// ListPunishments returns the newest punishments first.
	ListPunishments(ctx context.Context, discordID string, limit int) ([]Punishment, error)

	InsertApplication(ctx context.Context, a Application) (int64, error)

	// Init applies the schema. Every other method does the same on demand, so
	// a failed Init only means the database is not reachable yet.
	Init(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 10
	}
	return limit
}
