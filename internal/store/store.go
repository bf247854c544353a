// Package store persists guild settings, calendar records, announcements,
// and delivery history in sqlite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"herald/internal/announce"
	"herald/internal/calendar"
)

// ErrNoCalendar is returned when a guild has no calendar record.
var ErrNoCalendar = errors.New("guild has no calendar")

// Store wraps the sqlite handle with the queries the announcement cycle and
// the management surface need.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ── Announcements ───────────────────────────────────────────────────────

const announcementColumns = `
	id, guild_id, channel_id, announcement_type, modifier, event_id,
	event_color, hours_before, minutes_before, info, enabled, publish,
	subscribers_role, subscribers_user`

// CreateAnnouncement inserts a new announcement, assigning an ID if unset.
func (s *Store) CreateAnnouncement(ctx context.Context, a *announce.Announcement) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO announcements
			(id, guild_id, channel_id, announcement_type, modifier, event_id,
			 event_color, hours_before, minutes_before, info, enabled, publish,
			 subscribers_role, subscribers_user)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.GuildID), a.ChannelID, string(a.Type), string(a.Modifier),
		a.EventID, string(a.Color), a.HoursBefore, a.MinutesBefore, a.Info,
		boolInt(a.Enabled), boolInt(a.Publish),
		joinIDs(a.SubscriberRoleIDs), joinIDs(a.SubscriberUserIDs))
	if err != nil {
		return fmt.Errorf("create announcement: %w", err)
	}
	return nil
}

// GetAnnouncement retrieves one announcement, or nil when absent.
func (s *Store) GetAnnouncement(ctx context.Context, id string) (*announce.Announcement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+announcementColumns+` FROM announcements WHERE id = ?`, id)
	a, err := scanAnnouncement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get announcement: %w", err)
	}
	return &a, nil
}

// ListAnnouncements returns all of a guild's announcements, enabled or not.
func (s *Store) ListAnnouncements(ctx context.Context, guild announce.GuildID) ([]announce.Announcement, error) {
	return s.queryAnnouncements(ctx,
		`SELECT `+announcementColumns+` FROM announcements WHERE guild_id = ? ORDER BY created_at`,
		string(guild))
}

// EnabledAnnouncements returns the guild's announcements eligible for the
// cycle.
func (s *Store) EnabledAnnouncements(ctx context.Context, guild announce.GuildID) ([]announce.Announcement, error) {
	return s.queryAnnouncements(ctx,
		`SELECT `+announcementColumns+` FROM announcements WHERE guild_id = ? AND enabled = 1 ORDER BY created_at`,
		string(guild))
}

// SetAnnouncementEnabled toggles an announcement without deleting it.
func (s *Store) SetAnnouncementEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE announcements SET enabled = ? WHERE id = ?`, boolInt(enabled), id)
	if err != nil {
		return fmt.Errorf("set announcement enabled: %w", err)
	}
	return nil
}

// DeleteAnnouncement removes an announcement. Deleting a missing ID is a
// no-op: the cycle may race itself within the tolerance window.
func (s *Store) DeleteAnnouncement(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM announcements WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete announcement: %w", err)
	}
	return nil
}

func (s *Store) queryAnnouncements(ctx context.Context, query string, args ...any) ([]announce.Announcement, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}
	defer rows.Close()

	var out []announce.Announcement
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan announcement: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnouncement(row rowScanner) (announce.Announcement, error) {
	var (
		a                announce.Announcement
		guild            string
		typ, modifier    string
		color            string
		enabled, publish int
		roles, users     string
	)
	err := row.Scan(&a.ID, &guild, &a.ChannelID, &typ, &modifier, &a.EventID,
		&color, &a.HoursBefore, &a.MinutesBefore, &a.Info, &enabled, &publish,
		&roles, &users)
	if err != nil {
		return a, err
	}
	a.GuildID = announce.GuildID(guild)
	a.Type = announce.Type(typ)
	a.Modifier = announce.Modifier(modifier)
	a.Color = calendar.Color(color)
	a.Enabled = enabled == 1
	a.Publish = publish == 1
	a.SubscriberRoleIDs = splitIDs(roles)
	a.SubscriberUserIDs = splitIDs(users)
	return a, nil
}

// ── Guild settings ──────────────────────────────────────────────────────

// GuildSettings returns the guild's settings, or defaults when the guild
// has never been configured.
func (s *Store) GuildSettings(ctx context.Context, guild announce.GuildID) (announce.GuildSettings, error) {
	gs := announce.GuildSettings{
		GuildID:      guild,
		Lang:         "en",
		TimeFormat:   24,
		MaxCalendars: 1,
	}
	var patron, dev, branded int
	err := s.db.QueryRowContext(ctx, `
		SELECT webhook_url, lang, time_format, patron_guild, dev_guild, max_calendars, branded
		FROM guild_settings WHERE guild_id = ?`, string(guild)).
		Scan(&gs.WebhookURL, &gs.Lang, &gs.TimeFormat, &patron, &dev, &gs.MaxCalendars, &branded)
	if errors.Is(err, sql.ErrNoRows) {
		return gs, nil
	}
	if err != nil {
		return gs, fmt.Errorf("get guild settings: %w", err)
	}
	gs.PatronGuild = patron == 1
	gs.DevGuild = dev == 1
	gs.Branded = branded == 1
	return gs, nil
}

// UpsertGuildSettings creates or replaces a guild's settings.
func (s *Store) UpsertGuildSettings(ctx context.Context, gs announce.GuildSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_settings
			(guild_id, webhook_url, lang, time_format, patron_guild, dev_guild, max_calendars, branded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			webhook_url   = excluded.webhook_url,
			lang          = excluded.lang,
			time_format   = excluded.time_format,
			patron_guild  = excluded.patron_guild,
			dev_guild     = excluded.dev_guild,
			max_calendars = excluded.max_calendars,
			branded       = excluded.branded,
			updated_at    = CURRENT_TIMESTAMP`,
		string(gs.GuildID), gs.WebhookURL, gs.Lang, gs.TimeFormat,
		boolInt(gs.PatronGuild), boolInt(gs.DevGuild), gs.MaxCalendars, boolInt(gs.Branded))
	if err != nil {
		return fmt.Errorf("upsert guild settings: %w", err)
	}
	return nil
}

// ── Calendar records ────────────────────────────────────────────────────

// CalendarRecord returns the guild's calendar binding.
func (s *Store) CalendarRecord(ctx context.Context, guild announce.GuildID) (calendar.Record, error) {
	rec := calendar.Record{GuildID: string(guild)}
	var external int
	err := s.db.QueryRowContext(ctx, `
		SELECT address, external, credential_id
		FROM calendars WHERE guild_id = ?`, string(guild)).
		Scan(&rec.Address, &external, &rec.CredentialID)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("guild %s: %w", guild, ErrNoCalendar)
	}
	if err != nil {
		return rec, fmt.Errorf("get calendar record: %w", err)
	}
	rec.External = external == 1
	return rec, nil
}

// UpsertCalendarRecord creates or replaces a guild's calendar binding.
func (s *Store) UpsertCalendarRecord(ctx context.Context, rec calendar.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calendars (guild_id, address, external, credential_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			address       = excluded.address,
			external      = excluded.external,
			credential_id = excluded.credential_id,
			updated_at    = CURRENT_TIMESTAMP`,
		rec.GuildID, rec.Address, boolInt(rec.External), rec.CredentialID)
	if err != nil {
		return fmt.Errorf("upsert calendar record: %w", err)
	}
	return nil
}

// Guilds lists every guild with a calendar record. It serves as the guild
// enumerator when no gateway connection is configured.
func (s *Store) Guilds(ctx context.Context) ([]announce.GuildID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guild_id FROM calendars ORDER BY guild_id`)
	if err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}
	defer rows.Close()

	var out []announce.GuildID
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("scan guild: %w", err)
		}
		out = append(out, announce.GuildID(g))
	}
	return out, rows.Err()
}

// ── helpers ─────────────────────────────────────────────────────────────

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
