package store

import (
	"database/sql"
	"fmt"
	"log"
)

// Migrate creates the guild settings, calendar, announcement, and delivery
// history tables.
func Migrate(db *sql.DB) error {
	log.Println("store: running migrations")

	statements := []struct {
		label string
		sql   string
	}{
		{"guild_settings", `
			CREATE TABLE IF NOT EXISTS guild_settings (
				guild_id      TEXT PRIMARY KEY,
				webhook_url   TEXT    NOT NULL DEFAULT '',
				lang          TEXT    NOT NULL DEFAULT 'en',
				time_format   INTEGER NOT NULL DEFAULT 24,
				patron_guild  INTEGER DEFAULT 0,
				dev_guild     INTEGER DEFAULT 0,
				max_calendars INTEGER DEFAULT 1,
				branded       INTEGER DEFAULT 0,
				updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP
			);`},

		{"calendars", `
			CREATE TABLE IF NOT EXISTS calendars (
				guild_id      TEXT PRIMARY KEY,
				address       TEXT    NOT NULL,
				external      INTEGER DEFAULT 0,
				credential_id INTEGER DEFAULT 0,
				updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP
			);`},

		{"announcements", `
			CREATE TABLE IF NOT EXISTS announcements (
				id                TEXT PRIMARY KEY,
				guild_id          TEXT NOT NULL,
				channel_id        TEXT NOT NULL DEFAULT '',
				announcement_type TEXT NOT NULL,
				modifier          TEXT NOT NULL DEFAULT 'BEFORE',
				event_id          TEXT NOT NULL DEFAULT '',
				event_color       TEXT NOT NULL DEFAULT '',
				hours_before      INTEGER DEFAULT 0,
				minutes_before    INTEGER DEFAULT 0,
				info              TEXT NOT NULL DEFAULT '',
				enabled           INTEGER DEFAULT 1,
				publish           INTEGER DEFAULT 0,
				subscribers_role  TEXT NOT NULL DEFAULT '',
				subscribers_user  TEXT NOT NULL DEFAULT '',
				created_at        DATETIME DEFAULT CURRENT_TIMESTAMP
			);`},
		{"announcements guild index", `
			CREATE INDEX IF NOT EXISTS idx_announcements_guild ON announcements(guild_id);`},

		{"announcement_history", `
			CREATE TABLE IF NOT EXISTS announcement_history (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				guild_id        TEXT NOT NULL,
				announcement_id TEXT NOT NULL,
				event_id        TEXT NOT NULL,
				message         TEXT NOT NULL,
				status          TEXT NOT NULL DEFAULT 'pending',
				error_message   TEXT,
				sent_at         DATETIME,
				created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
			);`},
		{"announcement_history guild index", `
			CREATE INDEX IF NOT EXISTS idx_history_guild ON announcement_history(guild_id);`},
	}

	for _, s := range statements {
		if _, err := db.Exec(s.sql); err != nil {
			return fmt.Errorf("migration failed at [%s]: %w", s.label, err)
		}
	}

	log.Println("store: migrations complete")
	return nil
}
