// Package announce implements the announcement cycle: every interval it
// resolves each guild's calendar context, decides which configured
// announcements are inside their firing window, delivers them, and consumes
// one-shot announcements.
package announce

import (
	"context"
	"time"

	"herald/internal/calendar"
)

// GuildID identifies a Discord guild.
type GuildID string

// Type determines which events an announcement applies to.
type Type string

const (
	TypeSpecific  Type = "SPECIFIC"  // one named event, consumed after firing
	TypeUniversal Type = "UNIVERSAL" // every upcoming event
	TypeColor     Type = "COLOR"     // events with a matching color tag
	TypeRecur     Type = "RECUR"     // instances of one recurring series
)

// Modifier determines when, relative to the event, an announcement fires.
// Only ModifierBefore is active; During and End are recognized but inert.
type Modifier string

const (
	ModifierBefore Modifier = "BEFORE"
	ModifierDuring Modifier = "DURING"
	ModifierEnd    Modifier = "END"
)

// Announcement is one configured notification trigger.
type Announcement struct {
	ID        string   `json:"id"`
	GuildID   GuildID  `json:"guild_id"`
	ChannelID string   `json:"channel_id"`
	Type      Type     `json:"type"`
	Modifier  Modifier `json:"modifier"`

	// EventID names the target event for SPECIFIC, or the recurring series
	// prefix for RECUR.
	EventID string         `json:"event_id,omitempty"`
	Color   calendar.Color `json:"color,omitempty"` // COLOR target

	HoursBefore   int `json:"hours_before"`
	MinutesBefore int `json:"minutes_before"`

	Info    string `json:"info,omitempty"`
	Enabled bool   `json:"enabled"`
	Publish bool   `json:"publish"`

	SubscriberRoleIDs []string `json:"subscriber_role_ids,omitempty"`
	SubscriberUserIDs []string `json:"subscriber_user_ids,omitempty"`
}

// Offset is how far before the event start the announcement fires.
func (a Announcement) Offset() time.Duration {
	return time.Duration(a.HoursBefore)*time.Hour +
		time.Duration(a.MinutesBefore)*time.Minute
}

// GuildSettings is per-guild configuration consumed read-only by the cycle.
type GuildSettings struct {
	GuildID      GuildID `json:"guild_id"`
	WebhookURL   string  `json:"webhook_url"` // shoutrrr URL announcements are delivered to
	Lang         string  `json:"lang"`
	TimeFormat   int     `json:"time_format"` // 12 or 24
	PatronGuild  bool    `json:"patron_guild"`
	DevGuild     bool    `json:"dev_guild"`
	MaxCalendars int     `json:"max_calendars"`
	Branded      bool    `json:"branded"`
}

// Store is the persistence collaborator.
type Store interface {
	EnabledAnnouncements(ctx context.Context, guild GuildID) ([]Announcement, error)
	// DeleteAnnouncement is idempotent: deleting a missing ID is not an error.
	DeleteAnnouncement(ctx context.Context, id string) error
	GuildSettings(ctx context.Context, guild GuildID) (GuildSettings, error)
	CalendarRecord(ctx context.Context, guild GuildID) (calendar.Record, error)
}

// Credentials provisions calendar service handles, either from the shared
// pool or from a guild's own credential.
type Credentials interface {
	PooledCount(ctx context.Context) (int, error)
	PooledService(ctx context.Context, index int) (calendar.Service, error)
	ExternalService(ctx context.Context, rec calendar.Record) (calendar.Service, error)
}

// EventSource is the calendar provider collaborator.
type EventSource interface {
	UpcomingEvents(ctx context.Context, rec calendar.Record, svc calendar.Service, limit int, since time.Time) ([]calendar.Event, error)
	// Event returns (nil, nil) when the event no longer exists.
	Event(ctx context.Context, rec calendar.Record, svc calendar.Service, id string) (*calendar.Event, error)
}

// GuildLister enumerates the guilds the process currently serves.
type GuildLister interface {
	Guilds(ctx context.Context) ([]GuildID, error)
}

// Notifier delivers a matched announcement.
type Notifier interface {
	Send(ctx context.Context, guild GuildID, a Announcement, ev calendar.Event, rec calendar.Record, settings GuildSettings) error
}
