// Package notify delivers matched announcements to a guild's Discord
// webhook and records the attempt.
package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nicholas-fedor/shoutrrr"

	"herald/internal/announce"
	"herald/internal/calendar"
	"herald/internal/store"
)

// Sender abstracts message dispatch so the announcer can be tested without
// hitting real services.
type Sender interface {
	Send(shoutrrrURL, message string) error
}

// ShoutrrrSender dispatches via the Shoutrrr library.
type ShoutrrrSender struct{}

func (ShoutrrrSender) Send(url, message string) error {
	return shoutrrr.Send(url, message)
}

// Announcer implements the cycle's Notifier: it formats the announcement,
// sends it to the guild's webhook, and records a history row either way.
type Announcer struct {
	store  *store.Store
	sender Sender
}

// NewAnnouncer creates an announcer. A nil sender means real Shoutrrr
// dispatch.
func NewAnnouncer(st *store.Store, sender Sender) *Announcer {
	if sender == nil {
		sender = ShoutrrrSender{}
	}
	return &Announcer{store: st, sender: sender}
}

// Send delivers one announcement for one event.
func (n *Announcer) Send(ctx context.Context, guild announce.GuildID, a announce.Announcement, ev calendar.Event, rec calendar.Record, settings announce.GuildSettings) error {
	if settings.WebhookURL == "" {
		return fmt.Errorf("guild %s has no announcement webhook configured", guild)
	}

	msg := formatMessage(a, ev, settings)
	err := n.sender.Send(settings.WebhookURL, msg)

	hist := &store.DeliveryRecord{
		GuildID:        string(guild),
		AnnouncementID: a.ID,
		EventID:        ev.ID,
		Message:        msg,
	}
	if err != nil {
		hist.Status = "failed"
		hist.ErrorMessage = err.Error()
	} else {
		hist.Status = "sent"
		hist.SentAt = time.Now().UTC()
	}
	if _, dbErr := n.store.RecordDelivery(ctx, hist); dbErr != nil {
		log.Printf("notify: record history: %v", dbErr)
	}
	return err
}

// formatMessage builds the webhook message body.
func formatMessage(a announce.Announcement, ev calendar.Event, settings announce.GuildSettings) string {
	var b strings.Builder

	for _, role := range a.SubscriberRoleIDs {
		fmt.Fprintf(&b, "<@&%s> ", role)
	}
	for _, user := range a.SubscriberUserIDs {
		fmt.Fprintf(&b, "<@%s> ", user)
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}

	title := ev.Title
	if title == "" {
		title = "Untitled event"
	}

	switch {
	case ev.AllDay:
		fmt.Fprintf(&b, "**%s** is an all-day event on %s",
			title, ev.Start.Format("Monday, Jan 2"))
	default:
		fmt.Fprintf(&b, "**%s** starts %s (%s)",
			title, humanUntil(time.Until(ev.Start)), formatClock(ev.Start, settings.TimeFormat))
	}
	if ev.Location != "" {
		fmt.Fprintf(&b, "\nLocation: %s", ev.Location)
	}
	if a.Info != "" {
		fmt.Fprintf(&b, "\n%s", a.Info)
	}
	return b.String()
}

func formatClock(t time.Time, timeFormat int) string {
	if timeFormat == 12 {
		return t.Format("Jan 2, 3:04 PM MST")
	}
	return t.Format("Jan 2, 15:04 MST")
}

// humanUntil renders a duration like "in 1h05m" or "now".
func humanUntil(d time.Duration) string {
	if d < time.Minute {
		return "now"
	}
	d = d.Round(time.Minute)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	if h > 0 {
		return fmt.Sprintf("in %dh%02dm", h, m)
	}
	return fmt.Sprintf("in %dm", m)
}
