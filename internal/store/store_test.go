package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"herald/internal/announce"
	"herald/internal/calendar"
)

func setupTestDB(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.Exec("PRAGMA foreign_keys = ON")
	if err := Migrate(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestAnnouncementRoundTrip(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	a := announce.Announcement{
		GuildID:           "g1",
		ChannelID:         "c1",
		Type:              announce.TypeColor,
		Modifier:          announce.ModifierBefore,
		Color:             calendar.ColorTomato,
		HoursBefore:       1,
		MinutesBefore:     30,
		Info:              "bring snacks",
		Enabled:           true,
		Publish:           true,
		SubscriberRoleIDs: []string{"r1", "r2"},
		SubscriberUserIDs: []string{"u1"},
	}
	if err := s.CreateAnnouncement(ctx, &a); err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ID == "" {
		t.Fatal("create must assign an ID")
	}

	got, err := s.GetAnnouncement(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("announcement not found after create")
	}
	if got.Type != announce.TypeColor || got.Color != calendar.ColorTomato {
		t.Errorf("type/color = %s/%s", got.Type, got.Color)
	}
	if got.HoursBefore != 1 || got.MinutesBefore != 30 {
		t.Errorf("offset = %dh%dm", got.HoursBefore, got.MinutesBefore)
	}
	if len(got.SubscriberRoleIDs) != 2 || got.SubscriberRoleIDs[1] != "r2" {
		t.Errorf("roles = %v", got.SubscriberRoleIDs)
	}
	if len(got.SubscriberUserIDs) != 1 {
		t.Errorf("users = %v", got.SubscriberUserIDs)
	}
}

func TestEnabledAnnouncementsFiltersDisabled(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	on := announce.Announcement{GuildID: "g1", Type: announce.TypeUniversal, Modifier: announce.ModifierBefore, Enabled: true}
	off := announce.Announcement{GuildID: "g1", Type: announce.TypeUniversal, Modifier: announce.ModifierBefore, Enabled: false}
	other := announce.Announcement{GuildID: "g2", Type: announce.TypeUniversal, Modifier: announce.ModifierBefore, Enabled: true}
	for _, a := range []*announce.Announcement{&on, &off, &other} {
		if err := s.CreateAnnouncement(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	enabled, err := s.EnabledAnnouncements(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(enabled) != 1 || enabled[0].ID != on.ID {
		t.Errorf("enabled = %v", enabled)
	}

	all, err := s.ListAnnouncements(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 announcements for g1, got %d", len(all))
	}

	if err := s.SetAnnouncementEnabled(ctx, off.ID, true); err != nil {
		t.Fatal(err)
	}
	enabled, _ = s.EnabledAnnouncements(ctx, "g1")
	if len(enabled) != 2 {
		t.Errorf("expected 2 enabled after toggle, got %d", len(enabled))
	}
}

func TestDeleteAnnouncementIsIdempotent(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	a := announce.Announcement{GuildID: "g1", Type: announce.TypeSpecific, Modifier: announce.ModifierBefore, Enabled: true}
	if err := s.CreateAnnouncement(ctx, &a); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteAnnouncement(ctx, a.ID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	// Deleting again, or deleting something that never existed, is fine.
	if err := s.DeleteAnnouncement(ctx, a.ID); err != nil {
		t.Errorf("second delete: %v", err)
	}
	if err := s.DeleteAnnouncement(ctx, "never-existed"); err != nil {
		t.Errorf("delete of unknown id: %v", err)
	}

	got, err := s.GetAnnouncement(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("announcement still present after delete")
	}
}

func TestGuildSettingsDefaultsWhenUnset(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	gs, err := s.GuildSettings(ctx, "fresh-guild")
	if err != nil {
		t.Fatalf("defaults lookup: %v", err)
	}
	if gs.Lang != "en" || gs.TimeFormat != 24 || gs.MaxCalendars != 1 {
		t.Errorf("defaults = %+v", gs)
	}

	gs.WebhookURL = "discord://token@channel"
	gs.TimeFormat = 12
	gs.PatronGuild = true
	if err := s.UpsertGuildSettings(ctx, gs); err != nil {
		t.Fatal(err)
	}

	got, err := s.GuildSettings(ctx, "fresh-guild")
	if err != nil {
		t.Fatal(err)
	}
	if got.WebhookURL != "discord://token@channel" || got.TimeFormat != 12 || !got.PatronGuild {
		t.Errorf("settings = %+v", got)
	}
}

func TestCalendarRecordRoundTrip(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	if _, err := s.CalendarRecord(ctx, "g1"); !errors.Is(err, ErrNoCalendar) {
		t.Errorf("expected ErrNoCalendar, got %v", err)
	}

	rec := calendar.Record{GuildID: "g1", Address: "https://example.com/a.ics", External: true, CredentialID: 3}
	if err := s.UpsertCalendarRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.CalendarRecord(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if got != rec {
		t.Errorf("record = %+v, want %+v", got, rec)
	}
}

func TestGuildsListsCalendarOwners(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	for _, g := range []string{"g2", "g1"} {
		if err := s.UpsertCalendarRecord(ctx, calendar.Record{GuildID: g, Address: "https://example.com/f.ics"}); err != nil {
			t.Fatal(err)
		}
	}

	guilds, err := s.Guilds(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(guilds) != 2 || guilds[0] != "g1" || guilds[1] != "g2" {
		t.Errorf("guilds = %v", guilds)
	}
}

func TestDeliveryHistory(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	if _, err := s.RecordDelivery(ctx, &DeliveryRecord{
		GuildID: "g1", AnnouncementID: "a1", EventID: "e1",
		Message: "hello", Status: "sent",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordDelivery(ctx, &DeliveryRecord{
		GuildID: "g1", AnnouncementID: "a1", EventID: "e2",
		Message: "hello again", Status: "failed", ErrorMessage: "webhook 404",
	}); err != nil {
		t.Fatal(err)
	}

	recs, err := s.RecentDeliveries(ctx, "g1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(recs))
	}
	// Most recent first.
	if recs[0].EventID != "e2" || recs[0].Status != "failed" || recs[0].ErrorMessage != "webhook 404" {
		t.Errorf("latest = %+v", recs[0])
	}
}
