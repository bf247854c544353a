package notify

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"herald/internal/announce"
	"herald/internal/calendar"
	"herald/internal/store"
)

// mockSender records calls for assertion.
type mockSender struct {
	mu       sync.Mutex
	urls     []string
	messages []string
	failNext bool
}

func (m *mockSender) Send(url, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urls = append(m.urls, url)
	m.messages = append(m.messages, message)
	if m.failNext {
		m.failNext = false
		return fmt.Errorf("mock send error")
	}
	return nil
}

func setupAnnouncer(t *testing.T) (*store.Store, *mockSender, *Announcer) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Migrate(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	sender := &mockSender{}
	return st, sender, NewAnnouncer(st, sender)
}

func testArgs() (announce.Announcement, calendar.Event, calendar.Record, announce.GuildSettings) {
	a := announce.Announcement{
		ID: "a1", GuildID: "g1", Type: announce.TypeUniversal, Modifier: announce.ModifierBefore,
		Info:              "bring snacks",
		SubscriberRoleIDs: []string{"555"},
		SubscriberUserIDs: []string{"777"},
	}
	ev := calendar.Event{
		ID: "e1", Title: "Town hall", Location: "Main stage",
		Start: time.Now().Add(65 * time.Minute),
	}
	rec := calendar.Record{GuildID: "g1", Address: "https://example.com/f.ics"}
	settings := announce.GuildSettings{
		GuildID: "g1", WebhookURL: "discord://token@channel", TimeFormat: 24,
	}
	return a, ev, rec, settings
}

func TestSendDeliversAndRecordsHistory(t *testing.T) {
	st, sender, n := setupAnnouncer(t)
	a, ev, rec, settings := testArgs()

	if err := n.Send(context.Background(), "g1", a, ev, rec, settings); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(sender.urls) != 1 || sender.urls[0] != "discord://token@channel" {
		t.Errorf("urls = %v", sender.urls)
	}
	msg := sender.messages[0]
	for _, want := range []string{"<@&555>", "<@777>", "Town hall", "Main stage", "bring snacks", "in 1h05m"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}

	recs, err := st.RecentDeliveries(context.Background(), "g1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Status != "sent" || recs[0].EventID != "e1" {
		t.Errorf("history = %+v", recs)
	}
	if recs[0].SentAt.IsZero() {
		t.Error("sent_at not recorded")
	}
}

func TestSendFailureIsRecorded(t *testing.T) {
	st, sender, n := setupAnnouncer(t)
	sender.failNext = true
	a, ev, rec, settings := testArgs()

	if err := n.Send(context.Background(), "g1", a, ev, rec, settings); err == nil {
		t.Fatal("expected send error to propagate")
	}

	recs, err := st.RecentDeliveries(context.Background(), "g1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Status != "failed" || recs[0].ErrorMessage == "" {
		t.Errorf("history = %+v", recs)
	}
}

func TestSendRequiresWebhook(t *testing.T) {
	_, sender, n := setupAnnouncer(t)
	a, ev, rec, settings := testArgs()
	settings.WebhookURL = ""

	if err := n.Send(context.Background(), "g1", a, ev, rec, settings); err == nil {
		t.Fatal("expected error for missing webhook")
	}
	if len(sender.urls) != 0 {
		t.Errorf("nothing should be sent, got %v", sender.urls)
	}
}

func TestFormatMessageAllDay(t *testing.T) {
	a := announce.Announcement{ID: "a1", GuildID: "g1"}
	ev := calendar.Event{
		ID: "e1", Title: "Company holiday", AllDay: true,
		Start: time.Date(2026, time.April, 2, 0, 0, 0, 0, time.UTC),
	}
	msg := formatMessage(a, ev, announce.GuildSettings{})
	if !strings.Contains(msg, "all-day event") || !strings.Contains(msg, "Thursday, Apr 2") {
		t.Errorf("message = %q", msg)
	}
}

func TestHumanUntil(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "now"},
		{5 * time.Minute, "in 5m"},
		{61 * time.Minute, "in 1h01m"},
		{26 * time.Hour, "in 26h00m"},
	}
	for _, tt := range tests {
		if got := humanUntil(tt.d); got != tt.want {
			t.Errorf("humanUntil(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
