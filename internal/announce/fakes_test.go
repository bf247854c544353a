package announce

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"herald/internal/calendar"
)

// fakeStore implements Store with in-memory maps and call counters.
type fakeStore struct {
	mu       sync.Mutex
	anns     map[GuildID][]Announcement
	settings map[GuildID]GuildSettings
	records  map[GuildID]calendar.Record
	deleted  []string

	listErr     map[GuildID]error
	settingsErr error

	settingsCalls atomic.Int32
	recordCalls   atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		anns:     make(map[GuildID][]Announcement),
		settings: make(map[GuildID]GuildSettings),
		records:  make(map[GuildID]calendar.Record),
		listErr:  make(map[GuildID]error),
	}
}

func (s *fakeStore) EnabledAnnouncements(ctx context.Context, guild GuildID) ([]Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.listErr[guild]; err != nil {
		return nil, err
	}
	return s.anns[guild], nil
}

func (s *fakeStore) DeleteAnnouncement(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeStore) GuildSettings(ctx context.Context, guild GuildID) (GuildSettings, error) {
	s.settingsCalls.Add(1)
	if s.settingsErr != nil {
		return GuildSettings{}, s.settingsErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if gs, ok := s.settings[guild]; ok {
		return gs, nil
	}
	return GuildSettings{GuildID: guild, WebhookURL: "discord://token@channel"}, nil
}

func (s *fakeStore) CalendarRecord(ctx context.Context, guild GuildID) (calendar.Record, error) {
	s.recordCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[guild]; ok {
		return rec, nil
	}
	return calendar.Record{GuildID: string(guild), Address: "https://example.com/feed.ics"}, nil
}

func (s *fakeStore) deletedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

// fakeCreds implements Credentials with a fixed pool.
type fakeCreds struct {
	count    int
	countErr error
	slotErr  error

	externalCalls atomic.Int32
}

func (c *fakeCreds) PooledCount(ctx context.Context) (int, error) {
	return c.count, c.countErr
}

func (c *fakeCreds) PooledService(ctx context.Context, index int) (calendar.Service, error) {
	if c.slotErr != nil {
		return calendar.Service{}, c.slotErr
	}
	return calendar.Service{}, nil
}

func (c *fakeCreds) ExternalService(ctx context.Context, rec calendar.Record) (calendar.Service, error) {
	c.externalCalls.Add(1)
	return calendar.Service{}, nil
}

// fakeEvents implements EventSource with per-guild event lists.
type fakeEvents struct {
	mu    sync.Mutex
	lists map[string][]calendar.Event // keyed by guild id
	byID  map[string]*calendar.Event
	err   error

	listCalls atomic.Int32
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{
		lists: make(map[string][]calendar.Event),
		byID:  make(map[string]*calendar.Event),
	}
}

func (e *fakeEvents) UpcomingEvents(ctx context.Context, rec calendar.Record, svc calendar.Service, limit int, since time.Time) ([]calendar.Event, error) {
	e.listCalls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	events := e.lists[rec.GuildID]
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (e *fakeEvents) Event(ctx context.Context, rec calendar.Record, svc calendar.Service, id string) (*calendar.Event, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.byID[id], nil
}

// fakeGuilds implements GuildLister.
type fakeGuilds struct {
	ids []GuildID
	err error
}

func (g *fakeGuilds) Guilds(ctx context.Context) ([]GuildID, error) {
	return g.ids, g.err
}

type sendCall struct {
	guild   GuildID
	ruleID  string
	eventID string
}

// fakeNotifier records deliveries.
type fakeNotifier struct {
	mu    sync.Mutex
	sends []sendCall
	err   error
}

func (n *fakeNotifier) Send(ctx context.Context, guild GuildID, a Announcement, ev calendar.Event, rec calendar.Record, settings GuildSettings) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sends = append(n.sends, sendCall{guild: guild, ruleID: a.ID, eventID: ev.ID})
	return nil
}

func (n *fakeNotifier) calls() []sendCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sendCall(nil), n.sends...)
}
