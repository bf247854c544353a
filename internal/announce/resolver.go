package announce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"herald/internal/calendar"
)

// lazy is a write-once cell: the first caller computes, everyone else waits
// on the same result, success or failure.
type lazy[T any] struct {
	once sync.Once
	val  T
	err  error
}

func (l *lazy[T]) get(fn func() (T, error)) (T, error) {
	l.once.Do(func() { l.val, l.err = fn() })
	return l.val, l.err
}

// resolver memoizes the per-guild lookups an announcement needs — settings,
// calendar record, service handle, event list — for the duration of one
// cycle. It is created by Run and goes out of scope when the cycle returns,
// so nothing stale survives into the next cycle.
type resolver struct {
	store  Store
	creds  Credentials
	events EventSource
	limit  int

	// pooled is populated once at cycle start and shared read-only.
	pooled map[int]calendar.Service

	mu       sync.Mutex
	settings map[GuildID]*lazy[GuildSettings]
	records  map[GuildID]*lazy[calendar.Record]
	external map[GuildID]*lazy[calendar.Service]
	lists    map[GuildID]*lazy[[]calendar.Event]
}

func newResolver(store Store, creds Credentials, events EventSource, limit int, pooled map[int]calendar.Service) *resolver {
	return &resolver{
		store:    store,
		creds:    creds,
		events:   events,
		limit:    limit,
		pooled:   pooled,
		settings: make(map[GuildID]*lazy[GuildSettings]),
		records:  make(map[GuildID]*lazy[calendar.Record]),
		external: make(map[GuildID]*lazy[calendar.Service]),
		lists:    make(map[GuildID]*lazy[[]calendar.Event]),
	}
}

// cell returns the lazy cell for key, creating it under the lock so
// concurrent first-accesses collapse into one computation.
func cell[K comparable, T any](mu *sync.Mutex, m map[K]*lazy[T], key K) *lazy[T] {
	mu.Lock()
	defer mu.Unlock()
	l, ok := m[key]
	if !ok {
		l = &lazy[T]{}
		m[key] = l
	}
	return l
}

func (r *resolver) guildSettings(ctx context.Context, guild GuildID) (GuildSettings, error) {
	return cell(&r.mu, r.settings, guild).get(func() (GuildSettings, error) {
		return r.store.GuildSettings(ctx, guild)
	})
}

func (r *resolver) calendarRecord(ctx context.Context, guild GuildID) (calendar.Record, error) {
	return cell(&r.mu, r.records, guild).get(func() (calendar.Record, error) {
		return r.store.CalendarRecord(ctx, guild)
	})
}

// service resolves the handle for a calendar record: external records get a
// per-guild handle built from the guild's own credential, internal ones come
// from the pre-populated pool.
func (r *resolver) service(ctx context.Context, rec calendar.Record) (calendar.Service, error) {
	if rec.External {
		return cell(&r.mu, r.external, GuildID(rec.GuildID)).get(func() (calendar.Service, error) {
			return r.creds.ExternalService(ctx, rec)
		})
	}
	svc, ok := r.pooled[rec.CredentialID]
	if !ok {
		return calendar.Service{}, fmt.Errorf("no pooled credential at slot %d", rec.CredentialID)
	}
	return svc, nil
}

func (r *resolver) eventList(ctx context.Context, guild GuildID, rec calendar.Record, svc calendar.Service) ([]calendar.Event, error) {
	return cell(&r.mu, r.lists, guild).get(func() ([]calendar.Event, error) {
		return r.events.UpcomingEvents(ctx, rec, svc, r.limit, time.Now())
	})
}
