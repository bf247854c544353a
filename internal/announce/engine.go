package announce

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"herald/internal/calendar"
)

const (
	defaultLookahead   = 15
	defaultCallTimeout = 30 * time.Second
)

// Deps wires the engine to its collaborators.
type Deps struct {
	Store    Store
	Creds    Credentials
	Events   EventSource
	Guilds   GuildLister
	Notifier Notifier

	// Lookahead is how many upcoming events are fetched per guild per
	// cycle (default 15).
	Lookahead int
	// CallTimeout bounds each announcement's external calls (default 30s)
	// so one stalled collaborator can't hang the whole cycle.
	CallTimeout time.Duration
}

// Engine runs the announcement cycle.
type Engine struct {
	deps Deps
}

// New creates an engine, filling in defaults for unset tunables.
func New(deps Deps) *Engine {
	if deps.Lookahead <= 0 {
		deps.Lookahead = defaultLookahead
	}
	if deps.CallTimeout <= 0 {
		deps.CallTimeout = defaultCallTimeout
	}
	return &Engine{deps: deps}
}

// Status classifies the outcome of evaluating one announcement.
type Status string

const (
	StatusSent    Status = "sent"    // at least one delivery went out
	StatusPending Status = "pending" // nothing matched this cycle, rule intact
	StatusSkipped Status = "skipped" // inert modifier
	StatusError   Status = "error"
)

// Outcome is the result of evaluating one announcement. Errors never
// propagate past an announcement; they are carried here instead.
type Outcome struct {
	Guild        GuildID
	Announcement string
	Status       Status
	Sent         int  // deliveries made (recurring types can fire for several events)
	Deleted      bool // the announcement was consumed
	Err          error
}

// CycleReport aggregates one full cycle.
type CycleReport struct {
	Guilds   int
	Rules    int
	Sent     int
	Deleted  int
	Errors   int
	Outcomes []Outcome
}

// Run executes one announcement cycle across every served guild. Guilds,
// and announcements within a guild, are evaluated concurrently; a failure
// anywhere is confined to its own Outcome. Run itself only fails when the
// credential pool can't be bootstrapped or the guild list is unavailable.
func (e *Engine) Run(ctx context.Context) (*CycleReport, error) {
	pooled, err := e.bootstrapPool(ctx)
	if err != nil {
		return nil, fmt.Errorf("credential pool bootstrap: %w", err)
	}

	guilds, err := e.deps.Guilds.Guilds(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate guilds: %w", err)
	}

	// The resolver lives exactly as long as this call; discarding it here
	// is the cache teardown.
	res := newResolver(e.deps.Store, e.deps.Creds, e.deps.Events, e.deps.Lookahead, pooled)

	var (
		mu     sync.Mutex
		report = CycleReport{Guilds: len(guilds)}
		wg     sync.WaitGroup
	)
	for _, guild := range guilds {
		wg.Add(1)
		go func(g GuildID) {
			defer wg.Done()
			outcomes := e.runGuild(ctx, res, g)
			mu.Lock()
			report.Outcomes = append(report.Outcomes, outcomes...)
			mu.Unlock()
		}(guild)
	}
	wg.Wait()

	for _, o := range report.Outcomes {
		report.Rules++
		report.Sent += o.Sent
		if o.Deleted {
			report.Deleted++
		}
		if o.Status == StatusError {
			report.Errors++
		}
	}
	return &report, nil
}

// runGuild evaluates all of one guild's enabled announcements. A failure to
// load the list is the guild's problem alone.
func (e *Engine) runGuild(ctx context.Context, res *resolver, guild GuildID) []Outcome {
	loadCtx, cancel := context.WithTimeout(ctx, e.deps.CallTimeout)
	defer cancel()

	announcements, err := e.deps.Store.EnabledAnnouncements(loadCtx, guild)
	if err != nil {
		log.Printf("announce: guild %s: load announcements: %v", guild, err)
		return []Outcome{{Guild: guild, Status: StatusError, Err: err}}
	}
	if len(announcements) == 0 {
		return nil
	}

	outcomes := make([]Outcome, len(announcements))
	var wg sync.WaitGroup
	for i, a := range announcements {
		wg.Add(1)
		go func(i int, a Announcement) {
			defer wg.Done()
			outcomes[i] = e.evaluate(ctx, res, a)
		}(i, a)
	}
	wg.Wait()
	return outcomes
}

// evaluate decides one announcement. All failure modes, including panics in
// matching logic, end up as an Outcome rather than escaping.
func (e *Engine) evaluate(ctx context.Context, res *resolver, a Announcement) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("announce: guild %s rule %s: panic: %v", a.GuildID, a.ID, r)
			out = Outcome{Guild: a.GuildID, Announcement: a.ID, Status: StatusError,
				Err: fmt.Errorf("evaluation panic: %v", r)}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.deps.CallTimeout)
	defer cancel()

	settings, err := res.guildSettings(ctx, a.GuildID)
	if err != nil {
		return ruleError(a, fmt.Errorf("resolve settings: %w", err))
	}
	rec, err := res.calendarRecord(ctx, a.GuildID)
	if err != nil {
		return ruleError(a, fmt.Errorf("resolve calendar: %w", err))
	}
	svc, err := res.service(ctx, rec)
	if err != nil {
		return ruleError(a, fmt.Errorf("resolve service: %w", err))
	}

	switch a.Modifier {
	case ModifierBefore:
		return e.handleBefore(ctx, res, a, settings, rec, svc)
	case ModifierDuring, ModifierEnd:
		// Recognized but inert: windows over the event span and end are
		// not defined yet.
		return Outcome{Guild: a.GuildID, Announcement: a.ID, Status: StatusSkipped}
	default:
		return ruleError(a, fmt.Errorf("unknown modifier %q", a.Modifier))
	}
}

// handleBefore dispatches on the announcement type for the BEFORE modifier.
func (e *Engine) handleBefore(ctx context.Context, res *resolver, a Announcement, settings GuildSettings, rec calendar.Record, svc calendar.Service) Outcome {
	now := time.Now()

	switch a.Type {
	case TypeSpecific:
		return e.beforeSpecific(ctx, a, settings, rec, svc, now)

	case TypeUniversal:
		events, err := res.eventList(ctx, a.GuildID, rec, svc)
		if err != nil {
			return ruleError(a, fmt.Errorf("resolve events: %w", err))
		}
		return e.sendMatching(ctx, a, settings, rec, events, now,
			func(calendar.Event) bool { return true })

	case TypeColor:
		events, err := res.eventList(ctx, a.GuildID, rec, svc)
		if err != nil {
			return ruleError(a, fmt.Errorf("resolve events: %w", err))
		}
		return e.sendMatching(ctx, a, settings, rec, events, now,
			func(ev calendar.Event) bool {
				return ev.Color != calendar.ColorNone && ev.Color == a.Color
			})

	case TypeRecur:
		events, err := res.eventList(ctx, a.GuildID, rec, svc)
		if err != nil {
			return ruleError(a, fmt.Errorf("resolve events: %w", err))
		}
		return e.sendMatching(ctx, a, settings, rec, events, now,
			func(ev calendar.Event) bool {
				series, ok := recurrenceGroup(ev.ID)
				return ok && series == a.EventID
			})

	default:
		return ruleError(a, fmt.Errorf("unknown type %q", a.Type))
	}
}

// beforeSpecific handles the one-shot type: the announcement is consumed
// when it fires, when its window has irrecoverably passed, or when its
// target event no longer exists.
func (e *Engine) beforeSpecific(ctx context.Context, a Announcement, settings GuildSettings, rec calendar.Record, svc calendar.Service, now time.Time) Outcome {
	ev, err := e.deps.Events.Event(ctx, rec, svc, a.EventID)
	if err != nil {
		return ruleError(a, fmt.Errorf("get event %s: %w", a.EventID, err))
	}
	if ev == nil {
		// Target gone; the announcement can never fire.
		return e.consume(ctx, a, Outcome{Guild: a.GuildID, Announcement: a.ID, Status: StatusPending})
	}

	switch windowFor(a.Offset(), ev.Start, now) {
	case windowOpen:
		if err := e.deps.Notifier.Send(ctx, a.GuildID, a, *ev, rec, settings); err != nil {
			return ruleError(a, fmt.Errorf("send for event %s: %w", ev.ID, err))
		}
		return e.consume(ctx, a, Outcome{Guild: a.GuildID, Announcement: a.ID, Status: StatusSent, Sent: 1})
	case windowPassed:
		// Missed entirely; consumed rather than retried forever.
		return e.consume(ctx, a, Outcome{Guild: a.GuildID, Announcement: a.ID, Status: StatusPending})
	default:
		return Outcome{Guild: a.GuildID, Announcement: a.ID, Status: StatusPending}
	}
}

// sendMatching delivers for every candidate event whose window is open.
// Recurring types are never consumed: a passed window is simply no match.
func (e *Engine) sendMatching(ctx context.Context, a Announcement, settings GuildSettings, rec calendar.Record, events []calendar.Event, now time.Time, match func(calendar.Event) bool) Outcome {
	out := Outcome{Guild: a.GuildID, Announcement: a.ID, Status: StatusPending}
	for _, ev := range events {
		if !match(ev) {
			continue
		}
		if windowFor(a.Offset(), ev.Start, now) != windowOpen {
			continue
		}
		if err := e.deps.Notifier.Send(ctx, a.GuildID, a, ev, rec, settings); err != nil {
			return ruleError(a, fmt.Errorf("send for event %s: %w", ev.ID, err))
		}
		out.Sent++
	}
	if out.Sent > 0 {
		out.Status = StatusSent
	}
	return out
}

// consume deletes the announcement and marks the outcome accordingly.
func (e *Engine) consume(ctx context.Context, a Announcement, out Outcome) Outcome {
	if err := e.deps.Store.DeleteAnnouncement(ctx, a.ID); err != nil {
		return ruleError(a, fmt.Errorf("delete announcement: %w", err))
	}
	out.Deleted = true
	return out
}

// bootstrapPool eagerly builds one service handle per pooled credential
// slot. Failure here abandons the whole cycle.
func (e *Engine) bootstrapPool(ctx context.Context) (map[int]calendar.Service, error) {
	ctx, cancel := context.WithTimeout(ctx, e.deps.CallTimeout)
	defer cancel()

	n, err := e.deps.Creds.PooledCount(ctx)
	if err != nil {
		return nil, err
	}
	pooled := make(map[int]calendar.Service, n)
	for i := 0; i < n; i++ {
		svc, err := e.deps.Creds.PooledService(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		pooled[i] = svc
	}
	return pooled, nil
}

// recurrenceGroup extracts the series prefix from a recurring instance ID.
func recurrenceGroup(id string) (string, bool) {
	i := strings.IndexByte(id, '_')
	if i < 0 {
		return "", false
	}
	return id[:i], true
}

func ruleError(a Announcement, err error) Outcome {
	log.Printf("announce: guild %s rule %s: %v", a.GuildID, a.ID, err)
	return Outcome{Guild: a.GuildID, Announcement: a.ID, Status: StatusError, Err: err}
}
