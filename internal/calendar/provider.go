package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// defaultHorizon is how far ahead (and, for direct event lookups, behind)
// recurrence expansion reaches.
const defaultHorizon = 60 * 24 * time.Hour

// feedCache holds conditional-request state for one feed URL.
type feedCache struct {
	etag         string
	lastModified string
	body         []byte
}

// Provider fetches and expands ICS feeds. Fetches honor ETag /
// Last-Modified so an unchanged feed costs a 304; the last good body is
// reused on 304 responses and on network errors.
type Provider struct {
	Horizon time.Duration

	mu    sync.Mutex
	cache map[string]*feedCache
}

// NewProvider creates a Provider with the default expansion horizon.
func NewProvider() *Provider {
	return &Provider{
		Horizon: defaultHorizon,
		cache:   make(map[string]*feedCache),
	}
}

// UpcomingEvents returns up to limit events starting at or after since,
// ordered by start time.
func (p *Provider) UpcomingEvents(ctx context.Context, rec Record, svc Service, limit int, since time.Time) ([]Event, error) {
	body, err := p.fetch(ctx, rec.Address, svc)
	if err != nil {
		return nil, err
	}

	events, err := parseFeed(body, since, since.Add(p.Horizon))
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// Event resolves a single event by ID (a base UID or a recurring instance
// ID). It looks back one horizon as well, so recently started events still
// resolve. A missing event is (nil, nil), not an error.
func (p *Provider) Event(ctx context.Context, rec Record, svc Service, id string) (*Event, error) {
	body, err := p.fetch(ctx, rec.Address, svc)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	events, err := parseFeed(body, now.Add(-p.Horizon), now.Add(p.Horizon))
	if err != nil {
		return nil, err
	}
	for i := range events {
		if events[i].ID == id {
			return &events[i], nil
		}
	}
	return nil, nil
}

func (p *Provider) fetch(ctx context.Context, address string, svc Service) ([]byte, error) {
	if address == "" {
		return nil, fmt.Errorf("calendar record has no address")
	}
	client := svc.Client
	if client == nil {
		client = http.DefaultClient
	}

	p.mu.Lock()
	cached, ok := p.cache[address]
	if !ok {
		cached = &feedCache{}
		p.cache[address] = cached
	}
	etag, lastModified, body := cached.etag, cached.lastModified, cached.body
	p.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return nil, err
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := client.Do(req)
	if err != nil {
		if len(body) > 0 {
			return body, nil
		}
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		fresh, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read feed: %w", err)
		}
		p.mu.Lock()
		cached.etag = resp.Header.Get("ETag")
		cached.lastModified = resp.Header.Get("Last-Modified")
		cached.body = fresh
		p.mu.Unlock()
		return fresh, nil
	case http.StatusNotModified:
		if len(body) == 0 {
			return nil, fmt.Errorf("feed returned 304 with no cached body")
		}
		return body, nil
	default:
		return nil, fmt.Errorf("fetch feed: unexpected status %d", resp.StatusCode)
	}
}
