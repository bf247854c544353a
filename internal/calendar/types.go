package calendar

import (
	"net/http"
	"time"
)

// Record binds a guild to its calendar feed. External records carry the
// guild's own credential; internal records reference a slot in the shared
// credential pool.
type Record struct {
	GuildID      string `json:"guild_id"`
	Address      string `json:"address"` // ICS feed URL
	External     bool   `json:"external"`
	CredentialID int    `json:"credential_id"` // pool slot, ignored when External
}

// Service is an authenticated handle able to fetch a calendar feed.
// Handles live for a single announcement cycle.
type Service struct {
	Client *http.Client
}

// Event is a single provider-side occurrence. Recurring series are expanded
// into instances whose IDs are "<uid>_<timestamp>", so the portion before
// the first underscore identifies the series.
type Event struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Location string    `json:"location,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	AllDay   bool      `json:"all_day"`
	Color    Color     `json:"color,omitempty"`
}
