package announce

import "time"

// Tolerance is the maximum lateness between an announcement's ideal firing
// instant and the cycle that detects it. The cycle interval must not exceed
// it, or windows can be skipped over entirely.
const Tolerance = 5 * time.Minute

type windowState int

const (
	windowPending windowState = iota // firing instant still ahead, outside tolerance
	windowOpen                       // now is inside the firing window
	windowPassed                     // firing instant already behind us
)

// windowFor classifies now against an announcement offset and an event
// start. The caller decides what a passed window means: one-shot
// announcements are consumed, recurring ones simply don't match.
func windowFor(offset time.Duration, start, now time.Time) windowState {
	difference := start.Sub(now) - offset
	switch {
	case difference < 0:
		return windowPassed
	case difference <= Tolerance:
		return windowOpen
	default:
		return windowPending
	}
}
