// Package snapshot computes output file coverage windows from a period
// policy. Boundary computation is pure; the route table calls it on every
// epoch to detect rollover.
package snapshot

import (
	"fmt"
	"time"
)

// Period enumerates the supported rotation policies.
type Period int

const (
	Daily Period = iota // default
	Hourly
	EverySixHours
	EveryTwelveHours
	Custom
)

func (p Period) String() string {
	switch p {
	case Daily:
		return "daily"
	case Hourly:
		return "hourly"
	case EverySixHours:
		return "6h"
	case EveryTwelveHours:
		return "12h"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// MinCustomPeriod is the shortest accepted custom window.
const MinCustomPeriod = 50 * time.Millisecond

// Policy is a validated rotation policy. CustomDuration is only meaningful
// when Period is Custom.
type Policy struct {
	Period         Period
	CustomDuration time.Duration
}

// ParsePolicy maps a CLI period name to a Policy. A plain duration string
// ("90s", "2h30m") selects a custom window.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "daily":
		return Policy{Period: Daily}, nil
	case "hourly":
		return Policy{Period: Hourly}, nil
	case "6h":
		return Policy{Period: EverySixHours}, nil
	case "12h":
		return Policy{Period: EveryTwelveHours}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return Policy{}, fmt.Errorf("invalid snapshot period %q: %w", s, err)
	}
	p := Policy{Period: Custom, CustomDuration: d}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate rejects custom windows shorter than MinCustomPeriod.
func (p Policy) Validate() error {
	if p.Period == Custom && p.CustomDuration < MinCustomPeriod {
		return fmt.Errorf("custom snapshot period %s below minimum %s",
			p.CustomDuration, MinCustomPeriod)
	}
	return nil
}

// Duration returns the window length.
func (p Policy) Duration() time.Duration {
	switch p.Period {
	case Hourly:
		return time.Hour
	case EverySixHours:
		return 6 * time.Hour
	case EveryTwelveHours:
		return 12 * time.Hour
	case Custom:
		return p.CustomDuration
	default:
		return 24 * time.Hour
	}
}

// Boundaries returns the half-open window [start, end) containing t.
// Calendar periods are measured from the start of t's civil day; custom
// periods are multiples of the duration from the Unix epoch, so boundaries
// survive restarts.
func (p Policy) Boundaries(t time.Time) (start, end time.Time) {
	d := p.Duration()
	if p.Period == Custom {
		start = t.Truncate(d)
		return start, start.Add(d)
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	start = day.Add(t.Sub(day) / d * d)
	return start, start.Add(d)
}

// Contains reports whether t falls inside [start, end).
func Contains(start, end, t time.Time) bool {
	return !t.Before(start) && t.Before(end)
}
