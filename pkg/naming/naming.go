// Package naming resolves output file names from session metadata and a
// period start time. Resolution is pure; callers open the files.
package naming

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Product is the output kind a file carries.
type Product int

const (
	Observation Product = iota
	Navigation
)

func (p Product) String() string {
	switch p {
	case Observation:
		return "observation"
	case Navigation:
		return "navigation"
	default:
		return "unknown"
	}
}

// Mode selects the naming convention.
type Mode int

const (
	// ModeLong is the standardized long (v3) convention, default.
	ModeLong Mode = iota
	// ModeShort is the legacy fixed-width (v2) convention.
	ModeShort
	// ModeCustom uses a caller-supplied literal name.
	ModeCustom
)

// ParseMode maps a CLI name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "long":
		return ModeLong, nil
	case "short":
		return ModeShort, nil
	case "custom":
		return ModeCustom, nil
	default:
		return 0, fmt.Errorf("unknown naming mode %q", s)
	}
}

// Session is the static metadata file names are derived from.
type Session struct {
	Marker     string
	Country    string // ISO 3166-1 alpha-3; required for compliant long names
	Operator   string
	Agency     string
	Receiver   string
	Mode       Mode
	CustomName string // literal name, ModeCustom only
	Dir        string
	Sampling   time.Duration
	Crinex     bool // Hatanaka-style name, content encoding external
	Gzip       bool
}

// Resolve returns the path for one (product, period) file. compliant is
// false when a long name had to be built without a country code.
func (s Session) Resolve(p Product, periodStart time.Time, window time.Duration) (path string, compliant bool) {
	var name string
	compliant = true
	switch s.Mode {
	case ModeShort:
		name = s.shortName(p, periodStart)
	case ModeCustom:
		name = s.CustomName
	default:
		name, compliant = s.longName(p, periodStart, window)
	}
	if s.Gzip {
		name += ".gz"
	}
	return filepath.Join(s.Dir, name), compliant
}

// shortName builds the legacy ssDDD.yyT identifier, e.g. UBX001.20O.
func (s Session) shortName(p Product, t time.Time) string {
	letter := "O"
	switch {
	case p == Navigation:
		letter = "N"
	case s.Crinex:
		letter = "D"
	}
	return fmt.Sprintf("%s%03d.%02d%s",
		strings.ToUpper(s.Marker), t.YearDay(), t.Year()%100, letter)
}

// longName builds the standardized long identifier, e.g.
// UBXFRA_R_20200010000_01D_30S_MO.rnx.
func (s Session) longName(p Product, t time.Time, window time.Duration) (string, bool) {
	country := strings.ToUpper(s.Country)
	compliant := true
	if country == "" {
		country = "XXX"
		compliant = false
	}
	stamp := fmt.Sprintf("%04d%03d%02d%02d", t.Year(), t.YearDay(), t.Hour(), t.Minute())

	var b strings.Builder
	fmt.Fprintf(&b, "%s%s_R_%s_%s", strings.ToUpper(s.Marker), country, stamp, windowCode(window))
	if p == Observation {
		fmt.Fprintf(&b, "_%s_MO", samplingCode(s.Sampling))
	} else {
		b.WriteString("_MN")
	}
	if s.Crinex && p == Observation {
		b.WriteString(".crx")
	} else {
		b.WriteString(".rnx")
	}
	return b.String(), compliant
}

// windowCode renders a coverage window in the largest exact unit.
func windowCode(d time.Duration) string {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return fmt.Sprintf("%02dD", d/(24*time.Hour))
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%02dH", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%02dM", d/time.Minute)
	default:
		return fmt.Sprintf("%02dS", d/time.Second)
	}
}

// samplingCode renders the observation interval field.
func samplingCode(d time.Duration) string {
	if d <= 0 {
		d = 30 * time.Second
	}
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%02dM", d/time.Minute)
	case d >= time.Second:
		return fmt.Sprintf("%02dS", d/time.Second)
	default:
		return fmt.Sprintf("%02dZ", time.Second/d)
	}
}
