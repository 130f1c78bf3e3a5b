// Package timescale converts receiver week/time-of-week pairs into calendar
// instants in a GNSS system time.
package timescale

import (
	"fmt"
	"time"

	"github.com/navfoundry/ubx2rinex/pkg/msg"
)

// Timescale is the reference time system epoch timestamps are expressed in.
type Timescale int

const (
	GPST Timescale = iota
	GST
	BDT
)

func (t Timescale) String() string {
	switch t {
	case GPST:
		return "GPST"
	case GST:
		return "GST"
	case BDT:
		return "BDT"
	default:
		return "unknown"
	}
}

var origins = map[Timescale]time.Time{
	GPST: time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC),
	GST:  time.Date(1999, time.August, 22, 0, 0, 0, 0, time.UTC),
	BDT:  time.Date(2006, time.January, 1, 0, 0, 0, 0, time.UTC),
}

const week = 7 * 24 * time.Hour

// Select picks the timescale from the first constellation in the session's
// enabled set. Glonass, SBAS and QZSS streams are timestamped in GPST.
func Select(constellations []msg.Constellation) (Timescale, error) {
	if len(constellations) == 0 {
		return GPST, fmt.Errorf("no constellation enabled")
	}
	switch constellations[0] {
	case msg.Galileo:
		return GST, nil
	case msg.BeiDou:
		return BDT, nil
	default:
		return GPST, nil
	}
}

// FromWeekTow resolves a week number and a time-of-week in milliseconds to a
// calendar instant in timescale ts.
func FromWeekTow(ts Timescale, weekNo int, towMs uint32) time.Time {
	return origins[ts].
		Add(time.Duration(weekNo) * week).
		Add(time.Duration(towMs) * time.Millisecond)
}

// WeekTow is the inverse of FromWeekTow.
func WeekTow(ts Timescale, t time.Time) (weekNo int, towMs uint32) {
	d := t.Sub(origins[ts])
	weekNo = int(d / week)
	towMs = uint32((d % week) / time.Millisecond)
	return weekNo, towMs
}

// WeekFromCivil derives the week number from a fully resolved calendar time
// and the time-of-week it was reported with. Receivers report civil UTC in
// their solution records while measurements carry only the time-of-week, so
// this is how a session first learns its week anchor.
func WeekFromCivil(ts Timescale, civil time.Time, towMs uint32) int {
	approx := civil.Sub(origins[ts]) - time.Duration(towMs)*time.Millisecond
	// round to the nearest week edge; leap-second skew between civil UTC
	// and system time is far below half a week
	return int((approx + week/2) / week)
}
