// Package assembler groups decoded receiver records into sealed epochs.
//
// Records are correlated by receiver time-of-week. An epoch seals when its
// end-of-epoch marker arrives, when a record for a strictly newer
// time-of-week shows up first, or when the session drains. Sealed epochs
// are immutable.
package assembler

import (
	"time"

	"github.com/navfoundry/ubx2rinex/pkg/diag"
	"github.com/navfoundry/ubx2rinex/pkg/msg"
	"github.com/navfoundry/ubx2rinex/pkg/timescale"
)

// halfWeekMs is the wrap detection threshold for the weekly tow counter.
const halfWeekMs = 7 * 24 * 3600 * 1000 / 2

// preTimescaleHorizon bounds how many distinct time-of-week values are held
// before a week anchor is known. Beyond it the oldest group is discarded.
const preTimescaleHorizon = 8

// Epoch is the unit of persistence: every record the receiver produced for
// one sampling instant.
type Epoch struct {
	Time time.Time // instant in the session timescale
	ITow uint32
	Week int

	PVT          *msg.PVT
	Clock        *msg.Clock
	Tracking     *msg.Tracking
	Measurements map[msg.SatID]msg.RawMeasurement
	Ephemerides  []msg.Ephemeris
}

// SatIDs returns the measurement satellite identifiers, unordered.
func (e *Epoch) SatIDs() []msg.SatID {
	ids := make([]msg.SatID, 0, len(e.Measurements))
	for id := range e.Measurements {
		ids = append(ids, id)
	}
	return ids
}

// Assembler is the single-consumer epoch builder. Not safe for concurrent
// use; the pipeline owns it from one goroutine.
type Assembler struct {
	scale timescale.Timescale
	obs   diag.Observer

	weekKnown bool
	week      int
	maxTow    uint32

	open *Epoch

	sealedAny bool
	sealedTow uint32

	// records held until the first valid solution anchors the week
	pending    map[uint32][]msg.Record
	pendingTow []uint32
}

// New returns an assembler producing epochs in scale. obs may be nil.
func New(scale timescale.Timescale, obs diag.Observer) *Assembler {
	if obs == nil {
		obs = diag.Nop{}
	}
	return &Assembler{
		scale:   scale,
		obs:     obs,
		pending: make(map[uint32][]msg.Record),
	}
}

// Ingest folds one record into the in-flight state and returns any epochs
// it sealed, oldest first.
func (a *Assembler) Ingest(rec msg.Record) []*Epoch {
	if rec.Kind() == msg.KindReceiverInfo {
		// identity reports carry no observation data
		return nil
	}
	if !a.weekKnown {
		return a.ingestUnanchored(rec)
	}
	return a.ingest(rec)
}

// Drain seals and returns the in-flight epoch, if any. Pending unanchored
// records are discarded and counted; without a week anchor they can never
// become epochs.
func (a *Assembler) Drain() []*Epoch {
	for _, tow := range a.pendingTow {
		for range a.pending[tow] {
			a.obs.PreTimescaleDropped()
		}
		delete(a.pending, tow)
	}
	a.pendingTow = a.pendingTow[:0]

	if a.open == nil {
		return nil
	}
	return []*Epoch{a.seal(false)}
}

// ingestUnanchored buffers records until a valid solution fixes the week
// number, then replays them.
func (a *Assembler) ingestUnanchored(rec msg.Record) []*Epoch {
	if pvt, ok := rec.(msg.PVT); ok && pvt.Valid && !pvt.Time.IsZero() {
		a.week = timescale.WeekFromCivil(a.scale, pvt.Time, pvt.ITow)
		a.weekKnown = true

		var sealed []*Epoch
		for _, tow := range a.pendingTow {
			for _, buffered := range a.pending[tow] {
				sealed = append(sealed, a.ingest(buffered)...)
			}
			delete(a.pending, tow)
		}
		a.pendingTow = a.pendingTow[:0]
		return append(sealed, a.ingest(rec)...)
	}

	tow := rec.TimeOfWeek()
	if _, ok := a.pending[tow]; !ok {
		a.pendingTow = append(a.pendingTow, tow)
		if len(a.pendingTow) > preTimescaleHorizon {
			oldest := a.pendingTow[0]
			a.pendingTow = a.pendingTow[1:]
			for range a.pending[oldest] {
				a.obs.PreTimescaleDropped()
			}
			delete(a.pending, oldest)
		}
	}
	a.pending[tow] = append(a.pending[tow], rec)
	return nil
}

func (a *Assembler) ingest(rec msg.Record) []*Epoch {
	tow := rec.TimeOfWeek()

	// weekly counter wrap: a tow far below the largest one seen starts
	// the next week
	if a.maxTow > tow && a.maxTow-tow > halfWeekMs {
		a.week++
		a.maxTow = tow
		a.sealedAny = false
	} else if tow > a.maxTow {
		a.maxTow = tow
	}

	if eoe, ok := rec.(msg.EndOfEpoch); ok {
		switch {
		case a.open != nil && a.open.ITow == eoe.ITow:
			return []*Epoch{a.seal(true)}
		case a.open != nil && eoe.ITow > a.open.ITow:
			// marker overtook the open epoch's own marker
			return []*Epoch{a.seal(false)}
		case a.sealedAny && eoe.ITow <= a.sealedTow:
			a.obs.StaleDropped()
		}
		return nil
	}

	var sealed []*Epoch
	switch {
	case a.open != nil && a.open.ITow == tow:
		// merge below
	case a.open != nil && tow > a.open.ITow:
		sealed = append(sealed, a.seal(false))
		a.openEpoch(tow)
	case a.open == nil && (!a.sealedAny || tow > a.sealedTow):
		a.openEpoch(tow)
	default:
		// behind the last sealed epoch, or behind the open one
		a.obs.StaleDropped()
		return sealed
	}

	a.merge(rec)
	return sealed
}

func (a *Assembler) openEpoch(tow uint32) {
	a.open = &Epoch{
		Time:         timescale.FromWeekTow(a.scale, a.week, tow),
		ITow:         tow,
		Week:         a.week,
		Measurements: make(map[msg.SatID]msg.RawMeasurement),
	}
}

// merge folds rec into the open epoch. Duplicates overwrite: last write
// wins per (tow, satellite).
func (a *Assembler) merge(rec msg.Record) {
	switch r := rec.(type) {
	case msg.PVT:
		a.open.PVT = &r
	case msg.Clock:
		a.open.Clock = &r
	case msg.Tracking:
		a.open.Tracking = &r
	case msg.RawMeasurement:
		a.open.Measurements[r.ID] = r
	case msg.Ephemeris:
		a.open.Ephemerides = append(a.open.Ephemerides, r)
	}
}

func (a *Assembler) seal(explicit bool) *Epoch {
	e := a.open
	a.open = nil
	a.sealedAny = true
	a.sealedTow = e.ITow
	a.obs.EpochSealed(explicit)
	return e
}
