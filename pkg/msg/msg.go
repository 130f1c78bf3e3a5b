// Package msg defines the decoded message records exchanged between the
// receiver front end and the epoch assembler.  Every record carries the
// receiver time-of-week it was stamped with, so records can be correlated
// before a calendar time is known.
package msg

import (
	"fmt"
	"time"
)

// Kind tags the closed set of record variants.
type Kind int

const (
	KindPVT Kind = iota
	KindClock
	KindTracking
	KindRawMeasurement
	KindEndOfEpoch
	KindEphemeris
	KindReceiverInfo
)

func (k Kind) String() string {
	switch k {
	case KindPVT:
		return "pvt"
	case KindClock:
		return "clock"
	case KindTracking:
		return "tracking"
	case KindRawMeasurement:
		return "rawx"
	case KindEndOfEpoch:
		return "eoe"
	case KindEphemeris:
		return "ephemeris"
	case KindReceiverInfo:
		return "receiver-info"
	default:
		return "unknown"
	}
}

// Record is the tagged variant consumed by the assembler.  Implementations
// are immutable once produced.
type Record interface {
	Kind() Kind
	// TimeOfWeek returns the receiver time-of-week in milliseconds.
	TimeOfWeek() uint32
}

// Constellation identifies a satellite system.
type Constellation int

const (
	GPS Constellation = iota
	SBAS
	Galileo
	BeiDou
	QZSS
	Glonass
)

// Abbr returns the single-letter system abbreviation used in satellite
// identifiers and interchange files.
func (c Constellation) Abbr() string {
	switch c {
	case GPS:
		return "G"
	case SBAS:
		return "S"
	case Galileo:
		return "E"
	case BeiDou:
		return "C"
	case QZSS:
		return "J"
	case Glonass:
		return "R"
	default:
		return "?"
	}
}

func (c Constellation) String() string {
	switch c {
	case GPS:
		return "GPS"
	case SBAS:
		return "SBAS"
	case Galileo:
		return "Galileo"
	case BeiDou:
		return "BeiDou"
	case QZSS:
		return "QZSS"
	case Glonass:
		return "Glonass"
	default:
		return "unknown"
	}
}

// ParseConstellation maps a configuration name to a Constellation.
func ParseConstellation(s string) (Constellation, error) {
	switch s {
	case "gps", "GPS":
		return GPS, nil
	case "sbas", "SBAS":
		return SBAS, nil
	case "galileo", "Galileo":
		return Galileo, nil
	case "bds", "beidou", "BeiDou":
		return BeiDou, nil
	case "qzss", "QZSS":
		return QZSS, nil
	case "glonass", "Glonass":
		return Glonass, nil
	default:
		return 0, fmt.Errorf("unknown constellation %q", s)
	}
}

// SatID identifies a satellite within its constellation, for example G02.
type SatID struct {
	Constellation Constellation
	PRN           int
}

func (s SatID) String() string {
	return fmt.Sprintf("%s%02d", s.Constellation.Abbr(), s.PRN)
}

// PVT is a position/velocity/time solution.  It is the only record that
// carries a fully resolved calendar timestamp, so it anchors the session's
// week number.
type PVT struct {
	ITow    uint32
	Time    time.Time // UTC civil time reported by the receiver
	Valid   bool      // time fully resolved
	FixType uint8
	NumSV   uint8
	Lat     float64 // degrees
	Lon     float64 // degrees
	Height  float64 // metres above ellipsoid
	VelN    float64 // m/s
	VelE    float64
	VelD    float64
}

func (PVT) Kind() Kind           { return KindPVT }
func (p PVT) TimeOfWeek() uint32 { return p.ITow }

// Clock is a receiver clock solution.
type Clock struct {
	ITow  uint32
	Bias  float64 // seconds
	Drift float64 // s/s
}

func (Clock) Kind() Kind           { return KindClock }
func (c Clock) TimeOfWeek() uint32 { return c.ITow }

// TrackedSat describes one satellite in a tracking report.
type TrackedSat struct {
	ID   SatID
	Elev int8  // degrees
	Azim int16 // degrees
	CNO  uint8 // dBHz
	Used bool
}

// Tracking reports the satellites currently tracked by the receiver.
type Tracking struct {
	ITow       uint32
	Satellites []TrackedSat
}

func (Tracking) Kind() Kind           { return KindTracking }
func (t Tracking) TimeOfWeek() uint32 { return t.ITow }

// RawMeasurement is one satellite's raw observables for an epoch.
type RawMeasurement struct {
	ITow         uint32
	ID           SatID
	Pseudorange  float64 // metres
	CarrierPhase float64 // cycles
	Doppler      float64 // Hz
	CNO          uint8   // dBHz
	FreqID       uint8   // Glonass frequency slot
}

func (RawMeasurement) Kind() Kind           { return KindRawMeasurement }
func (m RawMeasurement) TimeOfWeek() uint32 { return m.ITow }

// EndOfEpoch marks that the receiver has emitted every record for the
// time-of-week it carries.
type EndOfEpoch struct {
	ITow uint32
}

func (EndOfEpoch) Kind() Kind           { return KindEndOfEpoch }
func (e EndOfEpoch) TimeOfWeek() uint32 { return e.ITow }

// Ephemeris carries a decoded broadcast ephemeris for one satellite.
// Field names follow the broadcast orbit terms.
type Ephemeris struct {
	ITow uint32
	ID   SatID

	Week int
	Toe  float64 // s of week
	Toc  float64 // s of week

	Af0, Af1, Af2 float64

	Crs, Crc   float64
	Cuc, Cus   float64
	Cic, Cis   float64
	DeltaN     float64
	M0         float64
	Ecc        float64
	SqrtA      float64
	Omega0     float64
	I0         float64
	Omega      float64
	OmegaDot   float64
	IDot       float64
	IODE, IODC int
	Health     int
	URA        int
	TGD        float64
}

func (Ephemeris) Kind() Kind           { return KindEphemeris }
func (e Ephemeris) TimeOfWeek() uint32 { return e.ITow }

// ReceiverInfo reports the receiver's firmware and hardware identity.
// It carries no time-of-week; callers stamp it with the current one.
type ReceiverInfo struct {
	ITow     uint32
	Firmware string
	Hardware string
	Protocol string
}

func (ReceiverInfo) Kind() Kind           { return KindReceiverInfo }
func (r ReceiverInfo) TimeOfWeek() uint32 { return r.ITow }
