package ubx

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/navfoundry/ubx2rinex/pkg/msg"
)

var le = binary.LittleEndian

// ErrUnhandled marks frames this decoder has no record mapping for.
var ErrUnhandled = fmt.Errorf("ubx: unhandled message")

// Decode maps a verified frame to a message record. Frames outside the
// handled set return ErrUnhandled; malformed payloads return a decode
// error the pipeline counts and skips.
func (d *Decoder) Decode(f Frame) (msg.Record, error) {
	rec, err := d.decode(f)
	if err == nil && rec != nil {
		if tow := rec.TimeOfWeek(); tow != 0 {
			d.lastTow = tow
		}
	}
	return rec, err
}

func (d *Decoder) decode(f Frame) (msg.Record, error) {
	switch {
	case f.Class == ClassNav && f.ID == idNavPVT:
		return decodePVT(f.Payload)
	case f.Class == ClassNav && f.ID == idNavClock:
		return decodeClock(f.Payload)
	case f.Class == ClassNav && f.ID == idNavSat:
		return decodeNavSat(f.Payload)
	case f.Class == ClassNav && f.ID == idNavEOE:
		return decodeEOE(f.Payload)
	case f.Class == ClassRxm && f.ID == idRxmRAWX:
		return decodeRawx(f.Payload)
	case f.Class == ClassRxm && f.ID == idRxmSFRBX:
		return d.decodeSFRBX(f.Payload)
	case f.Class == ClassMon && f.ID == idMonVer:
		return decodeMonVer(f.Payload)
	default:
		return nil, ErrUnhandled
	}
}

// Decoder keeps the cross-frame state needed to assemble ephemerides from
// subframe broadcasts.
type Decoder struct {
	subframes map[msg.SatID]*lnavAccumulator
	lastTow   uint32
}

func NewDecoder() *Decoder {
	return &Decoder{subframes: make(map[msg.SatID]*lnavAccumulator)}
}

// gnssID maps the UBX gnssId field to a constellation.
func gnssID(id byte) (msg.Constellation, bool) {
	switch id {
	case 0:
		return msg.GPS, true
	case 1:
		return msg.SBAS, true
	case 2:
		return msg.Galileo, true
	case 3:
		return msg.BeiDou, true
	case 5:
		return msg.QZSS, true
	case 6:
		return msg.Glonass, true
	default:
		return 0, false
	}
}

func decodePVT(p []byte) (msg.Record, error) {
	if len(p) < 92 {
		return nil, fmt.Errorf("nav-pvt payload %d bytes", len(p))
	}
	valid := p[11]&0x07 == 0x07 // date, time, fully resolved
	nano := int32(le.Uint32(p[16:20]))
	t := time.Date(
		int(le.Uint16(p[4:6])), time.Month(p[6]), int(p[7]),
		int(p[8]), int(p[9]), int(p[10]), 0, time.UTC,
	).Add(time.Duration(nano) * time.Nanosecond)
	return msg.PVT{
		ITow:    le.Uint32(p[0:4]),
		Time:    t,
		Valid:   valid,
		FixType: p[20],
		NumSV:   p[23],
		Lon:     float64(int32(le.Uint32(p[24:28]))) * 1e-7,
		Lat:     float64(int32(le.Uint32(p[28:32]))) * 1e-7,
		Height:  float64(int32(le.Uint32(p[32:36]))) * 1e-3,
		VelN:    float64(int32(le.Uint32(p[48:52]))) * 1e-3,
		VelE:    float64(int32(le.Uint32(p[52:56]))) * 1e-3,
		VelD:    float64(int32(le.Uint32(p[56:60]))) * 1e-3,
	}, nil
}

func decodeClock(p []byte) (msg.Record, error) {
	if len(p) < 20 {
		return nil, fmt.Errorf("nav-clock payload %d bytes", len(p))
	}
	return msg.Clock{
		ITow:  le.Uint32(p[0:4]),
		Bias:  float64(int32(le.Uint32(p[4:8]))) * 1e-9,
		Drift: float64(int32(le.Uint32(p[8:12]))) * 1e-9,
	}, nil
}

func decodeNavSat(p []byte) (msg.Record, error) {
	if len(p) < 8 {
		return nil, fmt.Errorf("nav-sat payload %d bytes", len(p))
	}
	n := int(p[5])
	if len(p) < 8+12*n {
		return nil, fmt.Errorf("nav-sat truncated: %d satellites, %d bytes", n, len(p))
	}
	t := msg.Tracking{ITow: le.Uint32(p[0:4])}
	for i := 0; i < n; i++ {
		b := p[8+12*i:]
		c, ok := gnssID(b[0])
		if !ok {
			continue
		}
		flags := le.Uint32(b[8:12])
		t.Satellites = append(t.Satellites, msg.TrackedSat{
			ID:   msg.SatID{Constellation: c, PRN: int(b[1])},
			CNO:  b[2],
			Elev: int8(b[3]),
			Azim: int16(le.Uint16(b[4:6])),
			Used: flags&0x08 != 0,
		})
	}
	return t, nil
}

func decodeEOE(p []byte) (msg.Record, error) {
	if len(p) < 4 {
		return nil, fmt.Errorf("nav-eoe payload %d bytes", len(p))
	}
	return msg.EndOfEpoch{ITow: le.Uint32(p[0:4])}, nil
}

// decodeRawx flattens the multi-satellite RXM-RAWX block into one
// RawMeasurement per satellite, wrapped in a batch.
func decodeRawx(p []byte) (msg.Record, error) {
	if len(p) < 16 {
		return nil, fmt.Errorf("rxm-rawx payload %d bytes", len(p))
	}
	n := int(p[11])
	if len(p) < 16+32*n {
		return nil, fmt.Errorf("rxm-rawx truncated: %d measurements, %d bytes", n, len(p))
	}
	rcvTow := math.Float64frombits(le.Uint64(p[0:8]))
	itow := uint32(math.Round(rcvTow * 1000))

	batch := Batch{ITow: itow}
	for i := 0; i < n; i++ {
		b := p[16+32*i:]
		c, ok := gnssID(b[20])
		if !ok {
			continue
		}
		batch.Records = append(batch.Records, msg.RawMeasurement{
			ITow:         itow,
			ID:           msg.SatID{Constellation: c, PRN: int(b[21])},
			Pseudorange:  math.Float64frombits(le.Uint64(b[0:8])),
			CarrierPhase: math.Float64frombits(le.Uint64(b[8:16])),
			Doppler:      float64(math.Float32frombits(le.Uint32(b[16:20]))),
			FreqID:       b[23],
			CNO:          b[26],
		})
	}
	return batch, nil
}

// Batch carries the per-satellite records of one multi-measurement frame.
// It is unpacked by the pipeline before the assembler sees them.
type Batch struct {
	ITow    uint32
	Records []msg.RawMeasurement
}

func (Batch) Kind() msg.Kind       { return msg.KindRawMeasurement }
func (b Batch) TimeOfWeek() uint32 { return b.ITow }

func decodeMonVer(p []byte) (msg.Record, error) {
	if len(p) < 40 {
		return nil, fmt.Errorf("mon-ver payload %d bytes", len(p))
	}
	info := msg.ReceiverInfo{
		Firmware: cstr(p[0:30]),
		Hardware: cstr(p[30:40]),
	}
	for off := 40; off+30 <= len(p); off += 30 {
		ext := cstr(p[off : off+30])
		if len(ext) >= 7 && ext[:7] == "PROTVER" {
			info.Protocol = ext
		}
	}
	return info, nil
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
