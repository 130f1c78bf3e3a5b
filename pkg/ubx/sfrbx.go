package ubx

import (
	"fmt"
	"math"

	"github.com/bamiaux/iobit"

	"github.com/navfoundry/ubx2rinex/pkg/msg"
)

// LNAV scale factors.
const (
	p2_5  = 1.0 / (1 << 5)
	p2_19 = 1.0 / (1 << 19)
	p2_29 = 1.0 / (1 << 29)
	p2_31 = 1.0 / (1 << 31)
	p2_33 = 1.0 / (1 << 33)
	p2_43 = 1.0 / (1 << 43)
	p2_55 = 1.0 / (1 << 55)

	// semi-circles to radians
	sc2rad = math.Pi
)

// lnavAccumulator collects the three ephemeris subframes of one GPS
// satellite. dwrds are the 24 data bits of each word, parity stripped.
type lnavAccumulator struct {
	sf [4][]byte // indexed by subframe id, 1..3 used
}

// decodeSFRBX feeds a broadcast subframe into the per-satellite
// accumulator and emits an ephemeris once subframes 1-3 agree. Consumed
// frames that complete nothing return (nil, nil).
func (d *Decoder) decodeSFRBX(p []byte) (msg.Record, error) {
	if len(p) < 8 {
		return nil, fmt.Errorf("rxm-sfrbx payload %d bytes", len(p))
	}
	numWords := int(p[4])
	if len(p) < 8+4*numWords {
		return nil, fmt.Errorf("rxm-sfrbx truncated: %d words, %d bytes", numWords, len(p))
	}
	c, ok := gnssID(p[0])
	if !ok || c != msg.GPS || numWords < 10 {
		// only GPS LNAV ephemerides are assembled
		return nil, nil
	}
	id := msg.SatID{Constellation: msg.GPS, PRN: int(p[1])}

	// strip the 6 parity bits of each 30-bit word, keeping 24 data bits
	data := make([]byte, 0, 30)
	for i := 0; i < 10; i++ {
		w := le.Uint32(p[8+4*i:]) >> 6
		data = append(data, byte(w>>16), byte(w>>8), byte(w))
	}

	how := iobit.NewReader(data[3:6])
	how.Skip(19) // tow count, alert, anti-spoof
	sfID := how.Uint32(3)
	if sfID < 1 || sfID > 3 {
		// almanac and message subframes
		return nil, nil
	}

	acc, ok := d.subframes[id]
	if !ok {
		acc = &lnavAccumulator{}
		d.subframes[id] = acc
	}
	acc.sf[sfID] = data
	if acc.sf[1] == nil || acc.sf[2] == nil || acc.sf[3] == nil {
		return nil, nil
	}

	eph, err := buildEphemeris(id, acc.sf[1], acc.sf[2], acc.sf[3])
	if err != nil {
		// stale mix of subframes; keep collecting
		acc.sf[2], acc.sf[3] = nil, nil
		return nil, nil
	}
	acc.sf[1], acc.sf[2], acc.sf[3] = nil, nil, nil
	eph.ITow = d.lastTow
	return eph, nil
}

// buildEphemeris assembles the broadcast orbit terms from subframes 1-3.
func buildEphemeris(id msg.SatID, sf1, sf2, sf3 []byte) (msg.Ephemeris, error) {
	var e msg.Ephemeris
	e.ID = id

	r := iobit.NewReader(sf1)
	r.Skip(48)
	week := int(r.Uint32(10))
	r.Skip(2) // codes on L2
	e.URA = int(r.Uint32(4))
	e.Health = int(r.Uint32(6))
	iodcMSB := int(r.Uint32(2))
	r.Skip(1)  // L2 P data flag
	r.Skip(87) // reserved
	e.TGD = float64(r.Int32(8)) * p2_31
	e.IODC = iodcMSB<<8 | int(r.Uint32(8))
	e.Toc = float64(r.Uint32(16)) * 16
	e.Af2 = float64(r.Int32(8)) * p2_55
	e.Af1 = float64(r.Int32(16)) * p2_43
	e.Af0 = float64(r.Int32(22)) * p2_31

	r = iobit.NewReader(sf2)
	r.Skip(48)
	e.IODE = int(r.Uint32(8))
	e.Crs = float64(r.Int32(16)) * p2_5
	e.DeltaN = float64(r.Int32(16)) * p2_43 * sc2rad
	e.M0 = float64(r.Int32(32)) * p2_31 * sc2rad
	e.Cuc = float64(r.Int32(16)) * p2_29
	e.Ecc = float64(r.Uint32(32)) * p2_33
	e.Cus = float64(r.Int32(16)) * p2_29
	e.SqrtA = float64(r.Uint32(32)) * p2_19
	e.Toe = float64(r.Uint32(16)) * 16

	r = iobit.NewReader(sf3)
	r.Skip(48)
	e.Cic = float64(r.Int32(16)) * p2_29
	e.Omega0 = float64(r.Int32(32)) * p2_31 * sc2rad
	e.Cis = float64(r.Int32(16)) * p2_29
	e.I0 = float64(r.Int32(32)) * p2_31 * sc2rad
	e.Crc = float64(r.Int32(16)) * p2_5
	e.Omega = float64(r.Int32(32)) * p2_31 * sc2rad
	e.OmegaDot = float64(r.Int32(24)) * p2_43 * sc2rad
	iode3 := int(r.Uint32(8))
	e.IDot = float64(r.Int32(14)) * p2_43 * sc2rad

	if iode3 != e.IODE || e.IODC&0xFF != e.IODE {
		return e, fmt.Errorf("inconsistent issue-of-data: sf2=%d sf3=%d iodc=%d",
			e.IODE, iode3, e.IODC)
	}

	// ten-bit broadcast week resolved against the current rollover era
	e.Week = week + 2048

	return e, nil
}
