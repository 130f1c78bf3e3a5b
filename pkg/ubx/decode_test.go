package ubx

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navfoundry/ubx2rinex/pkg/msg"
)

func put32(p []byte, off int, v uint32) { binary.LittleEndian.PutUint32(p[off:], v) }
func put16(p []byte, off int, v uint16) { binary.LittleEndian.PutUint16(p[off:], v) }
func put64(p []byte, off int, v uint64) { binary.LittleEndian.PutUint64(p[off:], v) }

func puti32(p []byte, off int, v int32) { binary.LittleEndian.PutUint32(p[off:], uint32(v)) }

func TestDecodePVT(t *testing.T) {
	p := make([]byte, 92)
	put32(p, 0, 259200000)
	put16(p, 4, 2020)
	p[6], p[7] = 1, 1
	p[8], p[9], p[10] = 0, 0, 0
	p[11] = 0x07 // date, time, fully resolved
	p[20] = 3    // 3D fix
	p[23] = 9
	puti32(p, 24, 23716700)  // lon 2.37167 deg
	puti32(p, 28, 488566100) // lat 48.85661 deg
	puti32(p, 32, 97000)     // 97 m
	puti32(p, 48, -1500)     // -1.5 m/s north
	puti32(p, 52, 250)
	puti32(p, 56, 30)

	rec, err := NewDecoder().Decode(Frame{Class: ClassNav, ID: idNavPVT, Payload: p})
	require.NoError(t, err)
	pvt, ok := rec.(msg.PVT)
	require.True(t, ok)

	assert.Equal(t, uint32(259200000), pvt.ITow)
	assert.True(t, pvt.Valid)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), pvt.Time)
	assert.Equal(t, uint8(3), pvt.FixType)
	assert.Equal(t, uint8(9), pvt.NumSV)
	assert.InDelta(t, 48.85661, pvt.Lat, 1e-9)
	assert.InDelta(t, 2.37167, pvt.Lon, 1e-9)
	assert.InDelta(t, 97.0, pvt.Height, 1e-9)
	assert.InDelta(t, -1.5, pvt.VelN, 1e-9)
}

func TestDecodePVTUnresolvedTime(t *testing.T) {
	p := make([]byte, 92)
	put16(p, 4, 2020)
	p[6], p[7] = 1, 1
	p[11] = 0x03 // date and time valid, not fully resolved

	rec, err := NewDecoder().Decode(Frame{Class: ClassNav, ID: idNavPVT, Payload: p})
	require.NoError(t, err)
	assert.False(t, rec.(msg.PVT).Valid)
}

func TestDecodeClock(t *testing.T) {
	p := make([]byte, 20)
	put32(p, 0, 1000)
	puti32(p, 4, -250000) // -250 us
	puti32(p, 8, 42)

	rec, err := NewDecoder().Decode(Frame{Class: ClassNav, ID: idNavClock, Payload: p})
	require.NoError(t, err)
	clk := rec.(msg.Clock)
	assert.InDelta(t, -250e-6, clk.Bias, 1e-12)
	assert.InDelta(t, 42e-9, clk.Drift, 1e-15)
}

func TestDecodeEOE(t *testing.T) {
	p := make([]byte, 4)
	put32(p, 0, 259200000)

	rec, err := NewDecoder().Decode(Frame{Class: ClassNav, ID: idNavEOE, Payload: p})
	require.NoError(t, err)
	assert.Equal(t, msg.EndOfEpoch{ITow: 259200000}, rec)
}

func TestDecodeRawx(t *testing.T) {
	p := make([]byte, 16+2*32)
	put64(p, 0, math.Float64bits(259200.0)) // rcvTow seconds
	put16(p, 8, 2086)
	p[11] = 2 // two measurements

	m0 := p[16:]
	put64(m0, 0, math.Float64bits(2.1e7))
	put64(m0, 8, math.Float64bits(1.1e8))
	put32(m0, 16, math.Float32bits(-1234.5))
	m0[20], m0[21] = 0, 2 // G02
	m0[26] = 45

	m1 := p[48:]
	put64(m1, 0, math.Float64bits(2.3e7))
	m1[20], m1[21] = 6, 19 // R19
	m1[23] = 7             // glonass frequency slot
	m1[26] = 38

	rec, err := NewDecoder().Decode(Frame{Class: ClassRxm, ID: idRxmRAWX, Payload: p})
	require.NoError(t, err)
	batch, ok := rec.(Batch)
	require.True(t, ok)
	require.Len(t, batch.Records, 2)
	assert.Equal(t, uint32(259200000), batch.ITow)

	g2 := batch.Records[0]
	assert.Equal(t, msg.SatID{Constellation: msg.GPS, PRN: 2}, g2.ID)
	assert.Equal(t, 2.1e7, g2.Pseudorange)
	assert.Equal(t, 1.1e8, g2.CarrierPhase)
	assert.InDelta(t, -1234.5, g2.Doppler, 1e-3)
	assert.Equal(t, uint8(45), g2.CNO)

	r19 := batch.Records[1]
	assert.Equal(t, msg.SatID{Constellation: msg.Glonass, PRN: 19}, r19.ID)
	assert.Equal(t, uint8(7), r19.FreqID)
}

func TestDecodeMonVer(t *testing.T) {
	p := make([]byte, 40+30)
	copy(p[0:], "EXT CORE 3.01 (107900)")
	copy(p[30:], "00080000")
	copy(p[40:], "PROTVER=18.00")

	rec, err := NewDecoder().Decode(Frame{Class: ClassMon, ID: idMonVer, Payload: p})
	require.NoError(t, err)
	info := rec.(msg.ReceiverInfo)
	assert.Equal(t, "EXT CORE 3.01 (107900)", info.Firmware)
	assert.Equal(t, "00080000", info.Hardware)
	assert.Equal(t, "PROTVER=18.00", info.Protocol)
}

func TestDecodeUnhandled(t *testing.T) {
	_, err := NewDecoder().Decode(Frame{Class: 0x27, ID: 0x01})
	assert.Equal(t, ErrUnhandled, err)
}

func TestDecodeTruncatedPayload(t *testing.T) {
	_, err := NewDecoder().Decode(Frame{Class: ClassNav, ID: idNavPVT, Payload: make([]byte, 10)})
	assert.Error(t, err)
	assert.NotEqual(t, ErrUnhandled, err)
}

func TestDecodeNavSat(t *testing.T) {
	p := make([]byte, 8+12)
	put32(p, 0, 1000)
	p[5] = 1
	sat := p[8:]
	sat[0], sat[1] = 0, 5 // G05
	sat[2] = 41           // cno
	sat[3] = byte(int8(63))
	put16(sat, 4, uint16(int16(181)))
	put32(sat, 8, 0x08) // used in solution

	rec, err := NewDecoder().Decode(Frame{Class: ClassNav, ID: idNavSat, Payload: p})
	require.NoError(t, err)
	trk := rec.(msg.Tracking)
	require.Len(t, trk.Satellites, 1)
	assert.Equal(t, msg.SatID{Constellation: msg.GPS, PRN: 5}, trk.Satellites[0].ID)
	assert.Equal(t, int8(63), trk.Satellites[0].Elev)
	assert.Equal(t, int16(181), trk.Satellites[0].Azim)
	assert.True(t, trk.Satellites[0].Used)
}

func TestStreamUnpacksBatchesAndSkipsBadFrames(t *testing.T) {
	pvt := make([]byte, 92)
	put32(pvt, 0, 1000)
	put16(pvt, 4, 2020)
	pvt[6], pvt[7] = 1, 1
	pvt[11] = 0x07

	rawx := make([]byte, 16+32)
	put64(rawx, 0, math.Float64bits(1.0))
	rawx[11] = 1
	rawx[16+21] = 2

	bad := Frame{Class: ClassNav, ID: idNavEOE, Payload: []byte{1, 2, 3, 4}}.Encode()
	bad[len(bad)-1]++

	var wire []byte
	wire = append(wire, Frame{Class: ClassNav, ID: idNavPVT, Payload: pvt}.Encode()...)
	wire = append(wire, bad...)
	wire = append(wire, Frame{Class: ClassRxm, ID: idRxmRAWX, Payload: rawx}.Encode()...)

	s := NewStream(bytes.NewReader(wire), nil, false, nil)
	ctx := context.Background()

	rec, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, msg.KindPVT, rec.Kind())

	rec, err = s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, msg.KindRawMeasurement, rec.Kind())
	assert.IsType(t, msg.RawMeasurement{}, rec)

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}
