package ubx

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navfoundry/ubx2rinex/pkg/msg"
)

func captureBytes(t *testing.T) []byte {
	t.Helper()
	pvt := make([]byte, 92)
	binary.LittleEndian.PutUint32(pvt, 259200000)
	binary.LittleEndian.PutUint16(pvt[4:], 2020)
	pvt[6], pvt[7] = 1, 1
	pvt[11] = 0x07

	rawx := make([]byte, 16+32)
	binary.LittleEndian.PutUint64(rawx, math.Float64bits(259200.0))
	rawx[11] = 1
	rawx[16+21] = 5

	eoe := make([]byte, 4)
	binary.LittleEndian.PutUint32(eoe, 259200000)

	var wire []byte
	wire = append(wire, Frame{Class: ClassNav, ID: idNavPVT, Payload: pvt}.Encode()...)
	wire = append(wire, Frame{Class: ClassRxm, ID: idRxmRAWX, Payload: rawx}.Encode()...)
	wire = append(wire, Frame{Class: ClassNav, ID: idNavEOE, Payload: eoe}.Encode()...)
	return wire
}

func drainStream(t *testing.T, s *Stream) []msg.Record {
	t.Helper()
	var recs []msg.Record
	for {
		rec, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return recs
		}
		require.NoError(t, err)
		recs = append(recs, rec)
	}
}

func TestGzipReplayMatchesPlain(t *testing.T) {
	wire := captureBytes(t)
	dir := t.TempDir()

	plain := filepath.Join(dir, "capture.ubx")
	require.NoError(t, os.WriteFile(plain, wire, 0o644))

	zipped := filepath.Join(dir, "capture.ubx.gz")
	f, err := os.Create(zipped)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write(wire)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	ps, err := OpenCapture(plain, nil)
	require.NoError(t, err)
	defer ps.Close()
	zs, err := OpenCapture(zipped, nil)
	require.NoError(t, err)
	defer zs.Close()

	plainRecs := drainStream(t, ps)
	zipRecs := drainStream(t, zs)

	require.Len(t, plainRecs, 3)
	assert.Equal(t, plainRecs, zipRecs)
	assert.Equal(t, msg.KindPVT, plainRecs[0].Kind())
	assert.Equal(t, msg.KindRawMeasurement, plainRecs[1].Kind())
	assert.Equal(t, msg.KindEndOfEpoch, plainRecs[2].Kind())
}

func TestOpenCaptureMissingFile(t *testing.T) {
	_, err := OpenCapture(filepath.Join(t.TempDir(), "nope.ubx"), nil)
	assert.Error(t, err)
}
