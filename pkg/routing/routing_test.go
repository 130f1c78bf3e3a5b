package routing

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navfoundry/ubx2rinex/pkg/assembler"
	"github.com/navfoundry/ubx2rinex/pkg/naming"
	"github.com/navfoundry/ubx2rinex/pkg/snapshot"
)

type memFile struct {
	bytes.Buffer
	closed bool
}

func (m *memFile) Close() error {
	m.closed = true
	return nil
}

// fakeEncoder records encode calls and verifies epochs land in the period
// whose header they follow.
type fakeEncoder struct {
	headers     int
	epochs      int
	periodStart time.Time
	failEpoch   bool
}

func (f *fakeEncoder) EncodeHeader(w io.Writer, start time.Time, first *assembler.Epoch) error {
	f.headers++
	f.periodStart = start
	_, err := fmt.Fprintf(w, "HDR %s\n", start.Format(time.RFC3339))
	return err
}

func (f *fakeEncoder) EncodeEpoch(w io.Writer, e *assembler.Epoch) error {
	if f.failEpoch {
		return fmt.Errorf("disk full")
	}
	f.epochs++
	_, err := fmt.Fprintf(w, "EPO %s\n", e.Time.Format(time.RFC3339))
	return err
}

type harness struct {
	table *Table
	enc   *fakeEncoder
	files map[string]*memFile
	order []string
}

func newHarness(t *testing.T, policy snapshot.Policy) *harness {
	t.Helper()
	h := &harness{
		enc:   &fakeEncoder{},
		files: make(map[string]*memFile),
	}
	opener := func(path string) (io.WriteCloser, error) {
		f := &memFile{}
		h.files[path] = f
		h.order = append(h.order, path)
		return f, nil
	}
	session := naming.Session{Marker: "UBX", Country: "FRA", Mode: naming.ModeLong, Sampling: 30 * time.Second}
	h.table = New(session, policy,
		map[naming.Product]Encoder{naming.Observation: h.enc}, opener, nil)
	return h
}

func epochAt(at time.Time) *assembler.Epoch {
	return &assembler.Epoch{Time: at}
}

func (h *harness) closedCount() int {
	n := 0
	for _, f := range h.files {
		if f.closed {
			n++
		}
	}
	return n
}

func TestFullDayProducesOneFile(t *testing.T) {
	h := newHarness(t, snapshot.Policy{Period: snapshot.Daily})
	day := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 2880; i++ {
		require.NoError(t, h.table.Route(naming.Observation, epochAt(day.Add(time.Duration(i)*30*time.Second))))
	}
	require.NoError(t, h.table.Drain())

	assert.Len(t, h.files, 1)
	assert.Equal(t, 1, h.enc.headers)
	assert.Equal(t, 2880, h.enc.epochs)
	assert.Equal(t, day, h.enc.periodStart, "header finalized from the first epoch's period")
	assert.Equal(t, 1, h.closedCount())
}

func TestHourlyBoundaryRollsOver(t *testing.T) {
	h := newHarness(t, snapshot.Policy{Period: snapshot.Hourly})
	day := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, h.table.Route(naming.Observation, epochAt(day.Add(59*time.Minute))))
	require.NoError(t, h.table.Route(naming.Observation, epochAt(day.Add(59*time.Minute+30*time.Second))))
	assert.Zero(t, h.closedCount())

	// first epoch of the next hour closes the boundary file
	require.NoError(t, h.table.Route(naming.Observation, epochAt(day.Add(time.Hour))))
	assert.Len(t, h.order, 2)
	assert.True(t, h.files[h.order[0]].closed)
	assert.False(t, h.files[h.order[1]].closed)

	require.NoError(t, h.table.Drain())
	assert.Equal(t, 2, h.enc.headers)
	assert.Equal(t, 3, h.enc.epochs)
	assert.Equal(t, 2, h.closedCount())
}

func TestGapSkipsEmptyPeriods(t *testing.T) {
	h := newHarness(t, snapshot.Policy{Period: snapshot.Hourly})
	day := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, h.table.Route(naming.Observation, epochAt(day)))
	require.NoError(t, h.table.Route(naming.Observation, epochAt(day.Add(5*time.Hour))))
	require.NoError(t, h.table.Drain())

	// intervening empty hours are never materialized
	assert.Len(t, h.files, 2)
}

func TestDrainFinalizesDeferredHeader(t *testing.T) {
	h := newHarness(t, snapshot.Policy{Period: snapshot.Daily})
	at := time.Date(2020, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, h.table.Route(naming.Observation, epochAt(at)))
	assert.Zero(t, h.enc.headers, "header must wait for real data")

	require.NoError(t, h.table.Drain())
	assert.Equal(t, 1, h.enc.headers)
	assert.Equal(t, 1, h.enc.epochs)
	assert.Equal(t, 1, h.closedCount())

	// drain is idempotent
	require.NoError(t, h.table.Drain())
	assert.Equal(t, 1, h.enc.headers)
	assert.Equal(t, 1, h.closedCount())
}

func TestHeaderFinalizedOncePerPeriod(t *testing.T) {
	h := newHarness(t, snapshot.Policy{Period: snapshot.Daily})
	at := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	e := epochAt(at)
	require.NoError(t, h.table.Route(naming.Observation, e))
	require.NoError(t, h.table.Route(naming.Observation, e))
	require.NoError(t, h.table.Route(naming.Observation, e))
	assert.Equal(t, 1, h.enc.headers)

	require.NoError(t, h.table.Drain())
	assert.Equal(t, 1, h.enc.headers)
}

func TestHeaderPrecedesEpochRecords(t *testing.T) {
	h := newHarness(t, snapshot.Policy{Period: snapshot.Daily})
	at := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, h.table.Route(naming.Observation, epochAt(at)))
	require.NoError(t, h.table.Route(naming.Observation, epochAt(at.Add(30*time.Second))))
	require.NoError(t, h.table.Drain())

	content := h.files[h.order[0]].String()
	assert.Regexp(t, `(?s)^HDR .*EPO .*EPO `, content)
}

func TestUnknownProductIsNoOp(t *testing.T) {
	h := newHarness(t, snapshot.Policy{Period: snapshot.Daily})
	e := epochAt(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, h.table.Route(naming.Navigation, e))
	assert.Empty(t, h.files)
}

func TestRouteAfterDrainPanics(t *testing.T) {
	h := newHarness(t, snapshot.Policy{Period: snapshot.Daily})
	require.NoError(t, h.table.Drain())

	assert.Panics(t, func() {
		_ = h.table.Route(naming.Observation, epochAt(time.Now()))
	})
}

func TestReleasedResourcePanicsOnWrite(t *testing.T) {
	res := &resource{w: &memFile{}, path: "x"}
	require.NoError(t, res.release())

	assert.Panics(t, func() { _, _ = res.Write([]byte("late")) })
	assert.Panics(t, func() { _ = res.release() })
}

func TestRepeatedOpenFailureBreaksRoute(t *testing.T) {
	failing := 0
	opener := func(path string) (io.WriteCloser, error) {
		failing++
		return nil, fmt.Errorf("destination gone")
	}
	session := naming.Session{Marker: "UBX", Country: "FRA", Mode: naming.ModeLong, Sampling: 30 * time.Second}
	table := New(session, snapshot.Policy{Period: snapshot.Daily},
		map[naming.Product]Encoder{naming.Observation: &fakeEncoder{}}, opener, nil)
	e := epochAt(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))

	err := table.Route(naming.Observation, e)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRouteBroken), "a transient failure is retried")

	require.Error(t, table.Route(naming.Observation, e))

	err = table.Route(naming.Observation, e)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRouteBroken)
	assert.Equal(t, 3, failing)
}

func TestOpenSuccessResetsFailureCount(t *testing.T) {
	h := newHarness(t, snapshot.Policy{Period: snapshot.Daily})
	inner := h.table.open
	fail := true
	h.table.open = func(path string) (io.WriteCloser, error) {
		if fail {
			return nil, fmt.Errorf("transient")
		}
		return inner(path)
	}
	e := epochAt(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))

	require.Error(t, h.table.Route(naming.Observation, e))
	require.Error(t, h.table.Route(naming.Observation, e))

	fail = false
	require.NoError(t, h.table.Route(naming.Observation, e))

	// a later isolated failure starts counting from scratch
	fail = true
	h.table.routes[naming.Observation].res = nil
	err := h.table.Route(naming.Observation, e)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRouteBroken))
}

func TestWriteFailureLosesPeriodNotSession(t *testing.T) {
	h := newHarness(t, snapshot.Policy{Period: snapshot.Hourly})
	day := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, h.table.Route(naming.Observation, epochAt(day)))
	h.enc.failEpoch = true
	assert.Error(t, h.table.Route(naming.Observation, epochAt(day.Add(30*time.Second))))

	// the rest of the failed period is skipped silently
	require.NoError(t, h.table.Route(naming.Observation, epochAt(day.Add(time.Minute))))

	// the next period starts clean
	h.enc.failEpoch = false
	require.NoError(t, h.table.Route(naming.Observation, epochAt(day.Add(time.Hour))))
	require.NoError(t, h.table.Drain())
	assert.Equal(t, 2, h.enc.headers)
}
