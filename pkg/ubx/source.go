package ubx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/labstack/gommon/log"

	"github.com/navfoundry/ubx2rinex/pkg/diag"
	"github.com/navfoundry/ubx2rinex/pkg/msg"
)

// liveRetryDelay paces re-reads when a live device has no bytes pending.
const liveRetryDelay = 100 * time.Millisecond

// Stream turns a UBX byte stream into a sequence of message records.
// Checksum failures and unhandled frames are skipped; malformed payloads
// are counted through the observer and skipped.
type Stream struct {
	sc      *Scanner
	dec     *Decoder
	obs     diag.Observer
	pending []msg.Record
	closer  io.Closer
	live    bool // end of input means "no data yet", retry
}

// NewStream wraps r. closer may be nil. live selects device semantics,
// where running out of bytes is transient.
func NewStream(r io.Reader, closer io.Closer, live bool, obs diag.Observer) *Stream {
	if obs == nil {
		obs = diag.Nop{}
	}
	return &Stream{
		sc:     NewScanner(r),
		dec:    NewDecoder(),
		obs:    obs,
		closer: closer,
		live:   live,
	}
}

// Next returns the next decoded record. io.EOF signals the end of a
// capture; a cancelled context returns its error between reads.
func (s *Stream) Next(ctx context.Context) (msg.Record, error) {
	for {
		if len(s.pending) > 0 {
			rec := s.pending[0]
			s.pending = s.pending[1:]
			return rec, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		f, err := s.sc.Scan()
		switch {
		case err == io.EOF, err == io.ErrUnexpectedEOF:
			if s.live {
				time.Sleep(liveRetryDelay)
				continue
			}
			return nil, io.EOF
		case err == ErrChecksum:
			log.Warnf("skipping frame: %v", err)
			s.obs.DecodeError()
			continue
		case err != nil:
			return nil, err
		}

		rec, err := s.dec.Decode(f)
		switch {
		case err == ErrUnhandled:
			continue
		case err != nil:
			log.Warnf("skipping malformed %02x-%02x frame: %v", f.Class, f.ID, err)
			s.obs.DecodeError()
			continue
		case rec == nil:
			// consumed without producing a record
			continue
		}

		if batch, ok := rec.(Batch); ok {
			for _, m := range batch.Records {
				s.pending = append(s.pending, m)
			}
			continue
		}
		return rec, nil
	}
}

// Close releases the underlying input.
func (s *Stream) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// OpenCapture opens a recorded byte stream for replay, transparently
// decompressing .gz captures.
func OpenCapture(path string, obs diag.Observer) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open gzip capture: %w", err)
		}
		r = zr
	}
	return NewStream(r, f, false, obs), nil
}

// defaultDevicePaths are probed in order when no device is named.
var defaultDevicePaths = []string{
	"/dev/ttyACM0", "/dev/ttyACM1",
	"/dev/ttyUSB0", "/dev/ttyUSB1",
}

// OpenDevice opens a live receiver. An empty path probes the usual USB
// device nodes and takes the first that opens.
func OpenDevice(path string, obs diag.Observer) (*Stream, *os.File, error) {
	candidates := []string{path}
	if path == "" {
		candidates = defaultDevicePaths
	}
	var lastErr error
	for _, c := range candidates {
		f, err := os.OpenFile(c, os.O_RDWR, 0)
		if err != nil {
			lastErr = err
			continue
		}
		log.Infof("opened receiver at %s", c)
		return NewStream(f, f, true, obs), f, nil
	}
	return nil, nil, fmt.Errorf("no receiver device found: %w", lastErr)
}
