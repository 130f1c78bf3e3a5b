// Package routing owns the per-product output files. It rolls files over on
// snapshot period boundaries, defers header finalization until real data has
// been observed, and enforces exclusive ownership of every open resource.
package routing

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"

	"github.com/navfoundry/ubx2rinex/pkg/assembler"
	"github.com/navfoundry/ubx2rinex/pkg/diag"
	"github.com/navfoundry/ubx2rinex/pkg/naming"
	"github.com/navfoundry/ubx2rinex/pkg/snapshot"
)

// Encoder is the sink collaborator that renders epochs into a period file.
// The header is encoded once per period, after the period's first epoch has
// been fully observed, because fields like the observed signal set are only
// knowable from real data.
type Encoder interface {
	EncodeHeader(w io.Writer, periodStart time.Time, first *assembler.Epoch) error
	EncodeEpoch(w io.Writer, e *assembler.Epoch) error
}

// maxOpenFailures bounds consecutive failed period opens before a route is
// declared unrecoverable. A transient failure heals on the next epoch; a
// vanished destination does not.
const maxOpenFailures = 3

// ErrRouteBroken marks a route whose resource keeps failing to open. The
// session cannot produce this output anymore and should terminate.
var ErrRouteBroken = errors.New("route resource unrecoverable")

// Opener opens the write resource behind a resolved path.
type Opener func(path string) (io.WriteCloser, error)

// NewFileOpener returns an Opener creating plain or gzip-compressed files.
func NewFileOpener(gzipped bool) Opener {
	return func(path string) (io.WriteCloser, error) {
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		if !gzipped {
			return f, nil
		}
		return &gzipFile{f: f, zw: gzip.NewWriter(f)}, nil
	}
}

type gzipFile struct {
	f  *os.File
	zw *gzip.Writer
}

func (g *gzipFile) Write(p []byte) (int, error) { return g.zw.Write(p) }

func (g *gzipFile) Close() error {
	if err := g.zw.Close(); err != nil {
		g.f.Close()
		return err
	}
	return g.f.Close()
}

// resource is the exclusively-owned file handle of one route. Touching it
// after release is a contract violation and panics.
type resource struct {
	w        io.WriteCloser
	path     string
	released bool
}

func (r *resource) Write(p []byte) (int, error) {
	if r.released {
		panic(fmt.Sprintf("write to released resource %s", r.path))
	}
	return r.w.Write(p)
}

func (r *resource) release() error {
	if r.released {
		panic(fmt.Sprintf("double release of resource %s", r.path))
	}
	r.released = true
	return r.w.Close()
}

type route struct {
	product naming.Product
	enc     Encoder

	res        *resource
	start, end time.Time
	headerDone bool
	first      *assembler.Epoch // buffered until the header is finalized
	written    int

	openFailures int // consecutive, reset by a successful open

	// set after an unrecoverable write error; the rest of the period is
	// skipped and the next period starts clean
	failedUntil time.Time
}

// Table routes sealed epochs to their product files. Single-writer; the
// pipeline goroutine owns it.
type Table struct {
	session naming.Session
	policy  snapshot.Policy
	open    Opener
	obs     diag.Observer
	routes  map[naming.Product]*route
	drained bool
}

// New builds a table with one route per encoder. opener may be nil, in
// which case files are created per the session's gzip setting.
func New(session naming.Session, policy snapshot.Policy, encoders map[naming.Product]Encoder, opener Opener, obs diag.Observer) *Table {
	if opener == nil {
		opener = NewFileOpener(session.Gzip)
	}
	if obs == nil {
		obs = diag.Nop{}
	}
	t := &Table{
		session: session,
		policy:  policy,
		open:    opener,
		obs:     obs,
		routes:  make(map[naming.Product]*route),
	}
	for p, enc := range encoders {
		t.routes[p] = &route{product: p, enc: enc}
	}
	return t
}

// Route hands a sealed epoch to the product's route, rolling the file over
// if the epoch falls outside the current period. Unknown products are a
// no-op so callers can route conditionally.
func (t *Table) Route(p naming.Product, e *assembler.Epoch) error {
	if t.drained {
		panic("route after drain")
	}
	r, ok := t.routes[p]
	if !ok {
		return nil
	}

	if r.res != nil && !snapshot.Contains(r.start, r.end, e.Time) {
		if err := t.closePeriod(r); err != nil {
			return fmt.Errorf("%s rollover: %w", p, err)
		}
		t.obs.Rollover(p.String())
	}
	if !r.failedUntil.IsZero() {
		if e.Time.Before(r.failedUntil) {
			return nil
		}
		r.failedUntil = time.Time{}
	}
	if r.res == nil {
		if err := t.openPeriod(r, e.Time); err != nil {
			r.openFailures++
			if r.openFailures >= maxOpenFailures {
				return fmt.Errorf("%s open failed %d times: %w: %v",
					p, r.openFailures, ErrRouteBroken, err)
			}
			return fmt.Errorf("%s open: %w", p, err)
		}
		r.openFailures = 0
	}

	if err := t.writeEpoch(r, e); err != nil {
		t.failRoute(r, err)
		return fmt.Errorf("%s write: %w", p, err)
	}
	return nil
}

// Drain flushes and closes every open route. Idempotent; errors are
// collected so every route still gets a close attempt.
func (t *Table) Drain() error {
	if t.drained {
		return nil
	}
	t.drained = true

	var firstErr error
	for _, r := range t.routes {
		if r.res == nil {
			continue
		}
		if err := t.closePeriod(r); err != nil {
			log.WithError(err).WithField("product", r.product.String()).
				Error("close on drain failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (t *Table) openPeriod(r *route, at time.Time) error {
	start, end := t.policy.Boundaries(at)
	path, compliant := t.session.Resolve(r.product, start, t.policy.Duration())
	if !compliant {
		log.WithField("path", path).Warn("file name is not convention compliant, country code missing")
	}
	w, err := t.open(path)
	if err != nil {
		return err
	}
	r.res = &resource{w: w, path: path}
	r.start, r.end = start, end
	r.headerDone = false
	r.first = nil
	r.written = 0
	log.WithFields(log.Fields{
		"product": r.product.String(),
		"path":    path,
		"start":   start.Format(time.RFC3339),
	}).Info("opened period file")
	return nil
}

// writeEpoch buffers the period's first epoch; the header is finalized and
// both are flushed once a second epoch proves the observation set stable,
// or at rollover/drain.
func (t *Table) writeEpoch(r *route, e *assembler.Epoch) error {
	if !r.headerDone {
		if r.first == nil {
			r.first = e
			r.written++
			return nil
		}
		if err := t.finalizeHeader(r); err != nil {
			return err
		}
	}
	if err := r.enc.EncodeEpoch(r.res, e); err != nil {
		return err
	}
	r.written++
	t.obs.EpochWritten(r.product.String())
	return nil
}

func (t *Table) finalizeHeader(r *route) error {
	if err := r.enc.EncodeHeader(r.res, r.start, r.first); err != nil {
		return err
	}
	if err := r.enc.EncodeEpoch(r.res, r.first); err != nil {
		return err
	}
	r.headerDone = true
	r.first = nil
	t.obs.HeaderFinalized(r.product.String())
	t.obs.EpochWritten(r.product.String())
	return nil
}

func (t *Table) closePeriod(r *route) error {
	if !r.headerDone && r.first != nil {
		if err := t.finalizeHeader(r); err != nil {
			r.res.release()
			r.res = nil
			return err
		}
	}
	err := r.res.release()
	r.res = nil
	return err
}

func (t *Table) failRoute(r *route, err error) {
	log.WithError(err).WithField("product", r.product.String()).
		Error("route failed, period data lost")
	if r.res != nil && !r.res.released {
		r.res.release()
	}
	r.res = nil
	r.failedUntil = r.end
}
