package diag

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a prometheus-backed Observer.
type Metrics struct {
	epochsSealed        *prometheus.CounterVec
	staleDropped        prometheus.Counter
	preTimescaleDropped prometheus.Counter
	decodeErrors        prometheus.Counter
	rollovers           *prometheus.CounterVec
	headersFinalized    *prometheus.CounterVec
	epochsWritten       *prometheus.CounterVec
}

// NewMetrics builds and registers the collector set on reg. Registration
// tolerates collectors already present so repeated construction against the
// same registry returns the existing instruments.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	sealed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "epochs_sealed_total",
		Help: "Sealed epochs, labeled by whether an end-of-epoch marker closed them.",
	}, []string{"explicit"})
	sealed, err := registerCounterVec(reg, sealed, "epochs_sealed_total")
	if err != nil {
		return nil, err
	}

	stale := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stale_records_dropped_total",
		Help: "Records discarded because their time-of-week preceded the last sealed epoch.",
	})
	stale, err = registerCounter(reg, stale, "stale_records_dropped_total")
	if err != nil {
		return nil, err
	}

	preTS := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pre_timescale_records_dropped_total",
		Help: "Buffered records discarded before any timescale was established.",
	})
	preTS, err = registerCounter(reg, preTS, "pre_timescale_records_dropped_total")
	if err != nil {
		return nil, err
	}

	decode := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_decode_errors_total",
		Help: "Malformed upstream records skipped.",
	})
	decode, err = registerCounter(reg, decode, "stream_decode_errors_total")
	if err != nil {
		return nil, err
	}

	rollovers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "route_rollovers_total",
		Help: "Period file rollovers, labeled by product.",
	}, []string{"product"})
	rollovers, err = registerCounterVec(reg, rollovers, "route_rollovers_total")
	if err != nil {
		return nil, err
	}

	headers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "route_headers_finalized_total",
		Help: "Header finalizations, labeled by product.",
	}, []string{"product"})
	headers, err = registerCounterVec(reg, headers, "route_headers_finalized_total")
	if err != nil {
		return nil, err
	}

	written := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "route_epochs_written_total",
		Help: "Epochs persisted, labeled by product.",
	}, []string{"product"})
	written, err = registerCounterVec(reg, written, "route_epochs_written_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		epochsSealed:        sealed,
		staleDropped:        stale,
		preTimescaleDropped: preTS,
		decodeErrors:        decode,
		rollovers:           rollovers,
		headersFinalized:    headers,
		epochsWritten:       written,
	}, nil
}

func (m *Metrics) EpochSealed(explicit bool) {
	label := "false"
	if explicit {
		label = "true"
	}
	m.epochsSealed.WithLabelValues(label).Inc()
}

func (m *Metrics) StaleDropped()        { m.staleDropped.Inc() }
func (m *Metrics) PreTimescaleDropped() { m.preTimescaleDropped.Inc() }
func (m *Metrics) DecodeError()         { m.decodeErrors.Inc() }

func (m *Metrics) Rollover(product string) {
	m.rollovers.WithLabelValues(product).Inc()
}

func (m *Metrics) HeaderFinalized(product string) {
	m.headersFinalized.WithLabelValues(product).Inc()
}

func (m *Metrics) EpochWritten(product string) {
	m.epochsWritten.WithLabelValues(product).Inc()
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
