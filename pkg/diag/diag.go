// Package diag is the passive observation surface of the pipeline. The
// assembler and route table report structured events through an Observer;
// they never log or serve HTTP themselves.
package diag

// Observer receives pipeline diagnostics. Implementations must be cheap;
// they are called on the hot path.
type Observer interface {
	// EpochSealed is reported once per sealed epoch. explicit is false
	// when the epoch was closed by a newer time-of-week instead of an
	// end-of-epoch marker.
	EpochSealed(explicit bool)
	// StaleDropped is reported when a record older than the last sealed
	// epoch is discarded.
	StaleDropped()
	// PreTimescaleDropped is reported when a buffered record is discarded
	// because no timescale was ever established.
	PreTimescaleDropped()
	// DecodeError is reported when a malformed upstream record is skipped.
	DecodeError()
	// Rollover is reported when a route closes one period file and opens
	// the next.
	Rollover(product string)
	// HeaderFinalized is reported once per (product, period).
	HeaderFinalized(product string)
	// EpochWritten is reported per epoch persisted to a route.
	EpochWritten(product string)
}

// Nop discards every event.
type Nop struct{}

func (Nop) EpochSealed(bool)       {}
func (Nop) StaleDropped()          {}
func (Nop) PreTimescaleDropped()   {}
func (Nop) DecodeError()           {}
func (Nop) Rollover(string)        {}
func (Nop) HeaderFinalized(string) {}
func (Nop) EpochWritten(string)    {}
