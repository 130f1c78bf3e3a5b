package rinexout

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/navfoundry/ubx2rinex/pkg/assembler"
	"github.com/navfoundry/ubx2rinex/pkg/naming"
)

// obsTypes is the signal set a single-band receiver produces per system:
// pseudorange, carrier phase, doppler, signal strength on L1.
var obsTypes = []string{"C1C", "L1C", "D1C", "S1C"}

// ObsEncoder renders observation files. One instance serves the whole
// session; receiver identity may arrive mid-stream via SetReceiverInfo and
// is picked up by the next period's header.
type ObsEncoder struct {
	session  naming.Session
	program  string
	info     ReceiverInfo
	comments []string
	clock    bool // emit the receiver clock offset on epoch lines
}

// NewObsEncoder builds an observation encoder for the session. program is
// the producing tool's name for the header.
func NewObsEncoder(session naming.Session, program string, withClock bool) *ObsEncoder {
	return &ObsEncoder{session: session, program: program, clock: withClock}
}

// SetReceiverInfo records the device identity for subsequent headers.
func (enc *ObsEncoder) SetReceiverInfo(info ReceiverInfo) {
	enc.info = info
}

// AddComment queues a header comment line. Lines beyond the cap are
// dropped.
func (enc *ObsEncoder) AddComment(c string) {
	if len(enc.comments) >= maxComments {
		return
	}
	enc.comments = append(enc.comments, c)
}

// EncodeHeader writes the period header. The observed signal set and the
// approximate position come from the period's first epoch, which is why
// finalization waits for real data.
func (enc *ObsEncoder) EncodeHeader(w io.Writer, periodStart time.Time, first *assembler.Epoch) error {
	if err := headerLine(w, fmt.Sprintf("%9s%11s%-20s%-20s", version, "", "OBSERVATION DATA", "M"), "RINEX VERSION / TYPE"); err != nil {
		return err
	}
	if err := programLine(w, enc.program, enc.session.Agency, time.Now()); err != nil {
		return err
	}
	for _, c := range enc.comments {
		if err := headerLine(w, c, "COMMENT"); err != nil {
			return err
		}
	}
	if err := headerLine(w, markerOrDefault(enc.session), "MARKER NAME"); err != nil {
		return err
	}
	if err := headerLine(w, fmt.Sprintf("%-20s%-40s", enc.session.Operator, enc.session.Agency), "OBSERVER / AGENCY"); err != nil {
		return err
	}
	rec := fmt.Sprintf("%-20s%-20s%-20s", "1", enc.session.Receiver, enc.info.Firmware)
	if err := headerLine(w, rec, "REC # / TYPE / VERS"); err != nil {
		return err
	}
	if err := headerLine(w, fmt.Sprintf("%-20s%-20s", "1", "UNKNOWN"), "ANT # / TYPE"); err != nil {
		return err
	}
	if first.PVT != nil {
		x, y, z := ecef(first.PVT.Lat, first.PVT.Lon, first.PVT.Height)
		if err := headerLine(w, fmt.Sprintf("%14.4f%14.4f%14.4f", x, y, z), "APPROX POSITION XYZ"); err != nil {
			return err
		}
	}
	if err := headerLine(w, fmt.Sprintf("%14.4f%14.4f%14.4f", 0.0, 0.0, 0.0), "ANTENNA: DELTA H/E/N"); err != nil {
		return err
	}
	for _, sys := range observedSystems(first) {
		content := fmt.Sprintf("%s  %4d %s", sys.Abbr(), len(obsTypes), strings.Join(obsTypes, " "))
		if err := headerLine(w, content, "SYS / # / OBS TYPES"); err != nil {
			return err
		}
	}
	if enc.session.Sampling > 0 {
		if err := headerLine(w, fmt.Sprintf("%10.3f", enc.session.Sampling.Seconds()), "INTERVAL"); err != nil {
			return err
		}
	}
	if err := firstObsLine(w, first.Time, "GPS"); err != nil {
		return err
	}
	return headerLine(w, "", "END OF HEADER")
}

// EncodeEpoch writes one epoch record block.
func (enc *ObsEncoder) EncodeEpoch(w io.Writer, e *assembler.Epoch) error {
	t := e.Time
	sec := float64(t.Second()) + float64(t.Nanosecond())/1e9
	line := fmt.Sprintf("> %4d %02d %02d %02d %02d%11.7f  0%3d",
		t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), sec,
		len(e.Measurements))
	if enc.clock && e.Clock != nil {
		line += fmt.Sprintf("      %15.12f", e.Clock.Bias)
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}

	for _, id := range sortedSatIDs(e) {
		m := e.Measurements[id]
		ssi := strengthIndicator(m.CNO)
		_, err := fmt.Fprintf(w, "%s%14.3f %s%14.3f %s%14.3f %s%14.3f %s\n",
			id.String(),
			m.Pseudorange, ssi,
			m.CarrierPhase, ssi,
			m.Doppler, ssi,
			float64(m.CNO), ssi)
		if err != nil {
			return err
		}
	}
	return nil
}

// strengthIndicator maps a carrier-to-noise density to the single-digit
// signal strength column.
func strengthIndicator(cno uint8) string {
	ssi := int(cno)/6 + 1
	if ssi < 1 {
		ssi = 1
	}
	if ssi > 9 {
		ssi = 9
	}
	return fmt.Sprintf("%d", ssi)
}
