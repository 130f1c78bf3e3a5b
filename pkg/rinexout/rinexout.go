// Package rinexout renders epochs into RINEX 3.04 observation and
// navigation files. It implements the routing encoder seam.
package rinexout

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/navfoundry/ubx2rinex/pkg/assembler"
	"github.com/navfoundry/ubx2rinex/pkg/msg"
	"github.com/navfoundry/ubx2rinex/pkg/naming"
)

const version = "3.04"

// maxComments caps receiver-supplied header comment lines.
const maxComments = 16

// ReceiverInfo carries the firmware identity reported by the device,
// rendered into header comments.
type ReceiverInfo struct {
	Firmware string
	Hardware string
	Protocol string
}

// headerLine writes one header record: 60 columns of content, then the
// label.
func headerLine(w io.Writer, content, label string) error {
	_, err := fmt.Fprintf(w, "%-60s%-20s\n", content, label)
	return err
}

func programLine(w io.Writer, program, agency string, now time.Time) error {
	content := fmt.Sprintf("%-20s%-20s%-20s",
		program, agency, now.UTC().Format("20060102 150405 UTC"))
	return headerLine(w, content, "PGM / RUN BY / DATE")
}

// firstObsLine renders the TIME OF FIRST OBS record.
func firstObsLine(w io.Writer, t time.Time, system string) error {
	content := fmt.Sprintf("%6d%6d%6d%6d%6d%13.7f     %-3s",
		t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(),
		float64(t.Second())+float64(t.Nanosecond())/1e9, system)
	return headerLine(w, content, "TIME OF FIRST OBS")
}

// ecef converts a geodetic position to WGS84 cartesian coordinates.
func ecef(latDeg, lonDeg, height float64) (x, y, z float64) {
	const a = 6378137.0
	const e2 = 6.69437999014e-3
	lat := latDeg * math.Pi / 180
	lon := lonDeg * math.Pi / 180
	n := a / math.Sqrt(1-e2*math.Sin(lat)*math.Sin(lat))
	x = (n + height) * math.Cos(lat) * math.Cos(lon)
	y = (n + height) * math.Cos(lat) * math.Sin(lon)
	z = (n*(1-e2) + height) * math.Sin(lat)
	return x, y, z
}

// sortedSatIDs returns an epoch's measured satellites in system/PRN order.
func sortedSatIDs(e *assembler.Epoch) []msg.SatID {
	ids := e.SatIDs()
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Constellation != ids[j].Constellation {
			return ids[i].Constellation < ids[j].Constellation
		}
		return ids[i].PRN < ids[j].PRN
	})
	return ids
}

// observedSystems returns the distinct constellations present in an epoch's
// measurements, in identifier order.
func observedSystems(e *assembler.Epoch) []msg.Constellation {
	seen := make(map[msg.Constellation]bool)
	var systems []msg.Constellation
	for id := range e.Measurements {
		if !seen[id.Constellation] {
			seen[id.Constellation] = true
			systems = append(systems, id.Constellation)
		}
	}
	sort.Slice(systems, func(i, j int) bool { return systems[i] < systems[j] })
	return systems
}

// markerOrDefault keeps header marker fields non-empty.
func markerOrDefault(s naming.Session) string {
	if s.Marker == "" {
		return "UNKNOWN"
	}
	return s.Marker
}
