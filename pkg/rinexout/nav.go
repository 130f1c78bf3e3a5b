package rinexout

import (
	"fmt"
	"io"
	"time"

	"github.com/navfoundry/ubx2rinex/pkg/assembler"
	"github.com/navfoundry/ubx2rinex/pkg/msg"
	"github.com/navfoundry/ubx2rinex/pkg/naming"
	"github.com/navfoundry/ubx2rinex/pkg/timescale"
)

// NavEncoder renders navigation files from the ephemerides carried by
// routed epochs.
type NavEncoder struct {
	session naming.Session
	program string
	scale   timescale.Timescale
}

func NewNavEncoder(session naming.Session, program string, scale timescale.Timescale) *NavEncoder {
	return &NavEncoder{session: session, program: program, scale: scale}
}

func (enc *NavEncoder) EncodeHeader(w io.Writer, periodStart time.Time, first *assembler.Epoch) error {
	if err := headerLine(w, fmt.Sprintf("%9s%11s%-20s%-20s", version, "", "N: GNSS NAV DATA", "M: MIXED"), "RINEX VERSION / TYPE"); err != nil {
		return err
	}
	if err := programLine(w, enc.program, enc.session.Agency, time.Now()); err != nil {
		return err
	}
	return headerLine(w, "", "END OF HEADER")
}

// EncodeEpoch writes every ephemeris bound to the epoch as one broadcast
// record each.
func (enc *NavEncoder) EncodeEpoch(w io.Writer, e *assembler.Epoch) error {
	for _, eph := range e.Ephemerides {
		if err := enc.encodeEphemeris(w, eph); err != nil {
			return err
		}
	}
	return nil
}

func (enc *NavEncoder) encodeEphemeris(w io.Writer, eph msg.Ephemeris) error {
	toc := timescale.FromWeekTow(enc.scale, eph.Week, uint32(eph.Toc*1000))
	_, err := fmt.Fprintf(w, "%s %4d %02d %02d %02d %02d %02d%s%s%s\n",
		eph.ID.String(),
		toc.Year(), int(toc.Month()), toc.Day(), toc.Hour(), toc.Minute(), toc.Second(),
		navFloat(eph.Af0), navFloat(eph.Af1), navFloat(eph.Af2))
	if err != nil {
		return err
	}

	rows := [][4]float64{
		{float64(eph.IODE), eph.Crs, eph.DeltaN, eph.M0},
		{eph.Cuc, eph.Ecc, eph.Cus, eph.SqrtA},
		{eph.Toe, eph.Cic, eph.Omega0, eph.Cis},
		{eph.I0, eph.Crc, eph.Omega, eph.OmegaDot},
		{eph.IDot, 0, float64(eph.Week), 0},
		{float64(eph.URA), float64(eph.Health), eph.TGD, float64(eph.IODC)},
		{eph.Toe, 4 * 3600, 0, 0},
	}
	for _, row := range rows {
		_, err := fmt.Fprintf(w, "    %s%s%s%s\n",
			navFloat(row[0]), navFloat(row[1]), navFloat(row[2]), navFloat(row[3]))
		if err != nil {
			return err
		}
	}
	return nil
}

// navFloat renders one 19-column broadcast orbit field.
func navFloat(v float64) string {
	return fmt.Sprintf("%19.12E", v)
}
