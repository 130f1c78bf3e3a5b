package ubx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/navfoundry/ubx2rinex/pkg/msg"
)

// kindMessages maps record kinds to the frame that carries them.
var kindMessages = map[msg.Kind][2]byte{
	msg.KindPVT:            {ClassNav, idNavPVT},
	msg.KindClock:          {ClassNav, idNavClock},
	msg.KindTracking:       {ClassNav, idNavSat},
	msg.KindRawMeasurement: {ClassRxm, idRxmRAWX},
	msg.KindEndOfEpoch:     {ClassNav, idNavEOE},
	msg.KindEphemeris:      {ClassRxm, idRxmSFRBX},
	msg.KindReceiverInfo:   {ClassMon, idMonVer},
}

// DeviceConfig is the steady-state setup requested from the receiver.
type DeviceConfig struct {
	Kinds          []msg.Kind
	Constellations []msg.Constellation
	Sampling       time.Duration
	AckTimeout     time.Duration
}

// gnssCfgID is the inverse of the decode-side gnssID mapping.
func gnssCfgID(c msg.Constellation) byte {
	switch c {
	case msg.GPS:
		return 0
	case msg.SBAS:
		return 1
	case msg.Galileo:
		return 2
	case msg.BeiDou:
		return 3
	case msg.QZSS:
		return 5
	default:
		return 6
	}
}

// DeadlineReadWriter is the device port surface configuration needs: the
// ack wait must be able to time out without leaving a reader goroutine
// competing with the steady-state stream.
type DeadlineReadWriter interface {
	io.ReadWriter
	SetReadDeadline(t time.Time) error
}

// Configure pushes the measurement rate, constellation selection and
// per-kind message rates to the device, then collects acknowledgements.
// The returned map holds one entry per requested kind; false means the
// device never confirmed it and the kind will not arrive.
func Configure(ctx context.Context, rw DeadlineReadWriter, cfg DeviceConfig) (map[msg.Kind]bool, error) {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 2 * time.Second
	}

	if cfg.Sampling > 0 {
		rate := Frame{Class: ClassCfg, ID: idCfgRate, Payload: cfgRatePayload(cfg.Sampling)}
		if _, err := rw.Write(rate.Encode()); err != nil {
			return nil, fmt.Errorf("write cfg-rate: %w", err)
		}
	}
	if len(cfg.Constellations) > 0 {
		gnss := Frame{Class: ClassCfg, ID: idCfgGnss, Payload: cfgGnssPayload(cfg.Constellations)}
		if _, err := rw.Write(gnss.Encode()); err != nil {
			return nil, fmt.Errorf("write cfg-gnss: %w", err)
		}
	}
	for _, k := range cfg.Kinds {
		m, ok := kindMessages[k]
		if !ok {
			return nil, fmt.Errorf("no device message for kind %s", k)
		}
		f := Frame{Class: ClassCfg, ID: idCfgMsg, Payload: []byte{m[0], m[1], 1}}
		if _, err := rw.Write(f.Encode()); err != nil {
			return nil, fmt.Errorf("write cfg-msg %s: %w", k, err)
		}
	}

	// acknowledgements echo the class and id of the acknowledged request,
	// so CFG-MSG acks are matched back to kinds in send order
	enabled := make(map[msg.Kind]bool, len(cfg.Kinds))
	for _, k := range cfg.Kinds {
		enabled[k] = false
	}
	order := append([]msg.Kind(nil), cfg.Kinds...)

	if err := rw.SetReadDeadline(time.Now().Add(cfg.AckTimeout)); err != nil {
		return enabled, fmt.Errorf("set ack deadline: %w", err)
	}
	defer rw.SetReadDeadline(time.Time{})

	for len(order) > 0 {
		if err := ctx.Err(); err != nil {
			return enabled, err
		}
		f, err := readFrame(rw)
		if errors.Is(err, os.ErrDeadlineExceeded) {
			for _, k := range order {
				log.Warnf("no acknowledgement for %s, treating as unavailable", k)
			}
			return enabled, nil
		}
		if err == ErrChecksum {
			continue
		}
		if err != nil {
			return enabled, err
		}
		if f.Class != ClassAck || len(f.Payload) < 2 ||
			f.Payload[0] != ClassCfg || f.Payload[1] != idCfgMsg {
			continue
		}
		k := order[0]
		order = order[1:]
		if f.ID == idAckAck {
			enabled[k] = true
		} else {
			log.Warnf("device rejected %s messages", k)
		}
	}
	return enabled, nil
}

// readFrame reads one frame without buffering past its end. The port is
// shared with the steady-state stream, so reading ahead here would steal
// the frames the device emits right after the final acknowledgement.
func readFrame(r io.Reader) (Frame, error) {
	var b [1]byte
	cur := byte(0)
	for {
		if cur != sync1 {
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return Frame{}, err
			}
			cur = b[0]
			continue
		}
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Frame{}, err
		}
		if b[0] == sync2 {
			break
		}
		cur = b[0]
	}

	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, eofToUnexpected(err)
	}
	length := int(hdr[2]) | int(hdr[3])<<8
	if length > maxPayload {
		return Frame{}, fmt.Errorf("ubx: implausible payload length %d", length)
	}
	body := make([]byte, length+2)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, eofToUnexpected(err)
	}

	f := Frame{Class: hdr[0], ID: hdr[1], Payload: body[:length]}
	ckA, ckB := fletcher(f.Class, f.ID, f.Payload)
	if ckA != body[length] || ckB != body[length+1] {
		return Frame{}, ErrChecksum
	}
	return f, nil
}

// cfgRatePayload builds the measurement rate request: rate in ms, one
// navigation solution per measurement, GPS time alignment.
func cfgRatePayload(sampling time.Duration) []byte {
	ms := uint16(sampling / time.Millisecond)
	return []byte{
		byte(ms), byte(ms >> 8),
		1, 0,
		1, 0,
	}
}

// cfgGnssPayload enables the selected constellations with default channel
// shares and disables the rest.
func cfgGnssPayload(constellations []msg.Constellation) []byte {
	want := make(map[byte]bool)
	for _, c := range constellations {
		want[gnssCfgID(c)] = true
	}
	all := []byte{0, 1, 2, 3, 5, 6}
	p := []byte{0, 0, 0xFF, byte(len(all))}
	for _, id := range all {
		flags := byte(0)
		if want[id] {
			flags = 1
		}
		// gnssId, resTrkCh, maxTrkCh, reserved, flags (LE 4 bytes)
		p = append(p, id, 4, 0xFF, 0, flags, 0, 1, 1)
	}
	return p
}
