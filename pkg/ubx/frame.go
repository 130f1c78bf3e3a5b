// Package ubx speaks the u-blox UBX binary protocol: frame scanning,
// payload decoding into message records, and device configuration.
package ubx

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	sync1 = 0xB5
	sync2 = 0x62
)

// maxPayload rejects corrupt length fields before allocating.
const maxPayload = 8192

// Message classes and IDs handled by this package.
const (
	ClassNav = 0x01
	ClassRxm = 0x02
	ClassAck = 0x05
	ClassCfg = 0x06
	ClassMon = 0x0A

	idNavPVT   = 0x07
	idNavClock = 0x22
	idNavSat   = 0x35
	idNavEOE   = 0x61
	idRxmSFRBX = 0x13
	idRxmRAWX  = 0x15
	idAckNak   = 0x00
	idAckAck   = 0x01
	idCfgMsg   = 0x01
	idCfgRate  = 0x08
	idCfgGnss  = 0x3E
	idMonVer   = 0x04
)

// Frame is one checksum-verified UBX message.
type Frame struct {
	Class   byte
	ID      byte
	Payload []byte
}

// ErrChecksum marks a frame whose Fletcher checksum did not verify.
var ErrChecksum = fmt.Errorf("ubx: checksum mismatch")

// fletcher computes the UBX 8-bit Fletcher checksum over class, id, length
// and payload.
func fletcher(class, id byte, payload []byte) (ckA, ckB byte) {
	sum := func(b byte) {
		ckA += b
		ckB += ckA
	}
	sum(class)
	sum(id)
	sum(byte(len(payload)))
	sum(byte(len(payload) >> 8))
	for _, b := range payload {
		sum(b)
	}
	return ckA, ckB
}

// Encode renders the frame to wire bytes.
func (f Frame) Encode() []byte {
	buf := make([]byte, 0, 8+len(f.Payload))
	buf = append(buf, sync1, sync2, f.Class, f.ID,
		byte(len(f.Payload)), byte(len(f.Payload)>>8))
	buf = append(buf, f.Payload...)
	ckA, ckB := fletcher(f.Class, f.ID, f.Payload)
	return append(buf, ckA, ckB)
}

// Scanner extracts frames from a byte stream, resynchronizing on the sync
// pattern after garbage or a failed checksum.
type Scanner struct {
	r *bufio.Reader
}

func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 4096)}
}

// Scan returns the next verified frame. A checksum failure returns
// ErrChecksum with scanning position preserved so the caller can skip the
// frame and continue. io.EOF signals end of stream.
func (s *Scanner) Scan() (Frame, error) {
	if err := s.sync(); err != nil {
		return Frame{}, err
	}

	var hdr [4]byte
	if _, err := io.ReadFull(s.r, hdr[:]); err != nil {
		return Frame{}, eofToUnexpected(err)
	}
	length := int(binary.LittleEndian.Uint16(hdr[2:4]))
	if length > maxPayload {
		return Frame{}, fmt.Errorf("ubx: implausible payload length %d", length)
	}

	body := make([]byte, length+2)
	if _, err := io.ReadFull(s.r, body); err != nil {
		return Frame{}, eofToUnexpected(err)
	}

	f := Frame{Class: hdr[0], ID: hdr[1], Payload: body[:length]}
	ckA, ckB := fletcher(f.Class, f.ID, f.Payload)
	if ckA != body[length] || ckB != body[length+1] {
		return Frame{}, ErrChecksum
	}
	return f, nil
}

// sync consumes bytes until the two-byte sync pattern is seen.
func (s *Scanner) sync() error {
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		if b != sync1 {
			continue
		}
		b, err = s.r.ReadByte()
		if err != nil {
			return err
		}
		if b == sync2 {
			return nil
		}
		if b == sync1 {
			// first byte of a new candidate
			if err := s.r.UnreadByte(); err != nil {
				return err
			}
		}
	}
}

func eofToUnexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
