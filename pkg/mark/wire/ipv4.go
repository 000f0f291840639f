// Package wire implements byte-exact, explicitly-aligned decoding and
// encoding of the IPv4, TCP, and UDP headers the mark entity inspects
// and rewrites in place. It deliberately avoids unsafe pointer casts:
// every field is read and written through encoding/binary so that
// rewritten checksums are provably byte-exact regardless of the
// platform's native struct layout.
package wire

import (
	"encoding/binary"

	"github.com/ranmark/mark/internal/markerr"
)

const (
	// IPv4MinHeaderLen is the minimum IPv4 header length in bytes (no
	// options).
	IPv4MinHeaderLen = 20

	// ProtocolTCP and ProtocolUDP are the IPv4 protocol field values the
	// mark entity understands. The entity forwards anything else unchanged
	// and counts it as an unsupported protocol.
	ProtocolTCP = 6
	ProtocolUDP = 17
)

// ECN codepoints, per the low 2 bits of the IPv4 ToS/DSCP byte.
const (
	ECNNotECT = 0
	ECNECT1   = 1 // L4S
	ECNECT0   = 2 // Classic
	ECNCE     = 3
	ecnMask   = 3
)

// IPv4Header is a parsed view over an IPv4 header stored in a backing
// byte slice. Mutating methods write directly back into that slice;
// there is no separate encode step.
type IPv4Header struct {
	buf []byte // header bytes only, length == HeaderLen()
}

// DecodeIPv4 parses the IPv4 header at the start of buf. buf must cover
// at least the header; IHL beyond 20 bytes (options) is retained but not
// interpreted.
func DecodeIPv4(buf []byte) (IPv4Header, error) {
	if len(buf) < IPv4MinHeaderLen {
		return IPv4Header{}, markerr.New(markerr.KindMalformedPacket, "wire: ipv4 header truncated")
	}
	version := buf[0] >> 4
	if version != 4 {
		return IPv4Header{}, markerr.Errorf(markerr.KindMalformedPacket, "wire: unexpected ip version %d", version)
	}
	ihl := int(buf[0]&0x0f) * 4
	if ihl < IPv4MinHeaderLen || len(buf) < ihl {
		return IPv4Header{}, markerr.New(markerr.KindMalformedPacket, "wire: invalid ipv4 ihl")
	}
	return IPv4Header{buf: buf[:ihl]}, nil
}

func (h IPv4Header) HeaderLen() int     { return len(h.buf) }
func (h IPv4Header) Version() uint8     { return h.buf[0] >> 4 }
func (h IPv4Header) TOS() uint8         { return h.buf[1] }
func (h IPv4Header) TotalLen() uint16   { return binary.BigEndian.Uint16(h.buf[2:4]) }
func (h IPv4Header) ID() uint16         { return binary.BigEndian.Uint16(h.buf[4:6]) }
func (h IPv4Header) FragOff() uint16    { return binary.BigEndian.Uint16(h.buf[6:8]) }
func (h IPv4Header) TTL() uint8         { return h.buf[8] }
func (h IPv4Header) Protocol() uint8    { return h.buf[9] }
func (h IPv4Header) Checksum() uint16   { return binary.BigEndian.Uint16(h.buf[10:12]) }
func (h IPv4Header) SrcAddr() [4]byte   { var a [4]byte; copy(a[:], h.buf[12:16]); return a }
func (h IPv4Header) DstAddr() [4]byte   { var a [4]byte; copy(a[:], h.buf[16:20]); return a }

// ECT returns the low 2 bits of the ToS byte (the IP ECN field).
func (h IPv4Header) ECT() uint8 { return h.TOS() & ecnMask }

// SetECT rewrites only the ECN bits of the ToS byte, leaving the DSCP
// bits untouched. Caller must recompute the IP checksum afterward.
func (h IPv4Header) SetECT(ect uint8) {
	h.buf[1] = (h.buf[1] &^ ecnMask) | (ect & ecnMask)
}

// SetChecksum writes the IP header checksum field.
func (h IPv4Header) SetChecksum(c uint16) {
	binary.BigEndian.PutUint16(h.buf[10:12], c)
}

// IPv4Checksum computes the IPv4 header checksum over the header with
// the checksum field treated as zero, per RFC 791 one's-complement
// summation with end-around carry.
func IPv4Checksum(header []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(header); i += 2 {
		if i == 10 {
			continue // skip the existing checksum field
		}
		sum += uint32(binary.BigEndian.Uint16(header[i : i+2]))
	}
	if len(header)%2 == 1 {
		sum += uint32(header[len(header)-1]) << 8
	}
	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// RecomputeChecksum clears the checksum field, recomputes it over the
// current header bytes, and writes the result back.
func (h IPv4Header) RecomputeChecksum() {
	h.SetChecksum(0)
	h.SetChecksum(IPv4Checksum(h.buf))
}
