package wire

import (
	"encoding/binary"

	"github.com/ranmark/mark/internal/markerr"
)

const tcpMinHeaderLen = 20

// TCP flag bits, laid out as in the flags byte at header offset 13 (offset
// 12 holds the 4-bit data-offset nibble and the reserved bits). The mark
// entity only needs a handful of these.
const (
	TCPFlagFIN = 1 << 0
	TCPFlagSYN = 1 << 1
	TCPFlagRST = 1 << 2
	TCPFlagPSH = 1 << 3
	TCPFlagACK = 1 << 4
	TCPFlagURG = 1 << 5
	TCPFlagECE = 1 << 6
	TCPFlagCWR = 1 << 7
)

// AccECN TCP option kinds (RFC 9618). Kind 172 carries its counters in
// ECT0/CE/ECT1 order and kind 174 in ECT1/CE/ECT0 order; this package
// treats both as structurally identical triples of 24-bit big-endian
// counters and lets the caller interpret ordering.
const (
	OptKindNOP    = 1
	OptKindAccECN0 = 172
	OptKindAccECN1 = 174
)

// TCPHeader is a parsed view over a TCP header (fixed part plus options)
// stored in a backing byte slice. Mutating methods write back in place.
type TCPHeader struct {
	buf []byte // header + options, length == HeaderLen()
}

// DecodeTCP parses the TCP header at the start of buf.
func DecodeTCP(buf []byte) (TCPHeader, error) {
	if len(buf) < tcpMinHeaderLen {
		return TCPHeader{}, markerr.New(markerr.KindMalformedPacket, "wire: tcp header truncated")
	}
	dataOff := int(buf[12]>>4) * 4
	if dataOff < tcpMinHeaderLen || len(buf) < dataOff {
		return TCPHeader{}, markerr.New(markerr.KindMalformedPacket, "wire: invalid tcp data offset")
	}
	return TCPHeader{buf: buf[:dataOff]}, nil
}

func (h TCPHeader) HeaderLen() int   { return len(h.buf) }
func (h TCPHeader) SrcPort() uint16  { return binary.BigEndian.Uint16(h.buf[0:2]) }
func (h TCPHeader) DstPort() uint16  { return binary.BigEndian.Uint16(h.buf[2:4]) }
func (h TCPHeader) Seq() uint32      { return binary.BigEndian.Uint32(h.buf[4:8]) }
func (h TCPHeader) AckSeq() uint32   { return binary.BigEndian.Uint32(h.buf[8:12]) }
func (h TCPHeader) Flags() uint8     { return h.buf[13] }
func (h TCPHeader) Window() uint16   { return binary.BigEndian.Uint16(h.buf[14:16]) }
func (h TCPHeader) Checksum() uint16 { return binary.BigEndian.Uint16(h.buf[16:18]) }

func (h TCPHeader) HasFlag(flag uint8) bool { return h.Flags()&flag != 0 }

// CEP returns the AccECN r.cep field: bit2 from the reserved nibble
// (res1), bit1 from CWR, bit0 from ECE, per RFC 9618 §3.2.
func (h TCPHeader) CEP() uint8 {
	return ((h.buf[12] & 0x0f) << 2) | ((h.buf[13] & 0xc0) >> 6)
}

func (h TCPHeader) SetWindow(w uint16) {
	binary.BigEndian.PutUint16(h.buf[14:16], w)
}

// SetReservedNibble overwrites the low 4 bits of the data-offset byte
// (the reserved bits adjacent to AccECN's r.cep encoding), leaving the
// data-offset nibble untouched.
func (h TCPHeader) SetReservedNibble(low4 uint8) {
	h.buf[12] = (h.buf[12] &^ 0x0f) | (low4 & 0x0f)
}

// SetCWRECE overwrites the CWR and ECE flag bits (the top two bits of
// the flags byte) from high2, which must already be shifted into bits
// 7-6.
func (h TCPHeader) SetCWRECE(high2 uint8) {
	h.buf[13] = (h.buf[13] &^ 0xc0) | (high2 & 0xc0)
}

func (h TCPHeader) SetChecksum(c uint16) {
	binary.BigEndian.PutUint16(h.buf[16:18], c)
}

// Options returns the raw options bytes (after the fixed 20-byte
// header).
func (h TCPHeader) Options() []byte {
	if len(h.buf) <= tcpMinHeaderLen {
		return nil
	}
	return h.buf[tcpMinHeaderLen:]
}

// TCPOption is a single parsed option within the TCP options area.
// Data aliases the backing header buffer; mutating it rewrites the
// packet in place.
type TCPOption struct {
	Kind   uint8
	Length uint8 // total option length including kind+length bytes, 0 for NOP/EOL
	Data   []byte
}

// ForEachOption walks the TCP option space calling fn for each option
// found, NOPs included. An end-of-option-list byte ends the walk without
// a call to fn. fn returning false stops the walk early.
func (h TCPHeader) ForEachOption(fn func(TCPOption) bool) error {
	opts := h.Options()
	i := 0
	for i < len(opts) {
		kind := opts[i]
		if kind == 0 { // end of option list
			return nil
		}
		if kind == OptKindNOP {
			if !fn(TCPOption{Kind: kind}) {
				return nil
			}
			i++
			continue
		}
		if i+1 >= len(opts) {
			return markerr.New(markerr.KindMalformedPacket, "wire: truncated tcp option")
		}
		length := opts[i+1]
		if length < 2 || i+int(length) > len(opts) {
			return markerr.New(markerr.KindMalformedPacket, "wire: invalid tcp option length")
		}
		opt := TCPOption{Kind: kind, Length: length, Data: opts[i+2 : i+int(length)]}
		if !fn(opt) {
			return nil
		}
		i += int(length)
	}
	return nil
}

// FindAccECNOption returns the AccECN option (kind 172 or 174) if
// present.
func (h TCPHeader) FindAccECNOption() (TCPOption, bool) {
	var found TCPOption
	ok := false
	_ = h.ForEachOption(func(o TCPOption) bool {
		if o.Kind == OptKindAccECN0 || o.Kind == OptKindAccECN1 {
			found = o
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// put24 and get24 encode/decode the 24-bit big-endian counters AccECN
// packs its three byte/packet counters into.
func put24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func get24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// AccECNCounters are the three 24-bit big-endian fields carried by an
// AccECN option, in on-wire order.
type AccECNCounters struct {
	Field0 uint32
	Field1 uint32
	Field2 uint32
}

// DecodeAccECN reads the three 24-bit counters from an AccECN option's
// data. Returns an error if the option data is shorter than 9 bytes.
func DecodeAccECN(opt TCPOption) (AccECNCounters, error) {
	if len(opt.Data) < 9 {
		return AccECNCounters{}, markerr.New(markerr.KindMalformedPacket, "wire: accecn option too short")
	}
	return AccECNCounters{
		Field0: get24(opt.Data[0:3]),
		Field1: get24(opt.Data[3:6]),
		Field2: get24(opt.Data[6:9]),
	}, nil
}

// EncodeAccECN writes c back into opt's backing buffer in place.
func EncodeAccECN(opt TCPOption, c AccECNCounters) error {
	if len(opt.Data) < 9 {
		return markerr.New(markerr.KindMalformedPacket, "wire: accecn option too short")
	}
	put24(opt.Data[0:3], c.Field0)
	put24(opt.Data[3:6], c.Field1)
	put24(opt.Data[6:9], c.Field2)
	return nil
}

// TCPChecksum computes the TCP checksum over the IPv4 pseudo-header,
// the TCP header (with its checksum field zeroed), and the payload.
func TCPChecksum(srcAddr, dstAddr [4]byte, tcpSegment []byte) uint16 {
	var sum uint32
	sum += uint32(binary.BigEndian.Uint16(srcAddr[0:2]))
	sum += uint32(binary.BigEndian.Uint16(srcAddr[2:4]))
	sum += uint32(binary.BigEndian.Uint16(dstAddr[0:2]))
	sum += uint32(binary.BigEndian.Uint16(dstAddr[2:4]))
	sum += uint32(ProtocolTCP)
	sum += uint32(len(tcpSegment))

	for i := 0; i+1 < len(tcpSegment); i += 2 {
		if i == 16 {
			continue // checksum field, treated as zero
		}
		sum += uint32(binary.BigEndian.Uint16(tcpSegment[i : i+2]))
	}
	if len(tcpSegment)%2 == 1 {
		sum += uint32(tcpSegment[len(tcpSegment)-1]) << 8
	}
	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// RecomputeChecksum clears h's checksum, recomputes it over h's header
// bytes plus payload using the IPv4 pseudo-header, and writes it back.
// h.buf must be the prefix of a slice that also contains payload
// immediately following the header.
func (h TCPHeader) RecomputeChecksum(srcAddr, dstAddr [4]byte, fullSegment []byte) {
	h.SetChecksum(0)
	h.SetChecksum(TCPChecksum(srcAddr, dstAddr, fullSegment))
}
