package wire

import (
	"encoding/binary"

	"github.com/ranmark/mark/internal/markerr"
)

const udpHeaderLen = 8

// UDPHeader is a parsed view over a fixed 8-byte UDP header.
type UDPHeader struct {
	buf []byte
}

// DecodeUDP parses the UDP header at the start of buf.
func DecodeUDP(buf []byte) (UDPHeader, error) {
	if len(buf) < udpHeaderLen {
		return UDPHeader{}, markerr.New(markerr.KindMalformedPacket, "wire: udp header truncated")
	}
	return UDPHeader{buf: buf[:udpHeaderLen]}, nil
}

func (h UDPHeader) HeaderLen() int     { return udpHeaderLen }
func (h UDPHeader) SrcPort() uint16    { return binary.BigEndian.Uint16(h.buf[0:2]) }
func (h UDPHeader) DstPort() uint16    { return binary.BigEndian.Uint16(h.buf[2:4]) }
func (h UDPHeader) Length() uint16     { return binary.BigEndian.Uint16(h.buf[4:6]) }
func (h UDPHeader) Checksum() uint16   { return binary.BigEndian.Uint16(h.buf[6:8]) }

func (h UDPHeader) SetChecksum(c uint16) {
	binary.BigEndian.PutUint16(h.buf[6:8], c)
}
