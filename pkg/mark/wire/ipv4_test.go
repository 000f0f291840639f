package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleIPv4TCP() []byte {
	// 20-byte IPv4 header + 20-byte TCP header, no options, no payload.
	buf := make([]byte, 40)
	buf[0] = 0x45 // version 4, ihl 5
	buf[1] = 0x02 // tos: ECT(0) classic
	// tot_len
	buf[2], buf[3] = 0x00, 0x28
	buf[8] = 64     // ttl
	buf[9] = ProtocolTCP
	copy(buf[12:16], []byte{10, 0, 0, 1})
	copy(buf[16:20], []byte{10, 0, 0, 2})

	tcp := buf[20:]
	tcp[12] = 0x50 // data offset 5, no options
	tcp[13] = TCPFlagACK
	return buf
}

func TestDecodeIPv4RejectsTruncated(t *testing.T) {
	_, err := DecodeIPv4(make([]byte, 10))
	assert.Error(t, err)
}

func TestDecodeIPv4RejectsBadVersion(t *testing.T) {
	buf := sampleIPv4TCP()
	buf[0] = 0x55
	_, err := DecodeIPv4(buf)
	assert.Error(t, err)
}

func TestIPv4ECTRoundTrip(t *testing.T) {
	buf := sampleIPv4TCP()
	h, err := DecodeIPv4(buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(ECNECT0), h.ECT())

	h.SetECT(ECNCE)
	assert.Equal(t, uint8(ECNCE), h.ECT())
	// DSCP bits untouched.
	assert.Equal(t, uint8(0x00), buf[1]&0xfc)
}

func TestIPv4ChecksumRoundTrip(t *testing.T) {
	buf := sampleIPv4TCP()
	h, err := DecodeIPv4(buf)
	require.NoError(t, err)

	h.RecomputeChecksum()
	original := h.Checksum()

	// A checksum-validating receiver sums the header with the checksum
	// field included and expects zero (mod 0xffff all-ones).
	var sum uint32
	for i := 0; i+1 < h.HeaderLen(); i += 2 {
		sum += uint32(buf[i])<<8 | uint32(buf[i+1])
	}
	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	assert.Equal(t, uint16(0xffff), uint16(sum))

	// Mutating a field and recomputing changes the checksum.
	h.SetECT(ECNCE)
	h.RecomputeChecksum()
	assert.NotEqual(t, original, h.Checksum())
}
