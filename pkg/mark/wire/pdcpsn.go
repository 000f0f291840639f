package wire

import "github.com/ranmark/mark/internal/markerr"

// PDCPSNSize identifies a PDCP sequence number length. Only 12-bit and
// 18-bit SNs are used on data radio bearers.
type PDCPSNSize uint8

const (
	PDCPSNSize12Bit PDCPSNSize = 12
	PDCPSNSize18Bit PDCPSNSize = 18
)

// Max returns sn_max = 2^sn_bits, the exclusive upper bound of the
// sequence number space.
func (s PDCPSNSize) Max() (uint32, error) {
	switch s {
	case PDCPSNSize12Bit:
		return 1 << 12, nil
	case PDCPSNSize18Bit:
		return 1 << 18, nil
	default:
		return 0, markerr.Errorf(markerr.KindSequenceWrapAmbiguous, "wire: unsupported pdcp sn size %d", uint8(s))
	}
}

// Compare returns the signed modular distance of a relative to b within
// the sn_bits sequence space, lifting the raw difference into the
// half-open half-range window [-sn_max/2, sn_max/2). A positive result
// means a is ahead of b in sequence order; zero means equal. This is
// the only correct way to order PDCP SNs across a wraparound boundary;
// raw numerical comparison breaks the moment a or b crosses sn_max-1.
func (s PDCPSNSize) Compare(a, b uint32) (int32, error) {
	snMax, err := s.Max()
	if err != nil {
		return 0, err
	}
	diff := int64(a) - int64(b)
	half := int64(snMax) / 2
	diff = ((diff + half) % int64(snMax)) - half
	if diff < -half {
		diff += int64(snMax)
	}
	return int32(diff), nil
}

// LessOrEqual reports whether a precedes or equals b in modular
// sequence order.
func (s PDCPSNSize) LessOrEqual(a, b uint32) (bool, error) {
	d, err := s.Compare(a, b)
	if err != nil {
		return false, err
	}
	return d <= 0, nil
}

// Add returns (sn + delta) mod sn_max, delta may be negative.
func (s PDCPSNSize) Add(sn uint32, delta int64) (uint32, error) {
	snMax, err := s.Max()
	if err != nil {
		return 0, err
	}
	v := (int64(sn) + delta) % int64(snMax)
	if v < 0 {
		v += int64(snMax)
	}
	return uint32(v), nil
}
