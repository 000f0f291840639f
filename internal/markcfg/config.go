// Package markcfg holds the tunable constants for the mark entity,
// loaded from HCL configuration files with github.com/hashicorp/hcl/v2.
package markcfg

import (
	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/ranmark/mark/internal/markerr"
)

// Config is the full set of tunables for a mark entity instance. Fields
// use `hcl:"...,optional"` so a partial file only needs to list the
// constants it overrides; Default() fills in the rest.
type Config struct {
	// RateWindow is the number of trailing transmitted records (W) used
	// by the rate predictor's windowed mean/stddev.
	RateWindow int `hcl:"rate_window,optional"`

	// L4STargetDelayMicros is T_L, the L4S target queuing delay in
	// microseconds.
	L4STargetDelayMicros float64 `hcl:"l4s_target_delay_micros,optional"`

	// ClassicThresholdBytes is N_max, the classic-flow standing-queue
	// byte threshold before non-zero marking begins (before dividing by
	// the active UE count).
	ClassicThresholdBytes float64 `hcl:"classic_threshold_bytes,optional"`

	// NofUE is the number of active UEs the classic threshold is spread
	// across. Set externally via SetNofUE; not typically read from file.
	NofUE int `hcl:"nof_ue,optional"`

	// AccECNSegmentBytes is the fixed per-segment byte size (1336) used
	// when deriving total_pkt/ce_pkt from ack_seq deltas.
	AccECNSegmentBytes int64 `hcl:"accecn_segment_bytes,optional"`

	// AccECNCEPktFloor is the pkts_with_ce bootstrap floor (5 in the
	// original accounting scheme).
	AccECNCEPktFloor int64 `hcl:"accecn_ce_pkt_floor,optional"`

	// AccECNECT1ByteFloor and AccECNECT0ByteFloor are the
	// bytes_with_ecn1/bytes_with_ecn0 bootstrap floors. FlowTable seeds
	// new flows with fixed floors of 1 and does not read these fields.
	AccECNECT1ByteFloor int64 `hcl:"accecn_ect1_byte_floor,optional"`
	AccECNECT0ByteFloor int64 `hcl:"accecn_ect0_byte_floor,optional"`

	// RWNDGamma and RWNDAlpha are γ and α in the receive-window control
	// law.
	RWNDGamma float64 `hcl:"rwnd_gamma,optional"`
	RWNDAlpha float64 `hcl:"rwnd_alpha,optional"`

	// RWNDFloor is the minimum advertised receive window.
	RWNDFloor uint16 `hcl:"rwnd_floor,optional"`

	// InitialRWND seeds a bearer's RWND control state before any
	// feedback-driven prediction has run.
	InitialRWND float64 `hcl:"initial_rwnd,optional"`

	// MaxQueueHistory bounds how many delivered DRB queue records are
	// retained behind next_tx_id for diagnostics. Zero means unbounded.
	MaxQueueHistory int `hcl:"max_queue_history,optional"`

	// LivenessWindowMillis is the per-class (L4S/Classic) presence
	// liveness window, in milliseconds. The sampler does not read this
	// field; its liveness window is a fixed one second.
	LivenessWindowMillis int64 `hcl:"liveness_window_millis,optional"`
}

// Default returns the constants named in the mark entity's windowed
// rate/delay prediction and control-law sections.
func Default() Config {
	return Config{
		RateWindow:            50,
		L4STargetDelayMicros:  10_000,
		ClassicThresholdBytes: 1500 * 150,
		NofUE:                 1,
		AccECNSegmentBytes:    1336,
		AccECNCEPktFloor:      5,
		AccECNECT1ByteFloor:   1,
		AccECNECT0ByteFloor:   1,
		RWNDGamma:             0.1,
		RWNDAlpha:             0.5,
		RWNDFloor:             1,
		InitialRWND:           100,
		MaxQueueHistory:       0,
		LivenessWindowMillis:  1000,
	}
}

// ClassicThresholdPerUE returns N_max / nof_ue, guarding against a
// misconfigured zero UE count.
func (c Config) ClassicThresholdPerUE() float64 {
	if c.NofUE <= 0 {
		return c.ClassicThresholdBytes
	}
	return c.ClassicThresholdBytes / float64(c.NofUE)
}

// LoadFile parses an HCL configuration file at path, merging overridden
// fields onto Default().
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return Config{}, markerr.Wrap(err, markerr.KindInternal, "markcfg: decode "+path)
	}
	return cfg, nil
}
