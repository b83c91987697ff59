package demux

import (
	"fmt"

	"github.com/deepch/vdk/codec/h264parser"
)

// Descriptor describes the decode configuration carried by an SPS/PPS pair.
// Width, Height and Codec are filled in when the builder parses the SPS.
type Descriptor struct {
	SPS    []byte
	PPS    []byte
	Width  int
	Height int
	Codec  string
}

// DescriptorBuilder turns a parameter-set pair into a Descriptor. Errors are
// reported by the Demuxer wrapped in ErrDescriptorConstruction.
type DescriptorBuilder func(sps, pps []byte) (*Descriptor, error)

// BasicDescriptor checks the pair structurally: each unit must carry its
// own NAL type, a clear forbidden_zero_bit and at least one payload byte.
// The SPS body itself is not parsed.
func BasicDescriptor(sps, pps []byte) (*Descriptor, error) {
	if err := checkParameterSet(sps, NALTypeSPS); err != nil {
		return nil, fmt.Errorf("sps: %w", err)
	}
	if err := checkParameterSet(pps, NALTypePPS); err != nil {
		return nil, fmt.Errorf("pps: %w", err)
	}
	return &Descriptor{SPS: sps, PPS: pps, Codec: codecString(sps)}, nil
}

// CodecDescriptor parses the SPS with the vdk H.264 parser, rejecting pairs
// a decoder could not be configured from, and records the coded resolution.
func CodecDescriptor(sps, pps []byte) (*Descriptor, error) {
	d, err := BasicDescriptor(sps, pps)
	if err != nil {
		return nil, err
	}
	cd, err := h264parser.NewCodecDataFromSPSAndPPS(sps, pps)
	if err != nil {
		return nil, err
	}
	d.Width = cd.Width()
	d.Height = cd.Height()
	return d, nil
}

func checkParameterSet(nal []byte, want byte) error {
	switch {
	case len(nal) < 2:
		return fmt.Errorf("too short (%d bytes)", len(nal))
	case nal[0]&0x80 != 0:
		return fmt.Errorf("forbidden_zero_bit set")
	case nal[0]&0x1F != want:
		return fmt.Errorf("nal type %d, want %d", nal[0]&0x1F, want)
	}
	return nil
}

// codecString returns the RFC 6381 codec parameter (e.g. "avc1.42E01E").
// SPS units too short to carry profile and level yield plain "avc1".
func codecString(sps []byte) string {
	if len(sps) < 4 {
		return "avc1"
	}
	return fmt.Sprintf("avc1.%02X%02X%02X", sps[1], sps[2], sps[3])
}
