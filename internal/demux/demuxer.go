package demux

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
)

// AccessUnit is the decode input for one coded frame: the active parameter
// sets and the frame's NAL unit.
type AccessUnit struct {
	SPS        []byte
	PPS        []byte
	Frame      []byte // NAL unit without start code; aliases the segment payload
	Type       byte
	Keyframe   bool
	Descriptor *Descriptor
}

// Option configures a Demuxer.
type Option func(*Demuxer)

// WithDescriptorBuilder replaces BasicDescriptor.
func WithDescriptorBuilder(b DescriptorBuilder) Option {
	return func(d *Demuxer) { d.build = b }
}

// WithTransportStream enables unwrapping of MPEG-TS payloads before scanning.
func WithTransportStream(enabled bool) Option {
	return func(d *Demuxer) { d.unwrapTS = enabled }
}

// WithLogger sets the logger. If unset, slog.Default is used.
func WithLogger(log *slog.Logger) Option {
	return func(d *Demuxer) { d.log = log }
}

// Demuxer turns segment payloads into access units. It owns the parameter-set
// cache for one playback session: the latest SPS and PPS carry forward across
// segments until replaced or until Reset. Demux calls are serialized.
type Demuxer struct {
	log      *slog.Logger
	build    DescriptorBuilder
	unwrapTS bool

	mu   sync.Mutex
	sps  []byte
	pps  []byte
	desc *Descriptor
}

// New returns a Demuxer with an empty parameter-set cache.
func New(opts ...Option) *Demuxer {
	d := &Demuxer{
		log:   slog.Default(),
		build: BasicDescriptor,
	}
	for _, o := range opts {
		o(d)
	}
	d.log = d.log.With("component", "demux")
	return d
}

// Reset drops the cached parameter sets. Frames demuxed afterwards fail with
// ErrMissingParameterSets until a new pair arrives.
func (d *Demuxer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sps, d.pps, d.desc = nil, nil, nil
}

// Descriptor returns the current format descriptor, or nil before the first
// SPS/PPS pair.
func (d *Demuxer) Descriptor() *Descriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.desc
}

// Demux is DemuxSegment without a locator.
func (d *Demuxer) Demux(payload []byte) ([]AccessUnit, error) {
	return d.DemuxSegment("", payload)
}

// DemuxSegment splits one segment into access units, in NAL scan order.
//
// A segment holding only parameter sets refreshes the cache and yields no
// access units. Frames seen before any parameter sets are skipped and the
// call reports ErrMissingParameterSets alongside whatever access units could
// be built. ErrInvalidNALUnits and ErrDescriptorConstruction reject the whole
// segment and leave the cache untouched. Errors are *Error values.
func (d *Demuxer) DemuxSegment(locator string, payload []byte) ([]AccessUnit, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	data := payload
	if d.unwrapTS && IsTransportStream(payload) {
		es, err := ExtractH264(payload)
		if err != nil {
			return nil, &Error{Locator: locator, Err: fmt.Errorf("%w: %v", ErrInvalidNALUnits, err)}
		}
		data = es
	}

	units := Scan(data)
	if !hasPayload(units) {
		return nil, &Error{Locator: locator, Err: ErrInvalidNALUnits}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Work on a copy of the cache so a failing segment leaves it as it was.
	sps, pps, desc := d.sps, d.pps, d.desc
	var (
		out     []AccessUnit
		missing int
	)
	for _, u := range units {
		switch u.Kind {
		case KindSPS, KindPPS:
			changed := false
			if u.Kind == KindSPS && !bytes.Equal(sps, u.Data) {
				sps = bytes.Clone(u.Data)
				changed = true
			}
			if u.Kind == KindPPS && !bytes.Equal(pps, u.Data) {
				pps = bytes.Clone(u.Data)
				changed = true
			}
			if !changed || sps == nil || pps == nil {
				continue
			}
			nd, err := d.build(sps, pps)
			if err != nil {
				return nil, &Error{Locator: locator, Err: fmt.Errorf("%w: %v", ErrDescriptorConstruction, err)}
			}
			desc = nd
			d.log.Debug("parameter sets updated",
				slog.String("locator", locator),
				slog.String("codec", desc.Codec),
				slog.Int("width", desc.Width),
				slog.Int("height", desc.Height))
		case KindFrame:
			if desc == nil {
				missing++
				continue
			}
			out = append(out, AccessUnit{
				SPS:        desc.SPS,
				PPS:        desc.PPS,
				Frame:      u.Data,
				Type:       u.Type,
				Keyframe:   u.Type == NALTypeIDR,
				Descriptor: desc,
			})
		}
	}

	d.sps, d.pps, d.desc = sps, pps, desc

	if missing > 0 {
		return out, &Error{Locator: locator, Err: fmt.Errorf("%w (%d frames skipped)", ErrMissingParameterSets, missing)}
	}
	return out, nil
}

// hasPayload reports whether any unit carries bytes past its start code.
func hasPayload(units []NALUnit) bool {
	for _, u := range units {
		if len(u.Data) > 0 {
			return true
		}
	}
	return false
}
