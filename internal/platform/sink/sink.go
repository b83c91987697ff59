// Package sink holds decode sinks that consume access units.
package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"hls-player/internal/demux"
)

// ErrFormat is returned when an access unit's parameter sets cannot be used
// with its coded frame.
var ErrFormat = errors.New("access unit format rejected")

// Decoder accepts one access unit at a time.
type Decoder interface {
	Decode(ctx context.Context, au demux.AccessUnit) error
}

var startCode = []byte{0, 0, 0, 1}

// AnnexBWriter writes access units back out as an Annex B byte stream.
// Parameter sets are written whenever they differ from the last ones written,
// so the output can be played from the first keyframe after any change.
type AnnexBWriter struct {
	mu      sync.Mutex
	w       io.Writer
	lastSPS []byte
	lastPPS []byte
	written int64
}

// NewAnnexBWriter returns a sink writing to w.
func NewAnnexBWriter(w io.Writer) *AnnexBWriter {
	return &AnnexBWriter{w: w}
}

// Decode implements Decoder.
func (a *AnnexBWriter) Decode(ctx context.Context, au demux.AccessUnit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(au); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var buf bytes.Buffer
	if !bytes.Equal(a.lastSPS, au.SPS) || !bytes.Equal(a.lastPPS, au.PPS) {
		buf.Write(startCode)
		buf.Write(au.SPS)
		buf.Write(startCode)
		buf.Write(au.PPS)
	}
	buf.Write(startCode)
	buf.Write(au.Frame)

	n, err := a.w.Write(buf.Bytes())
	a.written += int64(n)
	if err != nil {
		return fmt.Errorf("write access unit: %w", err)
	}
	a.lastSPS = bytes.Clone(au.SPS)
	a.lastPPS = bytes.Clone(au.PPS)
	return nil
}

// Written returns the number of bytes written so far.
func (a *AnnexBWriter) Written() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.written
}

// Discard accepts and counts well-formed access units.
type Discard struct {
	n atomic.Int64
}

// Decode implements Decoder.
func (d *Discard) Decode(_ context.Context, au demux.AccessUnit) error {
	if err := validate(au); err != nil {
		return err
	}
	d.n.Add(1)
	return nil
}

// Count returns the number of access units accepted.
func (d *Discard) Count() int64 {
	return d.n.Load()
}

func validate(au demux.AccessUnit) error {
	switch {
	case len(au.SPS) == 0 || len(au.PPS) == 0:
		return fmt.Errorf("%w: missing parameter sets", ErrFormat)
	case len(au.Frame) == 0:
		return fmt.Errorf("%w: empty frame", ErrFormat)
	case au.Descriptor != nil && (!bytes.Equal(au.Descriptor.SPS, au.SPS) || !bytes.Equal(au.Descriptor.PPS, au.PPS)):
		return fmt.Errorf("%w: parameter sets do not match descriptor", ErrFormat)
	}
	return nil
}
