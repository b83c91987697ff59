// Package segment downloads segment payloads with bounded buffering and
// hands them to a single consumer in playlist order.
package segment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"hls-player/internal/platform/metrics"
)

const (
	// DefaultCapacity is the maximum number of segments held in memory.
	DefaultCapacity = 10
	// DefaultConcurrency is the maximum number of fetches in flight.
	DefaultConcurrency = 4
)

// Fetcher retrieves the bytes behind a locator. Implementations do their own
// retrying, if any.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, locator string) ([]byte, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, locator string) ([]byte, error) {
	return f(ctx, locator)
}

// Payload is one downloaded segment.
type Payload struct {
	Locator string
	Seq     int // position in the submitted locator list
	Data    []byte
}

// Stats are cumulative counters for a Buffer.
type Stats struct {
	Fetched int
	// Failed counts fetch errors. Fetches aborted by cancellation are not
	// failures.
	Failed    int
	Delivered int
	Bytes     int64
	// MaxBuffered is the high-water mark of admitted, unconsumed segments.
	MaxBuffered int
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithCapacity bounds admitted-and-unconsumed segments (maxBufferSize).
func WithCapacity(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithConcurrency bounds fetches in flight.
func WithConcurrency(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithLogger sets the logger for skipped and fetched segments.
func WithLogger(log *slog.Logger) Option {
	return func(b *Buffer) { b.log = log }
}

// WithMetrics records fetch outcomes and buffer depth in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Buffer) { b.metrics = m }
}

// WithThroughputObserver registers fn to receive the measured throughput,
// in kbps, of every successful fetch.
func WithThroughputObserver(fn func(kbps float64)) Option {
	return func(b *Buffer) { b.observe = fn }
}

// Buffer admits segments against a fixed capacity. A slot is taken before a
// fetch is issued and given back only once the consumer has finished with
// the payload (or the fetch failed), so admitted-and-unconsumed segments never
// exceed the capacity no matter how completions interleave.
type Buffer struct {
	fetcher     Fetcher
	capacity    int
	concurrency int
	log         *slog.Logger
	metrics     *metrics.Metrics
	observe     func(kbps float64)

	slots *semaphore.Weighted

	mu       sync.Mutex
	buffered int
	stats    Stats
}

// New returns a Buffer that downloads through f.
func New(f Fetcher, opts ...Option) *Buffer {
	b := &Buffer{
		fetcher:     f,
		capacity:    DefaultCapacity,
		concurrency: DefaultConcurrency,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	if b.concurrency > b.capacity {
		b.concurrency = b.capacity
	}
	b.slots = semaphore.NewWeighted(int64(b.capacity))
	b.log = b.log.With("component", "segment_buffer")
	return b
}

// Capacity returns the configured maxBufferSize.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Len returns the number of admitted segments not yet consumed, in flight
// fetches included.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffered
}

// Stats returns a snapshot of the counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

type fetchResult struct {
	data []byte
	err  error
}

type slot struct {
	seq     int
	locator string
	done    chan fetchResult
}

// Submit fetches locators concurrently and calls onPayload once per
// successful fetch, sequentially and in locator order. Failed fetches are
// logged and skipped. Fetches stop being issued while the buffer is full.
//
// Submit returns when every locator has been delivered or skipped, when ctx
// is cancelled (ctx.Err() is returned, in-flight and buffered payloads are
// discarded), or when onPayload returns an error, which is returned as is.
func (b *Buffer) Submit(ctx context.Context, locators []string, onPayload func(context.Context, Payload) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pending := make(chan *slot, b.capacity)
	var fetches errgroup.Group
	fetches.SetLimit(b.concurrency)

	var g errgroup.Group
	g.Go(func() error {
		defer close(pending)
		for seq, loc := range locators {
			if err := b.slots.Acquire(ctx, 1); err != nil {
				return nil
			}
			b.admit()
			s := &slot{seq: seq, locator: loc, done: make(chan fetchResult, 1)}
			// Never blocks: at most capacity slots are outstanding.
			pending <- s
			fetches.Go(func() error {
				s.done <- b.fetch(ctx, s.locator)
				return nil
			})
		}
		return nil
	})

	var deliverErr error
	g.Go(func() error {
		for s := range pending {
			if deliverErr != nil || ctx.Err() != nil {
				b.release()
				continue
			}
			var res fetchResult
			select {
			case res = <-s.done:
			case <-ctx.Done():
				b.release()
				continue
			}
			if res.err != nil {
				b.release()
				continue
			}
			err := onPayload(ctx, Payload{Locator: s.locator, Seq: s.seq, Data: res.data})
			b.consumed()
			if err != nil {
				deliverErr = err
				cancel()
			}
		}
		return nil
	})

	g.Wait()
	fetches.Wait()

	if deliverErr != nil {
		return deliverErr
	}
	return ctx.Err()
}

func (b *Buffer) fetch(ctx context.Context, locator string) fetchResult {
	start := time.Now()
	data, err := b.fetcher.Fetch(ctx, locator)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() == nil {
			b.log.Warn("segment fetch failed, skipping",
				slog.String("locator", locator),
				slog.String("error", err.Error()))
			b.metrics.IncSegmentFailures()
			b.mu.Lock()
			b.stats.Failed++
			b.mu.Unlock()
		}
		return fetchResult{err: err}
	}

	b.mu.Lock()
	b.stats.Fetched++
	b.stats.Bytes += int64(len(data))
	b.mu.Unlock()
	b.metrics.ObserveSegment(len(data))

	if b.observe != nil && elapsed > 0 && len(data) > 0 {
		b.observe(float64(len(data)*8) / elapsed.Seconds() / 1000)
	}
	b.log.Debug("segment fetched",
		slog.String("locator", locator),
		slog.Int("bytes", len(data)),
		slog.Int64("duration_ms", elapsed.Milliseconds()))
	return fetchResult{data: data}
}

func (b *Buffer) admit() {
	b.mu.Lock()
	b.buffered++
	if b.buffered > b.stats.MaxBuffered {
		b.stats.MaxBuffered = b.buffered
	}
	n := b.buffered
	b.mu.Unlock()
	b.metrics.SetBuffered(n)
}

func (b *Buffer) consumed() {
	b.mu.Lock()
	b.stats.Delivered++
	b.mu.Unlock()
	b.release()
}

func (b *Buffer) release() {
	b.mu.Lock()
	b.buffered--
	n := b.buffered
	b.mu.Unlock()
	b.metrics.SetBuffered(n)
	b.slots.Release(1)
}
