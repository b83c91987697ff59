// Package orchestrator drives playback: it fetches the current tier's
// manifest, downloads its segments through a bounded buffer, demuxes them and
// feeds access units to a decode sink. A committed tier change restarts the
// cycle from the manifest of the new tier.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"hls-player/internal/demux"
	"hls-player/internal/manifest"
	"hls-player/internal/platform/metrics"
	"hls-player/internal/platform/sink"
	"hls-player/internal/quality"
	"hls-player/internal/segment"
)

const (
	// DefaultLowResourceLevel is the level below which a low-resource signal
	// lowers the tier.
	DefaultLowResourceLevel = 0.2
	// DefaultSegmentDuration is the duration announced for each segment when
	// the current cycle is rendered as a playlist.
	DefaultSegmentDuration = 6.0
)

// ErrAlreadyStarted is returned by Start when called twice.
var ErrAlreadyStarted = errors.New("orchestrator already started")

// errStale aborts delivery for a cycle whose tier has been superseded.
var errStale = errors.New("playback cycle superseded")

// Config holds orchestrator settings. Zero values take defaults.
type Config struct {
	BufferCapacity   int
	FetchConcurrency int
	SegmentSuffix    string
	// MeasureBandwidth feeds the measured segment throughput (kbps) back into
	// the quality controller.
	MeasureBandwidth bool
	LowResourceLevel float64
	SegmentDuration  float64
}

// Deps are the collaborators of an Orchestrator. Fetcher, Quality and Sink
// are required.
type Deps struct {
	Fetcher    segment.Fetcher
	Quality    *quality.Controller
	Sink       sink.Decoder
	Repository Repository
	Log        *slog.Logger
	Metrics    *metrics.Metrics
	// DemuxOptions configure the session demuxer (descriptor builder,
	// transport stream unwrapping).
	DemuxOptions []demux.Option
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	Tier       int      `json:"tier"`
	TierName   string   `json:"tier_name"`
	TierCount  int      `json:"tier_count"`
	Generation uint64   `json:"generation"`
	Session    *Session `json:"session,omitempty"`
}

// Orchestrator runs playback cycles one at a time.
type Orchestrator struct {
	cfg     Config
	fetcher segment.Fetcher
	quality *quality.Controller
	sink    sink.Decoder
	repo    Repository
	log     *slog.Logger
	metrics *metrics.Metrics
	parser  manifest.Parser
	demuxer *demux.Demuxer
	buffer  *segment.Buffer

	// deliver is held while access units are handed to the sink and while a
	// tier change commits, so nothing from a superseded cycle reaches the
	// sink once the change is visible.
	deliver sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	current SessionID

	restart chan struct{}

	startOnce sync.Once
	stop      context.CancelFunc
	done      chan struct{}
}

// New returns an Orchestrator. It does nothing until Start.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Fetcher == nil || deps.Quality == nil || deps.Sink == nil {
		return nil, errors.New("orchestrator: fetcher, quality controller and sink are required")
	}
	if cfg.LowResourceLevel <= 0 {
		cfg.LowResourceLevel = DefaultLowResourceLevel
	}
	if cfg.SegmentDuration <= 0 {
		cfg.SegmentDuration = DefaultSegmentDuration
	}
	if deps.Repository == nil {
		deps.Repository = NewInMemoryRepository()
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	o := &Orchestrator{
		cfg:     cfg,
		fetcher: deps.Fetcher,
		quality: deps.Quality,
		sink:    deps.Sink,
		repo:    deps.Repository,
		log:     deps.Log.With("component", "orchestrator"),
		metrics: deps.Metrics,
		parser:  manifest.Parser{Suffix: cfg.SegmentSuffix},
		restart: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	o.demuxer = demux.New(append([]demux.Option{demux.WithLogger(deps.Log)}, deps.DemuxOptions...)...)

	bufOpts := []segment.Option{
		segment.WithCapacity(cfg.BufferCapacity),
		segment.WithConcurrency(cfg.FetchConcurrency),
		segment.WithLogger(deps.Log),
		segment.WithMetrics(deps.Metrics),
	}
	if cfg.MeasureBandwidth {
		bufOpts = append(bufOpts, segment.WithThroughputObserver(func(kbps float64) {
			o.OnBandwidth(kbps)
		}))
	}
	o.buffer = segment.New(deps.Fetcher, bufOpts...)
	o.metrics.SetTier(o.quality.Index(), false)
	return o, nil
}

// Start launches the playback loop. The first cycle plays the controller's
// current tier. The loop runs until ctx is done or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	err := ErrAlreadyStarted
	o.startOnce.Do(func() {
		err = nil
		o.deliver.Lock()
		ctx, o.stop = context.WithCancel(ctx)
		o.deliver.Unlock()
		go o.loop(ctx)
	})
	return err
}

// Stop cancels the running cycle and ends the loop. It does not wait.
func (o *Orchestrator) Stop() {
	o.deliver.Lock()
	stop := o.stop
	o.deliver.Unlock()
	if stop != nil {
		stop()
	}
}

// Wait blocks until the loop started by Start has returned. It must not be
// called before Start.
func (o *Orchestrator) Wait() {
	<-o.done
}

// Done is closed when the loop has returned.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// OnBandwidth routes a bandwidth sample through the quality controller and
// restarts playback if the tier changed. It returns the resulting tier.
func (o *Orchestrator) OnBandwidth(sample float64) (int, bool) {
	o.metrics.SetBandwidth(sample)

	o.deliver.Lock()
	defer o.deliver.Unlock()

	prev := o.quality.Index()
	tier, switched := o.quality.Observe(sample)
	if switched {
		o.log.Info("tier switch",
			slog.String("cause", "bandwidth"),
			slog.Float64("bandwidth", sample),
			slog.Int("from", prev),
			slog.Int("to", tier))
		o.invalidateLocked(tier)
	}
	return tier, switched
}

// SetTier selects a tier manually, bypassing hysteresis, and reports whether
// the tier changed. An index outside the ladder returns an error wrapping
// quality.ErrOutOfRange and changes nothing.
func (o *Orchestrator) SetTier(index int) (bool, error) {
	o.deliver.Lock()
	defer o.deliver.Unlock()

	prev := o.quality.Index()
	if err := o.quality.SetTier(index); err != nil {
		o.log.Warn("manual tier rejected", slog.Int("index", index), slog.String("error", err.Error()))
		return false, err
	}
	if index == prev {
		return false, nil
	}
	o.log.Info("tier switch",
		slog.String("cause", "manual"),
		slog.Int("from", prev),
		slog.Int("to", index))
	o.invalidateLocked(index)
	return true, nil
}

// OnLowResource handles a low-resource level reading. Readings below the
// configured level lower the tier by one, stopping at the lowest tier.
func (o *Orchestrator) OnLowResource(level float64) (int, bool) {
	o.deliver.Lock()
	defer o.deliver.Unlock()

	if level >= o.cfg.LowResourceLevel {
		return o.quality.Index(), false
	}
	tier, lowered := o.quality.LowerOneTier()
	if lowered {
		o.log.Info("tier switch",
			slog.String("cause", "low_resource"),
			slog.Float64("level", level),
			slog.Int("to", tier))
		o.invalidateLocked(tier)
	}
	return tier, lowered
}

// Status returns the current tier and the running or most recent session.
func (o *Orchestrator) Status() Status {
	o.deliver.Lock()
	gen, id := o.gen, o.current
	o.deliver.Unlock()

	tier := o.quality.Index()
	st := Status{
		Tier:       tier,
		TierCount:  o.quality.Len(),
		Generation: gen,
	}
	if t, err := o.quality.Tier(tier); err == nil {
		st.TierName = t.Name
	}
	if id != "" {
		if s, ok := o.repo.GetSession(id); ok {
			st.Session = &s
		}
	}
	return st
}

// CurrentSession returns the running or most recent session.
func (o *Orchestrator) CurrentSession() (Session, bool) {
	o.deliver.Lock()
	id := o.current
	o.deliver.Unlock()
	if id == "" {
		return Session{}, false
	}
	return o.repo.GetSession(id)
}

// Sessions returns every recorded session, oldest first.
func (o *Orchestrator) Sessions() []Session {
	return o.repo.ListSessions()
}

// Session returns one recorded session.
func (o *Orchestrator) Session(id SessionID) (Session, bool) {
	return o.repo.GetSession(id)
}

// SegmentDuration is the per-segment duration used when rendering playlists.
func (o *Orchestrator) SegmentDuration() float64 {
	return o.cfg.SegmentDuration
}

// Buffered returns the number of admitted, unconsumed segments.
func (o *Orchestrator) Buffered() int {
	return o.buffer.Len()
}

// ActiveSessions returns the number of sessions still running.
func (o *Orchestrator) ActiveSessions() int {
	return o.repo.ActiveSessionCount()
}

// invalidateLocked commits a tier change: later deliveries from the running
// cycle are refused, the cycle is cancelled and a restart is requested.
// Caller must hold o.deliver.
func (o *Orchestrator) invalidateLocked(tier int) {
	o.gen++
	if o.cancel != nil {
		o.cancel()
	}
	select {
	case o.restart <- struct{}{}:
	default:
	}
	o.metrics.SetTier(tier, true)
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.done)
	for {
		o.runCycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-o.restart:
		}
	}
}

type cycle struct {
	ctx     context.Context
	gen     uint64
	session Session
	log     *slog.Logger
}

// beginCycle snapshots the tier and generation together and installs the
// cycle's cancel func, so a change committed afterwards cancels this cycle.
func (o *Orchestrator) beginCycle(parent context.Context) (*cycle, context.CancelFunc) {
	o.deliver.Lock()
	defer o.deliver.Unlock()

	// The snapshot below already covers any pending restart.
	select {
	case <-o.restart:
	default:
	}

	ctx, cancel := context.WithCancel(parent)
	o.cancel = cancel

	idx := o.quality.Index()
	tier, _ := o.quality.Tier(idx)
	s := Session{
		ID:          SessionID(uuid.NewString()),
		Generation:  o.gen,
		Tier:        idx,
		TierName:    tier.Name,
		ManifestURL: tier.URI,
		StartedAt:   time.Now().UTC(),
	}
	o.current = s.ID

	return &cycle{
		ctx:     ctx,
		gen:     o.gen,
		session: s,
		log: o.log.With(
			slog.String("session_id", string(s.ID)),
			slog.Int("tier", idx),
			slog.String("tier_name", tier.Name)),
	}, cancel
}

func (o *Orchestrator) runCycle(parent context.Context) {
	c, cancel := o.beginCycle(parent)
	defer cancel()

	if err := o.repo.StartSession(c.session); err != nil {
		c.log.Error("start session failed", slog.String("error", err.Error()))
		return
	}
	o.metrics.IncCycles()
	// Parameter sets from another tier must not describe this tier's frames.
	o.demuxer.Reset()

	state, err := o.play(c)
	if err := o.repo.EndSession(c.session.ID, state, err); err != nil {
		c.log.Error("end session failed", slog.String("error", err.Error()))
	}

	switch state {
	case SessionFailed:
		c.log.Error("playback cycle failed", slog.String("error", err.Error()))
	case SessionCancelled:
		c.log.Info("playback cycle cancelled")
	default:
		c.log.Info("playback cycle completed")
	}
}

// play runs one cycle and returns its final state.
func (o *Orchestrator) play(c *cycle) (SessionState, error) {
	c.log.Info("playback cycle started", slog.String("manifest", c.session.ManifestURL))

	doc, err := o.fetcher.Fetch(c.ctx, c.session.ManifestURL)
	if err != nil {
		if c.ctx.Err() != nil {
			return SessionCancelled, nil
		}
		return SessionFailed, fmt.Errorf("fetch manifest: %w", err)
	}

	locators := o.parser.Parse(string(doc), c.session.ManifestURL)
	if err := o.repo.RecordSegments(c.session.ID, locators); err != nil {
		return SessionFailed, err
	}
	if len(locators) == 0 {
		c.log.Warn("manifest lists no segments, nothing to play")
		return SessionCompleted, nil
	}
	c.log.Debug("manifest parsed", slog.Int("segments", len(locators)))

	before := o.buffer.Stats()
	err = o.buffer.Submit(c.ctx, locators, func(ctx context.Context, p segment.Payload) error {
		return o.consume(c, p)
	})
	after := o.buffer.Stats()
	o.recordProgress(c, Progress{SegmentsFailed: after.Failed - before.Failed})

	switch {
	case err == nil:
		return SessionCompleted, nil
	case errors.Is(err, errStale), errors.Is(err, context.Canceled):
		return SessionCancelled, nil
	default:
		return SessionFailed, err
	}
}

// consume demuxes one payload and hands its access units to the sink. It runs
// on the buffer's single delivery goroutine, so payloads arrive in playlist
// order and demuxing never races itself.
func (o *Orchestrator) consume(c *cycle, p segment.Payload) error {
	var progress Progress
	defer func() { o.recordProgress(c, progress) }()

	aus, derr := o.demuxer.DemuxSegment(p.Locator, p.Data)
	if derr != nil {
		progress.DemuxErrors++
		kind := demux.ErrorKind(derr)
		o.metrics.IncDemuxErrors(kind)
		attrs := []any{
			slog.String("locator", p.Locator),
			slog.Int("seq", p.Seq),
			slog.String("kind", kind),
			slog.String("error", derr.Error()),
		}
		if errors.Is(derr, demux.ErrDescriptorConstruction) {
			c.log.Error("segment skipped", attrs...)
		} else {
			c.log.Warn("demux error", attrs...)
		}
	}

	o.deliver.Lock()
	defer o.deliver.Unlock()

	if o.gen != c.gen {
		return errStale
	}
	progress.SegmentsDelivered++

	for _, au := range aus {
		err := o.sink.Decode(c.ctx, au)
		switch {
		case err == nil:
			progress.AccessUnits++
			o.metrics.IncAccessUnits()
		case errors.Is(err, sink.ErrFormat):
			progress.DecodeRejections++
			o.metrics.IncDecodeRejections()
			c.log.Warn("access unit rejected",
				slog.String("locator", p.Locator),
				slog.Int("nal_type", int(au.Type)),
				slog.String("error", err.Error()))
		default:
			return fmt.Errorf("decode %s: %w", p.Locator, err)
		}
	}
	return nil
}

func (o *Orchestrator) recordProgress(c *cycle, p Progress) {
	if p == (Progress{}) {
		return
	}
	if err := o.repo.RecordProgress(c.session.ID, p); err != nil && !errors.Is(err, ErrSessionEnded) {
		c.log.Warn("record progress failed", slog.String("error", err.Error()))
	}
}
