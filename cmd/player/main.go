package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-player/internal/demux"
	"hls-player/internal/orchestrator"
	"hls-player/internal/platform/config"
	"hls-player/internal/platform/fetch"
	"hls-player/internal/platform/logger"
	"hls-player/internal/platform/metrics"
	"hls-player/internal/platform/resource"
	"hls-player/internal/platform/sink"
	"hls-player/internal/quality"
	"hls-player/internal/segment"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	tiers, err := loadTiers()
	if err != nil {
		log.Error("load tiers", "error", err)
		os.Exit(1)
	}

	qcfg := quality.Config{
		LowThreshold:    config.GetEnvFloat("LOW_THRESHOLD", 500),
		HighThreshold:   config.GetEnvFloat("HIGH_THRESHOLD", 1500),
		SwitchThreshold: config.GetEnvFloat("SWITCH_THRESHOLD", 500),
		Initial:         config.GetEnvInt("INITIAL_TIER", 0),
	}
	q, err := quality.New(tiers, qcfg)
	if err != nil {
		log.Error("quality controller", "error", err)
		os.Exit(1)
	}

	decoder, closeSink, err := newSink(config.GetEnv("OUTPUT_PATH", ""))
	if err != nil {
		log.Error("open output", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeSink(); err != nil {
			log.Warn("close output", "error", err)
		}
	}()

	demuxOpts := []demux.Option{demux.WithTransportStream(true)}
	strict := config.GetEnvBool("STRICT_PARAMETER_SETS", true)
	if strict {
		demuxOpts = append(demuxOpts, demux.WithDescriptorBuilder(demux.CodecDescriptor))
	}

	lowLevel := config.GetEnvFloat("LOW_RESOURCE_LEVEL", orchestrator.DefaultLowResourceLevel)
	cfg := orchestrator.Config{
		BufferCapacity:   config.GetEnvInt("MAX_BUFFER_SIZE", segment.DefaultCapacity),
		FetchConcurrency: config.GetEnvInt("FETCH_CONCURRENCY", segment.DefaultConcurrency),
		SegmentSuffix:    config.GetEnv("SEGMENT_SUFFIX", ".ts"),
		MeasureBandwidth: config.GetEnvBool("MEASURE_BANDWIDTH", true),
		LowResourceLevel: lowLevel,
		SegmentDuration:  config.GetEnvFloat("PLAYLIST_SEGMENT_DURATION", orchestrator.DefaultSegmentDuration),
	}

	fetcher := fetch.NewHTTPFetcher(nil,
		config.GetEnvDuration("FETCH_TIMEOUT", fetch.DefaultTimeout),
		int64(config.GetEnvInt("MAX_SEGMENT_BYTES", int(fetch.DefaultMaxBytes))))

	repo := orchestrator.NewInMemoryRepositoryWithStore(orchestrator.NewInMemoryStore(),
		config.GetEnvInt("MAX_SESSIONS", orchestrator.DefaultMaxSessions))

	met := metrics.New()
	orch, err := orchestrator.New(cfg, orchestrator.Deps{
		Fetcher:      fetcher,
		Quality:      q,
		Sink:         decoder,
		Repository:   repo,
		Log:          log,
		Metrics:      met,
		DemuxOptions: demuxOpts,
	})
	if err != nil {
		log.Error("orchestrator", "error", err)
		os.Exit(1)
	}
	h := orchestrator.NewHandler(orch, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetBuffered(orch.Buffered())
			met.SetActiveSessions(orch.ActiveSessions())
		}).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if err := orch.Start(gctx); err != nil {
		log.Error("start playback", "error", err)
		os.Exit(1)
	}
	g.Go(func() error {
		orch.Wait()
		return nil
	})

	monitor := resource.NewMonitor(config.GetEnvDuration("RESOURCE_POLL_INTERVAL", 30*time.Second), lowLevel, nil, log)
	g.Go(func() error {
		return monitor.Run(gctx, func(level float64) { orch.OnLowResource(level) })
	})

	log.Info("player starting",
		"port", port,
		"tiers", len(tiers),
		"initial_tier", qcfg.Initial,
		"max_buffer_size", cfg.BufferCapacity,
		"strict_parameter_sets", strict,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, stopping playback")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	if err := g.Wait(); err != nil {
		log.Error("background task error", "error", err)
	}

	log.Info("player stopped")
}

// loadTiers reads the ladder from TIERS_FILE, falling back to the TIERS list.
func loadTiers() ([]quality.Tier, error) {
	var (
		specs []config.TierSpec
		err   error
	)
	if path := config.GetEnv("TIERS_FILE", ""); path != "" {
		specs, err = config.LoadTiers(path)
	} else {
		specs, err = config.TiersFromURIs(config.GetEnvList("TIERS", nil))
	}
	if err != nil {
		return nil, err
	}

	tiers := make([]quality.Tier, len(specs))
	for i, s := range specs {
		tiers[i] = quality.Tier{Name: s.Name, Bitrate: s.Bitrate, URI: s.URI}
	}
	return tiers, nil
}

// newSink returns the AnnexBWriter for path, or a counting sink when path is
// empty.
func newSink(path string) (sink.Decoder, func() error, error) {
	if path == "" {
		return &sink.Discard{}, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return sink.NewAnnexBWriter(f), f.Close, nil
}
