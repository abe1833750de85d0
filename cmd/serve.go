package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chromascope/analysis"
	"chromascope/cache"
	"chromascope/config"
	"chromascope/fetch"
	"chromascope/logging"
	"chromascope/orchestrator"
	"chromascope/playback"
	"chromascope/resolver"
	"chromascope/server"
	"chromascope/transcode"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Follow the playback provider and serve timelines",
	Long: `Polls the playback provider, runs an acquisition for every track change,
and serves the published timeline plus a playback-locked frame stream.`,
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() {
	cfg := config.Load()
	logger := initLogging(cfg)

	backend, err := newAnalysisBackend(cfg)
	if err != nil {
		logger.Fatal(err, "analysis cache backend failed")
	}
	analysisCache := cache.NewAnalysisCache(backend, logger)
	defer analysisCache.Close()

	var mirror *cache.Mirror
	if cfg.MinioEndpoint != "" {
		mirror, err = cache.NewMirror(cache.MirrorConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		}, logger)
		if err != nil {
			// The mirror is an optional tier; run without it.
			logger.Warn("media mirror unavailable", logging.Fields{"error": err.Error()})
			mirror = nil
		}
	}

	downloader := fetch.NewDownloader(0, logger)
	mediaStore, err := cache.NewMediaStore(filepath.Join(cfg.CacheDir, "media"), downloader, mirror, logger)
	if err != nil {
		logger.Fatal(err, "media store failed")
	}
	defer mediaStore.Close()

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	if err := mediaStore.Watch(watchCtx); err != nil {
		logger.Warn("media directory watch unavailable", logging.Fields{"error": err.Error()})
	}

	var guard *resolver.Guard
	var resolverDep orchestrator.Resolver
	if cfg.ResolverURL != "" {
		guard = resolver.NewGuard(cfg.ResolverSpacing, logger)
		resolverDep = resolver.NewGuardedResolver(resolver.NewHTTPResolver(cfg.ResolverURL, logger), guard)
	}
	var guardDep orchestrator.GuardStatus
	var guardCtl server.GuardControl
	if guard != nil {
		guardDep = guard
		guardCtl = guard
	}

	decoder := transcode.NewDecoder(&transcode.Config{
		TargetSampleRate: cfg.SampleRate,
		FFmpegPath:       cfg.FFmpegPath,
		FFprobePath:      cfg.FFprobePath,
	}, logger)

	pipeline := analysis.NewPipeline(analysisConfig(cfg), logger)
	defer pipeline.Close()

	orch := orchestrator.New(orchestrator.Deps{
		AnalysisCache: analysisCache,
		Media:         mediaStore,
		Resolver:      resolverDep,
		Guard:         guardDep,
		Decoder:       decoder,
		Analyzer:      pipeline,
	}, cfg.DebounceDelay, logger)
	defer orch.Close()

	clock := playback.NewSyncedClock()
	provider := playback.NewHTTPProvider(cfg.ProviderURL, logger)
	monitor := playback.NewMonitor(provider, cfg.PollInterval, logger)
	monitor.OnState = func(st playback.State) {
		clock.Update(st.ProgressMs, st.IsPlaying)
	}
	monitor.Start()
	defer monitor.Stop()

	go func() {
		for change := range monitor.Changes() {
			orch.OnTrackChange(change.Artist, change.Title)
		}
	}()

	srv := server.New(orch, clock, guardCtl, mediaStore, logger)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("chromascope serving", logging.Fields{
			"addr":     cfg.ListenAddr,
			"provider": cfg.ProviderURL,
			"store":    cfg.AnalysisStore,
			"resolver": cfg.ResolverURL != "",
		})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(err, "http server failed")
		}
	}()

	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(err, "forced shutdown")
	}
	logger.Info("stopped")
}

func initLogging(cfg *config.Config) logging.Logger {
	opts := logging.DefaultZapOptions()
	opts.Level = logging.ParseLevel(cfg.LogLevel)
	opts.OutputPath = cfg.LogFile
	logger := logging.NewZapLogger(opts)
	logging.SetGlobalLogger(logger)
	return logger
}

func newAnalysisBackend(cfg *config.Config) (cache.Backend, error) {
	switch cfg.AnalysisStore {
	case "redis":
		return cache.NewRedisBackend(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.RedisTTL,
		})
	case "memory":
		return cache.NewMemoryBackend(), nil
	default:
		return cache.NewSQLiteBackend(filepath.Join(cfg.CacheDir, "analysis.db"))
	}
}

// analysisConfig maps the flat environment config onto the extractor
// parameter sets, keeping the library defaults for everything the
// environment does not override.
func analysisConfig(cfg *config.Config) analysis.Config {
	ac := analysis.DefaultConfig()
	ac.SampleRate = cfg.SampleRate
	ac.Spectral.WindowSize = cfg.WindowSize
	ac.Spectral.Bins = cfg.SpectralBins
	ac.Mel.Cadence = cfg.MelCadenceSec
	ac.Chroma.Cadence = cfg.ChromaCadence
	ac.Pitch.FrameRate = cfg.PitchFrameRate
	return ac
}
