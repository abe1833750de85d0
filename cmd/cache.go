package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"chromascope/cache"
	"chromascope/config"
	"chromascope/track"
)

var (
	evictArtist string
	evictTitle  string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the cache tiers",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached analyses and media files",
	Run: func(cmd *cobra.Command, args []string) {
		runCacheList()
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache tier sizes",
	Run: func(cmd *cobra.Command, args []string) {
		runCacheStats()
	},
}

var cacheEvictCmd = &cobra.Command{
	Use:   "evict [key]",
	Short: "Remove one track from the media cache",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runCacheEvict(args)
	},
}

func init() {
	cacheEvictCmd.Flags().StringVar(&evictArtist, "artist", "", "artist of the track to evict")
	cacheEvictCmd.Flags().StringVar(&evictTitle, "title", "", "title of the track to evict")
	cacheCmd.AddCommand(cacheListCmd, cacheStatsCmd, cacheEvictCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheList() {
	cfg := config.Load()
	logger := initLogging(cfg)
	ctx := context.Background()

	backend, err := newAnalysisBackend(cfg)
	if err != nil {
		logger.Fatal(err, "analysis cache backend failed")
	}
	ac := cache.NewAnalysisCache(backend, logger)
	defer ac.Close()

	keys, err := ac.Keys(ctx)
	if err != nil {
		logger.Fatal(err, "listing analysis cache failed")
	}
	fmt.Printf("analysis cache (%d):\n", len(keys))
	for _, k := range keys {
		fmt.Printf("  %s\n", k.String())
	}

	store, err := cache.NewMediaStore(filepath.Join(cfg.CacheDir, "media"), nil, nil, logger)
	if err != nil {
		logger.Fatal(err, "media store failed")
	}
	defer store.Close()

	entries, err := store.Entries(ctx)
	if err != nil {
		logger.Fatal(err, "listing media cache failed")
	}
	fmt.Printf("media cache (%d):\n", len(entries))
	for _, e := range entries {
		fmt.Printf("  %-48s %9.1f KB\n", e.Key, float64(e.Size)/1024)
	}
}

func runCacheStats() {
	cfg := config.Load()
	logger := initLogging(cfg)
	ctx := context.Background()

	backend, err := newAnalysisBackend(cfg)
	if err != nil {
		logger.Fatal(err, "analysis cache backend failed")
	}
	ac := cache.NewAnalysisCache(backend, logger)
	defer ac.Close()

	keys, err := ac.Keys(ctx)
	if err != nil {
		logger.Fatal(err, "listing analysis cache failed")
	}

	store, err := cache.NewMediaStore(filepath.Join(cfg.CacheDir, "media"), nil, nil, logger)
	if err != nil {
		logger.Fatal(err, "media store failed")
	}
	defer store.Close()

	count, totalBytes, err := store.Stats(ctx)
	if err != nil {
		logger.Fatal(err, "media stats failed")
	}

	fmt.Printf("analysis entries: %d (%s store)\n", len(keys), cfg.AnalysisStore)
	fmt.Printf("media files:      %d, %.1f MB\n", count, float64(totalBytes)/(1024*1024))
}

func runCacheEvict(args []string) {
	cfg := config.Load()
	logger := initLogging(cfg)

	var key track.Key
	if len(args) == 1 {
		p := track.ParseKey(args[0])
		key = track.NewKey(p.Artist, p.Title)
	} else {
		key = track.NewKey(evictArtist, evictTitle)
	}
	if key.IsZero() {
		logger.Fatal(errors.New("evict requires a key argument or --artist and --title"), "missing key")
	}

	store, err := cache.NewMediaStore(filepath.Join(cfg.CacheDir, "media"), nil, nil, logger)
	if err != nil {
		logger.Fatal(err, "media store failed")
	}
	defer store.Close()

	err = store.Evict(context.Background(), key)
	switch {
	case errors.Is(err, cache.ErrMiss):
		fmt.Printf("%q is not in the media cache\n", key.String())
	case err != nil:
		logger.Fatal(err, "evict failed")
	default:
		fmt.Printf("evicted %q\n", key.String())
	}
}
