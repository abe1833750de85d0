package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chromascope/analysis"
	"chromascope/cache"
	"chromascope/config"
	"chromascope/track"
	"chromascope/transcode"
)

var (
	analyzeJSON   bool
	analyzeOut    string
	analyzeArtist string
	analyzeTitle  string
	analyzeStore  bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Analyze a local audio file",
	Long: `Decodes the file, runs the full feature-extraction pipeline, and prints
a summary. The timeline can be dumped as JSON or written straight into
the analysis cache.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runAnalyze(args[0])
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the full timeline as JSON")
	analyzeCmd.Flags().StringVarP(&analyzeOut, "out", "o", "", "write the timeline JSON to a file")
	analyzeCmd.Flags().StringVar(&analyzeArtist, "artist", "", "artist for the cache key")
	analyzeCmd.Flags().StringVar(&analyzeTitle, "title", "", "title for the cache key")
	analyzeCmd.Flags().BoolVar(&analyzeStore, "store", false, "store the result in the analysis cache")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(file string) {
	cfg := config.Load()
	logger := initLogging(cfg)

	decoder := transcode.NewDecoder(&transcode.Config{
		TargetSampleRate: cfg.SampleRate,
		FFmpegPath:       cfg.FFmpegPath,
		FFprobePath:      cfg.FFprobePath,
	}, logger)
	pipeline := analysis.NewPipeline(analysisConfig(cfg), logger)
	defer pipeline.Close()

	ctx := context.Background()
	sig, err := decoder.DecodeFile(ctx, file)
	if err != nil {
		logger.Fatal(err, "decode failed")
	}
	tl, err := pipeline.Analyze(ctx, sig)
	if err != nil {
		logger.Fatal(err, "analysis failed")
	}

	if analyzeStore {
		key := track.NewKey(analyzeArtist, analyzeTitle)
		if key.IsZero() {
			logger.Fatal(errors.New("--store requires --artist and --title"), "missing cache key")
		}
		backend, err := newAnalysisBackend(cfg)
		if err != nil {
			logger.Fatal(err, "analysis cache backend failed")
		}
		ac := cache.NewAnalysisCache(backend, logger)
		defer ac.Close()
		if err := ac.Put(ctx, key, tl); err != nil {
			logger.Fatal(err, "cache write failed")
		}
		fmt.Printf("stored as %q\n", key.String())
	}

	switch {
	case analyzeJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(tl); err != nil {
			logger.Fatal(err, "encode failed")
		}
	case analyzeOut != "":
		data, err := json.MarshalIndent(tl, "", "  ")
		if err != nil {
			logger.Fatal(err, "encode failed")
		}
		if err := os.WriteFile(analyzeOut, data, 0644); err != nil {
			logger.Fatal(err, "write failed")
		}
		fmt.Printf("timeline written to %s\n", analyzeOut)
	default:
		s := tl.Summarize()
		fmt.Printf("duration: %.1fs @ %d Hz\n", s.Duration, tl.SampleRate)
		fmt.Printf("tempo:    %.1f BPM, %d beats, %.1f per bucket\n", s.Tempo, s.BeatCount, s.BeatDensity)
		fmt.Printf("mel:      %d frames, level %.2f mean / %.2f peak\n", len(tl.Mel), s.MeanLevel, s.PeakLevel)
		fmt.Printf("chroma:   %d frames\n", len(tl.Chroma))
		fmt.Printf("pitch:    %d frames, %.0f%% voiced, %.1f Hz mean\n", len(tl.Pitch), s.VoicedRatio*100, s.MeanPitch)
	}
}
