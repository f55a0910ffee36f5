package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/carvidal/metrodl/api"
	"github.com/carvidal/metrodl/internal/acquire"
	"github.com/carvidal/metrodl/internal/analysis"
	"github.com/carvidal/metrodl/internal/config"
	"github.com/carvidal/metrodl/internal/logger"
	"github.com/carvidal/metrodl/internal/mix"
	"github.com/carvidal/metrodl/internal/playback"
	"github.com/carvidal/metrodl/internal/server"
	"github.com/carvidal/metrodl/internal/session"
	"github.com/carvidal/metrodl/pkg/events"
)

var (
	flagManualBPM float64
	flagTempo     string
	flagVolumeDB  float64
	flagClean     bool
)

var rootCmd = &cobra.Command{
	Use:   "metrodl",
	Short: "metrodl downloads audio from a video URL and overlays a metronome aligned to its tempo.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API for the single-page UI.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := setup()
		return server.Start(cfg)
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <url>",
	Short: "Download the audio for a URL and print its estimated BPM.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := setup()
		sess, _ := newSession(cfg)
		defer sess.Cleanup()

		if err := runAnalysis(sess, args[0]); err != nil {
			return err
		}

		snap := sess.Snapshot()
		fmt.Printf("BPM: %.2f (half %.2f, double %.2f)\n", snap.BPM, snap.HalfBPM, snap.DoubleBPM)
		fmt.Printf("Duración: %.2f s, %d beats\n", snap.Duration, snap.BeatCount)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <url>",
	Short: "Run the full pipeline and export the audio with the metronome mixed in.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := setup()
		sess, _ := newSession(cfg)
		defer sess.Cleanup()

		ctx := context.Background()
		if err := sess.FetchInfo(ctx, args[0]); err != nil {
			return err
		}
		if err := runAnalysis(sess, args[0]); err != nil {
			return err
		}

		if cmd.Flags().Changed("volume") {
			if err := sess.SetVolume(flagVolumeDB); err != nil {
				return err
			}
		}
		if flagManualBPM > 0 {
			if err := sess.SetManualBPM(flagManualBPM); err != nil {
				return err
			}
		}
		if flagTempo != "" {
			if err := sess.SetTempoOption(api.TempoOption(flagTempo)); err != nil {
				return err
			}
		}

		if err := sess.Export(); err != nil {
			return err
		}
		waitIdle(sess)

		if flagClean {
			if err := sess.DownloadClean(ctx); err != nil {
				return err
			}
		}

		fmt.Println(sess.Snapshot().Status)
		return nil
	},
}

func setup() *config.Config {
	cfg := config.Load()
	logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputPath: cfg.LogPath,
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 14,
	})
	return cfg
}

func newSession(cfg *config.Config) (*session.Session, *events.Bus) {
	bus := events.NewBus()
	sess := session.New(
		acquire.NewFetcher(cfg.YtDlpPath),
		analysis.NewAnalyzer(),
		playback.NewEngine(),
		mix.NewExporter(cfg.FFmpegPath),
		bus,
		session.Options{
			DownloadDir:     cfg.DownloadDir,
			PreviewWindowMS: cfg.PreviewWindowMS,
			DefaultVolumeDB: cfg.DefaultVolumeDB,
		},
	)
	return sess, bus
}

func runAnalysis(sess *session.Session, url string) error {
	if err := sess.Analyze(context.Background(), url); err != nil {
		return err
	}
	waitIdle(sess)

	snap := sess.Snapshot()
	if snap.Phase != api.PhaseAnalyzed {
		return fmt.Errorf("%s", snap.Status)
	}
	return nil
}

// waitIdle blocks until the background pipeline run finishes.
func waitIdle(sess *session.Session) {
	for sess.Snapshot().IsProcessing {
		time.Sleep(200 * time.Millisecond)
	}
}

func main() {
	rootCmd.AddCommand(serveCmd, analyzeCmd, exportCmd)

	exportCmd.Flags().Float64Var(&flagManualBPM, "bpm", 0, "manual BPM override (replaces the detected tempo)")
	exportCmd.Flags().StringVar(&flagTempo, "tempo", "", "tempo variant: slow, normal or fast")
	exportCmd.Flags().Float64Var(&flagVolumeDB, "volume", 0, "metronome volume in dB (-40..0)")
	exportCmd.Flags().BoolVar(&flagClean, "clean", false, "also download the untouched audio copy")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
