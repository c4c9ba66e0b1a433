package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ivlev/reelforge/internal/config"
	"github.com/ivlev/reelforge/internal/errs"
	"github.com/ivlev/reelforge/internal/logging"
	"github.com/ivlev/reelforge/internal/system"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var (
	configPath string
	preset     string
	outputDir  string
	verbose    bool
	showStats  bool
	upload     bool
	keepLocal  bool
)

var rootCmd = &cobra.Command{
	Use:   "reelforge",
	Short: "Compose short vertical videos from clips and stills",
	Long: `reelforge schedules clips on a shared timeline with slide transitions,
renders zoom, shake and reveal effects, fits a background track to the
video length and exports an H.264 file ready for short-video platforms.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(verbose)
		system.InitResourceLimits()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default: ./reelforge.yaml, ./config.yaml, ~/.reelforge/config.yaml)")
	pf.StringVar(&preset, "preset", "", "canvas preset: 9:16, 16:9, 4:5, 1:1")
	pf.StringVar(&outputDir, "output-dir", "", "directory for finished videos")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	pf.BoolVar(&showStats, "stats", false, "print a performance report and append it to benchmark.log")
	pf.BoolVar(&upload, "upload", false, "upload the result to object storage and print its URL")
	pf.BoolVar(&keepLocal, "keep", false, "keep the local file after uploading")

	rootCmd.AddCommand(composeCmd)
	rootCmd.AddCommand(newEffectCmd("reveal", "Reveal an image with a wipe"))
	rootCmd.AddCommand(newEffectCmd("zoom", "Zoom into an image with smootherstep easing"))
	rootCmd.AddCommand(newEffectCmd("shake", "Rock an image around its center"))
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig reads the config file and applies the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, errs.Configf("config", "%v", err)
	}
	cfg.BuildVersion = Version
	if err := cfg.ApplyPreset(preset); err != nil {
		return nil, errs.Configf("preset", "%v", err)
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if showStats {
		cfg.ShowStats = true
	}
	return cfg, nil
}

// exitCode maps the failure kind to a distinct process status.
func exitCode(err error) int {
	switch {
	case errs.IsConfiguration(err):
		return 2
	case errs.IsSourceUnavailable(err):
		return 3
	case errs.IsConsistency(err):
		return 4
	case errs.IsEncoding(err):
		return 5
	}
	return 1
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("reelforge failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
