package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ivlev/reelforge/internal/config"
	"github.com/ivlev/reelforge/internal/engine"
	"github.com/ivlev/reelforge/internal/errs"
	"github.com/ivlev/reelforge/internal/logging"
	"github.com/ivlev/reelforge/internal/scenario"
	"github.com/ivlev/reelforge/internal/storage"
	"github.com/ivlev/reelforge/internal/system"
	"github.com/ivlev/reelforge/internal/video"
)

var (
	audioPath  string
	audioDir   string
	volume     float64
	fitAudio   bool
	transition float64
	direction  string
	seed       int64
	fps        int
	durations  []float64
	outputName string
	saveJob    string

	effectDuration float64
	planOut        string
)

var composeCmd = &cobra.Command{
	Use:   "compose <source>...",
	Short: "Compose clips and stills with slide transitions",
	Example: `  reelforge compose intro.png demo.mp4 https://cdn.example.com/outro.png --audio music.mp3
  reelforge compose a.png b.png c.png --fit-audio --audio-dir input/audio --upload`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := composeJob(cmd, args)
		if err != nil {
			return err
		}
		if saveJob != "" {
			path, err := scenario.Resolve(saveJob, true)
			if err != nil {
				return err
			}
			if err := scenario.Write(job, path); err != nil {
				return fmt.Errorf("save job: %w", err)
			}
			log.Info().Str("path", path).Msg("job saved")
		}
		return render(cmd, job)
	},
}

func init() {
	f := composeCmd.Flags()
	f.StringVar(&audioPath, "audio", "", "background track (path or URL)")
	f.StringVar(&audioDir, "audio-dir", "", "use the newest audio file in this directory")
	f.Float64Var(&volume, "volume", 0, "track volume (default from config)")
	f.BoolVar(&fitAudio, "fit-audio", false, "spread the stills over the track length")
	f.Float64Var(&transition, "transition", 0, "slide transition length in seconds")
	f.StringVar(&direction, "direction", "", "slide direction: left, right, up, down or random")
	f.Int64Var(&seed, "seed", 0, "seed for random directions and fitted durations")
	f.IntVar(&fps, "fps", 0, "output frame rate")
	f.Float64SliceVar(&durations, "durations", nil, "per-clip durations in seconds, 0 keeps the default")
	f.StringVarP(&outputName, "output", "o", "", "artifact file name")
	planCmd.Flags().AddFlagSet(f)
	f.StringVar(&saveJob, "save", "", "also write the job to this YAML file or directory")
	planCmd.Flags().StringVar(&planOut, "out", "", "write the plan here instead of stdout")
}

// composeJob builds a job file equivalent of the compose flags.
func composeJob(cmd *cobra.Command, args []string) (*scenario.Job, error) {
	if len(durations) > len(args) {
		return nil, errs.Configf("durations", "%d durations for %d sources", len(durations), len(args))
	}
	job := &scenario.Job{Version: scenario.Version, Direction: direction, Seed: seed, FPS: fps,
		FitToAudio: fitAudio, Output: outputName}
	for i, a := range args {
		c := scenario.Clip{Source: a}
		if i < len(durations) {
			c.Duration = durations[i]
		}
		job.Clips = append(job.Clips, c)
	}
	if cmd.Flags().Changed("transition") {
		t := transition
		job.Transition = &t
	}

	track := audioPath
	if track == "" && audioDir != "" {
		latest, err := system.FindLatestAudio(audioDir)
		if err != nil {
			return nil, errs.Configf("audio-dir", "%v", err)
		}
		track = latest
	}
	if track != "" {
		job.Audio = &scenario.Audio{Source: track}
		if cmd.Flags().Changed("volume") {
			v := volume
			job.Audio.Volume = &v
		}
	}
	return job, nil
}

func newEffectCmd(mode, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   mode + " <image|dir>",
		Short: short,
		Long: short + `.
The canvas takes the size of the source. When given a directory the newest
image in it is used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			if st, err := os.Stat(src); err == nil && st.IsDir() {
				latest, err := system.FindLatestImage(src)
				if err != nil {
					return errs.Configf("source", "%v", err)
				}
				log.Info().Str("image", latest).Msg("using latest image")
				src = latest
			}
			job := &scenario.Job{
				Version:   scenario.Version,
				Mode:      mode,
				Clips:     []scenario.Clip{{Source: src, Duration: effectDuration}},
				FPS:       fps,
				Direction: direction,
				Output:    outputName,
			}
			if direction != "" && mode != "reveal" {
				return errs.Configf("direction", "only reveal takes a direction")
			}
			return render(cmd, job)
		},
	}
	f := cmd.Flags()
	f.Float64Var(&effectDuration, "duration", 0, "effect length in seconds (default from config)")
	f.IntVar(&fps, "fps", 0, "output frame rate (default from config)")
	f.StringVarP(&outputName, "output", "o", "", "artifact file name")
	f.StringVar(&direction, "direction", "", "wipe direction for reveal")
	return cmd
}

var runCmd = &cobra.Command{
	Use:   "run [job.yaml | dir]",
	Short: "Render a job file, by default the newest one in ./jobs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := ""
		if len(args) == 1 {
			target = args[0]
		}
		path, err := scenario.Resolve(target, false)
		if err != nil {
			return errs.Configf("job", "%v", err)
		}
		log.Info().Str("job", path).Msg("running job")
		job, err := scenario.Read(path)
		if err != nil {
			return err
		}
		return render(cmd, job)
	},
}

var planCmd = &cobra.Command{
	Use:   "plan <job.yaml | source...>",
	Short: "Print the resolved timeline without rendering",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var job *scenario.Job
		var err error
		if len(args) == 1 && isJobFile(args[0]) {
			job, err = scenario.Read(args[0])
		} else {
			job, err = composeJob(cmd, args)
		}
		if err != nil {
			return err
		}

		_, p, err := project(job)
		if err != nil {
			return err
		}
		tl, err := p.Plan(cmd.Context())
		if err != nil {
			return err
		}

		plan := scenario.FromTimeline(tl, p.FrameRate())
		if planOut == "" {
			return plan.Encode(os.Stdout)
		}
		f, err := os.Create(planOut)
		if err != nil {
			return err
		}
		defer f.Close()
		return plan.Encode(f)
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a finished video and print its URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		uploader, err := storage.NewS3Uploader(cmd.Context(), cfg.Storage, logging.WithComponent("storage"))
		if err != nil {
			return err
		}
		url, err := uploader.Upload(cmd.Context(), args[0], filepath.Base(args[0]))
		if err != nil {
			return err
		}
		fmt.Println(url)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config [path]",
	Short: "Print the effective configuration or write it to path",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			if err := cfg.Save(args[0]); err != nil {
				return err
			}
			log.Info().Str("path", args[0]).Msg("config written")
			return nil
		}
		return yaml.NewEncoder(os.Stdout).Encode(cfg)
	},
}

func isJobFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// project loads the configuration, applies the job's overrides and builds the render job.
func project(job *scenario.Job) (*config.Config, *engine.Project, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := job.Apply(cfg); err != nil {
		return nil, nil, err
	}
	p, err := job.Project(cfg, video.NewFFmpegEncoder(logging.WithComponent("encoder")), logging.WithComponent("engine"))
	if err != nil {
		return nil, nil, err
	}
	return cfg, p, nil
}

// render runs the job and optionally hands the result to object storage.
func render(cmd *cobra.Command, job *scenario.Job) error {
	if err := system.CheckTools("ffmpeg", "ffprobe"); err != nil {
		return err
	}
	cfg, p, err := project(job)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return err
	}

	art, err := p.Run(cmd.Context())
	if err != nil {
		return err
	}
	log.Info().
		Str("path", art.Path).
		Float64("duration", art.Duration).
		Int("frames", art.Frames).
		Msg("video ready")

	if !upload {
		fmt.Println(art.Path)
		return nil
	}

	uploader, err := storage.NewS3Uploader(cmd.Context(), cfg.Storage, logging.WithComponent("storage"))
	if err != nil {
		return err
	}
	url, err := uploader.Upload(cmd.Context(), art.Path, art.Name)
	if err != nil {
		return err
	}
	if !keepLocal {
		if err := os.Remove(art.Path); err != nil {
			log.Warn().Err(err).Str("path", art.Path).Msg("could not remove local copy")
		}
	}
	fmt.Println(url)
	return nil
}
