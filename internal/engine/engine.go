// Package engine runs one render job end to end: load sources, schedule,
// synthesize frames in parallel, fit the audio track and export.
package engine

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/reelforge/internal/audio"
	"github.com/ivlev/reelforge/internal/compositor"
	"github.com/ivlev/reelforge/internal/config"
	"github.com/ivlev/reelforge/internal/effects"
	"github.com/ivlev/reelforge/internal/errs"
	"github.com/ivlev/reelforge/internal/source"
	"github.com/ivlev/reelforge/internal/system"
	"github.com/ivlev/reelforge/internal/timeline"
	"github.com/ivlev/reelforge/internal/video"
)

// Clip is one input of a composition. A zero Duration means the source's own
// length for video and Config.StillDuration for stills.
type Clip struct {
	Ref      source.Ref
	Duration float64
}

type AudioTrack struct {
	Ref    source.Ref
	Volume float64
}

// Artifact is the finished file and its logical name.
type Artifact struct {
	Path     string
	Name     string
	Duration float64
	Frames   int
	Stats    Stats
}

// Project is a single render job. It is consumed by one call to Run.
type Project struct {
	Config  *config.Config
	Encoder video.VideoEncoder
	Fetcher source.Fetcher

	Clips []Clip
	Audio *AudioTrack
	// Effect selects the render mode: KindSlide composes every clip with slide
	// transitions, zoom, shake and reveal render a single source.
	Effect effects.Kind
	// FitToAudio spreads the clips over the audio length instead of using
	// their own durations. All clips must be stills.
	FitToAudio bool
	// Output names the artifact inside Config.OutputDir instead of a generated name.
	Output string

	logger zerolog.Logger
}

// NewComposeJob schedules clips back to back with slide transitions.
func NewComposeJob(cfg *config.Config, enc video.VideoEncoder, clips []Clip, track *AudioTrack, logger zerolog.Logger) *Project {
	return &Project{
		Config:  cfg,
		Encoder: enc,
		Fetcher: source.NewHTTPFetcher(cfg.Fetch.Timeout, cfg.Fetch.MaxBytes),
		Clips:   clips,
		Audio:   track,
		Effect:  effects.KindSlide,
		logger:  logger,
	}
}

// NewEffectJob renders one source with a zoom, shake or reveal effect on a
// canvas the size of the source.
func NewEffectJob(cfg *config.Config, enc video.VideoEncoder, ref source.Ref, kind effects.Kind, logger zerolog.Logger) *Project {
	return &Project{
		Config:  cfg,
		Encoder: enc,
		Fetcher: source.NewHTTPFetcher(cfg.Fetch.Timeout, cfg.Fetch.MaxBytes),
		Clips:   []Clip{{Ref: ref}},
		Effect:  kind,
		logger:  logger,
	}
}

// Plan resolves the sources and returns the schedule without rendering.
// Media handles referenced by the returned layers are already closed.
func (p *Project) Plan(ctx context.Context) (*timeline.Timeline, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp("", "reelforge_plan_*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	job, err := p.prepare(ctx, dir)
	if err != nil {
		return nil, err
	}
	job.loader.Close()
	return job.tl, nil
}

// Run executes the job and returns the exported artifact. Every temporary file
// is removed on return, and on failure nothing is written to the output directory.
func (p *Project) Run(ctx context.Context) (*Artifact, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	var stats Stats
	start := time.Now()

	dir, err := os.MkdirTemp("", "reelforge_job_*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	job, err := p.prepare(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer job.loader.Close()
	stats.Load = time.Since(start)

	comp, err := compositor.New(job.tl, job.fps, p.logger.With().Str("component", "compositor").Logger())
	if err != nil {
		return nil, err
	}

	params := p.encodeParams(job.tl.Canvas, job.fps)
	frameBytes := int64(job.tl.Canvas.Width) * int64(job.tl.Canvas.Height) * 4
	workers := system.ReadResources().FrameWorkers(p.Config.Workers, frameBytes, maxUpscale(job.tl))

	p.logger.Info().
		Int("width", job.tl.Canvas.Width).
		Int("height", job.tl.Canvas.Height).
		Int("fps", job.fps).
		Int("layers", len(job.tl.Layers)).
		Float64("duration", job.tl.Canvas.Duration).
		Int("frames", comp.FrameCount()).
		Int("workers", workers).
		Str("encoder", params.Encoder).
		Msg("render job scheduled")

	videoPath := filepath.Join(dir, "video.mp4")
	var reconciled *audio.Result
	var written int

	synthStart := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	if job.audio != nil {
		g.Go(func() error {
			r := audio.NewReconciler(p.Config.Audio.SampleRate, p.Config.Audio.Epsilon, p.logger.With().Str("component", "audio").Logger())
			track := audio.Track{Path: job.audio.Path, Natural: job.audio.Duration, Volume: p.Audio.Volume}
			res, err := r.Reconcile(gctx, track, job.tl.Canvas.Duration, dir)
			if err != nil {
				return err
			}
			reconciled = res
			return nil
		})
	}

	frames := make(chan *image.RGBA, workers)
	g.Go(func() error {
		return produce(gctx, comp, workers, frames)
	})
	g.Go(func() error {
		n, err := p.Encoder.EncodeVideo(gctx, params, frames, videoPath)
		written = n
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	stats.Synthesis = time.Since(synthStart)

	if written != comp.FrameCount() {
		return nil, errs.Inconsistent("frame count", "encoded %d frames, expected %d", written, comp.FrameCount())
	}
	if w := comp.Warnings(); w > 0 {
		p.logger.Warn().Int64("layers", w).Msg("layers drawn transparent because their source had no frame")
	}

	if err := os.MkdirAll(p.Config.OutputDir, 0755); err != nil {
		return nil, err
	}
	name := p.artifactName()
	finalPath := filepath.Join(p.Config.OutputDir, name)

	audioPath := ""
	if reconciled != nil {
		audioPath = reconciled.Path
	}
	muxStart := time.Now()
	if err := p.Encoder.Mux(ctx, params, videoPath, audioPath, finalPath); err != nil {
		return nil, err
	}
	stats.Mux = time.Since(muxStart)
	stats.Total = time.Since(start)
	stats.Frames = written
	stats.Workers = workers
	stats.MemoryUsed = system.UsedMemoryPercent()

	art := &Artifact{
		Path:     finalPath,
		Name:     name,
		Duration: job.tl.Canvas.Duration,
		Frames:   written,
		Stats:    stats,
	}
	p.logger.Info().
		Str("path", finalPath).
		Float64("duration", art.Duration).
		Int("frames", written).
		Dur("took", stats.Total).
		Msg("render job finished")

	if p.Config.ShowStats {
		p.report(art)
	}
	return art, nil
}

// produce renders frames in batches of workers and hands them to out in
// frame order. It closes out when done.
func produce(ctx context.Context, comp *compositor.Compositor, workers int, out chan<- *image.RGBA) error {
	defer close(out)

	total := comp.FrameCount()
	batch := make([]*image.RGBA, workers)
	for base := 0; base < total; base += workers {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(workers, total-base)

		var g errgroup.Group
		for i := 0; i < n; i++ {
			g.Go(func() error {
				img, err := comp.Render(base + i)
				if err != nil {
					return fmt.Errorf("frame %d: %w", base+i, err)
				}
				batch[i] = img
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			release(batch[:n])
			return err
		}

		for i := 0; i < n; i++ {
			select {
			case out <- batch[i]:
				batch[i] = nil
			case <-ctx.Done():
				release(batch[i:n])
				return ctx.Err()
			}
		}
	}
	return nil
}

func release(frames []*image.RGBA) {
	for i, f := range frames {
		if f != nil {
			system.PutImage(f)
			frames[i] = nil
		}
	}
}

func (p *Project) encodeParams(canvas timeline.Canvas, fps int) video.Params {
	enc := p.Config.Encoding
	return video.Params{
		Width:        canvas.Width,
		Height:       canvas.Height,
		FPS:          fps,
		Encoder:      video.ResolveEncoder(enc.Encoder),
		Preset:       enc.Preset,
		Quality:      enc.Quality,
		PixelFormat:  enc.PixelFormat,
		AudioCodec:   enc.AudioCodec,
		AudioBitrate: enc.AudioBitrate,
	}
}

// artifactName is vertical_final_<uuid>.mp4 for compositions and
// manual_<effect>_<uuid>.mp4 for single-source renders.
func (p *Project) artifactName() string {
	if p.Output != "" {
		return filepath.Base(p.Output)
	}
	if p.Effect == effects.KindSlide {
		return fmt.Sprintf("vertical_final_%s.mp4", uuid.NewString())
	}
	return fmt.Sprintf("manual_%s_%s.mp4", p.Effect, uuid.NewString())
}

// maxUpscale is the largest supersampling factor any layer asks for.
func maxUpscale(tl *timeline.Timeline) int {
	u := 1
	size := tl.Canvas.Size()
	for _, l := range tl.Layers {
		if tr := l.Effect.At(0, size); tr.Upscale > u {
			u = tr.Upscale
		}
	}
	return u
}
