package engine

import (
	"context"
	"image"
	"image/color"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/ivlev/reelforge/internal/effects"
	"github.com/ivlev/reelforge/internal/errs"
	"github.com/ivlev/reelforge/internal/source"
	"github.com/ivlev/reelforge/internal/timeline"
)

type preparedJob struct {
	tl     *timeline.Timeline
	fps    int
	audio  *source.Audio
	loader *source.Loader
}

// validate rejects parameters that can be checked before any source is touched.
func (p *Project) validate() error {
	cfg := p.Config
	if cfg == nil {
		return errs.Configf("config", "missing")
	}
	if p.Encoder == nil {
		return errs.Configf("encoder", "missing")
	}
	if len(p.Clips) == 0 {
		return errs.Configf("clips", "empty layer list")
	}
	if p.FrameRate() <= 0 {
		return errs.Configf("fps", "must be positive, got %d", p.FrameRate())
	}
	if math.IsNaN(cfg.Canvas.MaxUpscale) || cfg.Canvas.MaxUpscale < 0 {
		return errs.Configf("canvas.max_upscale", "must not be negative, got %v", cfg.Canvas.MaxUpscale)
	}
	if _, err := cfg.BackgroundColor(); err != nil {
		return errs.Configf("canvas.background", "%v", err)
	}
	if math.IsNaN(cfg.StillDuration) || cfg.StillDuration <= 0 {
		return errs.Configf("still_duration", "must be positive, got %v", cfg.StillDuration)
	}

	tau := cfg.Transition
	if math.IsNaN(tau) || math.IsInf(tau, 0) || tau < 0 {
		return errs.Configf("transition", "must be a non-negative duration, got %v", tau)
	}
	shortest := math.Inf(1)
	for i, c := range p.Clips {
		if math.IsNaN(c.Duration) || math.IsInf(c.Duration, 0) || c.Duration < 0 {
			return errs.Configf("clips", "clip %d has invalid duration %v", i, c.Duration)
		}
		if c.Duration > 0 {
			shortest = math.Min(shortest, c.Duration)
		}
	}

	switch p.Effect {
	case effects.KindSlide:
		if cfg.Canvas.Width <= 0 || cfg.Canvas.Height <= 0 {
			return errs.Configf("canvas", "size must be positive, got %dx%d", cfg.Canvas.Width, cfg.Canvas.Height)
		}
		if len(p.Clips) > 1 && tau >= shortest {
			return errs.Configf("transition", "degenerate overlap: %.3fs is not shorter than the shortest clip (%.3fs)", tau, shortest)
		}
		if _, err := p.directionPolicy(1); err != nil {
			return err
		}
	case effects.KindZoom, effects.KindShake, effects.KindReveal:
		if len(p.Clips) != 1 {
			return errs.Configf("clips", "%s renders exactly one source, got %d", p.Effect, len(p.Clips))
		}
		if p.FitToAudio {
			return errs.Configf("fit_to_audio", "not available for %s renders", p.Effect)
		}
		if _, err := p.effectBinding(); err != nil {
			return err
		}
	default:
		return errs.Configf("effect", "%s is not a render mode", p.Effect)
	}

	if p.Audio != nil && (math.IsNaN(p.Audio.Volume) || p.Audio.Volume < 0) {
		return errs.Configf("volume", "must be non-negative, got %v", p.Audio.Volume)
	}
	if p.FitToAudio && p.Audio == nil {
		return errs.Configf("fit_to_audio", "requires an audio track")
	}
	return nil
}

// prepare loads every source into dir and builds a validated timeline.
// The caller owns the returned loader.
func (p *Project) prepare(ctx context.Context, dir string) (*preparedJob, error) {
	cfg := p.Config
	single := p.Effect != effects.KindSlide

	hold := cfg.StillDuration
	if single {
		hold = p.effectDuration()
	}
	for _, c := range p.Clips {
		hold = math.Max(hold, c.Duration)
	}

	loader, err := source.NewLoader(source.Options{
		Canvas:        image.Pt(cfg.Canvas.Width, cfg.Canvas.Height),
		MaxUpscale:    cfg.Canvas.MaxUpscale,
		FPS:           p.FrameRate(),
		StillDuration: hold,
		Dir:           dir,
		Fetcher:       p.Fetcher,
		Concurrency:   cfg.Fetch.Concurrency,
		Native:        single,
	}, p.logger.With().Str("component", "source").Logger())
	if err != nil {
		return nil, err
	}
	job := &preparedJob{fps: p.FrameRate(), loader: loader}
	fail := func(err error) (*preparedJob, error) {
		loader.Close()
		return nil, err
	}

	if p.Audio != nil {
		job.audio, err = loader.LoadAudio(ctx, p.Audio.Ref)
		if err != nil {
			return fail(err)
		}
	}

	seed := p.seed()
	rng := rand.New(rand.NewSource(seed))

	var fitted []float64
	if p.FitToAudio {
		fitted, err = timeline.DistributeDurations(job.audio.Duration, len(p.Clips), cfg.Transition, rng)
		if err != nil {
			return fail(err)
		}
		for _, d := range fitted {
			loader.ExtendStillDuration(d)
		}
	}

	refs := make([]source.Ref, len(p.Clips))
	for i, c := range p.Clips {
		refs[i] = c.Ref
	}
	media, err := loader.LoadAll(ctx, refs)
	if err != nil {
		return fail(err)
	}

	bg, _ := cfg.BackgroundColor()
	if single {
		job.tl, err = p.single(media[0], bg)
	} else {
		clips := make([]timeline.Clip, len(media))
		for i, m := range media {
			d := p.clipDuration(p.Clips[i], m)
			if fitted != nil {
				if m.Kind() != source.KindStill {
					return fail(errs.Configf("fit_to_audio", "%s is a video, only stills can be stretched", m.Ref()))
				}
				d = fitted[i]
			}
			clips[i] = timeline.Clip{Media: m, Duration: d}
		}
		job.tl, err = p.schedule(clips, bg, seed)
	}
	if err != nil {
		return fail(err)
	}

	if err := job.tl.Validate(); err != nil {
		return fail(err)
	}
	return job, nil
}

func (p *Project) single(m source.Media, bg color.RGBA) (*timeline.Timeline, error) {
	binding, err := p.effectBinding()
	if err != nil {
		return nil, err
	}
	size := m.Size()
	canvas := timeline.Canvas{Width: size.X, Height: size.Y, Background: bg}
	return timeline.Single(m, binding, math.Min(p.effectDuration(), m.Duration()), canvas)
}

func (p *Project) schedule(clips []timeline.Clip, bg color.RGBA, seed int64) (*timeline.Timeline, error) {
	pick, err := p.directionPolicy(seed)
	if err != nil {
		return nil, err
	}
	return timeline.Schedule(clips, timeline.Options{
		Canvas: timeline.Canvas{
			Width:      p.Config.Canvas.Width,
			Height:     p.Config.Canvas.Height,
			Background: bg,
		},
		Transition: p.Config.Transition,
		Directions: pick,
	})
}

func (p *Project) clipDuration(c Clip, m source.Media) float64 {
	if c.Duration > 0 {
		return c.Duration
	}
	if m.Kind() == source.KindStill {
		return p.Config.StillDuration
	}
	return 0
}

// seed returns Config.Seed, or a time-derived seed when it is zero.
// The value is logged so a random run can be reproduced.
func (p *Project) seed() int64 {
	seed := p.Config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	p.logger.Debug().Int64("seed", seed).Msg("direction seed")
	return seed
}

func (p *Project) directionPolicy(seed int64) (timeline.DirectionPicker, error) {
	name := strings.ToLower(strings.TrimSpace(p.Config.Direction))
	if name == "" || name == "random" {
		return timeline.RandomDirections(seed), nil
	}
	d, err := effects.ParseDirection(name)
	if err != nil {
		return nil, errs.Configf("direction", "%v", err)
	}
	return timeline.FixedDirection(d), nil
}

// FrameRate is the output rate: the effect's own rate for single renders, else Config.FPS.
func (p *Project) FrameRate() int {
	e := p.Config.Effects
	fps := 0
	switch p.Effect {
	case effects.KindZoom:
		fps = e.Zoom.FPS
	case effects.KindShake:
		fps = e.Shake.FPS
	case effects.KindReveal:
		fps = e.Reveal.FPS
	}
	if fps == 0 {
		fps = p.Config.FPS
	}
	return fps
}

func (p *Project) effectDuration() float64 {
	e := p.Config.Effects
	switch p.Effect {
	case effects.KindZoom:
		return e.Zoom.Duration
	case effects.KindShake:
		return e.Shake.Duration
	case effects.KindReveal:
		return e.Reveal.Duration
	}
	return 0
}

// effectBinding builds the single-source binding from the effect defaults.
func (p *Project) effectBinding() (effects.Binding, error) {
	e := p.Config.Effects
	var (
		b   effects.Binding
		err error
	)
	switch p.Effect {
	case effects.KindZoom:
		var easing effects.Easing
		easing, err = effects.ParseEasing(e.Zoom.Easing)
		if err == nil {
			b, err = effects.NewZoom(e.Zoom.StartScale, e.Zoom.EndScale, e.Zoom.Duration, easing, e.Zoom.Upscale)
		}
	case effects.KindShake:
		if e.Shake.Duration <= 0 {
			return nil, errs.Configf("effects.shake.duration", "must be positive, got %v", e.Shake.Duration)
		}
		b, err = effects.NewShake(e.Shake.MaxAngle, e.Shake.Frequency)
	case effects.KindReveal:
		var dir effects.Direction
		dir, err = effects.ParseDirection(e.Reveal.Direction)
		if err == nil {
			b, err = effects.NewReveal(dir, e.Reveal.Duration)
		}
	default:
		return nil, errs.Configf("effect", "%s has no single-source binding", p.Effect)
	}
	if err != nil {
		return nil, errs.Configf("effects."+p.Effect.String(), "%v", err)
	}
	return b, nil
}
