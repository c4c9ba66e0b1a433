package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ivlev/reelforge/internal/errs"
)

// Options configures a Loader for one render job.
type Options struct {
	Canvas        image.Point
	MaxUpscale    float64
	FPS           int
	StillDuration float64
	// Dir receives fetched and decoded files. When empty the loader creates
	// and removes its own directory.
	Dir         string
	Fetcher     Fetcher
	Concurrency int
	// Native keeps every source at its natural size instead of fitting it
	// into Canvas. Single-source renders use it to size the canvas.
	Native bool
}

// Audio is a resolved audio reference. Decoding is left to the audio reconciler.
type Audio struct {
	Ref        Ref
	Path       string
	Duration   float64
	SampleRate int
	Channels   int
}

// Loader resolves references to media once per job and caches the handles
// until Close. Concurrent requests for the same reference share one load.
type Loader struct {
	opts   Options
	logger zerolog.Logger
	ownDir bool

	group   singleflight.Group
	mu      sync.Mutex
	media   map[string]Media
	audio   map[string]*Audio
	fetched map[string]string
}

func NewLoader(opts Options, logger zerolog.Logger) (*Loader, error) {
	if opts.Canvas.X <= 0 || opts.Canvas.Y <= 0 {
		return nil, errs.Configf("canvas", "size must be positive, got %dx%d", opts.Canvas.X, opts.Canvas.Y)
	}
	if opts.FPS <= 0 {
		return nil, errs.Configf("fps", "must be positive, got %d", opts.FPS)
	}
	if opts.StillDuration <= 0 {
		return nil, errs.Configf("still_duration", "must be positive, got %v", opts.StillDuration)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	l := &Loader{
		opts:    opts,
		logger:  logger,
		media:   make(map[string]Media),
		audio:   make(map[string]*Audio),
		fetched: make(map[string]string),
	}
	if l.opts.Dir == "" {
		dir, err := os.MkdirTemp("", "reelforge_src_*")
		if err != nil {
			return nil, err
		}
		l.opts.Dir = dir
		l.ownDir = true
	}
	return l, nil
}

// ExtendStillDuration raises the hold time of stills loaded after the call.
// Stills already cached keep their duration.
func (l *Loader) ExtendStillDuration(d float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d > l.opts.StillDuration {
		l.opts.StillDuration = d
	}
}

// Dir is the scratch directory holding fetched and decoded files.
func (l *Loader) Dir() string { return l.opts.Dir }

// Load resolves ref to a fitted visual source.
func (l *Loader) Load(ctx context.Context, ref Ref) (Media, error) {
	key := ref.String()
	l.mu.Lock()
	m, ok := l.media[key]
	l.mu.Unlock()
	if ok {
		return m, nil
	}

	v, err, _ := l.group.Do("media:"+key, func() (any, error) {
		l.mu.Lock()
		m, ok := l.media[key]
		l.mu.Unlock()
		if ok {
			return m, nil
		}

		start := time.Now()
		m, err := l.load(ctx, ref)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.media[key] = m
		l.mu.Unlock()

		size := m.Size()
		l.logger.Debug().
			Str("ref", key).
			Str("kind", m.Kind().String()).
			Int("width", size.X).
			Int("height", size.Y).
			Float64("duration", m.Duration()).
			Dur("took", time.Since(start)).
			Msg("source loaded")
		return m, nil
	})
	if err != nil {
		return nil, errs.Unavailable(key, err)
	}
	return v.(Media), nil
}

// LoadAll loads refs in parallel, bounded by Options.Concurrency, preserving order.
// The first failure cancels the remaining loads.
func (l *Loader) LoadAll(ctx context.Context, refs []Ref) ([]Media, error) {
	out := make([]Media, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			m, err := l.Load(gctx, ref)
			if err != nil {
				return err
			}
			out[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadAudio resolves ref to a local audio file and probes its duration.
func (l *Loader) LoadAudio(ctx context.Context, ref Ref) (*Audio, error) {
	key := ref.String()
	v, err, _ := l.group.Do("audio:"+key, func() (any, error) {
		l.mu.Lock()
		a, ok := l.audio[key]
		l.mu.Unlock()
		if ok {
			return a, nil
		}

		if ref.Text != "" || ref.Page > 0 {
			return nil, fmt.Errorf("not an audio reference")
		}
		path, err := l.localize(ctx, ref)
		if err != nil {
			return nil, err
		}
		info, err := Probe(ctx, path)
		if err != nil {
			return nil, err
		}
		if !info.HasAudio {
			return nil, fmt.Errorf("no audio stream")
		}
		if info.Duration <= 0 {
			return nil, fmt.Errorf("unknown audio duration")
		}

		a = &Audio{Ref: ref, Path: path, Duration: info.Duration, SampleRate: info.SampleRate, Channels: info.Channels}
		l.mu.Lock()
		l.audio[key] = a
		l.mu.Unlock()
		l.logger.Debug().Str("ref", key).Float64("duration", a.Duration).Int("sample_rate", a.SampleRate).Msg("audio resolved")
		return a, nil
	})
	if err != nil {
		return nil, errs.Unavailable(key, err)
	}
	return v.(*Audio), nil
}

func (l *Loader) load(ctx context.Context, ref Ref) (Media, error) {
	if ref.Text != "" {
		img, err := renderQR(ref.Text)
		if err != nil {
			return nil, err
		}
		return l.still(ref, img), nil
	}

	path, err := l.localize(ctx, ref)
	if err != nil {
		return nil, err
	}

	switch {
	case IsPDFPath(path):
		img, err := renderPDFPage(path, ref.Page, l.opts.Canvas, l.opts.MaxUpscale)
		if err != nil {
			return nil, err
		}
		return l.still(ref, img), nil
	case ref.Page > 0:
		return nil, fmt.Errorf("page selector on a non-PDF source")
	case IsImagePath(path):
		img, err := decodeImageFile(path)
		if err != nil {
			return nil, err
		}
		return l.still(ref, img), nil
	}

	info, err := Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	canvas := l.opts.Canvas
	if l.opts.Native {
		canvas = image.Pt(info.Width, info.Height)
	}
	return decodeVideo(ctx, ref, path, info, canvas, l.opts.MaxUpscale, l.opts.FPS, l.opts.Dir)
}

func (l *Loader) still(ref Ref, img image.Image) *Still {
	l.mu.Lock()
	hold := l.opts.StillDuration
	l.mu.Unlock()
	if l.opts.Native {
		return NewStill(ref, img, img.Bounds().Size(), 1, hold)
	}
	return NewStill(ref, img, l.opts.Canvas, l.opts.MaxUpscale, hold)
}

// localize returns a readable local path for ref, fetching remote files once.
func (l *Loader) localize(ctx context.Context, ref Ref) (string, error) {
	if !ref.Remote {
		if _, err := os.Stat(ref.Location); err != nil {
			return "", err
		}
		return ref.Location, nil
	}

	v, err, _ := l.group.Do("fetch:"+ref.Location, func() (any, error) {
		l.mu.Lock()
		p, ok := l.fetched[ref.Location]
		l.mu.Unlock()
		if ok {
			return p, nil
		}
		if l.opts.Fetcher == nil {
			return nil, fmt.Errorf("remote reference without a fetcher")
		}
		start := time.Now()
		p, err := l.opts.Fetcher.Fetch(ctx, ref.Location, l.opts.Dir)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.fetched[ref.Location] = p
		l.mu.Unlock()
		l.logger.Info().Str("url", ref.Location).Dur("took", time.Since(start)).Msg("source fetched")
		return p, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Close releases every cached handle and the scratch directory if the loader owns it.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errList []error
	for key, m := range l.media {
		if err := m.Close(); err != nil {
			errList = append(errList, fmt.Errorf("close %s: %w", key, err))
		}
	}
	l.media = make(map[string]Media)
	l.audio = make(map[string]*Audio)
	l.fetched = make(map[string]string)

	if l.ownDir {
		if err := os.RemoveAll(l.opts.Dir); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}
