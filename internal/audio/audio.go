// Package audio fits a background track to the video length by looping or trimming.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/ivlev/reelforge/internal/errs"
	"github.com/ivlev/reelforge/internal/source"
)

// DefaultEpsilon is the slack under which a track counts as long enough to trim
// rather than loop. One millisecond is below a video frame at any practical rate.
const DefaultEpsilon = 1e-3

// Track is an audio source to be fitted.
type Track struct {
	Path    string
	Natural float64
	Volume  float64
}

// Plan describes how a track of natural length reaches the target length.
type Plan struct {
	Natural float64
	Target  float64
	// Loops is the number of concatenated copies; 1 means trim only.
	Loops int
}

func (p Plan) Looped() bool { return p.Loops > 1 }

// Samples is the exact length of the rendered track at rate.
func (p Plan) Samples(rate int) int64 {
	return int64(math.Round(p.Target * float64(rate)))
}

// PlanFor loops when natural < target−eps, repeating ceil(target/natural) times,
// and otherwise trims. Both outcomes are cut to exactly target.
func PlanFor(natural, target, eps float64) (Plan, error) {
	if math.IsNaN(natural) || natural <= 0 {
		return Plan{}, errs.Configf("audio", "natural duration must be positive, got %v", natural)
	}
	if math.IsNaN(target) || target <= 0 {
		return Plan{}, errs.Configf("audio", "target duration must be positive, got %v", target)
	}
	if eps < 0 || math.IsNaN(eps) {
		eps = 0
	}

	p := Plan{Natural: natural, Target: target, Loops: 1}
	if natural < target-eps {
		p.Loops = int(math.Ceil(target / natural))
	}
	return p, nil
}

// Verify reports a ConsistencyError when actual differs from target by more
// than one sample period at rate.
func Verify(actual, target float64, rate int) error {
	tolerance := 1e-6
	if rate > 0 {
		tolerance += 1 / float64(rate)
	}
	if diff := math.Abs(actual - target); diff > tolerance {
		return errs.Inconsistent("audio duration", "rendered %.6fs, expected %.6fs (off by %.6fs, tolerance %.6fs)", actual, target, diff, tolerance)
	}
	return nil
}

// Result is a reconciled track ready for muxing.
type Result struct {
	Path     string
	Duration float64
	Plan     Plan
}

type Reconciler struct {
	SampleRate int
	Epsilon    float64
	logger     zerolog.Logger
	probe      func(ctx context.Context, path string) (float64, error)
}

func NewReconciler(sampleRate int, epsilon float64, logger zerolog.Logger) *Reconciler {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	return &Reconciler{
		SampleRate: sampleRate,
		Epsilon:    epsilon,
		logger:     logger,
		probe:      probeDuration,
	}
}

// Reconcile renders track to a PCM WAV inside dir whose length equals target.
func (r *Reconciler) Reconcile(ctx context.Context, track Track, target float64, dir string) (*Result, error) {
	if math.IsNaN(track.Volume) || track.Volume < 0 {
		return nil, errs.Configf("volume", "must be non-negative, got %v", track.Volume)
	}
	plan, err := PlanFor(track.Natural, target, r.Epsilon)
	if err != nil {
		return nil, err
	}

	out := filepath.Join(dir, "audio_reconciled.wav")
	args := BuildArgs(track, plan, r.SampleRate, out)

	start := time.Now()
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errs.EncodingError{Stage: "audio", Err: err, Output: strings.TrimSpace(stderr.String())}
	}

	actual, err := r.probe(ctx, out)
	if err != nil {
		return nil, &errs.EncodingError{Stage: "audio probe", Err: err}
	}
	if err := Verify(actual, target, r.SampleRate); err != nil {
		return nil, err
	}

	r.logger.Info().
		Float64("natural", plan.Natural).
		Float64("target", plan.Target).
		Int("loops", plan.Loops).
		Float64("volume", track.Volume).
		Dur("took", time.Since(start)).
		Msg("audio reconciled")
	return &Result{Path: out, Duration: actual, Plan: plan}, nil
}

// BuildArgs returns the ffmpeg arguments that loop, pad, trim and scale the track.
// Padding covers tracks that fall short of the target by less than epsilon.
func BuildArgs(track Track, plan Plan, rate int, out string) []string {
	samples := plan.Samples(rate)

	var in *ffmpeg.Stream
	if plan.Looped() {
		in = ffmpeg.Input(track.Path, ffmpeg.KwArgs{"stream_loop": plan.Loops - 1})
	} else {
		in = ffmpeg.Input(track.Path)
	}

	return in.Audio().
		Filter("aresample", ffmpeg.Args{fmt.Sprintf("%d", rate)}).
		Filter("apad", ffmpeg.Args{}, ffmpeg.KwArgs{"whole_len": samples}).
		Filter("atrim", ffmpeg.Args{}, ffmpeg.KwArgs{"end_sample": samples}).
		Filter("volume", ffmpeg.Args{fmt.Sprintf("%.4f", track.Volume)}).
		Output(out, ffmpeg.KwArgs{"c:a": "pcm_s16le", "ar": rate}).
		OverWriteOutput().
		GetArgs()
}

func probeDuration(ctx context.Context, path string) (float64, error) {
	info, err := source.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}
