// Package timeline places clips on a shared output timeline.
//
// Consecutive clips overlap by the transition duration τ. During each overlap
// the outgoing clip's tail slides off the canvas while the incoming clip's
// head slides on; outside overlaps every clip shows its body untouched.
// Layers are emitted in stacking order: later layers are drawn on top.
package timeline

import (
	"fmt"
	"image/color"
	"math"
	"math/rand"
	"sort"

	"github.com/ivlev/reelforge/internal/effects"
	"github.com/ivlev/reelforge/internal/errs"
	"github.com/ivlev/reelforge/internal/source"
)

// Epsilon absorbs floating point drift between adjacent layer boundaries.
const Epsilon = 1e-9

type Canvas struct {
	Width      int
	Height     int
	Background color.RGBA
	Duration   float64
}

func (c Canvas) Size() effects.Size {
	return effects.Size{W: c.Width, H: c.Height}
}

type Role int

const (
	Body Role = iota
	Tail
	Head
)

func (r Role) String() string {
	switch r {
	case Tail:
		return "tail"
	case Head:
		return "head"
	}
	return "body"
}

// Layer is one scheduled window of a source. Layers are immutable once scheduled.
type Layer struct {
	Stack          int
	Clip           int
	Role           Role
	Media          source.Media
	StartOffset    float64
	EndOffset      float64
	PlacementStart float64
	Effect         effects.Binding
}

func (l Layer) Duration() float64 { return l.EndOffset - l.StartOffset }

func (l Layer) PlacementEnd() float64 { return l.PlacementStart + l.Duration() }

// Contains reports whether output time t falls inside [PlacementStart, PlacementEnd).
func (l Layer) Contains(t float64) bool {
	return t >= l.PlacementStart-Epsilon && t < l.PlacementEnd()-Epsilon
}

// Local is the elapsed time since the layer appeared, clamped at 0.
func (l Layer) Local(t float64) float64 {
	return math.Max(0, t-l.PlacementStart)
}

// SourceTime maps output time t to the position inside the source.
func (l Layer) SourceTime(t float64) float64 {
	return l.StartOffset + l.Local(t)
}

type Timeline struct {
	Canvas     Canvas
	Transition float64
	Layers     []Layer
}

// Clip is one entry of the ordered input. A zero Duration uses the media's own length.
type Clip struct {
	Media    source.Media
	Duration float64
}

// DirectionPicker chooses the slide direction of the i-th transition.
type DirectionPicker func(i int) effects.Direction

func FixedDirection(d effects.Direction) DirectionPicker {
	return func(int) effects.Direction { return d }
}

// RandomDirections draws from effects.Directions with a seeded source, so a
// schedule built twice with the same seed is identical.
func RandomDirections(seed int64) DirectionPicker {
	rng := rand.New(rand.NewSource(seed))
	return func(int) effects.Direction {
		return effects.Directions[rng.Intn(len(effects.Directions))]
	}
}

type Options struct {
	Canvas     Canvas
	Transition float64
	Directions DirectionPicker
}

// TotalDuration is Σd − (k−1)τ.
func TotalDuration(durations []float64, tau float64) float64 {
	sum := 0.0
	for _, d := range durations {
		sum += d
	}
	if len(durations) > 1 {
		sum -= float64(len(durations)-1) * tau
	}
	return sum
}

// Schedule lays clips out with slide transitions of length opts.Transition.
func Schedule(clips []Clip, opts Options) (*Timeline, error) {
	if len(clips) == 0 {
		return nil, errs.Configf("clips", "empty layer list")
	}
	if err := validateCanvas(opts.Canvas); err != nil {
		return nil, err
	}
	tau := opts.Transition
	if math.IsNaN(tau) || math.IsInf(tau, 0) || tau < 0 {
		return nil, errs.Configf("transition", "must be a non-negative duration, got %v", tau)
	}

	durations := make([]float64, len(clips))
	shortest := math.Inf(1)
	for i, c := range clips {
		if c.Media == nil {
			return nil, errs.Configf("clips", "clip %d has no media", i)
		}
		d := c.Duration
		if d == 0 {
			d = c.Media.Duration()
		}
		if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
			return nil, errs.Configf("clips", "clip %d (%s) has non-positive duration %v", i, c.Media.Ref(), d)
		}
		if d > c.Media.Duration()+Epsilon {
			return nil, errs.Configf("clips", "clip %d (%s) requests %.3fs but the source has %.3fs", i, c.Media.Ref(), d, c.Media.Duration())
		}
		durations[i] = d
		shortest = math.Min(shortest, d)
	}
	if len(clips) > 1 && tau >= shortest {
		return nil, errs.Configf("transition", "degenerate overlap: %.3fs is not shorter than the shortest clip (%.3fs)", tau, shortest)
	}

	total := TotalDuration(durations, tau)
	if total <= 0 {
		return nil, errs.Configf("clips", "total duration %.3fs must be positive", total)
	}

	pick := opts.Directions
	if pick == nil {
		pick = FixedDirection(effects.Right)
	}

	tl := &Timeline{Canvas: opts.Canvas, Transition: tau}
	tl.Canvas.Duration = total

	last := len(clips) - 1
	start := 0.0
	for i, c := range clips {
		d := durations[i]

		lead, trail := 0.0, 0.0
		if i > 0 {
			lead = tau
		}
		if i < last {
			trail = tau
		}
		// A middle clip shorter than 2τ has no body: its tail starts while its
		// head is still sliding in, and both are drawn.
		if d-trail-lead > Epsilon {
			tl.add(Layer{
				Clip:           i,
				Role:           Body,
				Media:          c.Media,
				StartOffset:    lead,
				EndOffset:      d - trail,
				PlacementStart: start + lead,
				Effect:         effects.Static{},
			})
		}

		if i == last {
			break
		}
		next := start + d - tau
		if tau > 0 {
			dir := pick(i)
			out, err := effects.NewSlide(dir, tau, effects.Outgoing)
			if err != nil {
				return nil, errs.Configf("transition", "%v", err)
			}
			in, err := effects.NewSlide(dir, tau, effects.Incoming)
			if err != nil {
				return nil, errs.Configf("transition", "%v", err)
			}
			tl.add(Layer{
				Clip:           i,
				Role:           Tail,
				Media:          c.Media,
				StartOffset:    d - tau,
				EndOffset:      d,
				PlacementStart: next,
				Effect:         out,
			})
			tl.add(Layer{
				Clip:           i + 1,
				Role:           Head,
				Media:          clips[i+1].Media,
				StartOffset:    0,
				EndOffset:      tau,
				PlacementStart: next,
				Effect:         in,
			})
		}
		start = next
	}
	return tl, nil
}

// Single builds a one-layer timeline for a single-source effect render.
func Single(media source.Media, binding effects.Binding, duration float64, canvas Canvas) (*Timeline, error) {
	if media == nil {
		return nil, errs.Configf("source", "no media")
	}
	if err := validateCanvas(canvas); err != nil {
		return nil, err
	}
	if math.IsNaN(duration) || duration <= 0 {
		return nil, errs.Configf("duration", "must be positive, got %v", duration)
	}
	if duration > media.Duration()+Epsilon {
		return nil, errs.Configf("duration", "%.3fs exceeds source length %.3fs", duration, media.Duration())
	}
	if binding == nil {
		binding = effects.Static{}
	}

	tl := &Timeline{Canvas: canvas}
	tl.Canvas.Duration = duration
	tl.add(Layer{
		Role:      Body,
		Media:     media,
		EndOffset: duration,
		Effect:    binding,
	})
	return tl, nil
}

func (tl *Timeline) add(l Layer) {
	l.Stack = len(tl.Layers)
	tl.Layers = append(tl.Layers, l)
}

// Active returns the layers visible at t in ascending stacking order.
func (tl *Timeline) Active(t float64) []Layer {
	var active []Layer
	for _, l := range tl.Layers {
		if l.Contains(t) {
			active = append(active, l)
		}
	}
	return active
}

// Validate checks the invariants the compositor relies on: monotonic placement,
// gap-free coverage of [0, Duration), unique stacking, source windows inside their
// sources and effects defined at every sampled instant.
func (tl *Timeline) Validate() error {
	if len(tl.Layers) == 0 {
		return errs.Inconsistent("timeline", "no layers")
	}

	seen := make(map[int]bool, len(tl.Layers))
	prev := math.Inf(-1)
	size := tl.Canvas.Size()
	for i, l := range tl.Layers {
		if seen[l.Stack] {
			return errs.Inconsistent("stacking", "layer %d reuses stack index %d", i, l.Stack)
		}
		seen[l.Stack] = true

		if l.PlacementStart < prev-Epsilon {
			return errs.Inconsistent("placement", "layer %d starts at %.6f before layer %d at %.6f", i, l.PlacementStart, i-1, prev)
		}
		prev = l.PlacementStart

		if l.Duration() <= 0 {
			return errs.Inconsistent("window", "layer %d has empty window [%.6f, %.6f)", i, l.StartOffset, l.EndOffset)
		}
		if l.StartOffset < -Epsilon || l.EndOffset > l.Media.Duration()+Epsilon {
			return errs.Inconsistent("window", "layer %d window [%.6f, %.6f) exceeds source length %.6f", i, l.StartOffset, l.EndOffset, l.Media.Duration())
		}

		for _, t := range []float64{0, l.Duration() / 2, l.Duration()} {
			tr := l.Effect.At(t, size)
			if !finite(tr.OffsetX, tr.OffsetY, tr.Scale, tr.Rotation) {
				return errs.Inconsistent("effect", "layer %d %s undefined at t=%.6f", i, l.Effect, t)
			}
		}
	}

	spans := make([][2]float64, len(tl.Layers))
	for i, l := range tl.Layers {
		spans[i] = [2]float64{l.PlacementStart, l.PlacementEnd()}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i][0] < spans[j][0] })

	covered := 0.0
	for _, s := range spans {
		if s[0] > covered+Epsilon {
			return errs.Inconsistent("coverage", "gap between %.6f and %.6f", covered, s[0])
		}
		covered = math.Max(covered, s[1])
	}
	if covered < tl.Canvas.Duration-Epsilon {
		return errs.Inconsistent("coverage", "layers end at %.6f before canvas end %.6f", covered, tl.Canvas.Duration)
	}
	return nil
}

func (tl *Timeline) String() string {
	return fmt.Sprintf("timeline(%dx%d, %.3fs, %d layers)", tl.Canvas.Width, tl.Canvas.Height, tl.Canvas.Duration, len(tl.Layers))
}

func validateCanvas(c Canvas) error {
	if c.Width <= 0 || c.Height <= 0 {
		return errs.Configf("canvas", "size must be positive, got %dx%d", c.Width, c.Height)
	}
	return nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
