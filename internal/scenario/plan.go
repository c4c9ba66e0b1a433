package scenario

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/reelforge/internal/compositor"
	"github.com/ivlev/reelforge/internal/effects"
	"github.com/ivlev/reelforge/internal/timeline"
)

// Plan is a readable dump of a scheduled timeline.
type Plan struct {
	Version    string      `yaml:"version"`
	Canvas     PlanCanvas  `yaml:"canvas"`
	Transition float64     `yaml:"transition"`
	FPS        int         `yaml:"fps"`
	Frames     int         `yaml:"frames"`
	Layers     []PlanLayer `yaml:"layers"`
}

type PlanCanvas struct {
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
	Background string  `yaml:"background"`
	Duration   float64 `yaml:"duration"`
}

type PlanLayer struct {
	Stack     int        `yaml:"stack"`
	Clip      int        `yaml:"clip"`
	Role      string     `yaml:"role"`
	Source    string     `yaml:"source"`
	Window    [2]float64 `yaml:"window,flow"`
	Placement [2]float64 `yaml:"placement,flow"`
	Effect    string     `yaml:"effect"`
	Keyframes []Keyframe `yaml:"keyframes,omitempty"`
}

// Keyframe is the layer transform sampled at a layer-local time.
type Keyframe struct {
	Time     float64 `yaml:"time"`
	OffsetX  float64 `yaml:"offset_x"`
	OffsetY  float64 `yaml:"offset_y"`
	Scale    float64 `yaml:"scale"`
	Rotation float64 `yaml:"rotation"`
	Reveal   float64 `yaml:"reveal,omitempty"`
}

// FromTimeline describes tl with the transform of every non-static layer
// sampled at its start, middle and end.
func FromTimeline(tl *timeline.Timeline, fps int) *Plan {
	bg := tl.Canvas.Background
	p := &Plan{
		Version: Version,
		Canvas: PlanCanvas{
			Width:      tl.Canvas.Width,
			Height:     tl.Canvas.Height,
			Background: fmt.Sprintf("#%02X%02X%02X%02X", bg.R, bg.G, bg.B, bg.A),
			Duration:   tl.Canvas.Duration,
		},
		Transition: tl.Transition,
		FPS:        fps,
		Frames:     compositor.FrameCount(tl.Canvas.Duration, fps),
	}

	size := tl.Canvas.Size()
	for _, l := range tl.Layers {
		pl := PlanLayer{
			Stack:     l.Stack,
			Clip:      l.Clip,
			Role:      l.Role.String(),
			Source:    l.Media.Ref().String(),
			Window:    [2]float64{l.StartOffset, l.EndOffset},
			Placement: [2]float64{l.PlacementStart, l.PlacementEnd()},
			Effect:    l.Effect.String(),
		}
		if l.Effect.Kind() != effects.KindStatic {
			for _, t := range []float64{0, l.Duration() / 2, l.Duration()} {
				tr := l.Effect.At(t, size)
				kf := Keyframe{
					Time:     t,
					OffsetX:  tr.OffsetX,
					OffsetY:  tr.OffsetY,
					Scale:    tr.Scale,
					Rotation: tr.Rotation,
				}
				if tr.Wipe != nil {
					kf.Reveal = tr.Wipe.Progress
				}
				pl.Keyframes = append(pl.Keyframes, kf)
			}
		}
		p.Layers = append(p.Layers, pl)
	}
	return p
}

// Encode writes the plan as YAML.
func (p *Plan) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return err
	}
	return enc.Close()
}
