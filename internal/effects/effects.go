// Package effects maps elapsed layer time to visual transform parameters.
//
// Every binding is a value type with no mutable state, so At may be called
// concurrently and in any order for any t.
package effects

import (
	"fmt"
	"image"
	"math"
	"strings"
)

// Size is the canvas extent the transforms are expressed against.
type Size struct {
	W, H int
}

// Transform describes how one layer is placed on the canvas at a given instant.
// The layer is centered on the canvas, scaled, rotated about its center,
// then displaced by (OffsetX, OffsetY).
type Transform struct {
	OffsetX  float64
	OffsetY  float64
	Scale    float64
	Rotation float64 // degrees, counter-clockwise
	Upscale  int     // supersampling factor used while resampling, 1 = none
	Wipe     *Wipe
}

// Identity is the transform of a static, centered layer.
func Identity() Transform {
	return Transform{Scale: 1, Upscale: 1}
}

// IsIdentityGeometry reports whether the layer can be copied without resampling.
func (t Transform) IsIdentityGeometry() bool {
	return t.Scale == 1 && t.Rotation == 0 && t.Upscale <= 1
}

type Kind int

const (
	KindStatic Kind = iota
	KindSlide
	KindZoom
	KindShake
	KindReveal
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindSlide:
		return "slide"
	case KindZoom:
		return "zoom"
	case KindShake:
		return "shake"
	case KindReveal:
		return "reveal"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind accepts the names printed by Kind.String.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k := KindStatic; k <= KindReveal; k++ {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown effect %q (static, slide, zoom, shake, reveal)", s)
}

// Binding is the closed set of effects a layer can carry:
// Static, Slide, Zoom, Shake and Reveal.
type Binding interface {
	Kind() Kind
	At(t float64, canvas Size) Transform
	String() string
	binding()
}

type Direction int

const (
	Right Direction = iota
	Left
	Down
	Up
)

// Directions lists the slide directions in the order the scheduler draws from.
var Directions = []Direction{Right, Left, Down, Up}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "right":
		return Right, nil
	case "left":
		return Left, nil
	case "down":
		return Down, nil
	case "up":
		return Up, nil
	}
	return 0, fmt.Errorf("unknown direction %q (left, right, up, down)", s)
}

func (d Direction) String() string {
	switch d {
	case Right:
		return "right"
	case Left:
		return "left"
	case Down:
		return "down"
	case Up:
		return "up"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// vector is the unit motion of content for d in image coordinates (y grows downwards).
func (d Direction) vector() (float64, float64) {
	switch d {
	case Left:
		return -1, 0
	case Down:
		return 0, 1
	case Up:
		return 0, -1
	}
	return 1, 0
}

func (d Direction) valid() bool {
	return d >= Right && d <= Up
}

// Static keeps the layer centered and untouched.
type Static struct{}

func (Static) Kind() Kind { return KindStatic }

func (Static) At(float64, Size) Transform { return Identity() }

func (Static) String() string { return "static" }

func (Static) binding() {}

// Role tells a slide whether its layer leaves or enters the canvas.
type Role int

const (
	Outgoing Role = iota
	Incoming
)

func (r Role) String() string {
	if r == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// Slide moves a layer across the full canvas extent during Duration.
// Outgoing layers start centered and end one extent away in Direction;
// incoming layers start one extent behind and end centered, so a pair with
// the same direction and duration tiles the canvas at every instant.
type Slide struct {
	Direction Direction
	Duration  float64
	Role      Role
}

func NewSlide(dir Direction, duration float64, role Role) (Slide, error) {
	if !dir.valid() {
		return Slide{}, fmt.Errorf("slide: invalid direction %d", int(dir))
	}
	if !positive(duration) {
		return Slide{}, fmt.Errorf("slide: duration must be positive, got %v", duration)
	}
	if role != Outgoing && role != Incoming {
		return Slide{}, fmt.Errorf("slide: invalid role %d", int(role))
	}
	return Slide{Direction: dir, Duration: duration, Role: role}, nil
}

func (s Slide) Kind() Kind { return KindSlide }

func (s Slide) At(t float64, canvas Size) Transform {
	p := progress(t, s.Duration)
	if s.Role == Incoming {
		p -= 1
	}
	vx, vy := s.Direction.vector()
	tr := Identity()
	tr.OffsetX = vx * float64(canvas.W) * p
	tr.OffsetY = vy * float64(canvas.H) * p
	return tr
}

func (s Slide) String() string {
	return fmt.Sprintf("slide(%s, %s, %.3fs)", s.Direction, s.Role, s.Duration)
}

func (Slide) binding() {}

// Zoom eases the layer scale from StartScale to EndScale over Duration.
type Zoom struct {
	StartScale float64
	EndScale   float64
	Duration   float64
	Easing     Easing
	Upscale    int
}

func NewZoom(start, end, duration float64, easing Easing, upscale int) (Zoom, error) {
	if !positive(start) || !positive(end) {
		return Zoom{}, fmt.Errorf("zoom: scales must be positive, got %v -> %v", start, end)
	}
	if !positive(duration) {
		return Zoom{}, fmt.Errorf("zoom: duration must be positive, got %v", duration)
	}
	if !easing.valid() {
		return Zoom{}, fmt.Errorf("zoom: invalid easing %d", int(easing))
	}
	if upscale < 1 {
		upscale = 1
	}
	return Zoom{StartScale: start, EndScale: end, Duration: duration, Easing: easing, Upscale: upscale}, nil
}

func (z Zoom) Kind() Kind { return KindZoom }

// Scale returns the layer scale at t.
func (z Zoom) Scale(t float64) float64 {
	return lerp(z.StartScale, z.EndScale, z.Easing.Apply(progress(t, z.Duration)))
}

func (z Zoom) At(t float64, _ Size) Transform {
	tr := Identity()
	tr.Scale = z.Scale(t)
	tr.Upscale = z.Upscale
	return tr
}

func (z Zoom) String() string {
	return fmt.Sprintf("zoom(%.3f -> %.3f, %s, %.3fs, x%d)", z.StartScale, z.EndScale, z.Easing, z.Duration, z.Upscale)
}

func (Zoom) binding() {}

// Shake rotates the centered layer by MaxAngle*sin(2*pi*Frequency*t).
type Shake struct {
	MaxAngle  float64
	Frequency float64
}

func NewShake(maxAngle, frequency float64) (Shake, error) {
	if math.IsNaN(maxAngle) || math.IsInf(maxAngle, 0) {
		return Shake{}, fmt.Errorf("shake: invalid angle %v", maxAngle)
	}
	if !positive(frequency) {
		return Shake{}, fmt.Errorf("shake: frequency must be positive, got %v", frequency)
	}
	return Shake{MaxAngle: maxAngle, Frequency: frequency}, nil
}

func (s Shake) Kind() Kind { return KindShake }

// Angle returns the rotation in degrees at t.
func (s Shake) Angle(t float64) float64 {
	return s.MaxAngle * math.Sin(2*math.Pi*s.Frequency*t)
}

func (s Shake) At(t float64, _ Size) Transform {
	tr := Identity()
	tr.Rotation = s.Angle(t)
	return tr
}

func (s Shake) String() string {
	return fmt.Sprintf("shake(%.2fdeg, %.2fHz)", s.MaxAngle, s.Frequency)
}

func (Shake) binding() {}

// Reveal uncovers the layer with a hard-edged wipe travelling in Direction.
type Reveal struct {
	Direction Direction
	Duration  float64
}

func NewReveal(dir Direction, duration float64) (Reveal, error) {
	if !dir.valid() {
		return Reveal{}, fmt.Errorf("reveal: invalid direction %d", int(dir))
	}
	if !positive(duration) {
		return Reveal{}, fmt.Errorf("reveal: duration must be positive, got %v", duration)
	}
	return Reveal{Direction: dir, Duration: duration}, nil
}

func (r Reveal) Kind() Kind { return KindReveal }

func (r Reveal) At(t float64, _ Size) Transform {
	tr := Identity()
	tr.Wipe = &Wipe{Direction: r.Direction, Progress: progress(t, r.Duration)}
	return tr
}

func (r Reveal) String() string {
	return fmt.Sprintf("reveal(%s, %.3fs)", r.Direction, r.Duration)
}

func (Reveal) binding() {}

// Wipe is the alpha field of a reveal at a fixed progress.
type Wipe struct {
	Direction Direction
	Progress  float64
}

// RevealAlpha is 1 where the normalized coordinate u lies strictly behind the wipe front p.
func RevealAlpha(u, p float64) float64 {
	if u < p {
		return 1
	}
	return 0
}

// Coordinate returns the normalized position of pixel (x, y) inside r along the wipe axis:
// 0 at the edge the wipe starts from, (n-1)/n at the opposite edge.
func (w Wipe) Coordinate(x, y int, r image.Rectangle) float64 {
	switch w.Direction {
	case Left:
		return float64(r.Max.X-1-x) / float64(r.Dx())
	case Down:
		return float64(y-r.Min.Y) / float64(r.Dy())
	case Up:
		return float64(r.Max.Y-1-y) / float64(r.Dy())
	}
	return float64(x-r.Min.X) / float64(r.Dx())
}

// Alpha returns the mask value of pixel (x, y) of a layer occupying r.
func (w Wipe) Alpha(x, y int, r image.Rectangle) float64 {
	return RevealAlpha(w.Coordinate(x, y, r), w.Progress)
}

// Visible returns the sub-rectangle of r where Alpha is 1. The wipe edge is hard,
// so the revealed area is always a rectangle anchored at the starting edge.
func (w Wipe) Visible(r image.Rectangle) image.Rectangle {
	switch w.Direction {
	case Left:
		n := revealed(w.Progress, r.Dx())
		return image.Rect(r.Max.X-n, r.Min.Y, r.Max.X, r.Max.Y)
	case Down:
		n := revealed(w.Progress, r.Dy())
		return image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+n)
	case Up:
		n := revealed(w.Progress, r.Dy())
		return image.Rect(r.Min.X, r.Max.Y-n, r.Max.X, r.Max.Y)
	}
	n := revealed(w.Progress, r.Dx())
	return image.Rect(r.Min.X, r.Min.Y, r.Min.X+n, r.Max.Y)
}

// revealed counts the pixels i in [0, n) with i/n < p.
func revealed(p float64, n int) int {
	k := int(math.Ceil(clamp01(p) * float64(n)))
	if k > n {
		k = n
	}
	return k
}

// progress maps t onto [0, 1] over duration.
func progress(t, duration float64) float64 {
	if duration <= 0 {
		return 1
	}
	return clamp01(t / duration)
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func positive(x float64) bool {
	return x > 0 && !math.IsInf(x, 0) && !math.IsNaN(x)
}
