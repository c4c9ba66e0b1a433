// Package compositor turns a scheduled timeline into canvas frames.
//
// Render is a pure function of the frame index: it reads only the immutable
// timeline and the loaded sources, so frames can be produced in parallel and
// out of order.
package compositor

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"
	"sync/atomic"

	"github.com/rs/zerolog"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/ivlev/reelforge/internal/effects"
	"github.com/ivlev/reelforge/internal/errs"
	"github.com/ivlev/reelforge/internal/source"
	"github.com/ivlev/reelforge/internal/system"
	"github.com/ivlev/reelforge/internal/timeline"
)

type Compositor struct {
	tl       *timeline.Timeline
	fps      int
	frames   int
	bounds   image.Rectangle
	bg       *image.Uniform
	logger   zerolog.Logger
	warnings atomic.Int64
}

func New(tl *timeline.Timeline, fps int, logger zerolog.Logger) (*Compositor, error) {
	if tl == nil || len(tl.Layers) == 0 {
		return nil, errs.Configf("timeline", "no layers to composite")
	}
	if fps <= 0 {
		return nil, errs.Configf("fps", "must be positive, got %d", fps)
	}
	if tl.Canvas.Width <= 0 || tl.Canvas.Height <= 0 {
		return nil, errs.Configf("canvas", "size must be positive, got %dx%d", tl.Canvas.Width, tl.Canvas.Height)
	}
	return &Compositor{
		tl:     tl,
		fps:    fps,
		frames: FrameCount(tl.Canvas.Duration, fps),
		bounds: image.Rect(0, 0, tl.Canvas.Width, tl.Canvas.Height),
		bg:     image.NewUniform(tl.Canvas.Background),
		logger: logger,
	}, nil
}

// FrameCount is ceil(duration × fps), tolerant of representation error
// so that 14.5s at 30 fps is exactly 435 frames.
func FrameCount(duration float64, fps int) int {
	if duration <= 0 || fps <= 0 {
		return 0
	}
	return int(math.Ceil(duration*float64(fps) - 1e-9))
}

func (c *Compositor) FrameCount() int { return c.frames }

func (c *Compositor) FPS() int { return c.fps }

func (c *Compositor) Bounds() image.Rectangle { return c.bounds }

// Time is the output timestamp of frame n.
func (c *Compositor) Time(n int) float64 { return float64(n) / float64(c.fps) }

// Warnings counts layers dropped because their source had no frame.
func (c *Compositor) Warnings() int64 { return c.warnings.Load() }

// Render returns frame n in a buffer taken from the shared image pool.
// The caller owns it and should hand it back with system.PutImage.
func (c *Compositor) Render(n int) (*image.RGBA, error) {
	dst := system.GetImage(c.bounds)
	if err := c.RenderInto(n, dst); err != nil {
		system.PutImage(dst)
		return nil, err
	}
	return dst, nil
}

// RenderInto draws frame n onto dst, which must have the canvas bounds.
func (c *Compositor) RenderInto(n int, dst *image.RGBA) error {
	if n < 0 || n >= c.frames {
		return fmt.Errorf("frame %d out of range [0, %d)", n, c.frames)
	}
	if dst.Rect != c.bounds {
		return fmt.Errorf("frame buffer %v does not match canvas %v", dst.Rect, c.bounds)
	}

	draw.Draw(dst, c.bounds, c.bg, image.Point{}, draw.Src)

	t := c.Time(n)
	for _, layer := range c.tl.Active(t) {
		if err := c.drawLayer(dst, n, t, layer); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compositor) drawLayer(dst *image.RGBA, n int, t float64, layer timeline.Layer) error {
	var buf *image.RGBA
	if layer.Media.Kind() == source.KindVideo {
		buf = system.GetImage(image.Rectangle{Max: layer.Media.Size()})
		defer system.PutImage(buf)
	}

	src, err := layer.Media.Frame(layer.SourceTime(t), buf)
	if errors.Is(err, source.ErrSourceExhausted) {
		c.warnings.Add(1)
		cerr := errs.Inconsistent("layer", "frame %d: %v", n, err)
		c.logger.Warn().Err(cerr).Int("frame", n).Int("layer", layer.Stack).Msg("layer treated as transparent")
		return nil
	}
	if err != nil {
		return errs.Unavailable(layer.Media.Ref().String(), err)
	}

	tr := layer.Effect.At(layer.Local(t), c.tl.Canvas.Size())
	sr := src.Bounds()
	if tr.Wipe != nil {
		sr = tr.Wipe.Visible(sr)
		if sr.Empty() {
			return nil
		}
	}

	if tr.IsIdentityGeometry() {
		c.drawPlaced(dst, src, sr, tr)
		return nil
	}
	c.drawTransformed(dst, src, sr, tr)
	return nil
}

// drawPlaced copies the layer at its centered, offset position without resampling.
func (c *Compositor) drawPlaced(dst *image.RGBA, src *image.RGBA, sr image.Rectangle, tr effects.Transform) {
	full := src.Bounds()
	x0 := int(math.Round(float64(c.bounds.Dx()-full.Dx())/2 + tr.OffsetX))
	y0 := int(math.Round(float64(c.bounds.Dy()-full.Dy())/2 + tr.OffsetY))
	r := sr.Sub(full.Min).Add(image.Pt(x0, y0))
	draw.Draw(dst, r, src, sr.Min, draw.Over)
}

// drawTransformed scales and rotates the layer about its center. With an upscale
// factor the layer is first rendered at that multiple of the target resolution and
// then reduced with Catmull-Rom.
func (c *Compositor) drawTransformed(dst *image.RGBA, src *image.RGBA, sr image.Rectangle, tr effects.Transform) {
	aff := c.affine(src.Bounds(), tr)
	box := transformedBounds(aff, sr).Intersect(c.bounds)
	if box.Empty() {
		return
	}

	interp := xdraw.Interpolator(xdraw.CatmullRom)
	if tr.Scale == 1 {
		interp = xdraw.BiLinear
	}

	u := tr.Upscale
	if u <= 1 {
		interp.Transform(dst, aff, src, sr, xdraw.Over, nil)
		return
	}

	// the scratch always spans the whole canvas so every frame reuses one pooled size
	hiBox := image.Rect(box.Min.X*u, box.Min.Y*u, box.Max.X*u, box.Max.Y*u)
	scratch := system.GetCleared(image.Rect(0, 0, c.bounds.Dx()*u, c.bounds.Dy()*u), hiBox)
	defer system.PutImage(scratch)

	fu := float64(u)
	hi := f64.Aff3{
		aff[0] * fu, aff[1] * fu, aff[2] * fu,
		aff[3] * fu, aff[4] * fu, aff[5] * fu,
	}
	xdraw.CatmullRom.Transform(scratch, hi, src, sr, xdraw.Over, nil)
	xdraw.CatmullRom.Scale(dst, box, scratch, hiBox, xdraw.Over, nil)
}

// affine maps source pixels to canvas pixels: scale and rotate about the source
// center, then place that center at the canvas center plus the offset.
// Positive rotation turns the image counter-clockwise on screen.
func (c *Compositor) affine(sb image.Rectangle, tr effects.Transform) f64.Aff3 {
	theta := tr.Rotation * math.Pi / 180
	sin, cos := math.Sincos(theta)
	s := tr.Scale

	a, b := s*cos, s*sin
	d, e := -s*sin, s*cos

	hx := float64(sb.Min.X) + float64(sb.Dx())/2
	hy := float64(sb.Min.Y) + float64(sb.Dy())/2
	cx := float64(c.bounds.Dx())/2 + tr.OffsetX
	cy := float64(c.bounds.Dy())/2 + tr.OffsetY

	return f64.Aff3{
		a, b, cx - (a*hx + b*hy),
		d, e, cy - (d*hx + e*hy),
	}
}

// transformedBounds is the integer bounding box of r after aff.
func transformedBounds(aff f64.Aff3, r image.Rectangle) image.Rectangle {
	corners := [4][2]float64{
		{float64(r.Min.X), float64(r.Min.Y)},
		{float64(r.Max.X), float64(r.Min.Y)},
		{float64(r.Min.X), float64(r.Max.Y)},
		{float64(r.Max.X), float64(r.Max.Y)},
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range corners {
		x := aff[0]*p[0] + aff[1]*p[1] + aff[2]
		y := aff[3]*p[0] + aff[4]*p[1] + aff[5]
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
}
