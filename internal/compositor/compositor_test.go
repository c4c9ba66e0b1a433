package compositor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ivlev/reelforge/internal/effects"
	"github.com/ivlev/reelforge/internal/source"
	"github.com/ivlev/reelforge/internal/timeline"
)

var (
	white = color.RGBA{255, 255, 255, 255}
	red   = color.RGBA{255, 0, 0, 255}
	blue  = color.RGBA{0, 0, 255, 255}
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func stillOf(name string, w, h int, c color.RGBA, canvas image.Point, d float64) source.Media {
	return source.NewStill(source.Ref{Location: name}, solid(w, h, c), canvas, 1, d)
}

func canvas(w, h int) timeline.Canvas {
	return timeline.Canvas{Width: w, Height: h, Background: white}
}

func near(got, want color.RGBA) bool {
	d := func(a, b uint8) int {
		if a > b {
			return int(a - b)
		}
		return int(b - a)
	}
	return d(got.R, want.R) < 8 && d(got.G, want.G) < 8 && d(got.B, want.B) < 8
}

func render(t *testing.T, c *Compositor, n int) *image.RGBA {
	t.Helper()
	frame, err := c.Render(n)
	if err != nil {
		t.Fatalf("Render(%d) failed: %v", n, err)
	}
	return frame
}

func expectPixel(t *testing.T, frame *image.RGBA, x, y int, want color.RGBA) {
	t.Helper()
	if got := frame.RGBAAt(x, y); !near(got, want) {
		t.Errorf("pixel (%d,%d) = %v, want %v", x, y, got, want)
	}
}

func TestFrameCount(t *testing.T) {
	tests := []struct {
		d    float64
		fps  int
		want int
	}{
		{14.5, 30, 435},
		{3, 120, 360},
		{3, 30, 90},
		{0.01, 30, 1},
		{1.0 / 3, 30, 10},
		{0, 30, 0},
	}
	for _, tt := range tests {
		if got := FrameCount(tt.d, tt.fps); got != tt.want {
			t.Errorf("FrameCount(%v, %d) = %d, want %d", tt.d, tt.fps, got, tt.want)
		}
	}
}

func TestStaticLayerIsCentered(t *testing.T) {
	cv := canvas(100, 100)
	m := stillOf("red", 20, 20, red, image.Pt(100, 100), 1)
	tl, err := timeline.Single(m, effects.Static{}, 1, cv)
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(tl, 10, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if c.FrameCount() != 10 {
		t.Fatalf("Expected 10 frames, got %d", c.FrameCount())
	}
	frame := render(t, c, 0)
	expectPixel(t, frame, 50, 50, red)
	expectPixel(t, frame, 40, 40, red)
	expectPixel(t, frame, 39, 50, white)
	expectPixel(t, frame, 60, 50, white)
}

func TestSlideTransitionTilesCanvas(t *testing.T) {
	size := image.Pt(100, 100)
	clips := []timeline.Clip{
		{Media: stillOf("red", 100, 100, red, size, 2)},
		{Media: stillOf("blue", 100, 100, blue, size, 2)},
	}
	tl, err := timeline.Schedule(clips, timeline.Options{
		Canvas:     canvas(100, 100),
		Transition: 0.5,
		Directions: timeline.FixedDirection(effects.Right),
	})
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(tl, 4, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if c.FrameCount() != 14 {
		t.Fatalf("Expected 14 frames for 3.5s at 4fps, got %d", c.FrameCount())
	}

	// t=1.75 is halfway through the transition starting at 1.5
	mid := render(t, c, 7)
	expectPixel(t, mid, 25, 50, blue)
	expectPixel(t, mid, 75, 50, red)
	for y := 0; y < 100; y += 9 {
		for x := 0; x < 100; x += 3 {
			if near(mid.RGBAAt(x, y), white) {
				t.Fatalf("background visible at (%d,%d) during slide", x, y)
			}
		}
	}

	expectPixel(t, render(t, c, 5), 50, 50, red)
	expectPixel(t, render(t, c, 8), 50, 50, blue)
}

func TestRevealWipe(t *testing.T) {
	m := stillOf("red", 100, 100, red, image.Pt(100, 100), 2)
	rev, _ := effects.NewReveal(effects.Right, 2)
	tl, err := timeline.Single(m, rev, 2, canvas(100, 100))
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(tl, 10, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	first := render(t, c, 0)
	for x := 0; x < 100; x += 7 {
		expectPixel(t, first, x, 50, white)
	}

	half := render(t, c, 10)
	expectPixel(t, half, 0, 50, red)
	expectPixel(t, half, 49, 50, red)
	expectPixel(t, half, 50, 50, white)
	expectPixel(t, half, 99, 50, white)

	// the revealed area only grows
	prev := 0
	for n := 0; n < c.FrameCount(); n++ {
		f := render(t, c, n)
		count := 0
		for x := 0; x < 100; x++ {
			if near(f.RGBAAt(x, 10), red) {
				count++
			}
		}
		if count < prev {
			t.Fatalf("frame %d reveals %d columns, fewer than %d before", n, count, prev)
		}
		prev = count
	}
}

func TestZoomWithUpscale(t *testing.T) {
	m := stillOf("red", 100, 100, red, image.Pt(100, 100), 1)
	z, _ := effects.NewZoom(0.5, 1.0, 1, effects.SmootherStepEasing, 2)
	tl, err := timeline.Single(m, z, 1, canvas(100, 100))
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(tl, 10, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	first := render(t, c, 0)
	expectPixel(t, first, 50, 50, red)
	expectPixel(t, first, 30, 50, red)
	expectPixel(t, first, 20, 50, white)
	expectPixel(t, first, 50, 10, white)

	last := render(t, c, c.FrameCount()-1)
	expectPixel(t, last, 5, 50, red)
	expectPixel(t, last, 50, 5, red)
}

func TestShakeRotatesAboutCenter(t *testing.T) {
	m := stillOf("red", 50, 50, red, image.Pt(100, 100), 1)
	sh, _ := effects.NewShake(45, 1)
	tl, err := timeline.Single(m, sh, 1, canvas(100, 100))
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(tl, 4, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	still := render(t, c, 0)
	expectPixel(t, still, 27, 27, red)
	expectPixel(t, still, 50, 18, white)

	// t=0.25: rotated by the full 45 degrees
	rotated := render(t, c, 1)
	expectPixel(t, rotated, 50, 50, red)
	expectPixel(t, rotated, 50, 18, red)
	expectPixel(t, rotated, 27, 27, white)
}

type exhaustedMedia struct {
	source.Media
}

func (exhaustedMedia) Frame(t float64, _ *image.RGBA) (*image.RGBA, error) {
	return nil, fmt.Errorf("at %.3f: %w", t, source.ErrSourceExhausted)
}

func TestExhaustedSourceIsTransparent(t *testing.T) {
	m := exhaustedMedia{stillOf("red", 100, 100, red, image.Pt(100, 100), 1)}
	tl, err := timeline.Single(m, effects.Static{}, 1, canvas(100, 100))
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(tl, 10, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	frame := render(t, c, 3)
	expectPixel(t, frame, 50, 50, white)
	if c.Warnings() != 1 {
		t.Errorf("Expected 1 warning, got %d", c.Warnings())
	}
}

func TestRenderOutOfRange(t *testing.T) {
	m := stillOf("red", 10, 10, red, image.Pt(10, 10), 1)
	tl, _ := timeline.Single(m, effects.Static{}, 1, canvas(10, 10))
	c, _ := New(tl, 10, zerolog.Nop())
	if _, err := c.Render(10); err == nil {
		t.Error("Expected error past the last frame")
	}
	if _, err := c.Render(-1); err == nil {
		t.Error("Expected error for negative frame")
	}
}

func TestParallelRenderIsDeterministic(t *testing.T) {
	size := image.Pt(60, 100)
	clips := []timeline.Clip{
		{Media: stillOf("red", 60, 40, red, size, 1)},
		{Media: stillOf("blue", 30, 80, blue, size, 1)},
		{Media: stillOf("red2", 50, 50, red, size, 1)},
	}
	tl, err := timeline.Schedule(clips, timeline.Options{
		Canvas:     canvas(60, 100),
		Transition: 0.3,
		Directions: timeline.RandomDirections(3),
	})
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(tl, 20, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	sequential := make([][]byte, c.FrameCount())
	for n := range sequential {
		f := render(t, c, n)
		sequential[n] = append([]byte(nil), f.Pix...)
	}

	var wg sync.WaitGroup
	parallel := make([][]byte, c.FrameCount())
	for n := c.FrameCount() - 1; n >= 0; n-- {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := c.Render(n)
			if err != nil {
				t.Error(err)
				return
			}
			parallel[n] = append([]byte(nil), f.Pix...)
		}()
	}
	wg.Wait()

	for n := range sequential {
		if !bytes.Equal(sequential[n], parallel[n]) {
			t.Fatalf("frame %d differs between sequential and parallel rendering", n)
		}
	}
}
