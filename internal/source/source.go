package source

import (
	"errors"
	"fmt"
	"image"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/ivlev/reelforge/internal/errs"
)

// ErrSourceExhausted is returned by Frame when t lies beyond the decoded frames.
var ErrSourceExhausted = errors.New("source exhausted")

type Kind int

const (
	KindVideo Kind = iota
	KindStill
)

func (k Kind) String() string {
	if k == KindStill {
		return "still"
	}
	return "video"
}

// Ref is a parsed media reference: a local path, an http(s) URL,
// an optional PDF page ("deck.pdf#page=3") or a generated QR still ("qr:<text>").
type Ref struct {
	Location string
	Remote   bool
	Page     int
	Text     string
}

const qrPrefix = "qr:"

func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, errs.Configf("source", "empty media reference")
	}
	if strings.HasPrefix(s, qrPrefix) {
		text := strings.TrimPrefix(s, qrPrefix)
		if text == "" {
			return Ref{}, errs.Configf("source", "qr reference %q has no payload", s)
		}
		return Ref{Text: text}, nil
	}

	ref := Ref{Location: s}
	if i := strings.LastIndex(s, "#page="); i >= 0 {
		n, err := strconv.Atoi(s[i+len("#page="):])
		if err != nil || n < 1 {
			return Ref{}, errs.Configf("source", "invalid page in %q", s)
		}
		ref.Location, ref.Page = s[:i], n
	}

	if strings.HasPrefix(ref.Location, "http://") || strings.HasPrefix(ref.Location, "https://") {
		u, err := url.Parse(ref.Location)
		if err != nil || u.Host == "" {
			return Ref{}, errs.Configf("source", "invalid url %q", s)
		}
		ref.Remote = true
	}
	return ref, nil
}

func (r Ref) String() string {
	switch {
	case r.Text != "":
		return qrPrefix + r.Text
	case r.Page > 0:
		return fmt.Sprintf("%s#page=%d", r.Location, r.Page)
	}
	return r.Location
}

// Media is a decoded, time-indexed visual source already fitted to the canvas.
// Implementations are immutable after loading and safe for concurrent Frame calls.
type Media interface {
	Ref() Ref
	Kind() Kind
	// Natural is the size before fitting.
	Natural() image.Point
	// Size is the fitted frame size.
	Size() image.Point
	Duration() float64
	// Frame returns the frame shown at t seconds. Video sources decode into buf
	// (which must have Size bounds); stills return their shared image. The
	// result must not be modified.
	Frame(t float64, buf *image.RGBA) (*image.RGBA, error)
	Close() error
}

// FitScale is min(maxUpscale, W/w, H/h): the largest scale that keeps the
// source inside the canvas without enlarging it past maxUpscale.
func FitScale(natural, canvas image.Point, maxUpscale float64) float64 {
	if natural.X <= 0 || natural.Y <= 0 {
		return 1
	}
	s := math.Min(float64(canvas.X)/float64(natural.X), float64(canvas.Y)/float64(natural.Y))
	if maxUpscale > 0 {
		s = math.Min(s, maxUpscale)
	}
	return s
}

// FitSize applies FitScale and rounds to whole pixels, never exceeding the canvas.
func FitSize(natural, canvas image.Point, maxUpscale float64) image.Point {
	s := FitScale(natural, canvas, maxUpscale)
	w := int(math.Round(float64(natural.X) * s))
	h := int(math.Round(float64(natural.Y) * s))
	return image.Pt(clampInt(w, 1, canvas.X), clampInt(h, 1, canvas.Y))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if hi >= lo && v > hi {
		return hi
	}
	return v
}
