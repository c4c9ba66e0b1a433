package source

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/skip2/go-qrcode"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	qrSide   = 1024
	pointDPI = 72.0
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".bmp": true,
}

// IsImagePath reports whether path has a still-image extension.
func IsImagePath(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsPDFPath reports whether path is a PDF document.
func IsPDFPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// Still is a single image held for a fixed duration.
type Still struct {
	ref      Ref
	natural  image.Point
	img      *image.RGBA
	duration float64
}

func (s *Still) Ref() Ref             { return s.ref }
func (s *Still) Kind() Kind           { return KindStill }
func (s *Still) Natural() image.Point { return s.natural }
func (s *Still) Size() image.Point    { return s.img.Rect.Size() }
func (s *Still) Duration() float64    { return s.duration }
func (s *Still) Close() error         { return nil }

func (s *Still) Frame(t float64, _ *image.RGBA) (*image.RGBA, error) {
	if t < 0 || t >= s.duration+1e-9 {
		return nil, fmt.Errorf("%s at %.3fs: %w", s.ref, t, ErrSourceExhausted)
	}
	return s.img, nil
}

// NewStill fits img into canvas and holds it for duration seconds.
func NewStill(ref Ref, img image.Image, canvas image.Point, maxUpscale, duration float64) *Still {
	natural := img.Bounds().Size()
	return &Still{
		ref:      ref,
		natural:  natural,
		img:      fitImage(img, FitSize(natural, canvas, maxUpscale)),
		duration: duration,
	}
}

func decodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// renderPDFPage rasterizes a 1-based page at the DPI that lands it on its fitted size.
func renderPDFPage(path string, page int, canvas image.Point, maxUpscale float64) (image.Image, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	if page < 1 {
		page = 1
	}
	if page > doc.NumPage() {
		return nil, fmt.Errorf("page %d out of range (document has %d)", page, doc.NumPage())
	}

	bounds, err := doc.Bound(page - 1)
	if err != nil {
		return nil, err
	}
	scale := FitScale(bounds.Size(), canvas, maxUpscale)
	return doc.ImageDPI(page-1, math.Max(1, pointDPI*scale))
}

func renderQR(text string) (image.Image, error) {
	q, err := qrcode.New(text, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	q.BackgroundColor = color.White
	q.ForegroundColor = color.Black
	return q.Image(qrSide), nil
}

// fitImage resamples src to size with Catmull-Rom, or copies it when no scaling is needed.
func fitImage(src image.Image, size image.Point) *image.RGBA {
	dst := image.NewRGBA(image.Rectangle{Max: size})
	if src.Bounds().Size() == size {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
		return dst
	}
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}
