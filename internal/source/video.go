package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Video is a clip decoded once to fitted raw RGBA frames at the output frame rate.
// Frames are read back from a temporary file, so memory stays flat regardless of length.
type Video struct {
	ref     Ref
	natural image.Point
	size    image.Point
	fps     float64
	frames  int
	path    string
	file    *os.File
}

func (v *Video) Ref() Ref { return v.ref }

func (v *Video) Kind() Kind { return KindVideo }

func (v *Video) Natural() image.Point { return v.natural }

func (v *Video) Size() image.Point { return v.size }

// Duration is the decoded length: frames / fps.
func (v *Video) Duration() float64 { return float64(v.frames) / v.fps }

// FrameCount returns the number of decoded frames.
func (v *Video) FrameCount() int { return v.frames }

func (v *Video) frameBytes() int { return v.size.X * v.size.Y * 4 }

func (v *Video) Frame(t float64, buf *image.RGBA) (*image.RGBA, error) {
	idx := int(math.Floor(t*v.fps + 1e-6))
	if idx == v.frames {
		// rounding at the very end of the window lands one past the last frame
		idx = v.frames - 1
	}
	if idx < 0 || idx >= v.frames {
		return nil, fmt.Errorf("%s at %.3fs (frame %d of %d): %w", v.ref, t, idx, v.frames, ErrSourceExhausted)
	}

	if buf == nil || buf.Rect.Size() != v.size {
		buf = image.NewRGBA(image.Rectangle{Max: v.size})
	}
	n := v.frameBytes()
	if _, err := v.file.ReadAt(buf.Pix[:n], int64(idx)*int64(n)); err != nil {
		return nil, fmt.Errorf("read frame %d of %s: %w", idx, v.ref, err)
	}
	return buf, nil
}

func (v *Video) Close() error {
	err := v.file.Close()
	if rerr := os.Remove(v.path); rerr != nil && !os.IsNotExist(rerr) && err == nil {
		err = rerr
	}
	return err
}

// decodeVideo converts path into fitted RGBA frames at fps inside dir.
func decodeVideo(ctx context.Context, ref Ref, path string, info *Info, canvas image.Point, maxUpscale float64, fps int, dir string) (*Video, error) {
	if !info.HasVideo || info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("no video stream")
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate %d", fps)
	}

	natural := image.Pt(info.Width, info.Height)
	size := FitSize(natural, canvas, maxUpscale)
	out := filepath.Join(dir, "decoded_"+uuid.NewString()+".rgba")

	args := decodeArgs(path, fps, size, out)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(out)
		return nil, fmt.Errorf("ffmpeg decode: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	f, err := os.Open(out)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		os.Remove(out)
		return nil, err
	}

	frameBytes := int64(size.X * size.Y * 4)
	frames := int(st.Size() / frameBytes)
	if frames == 0 {
		f.Close()
		os.Remove(out)
		return nil, fmt.Errorf("no frames decoded")
	}

	return &Video{
		ref:     ref,
		natural: natural,
		size:    size,
		fps:     float64(fps),
		frames:  frames,
		path:    out,
		file:    f,
	}, nil
}

// decodeArgs resamples the video stream of path to fps and the fitted size
// and writes raw RGBA frames to out. Audio is not mapped.
func decodeArgs(path string, fps int, size image.Point, out string) []string {
	return ffmpeg.Input(path).Video().
		Filter("fps", ffmpeg.Args{strconv.Itoa(fps)}).
		Filter("scale", ffmpeg.Args{fmt.Sprintf("%d:%d", size.X, size.Y)}, ffmpeg.KwArgs{"flags": "lanczos"}).
		Filter("setsar", ffmpeg.Args{"1"}).
		Output(out, ffmpeg.KwArgs{"f": "rawvideo", "pix_fmt": "rgba"}).
		OverWriteOutput().
		GetArgs()
}
