package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	xdraw "golang.org/x/image/draw"

	"github.com/ivlev/reelforge/internal/errs"
	"github.com/ivlev/reelforge/internal/system"
)

// Params are the codec settings of one export.
type Params struct {
	Width        int
	Height       int
	FPS          int
	Encoder      string
	Preset       string
	Quality      int
	PixelFormat  string
	AudioCodec   string
	AudioBitrate string
}

type VideoEncoder interface {
	// EncodeVideo consumes frames in order until the channel closes and returns
	// the number of frames written. Frames are handed back to the image pool.
	EncodeVideo(ctx context.Context, p Params, frames <-chan *image.RGBA, outPath string) (int, error)
	// Mux combines the encoded video with an optional audio track into finalPath.
	// Nothing appears at finalPath unless the whole write succeeds.
	Mux(ctx context.Context, p Params, videoPath, audioPath, finalPath string) error
}

type FFmpegEncoder struct {
	logger zerolog.Logger
}

func NewFFmpegEncoder(logger zerolog.Logger) *FFmpegEncoder {
	return &FFmpegEncoder{logger: logger}
}

// NormalizeDimensions rounds both sides down to even values, as 4:2:0 chroma requires.
func NormalizeDimensions(w, h int) (int, int) {
	return w &^ 1, h &^ 1
}

// ResolveEncoder maps "auto" to the best H.264 encoder available on this host.
func ResolveEncoder(name string) string {
	if name == "" || name == "auto" {
		enc, _ := system.GetBestH264Encoder()
		return enc
	}
	return name
}

func (e *FFmpegEncoder) EncodeVideo(ctx context.Context, p Params, frames <-chan *image.RGBA, outPath string) (int, error) {
	w, h := NormalizeDimensions(p.Width, p.Height)
	if w < 2 || h < 2 {
		return 0, errs.Configf("canvas", "%dx%d is too small to encode", p.Width, p.Height)
	}
	if w != p.Width || h != p.Height {
		e.logger.Info().Int("width", p.Width).Int("height", p.Height).Int("encoded_width", w).Int("encoded_height", h).Msg("normalized odd canvas size")
	}

	args := BuildEncodeArgs(p, w, h, outPath)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return 0, &errs.EncodingError{Stage: "video", Err: fmt.Errorf("stdin pipe error: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		return 0, &errs.EncodingError{Stage: "video", Err: fmt.Errorf("ffmpeg start error: %w", err)}
	}

	start := time.Now()
	target := image.Rect(0, 0, w, h)
	written := 0
	var writeErr error
	for frame := range frames {
		if writeErr == nil {
			writeErr = writeFrame(stdin, frame, target)
			if writeErr == nil {
				written++
			}
		}
		system.PutImage(frame)
		if writeErr != nil {
			break
		}
	}
	stdin.Close()

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return written, ctx.Err()
	}
	if writeErr != nil || waitErr != nil {
		cause := waitErr
		if cause == nil {
			cause = fmt.Errorf("write raw error: %w", writeErr)
		}
		return written, &errs.EncodingError{Stage: "video", Err: cause, Output: strings.TrimSpace(stderr.String())}
	}

	e.logger.Debug().Int("frames", written).Dur("took", time.Since(start)).Str("path", outPath).Msg("video stream encoded")
	return written, nil
}

// BuildEncodeArgs returns the ffmpeg arguments for a raw RGBA stream on stdin.
func BuildEncodeArgs(p Params, w, h int, outPath string) []string {
	pixFmt := p.PixelFormat
	if pixFmt == "" {
		pixFmt = "yuv420p"
	}
	args := []string{
		"-y",
		"-v", "error",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", w, h),
		"-framerate", fmt.Sprintf("%d", p.FPS),
		"-i", "-",
		"-an",
		"-c:v", p.Encoder,
		"-pix_fmt", pixFmt,
	}
	args = append(args, qualityArgs(p)...)
	args = append(args, outPath)
	return args
}

func qualityArgs(p Params) []string {
	switch p.Encoder {
	case "h264_videotoolbox":
		bitrate := p.Quality * 100
		return []string{"-b:v", fmt.Sprintf("%dk", bitrate)}
	case "h264_nvenc":
		return []string{"-cq", fmt.Sprintf("%d", p.Quality)}
	default: // libx264
		preset := p.Preset
		if preset == "" {
			preset = "medium"
		}
		return []string{"-crf", fmt.Sprintf("%d", p.Quality), "-preset", preset}
	}
}

// writeFrame writes img as tightly packed RGBA, resampling when the encoded size differs.
func writeFrame(w io.Writer, img *image.RGBA, target image.Rectangle) error {
	if img.Rect.Size() != target.Size() {
		scaled := system.GetImage(target)
		defer system.PutImage(scaled)
		xdraw.CatmullRom.Scale(scaled, target, img, img.Rect, xdraw.Src, nil)
		img = scaled
	}

	bounds := img.Bounds()
	if img.Stride != bounds.Dx()*4 || bounds.Min != (image.Point{}) {
		packed := image.NewRGBA(image.Rectangle{Max: bounds.Size()})
		draw.Draw(packed, packed.Rect, img, bounds.Min, draw.Src)
		img = packed
	}
	_, err := w.Write(img.Pix[:bounds.Dx()*bounds.Dy()*4])
	return err
}

func (e *FFmpegEncoder) Mux(ctx context.Context, p Params, videoPath, audioPath, finalPath string) error {
	partial := finalPath + ".partial"
	args := BuildMuxArgs(p, videoPath, audioPath, partial, containerFormat(finalPath))

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(partial)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &errs.EncodingError{Stage: "mux", Err: err, Output: strings.TrimSpace(string(out))}
	}

	if err := os.Rename(partial, finalPath); err != nil {
		os.Remove(partial)
		return &errs.EncodingError{Stage: "finalize", Err: err}
	}
	return nil
}

// BuildMuxArgs copies the video stream and encodes the optional audio track.
func BuildMuxArgs(p Params, videoPath, audioPath, outPath, format string) []string {
	kw := ffmpeg.KwArgs{"c:v": "copy", "f": format}
	if format == "mp4" || format == "mov" {
		kw["movflags"] = "+faststart"
	}

	streams := []*ffmpeg.Stream{ffmpeg.Input(videoPath).Video()}
	if audioPath != "" {
		streams = append(streams, ffmpeg.Input(audioPath).Audio())
		codec := p.AudioCodec
		if codec == "" {
			codec = "aac"
		}
		kw["c:a"] = codec
		if p.AudioBitrate != "" {
			kw["b:a"] = p.AudioBitrate
		}
	}
	return ffmpeg.Output(streams, outPath, kw).OverWriteOutput().GetArgs()
}

// containerFormat picks the muxer from the final extension, since the partial
// path has none ffmpeg would recognize.
func containerFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mov":
		return "mov"
	case ".mkv":
		return "matroska"
	case ".webm":
		return "webm"
	}
	return "mp4"
}
