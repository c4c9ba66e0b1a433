package video

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ivlev/reelforge/internal/errs"
	"github.com/ivlev/reelforge/internal/source"
)

func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed, skipping")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed, skipping")
	}
}

func TestNormalizeDimensions(t *testing.T) {
	tests := []struct {
		w, h, wantW, wantH int
	}{
		{1081, 1920, 1080, 1920},
		{1080, 1921, 1080, 1920},
		{1081, 1921, 1080, 1920},
		{1080, 1920, 1080, 1920},
		{3, 5, 2, 4},
	}
	for _, tt := range tests {
		w, h := NormalizeDimensions(tt.w, tt.h)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("NormalizeDimensions(%d, %d) = (%d, %d), want (%d, %d)", tt.w, tt.h, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestBuildEncodeArgs(t *testing.T) {
	tests := []struct {
		encoder string
		want    []string
	}{
		{"libx264", []string{"-c:v libx264", "-crf 18", "-preset slow"}},
		{"h264_nvenc", []string{"-c:v h264_nvenc", "-cq 18"}},
		{"h264_videotoolbox", []string{"-c:v h264_videotoolbox", "-b:v 1800k"}},
	}
	for _, tt := range tests {
		t.Run(tt.encoder, func(t *testing.T) {
			p := Params{FPS: 30, Encoder: tt.encoder, Preset: "slow", Quality: 18}
			joined := strings.Join(BuildEncodeArgs(p, 1080, 1920, "out.mp4"), " ")
			for _, want := range append(tt.want, "-video_size 1080x1920", "-framerate 30", "-pix_fmt yuv420p", "-i -") {
				if !strings.Contains(joined, want) {
					t.Errorf("Expected %q in args: %s", want, joined)
				}
			}
			if !strings.HasSuffix(joined, "out.mp4") {
				t.Errorf("Output path must be last: %s", joined)
			}
		})
	}
}

func TestBuildMuxArgs(t *testing.T) {
	p := Params{AudioCodec: "aac", AudioBitrate: "192k"}
	joined := strings.Join(BuildMuxArgs(p, "video.mp4", "audio.wav", "final.mp4.partial", "mp4"), " ")
	for _, want := range []string{"-i video.mp4", "-i audio.wav", "-c:v copy", "-c:a aac", "-b:a 192k", "-f mp4", "-movflags +faststart", "final.mp4.partial"} {
		if !strings.Contains(joined, want) {
			t.Errorf("Expected %q in args: %s", want, joined)
		}
	}

	silent := strings.Join(BuildMuxArgs(p, "video.mp4", "", "final.mkv.partial", "matroska"), " ")
	if strings.Contains(silent, "-c:a") || strings.Contains(silent, "movflags") {
		t.Errorf("Unexpected audio or mp4 flags: %s", silent)
	}
}

func TestContainerFormat(t *testing.T) {
	tests := map[string]string{
		"a.mp4": "mp4", "a.MOV": "mov", "a.mkv": "matroska", "a.webm": "webm", "a": "mp4",
	}
	for in, want := range tests {
		if got := containerFormat(in); got != want {
			t.Errorf("containerFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteFrameResamplesOddFrames(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 5, 3))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	var buf bytes.Buffer
	if err := writeFrame(&buf, img, image.Rect(0, 0, 4, 2)); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 4*2*4 {
		t.Errorf("Expected %d bytes, got %d", 4*2*4, buf.Len())
	}
}

func TestWriteFramePacksSubImages(t *testing.T) {
	base := image.NewRGBA(image.Rect(0, 0, 8, 8))
	base.SetRGBA(2, 2, color.RGBA{1, 2, 3, 4})
	sub := base.SubImage(image.Rect(2, 2, 6, 6)).(*image.RGBA)

	var buf bytes.Buffer
	if err := writeFrame(&buf, sub, image.Rect(0, 0, 4, 4)); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	if len(data) != 64 {
		t.Fatalf("Expected 64 bytes, got %d", len(data))
	}
	if data[0] != 1 || data[3] != 4 {
		t.Errorf("Expected first pixel from sub-image origin, got %v", data[:4])
	}
}

func TestEncodeRejectsTinyCanvas(t *testing.T) {
	e := NewFFmpegEncoder(zerolog.Nop())
	frames := make(chan *image.RGBA)
	close(frames)
	_, err := e.EncodeVideo(context.Background(), Params{Width: 1, Height: 1, FPS: 30, Encoder: "libx264"}, frames, filepath.Join(t.TempDir(), "v.mp4"))
	if !errs.IsConfiguration(err) {
		t.Errorf("Expected ConfigurationError, got %v", err)
	}
}

func TestEncodeAndMuxOddCanvas(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	p := Params{Width: 65, Height: 33, FPS: 10, Encoder: "libx264", Preset: "ultrafast", Quality: 23}
	frames := make(chan *image.RGBA, 4)
	go func() {
		defer close(frames)
		for i := 0; i < 10; i++ {
			img := image.NewRGBA(image.Rect(0, 0, 65, 33))
			for j := range img.Pix {
				img.Pix[j] = uint8(i * 20)
			}
			frames <- img
		}
	}()

	e := NewFFmpegEncoder(zerolog.Nop())
	videoPath := filepath.Join(dir, "video.mp4")
	n, err := e.EncodeVideo(context.Background(), p, frames, videoPath)
	if err != nil {
		t.Fatalf("EncodeVideo failed: %v", err)
	}
	if n != 10 {
		t.Errorf("Expected 10 frames written, got %d", n)
	}

	final := filepath.Join(dir, "final.mp4")
	if err := e.Mux(context.Background(), p, videoPath, "", final); err != nil {
		t.Fatalf("Mux failed: %v", err)
	}
	if _, err := os.Stat(final + ".partial"); !os.IsNotExist(err) {
		t.Error("Partial file left behind")
	}

	info, err := source.Probe(context.Background(), final)
	if err != nil {
		t.Fatal(err)
	}
	if info.Width != 64 || info.Height != 32 {
		t.Errorf("Expected 64x32 output, got %dx%d", info.Width, info.Height)
	}
}

func TestMuxFailureLeavesNoOutput(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	final := filepath.Join(dir, "final.mp4")
	e := NewFFmpegEncoder(zerolog.Nop())
	err := e.Mux(context.Background(), Params{}, filepath.Join(dir, "missing.mp4"), "", final)
	if !errs.IsEncoding(err) {
		t.Fatalf("Expected EncodingError, got %v", err)
	}
	for _, p := range []string{final, final + ".partial"} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("Unexpected file %s", p)
		}
	}
}
