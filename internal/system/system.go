package system

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

var (
	AudioExtensions = []string{".mp3", ".wav", ".m4a", ".ogg", ".aac", ".flac"}
	ImageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp", ".gif"}
	VideoExtensions = []string{".mp4", ".mov", ".mkv", ".webm", ".avi"}
)

// InitResourceLimits raises the open file limit: every decoded source and ffmpeg pipe holds descriptors.
func InitResourceLimits() {
	var rLimit syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Warn().Err(err).Msg("could not read open file limit")
		return
	}

	rLimit.Cur = 2048
	if rLimit.Cur > rLimit.Max {
		rLimit.Cur = rLimit.Max
	}

	err = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Warn().Err(err).Msg("could not raise open file limit")
	} else {
		log.Debug().Uint64("limit", uint64(rLimit.Cur)).Msg("open file limit raised")
	}
}

// FindLatest returns the most recently modified file in dir with one of the extensions.
func FindLatest(dir string, extensions []string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestTime time.Time

	for _, f := range files {
		if f.IsDir() || !hasExtension(f.Name(), extensions) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latestFile = filepath.Join(dir, f.Name())
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("no %s files found in %s", strings.Join(extensions, "/"), dir)
	}
	return latestFile, nil
}

func FindLatestAudio(dir string) (string, error) {
	return FindLatest(dir, AudioExtensions)
}

// FindLatestImage accepts a directory or a file; for a file its directory is searched.
func FindLatestImage(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		path = filepath.Dir(path)
	}
	return FindLatest(path, ImageExtensions)
}

func hasExtension(name string, extensions []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

var (
	encoderOnce sync.Once
	encoderList string
)

// GetBestH264Encoder prefers VideoToolbox on macOS, then NVENC, then libx264.
func GetBestH264Encoder() (string, string) {
	encoderOnce.Do(func() {
		out, err := exec.Command("ffmpeg", "-hide_banner", "-encoders").CombinedOutput()
		if err == nil {
			encoderList = string(out)
		}
	})

	encoders := []struct {
		name string
		args string
	}{
		{"h264_videotoolbox", ""},
		{"h264_nvenc", ""},
	}
	for _, enc := range encoders {
		if strings.Contains(encoderList, enc.name) {
			return enc.name, enc.args
		}
	}
	return "libx264", ""
}

// CheckTools verifies that the external binaries the pipeline shells out to are installed.
func CheckTools(names ...string) error {
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("%s not found in PATH: %w", name, err)
		}
	}
	return nil
}

// Resources is a snapshot of the host used to size worker pools.
type Resources struct {
	LogicalCPUs     int
	TotalMemory     uint64
	AvailableMemory uint64
}

func ReadResources() Resources {
	r := Resources{LogicalCPUs: 1}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		r.LogicalCPUs = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		r.TotalMemory = vm.Total
		r.AvailableMemory = vm.Available
	}
	return r
}

// FrameWorkers bounds the number of frames synthesized at once. Each in-flight frame
// costs a few canvas buffers plus, for supersampled layers, a scratch image of
// upscale² canvases, and at most half the available memory is committed.
func (r Resources) FrameWorkers(requested int, frameBytes int64, upscale int) int {
	n := requested
	if n <= 0 {
		n = r.LogicalCPUs
	}
	if frameBytes > 0 && r.AvailableMemory > 0 {
		copies := uint64(4)
		if upscale > 1 {
			copies += uint64(upscale * upscale)
		}
		perWorker := uint64(frameBytes) * copies
		if limit := int(r.AvailableMemory / 2 / perWorker); limit < n {
			n = limit
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}

// UsedMemoryPercent reports host memory pressure, or 0 when unknown.
func UsedMemoryPercent() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return vm.UsedPercent
}
