package engine

import (
	"fmt"
	"os"
	"time"
)

// BenchmarkLog receives one line per job when Config.ShowStats is set.
var BenchmarkLog = "benchmark.log"

// Stats are the timings of one job. Synthesis covers frame rendering and
// video encoding, which run as one pipeline alongside audio reconciliation.
type Stats struct {
	Load       time.Duration
	Synthesis  time.Duration
	Mux        time.Duration
	Total      time.Duration
	Frames     int
	Workers    int
	MemoryUsed float64
}

// FPS is the effective synthesis rate.
func (s Stats) FPS() float64 {
	if s.Synthesis <= 0 {
		return 0
	}
	return float64(s.Frames) / s.Synthesis.Seconds()
}

func (p *Project) report(art *Artifact) {
	s := art.Stats
	p.logger.Info().
		Str("build", p.Config.BuildVersion).
		Dur("total", s.Total).
		Dur("load", s.Load).
		Dur("synthesis", s.Synthesis).
		Dur("mux", s.Mux).
		Float64("fps", s.FPS()).
		Int("workers", s.Workers).
		Float64("memory_used_pct", s.MemoryUsed).
		Msg("performance report")

	entry := fmt.Sprintf("[%s] Build: %s | Output: %s | Frames: %d | Total: %.2fs | Load: %.2fs | Render: %.2fs | Mux: %.2fs | FPS: %.2f | Mem: %.1f%%\n",
		time.Now().Format("2006-01-02 15:04:05"),
		p.Config.BuildVersion,
		art.Name,
		s.Frames,
		s.Total.Seconds(),
		s.Load.Seconds(),
		s.Synthesis.Seconds(),
		s.Mux.Seconds(),
		s.FPS(),
		s.MemoryUsed,
	)

	f, err := os.OpenFile(BenchmarkLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		p.logger.Warn().Err(err).Str("path", BenchmarkLog).Msg("could not write benchmark log")
		return
	}
	defer f.Close()
	if _, err := f.WriteString(entry); err != nil {
		p.logger.Warn().Err(err).Str("path", BenchmarkLog).Msg("could not write benchmark log")
	}
}
