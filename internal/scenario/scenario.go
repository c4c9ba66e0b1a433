// Package scenario reads render jobs from YAML files and dumps scheduled
// timelines back to YAML for inspection.
package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ivlev/reelforge/internal/config"
	"github.com/ivlev/reelforge/internal/effects"
	"github.com/ivlev/reelforge/internal/engine"
	"github.com/ivlev/reelforge/internal/errs"
	"github.com/ivlev/reelforge/internal/source"
	"github.com/ivlev/reelforge/internal/video"
)

const Version = "1.0"

// Job is a render request stored on disk. Unset fields fall back to the configuration.
type Job struct {
	Version    string   `yaml:"version"`
	Mode       string   `yaml:"mode,omitempty"`
	Clips      []Clip   `yaml:"clips"`
	Transition *float64 `yaml:"transition,omitempty"`
	Direction  string   `yaml:"direction,omitempty"`
	Seed       int64    `yaml:"seed,omitempty"`
	FPS        int      `yaml:"fps,omitempty"`
	Preset     string   `yaml:"preset,omitempty"`
	Audio      *Audio   `yaml:"audio,omitempty"`
	FitToAudio bool     `yaml:"fit_to_audio,omitempty"`
	Output     string   `yaml:"output,omitempty"`

	// dir resolves relative local sources against the job file.
	dir string
}

type Clip struct {
	Source   string  `yaml:"source"`
	Duration float64 `yaml:"duration,omitempty"`
}

type Audio struct {
	Source string   `yaml:"source"`
	Volume *float64 `yaml:"volume,omitempty"`
}

// Write writes a job to a YAML file. Relative local sources are rewritten
// relative to the file's directory so that Read resolves them to the same files.
func Write(job *Job, path string) error {
	if job.Version == "" {
		job.Version = Version
	}
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return err
	}

	out := *job
	out.Clips = make([]Clip, len(job.Clips))
	for i, c := range job.Clips {
		if c.Source, err = job.rebase(c.Source, dir); err != nil {
			return fmt.Errorf("clip %d: %w", i, err)
		}
		out.Clips[i] = c
	}
	if job.Audio != nil {
		a := *job.Audio
		if a.Source, err = job.rebase(a.Source, dir); err != nil {
			return fmt.Errorf("audio: %w", err)
		}
		out.Audio = &a
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Read reads a job from a YAML file
func Read(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, errs.Configf("scenario", "parse %s: %v", filepath.Base(path), err)
	}
	if job.Version != "" && job.Version != Version {
		return nil, errs.Configf("scenario", "unsupported version %q", job.Version)
	}
	job.dir = filepath.Dir(path)
	return &job, nil
}

// Apply copies the job's overrides onto cfg.
func (j *Job) Apply(cfg *config.Config) error {
	if err := cfg.ApplyPreset(j.Preset); err != nil {
		return errs.Configf("preset", "%v", err)
	}
	if j.Transition != nil {
		cfg.Transition = *j.Transition
	}
	if j.Direction != "" {
		cfg.Direction = j.Direction
	}
	if j.Seed != 0 {
		cfg.Seed = j.Seed
	}
	if j.FPS != 0 {
		cfg.FPS = j.FPS
	}

	// Single-source modes carry their settings in the effect section.
	kind, err := j.Kind()
	if err != nil {
		return err
	}
	var d float64
	if len(j.Clips) == 1 {
		d = j.Clips[0].Duration
	}
	e := &cfg.Effects
	switch kind {
	case effects.KindReveal:
		if j.Direction != "" {
			e.Reveal.Direction = j.Direction
		}
		setInt(&e.Reveal.FPS, j.FPS)
		setFloat(&e.Reveal.Duration, d)
	case effects.KindZoom:
		setInt(&e.Zoom.FPS, j.FPS)
		setFloat(&e.Zoom.Duration, d)
	case effects.KindShake:
		setInt(&e.Shake.FPS, j.FPS)
		setFloat(&e.Shake.Duration, d)
	}
	return nil
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

// Kind is the render mode; an empty mode composes with slides.
func (j *Job) Kind() (effects.Kind, error) {
	if strings.TrimSpace(j.Mode) == "" {
		return effects.KindSlide, nil
	}
	k, err := effects.ParseKind(j.Mode)
	if err != nil {
		return 0, errs.Configf("mode", "%v", err)
	}
	return k, nil
}

// Project turns the job into a render job. cfg should already carry Apply's overrides.
func (j *Job) Project(cfg *config.Config, enc video.VideoEncoder, logger zerolog.Logger) (*engine.Project, error) {
	kind, err := j.Kind()
	if err != nil {
		return nil, err
	}
	if len(j.Clips) == 0 {
		return nil, errs.Configf("clips", "empty layer list")
	}

	clips := make([]engine.Clip, len(j.Clips))
	for i, c := range j.Clips {
		ref, err := j.ref(c.Source)
		if err != nil {
			return nil, fmt.Errorf("clip %d: %w", i, err)
		}
		clips[i] = engine.Clip{Ref: ref, Duration: c.Duration}
	}

	var track *engine.AudioTrack
	if j.Audio != nil {
		ref, err := j.ref(j.Audio.Source)
		if err != nil {
			return nil, fmt.Errorf("audio: %w", err)
		}
		volume := cfg.Audio.Volume
		if j.Audio.Volume != nil {
			volume = *j.Audio.Volume
		}
		track = &engine.AudioTrack{Ref: ref, Volume: volume}
	}

	var p *engine.Project
	if kind == effects.KindSlide {
		p = engine.NewComposeJob(cfg, enc, clips, track, logger)
	} else {
		if len(clips) != 1 {
			return nil, errs.Configf("clips", "%s renders exactly one source, got %d", kind, len(clips))
		}
		p = engine.NewEffectJob(cfg, enc, clips[0].Ref, kind, logger)
		p.Audio = track
	}
	p.FitToAudio = j.FitToAudio
	p.Output = j.Output
	return p, nil
}

func (j *Job) ref(s string) (source.Ref, error) {
	ref, err := source.ParseRef(s)
	if err != nil {
		return source.Ref{}, err
	}
	if !ref.Remote && ref.Text == "" && j.dir != "" && !filepath.IsAbs(ref.Location) {
		ref.Location = filepath.Join(j.dir, ref.Location)
	}
	return ref, nil
}

// rebase expresses a relative local source relative to dir.
func (j *Job) rebase(s, dir string) (string, error) {
	raw, err := source.ParseRef(s)
	if err != nil {
		return "", err
	}
	if raw.Remote || raw.Text != "" || filepath.IsAbs(raw.Location) {
		return s, nil
	}
	ref, _ := j.ref(s)
	abs, err := filepath.Abs(ref.Location)
	if err != nil {
		return "", err
	}
	if rel, err := filepath.Rel(dir, abs); err == nil {
		ref.Location = rel
	} else {
		ref.Location = abs
	}
	return ref.String(), nil
}
