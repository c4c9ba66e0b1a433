package config

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Canvas        CanvasConfig   `yaml:"canvas"`
	FPS           int            `yaml:"fps"`
	Transition    float64        `yaml:"transition"`
	Direction     string         `yaml:"direction"`
	Seed          int64          `yaml:"seed"`
	Workers       int            `yaml:"workers"`
	StillDuration float64        `yaml:"still_duration"`
	OutputDir     string         `yaml:"output_dir"`
	ShowStats     bool           `yaml:"show_stats"`
	Encoding      EncodingConfig `yaml:"encoding"`
	Audio         AudioConfig    `yaml:"audio"`
	Fetch         FetchConfig    `yaml:"fetch"`
	Effects       EffectsConfig  `yaml:"effects"`
	Storage       StorageConfig  `yaml:"storage"`
	BuildVersion  string         `yaml:"-"`
}

type CanvasConfig struct {
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
	Background string  `yaml:"background"`
	MaxUpscale float64 `yaml:"max_upscale"`
}

type EncodingConfig struct {
	Encoder      string `yaml:"encoder"`
	Preset       string `yaml:"preset"`
	Quality      int    `yaml:"quality"`
	PixelFormat  string `yaml:"pixel_format"`
	AudioCodec   string `yaml:"audio_codec"`
	AudioBitrate string `yaml:"audio_bitrate"`
}

type AudioConfig struct {
	Volume     float64 `yaml:"volume"`
	SampleRate int     `yaml:"sample_rate"`
	Epsilon    float64 `yaml:"epsilon"`
}

type FetchConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxBytes    int64         `yaml:"max_bytes"`
	Concurrency int           `yaml:"concurrency"`
}

type EffectsConfig struct {
	Reveal RevealConfig `yaml:"reveal"`
	Zoom   ZoomConfig   `yaml:"zoom"`
	Shake  ShakeConfig  `yaml:"shake"`
}

type RevealConfig struct {
	Duration  float64 `yaml:"duration"`
	FPS       int     `yaml:"fps"`
	Direction string  `yaml:"direction"`
}

type ZoomConfig struct {
	Duration   float64 `yaml:"duration"`
	FPS        int     `yaml:"fps"`
	StartScale float64 `yaml:"start_scale"`
	EndScale   float64 `yaml:"end_scale"`
	Upscale    int     `yaml:"upscale"`
	Easing     string  `yaml:"easing"`
}

type ShakeConfig struct {
	Duration  float64 `yaml:"duration"`
	FPS       int     `yaml:"fps"`
	MaxAngle  float64 `yaml:"max_angle"`
	Frequency float64 `yaml:"frequency"`
}

type StorageConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Region       string        `yaml:"region"`
	Bucket       string        `yaml:"bucket"`
	Prefix       string        `yaml:"prefix"`
	AccessKey    string        `yaml:"-"`
	SecretKey    string        `yaml:"-"`
	PublicRead   bool          `yaml:"public_read"`
	UsePathStyle bool          `yaml:"use_path_style"`
	URLExpiry    time.Duration `yaml:"url_expiry"`
}

// Default returns the configuration used when no file is present.
// Values follow the vertical short-video format: 1080x1920, white background, 30 FPS, x264 CRF 18.
func Default() *Config {
	return &Config{
		Canvas: CanvasConfig{
			Width:      1080,
			Height:     1920,
			Background: "#FFFFFF",
			MaxUpscale: 1.5,
		},
		FPS:           30,
		Transition:    0.25,
		Direction:     "random",
		Workers:       runtime.NumCPU(),
		StillDuration: 3.0,
		OutputDir:     "output",
		Encoding: EncodingConfig{
			Encoder:      "auto",
			Preset:       "slow",
			Quality:      18,
			PixelFormat:  "yuv420p",
			AudioCodec:   "aac",
			AudioBitrate: "192k",
		},
		Audio: AudioConfig{
			Volume:     1.0,
			SampleRate: 44100,
			Epsilon:    1e-3,
		},
		Fetch: FetchConfig{
			Timeout:     60 * time.Second,
			MaxBytes:    512 << 20,
			Concurrency: 4,
		},
		Effects: EffectsConfig{
			Reveal: RevealConfig{Duration: 3, FPS: 30, Direction: "right"},
			Zoom:   ZoomConfig{Duration: 3, FPS: 120, StartScale: 0.7, EndScale: 1.0, Upscale: 2, Easing: "smootherstep"},
			Shake:  ShakeConfig{Duration: 3, FPS: 30, MaxAngle: 1.0, Frequency: 1.0},
		},
		Storage: StorageConfig{
			Endpoint:   "https://storage.yandexcloud.net",
			Region:     "ru-central1",
			Prefix:     "videos/",
			PublicRead: true,
			URLExpiry:  time.Hour,
		},
	}
}

// Load reads configuration from path (or the first candidate file found),
// then applies .env and environment overrides. A path given explicitly must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	// .env is optional
	_ = godotenv.Load()

	explicit := path != ""
	if !explicit {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && (explicit || !os.IsNotExist(err)) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("ACCESS_KEY")); v != "" {
		c.Storage.AccessKey = v
	}
	if v := strings.TrimSpace(os.Getenv("SECRET_KEY")); v != "" {
		c.Storage.SecretKey = v
	}
	if v := strings.TrimSpace(os.Getenv("BUCKET_NAME")); v != "" {
		c.Storage.Bucket = v
	}
	if v := strings.TrimSpace(os.Getenv("S3_ENDPOINT")); v != "" {
		c.Storage.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("S3_REGION")); v != "" {
		c.Storage.Region = v
	}
	if v := strings.TrimSpace(os.Getenv("REELFORGE_ENCODER")); v != "" {
		c.Encoding.Encoder = v
	}
	if v := strings.TrimSpace(os.Getenv("REELFORGE_WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workers = n
		}
	}
}

// ApplyPreset switches the canvas to a named aspect preset.
func (c *Config) ApplyPreset(preset string) error {
	switch preset {
	case "":
		return nil
	case "9:16":
		c.Canvas.Width, c.Canvas.Height = 1080, 1920
	case "16:9":
		c.Canvas.Width, c.Canvas.Height = 1920, 1080
	case "4:5":
		c.Canvas.Width, c.Canvas.Height = 1080, 1350
	case "1:1":
		c.Canvas.Width, c.Canvas.Height = 1080, 1080
	default:
		return fmt.Errorf("unknown preset %q (9:16, 16:9, 4:5, 1:1)", preset)
	}
	return nil
}

// BackgroundColor parses Canvas.Background ("#RRGGBB" or "#RRGGBBAA").
func (c *Config) BackgroundColor() (color.RGBA, error) {
	return ParseHexColor(c.Canvas.Background)
}

func ParseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	if len(hex) == 6 {
		v = v<<8 | 0xff
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

func findConfigFile() string {
	candidates := []string{
		"./reelforge.yaml",
		"./config.yaml",
		filepath.Join(os.Getenv("HOME"), ".reelforge", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
