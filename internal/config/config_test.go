package config

import (
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWhenNoFileFound(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Canvas.Width != 1080 || cfg.Canvas.Height != 1920 {
		t.Errorf("Expected 1080x1920 canvas, got %dx%d", cfg.Canvas.Width, cfg.Canvas.Height)
	}
	if cfg.Transition != 0.25 {
		t.Errorf("Expected transition 0.25, got %f", cfg.Transition)
	}
	if cfg.Audio.Epsilon != 1e-3 {
		t.Errorf("Expected audio epsilon 1e-3, got %g", cfg.Audio.Epsilon)
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := Load(path); !os.IsNotExist(err) {
		t.Errorf("Expected not-exist error for %s, got %v", path, err)
	}
}

func TestLoadOverridesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reelforge.yaml")
	data := []byte(`
canvas:
  width: 720
  background: "#000000"
fps: 24
fetch:
  timeout: 5s
effects:
  zoom:
    upscale: 3
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Canvas.Width != 720 {
		t.Errorf("Expected width 720, got %d", cfg.Canvas.Width)
	}
	// untouched keys keep their defaults
	if cfg.Canvas.Height != 1920 {
		t.Errorf("Expected default height 1920, got %d", cfg.Canvas.Height)
	}
	if cfg.FPS != 24 {
		t.Errorf("Expected fps 24, got %d", cfg.FPS)
	}
	if cfg.Fetch.Timeout != 5*time.Second {
		t.Errorf("Expected 5s timeout, got %v", cfg.Fetch.Timeout)
	}
	if cfg.Effects.Zoom.Upscale != 3 || cfg.Effects.Zoom.StartScale != 0.7 {
		t.Errorf("Unexpected zoom config: %+v", cfg.Effects.Zoom)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BUCKET_NAME", "reels")
	t.Setenv("REELFORGE_WORKERS", "3")
	t.Setenv("REELFORGE_ENCODER", "libx264")

	path := filepath.Join(t.TempDir(), "empty.yaml")
	os.WriteFile(path, nil, 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Bucket != "reels" {
		t.Errorf("Expected bucket from env, got %q", cfg.Storage.Bucket)
	}
	if cfg.Workers != 3 {
		t.Errorf("Expected 3 workers, got %d", cfg.Workers)
	}
	if cfg.Encoding.Encoder != "libx264" {
		t.Errorf("Expected encoder from env, got %q", cfg.Encoding.Encoder)
	}
}

func TestApplyPreset(t *testing.T) {
	tests := []struct {
		preset string
		w, h   int
		err    bool
	}{
		{"9:16", 1080, 1920, false},
		{"16:9", 1920, 1080, false},
		{"4:5", 1080, 1350, false},
		{"1:1", 1080, 1080, false},
		{"3:2", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.preset, func(t *testing.T) {
			cfg := Default()
			err := cfg.ApplyPreset(tt.preset)
			if tt.err {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if cfg.Canvas.Width != tt.w || cfg.Canvas.Height != tt.h {
				t.Errorf("Expected %dx%d, got %dx%d", tt.w, tt.h, cfg.Canvas.Width, cfg.Canvas.Height)
			}
		})
	}
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in   string
		want color.RGBA
		err  bool
	}{
		{"#FFFFFF", color.RGBA{255, 255, 255, 255}, false},
		{"102030", color.RGBA{0x10, 0x20, 0x30, 0xff}, false},
		{"#10203080", color.RGBA{0x10, 0x20, 0x30, 0x80}, false},
		{"#FFF", color.RGBA{}, true},
		{"#GGGGGG", color.RGBA{}, true},
	}
	for _, tt := range tests {
		got, err := ParseHexColor(tt.in)
		if tt.err != (err != nil) {
			t.Errorf("%q: unexpected error state: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestSaveOmitsSecrets(t *testing.T) {
	t.Setenv("ACCESS_KEY", "")
	t.Setenv("SECRET_KEY", "")

	cfg := Default()
	cfg.Storage.AccessKey = "AKID"
	cfg.Storage.SecretKey = "secret"
	cfg.FPS = 25

	path := filepath.Join(t.TempDir(), "saved.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "secret") || strings.Contains(string(data), "AKID") {
		t.Errorf("Credentials written to config file:\n%s", data)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.FPS != 25 || loaded.Storage.SecretKey != "" {
		t.Errorf("Unexpected reload: fps=%d secret=%q", loaded.FPS, loaded.Storage.SecretKey)
	}
}
