package scenario

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewPath(t *testing.T) {
	path := NewPath("jobs")
	if filepath.Dir(path) != "jobs" {
		t.Errorf("Path should be in jobs: %s", path)
	}
	if !strings.HasPrefix(filepath.Base(path), "job_") || filepath.Ext(path) != ".yaml" {
		t.Errorf("Unexpected job file name: %s", path)
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		filepath.Join(dir, "job_2026-02-12_10-00-00.yaml"),
		filepath.Join(dir, "job_2026-02-13_01-00-00.yml"),
		filepath.Join(dir, "job_2026-02-11_15-30-00.yaml"),
	}
	for i, f := range files {
		os.WriteFile(f, []byte("clips: []\n"), 0644)
		modTime := time.Now().Add(time.Duration(i) * time.Hour)
		os.Chtimes(f, modTime, modTime)
	}
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)

	latest, err := Resolve(dir, false)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if latest != files[2] {
		t.Errorf("Expected latest to be %s, got %s", files[2], latest)
	}

	explicit := filepath.Join(dir, "mine.yaml")
	if got, _ := Resolve(explicit, true); got != explicit {
		t.Errorf("File path should pass through, got %s", got)
	}

	fresh := filepath.Join(dir, "saved")
	got, err := Resolve(fresh, true)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(got) != fresh {
		t.Errorf("Expected a new file in %s, got %s", fresh, got)
	}
	if st, err := os.Stat(fresh); err != nil || !st.IsDir() {
		t.Error("Save directory was not created")
	}

	if _, err := Resolve(t.TempDir(), false); err == nil {
		t.Error("Expected error for a directory without jobs")
	}
}
