package system

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}
}

func TestFindLatest(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	touch(t, filepath.Join(dir, "old.mp3"), now.Add(-2*time.Hour))
	touch(t, filepath.Join(dir, "new.WAV"), now.Add(-time.Hour))
	touch(t, filepath.Join(dir, "newest.txt"), now)
	touch(t, filepath.Join(dir, "cover.png"), now.Add(-30*time.Minute))

	got, err := FindLatestAudio(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(got) != "new.WAV" {
		t.Errorf("Expected new.WAV, got %s", got)
	}

	// A file path searches its directory.
	got, err = FindLatestImage(filepath.Join(dir, "old.mp3"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(got) != "cover.png" {
		t.Errorf("Expected cover.png, got %s", got)
	}

	if _, err := FindLatest(t.TempDir(), VideoExtensions); err == nil {
		t.Error("Expected error for empty directory")
	}
}

func TestFrameWorkers(t *testing.T) {
	frame := int64(1080 * 1920 * 4)
	r := Resources{LogicalCPUs: 8, AvailableMemory: 1 << 30}

	if got := r.FrameWorkers(4, frame, 1); got != 4 {
		t.Errorf("Expected requested 4 workers, got %d", got)
	}
	// Half of 1 GiB over four copies of a 1080x1920 frame.
	if got := r.FrameWorkers(64, frame, 1); got != 16 {
		t.Errorf("Expected memory cap of 16, got %d", got)
	}
	if got := r.FrameWorkers(0, frame, 0); got != 8 {
		t.Errorf("Expected CPU count when unset, got %d", got)
	}
	if got := (Resources{AvailableMemory: 1}).FrameWorkers(4, frame, 1); got != 1 {
		t.Errorf("Expected at least one worker, got %d", got)
	}
	// A 2x supersampled zoom adds a scratch of four canvases per worker.
	if got := r.FrameWorkers(64, frame, 2); got != 8 {
		t.Errorf("Expected supersampling cap of 8, got %d", got)
	}
}

func TestImagePool(t *testing.T) {
	p := NewImagePool()
	rect := image.Rect(0, 0, 4, 4)
	img := p.Get(rect)
	p.Put(img)
	p.Put(nil)

	again := p.Get(rect)
	if again.Bounds() != rect || len(again.Pix) != 4*4*4 {
		t.Fatalf("Unexpected frame %v with %d bytes", again.Bounds(), len(again.Pix))
	}

	big := p.Get(image.Rect(0, 0, 8, 8))
	if len(big.Pix) != 8*8*4 {
		t.Errorf("Expected %d bytes, got %d", 8*8*4, len(big.Pix))
	}
}

func TestClear(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 6, 4))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	dirty := image.Rect(1, 1, 4, 3)
	Clear(img, dirty)
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			a := img.RGBAAt(x, y).A
			if image.Pt(x, y).In(dirty) != (a == 0) {
				t.Errorf("Pixel (%d,%d) alpha %d", x, y, a)
			}
		}
	}

	// Regions outside the image are ignored.
	Clear(img, image.Rect(10, 10, 20, 20))
}

func TestGetCleared(t *testing.T) {
	rect := image.Rect(0, 0, 6, 4)
	img := GetImage(rect)
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	PutImage(img)

	dirty := image.Rect(0, 0, 6, 2)
	got := GetCleared(rect, dirty)
	defer PutImage(got)
	for y := 0; y < 2; y++ {
		for x := 0; x < 6; x++ {
			if got.RGBAAt(x, y) != (color.RGBA{}) {
				t.Fatalf("Pixel (%d,%d) not cleared", x, y)
			}
		}
	}
}
