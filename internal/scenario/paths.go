package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ivlev/reelforge/internal/system"
)

// DefaultDir is where job files are saved when no path is given.
const DefaultDir = "jobs"

var jobExtensions = []string{".yaml", ".yml"}

// NewPath returns a timestamped job file name inside dir.
func NewPath(dir string) string {
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(dir, fmt.Sprintf("job_%s.yaml", timestamp))
}

// Resolve maps a save or run target to a job file: directories expand to
// a new timestamped name when saving and to the newest job when reading.
func Resolve(path string, saving bool) (string, error) {
	if path == "" {
		path = DefaultDir
	}
	st, err := os.Stat(path)
	switch {
	case err == nil && st.IsDir():
	case saving && os.IsNotExist(err) && filepath.Ext(path) == "":
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", err
		}
	default:
		return path, nil
	}
	if saving {
		return NewPath(path), nil
	}
	latest, err := system.FindLatest(path, jobExtensions)
	if err != nil {
		return "", fmt.Errorf("failed to find job file: %w", err)
	}
	return latest, nil
}
