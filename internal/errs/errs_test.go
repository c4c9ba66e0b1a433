package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassification(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"configuration", Configf("transition", "must be positive, got %v", -1), IsConfiguration},
		{"source", Unavailable("clip.mp4", base), IsSourceUnavailable},
		{"consistency", Inconsistent("audio", "off by %v", 0.2), IsConsistency},
		{"encoding", &EncodingError{Stage: "mux", Err: base}, IsEncoding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("job failed: %w", tt.err)
			if !tt.is(wrapped) {
				t.Errorf("expected %s classification for %v", tt.name, wrapped)
			}
		})
	}
}

func TestUnavailableKeepsCause(t *testing.T) {
	base := errors.New("connection reset")
	err := Unavailable("https://example.com/a.mp4", base)
	if !errors.Is(err, base) {
		t.Errorf("expected cause to be reachable through Unwrap")
	}
	if again := Unavailable("other", err); again != err {
		t.Errorf("expected already classified error to be returned as is")
	}
	if Unavailable("x", nil) != nil {
		t.Errorf("expected nil for nil cause")
	}
}
