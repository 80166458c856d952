//go:build unix

package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// writeRecorder writes a shell script standing in for ffmpeg
func writeRecorder(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "recorder.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("Failed to write recorder script: %v", err)
	}
	return path
}

func TestCommandDeviceExternalInterrupt(t *testing.T) {
	tests := []struct {
		name      string
		script    string
		expectErr bool
	}{
		{"killed by SIGINT after audio", "printf 'abcd'\nkill -INT $$\nsleep 5", false},
		{"ffmpeg interrupt status", "printf 'abcd'\nexit 255", false},
		{"ordinary failure after audio", "printf 'abcd'\nexit 1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, err := NewCommandDevice(CommandConfig{
				Driver:  "ffmpeg",
				Command: writeRecorder(t, tt.script),
				Format:  "webm",
			}, nil)
			if err != nil {
				t.Fatalf("NewCommandDevice failed: %v", err)
			}

			events, err := dev.Start(context.Background())
			if err != nil {
				t.Fatalf("Start failed: %v", err)
			}

			fragments, final := collect(t, events)
			if len(fragments) != 1 || string(fragments[0]) != "abcd" {
				t.Errorf("Expected one fragment 'abcd', got %q", fragments)
			}

			if tt.expectErr && final.Err == nil {
				t.Error("Expected finalize error but got none")
			}
			if !tt.expectErr && final.Err != nil {
				t.Errorf("Expected clean finalize, got %v", final.Err)
			}
		})
	}
}
