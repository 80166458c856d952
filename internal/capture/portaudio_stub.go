//go:build !portaudio

package capture

import (
	"fmt"
	"log/slog"
)

func newPortAudioDevice(config PortAudioConfig, logger *slog.Logger) (Device, error) {
	if _, err := config.normalize(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: rebuild with -tags portaudio", ErrPortAudioUnavailable)
}
