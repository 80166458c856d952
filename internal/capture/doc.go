// Package capture provides the audio input devices the recorder drives.
//
// A Device delivers its output as a stream of events on a channel: zero or
// more FragmentReady events carrying encoded audio bytes in capture order,
// followed by exactly one Finalized event once the device has flushed its
// last fragment. The channel is closed after Finalized.
//
// Three devices are provided:
//   - CommandDevice runs an external recorder (ffmpeg or arecord) and emits
//     its stdout as fragments.
//   - PortAudioDevice reads PCM from the default input in-process. It needs
//     the PortAudio C library and is only compiled with -tags portaudio.
//   - ReaderDevice emits fragments read from an io.Reader, for recording
//     from a file or stdin.
//
// NewDevice picks the device for a configured driver name.
//
// A device that cannot open its input returns an error wrapping
// ErrPermissionDenied from Start.
package capture
