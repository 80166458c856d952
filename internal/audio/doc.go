// Package audio handles fragment accumulation and payload finalization for recordings.
// It keeps captured fragments in arrival order, wraps raw PCM into WAV when needed and
// writes finalized payloads to local artifact files that can be played or downloaded.
package audio
