// Package transcription implements the HTTP client for the speech-to-text backend.
// It covers registration, login, multipart audio uploads, history listing and
// transcript document downloads, and maps responses to typed results and errors.
package transcription
