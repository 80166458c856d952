// Package backendstub is a development double of the speech-to-text backend.
//
// It serves the same HTTP contract as the real service: account registration
// and login with HS256 bearer tokens, audio upload for transcription, per-user
// transcript history and plain-text downloads. Users and transcripts are kept
// in SQLite or PostgreSQL. Uploads named test.* or mock* are answered with a
// fixed transcript; other uploads go to an OpenAI-compatible speech API when
// one is configured.
package backendstub
