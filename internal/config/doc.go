// Package config provides configuration loading and validation for the speech-to-text client.
// It handles YAML-based configuration with per-section validation, optional .env files
// and STT_* environment overrides applied on top of the file.
package config
