package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Capture CaptureConfig `yaml:"capture"`
	Storage StorageConfig `yaml:"storage"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// BackendConfig contains the transcription backend connection settings
type BackendConfig struct {
	BaseURL        string `yaml:"base_url"`
	UploadTimeout  int    `yaml:"upload_timeout"`  // seconds, 0 waits indefinitely
	RequestTimeout int    `yaml:"request_timeout"` // seconds, for non-upload calls
}

// CaptureConfig contains microphone capture parameters
type CaptureConfig struct {
	Driver       string `yaml:"driver"`  // "ffmpeg", "arecord" or "portaudio"
	Command      string `yaml:"command"` // optional override of the driver binary
	InputDevice  string `yaml:"input_device"`
	Format       string `yaml:"format"` // "webm" or "wav"
	SampleRate   int    `yaml:"sample_rate"`
	Channels     int    `yaml:"channels"`
	FragmentSize int    `yaml:"fragment_size"` // bytes per delivered fragment
}

// StorageConfig contains local persistence paths
type StorageConfig struct {
	CredentialsPath string `yaml:"credentials_path"`
	RecordingsDir   string `yaml:"recordings_dir"`
}

// HTTPConfig contains the local control server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration pointing at a backend on the local machine
func Default() *Config {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	return &Config{
		Backend: BackendConfig{
			BaseURL:        "http://127.0.0.1:5000",
			UploadTimeout:  0,
			RequestTimeout: 30,
		},
		Capture: CaptureConfig{
			Driver:       "ffmpeg",
			InputDevice:  "default",
			Format:       "webm",
			SampleRate:   48000,
			Channels:     1,
			FragmentSize: 4096,
		},
		Storage: StorageConfig{
			CredentialsPath: filepath.Join(configDir, "stt", "session.yaml"),
			RecordingsDir:   filepath.Join(os.TempDir(), "stt-recordings"),
		},
		HTTP: HTTPConfig{
			Port:    8765,
			Address: "127.0.0.1",
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads and parses the configuration file on top of the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads path when it exists and falls back to the defaults otherwise.
// Environment overrides (including any .env files) are applied in both cases.
func LoadOrDefault(path string, envFiles ...string) (*Config, error) {
	var config *Config
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		config = Default()
	} else {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	if err := LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	config.ApplyEnv(os.LookupEnv)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadEnvFiles loads the given .env files into the process environment.
// Missing files are skipped; variables already set are not overwritten.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides configuration values from STT_* environment variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("STT_BACKEND_URL"); ok && v != "" {
		c.Backend.BaseURL = v
	}
	if v, ok := lookup("STT_UPLOAD_TIMEOUT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Backend.UploadTimeout = n
		}
	}
	if v, ok := lookup("STT_CAPTURE_DRIVER"); ok && v != "" {
		c.Capture.Driver = v
	}
	if v, ok := lookup("STT_INPUT_DEVICE"); ok && v != "" {
		c.Capture.InputDevice = v
	}
	if v, ok := lookup("STT_CREDENTIALS_PATH"); ok && v != "" {
		c.Storage.CredentialsPath = v
	}
	if v, ok := lookup("STT_RECORDINGS_DIR"); ok && v != "" {
		c.Storage.RecordingsDir = v
	}
	if v, ok := lookup("STT_HTTP_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = n
		}
	}
	if v, ok := lookup("STT_LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
}

// Validate performs validation of every configuration section
func (c *Config) Validate() error {
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates backend configuration
func (b *BackendConfig) Validate() error {
	if b.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	u, err := url.Parse(b.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("base_url must be an absolute http(s) URL, got '%s'", b.BaseURL)
	}

	if b.UploadTimeout < 0 {
		return fmt.Errorf("upload_timeout cannot be negative, got %d", b.UploadTimeout)
	}

	if b.RequestTimeout < 1 {
		return fmt.Errorf("request_timeout must be at least 1 second, got %d", b.RequestTimeout)
	}

	return nil
}

// Validate validates capture configuration
func (a *CaptureConfig) Validate() error {
	validDrivers := map[string]bool{"ffmpeg": true, "arecord": true, "portaudio": true}
	if !validDrivers[a.Driver] {
		return fmt.Errorf("driver must be 'ffmpeg', 'arecord' or 'portaudio', got '%s'", a.Driver)
	}

	validFormats := map[string]bool{"webm": true, "wav": true}
	if !validFormats[a.Format] {
		return fmt.Errorf("format must be 'webm' or 'wav', got '%s'", a.Format)
	}

	if (a.Driver == "arecord" || a.Driver == "portaudio") && a.Format != "wav" {
		return fmt.Errorf("%s driver only supports the wav format, got '%s'", a.Driver, a.Format)
	}

	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}

	if a.FragmentSize < 512 {
		return fmt.Errorf("fragment_size must be at least 512 bytes, got %d", a.FragmentSize)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.CredentialsPath == "" {
		return fmt.Errorf("credentials_path cannot be empty")
	}

	if s.RecordingsDir == "" {
		return fmt.Errorf("recordings_dir cannot be empty")
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetUploadTimeoutDuration returns the upload timeout; zero means no timeout
func (b *BackendConfig) GetUploadTimeoutDuration() time.Duration {
	return time.Duration(b.UploadTimeout) * time.Second
}

// GetRequestTimeoutDuration returns the timeout for non-upload requests
func (b *BackendConfig) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(b.RequestTimeout) * time.Second
}

// ListenAddress returns the host:port the control server listens on
func (h *HTTPConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}
