package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/auth"
	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/config"
	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/metrics"
	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvFile    = ".env"
	serviceName       = "stt"
	serviceVersion    = "1.0.0"
)

// app holds what every subcommand needs
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *auth.Store
	client  *transcription.Client
	metrics *metrics.Metrics
}

type command struct {
	name    string
	summary string
	run     func(a *app, args []string) error
}

var commands = []command{
	{"register", "Create a backend account", runRegister},
	{"login", "Log in and remember the session", runLogin},
	{"logout", "Forget the stored session", runLogout},
	{"whoami", "Show the logged-in user", runWhoami},
	{"record", "Record audio and transcribe it", runRecord},
	{"history", "List previous transcripts", runHistory},
	{"download", "Download a transcript as .txt or .docx", runDownload},
	{"serve", "Run the local control API", runServe},
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	name, args := os.Args[1], os.Args[2:]
	if name == "-h" || name == "--help" || name == "help" {
		usage()
		return
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", name)
		usage()
		os.Exit(2)
	}

	// Global flags come before the subcommand's own flags
	global := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := global.String("config", defaultConfigPath, "Path to configuration file")
	envFile := global.String("env-file", defaultEnvFile, "Path to .env file")
	global.SetOutput(os.Stderr)
	global.Usage = func() {}

	rest := splitGlobalFlags(global, args)

	cfg, err := config.LoadOrDefault(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)
	logger.Debug("Configuration loaded",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
		slog.String("backend_url", cfg.Backend.BaseURL),
		slog.String("capture_driver", cfg.Capture.Driver),
		slog.String("format", cfg.Capture.Format),
	)

	client, err := transcription.NewClient(transcription.Config{
		BaseURL:        cfg.Backend.BaseURL,
		RequestTimeout: cfg.Backend.GetRequestTimeoutDuration(),
		UploadTimeout:  cfg.Backend.GetUploadTimeoutDuration(),
		UserAgent:      serviceName + "/" + serviceVersion,
	})
	if err != nil {
		logger.Error("Failed to create backend client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer client.Close()

	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   auth.NewStore(cfg.Storage.CredentialsPath),
		client:  client,
		metrics: metrics.NewMetrics(prometheus.DefaultRegisterer),
	}

	if err := cmd.run(a, rest); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		client.Close()
		os.Exit(1)
	}
}

// splitGlobalFlags parses leading -config/-env-file flags and returns the rest
func splitGlobalFlags(fs *flag.FlagSet, args []string) []string {
	var global, rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-config" || arg == "--config" || arg == "-env-file" || arg == "--env-file":
			global = append(global, arg)
			if i+1 < len(args) {
				global = append(global, args[i+1])
				i++
			}
		case hasFlagPrefix(arg, "config") || hasFlagPrefix(arg, "env-file"):
			global = append(global, arg)
		default:
			rest = append(rest, arg)
		}
	}
	fs.Parse(global)
	return rest
}

func hasFlagPrefix(arg, name string) bool {
	return strings.HasPrefix(arg, "-"+name+"=") || strings.HasPrefix(arg, "--"+name+"=")
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [-config path] [-env-file path] [flags]\n\nCommands:\n", serviceName)
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", c.name, c.summary)
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Logs default to stderr so stdout carries only command output
	var output *os.File
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
