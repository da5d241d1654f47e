package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"

	"github.com/clawpulse/syncrelay/internal/config"
)

var (
	// CLILogger is used by one-shot commands (SIMPLE profile).
	CLILogger *logging.Logger

	// ServerLogger is used by the relay server and its sweeper (STRUCTURED profile).
	ServerLogger *logging.Logger
)

// InitCLILogger initializes the CLI logger with SIMPLE profile
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		exitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize CLI logger", err)
	}

	if verbose {
		logger.SetLevel(logging.DEBUG)
	}

	CLILogger = logger
}

// InitServerLogger initializes the server logger from cfg.
// A "simple" profile logs human readable lines; anything else logs JSON with
// correlation IDs.
func InitServerLogger(serviceName string, cfg config.LoggingConfig) {
	logger, err := NewServerLogger(serviceName, cfg)
	if err != nil {
		exitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize server logger", err)
	}
	ServerLogger = logger
}

// NewServerLogger builds a logger without installing it globally.
func NewServerLogger(serviceName string, cfg config.LoggingConfig) (*logging.Logger, error) {
	loggerConfig := &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: ParseLogLevel(cfg.Level),
		Service:      serviceName,
		Environment:  "production",
		StaticFields: map[string]any{"component": "relay"},
		Middleware: []logging.MiddlewareConfig{
			{
				Name:    "correlation",
				Enabled: true,
				Order:   100,
				Config:  make(map[string]any),
			},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:   "console",
				Format: "json",
				Console: &logging.ConsoleSinkConfig{
					Stream:   "stderr",
					Colorize: false,
				},
			},
		},
		EnableCaller:     true,
		EnableStacktrace: true,
	}

	if strings.EqualFold(strings.TrimSpace(cfg.Profile), "simple") {
		loggerConfig.Profile = logging.ProfileSimple
		loggerConfig.Middleware = nil
		loggerConfig.Sinks[0].Format = "console"
		loggerConfig.EnableStacktrace = false
	}

	return logging.New(loggerConfig)
}

// ParseLogLevel maps a config level to the gofulmen severity name.
func ParseLogLevel(levelStr string) string {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}

// exitWithCodeStderr is used before any logger exists.
func exitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)

	if info, ok := foundry.GetExitCodeInfo(exitCode); ok {
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}
	os.Exit(int(exitCode))
}
