package logging

import (
	"os"
	"runtime"
	"time"

	"cloud.google.com/go/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config carries the logging knobs every daemon exposes.
type Config struct {
	// Version is stamped into every line, usually the build's git commit.
	Version string
	// Debug lowers the global level to debug.
	Debug bool
	// Human switches the output to the console writer for local runs.
	Human bool
}

// Setup configures the process-wide logger. Every line carries the build
// version, the Go runtime version, and a Cloud Logging severity field.
func Setup(cfg Config) {
	zerolog.TimestampFieldName = "timestamp"
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Human {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	log.Logger = log.Logger.Hook(severityHook{}).With().
		Str("version", cfg.Version).
		Str("goversion", runtime.Version()).
		Logger()
}

// severities maps zerolog levels onto the Cloud Logging scale so lines keep
// their level when shipped through the GCP agent.
var severities = map[zerolog.Level]logging.Severity{
	zerolog.DebugLevel: logging.Debug,
	zerolog.InfoLevel:  logging.Info,
	zerolog.WarnLevel:  logging.Warning,
	zerolog.ErrorLevel: logging.Error,
	zerolog.FatalLevel: logging.Alert,
	zerolog.PanicLevel: logging.Emergency,
}

type severityHook struct{}

func (severityHook) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	severity, ok := severities[level]
	if !ok {
		severity = logging.Info
	}
	e.Str("severity", severity.String())
}
