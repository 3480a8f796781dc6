package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultInstance is reported when INSTANCE_NAME is not set.
const DefaultInstance = "Unknown"

// Options controls how a logger handle is built.
type Options struct {
	// Finder is the DID finder scheme (e.g. "rucio"). The logger is named
	// "<finder>_did_finder".
	Finder string

	// Instance identifies the deployment. Empty falls back to INSTANCE_NAME,
	// then DefaultInstance.
	Instance string

	// JSON selects the production JSON encoder instead of console output.
	JSON bool

	// Level is the minimum enabled level.
	Level zapcore.Level

	// Output overrides the destination (stdout by default).
	Output zapcore.WriteSyncer
}

// New builds a logger handle. There is no package-level logger: callers keep
// what New returns and pass it down.
func New(opts Options) (*zap.SugaredLogger, error) {
	instance := opts.Instance
	if instance == "" {
		instance = os.Getenv("INSTANCE_NAME")
	}
	if instance == "" {
		instance = DefaultInstance
	}

	out := opts.Output
	if out == nil {
		out = zapcore.AddSync(os.Stdout)
	}

	var encoder zapcore.Encoder
	if opts.JSON {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(encoder, out, zap.NewAtomicLevelAt(opts.Level))
	zl := zap.New(core, zap.ErrorOutput(out))

	if opts.Finder != "" {
		zl = zl.Named(opts.Finder + "_did_finder")
	}
	return zl.Sugar().With(FieldInstance, instance), nil
}

// NewNop returns a handle that discards everything. Useful as a default in
// constructors and tests.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// OptionsFromEnv derives output format and level from the environment.
//
// JSON output is selected when ENVIRONMENT is production/prod or LOG_FORMAT
// is json. LOG_LEVEL accepts any zap level name; unknown values keep INFO.
func OptionsFromEnv(finder string) Options {
	opts := Options{Finder: finder, Level: zapcore.InfoLevel}

	if env := strings.ToLower(os.Getenv("ENVIRONMENT")); env == "production" || env == "prod" {
		opts.JSON = true
	}
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		opts.JSON = true
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if parsed, err := zapcore.ParseLevel(strings.ToLower(lvl)); err == nil {
			opts.Level = parsed
		}
	}
	return opts
}

// Sync flushes any buffered log entries. Errors from syncing stdout on some
// platforms are not actionable and are ignored.
func Sync(log *zap.SugaredLogger) {
	if log != nil {
		_ = log.Sync()
	}
}
