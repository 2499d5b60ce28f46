package common

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// kvbindLogger implements the ILogger interface on top of a zap sugared logger
type kvbindLogger struct {
	name   string
	level  atomic.Int32
	logger *zap.SugaredLogger
}

func (l *kvbindLogger) SetLevel(level logger.LogLevel) {
	l.level.Store(int32(level))
}

func (l *kvbindLogger) enabled(level logger.LogLevel) bool {
	return logger.LogLevel(l.level.Load()) >= level
}

func (l *kvbindLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		l.logger.Debugf(format, args...)
	}
}

func (l *kvbindLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		l.logger.Infof(format, args...)
	}
}

func (l *kvbindLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		l.logger.Warnf(format, args...)
	}
}

func (l *kvbindLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		l.logger.Errorf(format, args...)
	}
}

func (l *kvbindLogger) Panicf(format string, args ...interface{}) {
	if l.enabled(logger.CRITICAL) {
		l.logger.Panicf(format, args...)
	}
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// base is the zap logger shared by all package loggers
var base atomic.Pointer[zap.Logger]

func init() {
	base.Store(newZapLogger("console"))
}

// newZapLogger builds the root zap logger. The level is filtered by the
// package loggers, zap itself logs everything.
func newZapLogger(format string) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")

	var enc zapcore.Encoder
	if format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encCfg.ConsoleSeparator = " | "
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), zapcore.DebugLevel)
	return zap.New(core)
}

// CreateLogger implements the dragonboat logger.Factory
func CreateLogger(pkgName string) logger.ILogger {
	l := &kvbindLogger{
		name:   pkgName,
		logger: base.Load().Named(pkgName).Sugar(),
	}
	l.level.Store(int32(logger.INFO))
	return l
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return 0, fmt.Errorf("%w: invalid log level: %s. must be one of debug, info, warn, error", ErrInvalidConfig, level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// loggerNames lists the package loggers of kvbind
var loggerNames = []string{
	"binding",
	"cluster",
	"dispatch",
	"engine",
	"registry",
	"slots",
	"rpc/client",
	"rpc/server",
	"store",
	"transport/rpc",
	"cli",
}

// InitLoggers installs the zap backed logger factory and sets the level
// of all package loggers.
func InitLoggers(level, format string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}
	if format != "" && format != "console" && format != "json" {
		return fmt.Errorf("%w: invalid log format: %s. must be one of console, json", ErrInvalidConfig, format)
	}

	base.Store(newZapLogger(format))
	logger.SetLoggerFactory(CreateLogger)

	for _, name := range loggerNames {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
