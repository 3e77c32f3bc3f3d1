package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// dStreamLogger implements the ILogger interface with custom formatting
type dStreamLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *dStreamLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *dStreamLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *dStreamLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *dStreamLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *dStreamLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *dStreamLogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		panic(fmt.Sprintf(format, args...))
	}
}

// log formats and writes a log message. this internal helper is used by the public methods
func (l *dStreamLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-10s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// loggerNames are all loggers used by this module
var loggerNames = []string{"protocol", "transport", "server", "client", "cmd"}

var (
	factoryOnce sync.Once
	output      io.Writer = os.Stdout
)

// CreateLogger implements the dragonboat logger.Factory
func CreateLogger(pkgName string) logger.ILogger {
	// Create standard logger with custom flags
	stdLogger := log.New(output, "", log.Ldate|log.Ltime|log.Lmicroseconds)

	return &dStreamLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: stdLogger,
	}
}

// newFileWriter returns a rotating writer for the given log file
func newFileWriter(logFile string) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create log directory for %s", logFile)
	}
	return &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// parseLogLevel converts a string level to logger.LogLevel
func parseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return 0, errors.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// InitLoggers installs the custom logger factory and sets the level of all loggers.
// If logFile is not empty the output is written to a rotating log file instead of stdout.
// The factory is only installed once per process, later calls only change the level.
func InitLoggers(level, logFile string) error {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return err
	}

	var initErr error
	factoryOnce.Do(func() {
		if logFile != "" {
			w, err := newFileWriter(logFile)
			if err != nil {
				initErr = err
				return
			}
			output = w
		}

		// Set as the global logger factory for Dragonboat
		logger.SetLoggerFactory(CreateLogger)
	})
	if initErr != nil {
		return initErr
	}

	for _, name := range loggerNames {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
