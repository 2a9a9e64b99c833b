package log

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// The log levels accepted by Init.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
	LogLevelFatal = "fatal"
)

const logTestWriterName = "_testWriter"

var (
	log      zerolog.Logger
	errorLog *zerolog.Logger
	level    string

	// logTestWriter is the output used when Init is called with
	// logTestWriterName, so tests and benchmarks can capture or discard the
	// stream.
	logTestWriter io.Writer

	// panicOnInvalidChars signals whether the log output should be checked
	// for invalid UTF-8, panicking on the first occurrence. Useful to catch
	// raw bytes logged through %s.
	panicOnInvalidChars = os.Getenv("LOG_PANIC_ON_INVALIDCHARS") == "true"
)

type invalidCharChecker struct {
	io.Writer
}

func (w invalidCharChecker) Write(p []byte) (int, error) {
	if !utf8.Valid(p) {
		panic(fmt.Sprintf("invalid UTF-8 in log line: %q", p))
	}
	return w.Writer.Write(p)
}

// Init initializes the logger. Output can be "stdout", "stderr" or a file
// path; stdout and stderr get a human console format, a file gets JSON lines.
// Level is one of debug, info, warn, error, fatal. If errorOutput is not nil,
// messages of level error or above are mirrored to it as JSON.
func Init(logLevel, output string, errorOutput io.Writer) {
	var out io.Writer
	console := false
	switch output {
	case "stdout":
		out = os.Stdout
		console = true
	case "stderr":
		out = os.Stderr
		console = true
	case logTestWriterName:
		out = logTestWriter
		console = true
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			panic(fmt.Sprintf("cannot open log output %q: %v", output, err))
		}
		out = f
	}
	if panicOnInvalidChars {
		out = invalidCharChecker{out}
	}
	if console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		panic(fmt.Sprintf("invalid log level %q: %v", logLevel, err))
	}
	level = logLevel
	log = zerolog.New(out).Level(lvl).With().Timestamp().Caller().Logger()
	errorLog = nil
	if errorOutput != nil {
		l := zerolog.New(errorOutput).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
		errorLog = &l
	}
	Debugf("logger construction succeeded at level %s with output %s", logLevel, output)
}

// Level returns the log level set on Init.
func Level() string {
	return level
}

// Logger returns the underlying zerolog instance.
func Logger() *zerolog.Logger {
	return &log
}

func mirrorError(msg string) {
	if errorLog != nil {
		errorLog.Error().CallerSkipFrame(2).Msg(msg)
	}
}

// Debug logs at debug level, formatting the arguments like fmt.Sprint.
func Debug(args ...any) {
	log.Debug().CallerSkipFrame(1).Msg(fmt.Sprint(args...))
}

// Info logs at info level, formatting the arguments like fmt.Sprint.
func Info(args ...any) {
	log.Info().CallerSkipFrame(1).Msg(fmt.Sprint(args...))
}

// Warn logs at warn level, formatting the arguments like fmt.Sprint.
func Warn(args ...any) {
	log.Warn().CallerSkipFrame(1).Msg(fmt.Sprint(args...))
}

// Error logs at error level, formatting the arguments like fmt.Sprint.
func Error(args ...any) {
	msg := fmt.Sprint(args...)
	log.Error().CallerSkipFrame(1).Msg(msg)
	mirrorError(msg)
}

// Fatal logs at fatal level and exits the program.
func Fatal(args ...any) {
	msg := fmt.Sprint(args...)
	mirrorError(msg)
	log.Fatal().CallerSkipFrame(1).Msg(msg)
}

// Debugf logs at debug level with a printf format.
func Debugf(format string, args ...any) {
	log.Debug().CallerSkipFrame(1).Msgf(format, args...)
}

// Infof logs at info level with a printf format.
func Infof(format string, args ...any) {
	log.Info().CallerSkipFrame(1).Msgf(format, args...)
}

// Warnf logs at warn level with a printf format.
func Warnf(format string, args ...any) {
	log.Warn().CallerSkipFrame(1).Msgf(format, args...)
}

// Errorf logs at error level with a printf format.
func Errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Error().CallerSkipFrame(1).Msg(msg)
	mirrorError(msg)
}

// Fatalf logs at fatal level with a printf format and exits the program.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	mirrorError(msg)
	log.Fatal().CallerSkipFrame(1).Msg(msg)
}

func kvFields(keyvalues ...any) map[string]any {
	fields := make(map[string]any, len(keyvalues)/2)
	for i := 0; i+1 < len(keyvalues); i += 2 {
		key, ok := keyvalues[i].(string)
		if !ok {
			key = fmt.Sprint(keyvalues[i])
		}
		fields[key] = keyvalues[i+1]
	}
	return fields
}

// Debugw logs a message at debug level with alternating key-value pairs.
func Debugw(msg string, keyvalues ...any) {
	log.Debug().CallerSkipFrame(1).Fields(kvFields(keyvalues...)).Msg(msg)
}

// Infow logs a message at info level with alternating key-value pairs.
func Infow(msg string, keyvalues ...any) {
	log.Info().CallerSkipFrame(1).Fields(kvFields(keyvalues...)).Msg(msg)
}

// Warnw logs a message at warn level with alternating key-value pairs.
func Warnw(msg string, keyvalues ...any) {
	log.Warn().CallerSkipFrame(1).Fields(kvFields(keyvalues...)).Msg(msg)
}

// Errorw logs an error and a message at error level.
func Errorw(err error, msg string) {
	log.Error().CallerSkipFrame(1).Err(err).Msg(msg)
	mirrorError(fmt.Sprintf("%s: %v", msg, err))
}
