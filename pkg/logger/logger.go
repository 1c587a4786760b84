// Package logger builds the zerolog logger shared by the commands and the
// admin server.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joomcode/errorx"
	"github.com/rs/zerolog"
)

const (
	permission = 0664
)

type LogBuild struct {
	writer  io.Writer
	path    string
	level   string
	console bool
}

type LogData struct {
	LogFile *os.File
	Logger  zerolog.Logger
}

func New() *LogBuild {
	return &LogBuild{}
}

// FromPath appends log lines to the file at path. It takes precedence over
// FromBuffer.
func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromBuffer(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

// WithLevel sets the minimum level by name, e.g. "debug" or "warn". An
// empty name keeps info.
func (build *LogBuild) WithLevel(level string) *LogBuild {
	build.level = level
	return build
}

// Console switches to human readable output.
func (build *LogBuild) Console(enabled bool) *LogBuild {
	build.console = enabled
	return build
}

func (build *LogBuild) Make() (logData *LogData, err error) {
	level := zerolog.InfoLevel
	if build.level != "" {
		level, err = zerolog.ParseLevel(strings.ToLower(build.level))
		if err != nil {
			return nil, errorx.IllegalArgument.Wrap(err, "invalid log level %q", build.level)
		}
	}

	logData = new(LogData)
	writer := build.writer
	if writer == nil {
		writer = os.Stderr
	}
	if build.path != "" {
		logData.LogFile, err = os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		writer = zerolog.SyncWriter(logData.LogFile)
	}
	if build.console {
		writer = zerolog.ConsoleWriter{Out: writer, NoColor: build.path != ""}
	}

	logData.Logger = zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return logData, nil
}

// Close releases the log file, if any.
func (logData *LogData) Close() error {
	if logData.LogFile == nil {
		return nil
	}
	return logData.LogFile.Close()
}

// StdLogger adapts a zerolog logger to the Print/Printf/Println interface
// expected by libraries such as gocql. Every line is logged at one level.
type StdLogger struct {
	logger *zerolog.Logger
	level  zerolog.Level
}

func NewStdLogger(logger *zerolog.Logger, level zerolog.Level) *StdLogger {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &StdLogger{logger: logger, level: level}
}

func (l *StdLogger) Print(v ...any) {
	l.logger.WithLevel(l.level).Msg(strings.TrimSuffix(fmt.Sprint(v...), "\n"))
}

func (l *StdLogger) Printf(format string, v ...any) {
	l.logger.WithLevel(l.level).Msg(strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"))
}

func (l *StdLogger) Println(v ...any) {
	l.logger.WithLevel(l.level).Msg(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}
