// Package zerolog adapts github.com/rs/zerolog to the pkg/logger.Logger
// interface, with the teacher's console formatting (colored level/caller
// columns via google/goterm).
package zerolog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/goterm/term"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"

	applog "github.com/solbot-labs/engine/pkg/logger"
)

// Logger wraps a *zerolog.Logger so it satisfies applog.Logger.
type Logger struct {
	*zerolog.Logger
}

// New builds a console-formatted zerolog Logger. jsonFormat bypasses the
// colored console writer for structured log aggregation.
func New(level, dateTimeLayout string, colored, jsonFormat bool) (*Logger, error) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	logMode, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(logMode)

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		NoColor:    !colored,
		TimeFormat: dateTimeLayout,
	}

	if !jsonFormat {
		output.FormatLevel = formatLevel
		output.FormatMessage = formatMessage
		output.FormatCaller = formatCaller
		output.FormatTimestamp = func(i interface{}) string {
			return formatTimestamp(i, dateTimeLayout)
		}
	}

	var out io.Writer = output
	if jsonFormat {
		out = os.Stdout
	}

	l := log.Output(out).With().CallerWithSkipFrameCount(3).Logger()
	return &Logger{&l}, nil
}

func (z *Logger) Print(args ...any) { z.Logger.Print(args...) }
func (z *Logger) Debug(args ...any) { z.Logger.Debug().Msg(fmt.Sprint(args...)) }
func (z *Logger) Info(args ...any)  { z.Logger.Info().Msg(fmt.Sprint(args...)) }
func (z *Logger) Warn(args ...any)  { z.Logger.Warn().Msg(fmt.Sprint(args...)) }
func (z *Logger) Error(args ...any) { z.Logger.Error().Msg(fmt.Sprint(args...)) }
func (z *Logger) Fatal(args ...any) { z.Logger.Fatal().Msg(fmt.Sprint(args...)) }
func (z *Logger) Panic(args ...any) { z.Logger.Panic().Msg(fmt.Sprint(args...)) }

func (z *Logger) Printf(format string, args ...any) { z.Logger.Printf(format, args...) }
func (z *Logger) Debugf(format string, args ...any) { z.Logger.Debug().Msgf(format, args...) }
func (z *Logger) Infof(format string, args ...any)  { z.Logger.Info().Msgf(format, args...) }
func (z *Logger) Warnf(format string, args ...any)  { z.Logger.Warn().Msgf(format, args...) }
func (z *Logger) Errorf(format string, args ...any) { z.Logger.Error().Msgf(format, args...) }
func (z *Logger) Fatalf(format string, args ...any) { z.Logger.Fatal().Msgf(format, args...) }
func (z *Logger) Panicf(format string, args ...any) { z.Logger.Panic().Msgf(format, args...) }

func (z *Logger) WithError(err error) applog.Logger {
	l := z.With().Err(err).Logger()
	return &Logger{&l}
}

func (z *Logger) WithField(key string, value any) applog.Logger {
	l := z.With().Interface(key, value).Logger()
	return &Logger{&l}
}

func (z *Logger) WithFields(fields map[string]any) applog.Logger {
	l := z.With().Fields(fields).Logger()
	return &Logger{&l}
}

var _ applog.Logger = (*Logger)(nil)

func formatLevel(i interface{}) string {
	levelStr, ok := i.(string)
	if !ok {
		return "UNKNOWN"
	}
	return getLevelColor(levelStr)
}

func getLevelColor(level string) string {
	switch level {
	case zerolog.LevelTraceValue:
		return term.Cyanf("[TRC]")
	case zerolog.LevelDebugValue:
		return term.Cyanf("[DBG]")
	case zerolog.LevelInfoValue:
		return term.Greenf("[INF]")
	case zerolog.LevelWarnValue:
		return term.Yellowf("[WAR]")
	case zerolog.LevelPanicValue:
		return term.Redf("[PAN]")
	case zerolog.LevelFatalValue:
		return term.Redf("[FTL]")
	case zerolog.LevelErrorValue:
		return term.Redf("[ERR]")
	default:
		return term.Whitef("[UNK]")
	}
}

func formatMessage(i interface{}) string {
	const maxSize = 80

	msg, ok := i.(string)
	if !ok || len(msg) == 0 {
		return ">"
	}

	if len(msg) > maxSize {
		msg = msg[:maxSize]
	}
	if len(msg) < maxSize {
		msg += strings.Repeat(" ", maxSize-len(msg))
	}

	return term.Whitef("> %s", msg)
}

func formatCaller(i interface{}) string {
	const maxFileSize = 18
	const maxLineSize = 4

	fname, ok := i.(string)
	if !ok || len(fname) == 0 {
		return ""
	}

	caller := filepath.Base(fname)
	callerSplit := strings.Split(caller, ":")
	if len(callerSplit) != 2 {
		return caller
	}

	fileBase := callerSplit[0]
	line := callerSplit[1]

	if len(fileBase) > maxFileSize {
		fileBase = fileBase[:maxFileSize]
	} else {
		fileBase = fmt.Sprintf("%-*s", maxFileSize, fileBase)
	}

	if len(line) > maxLineSize {
		line = line[len(line)-maxLineSize:]
	} else {
		line = fmt.Sprintf("%*s", maxLineSize, line)
	}

	caller = fmt.Sprintf("%s:%s", fileBase, line)
	return term.Yellowf("[%s]", caller)
}

func formatTimestamp(i interface{}, timeLayout string) string {
	strTime, ok := i.(string)
	if !ok {
		return term.Cyanf("[%s]", i)
	}

	ts, err := time.ParseInLocation(time.RFC3339, strTime, time.Local)
	if err != nil {
		strTime = i.(string)
	} else {
		strTime = ts.In(time.Local).Format(timeLayout)
	}

	return term.Cyanf("[%s]", strTime)
}
