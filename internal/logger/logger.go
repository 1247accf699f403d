package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process-wide logger.
type Options struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // console or json
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
	With().Timestamp().Logger()

// Init replaces the global logger. Console output goes to stdout; when a file
// is configured, JSON lines are also written there with rotation.
func Init(opts Options) {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var console io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if strings.EqualFold(opts.Format, "json") {
		console = os.Stdout
	}

	writers := []io.Writer{console}
	if opts.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    defaultInt(opts.MaxSizeMB, 100),
			MaxBackups: defaultInt(opts.MaxBackups, 5),
			MaxAge:     defaultInt(opts.MaxAgeDays, 30),
			Compress:   true,
		})
	}

	log = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
}

// SetOutput points the logger at w, mainly for tests.
func SetOutput(w io.Writer) {
	log = zerolog.New(w).With().Timestamp().Logger()
}

// Get returns the underlying logger for structured fields.
func Get() *zerolog.Logger {
	return &log
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func Debug(v ...any) { log.Debug().Msg(fmt.Sprint(v...)) }

func Debugf(format string, v ...any) { log.Debug().Msgf(format, v...) }

func Info(v ...any) { log.Info().Msg(fmt.Sprint(v...)) }

func Infof(format string, v ...any) { log.Info().Msgf(format, v...) }

func Warn(v ...any) { log.Warn().Msg(fmt.Sprint(v...)) }

func Warnf(format string, v ...any) { log.Warn().Msgf(format, v...) }

func Error(v ...any) { log.Error().Msg(fmt.Sprint(v...)) }

func Errorf(format string, v ...any) { log.Error().Msgf(format, v...) }

func Fatal(v ...any) { log.Fatal().Msg(fmt.Sprint(v...)) }

func Fatalf(format string, v ...any) { log.Fatal().Msgf(format, v...) }
