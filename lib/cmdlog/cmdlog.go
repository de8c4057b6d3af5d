// Package cmdlog logs instrument commands and replies in colour, for
// interactive command-line tools.
package cmdlog

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/gotmc/telepath"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	CmdStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	ReplyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	NoneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	ErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// printable reports whether s is text: printable runes plus the usual
// whitespace controls.
func printable(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	return !strings.ContainsFunc(s, func(r rune) bool {
		switch {
		case r == '\t', r == '\n', r == '\r', r == '\v', r == '\f':
			return false
		case r < 0x20, r == 0x7f:
			return true
		}
		return false
	})
}

// Describe renders a reply for a log line: quoted text, or a hex dump for
// binary data, prefixed with its length.
func Describe(b []byte) string {
	switch {
	case len(b) == 0:
		return NoneStyle.Render("<no response>")
	case printable(string(b)):
		return ReplyStyle.Render(fmt.Sprintf("[%d] %q", len(b), b))
	case len(b) < 32:
		return ReplyStyle.Render(fmt.Sprintf("[%d] %q (% 2x)", len(b), b, b))
	}
	return ReplyStyle.Render(fmt.Sprintf("[%d] % 2x", len(b), b))
}

// Logger wraps a device and logs every exchange at info level. Failures
// are logged, not returned, which suits exploratory sessions.
type Logger struct {
	dev *telepath.Device
	log zerolog.Logger
}

func New(dev *telepath.Device, log zerolog.Logger) *Logger {
	return &Logger{dev: dev, log: log}
}

// Ask sends q and returns the reply, or "" on error.
func (l *Logger) Ask(q string) string {
	s, err := l.dev.Ask(q)
	if err != nil {
		l.log.Error().Msgf("%s: %s", CmdStyle.Render(q), ErrStyle.Render(err.Error()))
		return ""
	}
	l.log.Info().Msgf("%s: %s", CmdStyle.Render(q), Describe([]byte(s)))
	return s
}

// Block sends q and returns the payload of its block reply.
func (l *Logger) Block(q string) []byte {
	b, err := l.dev.AskBlock(q)
	if err != nil {
		l.log.Error().Msgf("%s: %s", CmdStyle.Render(q), ErrStyle.Render(err.Error()))
		return nil
	}
	l.log.Info().Msgf("%s: block %s", CmdStyle.Render(q), Describe(b))
	return b
}

// Command sends c without reading a reply.
func (l *Logger) Command(c string) {
	if _, err := l.dev.Write(c); err != nil {
		l.log.Error().Msgf("%s: %s", CmdStyle.Render(c), ErrStyle.Render(err.Error()))
		return
	}
	l.log.Info().Msgf("%s()", CmdStyle.Render(c))
}

// InitLogger builds the console logger used by the command-line tools and
// installs it as the global zerolog logger. Traffic is traced at debug
// level when verbose is set.
func InitLogger(app string, verbose bool) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05.000000",
	}
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(output).Level(level).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
