// Package xlog provides leveled, colorized logging for the engine and its
// CLI front end.
package xlog

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/colorstring"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	currentLevel = LevelInfo
	useColors    = true
)

// SetVerbose enables debug-level logging.
func SetVerbose(verbose bool) {
	if verbose {
		currentLevel = LevelDebug
	}
}

// SetQuiet restricts output to errors only.
func SetQuiet(quiet bool) {
	if quiet {
		currentLevel = LevelError
	}
}

// SetColors enables or disables colorized output.
func SetColors(enabled bool) {
	useColors = enabled
}

func colorize(tag, msg string) string {
	if !useColors {
		return msg
	}
	return colorstring.Color(tag + msg + "[reset]")
}

func timestamp() string {
	return time.Now().Format("15:04:05")
}

// Debugf logs a debug-level message.
func Debugf(format string, args ...interface{}) {
	if currentLevel > LevelDebug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "%s [DEBUG] %s\n", timestamp(), colorize("[dim]", msg))
}

// Infof logs an info-level message.
func Infof(format string, args ...interface{}) {
	if currentLevel > LevelInfo {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "%s [INFO]  %s\n", timestamp(), colorize("[cyan]", msg))
}

// Warnf logs a warning-level message.
func Warnf(format string, args ...interface{}) {
	if currentLevel > LevelWarn {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "%s [WARN]  %s\n", timestamp(), colorize("[yellow]", msg))
}

// Errorf logs an error-level message.
func Errorf(format string, args ...interface{}) {
	if currentLevel > LevelError {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "%s [ERROR] %s\n", timestamp(), colorize("[red]", msg))
}

// Successf logs a success message; shown at info level or above.
func Successf(format string, args ...interface{}) {
	if currentLevel > LevelInfo {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "%s [OK]    %s\n", timestamp(), colorize("[green]", msg))
}
