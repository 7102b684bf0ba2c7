package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

var (
	exitStderr io.Writer = os.Stderr
	exit                 = os.Exit
)

// Exitf reports a startup failure on stderr and exits with code 1. It logs
// through a fresh text handler so it works before logging is configured.
func Exitf(format string, args ...any) {
	logger := slog.New(slog.NewTextHandler(exitStderr, nil))
	logger.Error(fmt.Sprintf(format, args...))
	exit(1)
}
