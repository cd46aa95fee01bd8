// Package logging builds the JSON slog logger shared by the service.
package logging

import (
	"log/slog"
	"os"
)

func New(level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(h)
}
