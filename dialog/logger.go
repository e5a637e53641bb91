package dialog

import "log/slog"

var defLogger *slog.Logger

// SetDefaultLogger sets the logger used by this package.
func SetDefaultLogger(l *slog.Logger) { defLogger = l }

func logger() *slog.Logger {
	if defLogger != nil {
		return defLogger
	}
	return slog.Default()
}
