package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmeworks/schemashift/internal/config"
)

const filePrefix = "schemashift-"

// Setup initializes the logger with file and stdout output. Each day gets
// its own file in directory.
func Setup(level, directory string) (*slog.Logger, error) {
	return setup(os.Stdout, level, directory, time.Now())
}

func setup(console io.Writer, level, directory string, now time.Time) (*slog.Logger, error) {
	if directory == "" {
		directory = config.ExpandHome("~/.schemashift/logs/")
	} else {
		directory = config.ExpandHome(directory)
	}

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(directory, FileName(now))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	writer := io.MultiWriter(console, file)
	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(handler), nil
}

// FileName is the log file name for the given day.
func FileName(day time.Time) string {
	return fmt.Sprintf("%s%s.log", filePrefix, day.Format("2006-01-02"))
}

// ParseLevel maps debug, warn and error to their slog levels; anything else
// is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// PruneFiles removes daily log files older than retentionDays and returns
// the names removed. Files that do not follow the daily naming are left
// alone.
func PruneFiles(directory string, retentionDays int, now time.Time) ([]string, error) {
	directory = config.ExpandHome(directory)
	entries, err := os.ReadDir(directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading log directory: %w", err)
	}

	cutoff := now.AddDate(0, 0, -retentionDays)
	var removed []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		day, err := time.ParseInLocation("2006-01-02", strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), ".log"), now.Location())
		if err != nil || !day.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(directory, name)); err != nil {
			return removed, fmt.Errorf("removing %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}
