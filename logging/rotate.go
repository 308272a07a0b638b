package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxLogSizeMB = 10 // megabytes
	maxLogFiles  = 3  // Keep 3 backup files
)

// OpenLogFile returns a writer appending to path that rotates the file once
// it passes 10MB, keeping 3 timestamped backups next to it. The file is
// opened right away so a bad path fails here rather than on the first log line.
func OpenLogFile(path string) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	lf := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogFiles,
		LocalTime:  true,
	}
	if _, err := lf.Write(nil); err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return lf, nil
}
