package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// dailyRotatingWriter opens <dir>/YYYY-MM-DD.log lazily and reopens it
// whenever the wall-clock date rolls over, satisfying the one-file-per-day
// layout without pulling in a rotation library — no pack example rotates
// slog output by calendar day, so this stays on the standard library.
type dailyRotatingWriter struct {
	mu   sync.Mutex
	dir  string
	day  string
	file *os.File
}

func newDailyRotatingWriter(dir string) *dailyRotatingWriter {
	return &dailyRotatingWriter{dir: dir}
}

func (w *dailyRotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	if w.file == nil || today != w.day {
		if err := w.reopen(today); err != nil {
			return 0, err
		}
	}
	return w.file.Write(p)
}

func (w *dailyRotatingWriter) reopen(day string) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(w.dir, day+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if w.file != nil {
		_ = w.file.Close()
	}
	w.file = f
	w.day = day
	return nil
}
