package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	defaultAuditMaxSizeMB     = 64
	defaultAuditRetentionDays = 90
)

// dailyFile writes the payment audit trail into one file per UTC day, named
// after the configured path: audit.log becomes audit-2006-01-02.log. A day
// that outgrows maxSize continues in audit-2006-01-02.1.log and so on. Day
// files older than the retention window are removed whenever a day is opened.
type dailyFile struct {
	mu        sync.Mutex
	dir       string
	stem      string
	ext       string
	maxSize   int64
	retention int
	now       func() time.Time

	day  string
	seq  int
	file *os.File
	size int64
}

func newDailyFile(path string, maxSizeMB, retentionDays int) (*dailyFile, error) {
	if path == "" {
		return nil, errors.New("audit log path is required")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = defaultAuditMaxSizeMB
	}
	if retentionDays <= 0 {
		retentionDays = defaultAuditRetentionDays
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	ext := filepath.Ext(path)
	return &dailyFile{
		dir:       dir,
		stem:      strings.TrimSuffix(filepath.Base(path), ext),
		ext:       ext,
		maxSize:   int64(maxSizeMB) << 20,
		retention: retentionDays,
		now:       time.Now,
	}, nil
}

func (w *dailyFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	day := w.now().UTC().Format(time.DateOnly)
	if day != w.day || w.file == nil {
		if err := w.openDay(day); err != nil {
			return 0, err
		}
	}
	if w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		w.closeFile()
		w.seq++
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *dailyFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeFile()
}

// pathFor returns the file holding part seq of day.
func (w *dailyFile) pathFor(day string, seq int) string {
	name := w.stem + "-" + day
	if seq > 0 {
		name = fmt.Sprintf("%s.%d", name, seq)
	}
	return filepath.Join(w.dir, name+w.ext)
}

// openDay switches to day and appends to its newest part.
func (w *dailyFile) openDay(day string) error {
	w.closeFile()
	w.day = day
	w.seq = 0
	for {
		if _, err := os.Stat(w.pathFor(day, w.seq+1)); err != nil {
			break
		}
		w.seq++
	}
	w.prune()
	return w.open()
}

func (w *dailyFile) open() error {
	path := w.pathFor(w.day, w.seq)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log %s: %w", path, err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

func (w *dailyFile) closeFile() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.size = 0
	return err
}

// prune removes day files that fell out of the retention window.
func (w *dailyFile) prune() {
	matches, err := filepath.Glob(filepath.Join(w.dir, w.stem+"-*"+w.ext))
	if err != nil {
		return
	}
	today, err := time.Parse(time.DateOnly, w.day)
	if err != nil {
		return
	}
	cutoff := today.AddDate(0, 0, -w.retention)
	prefix := w.stem + "-"
	for _, match := range matches {
		rest := strings.TrimPrefix(filepath.Base(match), prefix)
		if len(rest) < len(time.DateOnly) {
			continue
		}
		day, err := time.Parse(time.DateOnly, rest[:len(time.DateOnly)])
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			_ = os.Remove(match)
		}
	}
}
