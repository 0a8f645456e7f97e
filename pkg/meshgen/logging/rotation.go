package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	// MaxSize is the size in bytes that triggers rotation. Zero uses 10MiB.
	MaxSize int64

	// MaxAge is the number of days backups are kept. Zero keeps them.
	MaxAge int

	// MaxBackups caps the number of backups. Zero keeps them all.
	MaxBackups int

	// Daily rotates at the first write on a new calendar day.
	Daily bool
}

// DefaultRotationConfig returns the rotation settings used when the config
// file has none.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSize: 10 << 20, MaxAge: 30, MaxBackups: 5, Daily: true}
}

// backupLayout names backups meshgen.<stamp>.log so they sort by age.
const backupLayout = "2006-01-02-150405.000"

// RotatingWriter appends to a log file and moves it aside when it grows too
// large or a new day starts. Each write holds an flock because the CLI, the
// TUI and the installer may log to the same file at once.
type RotatingWriter struct {
	mu     sync.Mutex
	path   string
	cfg    RotationConfig
	f      *os.File
	size   int64
	opened time.Time
}

// NewRotatingWriter opens (or creates) path and its parent directories, then
// prunes old backups.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultRotationConfig().MaxSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	w := &RotatingWriter{path: path, cfg: cfg}
	if err := w.reopen(); err != nil {
		return nil, err
	}
	w.prune(time.Now())
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return 0, os.ErrClosed
	}
	if now := time.Now(); w.due(len(p), now) {
		if err := w.rotate(now); err != nil {
			return 0, fmt.Errorf("rotating log file: %w", err)
		}
	}

	fd := int(w.f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return 0, fmt.Errorf("locking log file: %w", err)
	}
	n, err := w.f.Write(p)
	_ = unix.Flock(fd, unix.LOCK_UN)
	w.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("writing log file: %w", err)
	}
	return n, nil
}

// Close syncs and closes the file. Closing twice is a no-op.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return nil
	}
	f := w.f
	w.f = nil
	return errors.Join(f.Sync(), f.Close())
}

func (w *RotatingWriter) reopen() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.f, w.size, w.opened = f, info.Size(), info.ModTime()
	return nil
}

// due reports whether the next write of n bytes must go to a fresh file.
// An empty file is never rotated for size, so one oversized record still
// lands somewhere.
func (w *RotatingWriter) due(n int, now time.Time) bool {
	if w.size > 0 && w.size+int64(n) > w.cfg.MaxSize {
		return true
	}
	if !w.cfg.Daily {
		return false
	}
	y1, m1, d1 := w.opened.Date()
	y2, m2, d2 := now.Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}

func (w *RotatingWriter) rotate(now time.Time) error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("closing log file: %w", err)
	}
	w.f = nil

	if err := os.Rename(w.path, w.backupPath(now)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("moving log file aside: %w", err)
	}
	if err := w.reopen(); err != nil {
		return err
	}
	w.opened = now
	w.prune(now)
	return nil
}

// backupPath returns an unused backup name for now.
func (w *RotatingWriter) backupPath(now time.Time) string {
	stem, ext := w.split()
	name := stem + "." + now.Format(backupLayout)
	candidate := name + ext
	for i := 1; ; i++ {
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
		candidate = name + "-" + strconv.Itoa(i) + ext
	}
}

func (w *RotatingWriter) split() (stem, ext string) {
	ext = filepath.Ext(w.path)
	return strings.TrimSuffix(w.path, ext), ext
}

// backups lists rotated siblings of the live file, newest first.
func (w *RotatingWriter) backups() []string {
	stem, ext := w.split()
	prefix := filepath.Base(stem) + "."
	entries, err := os.ReadDir(filepath.Dir(w.path))
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) || len(name) <= len(prefix)+len(ext) {
			continue
		}
		out = append(out, filepath.Join(filepath.Dir(w.path), name))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out
}

// prune deletes backups beyond MaxBackups or older than MaxAge. Failures
// are ignored; a stale backup is harmless.
func (w *RotatingWriter) prune(now time.Time) {
	cutoff := now.AddDate(0, 0, -w.cfg.MaxAge)
	for i, path := range w.backups() {
		if w.cfg.MaxBackups > 0 && i >= w.cfg.MaxBackups {
			_ = os.Remove(path)
			continue
		}
		if w.cfg.MaxAge <= 0 {
			continue
		}
		if info, err := os.Stat(path); err == nil && info.ModTime().Before(cutoff) {
			_ = os.Remove(path)
		}
	}
}
