// Package artifacts watches a run's output directory for generated meshes.
package artifacts

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/meshgen/pkg/meshgen/logging"
)

// DefaultExtensions are the mesh formats the tool writes.
var DefaultExtensions = []string{".glb", ".obj", ".ply", ".stl", ".fbx"}

// Artifact is a mesh file produced by a run.
type Artifact struct {
	Path    string    `json:"path" yaml:"path"`
	Size    int64     `json:"size" yaml:"size"`
	ModTime time.Time `json:"mod_time" yaml:"mod_time"`
}

// IsMesh reports whether path has a mesh extension.
func IsMesh(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range DefaultExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Watcher reports mesh files created under a directory tree.
type Watcher struct {
	watcher *fsnotify.Watcher
	root    string

	mu     sync.Mutex
	paths  map[string]bool
	found  map[string]bool
	closed bool
}

// New creates a watcher. Call Watch before Run.
func New() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher: fsw,
		paths:   make(map[string]bool),
		found:   make(map[string]bool),
	}, nil
}

// Watch adds root and its subdirectories. root is created if missing.
func (w *Watcher) Watch(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return err
	}
	w.root = abs

	return filepath.WalkDir(abs, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // Skip entries with errors
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			return w.addWatch(path)
		}
		return nil
	})
}

func (w *Watcher) addWatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.paths[path] {
		return nil
	}
	if err := w.watcher.Add(path); err != nil {
		logging.Get("artifacts").Warn("failed to add watch", "path", path, "error", err)
		return err
	}
	w.paths[path] = true
	return nil
}

// Run delivers each new mesh file to onArtifact once. It blocks until ctx
// is canceled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context, onArtifact func(Artifact)) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event, onArtifact)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get("artifacts").Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, onArtifact func(Artifact)) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}

	info, err := os.Lstat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		// Nested output folders are created while the tool runs.
		_ = filepath.WalkDir(event.Name, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return nil //nolint:nilerr // Skip entries with errors
			}
			if d.IsDir() {
				_ = w.addWatch(p)
			} else if IsMesh(p) {
				w.report(p, onArtifact)
			}
			return nil
		})
		return
	}
	if info.Mode().IsRegular() && IsMesh(event.Name) {
		w.report(event.Name, onArtifact)
	}
}

func (w *Watcher) report(path string, onArtifact func(Artifact)) {
	w.mu.Lock()
	if w.found[path] {
		w.mu.Unlock()
		return
	}
	w.found[path] = true
	w.mu.Unlock()

	a := Artifact{Path: path}
	if info, err := os.Stat(path); err == nil {
		a.Size, a.ModTime = info.Size(), info.ModTime()
	}
	logging.Get("artifacts").Debug("artifact created", "path", path)
	if onArtifact != nil {
		onArtifact(a)
	}
}

// Found returns every artifact reported so far with current sizes, sorted by path.
func (w *Watcher) Found() []Artifact {
	w.mu.Lock()
	paths := make([]string, 0, len(w.found))
	for p := range w.found {
		paths = append(paths, p)
	}
	w.mu.Unlock()

	sort.Strings(paths)
	out := make([]Artifact, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		out = append(out, Artifact{Path: p, Size: info.Size(), ModTime: info.ModTime()})
	}
	return out
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.paths = make(map[string]bool)
	return w.watcher.Close()
}

// Scan lists mesh files under root modified at or after since, sorted by
// path. It catches files written faster than the watcher could register
// a new subdirectory.
func Scan(root string, since time.Time) ([]Artifact, error) {
	var (
		mu  sync.Mutex
		out []Artifact
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // Skip entries with errors
		}
		if d.IsDir() || !IsMesh(p) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().Before(since) {
			return nil //nolint:nilerr // vanished files are skipped
		}
		mu.Lock()
		out = append(out, Artifact{Path: p, Size: info.Size(), ModTime: info.ModTime()})
		mu.Unlock()
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Merge combines watcher results with a scan, dropping duplicates.
func Merge(lists ...[]Artifact) []Artifact {
	seen := map[string]Artifact{}
	for _, list := range lists {
		for _, a := range list {
			seen[a.Path] = a
		}
	}
	out := make([]Artifact, 0, len(seen))
	for _, a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
