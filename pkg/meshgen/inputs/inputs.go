// Package inputs resolves the image or directory of images a run
// operates on.
package inputs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
)

// DefaultExtensions are the image types the tool accepts.
var DefaultExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".bmp"}

var (
	// ErrUnsupported is returned for a file that is not a supported image.
	ErrUnsupported = errors.New("unsupported image type")
	// ErrNoImages is returned when a directory holds no images.
	ErrNoImages = errors.New("no images found")
)

// Options configures collection.
type Options struct {
	// Extensions lists accepted extensions including the dot. Empty means DefaultExtensions.
	Extensions []string

	// Exclude holds glob patterns matched against base names.
	Exclude []string

	// Recursive descends into subdirectories.
	Recursive bool
}

func (o Options) extensions() map[string]bool {
	exts := o.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[strings.ToLower(e)] = true
	}
	return set
}

func (o Options) excluded(name string) bool {
	for _, pattern := range o.Exclude {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// IsImage reports whether path has one of the default image extensions.
func IsImage(path string) bool {
	return Options{}.extensions()[strings.ToLower(filepath.Ext(path))]
}

// Collect returns the absolute image paths for path, sorted. A file is
// returned on its own; a directory is walked.
func Collect(ctx context.Context, path string, opts Options) ([]string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}

	exts := opts.extensions()
	if !info.IsDir() {
		if !exts[strings.ToLower(filepath.Ext(abs))] {
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, abs)
		}
		return []string{abs}, nil
	}

	var (
		mu     sync.Mutex
		images []string
	)
	conf := fastwalk.Config{Follow: false}
	walkErr := fastwalk.Walk(&conf, abs, func(p string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return fastwalk.ErrSkipFiles
		}
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}

		name := d.Name()
		if d.IsDir() {
			if p == abs {
				return nil
			}
			if !opts.Recursive || strings.HasPrefix(name, ".") || opts.excluded(name) {
				return fastwalk.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(name, ".") || opts.excluded(name) {
			return nil
		}
		if exts[strings.ToLower(filepath.Ext(name))] {
			mu.Lock()
			images = append(images, p)
			mu.Unlock()
		}
		return nil
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if walkErr != nil && !errors.Is(walkErr, fastwalk.ErrSkipFiles) {
		return nil, fmt.Errorf("walk %s: %w", abs, walkErr)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImages, abs)
	}

	sort.Strings(images)
	return images, nil
}

// OutputDirFor returns the per-image output directory used in batch runs:
// base/<image name without extension>.
func OutputDirFor(base, image string) string {
	name := filepath.Base(image)
	return filepath.Join(base, strings.TrimSuffix(name, filepath.Ext(name)))
}
