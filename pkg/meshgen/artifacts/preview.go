package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// PreviewName is the processed input image the tool saves beside each mesh.
const PreviewName = "input.png"

// DeletePreviews removes PreviewName from root and from each immediate
// subdirectory of root, returning the removed paths. Deeper directories
// are left alone. A missing root is not an error.
func DeletePreviews(root string) ([]string, error) {
	candidates := []string{filepath.Join(root, PreviewName)}
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list output dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			candidates = append(candidates, filepath.Join(root, e.Name(), PreviewName))
		}
	}

	var (
		removed []string
		errs    []error
	)
	for _, p := range candidates {
		info, err := os.Lstat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if err := os.Remove(p); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, p)
	}
	sort.Strings(removed)
	return removed, errors.Join(errs...)
}
