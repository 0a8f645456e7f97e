package setup

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ChangeKind says what PatchRequirements did to a line.
type ChangeKind string

const (
	ChangeDropped ChangeKind = "dropped"
	ChangePinned  ChangeKind = "pinned"
	ChangeAdded   ChangeKind = "added"
)

// Change is one edit made to the requirements file.
type Change struct {
	Kind    ChangeKind
	Package string
	Before  string
	After   string
}

func (c Change) String() string {
	switch c.Kind {
	case ChangeDropped:
		return fmt.Sprintf("dropped %s", c.Before)
	case ChangeAdded:
		return fmt.Sprintf("added %s", c.After)
	default:
		return fmt.Sprintf("pinned %s -> %s", c.Before, c.After)
	}
}

// PatchRequirements removes the packages in drop (they are installed from
// a dedicated index) and applies version pins. Pins for packages that are
// not listed are appended. Comments, blank lines and pip options pass
// through unchanged.
func PatchRequirements(r io.Reader, drop []string, pins map[string]string) (string, []Change, error) {
	dropSet := make(map[string]bool, len(drop))
	for _, d := range drop {
		dropSet[normalizeName(d)] = true
	}
	pinSet := make(map[string]string, len(pins))
	for name, spec := range pins {
		pinSet[normalizeName(name)] = spec
	}

	var (
		out     strings.Builder
		changes []Change
		seen    = map[string]bool{}
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		raw := scanner.Text()
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			out.WriteString(raw + "\n")
			continue
		}

		name := packageName(line)
		key := normalizeName(name)
		seen[key] = true

		if dropSet[key] {
			changes = append(changes, Change{Kind: ChangeDropped, Package: name, Before: line})
			continue
		}
		if spec, ok := pinSet[key]; ok {
			pinned := name + pinSpec(spec)
			if marker := envMarker(line); marker != "" {
				pinned += " ; " + marker
			}
			if pinned != line {
				changes = append(changes, Change{Kind: ChangePinned, Package: name, Before: line, After: pinned})
			}
			out.WriteString(pinned + "\n")
			continue
		}
		out.WriteString(raw + "\n")
	}
	if err := scanner.Err(); err != nil {
		return "", nil, fmt.Errorf("read requirements: %w", err)
	}

	missing := make([]string, 0, len(pins))
	for name := range pins {
		if !seen[normalizeName(name)] && !dropSet[normalizeName(name)] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	for _, name := range missing {
		line := name + pinSpec(pins[name])
		changes = append(changes, Change{Kind: ChangeAdded, Package: name, After: line})
		out.WriteString(line + "\n")
	}

	return out.String(), changes, nil
}

// packageName returns the distribution name at the start of a requirement.
func packageName(line string) string {
	if i := strings.IndexAny(line, "=<>!~;[ @\t"); i >= 0 {
		return strings.TrimSpace(line[:i])
	}
	return line
}

func envMarker(line string) string {
	if i := strings.Index(line, ";"); i >= 0 {
		return strings.TrimSpace(line[i+1:])
	}
	return ""
}

// normalizeName follows the package index rule that case, '-', '_' and '.'
// are equivalent.
func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("_", "-", ".", "-").Replace(name)
}

// pinSpec turns "1.26.4" into "==1.26.4" and leaves "<2" or ">=1,<2" alone.
func pinSpec(spec string) string {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return ""
	}
	if c := spec[0]; c >= '0' && c <= '9' {
		return "==" + spec
	}
	return spec
}
