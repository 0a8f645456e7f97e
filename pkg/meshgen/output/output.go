// Package output renders the report of a generation session in the
// formats selectable with --output.
//
// Formatters are kept in a registry and looked up by name:
//
//	formatter, err := output.Get("json")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, result); err != nil {
//	    return err
//	}
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jamesainslie/meshgen/pkg/meshgen/params"
	"github.com/jamesainslie/meshgen/pkg/meshgen/types"
)

// Artifact is a produced mesh file.
type Artifact struct {
	Path      string `json:"path" yaml:"path"`
	Size      int64  `json:"size" yaml:"size"`
	SizeHuman string `json:"size_human" yaml:"size_human"`
}

// Run is the report of one tool invocation.
type Run struct {
	ID        string        `json:"id" yaml:"id"`
	Input     string        `json:"input" yaml:"input"`
	OutputDir string        `json:"output_dir" yaml:"output_dir"`
	Outcome   types.Outcome `json:"outcome" yaml:"outcome"`
	ExitCode  int           `json:"exit_code" yaml:"exit_code"`
	Duration  time.Duration `json:"-" yaml:"-"`
	Stage     string        `json:"stage" yaml:"stage"`
	Percent   float64       `json:"percent" yaml:"percent"`
	Artifacts []Artifact    `json:"artifacts" yaml:"artifacts"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
	Hint      string        `json:"hint,omitempty" yaml:"hint,omitempty"`

	// Previews lists preview images removed after the run.
	Previews []string `json:"deleted_previews,omitempty" yaml:"deleted_previews,omitempty"`
}

// Result is everything a session produced.
type Result struct {
	Runs        []Run         `json:"runs" yaml:"runs"`
	Params      params.Params `json:"params" yaml:"params"`
	Tier        string        `json:"tier" yaml:"tier"`
	Adjustments []string      `json:"adjustments,omitempty" yaml:"adjustments,omitempty"`
	LoadScore   float64       `json:"load_score" yaml:"load_score"`
	Duration    time.Duration `json:"-" yaml:"-"`
	Interrupted bool          `json:"interrupted" yaml:"interrupted"`
}

// Succeeded returns the number of successful runs.
func (r *Result) Succeeded() int {
	n := 0
	for _, run := range r.Runs {
		if run.Outcome == types.OutcomeSucceeded {
			n++
		}
	}
	return n
}

// ArtifactCount returns the number of artifacts across all runs.
func (r *Result) ArtifactCount() int {
	n := 0
	for _, run := range r.Runs {
		n += len(run.Artifacts)
	}
	return n
}

// Formatter writes a Result in one format.
type Formatter interface {
	Format(w *bytes.Buffer, r *Result) error
}

// FormatterFactory creates a Formatter.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]FormatterFactory)}
}

// Register adds or replaces a formatter.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns the registered names, sorted.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry holds the built-in formatters.
var DefaultRegistry = NewRegistry()

// Register adds a formatter to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a formatter from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available lists the default registry's formatters.
func Available() []string {
	return DefaultRegistry.Available()
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.Round(time.Second).String()
}
