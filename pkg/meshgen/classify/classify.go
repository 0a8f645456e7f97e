// Package classify maps raw log lines of the reconstruction tool onto
// pipeline stages, progress percentages and error hints.
package classify

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind tells what a line says about the run.
type Kind int

const (
	KindOther Kind = iota
	KindStage
	KindProgress
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindStage:
		return "stage"
	case KindProgress:
		return "progress"
	case KindError:
		return "error"
	default:
		return "other"
	}
}

// Stage is one step of the tool's pipeline.
type Stage struct {
	Name    string
	Percent int
}

type stageRule struct {
	pattern *regexp.Regexp
	stage   Stage
}

// errorRule matches when the lowercased line contains any of contains, or
// the trimmed line matches pattern.
type errorRule struct {
	contains []string
	pattern  *regexp.Regexp
	label    string
	hint     string
}

// stageLine matches a timer message of the tool: the name at the start of
// the line or after a " - LEVEL - " prefix, followed by " ..." when the
// step starts or " finished" when it ends. Argument echoes such as
// --bake-texture never match.
func stageLine(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?:^|\s-\s)` + name + `(?: \.\.\.| finished\b)`)
}

// stageRules are checked in order; later stages never lower progress.
var stageRules = []stageRule{
	{stageLine(`initializing model`), Stage{"Initializing model", 5}},
	{stageLine(`processing images`), Stage{"Processing images", 15}},
	{stageLine(`running image \d+/\d+`), Stage{"Running image", 25}},
	{stageLine(`running model`), Stage{"Running model", 40}},
	{stageLine(`rendering`), Stage{"Rendering", 55}},
	{stageLine(`extracting mesh`), Stage{"Extracting mesh", 65}},
	{stageLine(`baking texture`), Stage{"Baking texture", 80}},
	{regexp.MustCompile(`(?:^|\s-\s)exporting mesh(?: and texture)? \.\.\.`), Stage{"Exporting mesh", 90}},
	{regexp.MustCompile(`(?:^|\s-\s)exporting mesh(?: and texture)? finished\b`), Stage{"Export finished", 98}},
}

// errorRules are checked before stage rules.
var errorRules = []errorRule{
	{
		contains: []string{"cuda out of memory", "outofmemoryerror"},
		label:    "CUDA out of memory",
		hint:     "lower mc-resolution or chunk-size, or enable safe mode",
	},
	{
		contains: []string{"torch not compiled with cuda enabled"},
		label:    "CUDA unavailable",
		hint:     "run `meshgen setup` to install the CUDA build, or pass --device cpu",
	},
	{
		contains: []string{"modulenotfounderror: no module named"},
		label:    "Missing Python module",
		hint:     "run `meshgen setup` to install the tool's dependencies",
	},
	{
		contains: []string{"traceback (most recent call last)"},
		label:    "Python exception",
		hint:     "see the log for the full traceback",
	},
	{
		pattern: regexp.MustCompile(`^\S+\.py: error: `),
		label:   "Invalid tool arguments",
		hint:    "check tool.extra_args in the config file",
	},
	{
		// An exception line; warnings such as UserWarning do not match.
		pattern: regexp.MustCompile(`^(?:[\w.]+\.)?[A-Z]\w*(?:Error|Exception): `),
		label:   "Tool error",
	},
	{
		pattern: regexp.MustCompile(`\s-\s(?:ERROR|CRITICAL)\s-\s`),
		label:   "Tool error",
	},
}

func (r errorRule) matches(trimmed, lower string) bool {
	for _, c := range r.contains {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return r.pattern != nil && r.pattern.MatchString(trimmed)
}

var tqdmPattern = regexp.MustCompile(`(\d{1,3})%\|`)

// Result is the classification of a single line.
type Result struct {
	Kind  Kind
	Stage Stage

	// Fraction is tqdm progress within the current stage, in [0, 1].
	Fraction float64

	Label string
	Hint  string
}

// Line classifies one raw log line. Stage matching is case-insensitive.
func Line(line string) Result {
	trimmed := strings.TrimSpace(line)
	lower := strings.ToLower(trimmed)
	if lower == "" {
		return Result{}
	}

	for _, r := range errorRules {
		if r.matches(trimmed, lower) {
			return Result{Kind: KindError, Label: r.label, Hint: r.hint}
		}
	}

	for _, r := range stageRules {
		if r.pattern.MatchString(lower) {
			return Result{Kind: KindStage, Stage: r.stage, Label: r.stage.Name}
		}
	}

	if m := tqdmPattern.FindStringSubmatch(lower); m != nil {
		pct, err := strconv.Atoi(m[1])
		if err == nil && pct <= 100 {
			return Result{Kind: KindProgress, Fraction: float64(pct) / 100}
		}
	}

	return Result{}
}

// Stages returns the known stages in pipeline order.
func Stages() []Stage {
	out := make([]Stage, len(stageRules))
	for i, r := range stageRules {
		out[i] = r.stage
	}
	return out
}
