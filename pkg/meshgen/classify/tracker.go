package classify

// DoneStage is reported once the tool has exited successfully.
var DoneStage = Stage{Name: "Done", Percent: 100}

var startStage = Stage{Name: "Starting", Percent: 0}

// Tracker folds classified lines into monotonic run progress.
type Tracker struct {
	stage    Stage
	fraction float64
	failed   bool
	errLabel string
	hint     string
	lastLine string
}

// NewTracker returns a tracker at 0%.
func NewTracker() *Tracker {
	return &Tracker{stage: startStage}
}

// Observe classifies line and updates progress.
func (t *Tracker) Observe(line string) Result {
	r := Line(line)
	switch r.Kind {
	case KindStage:
		if r.Stage.Percent > t.stage.Percent {
			t.stage = r.Stage
			t.fraction = 0
		}
	case KindProgress:
		if r.Fraction > t.fraction {
			t.fraction = r.Fraction
		}
	case KindError:
		// The first error wins; tracebacks usually end in a more
		// generic "Error:" line.
		if !t.failed {
			t.failed = true
			t.errLabel = r.Label
			t.hint = r.Hint
			t.lastLine = line
		}
	}
	return r
}

// Stage returns the highest stage reached.
func (t *Tracker) Stage() Stage {
	return t.stage
}

// Percent returns overall progress in [0, 100]. It interpolates tqdm
// progress between the current stage and the next.
func (t *Tracker) Percent() float64 {
	base := float64(t.stage.Percent)
	if t.stage.Percent >= DoneStage.Percent {
		return base
	}
	next := float64(nextPercent(t.stage.Percent))
	return base + (next-base)*t.fraction
}

// Failed reports whether an error line was observed.
func (t *Tracker) Failed() bool {
	return t.failed
}

// Error returns the label, hint and raw line of the first error seen.
func (t *Tracker) Error() (label, hint, line string) {
	return t.errLabel, t.hint, t.lastLine
}

// Complete marks the run as finished.
func (t *Tracker) Complete() {
	t.stage = DoneStage
	t.fraction = 0
}

func nextPercent(current int) int {
	for _, r := range stageRules {
		if r.stage.Percent > current {
			return r.stage.Percent
		}
	}
	return DoneStage.Percent
}
