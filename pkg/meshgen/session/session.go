// Package session runs one or more images through the reconstruction
// tool, tracking progress and recording the outcome.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/meshgen/pkg/meshgen/artifacts"
	"github.com/jamesainslie/meshgen/pkg/meshgen/classify"
	"github.com/jamesainslie/meshgen/pkg/meshgen/config"
	"github.com/jamesainslie/meshgen/pkg/meshgen/events"
	"github.com/jamesainslie/meshgen/pkg/meshgen/history"
	"github.com/jamesainslie/meshgen/pkg/meshgen/inputs"
	"github.com/jamesainslie/meshgen/pkg/meshgen/launcher"
	"github.com/jamesainslie/meshgen/pkg/meshgen/logging"
	"github.com/jamesainslie/meshgen/pkg/meshgen/metrics"
	"github.com/jamesainslie/meshgen/pkg/meshgen/output"
	"github.com/jamesainslie/meshgen/pkg/meshgen/params"
	"github.com/jamesainslie/meshgen/pkg/meshgen/types"
)

// Options wires a session to its collaborators. Only Tool is required.
type Options struct {
	Tool   config.ToolConfig
	Runner launcher.Runner
	Tier   params.Tier

	Events  *events.Broadcaster
	History *history.Store
	Metrics *metrics.Collector

	// WatchArtifacts enables the filesystem watcher during runs.
	WatchArtifacts bool
}

// Session runs jobs sequentially.
type Session struct {
	opts     Options
	launcher *launcher.Launcher
}

// New creates a session.
func New(opts Options) *Session {
	l := launcher.New(opts.Tool)
	if opts.Runner != nil {
		l.Runner = opts.Runner
	}
	return &Session{opts: opts, launcher: l}
}

// Plan applies safe mode and the session's tier to p. Front-ends show
// the plan's warnings and ask for confirmation before calling RunBatch.
func (s *Session) Plan(p params.Params) (params.Plan, error) {
	return p.Plan(s.opts.Tier)
}

// RunBatch runs every image in order with the planned parameters. With
// more than one image each gets its own subdirectory of outputDir.
// Cancellation stops the batch after the current image.
func (s *Session) RunBatch(ctx context.Context, images []string, outputDir string, p params.Params) (*output.Result, error) {
	plan, err := s.Plan(p)
	if err != nil {
		return nil, err
	}
	prepared := plan.Params

	result := &output.Result{
		Params:    prepared,
		Tier:      plan.Tier.String(),
		LoadScore: plan.LoadScore,
	}
	for _, a := range plan.Adjustments() {
		result.Adjustments = append(result.Adjustments, a.String())
	}

	start := time.Now()
	for i, img := range images {
		if ctx.Err() != nil {
			result.Interrupted = true
			break
		}
		dir := outputDir
		if len(images) > 1 {
			dir = inputs.OutputDirFor(outputDir, img)
		}
		run := s.RunOne(ctx, launcher.Job{Input: img, OutputDir: dir, Params: prepared}, i+1, len(images))
		result.Runs = append(result.Runs, run)
		if run.Outcome == types.OutcomeCanceled {
			result.Interrupted = true
			break
		}
	}
	result.Duration = time.Since(start)
	return result, nil
}

// RunOne runs a single job. index and total locate it within a batch.
func (s *Session) RunOne(ctx context.Context, job launcher.Job, index, total int) output.Run {
	log := logging.Get("session")
	toolLog := logging.Get("tool")

	id := history.NewID()
	started := time.Now()
	rec := &history.Run{
		ID:        id,
		StartedAt: started,
		Input:     job.Input,
		OutputDir: job.OutputDir,
		Params:    job.Params,
		Tier:      s.opts.Tier.String(),
	}
	s.record(rec)
	s.publish(events.Event{Type: events.EventStarted, RunID: id, Index: index, Total: total, Input: job.Input})

	var watcher *artifacts.Watcher
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if s.opts.WatchArtifacts {
		w, err := artifacts.New()
		if err == nil {
			err = w.Watch(job.OutputDir)
		}
		if err != nil {
			log.Warn("artifact watcher unavailable", "error", err)
		} else {
			watcher = w
			defer w.Close()
			go w.Run(watchCtx, func(a artifacts.Artifact) {
				s.publish(events.Event{Type: events.EventArtifact, RunID: id, Index: index, Total: total, Artifact: a.Path, Size: a.Size})
			})
		}
	}

	tracker := classify.NewTracker()
	lastStage := tracker.Stage()
	lastPercent := 0.0
	onLine := func(line string) {
		toolLog.Debug(line)
		r := tracker.Observe(line)
		s.publish(events.Event{Type: events.EventLine, RunID: id, Index: index, Total: total, Line: line})
		if st := tracker.Stage(); st != lastStage {
			lastStage = st
			s.publish(events.Event{Type: events.EventStage, RunID: id, Index: index, Total: total, Stage: st.Name, Percent: tracker.Percent()})
		}
		if pct := tracker.Percent(); r.Kind == classify.KindProgress && pct > lastPercent {
			s.publish(events.Event{Type: events.EventProgress, RunID: id, Index: index, Total: total, Stage: lastStage.Name, Percent: pct})
		}
		lastPercent = tracker.Percent()
	}

	res := s.launcher.Run(ctx, job, onLine)
	stopWatch()

	var found []artifacts.Artifact
	if watcher != nil {
		found = watcher.Found()
	}
	scanned, err := artifacts.Scan(job.OutputDir, started.Add(-time.Second))
	if err != nil {
		log.Warn("artifact scan failed", "dir", job.OutputDir, "error", err)
	}
	found = artifacts.Merge(found, scanned)

	run := output.Run{
		ID:        id,
		Input:     job.Input,
		OutputDir: job.OutputDir,
		ExitCode:  res.ExitCode,
		Duration:  res.Duration,
	}

	switch {
	case errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded):
		run.Outcome = types.OutcomeCanceled
		run.Error = "canceled"
	case res.Succeeded():
		run.Outcome = types.OutcomeSucceeded
		tracker.Complete()
		if job.Params.DeletePreview {
			removed, err := artifacts.DeletePreviews(job.OutputDir)
			if err != nil {
				log.Warn("failed to delete preview images", "dir", job.OutputDir, "error", err)
			}
			if len(removed) > 0 {
				log.Debug("deleted preview images", "count", len(removed))
			}
			run.Previews = removed
		}
	default:
		run.Outcome = types.OutcomeFailed
		if tracker.Failed() {
			label, hint, line := tracker.Error()
			run.Error = fmt.Sprintf("%s: %s", label, line)
			run.Hint = hint
		} else if res.Err != nil {
			run.Error = res.Err.Error()
		}
	}
	run.Stage = tracker.Stage().Name
	run.Percent = tracker.Percent()

	for _, a := range found {
		run.Artifacts = append(run.Artifacts, output.Artifact{
			Path:      a.Path,
			Size:      a.Size,
			SizeHuman: humanize.IBytes(uint64(a.Size)),
		})
		rec.Artifacts = append(rec.Artifacts, a.Path)
	}

	rec.FinishedAt = time.Now()
	rec.Outcome = run.Outcome
	rec.ExitCode = run.ExitCode
	rec.Stage = run.Stage
	rec.Percent = run.Percent
	rec.Lines = res.Lines
	rec.Error = run.Error
	rec.Hint = run.Hint
	s.record(rec)

	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordRun(run.Outcome, run.ExitCode, run.Duration, run.Percent, len(run.Artifacts), res.Lines)
	}

	s.publish(events.Event{
		Type: events.EventFinished, RunID: id, Index: index, Total: total, Input: job.Input,
		Stage: run.Stage, Percent: run.Percent, Outcome: run.Outcome, ExitCode: run.ExitCode,
		Duration: run.Duration, Err: run.Error, Hint: run.Hint,
	})
	log.Info("run finished", "id", history.ShortID(id), "outcome", run.Outcome, "artifacts", len(run.Artifacts))
	return run
}

func (s *Session) publish(e events.Event) {
	if s.opts.Events != nil {
		s.opts.Events.Publish(e)
	}
}

func (s *Session) record(r *history.Run) {
	if s.opts.History == nil {
		return
	}
	if err := s.opts.History.Put(r); err != nil {
		logging.Get("session").Warn("failed to record run", "id", r.ID, "error", err)
	}
}
