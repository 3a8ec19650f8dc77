package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/exitshim/internal/observe"
	"github.com/psantana5/exitshim/internal/report"
	"github.com/psantana5/exitshim/pkg/logging"
	"github.com/psantana5/exitshim/pkg/redirect"
	"github.com/psantana5/exitshim/pkg/tracing"
)

// Run drives the entry point over inputs and returns the run summary.
//
// The summary is returned even when the run stops early. A cancelled ctx
// yields ctx.Err(); a result that cannot be stored aborts the run.
func (h *Harness) Run(ctx context.Context, inputs []Input) (*report.Summary, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}

	h.runID = uuid.NewString()
	h.iteration = 0

	// Goroutines a unit leaves behind may still ask to exit between
	// iterations; they must not take the harness down.
	defer redirect.Install(redirect.Stop)()

	summary := report.NewSummary(h.runID, h.entry.Name, time.Now())

	ctx, span := h.tracer.StartSpan(ctx, "campaign",
		attribute.String("run_id", h.runID),
		attribute.String("entry", h.entry.Name),
		attribute.Int("inputs", len(inputs)),
	)
	defer span.End()

	total := h.cfg.MaxIterations
	if total == 0 {
		total = len(inputs)
	}
	h.logger.Info("Run started", logging.Fields{
		"run":        h.runID,
		"inputs":     len(inputs),
		"iterations": total,
	})

	var runErr error
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if h.limiter != nil {
			if err := h.limiter.Wait(ctx); err != nil {
				// Wait fails early when the deadline cannot be met.
				if ctx.Err() != nil {
					runErr = ctx.Err()
				} else {
					runErr = err
				}
				break
			}
		}

		result, err := h.RunOne(ctx, inputs[i%len(inputs)])
		if err != nil {
			runErr = err
			break
		}
		summary.Add(result)
	}
	summary.Finish(time.Now())

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		tracing.SetError(span, runErr)
	}
	span.SetAttributes(attribute.Int("iterations", summary.Iterations))
	h.logger.Info("Run finished", logging.Fields{
		"run":         h.runID,
		"iterations":  summary.Iterations,
		"execs_per_s": summary.ExecsPerSecond(),
		"interrupted": runErr != nil,
	})
	return summary, runErr
}

// RunOne performs a single fuzz iteration over input. The returned result
// is already recorded in metrics, the interception log and the store.
func (h *Harness) RunOne(ctx context.Context, input Input) (*report.Result, error) {
	if h.runID == "" {
		h.runID = uuid.NewString()
	}
	iteration := h.iteration
	h.iteration++

	data, path, cleanup, err := h.materialize(input)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", input.ID, err)
	}
	defer cleanup()

	argv := BuildArgv(h.entry.Name, h.cfg.Args, path)

	_, span := h.tracer.StartSpan(ctx, "iteration",
		attribute.Int64("iteration", int64(iteration)),
		attribute.String("input", input.ID),
	)
	defer span.End()

	h.metrics.IncrStarted()
	timing := observe.NewTiming()
	outcome, crash := invoke(h.entry, argv)
	timing.Complete()

	result := report.NewResult(h.runID, h.entry.Name, iteration, input.ID, data)
	result.Argv = argv
	result.Intent = h.cfg.Intent
	result.SetTiming(timing.StartedAt, timing.CompletedAt)
	if crash != nil {
		result.SetCrash(crash)
		tracing.SetError(span, fmt.Errorf("crash: %s", result.Panic))
	} else {
		result.SetOutcome(outcome)
	}
	span.SetAttributes(
		attribute.String("outcome", string(result.Outcome)),
		attribute.Int("status", result.Status),
	)

	if h.memory != nil {
		if rss, err := h.memory.RSS(); err == nil {
			result.RSSBytes = rss
		}
	}

	h.metrics.RecordResult(result)
	h.recent.Record(result)
	result.LogSummary(h.logger)

	if err := h.store.Save(result); err != nil {
		return result, fmt.Errorf("failed to store result: %w", err)
	}
	return result, nil
}

// invoke runs the entry point. Panics other than intercepted terminations
// come back as crash.
func invoke(e *redirect.Entry, argv []string) (o redirect.Outcome, crash interface{}) {
	defer func() {
		if r := recover(); r != nil {
			crash = r
		}
	}()
	return e.Invoke(argv), nil
}

// materialize makes sure the input exists both in memory and on disk.
func (h *Harness) materialize(input Input) (data []byte, path string, cleanup func(), err error) {
	cleanup = func() {}
	data, path = input.Data, input.Path

	if data == nil && path != "" {
		if data, err = os.ReadFile(path); err != nil {
			return nil, "", cleanup, err
		}
	}
	if path != "" {
		return data, path, cleanup, nil
	}

	f, err := os.CreateTemp(h.cfg.WorkDir, "exitshim-input-*")
	if err != nil {
		return nil, "", cleanup, fmt.Errorf("failed to create input file: %w", err)
	}
	name := f.Name()
	cleanup = func() { os.Remove(name) }
	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return nil, "", func() {}, fmt.Errorf("failed to write input file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return nil, "", func() {}, err
	}
	return data, name, cleanup, nil
}

// BuildArgv builds the argument vector for one iteration: argv[0] is the
// entry name, every "@@" in args becomes path, and path is appended when
// args has no placeholder.
func BuildArgv(name string, args []string, path string) []string {
	argv := make([]string, 0, len(args)+2)
	argv = append(argv, name)
	replaced := false
	for _, a := range args {
		if a == InputPlaceholder {
			a = path
			replaced = true
		}
		argv = append(argv, a)
	}
	if !replaced {
		argv = append(argv, path)
	}
	return argv
}
