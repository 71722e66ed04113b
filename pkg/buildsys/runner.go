package buildsys

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// ErrStepFailed is returned in strict mode when a step exits with a non-zero status
var ErrStepFailed = eris.New("step failed")

// Options control how a plan is executed
type Options struct {
	// Dir is the working directory of every step. Defaults to the current directory.
	Dir    string
	DryRun bool
	// Strict stops the plan at the first failing step that isn't allowed to fail.
	Strict bool
	Stdout io.Writer
	Stderr io.Writer
	// ExecHandler runs external programs; rm, mkdir and mv are always handled in-process.
	ExecHandler interp.ExecHandlerFunc
}

// StepResult describes the outcome of a single step
type StepResult struct {
	Step      string
	Command   string
	Ran       bool
	Skipped   bool
	Tolerated bool
	Status    uint8
	Duration  time.Duration
}

// Failed reports whether the step ran and exited with a non-zero status
func (r StepResult) Failed() bool {
	return r.Ran && r.Status != 0
}

// Report collects the results of a plan execution
type Report struct {
	RunID    string
	Plan     string
	DryRun   bool
	Started  time.Time
	Finished time.Time
	Steps    []StepResult
}

// OK returns true if no step failed except for those allowed to fail
func (r *Report) OK() bool {
	for _, step := range r.Steps {
		if step.Skipped || (step.Failed() && !step.Tolerated) {
			return false
		}
	}

	return true
}

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

func execHandler(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	if next == nil {
		next = defaultExecHandler
	}

	return func(ctx context.Context, args []string) error {
		if len(args) > 0 {
			switch args[0] {
			case "mv", "rm", "mkdir":
				// always use our cross-platform implementation for these operations to make sure
				// they behave consistently
				return runBuiltin(ctx, args)
			}
		}

		return next(ctx, args)
	}
}

func runBuiltin(ctx context.Context, args []string) error {
	hc := interp.HandlerCtx(ctx)

	var err error
	switch args[0] {
	case "rm":
		var flags map[rune]bool
		flags, args, err = parsePosixFlags(args[1:], "rfv")
		if err == nil {
			err = Remove(hc.Dir, args, flags['r'], flags['f'])
		}
	case "mkdir":
		var flags map[rune]bool
		flags, args, err = parsePosixFlags(args[1:], "pv")
		if err == nil {
			err = Mkdir(hc.Dir, args, flags['p'])
		}
	case "mv":
		_, args, err = parsePosixFlags(args[1:], "fv")
		if err == nil {
			err = Move(hc.Dir, args)
		}
	}

	if err != nil {
		fmt.Fprintln(hc.Stderr, err.Error())
		return interp.NewExitStatus(1)
	}

	return nil
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

// RunPlan executes the steps of plan in order. Exit statuses are recorded in the returned report. Unless
// opts.Strict is set, a failing step never stops the plan. An error is only returned for problems with
// the runner itself, for cancellation and for failures in strict mode.
func RunPlan(ctx context.Context, plan *Plan, opts Options) (*Report, error) {
	report := &Report{
		RunID:   nanoid.New(),
		Plan:    plan.Name,
		DryRun:  opts.DryRun,
		Started: time.Now(),
		Steps:   make([]StepResult, 0, len(plan.Steps)),
	}
	defer func() {
		report.Finished = time.Now()
	}()

	logger := log(ctx).With().Str("run", report.RunID).Logger()

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	dir := opts.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return report, eris.Wrap(err, "Failed to retrieve the current working directory")
		}
		dir = wd
	}

	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(os.Environ()...)),
		interp.ExecHandler(execHandler(opts.ExecHandler)),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, stdout, stderr),
	)
	if err != nil {
		return report, eris.Wrap(err, "Failed to initialize runner")
	}

	var failedStep string
	for idx, step := range plan.Steps {
		if err = ctx.Err(); err != nil {
			return report, err
		}

		result := StepResult{
			Step:      step.Name,
			Command:   step.String(),
			Tolerated: step.MayFail,
		}

		logger.Info().
			Str("step", step.Name).
			Bool("command", true).
			Msg(result.Command)

		if opts.DryRun {
			report.Steps = append(report.Steps, result)
			continue
		}

		if failedStep != "" && !step.MayFail {
			logger.Warn().
				Str("step", step.Name).
				Msgf("continuing although %s failed; inputs may be stale or missing", failedStep)
		}

		start := time.Now()
		err = runner.Run(ctx, &syntax.Stmt{Cmd: step.callExpr()})
		result.Ran = true
		result.Duration = time.Since(start)

		if err != nil {
			status, ok := interp.IsExitStatus(err)
			if !ok {
				report.Steps = append(report.Steps, result)
				if ctxErr := ctx.Err(); ctxErr != nil {
					return report, ctxErr
				}
				return report, eris.Wrapf(err, "failed to run %s", step.Name)
			}

			result.Status = status
		}
		report.Steps = append(report.Steps, result)

		if result.Status == 0 {
			continue
		}

		if step.MayFail {
			logger.Debug().
				Str("step", step.Name).
				Msgf("exited with status %d (ignored)", result.Status)
			continue
		}

		if opts.Strict {
			for _, skipped := range plan.Steps[idx+1:] {
				report.Steps = append(report.Steps, StepResult{
					Step:      skipped.Name,
					Command:   skipped.String(),
					Skipped:   true,
					Tolerated: skipped.MayFail,
				})
			}

			return report, eris.Wrapf(ErrStepFailed, "%s exited with status %d", step.Name, result.Status)
		}

		logger.Warn().
			Str("step", step.Name).
			Msgf("exited with status %d", result.Status)

		failedStep = step.Name
	}

	return report, nil
}
