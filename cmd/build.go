package cmd

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"mvdan.cc/sh/v3/interp"

	"github.com/416inputs/buildtool/pkg/buildsys"
)

// Overridden in tests
var execHandler interp.ExecHandlerFunc

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Terminates the running overlay, compiles and links it",
	RunE:  runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runOptions(cmd *cobra.Command) buildsys.Options {
	return buildsys.Options{
		Dir:         projectRoot,
		DryRun:      dryRun(cmd),
		Strict:      cfg.Strict,
		Stdout:      cmd.OutOrStdout(),
		Stderr:      cmd.ErrOrStderr(),
		ExecHandler: execHandler,
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	logger := buildsys.Log(runCtx)

	plan, err := buildsys.NewBuildPlan(cfg.Toolchain())
	if err != nil {
		return err
	}

	opts := runOptions(cmd)
	report, runErr := buildsys.RunPlan(runCtx, plan, opts)
	if report != nil && !opts.DryRun {
		err = buildsys.WriteCache(inRoot(cfg.Cache), report)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to save the run report")
		}
	}

	if runErr != nil {
		return runErr
	}

	if report.OK() {
		logger.Info().Msgf("Finished %s in %s", plan.Name, report.Finished.Sub(report.Started))
	} else {
		logger.Warn().Msgf("Finished %s with failures; see above", plan.Name)
	}

	return nil
}

// runPlan executes a plan that has no tolerated failures and turns failures into an error
func runPlan(cmd *cobra.Command, plan *buildsys.Plan) error {
	report, err := buildsys.RunPlan(runCtx, plan, runOptions(cmd))
	if err != nil {
		return err
	}

	if !report.OK() {
		return eris.Errorf("%s failed", plan.Name)
	}

	return nil
}
