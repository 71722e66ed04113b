package cmd

import (
	"fmt"
	"os"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/416inputs/buildtool/pkg/buildsys"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Prints the result of the last build",
	RunE: func(cmd *cobra.Command, args []string) error {
		cacheFile := inRoot(cfg.Cache)
		report, err := buildsys.ReadCache(cacheFile)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				fmt.Fprintln(cmd.OutOrStdout(), "No build has been recorded yet.")
				return nil
			}
			return eris.Wrapf(err, "Failed to read %s", cacheFile)
		}

		colors := colorstring.Colorize{
			Colors:  colorstring.DefaultColors,
			Disable: os.Getenv("NO_COLOR") != "",
			Reset:   true,
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Run %s (%s) finished %s\n", report.RunID, report.Plan, report.Finished.Format("2006-01-02 15:04:05"))
		for _, step := range report.Steps {
			fmt.Fprintln(out, statusLine(colors, step))
		}

		if report.OK() {
			fmt.Fprintln(out, colors.Color("[green]OK"))
		} else {
			fmt.Fprintln(out, colors.Color("[red]FAILED"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// statusLine colours only the state so that the reset lands right after it
func statusLine(colors colorstring.Colorize, step buildsys.StepResult) string {
	var state string
	switch {
	case step.Skipped:
		state = "[yellow]skipped"
	case !step.Ran:
		state = "[blue]not run"
	case step.Status == 0:
		state = "[green]ok"
	case step.Tolerated:
		state = fmt.Sprintf("[yellow]exit %d (ignored)", step.Status)
	default:
		state = fmt.Sprintf("[red]exit %d", step.Status)
	}

	return fmt.Sprintf("  %-10s %s %s", step.Step, colors.Color(state), step.Duration)
}
