package cmd

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/416inputs/buildtool/pkg"
	"github.com/416inputs/buildtool/pkg/doctor"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Checks the compiler, the dependencies and the source tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		pkg.PrintTask("Checking the toolchain")

		checks := doctor.Run(runCtx, projectRoot, cfg.Toolchain(), cfg.Doctor.MinCompiler)
		for _, check := range checks {
			line := fmt.Sprintf("%s: %s", check.Name, check.Detail)
			if check.OK {
				pkg.PrintSubtask(line)
			} else {
				pkg.PrintError(line)
			}
		}

		failed := doctor.Failed(checks)
		if failed > 0 {
			return eris.Errorf("%d of %d checks failed", failed, len(checks))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
