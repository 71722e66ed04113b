package cmd

import (
	"github.com/spf13/cobra"

	"github.com/416inputs/buildtool/pkg/buildsys"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Removes the object file and the executable",
	RunE: func(cmd *cobra.Command, args []string) error {
		plan, err := buildsys.NewBuildPlan(cfg.Toolchain())
		if err != nil {
			return err
		}

		return runPlan(cmd, buildsys.NewCleanPlan(plan))
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}
