package cmd

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/416inputs/buildtool/pkg/buildsys"
)

var compileCommandsCmd = &cobra.Command{
	Use:   "compile-commands [extra databases...]",
	Short: "Writes a compile_commands.json for the overlay's source file",
	Long: `Generates a compilation database for clangd and similar tools. Additional compile_commands.json
files are appended to the result.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, err := cmd.Flags().GetString("output")
		if err != nil {
			return err
		}

		plan, err := buildsys.NewBuildPlan(cfg.Toolchain())
		if err != nil {
			return err
		}

		commands := buildsys.CompilationDatabase(plan, projectRoot)
		entries := make([]interface{}, len(commands))
		for idx, entry := range commands {
			entries[idx] = entry
		}

		return buildsys.MergeCompileCommands(inRoot(output), entries, args)
	},
}

var mergeCompileCommandsCmd = &cobra.Command{
	Use:   "merge-compile-commands <output file> <input files...>",
	Short: "Merges several compile_commands.json files. Assumes that only absolute paths are used.",
	Annotations: map[string]string{
		skipSetup: "true",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) < 2 {
			return eris.Errorf("Expected at least 2 arguments but got %d!", len(args))
		}

		return buildsys.MergeCompileCommands(args[0], nil, args[1:])
	},
}

func init() {
	rootCmd.AddCommand(compileCommandsCmd)
	rootCmd.AddCommand(mergeCompileCommandsCmd)
	compileCommandsCmd.Flags().StringP("output", "o", "compile_commands.json", "database path")
}
