package cmd

import (
	"github.com/spf13/cobra"

	"github.com/416inputs/buildtool/pkg/buildsys"
	"github.com/416inputs/buildtool/pkg/dist"
)

var distCmd = &cobra.Command{
	Use:   "dist",
	Short: "Packs the executable and its runtime files into a release archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := buildsys.Log(runCtx)

		format := cfg.Dist.Format
		if cmd.Flags().Changed("format") {
			format, _ = cmd.Flags().GetString("format")
		}

		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = cfg.Dist.Output
		}
		if output == "" {
			output = cfg.Target + "." + format
		}

		tc := cfg.Toolchain()
		opts := dist.Options{
			Root:   projectRoot,
			Output: inRoot(output),
			Format: format,
			Files:  append([]string{tc.Executable()}, cfg.Dist.Files...),
		}

		if dryRun(cmd) {
			entries, err := dist.Collect(opts)
			if err != nil {
				return err
			}

			for _, entry := range entries {
				logger.Info().Str("step", "dist").Msg(entry)
			}
			return nil
		}

		entries, err := dist.Pack(opts)
		if err != nil {
			return err
		}

		logger.Info().Str("path", opts.Output).Msgf("Packed %d files into %s", len(entries), opts.Output)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(distCmd)
	distCmd.Flags().StringP("output", "o", "", "archive path; defaults to <target>.<format>")
	distCmd.Flags().String("format", "", "tar.xz or tar.br")
}
