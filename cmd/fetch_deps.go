package cmd

import (
	"io/ioutil"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/416inputs/buildtool/pkg"
	"github.com/416inputs/buildtool/pkg/deps"
)

var fetchDepsCmd = &cobra.Command{
	Use:   "fetch-deps",
	Short: "Downloads the SDL2 headers and libraries listed in DEPS.yml",
	Long: `Downloads every archive listed in DEPS.yml, verifies its sha256 checksum and unpacks it into
its destination. Archives which were already extracted are skipped.

With --update missing or outdated checksums are written back to DEPS.yml instead of failing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		update, err := cmd.Flags().GetBool("update")
		if err != nil {
			return err
		}

		cfgPath := inRoot(cfg.Deps.File)
		stampPath := inRoot(cfg.Deps.Stamps)

		depCfg, cfgData, err := deps.LoadConfig(cfgPath)
		if err != nil {
			return err
		}

		if dryRun(cmd) {
			names := make([]string, 0, len(depCfg.Deps))
			for name := range depCfg.Deps {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				pkg.PrintSubtask(name + ": " + depCfg.Deps[name].URL)
			}
			return nil
		}

		stamps, err := deps.LoadStamps(stampPath)
		if err != nil {
			return err
		}

		pkg.PrintTask("Fetching dependencies")
		fetcher := &deps.Fetcher{
			Root:   projectRoot,
			Update: update,
		}
		changes, fetchErr := fetcher.Fetch(runCtx, depCfg, stamps)

		// Keep the progress even if a later dependency failed.
		err = deps.SaveStamps(stampPath, stamps)
		if err != nil {
			return err
		}

		if len(changes) > 0 {
			generated, err := deps.UpdateChecksums(cfgData, depCfg, changes)
			if err != nil {
				return err
			}

			pkg.PrintTask("Updating " + cfg.Deps.File)
			err = ioutil.WriteFile(cfgPath, []byte(generated), 0660)
			if err != nil {
				return eris.Wrapf(err, "Failed to write %s", cfgPath)
			}
		}

		if fetchErr != nil {
			return fetchErr
		}

		pkg.PrintTask("Done")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchDepsCmd)
	fetchDepsCmd.Flags().BoolP("update", "u", false, "update the checksums in DEPS.yml")
}
