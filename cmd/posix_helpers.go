package cmd

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/416inputs/buildtool/pkg/buildsys"
)

func posixCommand(use, short string, run func(cmd *cobra.Command, wd string, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Annotations: map[string]string{
			skipSetup: "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			wd, err := os.Getwd()
			if err != nil {
				return eris.Wrap(err, "Failed to retrieve the current working directory")
			}

			return run(cmd, wd, args)
		},
	}
}

var mvCmd = posixCommand("mv <items...> <dest>", "Cross-platform implementation of the POSIX mv command",
	func(cmd *cobra.Command, wd string, args []string) error {
		return buildsys.Move(wd, args)
	})

var rmCmd = posixCommand("rm <items...>", "A cross-platform implementation of the POSIX rm command",
	func(cmd *cobra.Command, wd string, args []string) error {
		recursive, err := cmd.Flags().GetBool("recursive")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		return buildsys.Remove(wd, args, recursive, force)
	})

var mkdirCmd = posixCommand("mkdir <dirs...>", "A cross-platform implementation of the POSIX mkdir command",
	func(cmd *cobra.Command, wd string, args []string) error {
		parents, err := cmd.Flags().GetBool("parents")
		if err != nil {
			return err
		}

		return buildsys.Mkdir(wd, args, parents)
	})

func init() {
	rootCmd.AddCommand(mvCmd)
	mvCmd.Flags().BoolP("force", "f", false, "ignored; existing files are always replaced")

	rootCmd.AddCommand(rmCmd)
	rmCmd.Flags().BoolP("recursive", "r", false, "delete directories")
	rmCmd.Flags().BoolP("force", "f", false, "ignore missing files")

	rootCmd.AddCommand(mkdirCmd)
	mkdirCmd.Flags().BoolP("parents", "p", false, "create parent directories as needed")
}
