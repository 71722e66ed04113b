package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/416inputs/buildtool/pkg"
	"github.com/416inputs/buildtool/pkg/buildsys"
	"github.com/416inputs/buildtool/pkg/config"
)

// skipSetup marks commands which neither need the config nor a logger
const skipSetup = "skipSetup"

var (
	cfg         *config.Config
	projectRoot string
	runCtx      = context.Background()

	logOutput io.Writer = os.Stderr
)

var rootCmd = &cobra.Command{
	Use:   "buildtool",
	Short: "Builds the 416inputs overlay",
	Long: `Without a subcommand this terminates a running 416inputs instance, compiles src/main.cpp and links
the executable against SDL2. Failing steps are reported but don't stop the build unless --strict
is passed.

On Windows targets the running instance is stopped with "taskkill /im 416inputs.exe". Other
targets use "pkill -x 416inputs" instead; set os = "windows" in build.toml to get the Windows
commands on any host.

The settings are read from the nearest build.toml and BUILDTOOL_* environment variables.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE:              runBuild,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "path to build.toml; searched in the working directory and its parents by default")
	flags.BoolP("dry-run", "n", false, "only print the commands, don't execute anything")
	flags.Bool("strict", false, "stop before linking if compilation fails")
	flags.String("log-level", "", "one of debug, info, warn, error")
	flags.Bool("log-json", false, "log JSON events instead of console messages")
}

// findConfig returns the config file to load (which might not exist) and the project root
func findConfig(explicit string) (string, string, error) {
	if explicit != "" {
		file, err := filepath.Abs(explicit)
		if err != nil {
			return "", "", eris.Wrapf(err, "Failed to resolve %s", explicit)
		}

		if _, err = os.Stat(file); err != nil {
			return "", "", eris.Wrapf(err, "Could not open %s", explicit)
		}

		return file, filepath.Dir(file), nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", "", eris.Wrap(err, "Failed to retrieve the current working directory")
	}

	file, err := pkg.FindUpwards(wd, config.FileName)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return "", wd, nil
		}
		return "", "", err
	}

	return file, filepath.Dir(file), nil
}

func setup(cmd *cobra.Command, args []string) error {
	if _, ok := cmd.Annotations[skipSetup]; ok {
		return nil
	}

	flags := cmd.Flags()
	explicit, err := flags.GetString("config")
	if err != nil {
		return err
	}

	file, root, err := findConfig(explicit)
	if err != nil {
		return err
	}

	loaded, loader := config.Loader(file)
	err = loader.Load()
	if err != nil {
		return eris.Wrapf(err, "Failed to load %s", file)
	}

	if flags.Changed("strict") {
		loaded.Strict, _ = flags.GetBool("strict")
	}
	if flags.Changed("log-level") {
		loaded.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		loaded.Log.JSON, _ = flags.GetBool("log-json")
	}

	err = loaded.Validate()
	if err != nil {
		return err
	}

	var writer io.Writer = logOutput
	if !loaded.Log.JSON {
		console := NewConsoleWriter(logOutput)
		console.NoColor = os.Getenv("NO_COLOR") != ""
		writer = console
	}

	logger := zerolog.New(writer).Level(loaded.LogLevel()).With().Timestamp().Logger()
	runCtx = buildsys.WithLogger(context.Background(), &logger)

	cfg = loaded
	projectRoot = root

	logger.Debug().Str("path", file).Msgf("Using project root %s", root)
	return nil
}

func dryRun(cmd *cobra.Command) bool {
	value, _ := cmd.Flags().GetBool("dry-run")
	return value
}

// inRoot resolves a configured path against the project root
func inRoot(path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(projectRoot, filepath.FromSlash(path))
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
