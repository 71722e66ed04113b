package cmd

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"mvdan.cc/sh/v3/interp"

	"github.com/416inputs/buildtool/pkg/buildsys"
)

const testConfig = `
os = "windows"

[log]
level = "debug"
`

type cliResult struct {
	logs  string
	out   string
	calls [][]string
	err   error
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}

	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// runCLI executes the root command with args. Every external program exits with the status returned
// by status.
func runCLI(t *testing.T, status func(args []string) uint8, args ...string) cliResult {
	t.Helper()
	t.Setenv("NO_COLOR", "1")

	var result cliResult
	var logs, out bytes.Buffer

	oldOutput := logOutput
	oldHandler := execHandler
	t.Cleanup(func() {
		logOutput = oldOutput
		execHandler = oldHandler
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd)
	})

	logOutput = &logs
	execHandler = func(ctx context.Context, args []string) error {
		result.calls = append(result.calls, append([]string{}, args...))
		if status != nil {
			if code := status(args); code != 0 {
				return interp.NewExitStatus(code)
			}
		}
		return nil
	}

	resetFlags(rootCmd)
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	result.err = rootCmd.Execute()
	result.logs = logs.String()
	result.out = out.String()

	return result
}

func setupProject(t *testing.T) (string, string) {
	t.Helper()

	root := t.TempDir()
	file := filepath.Join(root, "build.toml")
	if err := ioutil.WriteFile(file, []byte(testConfig), 0600); err != nil {
		t.Fatal(err)
	}

	return root, file
}

func failCompile(args []string) uint8 {
	if args[0] == "g++" && len(args) > 1 && args[1] == "-c" {
		return 1
	}
	return 0
}

func TestBuildDryRun(t *testing.T) {
	root, file := setupProject(t)

	res := runCLI(t, nil, "--config", file, "--dry-run")
	if res.err != nil {
		t.Fatalf("build failed: %v\n%s", res.err, res.logs)
	}

	if len(res.calls) != 0 {
		t.Errorf("dry run executed %v", res.calls)
	}

	for _, want := range []string{
		"terminate: $ taskkill /im 416inputs.exe",
		"compile: $ g++ -c src/main.cpp -I dependencies/include",
		"link: $ g++ main.o -o 416inputs -L dependencies/lib -lmingw32 -lSDL2main -lSDL2 -lSDL2_image -lSDL2_ttf",
	} {
		if !strings.Contains(res.logs, want) {
			t.Errorf("missing %q in logs:\n%s", want, res.logs)
		}
	}

	if _, err := os.Stat(filepath.Join(root, ".buildtool.cache")); !os.IsNotExist(err) {
		t.Error("dry runs must not write a report")
	}
}

func TestBuildDryRunOtherTargets(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "build.toml")
	if err := ioutil.WriteFile(file, []byte("os = \"linux\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	res := runCLI(t, nil, "--config", file, "--dry-run")
	if res.err != nil {
		t.Fatalf("build failed: %v\n%s", res.err, res.logs)
	}

	want := "terminate: $ pkill -x 416inputs"
	if !strings.Contains(res.logs, want) {
		t.Errorf("missing %q in logs:\n%s", want, res.logs)
	}
	if !strings.Contains(rootCmd.Long, "pkill -x 416inputs") {
		t.Error("the help text doesn't mention how the overlay is stopped on other targets")
	}
}

func TestBuildIgnoresFailures(t *testing.T) {
	root, file := setupProject(t)

	res := runCLI(t, failCompile, "build", "--config", file)
	if res.err != nil {
		t.Fatalf("build should ignore failing steps, got %v", res.err)
	}

	if len(res.calls) != 3 {
		t.Fatalf("expected 3 commands, got %v", res.calls)
	}
	if res.calls[2][1] != "main.o" {
		t.Errorf("expected the link step last, got %v", res.calls[2])
	}

	if !strings.Contains(res.logs, "continuing although compile failed") {
		t.Errorf("missing warning before the link step:\n%s", res.logs)
	}

	report, err := buildsys.ReadCache(filepath.Join(root, ".buildtool.cache"))
	if err != nil {
		t.Fatalf("report wasn't saved: %v", err)
	}
	if report.OK() || report.Steps[1].Status != 1 {
		t.Errorf("unexpected report %+v", report)
	}

	status := runCLI(t, nil, "status", "--config", file)
	if status.err != nil {
		t.Fatal(status.err)
	}
	if !strings.Contains(status.out, "FAILED") || !strings.Contains(status.out, "exit 1") {
		t.Errorf("unexpected status output:\n%s", status.out)
	}
}

func TestStatusLine(t *testing.T) {
	step := buildsys.StepResult{Step: "terminate", Ran: true, Tolerated: true, Status: 128, Duration: 1500 * time.Millisecond}

	plain := colorstring.Colorize{Colors: colorstring.DefaultColors, Disable: true, Reset: true}
	if got := statusLine(plain, step); got != "  terminate  exit 128 (ignored) 1.5s" {
		t.Errorf("statusLine() = %q", got)
	}

	colored := colorstring.Colorize{Colors: colorstring.DefaultColors, Reset: true}
	got := statusLine(colored, step)
	if want := "  terminate  \x1b[33mexit 128 (ignored)\x1b[0m 1.5s"; got != want {
		t.Errorf("statusLine() = %q, want %q", got, want)
	}
	if n := strings.Count(got, "\x1b[0m"); n != 1 {
		t.Errorf("expected a single reset, got %d in %q", n, got)
	}
}

func TestBuildStrict(t *testing.T) {
	_, file := setupProject(t)

	res := runCLI(t, failCompile, "--config", file, "--strict")
	if !eris.Is(res.err, buildsys.ErrStepFailed) {
		t.Fatalf("expected ErrStepFailed, got %v", res.err)
	}

	if len(res.calls) != 2 {
		t.Errorf("the link step should have been skipped, got %v", res.calls)
	}
}

func TestClean(t *testing.T) {
	root, file := setupProject(t)
	for _, name := range []string{"main.o", "416inputs.exe"} {
		if err := ioutil.WriteFile(filepath.Join(root, name), nil, 0600); err != nil {
			t.Fatal(err)
		}
	}

	res := runCLI(t, nil, "clean", "--config", file)
	if res.err != nil {
		t.Fatalf("clean failed: %v\n%s", res.err, res.logs)
	}

	if len(res.calls) != 0 {
		t.Errorf("rm should run in-process, got %v", res.calls)
	}

	for _, name := range []string{"main.o", "416inputs.exe"} {
		if _, err := os.Stat(filepath.Join(root, name)); !os.IsNotExist(err) {
			t.Errorf("%s wasn't removed", name)
		}
	}
}

func TestPosixHelpers(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")

	res := runCLI(t, nil, "mkdir", "-p", nested)
	if res.err != nil {
		t.Fatal(res.err)
	}
	if info, err := os.Stat(nested); err != nil || !info.IsDir() {
		t.Fatalf("mkdir -p didn't create %s", nested)
	}

	res = runCLI(t, nil, "rm", "-rf", filepath.Join(dir, "a"), filepath.Join(dir, "missing"))
	if res.err != nil {
		t.Fatal(res.err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a")); !os.IsNotExist(err) {
		t.Error("rm -rf didn't remove the directory")
	}
}

func TestConsoleWriter(t *testing.T) {
	t.Setenv(debugEnv, "")

	var out bytes.Buffer
	writer := NewConsoleWriter(&out)
	writer.NoColor = true

	logger := zerolog.New(writer)
	logger.Info().Str("step", "compile").Bool("command", true).Msg("g++ -c src/main.cpp [x]")
	logger.Warn().Str("step", "link").Msg("exited with status 1")
	logger.Error().Err(eris.New("boom")).Msg("Failed")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	want := []string{
		"compile: $ g++ -c src/main.cpp [x]",
		"link: exited with status 1",
		"Error: Failed",
	}

	if len(lines) < len(want) {
		t.Fatalf("expected at least %d lines, got:\n%s", len(want), out.String())
	}
	for idx, line := range want {
		if lines[idx] != line {
			t.Errorf("line %d = %q, want %q", idx, lines[idx], line)
		}
	}

	if !strings.Contains(out.String(), "boom") {
		t.Errorf("error details are missing:\n%s", out.String())
	}
}
