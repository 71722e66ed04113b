// Package doctor checks whether the host can run the build plan.
package doctor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"

	"github.com/416inputs/buildtool/pkg/buildsys"
)

// Check is the result of a single diagnosis
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Overridden in tests
var (
	lookPath      = exec.LookPath
	commandOutput = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return exec.CommandContext(ctx, name, args...).Output()
	}
)

// Run performs all checks for the toolchain. Relative paths are resolved against root.
// minCompiler is a semver constraint; an empty string skips the version check.
func Run(ctx context.Context, root string, tc buildsys.Toolchain, minCompiler string) []Check {
	checks := []Check{checkCompiler(ctx, tc.Compiler, minCompiler)}

	if tc.Launcher != "" {
		checks = append(checks, checkProgram("launcher", tc.Launcher))
	}

	kill := tc.TerminateCommand()
	checks = append(checks, checkProgram("terminate", kill[0]))

	checks = append(checks,
		checkPath("source", resolve(root, tc.Source), false),
	)
	if tc.IncludeDir != "" {
		checks = append(checks, checkPath("include dir", resolve(root, tc.IncludeDir), true))
	}

	libDir := ""
	if tc.LibDir != "" {
		libDir = resolve(root, tc.LibDir)
		checks = append(checks, checkPath("lib dir", libDir, true))
	}

	for _, flag := range tc.Libs {
		if !strings.HasPrefix(flag, "-l") {
			continue
		}

		checks = append(checks, checkLibrary(ctx, tc.Compiler, libDir, flag[2:]))
	}

	return checks
}

func resolve(root, path string) string {
	path = filepath.FromSlash(path)
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(root, path)
}

// Failed counts the failed checks
func Failed(checks []Check) int {
	count := 0
	for _, c := range checks {
		if !c.OK {
			count++
		}
	}

	return count
}

func checkProgram(name, program string) Check {
	path, err := lookPath(program)
	if err != nil {
		return Check{Name: name, Detail: program + " not found in PATH"}
	}

	return Check{Name: name, OK: true, Detail: path}
}

func checkCompiler(ctx context.Context, compiler, constraint string) Check {
	check := checkProgram("compiler", compiler)
	if !check.OK || constraint == "" {
		return check
	}

	out, err := commandOutput(ctx, check.Detail, "-dumpfullversion", "-dumpversion")
	if err != nil {
		check.OK = false
		check.Detail = eris.Wrapf(err, "failed to query the version of %s", compiler).Error()
		return check
	}

	version, ok, err := CompilerVersionMatches(string(out), constraint)
	if err != nil {
		check.OK = false
		check.Detail = err.Error()
		return check
	}

	check.OK = ok
	check.Detail = check.Detail + " " + version.String()
	if !ok {
		check.Detail += " does not satisfy " + constraint
	}

	return check
}

// CompilerVersionMatches parses the output of -dumpfullversion and checks it against constraint
func CompilerVersionMatches(output, constraint string) (*semver.Version, bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, false, eris.Wrapf(err, "invalid version constraint %s", constraint)
	}

	raw := strings.TrimSpace(output)
	if idx := strings.IndexAny(raw, " \r\n"); idx != -1 {
		raw = raw[:idx]
	}

	version, err := semver.NewVersion(raw)
	if err != nil {
		return nil, false, eris.Wrapf(err, "could not parse compiler version %q", raw)
	}

	return version, c.Check(version), nil
}

func checkPath(name, path string, dir bool) Check {
	info, err := os.Stat(path)
	if err != nil {
		return Check{Name: name, Detail: path + " is missing"}
	}

	if info.IsDir() != dir {
		kind := "a file"
		if dir {
			kind = "a directory"
		}
		return Check{Name: name, Detail: path + " is not " + kind}
	}

	return Check{Name: name, OK: true, Detail: path}
}

// LibraryCandidates lists the file names a linker accepts for -l<name>
func LibraryCandidates(name string) []string {
	return []string{
		"lib" + name + ".a",
		"lib" + name + ".dll.a",
		"lib" + name + ".so",
		name + ".lib",
	}
}

func checkLibrary(ctx context.Context, compiler, libDir, name string) Check {
	check := Check{Name: "-l" + name}

	if libDir != "" {
		for _, candidate := range LibraryCandidates(name) {
			path := filepath.Join(libDir, candidate)
			if _, err := os.Stat(path); err == nil {
				check.OK = true
				check.Detail = path
				return check
			}
		}
	}

	// Runtime libraries like mingw32 ship with the compiler. gcc prints the bare name if it can't
	// find the file.
	file := "lib" + name + ".a"
	out, err := commandOutput(ctx, compiler, "-print-file-name="+file)
	if err == nil {
		path := strings.TrimSpace(string(out))
		if path != "" && path != file {
			check.OK = true
			check.Detail = path
			return check
		}
	}

	if libDir == "" {
		check.Detail = "not found by " + compiler
	} else {
		check.Detail = "not found in " + libDir + " or by " + compiler
	}
	return check
}
