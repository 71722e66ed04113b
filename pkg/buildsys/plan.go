package buildsys

import (
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

// Step names used by the build and clean plans
const (
	StepTerminate = "terminate"
	StepCompile   = "compile"
	StepLink      = "link"
	StepClean     = "clean"
)

// Toolchain contains the fixed inputs of a build
type Toolchain struct {
	// OS selects the process termination command and the executable suffix ("windows" or anything else).
	OS         string
	Compiler   string
	Launcher   string
	Source     string
	IncludeDir string
	LibDir     string
	Libs       []string
	Target     string
}

func (t Toolchain) isWindows() bool {
	return t.OS == "windows"
}

// ObjectFile returns the name of the object file the compiler writes into the working directory
func (t Toolchain) ObjectFile() string {
	base := path.Base(strings.ReplaceAll(t.Source, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base)) + ".o"
}

// Executable returns the file name of the linked program
func (t Toolchain) Executable() string {
	if t.isWindows() && !strings.HasSuffix(t.Target, ".exe") {
		return t.Target + ".exe"
	}

	return t.Target
}

// TerminateCommand returns the command that kills running instances of the target by name
func (t Toolchain) TerminateCommand() []string {
	if t.isWindows() {
		return []string{"taskkill", "/im", t.Executable()}
	}

	return []string{"pkill", "-x", t.Target}
}

// CompileCommand returns the compiler invocation for the source file
func (t Toolchain) CompileCommand() []string {
	args := make([]string, 0, 6)
	if t.Launcher != "" {
		args = append(args, t.Launcher)
	}

	args = append(args, t.Compiler, "-c", t.Source)
	if t.IncludeDir != "" {
		args = append(args, "-I", t.IncludeDir)
	}

	return args
}

// LinkCommand returns the linker invocation producing the executable
func (t Toolchain) LinkCommand() []string {
	args := make([]string, 0, 6+len(t.Libs))
	args = append(args, t.Compiler, t.ObjectFile(), "-o", t.Target)
	if t.LibDir != "" {
		args = append(args, "-L", t.LibDir)
	}

	return append(args, t.Libs...)
}

// Validate checks that all required values are set
func (t Toolchain) Validate() error {
	switch {
	case t.Source == "":
		return eris.New("no source file configured")
	case t.Target == "":
		return eris.New("no target name configured")
	case t.Compiler == "":
		return eris.New("no compiler configured")
	}

	for _, lib := range t.Libs {
		if lib == "" {
			return eris.New("empty library flag")
		}
	}

	return nil
}

// NewBuildPlan returns the terminate, compile and link steps for the given toolchain
func NewBuildPlan(t Toolchain) (*Plan, error) {
	err := t.Validate()
	if err != nil {
		return nil, eris.Wrap(err, "invalid toolchain")
	}

	return &Plan{
		Name: "build",
		Steps: []Step{
			{
				Name:    StepTerminate,
				Args:    t.TerminateCommand(),
				MayFail: true,
			},
			{
				Name:    StepCompile,
				Args:    t.CompileCommand(),
				Inputs:  []string{t.Source},
				Outputs: []string{t.ObjectFile()},
			},
			{
				Name:    StepLink,
				Args:    t.LinkCommand(),
				Inputs:  []string{t.ObjectFile()},
				Outputs: []string{t.Executable()},
			},
		},
	}, nil
}

// NewCleanPlan returns a plan that removes every output of the given plan
func NewCleanPlan(plan *Plan) *Plan {
	args := append([]string{"rm", "-f"}, plan.Outputs()...)

	return &Plan{
		Name: "clean",
		Steps: []Step{
			{
				Name: StepClean,
				Args: args,
			},
		},
	}
}
