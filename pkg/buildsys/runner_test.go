package buildsys

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"mvdan.cc/sh/v3/interp"
)

func testContext(out io.Writer) context.Context {
	logger := zerolog.New(out)
	return WithLogger(context.Background(), &logger)
}

type recorder struct {
	calls  [][]string
	status func(args []string) uint8
}

func (r *recorder) handle(ctx context.Context, args []string) error {
	r.calls = append(r.calls, append([]string{}, args...))
	if r.status != nil {
		if status := r.status(args); status != 0 {
			return interp.NewExitStatus(status)
		}
	}

	return nil
}

func isCompile(args []string) bool {
	return len(args) > 1 && args[1] == "-c"
}

func isTerminate(args []string) bool {
	return len(args) > 0 && (args[0] == "taskkill" || args[0] == "pkill")
}

func runExample(t *testing.T, rec *recorder, opts Options) (*Report, string, error) {
	t.Helper()

	plan, err := NewBuildPlan(exampleToolchain("windows"))
	if err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	opts.Dir = t.TempDir()
	opts.ExecHandler = rec.handle
	opts.Stdout = ioutil.Discard
	opts.Stderr = ioutil.Discard

	report, err := RunPlan(testContext(&logs), plan, opts)
	return report, logs.String(), err
}

func TestRunPlanOrder(t *testing.T) {
	rec := &recorder{}
	report, _, err := runExample(t, rec, Options{})
	if err != nil {
		t.Fatalf("RunPlan() failed: %v", err)
	}

	want := [][]string{
		{"taskkill", "/im", "416inputs.exe"},
		{"g++", "-c", "src/main.cpp", "-I", "dependencies/include"},
		{"g++", "main.o", "-o", "416inputs", "-L", "dependencies/lib", "-lmingw32", "-lSDL2main", "-lSDL2", "-lSDL2_image", "-lSDL2_ttf"},
	}
	if diff := cmp.Diff(want, rec.calls); diff != "" {
		t.Errorf("unexpected calls (-want +got):\n%s", diff)
	}

	if !report.OK() {
		t.Errorf("expected a successful report: %+v", report.Steps)
	}
	if report.RunID == "" {
		t.Error("missing run id")
	}
}

func TestRunPlanTerminateFailureIsIgnored(t *testing.T) {
	rec := &recorder{
		status: func(args []string) uint8 {
			if isTerminate(args) {
				return 128
			}
			return 0
		},
	}

	for _, strict := range []bool{false, true} {
		rec.calls = nil
		report, _, err := runExample(t, rec, Options{Strict: strict})
		if err != nil {
			t.Fatalf("strict=%v: RunPlan() failed: %v", strict, err)
		}

		if len(rec.calls) != 3 {
			t.Errorf("strict=%v: expected 3 calls, got %d", strict, len(rec.calls))
		}

		if report.Steps[0].Status != 128 || !report.Steps[0].Tolerated {
			t.Errorf("strict=%v: unexpected terminate result %+v", strict, report.Steps[0])
		}

		if !report.OK() {
			t.Errorf("strict=%v: a failed terminate step must not fail the report", strict)
		}
	}
}

func TestRunPlanCompileFailureContinues(t *testing.T) {
	rec := &recorder{
		status: func(args []string) uint8 {
			if isCompile(args) {
				return 1
			}
			return 0
		},
	}

	report, logs, err := runExample(t, rec, Options{})
	if err != nil {
		t.Fatalf("RunPlan() failed: %v", err)
	}

	if len(rec.calls) != 3 {
		t.Fatalf("expected the link step to run anyway, got %d calls", len(rec.calls))
	}

	if report.OK() {
		t.Error("expected the report to contain a failure")
	}

	if !strings.Contains(logs, `"level":"warn"`) || !strings.Contains(logs, "continuing although compile failed") {
		t.Errorf("expected a stale input warning, got:\n%s", logs)
	}
}

func TestRunPlanStrict(t *testing.T) {
	rec := &recorder{
		status: func(args []string) uint8 {
			if isCompile(args) {
				return 1
			}
			return 0
		},
	}

	report, _, err := runExample(t, rec, Options{Strict: true})
	if !eris.Is(err, ErrStepFailed) {
		t.Fatalf("expected ErrStepFailed, got %v", err)
	}

	if len(rec.calls) != 2 {
		t.Errorf("expected the link step to be skipped, got %d calls", len(rec.calls))
	}

	last := report.Steps[len(report.Steps)-1]
	if last.Step != StepLink || !last.Skipped || last.Ran {
		t.Errorf("unexpected link result %+v", last)
	}
}

func TestRunPlanDryRun(t *testing.T) {
	rec := &recorder{}
	report, logs, err := runExample(t, rec, Options{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}

	if len(rec.calls) != 0 {
		t.Errorf("dry run executed %d commands", len(rec.calls))
	}

	if len(report.Steps) != 3 || !report.DryRun {
		t.Errorf("unexpected report %+v", report)
	}

	if !strings.Contains(logs, "g++ -c src/main.cpp -I dependencies/include") {
		t.Errorf("commands weren't logged:\n%s", logs)
	}
}

func TestRunPlanIsRepeatable(t *testing.T) {
	first := &recorder{}
	if _, _, err := runExample(t, first, Options{}); err != nil {
		t.Fatal(err)
	}

	second := &recorder{}
	if _, _, err := runExample(t, second, Options{}); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(first.calls, second.calls); diff != "" {
		t.Errorf("second run issued different commands (-first +second):\n%s", diff)
	}
}

func TestRunPlanCancelled(t *testing.T) {
	plan, err := NewBuildPlan(exampleToolchain("windows"))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(testContext(ioutil.Discard))
	cancel()

	rec := &recorder{}
	_, err = RunPlan(ctx, plan, Options{Dir: t.TempDir(), ExecHandler: rec.handle})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	if len(rec.calls) != 0 {
		t.Errorf("cancelled run executed %d commands", len(rec.calls))
	}
}

func TestRunCleanPlan(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"main.o", "416inputs"} {
		err := ioutil.WriteFile(filepath.Join(dir, name), []byte("x"), 0600)
		if err != nil {
			t.Fatal(err)
		}
	}

	plan, err := NewBuildPlan(exampleToolchain("linux"))
	if err != nil {
		t.Fatal(err)
	}

	rec := &recorder{}
	opts := Options{Dir: dir, ExecHandler: rec.handle, Stdout: ioutil.Discard, Stderr: ioutil.Discard}
	for round := 0; round < 2; round++ {
		report, err := RunPlan(testContext(ioutil.Discard), NewCleanPlan(plan), opts)
		if err != nil {
			t.Fatalf("round %d: RunPlan() failed: %v", round, err)
		}
		if !report.OK() {
			t.Errorf("round %d: clean failed: %+v", round, report.Steps)
		}
	}

	if len(rec.calls) != 0 {
		t.Errorf("rm should run in-process, got external calls %v", rec.calls)
	}

	for _, name := range []string{"main.o", "416inputs"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s still exists", name)
		}
	}
}

func TestRunPlanPassesArgumentsVerbatim(t *testing.T) {
	tc := exampleToolchain("windows")
	tc.Source = `src\main.cpp`
	tc.IncludeDir = `C:\SDL2\include`
	tc.LibDir = "~/sdl/lib"
	tc.Libs = []string{"-lSDL2", "-Wl,--out-implib,it's.a", "*.a", "-DNAME=$HOME", ""}

	plan := &Plan{Name: "build"}
	for _, args := range [][]string{tc.CompileCommand(), tc.LinkCommand()} {
		plan.Steps = append(plan.Steps, Step{Name: "step", Args: args})
	}

	rec := &recorder{}
	_, err := RunPlan(testContext(ioutil.Discard), plan, Options{
		Dir:         t.TempDir(),
		ExecHandler: rec.handle,
		Stdout:      ioutil.Discard,
		Stderr:      ioutil.Discard,
	})
	if err != nil {
		t.Fatalf("RunPlan() failed: %v", err)
	}

	want := [][]string{plan.Steps[0].Args, plan.Steps[1].Args}
	if diff := cmp.Diff(want, rec.calls); diff != "" {
		t.Errorf("arguments were changed by the interpreter (-want +got):\n%s", diff)
	}
}
