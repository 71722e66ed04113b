package buildsys

import (
	"encoding/json"
	"io/ioutil"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// CompileCommand is a single entry of a compile_commands.json database
type CompileCommand struct {
	Directory string   `json:"directory"`
	File      string   `json:"file"`
	Arguments []string `json:"arguments"`
	Output    string   `json:"output,omitempty"`
}

// CompilationDatabase returns an entry for each compile step of plan. dir has to be the absolute
// working directory of the plan.
func CompilationDatabase(plan *Plan, dir string) []CompileCommand {
	result := make([]CompileCommand, 0, 1)
	for _, step := range plan.Steps {
		if step.Name != StepCompile || len(step.Inputs) == 0 {
			continue
		}

		entry := CompileCommand{
			Directory: dir,
			File:      absIn(dir, step.Inputs[0]),
			Arguments: append([]string{}, step.Args...),
		}
		if len(step.Outputs) > 0 {
			entry.Output = absIn(dir, step.Outputs[0])
		}

		result = append(result, entry)
	}

	return result
}

func absIn(dir, item string) string {
	if filepath.IsAbs(item) {
		return item
	}

	return filepath.Join(dir, filepath.FromSlash(item))
}

// MergeCompileCommands appends the entries of all input databases to entries and writes the
// result to output. Assumes that only absolute paths are used.
func MergeCompileCommands(output string, entries []interface{}, inputs []string) error {
	merged := make([]interface{}, 0, len(entries))
	merged = append(merged, entries...)

	for _, fpath := range inputs {
		data, err := ioutil.ReadFile(fpath)
		if err != nil {
			return eris.Wrapf(err, "failed to read %s", fpath)
		}

		var chunk []interface{}
		err = json.Unmarshal(data, &chunk)
		if err != nil {
			return eris.Wrapf(err, "failed to decode %s", fpath)
		}

		merged = append(merged, chunk...)
	}

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return eris.Wrap(err, "failed to encode output")
	}

	err = ioutil.WriteFile(output, data, 0660)
	if err != nil {
		return eris.Wrapf(err, "failed to write to %s", output)
	}

	return nil
}
