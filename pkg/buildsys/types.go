package buildsys

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Step is a single external command of a plan
type Step struct {
	Name    string
	Args    []string
	Inputs  []string
	Outputs []string
	// MayFail steps never stop a plan, not even in strict mode.
	MayFail bool
}

// Plan is an ordered list of steps. Steps always run in the given order, one at a time.
type Plan struct {
	Name  string
	Steps []Step
}

// Outputs returns the outputs of all steps in plan order
func (p *Plan) Outputs() []string {
	result := make([]string, 0, len(p.Steps))
	for _, step := range p.Steps {
		result = append(result, step.Outputs...)
	}

	return result
}

// Commands returns the shell representation of each step
func (p *Plan) Commands() []string {
	result := make([]string, len(p.Steps))
	for idx, step := range p.Steps {
		result[idx] = step.String()
	}

	return result
}

// Step returns the step with the given name or nil
func (p *Plan) Step(name string) *Step {
	for idx := range p.Steps {
		if p.Steps[idx].Name == name {
			return &p.Steps[idx]
		}
	}

	return nil
}

// String renders the step's command the way it is logged
func (s Step) String() string {
	buffer := strings.Builder{}
	printer := syntax.NewPrinter(syntax.Minify(true))
	err := printer.Print(&buffer, s.callExpr())
	if err != nil {
		return strings.Join(s.Args, " ")
	}

	return buffer.String()
}

// isPlainArg reports whether the interpreter passes arg through unchanged when it isn't quoted
func isPlainArg(arg string) bool {
	if arg == "" {
		return false
	}

	for _, r := range arg {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("_-+./,:@%=", r):
		default:
			return false
		}
	}

	return true
}

// quotedWord wraps arg in single quotes. Embedded single quotes are emitted as "'" between the
// quoted segments.
func quotedWord(arg string) *syntax.Word {
	segments := strings.Split(arg, "'")
	parts := make([]syntax.WordPart, 0, len(segments)*2)
	for idx, segment := range segments {
		if idx > 0 {
			parts = append(parts, &syntax.DblQuoted{
				Parts: []syntax.WordPart{&syntax.Lit{Value: "'"}},
			})
		}
		if segment != "" || len(segments) == 1 {
			parts = append(parts, &syntax.SglQuoted{Value: segment})
		}
	}

	return &syntax.Word{Parts: parts}
}

func (s Step) callExpr() *syntax.CallExpr {
	cmd := new(syntax.CallExpr)
	cmd.Args = make([]*syntax.Word, len(s.Args))

	for a, arg := range s.Args {
		if isPlainArg(arg) {
			cmd.Args[a] = &syntax.Word{Parts: []syntax.WordPart{&syntax.Lit{Value: arg}}}
			continue
		}

		cmd.Args[a] = quotedWord(arg)
	}

	return cmd
}
