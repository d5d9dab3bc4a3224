// Package external runs the command-line tools the pipeline delegates to:
// distance transforms, mesh rasterization, the correspondence optimizer and
// the reconstruction tools.
package external

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"shapegroom/pkg/failure"
)

// Command is an executable with an argument template. Arguments may contain
// {name} placeholders filled in by Expand.
type Command struct {
	Executable string   `yaml:"executable,omitempty" json:"executable,omitempty"`
	Args       []string `yaml:"args,omitempty" json:"args,omitempty"`
}

var placeholder = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Expand returns the arguments with every placeholder replaced. A
// placeholder without a value is an ErrConfiguration error.
func (c Command) Expand(vars map[string]string) ([]string, error) {
	out := make([]string, len(c.Args))
	for i, arg := range c.Args {
		var missing []string
		out[i] = placeholder.ReplaceAllStringFunc(arg, func(m string) string {
			name := m[1 : len(m)-1]
			v, ok := vars[name]
			if !ok {
				missing = append(missing, name)
				return m
			}
			return v
		})
		if len(missing) > 0 {
			return nil, failure.Configf("%s: no value for placeholder(s) %s", c.Executable, strings.Join(missing, ", "))
		}
	}
	return out, nil
}

// Configured reports whether an executable is set.
func (c Command) Configured() bool {
	return c.Executable != ""
}

// Runner executes a command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandRunner runs commands with os/exec.
type CommandRunner struct {
	// Dir is the working directory; empty means the current one.
	Dir string

	Logger zerolog.Logger
}

// NewCommandRunner returns a runner logging through l.
func NewCommandRunner(l zerolog.Logger) *CommandRunner {
	return &CommandRunner{Logger: l.With().Str("component", "external").Logger()}
}

// Run executes the command. A nonzero exit is an ErrExternalService error
// carrying the tail of the output.
func (r *CommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	r.Logger.Debug().Str("command", name).Strs("args", args).Msg("running")
	err := cmd.Run()
	r.Logger.Debug().Str("command", name).Dur("elapsed", time.Since(start)).Msg("finished")
	if err != nil {
		return out.Bytes(), failure.Externalf("%s failed: %v: %s", name, err, tail(out.String(), 512))
	}
	return out.Bytes(), nil
}

// Invoke expands cmd with vars and runs it.
func Invoke(ctx context.Context, r Runner, cmd Command, vars map[string]string) ([]byte, error) {
	if !cmd.Configured() {
		return nil, failure.Configf("no executable configured")
	}
	args, err := cmd.Expand(vars)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, cmd.Executable, args...)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("...%s", s[len(s)-n:])
}
