package computation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

// EnvPrefix prefixes every variable handed to shell computations
const EnvPrefix = "SIMGRID_"

// ShellConfig configures a shell computation
type ShellConfig struct {
	Command string
	// Dir is the working directory. When empty each invocation runs in a
	// fresh temporary directory that is removed afterwards.
	Dir string
	Env map[string]string
}

// Shell runs a command through sh -c once per task. Factor levels are passed
// as SIMGRID_<FACTOR> variables, along with SIMGRID_SEED,
// SIMGRID_REPLICATION, SIMGRID_CONDITION and SIMGRID_TASK. Scalar exports
// are passed as SIMGRID_EXPORT_<NAME>. The command must print a YAML or
// JSON mapping of output names to scalars or numeric lists on stdout.
type Shell struct {
	config ShellConfig
}

// NewShell creates a shell computation
func NewShell(config ShellConfig) (*Shell, error) {
	if strings.TrimSpace(config.Command) == "" {
		return nil, domain.Configf("command", "shell computation needs a command")
	}
	return &Shell{config: config}, nil
}

// Invoke runs the command for one task
func (s *Shell) Invoke(ctx context.Context, in Input) (domain.Outputs, error) {
	dir := s.config.Dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", fmt.Sprintf("simgrid-task-%d-", in.Task.Index))
		if err != nil {
			return nil, fmt.Errorf("creating temp dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", s.config.Command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), Environment(in)...)
	for k, v := range s.config.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("command exited with code %d: %s", exitErr.ExitCode(), lastLine(stderr.String()))
		}
		return nil, fmt.Errorf("running command: %w", err)
	}

	return ParseOutputs(stdout.Bytes())
}

// Environment returns the SIMGRID_ variables describing one invocation,
// sorted by name
func Environment(in Input) []string {
	env := []string{
		fmt.Sprintf("%sSEED=%d", EnvPrefix, in.Seed),
		fmt.Sprintf("%sREPLICATION=%d", EnvPrefix, in.Task.Replication),
		fmt.Sprintf("%sCONDITION=%d", EnvPrefix, in.Task.ConditionIndex),
		fmt.Sprintf("%sTASK=%d", EnvPrefix, in.Task.Index),
	}
	names := in.Condition.Names()
	values := in.Condition.Values()
	for i, name := range names {
		env = append(env, fmt.Sprintf("%s%s=%s", EnvPrefix, EnvName(name), values[i].String()))
	}
	for name, v := range in.Exports {
		val, err := domain.ValueOf(v)
		if err != nil || val.IsNA() {
			continue
		}
		env = append(env, fmt.Sprintf("%sEXPORT_%s=%s", EnvPrefix, EnvName(name), val.String()))
	}
	sort.Strings(env)
	return env
}

// EnvName upper-cases a name and replaces characters that are not valid in
// environment variable names with underscores
func EnvName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// ParseOutputs decodes a YAML or JSON mapping printed by a command
func ParseOutputs(data []byte) (domain.Outputs, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing outputs: %w", err)
	}
	if raw == nil {
		return nil, errors.New("command printed no outputs")
	}

	out := make(domain.Outputs, len(raw))
	for name, v := range raw {
		val, err := yamlValue(v)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
		out[name] = val
	}
	return out, nil
}

func yamlValue(v any) (domain.Value, error) {
	switch x := v.(type) {
	case []any:
		vec := make([]float64, len(x))
		for i, item := range x {
			f, err := yamlValue(item)
			if err != nil {
				return domain.NA, err
			}
			n, ok := f.Float()
			if !ok {
				return domain.NA, fmt.Errorf("element %d is not numeric", i)
			}
			vec[i] = n
		}
		return domain.Vector(vec), nil
	case string:
		if x == "NA" {
			return domain.NA, nil
		}
		return domain.String(x), nil
	case map[string]any:
		return domain.NA, errors.New("nested mappings are not supported")
	default:
		return domain.ValueOf(v)
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
