// Package agent defines the Agent Adapter capability set (spec.md §4.3):
// what command to run, how to build its arguments and environment, and
// how it reports back to the Hook Listener. The two built-in adapters
// (AgentCC, Shell) and any user-defined ones loaded from adapters.yaml all
// implement the same Adapter surface.
package agent

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind distinguishes the built-in callback-driven adapter from the
// callback-less shell adapter and user-defined custom adapters.
type Kind string

const (
	KindAgentCC Kind = "agent_cc"
	KindShell   Kind = "shell"
	KindCustom  Kind = "custom"
)

// Adapter is one coding-assistant (or plain shell) command definition.
type Adapter struct {
	Name              string
	Kind              Kind
	command           string
	baseArgs          []string
	env               map[string]string
	supportsCallbacks bool
	envFilePath       string
}

// NewAgentCC returns the built-in adapter for the callback-driven coding
// assistant named in spec.md §4.3. envFilePath, if non-empty, names a
// dotenv-style file merged under the adapter's own environment.
func NewAgentCC(envFilePath string) *Adapter {
	return &Adapter{
		Name:              "agent-cc",
		Kind:              KindAgentCC,
		command:           "claude",
		supportsCallbacks: true,
		envFilePath:       envFilePath,
	}
}

// NewShell returns the built-in adapter that runs the user's login shell
// with no callback channel; the Session Manager infers its state entirely
// from PTY output silence. The PTY's foreground process group is not
// examined.
func NewShell(envFilePath string) *Adapter {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Adapter{
		Name:              "shell",
		Kind:              KindShell,
		command:           shell,
		supportsCallbacks: false,
		envFilePath:       envFilePath,
	}
}

// Definition is one user-authored entry in adapters.yaml: a custom
// coding-assistant CLI that follows the same callback contract as AgentCC.
type Definition struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

type definitionsFile struct {
	Adapters []Definition `yaml:"adapters"`
}

// LoadDefinitions reads adapters.yaml at path. A missing file yields no
// definitions and is not an error.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc definitionsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc.Adapters, nil
}

// NewCustom builds an Adapter from a user-authored Definition.
func NewCustom(def Definition, envFilePath string) *Adapter {
	return &Adapter{
		Name:              def.Name,
		Kind:              KindCustom,
		command:           def.Command,
		baseArgs:          append([]string(nil), def.Args...),
		env:               def.Env,
		supportsCallbacks: true,
		envFilePath:       envFilePath,
	}
}

// Command returns the executable to run.
func (a *Adapter) Command() string { return a.command }

// SupportsCallbacks reports whether this adapter emits hook callbacks, and
// therefore drives the callback-based state machine rather than the
// silence-based one (spec.md §4.4).
func (a *Adapter) SupportsCallbacks() bool { return a.supportsCallbacks }

// Args returns the argument vector for a new child in working directory
// cwd, for session sessionID. Built-in adapters take no arguments beyond
// their base command; custom adapters may reference {{session_id}} in
// their configured args.
func (a *Adapter) Args(cwd, sessionID string) []string {
	out := make([]string, len(a.baseArgs))
	for i, arg := range a.baseArgs {
		out[i] = strings.ReplaceAll(arg, "{{session_id}}", sessionID)
	}
	return out
}

// Env composes the child's environment: the current OS environment,
// overlaid with the adapter's env file (if any), overlaid with the
// adapter's own definition-specific overrides. This mirrors the precedence
// order the teacher's container env composition used for sandboxed
// processes, applied here directly to exec.Cmd.Env.
func (a *Adapter) Env() ([]string, error) {
	merged := envToMap(os.Environ())

	if a.envFilePath != "" {
		fileVars, err := loadEnvFile(a.envFilePath)
		if err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
		for k, v := range fileVars {
			merged[k] = v
		}
	}

	for k, v := range a.env {
		merged[k] = v
	}

	return mapToEnv(merged), nil
}

// PostSpawn runs any adapter-specific setup after the child process has
// started. Built-in adapters have none; reserved for custom adapters that
// need to write a config file into dir before the assistant reads it.
func (a *Adapter) PostSpawn(dir string) error {
	return nil
}

func envToMap(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		if idx := strings.IndexByte(p, '='); idx >= 0 {
			m[p[:idx]] = p[idx+1:]
		}
	}
	return m
}

func mapToEnv(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// loadEnvFile reads a simple KEY=value dotenv file, one assignment per
// line; blank lines and lines starting with '#' are ignored. Grounded on
// the teacher's container.go loadEnvFile, applied here without the
// container layer it originally fed.
func loadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	defer f.Close()

	out := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		val = strings.Trim(val, `"'`)
		out[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CallbackScript writes a small shell script into scriptsDir that reads a
// JSON hook event from stdin and POSTs it to the Hook Listener, and returns
// its path. Callback-driven adapters pass this path to the child (via an
// environment variable or CLI flag the adapter's own config names) so the
// child can invoke it as its hook command.
func CallbackScript(scriptsDir, sessionID string, listenerPort int) (string, error) {
	if err := os.MkdirAll(scriptsDir, 0o755); err != nil {
		return "", fmt.Errorf("create scripts dir: %w", err)
	}
	path := filepath.Join(scriptsDir, fmt.Sprintf("hook-%s.sh", sessionID))
	script := fmt.Sprintf(`#!/bin/sh
# Forwards a hook event read from stdin to the argus hook listener.
curl -s -X POST -H 'Content-Type: application/json' \
	--data-binary @- \
	'http://127.0.0.1:%d/hook?session_id=%s' >/dev/null 2>&1
`, listenerPort, sessionID)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		return "", fmt.Errorf("write callback script: %w", err)
	}
	return path, nil
}
