// Package command holds the unit of work submitted to a worker pool: the shell
// text to run, where to run it, the environment to propagate and, once the
// command is finished, its exit code and captured output.
package command

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type State int

const (
	NotStarted State = iota
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s is Completed or Failed.
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

// Result is what the execution context captured from the spawned process.
type Result struct {
	ExitCode int       `json:"exitCode"`
	Stdout   string    `json:"stdout"`
	Stderr   string    `json:"stderr"`
	Rendered string    `json:"rendered"`
	Attempts int       `json:"attempts"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

type Command struct {
	ID     uuid.UUID
	Name   string
	CmdStr string

	host        string
	installRoot string
	stdin       string

	mu     sync.RWMutex
	env    map[string]string
	state  State
	result Result
	err    error
}

type Option func(*Command)

// WithRemote addresses the command to host. A command without a host runs locally.
func WithRemote(host string) Option {
	return func(c *Command) { c.host = host }
}

// WithInstallRoot overrides the process-wide install root for a remote command.
func WithInstallRoot(path string) Option {
	return func(c *Command) { c.installRoot = path }
}

// WithStdin sets the payload fed to the spawned process.
func WithStdin(payload string) Option {
	return func(c *Command) { c.stdin = payload }
}

func WithEnv(key, value string) Option {
	return func(c *Command) { c.env[key] = value }
}

func New(name, cmdStr string, opts ...Option) *Command {
	c := &Command{
		ID:     uuid.New(),
		Name:   name,
		CmdStr: cmdStr,
		env:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Command) Host() string        { return c.host }
func (c *Command) InstallRoot() string { return c.installRoot }
func (c *Command) Stdin() string       { return c.stdin }

// IsRemote reports whether the command has a destination host.
func (c *Command) IsRemote() bool { return c.host != "" }

// SetEnv adds or replaces an entry of the propagation map. The map may only
// change before the command is started.
func (c *Command) SetEnv(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != NotStarted {
		return &InvalidStateError{Op: "set env", State: c.state}
	}
	c.env[key] = value
	return nil
}

// Env returns a copy of the propagation map.
func (c *Command) Env() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.env))
	for k, v := range c.env {
		out[k] = v
	}
	return out
}

// EnvPrefix renders the propagation map as "k1=v1 && k2=v2 && ", keys ascending.
func (c *Command) EnvPrefix() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return envPrefix(c.env)
}

// Render returns the env-prefixed command text. Local and remote contexts both
// build their prefixes from it, so the ordering is identical everywhere.
func (c *Command) Render() string {
	return c.EnvPrefix() + c.CmdStr
}

// RenderEnv prefixes base with the assignments in env, keys ascending.
func RenderEnv(env map[string]string, base string) string {
	return envPrefix(env) + base
}

func envPrefix(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(env[k])
		b.WriteString(" && ")
	}
	return b.String()
}

// Begin moves the command from NotStarted to Running. It fails if the command
// was already started, so a command is never run twice.
func (c *Command) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != NotStarted {
		return &InvalidStateError{Op: "begin", State: c.state}
	}
	c.state = Running
	return nil
}

// Finish records the outcome and moves the command to its terminal state:
// Completed when err is nil, Failed otherwise. It may be called once.
func (c *Command) Finish(res Result, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return &InvalidStateError{Op: "finish", State: c.state}
	}
	c.result = res
	c.err = err
	if err != nil {
		c.state = Failed
	} else {
		c.state = Completed
	}
	return nil
}

func (c *Command) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the failure recorded by Finish, nil for completed or unfinished commands.
func (c *Command) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *Command) Result() (Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.state.Terminal() {
		return Result{}, &InvalidStateError{Op: "read result", State: c.state}
	}
	return c.result, nil
}

func (c *Command) ExitCode() (int, error) {
	res, err := c.Result()
	return res.ExitCode, err
}

func (c *Command) Stdout() (string, error) {
	res, err := c.Result()
	return res.Stdout, err
}

func (c *Command) Stderr() (string, error) {
	res, err := c.Result()
	return res.Stderr, err
}

// WasSuccessful reports whether the command completed with exit code 0.
func (c *Command) WasSuccessful() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == Completed && c.result.ExitCode == 0
}

// Validate returns an *ExecutionError unless the command reached a terminal
// state with the expected exit code.
func (c *Command) Validate(expectedRC int) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case !c.state.Terminal():
		return &ExecutionError{Summary: "command not finished", Cmd: c, Cause: &InvalidStateError{Op: "validate", State: c.state}}
	case c.result.ExitCode != expectedRC:
		return &ExecutionError{Summary: fmt.Sprintf("non-zero rc: %d", c.result.ExitCode), Cmd: c, Cause: c.err}
	}
	return nil
}

func (c *Command) String() string {
	where := "localhost"
	if c.host != "" {
		where = c.host
	}
	return fmt.Sprintf("%s (%s) on %s: %s", c.Name, c.ID, where, c.CmdStr)
}
