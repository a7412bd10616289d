package executor

import (
	"context"
	"os/exec"

	"github.com/andrej220/clusterexec/pkg/command"
)

// ExecutionContext decides how a Command's process is spawned. Local and
// Remote are the only implementations.
type ExecutionContext interface {
	// Render returns the exact string handed to the local shell.
	Render(cmd *command.Command) string
	// Execute runs cmd to a terminal state and returns the recorded failure, if any.
	Execute(ctx context.Context, cmd *command.Command) error
}

// Spawner abstracts exec.CommandContext to allow dependency injection.
type Spawner interface {
	CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd
}

type defaultSpawner struct{}

func (defaultSpawner) CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}

// NewDefaultSpawner returns a Spawner using os/exec.
func NewDefaultSpawner() Spawner { return defaultSpawner{} }
