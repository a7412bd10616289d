package executor

import (
	"context"

	"github.com/andrej220/clusterexec/pkg/command"
)

// Resolver picks the execution context for a command: Remote when the
// command has a destination host, Local otherwise. The options are shared by
// every context it builds.
type Resolver struct {
	opts []Option
}

func NewResolver(opts ...Option) *Resolver {
	return &Resolver{opts: opts}
}

func (r *Resolver) For(cmd *command.Command) ExecutionContext {
	opts := make([]Option, 0, len(r.opts)+2)
	opts = append(opts, r.opts...)
	if stdin := cmd.Stdin(); stdin != "" {
		opts = append(opts, WithStdin(stdin))
	}
	if cmd.IsRemote() {
		if root := cmd.InstallRoot(); root != "" {
			opts = append(opts, WithInstallRoot(root))
		}
		return NewRemote(cmd.Host(), opts...)
	}
	return NewLocal(opts...)
}

// Run executes cmd in the context it resolves to.
func Run(ctx context.Context, cmd *command.Command, opts ...Option) error {
	return NewResolver(opts...).For(cmd).Execute(ctx, cmd)
}
