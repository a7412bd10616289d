package executor

import (
	"context"

	"github.com/andrej220/clusterexec/internal/lg"
	"github.com/andrej220/clusterexec/pkg/command"
)

// Local runs commands in a shell on this host. It never retries.
type Local struct {
	opts options
}

func NewLocal(opts ...Option) *Local {
	return &Local{opts: newOptions(opts)}
}

// Render returns the env-prefixed command text, without any transport wrapping.
func (l *Local) Render(cmd *command.Command) string {
	return cmd.Render()
}

func (l *Local) Execute(ctx context.Context, cmd *command.Command) error {
	if err := cmd.Begin(); err != nil {
		return err
	}
	logger := lg.FromContext(ctx).With(
		lg.String("cmd", cmd.Name),
		lg.Stringer("id", cmd.ID),
		lg.String("host", "localhost"),
	)

	rendered := l.Render(cmd)
	logger.Debug("spawning", lg.String("rendered", rendered))
	res, err := spawn(ctx, &l.opts, rendered)
	res.Attempts = 1

	switch {
	case err != nil:
		err = &FatalExecutionError{Rendered: rendered, Result: res, Cause: err}
	case res.ExitCode != 0:
		err = &FatalExecutionError{Rendered: rendered, Result: res, Cause: exitStatus(res.ExitCode)}
	}
	return record(logger, cmd, res, err)
}
