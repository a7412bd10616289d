package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/andrej220/clusterexec/internal/lg"
	"github.com/andrej220/clusterexec/pkg/command"
)

const waitDelay = time.Second

// spawn runs rendered through the configured shell once and captures its
// output. A non-zero exit is not an error here; only a process that could not
// be run (or was cut off by the context) is.
func spawn(ctx context.Context, o *options, rendered string) (command.Result, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	proc := o.spawner.CommandContext(ctx, o.shell, "-c", rendered)
	proc.Stdout = &stdout
	proc.Stderr = &stderr
	// children of the shell may keep the output pipes open after a kill
	proc.WaitDelay = waitDelay
	if o.stdin != "" {
		proc.Stdin = strings.NewReader(o.stdin)
	}

	res := command.Result{Rendered: rendered, ExitCode: -1, Started: time.Now()}
	err := proc.Run()
	res.Finished = time.Now()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if proc.ProcessState != nil {
		res.ExitCode = proc.ProcessState.ExitCode()
	}

	if err == nil {
		return res, nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return res, fmt.Errorf("spawn interrupted: %w", cerr)
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return res, fmt.Errorf("spawn error: %w", err)
	}
	return res, nil
}

// record moves cmd to its terminal state and logs the outcome.
func record(logger lg.Logger, cmd *command.Command, res command.Result, err error) error {
	if ferr := cmd.Finish(res, err); ferr != nil {
		return ferr
	}
	fields := []lg.Field{
		lg.Int("rc", res.ExitCode),
		lg.Int("attempts", res.Attempts),
		lg.Duration("elapsed", res.Finished.Sub(res.Started)),
	}
	if err != nil {
		logger.Error("command failed", append(fields, lg.Err(err))...)
		return err
	}
	logger.Debug("command completed", fields...)
	return nil
}

func exitStatus(rc int) error {
	return fmt.Errorf("exit status %d", rc)
}
