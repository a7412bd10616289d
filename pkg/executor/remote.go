package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andrej220/clusterexec/internal/lg"
	"github.com/andrej220/clusterexec/pkg/command"
	"github.com/andrej220/clusterexec/pkg/config"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

const (
	sshInvocation = "ssh -o StrictHostKeyChecking=no -o ServerAliveInterval=60"
	envScript     = "cloudberry-env.sh"
)

// Remote runs commands on Host through the local ssh client. The value is
// immutable and may be shared by every command addressed to the same host.
type Remote struct {
	Host string
	opts options
}

func NewRemote(host string, opts ...Option) *Remote {
	return &Remote{Host: host, opts: newOptions(opts)}
}

// InstallRoot is the override given at construction, else the process-wide default.
func (r *Remote) InstallRoot() string {
	if r.opts.installRoot != "" {
		return r.opts.installRoot
	}
	return config.InstallRoot()
}

// Render builds
//
//	k1=v1 && ... && ssh <opts> <host> ". <root>/cloudberry-env.sh; k1=v1 && ... && <cmd>"
//
// The env prefix is rendered twice from the same map, once for the local
// shell and once inside the quoted remote payload.
func (r *Remote) Render(cmd *command.Command) string {
	inner := strings.ReplaceAll(cmd.Render(), `"`, `\"`)
	return fmt.Sprintf(`%s%s %s ". %s/%s; %s"`,
		cmd.EnvPrefix(), sshInvocation, r.Host, r.InstallRoot(), envScript, inner)
}

func (r *Remote) Execute(ctx context.Context, cmd *command.Command) error {
	if err := cmd.Begin(); err != nil {
		return err
	}
	logger := lg.FromContext(ctx).With(
		lg.String("cmd", cmd.Name),
		lg.Stringer("id", cmd.ID),
		lg.String("host", r.Host),
	)

	rendered := r.Render(cmd)
	logger.Debug("spawning", lg.String("rendered", rendered))

	if r.opts.breakers == nil {
		res, err := r.run(ctx, logger, rendered)
		return record(logger, cmd, res, err)
	}

	var res command.Result
	_, err := r.opts.breakers.For(r.Host).Execute(func() (any, error) {
		var runErr error
		res, runErr = r.run(ctx, logger, rendered)
		return nil, runErr
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		now := time.Now()
		res = command.Result{ExitCode: -1, Rendered: rendered, Started: now, Finished: now}
		err = &FatalExecutionError{Host: r.Host, Rendered: rendered, Result: res, Cause: err}
	}
	return record(logger, cmd, res, err)
}

// run spawns rendered until it succeeds, fails for good, or the transient
// signature has been seen MaxRetries+1 times.
func (r *Remote) run(ctx context.Context, logger lg.Logger, rendered string) (command.Result, error) {
	var (
		last     command.Result
		attempts int
	)

	operation := func() error {
		attempts++
		res, err := spawn(ctx, &r.opts, rendered)
		res.Attempts = attempts
		last = res

		switch {
		case err != nil:
			return backoff.Permanent(&FatalExecutionError{Host: r.Host, Rendered: rendered, Result: res, Cause: err})
		case r.opts.classifier.IsTransient(res):
			return &TransientTransportError{Host: r.Host, Attempt: attempts, Result: res}
		case res.ExitCode != 0:
			return backoff.Permanent(&FatalExecutionError{Host: r.Host, Rendered: rendered, Result: res, Cause: exitStatus(res.ExitCode)})
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("transient transport failure, retrying",
			lg.Int("attempt", attempts),
			lg.Duration("wait", wait),
			lg.Err(err))
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.opts.retryDelay), MaxRetries),
		ctx,
	)
	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		return last, nil
	}

	var transient *TransientTransportError
	if errors.As(err, &transient) {
		return last, &RetryExhaustedError{Host: r.Host, Attempts: attempts, Result: last, Last: transient}
	}
	var fatal *FatalExecutionError
	if errors.As(err, &fatal) {
		return last, fatal
	}
	// context ended between attempts
	return last, &FatalExecutionError{Host: r.Host, Rendered: rendered, Result: last, Cause: err}
}
