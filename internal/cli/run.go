package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andrej220/clusterexec/internal/lg"
	"github.com/andrej220/clusterexec/pkg/command"
	"github.com/andrej220/clusterexec/pkg/config"
	"github.com/andrej220/clusterexec/pkg/config/filestore"
	"github.com/andrej220/clusterexec/pkg/executor"
	"github.com/andrej220/clusterexec/pkg/workerpool"
)

const serviceName = "clusterexec"

type runOptions struct {
	hosts   []string
	env     []string
	stdin   string
	breaker bool
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [flags] -- <command...>",
		Short: "Run a command locally or on every --host",
		Example: `  clusterexec run -- ls /tmp
  clusterexec run --host sdw1 --host sdw2 --env PGPORT=6000 -- gpstate -s`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, v, opts, strings.Join(args, " "), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&opts.hosts, "host", "H", nil, "Destination host, repeatable; none runs locally")
	f.StringArrayVarP(&opts.env, "env", "e", nil, "KEY=VALUE propagated to the command, repeatable")
	f.StringVar(&opts.stdin, "stdin", "", "Payload fed to the command's standard input")
	f.BoolVar(&opts.breaker, "breaker", false, "Stop contacting a host after repeated connection failures")
	f.IntP("workers", "w", config.DefaultWorkers, "Maximum commands running at once")
	f.String("install-root", "", "Install root on remote hosts (default $GPHOME)")
	f.Duration("retry-delay", config.DefaultRetryDelay, "Delay between ssh connection retries")
	f.Duration("timeout", 0, "Per-attempt timeout, 0 for none")
	bindFlags(v, cmd, false, "workers", "install-root", "retry-delay", "timeout")
	return cmd
}

// loadSettings layers the settings file, environment and flags.
func loadSettings(v *viper.Viper, remote bool) (*config.Settings, error) {
	s := config.NewSettings()
	if path := v.GetString("config"); path != "" {
		store := filestore.New(path)
		if err := store.Load(s); err != nil {
			return nil, err
		}
		s.ApplyDefaults()
	}
	if v.IsSet("workers") {
		s.Workers = v.GetInt("workers")
	}
	if v.IsSet("install-root") {
		s.InstallRoot = v.GetString("install-root")
	}
	if v.IsSet("retry-delay") {
		s.RetryDelay = v.GetDuration("retry-delay")
	}
	if v.GetBool("debug") {
		s.Log.Debug = true
	}
	if v.IsSet("log-format") || v.GetString("config") == "" {
		s.Log.Format = v.GetString("log-format")
	}

	validate := s.ValidateLocal
	if remote {
		validate = s.Validate
	}
	if err := validate(); err != nil {
		return nil, err
	}
	s.Apply()
	return s, nil
}

func parseEnv(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, val, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --env %q, expected KEY=VALUE", pair)
		}
		env[k] = val
	}
	return env, nil
}

func buildCommands(cmdStr string, opts *runOptions, env map[string]string) []*command.Command {
	hosts := opts.hosts
	if len(hosts) == 0 {
		hosts = []string{""}
	}
	cmds := make([]*command.Command, 0, len(hosts))
	for _, host := range hosts {
		var copts []command.Option
		name := "localhost"
		if host != "" {
			copts = append(copts, command.WithRemote(host))
			name = host
		}
		if opts.stdin != "" {
			copts = append(copts, command.WithStdin(opts.stdin))
		}
		for k, val := range env {
			copts = append(copts, command.WithEnv(k, val))
		}
		cmds = append(cmds, command.New(name, cmdStr, copts...))
	}
	return cmds
}

func run(ctx context.Context, v *viper.Viper, opts *runOptions, cmdStr string, stdout, stderr io.Writer) error {
	env, err := parseEnv(opts.env)
	if err != nil {
		return err
	}
	settings, err := loadSettings(v, len(opts.hosts) > 0)
	if err != nil {
		return err
	}

	logger := lg.New(&lg.Config{ServiceName: serviceName, Debug: settings.Log.Debug, Format: settings.Log.Format})
	defer logger.Sync()
	ctx = lg.Attach(ctx, logger)

	execOpts := []executor.Option{executor.WithRetryDelay(settings.RetryDelay)}
	if timeout := v.GetDuration("timeout"); timeout > 0 {
		execOpts = append(execOpts, executor.WithTimeout(timeout))
	}
	if opts.breaker {
		execOpts = append(execOpts, executor.WithBreakers(executor.NewBreakers(executor.DefaultBreakerSettings())))
	}

	pool := workerpool.NewPool(ctx, settings.Workers,
		workerpool.WithLogger(logger),
		workerpool.WithResolver(executor.NewResolver(execOpts...)))

	cmds := buildCommands(cmdStr, opts, env)
	for _, cmd := range cmds {
		if err := pool.Submit(cmd); err != nil {
			pool.Drain()
			return fmt.Errorf("submit %s: %w", cmd.Name, err)
		}
	}

	start := time.Now()
	done := pool.AwaitAll()
	failed := pool.CheckResults()
	pool.Drain()
	logger.Debug("All commands finished", lg.Int("commands", len(done)), lg.Duration("elapsed", time.Since(start)))

	for _, cmd := range cmds {
		printResult(stdout, stderr, cmd)
	}
	if failed != nil {
		return ErrCommandsFailed
	}
	return nil
}

func printResult(stdout, stderr io.Writer, cmd *command.Command) {
	res, err := cmd.Result()
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cmd.Name, err)
		return
	}
	fmt.Fprintf(stdout, "%s: exit=%d\n", cmd.Name, res.ExitCode)
	if res.Stdout != "" {
		fmt.Fprint(stdout, withNewline(res.Stdout))
	}
	if res.Stderr != "" {
		fmt.Fprint(stderr, withNewline(res.Stderr))
	}
	if cerr := cmd.Err(); cerr != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cmd.Name, cerr)
	}
}

func withNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
