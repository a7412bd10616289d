package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "CLUSTEREXEC"

// ErrCommandsFailed is returned by run when at least one command did not
// succeed. Its details were already printed.
var ErrCommandsFailed = errors.New("one or more commands failed")

// NewRootCmd builds the command tree. Every call gets its own viper instance.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "clusterexec",
		Short: "Run shell commands on cluster hosts in parallel",
		Long: `clusterexec runs one shell command locally or on a set of hosts over ssh,
with a bounded number of commands in flight. Remote commands source
<install-root>/cloudberry-env.sh before running.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringP("config", "c", "", "Path to YAML settings file")
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.PersistentFlags().String("log-format", "console", "Log format (json|console)")
	bindFlags(v, root, true, "config", "debug", "log-format")

	root.AddCommand(newRunCmd(v))
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		if !errors.Is(err, ErrCommandsFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// bindFlags ties each named flag to the viper key of the same name, which
// also makes it readable from CLUSTEREXEC_<NAME>.
func bindFlags(v *viper.Viper, cmd *cobra.Command, persistent bool, names ...string) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	for _, name := range names {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind %s flag: %v", name, err))
		}
	}
}
