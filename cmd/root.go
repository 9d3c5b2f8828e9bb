package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/giantswarm/kubecontexts/internal/logging"
)

// rootCmd represents the base command for the kubecontexts application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "kubecontexts",
	Short: "Multi-context Kubernetes state sync engine",
	Long: `kubecontexts watches every context of your kubeconfig at once. It probes
each cluster's reachability, checks which resources you may watch through
SelfSubjectAccessReviews, runs informers for the permitted kinds and serves
the aggregated health, permission and resource count views over HTTP.

When run without subcommands, it starts the server (equivalent to 'kubecontexts serve').`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd)
	},
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "kubecontexts version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStatusCmd())

	rootCmd.PersistentFlags().String("config", "", "Config file (YAML); flags and KUBECONTEXTS_* environment variables override it")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text or json")
}

// setupLogging installs the process logger and routes client-go's klog
// output through it.
func setupLogging(cmd *cobra.Command) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cmd.ErrOrStderr(), v.GetString("log-format"), v.GetBool("debug"))
	slog.SetDefault(logger)
	logging.RouteKlog(logger)
	return nil
}
