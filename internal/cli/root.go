// Package cli wires the getkeys command line: the billing API server and the
// subscription commands driving a subscription.Manager.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the CLI.
func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree. Each call returns independent state.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "getkeys",
		Short:         "Manage get-keys subscriptions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.apiURL, "api-url", "", "billing API base URL (env GETKEYS_API_URL)")
	flags.StringVar(&opts.userID, "user", "", "user id to act for (env GETKEYS_USER)")
	flags.BoolVar(&opts.demo, "demo", false, "use an in-memory billing backend")
	flags.StringVar(&opts.demoPlan, "demo-plan", "", "seed the demo backend with an active subscription on this plan")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (env LOG_LEVEL)")
	flags.StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load (default .env)")

	root.AddCommand(
		newServeCmd(opts),
		newStatusCmd(opts),
		newPlansCmd(opts),
		newMethodsCmd(opts),
		newSubscribeCmd(opts),
		newChangeCmd(opts),
		newCancelCmd(opts),
		newReactivateCmd(opts),
	)
	return root
}
