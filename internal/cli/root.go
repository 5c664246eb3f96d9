// Package cli wires the cobra command tree. Everything except `run`
// is a thin client for the admin API of a running instance.
package cli

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rotor",
		Short:         "Rotating multi-account dispatcher for rate-limited channels",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	var addr string
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:8321", "admin API address of a running instance")

	cl := func() *client { return newClient(addr) }

	root.AddCommand(
		newRunCmd(),
		newStatusCmd(cl),
		newSendCmd(cl),
		newJoinCmd(cl),
		newAccountsCmd(cl),
		newAutoSendCmd(cl),
		newRotationCmd(cl),
		newTargetsCmd(cl),
		newHistoryCmd(cl),
	)
	return root
}
