package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(cl func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show rotation state and per-account cooldowns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out map[string]any
			if err := cl().getJSON(cmd.Context(), "/v1/status", &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newSendCmd(cl func() *client) *cobra.Command {
	var content string
	cmd := &cobra.Command{
		Use:   "send <account>",
		Short: "Attempt a single send from one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"account": args[0]}
			if content != "" {
				body["content"] = content
			}
			var out map[string]any
			if err := cl().postJSON(cmd.Context(), "/v1/send", body, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&content, "content", "m", "", "message body (defaults to the message pool)")
	return cmd
}

func newJoinCmd(cl func() *client) *cobra.Command {
	var acctName string
	cmd := &cobra.Command{
		Use:   "join <invite>",
		Short: "Redeem an invite on every account (or one with --account)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"invite": args[0]}
			if acctName != "" {
				body["account"] = acctName
			}
			var out []map[string]any
			if err := cl().postJSON(cmd.Context(), "/v1/join", body, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&acctName, "account", "", "only this account")
	return cmd
}

func newAccountsCmd(cl func() *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage accounts in a running instance",
	}
	for _, verb := range []string{"enable", "disable"} {
		verb := verb
		cmd.AddCommand(&cobra.Command{
			Use:   verb + " <account>",
			Short: fmt.Sprintf("%s an account", verb),
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				var out map[string]any
				path := "/v1/accounts/" + args[0] + "/" + verb
				if err := cl().postJSON(c.Context(), path, nil, &out); err != nil {
					return err
				}
				return printJSON(c.OutOrStdout(), out)
			},
		})
	}
	return cmd
}

func newAutoSendCmd(cl func() *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autosend",
		Short: "Control per-account auto-send loops",
	}
	for _, verb := range []string{"start", "stop"} {
		verb := verb
		cmd.AddCommand(&cobra.Command{
			Use:   verb + " <account>",
			Short: verb + " auto-send for an account",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				var out map[string]any
				path := "/v1/autosend/" + args[0] + "/" + verb
				if err := cl().postJSON(c.Context(), path, nil, &out); err != nil {
					return err
				}
				return printJSON(c.OutOrStdout(), out)
			},
		})
	}
	return cmd
}

func newRotationCmd(cl func() *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotation",
		Short: "Control the rotation loop",
	}
	for _, verb := range []string{"start", "stop"} {
		verb := verb
		cmd.AddCommand(&cobra.Command{
			Use:   verb,
			Short: verb + " rotation",
			RunE: func(c *cobra.Command, _ []string) error {
				var out map[string]any
				if err := cl().postJSON(c.Context(), "/v1/rotation/"+verb, nil, &out); err != nil {
					return err
				}
				return printJSON(c.OutOrStdout(), out)
			},
		})
	}
	return cmd
}

func newTargetsCmd(cl func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List targets reachable through the first session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out []map[string]any
			if err := cl().getJSON(cmd.Context(), "/v1/targets", &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newHistoryCmd(cl func() *client) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent send outcomes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out []map[string]any
			path := fmt.Sprintf("/v1/history?limit=%d", limit)
			if err := cl().getJSON(cmd.Context(), path, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max records")
	return cmd
}
