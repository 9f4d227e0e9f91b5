package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chathook/chathook-cli/internal/config"
	"github.com/chathook/chathook-cli/internal/iocontext"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage proxy credentials",
		Long:  "Store, inspect, and remove chathook proxy credentials in the system keyring",
	}

	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthLogoutCmd())
	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthProfilesCmd())
	cmd.AddCommand(newAuthUseCmd())

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var (
		url       string
		token     string
		accountID int
		kanbanDSN string
		profile   string
		skipCheck bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store proxy credentials",
		Long:  "Store the proxy URL, token, and account id in the system keyring.\nCredentials can also come from CHATHOOK_BASE_URL, CHATHOOK_PROXY_TOKEN,\nand CHATHOOK_ACCOUNT_ID without logging in.",
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			if url == "" {
				return fmt.Errorf("--url is required")
			}
			if token == "" {
				return fmt.Errorf("--token is required")
			}
			if accountID <= 0 {
				return fmt.Errorf("--account-id is required and must be positive")
			}

			account := config.Account{
				BaseURL:    strings.TrimSuffix(url, "/"),
				ProxyToken: token,
				AccountID:  accountID,
				KanbanDSN:  kanbanDSN,
			}

			if !skipCheck {
				client := newClientFactory().newClient(account)
				healthy, err := client.HealthCheck(cmdContext(cmd))
				if err != nil {
					return fmt.Errorf("proxy health check failed: %w (use --skip-check to store anyway)", err)
				}
				if !healthy {
					return fmt.Errorf("proxy reported unhealthy (use --skip-check to store anyway)")
				}
			}

			if profile != "" {
				if err := config.SaveProfile(profile, account); err != nil {
					return err
				}
				if err := config.SetCurrentProfile(profile); err != nil {
					return err
				}
			} else {
				if err := config.SaveAccount(account); err != nil {
					return err
				}
			}

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{
					"base_url":   account.BaseURL,
					"account_id": account.AccountID,
					"profile":    profile,
				})
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintf(ioStreams.Out, "Logged in to %s (account %d)\n", account.BaseURL, account.AccountID)
			return nil
		}),
	}

	cmd.Flags().StringVar(&url, "url", "", "Proxy base URL")
	cmd.Flags().StringVar(&token, "token", "", "Proxy bearer token")
	cmd.Flags().IntVar(&accountID, "account-id", 0, "Upstream account id")
	cmd.Flags().StringVar(&kanbanDSN, "kanban-dsn", "", "Postgres DSN for the kanban board (optional)")
	cmd.Flags().StringVar(&profile, "profile", "", "Store under a named profile")
	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip the proxy health check")

	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	var profile string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			if profile != "" {
				if err := config.DeleteProfile(profile); err != nil {
					return err
				}
			} else {
				if err := config.DeleteAccount(); err != nil {
					return err
				}
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintln(ioStreams.Out, "Logged out")
			return nil
		}),
	}

	cmd.Flags().StringVar(&profile, "profile", "", "Remove a specific named profile")

	return cmd
}

func newAuthStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show current credentials and proxy health",
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			client, account, err := getClientWithAccount()
			if err != nil {
				return err
			}

			healthy, healthErr := client.HealthCheck(cmdContext(cmd))
			refresh := account.RefreshOrDefault()

			status := map[string]any{
				"base_url":        account.BaseURL,
				"account_id":      account.AccountID,
				"healthy":         healthy,
				"refresh_seconds": refresh.IntervalSeconds,
				"refresh_enabled": refresh.Enabled,
			}
			if account.KanbanDSN != "" {
				status["kanban"] = "configured"
			}
			if healthErr != nil {
				status["health_error"] = healthErr.Error()
			}

			if isJSON(cmd) {
				return printJSON(cmd, status)
			}

			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintf(ioStreams.Out, "URL:      %s\n", account.BaseURL)
			_, _ = fmt.Fprintf(ioStreams.Out, "Account:  %d\n", account.AccountID)
			if healthErr != nil {
				_, _ = fmt.Fprintf(ioStreams.Out, "Health:   unreachable (%v)\n", healthErr)
			} else if healthy {
				_, _ = fmt.Fprintln(ioStreams.Out, "Health:   ok")
			} else {
				_, _ = fmt.Fprintln(ioStreams.Out, "Health:   degraded")
			}
			_, _ = fmt.Fprintf(ioStreams.Out, "Refresh:  every %ds (enabled=%t)\n", refresh.IntervalSeconds, refresh.Enabled)
			return nil
		}),
	}

	return cmd
}

func newAuthProfilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List stored credential profiles",
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			profiles, err := config.ListProfiles()
			if err != nil {
				return err
			}
			current, _ := config.CurrentProfile()

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{
					"profiles": profiles,
					"current":  current,
				})
			}

			if len(profiles) == 0 {
				printEmpty(cmd, "No profiles stored")
				return nil
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			for _, p := range profiles {
				marker := "  "
				if p == current {
					marker = "* "
				}
				_, _ = fmt.Fprintf(ioStreams.Out, "%s%s\n", marker, p)
			}
			return nil
		}),
	}

	return cmd
}

func newAuthUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <profile>",
		Short: "Switch the current profile",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			profile := args[0]
			if _, err := config.LoadProfile(profile); err != nil {
				return err
			}
			if err := config.SetCurrentProfile(profile); err != nil {
				return err
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintf(ioStreams.Out, "Switched to profile %s\n", profile)
			return nil
		}),
	}

	return cmd
}
