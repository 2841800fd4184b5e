package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	adminAddr  string
	adminToken string
	chaosTool  string
	chaosMode  string
	chaosPct   int
)

var chaosCmd = &cobra.Command{
	Use:   "chaos",
	Short: "View or set per-tool chaos injection on a running gateway",
}

var chaosListCmd = &cobra.Command{
	Use:   "list",
	Short: "List current chaos settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAdminClient(adminAddr, adminToken)
		var settings []map[string]any
		if err := client.do(cmd.Context(), "GET", "/api/admin/chaos", nil, &settings); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(settings)
	},
}

var chaosSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set a tool's chaos mode and probability",
	RunE: func(cmd *cobra.Command, args []string) error {
		if chaosTool == "" || chaosMode == "" {
			return fmt.Errorf("--tool and --mode are required")
		}
		client := newAdminClient(adminAddr, adminToken)
		body := map[string]any{"tool": chaosTool, "mode": chaosMode, "pct": chaosPct}
		return client.do(cmd.Context(), "POST", "/api/admin/chaos", body, nil)
	},
}

var chaosClearCmd = &cobra.Command{
	Use:   "clear [tool]",
	Short: "Clear chaos injection for a tool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAdminClient(adminAddr, adminToken)
		return client.do(cmd.Context(), "DELETE", "/api/admin/chaos/"+args[0], nil, nil)
	},
}

func init() {
	for _, c := range []*cobra.Command{chaosListCmd, chaosSetCmd, chaosClearCmd} {
		c.Flags().StringVar(&adminAddr, "addr", "http://localhost:8080", "gateway base URL")
		c.Flags().StringVar(&adminToken, "admin-token", os.Getenv("GATEWAY_ADMIN_TOKEN"), "admin bearer token")
	}
	chaosSetCmd.Flags().StringVar(&chaosTool, "tool", "", "tool name (search, http_fetch, chat, send_mail)")
	chaosSetCmd.Flags().StringVar(&chaosMode, "mode", "", "timeout, error_500, or jitter")
	chaosSetCmd.Flags().IntVar(&chaosPct, "pct", 100, "probability percent (0-100)")

	chaosCmd.AddCommand(chaosListCmd, chaosSetCmd, chaosClearCmd)
	rootCmd.AddCommand(chaosCmd)
}
