package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Dump agents, policies, and credentials from a running gateway",
}

func dumpJSON(cmd *cobra.Command, path string) error {
	client := newAdminClient(adminAddr, adminToken)
	var out any
	if err := client.do(cmd.Context(), "GET", path, nil, &out); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

var inventoryAgentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List registered agents",
	RunE:  func(cmd *cobra.Command, args []string) error { return dumpJSON(cmd, "/api/agents") },
}

var inventoryPoliciesCmd = &cobra.Command{
	Use:   "policies",
	Short: "List policy specs",
	RunE:  func(cmd *cobra.Command, args []string) error { return dumpJSON(cmd, "/api/admin/policies") },
}

var inventoryCredentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "List stored tool credentials (sealed, never plaintext)",
	RunE:  func(cmd *cobra.Command, args []string) error { return dumpJSON(cmd, "/api/admin/credentials") },
}

func init() {
	for _, c := range []*cobra.Command{inventoryAgentsCmd, inventoryPoliciesCmd, inventoryCredentialsCmd} {
		c.Flags().StringVar(&adminAddr, "addr", "http://localhost:8080", "gateway base URL")
		c.Flags().StringVar(&adminToken, "admin-token", os.Getenv("GATEWAY_ADMIN_TOKEN"), "admin bearer token")
	}
	inventoryCmd.AddCommand(inventoryAgentsCmd, inventoryPoliciesCmd, inventoryCredentialsCmd)
	rootCmd.AddCommand(inventoryCmd)
}
