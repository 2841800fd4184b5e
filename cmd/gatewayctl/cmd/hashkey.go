package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [admin-token]",
	Short: "Generate a SHA-256 hash for an admin bearer token",
	Long: `Generate the SHA-256 fast-path hash of an admin bearer token, for
seeding internal/adminauth credential records.

Example:
  gatewayctl hash-key "my-admin-token"
  # Output: sha256:05a685...

The token will appear in shell history; consider an environment variable
instead:
  gatewayctl hash-key "$ADMIN_TOKEN"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		hash := sha256.Sum256([]byte(args[0]))
		fmt.Printf("sha256:%s\n", hex.EncodeToString(hash[:]))
	},
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}
