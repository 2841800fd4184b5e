package cmd

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/agentgate/gateway/internal/configmgr"
)

// requiredConfigKeys are validated by "config verify" and by serve's boot
// sequence, both through validateConfigValues. DATABASE_URL accepts
// the sentinel "memory" (no durable backend) or a sqlite file path;
// REDIS_URL accepts "disabled" or a redis:// URL.
var requiredConfigKeys = []string{
	"PORT",
	"DATABASE_URL",
	"REDIS_URL",
	"TOKEN_HMAC_SECRET",
	"SECRETS_BACKEND",
	"HTTP_TIMEOUT_MS",
	"DEFAULT_TIMEZONE",
	"KEK_BASE64",
}

// configTemplate fixes the KEY=VALUE file's on-disk key ordering.
var configTemplate = configmgr.Template{
	RequiredKeys: requiredConfigKeys,
	FlagKeys:     []string{"UPSTREAM_MODE", "DEMO_MODE", "CHAOS_ENABLED"},
}

func newConfigManager() (*configmgr.Manager, error) {
	return configmgr.New(configmgr.Config{
		Path:       configPath,
		BackupsDir: filepath.Join(stateDir, "backups"),
		LocksDir:   filepath.Join(stateDir, "locks"),
		Template:   configTemplate,
	})
}

// validateConfigValues checks that every required key is present and
// non-empty; struct-tag validation (go-playground/validator) runs over a
// thin wrapper struct so format rules live in tags rather than ad-hoc
// string checks.
type requiredFields struct {
	Port            string `validate:"required,numeric"`
	DatabaseURL     string `validate:"required"`
	RedisURL        string `validate:"required"`
	TokenHMACSecret string `validate:"required,min=16"`
	SecretsBackend  string `validate:"required,oneof=memory sqlite"`
	HTTPTimeoutMs   string `validate:"required,numeric"`
	DefaultTimezone string `validate:"required"`
	KEKBase64       string `validate:"required,len=44,base64"`
}

var structValidator = validator.New()

func validateConfigValues(values map[string]string) error {
	for _, key := range requiredConfigKeys {
		if values[key] == "" {
			return fmt.Errorf("missing required key %s", key)
		}
	}
	fields := requiredFields{
		Port:            values["PORT"],
		DatabaseURL:     values["DATABASE_URL"],
		RedisURL:        values["REDIS_URL"],
		TokenHMACSecret: values["TOKEN_HMAC_SECRET"],
		SecretsBackend:  values["SECRETS_BACKEND"],
		HTTPTimeoutMs:   values["HTTP_TIMEOUT_MS"],
		DefaultTimezone: values["DEFAULT_TIMEZONE"],
		KEKBase64:       values["KEK_BASE64"],
	}
	if err := structValidator.Struct(fields); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	kek, err := base64.StdEncoding.DecodeString(values["KEK_BASE64"])
	if err != nil || len(kek) != 32 {
		return errors.New("KEK_BASE64 must decode to exactly 32 bytes")
	}
	if _, err := time.LoadLocation(values["DEFAULT_TIMEZONE"]); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE: %w", err)
	}
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect, verify, rollback, or prune the process config",
}

var configVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Read the config file and check required keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newConfigManager()
		if err != nil {
			return err
		}
		values, err := mgr.ReadConfig()
		if err != nil {
			return err
		}
		if err := validateConfigValues(values); err != nil {
			fmt.Printf("invalid: %v\n", err)
			return exitCode(2)
		}
		fmt.Println("ok")
		return nil
	},
}

var configRollbackCmd = &cobra.Command{
	Use:   "rollback [backup-id]",
	Short: "Roll the config file back to a prior backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newConfigManager()
		if err != nil {
			return err
		}
		if err := mgr.RollbackConfig(args[0]); err != nil {
			if errors.Is(err, configmgr.ErrLockTimeout) {
				fmt.Printf("rollback failed: %v\n", err)
				return exitCode(3)
			}
			return err
		}
		return nil
	},
}

var configListBackupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List config backups",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newConfigManager()
		if err != nil {
			return err
		}
		backups, err := mgr.ListBackups()
		if err != nil {
			return err
		}
		for _, b := range backups {
			fmt.Printf("%s\t%s\t%s\t%d bytes\n", b.ID, b.Timestamp.Format("2006-01-02T15:04:05Z"), b.Reason, b.Size)
		}
		return nil
	},
}

var configVerifyBackupCmd = &cobra.Command{
	Use:   "verify-backup [backup-id]",
	Short: "Recompute a backup's checksum against its metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newConfigManager()
		if err != nil {
			return err
		}
		ok, err := mgr.VerifyBackup(args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("corrupt")
			return exitCode(2)
		}
		fmt.Println("ok")
		return nil
	},
}

var configPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove old backups, keeping the most recent N",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newConfigManager()
		if err != nil {
			return err
		}
		removed, err := mgr.CleanupBackups(configmgr.DefaultBackupsToKeep)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d backups\n", removed)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configVerifyCmd, configRollbackCmd, configListBackupsCmd, configVerifyBackupCmd, configPruneCmd)
	rootCmd.AddCommand(configCmd)
}
