// Command guardctl is the operator CLI for the mcp-guard gateway. It
// provisions sessions, mints and inspects bearer tokens, manages vault
// secrets, and reads persisted audit trails. It shares its
// configuration with the server: the same env file and MCP_GUARD_*
// variables apply.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/modelguard/mcp-guard/pkg/logger"
	"github.com/modelguard/mcp-guard/pkg/service/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "guardctl",
	Short: "Operate an mcp-guard gateway",
	Long: `guardctl manages the state an mcp-guard gateway runs on: persisted
sessions, bearer tokens, vault secrets, and audit trails.

Commands that touch bolt databases need the server stopped, or a copy
of the database; bolt files are single-process.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// cliLogger keeps library diagnostics out of normal CLI output.
func cliLogger() *slog.Logger {
	return logger.NewSlogLogger(logger.StderrOnlyConfig(slog.LevelWarn))
}

func Execute() error {
	rootCmd.AddCommand(vaultCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(auditCmd)
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to an env-format configuration file")
}

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
