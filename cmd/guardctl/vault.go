package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modelguard/mcp-guard/pkg/infrastructure/vault"
)

// openVault builds a vault on the configured keyring service. The
// gateway's credential tools key entries as "<user>:<service>"; the
// vault itself accepts any key.
func openVault() *vault.Vault {
	return vault.New(vault.Config{
		ServiceName:      cfg.VaultService,
		FallbackToMemory: cfg.VaultFallback,
	}, cliLogger())
}

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage secrets in the gateway vault",
}

var vaultSetCmd = &cobra.Command{
	Use:   "set <key> <secret>",
	Short: "Store a secret under a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v := openVault()
		if err := v.Store(args[0], args[1]); err != nil {
			return err
		}
		backend := "keyring"
		if !v.IsUsingKeyring() {
			backend = "memory"
		}
		fmt.Printf("stored %q (%s)\n", args[0], backend)
		if backend == "memory" {
			fmt.Println("warning: the in-memory store does not outlive this process")
		}
		return nil
	},
}

var vaultGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the secret stored under a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := openVault().Retrieve(args[0])
		if err != nil {
			return err
		}
		fmt.Println(secret)
		return nil
	},
}

var vaultDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove the secret stored under a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		removed, err := openVault().Delete(args[0])
		if err != nil {
			return err
		}
		if !removed {
			fmt.Printf("no secret stored under %q\n", args[0])
			return nil
		}
		fmt.Printf("deleted %q\n", args[0])
		return nil
	},
}

var vaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List keys held in the in-memory tier",
	Long: `List the keys of in-memory entries. OS keyrings cannot be enumerated,
so keys stored there do not appear; on a keyring-backed vault this
prints nothing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys := openVault().ListKeys()
		if len(keys) == 0 {
			fmt.Println("no enumerable entries")
			return nil
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	},
}

var vaultStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report which backend the vault is using",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := openVault()
		// A write probe is the only reliable keyring check.
		probeErr := v.Store("guardctl:probe", "ok")
		if probeErr == nil {
			_, _ = v.Delete("guardctl:probe")
		}

		fmt.Printf("service:  %s\n", cfg.VaultService)
		if v.IsUsingKeyring() {
			fmt.Println("backend:  OS keyring")
		} else {
			fmt.Println("backend:  in-memory (keyring unavailable)")
		}
		fmt.Printf("fallback: %t\n", cfg.VaultFallback)
		if probeErr != nil {
			return probeErr
		}
		return nil
	},
}

func init() {
	vaultCmd.AddCommand(vaultSetCmd)
	vaultCmd.AddCommand(vaultGetCmd)
	vaultCmd.AddCommand(vaultDeleteCmd)
	vaultCmd.AddCommand(vaultListCmd)
	vaultCmd.AddCommand(vaultStatusCmd)
}
