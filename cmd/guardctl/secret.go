package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

var secretBytes int

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Rotate vault secrets",
}

var secretRotateCmd = &cobra.Command{
	Use:   "rotate <key>",
	Short: "Replace a vault secret with a fresh random value",
	Long: `Generate a cryptographically random secret, store it under the key,
and print it. The previous value is overwritten.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		buf := make([]byte, secretBytes)
		if _, err := rand.Read(buf); err != nil {
			return err
		}
		next := hex.EncodeToString(buf)

		if err := openVault().Store(args[0], next); err != nil {
			return err
		}
		fmt.Println(next)
		return nil
	},
}

func init() {
	secretRotateCmd.Flags().IntVar(&secretBytes, "bytes", 32, "Random bytes in the new secret before hex encoding")
	secretCmd.AddCommand(secretRotateCmd)
}
