package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/modelguard/mcp-guard/pkg/domain/security"
	"github.com/modelguard/mcp-guard/pkg/service/auth"
)

var (
	tokenUser       string
	tokenSessionID  string
	tokenScopes     []string
	tokenTTL        time.Duration
	tokenNewSession bool
	tokenVerify     bool
)

// newAuthenticator mirrors the server's token settings so minted
// tokens verify against a gateway running on the same configuration.
func newAuthenticator() (*auth.Authenticator, error) {
	if err := cfg.RequireSigningSecret(); err != nil {
		return nil, err
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = cfg.ServerName
	}
	ttl := tokenTTL
	if ttl <= 0 {
		ttl = cfg.TokenExpiry
	}
	return auth.New(auth.Config{
		SigningSecret: cfg.SigningSecret,
		Issuer:        issuer,
		TokenExpiry:   ttl,
	})
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint and inspect bearer tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Mint a signed bearer token",
	Long: `Mint a token signed with the configured secret. The token must be
bound to a session: pass --session-id for an existing one, or
--new-session to provision one in the store in the same step.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUser == "" {
			return fmt.Errorf("--user is required")
		}
		if tokenNewSession && tokenSessionID != "" {
			return fmt.Errorf("--new-session and --session-id are mutually exclusive")
		}
		if !tokenNewSession && tokenSessionID == "" {
			return fmt.Errorf("one of --session-id or --new-session is required")
		}

		authenticator, err := newAuthenticator()
		if err != nil {
			return err
		}

		sessionID := tokenSessionID
		if tokenNewSession {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			now := time.Now()
			sess := security.Session{
				ID:        uuid.NewString(),
				UserID:    tokenUser,
				CreatedAt: now,
				ExpiresAt: now.Add(cfg.SessionExpiry),
			}
			if err := store.Create(cmd.Context(), sess); err != nil {
				return err
			}
			sessionID = sess.ID
			fmt.Fprintf(os.Stderr, "session %s created for %s\n", sessionID, tokenUser)
		} else if cfg.StorePath != "" {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			if _, err := store.Get(cmd.Context(), sessionID); err != nil {
				fmt.Fprintf(os.Stderr, "warning: session %s is not in the store; the token will be rejected until it exists\n", sessionID)
			}
		}

		token, err := authenticator.IssueToken(tokenUser, sessionID, tokenScopes)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var tokenInspectCmd = &cobra.Command{
	Use:   "inspect <token>",
	Short: "Decode a token's claims",
	Long: `Decode a token and print its claims. Without --verify the signature
is not checked and the output proves nothing about the token's origin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := auth.Decode(args[0])
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))

		if exp := payload.ExpiresAt; exp > 0 {
			expiry := time.Unix(exp, 0)
			if time.Now().After(expiry) {
				fmt.Printf("expired %s\n", expiry.Format(time.RFC3339))
			} else {
				fmt.Printf("expires %s\n", expiry.Format(time.RFC3339))
			}
		}

		if tokenVerify {
			authenticator, err := newAuthenticator()
			if err != nil {
				return err
			}
			if _, err := authenticator.VerifyToken(args[0]); err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}
			fmt.Println("signature, issuer, expiry, and payload shape verified")
		}
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenUser, "user", "", "User the token authenticates")
	tokenIssueCmd.Flags().StringVar(&tokenSessionID, "session-id", "", "Existing session to bind the token to")
	tokenIssueCmd.Flags().BoolVar(&tokenNewSession, "new-session", false, "Provision a session in the store and bind to it")
	tokenIssueCmd.Flags().StringSliceVar(&tokenScopes, "scope", nil, "Scopes to grant (default read,write)")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (defaults to the configured expiry)")
	tokenInspectCmd.Flags().BoolVar(&tokenVerify, "verify", false, "Also verify the token against the configured secret")

	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenInspectCmd)
}
