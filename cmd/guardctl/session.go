package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/modelguard/mcp-guard/pkg/domain/security"
	persistence "github.com/modelguard/mcp-guard/pkg/infrastructure/persistence/session"
)

var (
	sessionUser string
	sessionTTL  time.Duration
)

// openStore opens the configured session store. The server restores
// sessions from it on startup, so entries written here become live on
// the next start.
func openStore() (*persistence.BoltStore, error) {
	if cfg.StorePath == "" {
		return nil, fmt.Errorf("no session store configured (set MCP_GUARD_STORE_PATH or --config)")
	}
	return persistence.NewBoltStore(cfg.StorePath, cliLogger())
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage persisted gateway sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision a session in the store",
	Long: `Provision a session for a user. The gateway picks it up on its next
start; pair it with "guardctl token issue --session-id" to hand out a
working credential.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if sessionUser == "" {
			return fmt.Errorf("--user is required")
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ttl := sessionTTL
		if ttl <= 0 {
			ttl = cfg.SessionExpiry
		}
		now := time.Now()
		sess := security.Session{
			ID:        uuid.NewString(),
			UserID:    sessionUser,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		if err := store.Create(cmd.Context(), sess); err != nil {
			return err
		}

		fmt.Printf("session %s created for %s, expires %s\n",
			sess.ID, sess.UserID, sess.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List persisted sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var sessions []security.Session
		if sessionUser != "" {
			sessions, err = store.ListByUser(cmd.Context(), sessionUser)
		} else {
			sessions, err = store.List(cmd.Context())
		}
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("no sessions")
			return nil
		}

		now := time.Now()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSER\tCREATED\tEXPIRES\tSTATE")
		for _, sess := range sessions {
			state := "live"
			if !sess.ExpiresAt.After(now) {
				state = "expired"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				sess.ID, sess.UserID,
				sess.CreatedAt.Format(time.RFC3339),
				sess.ExpiresAt.Format(time.RFC3339),
				state)
		}
		return w.Flush()
	},
}

var sessionDestroyCmd = &cobra.Command{
	Use:   "destroy <session-id>",
	Short: "Remove a session from the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("session %s destroyed\n", args[0])
		return nil
	},
}

func init() {
	sessionCreateCmd.Flags().StringVar(&sessionUser, "user", "", "User the session belongs to")
	sessionCreateCmd.Flags().DurationVar(&sessionTTL, "ttl", 0, "Session lifetime (defaults to the configured expiry)")
	sessionLsCmd.Flags().StringVar(&sessionUser, "user", "", "Only list sessions for this user")

	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionDestroyCmd)
}
