package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/modelguard/mcp-guard/pkg/infrastructure/audit"
)

var (
	auditDay    string
	auditUser   string
	auditAction string
	auditJSON   bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Read persisted audit trails",
}

var auditShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the audit entries persisted for one UTC day",
	Long: `Print the entries the bolt audit sink persisted for a day. The sink
database is single-process; run this against a stopped gateway or a
copy of the file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.AuditDBPath == "" {
			return fmt.Errorf("no audit database configured (set MCP_GUARD_AUDIT_DB or --config)")
		}

		day := time.Now().UTC()
		if auditDay != "" {
			parsed, err := time.Parse("2006-01-02", auditDay)
			if err != nil {
				return fmt.Errorf("invalid --day %q, want YYYY-MM-DD: %w", auditDay, err)
			}
			day = parsed
		}

		sink, err := audit.NewBoltSink(cfg.AuditDBPath)
		if err != nil {
			return err
		}
		defer sink.Close()

		entries, err := sink.EntriesForDay(day)
		if err != nil {
			return err
		}

		shown := 0
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		if !auditJSON {
			fmt.Fprintln(w, "TIME\tACTION\tRESULT\tUSER\tRESOURCE")
		}
		for _, entry := range entries {
			if auditUser != "" && entry.UserID != auditUser {
				continue
			}
			if auditAction != "" && entry.Action != auditAction {
				continue
			}
			shown++
			if auditJSON {
				line, err := json.Marshal(entry)
				if err != nil {
					return err
				}
				fmt.Println(string(line))
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				entry.Timestamp.Format(time.RFC3339),
				entry.Action, entry.Result, entry.UserID, entry.Resource)
		}
		if !auditJSON {
			if err := w.Flush(); err != nil {
				return err
			}
		}
		if shown == 0 {
			fmt.Printf("no entries for %s\n", day.Format("2006-01-02"))
		}
		return nil
	},
}

func init() {
	auditShowCmd.Flags().StringVar(&auditDay, "day", "", "UTC day to read (YYYY-MM-DD, default today)")
	auditShowCmd.Flags().StringVar(&auditUser, "user", "", "Only show entries for this user")
	auditShowCmd.Flags().StringVar(&auditAction, "action", "", "Only show entries with this action")
	auditShowCmd.Flags().BoolVar(&auditJSON, "json", false, "Print entries as JSON lines")

	auditCmd.AddCommand(auditShowCmd)
}
