package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/netscan/internal/db"
)

const defaultHistoryLimit = 20

var historyLimit int

// historyCmd represents the history command.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent sessions stored in the database",
	Example: `  netscan history
  netscan history --limit 5`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", defaultHistoryLimit, "Number of sessions to list")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return withDatabase(cmd.Context(), cfg, func(ctx context.Context, database *db.DB) error {
		sessions, err := db.NewSessionRepository(database).Recent(ctx, historyLimit)
		if err != nil {
			return err
		}
		return renderHistory(cmd.OutOrStdout(), sessions)
	})
}

func renderHistory(w io.Writer, sessions []db.SessionRow) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions found")
		return err
	}
	table := tablewriter.NewWriter(w)
	table.Header("Session", "Started", "Targets", "Ports", "Mode", "Status", "Live", "Open", "Errors")
	for _, s := range sessions {
		_ = table.Append([]string{
			s.ID.String(),
			s.StartedAt.Local().Format(time.DateTime),
			strings.Join(s.Targets, ","),
			s.PortSpec,
			s.ProbeMode,
			s.Status,
			strconv.Itoa(s.HostsLive),
			strconv.Itoa(s.PortsOpen),
			strconv.Itoa(s.Errors),
		})
	}
	return table.Render()
}
