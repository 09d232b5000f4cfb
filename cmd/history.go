package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/teemow/invoicer/internal/ledger"
)

var (
	historyHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")).Padding(0, 1)
	historyCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	historyFailedStyle = historyCellStyle.Foreground(lipgloss.Color("#FF6B6B"))
	historyBorderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded invoice runs",
		Long: `List the runs recorded in the ledger, newest first. Failed runs that
left a copy behind in Drive are marked as orphaned so the copy can be cleaned up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), os.Stderr, nil)
			if err != nil {
				return err
			}
			defer closeApp(a)

			runs, err := a.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")

	return cmd
}

func printHistory(out io.Writer, runs []ledger.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, historyRow(r))
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(historyBorderStyle).
		Headers("STARTED", "DATE", "STATUS", "STAGE", "COPY", "DETAIL").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return historyHeaderStyle
			}
			if col == 2 && row >= 0 && row < len(runs) && runs[row].Status == ledger.StatusFailed {
				return historyFailedStyle
			}
			return historyCellStyle
		})

	fmt.Fprintln(out, t.String())
}

func historyRow(r ledger.Run) []string {
	status := string(r.Status)
	if r.Orphaned() {
		status += " (orphaned)"
	}

	copyRef := r.CopyName
	if r.CopyID != "" {
		copyRef = fmt.Sprintf("%s (%s)", r.CopyName, r.CopyID)
	}

	detail := r.Path
	switch {
	case r.Error != "":
		detail = r.Error
	case r.MessageID != "":
		detail = "message " + r.MessageID
	}

	return []string{
		r.StartedAt.Local().Format("2006-01-02 15:04"),
		r.Date,
		status,
		r.Stage,
		copyRef,
		detail,
	}
}
