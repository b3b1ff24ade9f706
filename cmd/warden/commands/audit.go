package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/MEKXH/warden/internal/audit"
	"github.com/spf13/cobra"
)

func NewAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit events",
		RunE:  runAudit,
	}
	cmd.Flags().IntP("lines", "n", 20, "Number of events to show")
	cmd.Flags().String("task", "", "Only show events for this task id")
	return cmd
}

func runAudit(cmd *cobra.Command, args []string) error {
	_, workspace, err := loadWorkspace()
	if err != nil {
		return err
	}
	n, _ := cmd.Flags().GetInt("lines")
	taskID, _ := cmd.Flags().GetString("task")

	events, err := audit.Tail(workspace, n, taskID)
	if err != nil {
		return err
	}
	printAuditEvents(os.Stdout, events)
	return nil
}

func printAuditEvents(w io.Writer, events []audit.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No audit events.")
		return
	}
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		detail := ev.Action
		if ev.Reason != "" {
			detail += " (" + ev.Reason + ")"
		}
		rows = append(rows, []string{
			ev.Time.Local().Format("01-02 15:04:05"),
			ev.TaskID,
			ev.Type,
			ev.Result,
			oneLine(detail),
		})
	}
	renderTable(w, "Audit Log", []column{
		{"TIME", 14}, {"TASK", 13}, {"EVENT", 19}, {"RESULT", 18}, {"DETAIL", 50},
	}, rows)
}
