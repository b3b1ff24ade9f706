package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/MEKXH/warden/internal/resultlog"
	"github.com/spf13/cobra"
)

func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show executed actions from the result log",
		RunE:  runHistory,
	}
	cmd.Flags().String("task", "", "Only show results for this task id")
	cmd.Flags().String("search", "", "Only show results whose command or output contains this text")
	cmd.Flags().Int("limit", 50, "Maximum number of results")

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every stored result",
		RunE:  runHistoryClear,
	})
	return cmd
}

func openResultLog() (*resultlog.Store, error) {
	cfg, _, err := loadWorkspace()
	if err != nil {
		return nil, err
	}
	path := cfg.ResultLogPath()
	if path == "" {
		return nil, fmt.Errorf("result log is disabled (supervisor.result_log is empty)")
	}
	return resultlog.Open(path)
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := openResultLog()
	if err != nil {
		return err
	}
	defer store.Close()

	q := resultlog.Query{}
	q.TaskID, _ = cmd.Flags().GetString("task")
	q.Search, _ = cmd.Flags().GetString("search")
	q.Limit, _ = cmd.Flags().GetInt("limit")

	records, err := store.Records(context.Background(), q)
	if err != nil {
		return err
	}
	printRecords(os.Stdout, records)
	return nil
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	store, err := openResultLog()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Clear(context.Background()); err != nil {
		return err
	}
	fmt.Printf("Cleared %s\n", store.Path())
	return nil
}

func printRecords(w io.Writer, records []resultlog.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No results recorded.")
		return
	}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			fmt.Sprintf("%d", rec.Seq),
			rec.Timestamp.Local().Format("01-02 15:04:05"),
			rec.TaskID,
			rec.Tool,
			oneLine(rec.Command),
			status(successWord(rec.Success), rec.Success),
			fmt.Sprintf("%dms", rec.DurationMs),
		})
	}
	renderTable(w, "Result Log", []column{
		{"SEQ", 5}, {"TIME", 14}, {"TASK", 13}, {"TOOL", 16}, {"COMMAND", 40}, {"RESULT", 7}, {"DURATION", 9},
	}, rows)
}
