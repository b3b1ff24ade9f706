package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/MEKXH/warden/internal/action"
	"github.com/MEKXH/warden/internal/config"
	"github.com/spf13/cobra"
)

func NewExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract [file]",
		Short: "List the actions found in a model reply",
		Long:  "Reads a model reply from a file or stdin and lists every action the extractor recognizes, in the order they would be tried.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExtract,
	}
	cmd.Flags().Bool("first", false, "Show only the action the supervisor would act on")
	return cmd
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	source := "-"
	if len(args) == 1 {
		source = args[0]
	}
	text, err := readSource(source, cmd.InOrStdin())
	if err != nil {
		return err
	}

	a, err := newApp(context.Background(), cfg, appOptions{Offline: true})
	if err != nil {
		return err
	}
	defer a.Close()

	first, _ := cmd.Flags().GetBool("first")
	var found []action.Candidate
	if first {
		found = []action.Candidate{a.supervisor.Extractor().Interpret(text)}
	} else {
		found = a.supervisor.Extractor().Extract(text)
	}
	printCandidates(os.Stdout, found)
	return nil
}

func printCandidates(w io.Writer, found []action.Candidate) {
	if len(found) == 0 {
		fmt.Fprintln(w, "No actions found.")
		return
	}
	rows := make([][]string, 0, len(found))
	for i, c := range found {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			string(c.Kind),
			c.ToolID,
			oneLine(c.Payload()),
			c.Source,
		})
	}
	renderTable(w, "Extracted actions", []column{
		{"#", 3}, {"KIND", 12}, {"TOOL", 16}, {"PAYLOAD", 48}, {"SOURCE", 12},
	}, rows)
}
