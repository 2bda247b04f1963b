package main

import (
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/neurocorpus/embx-pipeline/orchestrator"
)

// summaryTable renders the per-conversation run summary for the terminal.
func summaryTable(summary *orchestrator.RunSummary) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle("run " + summary.RunID)
	tw.AppendHeader(table.Row{"conversation", "name", "tokens", "windows", "output"})
	for _, c := range summary.Conversations {
		tw.AppendRow(table.Row{c.ConversationID, c.Name, c.Tokens, c.Windows, c.OutputPath})
	}
	tw.AppendFooter(table.Row{"", "total", totalTokens(summary), "", strconv.Itoa(len(summary.Conversations)) + " files"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	return tw.Render()
}

func totalTokens(summary *orchestrator.RunSummary) int {
	n := 0
	for _, c := range summary.Conversations {
		n += c.Tokens
	}
	return n
}
