package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/callscope/callscope/internal/filter"
	"github.com/callscope/callscope/internal/search"
)

func newParseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse <text>",
		Short: "Parse search box text into a filter group",
		Long: "Parses search text such as 'call_ended_reason:error duration_seconds:>60' into the filter group " +
			"the search box would add. Output is json (default), yaml or table.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, _ := cmd.Flags().GetStringSlice("fields")
			exact, _ := cmd.Flags().GetBool("exact")
			caseSensitive, _ := cmd.Flags().GetBool("case-sensitive")

			group := newSearchParser().Parse(search.Query{
				Text:          strings.Join(args, " "),
				Fields:        fields,
				ExactMatch:    exact,
				CaseSensitive: caseSensitive,
			})

			return printGroup(newPrinter(outputFormat(cmd), cmd.OutOrStdout()), group)
		},
	}

	cmd.Flags().StringSlice("fields", []string{search.AllFields}, "fields a bare word searches")
	cmd.Flags().Bool("exact", false, "match whole values instead of substrings")
	cmd.Flags().Bool("case-sensitive", false, "carried for display only")

	return cmd
}

func printGroup(p *printer, group filter.Group) error {
	switch p.format {
	case "yaml":
		return p.yaml([]filter.Group{group})
	case "table":
		rows := make([][]string, 0, len(group.Rules))
		for _, r := range group.Rules {
			column := r.Column
			if r.JSONField != "" {
				column += "." + r.JSONField
			}

			rows = append(rows, []string{string(group.Logic), column, string(r.Operation), r.Value})
		}

		p.table([]string{"LOGIC", "COLUMN", "OPERATION", "VALUE"}, rows)

		return nil
	default:
		return p.json(group)
	}
}
