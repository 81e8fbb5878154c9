package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/callscope/callscope/internal/storage"
)

// printer handles json, yaml or table output.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(format string, w io.Writer) *printer {
	return &printer{format: format, w: w}
}

// json marshals v as indented JSON. Column expressions such as
// metadata->>intent are printed verbatim.
func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)

	return enc.Encode(v)
}

func (p *printer) yaml(v any) error {
	enc := yaml.NewEncoder(p.w)
	enc.SetIndent(2)

	if err := enc.Encode(v); err != nil {
		return err
	}

	return enc.Close()
}

// table writes rows using tabwriter. header is the first row.
func (p *printer) table(header []string, rows [][]string) {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)

	for i, h := range header {
		if i > 0 {
			_, _ = fmt.Fprint(tw, "\t")
		}

		_, _ = fmt.Fprint(tw, h)
	}

	_, _ = fmt.Fprintln(tw)

	for _, row := range rows {
		for i, col := range row {
			if i > 0 {
				_, _ = fmt.Fprint(tw, "\t")
			}

			_, _ = fmt.Fprint(tw, col)
		}

		_, _ = fmt.Fprintln(tw)
	}

	_ = tw.Flush()
}

func (p *printer) calls(calls []storage.CallLog) error {
	if p.format != "table" {
		return p.json(calls)
	}

	rows := make([][]string, 0, len(calls))
	for _, c := range calls {
		rows = append(rows, []string{
			c.CallID,
			c.CreatedAt.Format(time.RFC3339),
			str(c.CallEndedReason),
			num(c.DurationSeconds),
			num(c.TotalCost),
			num(c.AvgLatency),
		})
	}

	p.table([]string{"CALL ID", "CREATED", "ENDED REASON", "DURATION", "COST", "LATENCY"}, rows)

	return nil
}

func str(s *string) string {
	if s == nil {
		return "-"
	}

	return *s
}

func num(v *float64) string {
	if v == nil {
		return "-"
	}

	return strconv.FormatFloat(*v, 'f', -1, 64)
}
