package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/mapstate/internal/client"
	"github.com/alfredjeanlab/mapstate/internal/model"
	"github.com/alfredjeanlab/mapstate/internal/ui"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printDocument pretty-prints a stored state document.
func printDocument(w io.Writer, doc json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		return fmt.Errorf("formatting state: %w", err)
	}
	_, err := fmt.Fprintln(w, buf.String())
	return err
}

func printStateTable(w io.Writer, states []*client.State) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSIZE")
	for _, s := range states {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", ui.RenderAccent(s.ID), formatTime(s.CreatedAt), len(s.State))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d states\n", len(states))
}

func printSummaryTable(w io.Writer, states []model.RecordSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCREATED")
	for _, s := range states {
		name := s.Name
		if len(name) > 50 {
			name = name[:47] + "..."
		}
		created := s.CreatedAt
		fmt.Fprintf(tw, "%s\t%s\t%s\n", ui.RenderAccent(s.ID), name, formatTime(&created))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d states\n", len(states))
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ui.RenderMuted("-")
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
