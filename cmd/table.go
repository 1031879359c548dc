package main

import (
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"repodocx/internal/archive"
	"repodocx/internal/job"
)

type column struct {
	title string
	align text.Align
}

var (
	artifactColumns = []column{
		{"#", text.AlignRight},
		{"Document", text.AlignLeft},
		{"Folder", text.AlignLeft},
	}
	retrievalColumns = []column{
		{"Document", text.AlignLeft},
		{"Saved as", text.AlignLeft},
		{"Bytes", text.AlignRight},
		{"Status", text.AlignLeft},
	}
)

// renderTable draws rows under the given columns; short rows are padded.
// Header titles are printed as written.
func renderTable(columns []column, rows [][]string) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	style := table.StyleRounded
	style.Format.Header = text.FormatDefault
	tw.SetStyle(style)

	header := make(table.Row, 0, len(columns))
	configs := make([]table.ColumnConfig, 0, len(columns))
	for i, col := range columns {
		header = append(header, col.title)
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: col.align, AlignHeader: text.AlignLeft})
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(columns))
		for i := range r {
			r[i] = ""
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}

func renderArtifacts(artifacts []job.ArtifactRef) string {
	rows := make([][]string, 0, len(artifacts))
	for i, a := range artifacts {
		rows = append(rows, []string{strconv.Itoa(i + 1), a.Filename, a.Folder})
	}
	return renderTable(artifactColumns, rows)
}

func renderRetrievals(results []archive.Result) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status := "saved"
		if r.Err != "" {
			status = "failed: " + r.Err
		}
		rows = append(rows, []string{r.Filename, r.Path, strconv.FormatInt(r.Bytes, 10), status})
	}
	return renderTable(retrievalColumns, rows)
}
