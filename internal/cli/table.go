// Package cli holds output helpers shared by the command line tools.
package cli

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

// ColumnAlignment selects the alignment of one table column.
type ColumnAlignment int

// Column alignments
const (
	AlignLeft ColumnAlignment = iota
	AlignRight
)

// RenderTable renders rows under headers. Short rows are padded.
func RenderTable(headers []string, rows [][]string, aligns []ColumnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == AlignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// JobTable renders extraction jobs, one per row.
func JobTable(jobs []*models.ExtractionJob) string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			j.ID,
			j.TargetFilename,
			string(j.Status),
			j.UpdatedAt.Local().Format(time.DateTime),
			j.ErrorMessage,
		})
	}
	return RenderTable([]string{"ID", "Target", "Status", "Updated", "Error"}, rows, nil)
}
