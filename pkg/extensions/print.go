// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package extensions

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"
)

// DefaultColumns printed by PrintReport.
var DefaultColumns = []string{
	KeyEpoch, KeyIteration,
	TrainPrefix + "loss", EvalPrefix + "loss",
	TrainPrefix + "accuracy", EvalPrefix + "accuracy",
	KeyElapsedTime,
}

var (
	printHeaderStyle = lipgloss.NewStyle().Bold(true).PaddingRight(3)
	printCellStyle   = lipgloss.NewStyle().PaddingRight(3)
)

// PrintReport writes one line per entry, aligned under a header printed before the first entry.
type PrintReport struct {
	w             io.Writer
	columns       []string
	headerPrinted bool
}

var _ Sink = (*PrintReport)(nil)

// NewPrintReport prints the given columns to w. If columns is empty, DefaultColumns is used.
func NewPrintReport(w io.Writer, columns ...string) *PrintReport {
	if len(columns) == 0 {
		columns = DefaultColumns
	}
	return &PrintReport{w: w, columns: columns}
}

// FormatValue formats the value of the given column, or an empty string if it is missing.
func FormatValue(entry Entry, column string) string {
	value, found := entry.Get(column)
	if !found {
		return ""
	}
	switch column {
	case KeyEpoch, KeyIteration:
		return fmt.Sprintf("%d", int(value))
	}
	return fmt.Sprintf("%.5g", value)
}

// minColumnWidth fits values formatted with "%.5g".
const minColumnWidth = 11

func (p *PrintReport) cell(style lipgloss.Style, column, text string) string {
	return style.Width(max(len(column), minColumnWidth) + 3).Render(text)
}

// WriteEntry implements Sink.
func (p *PrintReport) WriteEntry(entry Entry) error {
	var sb strings.Builder
	if !p.headerPrinted {
		for _, column := range p.columns {
			sb.WriteString(p.cell(printHeaderStyle, column, column))
		}
		sb.WriteByte('\n')
		p.headerPrinted = true
	}
	for _, column := range p.columns {
		sb.WriteString(p.cell(printCellStyle, column, FormatValue(entry, column)))
	}
	sb.WriteByte('\n')
	if _, err := io.WriteString(p.w, sb.String()); err != nil {
		return errors.Wrap(err, "failed to print report")
	}
	return nil
}

// EntryTable renders the entry as a two-column (key, value) table.
func EntryTable(entry Entry) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := cellStyle.Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("Key", "Value")
	for _, key := range []string{KeyEpoch, KeyIteration, KeyElapsedTime} {
		table.Row(key, FormatValue(entry, key))
	}
	for _, key := range entry.Keys() {
		table.Row(key, FormatValue(entry, key))
	}
	return table.String()
}
