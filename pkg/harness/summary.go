// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package harness

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// SummaryLine is one "Key: value" line printed before training starts.
type SummaryLine struct {
	Key, Value string
}

// FormatShape formats a shape as "(3, 32, 32)".
func FormatShape(shape []int) string {
	parts := make([]string, len(shape))
	for ii, dim := range shape {
		parts[ii] = fmt.Sprint(dim)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (s *session) summaryLines() []SummaryLine {
	return []SummaryLine{
		{"GPU", fmt.Sprint(s.cfg.GPU)},
		{"Model", s.model.Name},
		{"Optimizer", s.opt.Name()},
		{"Epoch", fmt.Sprint(s.cfg.Epoch)},
		{"Batch Size", fmt.Sprint(s.cfg.BatchSize)},
		{"Iter per Epoch", humanize.Comma(int64(s.trainDS.Len() / s.cfg.BatchSize))},
		{"Train Samples", humanize.Comma(int64(s.trainDS.Len()))},
		{"Test Samples", humanize.Comma(int64(s.testDS.Len()))},
		{"Data Shape", FormatShape(s.trainDS.SampleShape())},
		{"Directory to output", s.outDir},
	}
}

func (s *session) printSummary() {
	for _, line := range s.summaryLines() {
		s.printf("%s: %s\n", line.Key, line.Value)
	}
	s.printf("\n")
}
