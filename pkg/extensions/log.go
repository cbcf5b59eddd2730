// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package extensions

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// LogFileName is the name of the report log inside the output directory.
const LogFileName = "log"

// LogReport keeps all entries and rewrites them, as a JSON array, to its file on every entry.
type LogReport struct {
	filePath string
	entries  []Entry
}

var _ Sink = (*LogReport)(nil)

// NewLogReport creates a LogReport writing to outDir/LogFileName.
func NewLogReport(outDir string) *LogReport {
	return &LogReport{filePath: filepath.Join(outDir, LogFileName)}
}

// FilePath of the log.
func (l *LogReport) FilePath() string { return l.filePath }

// WriteEntry implements Sink.
func (l *LogReport) WriteEntry(entry Entry) error {
	l.entries = append(l.entries, entry)
	data, err := json.MarshalIndent(l.entries, "", "    ")
	if err != nil {
		return errors.Wrapf(err, "failed to encode log %q", l.filePath)
	}
	// Write to a temporary file first, so readers never see a partial log.
	tmpPath := l.filePath + ".tmp"
	if err = os.WriteFile(tmpPath, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write log %q", tmpPath)
	}
	if err = os.Rename(tmpPath, l.filePath); err != nil {
		return errors.Wrapf(err, "failed to replace log %q", l.filePath)
	}
	return nil
}

// LoadLog reads the entries of the log in outDir.
func LoadLog(outDir string) ([]Entry, error) {
	filePath := filepath.Join(outDir, LogFileName)
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read log %q", filePath)
	}
	var entries []Entry
	if err = json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrapf(err, "failed to parse log %q", filePath)
	}
	return entries, nil
}
