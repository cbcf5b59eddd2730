// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cifartrain/cifartrain/pkg/extensions"
	"github.com/cifartrain/cifartrain/pkg/runs"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <output_dir>",
		Short: "Show the arguments, run information and last log entry of a training run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return show(cmd.OutOrStdout(), args[0])
		},
	}
}

// show prints args.json and info.json of outDir as YAML, followed by the last entry of its log,
// if there is one yet.
func show(w io.Writer, outDir string) error {
	for _, name := range []string{runs.ArgsFileName, runs.InfoFileName} {
		contents, err := runs.LoadJSON(outDir, name)
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(contents)
		if err != nil {
			return errors.Wrapf(err, "failed to convert %q to YAML", name)
		}
		if _, err = fmt.Fprintf(w, "# %s\n%s\n", name, data); err != nil {
			return errors.Wrap(err, "failed to write")
		}
	}

	entries, err := extensions.LoadLog(outDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			_, err = fmt.Fprintln(w, "No log entries yet.")
			return err
		}
		return err
	}
	if len(entries) == 0 {
		_, err = fmt.Fprintln(w, "No log entries yet.")
		return err
	}
	_, err = fmt.Fprintf(w, "# Last log entry (%d entries)\n%s\n", len(entries), extensions.EntryTable(entries[len(entries)-1]))
	return err
}
