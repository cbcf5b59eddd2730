// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package runs

import (
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cifartrain/cifartrain/internal/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultTimeLayout names output directories by their creation time, e.g.: "20240102T150405".
const DefaultTimeLayout = "20060102T150405"

var (
	// ErrNotDirectory is returned when the parent of the output directory exists but is not a directory.
	ErrNotDirectory = errors.New("output parent path is not a directory")

	// ErrOutDirExists is returned when the output directory to create already exists.
	// Allocation is never retried with a different name.
	ErrOutDirExists = errors.New("output directory already exists")
)

type outDirConfig struct {
	now    func() time.Time
	layout string
}

// OutDirOption configures PrepareOutDir.
type OutDirOption func(*outDirConfig)

// WithClock sets the function used to read the current time. Defaults to time.Now.
func WithClock(now func() time.Time) OutDirOption {
	return func(c *outDirConfig) { c.now = now }
}

// WithTimeLayout sets the time layout (see time.Time.Format) used to name the directory.
// Defaults to DefaultTimeLayout.
func WithTimeLayout(layout string) OutDirOption {
	return func(c *outDirConfig) { c.layout = layout }
}

// OutDirName returns the base name of an output directory created at the given time.
// A non-empty suffix is appended after an underscore.
func OutDirName(t time.Time, layout, suffix string) string {
	name := t.Format(layout)
	if suffix != "" {
		name += "_" + suffix
	}
	return name
}

// PrepareOutDir creates a new, empty output directory under parent, named after the current
// time plus the optional suffix, and returns its path.
//
// parent and any missing ancestors are created. It fails with ErrNotDirectory if parent
// (or one of its ancestors) exists but is not a directory, and with ErrOutDirExists if the target already exists:
// two runs started within the same clock tick (with the same suffix) collide.
func PrepareOutDir(parent, suffix string, options ...OutDirOption) (string, error) {
	cfg := &outDirConfig{now: time.Now, layout: DefaultTimeLayout}
	for _, option := range options {
		option(cfg)
	}

	parent, err := fsutil.ReplaceTildeInDir(parent)
	if err != nil {
		return "", err
	}
	exists, isDir, err := fsutil.IsDir(parent)
	if err != nil {
		// An ancestor of parent is a regular file.
		if errors.Is(err, syscall.ENOTDIR) {
			return "", errors.Wrapf(ErrNotDirectory, "%q", parent)
		}
		return "", err
	}
	if exists && !isDir {
		return "", errors.Wrapf(ErrNotDirectory, "%q", parent)
	}

	target := filepath.Join(parent, OutDirName(cfg.now(), cfg.layout, suffix))
	if err = os.MkdirAll(parent, 0o777); err != nil {
		if errors.Is(err, syscall.ENOTDIR) {
			return "", errors.Wrapf(ErrNotDirectory, "%q", parent)
		}
		return "", errors.Wrapf(err, "failed to create output parent directory %q", parent)
	}
	if err = os.Mkdir(target, 0o777); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", errors.Wrapf(ErrOutDirExists, "%q", target)
		}
		return "", errors.Wrapf(err, "failed to create output directory %q", target)
	}
	klog.V(1).Infof("created output directory %q", target)
	return target, nil
}
