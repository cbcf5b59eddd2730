// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package extensions

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	mg "github.com/erkkah/margaid"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotFormat selects the image format written by PlotReport.
type PlotFormat string

const (
	// PNG images drawn with gonum/plot.
	PNG PlotFormat = "png"

	// SVG images drawn with margaid.
	SVG PlotFormat = "svg"
)

// PlotFormats lists the accepted formats.
var PlotFormats = []string{string(PNG), string(SVG)}

// ParsePlotFormat validates a format name.
func ParsePlotFormat(name string) (PlotFormat, error) {
	switch PlotFormat(name) {
	case PNG, SVG:
		return PlotFormat(name), nil
	}
	return "", errors.Errorf("unknown plot format %q, valid values are %q", name, PlotFormats)
}

// Figure is one plot: the series of each key against the iteration.
type Figure struct {
	// Name is the file base name, the extension is added by the format.
	Name string
	Keys []string
}

// DefaultFigures drawn by PlotReport.
var DefaultFigures = []Figure{
	{Name: "loss", Keys: []string{TrainPrefix + "loss", EvalPrefix + "loss"}},
	{Name: "accuracy", Keys: []string{TrainPrefix + "accuracy", EvalPrefix + "accuracy"}},
}

// PlotReport re-renders its figures into the output directory after every entry.
type PlotReport struct {
	outDir        string
	format        PlotFormat
	figures       []Figure
	width, height int

	// series[key] holds (iteration, value) pairs.
	series map[string][][2]float64
}

var _ Sink = (*PlotReport)(nil)

// NewPlotReport draws DefaultFigures in outDir in the given format.
func NewPlotReport(outDir string, format PlotFormat) *PlotReport {
	return &PlotReport{
		outDir:  outDir,
		format:  format,
		figures: DefaultFigures,
		width:   800,
		height:  600,
		series:  make(map[string][][2]float64),
	}
}

// WithFigures replaces the figures to draw.
func (p *PlotReport) WithFigures(figures ...Figure) *PlotReport {
	p.figures = figures
	return p
}

// FilePath returns where the figure is written.
func (p *PlotReport) FilePath(figure Figure) string {
	return filepath.Join(p.outDir, figure.Name+"."+string(p.format))
}

// WriteEntry implements Sink.
func (p *PlotReport) WriteEntry(entry Entry) error {
	for key, value := range entry.Values {
		p.series[key] = append(p.series[key], [2]float64{float64(entry.Iteration), value})
	}
	for _, figure := range p.figures {
		if !p.hasPoints(figure) {
			continue
		}
		var err error
		switch p.format {
		case SVG:
			err = p.drawSVG(figure)
		default:
			err = p.drawPNG(figure)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *PlotReport) hasPoints(figure Figure) bool {
	for _, key := range figure.Keys {
		if len(p.series[key]) > 0 {
			return true
		}
	}
	return false
}

func (p *PlotReport) drawPNG(figure Figure) error {
	plt := plot.New()
	plt.Title.Text = figure.Name
	plt.X.Label.Text = KeyIteration
	plt.Y.Label.Text = figure.Name
	plt.Add(plotter.NewGrid())
	for ii, key := range figure.Keys {
		points := p.series[key]
		if len(points) == 0 {
			continue
		}
		xys := make(plotter.XYs, len(points))
		for jj, pt := range points {
			xys[jj].X, xys[jj].Y = pt[0], pt[1]
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return errors.Wrapf(err, "failed to plot %q", key)
		}
		line.Color = plotutil.Color(ii)
		line.Width = vg.Points(1.5)
		plt.Add(line)
		plt.Legend.Add(key, line)
	}
	plt.Legend.Top = true
	filePath := p.FilePath(figure)
	width := vg.Length(p.width) * vg.Inch / 100
	height := vg.Length(p.height) * vg.Inch / 100
	if err := plt.Save(width, height, filePath); err != nil {
		return errors.Wrapf(err, "failed to save plot %q", filePath)
	}
	return nil
}

func (p *PlotReport) drawSVG(figure Figure) error {
	var allSeries []*mg.Series
	allPoints := mg.NewSeries()
	for _, key := range figure.Keys {
		points := p.series[key]
		if len(points) == 0 {
			continue
		}
		s := mg.NewSeries(mg.Titled(key))
		for _, pt := range points {
			value := mg.MakeValue(pt[0], pt[1])
			s.Add(value)
			allPoints.Add(value)
		}
		allSeries = append(allSeries, s)
	}
	diagram := mg.New(p.width, p.height,
		mg.WithAutorange(mg.XAxis, allSeries...),
		mg.WithAutorange(mg.YAxis, allSeries...),
		mg.WithInset(70),
		mg.WithPadding(2),
		mg.WithColorScheme(90),
		mg.WithBackgroundColor("#f8f8f8"),
	)
	for _, s := range allSeries {
		diagram.Line(s, mg.UsingAxes(mg.XAxis, mg.YAxis), mg.UsingStrokeWidth(2))
	}
	diagram.Axis(allPoints, mg.XAxis, diagram.ValueTicker('f', 0, 10), false, KeyIteration)
	diagram.Axis(allPoints, mg.YAxis, diagram.ValueTicker('f', 3, 10), true, figure.Name)
	diagram.Frame()
	diagram.Title(figure.Name)
	diagram.Legend(mg.BottomLeft)

	var buf bytes.Buffer
	if err := diagram.Render(&buf); err != nil {
		return errors.Wrapf(err, "failed to render plot %q", figure.Name)
	}
	filePath := p.FilePath(figure)
	if err := os.WriteFile(filePath, buf.Bytes(), 0644); err != nil {
		return errors.Wrapf(err, "failed to save plot %q", filePath)
	}
	return nil
}

// String implements fmt.Stringer.
func (p *PlotReport) String() string {
	return fmt.Sprintf("PlotReport(%s, %s)", p.outDir, p.format)
}
