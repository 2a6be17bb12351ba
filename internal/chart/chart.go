// Package chart renders vehicle price histories as PNG line charts.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"math"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/BTreeMap/CarPulse/internal/models"
)

// Chart geometry and labels.
const (
	Width      = 12 * vg.Inch
	Height     = 6 * vg.Inch
	Format     = "png"
	XAxisLabel = "Months"
	YAxisLabel = "Price (USD)"
)

// ErrNoVehicles is returned when a chart is requested for an empty vehicle list.
var ErrNoVehicles = errors.New("no vehicles requested")

// Palette is the fixed colour cycle, assigned by input position.
var Palette = []color.RGBA{
	{R: 0x00, G: 0x00, B: 0xff, A: 0xff}, // blue
	{R: 0x00, G: 0x80, B: 0x00, A: 0xff}, // green
	{R: 0xff, G: 0x00, B: 0x00, A: 0xff}, // red
	{R: 0x80, G: 0x00, B: 0x80, A: 0xff}, // purple
	{R: 0xff, G: 0xa5, B: 0x00, A: 0xff}, // orange
	{R: 0x00, G: 0xff, B: 0xff, A: 0xff}, // cyan
	{R: 0xff, G: 0x00, B: 0xff, A: 0xff}, // magenta
}

// ColorFor returns the palette colour for the i-th requested vehicle.
func ColorFor(i int) color.RGBA {
	return Palette[i%len(Palette)]
}

// RenderError reports a chart that could not be produced. No image is
// returned alongside it.
type RenderError struct {
	Vehicles []string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render chart for %s: %v", strings.Join(e.Vehicles, ", "), e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Source provides a consistent snapshot of the catalog data.
// *store.CatalogStore satisfies it.
type Source interface {
	Snapshot() (models.Catalog, models.PriceHistory)
	Periods() models.Periods
}

// Renderer draws charts from a Source. It holds no mutable state and is
// safe for concurrent use.
type Renderer struct {
	src Source
}

// NewRenderer creates a renderer reading from src.
func NewRenderer(src Source) *Renderer {
	return &Renderer{src: src}
}

// Render draws the price history of the named vehicles within w.
func (r *Renderer) Render(names []string, w models.Window) ([]byte, error) {
	catalog, history := r.src.Snapshot()
	return Render(r.src.Periods(), catalog, history, names, w)
}

// Title returns the chart title for the given vehicles.
func Title(names []string) string {
	return "Price Trend for " + strings.Join(names, " vs ")
}

// Filename returns the attachment name for a chart of the given vehicles.
func Filename(names []string) string {
	return strings.ReplaceAll(strings.Join(names, "_vs_"), " ", "_") + "_price_chart.png"
}

// series is one validated line of the chart.
type series struct {
	name   string
	prices []int
}

// resolve validates every requested vehicle before anything is drawn.
func resolve(periods models.Periods, catalog models.Catalog, history models.PriceHistory, names []string, w models.Window) ([]string, []series, error) {
	if len(names) == 0 {
		return nil, nil, ErrNoVehicles
	}
	if w.Last < 0 {
		return nil, nil, models.ErrInvalidWindow
	}
	labels := periods.Window(w)
	out := make([]series, 0, len(names))
	for _, name := range names {
		if !catalog.Has(name) {
			return nil, nil, fmt.Errorf("%w: %s", models.ErrUnknownVehicle, name)
		}
		prices, err := history.Tail(name, w)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", models.ErrUnknownVehicle, err)
		}
		if len(prices) != len(labels) {
			return nil, nil, fmt.Errorf("%w: %s has %d prices for %d periods", models.ErrSeriesMismatch, name, len(prices), len(labels))
		}
		out = append(out, series{name: name, prices: prices})
	}
	return labels, out, nil
}

// Render draws a line chart with one line per requested vehicle. Duplicate
// names are drawn as separate lines. Any failure aborts the whole chart.
func Render(periods models.Periods, catalog models.Catalog, history models.PriceHistory, names []string, w models.Window) ([]byte, error) {
	labels, lines, err := resolve(periods, catalog, history, names, w)
	if err != nil {
		slog.Warn("chart.Render: validation failed", "vehicles", names, "window", w.Last, "error", err)
		return nil, &RenderError{Vehicles: names, Err: err}
	}

	p := plot.New()
	p.Title.Text = Title(names)
	p.X.Label.Text = XAxisLabel
	p.Y.Label.Text = YAxisLabel
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	for i, s := range lines {
		pts := make(plotter.XYs, len(s.prices))
		for j, price := range s.prices {
			pts[j].X = float64(j)
			pts[j].Y = float64(price)
		}
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			slog.Error("chart.Render: failed to build series", "vehicle", s.name, "error", err)
			return nil, &RenderError{Vehicles: names, Err: err}
		}
		c := ColorFor(i)
		line.Color = c
		line.Width = vg.Points(2)
		points.Color = c
		points.Shape = draw.CircleGlyph{}
		p.Add(line, points)
		p.Legend.Add(s.name, line, points)
	}

	p.NominalX(labels...)
	p.X.Tick.Label.Rotation = math.Pi / 4
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter

	wt, err := p.WriterTo(Width, Height, Format)
	if err != nil {
		slog.Error("chart.Render: failed to create encoder", "error", err)
		return nil, &RenderError{Vehicles: names, Err: err}
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		slog.Error("chart.Render: encoding failed", "error", err)
		return nil, &RenderError{Vehicles: names, Err: err}
	}
	slog.Debug("chart.Render succeeded", "vehicles", names, "window", w.Last, "bytes", buf.Len())
	return buf.Bytes(), nil
}
