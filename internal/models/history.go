package models

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultPeriodLabels is the period sequence used when none is configured.
var DefaultPeriodLabels = []string{"Nov 2024", "Dec 2024", "Jan 2025", "Feb 2025", "Mar 2025"}

// Error variables for price history lookups
var (
	ErrNoPeriods       = errors.New("period sequence cannot be empty")
	ErrEmptyPeriod     = errors.New("period label cannot be empty")
	ErrSeriesMismatch  = errors.New("price series length does not match period count")
	ErrInvalidWindow   = errors.New("window must be zero (all periods) or positive")
	ErrMissingHistory  = errors.New("vehicle has no price history")
	ErrNegativeLastArg = errors.New("last period count must not be negative")
)

// Periods is the fixed, chronologically ordered sequence of period labels.
// Index 0 is the oldest period.
type Periods struct {
	labels []string
}

// NewPeriods validates and wraps a label sequence.
func NewPeriods(labels ...string) (Periods, error) {
	if len(labels) == 0 {
		return Periods{}, ErrNoPeriods
	}
	out := make([]string, len(labels))
	for i, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			return Periods{}, fmt.Errorf("%w: position %d", ErrEmptyPeriod, i)
		}
		out[i] = l
	}
	return Periods{labels: out}, nil
}

// DefaultPeriods returns the built-in period sequence.
func DefaultPeriods() Periods {
	p, _ := NewPeriods(DefaultPeriodLabels...)
	return p
}

// Len returns N, the number of periods.
func (p Periods) Len() int {
	return len(p.labels)
}

// Labels returns a copy of all labels in chronological order.
func (p Periods) Labels() []string {
	out := make([]string, len(p.labels))
	copy(out, p.labels)
	return out
}

// Window returns the labels selected by w, oldest first.
// A window larger than N is clamped to all periods.
func (p Periods) Window(w Window) []string {
	return tail(p.labels, w.Last)
}

// Window selects either all periods or the trailing K periods.
type Window struct {
	// Last is the number of most recent periods; zero means all periods.
	Last int `json:"last"`
}

// AllPeriods is the window covering every period.
var AllPeriods = Window{}

// LastPeriods returns a window over the K most recent periods.
func LastPeriods(k int) (Window, error) {
	if k < 0 {
		return Window{}, ErrNegativeLastArg
	}
	return Window{Last: k}, nil
}

// IsAll reports whether the window covers every period.
func (w Window) IsAll() bool {
	return w.Last == 0
}

// Describe renders the window for user-facing captions.
func (w Window) Describe() string {
	if w.IsAll() {
		return "all months"
	}
	if w.Last == 1 {
		return "the last month"
	}
	return fmt.Sprintf("the last %d months", w.Last)
}

// Point is one (period, price) pair of a series.
type Point struct {
	Period string `json:"period"`
	Price  int    `json:"price"`
}

// PriceHistory maps vehicle names to their period-aligned price series.
type PriceHistory map[string][]int

// Clone returns a deep copy of the history.
func (h PriceHistory) Clone() PriceHistory {
	out := make(PriceHistory, len(h))
	for k, v := range h {
		s := make([]int, len(v))
		copy(s, v)
		out[k] = s
	}
	return out
}

// Tail returns the raw prices selected by w for the named vehicle, oldest first.
// For the all-periods window the full stored series is returned.
func (h PriceHistory) Tail(name string, w Window) ([]int, error) {
	series, ok := h[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingHistory, name)
	}
	return tail(series, w.Last), nil
}

// SeriesFor returns the (period, price) pairs of the named vehicle within w.
// The stored series must be aligned with the period sequence.
func (h PriceHistory) SeriesFor(periods Periods, name string, w Window) ([]Point, error) {
	if w.Last < 0 {
		return nil, ErrInvalidWindow
	}
	series, ok := h[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVehicle, name)
	}
	if len(series) != periods.Len() {
		return nil, fmt.Errorf("%w: %s has %d prices for %d periods", ErrSeriesMismatch, name, len(series), periods.Len())
	}
	labels := periods.Window(w)
	prices := tail(series, w.Last)
	points := make([]Point, len(labels))
	for i := range labels {
		points[i] = Point{Period: labels[i], Price: prices[i]}
	}
	return points, nil
}

// Reconcile pads a short series at the tail with the current price until it
// has n entries. Longer series are returned unchanged; the result never
// shares memory with the input.
func Reconcile(series []int, current, n int) []int {
	size := len(series)
	if n > size {
		size = n
	}
	out := make([]int, len(series), size)
	copy(out, series)
	for len(out) < n {
		out = append(out, current)
	}
	return out
}

// FlatSeries returns n copies of price.
func FlatSeries(price, n int) []int {
	return Reconcile(nil, price, n)
}

// tail returns the last k elements of s, or all of s when k is zero or exceeds len(s).
func tail[T any](s []T, k int) []T {
	if k <= 0 || k >= len(s) {
		out := make([]T, len(s))
		copy(out, s)
		return out
	}
	out := make([]T, k)
	copy(out, s[len(s)-k:])
	return out
}
