// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// ReturnSeries is an ordered sequence of (timestamp, return) observations for a
// single asset or portfolio. Timestamps are strictly increasing.
// A ReturnSeries is immutable once constructed; accessors return copies.
type ReturnSeries struct {
	name       string
	timestamps []time.Time
	values     []float64
}

// NewReturnSeries validates and builds a return series.
func NewReturnSeries(name string, timestamps []time.Time, values []float64) (ReturnSeries, error) {
	if len(timestamps) != len(values) {
		return ReturnSeries{}, fmt.Errorf("%w: series %q has %d timestamps and %d values",
			ErrInvalidConfiguration, name, len(timestamps), len(values))
	}
	for i := 1; i < len(timestamps); i++ {
		if !timestamps[i].After(timestamps[i-1]) {
			return ReturnSeries{}, fmt.Errorf("%w: series %q timestamps not strictly increasing at index %d",
				ErrInvalidConfiguration, name, i)
		}
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ReturnSeries{}, fmt.Errorf("%w: series %q has non-finite value at index %d",
				ErrInvalidConfiguration, name, i)
		}
	}

	ts := make([]time.Time, len(timestamps))
	copy(ts, timestamps)
	vs := make([]float64, len(values))
	copy(vs, values)

	return ReturnSeries{name: name, timestamps: ts, values: vs}, nil
}

// NewDailySeries builds a series with one observation per calendar day starting at start.
// Convenient for callers that only have a plain slice of returns.
func NewDailySeries(name string, start time.Time, values []float64) ReturnSeries {
	ts := make([]time.Time, len(values))
	for i := range values {
		ts[i] = start.AddDate(0, 0, i)
	}
	vs := make([]float64, len(values))
	copy(vs, values)
	return ReturnSeries{name: name, timestamps: ts, values: vs}
}

// Name returns the series identifier.
func (s ReturnSeries) Name() string { return s.name }

// Len returns the number of observations.
func (s ReturnSeries) Len() int { return len(s.values) }

// Values returns a copy of the return values.
func (s ReturnSeries) Values() []float64 {
	out := make([]float64, len(s.values))
	copy(out, s.values)
	return out
}

// Timestamps returns a copy of the timestamps.
func (s ReturnSeries) Timestamps() []time.Time {
	out := make([]time.Time, len(s.timestamps))
	copy(out, s.timestamps)
	return out
}

// At returns the i-th observation.
func (s ReturnSeries) At(i int) (time.Time, float64) {
	return s.timestamps[i], s.values[i]
}

// Align intersects two series on their timestamps and returns the aligned values.
func Align(a, b ReturnSeries) ([]float64, []float64) {
	index := make(map[int64]int, len(b.timestamps))
	for j, ts := range b.timestamps {
		index[ts.UnixNano()] = j
	}

	var xa, xb []float64
	for i, ts := range a.timestamps {
		if j, ok := index[ts.UnixNano()]; ok {
			xa = append(xa, a.values[i])
			xb = append(xb, b.values[j])
		}
	}
	return xa, xb
}

// ReturnMatrix maps asset identifiers to return series aligned on a common
// ordered timestamp index. Every column has identical length.
type ReturnMatrix struct {
	assets     []string
	timestamps []time.Time
	columns    map[string][]float64
}

// NewReturnMatrix inner-joins the given series on their timestamps.
// Assets are kept in ascending identifier order.
func NewReturnMatrix(series ...ReturnSeries) (ReturnMatrix, error) {
	if len(series) == 0 {
		return ReturnMatrix{}, fmt.Errorf("%w: no series provided", ErrInvalidConfiguration)
	}

	seen := make(map[string]bool, len(series))
	counts := make(map[int64]int)
	for _, s := range series {
		if s.name == "" {
			return ReturnMatrix{}, fmt.Errorf("%w: series without asset identifier", ErrInvalidConfiguration)
		}
		if seen[s.name] {
			return ReturnMatrix{}, fmt.Errorf("%w: duplicate asset %q", ErrInvalidConfiguration, s.name)
		}
		seen[s.name] = true
		for _, ts := range s.timestamps {
			counts[ts.UnixNano()]++
		}
	}

	// Common index: timestamps present in every series, in order of the first one.
	var common []time.Time
	for _, ts := range series[0].timestamps {
		if counts[ts.UnixNano()] == len(series) {
			common = append(common, ts)
		}
	}
	keep := make(map[int64]bool, len(common))
	for _, ts := range common {
		keep[ts.UnixNano()] = true
	}

	m := ReturnMatrix{
		assets:     make([]string, 0, len(series)),
		timestamps: common,
		columns:    make(map[string][]float64, len(series)),
	}
	for _, s := range series {
		col := make([]float64, 0, len(common))
		for i, ts := range s.timestamps {
			if keep[ts.UnixNano()] {
				col = append(col, s.values[i])
			}
		}
		m.assets = append(m.assets, s.name)
		m.columns[s.name] = col
	}
	sort.Strings(m.assets)

	return m, nil
}

// NewReturnMatrixFromColumns builds a matrix from already-aligned columns.
func NewReturnMatrixFromColumns(timestamps []time.Time, columns map[string][]float64) (ReturnMatrix, error) {
	series := make([]ReturnSeries, 0, len(columns))
	for asset, values := range columns {
		if len(values) != len(timestamps) {
			return ReturnMatrix{}, fmt.Errorf("%w: column %q has %d values for %d timestamps",
				ErrInvalidConfiguration, asset, len(values), len(timestamps))
		}
		s, err := NewReturnSeries(asset, timestamps, values)
		if err != nil {
			return ReturnMatrix{}, err
		}
		series = append(series, s)
	}
	return NewReturnMatrix(series...)
}

// Assets returns the asset identifiers in ascending order.
func (m ReturnMatrix) Assets() []string {
	out := make([]string, len(m.assets))
	copy(out, m.assets)
	return out
}

// Len returns the number of aligned observations.
func (m ReturnMatrix) Len() int { return len(m.timestamps) }

// NumAssets returns the number of columns.
func (m ReturnMatrix) NumAssets() int { return len(m.assets) }

// Timestamps returns a copy of the common index.
func (m ReturnMatrix) Timestamps() []time.Time {
	out := make([]time.Time, len(m.timestamps))
	copy(out, m.timestamps)
	return out
}

// Has reports whether asset is a column of the matrix.
func (m ReturnMatrix) Has(asset string) bool {
	_, ok := m.columns[asset]
	return ok
}

// Column returns a copy of an asset's returns.
func (m ReturnMatrix) Column(asset string) ([]float64, bool) {
	col, ok := m.columns[asset]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(col))
	copy(out, col)
	return out, true
}

// Series returns an asset's column as a ReturnSeries.
func (m ReturnMatrix) Series(asset string) (ReturnSeries, bool) {
	col, ok := m.Column(asset)
	if !ok {
		return ReturnSeries{}, false
	}
	return ReturnSeries{name: asset, timestamps: m.Timestamps(), values: col}, true
}

// Data returns a T×N copy of the matrix, columns in Assets() order.
func (m ReturnMatrix) Data() [][]float64 {
	data := make([][]float64, len(m.timestamps))
	for t := range data {
		row := make([]float64, len(m.assets))
		for j, asset := range m.assets {
			row[j] = m.columns[asset][t]
		}
		data[t] = row
	}
	return data
}

// Rows returns a new matrix restricted to the given row indices (in the given order,
// which must be increasing to preserve the timestamp invariant).
func (m ReturnMatrix) Rows(indices []int) (ReturnMatrix, error) {
	ts := make([]time.Time, len(indices))
	for k, idx := range indices {
		if idx < 0 || idx >= len(m.timestamps) {
			return ReturnMatrix{}, fmt.Errorf("%w: row index %d out of range [0,%d)",
				ErrInvalidConfiguration, idx, len(m.timestamps))
		}
		if k > 0 && idx <= indices[k-1] {
			return ReturnMatrix{}, fmt.Errorf("%w: row indices must be strictly increasing", ErrInvalidConfiguration)
		}
		ts[k] = m.timestamps[idx]
	}

	out := ReturnMatrix{
		assets:     m.Assets(),
		timestamps: ts,
		columns:    make(map[string][]float64, len(m.assets)),
	}
	for _, asset := range m.assets {
		src := m.columns[asset]
		col := make([]float64, len(indices))
		for k, idx := range indices {
			col[k] = src[idx]
		}
		out.columns[asset] = col
	}
	return out, nil
}

// MapColumns returns a copy of the matrix with fn applied to every column.
// fn receives a private copy it may modify and return.
func (m ReturnMatrix) MapColumns(fn func(asset string, values []float64) []float64) ReturnMatrix {
	out := ReturnMatrix{
		assets:     m.Assets(),
		timestamps: m.Timestamps(),
		columns:    make(map[string][]float64, len(m.assets)),
	}
	for _, asset := range m.assets {
		col, _ := m.Column(asset)
		out.columns[asset] = fn(asset, col)
	}
	return out
}

// PortfolioReturns combines the columns with the given weights (Σ w_i r_i per row),
// summing in asset order. Assets absent from weights get weight 0.
func (m ReturnMatrix) PortfolioReturns(weights WeightVector) (ReturnSeries, error) {
	if err := weights.Validate(m); err != nil {
		return ReturnSeries{}, err
	}
	values := make([]float64, len(m.timestamps))
	for _, asset := range m.assets {
		w := weights[asset]
		if w == 0 {
			continue
		}
		col := m.columns[asset]
		for t := range values {
			values[t] += w * col[t]
		}
	}
	return ReturnSeries{name: "portfolio", timestamps: m.Timestamps(), values: values}, nil
}

// WeightVector maps asset identifiers to portfolio weights.
// Weights need not sum to 1.
type WeightVector map[string]float64

// Validate checks that every weighted asset is a column of m.
func (w WeightVector) Validate(m ReturnMatrix) error {
	if len(w) == 0 {
		return fmt.Errorf("%w: empty weight vector", ErrDegenerateInput)
	}
	for asset, v := range w {
		if !m.Has(asset) {
			return fmt.Errorf("%w: weight for unknown asset %q", ErrInvalidConfiguration, asset)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite weight for asset %q", ErrInvalidConfiguration, asset)
		}
	}
	return nil
}

// Sum returns the sum of the weights.
func (w WeightVector) Sum() float64 {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	return sum
}

// Normalized returns a copy rescaled to sum to 1.
func (w WeightVector) Normalized() (WeightVector, error) {
	sum := w.Sum()
	if sum <= 0 || math.IsNaN(sum) {
		return nil, fmt.Errorf("%w: weights sum to %v", ErrDegenerateInput, sum)
	}
	out := make(WeightVector, len(w))
	for asset, v := range w {
		out[asset] = v / sum
	}
	return out, nil
}

// PrepareFor validates w against m and rescales it to sum to 1 when it does not
// already (within 1e-9).
func (w WeightVector) PrepareFor(m ReturnMatrix) (WeightVector, error) {
	if err := w.Validate(m); err != nil {
		return nil, err
	}
	if math.Abs(w.Sum()-1) <= 1e-9 {
		return w.Clone(), nil
	}
	return w.Normalized()
}

// Vector returns the weights ordered by assets, with 0 for missing entries.
func (w WeightVector) Vector(assets []string) []float64 {
	out := make([]float64, len(assets))
	for i, asset := range assets {
		out[i] = w[asset]
	}
	return out
}

// Clone returns a copy of the weights.
func (w WeightVector) Clone() WeightVector {
	out := make(WeightVector, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}
