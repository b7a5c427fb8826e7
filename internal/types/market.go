package types

import (
	"time"

	"github.com/rulelab/ruleback/pkg/errors"
)

// Required columns every price table must carry.
const (
	ColumnOpen   = "open"
	ColumnHigh   = "high"
	ColumnLow    = "low"
	ColumnClose  = "close"
	ColumnVolume = "volume"
	ColumnAmount = "amount"
)

// PriceTable is a per-symbol, ordered-by-time table of named float
// columns. Rows are addressed by integer step index. The table is
// read-only on the evaluation path; derived trace values live in a
// separate side table, never here.
type PriceTable struct {
	symbol string
	times  []time.Time
	cols   map[string][]float64
	names  []string
	codes  []string
}

// NewPriceTable builds a table over the given timestamps. Timestamps
// must be strictly increasing.
func NewPriceTable(symbol string, times []time.Time) (*PriceTable, error) {
	if len(times) == 0 {
		return nil, errors.Newf(errors.ErrCodeEmptyTable, "price table for %s has no rows", symbol)
	}

	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			return nil, errors.Newf(errors.ErrCodeUnsortedTable,
				"price table for %s is not strictly increasing at row %d", symbol, i)
		}
	}

	return &PriceTable{
		symbol: symbol,
		times:  append([]time.Time(nil), times...),
		cols:   make(map[string][]float64),
	}, nil
}

// NewOHLCVTable builds a table with the required market columns in one call.
func NewOHLCVTable(symbol string, times []time.Time, open, high, low, closes, volume []float64) (*PriceTable, error) {
	table, err := NewPriceTable(symbol, times)
	if err != nil {
		return nil, err
	}

	columns := []struct {
		name   string
		values []float64
	}{
		{ColumnOpen, open},
		{ColumnHigh, high},
		{ColumnLow, low},
		{ColumnClose, closes},
		{ColumnVolume, volume},
	}
	for _, c := range columns {
		if err := table.AddColumn(c.name, c.values); err != nil {
			return nil, err
		}
	}

	return table, nil
}

// AddColumn attaches a named column. The column length must match the
// table's row count.
func (t *PriceTable) AddColumn(name string, values []float64) error {
	if len(values) != len(t.times) {
		return errors.Newf(errors.ErrCodeInvalidParameter,
			"column %s has %d values, table has %d rows", name, len(values), len(t.times))
	}

	if _, exists := t.cols[name]; !exists {
		t.names = append(t.names, name)
	}
	t.cols[name] = append([]float64(nil), values...)

	return nil
}

// SetCodes attaches the per-row "code" column used by multi-symbol runs.
func (t *PriceTable) SetCodes(codes []string) error {
	if len(codes) != len(t.times) {
		return errors.Newf(errors.ErrCodeInvalidParameter,
			"code column has %d values, table has %d rows", len(codes), len(t.times))
	}

	t.codes = append([]string(nil), codes...)

	return nil
}

// Symbol returns the symbol this table belongs to.
func (t *PriceTable) Symbol() string {
	return t.symbol
}

// Len returns the number of rows.
func (t *PriceTable) Len() int {
	return len(t.times)
}

// Time returns the timestamp at the given step.
func (t *PriceTable) Time(step int) time.Time {
	return t.times[step]
}

// Times returns the full timestamp index.
func (t *PriceTable) Times() []time.Time {
	return t.times
}

// HasColumn reports whether the named column exists.
func (t *PriceTable) HasColumn(name string) bool {
	_, ok := t.cols[name]
	return ok
}

// Value returns the value of the named column at the given step. The
// second return is false when the column does not exist or the step is
// out of range.
func (t *PriceTable) Value(name string, step int) (float64, bool) {
	col, ok := t.cols[name]
	if !ok || step < 0 || step >= len(col) {
		return 0, false
	}

	return col[step], true
}

// Column returns the named column's backing values, or nil.
func (t *PriceTable) Column(name string) []float64 {
	return t.cols[name]
}

// ColumnNames returns column names in insertion order.
func (t *PriceTable) ColumnNames() []string {
	return t.names
}

// Code returns the per-row code at the given step, falling back to the
// table's symbol when no code column is attached.
func (t *PriceTable) Code(step int) string {
	if step >= 0 && step < len(t.codes) {
		return t.codes[step]
	}

	return t.symbol
}

// Slice returns a view of the table restricted to [from, to] by
// timestamp, preserving all columns. Used once per run to apply the
// configured date window.
func (t *PriceTable) Slice(from, to time.Time) (*PriceTable, error) {
	lo := 0
	for lo < len(t.times) && t.times[lo].Before(from) {
		lo++
	}

	hi := len(t.times)
	for hi > lo && t.times[hi-1].After(to) {
		hi--
	}

	if lo >= hi {
		return nil, errors.Newf(errors.ErrCodeEmptyTable,
			"no rows for %s between %s and %s", t.symbol, from.Format(time.DateOnly), to.Format(time.DateOnly))
	}

	out, err := NewPriceTable(t.symbol, t.times[lo:hi])
	if err != nil {
		return nil, err
	}

	for _, name := range t.names {
		if err := out.AddColumn(name, t.cols[name][lo:hi]); err != nil {
			return nil, err
		}
	}

	if t.codes != nil {
		if err := out.SetCodes(t.codes[lo:hi]); err != nil {
			return nil, err
		}
	}

	return out, nil
}
