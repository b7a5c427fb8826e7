// Package datasource loads historical price tables from CSV or
// Parquet files through DuckDB.
package datasource

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rulelab/ruleback/internal/logger"
	"github.com/rulelab/ruleback/internal/types"
	"github.com/rulelab/ruleback/pkg/errors"
	"go.uber.org/zap"
)

// Candidate names for the timestamp column, tried in order.
var timeColumns = []string{"time", "date", "datetime", "timestamp", "combined_time"}

// Loader reads market data files into price tables. DuckDB does the
// parsing and type inference for both CSV and Parquet.
type Loader struct {
	db     *sql.DB
	logger *logger.Logger
}

func NewLoader(log *logger.Logger) (*Loader, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataNotFound, "failed to open data loader database", err)
	}

	return &Loader{db: db, logger: log}, nil
}

// Load reads one file into a price table, dispatching on extension.
// The symbol defaults to the file name without extension.
func (l *Loader) Load(path string) (*types.PriceTable, error) {
	symbol := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return l.load(symbol, fmt.Sprintf(`read_csv_auto('%s')`, path))
	case ".parquet":
		return l.load(symbol, fmt.Sprintf(`read_parquet('%s')`, path))
	default:
		return nil, errors.Newf(errors.ErrCodeDataParse, "unsupported data file %s", path)
	}
}

// LoadGlob loads every file matching the pattern, keyed by symbol.
func (l *Loader) LoadGlob(pattern string) (map[string]*types.PriceTable, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataNotFound, "bad data glob", err)
	}

	if len(paths) == 0 {
		return nil, errors.Newf(errors.ErrCodeDataNotFound, "no data files match %s", pattern)
	}

	tables := make(map[string]*types.PriceTable, len(paths))

	for _, path := range paths {
		table, err := l.Load(path)
		if err != nil {
			return nil, err
		}

		tables[table.Symbol()] = table

		l.logger.Info("Loaded price table",
			zap.String("symbol", table.Symbol()),
			zap.String("path", path),
			zap.Int("rows", table.Len()),
		)
	}

	return tables, nil
}

func (l *Loader) load(symbol, source string) (*types.PriceTable, error) {
	columns, err := l.describe(source)
	if err != nil {
		return nil, err
	}

	timeCol := ""

	for _, candidate := range timeColumns {
		if columns[candidate] {
			timeCol = candidate

			break
		}
	}

	if timeCol == "" {
		return nil, errors.Newf(errors.ErrCodeDataParse, "%s has no timestamp column", symbol)
	}

	for _, required := range []string{types.ColumnOpen, types.ColumnHigh, types.ColumnLow, types.ColumnClose, types.ColumnVolume} {
		if !columns[required] {
			return nil, errors.Newf(errors.ErrCodeDataParse, "%s is missing required column %s", symbol, required)
		}
	}

	selected := []string{timeCol, types.ColumnOpen, types.ColumnHigh, types.ColumnLow, types.ColumnClose, types.ColumnVolume}

	hasAmount := columns[types.ColumnAmount]
	if hasAmount {
		selected = append(selected, types.ColumnAmount)
	}

	hasCode := columns["code"]
	if hasCode {
		selected = append(selected, "code")
	}

	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY %s ASC`,
		strings.Join(selected, ", "), source, timeCol)

	rows, err := l.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read market data", err)
	}
	defer rows.Close()

	var (
		times                        []time.Time
		open, high, low, closes, vol []float64
		amount                       []float64
		codes                        []string
	)

	for rows.Next() {
		var (
			ts                 time.Time
			o, h, lo, c, v, am float64
			code               string
		)

		dest := []any{&ts, &o, &h, &lo, &c, &v}
		if hasAmount {
			dest = append(dest, &am)
		}

		if hasCode {
			dest = append(dest, &code)
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(errors.ErrCodeDataParse, "failed to scan market data row", err)
		}

		times = append(times, ts)
		open = append(open, o)
		high = append(high, h)
		low = append(low, lo)
		closes = append(closes, c)
		vol = append(vol, v)

		if hasAmount {
			amount = append(amount, am)
		}

		if hasCode {
			codes = append(codes, code)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating market data", err)
	}

	table, err := types.NewOHLCVTable(symbol, times, open, high, low, closes, vol)
	if err != nil {
		return nil, err
	}

	if hasAmount {
		if err := table.AddColumn(types.ColumnAmount, amount); err != nil {
			return nil, err
		}
	}

	if hasCode {
		if err := table.SetCodes(codes); err != nil {
			return nil, err
		}
	}

	return table, nil
}

// describe returns the lowercase column set of a data source.
func (l *Loader) describe(source string) (map[string]bool, error) {
	rows, err := l.db.Query(fmt.Sprintf(`DESCRIBE SELECT * FROM %s`, source))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to describe data source", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to inspect describe output", err)
	}

	columns := make(map[string]bool)

	for rows.Next() {
		dest := make([]any, len(cols))

		var name string

		dest[0] = &name
		for i := 1; i < len(cols); i++ {
			dest[i] = new(any)
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan describe row", err)
		}

		columns[strings.ToLower(name)] = true
	}

	return columns, rows.Err()
}

// Close releases the loader's database.
func (l *Loader) Close() error {
	return l.db.Close()
}
