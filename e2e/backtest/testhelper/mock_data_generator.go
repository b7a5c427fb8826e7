// Package testhelper generates deterministic mock market data files
// for end-to-end tests.
package testhelper

import (
	"database/sql"
	"fmt"
	"math"
	"math/rand"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

// SimulationPattern defines the type of price simulation pattern.
type SimulationPattern string

const (
	// PatternIncreasing simulates a continuously increasing price trend.
	PatternIncreasing SimulationPattern = "increasing"
	// PatternDecreasing simulates a continuously decreasing price trend.
	PatternDecreasing SimulationPattern = "decreasing"
	// PatternVolatile simulates a noisy price with a slight upward bias.
	PatternVolatile SimulationPattern = "volatile"
)

const (
	// DefaultMinimumPrice is the price floor that prevents negative or zero prices.
	DefaultMinimumPrice = 0.01
	// DefaultBaseVolume is the base volume for generated bars.
	DefaultBaseVolume = 1000000.0
	// DefaultIncreasingNoiseBias keeps increasing-pattern noise slightly positive.
	DefaultIncreasingNoiseBias = 0.3
	// DefaultDecreasingNoiseBias keeps decreasing-pattern noise slightly negative.
	DefaultDecreasingNoiseBias = 0.7
	// DefaultVolatileUpwardBias gives the volatile pattern a slight upward drift.
	DefaultVolatileUpwardBias = 0.45
)

// Bar is one generated OHLCV observation.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// MockDataConfig holds the configuration for generating mock market data.
type MockDataConfig struct {
	// StartTime is the timestamp of the first bar.
	StartTime time.Time
	// Interval is the time between consecutive bars.
	Interval time.Duration
	// NumDataPoints is the number of bars to generate.
	NumDataPoints int
	// Pattern is the simulation pattern to use.
	Pattern SimulationPattern
	// InitialPrice is the starting price for the simulation.
	InitialPrice float64
	// VolatilityPercent is the base volatility percentage for price changes.
	VolatilityPercent float64
	// TrendStrength is the per-bar trend ratio for increasing/decreasing patterns.
	TrendStrength float64
	// Seed is the random seed. If 0, the current time is used.
	Seed int64
}

// MockDataGenerator produces seeded OHLCV series and writes them to
// CSV or Parquet through DuckDB, the same path the loader reads them
// back through.
type MockDataGenerator struct {
	config MockDataConfig
	rng    *rand.Rand
}

func NewMockDataGenerator(config MockDataConfig) *MockDataGenerator {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	if config.InitialPrice <= 0 {
		config.InitialPrice = 100.0
	}

	if config.TrendStrength <= 0 {
		config.TrendStrength = 0.01
	}

	if config.VolatilityPercent <= 0 {
		config.VolatilityPercent = 2.0
	}

	return &MockDataGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Generate produces the configured number of bars.
func (g *MockDataGenerator) Generate() ([]Bar, error) {
	if g.config.StartTime.IsZero() {
		return nil, fmt.Errorf("start time is required")
	}

	if g.config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}

	if g.config.NumDataPoints <= 0 {
		return nil, fmt.Errorf("NumDataPoints is required")
	}

	bars := make([]Bar, g.config.NumDataPoints)
	currentPrice := g.config.InitialPrice
	currentTime := g.config.StartTime

	for i := range bars {
		var priceChange float64

		switch g.config.Pattern {
		case PatternIncreasing:
			priceChange = g.trendChange(currentPrice, 1, DefaultIncreasingNoiseBias)
		case PatternDecreasing:
			priceChange = g.trendChange(currentPrice, -1, DefaultDecreasingNoiseBias)
		case PatternVolatile:
			priceChange = currentPrice * (g.config.VolatilityPercent / 100.0) * (g.rng.Float64() - DefaultVolatileUpwardBias)
		default:
			return nil, fmt.Errorf("unknown pattern: %s", g.config.Pattern)
		}

		newPrice := currentPrice + priceChange
		if newPrice <= 0 {
			newPrice = DefaultMinimumPrice
		}

		open := currentPrice
		closePrice := newPrice

		minPrice := math.Min(open, closePrice)
		maxPrice := math.Max(open, closePrice)
		volatilityRange := maxPrice * (g.config.VolatilityPercent / 100.0) * 0.5

		high := maxPrice + g.rng.Float64()*volatilityRange

		low := minPrice - g.rng.Float64()*volatilityRange
		if low <= 0 {
			low = DefaultMinimumPrice
		}

		bars[i] = Bar{
			Time:   currentTime,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: DefaultBaseVolume * (0.5 + g.rng.Float64()),
		}

		currentPrice = newPrice
		currentTime = currentTime.Add(g.config.Interval)
	}

	return bars, nil
}

// trendChange produces a price change with a directional trend plus
// biased noise. With small volatility relative to the trend the series
// is strictly monotone, which e2e assertions rely on.
func (g *MockDataGenerator) trendChange(currentPrice, direction, bias float64) float64 {
	trend := direction * currentPrice * g.config.TrendStrength
	noise := currentPrice * (g.config.VolatilityPercent / 100.0) * (g.rng.Float64() - bias)

	return trend + noise
}

// WriteCSV generates bars and writes them as a CSV file.
func (g *MockDataGenerator) WriteCSV(path string) error {
	return g.write(path, "FORMAT CSV, HEADER")
}

// WriteParquet generates bars and writes them as a Parquet file.
func (g *MockDataGenerator) WriteParquet(path string) error {
	return g.write(path, "FORMAT PARQUET")
}

func (g *MockDataGenerator) write(path, format string) error {
	bars, err := g.Generate()
	if err != nil {
		return err
	}

	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE bars (
		time TIMESTAMP,
		open DOUBLE,
		high DOUBLE,
		low DOUBLE,
		close DOUBLE,
		volume DOUBLE
	)`)
	if err != nil {
		return fmt.Errorf("failed to create bars table: %w", err)
	}

	for _, bar := range bars {
		_, err = db.Exec(`INSERT INTO bars VALUES (?, ?, ?, ?, ?, ?)`,
			bar.Time, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert bar: %w", err)
		}
	}

	_, err = db.Exec(fmt.Sprintf(`COPY (SELECT * FROM bars ORDER BY time) TO '%s' (%s)`, path, format))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}
