package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/rulelab/ruleback/internal/datasource"
	"github.com/rulelab/ruleback/internal/engine"
	"github.com/rulelab/ruleback/internal/logger"
	"github.com/rulelab/ruleback/internal/ruleparser"
	"github.com/rulelab/ruleback/internal/strategy"
	"github.com/rulelab/ruleback/internal/strategy/ranking"
	"github.com/rulelab/ruleback/internal/version"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// runFile is the on-disk shape of a full run definition: the engine
// configuration plus the strategies to register.
type runFile struct {
	Engine     engine.Config         `yaml:"engine"`
	Strategies []strategy.RuleConfig `yaml:"strategies"`
	Ranking    *ranking.Config       `yaml:"ranking"`
}

func backtestAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	dataGlob := cmd.String("data")
	outputDir := cmd.String("output")

	configBytes, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read run config: %w", err)
	}

	var run runFile
	if err := yaml.Unmarshal(configBytes, &run); err != nil {
		return fmt.Errorf("failed to parse run config: %w", err)
	}

	if err := run.Engine.Validate(); err != nil {
		return err
	}

	runLogger, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer runLogger.Sync()

	loader, err := datasource.NewLoader(runLogger)
	if err != nil {
		return err
	}
	defer loader.Close()

	tables, err := loader.LoadGlob(dataGlob)
	if err != nil {
		return err
	}

	var strategies []engine.Strategy

	for _, ruleConfig := range run.Strategies {
		ruleStrategy, err := strategy.NewRuleBasedStrategy(ruleConfig, runLogger)
		if err != nil {
			return err
		}

		strategies = append(strategies, ruleStrategy)
	}

	if run.Ranking != nil {
		service, err := ranking.NewService(*run.Ranking, runLogger)
		if err != nil {
			return err
		}

		rankingStrategy, err := ranking.NewStrategy("cross-sectional-ranking", service, runLogger)
		if err != nil {
			return err
		}

		strategies = append(strategies, rankingStrategy)
	}

	ledger, err := engine.NewTradeLedger(runLogger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	bar := progressbar.New(100)
	progress := func(p float64) {
		_ = bar.Set(int(p * 100))
	}

	backtest, err := engine.NewBacktestEngine(run.Engine, tables, strategies, runLogger,
		engine.WithLedger(ledger),
		engine.WithProgress(progress),
	)
	if err != nil {
		return err
	}

	report, err := backtest.Run()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	reportBytes, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}

	reportPath := filepath.Join(outputDir, "report.yaml")
	if err := os.WriteFile(reportPath, reportBytes, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if err := ledger.Write(outputDir); err != nil {
		return err
	}

	fmt.Printf("\nFinal capital: %.2f (%.2f%% return), %d trades, win rate %.1f%%, max drawdown %.2f%%\n",
		report.Summary.FinalCapital,
		report.Summary.TotalReturnPct,
		report.Summary.TradeCount,
		report.Summary.WinRate*100,
		report.Summary.MaxDrawdown,
	)
	fmt.Printf("Report written to %s\n", reportPath)

	return nil
}

func schemaAction(ctx context.Context, cmd *cli.Command) error {
	config := engine.DefaultConfig()

	schema, err := config.GenerateSchemaJSON()
	if err != nil {
		return err
	}

	fmt.Println(schema)

	return nil
}

func validateAction(ctx context.Context, cmd *cli.Command) error {
	rule := cmd.String("rule")

	if ok, msg := ruleparser.ValidateSyntax(rule); !ok {
		return fmt.Errorf("invalid rule: %s", msg)
	}

	fmt.Println("rule is valid")

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "backtest",
		Usage:   "Replay rule-based strategies over historical price data",
		Version: version.GetVersion(),
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run a backtest from a YAML run definition",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Usage:    "Path to the YAML run definition",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "Glob of CSV or Parquet price files, one per symbol",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Directory for the report and Parquet exports",
						Value:   "results",
					},
				},
				Action: backtestAction,
			},
			{
				Name:   "schema",
				Usage:  "Print the JSON schema of the engine configuration",
				Action: schemaAction,
			},
			{
				Name:  "validate",
				Usage: "Check a rule expression for syntax errors",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "rule",
						Aliases:  []string{"r"},
						Usage:    "Rule expression text",
						Required: true,
					},
				},
				Action: validateAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
