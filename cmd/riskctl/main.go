// Command riskctl prints a one-shot CDP risk summary to stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"

	"github.com/atmx/cdp-risk/internal/config"
	"github.com/atmx/cdp-risk/internal/fusion"
	"github.com/atmx/cdp-risk/internal/report"
	"github.com/atmx/cdp-risk/internal/source"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	os.Exit(run(os.Args[1:], os.Stdout))
}

// run executes riskctl and returns the process exit code. Deferred cleanup
// runs before main exits.
func run(args []string, stdout io.Writer) int {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("configuration failed", "err", err)
		return 1
	}

	fs := flag.NewFlagSet("riskctl", flag.ContinueOnError)
	symbols := fs.String("symbols", "", "comma-separated collateral symbols (default from config)")
	shock := fs.Float64("shock", cfg.FocusShock, "shock for the liquidity impact estimate (-0.2 = -20%)")
	fixtures := fs.Bool("fixtures", cfg.UseFixtures, "use fixture positions and market data")
	asJSON := fs.Bool("json", false, "print the full report as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *symbols != "" {
		cfg.Symbols = config.ParseSymbols(*symbols)
	}
	cfg.FocusShock = *shock
	cfg.UseFixtures = *fixtures
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid flags", "err", err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.FetchTimeout)
	defer cancel()

	positionSrc, marketSrc, cleanup, err := source.Open(ctx, cfg)
	if err != nil {
		slog.Error("source initialization failed", "err", err)
		return 1
	}
	defer cleanup()

	positions, err := positionSrc.Positions(ctx, source.PositionFilter{
		CollateralTypes:  cfg.Symbols,
		MaxPerCollateral: cfg.MaxTrovesPerCollateral,
	})
	if err != nil {
		slog.Error("fetch positions failed", "err", err)
		return 1
	}
	market, err := marketSrc.Market(ctx, cfg.Symbols)
	if err != nil {
		slog.Error("fetch market failed", "err", err)
		return 1
	}

	rep := report.Build(fusion.Fuse(positions, market), market, report.Options{
		Shocks:         cfg.ShockLevels,
		FocusShock:     cfg.FocusShock,
		DepthOverrides: cfg.DepthOverrides,
	})

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		err = enc.Encode(rep)
	} else {
		err = report.WriteText(stdout, rep)
	}
	if err != nil {
		slog.Error("write report failed", "err", err)
		return 1
	}
	return 0
}
