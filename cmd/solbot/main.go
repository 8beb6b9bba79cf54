package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/solbot-labs/engine/pkg/backtesting"
	"github.com/solbot-labs/engine/pkg/config"
	"github.com/solbot-labs/engine/pkg/core"
	"github.com/solbot-labs/engine/pkg/engine"
	"github.com/solbot-labs/engine/pkg/exchange"
	"github.com/solbot-labs/engine/pkg/exchange/binance"
	"github.com/solbot-labs/engine/pkg/exchange/paper"
	"github.com/solbot-labs/engine/pkg/logger"
	applog "github.com/solbot-labs/engine/pkg/logger/zerolog"
	"github.com/solbot-labs/engine/pkg/notification"
	"github.com/solbot-labs/engine/pkg/order"
	"github.com/solbot-labs/engine/pkg/regime"
	"github.com/solbot-labs/engine/pkg/risk"
	"github.com/solbot-labs/engine/pkg/storage"
)

// Exit codes, spec §6's literal CLI surface.
const (
	exitOK          = 0
	exitFatal       = 1
	exitInvalidCfg  = 2
	exitKillSwitch  = 3
	dateLayout      = "2006-01-02"
	defaultDataPath = "data"
)

// Command-line flags shared across run/backtest, mirroring the cmd/backnrun
// package-level-vars idiom.
var (
	configPath     string
	symbolsFlag    string
	timeframesFlag string
	mode           string
	startDate      string
	endDate        string
	initialBalance float64
	slippage       float64
	commissionRate float64
	quiet          bool
	smokeTest      bool
	statusPort     int
	closeOnExit    bool
	statusURL      string
	downloadDays   int
)

func main() {
	root := &cobra.Command{
		Use:     "solbot",
		Short:   "SOL/USDT automated trading engine",
		Version: "1.0.0",
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config overlay file")
	root.PersistentFlags().StringVar(&symbolsFlag, "symbols", "SOLUSDT", "comma-separated trading symbols")
	root.PersistentFlags().StringVar(&timeframesFlag, "timeframes", "15m", "comma-separated timeframes, one per symbol or a single shared one")
	root.PersistentFlags().Float64Var(&initialBalance, "initial-balance", 10000, "starting balance for simulation/backtest")
	root.PersistentFlags().Float64Var(&slippage, "slippage", 0, "fractional slippage applied to paper fills")
	root.PersistentFlags().Float64Var(&commissionRate, "commission-rate", 0.001, "fractional taker fee applied to paper fills")
	root.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress info-level logging")
	root.PersistentFlags().BoolVar(&smokeTest, "smoke-test", false, "smoke-test run flag; stored in the config, no command acts on it")
	root.PersistentFlags().IntVar(&statusPort, "status-port", 8080, "port for the status/health HTTP endpoint")
	root.PersistentFlags().BoolVar(&closeOnExit, "close-on-exit", false, "flatten every open position during graceful shutdown")

	root.AddCommand(buildRunCmd())
	root.AddCommand(buildBacktestCmd())
	root.AddCommand(buildStatusCmd())
	root.AddCommand(buildDownloadCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFatal)
	}
}

func buildRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine against live or simulated market data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLive(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "live", "live | simulation")
	return cmd
}

func buildBacktestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay historical candles through the engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktest(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&startDate, "start-date", "", "backtest window start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "backtest window end (YYYY-MM-DD)")
	cmd.MarkFlagRequired("start-date")
	cmd.MarkFlagRequired("end-date")
	return cmd
}

func buildStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running engine's status endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return queryStatus()
		},
	}
	cmd.Flags().StringVar(&statusURL, "url", "http://localhost:8080/status", "status endpoint to query")
	return cmd
}

func buildDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Fetch historical candles into data/candles for backtest/simulation mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&downloadDays, "days", 30, "number of trailing days of candles to fetch")
	return cmd
}

// composition is everything the run/backtest paths share after config load.
type composition struct {
	cfg        *config.Config
	log        logger.Logger
	venue      core.Exchange
	storage    core.OrderStorage
	book       *order.PositionBook
	mode       *core.SystemModeHandle
	controller *order.Controller
	watcher    *order.Watcher
	oco        *order.OCOManager
	eng        *engine.Engine
	status     *engine.StatusServer
	pairs      []string
	timeframes []string
}

func runLive(ctx context.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return exitErr(exitInvalidCfg, err)
	}

	backtest := mode == "simulation"
	venue, err := buildVenue(ctx, backtest, cfg)
	if err != nil {
		return exitErr(exitFatal, err)
	}
	if mode == "live" {
		if err := exchange.UpdateAndSavePairs(ctx, "pairs.json"); err != nil {
			log.WithError(err).Warn("failed to refresh symbol metadata, continuing with cached/empty map")
		}
	}

	comp, err := compose(ctx, cfg, log, venue, backtest)
	if err != nil {
		return exitErr(exitFatal, err)
	}

	return runEngine(ctx, comp)
}

func runBacktest(ctx context.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return exitErr(exitInvalidCfg, err)
	}
	if _, err := time.Parse(dateLayout, startDate); err != nil {
		return exitErr(exitInvalidCfg, fmt.Errorf("invalid start-date: %w", err))
	}
	if _, err := time.Parse(dateLayout, endDate); err != nil {
		return exitErr(exitInvalidCfg, fmt.Errorf("invalid end-date: %w", err))
	}

	venue, err := buildVenue(ctx, true, cfg)
	if err != nil {
		return exitErr(exitFatal, err)
	}

	comp, err := compose(ctx, cfg, log, venue, true)
	if err != nil {
		return exitErr(exitFatal, err)
	}

	if err := runEngine(ctx, comp); err != nil {
		return err
	}
	printReport(comp.controller.Results)
	return nil
}

// printReport prints each pair's TradeSummary table, R-multiple histogram,
// and bootstrap confidence interval on expectancy, mirroring the teacher's
// own end-of-run report in its now-removed root backnrun.go.
func printReport(results map[string]*order.TradeSummary) {
	for pair, summary := range results {
		fmt.Printf("\n%s\n", summary.String())
		fmt.Printf("--- %s R-multiple distribution ---\n%s\n", pair, summary.Histogram(15))

		interval := summary.RMultipleConfidenceInterval(10000, 0.95)
		fmt.Printf("expectancy: %.2fR (%.2fR ~ %.2fR, 95%% CI)\n",
			interval.Mean, interval.Lower, interval.Upper)
	}
}

// runDownload populates data/candles/<SYMBOL>_<TIMEFRAME>.csv from live
// Binance history, the layout buildCSVFeed reads back for --mode simulation
// and backtest runs.
func runDownload(ctx context.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return exitErr(exitInvalidCfg, err)
	}

	venue, err := binance.NewExchange(ctx, binance.Config{
		APIKey:    os.Getenv("SOLBOT_BINANCE_API_KEY"),
		APISecret: os.Getenv("SOLBOT_BINANCE_API_SECRET"),
	})
	if err != nil {
		return exitErr(exitFatal, fmt.Errorf("download: connect to binance: %w", err))
	}

	timeframes := cfg.Timeframes
	if len(timeframes) == 0 {
		timeframes = []string{"15m"}
	}

	downloader := backtesting.NewDownloader(venue, log)
	if err := os.MkdirAll(dataPath(defaultDataPath, "candles"), 0o755); err != nil {
		return exitErr(exitFatal, fmt.Errorf("download: %w", err))
	}

	for i, symbol := range cfg.Symbols {
		tf := timeframes[0]
		if i < len(timeframes) {
			tf = timeframes[i]
		}
		outputPath := fmt.Sprintf("%s/candles/%s_%s.csv", defaultDataPath, symbol, tf)
		log.Infof("downloading %s-%s to %s", symbol, tf, outputPath)
		if err := downloader.Download(ctx, symbol, tf, outputPath, backtesting.WithDays(downloadDays)); err != nil {
			return exitErr(exitFatal, fmt.Errorf("download %s-%s: %w", symbol, tf, err))
		}
	}
	return nil
}

func runEngine(ctx context.Context, comp *composition) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := comp.status.ListenAndServe(); err != nil {
			comp.log.WithError(err).Warn("status server stopped")
		}
	}()

	comp.controller.Start()
	go comp.watcher.Run(runCtx)

	midnight := engine.NewMidnightTimerTask(comp.eng, core.RealClock{}, time.Minute)
	go midnight.Run(runCtx)

	go comp.eng.WaitForShutdownSignal(cancel, closeOnExit)

	if err := comp.eng.Run(runCtx); err != nil {
		comp.eng.Shutdown(closeOnExit)
		return exitErr(exitFatal, err)
	}

	if comp.mode.Mode() == core.ModeKillSwitch {
		return exitErr(exitKillSwitch, fmt.Errorf("kill switch reached"))
	}
	return nil
}

func queryStatus() error {
	resp, err := http.Get(statusURL)
	if err != nil {
		return exitErr(exitFatal, fmt.Errorf("status: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return exitErr(exitFatal, fmt.Errorf("status: read response: %w", err))
	}
	fmt.Println(string(body))

	if resp.StatusCode != http.StatusOK {
		return exitErr(exitFatal, fmt.Errorf("status: endpoint returned %d", resp.StatusCode))
	}
	if strings.Contains(string(body), `"kill_switch"`) {
		return exitErr(exitKillSwitch, fmt.Errorf("engine reports kill_switch"))
	}
	return nil
}

func loadConfig() (*config.Config, logger.Logger, error) {
	level := "info"
	if quiet {
		level = "warn"
	}
	log, err := applog.New(level, time.RFC3339, true, false)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, log, err
	}
	cfg.Symbols = splitCSV(symbolsFlag)
	cfg.Timeframes = splitCSV(timeframesFlag)
	cfg.InitialBalance = initialBalance
	cfg.Slippage = slippage
	cfg.CommissionRate = commissionRate
	cfg.Quiet = quiet
	cfg.SmokeTest = smokeTest
	if len(cfg.Symbols) == 0 {
		return nil, log, fmt.Errorf("no symbols configured")
	}
	return cfg, log, nil
}

func buildVenue(ctx context.Context, backtest bool, cfg *config.Config) (core.Exchange, error) {
	if backtest {
		feed, err := buildCSVFeed(cfg)
		if err != nil {
			return nil, err
		}
		// spec §6 exposes a single --commission-rate, so maker and taker
		// share it rather than the paper wallet's finer-grained split.
		return paper.NewWallet(ctx, "USDT",
			paper.WithInitialBalance(cfg.InitialBalance),
			paper.WithFee(cfg.CommissionRate, cfg.CommissionRate),
			paper.WithSlippage(cfg.Slippage),
			paper.WithFeeder(feed),
		), nil
	}
	return binance.NewExchange(ctx, binance.Config{
		APIKey:    os.Getenv("SOLBOT_BINANCE_API_KEY"),
		APISecret: os.Getenv("SOLBOT_BINANCE_API_SECRET"),
	})
}

// buildCSVFeed wires simulation/backtest mode to pre-downloaded candle
// files under data/candles/<SYMBOL>_<TIMEFRAME>.csv, one per configured
// symbol — the download subcommand populates that same directory layout.
func buildCSVFeed(cfg *config.Config) (*exchange.CSVFeed, error) {
	timeframes := cfg.Timeframes
	if len(timeframes) == 0 {
		timeframes = []string{"15m"}
	}
	feeds := make([]exchange.PairFeed, 0, len(cfg.Symbols))
	for i, symbol := range cfg.Symbols {
		tf := timeframes[0]
		if i < len(timeframes) {
			tf = timeframes[i]
		}
		feeds = append(feeds, exchange.PairFeed{
			Pair:      symbol,
			Timeframe: tf,
			File:      fmt.Sprintf("%s/candles/%s_%s.csv", defaultDataPath, symbol, tf),
		})
	}
	targetTimeframe := timeframes[0]
	return exchange.NewCSVFeed(targetTimeframe, feeds...)
}

func compose(ctx context.Context, cfg *config.Config, log logger.Logger, venue core.Exchange, backtest bool) (*composition, error) {
	store, err := storage.FromFile(dataPath(defaultDataPath, "orders.db"))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	book := order.NewPositionBook()
	mode := core.NewSystemModeHandle()

	venueCache, err := order.NewVenueInfoCache(time.Hour)
	if err != nil {
		return nil, fmt.Errorf("venue cache: %w", err)
	}
	sizing := order.NewSizing(venueCache, venue.AssetsInfo)

	feed := order.NewOrderFeed()
	controller := order.NewController(ctx, venue, store, log, feed, book, sizing)

	if token := os.Getenv("SOLBOT_TELEGRAM_TOKEN"); token != "" {
		settings := &core.Settings{
			Pairs:    cfg.Symbols,
			Telegram: core.TelegramSettings{Enabled: true, Token: token},
		}
		if notifier, err := notification.NewTelegram(controller, settings); err == nil {
			controller.SetNotifier(notifier)
			if err := notifier.Start(ctx); err != nil {
				log.WithError(err).Warn("telegram notifier failed to start, continuing without it")
			}
		}
	}

	watcher := order.NewWatcher(controller, store, venue, log)
	oco := order.NewOCOManager(controller)
	if !venue.SupportsOCO() {
		for _, pair := range cfg.Symbols {
			oco.WatchPair(pair)
		}
	}
	classifier := regime.New(cfg.RegimeConfig())
	riskFilter := risk.NewFilter(cfg.RiskFilterConfig(), mode)

	timeframes := cfg.Timeframes
	if len(timeframes) == 0 {
		timeframes = []string{"15m"}
	}

	pairConfigs := make([]engine.PairConfig, 0, len(cfg.Symbols))
	for i, pair := range cfg.Symbols {
		tf := timeframes[0]
		if i < len(timeframes) {
			tf = timeframes[i]
		}
		pairConfigs = append(pairConfigs, engine.PairConfig{
			Pair:       pair,
			Timeframe:  tf,
			Indicator:  cfg.IndicatorConfig(),
			Dispatcher: cfg.DispatcherConfig(),
			Trend:      cfg.TrendStrategyConfig(),
			Range:      cfg.RangeStrategyConfig(),
		})
	}

	eng := engine.NewEngine(engine.Config{
		Log:        log,
		Venue:      venue,
		Controller: controller,
		Book:       book,
		Mode:       mode,
		Classifier: classifier,
		RiskFilter: riskFilter,
		Backtest:   backtest,
	}, pairConfigs)

	statusServer := engine.NewStatusServer(controller, book, mode, log, statusPort)

	return &composition{
		cfg: cfg, log: log, venue: venue, storage: store, book: book, mode: mode,
		controller: controller, watcher: watcher, oco: oco, eng: eng, status: statusServer,
		pairs: cfg.Symbols, timeframes: timeframes,
	}, nil
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

func dataPath(root, file string) string {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return file
	}
	return root + string(os.PathSeparator) + file
}

func exitErr(code int, err error) error {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(code)
	return err
}
