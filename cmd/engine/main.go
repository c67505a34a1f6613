package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Bundle the tz database so session checks work in minimal containers.
	_ "time/tzdata"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jhalpert/covered_straddle/internal/broker"
	"github.com/jhalpert/covered_straddle/internal/config"
	"github.com/jhalpert/covered_straddle/internal/execution"
	"github.com/jhalpert/covered_straddle/internal/journal"
	"github.com/jhalpert/covered_straddle/internal/market"
	"github.com/jhalpert/covered_straddle/internal/portfolio"
	"github.com/jhalpert/covered_straddle/internal/retry"
	"github.com/jhalpert/covered_straddle/internal/status"
	"github.com/jhalpert/covered_straddle/internal/tick"
)

type Engine struct {
	config    *config.Config
	broker    broker.Broker
	portfolio *portfolio.Manager
	monitor   *tick.Monitor
	executor  *execution.Manager
	journal   journal.Interface
	hours     *market.Hours
	logger    *log.Logger
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[ENGINE] ", log.LstdFlags|log.Lshortfile)

	logger.Printf("Starting covered straddle engine in %s mode", cfg.Environment.Mode)
	if cfg.IsPaperTrading() {
		logger.Println("PAPER TRADING MODE - No real money at risk")
	} else {
		logger.Println("LIVE TRADING MODE - Real money at risk!")
		logger.Println("Waiting 10 seconds to confirm...")
		time.Sleep(10 * time.Second)
	}

	engine, err := buildEngine(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to build engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Println("Shutdown signal received, stopping engine...")
		cancel()
	}()

	if err := engine.Run(ctx); err != nil && err != context.Canceled {
		logger.Fatalf("Engine error: %v", err)
	}

	logger.Println("Engine stopped successfully")
}

func buildEngine(cfg *config.Config, logger *log.Logger) (*Engine, error) {
	hours, err := market.NewHours(cfg.Schedule.Timezone, cfg.Schedule.TradingStart, cfg.Schedule.TradingEnd)
	if err != nil {
		return nil, fmt.Errorf("building session hours: %w", err)
	}

	var conn broker.Broker
	switch cfg.Broker.Provider {
	case "sim":
		conn = broker.NewSimBroker(logger, 100*time.Millisecond)
	default:
		return nil, fmt.Errorf("broker provider %q is not available in this build", cfg.Broker.Provider)
	}
	conn = broker.NewCircuitBreakerBroker(conn)

	jnl, err := journal.NewJournal(cfg.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	executor := execution.NewManager(conn, jnl, hours, logger)

	var processor tick.Processor
	switch cfg.Engine.Processor {
	case "last":
		processor = tick.NewLastProcessor(logger)
	default:
		processor = tick.NewBidAskProcessor(logger)
	}
	monitor := tick.NewMonitor(conn, processor, executor, hours, logger, tick.MonitorConfig{
		UnsubscribeDelay: cfg.GetUnsubscribeDebounce(),
		StaleTick:        cfg.GetStaleness(),
	})

	return &Engine{
		config:    cfg,
		broker:    conn,
		portfolio: portfolio.NewManager(monitor, logger),
		monitor:   monitor,
		executor:  executor,
		journal:   jnl,
		hours:     hours,
		logger:    logger,
	}, nil
}

func (e *Engine) Run(ctx context.Context) error {
	retryClient := retry.NewClient(e.broker, e.logger)
	if err := retryClient.ConnectWithRetry(ctx); err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer func() {
		if err := e.broker.Close(); err != nil {
			e.logger.Printf("Closing broker connection: %v", err)
		}
	}()

	positions, err := e.broker.RequestPositions()
	if err != nil {
		return fmt.Errorf("requesting positions: %w", err)
	}

	// The snapshot barrier bounds how long startup waits for the initial
	// position replay; the feed itself stays open for live updates.
	endCtx, endCancel := context.WithTimeout(ctx, e.config.GetPositionEndTimeout())
	defer endCancel()
	if err := e.broker.AwaitPositionEnd(endCtx); err != nil {
		return fmt.Errorf("awaiting position snapshot: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return e.portfolio.Run(groupCtx, positions)
	})
	group.Go(func() error {
		return e.monitor.Run(groupCtx)
	})

	var statusServer *status.Server
	if e.config.Status.Enabled {
		statusLogger := logrus.New()
		statusServer = status.NewServer(status.Config{
			Port:      e.config.Status.Port,
			AuthToken: e.config.Status.AuthToken,
		}, e.portfolio, e.executor, e.journal, e.hours, statusLogger)

		group.Go(func() error {
			if err := statusServer.Start(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return statusServer.Shutdown(shutdownCtx)
		})
	}

	err = group.Wait()
	e.executor.Shutdown()
	e.monitor.Wait()
	return err
}
