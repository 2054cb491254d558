// cmd/executor — trade execution daemon and one-shot runner.
//
// "executor execute TICKER LOWER HIGHER" processes a single queued trade
// and exits; "executor serve" runs the HTTP control surface. Both take a
// process-level singleton lock so two executors never race each other's
// orders.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"trade-executorv1/config"
	"trade-executorv1/internal/api"
	"trade-executorv1/internal/errlog"
	"trade-executorv1/internal/execution"
	"trade-executorv1/internal/gateway"
	"trade-executorv1/internal/ledger"
	"trade-executorv1/internal/locking"
	"trade-executorv1/internal/metrics"
	"trade-executorv1/internal/notification"
	"trade-executorv1/internal/queue"
)

type app struct {
	cfg     *config.Config
	locks   locking.Factory
	queue   *queue.Queue
	ledger  *ledger.Ledger
	elog    *errlog.Log
	exec    *execution.Executor
	journal *execution.Journal
	metrics *metrics.Metrics
	single  *locking.Singleton
	redis   *goredis.Client
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "executor",
		Short:         "Buys queued trades and protects them with sell stop ladders",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(executeCmd(), serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func executeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execute TICKER LOWER_PRICE HIGHER_PRICE",
		Short: "Execute one queued trade matching the ticker and price range",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ticker := args[0]
			lower, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid lower price %q: %w", args[1], err)
			}
			higher, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid higher price %q: %w", args[2], err)
			}
			if lower <= 0 || higher <= lower {
				return fmt.Errorf("price range must satisfy 0 < lower < higher, got %g and %g", lower, higher)
			}

			a, err := newApp(config.Load())
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if !a.exec.ProcessTrade(ctx, ticker, lower, higher) {
				return fmt.Errorf("trade execution failed for %s", ticker)
			}
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, metrics, and health endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			health := metrics.NewHealthStatus()
			a.exec.Health = health
			msrv := metrics.NewServer(cfg.MetricsAddr, health)
			msrv.Start()
			go refreshHealth(ctx, a, health)

			mux := api.NewRouter(api.Deps{
				Queue:    a.queue,
				Ledger:   a.ledger,
				Executor: a.exec,
				Journal:  a.journal,
			})
			srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

			go func() {
				log.Printf("[executor] API listening on %s", cfg.ListenAddr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("[executor] API server failed: %v", err)
				}
			}()

			<-ctx.Done()
			log.Println("[executor] shutting down...")
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
			msrv.Stop(shutCtx)
			return nil
		},
	}
}

// refreshHealth keeps the health endpoint's queue and risk figures current.
func refreshHealth(ctx context.Context, a *app, health *metrics.HealthStatus) {
	update := func() {
		if trades, err := a.queue.List(ctx); err == nil {
			health.SetQueueDepth(len(trades))
		}
		if risk, err := a.ledger.Read(ctx); err == nil {
			health.SetAvailableRisk(risk)
		}
	}
	update()

	tick := time.NewTicker(30 * time.Second)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			update()
		case <-ctx.Done():
			return
		}
	}
}

func newApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.LockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.TradesFile), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	single := locking.NewSingleton(filepath.Join(cfg.LockDir, "executor.pid"))
	if err := single.Acquire(); err != nil {
		if errors.Is(err, locking.ErrAlreadyRunning) {
			fmt.Fprintln(os.Stderr, "another instance is already running")
			if info := single.InstanceInfo(); info != "" {
				fmt.Fprintln(os.Stderr, info)
			}
			os.Exit(1)
		}
		return nil, err
	}

	a := &app{cfg: cfg, single: single}

	if cfg.LockBackend == "redis" {
		a.redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := a.redis.Ping(context.Background()).Err(); err != nil {
			single.Release()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		log.Printf("[executor] redis locks via %s", cfg.RedisAddr)
	}
	a.locks = locking.Factory{Redis: a.redis, Dir: cfg.LockDir, TTL: cfg.RedisLockTTL}

	a.queue = queue.New(cfg.TradesFile, a.locks.Named("trades"))
	a.ledger = ledger.New(cfg.RiskFile, a.locks.Named("risk"))
	a.elog = errlog.New(cfg.ErrorLogFile, a.locks.Named("errors"))

	gw := gateway.NewWSGateway(cfg.BrokerURL, cfg.BrokerClientID, cfg.BrokerTOTPSecret)

	a.metrics = metrics.NewMetrics()
	a.exec = execution.NewExecutor(a.queue, a.ledger, gw, a.elog)
	a.exec.Metrics = a.metrics
	if cfg.FillTimeout > 0 {
		a.exec.Monitor.TotalTimeout = cfg.FillTimeout
	}
	if cfg.StallTimeout > 0 {
		a.exec.Monitor.StallTimeout = cfg.StallTimeout
	}
	if cfg.CancelConfirm > 0 {
		a.exec.Monitor.CancelConfirmTimeout = cfg.CancelConfirm
	}

	var notifiers notification.Multi
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	if len(notifiers) > 0 {
		a.exec.Notify = notifiers
		log.Printf("[executor] alerting via %d channel(s)", len(notifiers))
	}

	journal, err := execution.NewJournal(cfg.JournalPath)
	if err != nil {
		log.Printf("[executor] WARNING: journal disabled: %v", err)
	} else {
		a.journal = journal
		a.exec.Journal = journal
	}

	return a, nil
}

func (a *app) close() {
	if a.journal != nil {
		a.journal.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.single != nil {
		a.single.Release()
	}
}
