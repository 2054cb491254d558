// cmd/tradesctl — manage the queue of trades waiting for execution.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	goredis "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"trade-executorv1/config"
	"trade-executorv1/internal/locking"
	"trade-executorv1/internal/model"
	"trade-executorv1/internal/queue"
)

func main() {
	log.SetFlags(0)
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "tradesctl",
		Short:         "Manage queued trades",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(listCmd(), addCmd(), removeCmd(), clearCmd(), importCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openQueue acquires the singleton and builds the queue. The caller must
// call the returned release func.
func openQueue() (*queue.Queue, func(), error) {
	cfg := config.Load()

	if err := os.MkdirAll(cfg.LockDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create lock dir: %w", err)
	}
	single := locking.NewSingleton(filepath.Join(cfg.LockDir, "tradesctl.pid"))
	if err := single.Acquire(); err != nil {
		if errors.Is(err, locking.ErrAlreadyRunning) {
			fmt.Fprintln(os.Stderr, "another instance is already running")
			if info := single.InstanceInfo(); info != "" {
				fmt.Fprintln(os.Stderr, info)
			}
			os.Exit(1)
		}
		return nil, nil, err
	}

	var rdb *goredis.Client
	if cfg.LockBackend == "redis" {
		rdb = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			single.Release()
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
	}
	locks := locking.Factory{Redis: rdb, Dir: cfg.LockDir, TTL: cfg.RedisLockTTL}

	release := func() {
		if rdb != nil {
			rdb.Close()
		}
		single.Release()
	}
	return queue.New(cfg.TradesFile, locks.Named("trades")), release, nil
}

func printTrade(i int, t model.Trade) {
	fmt.Printf("%d. %s: %g shares, $%.2f risk, range $%.2f-$%.2f\n",
		i+1, t.Ticker, t.Shares, t.RiskAmount, t.LowerPriceRange, t.HigherPriceRange)
	for _, s := range t.SellStops {
		fmt.Printf("     stop %g @ $%.2f\n", s.Shares, s.Price)
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print all queued trades",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, release, err := openQueue()
			if err != nil {
				return err
			}
			defer release()

			trades, err := q.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(trades) == 0 {
				fmt.Println("no trades queued")
				return nil
			}
			for i, t := range trades {
				printTrade(i, t)
			}
			return nil
		},
	}
}

// parseSellStops parses "price:shares,price:shares" ladders, e.g.
// "150:5,145:3,140:2".
func parseSellStops(arg string) ([]model.SellStop, error) {
	var stops []model.SellStop
	for _, part := range strings.Split(arg, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pv := strings.Split(part, ":")
		if len(pv) != 2 {
			return nil, fmt.Errorf("malformed stop %q, want PRICE:SHARES", part)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(pv[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid stop price %q: %w", pv[0], err)
		}
		shares, err := strconv.ParseFloat(strings.TrimSpace(pv[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid stop shares %q: %w", pv[1], err)
		}
		stops = append(stops, model.SellStop{Price: price, Shares: shares})
	}
	if len(stops) == 0 {
		return nil, fmt.Errorf("no sell stops in %q", arg)
	}
	return stops, nil
}

func addCmd() *cobra.Command {
	var (
		ticker string
		shares float64
		risk   float64
		lower  float64
		higher float64
		stops  string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Queue a new trade",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sellStops, err := parseSellStops(stops)
			if err != nil {
				return err
			}
			trade := model.Trade{
				Ticker:           ticker,
				Shares:           shares,
				RiskAmount:       risk,
				LowerPriceRange:  lower,
				HigherPriceRange: higher,
				SellStops:        sellStops,
			}

			q, release, err := openQueue()
			if err != nil {
				return err
			}
			defer release()

			if err := q.Add(cmd.Context(), trade); err != nil {
				return err
			}
			fmt.Printf("queued %s: %g shares, range $%.2f-$%.2f\n", trade.Ticker, shares, lower, higher)
			return nil
		},
	}
	cmd.Flags().StringVar(&ticker, "ticker", "", "stock symbol")
	cmd.Flags().Float64Var(&shares, "shares", 0, "shares to buy")
	cmd.Flags().Float64Var(&risk, "risk", 0, "dollar risk to allocate")
	cmd.Flags().Float64Var(&lower, "lower", 0, "lower bound of the entry price range")
	cmd.Flags().Float64Var(&higher, "higher", 0, "higher bound of the entry price range")
	cmd.Flags().StringVar(&stops, "stops", "", "sell stop ladder as PRICE:SHARES,PRICE:SHARES")
	cmd.MarkFlagRequired("ticker")
	cmd.MarkFlagRequired("shares")
	cmd.MarkFlagRequired("risk")
	cmd.MarkFlagRequired("lower")
	cmd.MarkFlagRequired("higher")
	cmd.MarkFlagRequired("stops")
	return cmd
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove TICKER LOWER_PRICE HIGHER_PRICE",
		Short: "Remove the queued trade matching the ticker and price range",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			lower, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid lower price %q: %w", args[1], err)
			}
			higher, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid higher price %q: %w", args[2], err)
			}

			q, release, err := openQueue()
			if err != nil {
				return err
			}
			defer release()

			removed, err := q.Remove(cmd.Context(), args[0], lower, higher)
			if err != nil {
				return err
			}
			fmt.Printf("removed %s: %g shares\n", removed.Ticker, removed.Shares)
			return nil
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all queued trades",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, release, err := openQueue()
			if err != nil {
				return err
			}
			defer release()

			n, err := q.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("removed %d trade(s)\n", n)
			return nil
		},
	}
}

// yamlTrade mirrors model.Trade for import files.
type yamlTrade struct {
	Ticker           string  `yaml:"ticker"`
	Shares           float64 `yaml:"shares"`
	RiskAmount       float64 `yaml:"risk_amount"`
	LowerPriceRange  float64 `yaml:"lower_price_range"`
	HigherPriceRange float64 `yaml:"higher_price_range"`
	SellStops        []struct {
		Price  float64 `yaml:"price"`
		Shares float64 `yaml:"shares"`
	} `yaml:"sell_stops"`
}

func (y yamlTrade) toModel() model.Trade {
	t := model.Trade{
		Ticker:           y.Ticker,
		Shares:           y.Shares,
		RiskAmount:       y.RiskAmount,
		LowerPriceRange:  y.LowerPriceRange,
		HigherPriceRange: y.HigherPriceRange,
	}
	for _, s := range y.SellStops {
		t.SellStops = append(t.SellStops, model.SellStop{Price: s.Price, Shares: s.Shares})
	}
	return t
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Queue all trades from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var entries []yamlTrade
			if err := yaml.Unmarshal(raw, &entries); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			if len(entries) == 0 {
				return fmt.Errorf("no trades in %s", args[0])
			}

			q, release, err := openQueue()
			if err != nil {
				return err
			}
			defer release()

			queued := 0
			for _, y := range entries {
				t := y.toModel()
				if err := q.Add(cmd.Context(), t); err != nil {
					fmt.Fprintf(os.Stderr, "skipping %s: %v\n", t.Ticker, err)
					continue
				}
				queued++
			}
			fmt.Printf("queued %d of %d trade(s)\n", queued, len(entries))
			return nil
		},
	}
}
