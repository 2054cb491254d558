// cmd/riskctl — inspect and adjust the available-risk ledger.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	goredis "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"trade-executorv1/config"
	"trade-executorv1/internal/ledger"
	"trade-executorv1/internal/locking"
)

func main() {
	log.SetFlags(0)
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "riskctl",
		Short:         "Manage the available risk budget",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(getCmd(), setCmd(), addCmd(), subtractCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openLedger acquires the singleton and builds the ledger. The caller must
// call the returned release func.
func openLedger() (*ledger.Ledger, func(), error) {
	cfg := config.Load()

	if err := os.MkdirAll(cfg.LockDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create lock dir: %w", err)
	}
	single := locking.NewSingleton(filepath.Join(cfg.LockDir, "riskctl.pid"))
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
	return ledger.New(cfg.RiskFile, locks.Named("risk")), release, nil
}

func parseAmount(arg string) (float64, error) {
	amount, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", arg, err)
	}
	if amount < 0 {
		return 0, fmt.Errorf("amount must not be negative, got %g", amount)
	}
	return amount, nil
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the available risk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, release, err := openLedger()
			if err != nil {
				return err
			}
			defer release()

			risk, err := l.Read(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Available risk: $%.2f\n", risk)
			return nil
		},
	}
}

func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set AMOUNT",
		Short: "Set the available risk to an exact amount",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			l, release, err := openLedger()
			if err != nil {
				return err
			}
			defer release()

			old, err := l.Set(cmd.Context(), amount)
			if err != nil {
				return err
			}
			fmt.Printf("Available risk: $%.2f -> $%.2f\n", old, amount)
			return nil
		},
	}
}

func addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add AMOUNT",
		Short: "Increase the available risk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			l, release, err := openLedger()
			if err != nil {
				return err
			}
			defer release()

			updated, err := l.Add(cmd.Context(), amount)
			if err != nil {
				return err
			}
			fmt.Printf("Available risk: $%.2f\n", updated)
			return nil
		},
	}
}

func subtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subtract AMOUNT",
		Short: "Decrease the available risk (refused below zero)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			l, release, err := openLedger()
			if err != nil {
				return err
			}
			defer release()

			updated, err := l.Subtract(cmd.Context(), amount)
			if err != nil {
				return err
			}
			fmt.Printf("Available risk: $%.2f\n", updated)
			return nil
		},
	}
}
