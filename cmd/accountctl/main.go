package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/ledger"
)

func main() {
	var (
		userFlag  string
		tierFlag  string
		grantFlag int
		showFlag  bool
	)

	flag.StringVar(&userFlag, "user", "", "user ID to update")
	flag.StringVar(&tierFlag, "tier", "", "tier to assign (free, premium, elite)")
	flag.IntVar(&grantFlag, "grant", 0, "tokens to add to the balance")
	flag.BoolVar(&showFlag, "show", false, "print the entitlement snapshot after applying changes")
	flag.Parse()

	_ = godotenv.Load()

	userID := strings.TrimSpace(userFlag)
	tier := domain.Tier(strings.TrimSpace(strings.ToLower(tierFlag)))
	if userID == "" {
		exitWithError(errors.New("-user is required"))
	}
	if tier != "" && !tier.Valid() {
		exitWithError(fmt.Errorf("unsupported tier %q", tier))
	}
	if grantFlag < 0 {
		exitWithError(errors.New("-grant must not be negative"))
	}
	if tier == "" && grantFlag == 0 && !showFlag {
		exitWithError(errors.New("nothing to do: pass -tier, -grant or -show"))
	}

	dbURL := strings.TrimSpace(os.Getenv("LEDGER_URL"))
	if !strings.HasPrefix(dbURL, "postgres://") && !strings.HasPrefix(dbURL, "postgresql://") {
		exitWithError(errors.New("LEDGER_URL must point at the accounts database (postgres://...)"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := infra.NewDBPool(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "accountctl").Logger()
	accounts := ledger.NewPostgres(infra.NewSQLRunner(pool, logger))

	if tier != "" {
		if err := accounts.SetTier(ctx, userID, tier); err != nil {
			exitWithError(err)
		}
		fmt.Printf("User %s set to tier %s\n", userID, tier)
	}
	if grantFlag > 0 {
		balance, err := accounts.Grant(ctx, userID, grantFlag)
		if err != nil {
			exitWithError(err)
		}
		fmt.Printf("Granted %d tokens to %s, balance=%d\n", grantFlag, userID, balance)
	}
	if showFlag {
		ent, err := accounts.Snapshot(ctx, userID)
		if err != nil {
			exitWithError(fmt.Errorf("failed to load account: %w", err))
		}
		fmt.Printf("user=%s tier=%s balance=%d\n", ent.UserID, ent.Tier, ent.Balance)
		for _, kind := range domain.Kinds {
			fmt.Printf("%s_today=%d\n", kind.RouteName(), ent.Daily[kind])
		}
	}
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
