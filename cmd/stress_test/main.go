package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/rl1809/baller-exchange/internal/adapter/identity"
	"github.com/rl1809/baller-exchange/internal/adapter/oracle"
	"github.com/rl1809/baller-exchange/internal/adapter/storage"
	"github.com/rl1809/baller-exchange/internal/core/service"
)

func main() {
	users := pflag.Int("users", 50, "number of users rolling concurrently")
	rollsPerUser := pflag.Int("rolls", 6, "single rolls attempted by each user")
	contenders := pflag.Int("contenders", 20, "users racing to trade for the same item")
	maxAttempts := pflag.Int("max-attempts", 50, "transaction attempts before giving up")
	verbose := pflag.BoolP("verbose", "v", false, "log coordinator retries")
	pflag.Parse()

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	ctx := context.Background()
	store := storage.NewMemoryStore()
	economy := service.DefaultEconomyConfig()
	coord := service.NewCoordinator(store, *maxAttempts, time.Millisecond, log)
	rolls := service.NewRollService(coord, oracle.NewLocalOracle("", nil), identity.NewClaimsSource("stress"), nil, economy, log)
	trades := service.NewTradeService(coord, economy, log)
	queries := service.NewQueryService(store)

	fail := false
	check := func(ok bool, format string, args ...any) {
		if ok {
			fmt.Printf("PASS: "+format+"\n", args...)
			return
		}
		fail = true
		fmt.Printf("FAIL: "+format+"\n", args...)
	}

	// Phase 1: every user rolls until the starting balance runs out.
	var rolled, broke, other atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for u := 0; u < *users; u++ {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			for i := 0; i < *rollsPerUser; i++ {
				_, err := rolls.Roll(ctx, "", userID, false)
				switch {
				case err == nil:
					rolled.Add(1)
				case errors.Is(err, service.ErrInsufficientFunds):
					broke.Add(1)
				default:
					other.Add(1)
					log.WithError(err).Error("roll failed")
				}
			}
		}(fmt.Sprintf("user-%d", u))
	}
	wg.Wait()

	// The first roll onboards for free, then the balance pays for
	// StartingBalance/RollCost more.
	perUser := 1 + int(economy.StartingBalance/economy.RollCost)
	perUser = min(perUser, *rollsPerUser)

	fmt.Println("========== ROLL PHASE ==========")
	fmt.Printf("Users:            %d\n", *users)
	fmt.Printf("Successful rolls: %d\n", rolled.Load())
	fmt.Printf("Out of funds:     %d\n", broke.Load())
	fmt.Printf("Other failures:   %d\n", other.Load())
	fmt.Printf("Duration:         %v\n", time.Since(start))
	check(int(rolled.Load()) == *users*perUser, "%d rolls succeeded, want %d", rolled.Load(), *users*perUser)
	check(other.Load() == 0, "no unexpected roll failures")

	// Phase 2: many senders race to trade for one recipient item while the
	// recipient's own items are contended.
	target, err := queries.ListItems(ctx, "user-0", "user-0", service.Page{Limit: 1})
	if err != nil || len(target) == 0 {
		fmt.Println("FAIL: recipient has no items")
		os.Exit(1)
	}

	var proposed, lost atomic.Int32
	start = time.Now()
	for c := 1; c <= *contenders && c < *users; c++ {
		wg.Add(1)
		go func(senderID string) {
			defer wg.Done()
			offer, err := queries.ListItems(ctx, senderID, senderID, service.Page{Limit: 1})
			if err != nil || len(offer) == 0 {
				lost.Add(1)
				return
			}
			_, err = trades.Propose(ctx, service.Proposal{
				SenderID:       senderID,
				RecipientID:    "user-0",
				SenderItems:    []string{offer[0].ID},
				RecipientItems: []string{target[0].ID},
			})
			if err != nil {
				lost.Add(1)
				return
			}
			proposed.Add(1)
		}(fmt.Sprintf("user-%d", c))
	}
	wg.Wait()

	// Accept every pending trade concurrently; only one may complete since
	// they all ask for the same recipient item.
	pending, err := queries.ListTrades(ctx, "user-0", "sent", service.Page{Limit: 20})
	if err != nil {
		fmt.Printf("FAIL: list trades: %v\n", err)
		os.Exit(1)
	}
	var accepted, unavailable atomic.Int32
	for _, t := range pending {
		wg.Add(1)
		go func(tradeID string) {
			defer wg.Done()
			_, err := trades.Resolve(ctx, tradeID, "user-0", "accept")
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, service.ErrItemsUnavailable):
				unavailable.Add(1)
			default:
				log.WithError(err).Error("accept failed")
			}
		}(t.ID)
	}
	wg.Wait()

	fmt.Println("========== TRADE PHASE ==========")
	fmt.Printf("Proposed:         %d\n", proposed.Load())
	fmt.Printf("Proposal failed:  %d\n", lost.Load())
	fmt.Printf("Accepted:         %d\n", accepted.Load())
	fmt.Printf("Unavailable:      %d\n", unavailable.Load())
	fmt.Printf("Duration:         %v\n", time.Since(start))
	if len(pending) > 0 {
		check(accepted.Load() == 1, "exactly one accept completed")
	}

	// Phase 3: the store must still satisfy every custody invariant.
	report, err := service.NewAuditor(store, log).Run(ctx)
	if err != nil {
		fmt.Printf("FAIL: audit: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("========== AUDIT ==========")
	fmt.Printf("Users: %d  Items: %d  Trades: %d\n", report.Users, report.Items, report.Trades)
	for _, v := range report.Violations {
		fmt.Println("  " + v)
	}
	check(len(report.Violations) == 0, "no invariant violations")

	if fail {
		os.Exit(1)
	}
}
