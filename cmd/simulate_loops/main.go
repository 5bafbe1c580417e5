package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"debtloop/internal/domain"
	"debtloop/internal/loop"
	"debtloop/internal/netting"
	"debtloop/internal/registry"
	"debtloop/internal/repository/memory"
	"debtloop/internal/settlement"
	"debtloop/pkg/cache"
	"debtloop/pkg/logger"

	"github.com/shopspring/decimal"
)

type company struct {
	name, id string
	funds    int64
}

type obligation struct {
	debtor, creditor string
	amount           string
}

func main() {
	if err := run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	log := logger.NewWithLevel("simulate-loops", os.Getenv("LOG_LEVEL"), os.Stderr)

	fmt.Println("=========================================================")
	fmt.Println("DEBT LOOP SIMULATION - MULTILATERAL NETTING")
	fmt.Println("=========================================================")
	fmt.Println("Scenario: 5 companies, two overlapping obligation cycles")
	fmt.Println("---------------------------------------------------------")

	store := memory.NewStore()
	rc := cache.NewMemoryCache()
	conn := settlement.NewSimulatedConnector()
	conn.Open("clearing", decimal.Zero, true)

	engine := netting.NewEngine(netting.DefaultOptions(), netting.DefaultFeeSchedule(), log)
	reg := registry.NewService(store.Companies(), store.Positions(), rc, domain.USD, log)
	loops := loop.NewService(engine, store, store.Companies(), store.Positions(), store.Loops(),
		settlement.NewExecutor(conn, "clearing", log), rc,
		loop.Config{LoopTTL: 72 * time.Hour, ResultCacheTTL: time.Minute}, log)

	companies := []company{
		{"Acme Exports", "ANX-2847", 5000},
		{"Beta Industries", "BTA-5791", 5000},
		{"Gamma Solutions", "GMA-9234", 5000},
		{"Delta Corp", "DLT-1567", 5000},
		{"Echo Enterprises", "ECH-8902", 5000},
	}
	for _, c := range companies {
		handle := "acct-" + c.id
		if _, err := reg.CreateCompany(ctx, &registry.CreateCompanyRequest{Name: c.name, AnonymousID: c.id, PaymentHandle: &handle}); err != nil {
			return err
		}
		conn.Open(handle, decimal.NewFromInt(c.funds), false)
	}

	obligations := []obligation{
		{"ANX-2847", "BTA-5791", "12000"},
		{"BTA-5791", "GMA-9234", "9000"},
		{"GMA-9234", "ANX-2847", "15000"},
		{"BTA-5791", "DLT-1567", "4000"},
		{"DLT-1567", "ECH-8902", "3500"},
		{"ECH-8902", "BTA-5791", "6000"},
	}
	fmt.Println("Recording obligations:")
	for _, o := range obligations {
		amount := decimal.RequireFromString(o.amount)
		if _, err := reg.CreatePosition(ctx, o.debtor, &registry.CreatePositionRequest{
			CounterpartyID: o.creditor,
			Role:           domain.PositionRoleDebt,
			Amount:         amount,
		}); err != nil {
			return err
		}
		fmt.Printf("  %s -> %s: $%s\n", o.debtor, o.creditor, amount.StringFixed(2))
	}
	fmt.Println("")

	resp, err := loops.Detect(ctx, loop.DetectRequest{})
	if err != nil {
		return err
	}
	fmt.Printf("Detected %d loop(s):\n", len(resp.Candidates))
	for i, c := range resp.Candidates {
		fmt.Printf("  %d. %v value=$%s efficiency=%s%% fee=%d tokens\n",
			i+1, c.Participants, c.TotalValue.StringFixed(2), c.Efficiency.Mul(decimal.NewFromInt(100)).StringFixed(1), c.Fee)
	}
	fmt.Println("---------------------------------------------------------")

	for _, c := range resp.Candidates {
		initiator := c.Participants[0]
		detail, err := loops.Propose(ctx, &loop.ProposeRequest{Initiator: initiator, Participants: c.Participants})
		if err != nil {
			return err
		}
		fmt.Printf("Proposed %s by %s\n", detail.Reference, initiator)

		for _, id := range c.Participants[1:] {
			if detail, err = loops.Respond(ctx, detail.ID, id, true); err != nil {
				return err
			}
			fmt.Printf("  %s accepted -> %s\n", id, detail.Status)
		}
		for _, id := range c.Participants {
			fmt.Printf("  %s settles %s\n", id, detail.Settlements[id].StringFixed(2))
		}
	}
	fmt.Println("---------------------------------------------------------")

	fmt.Println("Net positions after netting:")
	for _, c := range companies {
		net, err := reg.NetPosition(ctx, c.id, domain.USD)
		if err != nil {
			return err
		}
		fmt.Printf("  %s (%s): net $%s, account $%s\n",
			c.name, c.id, net.Net.StringFixed(2), conn.Balance("acct-"+c.id).StringFixed(2))
	}

	completed, err := loops.ListLoops(ctx, domain.LoopStatusCompleted)
	if err != nil {
		return err
	}
	if len(completed) == len(resp.Candidates) && len(completed) > 0 {
		fmt.Println("\n[SUCCESS] All detected loops cleared via multilateral netting.")
	} else {
		fmt.Println("\n[FAIL] Some loops did not complete.")
	}
	return nil
}
