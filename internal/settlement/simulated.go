package settlement

import (
	"context"
	"fmt"
	"sync"

	"debtloop/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SimulatedConnector keeps balances in memory. Accounts opened with
// overdraft may go negative; others reject transfers they cannot cover.
type SimulatedConnector struct {
	mu        sync.Mutex
	balances  map[string]decimal.Decimal
	overdraft map[string]bool
	failing   map[string]bool
	autoOpen  bool
	ledger    []SimulatedTransfer
}

// SimulatedTransfer is a completed transfer recorded by the connector.
type SimulatedTransfer struct {
	Reference string
	From      string
	To        string
	Amount    decimal.Decimal
	Currency  domain.Currency
}

func NewSimulatedConnector() *SimulatedConnector {
	return &SimulatedConnector{
		balances:  make(map[string]decimal.Decimal),
		overdraft: make(map[string]bool),
		failing:   make(map[string]bool),
	}
}

// Open creates handle with an initial balance.
func (c *SimulatedConnector) Open(handle string, balance decimal.Decimal, allowOverdraft bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[handle] = balance
	c.overdraft[handle] = allowOverdraft
}

// SetAutoOpen makes transfers create unknown accounts on first use with a
// zero balance and overdraft allowed.
func (c *SimulatedConnector) SetAutoOpen(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoOpen = enabled
}

// FailTransfersFrom makes every transfer touching handle fail.
func (c *SimulatedConnector) FailTransfersFrom(handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing[handle] = true
}

// Balance returns the handle's balance.
func (c *SimulatedConnector) Balance(handle string) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[handle]
}

// Transfers returns the transfers completed so far.
func (c *SimulatedConnector) Transfers() []SimulatedTransfer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SimulatedTransfer(nil), c.ledger...)
}

func (c *SimulatedConnector) Transfer(ctx context.Context, from, to string, amount decimal.Decimal, currency domain.Currency) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !amount.IsPositive() {
		return "", ErrNonPositiveAmount
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.autoOpen {
		for _, h := range []string{from, to} {
			if _, ok := c.balances[h]; !ok {
				c.balances[h] = decimal.Zero
				c.overdraft[h] = true
			}
		}
	}

	fromBal, ok := c.balances[from]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAccount, from)
	}
	if _, ok := c.balances[to]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAccount, to)
	}
	if c.failing[from] || c.failing[to] {
		return "", ErrTransferRejected
	}
	if !c.overdraft[from] && fromBal.LessThan(amount) {
		return "", fmt.Errorf("%w: %s", ErrInsufficientFunds, from)
	}

	c.balances[from] = fromBal.Sub(amount)
	c.balances[to] = c.balances[to].Add(amount)

	ref := fmt.Sprintf("SIM-%s", uuid.New().String()[:8])
	c.ledger = append(c.ledger, SimulatedTransfer{
		Reference: ref, From: from, To: to, Amount: amount, Currency: currency,
	})
	return ref, nil
}
