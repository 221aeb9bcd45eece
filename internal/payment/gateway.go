package payment

import (
	"context"
	"sync"
)

// SimulatedGateway stands in for a real payment provider. By default every
// charge succeeds; tests and demos script outcomes per order. MaxAmountCents,
// when non-zero, declines anything above it.
type SimulatedGateway struct {
	mu             sync.Mutex
	declines       map[string]string // order id -> decline reason
	outages        map[string]int    // order id -> remaining transient failures
	MaxAmountCents int64
}

func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{
		declines: make(map[string]string),
		outages:  make(map[string]int),
	}
}

// DeclineOrder makes every charge for orderID come back declined.
func (g *SimulatedGateway) DeclineOrder(orderID, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.declines[orderID] = reason
}

// FailTimes makes the next n charges for orderID error out before answering,
// simulating a gateway outage the worker should retry through.
func (g *SimulatedGateway) FailTimes(orderID string, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outages[orderID] = n
}

func (g *SimulatedGateway) Charge(_ context.Context, req ChargeRequest) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if left := g.outages[req.OrderID]; left > 0 {
		g.outages[req.OrderID] = left - 1
		return Result{}, errGatewayUnavailable
	}
	if reason, ok := g.declines[req.OrderID]; ok {
		return Result{Reason: reason}, nil
	}
	if g.MaxAmountCents > 0 && req.AmountCents > g.MaxAmountCents {
		return Result{Reason: "insufficient_funds"}, nil
	}
	return Result{Succeeded: true}, nil
}

var errGatewayUnavailable = gatewayError("payment gateway unavailable")

type gatewayError string

func (e gatewayError) Error() string { return string(e) }
