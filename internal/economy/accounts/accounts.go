// Package accounts is the external currency ledger that claim deposits,
// withdrawals and anchor refunds move money through.
package accounts

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"voxelclaims.ai/internal/sim/model"
)

type Accounts interface {
	Balance(ctx context.Context, player uuid.UUID) (float64, error)
	// Credit adds amount to the player's account.
	Credit(ctx context.Context, player uuid.UUID, amount float64) error
	// Debit removes amount, failing with model.ErrInsufficientFunds when short.
	Debit(ctx context.Context, player uuid.UUID, amount float64) error
}

func checkAmount(amount float64) error {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("%w: amount %v", model.ErrInvalid, amount)
	}
	return nil
}

// Memory is an in-process ledger.
type Memory struct {
	mu       sync.Mutex
	balances map[uuid.UUID]float64
}

func NewMemory() *Memory {
	return &Memory{balances: map[uuid.UUID]float64{}}
}

func (m *Memory) Balance(_ context.Context, player uuid.UUID) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[player], nil
}

func (m *Memory) Credit(_ context.Context, player uuid.UUID, amount float64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	m.balances[player] += amount
	m.mu.Unlock()
	return nil
}

func (m *Memory) Debit(_ context.Context, player uuid.UUID, amount float64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[player] < amount {
		return fmt.Errorf("%w: have %.2f, need %.2f", model.ErrInsufficientFunds, m.balances[player], amount)
	}
	m.balances[player] -= amount
	return nil
}
