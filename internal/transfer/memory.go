package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Memory is an in-process network used for local development and tests. It
// honors reference idempotency the way the real network does.
type Memory struct {
	mu       sync.Mutex
	applied  map[string]*Receipt
	balances map[string]decimal.Decimal
	down     bool
}

func NewMemory() *Memory {
	return &Memory{
		applied:  make(map[string]*Receipt),
		balances: make(map[string]decimal.Decimal),
	}
}

// SetDown toggles simulated unreachability.
func (m *Memory) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

func (m *Memory) Anchor(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return "", ErrTemporarilyUnavailable
	}
	return fmt.Sprintf("anchor-%d", time.Now().Unix()), nil
}

func (m *Memory) Submit(ctx context.Context, t Transfer) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, ErrTemporarilyUnavailable
	}
	if _, ok := m.applied[t.Reference]; ok {
		return nil, ErrAlreadyApplied
	}
	receipt := &Receipt{
		Reference: t.Reference,
		Signature: uuid.NewString(),
		AppliedAt: time.Now().UTC(),
	}
	m.applied[t.Reference] = receipt
	m.balances[t.Destination] = m.balances[t.Destination].Add(t.Amount)
	return receipt, nil
}

func (m *Memory) Lookup(ctx context.Context, reference string) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, ErrTemporarilyUnavailable
	}
	receipt, ok := m.applied[reference]
	if !ok {
		return nil, ErrNotFound
	}
	return receipt, nil
}

// Balance returns the total received by a destination account.
func (m *Memory) Balance(destination string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[destination]
}
