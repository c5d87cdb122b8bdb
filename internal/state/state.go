package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stratbot/internal/asset"
)

type Position struct {
	Instrument asset.Instrument `json:"instrument"`
	Qty        decimal.Decimal  `json:"qty"`
}

type OpenOrder struct {
	ClientOrderID string `json:"client_order_id"`
	OrderID       string `json:"order_id"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
}

type Snapshot struct {
	Strategy             string               `json:"strategy"`
	PortfolioValue       decimal.Decimal      `json:"portfolio_value"`
	Positions            map[string]Position  `json:"positions"`
	OpenOrders           map[string]OpenOrder `json:"open_orders"`
	LastCycle            time.Time            `json:"last_cycle"`
	LastRebalance        time.Time            `json:"last_rebalance"`
	CyclesSinceRebalance int                  `json:"cycles_since_rebalance"`
}

// Due reports whether a strategy that rebalances every n cycles should
// rebalance now. The first cycle always rebalances.
func (s Snapshot) Due(every int) bool {
	return every <= 1 || s.LastRebalance.IsZero() || s.CyclesSinceRebalance >= every
}

type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

func NewStore(strategy string) *Store {
	return &Store{
		snapshot: Snapshot{
			Strategy:   strategy,
			Positions:  map[string]Position{},
			OpenOrders: map[string]OpenOrder{},
		},
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copy := s.snapshot
	copy.Positions = make(map[string]Position, len(s.snapshot.Positions))
	for k, v := range s.snapshot.Positions {
		copy.Positions[k] = v
	}
	copy.OpenOrders = make(map[string]OpenOrder, len(s.snapshot.OpenOrders))
	for k, v := range s.snapshot.OpenOrders {
		copy.OpenOrders[k] = v
	}
	return copy
}

func (s *Store) SetPositions(positions map[string]Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Positions = positions
}

func (s *Store) SetOpenOrders(orders map[string]OpenOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.OpenOrders = orders
}

func (s *Store) SetPortfolioValue(v decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.PortfolioValue = v
}

// RecordCycle marks a finished cycle and whether it rebalanced.
func (s *Store) RecordCycle(t time.Time, rebalanced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.LastCycle = t
	if rebalanced {
		s.snapshot.LastRebalance = t
		s.snapshot.CyclesSinceRebalance = 1
		return
	}
	s.snapshot.CyclesSinceRebalance++
}

// Save writes the checkpoint atomically.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.snapshot, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Load restores a checkpoint. A checkpoint written for another strategy is
// rejected so cadence counters do not leak between strategies.
func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}
	if snapshot.Positions == nil {
		snapshot.Positions = map[string]Position{}
	}
	if snapshot.OpenOrders == nil {
		snapshot.OpenOrders = map[string]OpenOrder{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot.Strategy != "" && snapshot.Strategy != s.snapshot.Strategy {
		return fmt.Errorf("checkpoint is for strategy %q, not %q", snapshot.Strategy, s.snapshot.Strategy)
	}
	s.snapshot = snapshot
	return nil
}
