package inventory

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// MemoryStore is an in-process RepositoryPort with the same locking and
// rollback contract as ledger.MemoryStore.
type MemoryStore struct {
	mu     sync.Mutex
	stock  map[int64]Stock
	cards  []StockCardEntry
	nextID int64
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stock: make(map[int64]Stock)}
}

// WithTx runs fn against the store.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	restore := m.Snapshot()
	if err := fn(ctx, m.Tx()); err != nil {
		restore()
		return err
	}
	return nil
}

// Tx returns an unlocked transactional view.
func (m *MemoryStore) Tx() TxRepository {
	return memoryTx{m: m}
}

// Snapshot captures the current state and returns a function restoring it.
func (m *MemoryStore) Snapshot() func() {
	stock := maps.Clone(m.stock)
	cards := slices.Clone(m.cards)
	nextID := m.nextID
	return func() {
		m.stock, m.cards, m.nextID = stock, cards, nextID
	}
}

func (m *MemoryStore) GetStock(_ context.Context, productID int64) (Stock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stock[productID]
	if !ok {
		return Stock{}, ErrStockNotFound
	}
	return s, nil
}

func (m *MemoryStore) GetStockCard(_ context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StockCardEntry
	for _, c := range m.cards {
		if c.ProductID == filter.ProductID {
			out = append(out, c)
		}
	}
	return out, nil
}

type memoryTx struct {
	m *MemoryStore
}

func (t memoryTx) GetStockForUpdate(_ context.Context, productID int64) (Stock, error) {
	s, ok := t.m.stock[productID]
	if !ok {
		return Stock{}, ErrStockNotFound
	}
	return s, nil
}

func (t memoryTx) UpsertStock(_ context.Context, stock Stock) error {
	t.m.stock[stock.ProductID] = stock
	return nil
}

func (t memoryTx) InsertCardEntry(_ context.Context, card StockCardEntry) (int64, error) {
	t.m.nextID++
	card.ID = t.m.nextID
	t.m.cards = append(t.m.cards, card)
	return card.ID, nil
}
