package ledger

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/odyssey-erp/jewel-ledger/internal/money"
	"github.com/odyssey-erp/jewel-ledger/internal/shared"
)

// MemoryStore is an in-process RepositoryPort. WithTx serializes callers on a
// single mutex, which stands in for the row locks, and restores the previous
// state when the callback fails.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[int64]Account
	txns     []Transaction
	keys     map[string]string
	nextAcc  int64
	nextTxn  int64
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[int64]Account), keys: make(map[string]string)}
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

// Tx returns an unlocked transactional view. Callers composing the store
// into a larger in-memory repository hold their own lock and call Snapshot.
func (m *MemoryStore) Tx() TxRepository {
	return memoryTx{m: m}
}

// Snapshot captures the current state and returns a function restoring it.
func (m *MemoryStore) Snapshot() func() {
	accounts := maps.Clone(m.accounts)
	txns := slices.Clone(m.txns)
	keys := maps.Clone(m.keys)
	nextAcc, nextTxn := m.nextAcc, m.nextTxn
	return func() {
		m.accounts, m.txns, m.keys = accounts, txns, keys
		m.nextAcc, m.nextTxn = nextAcc, nextTxn
	}
}

func (m *MemoryStore) GetAccount(_ context.Context, id int64) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return Account{}, shared.NotFound("ledger account", id)
	}
	return acc, nil
}

func (m *MemoryStore) ListAccounts(context.Context) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Collect(maps.Values(m.accounts))
	slices.SortFunc(out, func(a, b Account) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *MemoryStore) ListTransactions(_ context.Context, accountID int64, filter StatementFilter) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transaction
	for _, txn := range m.txns {
		if txn.AccountID != accountID {
			continue
		}
		if !filter.From.IsZero() && txn.TxDate.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && txn.TxDate.After(filter.To) {
			continue
		}
		out = append(out, txn)
	}
	return out, nil
}

type memoryTx struct {
	m *MemoryStore
}

func (t memoryTx) CreateAccount(_ context.Context, account Account) (int64, error) {
	for _, existing := range t.m.accounts {
		if existing.Code == account.Code {
			return 0, shared.Invalid("code", "account code %q already exists", account.Code)
		}
	}
	t.m.nextAcc++
	account.ID = t.m.nextAcc
	t.m.accounts[account.ID] = account
	return account.ID, nil
}

func (t memoryTx) GetAccountForUpdate(_ context.Context, id int64) (Account, error) {
	acc, ok := t.m.accounts[id]
	if !ok {
		return Account{}, shared.NotFound("ledger account", id)
	}
	return acc, nil
}

func (t memoryTx) UpdateAccountBalance(_ context.Context, id int64, balance money.Amount, at time.Time) error {
	acc := t.m.accounts[id]
	acc.Balance = balance
	acc.UpdatedAt = at
	t.m.accounts[id] = acc
	return nil
}

func (t memoryTx) SetAccountActive(_ context.Context, id int64, active bool, at time.Time) error {
	acc := t.m.accounts[id]
	acc.Active = active
	acc.UpdatedAt = at
	t.m.accounts[id] = acc
	return nil
}

func (t memoryTx) DeleteAccount(_ context.Context, id int64) error {
	delete(t.m.accounts, id)
	return nil
}

func (t memoryTx) CountTransactions(_ context.Context, accountID int64) (int64, error) {
	var n int64
	for _, txn := range t.m.txns {
		if txn.AccountID == accountID {
			n++
		}
	}
	return n, nil
}

func (t memoryTx) InsertTransaction(_ context.Context, txn Transaction) (int64, error) {
	t.m.nextTxn++
	txn.ID = t.m.nextTxn
	t.m.txns = append(t.m.txns, txn)
	return txn.ID, nil
}

func (t memoryTx) GetTransactionForUpdate(_ context.Context, id int64) (Transaction, error) {
	for _, txn := range t.m.txns {
		if txn.ID == id {
			return txn, nil
		}
	}
	return Transaction{}, shared.NotFound("ledger transaction", id)
}

func (t memoryTx) MarkReconciled(_ context.Context, id int64, at time.Time) error {
	for i := range t.m.txns {
		if t.m.txns[i].ID == id {
			txn := t.m.txns[i]
			txn.Reconciled = true
			txn.ReconciledAt = &at
			t.m.txns[i] = txn
		}
	}
	return nil
}

func (t memoryTx) ListPostings(_ context.Context, accountID int64) ([]Transaction, error) {
	var out []Transaction
	for _, txn := range t.m.txns {
		if txn.AccountID == accountID {
			out = append(out, txn)
		}
	}
	return out, nil
}

func (t memoryTx) RegisterIdempotencyKey(_ context.Context, key, module string) error {
	if _, dup := t.m.keys[key]; dup {
		return shared.ErrIdempotencyConflict
	}
	t.m.keys[key] = module
	return nil
}
