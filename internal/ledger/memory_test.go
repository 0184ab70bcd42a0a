package ledger

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/jewel-ledger/internal/money"
)

// corrupt overwrites a stored balance without a posting.
func (m *MemoryStore) corrupt(accountID int64, balance money.Amount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc := m.accounts[accountID]
	acc.Balance = balance
	m.accounts[accountID] = acc
}

func TestMemoryStoreListsAccountsByID(t *testing.T) {
	store := NewMemoryStore()
	for _, id := range []int64{math.MaxInt64, -2, 7} {
		store.accounts[id] = Account{ID: id, Code: "A"}
	}
	list, err := store.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{-2, 7, math.MaxInt64}, []int64{list[0].ID, list[1].ID, list[2].ID})
}
