package ledger

import "github.com/shopspring/decimal"

// seedBalance overwrites an owner's cached balance in the in-memory store
// without recording a fund, producing drift on purpose.
func seedBalance(s Store, kind OwnerKind, id int64, amount decimal.Decimal) {
	mem, ok := s.(*inMemoryStore)
	if !ok {
		return
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if owner, exists := mem.owners[kind][id]; exists {
		owner.Balance = amount
		mem.owners[kind][id] = owner
	}
}
