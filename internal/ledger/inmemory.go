package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type inMemoryStore struct {
	mu       sync.RWMutex
	owners   map[OwnerKind]map[int64]Owner
	funds    map[OwnerKind]map[int64]Fund
	ownerSeq map[OwnerKind]int64
	fundSeq  map[OwnerKind]int64
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit
// tests and local development. Units of work hold the write lock for their
// whole duration and are undone on failure.
func NewInMemory() Store {
	s := &inMemoryStore{
		owners:   make(map[OwnerKind]map[int64]Owner),
		funds:    make(map[OwnerKind]map[int64]Fund),
		ownerSeq: make(map[OwnerKind]int64),
		fundSeq:  make(map[OwnerKind]int64),
	}
	for _, kind := range []OwnerKind{KindStudent, KindClass} {
		s.owners[kind] = make(map[int64]Owner)
		s.funds[kind] = make(map[int64]Fund)
	}
	return s
}

func (s *inMemoryStore) CreateOwner(_ context.Context, owner Owner) (Owner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUniqueName(owner); err != nil {
		return Owner{}, err
	}
	s.ownerSeq[owner.Kind]++
	owner.ID = s.ownerSeq[owner.Kind]
	s.owners[owner.Kind][owner.ID] = owner
	return owner, nil
}

func (s *inMemoryStore) GetOwner(_ context.Context, kind OwnerKind, id int64) (Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.owners[kind][id]
	if !ok {
		return Owner{}, notFound(kind, "owner", id)
	}
	return owner, nil
}

func (s *inMemoryStore) ListOwners(_ context.Context, kind OwnerKind) ([]Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Owner, 0, len(s.owners[kind]))
	for _, o := range s.owners[kind] {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *inMemoryStore) UpdateOwner(_ context.Context, owner Owner) (Owner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.owners[owner.Kind][owner.ID]
	if !ok {
		return Owner{}, notFound(owner.Kind, "owner", owner.ID)
	}
	if err := s.checkUniqueName(owner); err != nil {
		return Owner{}, err
	}
	current.Name = owner.Name
	current.Email = owner.Email
	current.UpdatedAt = owner.UpdatedAt
	s.owners[owner.Kind][owner.ID] = current
	return current, nil
}

func (s *inMemoryStore) DeleteOwner(_ context.Context, kind OwnerKind, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.owners[kind][id]; !ok {
		return false, nil
	}
	delete(s.owners[kind], id)
	for fid, f := range s.funds[kind] {
		if f.OwnerID == id {
			delete(s.funds[kind], fid)
		}
	}
	return true, nil
}

func (s *inMemoryStore) GetFund(_ context.Context, kind OwnerKind, id int64) (Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.funds[kind][id]
	if !ok {
		return Fund{}, fundNotFound(kind, id)
	}
	return cloneFund(f), nil
}

func (s *inMemoryStore) ListFunds(_ context.Context, kind OwnerKind, filter FundFilter) ([]Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Fund, 0, len(s.funds[kind]))
	for _, f := range s.funds[kind] {
		if filter.OwnerID != nil && f.OwnerID != *filter.OwnerID {
			continue
		}
		out = append(out, cloneFund(f))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *inMemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *inMemoryStore) checkUniqueName(owner Owner) error {
	if owner.Kind != KindClass {
		return nil
	}
	for _, o := range s.owners[owner.Kind] {
		if o.ID != owner.ID && o.Name == owner.Name {
			return fmt.Errorf("%w: class %q already exists", ErrConflict, owner.Name)
		}
	}
	return nil
}

// memTx mutates the store directly and journals the inverse of every write.
// The store's write lock is held by WithinTx for the lifetime of the unit.
type memTx struct {
	s    *inMemoryStore
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) LockOwners(_ context.Context, kind OwnerKind, ids ...int64) error {
	for _, id := range ids {
		if _, ok := t.s.owners[kind][id]; !ok {
			return notFound(kind, "owner", id)
		}
	}
	return nil
}

func (t *memTx) AdjustBalance(_ context.Context, kind OwnerKind, id int64, delta decimal.Decimal) error {
	owner, ok := t.s.owners[kind][id]
	if !ok {
		return notFound(kind, "owner", id)
	}
	prev := owner
	owner.Balance = owner.Balance.Add(delta)
	owner.UpdatedAt = time.Now().UTC()
	t.s.owners[kind][id] = owner
	t.undo = append(t.undo, func() { t.s.owners[kind][id] = prev })
	return nil
}

func (t *memTx) LockFund(ctx context.Context, kind OwnerKind, id int64, with ...int64) (Fund, error) {
	f, ok := t.s.funds[kind][id]
	if !ok {
		return Fund{}, fundNotFound(kind, id)
	}
	if err := t.LockOwners(ctx, kind, with...); err != nil {
		return Fund{}, err
	}
	return cloneFund(f), nil
}

func (t *memTx) InsertFund(_ context.Context, fund Fund) (Fund, error) {
	kind := fund.OwnerKind
	if _, ok := t.s.owners[kind][fund.OwnerID]; !ok {
		return Fund{}, notFound(kind, "owner", fund.OwnerID)
	}
	t.s.fundSeq[kind]++
	fund.ID = t.s.fundSeq[kind]
	fund = cloneFund(fund)
	t.s.funds[kind][fund.ID] = fund
	id := fund.ID
	t.undo = append(t.undo, func() { delete(t.s.funds[kind], id) })
	return cloneFund(fund), nil
}

func (t *memTx) UpdateFund(_ context.Context, fund Fund) (Fund, error) {
	kind := fund.OwnerKind
	prev, ok := t.s.funds[kind][fund.ID]
	if !ok {
		return Fund{}, fundNotFound(kind, fund.ID)
	}
	if _, ok := t.s.owners[kind][fund.OwnerID]; !ok {
		return Fund{}, notFound(kind, "owner", fund.OwnerID)
	}
	fund.CreatedAt = prev.CreatedAt
	fund = cloneFund(fund)
	t.s.funds[kind][fund.ID] = fund
	t.undo = append(t.undo, func() { t.s.funds[kind][prev.ID] = prev })
	return cloneFund(fund), nil
}

func (t *memTx) DeleteFund(_ context.Context, kind OwnerKind, id int64) (bool, error) {
	prev, ok := t.s.funds[kind][id]
	if !ok {
		return false, nil
	}
	delete(t.s.funds[kind], id)
	t.undo = append(t.undo, func() { t.s.funds[kind][id] = prev })
	return true, nil
}

func cloneFund(f Fund) Fund {
	if f.Reason != nil {
		reason := *f.Reason
		f.Reason = &reason
	}
	return f
}
