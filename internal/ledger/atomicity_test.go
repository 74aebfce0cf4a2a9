package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

var errInjected = errors.New("injected failure")

// faultyStore wraps a Store so that the chosen Tx step fails.
type faultyStore struct {
	Store
	failOn string
}

func (s faultyStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.Store.WithinTx(ctx, func(tx Tx) error {
		return fn(faultyTx{Tx: tx, failOn: s.failOn})
	})
}

type faultyTx struct {
	Tx
	failOn string
}

func (t faultyTx) AdjustBalance(ctx context.Context, kind OwnerKind, id int64, delta decimal.Decimal) error {
	if t.failOn == "adjust" {
		return errInjected
	}
	return t.Tx.AdjustBalance(ctx, kind, id, delta)
}

// failSecondAdjust lets the reversal through and fails the re-application.
type failSecondAdjust struct {
	Tx
	calls *int
}

func (t failSecondAdjust) AdjustBalance(ctx context.Context, kind OwnerKind, id int64, delta decimal.Decimal) error {
	*t.calls++
	if *t.calls == 2 {
		return errInjected
	}
	return t.Tx.AdjustBalance(ctx, kind, id, delta)
}

func (t faultyTx) InsertFund(ctx context.Context, fund Fund) (Fund, error) {
	if t.failOn == "insert" {
		return Fund{}, errInjected
	}
	return t.Tx.InsertFund(ctx, fund)
}

func (t faultyTx) DeleteFund(ctx context.Context, kind OwnerKind, id int64) (bool, error) {
	if t.failOn == "delete" {
		return false, errInjected
	}
	return t.Tx.DeleteFund(ctx, kind, id)
}

func (t faultyTx) UpdateFund(ctx context.Context, fund Fund) (Fund, error) {
	if t.failOn == "update" {
		return Fund{}, errInjected
	}
	return t.Tx.UpdateFund(ctx, fund)
}

type snapshot struct {
	balances map[int64]decimal.Decimal
	funds    map[int64]Fund
}

func takeSnapshot(t *testing.T, store Store, kind OwnerKind) snapshot {
	t.Helper()
	ctx := context.Background()
	owners, err := store.ListOwners(ctx, kind)
	if err != nil {
		t.Fatalf("list owners: %v", err)
	}
	funds, err := store.ListFunds(ctx, kind, FundFilter{})
	if err != nil {
		t.Fatalf("list funds: %v", err)
	}
	snap := snapshot{balances: map[int64]decimal.Decimal{}, funds: map[int64]Fund{}}
	for _, o := range owners {
		snap.balances[o.ID] = o.Balance
	}
	for _, f := range funds {
		snap.funds[f.ID] = f
	}
	return snap
}

func assertSnapshotEqual(t *testing.T, want, got snapshot) {
	t.Helper()
	if len(want.balances) != len(got.balances) {
		t.Fatalf("owner count changed: %d -> %d", len(want.balances), len(got.balances))
	}
	for id, b := range want.balances {
		if !got.balances[id].Equal(b) {
			t.Fatalf("owner %d balance changed: %s -> %s", id, b, got.balances[id])
		}
	}
	if len(want.funds) != len(got.funds) {
		t.Fatalf("fund count changed: %d -> %d", len(want.funds), len(got.funds))
	}
	for id, f := range want.funds {
		g, ok := got.funds[id]
		if !ok {
			t.Fatalf("fund %d disappeared", id)
		}
		if g.OwnerID != f.OwnerID || !g.Amount.Equal(f.Amount) || g.Kind != f.Kind || !g.Date.Equal(f.Date) {
			t.Fatalf("fund %d changed: %+v -> %+v", id, f, g)
		}
	}
}

// seeded returns a store with two students and a few funds.
func seeded(t *testing.T) (Store, Owner, Owner, Fund) {
	t.Helper()
	store := NewInMemory()
	svc := NewService(store, nil, nil)
	a := mustOwner(t, svc, KindStudent, "Ada")
	b := mustOwner(t, svc, KindStudent, "Brian")
	f := mustFund(t, svc, KindStudent, a.ID, "20", Deposit)
	mustFund(t, svc, KindStudent, b.ID, "5", Withdrawal)
	return store, a, b, f
}

func TestCreateFundFailureLeavesNoTrace(t *testing.T) {
	for _, step := range []string{"adjust", "insert"} {
		t.Run(step, func(t *testing.T) {
			store, a, _, _ := seeded(t)
			before := takeSnapshot(t, store, KindStudent)

			svc := NewService(faultyStore{Store: store, failOn: step}, nil, nil)
			_, err := svc.CreateFund(context.Background(), KindStudent, NewFund{
				OwnerID: a.ID, Amount: dec("50"), Kind: Deposit, Date: day("2024-09-02"),
			})
			if !errors.Is(err, errInjected) {
				t.Fatalf("expected injected failure, got %v", err)
			}
			assertSnapshotEqual(t, before, takeSnapshot(t, store, KindStudent))
			assertBalanced(t, NewService(store, nil, nil), KindStudent)
		})
	}
}

func TestDeleteFundFailureLeavesNoTrace(t *testing.T) {
	for _, step := range []string{"adjust", "delete"} {
		t.Run(step, func(t *testing.T) {
			store, _, _, f := seeded(t)
			before := takeSnapshot(t, store, KindStudent)

			svc := NewService(faultyStore{Store: store, failOn: step}, nil, nil)
			if _, err := svc.DeleteFund(context.Background(), KindStudent, f.ID); !errors.Is(err, errInjected) {
				t.Fatalf("expected injected failure, got %v", err)
			}
			assertSnapshotEqual(t, before, takeSnapshot(t, store, KindStudent))
		})
	}
}

func TestUpdateFundFailureLeavesNoTrace(t *testing.T) {
	for _, step := range []string{"adjust", "update"} {
		t.Run(step, func(t *testing.T) {
			store, _, b, f := seeded(t)
			before := takeSnapshot(t, store, KindStudent)

			svc := NewService(faultyStore{Store: store, failOn: step}, nil, nil)
			amount := dec("35")
			if _, err := svc.UpdateFund(context.Background(), KindStudent, f.ID, FundPatch{OwnerID: &b.ID, Amount: &amount}); !errors.Is(err, errInjected) {
				t.Fatalf("expected injected failure, got %v", err)
			}
			assertSnapshotEqual(t, before, takeSnapshot(t, store, KindStudent))
		})
	}
}

type secondAdjustFailStore struct {
	Store
}

func (s secondAdjustFailStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	calls := 0
	return s.Store.WithinTx(ctx, func(tx Tx) error {
		return fn(failSecondAdjust{Tx: tx, calls: &calls})
	})
}

func TestReassignmentFailureBetweenOwnersRollsBackReversal(t *testing.T) {
	store, _, b, f := seeded(t)
	before := takeSnapshot(t, store, KindStudent)

	svc := NewService(secondAdjustFailStore{Store: store}, nil, nil)
	if _, err := svc.UpdateFund(context.Background(), KindStudent, f.ID, FundPatch{OwnerID: &b.ID}); !errors.Is(err, errInjected) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	assertSnapshotEqual(t, before, takeSnapshot(t, store, KindStudent))
}

func TestWithinTxRollsBackOnPanic(t *testing.T) {
	store, a, _, _ := seeded(t)
	before := takeSnapshot(t, store, KindStudent)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = store.WithinTx(context.Background(), func(tx Tx) error {
			if err := tx.AdjustBalance(context.Background(), KindStudent, a.ID, dec("1000")); err != nil {
				return err
			}
			panic("boom")
		})
	}()

	assertSnapshotEqual(t, before, takeSnapshot(t, store, KindStudent))
}

// lockRecorder records the owner ids each lock call asks for.
type lockRecorder struct {
	Tx
	calls *[]string
}

func (t lockRecorder) LockOwners(ctx context.Context, kind OwnerKind, ids ...int64) error {
	*t.calls = append(*t.calls, "owners")
	return t.Tx.LockOwners(ctx, kind, ids...)
}

func (t lockRecorder) LockFund(ctx context.Context, kind OwnerKind, id int64, with ...int64) (Fund, error) {
	*t.calls = append(*t.calls, "fund")
	*t.calls = append(*t.calls, fmt.Sprint(with))
	return t.Tx.LockFund(ctx, kind, id, with...)
}

type recordingLocks struct {
	Store
	calls []string
}

func (s *recordingLocks) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.Store.WithinTx(ctx, func(tx Tx) error {
		return fn(lockRecorder{Tx: tx, calls: &s.calls})
	})
}

func TestReassignmentLocksBothOwnersInOnePass(t *testing.T) {
	base, a, b, _ := seeded(t)
	// fund owned by the higher id moves to the lower one
	moved := mustFund(t, NewService(base, nil, nil), KindStudent, b.ID, "7", Deposit)

	store := &recordingLocks{Store: base}
	svc := NewService(store, nil, nil)
	if _, err := svc.UpdateFund(context.Background(), KindStudent, moved.ID, FundPatch{OwnerID: &a.ID}); err != nil {
		t.Fatalf("update: %v", err)
	}
	want := []string{"fund", fmt.Sprint([]int64{a.ID})}
	if len(store.calls) != len(want) || store.calls[0] != want[0] || store.calls[1] != want[1] {
		t.Fatalf("expected a single LockFund carrying the new owner, got %v", store.calls)
	}
	assertBalanced(t, svc, KindStudent)
}

func TestUniqueSortedOrdersLockIDs(t *testing.T) {
	got := uniqueSorted([]int64{9, 2, 9, 5, 2})
	want := []int64{2, 5, 9}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
