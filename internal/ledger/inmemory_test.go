package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestInMemoryStore_RollbackRestoresEveryWrite(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	owner, err := s.CreateOwner(ctx, Owner{Kind: KindStudent, Name: "Ada"})
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}

	var inserted Fund
	err = s.WithinTx(ctx, func(tx Tx) error {
		inserted, err = tx.InsertFund(ctx, Fund{OwnerKind: KindStudent, OwnerID: owner.ID, Amount: dec("5"), Kind: Deposit, Date: day("2024-01-01")})
		if err != nil {
			return err
		}
		if err := tx.AdjustBalance(ctx, KindStudent, owner.ID, dec("5")); err != nil {
			return err
		}
		return errInjected
	})
	if !errors.Is(err, errInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}

	if _, err := s.GetFund(ctx, KindStudent, inserted.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected fund rolled back, got %v", err)
	}
	got, _ := s.GetOwner(ctx, KindStudent, owner.ID)
	if !got.Balance.IsZero() {
		t.Fatalf("expected balance rolled back, got %s", got.Balance)
	}
}

func TestInMemoryStore_IdentifiersAreNotReused(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	owner, _ := s.CreateOwner(ctx, Owner{Kind: KindClass, Name: "P1"})

	var first Fund
	_ = s.WithinTx(ctx, func(tx Tx) error {
		first, _ = tx.InsertFund(ctx, Fund{OwnerKind: KindClass, OwnerID: owner.ID, Amount: dec("1"), Kind: Deposit, Date: day("2024-01-01")})
		return errInjected
	})

	var second Fund
	if err := s.WithinTx(ctx, func(tx Tx) error {
		var err error
		second, err = tx.InsertFund(ctx, Fund{OwnerKind: KindClass, OwnerID: owner.ID, Amount: dec("1"), Kind: Deposit, Date: day("2024-01-01")})
		return err
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("expected fresh identifier after rollback, got %d then %d", first.ID, second.ID)
	}
}

func TestInMemoryStore_ReadsReturnCopies(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	owner, _ := s.CreateOwner(ctx, Owner{Kind: KindStudent, Name: "Ada"})
	reason := "books"

	var created Fund
	if err := s.WithinTx(ctx, func(tx Tx) error {
		var err error
		created, err = tx.InsertFund(ctx, Fund{OwnerKind: KindStudent, OwnerID: owner.ID, Amount: dec("3"), Kind: Deposit, Date: day("2024-01-01"), Reason: &reason})
		return err
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	reason = "changed"
	fetched, _ := s.GetFund(ctx, KindStudent, created.ID)
	*fetched.Reason = "mutated"

	again, _ := s.GetFund(ctx, KindStudent, created.ID)
	if *again.Reason != "books" {
		t.Fatalf("stored fund aliased caller memory: %q", *again.Reason)
	}
}

func TestInMemoryStore_LockOwnersMissing(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	owner, _ := s.CreateOwner(ctx, Owner{Kind: KindStudent, Name: "Ada"})

	err := s.WithinTx(ctx, func(tx Tx) error {
		return tx.LockOwners(ctx, KindStudent, owner.ID, owner.ID+1)
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInMemoryStore_CanceledContext(t *testing.T) {
	s := NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithinTx(ctx, func(tx Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected canceled context to abort before running, got %v called=%v", err, called)
	}
}
