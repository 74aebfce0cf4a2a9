package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates the requested owner or fund does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks malformed or out-of-range input rejected before any
	// state is touched.
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates a uniqueness violation such as a duplicate class name.
	ErrConflict = errors.New("conflict")

	// ErrStorage wraps failures of the underlying store. The atomic unit that
	// produced it has been rolled back.
	ErrStorage = errors.New("storage failure")
)

// errFundMissing distinguishes a missing fund from a missing owner; both
// match ErrNotFound.
var errFundMissing = fmt.Errorf("fund %w", ErrNotFound)

func fundNotFound(kind OwnerKind, id int64) error {
	return fmt.Errorf("%s fund %d: %w", kind, id, errFundMissing)
}

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

func notFound(kind OwnerKind, what string, id int64) error {
	return fmt.Errorf("%s %s %d: %w", kind, what, id, ErrNotFound)
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Store is the persistence contract for owners and their funds. Reads run
// outside any unit of work; every balance-affecting write goes through
// WithinTx.
type Store interface {
	CreateOwner(ctx context.Context, owner Owner) (Owner, error)
	GetOwner(ctx context.Context, kind OwnerKind, id int64) (Owner, error)
	ListOwners(ctx context.Context, kind OwnerKind) ([]Owner, error)
	// UpdateOwner writes name and email only; balance is never copied.
	UpdateOwner(ctx context.Context, owner Owner) (Owner, error)
	// DeleteOwner removes the owner and all of its funds in one step without
	// touching any balance.
	DeleteOwner(ctx context.Context, kind OwnerKind, id int64) (bool, error)

	GetFund(ctx context.Context, kind OwnerKind, id int64) (Fund, error)
	ListFunds(ctx context.Context, kind OwnerKind, filter FundFilter) ([]Fund, error)

	// WithinTx runs fn as one atomic unit. A non-nil error from fn, or from
	// committing, leaves both owners and funds exactly as they were.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write surface available inside an atomic unit.
type Tx interface {
	// LockOwners serialises access to the given owners for the rest of the
	// unit and fails with ErrNotFound when any of them is missing.
	LockOwners(ctx context.Context, kind OwnerKind, ids ...int64) error
	// AdjustBalance applies balance += delta and refreshes updatedAt. It is
	// the only write path to an owner's balance.
	AdjustBalance(ctx context.Context, kind OwnerKind, id int64, delta decimal.Decimal) error

	// LockFund reads a fund for update, ErrNotFound when absent. The fund's
	// current owner and any owners in with are locked first, all in one
	// ordered pass, before the fund row itself.
	LockFund(ctx context.Context, kind OwnerKind, id int64, with ...int64) (Fund, error)
	InsertFund(ctx context.Context, fund Fund) (Fund, error)
	UpdateFund(ctx context.Context, fund Fund) (Fund, error)
	DeleteFund(ctx context.Context, kind OwnerKind, id int64) (bool, error)
}
