package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OwnerKind selects one of the two symmetric subsystems.
type OwnerKind string

const (
	KindStudent OwnerKind = "student"
	KindClass   OwnerKind = "class"
)

// Valid reports whether k names a known owner kind.
func (k OwnerKind) Valid() bool {
	return k == KindStudent || k == KindClass
}

// FundKind carries the direction of a fund transaction.
type FundKind string

const (
	Deposit    FundKind = "deposit"
	Withdrawal FundKind = "withdrawal"
)

// ParseFundKind validates a raw kind string.
func ParseFundKind(s string) (FundKind, error) {
	switch FundKind(s) {
	case Deposit, Withdrawal:
		return FundKind(s), nil
	default:
		return "", validationError("kind must be deposit or withdrawal")
	}
}

// Owner is a student or class holding a running balance. Balance is a cache
// of the signed sum of the owner's funds and is only written by AdjustBalance.
type Owner struct {
	ID        int64
	Kind      OwnerKind
	Name      string
	Email     string
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Fund is a deposit or withdrawal recorded against one owner.
type Fund struct {
	ID        int64
	OwnerKind OwnerKind
	OwnerID   int64
	Amount    decimal.Decimal
	Kind      FundKind
	Date      time.Time
	Reason    *string
	CreatedAt time.Time
}

// Contribution is the signed amount the fund adds to its owner's balance.
func (f Fund) Contribution() decimal.Decimal {
	return contribution(f.Kind, f.Amount)
}

func contribution(kind FundKind, amount decimal.Decimal) decimal.Decimal {
	if kind == Withdrawal {
		return amount.Neg()
	}
	return amount
}

// NewFund captures the fields required to record a fund transaction.
type NewFund struct {
	OwnerID int64
	Amount  decimal.Decimal
	Kind    FundKind
	Date    time.Time
	Reason  *string
}

// FundPatch lists the fields an update may change. Nil fields keep the
// existing value.
type FundPatch struct {
	OwnerID *int64
	Amount  *decimal.Decimal
	Kind    *FundKind
	Date    *time.Time
	Reason  *string
}

// apply merges the patch into f.
func (p FundPatch) apply(f Fund) Fund {
	if p.OwnerID != nil {
		f.OwnerID = *p.OwnerID
	}
	if p.Amount != nil {
		f.Amount = *p.Amount
	}
	if p.Kind != nil {
		f.Kind = *p.Kind
	}
	if p.Date != nil {
		f.Date = civilDate(*p.Date)
	}
	if p.Reason != nil {
		f.Reason = normalizeReason(p.Reason)
	}
	return f
}

// normalizeReason copies a reason, mapping blank text to nil.
func normalizeReason(reason *string) *string {
	if reason == nil || strings.TrimSpace(*reason) == "" {
		return nil
	}
	r := *reason
	return &r
}

// StudentPatch lists the editable student profile fields.
type StudentPatch struct {
	Name  *string
	Email *string
}

// FundFilter narrows ListFunds to one owner when OwnerID is set.
type FundFilter struct {
	OwnerID *int64
}

// Drift reports an owner whose cached balance disagrees with its funds.
type Drift struct {
	OwnerID  int64
	Balance  decimal.Decimal
	Expected decimal.Decimal
}

// civilDate drops the clock part so dates compare as calendar days.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
