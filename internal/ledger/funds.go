package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/school-funds/school_funds/internal/notification"
)

// CreateFund records a deposit or withdrawal and applies its contribution to
// the owner in the same atomic unit.
func (s *Service) CreateFund(ctx context.Context, kind OwnerKind, in NewFund) (Fund, error) {
	if !kind.Valid() {
		return Fund{}, validationError("unknown owner kind")
	}
	if in.Kind == "" && kind == KindClass {
		in.Kind = Deposit
	}
	if err := validateNewFund(in); err != nil {
		return Fund{}, err
	}

	fund := Fund{
		OwnerKind: kind,
		OwnerID:   in.OwnerID,
		Amount:    in.Amount,
		Kind:      in.Kind,
		Date:      civilDate(in.Date),
		Reason:    normalizeReason(in.Reason),
		CreatedAt: time.Now().UTC(),
	}

	var created Fund
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		if err := tx.LockOwners(ctx, kind, fund.OwnerID); err != nil {
			return err
		}
		var err error
		created, err = tx.InsertFund(ctx, fund)
		if err != nil {
			return err
		}
		return tx.AdjustBalance(ctx, kind, created.OwnerID, created.Contribution())
	})
	if err != nil {
		return Fund{}, err
	}

	s.notify(ctx, fundMessage(notification.KindFundCreated, created))
	return created, nil
}

// UpdateFund patches a fund and moves its balance effect accordingly. It
// returns nil without error when the fund does not exist. An empty patch
// still runs the reverse/apply pair, which nets to zero.
func (s *Service) UpdateFund(ctx context.Context, kind OwnerKind, id int64, patch FundPatch) (*Fund, error) {
	if !kind.Valid() {
		return nil, validationError("unknown owner kind")
	}
	if err := validatePatch(kind, patch); err != nil {
		return nil, err
	}

	var (
		updated  *Fund
		previous Fund
	)
	var target []int64
	if patch.OwnerID != nil {
		target = append(target, *patch.OwnerID)
	}
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		existing, err := tx.LockFund(ctx, kind, id, target...)
		if errors.Is(err, errFundMissing) {
			return nil
		}
		if err != nil {
			return err
		}
		previous = existing

		merged := patch.apply(existing)
		if !merged.Amount.IsPositive() {
			return validationError("amount must be positive")
		}
		if err := rebalance(ctx, tx, kind,
			existing.OwnerID, existing.Contribution(),
			merged.OwnerID, merged.Contribution(),
		); err != nil {
			return err
		}

		if patch.empty() {
			updated = &existing
			return nil
		}
		saved, err := tx.UpdateFund(ctx, merged)
		if err != nil {
			return err
		}
		updated = &saved
		return nil
	})
	if err != nil || updated == nil {
		return nil, err
	}

	msg := fundMessage(notification.KindFundUpdated, *updated)
	if previous.OwnerID != updated.OwnerID {
		msg.PreviousOwnerID = previous.OwnerID
	}
	s.notify(ctx, msg)
	return updated, nil
}

// DeleteFund removes a fund and reverses its contribution. It reports false
// when the fund does not exist, leaving every balance as it was.
func (s *Service) DeleteFund(ctx context.Context, kind OwnerKind, id int64) (bool, error) {
	if !kind.Valid() {
		return false, validationError("unknown owner kind")
	}

	var removed *Fund
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		existing, err := tx.LockFund(ctx, kind, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.AdjustBalance(ctx, kind, existing.OwnerID, existing.Contribution().Neg()); err != nil {
			return err
		}
		deleted, err := tx.DeleteFund(ctx, kind, id)
		if err != nil {
			return err
		}
		if !deleted {
			return fundNotFound(kind, id)
		}
		removed = &existing
		return nil
	})
	if err != nil || removed == nil {
		return false, err
	}

	s.notify(ctx, fundMessage(notification.KindFundDeleted, *removed))
	return true, nil
}

// GetFund returns a single fund or ErrNotFound.
func (s *Service) GetFund(ctx context.Context, kind OwnerKind, id int64) (Fund, error) {
	if !kind.Valid() {
		return Fund{}, validationError("unknown owner kind")
	}
	return s.store.GetFund(ctx, kind, id)
}

// ListFunds returns funds most recent first: by date, then by creation.
func (s *Service) ListFunds(ctx context.Context, kind OwnerKind, filter FundFilter) ([]Fund, error) {
	if !kind.Valid() {
		return nil, validationError("unknown owner kind")
	}
	return s.store.ListFunds(ctx, kind, filter)
}

// rebalance moves a fund's effect from (oldOwner, oldContribution) to
// (newOwner, newContribution) as one step. The old contribution is reversed
// before the new one is applied so the fund is never counted twice. Both
// owners must already be locked by the enclosing unit.
func rebalance(ctx context.Context, tx Tx, kind OwnerKind, oldOwner int64, oldContribution decimal.Decimal, newOwner int64, newContribution decimal.Decimal) error {
	if err := tx.AdjustBalance(ctx, kind, oldOwner, oldContribution.Neg()); err != nil {
		return err
	}
	return tx.AdjustBalance(ctx, kind, newOwner, newContribution)
}

func validateNewFund(in NewFund) error {
	if in.OwnerID <= 0 {
		return validationError("owner id is required")
	}
	if err := validateAmount(in.Amount); err != nil {
		return err
	}
	if _, err := ParseFundKind(string(in.Kind)); err != nil {
		return err
	}
	if in.Date.IsZero() {
		return validationError("date is required")
	}
	return nil
}

// maxAmount is the first value that no longer fits NUMERIC(14,2).
var maxAmount = decimal.New(1, 12)

// validateAmount accepts positive amounts in whole cents that fit the
// storage column, so both stores hold exactly the value that was validated.
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return validationError("amount must be positive")
	}
	if !amount.Equal(amount.Round(2)) {
		return validationError("amount must have at most two decimal places")
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return validationError("amount is too large")
	}
	return nil
}

func validatePatch(kind OwnerKind, p FundPatch) error {
	if p.OwnerID != nil {
		if kind != KindStudent {
			return validationError("class funds cannot be reassigned")
		}
		if *p.OwnerID <= 0 {
			return validationError("owner id must be positive")
		}
	}
	if p.Amount != nil {
		if err := validateAmount(*p.Amount); err != nil {
			return err
		}
	}
	if p.Kind != nil {
		if _, err := ParseFundKind(string(*p.Kind)); err != nil {
			return err
		}
	}
	if p.Date != nil && p.Date.IsZero() {
		return validationError("date is required")
	}
	return nil
}

func (p FundPatch) empty() bool {
	return p.OwnerID == nil && p.Amount == nil && p.Kind == nil && p.Date == nil && p.Reason == nil
}

func fundMessage(kind string, f Fund) notification.Message {
	return notification.Message{
		Kind:       kind,
		OwnerKind:  string(f.OwnerKind),
		OwnerID:    f.OwnerID,
		FundID:     f.ID,
		FundKind:   string(f.Kind),
		Amount:     f.Amount,
		OccurredAt: time.Now().UTC(),
	}
}
