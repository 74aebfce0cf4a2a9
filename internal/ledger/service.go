package ledger

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/school-funds/school_funds/internal/logging"
	"github.com/school-funds/school_funds/internal/notification"
)

// Service exposes owner and fund operations and keeps every owner's balance
// equal to the signed sum of its funds.
type Service struct {
	store    Store
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService builds a ledger service over the given store. notifier and
// logger may be nil.
func NewService(store Store, notifier notification.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{store: store, notifier: notifier, logger: logger}
}

// CreateOwner registers a student or class with a zero balance. Email is
// only kept for students.
func (s *Service) CreateOwner(ctx context.Context, kind OwnerKind, name, email string) (Owner, error) {
	if !kind.Valid() {
		return Owner{}, validationError("unknown owner kind")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Owner{}, validationError("name is required")
	}
	email = strings.TrimSpace(email)
	if kind != KindStudent {
		email = ""
	}
	if err := validateEmail(email); err != nil {
		return Owner{}, err
	}
	now := time.Now().UTC()
	return s.store.CreateOwner(ctx, Owner{
		Kind:      kind,
		Name:      name,
		Email:     email,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// GetOwner returns a single owner or ErrNotFound.
func (s *Service) GetOwner(ctx context.Context, kind OwnerKind, id int64) (Owner, error) {
	if !kind.Valid() {
		return Owner{}, validationError("unknown owner kind")
	}
	return s.store.GetOwner(ctx, kind, id)
}

// ListOwners returns all owners of a kind ordered by name.
func (s *Service) ListOwners(ctx context.Context, kind OwnerKind) ([]Owner, error) {
	if !kind.Valid() {
		return nil, validationError("unknown owner kind")
	}
	return s.store.ListOwners(ctx, kind)
}

// UpdateStudent edits a student's name or email. The balance is untouched.
func (s *Service) UpdateStudent(ctx context.Context, id int64, patch StudentPatch) (Owner, error) {
	owner, err := s.store.GetOwner(ctx, KindStudent, id)
	if err != nil {
		return Owner{}, err
	}
	if patch.Name == nil && patch.Email == nil {
		return owner, nil
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return Owner{}, validationError("name cannot be empty")
		}
		owner.Name = name
	}
	if patch.Email != nil {
		email := strings.TrimSpace(*patch.Email)
		if err := validateEmail(email); err != nil {
			return Owner{}, err
		}
		owner.Email = email
	}
	owner.UpdatedAt = time.Now().UTC()
	return s.store.UpdateOwner(ctx, owner)
}

// DeleteOwner removes the owner together with all of its funds. The funds go
// in bulk; no per-fund balance reversal happens since the owner row is
// removed as well.
func (s *Service) DeleteOwner(ctx context.Context, kind OwnerKind, id int64) (bool, error) {
	if !kind.Valid() {
		return false, validationError("unknown owner kind")
	}
	deleted, err := s.store.DeleteOwner(ctx, kind, id)
	if err != nil || !deleted {
		return deleted, err
	}
	s.notify(ctx, notification.Message{
		Kind:      notification.KindOwnerDeleted,
		OwnerKind: string(kind),
		OwnerID:   id,
	})
	return true, nil
}

// Audit recomputes every owner's balance from its funds and returns the
// owners whose cached balance disagrees. Both reads are taken separately, so
// writes racing with an audit can show up as transient drift.
func (s *Service) Audit(ctx context.Context, kind OwnerKind) ([]Drift, error) {
	owners, err := s.ListOwners(ctx, kind)
	if err != nil {
		return nil, err
	}
	funds, err := s.store.ListFunds(ctx, kind, FundFilter{})
	if err != nil {
		return nil, err
	}
	sums := make(map[int64]decimal.Decimal, len(owners))
	for _, f := range funds {
		sums[f.OwnerID] = sums[f.OwnerID].Add(f.Contribution())
	}
	drifts := make([]Drift, 0)
	for _, o := range owners {
		expected := sums[o.ID]
		if !o.Balance.Equal(expected) {
			drifts = append(drifts, Drift{OwnerID: o.ID, Balance: o.Balance, Expected: expected})
		}
	}
	return drifts, nil
}

// validateEmail accepts an empty email or a bare address without a display name.
func validateEmail(email string) error {
	if email == "" {
		return nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return validationError("invalid email format")
	}
	return nil
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("ledger notification failed",
			slog.String("kind", msg.Kind),
			slog.String("owner_kind", msg.OwnerKind),
			slog.Int64("owner_id", msg.OwnerID),
			slog.Any("error", err),
		)
	}
}
