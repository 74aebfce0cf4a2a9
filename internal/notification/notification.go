package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// KindFundCreated is emitted after a fund and its balance effect commit.
	KindFundCreated = "fund_created"
	// KindFundUpdated is emitted after a fund is patched and rebalanced.
	KindFundUpdated = "fund_updated"
	// KindFundDeleted is emitted after a fund is removed and reversed.
	KindFundDeleted = "fund_deleted"
	// KindOwnerDeleted is emitted after an owner and its funds are removed.
	KindOwnerDeleted = "owner_deleted"
)

// Message describes a committed ledger change.
type Message struct {
	Kind            string          `json:"kind"`
	OwnerKind       string          `json:"owner_kind"`
	OwnerID         int64           `json:"owner_id"`
	PreviousOwnerID int64           `json:"previous_owner_id,omitempty"`
	FundID          int64           `json:"fund_id,omitempty"`
	FundKind        string          `json:"fund_kind,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// Notifier delivers ledger change notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"kind", message.Kind,
		"owner_kind", message.OwnerKind,
		"owner_id", message.OwnerID,
		"fund_id", message.FundID,
		"amount", message.Amount.String(),
	)
	return nil
}
