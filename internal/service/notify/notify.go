package notify

import (
	"context"

	"github.com/opensharehq/pointsledger/internal/logger"
	"github.com/opensharehq/pointsledger/internal/models"
)

// Event kinds delivered to the notification collaborator
const (
	EventEarn                = "points.earn"
	EventSpend               = "points.spend"
	EventWithdrawalSubmitted = "withdrawal.submitted"
	EventWithdrawalApproved  = "withdrawal.approved"
	EventWithdrawalRejected  = "withdrawal.rejected"
	EventWithdrawalCancelled = "withdrawal.cancelled"
	EventWithdrawalCompleted = "withdrawal.completed"
	EventContractSigned      = "contract.signed"
	EventContractRevoked     = "contract.revoked"
)

type Event struct {
	Kind        string
	Owner       models.Owner
	Points      int64
	ReferenceID string
}

// Notifier receives ledger events fire-and-forget. Implementations must not
// block the calling operation; delivery failures are their own problem.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// LogNotifier writes events to the service log. It stands in for the real
// messaging collaborator, which consumes the same events out of band.
type LogNotifier struct {
	Logger logger.Logger
}

func (n *LogNotifier) Notify(_ context.Context, e Event) {
	n.Logger.Info("ledger event",
		"kind", e.Kind,
		"owner_type", e.Owner.Type,
		"owner_id", e.Owner.ID,
		"points", e.Points,
		"reference_id", e.ReferenceID,
	)
}

// Nop discards all events
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}
