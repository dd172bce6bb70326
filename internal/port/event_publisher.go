package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// EventPublisher announces committed ledger transactions to other systems.
type EventPublisher interface {
	Publish(ctx context.Context, record domain.AuditRecord) error
}
