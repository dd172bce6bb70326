package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// Notifier buffers committed audit records for asynchronous publishing.
// Delivery is best effort: the ledger has already committed, so a full queue
// drops the notification instead of blocking the caller.
type Notifier struct {
	mu     sync.RWMutex
	queue  chan domain.AuditRecord
	closed bool
	logger *zap.Logger
}

func NewNotifier(queueSize int, logger *zap.Logger) *Notifier {
	return &Notifier{
		queue:  make(chan domain.AuditRecord, queueSize),
		logger: logger,
	}
}

func (n *Notifier) Enqueue(record domain.AuditRecord) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}

	select {
	case n.queue <- record:
	default:
		n.logger.Warn("notification queue full, dropping record",
			zap.String("transaction_id", record.TransactionID),
			zap.Stringer("key", record.Key))
	}
}

func (n *Notifier) GetQueue() <-chan domain.AuditRecord {
	return n.queue
}

func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
}

// PublishLoop drains queue into publisher until the queue is closed.
func PublishLoop(id int, queue <-chan domain.AuditRecord, publisher port.EventPublisher, logger *zap.Logger) {
	for record := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		if err := publisher.Publish(ctx, record); err != nil {
			logger.Warn("failed to publish ledger transaction",
				zap.Int("worker", id),
				zap.String("transaction_id", record.TransactionID),
				zap.Error(err))
		} else {
			logger.Debug("published ledger transaction",
				zap.Int("worker", id),
				zap.String("transaction_id", record.TransactionID))
		}

		cancel()
	}
}
