package eventhandler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/grindstone-hq/grindstone/internal/domain/notification"
)

// LogSender writes notifications to a structured log.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger.With("component", "notifications")}
}

// Send implements notification.Sender.
func (s *LogSender) Send(ctx context.Context, n notification.Notification) error {
	level := slog.LevelInfo
	if n.Priority >= notification.PriorityHigh {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, n.Title,
		"type", string(n.Type),
		"priority", n.Priority.String(),
		"message", n.Message,
	)
	return nil
}

// Inbox keeps the newest notifications in memory.
type Inbox struct {
	mu       sync.RWMutex
	items    []notification.Notification
	capacity int
}

// NewInbox creates an inbox holding up to capacity notifications.
func NewInbox(capacity int) *Inbox {
	if capacity <= 0 {
		capacity = 100
	}
	return &Inbox{capacity: capacity}
}

// Send implements notification.Sender.
func (b *Inbox) Send(_ context.Context, n notification.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, n)
	if over := len(b.items) - b.capacity; over > 0 {
		b.items = append(b.items[:0:0], b.items[over:]...)
	}
	return nil
}

// Recent returns up to n notifications, newest last. n <= 0 returns all.
func (b *Inbox) Recent(n int) []notification.Notification {
	b.mu.RLock()
	defer b.mu.RUnlock()
	start := 0
	if n > 0 && n < len(b.items) {
		start = len(b.items) - n
	}
	out := make([]notification.Notification, len(b.items)-start)
	copy(out, b.items[start:])
	return out
}

// Senders fans a notification out to several senders.
type Senders []notification.Sender

// Send implements notification.Sender. Every sender is tried.
func (s Senders) Send(ctx context.Context, n notification.Notification) error {
	var errs []error
	for _, sender := range s {
		if err := sender.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
