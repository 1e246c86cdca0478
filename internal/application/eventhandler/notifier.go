// Package eventhandler reacts to engine events published on the bus.
package eventhandler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grindstone-hq/grindstone/internal/domain/notification"
	"github.com/grindstone-hq/grindstone/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// NOTIFIER
// Turns engine events into notifications and hands them to a sender.
// Repeats of the same type within the cooldown are dropped, except urgent
// ones.
// ═══════════════════════════════════════════════════════════════════════════

// NotifierConfig configures the notifier.
type NotifierConfig struct {
	// MinPriority drops anything below it.
	MinPriority notification.Priority

	// Cooldown is measured on event time, not wall time.
	Cooldown time.Duration

	// SendTimeout bounds a single delivery.
	SendTimeout time.Duration
}

// DefaultNotifierConfig returns the daemon defaults.
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		MinPriority: notification.PriorityNormal,
		Cooldown:    time.Minute,
		SendTimeout: 5 * time.Second,
	}
}

// Notifier handles every event on the bus.
type Notifier struct {
	sender notification.Sender
	config NotifierConfig
	logger *slog.Logger

	mu   sync.Mutex
	last map[notification.Type]time.Time

	sent       atomic.Int64
	suppressed atomic.Int64
}

// NewNotifier creates a notifier.
func NewNotifier(sender notification.Sender, config NotifierConfig, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 5 * time.Second
	}
	return &Notifier{
		sender: sender,
		config: config,
		logger: logger.With("handler", "notifier"),
		last:   make(map[notification.Type]time.Time),
	}
}

// Register subscribes the notifier to every event.
func (n *Notifier) Register(sub shared.EventSubscriber) error {
	return sub.SubscribeAll(n.Handle)
}

// Handle implements shared.EventHandler.
func (n *Notifier) Handle(ev shared.Event) error {
	note, err := notification.FromEvent(ev)
	if errors.Is(err, notification.ErrNotNotifiable) {
		return nil
	}
	if err != nil {
		return err
	}
	if note.Priority < n.config.MinPriority || !n.admit(note) {
		n.suppressed.Add(1)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.config.SendTimeout)
	defer cancel()
	if err := n.sender.Send(ctx, note); err != nil {
		n.logger.Error("failed to deliver notification",
			"type", string(note.Type),
			"error", err,
		)
		return err
	}
	n.sent.Add(1)
	return nil
}

func (n *Notifier) admit(note notification.Notification) bool {
	if note.Priority >= notification.PriorityUrgent || n.config.Cooldown <= 0 {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if prev, ok := n.last[note.Type]; ok && note.CreatedAt.Sub(prev) < n.config.Cooldown {
		return false
	}
	n.last[note.Type] = note.CreatedAt
	return true
}

// Sent returns how many notifications were delivered.
func (n *Notifier) Sent() int64 { return n.sent.Load() }

// Suppressed returns how many were dropped by priority or cooldown.
func (n *Notifier) Suppressed() int64 { return n.suppressed.Load() }
