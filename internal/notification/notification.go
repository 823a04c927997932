package notification

import (
	"context"
	"log/slog"
	"sync"
)

const (
	// KindSwapSettled indicates a purchase landed on chain.
	KindSwapSettled = "swap_settled"
	// KindDepositReceived indicates new SOL arrived at a custodial wallet.
	KindDepositReceived = "deposit_received"
)

// Message describes a notification payload. Destination is an application
// user identifier; each Notifier resolves it to its own channel.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger.
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
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}

// Hub delivers each message to every registered notifier. Notifiers may be
// added after the hub is handed to its senders.
type Hub struct {
	mu        sync.RWMutex
	notifiers []Notifier
}

// NewHub builds a hub with the given notifiers.
func NewHub(notifiers ...Notifier) *Hub {
	return &Hub{notifiers: notifiers}
}

// Add registers another notifier.
func (h *Hub) Add(n Notifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifiers = append(h.notifiers, n)
}

// Send implements Notifier and returns the first delivery error.
func (h *Hub) Send(ctx context.Context, message Message) error {
	h.mu.RLock()
	targets := append([]Notifier(nil), h.notifiers...)
	h.mu.RUnlock()

	var first error
	for _, n := range targets {
		if err := n.Send(ctx, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorder keeps messages in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Send implements Notifier.
func (r *Recorder) Send(_ context.Context, message Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

// Messages returns a copy of everything sent so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}
