package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"orderpipe/internal/domain/event"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_notifications_sent_total",
		Help: "The total number of notification attempts handed to the transport",
	})
	notificationSendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_notification_send_errors_total",
		Help: "The total number of notification transport failures (swallowed)",
	})
)

type Notification struct {
	OrderID string
	UserID  string
	Subject string
	Body    string
}

// Notifier is the external delivery collaborator. Delivery is fire-and-forget:
// a failure is logged and dropped, it never blocks checkpoint advancement.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// SlogNotifier is the simulated transport: it logs the notification instead
// of delivering it.
type SlogNotifier struct{}

func (SlogNotifier) Send(ctx context.Context, n Notification) error {
	slog.Info("notification sent", "order_id", n.OrderID, "user_id", n.UserID, "subject", n.Subject)
	return nil
}

// NotificationHandler turns order events into user notifications. Wrap with
// Idempotent so a redelivered event does not notify twice.
type NotificationHandler struct {
	notifier Notifier
}

func NewNotificationHandler(notifier Notifier) *NotificationHandler {
	return &NotificationHandler{notifier: notifier}
}

func (h *NotificationHandler) Apply(ctx context.Context, env event.Envelope) error {
	var n Notification

	switch env.Type {
	case event.TypeOrderCreated:
		var p event.OrderCreated
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return &event.SchemaError{Cause: fmt.Errorf("decode %s payload: %w", env.Type, err)}
		}
		n = Notification{
			OrderID: p.OrderID,
			UserID:  p.UserID,
			Subject: "Order received",
			Body:    fmt.Sprintf("Your order for %q (amount %d) was received.", p.Item, p.Amount),
		}
	case event.TypeOrderStatusChanged:
		var p event.OrderStatusChanged
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return &event.SchemaError{Cause: fmt.Errorf("decode %s payload: %w", env.Type, err)}
		}
		n = Notification{
			OrderID: p.OrderID,
			Subject: "Order update",
			Body:    fmt.Sprintf("Your order is now %s.", p.NewStatus),
		}
	default:
		// Not a notification-relevant event.
		return nil
	}

	notificationsSent.Inc()
	if err := h.notifier.Send(ctx, n); err != nil {
		notificationSendErrors.Inc()
		slog.Error("notification delivery failed", "order_id", n.OrderID, "event_id", env.ID, "error", err)
	}
	return nil
}
