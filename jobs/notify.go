package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/repairflow/internal/jobs"
	"github.com/odyssey-erp/repairflow/internal/work"
)

// Message is a rendered customer notification.
type Message struct {
	Kind      work.NotificationKind
	OrderUUID string
	Subject   string
	Body      string
}

// Sender hands a message to the outbound channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log. It is the channel used until an SMS or mail gateway is wired.
type LogSender struct {
	Logger *slog.Logger
}

// Send implements Sender.
func (s LogSender) Send(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "customer notification",
		slog.String("kind", string(msg.Kind)),
		slog.String("order_uuid", msg.OrderUUID),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Body))
	return nil
}

// NotifyJob delivers customer notifications queued by the order lifecycle.
type NotifyJob struct {
	Sender  Sender
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewNotifyJob initialises the notification handler.
func NewNotifyJob(sender Sender, logger *slog.Logger, metrics *jobmetrics.Metrics) *NotifyJob {
	if logger == nil {
		logger = slog.Default()
	}
	if sender == nil {
		sender = LogSender{Logger: logger}
	}
	return &NotifyJob{Sender: sender, Logger: logger, Metrics: metrics}
}

// Handle processes both notification task types.
func (j *NotifyJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil {
		return errors.New("notify: handler not configured")
	}
	tracker := j.Metrics.Track(t.Type())
	defer func() {
		err = tracker.End(err)
	}()

	var n work.Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return fmt.Errorf("notify: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	want, err := notificationTaskType(n.Kind)
	if err != nil || want != t.Type() {
		return fmt.Errorf("notify: payload kind %q does not match task %s: %w", n.Kind, t.Type(), asynq.SkipRetry)
	}
	msg := Render(n)
	if err := j.Sender.Send(ctx, msg); err != nil {
		j.Logger.Warn("notification send failed",
			slog.String("order_uuid", n.OrderUUID),
			slog.String("kind", string(n.Kind)),
			slog.Any("error", err))
		return err
	}
	return nil
}

// Render builds the customer-facing text of a notification.
func Render(n work.Notification) Message {
	msg := Message{Kind: n.Kind, OrderUUID: n.OrderUUID}
	ref := n.DisplayCode
	if ref == "" {
		ref = n.OrderUUID
	}
	switch n.Kind {
	case work.NotifyDiagnosisDeclined:
		msg.Subject = fmt.Sprintf("Repair %s will not proceed", ref)
		msg.Body = fmt.Sprintf("Your device %s (order %s) will not be repaired.", n.SerialNo, ref)
		if n.Reason != "" {
			msg.Body += " Reason: " + n.Reason + "."
		}
		msg.Body += " Please collect it from the service centre."
	case work.NotifyReadyForDelivery:
		msg.Subject = fmt.Sprintf("Repair %s is ready", ref)
		msg.Body = fmt.Sprintf("Your device %s (order %s) has passed quality control and is ready for delivery.", n.SerialNo, ref)
		if n.BillAmount != nil {
			msg.Body += " Amount due: " + n.BillAmount.StringFixed(2) + "."
		}
	}
	return msg
}
