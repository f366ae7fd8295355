package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/repairflow/internal/work"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotifications carries customer notifications.
	QueueNotifications = "notifications"

	// TaskNotifyDiagnosisDeclined tells a customer their device will not be repaired.
	TaskNotifyDiagnosisDeclined = "notify:diagnosis_declined"
	// TaskNotifyReadyForDelivery tells a customer their device passed QC.
	TaskNotifyReadyForDelivery = "notify:ready_for_delivery"
	// TaskNegativeStockScan lists stock rows driven below zero by overrides.
	TaskNegativeStockScan = "store:negative_stock_scan"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
)

// notificationTaskType maps a notification kind to its task type.
func notificationTaskType(kind work.NotificationKind) (string, error) {
	switch kind {
	case work.NotifyDiagnosisDeclined:
		return TaskNotifyDiagnosisDeclined, nil
	case work.NotifyReadyForDelivery:
		return TaskNotifyReadyForDelivery, nil
	}
	return "", fmt.Errorf("jobs: unknown notification kind %q", kind)
}

// NewNotificationTask constructs the task delivering n.
func NewNotificationTask(n work.Notification) (*asynq.Task, error) {
	taskType, err := notificationTaskType(n.Kind)
	if err != nil {
		return nil, err
	}
	if n.OrderUUID == "" {
		return nil, fmt.Errorf("jobs: notification without order")
	}
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

// NegativeStockScanPayload bounds the scan.
type NegativeStockScanPayload struct {
	Limit int `json:"limit"`
}

// NewNegativeStockScanTask constructs the scan task.
func NewNegativeStockScanTask(limit int) (*asynq.Task, error) {
	data, err := json.Marshal(NegativeStockScanPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNegativeStockScan, data), nil
}

// IdempotencyCleanupPayload sets how long keys are kept.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention.Hours())})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
