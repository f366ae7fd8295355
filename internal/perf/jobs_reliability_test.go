package perf

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/repairflow/internal/jobs"
	"github.com/odyssey-erp/repairflow/internal/work"
	"github.com/odyssey-erp/repairflow/jobs"
)

// flakySender fails every nth message.
type flakySender struct {
	n     int64
	calls atomic.Int64
}

func (s *flakySender) Send(context.Context, jobs.Message) error {
	if s.calls.Add(1)%s.n == 0 {
		return errors.New("gateway timeout")
	}
	return nil
}

func TestNotifyJobReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := jobs.NewNotifyJob(&flakySender{n: 25}, nil, metrics)

	bill := decimal.NewFromInt(450)
	task, err := jobs.NewNotificationTask(work.Notification{
		Kind:        work.NotifyReadyForDelivery,
		OrderUUID:   "order-1",
		DisplayCode: "WO25-0001",
		BillAmount:  &bill,
	})
	require.NoError(t, err)

	failed := 0
	for i := 0; i < 100; i++ {
		if err := job.Handle(context.Background(), task); err != nil {
			failed++
		}
	}
	require.Equal(t, 4, failed)

	// a payload that can never succeed is not retried
	bad := asynq.NewTask(jobs.TaskNotifyReadyForDelivery, []byte("{"))
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)

	families, err := reg.Gather()
	require.NoError(t, err)
	labels := map[string]string{"job": jobs.TaskNotifyReadyForDelivery}
	success := counterValue(t, families, "repairflow_jobs_total", with(labels, "status", "success"))
	failure := counterValue(t, families, "repairflow_jobs_total", with(labels, "status", "failure"))
	dropped := counterValue(t, families, "repairflow_jobs_total", with(labels, "status", "dropped"))
	require.Equal(t, 96.0, success)
	require.Equal(t, 4.0, failure)
	require.Equal(t, 1.0, dropped)
	require.GreaterOrEqual(t, success/(success+failure), 0.9)
	require.Equal(t, 5.0, counterValue(t, families, "repairflow_jobs_failures_total", labels))
}

func with(labels map[string]string, k, v string) map[string]string {
	out := map[string]string{k: v}
	for key, val := range labels {
		out[key] = val
	}
	return out
}

func counterValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range metric.GetLabel() {
		if labels[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}
