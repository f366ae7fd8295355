package delivery_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/repairflow/internal/delivery"
	"github.com/odyssey-erp/repairflow/internal/delivery/deliverytest"
	"github.com/odyssey-erp/repairflow/internal/shared"
	"github.com/odyssey-erp/repairflow/internal/work"
)

type transitionCounter struct {
	mu    sync.Mutex
	edges []string
}

func (c *transitionCounter) ObserveTransition(module, from, to string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edges = append(c.edges, module+":"+from+"->"+to)
}

type fixture struct {
	orders  *deliverytest.OrderTable
	repo    *deliverytest.Memory
	metrics *transitionCounter
	svc     *delivery.Service
	seq     int
}

func newFixture() *fixture {
	f := &fixture{orders: deliverytest.NewOrderTable(), metrics: &transitionCounter{}}
	f.repo = deliverytest.NewMemory(f.orders)
	ids := 0
	f.svc = delivery.NewService(f.repo, delivery.ServiceDeps{
		Metrics: f.metrics,
		Now:     func() time.Time { return time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC) },
		NewID: func() string {
			ids++
			return fmt.Sprintf("id-%03d", ids)
		},
	})
	return f
}

func (f *fixture) order(status work.Status) string {
	f.seq++
	uuid := fmt.Sprintf("order-%d", f.seq)
	f.orders.Put(delivery.OrderRef{ID: int64(f.seq), UUID: uuid, SerialNo: fmt.Sprintf("SN%d", f.seq), Status: status})
	return uuid
}

func ptr(s string) *string { return &s }

func (f *fixture) challan(t *testing.T) string {
	t.Helper()
	c, err := f.svc.CreateChallan(context.Background(), delivery.CreateChallanInput{
		Type:          delivery.ChallanCustomerPickup,
		CustomerUUID:  ptr("cust-1"),
		PaymentMethod: delivery.PaymentCash,
	})
	require.NoError(t, err)
	return c.UUID
}

func TestCreateChallanRecipientMustMatchType(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateChallan(context.Background(), delivery.CreateChallanInput{
		Type:          delivery.ChallanCustomerPickup,
		CourierUUID:   ptr("courier-1"),
		PaymentMethod: delivery.PaymentDue,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	var fields shared.ValidationErrors
	require.ErrorAs(t, err, &fields)
	assert.Contains(t, fields, "customer_uuid")
	assert.Contains(t, fields, "courier_uuid")

	_, err = f.svc.CreateChallan(context.Background(), delivery.CreateChallanInput{Type: "drone", PaymentMethod: "card"})
	require.ErrorAs(t, err, &fields)
	assert.Contains(t, fields, "challan_type")
	assert.Contains(t, fields, "payment_method")

	c, err := f.svc.CreateChallan(context.Background(), delivery.CreateChallanInput{
		Type:          delivery.ChallanVehicleDelivery,
		VehicleUUID:   ptr("van-7"),
		PaymentMethod: delivery.PaymentDue,
	})
	require.NoError(t, err)
	assert.Equal(t, "CH25-0001", c.DisplayCode)
	assert.Equal(t, "van-7", c.Recipient())
	assert.False(t, c.IsDeliveryComplete)
}

func TestAddOrderToChallanGuards(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first, second := f.challan(t), f.challan(t)
	ready := f.order(work.StatusReadyForDelivery)
	inQC := f.order(work.StatusQCPending)

	_, err := f.svc.AddOrderToChallan(ctx, first, inQC, "")
	require.ErrorIs(t, err, shared.ErrOrderNotReady)

	_, err = f.svc.AddOrderToChallan(ctx, first, "missing", "")
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.AddOrderToChallan(ctx, "missing", ready, "")
	require.ErrorIs(t, err, shared.ErrNotFound)

	entry, err := f.svc.AddOrderToChallan(ctx, first, ready, "")
	require.NoError(t, err)
	assert.Equal(t, ready, entry.OrderUUID)

	_, err = f.svc.AddOrderToChallan(ctx, second, ready, "")
	require.ErrorIs(t, err, shared.ErrOrderAlreadyManifested)
	_, err = f.svc.AddOrderToChallan(ctx, first, ready, "")
	require.ErrorIs(t, err, shared.ErrOrderAlreadyManifested)

	_, err = f.svc.CompleteChallan(ctx, first, "")
	require.NoError(t, err)
	late := f.order(work.StatusReadyForDelivery)
	_, err = f.svc.AddOrderToChallan(ctx, first, late, "")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

// Orders A, B and C share one challan and D sits on another; closing the first delivers only A, B and C.
func TestCompleteChallanDeliversOnlyItsOrders(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	x, y := f.challan(t), f.challan(t)
	a, b, c, d := f.order(work.StatusReadyForDelivery), f.order(work.StatusReadyForDelivery),
		f.order(work.StatusReadyForDelivery), f.order(work.StatusReadyForDelivery)
	for _, id := range []string{a, b, c} {
		_, err := f.svc.AddOrderToChallan(ctx, x, id, "")
		require.NoError(t, err)
	}
	_, err := f.svc.AddOrderToChallan(ctx, y, d, "")
	require.NoError(t, err)

	for _, id := range []string{a, b, c, d} {
		delivered, err := f.svc.IsDelivered(ctx, id)
		require.NoError(t, err)
		require.False(t, delivered)
	}

	result, err := f.svc.CompleteChallan(ctx, x, "emp-1")
	require.NoError(t, err)
	assert.False(t, result.AlreadyComplete)
	assert.ElementsMatch(t, []string{a, b, c}, result.Delivered)
	require.NotNil(t, result.Challan.DeliveryDate)

	for id, want := range map[string]bool{a: true, b: true, c: true, d: false} {
		delivered, err := f.svc.IsDelivered(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, delivered, id)
	}
	assert.Len(t, f.metrics.edges, 3)
	assert.Equal(t, "delivery:ready_for_delivery->delivered", f.metrics.edges[0])

	again, err := f.svc.CompleteChallan(ctx, x, "emp-1")
	require.NoError(t, err)
	assert.True(t, again.AlreadyComplete)
	assert.ElementsMatch(t, []string{a, b, c}, again.Delivered)
	assert.Len(t, f.metrics.edges, 3)

	err = f.svc.RemoveOrderFromChallan(ctx, x, a, "")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestCompleteEmptyChallanFails(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CompleteChallan(context.Background(), f.challan(t), "")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestRemoveOrderReturnsItToReadyList(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ch := f.challan(t)
	first := f.order(work.StatusReadyForDelivery)
	second := f.order(work.StatusReadyForDelivery)
	f.order(work.StatusRepairInProgress)

	ready, err := f.svc.ReadyOrders(ctx, 0)
	require.NoError(t, err)
	require.Len(t, ready, 2)

	_, err = f.svc.AddOrderToChallan(ctx, ch, first, "")
	require.NoError(t, err)
	ready, err = f.svc.ReadyOrders(ctx, 0)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, second, ready[0].UUID)

	require.NoError(t, f.svc.RemoveOrderFromChallan(ctx, ch, first, ""))
	require.ErrorIs(t, f.svc.RemoveOrderFromChallan(ctx, ch, first, ""), shared.ErrNotFound)
	ready, err = f.svc.ReadyOrders(ctx, 0)
	require.NoError(t, err)
	require.Len(t, ready, 2)

	detail, err := f.svc.GetChallan(ctx, ch)
	require.NoError(t, err)
	assert.Empty(t, detail.Entries)
}

func TestConcurrentManifestOfSameOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	challans := []string{f.challan(t), f.challan(t), f.challan(t), f.challan(t)}
	order := f.order(work.StatusReadyForDelivery)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, dupes int
	)
	for _, ch := range challans {
		wg.Add(1)
		go func(ch string) {
			defer wg.Done()
			_, err := f.svc.AddOrderToChallan(ctx, ch, order, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, shared.ErrOrderAlreadyManifested):
				dupes++
			}
		}(ch)
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, len(challans)-1, dupes)
}

func TestHandlerChallanFlow(t *testing.T) {
	f := newFixture()
	ready := f.order(work.StatusReadyForDelivery)
	notReady := f.order(work.StatusQCPending)
	r := chi.NewRouter()
	r.Route("/delivery", delivery.NewHandler(nil, f.svc).MountRoutes)

	do := func(method, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
		return rec
	}

	rec := do(http.MethodPost, "/delivery/challans", map[string]any{
		"challan_type": "courier_delivery", "courier_uuid": "6f1c2f0e-5d0a-4c44-9a57-3b4d7f1a2b3c", "payment_method": "cash",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created delivery.ChallanDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	rec = do(http.MethodPost, "/delivery/challans/"+created.UUID+"/orders", map[string]any{"order_uuid": "not-a-uuid"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	addPath := "/delivery/challans/" + created.UUID + "/orders"
	rec = do(http.MethodPost, addPath, map[string]any{"order_uuid": "00000000-0000-4000-8000-000000000001"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Order uuids in the fixture are not RFC 4122, so the service is driven directly for these two.
	_, err := f.svc.AddOrderToChallan(context.Background(), created.UUID, ready, "")
	require.NoError(t, err)
	_, err = f.svc.AddOrderToChallan(context.Background(), created.UUID, notReady, "")
	require.ErrorIs(t, err, shared.ErrOrderNotReady)

	rec = do(http.MethodPost, "/delivery/challans/"+created.UUID+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(http.MethodGet, "/delivery/orders/"+ready+"/delivered", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Delivered bool `json:"delivered"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.True(t, status.Delivered)

	rec = do(http.MethodDelete, "/delivery/challans/"+created.UUID+"/orders/"+ready, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodGet, "/delivery/challans/"+created.UUID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail delivery.ChallanDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&detail))
	assert.True(t, detail.IsDeliveryComplete)
	assert.Len(t, detail.Entries, 1)
}
