package payment_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"ms-boxoffice/internal/apperr"
	"ms-boxoffice/internal/catalog"
	"ms-boxoffice/internal/clock"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/models"
	"ms-boxoffice/internal/order"
	"ms-boxoffice/internal/order/memstore"
	"ms-boxoffice/internal/payment"
	"ms-boxoffice/internal/payment/gateway"
	"ms-boxoffice/internal/pricing"
	"ms-boxoffice/internal/seatguard"
	"ms-boxoffice/internal/seatlock"
)

var base = time.Date(2026, 10, 21, 18, 0, 0, 0, time.UTC)

type env struct {
	handler *payment.Handler
	orders  *order.Service
	store   *memstore.Store
	locks   *seatlock.Service
	catalog *catalog.Memory
	gw      *gateway.Mock
	clock   *clock.Fake
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cat := catalog.NewMemory()
	cat.PutRoom(models.Room{ID: "room-1", Rows: []models.SeatRow{
		{Label: "A", Seats: []models.Seat{{Number: 1}, {Number: 2}}},
	}})
	cat.PutShowtime(models.Showtime{ID: "show-1", RoomID: "room-1", MovieID: "m"})
	cat.PutProduct(models.Product{ID: "popcorn", Price: 2500, TrackStock: true, Stock: 5, Active: true})

	clk := clock.NewFake(base)
	store := memstore.New()
	lockStore := seatlock.NewMemory()
	guard := seatguard.New()
	gw := gateway.NewMock("http://localhost:8084")

	orders := &order.Service{
		Store:    store,
		Locks:    lockStore,
		Guard:    guard,
		Catalog:  cat,
		Pricing:  pricing.NewEngine(cat, pricing.Config{ServiceFeeRate: 0.05, DefaultPrices: map[models.SeatType]int64{models.SeatStandard: 5000}}),
		Gateway:  gw,
		Clock:    clk,
		OrderTTL: 15 * time.Minute,
		Currency: "clp",
		Logger:   logger.NewNop(),
	}
	return &env{
		handler: &payment.Handler{Payments: store, Orders: orders, Gateway: gw, Logger: logger.NewNop()},
		orders:  orders,
		store:   store,
		locks: &seatlock.Service{
			Store: lockStore, Guard: guard, Occupancy: store, Layout: cat,
			Clock: clk, TTL: 15 * time.Minute, Logger: logger.NewNop(),
		},
		catalog: cat,
		gw:      gw,
		clock:   clk,
	}
}

func (e *env) placeOrder(t *testing.T) *models.Order {
	t.Helper()
	ctx := context.Background()
	_, err := e.locks.Acquire(ctx, "show-1", []models.SeatRef{{Row: "A", Number: 1}}, "user-1")
	require.NoError(t, err)
	o, err := e.orders.Create(ctx, order.CreateRequest{
		Requester: models.Requester{UserID: "user-1"},
		Items: []models.LineItem{
			{Kind: models.ItemTicket, ShowtimeID: "show-1", Row: "A", SeatNumber: 1},
			{Kind: models.ItemProduct, ProductID: "popcorn", Quantity: 2},
		},
	})
	require.NoError(t, err)
	return o
}

func TestMapExternalStatus(t *testing.T) {
	cases := map[string]models.PaymentStatus{
		"approved":                models.PaymentApproved,
		"SUCCEEDED":               models.PaymentApproved,
		"paid":                    models.PaymentApproved,
		"rejected":                models.PaymentRejected,
		"requires_payment_method": models.PaymentRejected,
		"canceled":                models.PaymentCancelled,
		"expired":                 models.PaymentCancelled,
		"processing":              models.PaymentPending,
		"":                        models.PaymentPending,
	}
	for in, want := range cases {
		assert.Equal(t, want, payment.MapExternalStatus(in), in)
	}
}

func TestApprovedEventIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.placeOrder(t)
	require.NoError(t, e.gw.SetStatus(o.Payment.Reference, "approved"))

	p, err := e.handler.OnGatewayEvent(ctx, o.Payment.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentApproved, p.Status)

	// Replays by every correlation key are no-ops.
	for _, ref := range []string{o.Payment.Reference, o.Payment.ExternalID, o.ID} {
		p, err = e.handler.OnGatewayEvent(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentApproved, p.Status)
	}

	got, err := e.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, got.Status)

	popcorn, err := e.catalog.GetProduct(ctx, "popcorn")
	require.NoError(t, err)
	assert.Equal(t, 3, popcorn.Stock)
}

func TestRejectedEventCancelsOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.placeOrder(t)
	require.NoError(t, e.gw.SetStatus(o.Payment.Reference, "rejected"))

	p, err := e.handler.OnGatewayEvent(ctx, o.Payment.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRejected, p.Status)

	got, err := e.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, got.Status)

	_, err = e.locks.Acquire(ctx, "show-1", []models.SeatRef{{Row: "A", Number: 1}}, "user-2")
	assert.NoError(t, err, "a cancelled order frees its seats")

	require.NoError(t, e.gw.SetStatus(o.Payment.Reference, "approved"))
	p, err = e.handler.OnGatewayEvent(ctx, o.Payment.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRejected, p.Status, "terminal orders never move")
}

func TestPendingStatusChangesNothing(t *testing.T) {
	e := newEnv(t)
	o := e.placeOrder(t)

	p, err := e.handler.OnGatewayEvent(context.Background(), o.Payment.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, p.Status)
}

func TestGatewayOutageMarksNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.placeOrder(t)
	require.NoError(t, e.gw.SetStatus(o.Payment.Reference, "approved"))
	e.gw.SetAvailable(false)

	_, err := e.handler.OnGatewayEvent(ctx, o.Payment.Reference)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.GatewayUnavailable))

	got, err := e.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, got.Status)
}

func TestUnknownReference(t *testing.T) {
	e := newEnv(t)
	_, err := e.handler.OnGatewayEvent(context.Background(), "ghost")
	assert.True(t, apperr.Is(err, apperr.PaymentNotFound))
}

func TestLateApprovalAfterExpiry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.placeOrder(t)
	require.NoError(t, e.gw.SetStatus(o.Payment.Reference, "approved"))
	e.clock.Advance(20 * time.Minute)

	p, err := e.handler.OnGatewayEvent(ctx, o.Payment.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCancelled, p.Status)

	got, err := e.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderExpired, got.Status)
}

func stripeEvent(t *testing.T, secret, eventType, intentID string) (payload []byte, header string) {
	t.Helper()
	body := fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"data":{"object":{"id":%q,"object":"payment_intent","status":"succeeded"}}}`, eventType, intentID)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func TestStripeWebhook(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.placeOrder(t)
	require.NoError(t, e.gw.SetStatus(o.Payment.Reference, "succeeded"))

	payload, header := stripeEvent(t, "whsec_test", "payment_intent.succeeded", o.Payment.Reference)
	require.NoError(t, e.handler.HandleStripeWebhook(ctx, payload, header, "whsec_test"))

	got, err := e.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, got.Status)

	err = e.handler.HandleStripeWebhook(ctx, payload, header, "whsec_other")
	var werr *payment.WebhookError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, http.StatusBadRequest, werr.StatusCode)

	err = e.handler.HandleStripeWebhook(ctx, payload, header, "")
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "configuration", werr.Category)

	ignored, h := stripeEvent(t, "whsec_test", "customer.created", "cus_1")
	assert.NoError(t, e.handler.HandleStripeWebhook(ctx, ignored, h, "whsec_test"))

	unknown, h := stripeEvent(t, "whsec_test", "payment_intent.succeeded", "pi_unknown")
	assert.NoError(t, e.handler.HandleStripeWebhook(ctx, unknown, h, "whsec_test"), "unknown intents are acknowledged")
}
